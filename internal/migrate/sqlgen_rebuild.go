package migrate

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Resep rebuild: emulasi DROP/MODIFY/RENAME COLUMN untuk engine tanpa native
// ALTER tersebut. Urutannya tetap:
//  1. CREATE TABLE <temp> dengan himpunan kolom target
//  2. INSERT INTO <temp> SELECT <ekspresi coercion> FROM <asli>
//  3. DROP TABLE <asli>
//  4. ALTER TABLE <temp> RENAME TO <asli>
//  5. CREATE INDEX untuk setiap indeks yang masih berlaku

// rebuildPlan menjelaskan satu rebuild: dari himpunan kolom mana ke mana,
// dengan ekspresi salin per kolom target dan indeks yang dibuat ulang.
type rebuildPlan struct {
	Table       string
	Target      []ColumnDefinition
	CopyExprs   map[string]string // nama kolom target -> ekspresi SELECT
	Indexes     []IndexSpec
	Destructive bool
}

// generateRebuild menghasilkan daftar statement untuk satu rebuildPlan.
func (g *SQLGenerator) generateRebuild(plan rebuildPlan) ([]Statement, error) {
	temp := plan.Table + g.cfg.TempTableSuffix
	log := g.logger.With(zap.String("table", plan.Table), zap.String("temp_table", temp))

	create, err := g.createTableStatement(temp, plan.Target)
	if err != nil {
		return nil, fmt.Errorf("failed to generate rebuild CREATE for '%s': %w", plan.Table, err)
	}

	targetNames := make([]string, 0, len(plan.Target))
	selectExprs := make([]string, 0, len(plan.Target))
	for _, col := range plan.Target {
		targetNames = append(targetNames, g.quote(col.Name))
		expr, ok := plan.CopyExprs[col.Name]
		if !ok || expr == "" {
			expr = "NULL"
		}
		selectExprs = append(selectExprs, expr)
	}

	statements := []Statement{
		create,
		{
			SQL: fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
				g.quote(temp), strings.Join(targetNames, ", "),
				strings.Join(selectExprs, ", "), g.quote(plan.Table)),
			Type:  StatementCopyData,
			Table: temp,
		},
		{
			SQL:         fmt.Sprintf("DROP TABLE %s", g.quote(plan.Table)),
			Type:        StatementDropTable,
			Destructive: plan.Destructive,
			Table:       plan.Table,
		},
		{
			SQL:   fmt.Sprintf("ALTER TABLE %s RENAME TO %s", g.quote(temp), g.quote(plan.Table)),
			Type:  StatementRenameTable,
			Table: plan.Table,
		},
	}

	for _, idx := range plan.Indexes {
		stmt := g.createIndexOnTable(plan.Table, idx)
		statements = append(statements, stmt)
	}

	log.Debug("Generated table rebuild recipe.",
		zap.Int("target_columns", len(plan.Target)),
		zap.Int("regenerated_indexes", len(plan.Indexes)))
	return statements, nil
}

// createIndexOnTable seperti GenerateCreateIndexSQL tetapi menerima nama
// tabel fisik langsung (dibutuhkan resep rebuild).
func (g *SQLGenerator) createIndexOnTable(table string, spec IndexSpec) Statement {
	unique := ""
	if spec.Unique {
		unique = "UNIQUE "
	}
	quotedCols := make([]string, len(spec.Columns))
	for i, c := range spec.Columns {
		quotedCols[i] = g.quote(c)
	}
	sql := fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)", unique, g.quote(spec.Name), g.quote(table), strings.Join(quotedCols, ", "))
	if spec.Predicate != "" {
		sql += " WHERE " + spec.Predicate
	}
	specCopy := spec
	return Statement{SQL: sql, Type: StatementCreateIndex, Table: table, Index: &specCopy}
}

// GenerateDropColumnSQL menghasilkan resep rebuild yang menghapus satu kolom.
// current adalah himpunan kolom fisik saat ini; indexes adalah indeks yang
// harus tetap hidup setelah rebuild.
func (g *SQLGenerator) GenerateDropColumnSQL(table, column string, current []ColumnDefinition, indexes []IndexSpec) ([]Statement, error) {
	target := make([]ColumnDefinition, 0, len(current))
	copyExprs := make(map[string]string, len(current))
	found := false
	for _, col := range current {
		if strings.EqualFold(col.Name, column) {
			found = true
			continue
		}
		target = append(target, col)
		copyExprs[col.Name] = g.quote(col.Name)
	}
	if !found {
		return nil, fmt.Errorf("cannot drop column '%s' from '%s': column not present", column, table)
	}

	return g.generateRebuild(rebuildPlan{
		Table:       table,
		Target:      target,
		CopyExprs:   copyExprs,
		Indexes:     indexesNotReferencing(indexes, column),
		Destructive: true,
	})
}

// GenerateModifyColumnSQL menghasilkan resep rebuild yang mengubah definisi
// satu kolom, dengan ekspresi CAST untuk konversi tipe.
func (g *SQLGenerator) GenerateModifyColumnSQL(table string, target ColumnDefinition, current []ColumnDefinition, indexes []IndexSpec) ([]Statement, error) {
	cols := make([]ColumnDefinition, 0, len(current))
	copyExprs := make(map[string]string, len(current))
	found := false
	destructive := false

	for _, col := range current {
		if strings.EqualFold(col.Name, target.Name) {
			found = true
			cols = append(cols, target)
			copyExprs[target.Name] = g.coerceExpr(col, target)
			if normalizeTypeName(col.Type) != normalizeTypeName(target.Type) {
				destructive = true
			}
			continue
		}
		cols = append(cols, col)
		copyExprs[col.Name] = g.quote(col.Name)
	}
	if !found {
		return nil, fmt.Errorf("cannot modify column '%s' on '%s': column not present", target.Name, table)
	}

	return g.generateRebuild(rebuildPlan{
		Table:       table,
		Target:      cols,
		CopyExprs:   copyExprs,
		Indexes:     indexes,
		Destructive: destructive,
	})
}

// coerceExpr menghasilkan ekspresi salin untuk satu kolom, menambahkan CAST
// bila tipe berubah dan COALESCE bila kolom menjadi NOT NULL dengan default.
func (g *SQLGenerator) coerceExpr(from, to ColumnDefinition) string {
	expr := g.quote(from.Name)
	if normalizeTypeName(from.Type) != normalizeTypeName(to.Type) ||
		(from.Length.Valid && to.Length.Valid && from.Length.Int64 != to.Length.Int64) {
		expr = fmt.Sprintf("CAST(%s AS %s)", expr, g.physicalTypeSQL(to))
	}
	if to.NotNull && !from.NotNull && to.Default.Valid && to.Default.String != "" {
		normalized := normalizeDefaultValue(to.Default.String)
		if !isDefaultNullOrFunction(normalized) {
			expr = fmt.Sprintf("COALESCE(%s, %s)", expr, g.formatDefaultValue(to.Default.String, to.Type))
		}
	}
	return expr
}

// generateRebuildForDiff menyusun satu rebuildPlan gabungan dari seluruh
// bagian diff yang membutuhkan rebuild (hapus, modifikasi, rename, tambah
// kolom UNIQUE), lalu menghasilkan resepnya. Tabel hanya dibangun ulang
// sekali per migrasi.
func (g *SQLGenerator) generateRebuildForDiff(diff *SchemaDiff, table string) ([]Statement, error) {
	if len(diff.TargetColumns) == 0 {
		return nil, fmt.Errorf("cannot rebuild '%s': diff carries no target column snapshot", table)
	}

	removed := make(map[string]bool, len(diff.RemovedColumns))
	for _, rc := range diff.RemovedColumns {
		removed[strings.ToLower(rc.Fieldname)] = true
	}
	renamedFrom := make(map[string]string, len(diff.RenamedColumns)) // nama baru -> nama lama
	for _, rn := range diff.RenamedColumns {
		renamedFrom[strings.ToLower(rn.To)] = rn.From
	}
	currentByName := make(map[string]ColumnDefinition, len(diff.PhysicalColumns))
	for _, col := range diff.PhysicalColumns {
		currentByName[strings.ToLower(col.Name)] = col
	}
	modifiedByName := make(map[string]FieldChange, len(diff.ModifiedColumns))
	for _, mc := range diff.ModifiedColumns {
		modifiedByName[strings.ToLower(mc.Fieldname)] = mc
	}
	plainAdded := make(map[string]bool, len(diff.AddedColumns))
	for _, ac := range diff.AddedColumns {
		if ac.Field != nil && (!ac.Field.Unique || g.cfg.Capabilities.SupportsAddUniqueColumn) {
			// Penambahan non-unique sudah ditangani lewat ALTER TABLE ADD
			// COLUMN sebelum rebuild, jadi kolomnya ada di tabel sumber.
			plainAdded[strings.ToLower(ac.Fieldname)] = true
		}
	}

	destructive := len(diff.RemovedColumns) > 0
	copyExprs := make(map[string]string, len(diff.TargetColumns))

	for _, target := range diff.TargetColumns {
		lower := strings.ToLower(target.Name)
		if removed[lower] {
			// Target snapshot seharusnya sudah tanpa kolom terhapus; jaga-jaga.
			continue
		}

		sourceName := target.Name
		if old, ok := renamedFrom[lower]; ok {
			sourceName = old
		}
		source, exists := currentByName[strings.ToLower(sourceName)]
		if !exists && !plainAdded[lower] {
			// Kolom benar-benar baru (mis. unique addition): isi NULL/default.
			copyExprs[target.Name] = "NULL"
			continue
		}
		if !exists {
			source = target // Kolom baru saja ditambahkan via ALTER; tipe sudah sesuai.
		}

		if mc, ok := modifiedByName[lower]; ok {
			if mc.Destructive {
				destructive = true
			}
			copyExprs[target.Name] = g.coerceExpr(source, target)
			continue
		}
		copyExprs[target.Name] = g.coerceExpr(ColumnDefinition{
			Name: sourceName, Type: source.Type, Length: source.Length, NotNull: source.NotNull,
		}, target)
	}

	return g.generateRebuild(rebuildPlan{
		Table:       table,
		Target:      diff.TargetColumns,
		CopyExprs:   copyExprs,
		Indexes:     survivingIndexSpecs(diff),
		Destructive: destructive,
	})
}

// survivingIndexSpecs: indeks yang harus hidup setelah rebuild = seluruh
// indeks target. Indeks fisik yang dihapus diff tidak dibuat ulang; indeks
// fisik yang tidak tersentuh diff muncul di TargetIndexes karena deklaratif.
func survivingIndexSpecs(diff *SchemaDiff) []IndexSpec {
	specs := make([]IndexSpec, 0, len(diff.TargetIndexes))
	for _, spec := range diff.TargetIndexes {
		s := spec
		if s.Name == "" {
			s.Name = GenerateIndexName(diff.DocType, s.Columns, s.Unique)
		}
		specs = append(specs, s)
	}
	return specs
}

func indexesNotReferencing(indexes []IndexSpec, column string) []IndexSpec {
	out := make([]IndexSpec, 0, len(indexes))
	for _, idx := range indexes {
		references := false
		for _, c := range idx.Columns {
			if strings.EqualFold(c, column) {
				references = true
				break
			}
		}
		if !references {
			out = append(out, idx)
		}
	}
	return out
}

// GenerateRollbackSQL menginversi daftar statement forward terhadap skema
// pasca-migrasi sehingga himpunan kolom/indeks pre-migrasi direproduksi
// persis. Bila forward memuat rebuild, rollback adalah satu rebuild balik ke
// snapshot fisik pre-migrasi; selain itu inversi per-statement dalam urutan
// terbalik: create_index <-> drop_index, add_column <-> (rebuild/drop kolom),
// create_table <-> drop_table.
func (g *SQLGenerator) GenerateRollbackSQL(forward []Statement, diff *SchemaDiff) []Statement {
	table := diff.Table
	if table == "" {
		table = g.TableName(diff.DocType)
	}

	hasRebuild := false
	for _, s := range forward {
		if s.Type == StatementRenameTable {
			hasRebuild = true
			break
		}
	}

	if hasRebuild {
		return g.inverseRebuild(diff, table)
	}

	rollback := make([]Statement, 0, len(forward))
	pendingColumnDrops := make([]string, 0)

	for i := len(forward) - 1; i >= 0; i-- {
		s := forward[i]
		switch s.Type {
		case StatementCreateTable:
			rollback = append(rollback, Statement{
				SQL:         fmt.Sprintf("DROP TABLE %s", g.quote(s.Table)),
				Type:        StatementDropTable,
				Destructive: true,
				Table:       s.Table,
			})
		case StatementCreateIndex:
			name := ""
			if s.Index != nil {
				name = s.Index.Name
			}
			rollback = append(rollback, Statement{
				SQL:   fmt.Sprintf("DROP INDEX %s", g.quote(name)),
				Type:  StatementDropIndex,
				Table: s.Table,
				Index: s.Index,
			})
		case StatementDropIndex:
			if s.Index != nil && len(s.Index.Columns) > 0 {
				rollback = append(rollback, g.createIndexOnTable(s.Table, *s.Index))
			}
		case StatementAddColumn:
			if g.cfg.Capabilities.SupportsDropColumn {
				rollback = append(rollback, Statement{
					SQL:         fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", g.quote(s.Table), g.quote(s.Column)),
					Type:        StatementDropColumn,
					Destructive: true,
					Table:       s.Table,
					Column:      s.Column,
				})
			} else {
				// Engine tanpa native DROP: kumpulkan dan balikkan lewat satu
				// rebuild ke snapshot pre-migrasi di akhir.
				pendingColumnDrops = append(pendingColumnDrops, s.Column)
			}
		case StatementDropColumn:
			if def := findRemovedColumn(diff, s.Column); def != nil {
				rollback = append(rollback, Statement{
					SQL:    fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", g.quote(s.Table), g.columnDefinitionSQL(*def)),
					Type:   StatementAddColumn,
					Table:  s.Table,
					Column: s.Column,
				})
			}
		case StatementModifyColumn:
			if def := findPhysicalColumn(diff, s.Column); def != nil {
				rollback = append(rollback, Statement{
					SQL:    fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s", g.quote(s.Table), g.columnDefinitionSQL(*def)),
					Type:   StatementModifyColumn,
					Table:  s.Table,
					Column: s.Column,
				})
			}
		}
	}

	if len(pendingColumnDrops) > 0 {
		inverse := g.inverseRebuild(diff, table)
		rollback = append(rollback, inverse...)
	}
	return rollback
}

// inverseRebuild membangun ulang tabel kembali ke snapshot kolom/indeks
// fisik pre-migrasi. Kolom yang tidak lagi ada di skema pasca-migrasi diisi
// NULL (datanya dipulihkan dari backup, bukan dari rollback).
func (g *SQLGenerator) inverseRebuild(diff *SchemaDiff, table string) []Statement {
	postByName := make(map[string]ColumnDefinition, len(diff.TargetColumns))
	for _, col := range diff.TargetColumns {
		postByName[strings.ToLower(col.Name)] = col
	}
	renamedTo := make(map[string]string, len(diff.RenamedColumns)) // nama lama -> nama baru
	for _, rn := range diff.RenamedColumns {
		renamedTo[strings.ToLower(rn.From)] = rn.To
	}

	copyExprs := make(map[string]string, len(diff.PhysicalColumns))
	for _, prior := range diff.PhysicalColumns {
		sourceName := prior.Name
		if newName, ok := renamedTo[strings.ToLower(prior.Name)]; ok {
			sourceName = newName
		}
		post, exists := postByName[strings.ToLower(sourceName)]
		if !exists {
			copyExprs[prior.Name] = "NULL"
			continue
		}
		copyExprs[prior.Name] = g.coerceExpr(ColumnDefinition{
			Name: sourceName, Type: post.Type, Length: post.Length, NotNull: post.NotNull,
		}, ColumnDefinition{
			Name: prior.Name, Type: prior.Type, Length: prior.Length,
			Precision: prior.Precision, Scale: prior.Scale,
			NotNull: prior.NotNull, Default: prior.Default,
		})
	}

	priorIndexes := make([]IndexSpec, 0, len(diff.PhysicalIndexes))
	for _, idx := range diff.PhysicalIndexes {
		priorIndexes = append(priorIndexes, IndexSpec{
			Name:      idx.Name,
			Columns:   append([]string(nil), idx.Columns...),
			Unique:    idx.Unique,
			Predicate: idx.Predicate,
			TypeHint:  idx.Type,
		})
	}

	statements, err := g.generateRebuild(rebuildPlan{
		Table:       table,
		Target:      diff.PhysicalColumns,
		CopyExprs:   copyExprs,
		Indexes:     priorIndexes,
		Destructive: true,
	})
	if err != nil {
		// Snapshot fisik kosong berarti tabel baru; inverse-nya drop saja.
		g.logger.Warn("Falling back to DROP TABLE rollback for rebuild inversion.", zap.Error(err))
		return []Statement{{
			SQL:         fmt.Sprintf("DROP TABLE %s", g.quote(table)),
			Type:        StatementDropTable,
			Destructive: true,
			Table:       table,
		}}
	}
	return statements
}

func findRemovedColumn(diff *SchemaDiff, name string) *ColumnDefinition {
	for _, rc := range diff.RemovedColumns {
		if strings.EqualFold(rc.Fieldname, name) {
			return rc.Column
		}
	}
	return nil
}

func findPhysicalColumn(diff *SchemaDiff, name string) *ColumnDefinition {
	for i := range diff.PhysicalColumns {
		if strings.EqualFold(diff.PhysicalColumns[i].Name, name) {
			return &diff.PhysicalColumns[i]
		}
	}
	return nil
}
