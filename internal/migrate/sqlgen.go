package migrate

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arwahdevops/docmigrate/internal/utils"
)

// EngineCapabilities memodelkan kemampuan ALTER engine tujuan. Profil yang
// dimodelkan secara default: single-writer, mendukung savepoint, TANPA native
// DROP/MODIFY COLUMN — sehingga perubahan tersebut lewat resep rebuild.
// Engine dengan native ALTER mem-bypass rebuild tanpa menyentuh pemanggil.
type EngineCapabilities struct {
	SupportsDropColumn      bool
	SupportsModifyColumn    bool
	SupportsAddUniqueColumn bool
}

// TypeMapping memetakan satu tag tipe field ke tipe fisik.
type TypeMapping struct {
	SQLType       string
	DefaultLength int
	HasPrecision  bool
}

// GeneratorConfig adalah konfigurasi injectable SQLGenerator: karakter quote,
// konvensi penamaan tabel, komentar, kapabilitas engine, dan tabel mapping
// tipe field -> tipe fisik.
type GeneratorConfig struct {
	QuoteChar       string
	TablePrefix     string
	TempTableSuffix string
	IncludeComments bool
	Capabilities    EngineCapabilities
	TypeMap         map[FieldType]TypeMapping
}

// DefaultGeneratorConfig mengembalikan konfigurasi untuk profil engine yang
// dimodelkan (SQLite-like).
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		QuoteChar:       `"`,
		TablePrefix:     "tab",
		TempTableSuffix: "__rebuild",
		Capabilities: EngineCapabilities{
			SupportsDropColumn:      false,
			SupportsModifyColumn:    false,
			SupportsAddUniqueColumn: false,
		},
		TypeMap: map[FieldType]TypeMapping{
			FieldTypeText:      {SQLType: "text"},
			FieldTypeSmallText: {SQLType: "varchar", DefaultLength: 140},
			FieldTypeInt:       {SQLType: "integer"},
			FieldTypeFloat:     {SQLType: "real"},
			FieldTypeBool:      {SQLType: "integer"},
			FieldTypeDate:      {SQLType: "date"},
			FieldTypeDatetime:  {SQLType: "datetime"},
			FieldTypeSelect:    {SQLType: "varchar", DefaultLength: 140},
			FieldTypeLink:      {SQLType: "varchar", DefaultLength: 140},
			FieldTypeJSON:      {SQLType: "text"},
			FieldTypeCurrency:  {SQLType: "decimal", HasPrecision: true},
		},
	}
}

// identityColumn adalah kolom identitas, selalu PK.
const identityColumn = "name"

// systemColumns adalah kolom yang selalu ada di setiap tabel DocType:
// identitas, owner, audit timestamp, status dokumen. Comparator melewatinya.
var systemColumns = []ColumnDefinition{
	{Name: "name", Type: "varchar", Length: nullInt64(140), NotNull: true, PrimaryKey: true},
	{Name: "owner", Type: "varchar", Length: nullInt64(140)},
	{Name: "creation", Type: "datetime"},
	{Name: "modified", Type: "datetime"},
	{Name: "modified_by", Type: "varchar", Length: nullInt64(140)},
	{Name: "docstatus", Type: "integer", NotNull: true, Default: nullString("0")},
	{Name: "idx", Type: "integer", NotNull: true, Default: nullString("0")},
}

// IsSystemColumn melaporkan apakah sebuah nama kolom termasuk himpunan kolom
// sistem yang dikelola engine.
func IsSystemColumn(name string) bool {
	lower := strings.ToLower(name)
	for _, c := range systemColumns {
		if c.Name == lower {
			return true
		}
	}
	return false
}

// SystemColumns mengembalikan salinan himpunan kolom sistem.
func SystemColumns() []ColumnDefinition {
	out := make([]ColumnDefinition, len(systemColumns))
	copy(out, systemColumns)
	return out
}

// SQLGenerator mengubah spec atau diff menjadi daftar Statement berurutan.
// Keluarga fungsi murni: tidak ada I/O di sini.
type SQLGenerator struct {
	cfg    GeneratorConfig
	logger *zap.Logger
}

func NewSQLGenerator(cfg GeneratorConfig, logger *zap.Logger) *SQLGenerator {
	if cfg.QuoteChar == "" {
		cfg.QuoteChar = `"`
	}
	if cfg.TempTableSuffix == "" {
		cfg.TempTableSuffix = "__rebuild"
	}
	if cfg.TypeMap == nil {
		cfg.TypeMap = DefaultGeneratorConfig().TypeMap
	}
	return &SQLGenerator{cfg: cfg, logger: logger.Named("sql-generator")}
}

// TableName menerapkan konvensi penamaan tabel untuk sebuah DocType.
func (g *SQLGenerator) TableName(docType string) string {
	return g.cfg.TablePrefix + docType
}

func (g *SQLGenerator) quote(name string) string {
	return utils.QuoteIdentifier(name, g.cfg.QuoteChar)
}

// ColumnForField memetakan sebuah FieldSpec ke definisi kolom fisik target.
func (g *SQLGenerator) ColumnForField(f FieldSpec) ColumnDefinition {
	m, ok := g.cfg.TypeMap[f.Type]
	if !ok {
		g.logger.Warn("Unknown field type tag, falling back to text.",
			zap.String("fieldname", f.Fieldname), zap.String("fieldtype", string(f.Type)))
		m = TypeMapping{SQLType: "text"}
	}

	col := ColumnDefinition{
		Name:    f.Fieldname,
		Type:    m.SQLType,
		NotNull: f.Required,
		Unique:  f.Unique,
		Default: f.Default,
	}
	if f.Length > 0 {
		col.Length = nullInt64(int64(f.Length))
	} else if m.DefaultLength > 0 {
		col.Length = nullInt64(int64(m.DefaultLength))
	}
	if m.HasPrecision {
		precision, scale := int64(18), int64(6)
		if f.Precision > 0 {
			precision = int64(f.Precision)
		}
		if f.Scale > 0 {
			scale = int64(f.Scale)
		}
		col.Precision = nullInt64(precision)
		col.Scale = nullInt64(scale)
	}
	return col
}

// physicalTypeSQL menghasilkan tipe fisik lengkap dengan modifier.
func (g *SQLGenerator) physicalTypeSQL(col ColumnDefinition) string {
	if col.Precision.Valid {
		if col.Scale.Valid {
			return fmt.Sprintf("%s(%d,%d)", col.Type, col.Precision.Int64, col.Scale.Int64)
		}
		return fmt.Sprintf("%s(%d)", col.Type, col.Precision.Int64)
	}
	if col.Length.Valid {
		return fmt.Sprintf("%s(%d)", col.Type, col.Length.Int64)
	}
	return col.Type
}

// columnDefinitionSQL menghasilkan potongan definisi satu kolom untuk
// CREATE TABLE / ADD COLUMN.
func (g *SQLGenerator) columnDefinitionSQL(col ColumnDefinition) string {
	var b strings.Builder
	b.WriteString(g.quote(col.Name))
	b.WriteString(" ")
	b.WriteString(g.physicalTypeSQL(col))

	if col.NotNull {
		b.WriteString(" NOT NULL")
	}
	if col.Unique && !col.PrimaryKey {
		b.WriteString(" UNIQUE")
	}
	if col.Default.Valid && col.Default.String != "" {
		normalized := normalizeDefaultValue(col.Default.String)
		if !isDefaultNullOrFunction(normalized) {
			b.WriteString(" DEFAULT ")
			b.WriteString(g.formatDefaultValue(col.Default.String, col.Type))
		}
	}
	if col.Collation.Valid && col.Collation.String != "" {
		b.WriteString(" COLLATE ")
		b.WriteString(col.Collation.String)
	}
	return b.String()
}

// formatDefaultValue memformat nilai default untuk DDL: angka apa adanya
// untuk tipe numerik, selain itu string literal ter-escape.
func (g *SQLGenerator) formatDefaultValue(value, physicalType string) string {
	if isNumericType(normalizeTypeName(physicalType)) {
		if _, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return strings.TrimSpace(value)
		}
		g.logger.Warn("Non-numeric default for a numeric column, quoting as string literal.",
			zap.String("value", value), zap.String("type", physicalType))
	}
	return utils.QuoteStringLiteral(value)
}

// GenerateCreateTableSQL menghasilkan satu CREATE TABLE berisi kolom sistem
// plus seluruh field terdeklarasi, dengan primary key di kolom identitas.
func (g *SQLGenerator) GenerateCreateTableSQL(doc *DocType) (Statement, error) {
	table := g.TableName(doc.Name)
	log := g.logger.With(zap.String("table", table), zap.String("action", "CREATE TABLE"))

	cols := SystemColumns()
	for _, f := range doc.Fields {
		cols = append(cols, g.ColumnForField(f))
	}

	stmt, err := g.createTableStatement(table, cols)
	if err != nil {
		return Statement{}, fmt.Errorf("failed to generate CREATE TABLE for doctype '%s': %w", doc.Name, err)
	}
	log.Debug("Generated CREATE TABLE DDL.", zap.Int("column_count", len(cols)))
	return stmt, nil
}

func (g *SQLGenerator) createTableStatement(table string, cols []ColumnDefinition) (Statement, error) {
	if len(cols) == 0 {
		return Statement{}, fmt.Errorf("cannot create table '%s' with no columns", table)
	}

	var b strings.Builder
	if g.cfg.IncludeComments {
		b.WriteString(fmt.Sprintf("-- table %s\n", table))
	}
	b.WriteString(fmt.Sprintf("CREATE TABLE %s (\n", g.quote(table)))

	defs := make([]string, 0, len(cols)+1)
	pks := make([]string, 0, 1)
	for _, col := range cols {
		defs = append(defs, "  "+g.columnDefinitionSQL(col))
		if col.PrimaryKey {
			pks = append(pks, g.quote(col.Name))
		}
	}
	b.WriteString(strings.Join(defs, ",\n"))
	if len(pks) > 0 {
		b.WriteString(",\n  PRIMARY KEY (")
		b.WriteString(strings.Join(pks, ", "))
		b.WriteString(")")
	}
	b.WriteString("\n)")

	return Statement{SQL: b.String(), Type: StatementCreateTable, Table: table}, nil
}

// GenerateAddColumnSQL menghasilkan satu ALTER TABLE ADD COLUMN. Penambahan
// kolom UNIQUE tidak bisa lewat sini pada engine yang dimodelkan; pemanggil
// (GenerateMigrationSQL) merutekannya ke jalur rebuild.
func (g *SQLGenerator) GenerateAddColumnSQL(docType string, field FieldSpec) (Statement, error) {
	if field.Unique && !g.cfg.Capabilities.SupportsAddUniqueColumn {
		return Statement{}, fmt.Errorf("engine cannot add a UNIQUE column directly ('%s'); use the rebuild path", field.Fieldname)
	}
	table := g.TableName(docType)
	col := g.ColumnForField(field)
	sql := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", g.quote(table), g.columnDefinitionSQL(col))
	return Statement{SQL: sql, Type: StatementAddColumn, Table: table, Column: col.Name}, nil
}

// GenerateCreateIndexSQL menghasilkan satu CREATE INDEX langsung.
func (g *SQLGenerator) GenerateCreateIndexSQL(docType string, spec IndexSpec) Statement {
	table := g.TableName(docType)
	name := spec.Name
	if name == "" {
		name = GenerateIndexName(docType, spec.Columns, spec.Unique)
	}

	unique := ""
	if spec.Unique {
		unique = "UNIQUE "
	}
	quotedCols := make([]string, len(spec.Columns))
	for i, c := range spec.Columns {
		quotedCols[i] = g.quote(c)
	}
	sql := fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)", unique, g.quote(name), g.quote(table), strings.Join(quotedCols, ", "))
	if spec.Predicate != "" {
		sql += " WHERE " + spec.Predicate
	}

	specCopy := spec
	specCopy.Name = name
	return Statement{SQL: sql, Type: StatementCreateIndex, Table: table, Index: &specCopy}
}

// GenerateDropIndexSQL menghasilkan satu DROP INDEX langsung. def (bila ada)
// disimpan pada Statement agar rollback bisa membuat ulang indeksnya.
func (g *SQLGenerator) GenerateDropIndexSQL(docType, indexName string, def *IndexDefinition) Statement {
	table := g.TableName(docType)
	stmt := Statement{
		SQL:   fmt.Sprintf("DROP INDEX %s", g.quote(indexName)),
		Type:  StatementDropIndex,
		Table: table,
	}
	if def != nil {
		stmt.Index = &IndexSpec{
			Name:      def.Name,
			Columns:   append([]string(nil), def.Columns...),
			Unique:    def.Unique,
			Predicate: def.Predicate,
			TypeHint:  def.Type,
		}
	} else {
		stmt.Index = &IndexSpec{Name: indexName}
	}
	return stmt
}

// GenerateMigrationSQL memproses diff dalam urutan tetap: kolom ditambah,
// kolom dihapus, kolom dimodifikasi, kolom di-rename, indeks ditambah, indeks
// dihapus. Perubahan yang membutuhkan rebuild digabung menjadi satu resep
// rebuild (tabel hanya dibangun ulang sekali per migrasi).
func (g *SQLGenerator) GenerateMigrationSQL(diff *SchemaDiff) (*MigrationSQL, error) {
	table := diff.Table
	if table == "" {
		table = g.TableName(diff.DocType)
	}
	log := g.logger.With(zap.String("doctype", diff.DocType), zap.String("table", table))

	result := &MigrationSQL{
		Warnings: make([]string, 0),
		Metadata: map[string]string{"doctype": diff.DocType, "table": table},
	}

	// Kasus tabel baru: seluruh field menjadi penambahan dan tidak ada sisi
	// fisik sama sekali.
	if len(diff.PhysicalColumns) == 0 && len(diff.RemovedColumns) == 0 &&
		len(diff.ModifiedColumns) == 0 && len(diff.RenamedColumns) == 0 {
		return g.generateForNewTable(diff, table, result)
	}

	needRebuild := false

	// 1. Kolom ditambah. Penambahan UNIQUE dirutekan ke rebuild karena engine
	//    tidak bisa ADD COLUMN UNIQUE secara langsung.
	plainAdds := make([]Statement, 0, len(diff.AddedColumns))
	for _, ac := range diff.AddedColumns {
		if ac.Field == nil {
			return nil, fmt.Errorf("added column '%s' has no declarative field spec", ac.Fieldname)
		}
		if ac.Field.Unique && !g.cfg.Capabilities.SupportsAddUniqueColumn {
			log.Debug("Unique column addition routed through table rebuild.", zap.String("column", ac.Fieldname))
			needRebuild = true
			continue
		}
		stmt, err := g.GenerateAddColumnSQL(diff.DocType, *ac.Field)
		if err != nil {
			return nil, err
		}
		plainAdds = append(plainAdds, stmt)
	}
	result.Forward = append(result.Forward, plainAdds...)

	// 2. Kolom dihapus: selalu destruktif.
	for _, rc := range diff.RemovedColumns {
		result.Destructive = true
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Removing column '%s' from table '%s': data stored in this column will be lost", rc.Fieldname, table))
		if g.cfg.Capabilities.SupportsDropColumn {
			result.Forward = append(result.Forward, Statement{
				SQL:         fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", g.quote(table), g.quote(rc.Fieldname)),
				Type:        StatementDropColumn,
				Destructive: true,
				Table:       table,
				Column:      rc.Fieldname,
			})
		} else {
			needRebuild = true
		}
	}

	// 3. Kolom dimodifikasi.
	for _, mc := range diff.ModifiedColumns {
		if _, ok := mc.Changes["type"]; ok {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("Data conversion required for type change on column '%s' (%s -> %s)",
					mc.Fieldname, mc.Changes["type"].From, mc.Changes["type"].To))
		}
		if mc.Destructive {
			result.Destructive = true
		}
		if g.cfg.Capabilities.SupportsModifyColumn {
			target := g.ColumnForField(*mc.Field)
			result.Forward = append(result.Forward, Statement{
				SQL:         fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s", g.quote(table), g.columnDefinitionSQL(target)),
				Type:        StatementModifyColumn,
				Destructive: mc.Destructive,
				Table:       table,
				Column:      mc.Fieldname,
			})
		} else {
			needRebuild = true
		}
	}

	// 4. Kolom di-rename: input eksplisit, selalu lewat rebuild pada engine
	//    yang dimodelkan.
	if len(diff.RenamedColumns) > 0 {
		needRebuild = true
	}

	if needRebuild {
		rebuild, err := g.generateRebuildForDiff(diff, table)
		if err != nil {
			return nil, err
		}
		result.Forward = append(result.Forward, rebuild...)
	}

	// 5 & 6. Indeks. Saat rebuild, indeks lama mati bersama tabel lama dan
	// seluruh indeks target (termasuk yang baru ditambahkan) sudah dibuat
	// ulang oleh resep rebuild, jadi create/drop eksplisit hanya diperlukan
	// di jalur non-rebuild.
	if !needRebuild {
		for _, ai := range diff.AddedIndexes {
			if ai.Spec == nil {
				continue
			}
			result.Forward = append(result.Forward, g.GenerateCreateIndexSQL(diff.DocType, *ai.Spec))
		}
		for _, ri := range diff.RemovedIndexes {
			result.Forward = append(result.Forward, g.GenerateDropIndexSQL(diff.DocType, ri.Name, ri.Index))
		}
	}

	result.Rollback = g.GenerateRollbackSQL(result.Forward, diff)
	result.EstimatedTime = g.estimateTime(result.Forward)
	result.Metadata["statements"] = strconv.Itoa(len(result.Forward))

	log.Debug("Generated migration SQL.",
		zap.Int("forward_statements", len(result.Forward)),
		zap.Int("rollback_statements", len(result.Rollback)),
		zap.Bool("destructive", result.Destructive),
		zap.Bool("rebuild", needRebuild))
	return result, nil
}

// generateForNewTable menangani kasus tabel belum ada: CREATE TABLE penuh
// plus seluruh indeks terdeklarasi.
func (g *SQLGenerator) generateForNewTable(diff *SchemaDiff, table string, result *MigrationSQL) (*MigrationSQL, error) {
	cols := SystemColumns()
	for _, ac := range diff.AddedColumns {
		if ac.Field == nil {
			return nil, fmt.Errorf("added column '%s' has no declarative field spec", ac.Fieldname)
		}
		cols = append(cols, g.ColumnForField(*ac.Field))
	}

	create, err := g.createTableStatement(table, cols)
	if err != nil {
		return nil, err
	}
	result.Forward = append(result.Forward, create)
	for _, ai := range diff.AddedIndexes {
		if ai.Spec == nil {
			continue
		}
		result.Forward = append(result.Forward, g.GenerateCreateIndexSQL(diff.DocType, *ai.Spec))
	}

	// Rollback tabel baru: cukup drop tabelnya; indeks mati bersamanya.
	result.Rollback = []Statement{{
		SQL:         fmt.Sprintf("DROP TABLE %s", g.quote(table)),
		Type:        StatementDropTable,
		Destructive: true,
		Table:       table,
	}}
	result.EstimatedTime = g.estimateTime(result.Forward)
	result.Metadata["statements"] = strconv.Itoa(len(result.Forward))
	return result, nil
}

// estimateTime adalah heuristik kasar untuk estimasi durasi; tidak pernah
// dipakai untuk keputusan correctness.
func (g *SQLGenerator) estimateTime(statements []Statement) time.Duration {
	total := time.Duration(0)
	for _, s := range statements {
		switch s.Type {
		case StatementCopyData:
			total += 500 * time.Millisecond
		case StatementCreateTable, StatementDropTable:
			total += 200 * time.Millisecond
		default:
			total += 50 * time.Millisecond
		}
	}
	return total
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: true}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: true}
}
