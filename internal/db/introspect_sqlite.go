package db

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/arwahdevops/docmigrate/internal/migrate"
)

// typeModRe memecah "varchar(140)" / "decimal(18,6)" menjadi tipe dasar dan
// modifier numeriknya.
var typeModRe = regexp.MustCompile(`^\s*([A-Za-z ]+?)\s*\(\s*(\d+)\s*(?:,\s*(\d+)\s*)?\)\s*$`)

// indexWhereRe mengambil predikat partial index dari DDL CREATE INDEX.
var indexWhereRe = regexp.MustCompile(`(?is)\bWHERE\b\s+(.+)$`)

func (g *GormDatabase) getSQLiteColumns(ctx context.Context, table string) ([]migrate.ColumnDefinition, error) {
	log := g.logger.With(zap.String("table", table), zap.String("dialect", "sqlite"), zap.String("action", "getSQLiteColumns"))

	var rows []struct {
		Cid       int            `gorm:"column:cid"`
		Name      string         `gorm:"column:name"`
		Type      string         `gorm:"column:type"`
		NotNull   int            `gorm:"column:notnull"`
		DfltValue sql.NullString `gorm:"column:dflt_value"`
		Pk        int            `gorm:"column:pk"`
	}
	err := g.conn.DB.WithContext(ctx).
		Raw(fmt.Sprintf("PRAGMA table_info(%s)", g.quote(table))).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("sqlite PRAGMA table_info failed for table '%s': %w", table, err)
	}

	// Kolom UNIQUE terlihat lewat indeks unik satu-kolom, bukan table_info.
	uniqueCols, err := g.sqliteSingleColumnUniques(ctx, table)
	if err != nil {
		log.Warn("Could not determine single-column unique constraints.", zap.Error(err))
		uniqueCols = map[string]bool{}
	}

	result := make([]migrate.ColumnDefinition, 0, len(rows))
	for _, r := range rows {
		col := migrate.ColumnDefinition{
			Name:    r.Name,
			NotNull: r.NotNull == 1 || r.Pk > 0,
			Default: normalizeSQLiteDefault(r.DfltValue),
			Unique:  uniqueCols[strings.ToLower(r.Name)],
		}
		col.PrimaryKey = r.Pk > 0
		col.Type, col.Length, col.Precision, col.Scale = splitTypeModifiers(r.Type)
		col.AutoIncrement = col.PrimaryKey && strings.EqualFold(col.Type, "integer")
		result = append(result, col)
	}
	log.Debug("Fetched column info.", zap.Int("column_count", len(result)))
	return result, nil
}

func (g *GormDatabase) getSQLiteIndexes(ctx context.Context, table string) ([]migrate.IndexDefinition, error) {
	log := g.logger.With(zap.String("table", table), zap.String("dialect", "sqlite"), zap.String("action", "getSQLiteIndexes"))

	var indexList []struct {
		Seq     int    `gorm:"column:seq"`
		Name    string `gorm:"column:name"`
		Unique  int    `gorm:"column:unique"`
		Origin  string `gorm:"column:origin"`
		Partial int    `gorm:"column:partial"`
	}
	err := g.conn.DB.WithContext(ctx).
		Raw(fmt.Sprintf("PRAGMA index_list(%s)", g.quote(table))).
		Scan(&indexList).Error
	if err != nil {
		return nil, fmt.Errorf("sqlite PRAGMA index_list failed for table '%s': %w", table, err)
	}

	indexes := make([]migrate.IndexDefinition, 0, len(indexList))
	for _, item := range indexList {
		if strings.HasPrefix(item.Name, "sqlite_autoindex_") {
			log.Debug("Skipping SQLite auto-generated index.", zap.String("index_name", item.Name))
			continue
		}

		cols, err := g.sqliteIndexColumns(ctx, item.Name)
		if err != nil {
			log.Warn("sqlite PRAGMA index_info failed, skipping this index.",
				zap.String("index_name", item.Name), zap.Error(err))
			continue
		}
		if len(cols) == 0 {
			log.Warn("Index lists no columns, skipping.", zap.String("index_name", item.Name))
			continue
		}

		idx := migrate.IndexDefinition{
			Name:    item.Name,
			Columns: cols,
			Unique:  item.Unique == 1,
		}
		if item.Partial == 1 {
			var rawDef sql.NullString
			errDef := g.conn.DB.WithContext(ctx).
				Raw("SELECT sql FROM sqlite_master WHERE type='index' AND name=?", item.Name).
				Scan(&rawDef).Error
			if errDef != nil {
				log.Warn("Could not fetch CREATE INDEX statement for partial index.",
					zap.String("index_name", item.Name), zap.Error(errDef))
			} else if rawDef.Valid {
				if m := indexWhereRe.FindStringSubmatch(rawDef.String); len(m) > 1 {
					idx.Predicate = strings.TrimSpace(m[1])
				}
			}
		}
		indexes = append(indexes, idx)
	}

	sort.Slice(indexes, func(i, j int) bool { return indexes[i].Name < indexes[j].Name })
	log.Debug("Fetched index info.", zap.Int("index_count", len(indexes)))
	return indexes, nil
}

// sqliteIndexColumns mengembalikan kolom sebuah indeks dalam urutan seqno.
func (g *GormDatabase) sqliteIndexColumns(ctx context.Context, indexName string) ([]string, error) {
	var rows []struct {
		SeqNo int            `gorm:"column:seqno"`
		Name  sql.NullString `gorm:"column:name"`
	}
	err := g.conn.DB.WithContext(ctx).
		Raw(fmt.Sprintf("PRAGMA index_info(%s)", g.quote(indexName))).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].SeqNo < rows[j].SeqNo })
	cols := make([]string, 0, len(rows))
	for _, r := range rows {
		if r.Name.Valid && r.Name.String != "" {
			cols = append(cols, r.Name.String)
		}
	}
	return cols, nil
}

// sqliteSingleColumnUniques memetakan kolom yang dilindungi indeks unik
// satu-kolom, termasuk autoindex UNIQUE constraint.
func (g *GormDatabase) sqliteSingleColumnUniques(ctx context.Context, table string) (map[string]bool, error) {
	var indexList []struct {
		Name   string `gorm:"column:name"`
		Unique int    `gorm:"column:unique"`
		Origin string `gorm:"column:origin"`
	}
	err := g.conn.DB.WithContext(ctx).
		Raw(fmt.Sprintf("PRAGMA index_list(%s)", g.quote(table))).
		Scan(&indexList).Error
	if err != nil {
		return nil, err
	}

	uniques := make(map[string]bool)
	for _, item := range indexList {
		// Hanya indeks milik UNIQUE constraint ('u'), bukan CREATE INDEX
		// eksplisit, yang merepresentasikan atribut unique kolom.
		if item.Unique != 1 || item.Origin != "u" {
			continue
		}
		cols, err := g.sqliteIndexColumns(ctx, item.Name)
		if err != nil || len(cols) != 1 {
			continue
		}
		uniques[strings.ToLower(cols[0])] = true
	}
	return uniques, nil
}

// splitTypeModifiers memecah tipe fisik "varchar(140)" / "decimal(18,6)"
// menjadi tipe dasar plus length atau precision/scale.
func splitTypeModifiers(physical string) (string, sql.NullInt64, sql.NullInt64, sql.NullInt64) {
	m := typeModRe.FindStringSubmatch(physical)
	if m == nil {
		return strings.ToLower(strings.TrimSpace(physical)), sql.NullInt64{}, sql.NullInt64{}, sql.NullInt64{}
	}
	base := strings.ToLower(strings.TrimSpace(m[1]))
	first, _ := strconv.ParseInt(m[2], 10, 64)
	if m[3] != "" {
		second, _ := strconv.ParseInt(m[3], 10, 64)
		return base, sql.NullInt64{},
			sql.NullInt64{Int64: first, Valid: true},
			sql.NullInt64{Int64: second, Valid: true}
	}
	if base == "decimal" || base == "numeric" {
		return base, sql.NullInt64{}, sql.NullInt64{Int64: first, Valid: true}, sql.NullInt64{}
	}
	return base, sql.NullInt64{Int64: first, Valid: true}, sql.NullInt64{}, sql.NullInt64{}
}

// normalizeSQLiteDefault membuang quoting literal yang dilaporkan PRAGMA
// (dflt_value datang persis seperti di DDL, termasuk tanda kutip).
func normalizeSQLiteDefault(v sql.NullString) sql.NullString {
	if !v.Valid {
		return v
	}
	s := strings.TrimSpace(v.String)
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		s = strings.ReplaceAll(s[1:len(s)-1], "''", "'")
	}
	return sql.NullString{String: s, Valid: true}
}
