package db

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/arwahdevops/docmigrate/internal/migrate"
)

func (g *GormDatabase) getPostgresColumns(ctx context.Context, table string) ([]migrate.ColumnDefinition, error) {
	log := g.logger.With(zap.String("table", table), zap.String("dialect", "postgres"), zap.String("action", "getPostgresColumns"))

	var rows []struct {
		ColumnName    string         `gorm:"column:column_name"`
		DataType      string         `gorm:"column:data_type"`
		IsNullable    string         `gorm:"column:is_nullable"`
		ColumnDefault sql.NullString `gorm:"column:column_default"`
		CharMaxLength sql.NullInt64  `gorm:"column:character_maximum_length"`
		NumPrecision  sql.NullInt64  `gorm:"column:numeric_precision"`
		NumScale      sql.NullInt64  `gorm:"column:numeric_scale"`
		IsPrimaryKey  bool           `gorm:"column:is_primary_key"`
		CollationName sql.NullString `gorm:"column:collation_name"`
	}
	err := g.conn.DB.WithContext(ctx).Raw(`
		SELECT
			c.column_name, c.data_type, c.is_nullable, c.column_default,
			c.character_maximum_length, c.numeric_precision, c.numeric_scale,
			c.collation_name,
			EXISTS (
				SELECT 1
				FROM pg_catalog.pg_constraint con
				JOIN pg_catalog.pg_attribute att ON att.attnum = ANY(con.conkey) AND att.attrelid = con.conrelid
				WHERE con.conrelid = (SELECT oid FROM pg_catalog.pg_class WHERE relname = c.table_name AND relnamespace = (SELECT oid FROM pg_catalog.pg_namespace WHERE nspname = c.table_schema))
				  AND con.contype = 'p' AND att.attname = c.column_name
			) AS is_primary_key
		FROM information_schema.columns c
		WHERE c.table_schema = current_schema() AND c.table_name = ?
		ORDER BY c.ordinal_position`, table).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("postgres column introspection failed for table '%s': %w", table, err)
	}

	result := make([]migrate.ColumnDefinition, 0, len(rows))
	for _, r := range rows {
		col := migrate.ColumnDefinition{
			Name:       r.ColumnName,
			Type:       normalizePostgresType(r.DataType),
			NotNull:    r.IsNullable == "NO",
			Default:    normalizePostgresDefault(r.ColumnDefault),
			Length:     r.CharMaxLength,
			PrimaryKey: r.IsPrimaryKey,
			Collation:  r.CollationName,
		}
		if isNumericPhysical(col.Type) {
			col.Precision = r.NumPrecision
			col.Scale = r.NumScale
		}
		if r.ColumnDefault.Valid && strings.HasPrefix(r.ColumnDefault.String, "nextval(") {
			col.AutoIncrement = true
			col.Default = sql.NullString{}
		}
		result = append(result, col)
	}
	log.Debug("Fetched column info.", zap.Int("column_count", len(result)))
	return result, nil
}

func (g *GormDatabase) getPostgresIndexes(ctx context.Context, table string) ([]migrate.IndexDefinition, error) {
	log := g.logger.With(zap.String("table", table), zap.String("dialect", "postgres"), zap.String("action", "getPostgresIndexes"))

	var rows []struct {
		IndexName  string         `gorm:"column:index_name"`
		ColumnName string         `gorm:"column:column_name"`
		IsUnique   bool           `gorm:"column:is_unique"`
		IsPrimary  bool           `gorm:"column:is_primary"`
		Predicate  sql.NullString `gorm:"column:predicate"`
		Ordinality int            `gorm:"column:ordinality"`
	}
	err := g.conn.DB.WithContext(ctx).Raw(`
		SELECT
			i.relname AS index_name,
			a.attname AS column_name,
			idx.indisunique AS is_unique,
			idx.indisprimary AS is_primary,
			pg_get_expr(idx.indpred, idx.indrelid) AS predicate,
			k.ordinality
		FROM pg_catalog.pg_index idx
		JOIN pg_catalog.pg_class i ON i.oid = idx.indexrelid
		JOIN pg_catalog.pg_class t ON t.oid = idx.indrelid
		JOIN LATERAL unnest(idx.indkey) WITH ORDINALITY AS k(attnum, ordinality) ON TRUE
		JOIN pg_catalog.pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum
		WHERE t.relname = ?
		  AND t.relnamespace = (SELECT oid FROM pg_catalog.pg_namespace WHERE nspname = current_schema())
		ORDER BY i.relname, k.ordinality`, table).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("postgres index introspection failed for table '%s': %w", table, err)
	}

	byName := make(map[string]*migrate.IndexDefinition)
	order := make([]string, 0)
	for _, r := range rows {
		if r.IsPrimary {
			continue
		}
		idx, ok := byName[r.IndexName]
		if !ok {
			idx = &migrate.IndexDefinition{Name: r.IndexName, Unique: r.IsUnique}
			if r.Predicate.Valid {
				idx.Predicate = r.Predicate.String
			}
			byName[r.IndexName] = idx
			order = append(order, r.IndexName)
		}
		idx.Columns = append(idx.Columns, r.ColumnName)
	}

	sort.Strings(order)
	result := make([]migrate.IndexDefinition, 0, len(order))
	for _, name := range order {
		result = append(result, *byName[name])
	}
	log.Debug("Fetched index info.", zap.Int("index_count", len(result)))
	return result, nil
}

// normalizePostgresType memetakan nama tipe verbose information_schema ke
// nama singkat yang dipakai comparator.
func normalizePostgresType(t string) string {
	switch strings.ToLower(t) {
	case "character varying":
		return "varchar"
	case "character":
		return "char"
	case "timestamp without time zone", "timestamp with time zone":
		return "datetime"
	case "double precision":
		return "real"
	default:
		return strings.ToLower(t)
	}
}

// normalizePostgresDefault membuang cast "::text" dan quoting yang dilaporkan
// information_schema.
func normalizePostgresDefault(v sql.NullString) sql.NullString {
	if !v.Valid {
		return v
	}
	s := strings.TrimSpace(v.String)
	if i := strings.Index(s, "::"); i > 0 {
		s = s[:i]
	}
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		s = strings.ReplaceAll(s[1:len(s)-1], "''", "'")
	}
	return sql.NullString{String: s, Valid: true}
}
