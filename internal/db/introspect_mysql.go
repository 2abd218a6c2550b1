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

func (g *GormDatabase) getMySQLColumns(ctx context.Context, table string) ([]migrate.ColumnDefinition, error) {
	log := g.logger.With(zap.String("table", table), zap.String("dialect", "mysql"), zap.String("action", "getMySQLColumns"))

	var rows []struct {
		ColumnName    string         `gorm:"column:COLUMN_NAME"`
		DataType      string         `gorm:"column:DATA_TYPE"`
		IsNullable    string         `gorm:"column:IS_NULLABLE"`
		ColumnDefault sql.NullString `gorm:"column:COLUMN_DEFAULT"`
		CharMaxLength sql.NullInt64  `gorm:"column:CHARACTER_MAXIMUM_LENGTH"`
		NumPrecision  sql.NullInt64  `gorm:"column:NUMERIC_PRECISION"`
		NumScale      sql.NullInt64  `gorm:"column:NUMERIC_SCALE"`
		ColumnKey     string         `gorm:"column:COLUMN_KEY"`
		Extra         string         `gorm:"column:EXTRA"`
		CollationName sql.NullString `gorm:"column:COLLATION_NAME"`
	}
	err := g.conn.DB.WithContext(ctx).Raw(`
		SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE, COLUMN_DEFAULT,
		       CHARACTER_MAXIMUM_LENGTH, NUMERIC_PRECISION, NUMERIC_SCALE,
		       COLUMN_KEY, EXTRA, COLLATION_NAME
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`, table).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("mysql column introspection failed for table '%s': %w", table, err)
	}

	result := make([]migrate.ColumnDefinition, 0, len(rows))
	for _, r := range rows {
		col := migrate.ColumnDefinition{
			Name:          r.ColumnName,
			Type:          strings.ToLower(r.DataType),
			NotNull:       r.IsNullable == "NO",
			Default:       r.ColumnDefault,
			Length:        r.CharMaxLength,
			PrimaryKey:    r.ColumnKey == "PRI",
			Unique:        r.ColumnKey == "UNI",
			AutoIncrement: strings.Contains(strings.ToLower(r.Extra), "auto_increment"),
			Collation:     r.CollationName,
		}
		if isNumericPhysical(col.Type) {
			col.Precision = r.NumPrecision
			col.Scale = r.NumScale
		}
		result = append(result, col)
	}
	log.Debug("Fetched column info.", zap.Int("column_count", len(result)))
	return result, nil
}

func (g *GormDatabase) getMySQLIndexes(ctx context.Context, table string) ([]migrate.IndexDefinition, error) {
	log := g.logger.With(zap.String("table", table), zap.String("dialect", "mysql"), zap.String("action", "getMySQLIndexes"))

	var rows []struct {
		IndexName  string `gorm:"column:INDEX_NAME"`
		NonUnique  int    `gorm:"column:NON_UNIQUE"`
		SeqInIndex int    `gorm:"column:SEQ_IN_INDEX"`
		ColumnName string `gorm:"column:COLUMN_NAME"`
		IndexType  string `gorm:"column:INDEX_TYPE"`
	}
	err := g.conn.DB.WithContext(ctx).Raw(`
		SELECT INDEX_NAME, NON_UNIQUE, SEQ_IN_INDEX, COLUMN_NAME, INDEX_TYPE
		FROM information_schema.STATISTICS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
		ORDER BY INDEX_NAME, SEQ_IN_INDEX`, table).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("mysql index introspection failed for table '%s': %w", table, err)
	}

	byName := make(map[string]*migrate.IndexDefinition)
	order := make([]string, 0)
	for _, r := range rows {
		if r.IndexName == "PRIMARY" {
			continue
		}
		idx, ok := byName[r.IndexName]
		if !ok {
			idx = &migrate.IndexDefinition{
				Name:   r.IndexName,
				Unique: r.NonUnique == 0,
				Type:   strings.ToLower(r.IndexType),
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

func isNumericPhysical(t string) bool {
	switch t {
	case "int", "integer", "bigint", "smallint", "tinyint", "mediumint",
		"decimal", "numeric", "float", "double", "real":
		return true
	}
	return false
}
