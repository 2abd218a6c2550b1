package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/arwahdevops/docmigrate/internal/migrate"
	"github.com/arwahdevops/docmigrate/internal/utils"
)

// GormDatabase mengimplementasikan migrate.Database di atas GORM, dengan
// introspeksi skema per-dialek.
type GormDatabase struct {
	conn   *Connector
	logger *zap.Logger
}

var _ migrate.Database = (*GormDatabase)(nil)

func NewGormDatabase(conn *Connector, logger *zap.Logger) *GormDatabase {
	return &GormDatabase{conn: conn, logger: logger.Named("database")}
}

func (g *GormDatabase) Dialect() string { return g.conn.Dialect }

func (g *GormDatabase) quoteChar() string {
	if g.conn.Dialect == "mysql" {
		return "`"
	}
	return `"`
}

func (g *GormDatabase) quote(name string) string {
	return utils.QuoteIdentifier(name, g.quoteChar())
}

func (g *GormDatabase) Exec(ctx context.Context, stmt string, args ...interface{}) (int64, error) {
	res := g.conn.DB.WithContext(ctx).Exec(stmt, args...)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (g *GormDatabase) Query(ctx context.Context, stmt string, args ...interface{}) ([]map[string]interface{}, error) {
	var rows []map[string]interface{}
	if err := g.conn.DB.WithContext(ctx).Raw(stmt, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (g *GormDatabase) Begin(ctx context.Context, opts migrate.TxOptions) (migrate.Tx, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}

	tx := g.conn.DB.WithContext(runCtx).Begin(&sql.TxOptions{Isolation: mapIsolation(opts.IsolationLevel)})
	if tx.Error != nil {
		if cancel != nil {
			cancel()
		}
		return nil, fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	return &gormTx{db: tx, cancel: cancel, logger: g.logger}, nil
}

func (g *GormDatabase) WithTransaction(ctx context.Context, opts migrate.TxOptions, fn func(tx migrate.Tx) error) error {
	tx, err := g.Begin(ctx, opts)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			g.logger.Error("Transaction rollback failed after error.", zap.Error(rbErr))
		}
		return err
	}
	return tx.Commit()
}

func (g *GormDatabase) TableExists(ctx context.Context, table string) (bool, error) {
	var count int64
	var err error
	switch g.conn.Dialect {
	case "sqlite":
		err = g.conn.DB.WithContext(ctx).
			Raw("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).
			Scan(&count).Error
	case "mysql":
		err = g.conn.DB.WithContext(ctx).
			Raw("SELECT COUNT(*) FROM information_schema.TABLES WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?", table).
			Scan(&count).Error
	case "postgres":
		err = g.conn.DB.WithContext(ctx).
			Raw("SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?", table).
			Scan(&count).Error
	default:
		return false, fmt.Errorf("unsupported dialect: %s", g.conn.Dialect)
	}
	if err != nil {
		return false, fmt.Errorf("table existence check failed for '%s': %w", table, err)
	}
	return count > 0, nil
}

func (g *GormDatabase) GetColumns(ctx context.Context, table string) ([]migrate.ColumnDefinition, error) {
	switch g.conn.Dialect {
	case "sqlite":
		return g.getSQLiteColumns(ctx, table)
	case "mysql":
		return g.getMySQLColumns(ctx, table)
	case "postgres":
		return g.getPostgresColumns(ctx, table)
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", g.conn.Dialect)
	}
}

func (g *GormDatabase) GetIndexes(ctx context.Context, table string) ([]migrate.IndexDefinition, error) {
	switch g.conn.Dialect {
	case "sqlite":
		return g.getSQLiteIndexes(ctx, table)
	case "mysql":
		return g.getMySQLIndexes(ctx, table)
	case "postgres":
		return g.getPostgresIndexes(ctx, table)
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", g.conn.Dialect)
	}
}

func (g *GormDatabase) DropTable(ctx context.Context, table string) error {
	_, err := g.Exec(ctx, fmt.Sprintf("DROP TABLE %s", g.quote(table)))
	return err
}

func (g *GormDatabase) RenameTable(ctx context.Context, oldName, newName string) error {
	stmt := fmt.Sprintf("ALTER TABLE %s RENAME TO %s", g.quote(oldName), g.quote(newName))
	if g.conn.Dialect == "mysql" {
		stmt = fmt.Sprintf("RENAME TABLE %s TO %s", g.quote(oldName), g.quote(newName))
	}
	_, err := g.Exec(ctx, stmt)
	return err
}

func mapIsolation(level string) sql.IsolationLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "SERIALIZABLE":
		return sql.LevelSerializable
	case "REPEATABLE READ":
		return sql.LevelRepeatableRead
	case "READ COMMITTED":
		return sql.LevelReadCommitted
	case "READ UNCOMMITTED":
		return sql.LevelReadUncommitted
	default:
		return sql.LevelDefault
	}
}

// gormTx membungkus transaksi GORM sebagai migrate.Tx. Savepoint memakai
// primitif GORM; RELEASE tidak diekspos GORM jadi dieksekusi mentah.
type gormTx struct {
	db     *gorm.DB
	cancel context.CancelFunc
	logger *zap.Logger
}

var _ migrate.Tx = (*gormTx)(nil)

func (t *gormTx) Handle() migrate.Handle {
	return migrate.Handle{Kind: migrate.HandleTransaction}
}

func (t *gormTx) Exec(ctx context.Context, stmt string, args ...interface{}) (int64, error) {
	res := t.db.WithContext(ctx).Exec(stmt, args...)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (t *gormTx) Query(ctx context.Context, stmt string, args ...interface{}) ([]map[string]interface{}, error) {
	var rows []map[string]interface{}
	if err := t.db.WithContext(ctx).Raw(stmt, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (t *gormTx) Commit() error {
	defer t.done()
	return t.db.Commit().Error
}

func (t *gormTx) Rollback() error {
	defer t.done()
	return t.db.Rollback().Error
}

func (t *gormTx) Savepoint(name string) error {
	return t.db.SavePoint(name).Error
}

func (t *gormTx) RollbackToSavepoint(name string) error {
	return t.db.RollbackTo(name).Error
}

func (t *gormTx) ReleaseSavepoint(name string) error {
	return t.db.Exec(fmt.Sprintf("RELEASE SAVEPOINT %s", name)).Error
}

func (t *gormTx) done() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}
