// internal/migrate/mocks_test.go
package migrate

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// mockTx merekam seluruh SQL yang dieksekusi plus lifecycle savepoint-nya.
type mockTx struct {
	mu                sync.Mutex
	executed          []string
	savepoints        []string
	rollbackTargets   []string
	releasedTargets   []string
	committed         bool
	rolledBack        bool
	failOn            map[string]error // Substring SQL -> error yang dikembalikan
	affectedPerStmt   int64
	savepointFailures map[string]error
}

func newMockTx() *mockTx {
	return &mockTx{
		failOn:            make(map[string]error),
		savepointFailures: make(map[string]error),
		affectedPerStmt:   1,
	}
}

func (t *mockTx) Handle() Handle { return Handle{Kind: HandleTransaction} }

func (t *mockTx) Exec(ctx context.Context, sql string, args ...interface{}) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.executed = append(t.executed, sql)
	for substr, err := range t.failOn {
		if strings.Contains(sql, substr) {
			return 0, err
		}
	}
	return t.affectedPerStmt, nil
}

func (t *mockTx) Query(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error) {
	return nil, nil
}

func (t *mockTx) Commit() error   { t.committed = true; return nil }
func (t *mockTx) Rollback() error { t.rolledBack = true; return nil }

func (t *mockTx) Savepoint(name string) error {
	if err, ok := t.savepointFailures[name]; ok {
		return err
	}
	t.savepoints = append(t.savepoints, name)
	return nil
}

func (t *mockTx) RollbackToSavepoint(name string) error {
	t.rollbackTargets = append(t.rollbackTargets, name)
	return nil
}

func (t *mockTx) ReleaseSavepoint(name string) error {
	t.releasedTargets = append(t.releasedTargets, name)
	return nil
}

// mockDatabase mengimplementasikan Database di atas state in-memory.
type mockDatabase struct {
	dialect     string
	tables      map[string]bool
	columns     map[string][]ColumnDefinition
	indexes     map[string][]IndexDefinition
	queryRows   []map[string]interface{}
	queryErr    error
	execErr     error
	tx          *mockTx
	getColCalls int
}

var _ Database = (*mockDatabase)(nil)

func newMockDatabase() *mockDatabase {
	return &mockDatabase{
		dialect: "sqlite",
		tables:  make(map[string]bool),
		columns: make(map[string][]ColumnDefinition),
		indexes: make(map[string][]IndexDefinition),
		tx:      newMockTx(),
	}
}

func (d *mockDatabase) Dialect() string { return d.dialect }

func (d *mockDatabase) Exec(ctx context.Context, sql string, args ...interface{}) (int64, error) {
	if d.execErr != nil {
		return 0, d.execErr
	}
	return 1, nil
}

func (d *mockDatabase) Query(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error) {
	if d.queryErr != nil {
		return nil, d.queryErr
	}
	return d.queryRows, nil
}

func (d *mockDatabase) Begin(ctx context.Context, opts TxOptions) (Tx, error) {
	return d.tx, nil
}

func (d *mockDatabase) WithTransaction(ctx context.Context, opts TxOptions, fn func(tx Tx) error) error {
	if err := fn(d.tx); err != nil {
		d.tx.rolledBack = true
		return err
	}
	d.tx.committed = true
	return nil
}

func (d *mockDatabase) TableExists(ctx context.Context, table string) (bool, error) {
	return d.tables[table], nil
}

func (d *mockDatabase) GetColumns(ctx context.Context, table string) ([]ColumnDefinition, error) {
	d.getColCalls++
	cols, ok := d.columns[table]
	if !ok {
		return nil, fmt.Errorf("no columns registered for table '%s'", table)
	}
	return cols, nil
}

func (d *mockDatabase) GetIndexes(ctx context.Context, table string) ([]IndexDefinition, error) {
	return d.indexes[table], nil
}

func (d *mockDatabase) DropTable(ctx context.Context, table string) error {
	delete(d.tables, table)
	return nil
}

func (d *mockDatabase) RenameTable(ctx context.Context, oldName, newName string) error {
	d.tables[newName] = d.tables[oldName]
	delete(d.tables, oldName)
	return nil
}

// mockSource adalah SchemaSource in-memory.
type mockSource struct {
	docs map[string]*DocType
}

var _ SchemaSource = (*mockSource)(nil)

func newMockSource(docs ...*DocType) *mockSource {
	s := &mockSource{docs: make(map[string]*DocType, len(docs))}
	for _, d := range docs {
		s.docs[strings.ToLower(d.Name)] = d
	}
	return s
}

func (s *mockSource) GetDocType(ctx context.Context, name string) (*DocType, error) {
	doc, ok := s.docs[strings.ToLower(name)]
	if !ok {
		return nil, &TypeNotFoundError{DocType: name}
	}
	return doc, nil
}

func (s *mockSource) GetAllDocTypes(ctx context.Context) ([]*DocType, error) {
	out := make([]*DocType, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, d)
	}
	return out, nil
}

// mockBackups merekam panggilan CreateBackup dan bisa dipaksa gagal.
type mockBackups struct {
	createCalls int
	createErr   error
	path        string
}

var _ BackupManager = (*mockBackups)(nil)

func (b *mockBackups) CreateBackup(ctx context.Context, docType string, kind BackupKind, column string) (string, error) {
	b.createCalls++
	if b.createErr != nil {
		return "", b.createErr
	}
	if b.path == "" {
		return "/tmp/backup.json", nil
	}
	return b.path, nil
}

func (b *mockBackups) RestoreFromBackup(ctx context.Context, path string) *RestoreResult {
	return &RestoreResult{Success: true}
}

func (b *mockBackups) ListBackups(docTypeFilter string) ([]BackupInfo, error) { return nil, nil }
func (b *mockBackups) CleanupOldBackups(retentionDays int) (int, error)      { return 0, nil }

// mockHistory adalah HistoryManager in-memory.
type mockHistory struct {
	records   map[string]*AppliedMigration
	recordErr error
}

var _ HistoryManager = (*mockHistory)(nil)

func newMockHistory() *mockHistory {
	return &mockHistory{records: make(map[string]*AppliedMigration)}
}

func (h *mockHistory) Record(ctx context.Context, applied *AppliedMigration) error {
	if h.recordErr != nil {
		return h.recordErr
	}
	h.records[applied.ID] = applied
	return nil
}

func (h *mockHistory) IsApplied(ctx context.Context, migrationID string) (bool, error) {
	rec, ok := h.records[migrationID]
	return ok && rec.Status == StatusApplied, nil
}

func (h *mockHistory) Get(ctx context.Context, migrationID string) (*AppliedMigration, error) {
	rec, ok := h.records[migrationID]
	if !ok {
		return nil, fmt.Errorf("migration '%s' not found in history", migrationID)
	}
	return rec, nil
}

func (h *mockHistory) List(ctx context.Context, filter HistoryFilter) ([]*AppliedMigration, error) {
	out := make([]*AppliedMigration, 0, len(h.records))
	for _, rec := range h.records {
		out = append(out, rec)
	}
	return out, nil
}

func (h *mockHistory) UpdateStatus(ctx context.Context, migrationID string, status MigrationStatus, info *RollbackInfo) error {
	rec, ok := h.records[migrationID]
	if !ok {
		return fmt.Errorf("migration '%s' not found in history", migrationID)
	}
	rec.Status = status
	rec.RollbackInfo = info
	return nil
}
