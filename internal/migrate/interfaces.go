package migrate

import "context"

// Database adalah kolaborator eksekusi SQL dan introspeksi skema.
// Implementasi default berbasis GORM ada di internal/db.
type Database interface {
	// Dialect mengembalikan nama dialek engine (misalnya "sqlite").
	Dialect() string

	// Exec menjalankan satu statement non-query dan mengembalikan rows affected.
	Exec(ctx context.Context, sql string, args ...interface{}) (int64, error)

	// Query menjalankan query dan mengembalikan baris sebagai map kolom->nilai.
	Query(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error)

	// Begin memulai transaksi baru.
	Begin(ctx context.Context, opts TxOptions) (Tx, error)

	// WithTransaction menjalankan fn dalam satu transaksi; error apa pun dari fn
	// memicu rollback sebelum dikembalikan.
	WithTransaction(ctx context.Context, opts TxOptions, fn func(tx Tx) error) error

	// TableExists memeriksa keberadaan tabel fisik.
	TableExists(ctx context.Context, table string) (bool, error)

	// GetColumns mengembalikan definisi kolom fisik sebuah tabel.
	GetColumns(ctx context.Context, table string) ([]ColumnDefinition, error)

	// GetIndexes mengembalikan definisi indeks fisik sebuah tabel.
	GetIndexes(ctx context.Context, table string) ([]IndexDefinition, error)

	// DropTable menghapus tabel (dipakai jalur restore backup).
	DropTable(ctx context.Context, table string) error

	// RenameTable mengganti nama tabel.
	RenameTable(ctx context.Context, oldName, newName string) error
}

// Tx adalah handle transaksi dengan primitif savepoint.
type Tx interface {
	Handle() Handle

	Exec(ctx context.Context, sql string, args ...interface{}) (int64, error)
	Query(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error)

	Commit() error
	Rollback() error

	Savepoint(name string) error
	RollbackToSavepoint(name string) error
	ReleaseSavepoint(name string) error
}

// SchemaSource menyediakan definisi DocType deklaratif.
type SchemaSource interface {
	// GetDocType mengembalikan definisi satu DocType berdasarkan nama.
	// Harus mengembalikan *TypeNotFoundError jika tidak terdaftar.
	GetDocType(ctx context.Context, name string) (*DocType, error)

	// GetAllDocTypes mengembalikan seluruh DocType terdaftar.
	GetAllDocTypes(ctx context.Context) ([]*DocType, error)
}

// HistoryManager menyimpan dan meng-query migrasi yang sudah diterapkan.
// Record hanya boleh dipanggil setelah statement migrasi commit.
type HistoryManager interface {
	Record(ctx context.Context, applied *AppliedMigration) error
	IsApplied(ctx context.Context, migrationID string) (bool, error)
	Get(ctx context.Context, migrationID string) (*AppliedMigration, error)
	List(ctx context.Context, filter HistoryFilter) ([]*AppliedMigration, error)
	UpdateStatus(ctx context.Context, migrationID string, status MigrationStatus, info *RollbackInfo) error
}

// Validator melakukan pre-flight validation terhadap migrasi dan terhadap
// feasibility rollback.
type Validator interface {
	ValidateMigration(ctx context.Context, m *Migration) (*ValidationResult, error)
	ValidateRollback(ctx context.Context, applied *AppliedMigration) (*ValidationResult, error)
}

// BackupManager membuat, me-restore, mendaftar, dan membersihkan backup.
type BackupManager interface {
	CreateBackup(ctx context.Context, docType string, kind BackupKind, column string) (string, error)
	RestoreFromBackup(ctx context.Context, path string) *RestoreResult
	ListBackups(docTypeFilter string) ([]BackupInfo, error)
	CleanupOldBackups(retentionDays int) (int, error)
}
