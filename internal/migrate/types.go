package migrate

import (
	"database/sql"
	"time"
)

// FieldType adalah tag tipe deklaratif untuk sebuah field DocType.
type FieldType string

const (
	FieldTypeText      FieldType = "text"
	FieldTypeSmallText FieldType = "smalltext"
	FieldTypeInt       FieldType = "int"
	FieldTypeFloat     FieldType = "float"
	FieldTypeBool      FieldType = "bool"
	FieldTypeDate      FieldType = "date"
	FieldTypeDatetime  FieldType = "datetime"
	FieldTypeSelect    FieldType = "select"
	FieldTypeLink      FieldType = "link"
	FieldTypeJSON      FieldType = "json"
	FieldTypeCurrency  FieldType = "currency"
)

// FieldSpec adalah definisi deklaratif sebuah field, dimiliki oleh SchemaSource.
type FieldSpec struct {
	Fieldname string         `json:"fieldname"`
	Type      FieldType      `json:"fieldtype"`
	Length    int            `json:"length,omitempty"`
	Precision int            `json:"precision,omitempty"`
	Scale     int            `json:"scale,omitempty"`
	Required  bool           `json:"required,omitempty"`
	Unique    bool           `json:"unique,omitempty"`
	Default   sql.NullString `json:"default,omitempty"`
	Options   string         `json:"options,omitempty"` // Untuk select: pilihan; untuk link: DocType tujuan
}

// IndexSpec adalah definisi deklaratif sebuah indeks.
type IndexSpec struct {
	Name      string   `json:"name,omitempty"` // Kosong berarti nama digenerate (GenerateIndexName)
	Columns   []string `json:"columns"`
	Unique    bool     `json:"unique,omitempty"`
	Predicate string   `json:"predicate,omitempty"` // Partial index (WHERE ...), opsional
	TypeHint  string   `json:"type,omitempty"`      // Hint tipe indeks (btree dll), tidak mempengaruhi correctness
}

// DocType adalah unit deklaratif lengkap yang dikembalikan SchemaSource.
type DocType struct {
	Name    string      `json:"name"`
	Fields  []FieldSpec `json:"fields"`
	Indexes []IndexSpec `json:"indexes,omitempty"`
}

// ColumnDefinition adalah cermin fisik dari FieldSpec, hasil introspeksi
// atau hasil mapping generator.
type ColumnDefinition struct {
	Name          string
	Type          string // Tipe fisik (hasil mapping atau dari introspeksi)
	Length        sql.NullInt64
	Precision     sql.NullInt64
	Scale         sql.NullInt64
	NotNull       bool
	Unique        bool
	Default       sql.NullString
	PrimaryKey    bool
	AutoIncrement bool
	ForeignKey    sql.NullString
	Collation     sql.NullString
}

// IndexDefinition adalah cermin fisik dari IndexSpec.
type IndexDefinition struct {
	Name      string
	Columns   []string
	Unique    bool
	Predicate string
	Type      string
}

// SchemaDiff adalah value hasil perbandingan deklaratif vs fisik.
// Dihitung fresh per perbandingan dan tidak pernah dimutasi setelahnya.
type SchemaDiff struct {
	DocType         string
	Table           string
	AddedColumns    []ColumnChange
	RemovedColumns  []ColumnChange
	ModifiedColumns []FieldChange
	RenamedColumns  []ColumnRename
	AddedIndexes    []IndexChange
	RemovedIndexes  []IndexChange

	// Snapshot konteks yang diisi engine saat perbandingan: keadaan fisik
	// pre-migrasi dan keadaan target penuh. Dibutuhkan generator untuk
	// menyusun resep rebuild dan rollback round-trip.
	PhysicalColumns []ColumnDefinition
	PhysicalIndexes []IndexDefinition
	TargetColumns   []ColumnDefinition
	TargetIndexes   []IndexSpec
}

// IsEmpty berarti "tidak ada aksi yang diperlukan".
func (d *SchemaDiff) IsEmpty() bool {
	return len(d.AddedColumns) == 0 &&
		len(d.RemovedColumns) == 0 &&
		len(d.ModifiedColumns) == 0 &&
		len(d.RenamedColumns) == 0 &&
		len(d.AddedIndexes) == 0 &&
		len(d.RemovedIndexes) == 0
}

// ColumnChange merepresentasikan kolom yang ditambah atau dihapus.
// Field diisi untuk penambahan, Column untuk penghapusan (sisi fisik).
type ColumnChange struct {
	Fieldname string
	Field     *FieldSpec
	Column    *ColumnDefinition
}

// AttrChange adalah pasangan nilai lama/baru untuk satu atribut yang berubah.
type AttrChange struct {
	From string
	To   string
}

// FieldChange merepresentasikan modifikasi sebuah kolom yang sudah ada.
type FieldChange struct {
	Fieldname             string
	Changes               map[string]AttrChange
	RequiresDataMigration bool
	Destructive           bool
	Field                 *FieldSpec        // Sisi deklaratif (target)
	Column                *ColumnDefinition // Sisi fisik (saat ini)
}

// ColumnRename adalah rename eksplisit; tidak pernah diinferensi oleh comparator.
type ColumnRename struct {
	From  string
	To    string
	Field *FieldSpec
}

// IndexChange merepresentasikan indeks yang ditambah atau dihapus.
type IndexChange struct {
	Name  string
	Spec  *IndexSpec       // Untuk penambahan
	Index *IndexDefinition // Untuk penghapusan
}

// StatementType mengkategorikan sebuah statement SQL untuk keperluan
// pengurutan dan inversi rollback.
type StatementType string

const (
	StatementCreateTable  StatementType = "create_table"
	StatementDropTable    StatementType = "drop_table"
	StatementRenameTable  StatementType = "rename_table"
	StatementAddColumn    StatementType = "add_column"
	StatementDropColumn   StatementType = "drop_column"   // Hanya engine dengan native DROP COLUMN
	StatementModifyColumn StatementType = "modify_column" // Hanya engine dengan native MODIFY COLUMN
	StatementCopyData     StatementType = "copy_data"
	StatementCreateIndex  StatementType = "create_index"
	StatementDropIndex    StatementType = "drop_index"
)

// Statement adalah satu statement SQL yang sudah dikategorikan.
type Statement struct {
	SQL         string
	Type        StatementType
	Destructive bool
	Table       string
	Column      string     // Diisi untuk operasi per-kolom
	Index       *IndexSpec // Diisi untuk create_index/drop_index agar bisa diinversi
}

// MigrationSQL adalah hasil GenerateMigrationSQL.
type MigrationSQL struct {
	Forward       []Statement
	Rollback      []Statement
	Warnings      []string
	Destructive   bool
	EstimatedTime time.Duration
	Metadata      map[string]string
}

// MigrationStatus mengikuti state machine PENDING -> APPLIED -> ROLLED_BACK.
// Eksekusi yang gagal tidak pernah mencapai APPLIED.
type MigrationStatus string

const (
	StatusPending    MigrationStatus = "PENDING"
	StatusApplied    MigrationStatus = "APPLIED"
	StatusRolledBack MigrationStatus = "ROLLED_BACK"
)

// Migration adalah satu migrasi yang siap (atau sudah) dieksekusi.
type Migration struct {
	ID             string
	DocType        string
	Timestamp      time.Time
	Diff           *SchemaDiff
	Forward        []Statement
	Rollback       []Statement
	Applied        bool
	Version        int
	Destructive    bool
	RequiresBackup bool
	Error          string
	Metadata       map[string]string
}

// RollbackInfo mencatat detail sebuah rollback yang sudah dilakukan.
type RollbackInfo struct {
	RolledBackAt  time.Time
	RolledBackBy  string
	Reason        string
	ExecutionTime time.Duration
}

// AppliedMigration adalah Migration plus metadata eksekusinya, seperti yang
// disimpan oleh HistoryManager. Ditulis hanya setelah statement-nya commit.
type AppliedMigration struct {
	Migration
	AppliedAt     time.Time
	ExecutionTime time.Duration
	AffectedRows  int64
	BackupPath    string
	AppliedBy     string
	Status        MigrationStatus
	RollbackInfo  *RollbackInfo
	Environment   map[string]string
}

// BackupKind menentukan cakupan sebuah backup.
type BackupKind string

const (
	BackupFull   BackupKind = "FULL"
	BackupSchema BackupKind = "SCHEMA"
	BackupColumn BackupKind = "COLUMN"
)

// BackupInfo adalah bagian `info` dari format file backup on-disk.
type BackupInfo struct {
	ID          string            `json:"id"`
	DocType     string            `json:"doctype"`
	Kind        BackupKind        `json:"type"`
	CreatedAt   time.Time         `json:"createdAt"`
	Path        string            `json:"path"`
	Size        int64             `json:"size"`
	Compressed  bool              `json:"compressed"`
	Encrypted   bool              `json:"encrypted"`
	RecordCount int               `json:"recordCount"`
	Checksum    string            `json:"checksum"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// TableStructure adalah snapshot struktur fisik yang disimpan dalam backup.
type TableStructure struct {
	Columns []ColumnDefinition `json:"columns"`
	Indexes []IndexDefinition  `json:"indexes"`
}

// BackupData adalah bagian `data` dari format file backup.
type BackupData struct {
	Kind      BackupKind               `json:"type"`
	Table     string                   `json:"table"`
	Structure *TableStructure          `json:"structure,omitempty"`
	Column    string                   `json:"column,omitempty"`
	Records   []map[string]interface{} `json:"records,omitempty"`
}

// backupFile adalah format JSON lengkap di disk: {info, data}.
type backupFile struct {
	Info BackupInfo `json:"info"`
	Data BackupData `json:"data"`
}

// RestoreResult adalah hasil restoreFromBackup. Kegagalan restore bersifat
// non-fatal terhadap proses; dikembalikan sebagai result yang gagal.
type RestoreResult struct {
	Success     bool
	RecordCount int
	Validated   bool
	Errors      []string
}

// HandleKind membedakan identitas handle transaksi vs savepoint.
type HandleKind string

const (
	HandleTransaction HandleKind = "transaction"
	HandleSavepoint   HandleKind = "savepoint"
)

// Handle adalah identitas sebuah unit kerja transaksional.
type Handle struct {
	Kind HandleKind
	Name string // Kosong untuk transaksi
}

/// Savepoint adalah checkpoint sub-transaksi bernama. Lifecycle: dibuat di
// batas statement, di-release saat sukses, di-rollback-to saat gagal, lalu
// inactive. Tidak pernah dipakai ulang.
type Savepoint struct {
	Name      string
	CreatedAt time.Time
	Active    bool
}

// ExecOptions mengontrol eksekusi daftar statement.
type ExecOptions struct {
	ContinueOnError  bool
	CreateSavepoints bool
	SavepointPattern string // Pola nama, %d disubstitusi indeks statement
	IsolationLevel   string
	Timeout          time.Duration // Advisory, diteruskan ke begin transaksi
}

// ExecutionResult adalah hasil executeMigrationSQL / executeRollbackSQL.
type ExecutionResult struct {
	Success      bool
	Errors       []error
	Warnings     []string
	AffectedRows int64
	Savepoints   []Savepoint
}

// TxOptions diteruskan ke Database.Begin.
type TxOptions struct {
	IsolationLevel string
	Timeout        time.Duration
}

// CompareOptions mengontrol perilaku perbandingan skema.
type CompareOptions struct {
	CaseSensitive           bool
	IgnoreDefaultValues     bool
	IgnoreLengthDifferences bool
}

// CompareStage adalah milestone progres perbandingan; observer opsional,
// best-effort, tanpa pengaruh ke control flow.
type CompareStage string

const (
	StageLoadDocType        CompareStage = "load_doctype"
	StageLoadPhysicalSchema CompareStage = "load_physical_schema"
	StageCompareFields      CompareStage = "compare_fields"
	StageCompareIndexes     CompareStage = "compare_indexes"
	StageComplete           CompareStage = "complete"
)

// ProgressFunc menerima milestone dan persentase kasar (0-100).
type ProgressFunc func(stage CompareStage, percent int)

// BatchCompareResult mengisolasi kegagalan per-DocType dalam operasi batch.
type BatchCompareResult struct {
	Diffs     map[string]*SchemaDiff
	Errors    map[string]error
	Succeeded int
	Failed    int
}

// SyncOptions mengontrol SyncDocType. Backup adalah default untuk migrasi
// destruktif; Force satu-satunya cara melewatinya.
type SyncOptions struct {
	DryRun          bool
	Force           bool
	PreserveData    bool
	Backup          bool
	ContinueOnError bool
}

// SyncResult adalah hasil sinkronisasi satu DocType.
type SyncResult struct {
	DocType      string
	Success      bool
	NoChanges    bool
	Skipped      bool
	DryRun       bool
	MigrationID  string
	BackupPath   string
	Warnings     []string
	Errors       []error
	AffectedRows int64
	Duration     time.Duration
}

// SyncAllResult mengagregasi hasil sweep seluruh DocType terdaftar.
// Sweep selalu selesai; kegagalan satu tipe tidak menghentikan yang lain.
type SyncAllResult struct {
	Success    bool
	Successful []string
	Failed     []string
	Errors     map[string]error
	Results    map[string]*SyncResult
	Duration   time.Duration
}

// ApplyResult adalah hasil ApplyMigration. Skipped=true berarti migrasi
// dengan id tersebut sudah pernah diterapkan (no-op).
type ApplyResult struct {
	MigrationID  string
	Success      bool
	Skipped      bool
	AffectedRows int64
	Duration     time.Duration
	Errors       []error
}

// ValidationResult adalah hasil pre-flight validation dari Validator.
type ValidationResult struct {
	Valid      bool
	Blockers   []string
	Warnings   []string
	Difficulty int // Skor heuristik, hanya untuk estimasi
}

// HistoryFilter membatasi query riwayat migrasi.
type HistoryFilter struct {
	DocType string
	Status  MigrationStatus
	Limit   int
}
