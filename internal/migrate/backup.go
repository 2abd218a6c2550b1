package migrate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arwahdevops/docmigrate/internal/metrics"
)

// MigrationBackupManager menulis backup JSON berchecksum ke disk sebelum
// migrasi destruktif berjalan. Tiga cakupan: FULL (struktur + seluruh baris),
// SCHEMA (struktur saja), COLUMN (identitas + satu kolom).
type MigrationBackupManager struct {
	db      Database
	gen     *SQLGenerator
	dir     string
	logger  *zap.Logger
	metrics *metrics.Store
}

var _ BackupManager = (*MigrationBackupManager)(nil)

func NewMigrationBackupManager(db Database, gen *SQLGenerator, dir string, logger *zap.Logger) (*MigrationBackupManager, error) {
	if dir == "" {
		return nil, fmt.Errorf("backup directory is not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory '%s': %w", dir, err)
	}
	return &MigrationBackupManager{
		db:     db,
		gen:    gen,
		dir:    dir,
		logger: logger.Named("backup-manager"),
	}, nil
}

// CreateBackup membuat satu file backup dan mengembalikan path-nya. Untuk
// kind=COLUMN, column wajib diisi.
// SetMetrics memasang metric store; opsional, boleh tidak dipanggil.
func (m *MigrationBackupManager) SetMetrics(store *metrics.Store) { m.metrics = store }

func (m *MigrationBackupManager) CreateBackup(ctx context.Context, docType string, kind BackupKind, column string) (string, error) {
	start := time.Now()
	table := m.gen.TableName(docType)
	log := m.logger.With(zap.String("doctype", docType), zap.String("table", table), zap.String("kind", string(kind)))

	exists, err := m.db.TableExists(ctx, table)
	if err != nil {
		return "", &BackupError{DocType: docType, Err: err}
	}
	if !exists {
		return "", &BackupError{DocType: docType, Err: &TableNotFoundError{Table: table}}
	}

	data := BackupData{Kind: kind, Table: table}
	switch kind {
	case BackupFull:
		structure, err := m.snapshotStructure(ctx, table)
		if err != nil {
			return "", &BackupError{DocType: docType, Err: err}
		}
		records, err := m.db.Query(ctx, fmt.Sprintf("SELECT * FROM %s", m.quote(table)))
		if err != nil {
			return "", &BackupError{DocType: docType, Err: fmt.Errorf("failed to read table rows: %w", err)}
		}
		data.Structure = structure
		data.Records = records
	case BackupSchema:
		structure, err := m.snapshotStructure(ctx, table)
		if err != nil {
			return "", &BackupError{DocType: docType, Err: err}
		}
		data.Structure = structure
	case BackupColumn:
		if column == "" {
			return "", &BackupError{DocType: docType, Err: fmt.Errorf("column backup requires a column name")}
		}
		records, err := m.db.Query(ctx, fmt.Sprintf("SELECT %s, %s FROM %s",
			m.quote(identityColumn), m.quote(column), m.quote(table)))
		if err != nil {
			return "", &BackupError{DocType: docType, Err: fmt.Errorf("failed to read column values: %w", err)}
		}
		data.Column = column
		data.Records = records
	default:
		return "", &BackupError{DocType: docType, Err: fmt.Errorf("unknown backup kind '%s'", kind)}
	}

	id := fmt.Sprintf("%s_%s_%d", sanitizeForFilename(docType), strings.ToLower(string(kind)), time.Now().UnixNano())
	path := filepath.Join(m.dir, id+".json")

	checksum, err := checksumData(&data)
	if err != nil {
		return "", &BackupError{DocType: docType, Err: err}
	}

	file := backupFile{
		Info: BackupInfo{
			ID:          id,
			DocType:     docType,
			Kind:        kind,
			CreatedAt:   time.Now().UTC(),
			Path:        path,
			RecordCount: len(data.Records),
			Checksum:    checksum,
		},
		Data: data,
	}

	payload, err := json.MarshalIndent(&file, "", "  ")
	if err != nil {
		return "", &BackupError{DocType: docType, Err: err}
	}
	// info.size adalah perkiraan saat tulis; ListBackups melaporkan ukuran
	// file aktual.
	file.Info.Size = int64(len(payload))
	payload, err = json.MarshalIndent(&file, "", "  ")
	if err != nil {
		return "", &BackupError{DocType: docType, Err: err}
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", &BackupError{DocType: docType, Err: fmt.Errorf("failed to write backup file: %w", err)}
	}

	if m.metrics != nil {
		label := strings.ToLower(string(kind))
		m.metrics.BackupsCreatedTotal.WithLabelValues(label).Inc()
		m.metrics.BackupDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	}

	log.Info("Backup created.",
		zap.String("path", path),
		zap.Int("record_count", file.Info.RecordCount),
		zap.String("checksum", checksum))
	return path, nil
}

// RestoreFromBackup membaca, memverifikasi checksum, lalu mengembalikan isi
// backup ke database dalam satu transaksi. Kegagalan dikembalikan sebagai
// RestoreResult gagal, bukan error, agar pemanggil bisa melanjutkan.
func (m *MigrationBackupManager) RestoreFromBackup(ctx context.Context, path string) *RestoreResult {
	result := &RestoreResult{}
	log := m.logger.With(zap.String("path", path))

	raw, err := os.ReadFile(path)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("Restore failed: %v", err))
		return result
	}
	var file backupFile
	if err := json.Unmarshal(raw, &file); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("Restore failed: %v", err))
		return result
	}

	checksum, err := checksumData(&file.Data)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("Restore failed: %v", err))
		return result
	}
	if checksum != file.Info.Checksum {
		log.Warn("Backup checksum mismatch.",
			zap.String("expected", file.Info.Checksum), zap.String("actual", checksum))
		result.Errors = append(result.Errors, "Backup integrity check failed: checksum mismatch")
		return result
	}
	result.Validated = true

	err = m.db.WithTransaction(ctx, TxOptions{}, func(tx Tx) error {
		switch file.Data.Kind {
		case BackupFull:
			return m.restoreFull(ctx, tx, &file.Data)
		case BackupSchema:
			return m.restoreSchema(ctx, tx, &file.Data)
		case BackupColumn:
			return m.restoreColumn(ctx, tx, &file.Data)
		default:
			return fmt.Errorf("unknown backup kind '%s'", file.Data.Kind)
		}
	})
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("Restore failed: %v", err))
		return result
	}

	result.Success = true
	result.RecordCount = len(file.Data.Records)
	log.Info("Backup restored.", zap.Int("record_count", result.RecordCount), zap.String("kind", string(file.Data.Kind)))
	return result
}

func (m *MigrationBackupManager) restoreFull(ctx context.Context, tx Tx, data *BackupData) error {
	if data.Structure == nil {
		return fmt.Errorf("full backup carries no table structure")
	}
	// Tabel yang ada diganti total dengan isi backup.
	if _, err := tx.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", m.quote(data.Table))); err != nil {
		return fmt.Errorf("failed to drop existing table '%s': %w", data.Table, err)
	}
	create, err := m.gen.createTableStatement(data.Table, data.Structure.Columns)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, create.SQL); err != nil {
		return fmt.Errorf("failed to recreate table '%s': %w", data.Table, err)
	}
	for _, idx := range data.Structure.Indexes {
		stmt := m.gen.createIndexOnTable(data.Table, IndexSpec{
			Name: idx.Name, Columns: idx.Columns, Unique: idx.Unique, Predicate: idx.Predicate,
		})
		if _, err := tx.Exec(ctx, stmt.SQL); err != nil {
			return fmt.Errorf("failed to recreate index '%s': %w", idx.Name, err)
		}
	}
	return m.insertRecords(ctx, tx, data.Table, data.Records)
}

func (m *MigrationBackupManager) restoreSchema(ctx context.Context, tx Tx, data *BackupData) error {
	if data.Structure == nil {
		return fmt.Errorf("schema backup carries no table structure")
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", m.quote(data.Table))); err != nil {
		return fmt.Errorf("failed to drop existing table '%s': %w", data.Table, err)
	}
	create, err := m.gen.createTableStatement(data.Table, data.Structure.Columns)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, create.SQL); err != nil {
		return fmt.Errorf("failed to recreate table '%s': %w", data.Table, err)
	}
	for _, idx := range data.Structure.Indexes {
		stmt := m.gen.createIndexOnTable(data.Table, IndexSpec{
			Name: idx.Name, Columns: idx.Columns, Unique: idx.Unique, Predicate: idx.Predicate,
		})
		if _, err := tx.Exec(ctx, stmt.SQL); err != nil {
			return fmt.Errorf("failed to recreate index '%s': %w", idx.Name, err)
		}
	}
	return nil
}

func (m *MigrationBackupManager) restoreColumn(ctx context.Context, tx Tx, data *BackupData) error {
	if data.Column == "" {
		return fmt.Errorf("column backup carries no column name")
	}
	update := fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?",
		m.quote(data.Table), m.quote(data.Column), m.quote(identityColumn))
	for _, rec := range data.Records {
		id, ok := rec[identityColumn]
		if !ok {
			return fmt.Errorf("a backup record is missing the identity column")
		}
		if _, err := tx.Exec(ctx, update, rec[data.Column], id); err != nil {
			return fmt.Errorf("failed to restore column value for row '%v': %w", id, err)
		}
	}
	return nil
}

func (m *MigrationBackupManager) insertRecords(ctx context.Context, tx Tx, table string, records []map[string]interface{}) error {
	for _, rec := range records {
		cols := make([]string, 0, len(rec))
		for col := range rec {
			cols = append(cols, col)
		}
		sort.Strings(cols)

		quoted := make([]string, len(cols))
		placeholders := make([]string, len(cols))
		args := make([]interface{}, len(cols))
		for i, col := range cols {
			quoted[i] = m.quote(col)
			placeholders[i] = "?"
			args[i] = rec[col]
		}
		sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			m.quote(table), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("failed to insert a restored row: %w", err)
		}
	}
	return nil
}

// ListBackups mendaftar backup di direktori, terbaru lebih dulu. File yang
// tidak bisa diparse dilewati dengan warning, bukan error.
func (m *MigrationBackupManager) ListBackups(docTypeFilter string) ([]BackupInfo, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory '%s': %w", m.dir, err)
	}

	infos := make([]BackupInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(m.dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			m.logger.Warn("Skipping unreadable backup file.", zap.String("path", path), zap.Error(err))
			continue
		}
		var file backupFile
		if err := json.Unmarshal(raw, &file); err != nil {
			m.logger.Warn("Skipping unparsable backup file.", zap.String("path", path), zap.Error(err))
			continue
		}
		if docTypeFilter != "" && !strings.EqualFold(file.Info.DocType, docTypeFilter) {
			continue
		}
		info := file.Info
		info.Path = path
		info.Size = int64(len(raw))
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.After(infos[j].CreatedAt) })
	return infos, nil
}

// CleanupOldBackups menghapus backup lebih tua dari retensi dan mengembalikan
// jumlah yang dihapus. File yang gagal dihapus dilewati dengan warning.
func (m *MigrationBackupManager) CleanupOldBackups(retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention must be positive, got %d", retentionDays)
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	infos, err := m.ListBackups("")
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, info := range infos {
		if !info.CreatedAt.Before(cutoff) {
			continue
		}
		if err := os.Remove(info.Path); err != nil {
			m.logger.Warn("Failed to remove expired backup.", zap.String("path", info.Path), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		m.logger.Info("Expired backups removed.", zap.Int("count", removed), zap.Int("retention_days", retentionDays))
	}
	return removed, nil
}

func (m *MigrationBackupManager) snapshotStructure(ctx context.Context, table string) (*TableStructure, error) {
	cols, err := m.db.GetColumns(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("failed to introspect columns: %w", err)
	}
	idxs, err := m.db.GetIndexes(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("failed to introspect indexes: %w", err)
	}
	return &TableStructure{Columns: cols, Indexes: idxs}, nil
}

func (m *MigrationBackupManager) quote(name string) string {
	return m.gen.quote(name)
}

// checksumData menghasilkan sha256 hex dari serialisasi JSON kanonik bagian
// data. Verifikasi restore menghitung ulang dengan cara yang sama persis.
func checksumData(data *BackupData) (string, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to serialize backup data for checksum: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

func sanitizeForFilename(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}
