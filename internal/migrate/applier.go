package migrate

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"
)

// MigrationApplier adalah orkestrator level atas: diff -> generate -> backup
// (bila destruktif) -> eksekusi -> catat riwayat. Rollback: lookup riwayat ->
// validasi -> eksekusi rollback SQL tersimpan -> update status.
type MigrationApplier struct {
	engine    *SchemaComparisonEngine
	gen       *SQLGenerator
	executor  *MigrationExecutor
	backups   BackupManager
	history   HistoryManager
	validator Validator
	source    SchemaSource
	logger    *zap.Logger
}

type ApplierDeps struct {
	Engine    *SchemaComparisonEngine
	Generator *SQLGenerator
	Executor  *MigrationExecutor
	Backups   BackupManager
	History   HistoryManager
	Validator Validator
	Source    SchemaSource
}

func NewMigrationApplier(deps ApplierDeps, logger *zap.Logger) *MigrationApplier {
	return &MigrationApplier{
		engine:    deps.Engine,
		gen:       deps.Generator,
		executor:  deps.Executor,
		backups:   deps.Backups,
		history:   deps.History,
		validator: deps.Validator,
		source:    deps.Source,
		logger:    logger.Named("migration-applier"),
	}
}

// SyncDocType menyinkronkan satu DocType ke definisi deklaratifnya. Diff
// kosong = sukses tanpa aksi. Migrasi destruktif membuat backup FULL sebelum
// SQL apa pun berjalan; kegagalan backup membatalkan migrasi (fail-closed),
// kecuali opts.Force.
func (a *MigrationApplier) SyncDocType(ctx context.Context, docType string, opts SyncOptions) *SyncResult {
	start := time.Now()
	result := &SyncResult{DocType: docType, DryRun: opts.DryRun}
	log := a.logger.With(zap.String("doctype", docType), zap.Bool("dry_run", opts.DryRun))

	diff, err := a.engine.CompareSchema(ctx, docType)
	if err != nil {
		result.Errors = append(result.Errors, err)
		result.Duration = time.Since(start)
		return result
	}
	if diff.IsEmpty() {
		log.Debug("Schema already in sync; nothing to do.")
		result.Success = true
		result.NoChanges = true
		result.Duration = time.Since(start)
		return result
	}

	sqlResult, err := a.gen.GenerateMigrationSQL(diff)
	if err != nil {
		result.Errors = append(result.Errors, err)
		result.Duration = time.Since(start)
		return result
	}
	result.Warnings = append(result.Warnings, sqlResult.Warnings...)

	migration := a.buildMigration(docType, diff, sqlResult, opts)
	result.MigrationID = migration.ID

	if opts.DryRun {
		// Warning dan risiko data-loss tetap dihitung; backup, eksekusi, dan
		// riwayat dilewati.
		log.Info("Dry run complete.",
			zap.Int("forward_statements", len(migration.Forward)),
			zap.Bool("destructive", migration.Destructive),
			zap.Strings("warnings", result.Warnings))
		result.Success = true
		result.Duration = time.Since(start)
		return result
	}

	if validation, err := a.validator.ValidateMigration(ctx, migration); err != nil {
		result.Errors = append(result.Errors, err)
		result.Duration = time.Since(start)
		return result
	} else if !validation.Valid {
		for _, b := range validation.Blockers {
			result.Errors = append(result.Errors, fmt.Errorf("migration blocked: %s", b))
		}
		result.Duration = time.Since(start)
		return result
	} else {
		result.Warnings = append(result.Warnings, validation.Warnings...)
	}

	if migration.RequiresBackup {
		path, err := a.backups.CreateBackup(ctx, docType, BackupFull, "")
		if err != nil {
			// Fail-closed: tanpa backup, skema tidak disentuh sama sekali.
			result.Errors = append(result.Errors, fmt.Errorf("aborting before any SQL: %w", err))
			result.Duration = time.Since(start)
			return result
		}
		result.BackupPath = path
		log.Info("Pre-migration backup created.", zap.String("path", path))
	}

	execResult := a.executor.ExecuteMigrationSQL(ctx, migration.Forward, ExecOptions{
		ContinueOnError:  opts.ContinueOnError,
		CreateSavepoints: true,
	})
	result.Warnings = append(result.Warnings, execResult.Warnings...)
	result.AffectedRows = execResult.AffectedRows
	if !execResult.Success {
		result.Errors = append(result.Errors, execResult.Errors...)
		result.Duration = time.Since(start)
		log.Warn("Migration execution failed; no history recorded.",
			zap.String("migration_id", migration.ID), zap.Int("errors", len(execResult.Errors)))
		return result
	}

	a.engine.ClearCache(diff.Table)

	applied := a.buildApplied(migration, result.BackupPath, execResult.AffectedRows, time.Since(start))
	if err := a.history.Record(ctx, applied); err != nil {
		// Skema sudah berubah; kegagalan pencatatan dilaporkan tapi tidak
		// membatalkan hasil.
		result.Errors = append(result.Errors, fmt.Errorf("migration applied but history recording failed: %w", err))
		result.Duration = time.Since(start)
		return result
	}

	result.Success = true
	result.Duration = time.Since(start)
	log.Info("DocType synchronized.",
		zap.String("migration_id", migration.ID),
		zap.Int64("affected_rows", result.AffectedRows),
		zap.Duration("duration", result.Duration))
	return result
}

// SyncAllDocTypes menyapu seluruh DocType terdaftar secara berurutan, satu
// transaksi per tipe. Kegagalan satu tipe tidak menghentikan sweep.
func (a *MigrationApplier) SyncAllDocTypes(ctx context.Context, opts SyncOptions) *SyncAllResult {
	start := time.Now()
	result := &SyncAllResult{
		Errors:  make(map[string]error),
		Results: make(map[string]*SyncResult),
	}

	docs, err := a.source.GetAllDocTypes(ctx)
	if err != nil {
		result.Errors["_list"] = fmt.Errorf("failed to list doctypes: %w", err)
		result.Duration = time.Since(start)
		return result
	}
	names := make([]string, 0, len(docs))
	for _, d := range docs {
		names = append(names, d.Name)
	}
	sort.Strings(names)

	for _, name := range names {
		sync := a.SyncDocType(ctx, name, opts)
		result.Results[name] = sync
		if sync.Success {
			result.Successful = append(result.Successful, name)
			continue
		}
		result.Failed = append(result.Failed, name)
		if len(sync.Errors) > 0 {
			result.Errors[name] = sync.Errors[0]
		}
	}

	result.Success = len(result.Failed) == 0
	result.Duration = time.Since(start)
	a.logger.Info("Full synchronization sweep complete.",
		zap.Int("successful", len(result.Successful)),
		zap.Int("failed", len(result.Failed)),
		zap.Duration("duration", result.Duration))
	return result
}

// ApplyMigration menerapkan satu migrasi yang sudah disusun. ID yang sudah
// pernah diterapkan menghasilkan no-op dengan Skipped=true.
func (a *MigrationApplier) ApplyMigration(ctx context.Context, m *Migration) *ApplyResult {
	start := time.Now()
	result := &ApplyResult{MigrationID: m.ID}
	log := a.logger.With(zap.String("migration_id", m.ID), zap.String("doctype", m.DocType))

	alreadyApplied, err := a.history.IsApplied(ctx, m.ID)
	if err != nil {
		result.Errors = append(result.Errors, err)
		result.Duration = time.Since(start)
		return result
	}
	if alreadyApplied {
		log.Info("Migration already applied; skipping.")
		result.Success = true
		result.Skipped = true
		result.Duration = time.Since(start)
		return result
	}

	validation, err := a.validator.ValidateMigration(ctx, m)
	if err != nil {
		result.Errors = append(result.Errors, err)
		result.Duration = time.Since(start)
		return result
	}
	if !validation.Valid {
		for _, b := range validation.Blockers {
			result.Errors = append(result.Errors, fmt.Errorf("migration blocked: %s", b))
		}
		result.Duration = time.Since(start)
		return result
	}

	backupPath := ""
	if m.RequiresBackup {
		backupPath, err = a.backups.CreateBackup(ctx, m.DocType, BackupFull, "")
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("aborting before any SQL: %w", err))
			result.Duration = time.Since(start)
			return result
		}
	}

	execResult := a.executor.ExecuteMigrationSQL(ctx, m.Forward, ExecOptions{CreateSavepoints: true})
	result.AffectedRows = execResult.AffectedRows
	if !execResult.Success {
		result.Errors = append(result.Errors, execResult.Errors...)
		result.Duration = time.Since(start)
		return result
	}

	if m.Diff != nil {
		a.engine.ClearCache(m.Diff.Table)
	}

	applied := a.buildApplied(m, backupPath, execResult.AffectedRows, time.Since(start))
	if err := a.history.Record(ctx, applied); err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("migration applied but history recording failed: %w", err))
		result.Duration = time.Since(start)
		return result
	}

	result.Success = true
	result.Duration = time.Since(start)
	return result
}

// RollbackMigration mengeksekusi rollback SQL tersimpan sebuah migrasi
// APPLIED dan mentransisikan statusnya ke ROLLED_BACK.
func (a *MigrationApplier) RollbackMigration(ctx context.Context, migrationID, reason string) error {
	log := a.logger.With(zap.String("migration_id", migrationID))

	applied, err := a.history.Get(ctx, migrationID)
	if err != nil {
		return err
	}

	validation, err := a.validator.ValidateRollback(ctx, applied)
	if err != nil {
		return err
	}
	if !validation.Valid {
		return fmt.Errorf("rollback of migration '%s' blocked: %v", migrationID, validation.Blockers)
	}
	for _, w := range validation.Warnings {
		log.Warn("Rollback warning.", zap.String("warning", w))
	}

	start := time.Now()
	execResult := a.executor.ExecuteRollbackSQL(ctx, applied.Rollback, ExecOptions{})
	if !execResult.Success {
		return fmt.Errorf("rollback of migration '%s' failed: %v", migrationID, execResult.Errors)
	}

	if applied.Diff != nil {
		a.engine.ClearCache(applied.Diff.Table)
	} else {
		a.engine.ClearCache()
	}

	info := &RollbackInfo{
		RolledBackAt:  time.Now().UTC(),
		RolledBackBy:  currentUser(),
		Reason:        reason,
		ExecutionTime: time.Since(start),
	}
	if err := a.history.UpdateStatus(ctx, migrationID, StatusRolledBack, info); err != nil {
		return fmt.Errorf("rollback executed but status update failed: %w", err)
	}

	log.Info("Migration rolled back.",
		zap.String("reason", reason), zap.Duration("duration", info.ExecutionTime))
	return nil
}

// GetMigrationHistory adalah pass-through ke HistoryManager.
func (a *MigrationApplier) GetMigrationHistory(ctx context.Context, filter HistoryFilter) ([]*AppliedMigration, error) {
	return a.history.List(ctx, filter)
}

// GetPendingMigrations mengembalikan DocType yang diff-nya non-kosong, yakni
// yang masih punya migrasi tertunda.
func (a *MigrationApplier) GetPendingMigrations(ctx context.Context) ([]string, error) {
	diffs, err := a.engine.CompareAllSchemas(ctx)
	if err != nil {
		return nil, err
	}
	pending := make([]string, 0)
	for name, diff := range diffs {
		if !diff.IsEmpty() {
			pending = append(pending, name)
		}
	}
	sort.Strings(pending)
	return pending, nil
}

func (a *MigrationApplier) buildMigration(docType string, diff *SchemaDiff, sqlResult *MigrationSQL, opts SyncOptions) *Migration {
	now := time.Now().UTC()
	// Migrasi destruktif wajib punya backup sebelum SQL forward berjalan;
	// hanya Force yang boleh melewatinya.
	requiresBackup := sqlResult.Destructive && !opts.Force
	return &Migration{
		ID:             fmt.Sprintf("%s_%d", sanitizeForFilename(docType), now.UnixNano()),
		DocType:        docType,
		Timestamp:      now,
		Diff:           diff,
		Forward:        sqlResult.Forward,
		Rollback:       sqlResult.Rollback,
		Version:        1,
		Destructive:    sqlResult.Destructive,
		RequiresBackup: requiresBackup,
		Metadata:       sqlResult.Metadata,
	}
}

func (a *MigrationApplier) buildApplied(m *Migration, backupPath string, affectedRows int64, duration time.Duration) *AppliedMigration {
	m.Applied = true
	return &AppliedMigration{
		Migration:     *m,
		AppliedAt:     time.Now().UTC(),
		ExecutionTime: duration,
		AffectedRows:  affectedRows,
		BackupPath:    backupPath,
		AppliedBy:     currentUser(),
		Status:        StatusApplied,
	}
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}
