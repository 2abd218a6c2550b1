package migrate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/arwahdevops/docmigrate/internal/metrics"
)

// MigrationExecutor menjalankan daftar statement migrasi secara transaksional
// dengan granularitas savepoint per statement. Dua mode kegagalan:
//   - continueOnError=false (default): kegagalan pertama me-rollback seluruh
//     transaksi; hasil memuat tepat satu error.
//   - continueOnError=true: statement gagal di-rollback ke savepoint-nya,
//     sisanya tetap jalan, seluruh error diakumulasi.
type MigrationExecutor struct {
	db      Database
	logger  *zap.Logger
	metrics *metrics.Store
}

const defaultSavepointPattern = "migration_sp_%d"
const rollbackSavepointPattern = "rollback_sp_%d"

func NewMigrationExecutor(db Database, logger *zap.Logger) *MigrationExecutor {
	return &MigrationExecutor{db: db, logger: logger.Named("migration-executor")}
}

// SetMetrics memasang metric store; opsional, boleh tidak dipanggil.
func (x *MigrationExecutor) SetMetrics(m *metrics.Store) { x.metrics = m }

// ExecuteInTransaction menjalankan fn dalam satu transaksi baru. Error dari
// fn memicu rollback; commit hanya terjadi bila fn sukses.
func (x *MigrationExecutor) ExecuteInTransaction(ctx context.Context, opts TxOptions, fn func(tx Tx) error) error {
	return x.db.WithTransaction(ctx, opts, fn)
}

// ExecuteMigrationSQL menjalankan statements dalam satu transaksi. Hasilnya
// selalu non-nil; Success=false ditemani minimal satu error.
func (x *MigrationExecutor) ExecuteMigrationSQL(ctx context.Context, statements []Statement, opts ExecOptions) *ExecutionResult {
	if opts.SavepointPattern == "" {
		opts.SavepointPattern = defaultSavepointPattern
	}
	return x.execute(ctx, statements, opts)
}

// ExecuteRollbackSQL menjalankan statement rollback dengan kebijakan lebih
// ketat: isolasi SERIALIZABLE dipaksa dan savepoint selalu aktif, apa pun
// opsi pemanggil.
func (x *MigrationExecutor) ExecuteRollbackSQL(ctx context.Context, statements []Statement, opts ExecOptions) *ExecutionResult {
	opts.IsolationLevel = "SERIALIZABLE"
	opts.CreateSavepoints = true
	opts.SavepointPattern = rollbackSavepointPattern
	return x.execute(ctx, statements, opts)
}

func (x *MigrationExecutor) execute(ctx context.Context, statements []Statement, opts ExecOptions) *ExecutionResult {
	result := &ExecutionResult{Savepoints: make([]Savepoint, 0, len(statements))}
	if len(statements) == 0 {
		result.Success = true
		return result
	}

	log := x.logger.With(
		zap.Int("statement_count", len(statements)),
		zap.Bool("continue_on_error", opts.ContinueOnError),
		zap.Bool("savepoints", opts.CreateSavepoints))
	start := time.Now()

	// Dalam mode continueOnError, statement gagal di-rollback ke
	// savepoint-nya sendiri dan transaksi tetap commit di akhir; error
	// diakumulasi ke hasil, bukan dikembalikan dari closure.
	var accumulated error

	txOpts := TxOptions{IsolationLevel: opts.IsolationLevel, Timeout: opts.Timeout}
	err := x.db.WithTransaction(ctx, txOpts, func(tx Tx) error {
		for i, stmt := range statements {
			if err := ctx.Err(); err != nil {
				return &StatementError{Index: i + 1, SQL: stmt.SQL, Err: err}
			}

			var sp *Savepoint
			if opts.CreateSavepoints {
				var err error
				sp, err = x.createSavepoint(tx, opts.SavepointPattern, i)
				if err != nil {
					return &StatementError{Index: i + 1, SQL: stmt.SQL, Err: err}
				}
				result.Savepoints = append(result.Savepoints, *sp)
			}

			affected, execErr := tx.Exec(ctx, stmt.SQL)
			if execErr != nil {
				stmtErr := &StatementError{Index: i + 1, SQL: stmt.SQL, Err: execErr}
				log.Warn("Statement execution failed.",
					zap.Int("statement_index", i+1),
					zap.String("statement_type", string(stmt.Type)),
					zap.Error(execErr))

				if !opts.ContinueOnError {
					// Error dikembalikan ke WithTransaction -> rollback penuh.
					return stmtErr
				}
				if sp != nil {
					if rbErr := x.rollbackToSavepoint(tx, sp); rbErr != nil {
						return multierr.Append(stmtErr,
							fmt.Errorf("failed to roll back to savepoint '%s': %w", sp.Name, rbErr))
					}
					x.deactivate(result, sp.Name)
					result.Warnings = append(result.Warnings,
						fmt.Sprintf("statement %d rolled back to savepoint '%s'", i+1, sp.Name))
				}
				accumulated = multierr.Append(accumulated, stmtErr)
				continue
			}

			if x.metrics != nil {
				x.metrics.StatementsTotal.WithLabelValues(string(stmt.Type)).Inc()
			}
			if countsAffectedRows(stmt.Type) {
				result.AffectedRows += affected
			}
			if sp != nil {
				if relErr := x.releaseSavepoint(tx, sp); relErr != nil {
					return multierr.Append(
						&StatementError{Index: i + 1, SQL: stmt.SQL, Err: relErr},
						fmt.Errorf("failed to release savepoint '%s'", sp.Name))
				}
				x.deactivate(result, sp.Name)
			}
		}

		return nil
	})

	if err != nil {
		result.Success = false
		result.Errors = multierr.Errors(err)
		log.Debug("Execution rolled back.",
			zap.Int("error_count", len(result.Errors)),
			zap.Duration("duration", time.Since(start)))
		return result
	}
	if accumulated != nil {
		result.Success = false
		result.Errors = multierr.Errors(accumulated)
		log.Debug("Execution committed with skipped statements.",
			zap.Int("error_count", len(result.Errors)),
			zap.Duration("duration", time.Since(start)))
		return result
	}

	result.Success = true
	log.Debug("Execution committed.",
		zap.Int64("affected_rows", result.AffectedRows),
		zap.Duration("duration", time.Since(start)))
	return result
}

// countsAffectedRows: hanya statement manipulasi data yang berkontribusi ke
// AffectedRows. Untuk DDL sebagian driver (SQLite) melaporkan ulang change
// counter statement sebelumnya, sehingga menjumlahkannya menggelembungkan
// hasil.
func countsAffectedRows(t StatementType) bool {
	return t == StatementCopyData
}

// createSavepoint membuat savepoint bernama dari pola (mis. migration_sp_0).
func (x *MigrationExecutor) createSavepoint(tx Tx, pattern string, index int) (*Savepoint, error) {
	name := fmt.Sprintf(pattern, index)
	if err := tx.Savepoint(name); err != nil {
		return nil, fmt.Errorf("failed to create savepoint '%s': %w", name, err)
	}
	return &Savepoint{Name: name, CreatedAt: time.Now(), Active: true}, nil
}

func (x *MigrationExecutor) rollbackToSavepoint(tx Tx, sp *Savepoint) error {
	if err := tx.RollbackToSavepoint(sp.Name); err != nil {
		return err
	}
	sp.Active = false
	return nil
}

func (x *MigrationExecutor) releaseSavepoint(tx Tx, sp *Savepoint) error {
	if err := tx.ReleaseSavepoint(sp.Name); err != nil {
		return err
	}
	sp.Active = false
	return nil
}

// deactivate menandai savepoint pada hasil sebagai tidak lagi aktif.
// Savepoint yang sudah di-release/di-rollback tidak pernah dipakai ulang.
func (x *MigrationExecutor) deactivate(result *ExecutionResult, name string) {
	for i := range result.Savepoints {
		if result.Savepoints[i].Name == name {
			result.Savepoints[i].Active = false
			return
		}
	}
}
