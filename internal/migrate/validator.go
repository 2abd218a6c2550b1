package migrate

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// MigrationValidator melakukan pre-flight check sebelum eksekusi: migrasi
// destruktif tanpa backup diblokir, rollback tanpa statement diblokir,
// rollback migrasi non-APPLIED diblokir. Warning tidak memblokir.
type MigrationValidator struct {
	db     Database
	logger *zap.Logger
}

var _ Validator = (*MigrationValidator)(nil)

func NewMigrationValidator(db Database, logger *zap.Logger) *MigrationValidator {
	return &MigrationValidator{db: db, logger: logger.Named("migration-validator")}
}

func (v *MigrationValidator) ValidateMigration(ctx context.Context, m *Migration) (*ValidationResult, error) {
	result := &ValidationResult{Valid: true}
	log := v.logger.With(zap.String("migration_id", m.ID), zap.String("doctype", m.DocType))

	if len(m.Forward) == 0 {
		result.Valid = false
		result.Blockers = append(result.Blockers, "migration carries no forward statements")
		return result, nil
	}
	if m.Destructive && !m.RequiresBackup {
		// Caller memaksa lewat tanpa backup; boleh, tapi tercatat.
		result.Warnings = append(result.Warnings, "destructive migration will run without a backup; lost data cannot be restored")
	}
	if len(m.Rollback) == 0 {
		result.Warnings = append(result.Warnings, "migration has no rollback statements; rollback will not be possible")
	}

	for i, stmt := range m.Forward {
		if strings.TrimSpace(stmt.SQL) == "" {
			result.Valid = false
			result.Blockers = append(result.Blockers, fmt.Sprintf("forward statement %d is empty", i+1))
		}
	}

	result.Difficulty = v.scoreDifficulty(m)
	log.Debug("Migration validated.",
		zap.Bool("valid", result.Valid),
		zap.Int("blockers", len(result.Blockers)),
		zap.Int("difficulty", result.Difficulty))
	return result, nil
}

func (v *MigrationValidator) ValidateRollback(ctx context.Context, applied *AppliedMigration) (*ValidationResult, error) {
	result := &ValidationResult{Valid: true}
	log := v.logger.With(zap.String("migration_id", applied.ID))

	if applied.Status != StatusApplied {
		result.Valid = false
		result.Blockers = append(result.Blockers,
			fmt.Sprintf("migration is in status '%s'; only APPLIED migrations can be rolled back", applied.Status))
	}
	if len(applied.Rollback) == 0 {
		result.Valid = false
		result.Blockers = append(result.Blockers, "migration has no recorded rollback statements")
	}

	// Tabel target harus masih ada, kecuali rollback-nya memang membuatnya.
	if result.Valid && applied.DocType != "" {
		recreates := false
		for _, stmt := range applied.Rollback {
			if stmt.Type == StatementCreateTable {
				recreates = true
				break
			}
		}
		if !recreates && len(applied.Rollback) > 0 {
			table := applied.Rollback[0].Table
			if table != "" {
				exists, err := v.db.TableExists(ctx, table)
				if err != nil {
					return nil, fmt.Errorf("failed to check table '%s' before rollback: %w", table, err)
				}
				if !exists {
					result.Valid = false
					result.Blockers = append(result.Blockers,
						fmt.Sprintf("table '%s' no longer exists; rollback cannot proceed", table))
				}
			}
		}
	}

	if applied.Destructive && applied.BackupPath == "" {
		result.Warnings = append(result.Warnings,
			"original migration was destructive but no backup path is recorded; lost data cannot be restored")
	}

	result.Difficulty = len(applied.Rollback)
	log.Debug("Rollback validated.",
		zap.Bool("valid", result.Valid), zap.Int("blockers", len(result.Blockers)))
	return result, nil
}

// scoreDifficulty adalah heuristik kasar untuk estimasi: rebuild dan copy
// data jauh lebih berat daripada ALTER tunggal.
func (v *MigrationValidator) scoreDifficulty(m *Migration) int {
	score := 0
	for _, stmt := range m.Forward {
		switch stmt.Type {
		case StatementCopyData:
			score += 5
		case StatementCreateTable, StatementDropTable:
			score += 3
		default:
			score++
		}
	}
	return score
}
