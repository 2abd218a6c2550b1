package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const historyTableName = "_migration_log"

// migrationLogRow adalah model GORM untuk tabel riwayat. Payload terstruktur
// (statement, warning, metadata) disimpan sebagai JSON.
type migrationLogRow struct {
	MigrationID    string     `gorm:"column:migration_id;primaryKey;size:140"`
	DocType        string     `gorm:"column:doctype;size:140;index"`
	Status         string     `gorm:"column:status;size:20;index"`
	Version        int        `gorm:"column:version"`
	Destructive    bool       `gorm:"column:destructive"`
	ForwardJSON    string     `gorm:"column:forward_sql;type:text"`
	RollbackJSON   string     `gorm:"column:rollback_sql;type:text"`
	MetadataJSON   string     `gorm:"column:metadata;type:text"`
	BackupPath     string     `gorm:"column:backup_path;size:512"`
	AppliedAt      time.Time  `gorm:"column:applied_at"`
	AppliedBy      string     `gorm:"column:applied_by;size:140"`
	ExecutionMS    int64      `gorm:"column:execution_ms"`
	AffectedRows   int64      `gorm:"column:affected_rows"`
	RolledBackAt   *time.Time `gorm:"column:rolled_back_at"`
	RolledBackBy   string     `gorm:"column:rolled_back_by;size:140"`
	RollbackReason string     `gorm:"column:rollback_reason;type:text"`
}

func (migrationLogRow) TableName() string { return historyTableName }

// GormHistoryManager menyimpan riwayat migrasi lewat GORM. Record hanya
// dipanggil applier setelah statement migrasinya commit; tabel riwayat
// sendiri di-AutoMigrate saat konstruksi.
type GormHistoryManager struct {
	orm    *gorm.DB
	logger *zap.Logger
}

var _ HistoryManager = (*GormHistoryManager)(nil)

func NewGormHistoryManager(orm *gorm.DB, logger *zap.Logger) (*GormHistoryManager, error) {
	if err := orm.AutoMigrate(&migrationLogRow{}); err != nil {
		return nil, fmt.Errorf("failed to prepare history table '%s': %w", historyTableName, err)
	}
	return &GormHistoryManager{orm: orm, logger: logger.Named("history-manager")}, nil
}

func (h *GormHistoryManager) Record(ctx context.Context, applied *AppliedMigration) error {
	row, err := rowFromApplied(applied)
	if err != nil {
		return err
	}
	if err := h.orm.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to record migration '%s': %w", applied.ID, err)
	}
	h.logger.Info("Migration recorded in history.",
		zap.String("migration_id", applied.ID),
		zap.String("doctype", applied.DocType),
		zap.String("status", string(applied.Status)))
	return nil
}

func (h *GormHistoryManager) IsApplied(ctx context.Context, migrationID string) (bool, error) {
	var count int64
	err := h.orm.WithContext(ctx).Model(&migrationLogRow{}).
		Where("migration_id = ? AND status = ?", migrationID, string(StatusApplied)).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check migration '%s': %w", migrationID, err)
	}
	return count > 0, nil
}

func (h *GormHistoryManager) Get(ctx context.Context, migrationID string) (*AppliedMigration, error) {
	var row migrationLogRow
	err := h.orm.WithContext(ctx).Where("migration_id = ?", migrationID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("migration '%s' not found in history", migrationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load migration '%s': %w", migrationID, err)
	}
	return appliedFromRow(&row)
}

func (h *GormHistoryManager) List(ctx context.Context, filter HistoryFilter) ([]*AppliedMigration, error) {
	q := h.orm.WithContext(ctx).Model(&migrationLogRow{}).Order("applied_at DESC")
	if filter.DocType != "" {
		q = q.Where("doctype = ?", filter.DocType)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var rows []migrationLogRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list migration history: %w", err)
	}

	out := make([]*AppliedMigration, 0, len(rows))
	for i := range rows {
		applied, err := appliedFromRow(&rows[i])
		if err != nil {
			h.logger.Warn("Skipping undecodable history row.",
				zap.String("migration_id", rows[i].MigrationID), zap.Error(err))
			continue
		}
		out = append(out, applied)
	}
	return out, nil
}

func (h *GormHistoryManager) UpdateStatus(ctx context.Context, migrationID string, status MigrationStatus, info *RollbackInfo) error {
	updates := map[string]interface{}{"status": string(status)}
	if info != nil {
		updates["rolled_back_at"] = info.RolledBackAt
		updates["rolled_back_by"] = info.RolledBackBy
		updates["rollback_reason"] = info.Reason
	}

	res := h.orm.WithContext(ctx).Model(&migrationLogRow{}).
		Where("migration_id = ?", migrationID).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update status of migration '%s': %w", migrationID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("migration '%s' not found in history", migrationID)
	}
	h.logger.Info("Migration status updated.",
		zap.String("migration_id", migrationID), zap.String("status", string(status)))
	return nil
}

func rowFromApplied(applied *AppliedMigration) (*migrationLogRow, error) {
	forward, err := json.Marshal(applied.Forward)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize forward statements: %w", err)
	}
	rollback, err := json.Marshal(applied.Rollback)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize rollback statements: %w", err)
	}
	metadata, err := json.Marshal(applied.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize metadata: %w", err)
	}

	row := &migrationLogRow{
		MigrationID:  applied.ID,
		DocType:      applied.DocType,
		Status:       string(applied.Status),
		Version:      applied.Version,
		Destructive:  applied.Destructive,
		ForwardJSON:  string(forward),
		RollbackJSON: string(rollback),
		MetadataJSON: string(metadata),
		BackupPath:   applied.BackupPath,
		AppliedAt:    applied.AppliedAt,
		AppliedBy:    applied.AppliedBy,
		ExecutionMS:  applied.ExecutionTime.Milliseconds(),
		AffectedRows: applied.AffectedRows,
	}
	if applied.RollbackInfo != nil {
		t := applied.RollbackInfo.RolledBackAt
		row.RolledBackAt = &t
		row.RolledBackBy = applied.RollbackInfo.RolledBackBy
		row.RollbackReason = applied.RollbackInfo.Reason
	}
	return row, nil
}

func appliedFromRow(row *migrationLogRow) (*AppliedMigration, error) {
	applied := &AppliedMigration{
		Migration: Migration{
			ID:          row.MigrationID,
			DocType:     row.DocType,
			Version:     row.Version,
			Destructive: row.Destructive,
			Applied:     row.Status == string(StatusApplied),
		},
		AppliedAt:     row.AppliedAt,
		AppliedBy:     row.AppliedBy,
		ExecutionTime: time.Duration(row.ExecutionMS) * time.Millisecond,
		AffectedRows:  row.AffectedRows,
		BackupPath:    row.BackupPath,
		Status:        MigrationStatus(row.Status),
	}

	if row.ForwardJSON != "" {
		if err := json.Unmarshal([]byte(row.ForwardJSON), &applied.Forward); err != nil {
			return nil, fmt.Errorf("failed to decode forward statements: %w", err)
		}
	}
	if row.RollbackJSON != "" {
		if err := json.Unmarshal([]byte(row.RollbackJSON), &applied.Rollback); err != nil {
			return nil, fmt.Errorf("failed to decode rollback statements: %w", err)
		}
	}
	if row.MetadataJSON != "" && row.MetadataJSON != "null" {
		if err := json.Unmarshal([]byte(row.MetadataJSON), &applied.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	if row.RolledBackAt != nil {
		applied.RollbackInfo = &RollbackInfo{
			RolledBackAt: *row.RolledBackAt,
			RolledBackBy: row.RolledBackBy,
			Reason:       row.RollbackReason,
		}
	}
	return applied, nil
}
