package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Store menampung collector Prometheus untuk proses migrasi.
type Store struct {
	Registry               *prometheus.Registry // Registry non-global
	MigrationRunning       prometheus.Gauge
	SweepDuration          prometheus.Histogram
	MigrationDuration      *prometheus.HistogramVec
	MigrationSuccessTotal  *prometheus.CounterVec
	MigrationErrorsTotal   *prometheus.CounterVec
	StatementsTotal        *prometheus.CounterVec
	RowsAffectedTotal      *prometheus.CounterVec
	BackupsCreatedTotal    *prometheus.CounterVec
	BackupDuration         *prometheus.HistogramVec
	RollbacksTotal         *prometheus.CounterVec
	PendingMigrationsGauge prometheus.Gauge
}

// NewMetricsStore membuat dan meregistrasi seluruh metric.
func NewMetricsStore() *Store {
	registry := prometheus.NewRegistry()

	return &Store{
		Registry: registry,
		MigrationRunning: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "docmigrate_up",
			Help: "Indicates if a migration run is currently active (1 = running, 0 = idle).",
		}),
		SweepDuration: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "docmigrate_sweep_duration_seconds",
			Help:    "Duration of a full synchronization sweep across all doctypes.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 15),
		}),
		MigrationDuration: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docmigrate_migration_duration_seconds",
			Help:    "Duration histogram for migrating individual doctypes.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
		}, []string{"doctype"}),
		MigrationSuccessTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "docmigrate_migration_success_total",
			Help: "Total number of doctypes successfully migrated.",
		}, []string{"doctype"}),
		MigrationErrorsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "docmigrate_errors_total",
			Help: "Total number of migration errors, labeled by stage and doctype.",
		}, []string{"stage", "doctype"}), // Stages: compare, generate, backup, execute, history
		StatementsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "docmigrate_statements_total",
			Help: "Total number of SQL statements executed, labeled by statement type.",
		}, []string{"type"}),
		RowsAffectedTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "docmigrate_rows_affected_total",
			Help: "Total number of rows affected by migrations, labeled by doctype.",
		}, []string{"doctype"}),
		BackupsCreatedTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "docmigrate_backups_created_total",
			Help: "Total number of pre-migration backups created, labeled by kind.",
		}, []string{"kind"}),
		BackupDuration: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docmigrate_backup_duration_seconds",
			Help:    "Duration histogram for backup creation.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		}, []string{"kind"}),
		RollbacksTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "docmigrate_rollbacks_total",
			Help: "Total number of migration rollbacks, labeled by outcome.",
		}, []string{"outcome"}), // Outcomes: success, failure
		PendingMigrationsGauge: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "docmigrate_pending_migrations",
			Help: "Number of doctypes whose physical schema drifted from their definition at last sweep.",
		}),
	}
}
