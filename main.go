// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v8"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/arwahdevops/docmigrate/internal/config"
	"github.com/arwahdevops/docmigrate/internal/db"
	"github.com/arwahdevops/docmigrate/internal/logger"
	"github.com/arwahdevops/docmigrate/internal/metrics"
	"github.com/arwahdevops/docmigrate/internal/migrate"
	"github.com/arwahdevops/docmigrate/internal/schemasource"
	"github.com/arwahdevops/docmigrate/internal/secrets"
	"github.com/arwahdevops/docmigrate/internal/server"
)

var (
	docTypeDirOverride      string
	backupDirOverride       string
	dryRunOverride          bool
	forceOverride           bool
	continueOnErrorOverride bool
	singleDocType           string
	rollbackID              string
	rollbackReason          string
	// Tambahkan flag lain yang ingin di-override di sini
)

func main() {
	// Definisikan flag CLI
	flag.StringVar(&docTypeDirOverride, "doctype-dir", "", "Override DOCTYPE_DIR (directory containing DocType JSON definitions)")
	flag.StringVar(&backupDirOverride, "backup-dir", "", "Override BACKUP_DIR")
	flag.BoolVar(&dryRunOverride, "dry-run", false, "Force DRY_RUN=true (compute and log SQL without executing)")
	flag.BoolVar(&forceOverride, "force", false, "Force FORCE=true (skip pre-migration backups for destructive changes)")
	flag.BoolVar(&continueOnErrorOverride, "continue-on-error", false, "Force CONTINUE_ON_ERROR=true")
	flag.StringVar(&singleDocType, "doctype", "", "Synchronize only this DocType instead of sweeping all definitions")
	flag.StringVar(&rollbackID, "rollback", "", "Roll back a previously applied migration by its id instead of syncing")
	flag.StringVar(&rollbackReason, "rollback-reason", "", "Reason recorded in history when -rollback is used")
	flag.Parse()

	// 1. Load environment variables (.env overrides)
	if err := godotenv.Overload(".env"); err != nil {
		stdlog.Printf("Warning: Could not load .env file: %v. Relying on environment variables.\n", err)
	}

	// 2. Initial config loading untuk mendapatkan setting logger
	preCfg := &struct {
		EnableJsonLogging bool `env:"ENABLE_JSON_LOGGING" envDefault:"false"`
		DebugMode         bool `env:"DEBUG_MODE" envDefault:"false"`
	}{}
	if err := env.Parse(preCfg); err != nil {
		stdlog.Fatalf("Failed to parse pre-configuration for logger: %v", err)
	}

	// 3. Initialize Zap logger
	if err := logger.Init(preCfg.DebugMode, preCfg.EnableJsonLogging); err != nil {
		stdlog.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Log.Sync() }()

	// 4. Load and validate full configuration dari environment variables
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatal("Configuration loading error from environment", zap.Error(err))
	}

	// --- Terapkan Override dari Flag CLI SETELAH config.Load() ---
	applyCliOverrides(cfg)

	logLoadedConfig(cfg) // Log konfigurasi final

	// 5. Setup context untuk graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 6. Initialize Metrics Store
	metricsStore := metrics.NewMetricsStore()

	// 7. Initialize Secret Manager (Vault, opsional)
	vaultMgr, vaultErr := secrets.NewVaultManager(cfg, logger.Log)
	if vaultErr != nil {
		if cfg.VaultEnabled {
			logger.Log.Fatal("Failed to initialize Vault secret manager", zap.Error(vaultErr))
		} else {
			logger.Log.Warn("Could not initialize Vault secret manager (Vault not enabled or config error)", zap.Error(vaultErr))
		}
	}
	var secretManager secrets.SecretManager
	if vaultMgr != nil && vaultMgr.IsEnabled() {
		secretManager = vaultMgr
	}

	// 8. Load Credentials (SQLite tidak butuh kredensial)
	if strings.ToLower(cfg.DB.Dialect) != "sqlite" {
		logger.Log.Info("Loading database credentials...")
		creds, credsErr := loadCredentials(ctx, cfg, secretManager)
		if credsErr != nil {
			logger.Log.Fatal("Failed to load database credentials", zap.Error(credsErr))
		}
		cfg.DB.User = creds.Username
		cfg.DB.Password = creds.Password
	}

	// 9. Initialize database connection with retry
	logger.Log.Info("Connecting to database...")
	conn, err := connectDBWithRetry(ctx, cfg.DB, cfg.MaxRetries, cfg.RetryInterval, metricsStore)
	if err != nil {
		logger.Log.Fatal("Failed to establish database connection", zap.Error(err))
	}
	defer func() {
		logger.Log.Info("Closing database connection...")
		if err := conn.Close(); err != nil {
			logger.Log.Error("Error closing database", zap.Error(err))
		}
	}()

	// 10. Optimize connection pool
	if err := conn.Optimize(cfg.ConnPoolSize, cfg.ConnMaxLifetime); err != nil {
		logger.Log.Warn("Failed to optimize DB pool", zap.Error(err))
	}

	// 11. Start HTTP Server (metrics, health, pprof)
	go server.RunHTTPServer(ctx, cfg, metricsStore, conn, logger.Log)

	// 12. Wire the migration pipeline
	applier, backups, buildErr := buildApplier(cfg, conn, metricsStore)
	if buildErr != nil {
		logger.Log.Fatal("Failed to build migration pipeline", zap.Error(buildErr))
	}

	// Mode rollback: jalankan satu rollback lalu keluar.
	if rollbackID != "" {
		exitCode := runRollback(ctx, applier, metricsStore)
		logger.Log.Info("Rollback finished. Exiting.", zap.Int("exit_code", exitCode))
		os.Exit(exitCode)
	}

	// 13. Run the synchronization sweep
	syncOpts := migrate.SyncOptions{
		DryRun:          cfg.DryRun,
		Force:           cfg.Force,
		Backup:          cfg.BackupEnabled,
		ContinueOnError: cfg.ContinueOnError,
	}
	metricsStore.MigrationRunning.Set(1)
	var results *migrate.SyncAllResult
	if singleDocType != "" {
		logger.Log.Info("Starting declarative schema synchronization for a single doctype...",
			zap.String("doctype", singleDocType))
		start := time.Now()
		res := applier.SyncDocType(ctx, singleDocType, syncOpts)
		results = &migrate.SyncAllResult{
			Success:  res.Success,
			Errors:   make(map[string]error),
			Results:  map[string]*migrate.SyncResult{singleDocType: res},
			Duration: time.Since(start),
		}
		if res.Success {
			results.Successful = []string{singleDocType}
		} else {
			results.Failed = []string{singleDocType}
			if len(res.Errors) > 0 {
				results.Errors[singleDocType] = res.Errors[0]
			}
		}
	} else {
		logger.Log.Info("Starting declarative schema synchronization sweep...")
		results = applier.SyncAllDocTypes(ctx, syncOpts)
	}
	metricsStore.MigrationRunning.Set(0)
	metricsStore.SweepDuration.Observe(results.Duration.Seconds())

	// 14. Process and log results
	logger.Log.Info("Synchronization sweep finished. Processing results...")
	exitCode := processResults(results, metricsStore)

	// 15. Refresh pending gauge & prune old backups
	if pending, pendErr := applier.GetPendingMigrations(ctx); pendErr == nil {
		metricsStore.PendingMigrationsGauge.Set(float64(len(pending)))
	} else {
		logger.Log.Warn("Could not compute pending migrations after sweep", zap.Error(pendErr))
	}
	if removed, cleanErr := backups.CleanupOldBackups(cfg.BackupRetentionDays); cleanErr != nil {
		logger.Log.Warn("Backup retention cleanup failed", zap.Error(cleanErr))
	} else if removed > 0 {
		logger.Log.Info("Pruned expired backups",
			zap.Int("removed", removed),
			zap.Int("retention_days", cfg.BackupRetentionDays))
	}

	// 16. Wait for shutdown or completion
	if ctx.Err() == nil {
		logger.Log.Info("Main synchronization logic completed. Waiting for shutdown signal (Ctrl+C or SIGTERM)...")
		<-ctx.Done() // Block until context is cancelled
	} else {
		logger.Log.Info("Shutdown signal received during synchronization. Proceeding with cleanup.")
	}

	logger.Log.Info("Shutdown complete. Exiting.", zap.Int("exit_code", exitCode))
	os.Exit(exitCode)
}

// applyCliOverrides menerapkan nilai dari flag CLI ke struct Config.
func applyCliOverrides(cfg *config.Config) {
	if docTypeDirOverride != "" {
		logger.Log.Info("Overriding DOCTYPE_DIR with CLI flag", zap.String("env_value", cfg.DocTypeDir), zap.String("cli_value", docTypeDirOverride))
		cfg.DocTypeDir = docTypeDirOverride
	}
	if backupDirOverride != "" {
		logger.Log.Info("Overriding BACKUP_DIR with CLI flag", zap.String("env_value", cfg.BackupDir), zap.String("cli_value", backupDirOverride))
		cfg.BackupDir = backupDirOverride
	}
	if dryRunOverride {
		logger.Log.Info("Overriding DRY_RUN with CLI flag", zap.Bool("env_value", cfg.DryRun), zap.Bool("cli_value", true))
		cfg.DryRun = true
	}
	if forceOverride {
		logger.Log.Info("Overriding FORCE with CLI flag", zap.Bool("env_value", cfg.Force), zap.Bool("cli_value", true))
		cfg.Force = true
	}
	if continueOnErrorOverride {
		logger.Log.Info("Overriding CONTINUE_ON_ERROR with CLI flag", zap.Bool("env_value", cfg.ContinueOnError), zap.Bool("cli_value", true))
		cfg.ContinueOnError = true
	}
	// Tambahkan override flag lain di sini jika ada
}

// logLoadedConfig mencatat konfigurasi final yang digunakan.
func logLoadedConfig(cfg *config.Config) {
	passSource := "not set"
	if cfg.DB.Password != "" {
		passSource = "env var"
	} else if cfg.VaultEnabled && cfg.VaultSecretPath != "" {
		passSource = "vault"
	}

	logger.Log.Info("Final configuration in use",
		zap.String("doctype_dir", cfg.DocTypeDir),
		zap.Bool("dry_run", cfg.DryRun), zap.Bool("force", cfg.Force), zap.Bool("continue_on_error", cfg.ContinueOnError),
		zap.Duration("table_timeout", cfg.TableTimeout), zap.String("table_prefix", cfg.TablePrefix),
		zap.Bool("compare_case_sensitive", cfg.CaseSensitive), zap.Bool("compare_ignore_defaults", cfg.IgnoreDefaultValues), zap.Bool("compare_ignore_lengths", cfg.IgnoreLengthDifferences),
		zap.Bool("engine_supports_drop_column", cfg.SupportsDropColumn), zap.Bool("engine_supports_modify_column", cfg.SupportsModifyColumn), zap.Bool("engine_supports_add_unique_column", cfg.SupportsAddUniqueColumn),
		zap.String("backup_dir", cfg.BackupDir), zap.Bool("backup_enabled", cfg.BackupEnabled), zap.Int("backup_retention_days", cfg.BackupRetentionDays),
		zap.String("db_dialect", cfg.DB.Dialect), zap.String("db_host", cfg.DB.Host), zap.Int("db_port", cfg.DB.Port), zap.String("db_user", cfg.DB.User), zap.String("db_password_source", passSource), zap.String("db_name", cfg.DB.DBName), zap.String("db_sslmode", cfg.DB.SSLMode),
		zap.Int("max_retries", cfg.MaxRetries), zap.Duration("retry_interval", cfg.RetryInterval),
		zap.Int("conn_pool_size", cfg.ConnPoolSize), zap.Duration("conn_max_lifetime", cfg.ConnMaxLifetime),
		zap.Bool("json_logging", cfg.EnableJsonLogging), zap.Bool("enable_pprof", cfg.EnablePprof), zap.Int("metrics_port", cfg.MetricsPort), zap.Bool("debug_mode", cfg.DebugMode),
		zap.Bool("vault_enabled", cfg.VaultEnabled), zap.String("vault_addr", cfg.VaultAddr), zap.Bool("vault_token_present", cfg.VaultToken != ""),
		zap.String("vault_secret_path", cfg.VaultSecretPath), zap.String("vault_cacert", cfg.VaultCACert), zap.Bool("vault_skip_verify", cfg.VaultSkipVerify),
	)
}

// loadCredentials memuat kredensial dari env var, atau dari Vault bila
// DB_PASSWORD tidak di-set dan VAULT_SECRET_PATH dikonfigurasi.
func loadCredentials(ctx context.Context, cfg *config.Config, sm secrets.SecretManager) (*secrets.Credentials, error) {
	log := logger.Log.Named("credentials")

	if cfg.DB.Password != "" {
		log.Info("Using password directly from environment variable for DB.")
		if cfg.DB.User == "" {
			return nil, fmt.Errorf("password provided via env var, but username (DB_USER) is missing")
		}
		return &secrets.Credentials{Username: cfg.DB.User, Password: cfg.DB.Password}, nil
	}

	if cfg.VaultSecretPath == "" || sm == nil {
		return nil, fmt.Errorf("could not load credentials. Ensure DB_PASSWORD or Vault (VAULT_ENABLED=true with VAULT_SECRET_PATH) is configured correctly")
	}

	log.Info("Retrieving credentials from Vault", zap.String("path", cfg.VaultSecretPath))
	getCtx, cancel := context.WithTimeout(ctx, 15*time.Second) // Timeout untuk ambil secret
	creds, err := sm.GetCredentials(getCtx, cfg.VaultSecretPath, cfg.VaultUsernameKey, cfg.VaultPasswordKey)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve credentials from Vault at '%s': %w", cfg.VaultSecretPath, err)
	}
	if creds.Password == "" {
		return nil, fmt.Errorf("retrieved secret at '%s', but password field is empty", cfg.VaultSecretPath)
	}
	// Jika username dari secret kosong, gunakan dari config DB (env var).
	if creds.Username == "" {
		log.Warn("Username field empty in retrieved secret. Falling back to DB config username.",
			zap.String("db_config_user", cfg.DB.User))
		creds.Username = cfg.DB.User
		if creds.Username == "" {
			return nil, fmt.Errorf("password retrieved, but username is missing in both secret and DB config (DB_USER)")
		}
	}
	log.Info("Successfully retrieved credentials from Vault.")
	return creds, nil
}

// connectDBWithRetry mencoba menghubungkan ke DB dengan logika retry.
func connectDBWithRetry(ctx context.Context, dbCfg config.DatabaseConfig, maxRetries int, retryInterval time.Duration, metricsStore *metrics.Store) (*db.Connector, error) {
	gl := logger.GetGormLogger() // GORM logger wrapper
	var lastErr error

	dsn, dsnErr := dbCfg.DSN()
	if dsnErr != nil {
		metricsStore.MigrationErrorsTotal.WithLabelValues("connection", "_").Inc()
		return nil, dsnErr
	}

	for i := 0; i <= maxRetries; i++ {
		attemptStartTime := time.Now()
		// Tunggu sebelum retry (kecuali percobaan pertama)
		if i > 0 {
			logger.Log.Warn("Retrying database connection",
				zap.Int("attempt", i+1),
				zap.Int("max_attempts", maxRetries+1),
				zap.Duration("wait_interval", retryInterval),
				zap.NamedError("previous_error", lastErr))
			timer := time.NewTimer(retryInterval)
			select {
			case <-timer.C:
				// Lanjutkan retry
			case <-ctx.Done():
				timer.Stop()
				metricsStore.MigrationErrorsTotal.WithLabelValues("connection", "_").Inc()
				return nil, fmt.Errorf("context cancelled while waiting to retry connection (attempt %d): %w; last error: %v", i+1, ctx.Err(), lastErr)
			}
		}

		logger.Log.Info("Attempting to connect",
			zap.String("dialect", dbCfg.Dialect),
			zap.String("host", dbCfg.Host),
			zap.Int("port", dbCfg.Port),
			zap.String("dbname", dbCfg.DBName),
			zap.Int("attempt", i+1))

		conn, err := db.New(dbCfg.Dialect, dsn, gl)
		if err != nil {
			lastErr = fmt.Errorf("connect attempt %d/%d failed: %w", i+1, maxRetries+1, err)
			continue
		}

		// Coba ping setelah koneksi berhasil dibuat
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		pingErr := conn.Ping(pingCtx)
		pingCancel()
		if pingErr != nil {
			lastErr = fmt.Errorf("ping attempt %d/%d failed: %w", i+1, maxRetries+1, pingErr)
			_ = conn.Close()
			continue
		}

		logger.Log.Info("Database connection successful",
			zap.Duration("connect_duration", time.Since(attemptStartTime)))
		return conn, nil
	}

	metricsStore.MigrationErrorsTotal.WithLabelValues("connection", "_").Inc()
	return nil, fmt.Errorf("failed to connect to %s database (%s) after %d attempts: %w", dbCfg.Dialect, dbCfg.DBName, maxRetries+1, lastErr)
}

// buildApplier merangkai seluruh pipeline migrasi dari konfigurasi.
func buildApplier(cfg *config.Config, conn *db.Connector, metricsStore *metrics.Store) (*migrate.MigrationApplier, migrate.BackupManager, error) {
	database := db.NewGormDatabase(conn, logger.Log)

	source := schemasource.NewJSONDirSource(cfg.DocTypeDir, logger.Log)
	if err := source.Load(); err != nil {
		return nil, nil, fmt.Errorf("failed to load doctype definitions from %s: %w", cfg.DocTypeDir, err)
	}

	genCfg := migrate.DefaultGeneratorConfig()
	genCfg.TablePrefix = cfg.TablePrefix
	genCfg.Capabilities = migrate.EngineCapabilities{
		SupportsDropColumn:      cfg.SupportsDropColumn,
		SupportsModifyColumn:    cfg.SupportsModifyColumn,
		SupportsAddUniqueColumn: cfg.SupportsAddUniqueColumn,
	}
	gen := migrate.NewSQLGenerator(genCfg, logger.Log)

	engine := migrate.NewSchemaComparisonEngine(database, source, gen, migrate.CompareOptions{
		CaseSensitive:           cfg.CaseSensitive,
		IgnoreDefaultValues:     cfg.IgnoreDefaultValues,
		IgnoreLengthDifferences: cfg.IgnoreLengthDifferences,
	}, logger.Log)

	executor := migrate.NewMigrationExecutor(database, logger.Log)
	executor.SetMetrics(metricsStore)

	backups, err := migrate.NewMigrationBackupManager(database, gen, cfg.BackupDir, logger.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize backup manager: %w", err)
	}
	backups.SetMetrics(metricsStore)

	history, err := migrate.NewGormHistoryManager(conn.DB, logger.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize history manager: %w", err)
	}

	validator := migrate.NewMigrationValidator(database, logger.Log)

	applier := migrate.NewMigrationApplier(migrate.ApplierDeps{
		Engine:    engine,
		Generator: gen,
		Executor:  executor,
		Backups:   backups,
		History:   history,
		Validator: validator,
		Source:    source,
	}, logger.Log)

	return applier, backups, nil
}

// runRollback menjalankan rollback satu migrasi berdasarkan flag -rollback.
func runRollback(ctx context.Context, applier *migrate.MigrationApplier, metricsStore *metrics.Store) int {
	reason := rollbackReason
	if reason == "" {
		reason = "manual rollback via CLI"
	}
	logger.Log.Info("Rolling back migration",
		zap.String("migration_id", rollbackID),
		zap.String("reason", reason))

	if err := applier.RollbackMigration(ctx, rollbackID, reason); err != nil {
		metricsStore.RollbacksTotal.WithLabelValues("failure").Inc()
		logger.Log.Error("Rollback FAILED.", zap.String("migration_id", rollbackID), zap.Error(err))
		return 1
	}
	metricsStore.RollbacksTotal.WithLabelValues("success").Inc()
	logger.Log.Info("Rollback SUCCEEDED.", zap.String("migration_id", rollbackID))
	return 0
}

// processResults memproses hasil sweep dan menentukan exit code.
func processResults(results *migrate.SyncAllResult, metricsStore *metrics.Store) (exitCode int) {
	successCount := 0
	noChangeCount := 0
	failCount := 0
	totalDocTypes := len(results.Results)

	if totalDocTypes == 0 {
		if err, ok := results.Errors["_list"]; ok {
			logger.Log.Error("Sweep failed before any doctype was processed.", zap.Error(err))
			return 1
		}
		logger.Log.Warn("Sweep finished, but no doctype definitions were found.")
		return 0 // Tidak ada error, hanya tidak ada pekerjaan
	}

	var failedDocTypes []string
	for docType, res := range results.Results {
		fields := []zap.Field{
			zap.String("doctype", docType),
			zap.Duration("duration", res.Duration),
			zap.Bool("dry_run", res.DryRun),
			zap.Bool("no_changes", res.NoChanges),
			zap.Int64("affected_rows", res.AffectedRows),
		}
		if res.MigrationID != "" {
			fields = append(fields, zap.String("migration_id", res.MigrationID))
		}
		if res.BackupPath != "" {
			fields = append(fields, zap.String("backup_path", res.BackupPath))
		}
		if len(res.Warnings) > 0 {
			fields = append(fields, zap.Strings("warnings", res.Warnings))
		}
		for i, e := range res.Errors {
			fields = append(fields, zap.NamedError(fmt.Sprintf("error_%d", i+1), e))
		}

		metricsStore.MigrationDuration.WithLabelValues(docType).Observe(res.Duration.Seconds())
		level := zap.InfoLevel
		statusMsg := "DocType synchronization SUCCEEDED."

		switch {
		case !res.Success:
			failCount++
			failedDocTypes = append(failedDocTypes, docType)
			level = zap.ErrorLevel
			statusMsg = "DocType synchronization FAILED."
			metricsStore.MigrationErrorsTotal.WithLabelValues("execute", docType).Inc()
		case res.NoChanges:
			noChangeCount++
			statusMsg = "DocType already in sync. No changes applied."
		default:
			successCount++
			metricsStore.MigrationSuccessTotal.WithLabelValues(docType).Inc()
			metricsStore.RowsAffectedTotal.WithLabelValues(docType).Add(float64(res.AffectedRows))
		}
		logger.Log.Check(level, statusMsg).Write(fields...)
	}

	logger.Log.Info("-------------------- Synchronization Summary --------------------",
		zap.Int("total_doctypes_evaluated", totalDocTypes),
		zap.Int("doctypes_migrated", successCount),
		zap.Int("doctypes_already_in_sync", noChangeCount),
		zap.Int("doctypes_failed", failCount),
		zap.Duration("sweep_duration", results.Duration),
	)
	if len(failedDocTypes) > 0 {
		logger.Log.Error("Synchronization failures occurred for doctypes", zap.Strings("doctypes", failedDocTypes))
	}

	if failCount > 0 {
		logger.Log.Error("Overall synchronization: COMPLETED WITH ERRORS.")
		return 1
	}
	logger.Log.Info("Overall synchronization: COMPLETED SUCCESSFULLY.")
	return 0
}
