package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v8"
)

type Config struct {
	// Migration Settings
	DocTypeDir      string        `env:"DOCTYPE_DIR,required"`
	DryRun          bool          `env:"DRY_RUN" envDefault:"false"`
	Force           bool          `env:"FORCE" envDefault:"false"`
	ContinueOnError bool          `env:"CONTINUE_ON_ERROR" envDefault:"false"`
	TableTimeout    time.Duration `env:"TABLE_TIMEOUT" envDefault:"5m"` // Batas waktu satu migrasi (satu tabel)
	TablePrefix     string        `env:"TABLE_PREFIX" envDefault:"tab"`

	// Comparison
	CaseSensitive           bool `env:"COMPARE_CASE_SENSITIVE" envDefault:"false"`
	IgnoreDefaultValues     bool `env:"COMPARE_IGNORE_DEFAULTS" envDefault:"false"`
	IgnoreLengthDifferences bool `env:"COMPARE_IGNORE_LENGTHS" envDefault:"false"`

	// Engine capabilities. Default memodelkan SQLite: tanpa native
	// DROP/MODIFY COLUMN, sehingga perubahan tersebut lewat rebuild.
	SupportsDropColumn      bool `env:"ENGINE_SUPPORTS_DROP_COLUMN" envDefault:"false"`
	SupportsModifyColumn    bool `env:"ENGINE_SUPPORTS_MODIFY_COLUMN" envDefault:"false"`
	SupportsAddUniqueColumn bool `env:"ENGINE_SUPPORTS_ADD_UNIQUE_COLUMN" envDefault:"false"`

	// Backup
	BackupDir           string `env:"BACKUP_DIR" envDefault:"./backups"`
	BackupEnabled       bool   `env:"BACKUP_ENABLED" envDefault:"true"`
	BackupRetentionDays int    `env:"BACKUP_RETENTION_DAYS" envDefault:"30"`

	// Connection Pool & Retry
	ConnPoolSize    int           `env:"CONN_POOL_SIZE" envDefault:"20"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"1h"`
	MaxRetries      int           `env:"MAX_RETRIES" envDefault:"3"`
	RetryInterval   time.Duration `env:"RETRY_INTERVAL" envDefault:"5s"`

	// Observability & Debugging
	DebugMode         bool `env:"DEBUG_MODE" envDefault:"false"`
	EnableJsonLogging bool `env:"ENABLE_JSON_LOGGING" envDefault:"false"`
	EnablePprof       bool `env:"ENABLE_PPROF" envDefault:"false"`
	MetricsPort       int  `env:"METRICS_PORT" envDefault:"9091"` // Port untuk /metrics, /healthz, /readyz, /debug/pprof

	// Database Configuration
	DB DatabaseConfig `envPrefix:"DB_"`

	// Kredensial via Vault (opsional); lihat internal/secrets.
	VaultEnabled     bool   `env:"VAULT_ENABLED" envDefault:"false"`
	VaultAddr        string `env:"VAULT_ADDR" envDefault:""`
	VaultToken       string `env:"VAULT_TOKEN" envDefault:""`
	VaultSecretPath  string `env:"VAULT_SECRET_PATH" envDefault:""`
	VaultUsernameKey string `env:"VAULT_USERNAME_KEY" envDefault:"username"`
	VaultPasswordKey string `env:"VAULT_PASSWORD_KEY" envDefault:"password"`
	VaultCACert      string `env:"VAULT_CACERT" envDefault:""`
	VaultSkipVerify  bool   `env:"VAULT_SKIP_VERIFY" envDefault:"false"`
}

type DatabaseConfig struct {
	Dialect  string `env:"DIALECT" envDefault:"sqlite"`
	Host     string `env:"HOST" envDefault:""`
	Port     int    `env:"PORT" envDefault:"0"`
	User     string `env:"USER" envDefault:""`
	Password string `env:"PASSWORD" envDefault:""`
	DBName   string `env:"DBNAME" envDefault:"docmigrate.db"`
	SSLMode  string `env:"SSLMODE" envDefault:"disable"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	opts := env.Options{RequiredIfNoDef: true}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("config parsing error: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DSN menyusun DSN sesuai dialek. SQLite memakai DBName sebagai path file.
func (d *DatabaseConfig) DSN() (string, error) {
	switch strings.ToLower(d.Dialect) {
	case "sqlite":
		return d.DBName, nil
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			d.User, d.Password, d.Host, d.Port, d.DBName), nil
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode), nil
	default:
		return "", fmt.Errorf("unsupported dialect: %s", d.Dialect)
	}
}

func validateConfig(cfg *Config) error {
	dialect := strings.ToLower(cfg.DB.Dialect)
	switch dialect {
	case "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("invalid dialect: %s. Valid options: sqlite, mysql, postgres", cfg.DB.Dialect)
	}

	validatePort := func(port int, name string) error {
		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid %s port: %d", name, port)
		}
		return nil
	}
	if dialect != "sqlite" {
		if err := validatePort(cfg.DB.Port, "database"); err != nil {
			return err
		}
		if cfg.DB.Host == "" {
			return fmt.Errorf("database host is required for dialect %s", dialect)
		}
	}
	if err := validatePort(cfg.MetricsPort, "metrics"); err != nil {
		return err
	}

	if cfg.ConnPoolSize <= 0 {
		return fmt.Errorf("connection pool size must be positive")
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if cfg.BackupRetentionDays <= 0 {
		return fmt.Errorf("backup retention must be positive")
	}
	if cfg.DocTypeDir == "" {
		return fmt.Errorf("doctype directory is required")
	}

	if isSSLModeRelevant(dialect) {
		validSSL := map[string]bool{
			"disable":     true,
			"allow":       true,
			"prefer":      true,
			"require":     true,
			"verify-ca":   true,
			"verify-full": true,
		}
		if !validSSL[strings.ToLower(cfg.DB.SSLMode)] {
			return fmt.Errorf("invalid SSL mode: %s", cfg.DB.SSLMode)
		}
	}

	if cfg.VaultEnabled {
		if cfg.VaultAddr == "" || cfg.VaultSecretPath == "" {
			return fmt.Errorf("vault is enabled but VAULT_ADDR or VAULT_SECRET_PATH is missing")
		}
	}

	return nil
}

func isSSLModeRelevant(dialect string) bool {
	switch strings.ToLower(dialect) {
	case "postgres", "mysql":
		return true
	default:
		return false
	}
}
