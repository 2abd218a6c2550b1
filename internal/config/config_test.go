// internal/config/config_test.go
package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DOCTYPE_DIR", "./doctypes")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "./doctypes", cfg.DocTypeDir)
	assert.False(t, cfg.DryRun)
	assert.False(t, cfg.Force)
	assert.Equal(t, "tab", cfg.TablePrefix)
	assert.Equal(t, 5*time.Minute, cfg.TableTimeout)

	// Profil engine default memodelkan SQLite.
	assert.False(t, cfg.SupportsDropColumn)
	assert.False(t, cfg.SupportsModifyColumn)
	assert.False(t, cfg.SupportsAddUniqueColumn)

	assert.Equal(t, "./backups", cfg.BackupDir)
	assert.True(t, cfg.BackupEnabled)
	assert.Equal(t, 30, cfg.BackupRetentionDays)

	assert.Equal(t, 20, cfg.ConnPoolSize)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.RetryInterval)
	assert.Equal(t, 9091, cfg.MetricsPort)

	assert.Equal(t, "sqlite", cfg.DB.Dialect)
	assert.Equal(t, "docmigrate.db", cfg.DB.DBName)
	assert.False(t, cfg.VaultEnabled)
}

func TestLoadRequiresDocTypeDir(t *testing.T) {
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadOverrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("DRY_RUN", "true")
	t.Setenv("TABLE_PREFIX", "doc")
	t.Setenv("ENGINE_SUPPORTS_DROP_COLUMN", "true")
	t.Setenv("DB_DIALECT", "postgres")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "migrator")
	t.Setenv("DB_PASSWORD", "s3cret")
	t.Setenv("DB_DBNAME", "erp")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, "doc", cfg.TablePrefix)
	assert.True(t, cfg.SupportsDropColumn)
	assert.Equal(t, "postgres", cfg.DB.Dialect)
	assert.Equal(t, "db.internal", cfg.DB.Host)
}

func TestLoadValidation(t *testing.T) {
	testCases := []struct {
		name   string
		env    map[string]string
		errMsg string
	}{
		{
			name:   "dialek tidak dikenal",
			env:    map[string]string{"DB_DIALECT": "oracle"},
			errMsg: "invalid dialect",
		},
		{
			name:   "mysql tanpa host",
			env:    map[string]string{"DB_DIALECT": "mysql", "DB_PORT": "3306"},
			errMsg: "host is required",
		},
		{
			name:   "port database di luar rentang",
			env:    map[string]string{"DB_DIALECT": "mysql", "DB_HOST": "db", "DB_PORT": "70000"},
			errMsg: "invalid database port",
		},
		{
			name:   "port metrics nol",
			env:    map[string]string{"METRICS_PORT": "0"},
			errMsg: "invalid metrics port",
		},
		{
			name:   "pool size nol",
			env:    map[string]string{"CONN_POOL_SIZE": "0"},
			errMsg: "pool size must be positive",
		},
		{
			name:   "retry negatif",
			env:    map[string]string{"MAX_RETRIES": "-1"},
			errMsg: "max retries cannot be negative",
		},
		{
			name:   "retensi backup nol",
			env:    map[string]string{"BACKUP_RETENTION_DAYS": "0"},
			errMsg: "backup retention must be positive",
		},
		{
			name: "ssl mode tidak valid",
			env: map[string]string{
				"DB_DIALECT": "postgres", "DB_HOST": "db", "DB_PORT": "5432",
				"DB_SSLMODE": "maybe",
			},
			errMsg: "invalid SSL mode",
		},
		{
			name:   "vault aktif tanpa alamat",
			env:    map[string]string{"VAULT_ENABLED": "true"},
			errMsg: "VAULT_ADDR or VAULT_SECRET_PATH is missing",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

func TestDatabaseConfigDSN(t *testing.T) {
	t.Run("sqlite memakai DBName sebagai path", func(t *testing.T) {
		d := &DatabaseConfig{Dialect: "sqlite", DBName: "./data/docmigrate.db"}
		dsn, err := d.DSN()
		require.NoError(t, err)
		assert.Equal(t, "./data/docmigrate.db", dsn)
	})

	t.Run("mysql", func(t *testing.T) {
		d := &DatabaseConfig{Dialect: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", DBName: "erp"}
		dsn, err := d.DSN()
		require.NoError(t, err)
		assert.Equal(t, "u:p@tcp(db:3306)/erp?charset=utf8mb4&parseTime=True&loc=Local", dsn)
	})

	t.Run("postgres", func(t *testing.T) {
		d := &DatabaseConfig{Dialect: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", DBName: "erp", SSLMode: "require"}
		dsn, err := d.DSN()
		require.NoError(t, err)
		assert.Equal(t, "host=db port=5432 user=u password=p dbname=erp sslmode=require", dsn)
	})

	t.Run("dialek tidak didukung", func(t *testing.T) {
		d := &DatabaseConfig{Dialect: "oracle"}
		_, err := d.DSN()
		assert.Error(t, err)
	})
}
