// internal/secrets/vault_test.go
package secrets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arwahdevops/docmigrate/internal/config"
)

func TestNewVaultManagerDisabled(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	mgr, err := NewVaultManager(&config.Config{}, logger)
	require.NoError(t, err)
	assert.False(t, mgr.IsEnabled())

	// Manager non-aktif menolak pembacaan, bukan panic.
	_, err = mgr.GetCredentials(context.Background(), "db/creds", "", "")
	assert.Error(t, err)
}
