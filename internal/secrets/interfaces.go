package secrets

import "context"

// Credentials memuat pasangan username/password hasil pembacaan secret.
type Credentials struct {
	Username string
	Password string
}

// SecretManager mengabstraksi backend penyimpanan secret.
type SecretManager interface {
	// GetCredentials membaca kredensial database dari backend; pathOrID
	// menunjuk lokasi secret, usernameKey/passwordKey key di dalam datanya.
	GetCredentials(ctx context.Context, pathOrID string, usernameKey string, passwordKey string) (*Credentials, error)

	// IsEnabled melaporkan apakah backend ini dikonfigurasi dan aktif.
	IsEnabled() bool
}
