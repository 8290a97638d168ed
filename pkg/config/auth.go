package config

import "time"

// AuthConfig controls service credentials and secret storage.
type AuthConfig struct {
	// ServiceSecret signs the tenant-scoped credentials the claimer
	// presents to the dispatch claim endpoint.
	ServiceSecret string `yaml:"service_secret"`

	// ServiceTokenTTL bounds a minted service credential. Credentials
	// are minted per request, so this stays short.
	ServiceTokenTTL time.Duration `yaml:"service_token_ttl"`

	// EncryptionKey is the hex-encoded 32-byte AES key sealing tenant
	// integration secrets at rest.
	EncryptionKey string `yaml:"encryption_key"`
}

// DefaultAuthConfig returns the built-in auth configuration.
func DefaultAuthConfig() *AuthConfig {
	return &AuthConfig{
		ServiceTokenTTL: 60 * time.Second,
	}
}
