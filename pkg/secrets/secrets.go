package secrets

import (
	"context"
	"errors"
	"strings"
)

// Secret names read at startup. Each falls back to its EnvName.
const (
	JWTSigningKey     = "jwt-secret"
	S3AccessKeyID     = "s3-access-key-id"
	S3SecretAccessKey = "s3-secret-access-key"
)

// Manager resolves named secrets
type Manager interface {
	GetSecret(ctx context.Context, key string) (string, error)

	// GetSecretWithDefault never fails; lookup errors yield defaultValue
	GetSecretWithDefault(ctx context.Context, key, defaultValue string) string
}

var (
	ErrSecretNotFound = errors.New("secret not found")
	ErrNoVaultToken   = errors.New("no vault token provided")
	ErrNoVaultAddress = errors.New("no vault address provided")
)

var envReplacer = strings.NewReplacer("-", "_", ".", "_")

// EnvName maps a secret name to its environment variable: jwt-secret and
// jwt.secret both become JWT_SECRET.
func EnvName(key string) string {
	return strings.ToUpper(envReplacer.Replace(key))
}
