package jwt

import (
	"time"
)

// DefaultExpiry matches the lifetime of the session cookie
const DefaultExpiry = 7 * 24 * time.Hour

// Service signs and verifies session tokens with a fixed HMAC secret
type Service struct {
	secretKey []byte
	expiry    time.Duration
	now       func() time.Time
}

// NewService creates a new JWT service
func NewService(secretKey string, expiry time.Duration) *Service {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}

	return &Service{
		secretKey: []byte(secretKey),
		expiry:    expiry,
		now:       time.Now,
	}
}

// Expiry is the lifetime of issued tokens
func (s *Service) Expiry() time.Duration {
	return s.expiry
}

// GenerateToken generates a JWT token for a user
func (s *Service) GenerateToken(userID uint, email string) (string, error) {
	return sign(s.secretKey, userID, email, s.now(), s.expiry)
}

// ValidateToken validates a JWT token and returns the claims
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return parse(s.secretKey, tokenString)
}
