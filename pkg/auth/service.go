// Package auth issues and verifies the short-lived service credentials
// the claimer presents to the dispatch claim endpoint. Tokens are HS256
// JWTs bound to a tenant and a scope; the claim handler rejects any
// token whose tenant does not match the dispatch being claimed.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ScopeDispatchClaim authorizes POST /v1/dispatches/:id/claim.
const ScopeDispatchClaim = "dispatch:claim"

var (
	// ErrInvalidToken covers malformed, mis-signed, and expired tokens.
	ErrInvalidToken = errors.New("invalid service token")

	// ErrScopeMismatch indicates a valid token used outside its scope.
	ErrScopeMismatch = errors.New("token scope mismatch")
)

// ServiceTokenService signs and verifies service credentials.
type ServiceTokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewServiceTokenService builds the helper with the shared secret and
// token lifetime.
func NewServiceTokenService(secret string, ttl time.Duration) *ServiceTokenService {
	return &ServiceTokenService{secret: []byte(secret), ttl: ttl}
}

// ServiceClaims is the credential payload: which tenant's dispatches
// the bearer may claim, and for what operation.
type ServiceClaims struct {
	TenantID string `json:"tenant_id"`
	Scope    string `json:"scope"`
	jwt.RegisteredClaims
}

// Mint issues a credential for one tenant and scope. Subject names the
// internal service doing the claiming.
func (s *ServiceTokenService) Mint(subject, tenantID, scope string) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("service secret not configured")
	}
	if strings.TrimSpace(tenantID) == "" {
		return "", errors.New("tenant id required")
	}

	now := time.Now()
	claims := ServiceClaims{
		TenantID: tenantID,
		Scope:    scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify parses a credential and checks its scope. The caller compares
// the returned tenant against the resource being accessed.
func (s *ServiceTokenService) Verify(token, scope string) (*ServiceClaims, error) {
	if len(s.secret) == 0 {
		return nil, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &ServiceClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*ServiceClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.TenantID) == "" {
		return nil, ErrInvalidToken
	}
	if claims.Scope != scope {
		return nil, ErrScopeMismatch
	}
	return claims, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
