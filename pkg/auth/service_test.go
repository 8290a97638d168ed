package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintAndVerify(t *testing.T) {
	svc := NewServiceTokenService("test-secret-key", time.Minute)

	token, err := svc.Mint("claimer", "tenant-1", ScopeDispatchClaim)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.Verify(token, ScopeDispatchClaim)
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", claims.TenantID)
	assert.Equal(t, ScopeDispatchClaim, claims.Scope)
	assert.Equal(t, "claimer", claims.Subject)
}

func TestVerifyRejectsWrongScope(t *testing.T) {
	svc := NewServiceTokenService("test-secret-key", time.Minute)
	token, err := svc.Mint("claimer", "tenant-1", "other:scope")
	require.NoError(t, err)

	_, err = svc.Verify(token, ScopeDispatchClaim)
	assert.ErrorIs(t, err, ErrScopeMismatch)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	minter := NewServiceTokenService("secret-a", time.Minute)
	verifier := NewServiceTokenService("secret-b", time.Minute)
	token, err := minter.Mint("claimer", "tenant-1", ScopeDispatchClaim)
	require.NoError(t, err)

	_, err = verifier.Verify(token, ScopeDispatchClaim)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpired(t *testing.T) {
	svc := NewServiceTokenService("test-secret-key", -time.Minute)
	token, err := svc.Mint("claimer", "tenant-1", ScopeDispatchClaim)
	require.NoError(t, err)

	_, err = svc.Verify(token, ScopeDispatchClaim)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMintRequiresTenant(t *testing.T) {
	svc := NewServiceTokenService("test-secret-key", time.Minute)
	_, err := svc.Mint("claimer", "", ScopeDispatchClaim)
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	token, ok := BearerToken("Bearer abc.def.ghi")
	assert.True(t, ok)
	assert.Equal(t, "abc.def.ghi", token)

	_, ok = BearerToken("Basic dXNlcjpwYXNz")
	assert.False(t, ok)
	_, ok = BearerToken("")
	assert.False(t, ok)
}
