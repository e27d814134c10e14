package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/concierge/plugin/chat"
)

func TestSignAndParse(t *testing.T) {
	a := NewAuthenticator("secret")
	token, err := a.Sign("u1", chat.RoleAdmin, time.Hour)
	require.NoError(t, err)

	identity, err := a.Authenticate("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "u1", identity.UserID)
	assert.Equal(t, chat.RoleAdmin, identity.Role)
	assert.Equal(t, token, identity.Token)
	assert.True(t, identity.IsAdmin())
}

func TestParseRejects(t *testing.T) {
	a := NewAuthenticator("secret")
	valid, err := a.Sign("u1", "", time.Hour)
	require.NoError(t, err)

	other, err := NewAuthenticator("other").Sign("u1", "", time.Hour)
	require.NoError(t, err)

	expired := NewAuthenticator("secret")
	expired.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	old, err := expired.Sign("u1", "", time.Hour)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: Issuer, Subject: "u1"},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: Issuer, ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		err    error
	}{
		{"empty", "", ErrMissingToken},
		{"basic auth", "Basic dTpw", ErrMissingToken},
		{"bearer without token", "Bearer   ", ErrMissingToken},
		{"garbage", "Bearer not-a-jwt", ErrInvalidToken},
		{"wrong secret", "Bearer " + other, ErrInvalidToken},
		{"expired", "Bearer " + old, ErrInvalidToken},
		{"no expiry", "Bearer " + noExpiry, ErrInvalidToken},
		{"no subject", "Bearer " + noSubject, ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			identity, err := a.Authenticate(tt.header)
			assert.ErrorIs(t, err, tt.err)
			assert.Nil(t, identity)
		})
	}

	identity, err := a.Authenticate("bearer " + valid)
	require.NoError(t, err)
	assert.False(t, identity.IsAdmin())
}

func TestSignRequiresUser(t *testing.T) {
	_, err := NewAuthenticator("secret").Sign("", "", time.Hour)
	assert.Error(t, err)
}

func TestIdentityContext(t *testing.T) {
	assert.Nil(t, IdentityFrom(context.Background()))
	identity := &chat.Identity{UserID: "u1"}
	assert.Same(t, identity, IdentityFrom(WithIdentity(context.Background(), identity)))
}

func TestTokenErrorContext(t *testing.T) {
	assert.NoError(t, TokenErrorFrom(context.Background()))
	_, err := NewAuthenticator("secret").Authenticate("Bearer garbage")
	require.Error(t, err)
	assert.Equal(t, err, TokenErrorFrom(WithTokenError(context.Background(), err)))
}
