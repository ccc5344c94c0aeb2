package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mlm-platform/internal/config"
)

func newManager() *Manager {
	return NewManager(config.AuthConfig{
		JWTSecret: "test-secret",
		Issuer:    "mlm-platform",
		TokenTTL:  time.Hour,
		LinkTTL:   15 * time.Minute,
	})
}

func TestAccessTokenRoundTrip(t *testing.T) {
	m := newManager()
	token, err := m.IssueAccess("user-1", "a@example.com", true)
	require.NoError(t, err)

	claims, err := m.ParseAccess(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "a@example.com", claims.Email)
	assert.True(t, claims.Admin)

	_, err = m.ParseLink(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLinkTokenIsNotABearerToken(t *testing.T) {
	m := newManager()
	token, err := m.IssueLink("user-2")
	require.NoError(t, err)

	uid, err := m.ParseLink(token)
	require.NoError(t, err)
	assert.Equal(t, "user-2", uid)

	_, err = m.ParseAccess(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRejectsExpiredForeignAndTampered(t *testing.T) {
	m := newManager()
	token, err := m.IssueAccess("user-1", "", false)
	require.NoError(t, err)

	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = m.ParseAccess(token)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired")
	m.now = time.Now

	other := NewManager(config.AuthConfig{JWTSecret: "other", Issuer: "mlm-platform", TokenTTL: time.Hour})
	_, err = other.ParseAccess(token)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong secret")

	foreign := NewManager(config.AuthConfig{JWTSecret: "test-secret", Issuer: "someone-else", TokenTTL: time.Hour})
	forged, err := foreign.IssueAccess("user-1", "", true)
	require.NoError(t, err)
	_, err = m.ParseAccess(forged)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong issuer")

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1", Issuer: "mlm-platform"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = m.ParseAccess(none)
	assert.ErrorIs(t, err, ErrInvalidToken, "alg none")
}
