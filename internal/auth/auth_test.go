package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	iss := NewIssuer("test-secret", time.Hour)
	id := Identity{UserID: uuid.New(), Email: "owner@example.com", Role: "owner", Name: "Owner"}

	token, err := iss.GenerateToken(id)
	require.NoError(t, err)

	claims, err := iss.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, id.UserID, claims.UserID)
	assert.Equal(t, id.Email, claims.Email)
	assert.Equal(t, id.Role, claims.Role)
	assert.Equal(t, id.Name, claims.Name)
	assert.Equal(t, issuer, claims.Issuer)
}

func TestParseTokenRejects(t *testing.T) {
	iss := NewIssuer("test-secret", time.Hour)
	good, err := iss.GenerateToken(Identity{UserID: uuid.New()})
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		_, err := NewIssuer("other", time.Hour).ParseToken(good)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		old := NewIssuer("test-secret", time.Minute)
		old.now = func() time.Time { return time.Now().Add(-time.Hour) }
		token, err := old.GenerateToken(Identity{UserID: uuid.New()})
		require.NoError(t, err)
		_, err = iss.ParseToken(token)
		assert.Error(t, err)
	})

	t.Run("none algorithm", func(t *testing.T) {
		claims := Claims{UserID: uuid.New(), RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = iss.ParseToken(token)
		assert.Error(t, err)
	})

	t.Run("tampered", func(t *testing.T) {
		_, err := iss.ParseToken(strings.TrimSuffix(good, good[len(good)-2:]) + "xx")
		assert.Error(t, err)
	})
}

func TestPasswords(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)

	assert.True(t, CheckPassword(hash, "correct horse"))
	assert.False(t, CheckPassword(hash, "wrong horse"))
	assert.False(t, CheckPassword("", ""))

	assert.Error(t, ValidatePassword("short"))
	assert.NoError(t, ValidatePassword("long enough"))
}
