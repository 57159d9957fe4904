package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret, userID string, expiresIn time.Duration) string {
	t.Helper()
	claims := sessionClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestExtractTokenFromHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Bearer abc123")
	tok, err := ExtractToken(r)
	require.NoError(t, err)
	assert.Equal(t, "abc123", tok)
}

func TestExtractTokenFromQuery(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=xyz", nil)
	tok, err := ExtractToken(r)
	require.NoError(t, err)
	assert.Equal(t, "xyz", tok)
}

func TestExtractTokenMissing(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	_, err := ExtractToken(r)
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestJWTVerifierRoundTrip(t *testing.T) {
	v := NewJWTVerifier("secret")
	tok := signToken(t, "secret", "user-1", time.Hour)

	userID, expiry, err := v.VerifySession(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
	assert.True(t, expiry.After(time.Now()))
}

func TestJWTVerifierRejectsWrongSecret(t *testing.T) {
	v := NewJWTVerifier("secret")
	tok := signToken(t, "other-secret", "user-1", time.Hour)

	_, _, err := v.VerifySession(tok)
	assert.Error(t, err)
}

func TestAuthenticateRejectsExpired(t *testing.T) {
	v := NewJWTVerifier("secret")
	tok := signToken(t, "secret", "user-1", -time.Hour)
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Bearer "+tok)

	_, err := Authenticate(r, v)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticateSuccess(t *testing.T) {
	v := NewJWTVerifier("secret")
	tok := signToken(t, "secret", "user-1", time.Hour)
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Bearer "+tok)

	userID, err := Authenticate(r, v)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}
