// Package auth implements the session authenticator (C2): it turns an
// opaque bearer token from the handshake into a verified userId.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// ErrMissingToken is returned when no bearer token is present on the
// handshake request.
var ErrMissingToken = errors.New("auth: missing token")

// ErrInvalidToken is returned when a token is present but fails
// verification (bad signature, expired, malformed).
var ErrInvalidToken = errors.New("auth: invalid token")

// SessionVerifier decodes an externally-minted opaque session token into
// the user it identifies and when that session expires. The core treats
// verification as total and deterministic; it never inspects token
// internals itself.
type SessionVerifier interface {
	VerifySession(token string) (userID string, expiry time.Time, err error)
}

// ExtractToken pulls the bearer token from the handshake request, checking
// the Authorization header first and falling back to the ?token= query
// parameter.
func ExtractToken(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" && parts[1] != "" {
			return parts[1], nil
		}
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", ErrMissingToken
}

// Authenticate extracts and verifies the handshake's bearer token,
// returning the userId on success.
func Authenticate(r *http.Request, verifier SessionVerifier) (string, error) {
	token, err := ExtractToken(r)
	if err != nil {
		return "", err
	}
	userID, expiry, err := verifier.VerifySession(token)
	if err != nil {
		return "", ErrInvalidToken
	}
	if !expiry.IsZero() && expiry.Before(time.Now()) {
		return "", ErrInvalidToken
	}
	return userID, nil
}
