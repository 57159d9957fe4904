package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// sessionClaims is the shape the default JWT-based verifier expects of a
// session token minted by the out-of-scope HTTP surface.
type sessionClaims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// JWTVerifier is the default SessionVerifier: HMAC-signed session tokens
// keyed by SESSION_SECRET. It is deliberately agnostic to who minted the
// token, matching the core's contract that token minting is an external
// collaborator's job.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier builds a verifier keyed by secret. Callers typically pass
// config.SessionConfig.Secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

var _ SessionVerifier = (*JWTVerifier)(nil)

// VerifySession implements SessionVerifier.
func (v *JWTVerifier) VerifySession(tokenString string) (string, time.Time, error) {
	token, err := jwt.ParseWithClaims(tokenString, &sessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: parse token: %w", err)
	}

	claims, ok := token.Claims.(*sessionClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return "", time.Time{}, fmt.Errorf("auth: invalid claims")
	}

	var expiry time.Time
	if claims.ExpiresAt != nil {
		expiry = claims.ExpiresAt.Time
	}
	return claims.UserID, expiry, nil
}
