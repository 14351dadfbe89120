// Package auth validates the credential a client presents when it opens a
// real-time connection or calls the message API.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized covers every credential failure: missing, malformed,
// expired or wrongly signed tokens.
var ErrUnauthorized = errors.New("unauthorized")

// Claims is the token payload: the standard registered claims plus the
// identity of the account the token was issued for.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"userId"`
}

// GenerateToken signs an HS256 token for userID that expires after validity.
func GenerateToken(userID string, secretKey []byte, validity time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
		UserID: userID,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// Authenticator turns a presented credential into a user identity. The check
// is purely local (HMAC signature and expiry), so it never blocks on I/O.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator creates an Authenticator for tokens signed with secret.
func NewAuthenticator(secret []byte) *Authenticator {
	return &Authenticator{secret: secret}
}

// Authenticate returns the user id encoded in token. Any failure, including an
// absent token, wraps ErrUnauthorized.
func (a *Authenticator) Authenticate(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: missing token", ErrUnauthorized)
	}
	if len(a.secret) == 0 {
		return "", fmt.Errorf("%w: no verification secret configured", ErrUnauthorized)
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	if !parsed.Valid || claims.UserID == "" {
		return "", fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}

	return claims.UserID, nil
}
