// Package auth issues and validates caller identity tokens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var (
	// ErrInvalidToken is returned for tokens that fail signature, expiry or shape checks.
	ErrInvalidToken = errors.New("invalid token")

	// ErrMissingSubject is returned for valid tokens that do not name a user.
	ErrMissingSubject = errors.New("token has no subject")
)

// Caller is who a request is billed to.
type Caller struct {
	UserDid string
	AppID   string
}

// CallerClaims are the claims of a caller token. The subject is the user DID.
type CallerClaims struct {
	AppID string `json:"appId,omitempty"`
	jwt.RegisteredClaims
}

// IssueCallerToken signs a token for caller that expires after ttl.
func IssueCallerToken(secret []byte, caller Caller, ttl time.Duration) (string, time.Time, error) {
	if caller.UserDid == "" {
		return "", time.Time{}, ErrMissingSubject
	}
	now := time.Now()
	exp := now.Add(ttl)
	claims := CallerClaims{
		AppID: caller.AppID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.UserDid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign caller token: %w", err)
	}
	return signed, exp, nil
}

// ParseCallerToken validates tokenString and returns the caller it names.
// Only HS256 tokens are accepted.
func ParseCallerToken(secret []byte, tokenString string) (Caller, error) {
	claims := &CallerClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return Caller{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Caller{}, ErrMissingSubject
	}
	return Caller{UserDid: claims.Subject, AppID: claims.AppID}, nil
}
