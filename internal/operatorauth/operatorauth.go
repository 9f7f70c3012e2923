// Package operatorauth verifies bearer tokens for the admin surface's
// mutating routes. There is no user database here: a single
// shared operator secret signs and verifies every token, scoped to
// "who can force-schedule or watch rounds", not general authentication
// (spec.md's non-goals explicitly exclude client authentication).
package operatorauth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid operator token")
	ErrTokenExpired = errors.New("operator token expired")
)

// Claims identifies the operator, not a customer account.
type Claims struct {
	OperatorID string `json:"operator_id"`
	jwt.RegisteredClaims
}

// Verifier signs and checks operator tokens against one shared secret.
type Verifier struct {
	secret string
}

// NewVerifier binds a Verifier to the configured operator secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

// IssueToken mints a 12h operator token; used by an operator-facing CLI
// or an ops runbook, never by end users.
func (v *Verifier) IssueToken(operatorID string) (string, error) {
	claims := &Claims{
		OperatorID: operatorID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(12 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(v.secret))
}

// VerifyToken validates a bearer token (with or without the "Bearer "
// prefix) and returns its claims.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(v.secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
