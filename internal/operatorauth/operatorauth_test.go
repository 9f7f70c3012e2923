package operatorauth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyToken_RoundTrip(t *testing.T) {
	v := NewVerifier("test-secret")

	token, err := v.IssueToken("operator-1")
	require.NoError(t, err)

	claims, err := v.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "operator-1", claims.OperatorID)
}

func TestVerifyToken_AcceptsBearerPrefix(t *testing.T) {
	v := NewVerifier("test-secret")

	token, err := v.IssueToken("operator-2")
	require.NoError(t, err)

	claims, err := v.VerifyToken("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "operator-2", claims.OperatorID)
}

func TestVerifyToken_RejectsWrongSecret(t *testing.T) {
	v1 := NewVerifier("secret-a")
	v2 := NewVerifier("secret-b")

	token, err := v1.IssueToken("operator-3")
	require.NoError(t, err)

	_, err = v2.VerifyToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyToken_RejectsExpiredToken(t *testing.T) {
	v := NewVerifier("test-secret")

	claims := &Claims{
		OperatorID: "operator-4",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = v.VerifyToken(signed)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyToken_RejectsGarbage(t *testing.T) {
	v := NewVerifier("test-secret")
	_, err := v.VerifyToken("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
