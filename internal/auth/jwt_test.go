package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-key-for-testing")

func TestCallerToken_RoundTrip(t *testing.T) {
	token, exp, err := IssueCallerToken(testSecret, Caller{UserDid: "did:abt:z1", AppID: "app-9"}, 15*time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, exp.After(time.Now()))

	caller, err := ParseCallerToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, "did:abt:z1", caller.UserDid)
	assert.Equal(t, "app-9", caller.AppID)
}

func TestParseCallerToken_Rejects(t *testing.T) {
	expired, _, err := IssueCallerToken(testSecret, Caller{UserDid: "did:abt:z1"}, -time.Minute)
	require.NoError(t, err)

	otherKey, _, err := IssueCallerToken([]byte("another-secret"), Caller{UserDid: "did:abt:z1"}, time.Minute)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "did:abt:z1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"expired":     expired,
		"wrong key":   otherKey,
		"alg none":    none,
		"not a token": "abc.def",
		"empty":       "",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCallerToken(testSecret, token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestCallerToken_Subject(t *testing.T) {
	_, _, err := IssueCallerToken(testSecret, Caller{AppID: "app"}, time.Minute)
	assert.ErrorIs(t, err, ErrMissingSubject)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, CallerClaims{AppID: "app"}).SignedString(testSecret)
	require.NoError(t, err)
	_, err = ParseCallerToken(testSecret, token)
	assert.ErrorIs(t, err, ErrMissingSubject)
}
