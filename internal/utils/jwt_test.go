package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	tok, err := NewAccessToken("s3cret", "user-7", RoleAdmin, time.Minute)
	require.NoError(t, err)

	claims, err := ParseAccessToken("s3cret", tok.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-7", claims["sub"])
	assert.Equal(t, RoleAdmin, claims["role"])

	_, err = ParseAccessToken("other", tok.Token)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}

func TestAccessTokenRejectsExpired(t *testing.T) {
	tok, err := NewAccessToken("s3cret", "user-7", "", -time.Minute)
	require.NoError(t, err)

	_, err = ParseAccessToken("s3cret", tok.Token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestNewAccessTokenRequiresSecret(t *testing.T) {
	_, err := NewAccessToken("", "user-7", "", time.Minute)
	assert.Error(t, err)
}

func TestParseAccessTokenRequiresSecret(t *testing.T) {
	_, err := ParseAccessToken("", "a.b.c")
	assert.Error(t, err)
}
