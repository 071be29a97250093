package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	secret := []byte("s3cret")
	token, err := GenerateToken(42, "admin@example.com", RoleAdmin, secret, time.Hour)
	require.NoError(t, err)

	claims, err := ValidateToken(token, secret)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.True(t, claims.IsAdmin())
}

func TestValidateRejectsWrongSecretAndExpiry(t *testing.T) {
	token, err := GenerateToken(1, "u@example.com", RoleUser, []byte("a"), time.Hour)
	require.NoError(t, err)
	_, err = ValidateToken(token, []byte("b"))
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := GenerateToken(1, "u@example.com", RoleUser, []byte("a"), -time.Minute)
	require.NoError(t, err)
	_, err = ValidateToken(expired, []byte("a"))
	assert.ErrorIs(t, err, ErrInvalidToken)
}
