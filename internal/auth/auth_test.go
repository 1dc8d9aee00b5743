package auth

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	Init("1h")

	userID := uuid.New().String()
	token, err := CreateJWT(userID)
	require.NoError(t, err)

	sub, err := AuthenticateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, userID, sub)
}

func TestJWTRejectsGarbage(t *testing.T) {
	Init("1h")

	_, err := AuthenticateJWT("not.a.token")
	assert.Error(t, err)

	// Token signed under a previous key must not verify.
	token, err := CreateJWT(uuid.New().String())
	require.NoError(t, err)
	Init("1h")
	_, err = AuthenticateJWT(token)
	assert.Error(t, err)
}

func TestPasswordHashAndVerify(t *testing.T) {
	hash, err := HashPassword("hunter2", DefaultHashParams)
	require.NoError(t, err)
	assert.Contains(t, hash, "$argon2id$")

	ok, err := VerifyPassword("hunter2", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("wrong", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	_, err := VerifyPassword("hunter2", "not-an-encoded-hash")
	assert.ErrorIs(t, err, ErrInvalidHash)
}
