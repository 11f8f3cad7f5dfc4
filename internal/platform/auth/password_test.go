package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword_RoundTrip(t *testing.T) {
	hash, err := HashPassword("labtest123")
	require.NoError(t, err)
	assert.NotEqual(t, "labtest123", hash)

	ok, err := CheckPassword(hash, "labtest123")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = CheckPassword(hash, "wrong-pass1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckPassword_MalformedHash(t *testing.T) {
	ok, err := CheckPassword("not-a-bcrypt-hash", "labtest123")
	assert.False(t, ok)
	assert.Error(t, err)
}
