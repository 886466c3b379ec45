package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("authority@123")
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	assert.True(t, CheckPasswordHash("authority@123", hash))
	assert.False(t, CheckPasswordHash("authority@124", hash))
	assert.False(t, CheckPasswordHash("authority@123", "not-a-hash"))
}

func TestValidatePassword(t *testing.T) {
	assert.NoError(t, ValidatePassword("authority@123"))

	err := ValidatePassword("short1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWeakPassword)

	err = ValidatePassword("onlyletters")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWeakPassword)

	assert.ErrorIs(t, ValidatePassword("0123456789"), ErrWeakPassword)
}
