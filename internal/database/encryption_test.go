package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptor_RoundTrip(t *testing.T) {
	enc, err := NewEncryptor(testSecret)
	require.NoError(t, err)
	assert.True(t, enc.Enabled())

	sealed, err := enc.Encrypt("secret text")
	require.NoError(t, err)
	assert.NotEqual(t, "secret text", sealed)

	again, err := enc.Encrypt("secret text")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce is random")

	plain, err := enc.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "secret text", plain)
}

func TestEncryptor_Disabled(t *testing.T) {
	enc, err := NewEncryptor("")
	require.NoError(t, err)
	assert.False(t, enc.Enabled())

	out, err := enc.Encrypt("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", out)
}

func TestEncryptor_Errors(t *testing.T) {
	_, err := NewEncryptor("too-short")
	assert.Error(t, err)

	enc, err := NewEncryptor(testSecret)
	require.NoError(t, err)

	_, err = enc.Decrypt("not base64!")
	assert.Error(t, err)
	_, err = enc.Decrypt("YWJj")
	assert.Error(t, err)

	other, err := NewEncryptor("another-secret-another-secret-123")
	require.NoError(t, err)
	sealed, err := other.Encrypt("x")
	require.NoError(t, err)
	_, err = enc.Decrypt(sealed)
	assert.Error(t, err)
}

func TestEncryptor_EmptyPassthrough(t *testing.T) {
	enc, err := NewEncryptor(testSecret)
	require.NoError(t, err)

	out, err := enc.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, out)
}
