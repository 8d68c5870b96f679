// internal/tokencipher/tokencipher_test.go
package tokencipher

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCipher_RoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0xAB}, 32)
	c, err := New(key)
	require.NoError(t, err)

	sealed, err := c.Encrypt("ghp_exampletoken123")
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "ghp_exampletoken123")

	plain, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "ghp_exampletoken123", plain)
}

func TestCipher_RejectsBadKeyLength(t *testing.T) {
	_, err := New([]byte("short"))
	assert.Error(t, err)
}

func TestCipher_RejectsTamperedCiphertext(t *testing.T) {
	key := bytes.Repeat([]byte{0x01}, 32)
	c, err := New(key)
	require.NoError(t, err)

	sealed, err := c.Encrypt("secret")
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xFF

	_, err = c.Decrypt(sealed)
	assert.Error(t, err)
}

func TestCipher_RejectsTruncatedInput(t *testing.T) {
	key := bytes.Repeat([]byte{0x02}, 32)
	c, err := New(key)
	require.NoError(t, err)

	_, err = c.Decrypt([]byte{0x00, 0x01})
	assert.Error(t, err)
}
