package crypto

import (
	"bytes"
	"encoding/base64"
	"testing"

	"keystone/config"
	"keystone/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestXChaChaCipher_RoundTrip(t *testing.T) {
	c, err := NewXChaChaCipher(testKey())
	require.NoError(t, err)

	sealed, err := c.Encrypt("apple-refresh-token")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "apple-refresh-token")

	again, err := c.Encrypt("apple-refresh-token")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per call")

	plain, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "apple-refresh-token", plain)
}

func TestXChaChaCipher_RejectsTampering(t *testing.T) {
	c, err := NewXChaChaCipher(testKey())
	require.NoError(t, err)

	sealed, err := c.Encrypt("secret")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(sealed)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff

	_, err = c.Decrypt(base64.StdEncoding.EncodeToString(raw))
	assert.Error(t, err)

	_, err = c.Decrypt("AAAA")
	assert.Error(t, err)

	_, err = c.Decrypt("%%%")
	assert.Error(t, err)
}

func TestNewXChaChaCipher_KeyLength(t *testing.T) {
	_, err := NewXChaChaCipher([]byte("short"))
	assert.Error(t, err)
}

func TestNewSecretCipher(t *testing.T) {
	cfg := &config.Config{}

	disabled, err := NewSecretCipher(cfg)
	require.NoError(t, err)
	_, err = disabled.Encrypt("x")
	assert.True(t, errors.Is(err, ErrCipherDisabled))

	cfg.SecretKey.ProviderToken = base64.StdEncoding.EncodeToString(testKey())
	enabled, err := NewSecretCipher(cfg)
	require.NoError(t, err)
	sealed, err := enabled.Encrypt("x")
	require.NoError(t, err)
	plain, err := enabled.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "x", plain)

	cfg.SecretKey.ProviderToken = "not base64!"
	_, err = NewSecretCipher(cfg)
	assert.Error(t, err)
}
