// Package crypto seals provider refresh tokens before they are stored.
package crypto

import (
	"crypto/rand"
	"encoding/base64"

	"keystone/config"
	"keystone/internal/domain/service"
	"keystone/internal/errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrCipherDisabled is returned when no provider token key is configured.
var ErrCipherDisabled = errors.New("provider token encryption key not configured")

type xchachaCipher struct {
	key []byte
}

// NewSecretCipher builds an XChaCha20-Poly1305 cipher from the base64 key in
// SecretKey.ProviderToken. Without a key the returned cipher refuses every
// call, and provider refresh tokens are simply not persisted.
func NewSecretCipher(cfg *config.Config) (service.SecretCipher, error) {
	if cfg.SecretKey.ProviderToken == "" {
		return disabledCipher{}, nil
	}

	key, err := base64.StdEncoding.DecodeString(cfg.SecretKey.ProviderToken)
	if err != nil {
		return nil, errors.Wrap(err, "decode provider token key")
	}

	return NewXChaChaCipher(key)
}

// NewXChaChaCipher returns a cipher for a raw 32-byte key.
func NewXChaChaCipher(key []byte) (service.SecretCipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.Errorf("provider token key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}

	return &xchachaCipher{key: append([]byte(nil), key...)}, nil
}

// Encrypt returns base64(nonce || ciphertext).
func (c *xchachaCipher) Encrypt(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", errors.WithStack(err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(err, "generate nonce")
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *xchachaCipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", errors.Wrap(err, "decode ciphertext")
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", errors.WithStack(err)
	}
	if len(raw) < aead.NonceSize() {
		return "", errors.New("ciphertext too short")
	}

	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", errors.Wrap(err, "open ciphertext")
	}

	return string(plain), nil
}

type disabledCipher struct{}

func (disabledCipher) Encrypt(string) (string, error) { return "", ErrCipherDisabled }
func (disabledCipher) Decrypt(string) (string, error) { return "", ErrCipherDisabled }
