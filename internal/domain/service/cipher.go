package service

// SecretCipher seals small secrets, such as provider refresh tokens, for storage.
type SecretCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}
