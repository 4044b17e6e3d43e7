package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const encPrefix = "enc:"

// decryptSecrets replaces "enc:..." adapter API keys with their plaintext.
func decryptSecrets(cfg *Config, passphrase string) error {
	for i := range cfg.Adapters {
		key := cfg.Adapters[i].APIKey
		if !strings.HasPrefix(key, encPrefix) {
			continue
		}
		decrypted, err := DecryptValue(strings.TrimPrefix(key, encPrefix), passphrase)
		if err != nil {
			return fmt.Errorf("adapter %s api_key: %w", cfg.Adapters[i].Name, err)
		}
		cfg.Adapters[i].APIKey = decrypted
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
// The result is hex(salt) + ":" + hex(nonce+ciphertext), to be stored after "enc:".
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}
