package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/akorchagin/passvault/internal/common"
)

const (
	NonceSize = 12
	TagSize   = 16
)

// Seal encrypts plaintext with AES-256-GCM and returns a single blob in the
// form nonce(12) ‖ ciphertext ‖ tag(16). A fresh random nonce is generated
// from the system CSPRNG on every call; nonces are never reused or counted.
func Seal(key, plaintext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}

	return aesgcm.Seal(nonce, nonce, plaintext, aad), nil
}

// Open decrypts a blob produced by Seal. It fails closed: truncated input,
// a tag mismatch, or a wrong key all yield common.ErrAuth and never a
// garbage plaintext.
func Open(key, blob, aad []byte) ([]byte, error) {
	if len(blob) < NonceSize+TagSize {
		return nil, fmt.Errorf("%w: blob too short (%d bytes)", common.ErrAuth, len(blob))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}

	plaintext, err := aesgcm.Open(nil, blob[:NonceSize], blob[NonceSize:], aad)
	if err != nil {
		return nil, common.ErrAuth
	}
	return plaintext, nil
}

// IntegrityHash returns the hex SHA-256 of the ciphertext blob. It is stored
// independently of the AEAD tag so storage-layer corruption (bit rot,
// truncation) can be told apart from cryptographic tamper before any
// decryption work is attempted.
func IntegrityHash(blob []byte) string {
	h := sha256.Sum256(blob)
	return hex.EncodeToString(h[:])
}

// GenerateKey returns a fresh random 32-byte symmetric key (vault master
// keys and personal keys).
func GenerateKey() []byte {
	return common.GenerateRandByteArray(KeySize)
}
