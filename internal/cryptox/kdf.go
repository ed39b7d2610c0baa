// Package cryptox implements the cryptographic primitives of the vault:
// password key derivation, authenticated encryption, and the tagged
// envelope format used for wrapped keys.
package cryptox

import (
	"crypto/sha256"
	"fmt"

	"github.com/akorchagin/passvault/internal/common"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// KDFAlgorithm selects the key derivation variant. The algorithm id travels
// with every wrapped blob so that material wrapped under the legacy mode
// stays unwrappable after an upgrade.
type KDFAlgorithm uint8

const (
	// KDFPBKDF2SHA256 is the legacy iterated-HMAC mode.
	KDFPBKDF2SHA256 KDFAlgorithm = 1
	// KDFArgon2id is the modern memory-hard mode, used for all new material.
	KDFArgon2id KDFAlgorithm = 2
)

const KeySize = 32

// Default Argon2id parameters for newly derived keys.
const (
	Argon2Time    = 1
	Argon2MemoryK = 64 * 1024
	Argon2Threads = 4
)

// DefaultPBKDF2Iterations matches the value legacy blobs were wrapped with.
const DefaultPBKDF2Iterations = 100_000

// KDFParams fully describe a derivation. They are stored alongside every
// wrapped blob; nothing is ever assumed implicitly.
type KDFParams struct {
	Algorithm  KDFAlgorithm
	Salt       []byte
	Iterations uint32 // PBKDF2 only
	Memory     uint32 // Argon2 only, KiB
	Threads    uint8  // Argon2 only
}

// NewKDFParams returns Argon2id parameters with a fresh random salt.
func NewKDFParams() KDFParams {
	return KDFParams{
		Algorithm:  KDFArgon2id,
		Salt:       common.GenerateRandByteArray(16),
		Iterations: Argon2Time,
		Memory:     Argon2MemoryK,
		Threads:    Argon2Threads,
	}
}

// LegacyKDFParams returns PBKDF2 parameters for the given salt and iteration
// count, used when importing material wrapped by older versions.
func LegacyKDFParams(salt []byte, iterations uint32) KDFParams {
	return KDFParams{Algorithm: KDFPBKDF2SHA256, Salt: salt, Iterations: iterations}
}

// Derive produces a 32-byte key from password and params. Identical inputs
// always yield the identical key; unwrap correctness depends on it.
func Derive(password []byte, p KDFParams) ([]byte, error) {
	if len(password) == 0 {
		return nil, fmt.Errorf("%w: empty password", common.ErrKDF)
	}
	if len(p.Salt) < 8 {
		return nil, fmt.Errorf("%w: salt must be at least 8 bytes", common.ErrKDF)
	}

	switch p.Algorithm {
	case KDFPBKDF2SHA256:
		if p.Iterations == 0 {
			return nil, fmt.Errorf("%w: zero iterations", common.ErrKDF)
		}
		return pbkdf2.Key(password, p.Salt, int(p.Iterations), KeySize, sha256.New), nil
	case KDFArgon2id:
		if p.Iterations == 0 || p.Memory == 0 || p.Threads == 0 {
			return nil, fmt.Errorf("%w: zero argon2 parameter", common.ErrKDF)
		}
		return argon2.IDKey(password, p.Salt, p.Iterations, p.Memory, p.Threads, KeySize), nil
	default:
		return nil, fmt.Errorf("%w: unknown algorithm %d", common.ErrKDF, p.Algorithm)
	}
}

// MakeVerifier returns the password verifier stored in the user record:
// a SHA-256 hash of the derived key. The verifier proves knowledge of the
// password without ever storing the key itself.
func MakeVerifier(key []byte) []byte {
	hash := sha256.Sum256(key)
	return hash[:]
}
