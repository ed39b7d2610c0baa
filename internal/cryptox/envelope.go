package cryptox

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/akorchagin/passvault/internal/common"
)

// envelopeVersion tags the binary layout so it can evolve.
const envelopeVersion = 1

// Envelope is the single normalized container for wrapped key material.
// Historically wrapped blobs appeared as raw bytes, hex strings, or
// base64(nonce):base64(ciphertext) pairs with no record of how their KEK
// was derived; the envelope carries the algorithm id and its parameters
// next to the ciphertext so unwrapping never guesses.
type Envelope struct {
	Params KDFParams
	// Blob is the AEAD output: nonce ‖ ciphertext ‖ tag.
	Blob []byte
}

// Encode serializes the envelope to its binary form:
//
//	version(1) ‖ algorithm(1) ‖ saltLen(1) ‖ salt ‖
//	iterations(4, BE) ‖ memory(4, BE) ‖ threads(1) ‖ blob
func (e *Envelope) Encode() ([]byte, error) {
	if len(e.Params.Salt) == 0 || len(e.Params.Salt) > 255 {
		return nil, fmt.Errorf("%w: salt length %d", common.ErrKDF, len(e.Params.Salt))
	}

	var buf bytes.Buffer
	buf.WriteByte(envelopeVersion)
	buf.WriteByte(byte(e.Params.Algorithm))
	buf.WriteByte(byte(len(e.Params.Salt)))
	buf.Write(e.Params.Salt)

	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], e.Params.Iterations)
	buf.Write(u32[:])
	binary.BigEndian.PutUint32(u32[:], e.Params.Memory)
	buf.Write(u32[:])
	buf.WriteByte(e.Params.Threads)

	buf.Write(e.Blob)
	return buf.Bytes(), nil
}

// DecodeEnvelope parses the binary envelope form.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	if len(data) < 3 {
		return nil, fmt.Errorf("%w: envelope too short", common.ErrKDF)
	}
	if data[0] != envelopeVersion {
		return nil, fmt.Errorf("%w: unsupported envelope version %d", common.ErrKDF, data[0])
	}

	alg := KDFAlgorithm(data[1])
	saltLen := int(data[2])
	rest := data[3:]
	if len(rest) < saltLen+9 {
		return nil, fmt.Errorf("%w: truncated envelope", common.ErrKDF)
	}

	salt := make([]byte, saltLen)
	copy(salt, rest[:saltLen])
	rest = rest[saltLen:]

	p := KDFParams{
		Algorithm:  alg,
		Salt:       salt,
		Iterations: binary.BigEndian.Uint32(rest[0:4]),
		Memory:     binary.BigEndian.Uint32(rest[4:8]),
		Threads:    rest[8],
	}
	blob := make([]byte, len(rest)-9)
	copy(blob, rest[9:])

	return &Envelope{Params: p, Blob: blob}, nil
}

// WrapKey encrypts key material under a KEK derived from password with the
// given parameters and returns the encoded envelope.
func WrapKey(material, password []byte, p KDFParams) ([]byte, error) {
	kek, err := Derive(password, p)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(kek)

	blob, err := Seal(kek, material, nil)
	if err != nil {
		return nil, err
	}
	return (&Envelope{Params: p, Blob: blob}).Encode()
}

// UnwrapKey decodes an envelope, re-derives its KEK from password, and
// returns the enclosed key material. A wrong password or a corrupt blob
// yields common.ErrAuth.
func UnwrapKey(encoded, password []byte) ([]byte, error) {
	env, err := DecodeEnvelope(encoded)
	if err != nil {
		return nil, err
	}

	kek, err := Derive(password, env.Params)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(kek)

	return Open(kek, env.Blob, nil)
}

// ImportLegacy normalizes a wrapped blob in one of the observed legacy
// shapes into the envelope format, tagging it with explicit PBKDF2
// parameters. Accepted shapes:
//
//   - raw bytes: nonce ‖ ciphertext ‖ tag
//   - hex string of the raw bytes
//   - base64(nonce) ":" base64(ciphertext‖tag)
func ImportLegacy(raw []byte, salt []byte, iterations uint32) ([]byte, error) {
	blob, err := normalizeLegacyBlob(raw)
	if err != nil {
		return nil, err
	}
	env := &Envelope{Params: LegacyKDFParams(salt, iterations), Blob: blob}
	return env.Encode()
}

func normalizeLegacyBlob(raw []byte) ([]byte, error) {
	s := string(raw)

	if i := strings.IndexByte(s, ':'); i > 0 {
		nonce, err1 := base64.StdEncoding.DecodeString(s[:i])
		ct, err2 := base64.StdEncoding.DecodeString(s[i+1:])
		if err1 == nil && err2 == nil && len(nonce) == NonceSize {
			return append(nonce, ct...), nil
		}
	}

	if isHex(s) && len(s)%2 == 0 {
		if b, err := hex.DecodeString(s); err == nil && len(b) >= NonceSize+TagSize {
			return b, nil
		}
	}

	if len(raw) >= NonceSize+TagSize {
		b := make([]byte, len(raw))
		copy(b, raw)
		return b, nil
	}

	return nil, fmt.Errorf("%w: unrecognized legacy blob shape", common.ErrKDF)
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
