package cryptox

import (
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/akorchagin/passvault/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_EncodeDecode(t *testing.T) {
	p := NewKDFParams()
	env := &Envelope{Params: p, Blob: []byte("0123456789ab-ciphertext-and-tag")}

	encoded, err := env.Encode()
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(encoded)
	require.NoError(t, err)
	assert.Equal(t, env.Params, decoded.Params)
	assert.Equal(t, env.Blob, decoded.Blob)
}

func TestDecodeEnvelope_Malformed(t *testing.T) {
	_, err := DecodeEnvelope([]byte{1})
	assert.ErrorIs(t, err, common.ErrKDF)

	_, err = DecodeEnvelope([]byte{9, 2, 4, 1, 2, 3, 4})
	assert.ErrorIs(t, err, common.ErrKDF)

	// declared salt longer than remaining bytes
	_, err = DecodeEnvelope([]byte{1, 2, 200, 1, 2, 3})
	assert.ErrorIs(t, err, common.ErrKDF)
}

func TestWrapUnwrapKey(t *testing.T) {
	material := GenerateKey()
	password := []byte("vault password")

	wrapped, err := WrapKey(material, password, NewKDFParams())
	require.NoError(t, err)

	out, err := UnwrapKey(wrapped, password)
	require.NoError(t, err)
	assert.Equal(t, material, out)

	_, err = UnwrapKey(wrapped, []byte("wrong password"))
	assert.ErrorIs(t, err, common.ErrAuth)
}

func TestWrapUnwrapKey_LegacyPBKDF2(t *testing.T) {
	material := GenerateKey()
	password := []byte("old password")
	p := LegacyKDFParams([]byte("legacy-salt-0123"), 1000)

	wrapped, err := WrapKey(material, password, p)
	require.NoError(t, err)

	out, err := UnwrapKey(wrapped, password)
	require.NoError(t, err)
	assert.Equal(t, material, out)
}

func TestImportLegacy_Shapes(t *testing.T) {
	// Build a raw legacy blob by sealing under a PBKDF2-derived KEK,
	// exactly how old versions produced nonce‖ct‖tag with no metadata.
	salt := []byte("legacy-salt-0123")
	password := []byte("pw")
	kek, err := Derive(password, LegacyKDFParams(salt, 1000))
	require.NoError(t, err)
	material := GenerateKey()
	raw, err := Seal(kek, material, nil)
	require.NoError(t, err)

	tests := []struct {
		name string
		in   []byte
	}{
		{"raw bytes", raw},
		{"hex string", []byte(hex.EncodeToString(raw))},
		{"base64 pair", []byte(base64.StdEncoding.EncodeToString(raw[:NonceSize]) + ":" + base64.StdEncoding.EncodeToString(raw[NonceSize:]))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := ImportLegacy(tt.in, salt, 1000)
			require.NoError(t, err)

			out, err := UnwrapKey(encoded, password)
			require.NoError(t, err)
			assert.Equal(t, material, out)
		})
	}
}

func TestImportLegacy_Unrecognized(t *testing.T) {
	_, err := ImportLegacy([]byte("tiny"), []byte("legacy-salt-0123"), 1000)
	assert.ErrorIs(t, err, common.ErrKDF)
}
