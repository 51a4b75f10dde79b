package hlsdec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testKey = []byte("0123456789abcdef")
	testIV  = []byte("fedcba9876543210")
)

// encryptPKCS7 is the inverse of the decryptor: pad, then CBC-encrypt.
func encryptPKCS7(t *testing.T, plain []byte) []byte {
	t.Helper()

	pad := aes.BlockSize - len(plain)%aes.BlockSize
	padded := append(append([]byte(nil), plain...), bytes.Repeat([]byte{byte(pad)}, pad)...)

	block, err := aes.NewCipher(testKey)
	require.NoError(t, err)

	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, testIV).CryptBlocks(out, padded)

	return out
}

// runChunked feeds data through d split at the given boundaries and returns
// the concatenated output.
func runChunked(t *testing.T, d Decryptor, data []byte, chunkSizes []int) []byte {
	t.Helper()

	var out []byte
	rest := data

	for len(rest) > 0 {
		for _, size := range chunkSizes {
			if size > len(rest) {
				size = len(rest)
			}
			part, err := d.Process(rest[:size])
			require.NoError(t, err)
			out = append(out, part...)
			rest = rest[size:]
			if len(rest) == 0 {
				break
			}
		}
	}

	part, err := d.Flush()
	require.NoError(t, err)

	return append(out, part...)
}

func TestPassthroughIsIdentity(t *testing.T) {
	data := []byte("some unencrypted transport stream bytes")

	d := Passthrough()
	got := runChunked(t, d, data, []int{1, 3, 7})

	assert.Equal(t, data, got)

	part, err := d.Flush()
	require.NoError(t, err)
	assert.Empty(t, part)
}

func TestAES128CBCRoundTrip(t *testing.T) {
	plain := []byte("The quick brown fox jumps over the lazy dog. 0123456789!")
	encrypted := encryptPKCS7(t, plain)

	tests := []struct {
		name   string
		chunks []int
	}{
		{"one shot", []int{len(encrypted)}},
		{"byte at a time", []int{1}},
		{"mid-block splits", []int{5, 11, 3}},
		{"block aligned", []int{16}},
		{"large then small", []int{33, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewAES128CBC(testKey, testIV)
			require.NoError(t, err)

			got := runChunked(t, d, encrypted, tt.chunks)
			assert.Equal(t, plain, got)
		})
	}
}

func TestAES128CBCExactBlockPlaintext(t *testing.T) {
	// A plaintext that is an exact block multiple forces a full padding block.
	plain := bytes.Repeat([]byte{0xAB}, 48)
	encrypted := encryptPKCS7(t, plain)

	d, err := NewAES128CBC(testKey, testIV)
	require.NoError(t, err)

	got := runChunked(t, d, encrypted, []int{7})
	assert.Equal(t, plain, got)
}

func TestAES128CBCBadPadding(t *testing.T) {
	plain := []byte("valid data")
	encrypted := encryptPKCS7(t, plain)
	encrypted[len(encrypted)-1] ^= 0xFF // corrupt the padding byte

	d, err := NewAES128CBC(testKey, testIV)
	require.NoError(t, err)

	_, err = d.Process(encrypted)
	require.NoError(t, err)

	_, err = d.Flush()
	assert.ErrorIs(t, err, ErrBadPadding)
}

func TestAES128CBCTrailingBytes(t *testing.T) {
	encrypted := encryptPKCS7(t, []byte("valid data"))
	truncated := encrypted[:len(encrypted)-5]

	d, err := NewAES128CBC(testKey, testIV)
	require.NoError(t, err)

	_, err = d.Process(truncated)
	require.NoError(t, err)

	_, err = d.Flush()
	assert.ErrorIs(t, err, ErrTrailingBytes)
}

func TestNewAES128CBCRejectsBadLengths(t *testing.T) {
	_, err := NewAES128CBC([]byte("short"), testIV)
	assert.Error(t, err)

	_, err = NewAES128CBC(testKey, []byte("short"))
	assert.Error(t, err)
}

func TestAES128CBCEmptySegment(t *testing.T) {
	d, err := NewAES128CBC(testKey, testIV)
	require.NoError(t, err)

	part, err := d.Flush()
	require.NoError(t, err)
	assert.Empty(t, part)
}
