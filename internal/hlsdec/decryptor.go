// Package hlsdec decrypts HLS media segments that arrive as a stream of
// arbitrarily-sized chunks. AES-128-CBC ciphertext is buffered to 16-byte
// block boundaries and PKCS#7 padding is stripped only once the segment ends,
// which requires holding back one chunk of lookahead at all times.
package hlsdec

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

var (
	// ErrBadPadding is returned when the final block does not end in valid
	// PKCS#7 padding.
	ErrBadPadding = errors.New("failed to unpad data")

	// ErrTrailingBytes is returned when a segment's ciphertext is not a
	// multiple of the cipher block size.
	ErrTrailingBytes = errors.New("ciphertext has trailing bytes after last full block")
)

// Decryptor consumes a chunked byte stream and emits plaintext. The slice
// returned by Process and Flush is only valid until the next call.
type Decryptor interface {
	// Process feeds one chunk and returns any plaintext ready for output.
	Process(chunk []byte) ([]byte, error)
	// Flush signals end-of-stream and returns the remaining plaintext with
	// padding removed.
	Flush() ([]byte, error)
}

// Passthrough returns a Decryptor that emits every chunk unchanged, used for
// unencrypted segments.
func Passthrough() Decryptor {
	return passthrough{}
}

type passthrough struct{}

func (passthrough) Process(chunk []byte) ([]byte, error) { return chunk, nil }
func (passthrough) Flush() ([]byte, error)               { return nil, nil }

type aes128CBC struct {
	mode cipher.BlockMode
	last []byte // one-chunk lookahead, so Flush knows the final chunk
	rest []byte // tail bytes not yet forming a full block
}

// NewAES128CBC creates a streaming AES-128-CBC decryptor. Key and IV must be
// 16 bytes.
func NewAES128CBC(key, iv []byte) (Decryptor, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to init AES cipher: %w", err)
	}

	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("invalid IV length %d", len(iv))
	}

	return &aes128CBC{mode: cipher.NewCBCDecrypter(block, iv)}, nil
}

func (d *aes128CBC) Process(chunk []byte) ([]byte, error) {
	if len(chunk) == 0 {
		return nil, nil
	}

	current := d.last
	d.last = append([]byte(nil), chunk...)

	if current == nil {
		return nil, nil
	}

	return d.decrypt(current, false)
}

func (d *aes128CBC) Flush() ([]byte, error) {
	current := d.last
	d.last = nil

	if current == nil {
		return nil, nil
	}

	return d.decrypt(current, true)
}

func (d *aes128CBC) decrypt(current []byte, final bool) ([]byte, error) {
	buf := append(d.rest, current...)
	ready := len(buf) &^ (aes.BlockSize - 1)
	d.rest = append([]byte(nil), buf[ready:]...)
	buf = buf[:ready]

	if final && len(d.rest) != 0 {
		return nil, ErrTrailingBytes
	}

	// The BlockMode carries the CBC chaining state across calls.
	d.mode.CryptBlocks(buf, buf)

	if final {
		return unpadPKCS7(buf)
	}

	return buf, nil
}

// unpadPKCS7 strips padding from the last block of plaintext.
func unpadPKCS7(plain []byte) ([]byte, error) {
	if len(plain) == 0 || len(plain)%aes.BlockSize != 0 {
		return nil, ErrBadPadding
	}

	pad := int(plain[len(plain)-1])
	if pad == 0 || pad > aes.BlockSize {
		return nil, ErrBadPadding
	}

	for _, b := range plain[len(plain)-pad:] {
		if int(b) != pad {
			return nil, ErrBadPadding
		}
	}

	return plain[:len(plain)-pad], nil
}
