package drm

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/listenupapp/aaxconv/internal/errors"
)

// SampleDecrypter decrypts audio access units under a file's derived keys.
// Every sample is independently encrypted starting afresh from the file IV,
// so the decrypter is stateless between samples and safe to reuse for the
// whole stream.
type SampleDecrypter struct {
	block cipher.Block
	iv    [16]byte
}

// NewSampleDecrypter builds a decrypter for the given file keys.
func NewSampleDecrypter(keys FileKeys) (*SampleDecrypter, error) {
	block, err := aes.NewCipher(keys.Key[:])
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "init sample cipher")
	}
	return &SampleDecrypter{block: block, iv: keys.IV}, nil
}

// Decrypt returns the plaintext of one sample, always the same length as the
// input. Only whole AES blocks are encrypted in AAX; the trailing partial
// block is stored in the clear and copied through verbatim. dst is reused
// when it has sufficient capacity.
func (d *SampleDecrypter) Decrypt(dst, ciphertext []byte) []byte {
	n := len(ciphertext)
	aligned := n &^ (aes.BlockSize - 1)

	if cap(dst) < n {
		dst = make([]byte, n)
	}
	dst = dst[:n]

	if aligned == 0 {
		// Too short to contain any encrypted block.
		copy(dst, ciphertext)
		return dst
	}

	iv := d.iv
	cipher.NewCBCDecrypter(d.block, iv[:]).CryptBlocks(dst[:aligned], ciphertext[:aligned])
	copy(dst[aligned:], ciphertext[aligned:])
	return dst
}

// DecryptSample is the one-shot form of Decrypt.
func DecryptSample(ciphertext []byte, keys FileKeys) ([]byte, error) {
	d, err := NewSampleDecrypter(keys)
	if err != nil {
		return nil, err
	}
	return d.Decrypt(nil, ciphertext), nil
}
