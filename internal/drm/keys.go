package drm

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1" //#nosec G505 -- SHA-1 is what the AAX format uses
	"crypto/subtle"

	"github.com/listenupapp/aaxconv/internal/errors"
)

// fixedKey is the process-wide constant every Audible client shares,
// hex 77214d4b196a87cd520045fd20a51d67.
var fixedKey = []byte{
	0x77, 0x21, 0x4d, 0x4b, 0x19, 0x6a, 0x87, 0xcd,
	0x52, 0x00, 0x45, 0xfd, 0x20, 0xa5, 0x1d, 0x67,
}

// adrm blob layout, offsets into the box payload.
const (
	blobMinSize       = 88
	blobPayloadStart  = 8  // 48-byte encrypted DRM payload
	blobPayloadEnd    = 56
	blobChecksumStart = 68 // 20-byte SHA-1 checksum
	blobChecksumEnd   = 88
)

// FileKeys is the derived AES key and IV that decrypt every audio sample of
// one file. Read-only after derivation.
type FileKeys struct {
	Key [16]byte
	IV  [16]byte
}

// IntermediateKeys derives the activation-specific AES key and IV used to
// unwrap the adrm payload:
//
//	ik = SHA1(fixedKey || A)[0:16]
//	iv = SHA1(fixedKey || SHA1(fixedKey || A) || A)[0:16]
func IntermediateKeys(a Activation) (ik, iv [16]byte) {
	h := sha1.New()
	h.Write(fixedKey)
	h.Write(a[:])
	ikFull := h.Sum(nil)

	h = sha1.New()
	h.Write(fixedKey)
	h.Write(ikFull)
	h.Write(a[:])
	ivFull := h.Sum(nil)

	copy(ik[:], ikFull[:16])
	copy(iv[:], ivFull[:16])
	return ik, iv
}

// Validate reports whether the activation matches the file's adrm blob:
// SHA1(ik || iv) must equal the blob's embedded checksum. Validate is a
// predicate - it is consulted speculatively and never fails, structurally
// broken blobs simply do not match.
func Validate(blob []byte, a Activation) bool {
	if len(blob) < blobMinSize {
		return false
	}

	ik, iv := IntermediateKeys(a)

	h := sha1.New()
	h.Write(ik[:])
	h.Write(iv[:])
	computed := h.Sum(nil)

	return subtle.ConstantTimeCompare(computed, blob[blobChecksumStart:blobChecksumEnd]) == 1
}

// DeriveKeys unwraps the per-file AES key and IV. Only meaningful after
// Validate has passed; a mismatched activation that somehow got this far is
// still caught by the byte-reversed-activation check on the decrypted
// payload.
func DeriveKeys(blob []byte, a Activation) (FileKeys, error) {
	var keys FileKeys

	if len(blob) < blobMinSize {
		return keys, errors.MalformedContainerf("adrm payload is %d bytes, need at least %d", len(blob), blobMinSize)
	}

	ik, iv := IntermediateKeys(a)

	block, err := aes.NewCipher(ik[:])
	if err != nil {
		return keys, errors.Wrap(err, errors.CodeInternal, "init adrm cipher")
	}

	dec := make([]byte, blobPayloadEnd-blobPayloadStart)
	cipher.NewCBCDecrypter(block, iv[:]).CryptBlocks(dec, blob[blobPayloadStart:blobPayloadEnd])

	reversed := a.Reversed()
	if !bytes.Equal(dec[0:4], reversed[:]) {
		return keys, errors.ActivationMismatch("decrypted DRM payload does not echo the activation")
	}

	copy(keys.Key[:], dec[8:24])

	// The dec[26:42] window deliberately overlaps the file key; the format
	// hashes it that way.
	h := sha1.New()
	h.Write(dec[26:42])
	h.Write(keys.Key[:])
	h.Write(fixedKey)
	copy(keys.IV[:], h.Sum(nil)[:16])

	return keys, nil
}
