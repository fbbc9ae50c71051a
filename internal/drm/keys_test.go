package drm

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/aaxconv/internal/errors"
)

// sealBlob builds an adrm payload that validates for the given activation
// and unwraps to the given file key - the inverse of DeriveKeys.
func sealBlob(t *testing.T, a Activation, fileKey [16]byte) []byte {
	t.Helper()

	dec := make([]byte, 48)
	rev := a.Reversed()
	copy(dec[0:4], rev[:])
	copy(dec[8:24], fileKey[:])
	for i := 24; i < 48; i++ {
		dec[i] = byte(i * 7)
	}

	ik, iv := IntermediateKeys(a)

	block, err := aes.NewCipher(ik[:])
	require.NoError(t, err)
	enc := make([]byte, 48)
	cipher.NewCBCEncrypter(block, iv[:]).CryptBlocks(enc, dec)

	h := sha1.New()
	h.Write(ik[:])
	h.Write(iv[:])
	checksum := h.Sum(nil)

	blob := make([]byte, 88)
	copy(blob[8:56], enc)
	copy(blob[68:88], checksum)
	return blob
}

func testActivation(t *testing.T) Activation {
	t.Helper()
	a, err := ParseActivation("1CEB00DA")
	require.NoError(t, err)
	return a
}

func TestIntermediateKeys_Deterministic(t *testing.T) {
	a := testActivation(t)

	ik1, iv1 := IntermediateKeys(a)
	ik2, iv2 := IntermediateKeys(a)
	assert.Equal(t, ik1, ik2)
	assert.Equal(t, iv1, iv2)

	other := Activation{0, 0, 0, 0}
	ik3, _ := IntermediateKeys(other)
	assert.NotEqual(t, ik1, ik3)
}

func TestValidate_MatchingActivation(t *testing.T) {
	a := testActivation(t)
	blob := sealBlob(t, a, [16]byte{1, 2, 3, 4})

	assert.True(t, Validate(blob, a))
}

func TestValidate_WrongActivation(t *testing.T) {
	a := testActivation(t)
	blob := sealBlob(t, a, [16]byte{1, 2, 3, 4})

	assert.False(t, Validate(blob, Activation{0, 0, 0, 0}))
}

func TestValidate_ShortBlobIsFalseNotError(t *testing.T) {
	a := testActivation(t)

	assert.False(t, Validate(nil, a))
	assert.False(t, Validate(make([]byte, 87), a))
}

func TestDeriveKeys_UnwrapsFileKey(t *testing.T) {
	a := testActivation(t)
	fileKey := [16]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99}
	blob := sealBlob(t, a, fileKey)

	keys, err := DeriveKeys(blob, a)
	require.NoError(t, err)
	assert.Equal(t, fileKey, keys.Key)
	assert.NotEqual(t, [16]byte{}, keys.IV)
}

func TestDeriveKeys_IVDerivation(t *testing.T) {
	a := testActivation(t)
	fileKey := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	blob := sealBlob(t, a, fileKey)

	keys, err := DeriveKeys(blob, a)
	require.NoError(t, err)

	// Recompute from the known plaintext: dec[26:42] then key then fixedKey.
	dec := make([]byte, 48)
	rev := a.Reversed()
	copy(dec[0:4], rev[:])
	copy(dec[8:24], fileKey[:])
	for i := 24; i < 48; i++ {
		dec[i] = byte(i * 7)
	}
	h := sha1.New()
	h.Write(dec[26:42])
	h.Write(fileKey[:])
	h.Write(fixedKey)
	var wantIV [16]byte
	copy(wantIV[:], h.Sum(nil)[:16])

	assert.Equal(t, wantIV, keys.IV)
}

func TestDeriveKeys_WrongActivationMismatch(t *testing.T) {
	a := testActivation(t)
	blob := sealBlob(t, a, [16]byte{1})

	_, err := DeriveKeys(blob, Activation{0x00, 0x00, 0x00, 0x00})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrActivationMismatch))
}

func TestDeriveKeys_ShortBlob(t *testing.T) {
	a := testActivation(t)

	_, err := DeriveKeys(make([]byte, 40), a)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMalformedContainer))
}
