// Package drm implements Audible activation validation, per-file key
// derivation, and sample decryption for AAX audiobooks.
//
// All hashing is SHA-1 and all symmetric crypto is AES-128-CBC without
// padding; that is what the format uses, not a choice this package gets to
// make.
package drm

import (
	"encoding/hex"
	"regexp"

	"github.com/listenupapp/aaxconv/internal/errors"
)

// Activation is the 4-byte account-bound secret. Its canonical external form
// is exactly 8 hexadecimal characters, case-insensitive.
type Activation [4]byte

var activationRe = regexp.MustCompile(`^[0-9a-fA-F]{8}$`)

// IsValidText reports whether s is a well-formed activation code.
func IsValidText(s string) bool {
	return activationRe.MatchString(s)
}

// ParseActivation decodes the textual activation form into its bytes.
func ParseActivation(s string) (Activation, error) {
	var a Activation
	if !IsValidText(s) {
		return a, errors.InvalidActivation("activation code must be exactly 8 hex digits")
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		// Unreachable after the regexp check, but hex.DecodeString returns
		// an error and ignoring it would be worse.
		return a, errors.Wrap(err, errors.CodeInvalidActivation, "activation code is not valid hex")
	}
	copy(a[:], raw)
	return a, nil
}

// String renders the canonical lowercase hex form.
func (a Activation) String() string {
	return hex.EncodeToString(a[:])
}

// Reversed returns the byte-reversed activation. The decrypted DRM payload
// opens with this value; it is the post-decryption sanity check.
func (a Activation) Reversed() [4]byte {
	return [4]byte{a[3], a[2], a[1], a[0]}
}
