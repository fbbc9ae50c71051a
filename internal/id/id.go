// Package id mints the identifiers stored in the conversion ledger.
package id

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// conversionPrefix namespaces ledger row IDs so a bare ID in a log line is
// recognizable, e.g. "cnv-V1StGXR8_Z5jdHi6B-myT".
const conversionPrefix = "cnv"

// Conversion mints the ID for one ledger row. NanoIDs keep rows compact
// (21 characters, URL-safe alphabet) and need no coordination between runs.
//
// Returns an error if the system has insufficient entropy for secure random
// generation.
func Conversion() (string, error) {
	return generate(conversionPrefix)
}

func generate(prefix string) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate nanoid: %w", err)
	}
	return prefix + "-" + id, nil
}
