// Package dicomuid validates and mints DICOM Unique Identifiers.
package dicomuid

import (
	"math/big"

	"github.com/google/uuid"
)

// MaxLength is the longest UID permitted by PS3.5.
const MaxLength = 64

// uuidRoot is the PS3.5 B.2 root for UIDs derived from a UUID.
const uuidRoot = "2.25."

// Validate reports whether s is a syntactically valid DICOM UID: one or more
// dot-separated numeric components, none empty, none with a leading zero
// unless the component is exactly "0", and no longer than MaxLength.
func Validate(s string) bool {
	if s == "" || len(s) > MaxLength {
		return false
	}

	start := 0
	for i := 0; i <= len(s); i++ {
		if i < len(s) && s[i] != '.' {
			if s[i] < '0' || s[i] > '9' {
				return false
			}
			continue
		}

		component := s[start:i]
		if component == "" {
			return false
		}
		if len(component) > 1 && component[0] == '0' {
			return false
		}
		start = i + 1
	}

	return true
}

// Generate mints a new UID under the 2.25 arc from a random UUID.
func Generate() string {
	id := uuid.New()
	n := new(big.Int).SetBytes(id[:])
	return uuidRoot + n.String()
}
