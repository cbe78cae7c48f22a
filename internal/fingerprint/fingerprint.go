// Package fingerprint derives the content key that decides whether a
// document needs classification again.
package fingerprint

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// Compute returns the 40-char hex SHA-1 of id, normalized abstract and
// classifier version. Identical inputs always produce identical output.
func Compute(externalID, abstract, classifierVersion string) string {
	payload := externalID + "|" + Normalize(abstract) + "|" + classifierVersion
	sum := sha1.Sum([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// Normalize lowercases text and collapses whitespace runs to single spaces.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
