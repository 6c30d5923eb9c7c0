// Package fingerprint computes content fingerprints used for memory deduplication.
//
// A fingerprint depends only on the content itself — never on the tenant, user,
// or submission time — so duplicate detection works purely on content equality.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Content returns the SHA-256 hex digest of text.
//
// The digest is the deduplication key for memories: at most one live memory per
// tenant may exist for a given digest. The same text always produces the same
// digest regardless of when or by whom it was submitted.
func Content(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
