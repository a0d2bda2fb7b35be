package calendar

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Fingerprint computes the canonical identity of an event: a sha256 over the
// ordered tuple (start, end, subject, body), with both timestamps rendered in
// their owning timezone. Two events represent the same appointment exactly
// when their fingerprints are equal; changing any of the four fields yields a
// different identity. There is no partial-update path built on top of this.
func Fingerprint(ev Event) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		ev.Start.Format(time.RFC3339),
		ev.End.Format(time.RFC3339),
		ev.Subject,
		ev.Body,
	}, "|")))
	return hex.EncodeToString(sum[:])
}
