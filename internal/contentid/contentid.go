// Package contentid derives deterministic passage identifiers from document id, position, and text.
package contentid

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

const prefix = "psg:"

// PassageID returns a stable id for the passage at index within documentID.
// The same document, position, and text always yield the same id, so re-adding the
// passages of a retried ingestion overwrites instead of duplicating them.
func PassageID(documentID string, index int, text string) string {
	h := sha256.New()
	h.Write([]byte(documentID))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(index)))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return prefix + hex.EncodeToString(h.Sum(nil))[:32]
}
