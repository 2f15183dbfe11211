// Package hashchain implements the record hash-chain algorithm from spec
// §3 and §4.3: a SHA-256 digest over a record's canonical content, and a
// second SHA-256 digest chaining that content hash to the previous
// record's hash, the author, and the timestamp. The exact byte-ordering
// here is load-bearing (spec §4.3 step 5, Invariant 2) and is implemented
// with crypto/sha256 directly rather than through any abstraction, since
// the spec mandates the digest algorithm and byte order literally.
package hashchain

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// ContentHash returns SHA-256(canonicalBytes), base64-encoded. canonicalBytes
// must already be the canonical byte representation decided by the caller
// (spec §4.3 step 4: serialized JSON for application/json, raw UTF-8 for
// text, decoded bytes for base64-carried binary content).
func ContentHash(canonicalBytes []byte) string {
	sum := sha256.Sum256(canonicalBytes)
	return encode(sum[:])
}

// RecordHash computes hash = SHA-256(previousHash || contentHash || userID ||
// createdAtISO), where previousHash is empty for the first record in a
// stream (spec §3, §4.3 step 5). previousHash, contentHash must be the
// base64-encoded strings produced by this package (or "" for a first
// record); the digest operates on their decoded bytes concatenated in the
// order given, never on the encoded strings themselves.
func RecordHash(previousHash, contentHash, userID, createdAtISO string) string {
	h := sha256.New()
	if previousHash != "" {
		h.Write(decode(previousHash))
	}
	h.Write(decode(contentHash))
	h.Write([]byte(userID))
	h.Write([]byte(createdAtISO))
	return encode(h.Sum(nil))
}

func encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func decode(s string) []byte {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// a corrupt or non-base64 previous_hash should never make it into
		// the chain; if one does, its whitespace-trimmed raw bytes are
		// hashed in place of a decoded digest rather than panicking
		// mid-transaction.
		return []byte(strings.TrimSpace(s))
	}
	return b
}
