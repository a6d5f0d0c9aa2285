// Package hashing provides the deterministic content hashing and Merkle root
// computation that receipts and proofs are built on. Every economic decision
// downstream is gated on these digests, so all hashing is SHA-256.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// EmptyRoot is the sentinel Merkle root of an empty leaf sequence.
const EmptyRoot = "0"

// Hash returns the hex-encoded SHA-256 digest of the given bytes.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashJSON hashes the canonical JSON encoding of v. encoding/json sorts map
// keys, so logically equal values always produce the same digest regardless
// of insertion order.
func HashJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to serialize for hashing: %w", err)
	}
	return Hash(data), nil
}

// HashCanonical hashes a raw JSON payload after canonicalization, so
// logically equal payloads hash identically regardless of key order in the
// raw bytes. Non-JSON payloads are hashed as-is.
func HashCanonical(raw []byte) (string, error) {
	if len(raw) == 0 {
		return Hash(nil), nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return Hash(raw), nil
	}
	return HashJSON(v)
}

// HashPair combines two hex digests into their parent digest.
func HashPair(a, b string) string {
	return Hash([]byte(a + b))
}

// MerkleRoot computes the binary Merkle root of a sequence of digests.
// An empty sequence yields EmptyRoot and a single element is returned
// unchanged. Odd levels duplicate their last leaf.
func MerkleRoot(leaves []string) string {
	if len(leaves) == 0 {
		return EmptyRoot
	}
	if len(leaves) == 1 {
		return leaves[0]
	}

	level := leaves
	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, HashPair(left, right))
		}
		level = next
	}
	return level[0]
}
