// Package merkle implements the binary hash tree used to commit a set of files
// and prove the membership of any single file against the committed root.
package merkle

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/zeebo/blake3"
)

// HashSize is the length in bytes of every digest in the tree
const HashSize = 32

// Hash is a fixed-length digest produced by a Hasher
type Hash [HashSize]byte

// String returns the lowercase hex encoding of the hash
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns a copy of the hash as a byte slice
func (h Hash) Bytes() []byte {
	b := make([]byte, HashSize)
	copy(b, h[:])
	return b
}

// Equal compares two hashes in constant time
func (h Hash) Equal(other Hash) bool {
	return subtle.ConstantTimeCompare(h[:], other[:]) == 1
}

// MarshalText encodes the hash as hex
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText decodes a hex encoded hash
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash decodes a hex string into a Hash. Surrounding whitespace is ignored
// so values read back from text files parse cleanly.
func ParseHash(s string) (Hash, error) {
	var h Hash

	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return h, fmt.Errorf("invalid hash hex: %w", err)
	}
	if len(raw) != HashSize {
		return h, fmt.Errorf("invalid hash length: %d (expected %d)", len(raw), HashSize)
	}

	copy(h[:], raw)
	return h, nil
}

// Hasher is the digest primitive used for both leaves and interior nodes
type Hasher interface {
	// Name identifies the algorithm in configuration and on the wire
	Name() string

	// Sum digests an arbitrary byte string, including the empty one
	Sum(data []byte) Hash

	// New returns a streaming digest that agrees with Sum
	New() hash.Hash
}

// SumReader digests everything r yields and reports the byte count
func SumReader(h Hasher, r io.Reader) (Hash, int64, error) {
	var out Hash

	d := h.New()
	n, err := io.Copy(d, r)
	if err != nil {
		return out, n, fmt.Errorf("failed to hash stream: %w", err)
	}
	copy(out[:], d.Sum(nil))
	return out, n, nil
}

// Combine derives a parent from two children: Sum(left || right).
// Operand order is significant.
func Combine(h Hasher, left, right Hash) Hash {
	var buf [2 * HashSize]byte
	copy(buf[:HashSize], left[:])
	copy(buf[HashSize:], right[:])
	return h.Sum(buf[:])
}

type sha256Hasher struct{}

func (sha256Hasher) Name() string { return "sha256" }

func (sha256Hasher) Sum(data []byte) Hash {
	return Hash(sha256.Sum256(data))
}

func (sha256Hasher) New() hash.Hash { return sha256.New() }

type blake3Hasher struct{}

func (blake3Hasher) Name() string { return "blake3" }

func (blake3Hasher) Sum(data []byte) Hash {
	return Hash(blake3.Sum256(data))
}

func (blake3Hasher) New() hash.Hash { return blake3.New() }

var (
	// SHA256 is the default hasher
	SHA256 Hasher = sha256Hasher{}

	// BLAKE3 is a faster alternative; client and server must agree on it
	BLAKE3 Hasher = blake3Hasher{}
)

// HasherByName resolves a configured algorithm name. An empty name selects SHA256.
func HasherByName(name string) (Hasher, error) {
	switch strings.ToLower(name) {
	case "", "sha256", "sha-256":
		return SHA256, nil
	case "blake3":
		return BLAKE3, nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %s", name)
	}
}
