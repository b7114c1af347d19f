package hll

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Hasher is the hash function adapter (C3): it maps an arbitrary hashable
// value to the 64-bit hash the HLL core consumes. Implementations must be
// deterministic (same input -> same output) and should avalanche well in
// both the top log2m bits and the bottom 64-log2m bits independently, per
// spec.md §9 -- the core makes no attempt to re-mix a poorly distributed
// hash.
//
// Hasher deliberately has no method for hashing a generic Go value: picking
// a byte representation for arbitrary types is an application concern. The
// convenience wrappers below (HashUint64, HashFloat64, HashString) cover the
// common cases.
type Hasher interface {
	// Sum64 hashes b into a 64-bit value.
	Sum64(b []byte) uint64
}

// XXHasher is the default Hasher, backed by xxHash (the 64-bit variant).
// xxHash is not cryptographically secure but mixes its input well enough for
// HyperLogLog's needs (spec.md §9 accepts any avalanche-well mixing hash:
// sip-family, xxh-family, wyhash, ahash).
type XXHasher struct{}

// Sum64 implements Hasher.
func (XXHasher) Sum64(b []byte) uint64 {
	return xxhash.Sum64(b)
}

// DefaultHasher is the package-level XXHasher instance used by Insert,
// InsertString, and MayContain (on both Hll and Hybrid).
var DefaultHasher Hasher = XXHasher{}

// HashUint64 hashes an already-numeric value with h, via its 8-byte
// big-endian encoding. Use this for integer keys rather than passing the
// integer itself to AddRaw -- AddRaw expects a value that has already been
// hashed, not a raw identifier, or the top/bottom bit independence the
// algorithm relies on will not hold.
func HashUint64(h Hasher, v uint64) uint64 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return h.Sum64(buf[:])
}

// HashFloat64 hashes a float64 value with h via its IEEE-754 bit pattern.
func HashFloat64(h Hasher, v float64) uint64 {
	return HashUint64(h, math.Float64bits(v))
}

// HashString hashes a string value with h.
func HashString(h Hasher, v string) uint64 {
	return h.Sum64([]byte(v))
}

// Insert hashes value with the package DefaultHasher and adds the result to
// h, mirroring AddRaw but accepting an already-serialized byte value instead
// of a pre-hashed uint64. Returns true if the sketch changed.
func (h *Hll) Insert(value []byte) bool {
	return h.AddRaw(DefaultHasher.Sum64(value))
}

// InsertString hashes value as a string and adds it to h.
func (h *Hll) InsertString(value string) bool {
	return h.Insert([]byte(value))
}
