// Package mhash provides the 64-bit non-cryptographic combined hash used
// throughout the ledger: the block nonce, the block hash, and the mining
// hash that breaks ties between competing blocks at the same round.
//
// xxhash is a fast, well-known, non-cryptographic 64-bit hash. Collisions
// are expected and tolerated: the digest only orders competing blocks and
// links the chain, it is not a security boundary. Must never be swapped
// for a cryptographic hash -- block ordering assumes its distribution.
package mhash

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Combiner accumulates a sequence of fields into one 64-bit digest.
type Combiner struct {
	d *xxhash.Digest
}

// New returns an empty Combiner.
func New() *Combiner {
	return &Combiner{d: xxhash.New()}
}

// WriteUint64 folds a uint64 into the digest in little-endian order.
func (c *Combiner) WriteUint64(v uint64) *Combiner {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	c.d.Write(buf[:])
	return c
}

// WriteInt writes a platform-width integer as a little-endian uint64.
func (c *Combiner) WriteInt(v int) *Combiner {
	return c.WriteUint64(uint64(v))
}

// WriteUint128 folds a microsecond timestamp (modeled as two uint64 halves,
// since Go has no native 128-bit integer) into the digest.
func (c *Combiner) WriteUint128(hi, lo uint64) *Combiner {
	c.WriteUint64(hi)
	c.WriteUint64(lo)
	return c
}

// WriteFloat64 folds an IEEE-754 amount into the digest using its raw
// big-endian bits.
func (c *Combiner) WriteFloat64(v float64) *Combiner {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(v))
	c.d.Write(buf[:])
	return c
}

// WriteString folds a string's bytes into the digest.
func (c *Combiner) WriteString(s string) *Combiner {
	c.d.Write([]byte(s))
	return c
}

// Sum64 returns the accumulated digest.
func (c *Combiner) Sum64() uint64 {
	return c.d.Sum64()
}
