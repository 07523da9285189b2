// Package bloomfilter implements the per-SSTable membership filter used to
// skip disk reads for keys that are definitely absent.
package bloomfilter

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"
)

// Filter is a bit-array Bloom filter with no false negatives: every key fed
// to Add is guaranteed to probe to bits that MightContain later reads as
// set.
type Filter struct {
	bits []byte
	m    uint64 // number of bits
	k    uint32 // number of hash functions
}

// Optimize computes the bits-per-element and hash-function count for an
// expected element count and a target false-positive rate, per
// m/n = ceil(-ln(p) / (ln 2)^2) and k = round((m/n) * ln 2).
func Optimize(expectedN int, targetFP float64) (bitsPerElement float64, k uint32) {
	if expectedN <= 0 {
		expectedN = 1
	}
	if targetFP <= 0 || targetFP >= 1 {
		targetFP = 0.01
	}
	ln2 := math.Ln2
	bitsPerElement = math.Ceil(-math.Log(targetFP) / (ln2 * ln2))
	k = uint32(math.Round(bitsPerElement * ln2))
	if k < 1 {
		k = 1
	}
	return bitsPerElement, k
}

// New allocates a filter sized for expectedN elements at the given target
// false-positive rate.
func New(expectedN int, targetFP float64) *Filter {
	bitsPerElement, k := Optimize(expectedN, targetFP)
	if expectedN <= 0 {
		expectedN = 1
	}
	m := uint64(math.Ceil(bitsPerElement * float64(expectedN)))
	if m < 8 {
		m = 8
	}
	byteLen := (m + 7) / 8
	m = byteLen * 8

	return &Filter{
		bits: make([]byte, byteLen),
		m:    m,
		k:    k,
	}
}

// Add inserts key into the filter.
func (f *Filter) Add(key []byte) {
	h1, h2 := hash2(key)
	for i := uint32(0); i < f.k; i++ {
		bit := (h1 + uint64(i)*h2) % f.m
		f.bits[bit/8] |= 1 << (bit % 8)
	}
}

// MightContain reports whether key may be present. False means key is
// definitely absent; true may be a false positive.
func (f *Filter) MightContain(key []byte) bool {
	h1, h2 := hash2(key)
	for i := uint32(0); i < f.k; i++ {
		bit := (h1 + uint64(i)*h2) % f.m
		if f.bits[bit/8]&(1<<(bit%8)) == 0 {
			return false
		}
	}
	return true
}

// BitLen returns the number of bits in the filter.
func (f *Filter) BitLen() uint64 { return f.m }

// K returns the number of hash functions used per probe.
func (f *Filter) K() uint32 { return f.k }

// Bytes serializes the filter as [bitLen(8)][k(4)][packed bits...].
func (f *Filter) Bytes() []byte {
	out := make([]byte, 8+4+len(f.bits))
	binary.LittleEndian.PutUint64(out[0:8], f.m)
	binary.LittleEndian.PutUint32(out[8:12], f.k)
	copy(out[12:], f.bits)
	return out
}

// Decode parses a filter from the format written by Bytes.
func Decode(data []byte) (*Filter, error) {
	if len(data) < 12 {
		return nil, ErrTruncated
	}
	m := binary.LittleEndian.Uint64(data[0:8])
	k := binary.LittleEndian.Uint32(data[8:12])
	byteLen := (m + 7) / 8
	if uint64(len(data)-12) < byteLen {
		return nil, ErrTruncated
	}
	bits := make([]byte, byteLen)
	copy(bits, data[12:12+byteLen])
	return &Filter{bits: bits, m: m, k: k}, nil
}

// hash2 derives two independent 64-bit hashes of key for double hashing:
// h_i = (h1 + i*h2) mod m. xxhash and murmur3 are unrelated hash families,
// which keeps the two probes from correlating on adversarial key sets.
func hash2(key []byte) (uint64, uint64) {
	h1 := xxhash.Sum64(key)
	h2 := murmur3.Sum64(key)
	if h2 == 0 {
		// A zero second hash degenerates double hashing to a single probe
		// point; nudge it off zero with a fixed odd constant.
		h2 = 0x9e3779b97f4a7c15
	}
	return h1, h2
}
