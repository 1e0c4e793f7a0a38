// Package bloom implements the per-file Bloom filters behind candidate
// exclusion. A filter answers "might this file contain every n-gram of
// the pattern?" — a negative answer is a proof of absence, a positive
// answer only means the file stays in the candidate set. Filters are
// built per case variant with double hashing over xxhash, so absence
// proofs hold for both case-sensitive and case-insensitive queries.
package bloom

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"github.com/cespare/xxhash/v2"
)

// Variant selects which case treatment a filter was built under.
type Variant uint8

const (
	// Sensitive filters hold grams of the normalized text as written.
	Sensitive Variant = iota
	// Insensitive filters hold grams of the case-folded text.
	Insensitive
)

// String returns the storage identifier for the variant.
func (v Variant) String() string {
	switch v {
	case Sensitive:
		return "sensitive"
	case Insensitive:
		return "insensitive"
	default:
		return fmt.Sprintf("variant(%d)", uint8(v))
	}
}

// Filter is one Bloom bitset built under a fixed parameter set.
type Filter struct {
	params Params
	bits   *bitset.BitSet
}

// NewFilter creates an empty filter for the given parameters.
func NewFilter(p Params) *Filter {
	return &Filter{
		params: p,
		bits:   bitset.New(uint(p.MBits)),
	}
}

// Params returns the parameter set the filter was built under.
func (f *Filter) Params() Params {
	return f.params
}

// Add records one gram in the filter.
func (f *Filter) Add(gram string) {
	h1, h2 := f.params.hashGram(gram)
	m := uint64(f.params.MBits)
	for i := uint64(0); i < uint64(f.params.KHashes); i++ {
		f.bits.Set(uint((h1 + i*h2) % m))
	}
}

// AddAll records every gram of a tokenized file.
func (f *Filter) AddAll(grams []string) {
	for _, g := range grams {
		f.Add(g)
	}
}

// MightContain reports whether the gram may have been added. False is
// definitive: the gram was never added.
func (f *Filter) MightContain(gram string) bool {
	h1, h2 := f.params.hashGram(gram)
	m := uint64(f.params.MBits)
	for i := uint64(0); i < uint64(f.params.KHashes); i++ {
		if !f.bits.Test(uint((h1 + i*h2) % m)) {
			return false
		}
	}
	return true
}

// ProvesAbsent reports whether the filter proves that a pattern with
// the given grams cannot occur in the file: a single definite gram
// miss is proof, since a match would require every gram to be present.
// An empty gram list proves nothing.
func (f *Filter) ProvesAbsent(grams []string) bool {
	if len(grams) == 0 {
		return false
	}
	for _, g := range grams {
		if !f.MightContain(g) {
			return true
		}
	}
	return false
}

// FillRatio returns the fraction of set bits, a saturation diagnostic.
func (f *Filter) FillRatio() float64 {
	if f.params.MBits == 0 {
		return 0
	}
	return float64(f.bits.Count()) / float64(f.params.MBits)
}

// MarshalBinary serializes the bitset for storage. Parameters are not
// included; they live on the owning index key and are enforced on load.
func (f *Filter) MarshalBinary() ([]byte, error) {
	return f.bits.MarshalBinary()
}

// UnmarshalFilter reconstructs a filter from stored bytes under the
// key's parameters. The decoded bitset must be exactly the size the
// parameters dictate; anything else is treated as corruption.
func UnmarshalFilter(p Params, data []byte) (*Filter, error) {
	bits := bitset.New(uint(p.MBits))
	if err := bits.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("failed to decode filter bitset: %w", err)
	}
	if bits.Len() != uint(p.MBits) {
		return nil, fmt.Errorf("filter size %d does not match parameters (want %d bits)", bits.Len(), p.MBits)
	}
	return &Filter{params: p, bits: bits}, nil
}

// hashGram derives the two double-hashing components for one gram.
// Probe i sets bit (h1 + i*h2) mod m; h2 is forced odd so the probe
// sequence walks the whole bit space.
func (p Params) hashGram(gram string) (h1, h2 uint64) {
	sum := xxhash.Sum64String(gram) ^ p.Seed
	return sum, (sum >> 32) | 1
}
