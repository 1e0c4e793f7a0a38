package bloom

import (
	"fmt"
	"math"
)

// expectedGrams is the filter capacity in distinct n-grams per file.
// Files with more distinct grams than this saturate the filter and see
// a higher false-positive rate, which costs speed but never soundness.
const expectedGrams = 4096

// Params fixes the shape of every filter belonging to one index key.
// They are derived once when the key is created and stored immutably;
// a filter whose parameters differ from its key's stored parameters is
// unusable and forces a rebuild.
type Params struct {
	NgramSize int    // runes per gram
	MBits     uint32 // bits per filter
	KHashes   uint32 // probes per gram
	Seed      uint64 // salt mixed into the gram hash
}

// DeriveParams computes filter sizing from an n-gram size and a target
// false-positive rate using the standard Bloom formulas, sized for
// expectedGrams distinct grams per file.
func DeriveParams(ngramSize int, targetFPR float64, seed uint64) Params {
	bitsPerGram := -math.Log(targetFPR) / (math.Ln2 * math.Ln2)

	m := uint32(math.Ceil(bitsPerGram * expectedGrams))
	// Round up to whole 64-bit words so serialized filters have no
	// trailing partial word.
	m = (m + 63) &^ 63

	k := uint32(math.Round(bitsPerGram * math.Ln2))
	if k < 1 {
		k = 1
	}

	return Params{NgramSize: ngramSize, MBits: m, KHashes: k, Seed: seed}
}

// Validate rejects parameter combinations no filter can be built from.
func (p Params) Validate() error {
	if p.NgramSize < 2 || p.NgramSize > 8 {
		return fmt.Errorf("ngram size %d out of range [2,8]", p.NgramSize)
	}
	if p.MBits == 0 {
		return fmt.Errorf("filter bit count must be positive")
	}
	if p.KHashes == 0 {
		return fmt.Errorf("hash count must be positive")
	}
	return nil
}

// ID returns a stable textual identity for the parameter set. It feeds
// the index key, so two catalogs built with different parameters can
// never be confused for one another.
func (p Params) ID() string {
	return fmt.Sprintf("ngram%d-m%d-k%d-s%016x", p.NgramSize, p.MBits, p.KHashes, p.Seed)
}

// Equal reports whether two parameter sets are identical in every
// field. Filters are only comparable under equal parameters.
func (p Params) Equal(other Params) bool {
	return p == other
}
