package index

import (
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/Aman-CERP/amangrep/internal/config"
	"github.com/Aman-CERP/amangrep/internal/order"
	"github.com/Aman-CERP/amangrep/internal/store"
)

// DefaultSeed is the fixed hash seed baked into every key unless
// configuration overrides it. Changing it changes the key, which
// forces a rebuild rather than mixing bitsets hashed two ways.
const DefaultSeed uint64 = 0x616d616e67726570

// Key identifies one index instance. Anything that changes which files
// are catalogued or how they are tokenized is part of the key; two
// requests with equal keys share one catalog. Query-time parameters
// like case mode or result limits are deliberately not part of it.
type Key struct {
	Root      string `json:"root"`
	Backend   string `json:"backend"`
	Hidden    bool   `json:"hidden"`
	Follow    bool   `json:"follow"`
	NoIgnore  bool   `json:"no_ignore"`
	NgramSize int    `json:"ngram_size"`
	Seed      uint64 `json:"seed"`
	Schema    int    `json:"schema"`
}

// Options are the traversal switches that shape the candidate set.
type Options struct {
	Hidden   bool
	Follow   bool
	NoIgnore bool
}

// NewKey canonicalizes the root and assembles the key for it.
func NewKey(root, backend string, opts Options, cfg *config.Config) (Key, error) {
	canonical, err := order.Canonicalize(root)
	if err != nil {
		return Key{}, fmt.Errorf("canonicalizing index root: %w", err)
	}
	return Key{
		Root:      canonical,
		Backend:   backend,
		Hidden:    opts.Hidden,
		Follow:    opts.Follow,
		NoIgnore:  opts.NoIgnore,
		NgramSize: cfg.Index.NgramSize,
		Seed:      DefaultSeed,
		Schema:    store.SchemaVersion,
	}, nil
}

// CanonicalJSON is the stable serialized form stored alongside the
// catalog and verified on reopen. Field order is fixed by the struct.
func (k Key) CanonicalJSON() string {
	data, err := json.Marshal(k)
	if err != nil {
		// Key has no unmarshalable fields; this cannot happen.
		panic(fmt.Sprintf("serializing index key: %v", err))
	}
	return string(data)
}

// Hash names the key's cache directory.
func (k Key) Hash() string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(k.CanonicalJSON()))
}

func (k Key) Equal(other Key) bool {
	return k == other
}
