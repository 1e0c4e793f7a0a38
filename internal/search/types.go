// Package search executes accelerated grep requests: it resolves
// paths, decides whether the index may narrow the candidate set,
// drives the external backend, and renders a deterministic, bounded
// response. The index is strictly an accelerator here; every search
// has a correct non-indexed execution path and falls back to it
// whenever the index cannot prove it is safe.
package search

import (
	"time"
)

// CaseMode selects how letter case is matched.
type CaseMode string

const (
	// CaseAuto derives sensitivity from the pattern: an ASCII
	// uppercase letter makes it sensitive, anything else insensitive.
	CaseAuto        CaseMode = "auto"
	CaseSensitive   CaseMode = "sensitive"
	CaseInsensitive CaseMode = "insensitive"
)

// Request is one search invocation.
type Request struct {
	Pattern      string
	Path         string
	Hidden       bool
	Follow       bool
	NoIgnore     bool
	Glob         []string
	Case         CaseMode
	FixedStrings bool
	WordRegexp   bool
	Context      int
	MaxResults   int
	TimeoutMS    int
	Fuzzy        int // edit distance, 0 disables
	Recursive    bool
}

// EventKind tags a response event.
type EventKind string

const (
	// KindMatch is a line containing at least one pattern match.
	KindMatch EventKind = "match"
	// KindContext is a surrounding line emitted for context.
	KindContext EventKind = "context"
)

// Event is one line of output. Match and context events count
// identically toward truncation.
type Event struct {
	Kind      EventKind `json:"kind"`
	Path      string    `json:"path"`
	Line      int       `json:"line"`
	Column    int       `json:"column,omitempty"` // match events only
	Text      string    `json:"text"`
	MatchText string    `json:"match_text,omitempty"` // match events only

	// ordering internals, never serialized
	sortKey  []byte
	parseIdx int
}

// Outcome classifies how a backend pass ended.
type Outcome string

const (
	OutcomeMatches      Outcome = "ok_with_matches"
	OutcomeNoMatches    Outcome = "ok_no_matches"
	OutcomeTruncated    Outcome = "truncated"
	OutcomeTimedOut     Outcome = "timed_out"
	OutcomeBackendError Outcome = "backend_error"
)

// Stats is the optional diagnostics block. The deterministic fields
// are stable across repeated identical runs; the timing and byte
// fields are best-effort.
type Stats struct {
	IndexState         string  `json:"index_state"`
	UncertainReason    string  `json:"uncertain_reason,omitempty"`
	ExclusionUsed      bool    `json:"exclusion_used"`
	StorageMode        string  `json:"storage_mode,omitempty"`
	CandidateFiles     int     `json:"candidate_files"`
	ExcludedFiles      int     `json:"excluded_files"`
	FallbackReason     string  `json:"fallback_reason,omitempty"`
	FuzzyLevelsTried   []int   `json:"fuzzy_levels_tried,omitempty"`
	FuzzyLevelsSkipped []int   `json:"fuzzy_levels_skipped,omitempty"`
	BackendFamily      string  `json:"backend_family"`
	ElapsedMS          int64   `json:"elapsed_ms"`
	BackendElapsedMS   int64   `json:"backend_elapsed_ms"`
	BytesScanned       int64   `json:"bytes_scanned,omitempty"`
}

// Response is the rendered result of one request.
type Response struct {
	Matches   []Event `json:"matches"`
	Count     int     `json:"count"`
	Truncated bool    `json:"truncated"`
	TimedOut  bool    `json:"timed_out"`
	Stats     *Stats  `json:"stats,omitempty"`
}

// Deadline derives the request's absolute deadline.
func (r Request) Deadline(now time.Time) time.Time {
	return now.Add(time.Duration(r.TimeoutMS) * time.Millisecond)
}
