// Package validation rejects malformed search requests before any
// catalog or backend work happens. Every rejection carries a 1xx
// error code so callers and logs can tell bad input from real
// failures.
package validation

import (
	"fmt"
	"strings"

	amerrors "github.com/Aman-CERP/amangrep/internal/errors"
)

// limits that no request may exceed whatever the configuration says.
const (
	MaxFuzzyLevel = 9
	MaxContext    = 100
	MaxResultsCap = 100000
)

// Params are the request fields validation inspects. The search
// package maps its request onto this so validation stays below it in
// the dependency order.
type Params struct {
	Pattern    string
	Case       string
	Globs      []string
	Fuzzy      int
	Context    int
	MaxResults int
	TimeoutMS  int
}

// Validate checks one request. The first violation found is returned;
// nil means the request may proceed.
func Validate(p Params) error {
	if strings.TrimSpace(p.Pattern) == "" {
		return amerrors.New(amerrors.ErrCodeEmptyPattern, "search pattern is empty", nil).
			WithSuggestion("provide a non-empty pattern")
	}
	if p.Fuzzy < 0 || p.Fuzzy > MaxFuzzyLevel {
		return amerrors.New(amerrors.ErrCodeInvalidFuzzy,
			fmt.Sprintf("fuzzy level %d is outside 0..%d", p.Fuzzy, MaxFuzzyLevel), nil)
	}
	if p.Context < 0 || p.Context > MaxContext {
		return amerrors.New(amerrors.ErrCodeInvalidLimit,
			fmt.Sprintf("context %d is outside 0..%d", p.Context, MaxContext), nil)
	}
	if p.MaxResults < 0 || p.MaxResults > MaxResultsCap {
		return amerrors.New(amerrors.ErrCodeInvalidLimit,
			fmt.Sprintf("max results %d is outside 0..%d", p.MaxResults, MaxResultsCap), nil)
	}
	if p.TimeoutMS < 0 {
		return amerrors.New(amerrors.ErrCodeInvalidLimit, "timeout must not be negative", nil)
	}
	switch p.Case {
	case "", "auto", "sensitive", "insensitive":
	default:
		return amerrors.New(amerrors.ErrCodeInvalidCase,
			fmt.Sprintf("case mode %q is not auto, sensitive, or insensitive", p.Case), nil)
	}
	for _, g := range p.Globs {
		if strings.TrimSpace(strings.TrimPrefix(g, "!")) == "" {
			return amerrors.New(amerrors.ErrCodeInvalidGlob, "glob pattern is empty", nil)
		}
		if strings.ContainsRune(g, '\x00') {
			return amerrors.New(amerrors.ErrCodeInvalidGlob,
				fmt.Sprintf("glob %q contains a NUL byte", g), nil)
		}
	}
	return nil
}
