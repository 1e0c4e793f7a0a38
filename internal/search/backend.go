package search

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Aman-CERP/amangrep/internal/config"
	amerrors "github.com/Aman-CERP/amangrep/internal/errors"
)

// Kind names a backend capability family. The two families differ in
// invocation syntax, output format, and fuzzy support.
type Kind string

const (
	// KindRipgrep: rg-compatible, JSON event output, no fuzzy.
	KindRipgrep Kind = "ripgrep"
	// KindUgrep: ugrep-compatible, formatted output, fuzzy via -Z.
	KindUgrep Kind = "ugrep"
)

// minimum supported major versions.
const (
	minRipgrepMajor = 13
	minUgrepMajor   = 3
)

// Invocation is one backend pass. Files nil means the backend walks
// the tree itself; non-nil restricts the pass to exactly those
// root-relative paths.
type Invocation struct {
	Pattern         string
	Root            string
	Files           []string
	CaseInsensitive bool
	FixedStrings    bool
	WordRegexp      bool
	Context         int
	Fuzzy           int
	Hidden          bool
	Follow          bool
	NoIgnore        bool
	Recursive       bool
	MaxFileSize     int64
	Deadline        time.Time
}

// RawResult is one pass's unordered output. Events carry root-relative
// paths and their parse index; ordering and truncation happen above.
type RawResult struct {
	Events  []Event
	Outcome Outcome
	Stderr  string
}

// Backend runs one search pass against an external grep process.
type Backend interface {
	// Kind reports the capability family.
	Kind() Kind
	// ID is the identity recorded in index keys, e.g. "ugrep@7".
	ID() string
	// Search runs one pass. A backend_error outcome carries the
	// classification in RawResult; err is reserved for failures to
	// run the process at all.
	Search(ctx context.Context, inv Invocation) (*RawResult, error)
}

var versionRe = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

// Probe locates a usable backend binary: the configured preferred
// family first, then the fallback. Each candidate answers --version
// within the probe timeout and must meet the family's minimum major.
func Probe(ctx context.Context, cfg *config.Config) (Backend, error) {
	candidates := []string{cfg.Backend.Preferred, cfg.Backend.Fallback}
	var lastErr error
	for _, bin := range candidates {
		if bin == "" {
			continue
		}
		b, err := probeBinary(ctx, bin, cfg.ProbeTimeout())
		if err != nil {
			lastErr = err
			continue
		}
		return b, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no backend binaries configured")
	}
	return nil, amerrors.New(amerrors.ErrCodeBackendUnavailable,
		"no usable search backend found", lastErr).
		WithSuggestion("install ripgrep (rg) or ugrep and ensure it is on PATH")
}

func probeBinary(ctx context.Context, bin string, timeout time.Duration) (Backend, error) {
	kind, err := kindForBinary(bin)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, bin, "--version").Output()
	if err != nil {
		return nil, fmt.Errorf("probing %s: %w", bin, err)
	}
	major, err := parseMajor(string(out))
	if err != nil {
		return nil, fmt.Errorf("probing %s: %w", bin, err)
	}

	min := minRipgrepMajor
	if kind == KindUgrep {
		min = minUgrepMajor
	}
	if major < min {
		return nil, fmt.Errorf("%s major version %d is below the supported minimum %d", bin, major, min)
	}
	return newExecBackend(bin, kind, major), nil
}

// kindForBinary infers the family from the binary name.
func kindForBinary(bin string) (Kind, error) {
	name := strings.ToLower(bin)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(name, ".exe")
	switch {
	case strings.Contains(name, "ugrep"):
		return KindUgrep, nil
	case name == "rg" || strings.Contains(name, "ripgrep"):
		return KindRipgrep, nil
	}
	return "", fmt.Errorf("unrecognized backend binary %q", bin)
}

// classifyStderr maps a failed pass's stderr onto an error code. The
// shapes cover both families' wording for bad patterns and bad
// options; anything else is a generic backend exit.
func classifyStderr(stderr string) string {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "regex parse error"),
		strings.Contains(lower, "error parsing pattern"),
		strings.Contains(lower, "bad pattern"),
		strings.Contains(lower, "invalid regular expression"),
		strings.Contains(lower, "syntax error"):
		return amerrors.ErrCodeBadPattern
	case strings.Contains(lower, "unrecognized option"),
		strings.Contains(lower, "unknown option"),
		strings.Contains(lower, "invalid option"),
		strings.Contains(lower, "unexpected argument"):
		return amerrors.ErrCodeBadInvocation
	}
	return amerrors.ErrCodeBackendExit
}

// parseMajor pulls the major version out of a --version banner's
// first line.
func parseMajor(banner string) (int, error) {
	line := banner
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	m := versionRe.FindStringSubmatch(line)
	if m == nil {
		return 0, fmt.Errorf("no version in %q", strings.TrimSpace(line))
	}
	return strconv.Atoi(m[1])
}
