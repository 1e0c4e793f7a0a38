package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amangrep/internal/errors"
	"github.com/Aman-CERP/amangrep/internal/search"
)

func TestSearchCmd_RequiresPattern(t *testing.T) {
	// Given: a search command with no arguments
	cmd := newSearchCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	// When: executing
	err := cmd.Execute()

	// Then: argument validation should reject it
	require.Error(t, err)
}

func TestSearchCmd_RejectsExtraArgs(t *testing.T) {
	// Given: a search command with three positional arguments
	cmd := newSearchCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"pat", "path", "extra"})

	// When: executing
	err := cmd.Execute()

	// Then: argument validation should reject it
	require.Error(t, err)
}

func TestSearchCmd_RegistersExpectedFlags(t *testing.T) {
	// Given: a search command
	cmd := newSearchCmd()

	// Then: the backend-facing flags exist with their shorthands
	for flag, shorthand := range map[string]string{
		"glob":          "g",
		"fixed-strings": "F",
		"word-regexp":   "w",
		"context":       "C",
		"fuzzy":         "Z",
		"follow":        "L",
		"max-results":   "n",
	} {
		f := cmd.Flags().Lookup(flag)
		require.NotNil(t, f, "flag --%s not registered", flag)
		assert.Equal(t, shorthand, f.Shorthand, "flag --%s shorthand", flag)
	}
	for _, flag := range []string{"case", "timeout-ms", "hidden", "no-ignore", "no-recursive", "no-index", "stats", "json"} {
		assert.NotNil(t, cmd.Flags().Lookup(flag), "flag --%s not registered", flag)
	}
}

func TestRenderMatches_GrepStyleLines(t *testing.T) {
	// Given: a response with one match and one context line
	resp := &search.Response{
		Matches: []search.Event{
			{Kind: search.KindContext, Path: "a.go", Line: 9, Text: "\tx := 1"},
			{Kind: search.KindMatch, Path: "a.go", Line: 10, Column: 2, Text: "\tneedle"},
		},
		Count: 1,
	}

	// When: rendering to a plain buffer
	buf := &bytes.Buffer{}
	renderMatches(buf, resp)

	// Then: matches use colons, context uses dashes
	out := buf.String()
	assert.Contains(t, out, "a.go:10:2:\tneedle")
	assert.Contains(t, out, "a.go-9-\tx := 1")
	assert.NotContains(t, out, "\x1b[", "Buffer output should carry no ANSI codes")
}

func TestRenderNotes_TimeoutWinsOverTruncation(t *testing.T) {
	// Given: a timed-out, truncated response
	resp := &search.Response{Count: 5, Truncated: true, TimedOut: true}

	// When: rendering notes
	buf := &bytes.Buffer{}
	renderNotes(buf, resp)

	// Then: the timeout warning is shown, not the truncation note
	assert.Contains(t, buf.String(), "timed out")
	assert.NotContains(t, buf.String(), "truncated at")
}

func TestRenderNotes_TruncationOnly(t *testing.T) {
	// Given: a truncated response
	resp := &search.Response{Count: 200, Truncated: true}

	// When: rendering notes
	buf := &bytes.Buffer{}
	renderNotes(buf, resp)

	// Then: the truncation note names the match count
	assert.Contains(t, buf.String(), "truncated at 200 matches")
}

func TestRenderStats_ExclusionAndFallbackForms(t *testing.T) {
	// Given: stats from an accelerated search
	buf := &bytes.Buffer{}
	renderStats(buf, &search.Stats{
		IndexState:     "COMPLETE",
		ExclusionUsed:  true,
		CandidateFiles: 12,
		ExcludedFiles:  88,
		BackendFamily:  "ripgrep",
	})
	assert.Contains(t, buf.String(), "candidates: 12 (88 excluded)")

	// Given: stats from a degraded search
	buf.Reset()
	renderStats(buf, &search.Stats{
		IndexState:      "UNCERTAIN",
		UncertainReason: "WATCHER_OVERFLOW",
		FallbackReason:  "uncertain",
		BackendFamily:   "ugrep",
	})
	assert.Contains(t, buf.String(), "UNCERTAIN (WATCHER_OVERFLOW)")
	assert.Contains(t, buf.String(), "fallback: uncertain")
}

func TestRenderError_SurfacesSuggestion(t *testing.T) {
	// Given: a classified error carrying a suggestion
	ge := amerrors.New("BACKEND_UNAVAILABLE", "no backend found", nil).
		WithSuggestion("install ripgrep")

	// When: rendering it
	buf := &bytes.Buffer{}
	err := renderError(buf, ge)

	// Then: the hint is printed and the error passes through
	assert.Contains(t, buf.String(), "hint: install ripgrep")
	assert.Same(t, ge, err)
}
