package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulator_OrdersByPathThenLine(t *testing.T) {
	// Given events arriving in backend order, not output order
	acc := newAccumulator(0)
	acc.addAll([]Event{
		{Kind: KindMatch, Path: "z/last.txt", Line: 1, parseIdx: 0},
		{Kind: KindMatch, Path: "a/first.txt", Line: 9, parseIdx: 1},
		{Kind: KindMatch, Path: "a/first.txt", Line: 2, parseIdx: 2},
		{Kind: KindMatch, Path: "m/mid.txt", Line: 5, parseIdx: 3},
	})

	// When finished without a limit
	out, truncated := acc.finish(0)

	// Then paths sort bytewise and lines ascend within a path
	require.Len(t, out, 4)
	assert.False(t, truncated)
	assert.Equal(t, "a/first.txt", out[0].Path)
	assert.Equal(t, 2, out[0].Line)
	assert.Equal(t, "a/first.txt", out[1].Path)
	assert.Equal(t, 9, out[1].Line)
	assert.Equal(t, "m/mid.txt", out[2].Path)
	assert.Equal(t, "z/last.txt", out[3].Path)
}

func TestAccumulator_ContextSortsBeforeMatchOnSameLine(t *testing.T) {
	acc := newAccumulator(0)
	acc.addAll([]Event{
		{Kind: KindMatch, Path: "f.txt", Line: 3, parseIdx: 0},
		{Kind: KindContext, Path: "f.txt", Line: 3, parseIdx: 1},
	})

	out, _ := acc.finish(0)

	require.Len(t, out, 2)
	assert.Equal(t, KindContext, out[0].Kind)
	assert.Equal(t, KindMatch, out[1].Kind)
}

func TestAccumulator_PerFileCapClosesFile(t *testing.T) {
	// Given a two-match cap and a chatty file
	acc := newAccumulator(2)
	acc.addAll([]Event{
		{Kind: KindMatch, Path: "noisy.txt", Line: 1},
		{Kind: KindMatch, Path: "noisy.txt", Line: 2},
		{Kind: KindMatch, Path: "noisy.txt", Line: 3},
		{Kind: KindContext, Path: "noisy.txt", Line: 4},
		{Kind: KindMatch, Path: "quiet.txt", Line: 1},
	})

	out, _ := acc.finish(0)

	// Then the third match and everything after it for that file is
	// gone, while other files are untouched
	require.Len(t, out, 3)
	assert.Equal(t, 1, out[0].Line)
	assert.Equal(t, 2, out[1].Line)
	assert.Equal(t, "quiet.txt", out[2].Path)
}

func TestAccumulator_TruncationNeedsOneExtraEvent(t *testing.T) {
	acc := newAccumulator(0)
	for i := 1; i <= 3; i++ {
		acc.add(Event{Kind: KindMatch, Path: "f.txt", Line: i})
	}

	out, truncated := acc.finish(3)
	assert.Len(t, out, 3)
	assert.False(t, truncated, "exactly at the limit is not truncated")

	acc.add(Event{Kind: KindMatch, Path: "f.txt", Line: 4})
	out, truncated = acc.finish(3)
	assert.Len(t, out, 3)
	assert.True(t, truncated)
}

func TestAccumulator_UnicodePathsOrderByNormalizedBytes(t *testing.T) {
	// Composed and decomposed spellings of the same name must land in
	// one deterministic spot.
	acc := newAccumulator(0)
	acc.addAll([]Event{
		{Kind: KindMatch, Path: "café.txt", Line: 1},
		{Kind: KindMatch, Path: "café.txt", Line: 1},
		{Kind: KindMatch, Path: "cafz.txt", Line: 1},
	})

	out, _ := acc.finish(0)

	require.Len(t, out, 3)
	// NFC folds both café spellings to the same key, which sorts
	// after the plain-ASCII name.
	assert.Equal(t, "cafz.txt", out[0].Path)
}
