package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInjectContext_SynthesizesNeighborLines(t *testing.T) {
	root := t.TempDir()
	writeSearchFile(t, root, "f.txt", "alpha\nbeta\ngamma\ndelta\n")
	events := []Event{{Kind: KindMatch, Path: "f.txt", Line: 2, Text: "beta"}}

	out := injectContext(root, events, 1, 0)

	require.Len(t, out, 3)
	texts := map[int]string{}
	for _, ev := range out {
		if ev.Kind == KindContext {
			texts[ev.Line] = ev.Text
		}
	}
	assert.Equal(t, "alpha", texts[1])
	assert.Equal(t, "gamma", texts[3])
}

func TestInjectContext_OverlappingWindowsDoNotDuplicate(t *testing.T) {
	root := t.TempDir()
	writeSearchFile(t, root, "f.txt", "l1\nl2\nl3\nl4\nl5\n")
	events := []Event{
		{Kind: KindMatch, Path: "f.txt", Line: 2, Text: "l2"},
		{Kind: KindMatch, Path: "f.txt", Line: 4, Text: "l4"},
	}

	out := injectContext(root, events, 1, 0)

	// Line 3 sits in both windows but appears once; match lines are
	// never doubled as context.
	require.Len(t, out, 5)
	seen := map[int]int{}
	for _, ev := range out {
		seen[ev.Line]++
	}
	for line, n := range seen {
		assert.Equal(t, 1, n, "line %d duplicated", line)
	}
}

func TestInjectContext_MixedEventsPassThrough(t *testing.T) {
	events := []Event{
		{Kind: KindContext, Path: "f.txt", Line: 1},
		{Kind: KindMatch, Path: "f.txt", Line: 2},
	}

	out := injectContext(t.TempDir(), events, 2, 0)

	assert.Equal(t, events, out, "a pass that already produced context is left alone")
}

func TestInjectContext_UnreadableFileLeavesMatches(t *testing.T) {
	events := []Event{{Kind: KindMatch, Path: "vanished.txt", Line: 1, Text: "x"}}

	out := injectContext(t.TempDir(), events, 1, 0)

	assert.Equal(t, events, out)
}

func TestInjectContext_OversizeFileSkipped(t *testing.T) {
	root := t.TempDir()
	writeSearchFile(t, root, "big.txt", "one\ntwo\nthree\n")
	events := []Event{{Kind: KindMatch, Path: "big.txt", Line: 2, Text: "two"}}

	out := injectContext(root, events, 1, 4)

	assert.Equal(t, events, out, "files over the size cap are not re-read")
}

func TestEngine_RunFuzzyLadder_ExpiredDeadlineSkipsEverything(t *testing.T) {
	cfg := searchTestConfig(t)
	be := &fakeBackend{kind: KindUgrep}
	eng := NewEngine(cfg, be, nil, nil)

	res := eng.runFuzzyLadder(context.Background(), Invocation{Pattern: "x"}, []int{1, 2}, time.Now().Add(-time.Second))

	assert.Empty(t, be.calls)
	assert.Empty(t, res.tried)
	assert.Equal(t, []int{1, 2}, res.skipped)
	assert.Nil(t, res.raw)
}

func TestEngine_RunFuzzyLadder_BrokenPassStopsClimbing(t *testing.T) {
	cfg := searchTestConfig(t)
	be := &fakeBackend{kind: KindUgrep, responses: []*RawResult{
		{Outcome: OutcomeBackendError, Stderr: "ugrep: option error"},
	}}
	eng := NewEngine(cfg, be, nil, nil)

	res := eng.runFuzzyLadder(context.Background(), Invocation{Pattern: "x"}, []int{1, 2, 3}, time.Now().Add(time.Minute))

	assert.Equal(t, []int{1}, res.tried)
	assert.Equal(t, []int{2, 3}, res.skipped)
	assert.Nil(t, res.raw)
	assert.Len(t, be.calls, 1)
}

func TestEngine_RunFuzzyLadder_ExhaustedLevelsYieldNothing(t *testing.T) {
	cfg := searchTestConfig(t)
	be := &fakeBackend{kind: KindUgrep}
	eng := NewEngine(cfg, be, nil, nil)

	res := eng.runFuzzyLadder(context.Background(), Invocation{Pattern: "x"}, []int{1, 2}, time.Now().Add(time.Minute))

	assert.Equal(t, []int{1, 2}, res.tried)
	assert.Empty(t, res.skipped)
	assert.Nil(t, res.raw)
}
