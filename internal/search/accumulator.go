package search

import (
	"bytes"
	"sort"

	"github.com/Aman-CERP/amangrep/internal/order"
)

// accumulator collects backend events, enforces the per-file match
// cap, and renders the deterministic final order. It buffers
// everything before sorting: the backends give no global order
// guarantee across batches, and determinism beats streaming here.
type accumulator struct {
	maxPerFile int

	events  []Event
	matched map[string]int      // match events seen per file
	closed  map[string]struct{} // files at their cap
}

func newAccumulator(maxPerFile int) *accumulator {
	return &accumulator{
		maxPerFile: maxPerFile,
		matched:    make(map[string]int),
		closed:     make(map[string]struct{}),
	}
}

// add buffers one event. Once a file reaches its match cap it closes:
// every further event for it, context included, is dropped.
func (a *accumulator) add(ev Event) {
	if _, done := a.closed[ev.Path]; done {
		return
	}
	if ev.Kind == KindMatch {
		a.matched[ev.Path]++
		if a.maxPerFile > 0 && a.matched[ev.Path] > a.maxPerFile {
			a.closed[ev.Path] = struct{}{}
			return
		}
	}
	ev.sortKey = order.Key(ev.Path)
	a.events = append(a.events, ev)
}

func (a *accumulator) addAll(events []Event) {
	for _, ev := range events {
		a.add(ev)
	}
}

// kindRank orders a context line before a match on the same line
// number, matching how the backends print them.
func kindRank(k EventKind) int {
	if k == KindContext {
		return 0
	}
	return 1
}

// finish sorts and truncates. More events buffered than the limit is
// the "more remain" probe: the boundary is exact, never heuristic.
func (a *accumulator) finish(maxResults int) (out []Event, truncated bool) {
	evs := a.events
	sort.SliceStable(evs, func(i, j int) bool {
		if c := bytes.Compare(evs[i].sortKey, evs[j].sortKey); c != 0 {
			return c < 0
		}
		if evs[i].Line != evs[j].Line {
			return evs[i].Line < evs[j].Line
		}
		if r1, r2 := kindRank(evs[i].Kind), kindRank(evs[j].Kind); r1 != r2 {
			return r1 < r2
		}
		return evs[i].parseIdx < evs[j].parseIdx
	})

	if maxResults > 0 && len(evs) > maxResults {
		return evs[:maxResults], true
	}
	return evs, false
}

// size reports how many events are buffered.
func (a *accumulator) size() int {
	return len(a.events)
}
