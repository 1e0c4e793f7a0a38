package search

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// fuzzyResult records what the fallback ladder did, whatever the
// outcome. Skips are always recorded, never silent.
type fuzzyResult struct {
	raw     *RawResult
	tried   []int
	skipped []int
}

// runFuzzyLadder retries the search with increasing edit distance
// after a clean zero-match literal pass. Each level shares the
// request's remaining wall-clock budget; the first level producing a
// match event wins. Fuzzy passes never use candidate exclusion.
func (e *Engine) runFuzzyLadder(ctx context.Context, inv Invocation, levels []int, deadline time.Time) fuzzyResult {
	out := fuzzyResult{}

	if e.backend.Kind() != KindUgrep {
		// Edit-distance matching needs a ugrep-class backend.
		out.skipped = append(out.skipped, levels...)
		return out
	}

	for i, level := range levels {
		if !time.Now().Before(deadline) {
			out.skipped = append(out.skipped, levels[i:]...)
			return out
		}

		pass := inv
		pass.Files = nil
		pass.Fuzzy = level
		pass.Deadline = deadline

		raw, err := e.backend.Search(ctx, pass)
		out.tried = append(out.tried, level)
		if err != nil || raw.Outcome == OutcomeBackendError {
			// A broken fuzzy pass never degrades the literal result.
			out.skipped = append(out.skipped, levels[i+1:]...)
			return out
		}
		if hasMatch(raw.Events) {
			out.raw = raw
			out.skipped = append(out.skipped, levels[i+1:]...)
			return out
		}
	}
	return out
}

func hasMatch(events []Event) bool {
	for _, ev := range events {
		if ev.Kind == KindMatch {
			return true
		}
	}
	return false
}

// injectContext synthesizes context events around matches when the
// backend pass could not emit them itself, by re-reading the matched
// files. Synthesized lines count toward truncation exactly like
// backend-emitted ones.
func injectContext(root string, events []Event, context int, maxFileSize int64) []Event {
	if context <= 0 {
		return events
	}

	matchLines := make(map[string]map[int]struct{})
	for _, ev := range events {
		if ev.Kind != KindMatch {
			// The pass already produced context; nothing to add.
			return events
		}
		if matchLines[ev.Path] == nil {
			matchLines[ev.Path] = make(map[int]struct{})
		}
		matchLines[ev.Path][ev.Line] = struct{}{}
	}

	out := events
	for path, lines := range matchLines {
		content, err := readBounded(filepath.Join(root, filepath.FromSlash(path)), maxFileSize)
		if err != nil {
			continue
		}
		fileLines := strings.Split(strings.ReplaceAll(string(content), "\r\n", "\n"), "\n")

		wanted := make(map[int]struct{})
		for line := range lines {
			for d := -context; d <= context; d++ {
				n := line + d
				if n < 1 || n > len(fileLines) {
					continue
				}
				if _, isMatch := lines[n]; isMatch {
					continue
				}
				wanted[n] = struct{}{}
			}
		}

		nums := make([]int, 0, len(wanted))
		for n := range wanted {
			nums = append(nums, n)
		}
		sort.Ints(nums)
		for _, n := range nums {
			out = append(out, Event{
				Kind: KindContext,
				Path: path,
				Line: n,
				Text: fileLines[n-1],
			})
		}
	}
	return out
}

func readBounded(path string, maxSize int64) ([]byte, error) {
	if maxSize > 0 {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if info.Size() > maxSize {
			return nil, os.ErrInvalid
		}
	}
	return os.ReadFile(path)
}
