package search

import (
	"context"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/Aman-CERP/amangrep/internal/bloom"
	"github.com/Aman-CERP/amangrep/internal/index"
	"github.com/Aman-CERP/amangrep/internal/scanner"
)

// plan is the candidate decision for one request: either a bounded
// explicit file list, or a full backend-walked invocation with the
// reason the list could not be used. The exclusion layer only ever
// shrinks a list the enumeration produced; it never invents one.
type plan struct {
	files          []string // nil = backend walks the tree
	candidateFiles int
	excludedFiles  int
	bytesScanned   int64
	exclusionUsed  bool
	fallbackReason string
}

// fullScan returns the plan for a plain, non-accelerated invocation.
func fullScan(reason string) plan {
	return plan{fallbackReason: reason}
}

// buildPlan decides how the backend sees the tree. A file list is
// needed when engine-side globs apply or exclusion is possible;
// anywhere the list would be unsound or oversized the plan degrades
// to a full scan instead.
func (e *Engine) buildPlan(ctx context.Context, req Request, root string, view *index.ExclusionView) plan {
	needList := len(req.Glob) > 0 || view != nil
	if !needList {
		return plan{}
	}

	sc, err := scanner.New(root)
	if err != nil {
		return fullScan("enumeration_unavailable")
	}
	stream, err := sc.Scan(ctx, scanner.Options{
		Root:     root,
		Hidden:   req.Hidden,
		Follow:   req.Follow,
		NoIgnore: req.NoIgnore,
	})
	if err != nil {
		return fullScan("enumeration_unavailable")
	}

	var grams []string
	var variant bloom.Variant
	excluding := false
	if view != nil {
		grams, variant, excluding = exclusionGrams(req, view.Params().NgramSize)
		if excluding && variant == bloom.Insensitive && e.backend.Kind() == KindUgrep {
			// ugrep's -i folds full Unicode while the catalog's
			// insensitive grams fold simple lowercase only, so the
			// filter cannot speak for what the backend would match.
			// rg runs with --no-unicode, where the folds agree.
			grams, excluding = nil, false
		}
	}

	p := plan{exclusionUsed: excluding}
	maxFiles := e.cfg.Search.MaxFiles
	for res := range stream {
		if res.Err != nil {
			// A hole in enumeration would silently shrink results.
			drainScan(stream)
			return fullScan("enumeration_error")
		}
		fi := res.File
		if fi.HasNewline {
			// The list cannot carry this path; only a full scan still
			// covers it. Globs are re-applied to the backend's events,
			// so the full pass loses nothing.
			drainScan(stream)
			return fullScan("uncatalogable_path")
		}
		if !req.Recursive && strings.ContainsRune(fi.RelPath, '/') {
			continue
		}
		if len(req.Glob) > 0 && !matchGlobs(req.Glob, fi.RelPath) {
			continue
		}

		p.candidateFiles++
		if excluding && view.ProvesAbsent(fi.RelPath, variant, grams) {
			p.excludedFiles++
			continue
		}
		p.files = append(p.files, fi.RelPath)
		p.bytesScanned += fi.Size
		if maxFiles > 0 && len(p.files) > maxFiles {
			drainScan(stream)
			return fullScan("too_many_files")
		}
	}
	if ctx.Err() != nil {
		return fullScan("enumeration_error")
	}
	return p
}

func drainScan(stream <-chan scanner.Result) {
	for range stream {
	}
}

// matchGlobs applies rg-style glob semantics over a relative path:
// patterns starting with ! exclude, the rest include; with no
// inclusion patterns everything not excluded is in.
func matchGlobs(globs []string, relPath string) bool {
	hasInclude := false
	included := false
	for _, g := range globs {
		negated := strings.HasPrefix(g, "!")
		pattern := strings.TrimPrefix(g, "!")
		if !negated {
			hasInclude = true
		}
		if !globMatch(pattern, relPath) {
			continue
		}
		if negated {
			return false
		}
		included = true
	}
	return !hasInclude || included
}

// globMatch matches one pattern against a relative path. A bare name
// without a separator matches at any depth, the way grep backends
// treat -g 'name'.
func globMatch(pattern, relPath string) bool {
	if ok, err := doublestar.Match(pattern, relPath); err == nil && ok {
		return true
	}
	if !strings.Contains(pattern, "/") {
		ok, err := doublestar.Match("**/"+pattern, relPath)
		return err == nil && ok
	}
	return false
}
