package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Aman-CERP/amangrep/internal/bloom"
	"github.com/Aman-CERP/amangrep/internal/config"
	"github.com/Aman-CERP/amangrep/internal/scanner"
	"github.com/Aman-CERP/amangrep/internal/store"
)

// errReconcileBudget aborts a validation scan that outgrew its bounds.
// The catalog stays uncertain; a full rebuild is the escape hatch.
var errReconcileBudget = errors.New("reconcile scan exceeded its budget")

// Reconciler re-proves catalog coverage by walking the live tree and
// comparing it against the stored entries: changed files re-tokenize,
// vanished files drop, and a clean bounded pass promotes an uncertain
// catalog back to trusted. Callers hold the handle's maintenance slot.
type Reconciler struct {
	h      *Handle
	cfg    *config.Config
	sc     *scanner.Scanner
	params bloom.Params
}

// NewReconciler creates a reconciler sharing the builder's scanner so
// ignore-rule caches stay coherent.
func NewReconciler(h *Handle, cfg *config.Config, sc *scanner.Scanner) *Reconciler {
	return &Reconciler{h: h, cfg: cfg, sc: sc, params: deriveParams(cfg)}
}

// run validates the whole tree within the configured file and time
// budgets. Completing cleanly clears the dirty queue and resolves the
// uncertainty; running over budget changes nothing.
func (r *Reconciler) run(ctx context.Context) error {
	start := time.Now()
	enumFailed, err := r.sweep(ctx, "", start)
	if err != nil {
		return err
	}
	if enumFailed {
		r.h.transition(CoverageLost(ReasonEnumerationError))
		return nil
	}

	// The walk just confirmed every file; queued work is subsumed.
	if err := r.h.store.ClearDirty(ctx); err != nil {
		return fmt.Errorf("clearing dirty queue: %w", err)
	}
	r.h.transition(Event{Kind: EventReconciled})
	slog.Info("reconcile validated coverage",
		slog.String("component", "index"),
		slog.String("root", r.h.key.Root),
		slog.Duration("elapsed", time.Since(start).Round(time.Millisecond)))
	return nil
}

// subtree validates one directory prefix. It never promotes state; it
// only brings the catalog's entries under the prefix up to date.
func (r *Reconciler) subtree(ctx context.Context, prefix string) error {
	_, err := r.sweep(ctx, strings.TrimSuffix(prefix, "/"), time.Now())
	return err
}

// sweep walks the tree, re-catalogs drifted files under the prefix
// (empty prefix means everything), and deletes entries whose files are
// gone. Returns whether enumeration itself failed anywhere.
func (r *Reconciler) sweep(ctx context.Context, prefix string, start time.Time) (bool, error) {
	maxFiles := r.cfg.Watch.ReconcileMaxFiles
	maxTime := r.cfg.ReconcileMaxTime()

	snap, byPath, err := openViewSnapshot(ctx, r.h.store)
	if err != nil {
		if errors.Is(err, store.ErrNoMeta) {
			return false, nil
		}
		return false, fmt.Errorf("opening reconcile snapshot: %w", err)
	}
	defer snap.Release()

	stream, err := r.sc.Scan(ctx, scanner.Options{
		Root:     r.h.key.Root,
		Hidden:   r.h.key.Hidden,
		Follow:   r.h.key.Follow,
		NoIgnore: r.h.key.NoIgnore,
	})
	if err != nil {
		return false, fmt.Errorf("enumerating %s: %w", r.h.key.Root, err)
	}

	seen := make(map[string]struct{})
	enumFailed := false
	scanned := 0
	var drifted []*catalogResult

	for res := range stream {
		if res.Err != nil {
			enumFailed = true
			continue
		}
		fi := res.File
		if fi.HasNewline || !underPrefix(fi.RelPath, prefix) {
			continue
		}
		scanned++
		if maxFiles > 0 && scanned > maxFiles {
			return enumFailed, errReconcileBudget
		}
		if maxTime > 0 && scanned%64 == 0 && time.Since(start) > maxTime {
			return enumFailed, errReconcileBudget
		}

		seen[fi.RelPath] = struct{}{}
		entry, ok := byPath[fi.RelPath]
		if ok && entry.Fingerprint == fingerprint(fi.Size, fi.ModTime.UnixNano()) {
			continue
		}
		drifted = append(drifted, catalogFile(fi, r.params, r.cfg.Search.MaxFileSize, r.h.Epoch()))
	}
	if ctx.Err() != nil {
		return enumFailed, ctx.Err()
	}

	if len(drifted) > 0 {
		if _, err := persistResults(ctx, r.h.store, drifted); err != nil {
			return enumFailed, fmt.Errorf("persisting drifted files: %w", err)
		}
	}

	var gone []string
	for rel := range byPath {
		if !underPrefix(rel, prefix) {
			continue
		}
		if _, ok := seen[rel]; !ok {
			gone = append(gone, rel)
		}
	}
	if len(gone) > 0 {
		if err := r.h.store.DeleteFiles(ctx, gone); err != nil {
			return enumFailed, fmt.Errorf("deleting vanished files: %w", err)
		}
	}
	return enumFailed, nil
}

// underPrefix reports whether a slash-separated relative path sits at
// or below the given directory prefix.
func underPrefix(relPath, prefix string) bool {
	if prefix == "" {
		return true
	}
	return relPath == prefix || strings.HasPrefix(relPath, prefix+"/")
}
