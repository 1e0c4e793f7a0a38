package search

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Aman-CERP/amangrep/internal/config"
	amerrors "github.com/Aman-CERP/amangrep/internal/errors"
	"github.com/Aman-CERP/amangrep/internal/index"
	"github.com/Aman-CERP/amangrep/internal/validation"
)

// Engine executes search requests. It owns no state of its own: the
// backend runs the matching, the index manager lends acceleration
// when its state machine allows, and the engine's job is to compose
// them without ever letting the index change what a search returns.
type Engine struct {
	cfg      *config.Config
	backend  Backend
	manager  *index.Manager
	resolver PathResolver
}

// NewEngine wires an engine. manager may be nil for index-free
// operation; a nil resolver gets the default canonicalizer.
func NewEngine(cfg *config.Config, backend Backend, manager *index.Manager, resolver PathResolver) *Engine {
	if resolver == nil {
		resolver = DefaultResolver{}
	}
	return &Engine{cfg: cfg, backend: backend, manager: manager, resolver: resolver}
}

// Backend exposes the probed backend.
func (e *Engine) Backend() Backend {
	return e.backend
}

func (e *Engine) applyDefaults(req *Request) {
	if req.Case == "" {
		req.Case = CaseAuto
	}
	if req.MaxResults == 0 {
		req.MaxResults = e.cfg.Search.MaxResults
	}
	if req.TimeoutMS == 0 {
		req.TimeoutMS = e.cfg.Search.TimeoutMS
	}
}

// Search runs one request end to end: validate, resolve, plan the
// candidate set, run the backend, optionally climb the fuzzy ladder,
// then order, truncate, and bound the response.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	e.applyDefaults(&req)

	if err := validation.Validate(validation.Params{
		Pattern:    req.Pattern,
		Case:       string(req.Case),
		Globs:      req.Glob,
		Fuzzy:      req.Fuzzy,
		Context:    req.Context,
		MaxResults: req.MaxResults,
		TimeoutMS:  req.TimeoutMS,
	}); err != nil {
		return nil, err
	}

	canonical, err := e.resolver.Resolve(ctx, req.Path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeInvalidPath, "search path vanished", err)
	}
	isDir := info.IsDir()
	deadline := req.Deadline(start)

	h, fallbackReason := e.indexHandle(ctx, canonical, isDir, req)

	view, viewReason := e.exclusionView(ctx, h, canonical, req)
	if fallbackReason == "" {
		fallbackReason = viewReason
	}
	if view != nil {
		defer view.Release()
	}

	// The invocation root anchors relative event paths: the directory
	// itself, or the containing directory for a single-file request.
	invRoot := canonical
	var p plan
	if isDir {
		p = e.buildPlan(ctx, req, canonical, view)
		if p.fallbackReason != "" {
			if fallbackReason == "" {
				fallbackReason = p.fallbackReason
			}
			p.exclusionUsed = false
		}
	} else {
		invRoot = filepath.Dir(canonical)
		p = plan{files: []string{filepath.Base(canonical)}, candidateFiles: 1}
	}

	inv := Invocation{
		Pattern:         req.Pattern,
		Root:            invRoot,
		Files:           p.files,
		CaseInsensitive: caseInsensitive(req.Pattern, req.Case),
		FixedStrings:    req.FixedStrings,
		WordRegexp:      req.WordRegexp,
		Context:         req.Context,
		Fuzzy:           req.Fuzzy,
		Hidden:          req.Hidden,
		Follow:          req.Follow,
		NoIgnore:        req.NoIgnore,
		Recursive:       req.Recursive,
		MaxFileSize:     e.cfg.Search.MaxFileSize,
		Deadline:        deadline,
	}

	backendStart := time.Now()
	raw, err := e.backend.Search(ctx, inv)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeBackendStart, "search backend failed to run", err)
	}
	backendElapsed := time.Since(backendStart)

	if raw.Outcome == OutcomeBackendError {
		return nil, amerrors.New(classifyStderr(raw.Stderr), firstLine(raw.Stderr), nil)
	}

	events := e.postProcess(invRoot, raw.Events, req)
	outcome := raw.Outcome
	if outcome != OutcomeTimedOut {
		outcome = outcomeForEvents(events)
	}

	var fz fuzzyResult
	if outcome == OutcomeNoMatches && req.Fuzzy == 0 && e.cfg.Fuzzy.Enabled && len(e.cfg.Fuzzy.Levels) > 0 {
		fz = e.runFuzzyLadder(ctx, inv, e.cfg.Fuzzy.Levels, deadline)
		if fz.raw != nil {
			events = e.postProcess(invRoot, fz.raw.Events, req)
		}
	}

	acc := newAccumulator(e.cfg.Search.MaxMatchesPerFile)
	acc.addAll(events)
	matches, truncated := acc.finish(req.MaxResults)

	timedOut := raw.Outcome == OutcomeTimedOut
	if timedOut {
		// An expired pass may have left matches unseen; the boundary
		// cannot be proved exact, so more-remain is asserted.
		truncated = true
	}

	resp := &Response{
		Matches:   matches,
		Count:     len(matches),
		Truncated: truncated,
		TimedOut:  timedOut,
	}
	if e.cfg.Stats.Enabled {
		resp.Stats = e.buildStats(h, p, fz, fallbackReason, start, backendElapsed)
	}
	finalize(resp, e.cfg.Search.MaxResponseBytes)
	return resp, nil
}

// indexHandle finds or opens the index handle covering the request
// path. Any failure here degrades; it never fails the search.
func (e *Engine) indexHandle(ctx context.Context, canonical string, isDir bool, req Request) (*index.Handle, string) {
	if e.manager == nil {
		return nil, "no_index"
	}
	if h, ok := e.manager.Match(canonical); ok {
		e.noteActivity(ctx, h)
		return h, ""
	}
	if !isDir {
		return nil, "no_index"
	}
	h, err := e.manager.Acquire(ctx, canonical, index.Options{
		Hidden:   req.Hidden,
		Follow:   req.Follow,
		NoIgnore: req.NoIgnore,
	})
	if err != nil {
		slog.Debug("index unavailable for search",
			slog.String("component", "search"),
			slog.String("error", err.Error()))
		return nil, "index_unavailable"
	}
	e.noteActivity(ctx, h)
	return h, ""
}

func (e *Engine) noteActivity(ctx context.Context, h *index.Handle) {
	h.Touch(ctx)
	if b := h.Builder(); b != nil {
		b.NoteSearchActivity()
	}
}

// exclusionView opens the exclusion read path when every gate allows
// it: a handle whose root is exactly the request scope, a COMPLETE
// state, and a non-fuzzy request. Everything else degrades with a
// recorded reason.
func (e *Engine) exclusionView(ctx context.Context, h *index.Handle, canonical string, req Request) (*index.ExclusionView, string) {
	if h == nil {
		return nil, ""
	}
	if req.Fuzzy > 0 {
		return nil, "fuzzy_request"
	}
	if canonical != h.Key().Root {
		return nil, "scope_mismatch"
	}
	status := h.Status()
	if !status.Excludable() {
		return nil, strings.ToLower(string(status.State))
	}
	view, err := h.ExclusionView(ctx)
	if err != nil {
		slog.Debug("exclusion view unavailable",
			slog.String("component", "search"),
			slog.String("error", err.Error()))
		return nil, "view_unavailable"
	}
	return view, ""
}

// postProcess applies engine-side shaping shared by literal and fuzzy
// passes: synthesized context for formatted backend output, then glob
// filtering as a correctness backstop for full-scan fallbacks.
func (e *Engine) postProcess(root string, events []Event, req Request) []Event {
	if e.backend.Kind() == KindUgrep && req.Context > 0 {
		events = injectContext(root, events, req.Context, e.cfg.Search.MaxFileSize)
	}
	if len(req.Glob) > 0 {
		kept := events[:0:0]
		for _, ev := range events {
			if matchGlobs(req.Glob, ev.Path) {
				kept = append(kept, ev)
			}
		}
		events = kept
	}
	return events
}

func (e *Engine) buildStats(h *index.Handle, p plan, fz fuzzyResult, fallbackReason string, start time.Time, backendElapsed time.Duration) *Stats {
	s := &Stats{
		IndexState:         string(index.StateAbsent),
		ExclusionUsed:      p.exclusionUsed,
		CandidateFiles:     p.candidateFiles,
		ExcludedFiles:      p.excludedFiles,
		FallbackReason:     fallbackReason,
		FuzzyLevelsTried:   fz.tried,
		FuzzyLevelsSkipped: fz.skipped,
		BackendFamily:      e.backend.ID(),
		ElapsedMS:          time.Since(start).Milliseconds(),
		BackendElapsedMS:   backendElapsed.Milliseconds(),
		BytesScanned:       p.bytesScanned,
	}
	if h != nil {
		status := h.Status()
		s.IndexState = string(status.State)
		s.UncertainReason = string(status.Reason)
		s.StorageMode = string(h.StorageMode())
	}
	return s
}

// finalize shrinks the response until its encoded form fits the byte
// budget, re-flagging truncation for anything dropped.
func finalize(resp *Response, budget int) {
	if budget <= 0 {
		return
	}
	for {
		data, err := json.Marshal(resp)
		if err != nil || len(data) <= budget || len(resp.Matches) == 0 {
			return
		}
		drop := len(resp.Matches) / 10
		if drop < 1 {
			drop = 1
		}
		resp.Matches = resp.Matches[:len(resp.Matches)-drop]
		resp.Count = len(resp.Matches)
		resp.Truncated = true
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if s == "" {
		s = "search backend reported an error"
	}
	return s
}
