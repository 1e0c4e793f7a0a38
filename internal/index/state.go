// Package index owns the per-tree catalog lifecycle: the safety state
// machine deciding when the catalog may narrow a search, the builder
// that populates it, and the maintenance paths that keep it honest as
// the tree changes. The rule everything here serves: a search result
// set must never shrink because the index was wrong. When in doubt,
// the machine degrades and the backend scans everything.
package index

import (
	"fmt"
	"sort"
)

// State is the safety state of one index.
type State string

const (
	// StateAbsent: no catalog exists for the key.
	StateAbsent State = "ABSENT"
	// StateBuilding: a build is running; the catalog is incomplete.
	StateBuilding State = "BUILDING"
	// StateComplete: the catalog is valid and may exclude candidates.
	StateComplete State = "COMPLETE"
	// StateUncertain: coverage may have drifted; advisory only.
	StateUncertain State = "UNCERTAIN"
	// StateCorrupt: integrity failed; quarantine before anything else.
	StateCorrupt State = "CORRUPT"
	// StateDisabled: indexing is off for this tree.
	StateDisabled State = "DISABLED"
)

// Reason qualifies UNCERTAIN and DISABLED. Every other state carries
// none.
type Reason string

const (
	ReasonNone Reason = ""

	// Reopen of a persisted catalog, not yet validated this run.
	ReasonOpenRequiresValidation Reason = "OPEN_REQUIRES_VALIDATION"
	// The watcher dropped events; changes may be unrecorded.
	ReasonWatcherOverflow Reason = "WATCHER_OVERFLOW"
	// The watcher terminated; changes since are unrecorded.
	ReasonWatcherDead Reason = "WATCHER_DEAD"
	// An ignore file changed; the eligible set may have shifted.
	ReasonIgnoreRulesChanged Reason = "IGNORE_RULES_CHANGED"
	// Project configuration changed in a way that shifts eligibility.
	ReasonPolicyChanged Reason = "POLICY_CHANGED"
	// Enumeration hit an error that could have hidden files.
	ReasonEnumerationError Reason = "ENUMERATION_ERROR"
	// Renames could not be paired; catalog paths may be stale.
	ReasonRenameUncertain Reason = "RENAME_UNCERTAIN"
	// The build stopped at its budget with a partial catalog.
	ReasonBuildBudgetExceeded Reason = "BUILD_BUDGET_EXCEEDED"
	// The maintenance lock could not be acquired in time.
	ReasonLockContention Reason = "LOCK_CONTENTION"
	// A consistent snapshot could not be opened.
	ReasonSnapshotUnavailable Reason = "SNAPSHOT_UNAVAILABLE"

	// Auto mode measured the tree under its thresholds.
	ReasonBelowThreshold Reason = "BELOW_THRESHOLD"
	// Configuration disables indexing outright.
	ReasonHardDisabled Reason = "HARD_DISABLED"
)

// Severity ranks states so that concurrent triggers resolve the same
// way every time. Higher never yields to lower within one evaluation.
func Severity(s State) int {
	switch s {
	case StateDisabled:
		return 5
	case StateCorrupt:
		return 4
	case StateUncertain:
		return 3
	case StateBuilding:
		return 2
	case StateAbsent:
		return 1
	case StateComplete:
		return 0
	}
	return -1
}

// Status pairs a state with its reason.
type Status struct {
	State  State
	Reason Reason
}

// Excludable reports whether candidate exclusion is permitted at all.
// Per-file and per-query gates still apply on top.
func (s Status) Excludable() bool {
	return s.State == StateComplete
}

// Validate enforces the reason invariant: UNCERTAIN and DISABLED carry
// a reason, nothing else does.
func (s Status) Validate() error {
	carries := s.State == StateUncertain || s.State == StateDisabled
	if carries && s.Reason == ReasonNone {
		return fmt.Errorf("state %s requires a reason", s.State)
	}
	if !carries && s.Reason != ReasonNone {
		return fmt.Errorf("state %s must not carry reason %s", s.State, s.Reason)
	}
	return nil
}

func (s Status) String() string {
	if s.Reason != ReasonNone {
		return string(s.State) + "(" + string(s.Reason) + ")"
	}
	return string(s.State)
}

// EventKind names a state-machine trigger.
type EventKind string

const (
	// Configuration turned indexing off for this tree.
	EventHardDisable EventKind = "hard_disable"
	// Auto mode measured the tree below its thresholds.
	EventBelowThreshold EventKind = "below_threshold"
	// A disable condition no longer holds; the key starts over.
	EventEnable EventKind = "enable"
	// Integrity validation failed.
	EventCorruption EventKind = "corruption"
	// Stored schema, key, or tokenizer parameters do not match;
	// the catalog is discarded and rebuilt from nothing.
	EventMismatch EventKind = "mismatch"
	// Resource limits removed the catalog.
	EventEvicted EventKind = "evicted"
	// A coverage-invalidating event was observed.
	EventCoverageLost EventKind = "coverage_lost"
	// The build ran out of budget with a partial catalog.
	EventBudgetExhausted EventKind = "budget_exhausted"
	// A build started.
	EventBuildStarted EventKind = "build_started"
	// A build finished and activated its catalog.
	EventBuildActivated EventKind = "build_activated"
	// A reconcile scan validated coverage.
	EventReconciled EventKind = "reconciled"
)

// Event is one trigger, optionally carrying the reason it asserts.
type Event struct {
	Kind   EventKind
	Reason Reason
}

// CoverageLost builds the event for one invalidation reason.
func CoverageLost(reason Reason) Event {
	return Event{Kind: EventCoverageLost, Reason: reason}
}

// priority orders simultaneous triggers: a disable beats a corruption
// finding beats a mismatch beats coverage loss beats eviction beats
// build lifecycle beats maintenance bookkeeping. Lower value wins.
func priority(k EventKind) int {
	switch k {
	case EventHardDisable:
		return 0
	case EventBelowThreshold:
		return 1
	case EventCorruption:
		return 2
	case EventMismatch:
		return 3
	case EventCoverageLost:
		return 4
	case EventBudgetExhausted:
		return 5
	case EventEvicted:
		return 6
	case EventBuildStarted, EventBuildActivated:
		return 7
	case EventReconciled, EventEnable:
		return 8
	}
	return 9
}

// Apply advances the status by one event. Events that a higher-severity
// state absorbs return the status unchanged with no error; transitions
// that are programming errors (activating a build that never started,
// building on a corrupt catalog) return an error and leave the status
// unchanged.
func Apply(s Status, ev Event) (Status, error) {
	switch ev.Kind {
	case EventHardDisable:
		return Status{State: StateDisabled, Reason: ReasonHardDisabled}, nil

	case EventBelowThreshold:
		if s.State == StateDisabled && s.Reason == ReasonHardDisabled {
			return s, nil
		}
		return Status{State: StateDisabled, Reason: ReasonBelowThreshold}, nil

	case EventEnable:
		if s.State != StateDisabled {
			return s, nil
		}
		return Status{State: StateAbsent}, nil

	case EventCorruption:
		if s.State == StateDisabled {
			return s, nil
		}
		return Status{State: StateCorrupt}, nil

	case EventMismatch:
		switch s.State {
		case StateDisabled, StateCorrupt:
			return s, nil
		}
		return Status{State: StateAbsent}, nil

	case EventEvicted:
		if s.State == StateDisabled {
			return s, nil
		}
		return Status{State: StateAbsent}, nil

	case EventCoverageLost:
		if ev.Reason == ReasonNone {
			return s, fmt.Errorf("coverage loss requires a reason")
		}
		switch s.State {
		case StateDisabled, StateCorrupt, StateAbsent:
			return s, nil
		case StateUncertain:
			// First cause wins; reconcile clears them all at once.
			return s, nil
		}
		return Status{State: StateUncertain, Reason: ev.Reason}, nil

	case EventBudgetExhausted:
		if s.State != StateBuilding {
			return s, fmt.Errorf("budget exhaustion outside a build (state %s)", s)
		}
		return Status{State: StateUncertain, Reason: ReasonBuildBudgetExceeded}, nil

	case EventBuildStarted:
		switch s.State {
		case StateAbsent, StateComplete, StateUncertain:
			return Status{State: StateBuilding}, nil
		case StateBuilding:
			return s, nil
		}
		return s, fmt.Errorf("cannot build from state %s", s)

	case EventBuildActivated:
		switch s.State {
		case StateBuilding:
			return Status{State: StateComplete}, nil
		case StateUncertain:
			// Coverage was lost mid-build; activation cannot mask it.
			return s, nil
		}
		return s, fmt.Errorf("cannot activate from state %s", s)

	case EventReconciled:
		switch s.State {
		case StateUncertain:
			return Status{State: StateComplete}, nil
		case StateComplete:
			return s, nil
		}
		return s, fmt.Errorf("cannot reconcile from state %s", s)
	}

	return s, fmt.Errorf("unknown event %q", ev.Kind)
}

// Resolve applies a set of simultaneous events in trigger-priority
// order. Events invalidated by an earlier, higher-priority transition
// are dropped rather than reported; the outcome is deterministic for
// any input order.
func Resolve(s Status, events []Event) Status {
	ordered := make([]Event, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return priority(ordered[i].Kind) < priority(ordered[j].Kind)
	})
	for _, ev := range ordered {
		next, err := Apply(s, ev)
		if err != nil {
			continue
		}
		s = next
	}
	return s
}

// ReopenStatus maps a persisted state to the status a fresh process
// starts from. A catalog that claimed COMPLETE on disk has not been
// watched since; it must prove itself again before excluding anything.
func ReopenStatus(stored State, storedReason Reason) Status {
	switch stored {
	case StateComplete, StateUncertain:
		return Status{State: StateUncertain, Reason: ReasonOpenRequiresValidation}
	case StateBuilding:
		// The build that recorded this state died with its process. The
		// checkpoint survives for the next build to resume from, but
		// until one runs nothing here may exclude.
		return Status{State: StateUncertain, Reason: ReasonOpenRequiresValidation}
	case StateCorrupt:
		// The opener quarantines corrupt catalogs before reopening; a
		// corrupt record that reaches here stays corrupt.
		return Status{State: StateCorrupt}
	case StateDisabled:
		reason := storedReason
		if reason == ReasonNone {
			reason = ReasonHardDisabled
		}
		return Status{State: StateDisabled, Reason: reason}
	}
	return Status{State: StateAbsent}
}
