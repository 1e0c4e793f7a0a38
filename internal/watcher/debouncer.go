package watcher

import (
	"sort"
	"sync"
	"time"
)

// Debouncer coalesces rapid file events so one save-spam burst becomes
// one dirty-queue entry. Events for the same path within the window
// merge according to these rules:
//   - CREATE + MODIFY = CREATE (file is still new)
//   - CREATE + DELETE = nothing (file never really existed)
//   - MODIFY + DELETE = DELETE (file is gone)
//   - DELETE + CREATE = MODIFY (file was replaced)
//
// Coverage events (IGNORE_CHANGE, POLICY_CHANGE) never coalesce away;
// once seen they must reach the tracker.
//
// Flushed batches are ordered by first-seen time, then path, so
// downstream dirty-queue processing is deterministic.
type Debouncer struct {
	window  time.Duration
	pending map[string]*pendingEvent
	mu      sync.Mutex
	output  chan []FileEvent
	timer   *time.Timer
	stopped bool
	dropped uint64
}

type pendingEvent struct {
	event     FileEvent
	firstOp   Operation
	firstSeen time.Time
}

// NewDebouncer creates a debouncer with the given window duration.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]*pendingEvent),
		output:  make(chan []FileEvent, 10),
	}
}

// Add adds an event to be debounced.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	now := time.Now()
	path := event.Path

	if existing, ok := d.pending[path]; ok {
		coalesced := coalesce(existing, event)
		if coalesced == nil {
			delete(d.pending, path)
		} else {
			existing.event = *coalesced
		}
	} else {
		d.pending[path] = &pendingEvent{
			event:     event,
			firstOp:   event.Operation,
			firstSeen: now,
		}
	}

	d.scheduleFlush()
}

// coalesce merges a new event into a pending one. Returns nil when the
// pair cancels out.
func coalesce(existing *pendingEvent, next FileEvent) *FileEvent {
	// Coverage signals are sticky for their path.
	switch existing.firstOp {
	case OpIgnoreChange, OpPolicyChange:
		return &existing.event
	}

	switch existing.firstOp {
	case OpCreate:
		switch next.Operation {
		case OpModify:
			return &existing.event
		case OpDelete:
			return nil
		default:
			return &next
		}

	case OpModify:
		return &next

	case OpDelete:
		if next.Operation == OpCreate {
			replaced := next
			replaced.Operation = OpModify
			return &replaced
		}
		return &next

	default:
		return &next
	}
}

// scheduleFlush restarts the flush timer. Must be called with the lock
// held.
func (d *Debouncer) scheduleFlush() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// flush emits all pending events in deterministic order.
func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.pending) == 0 {
		return
	}

	ordered := make([]*pendingEvent, 0, len(d.pending))
	for _, pe := range d.pending {
		ordered = append(ordered, pe)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].firstSeen.Equal(ordered[j].firstSeen) {
			return ordered[i].firstSeen.Before(ordered[j].firstSeen)
		}
		return ordered[i].event.Path < ordered[j].event.Path
	})

	events := make([]FileEvent, 0, len(ordered))
	for _, pe := range ordered {
		events = append(events, pe.event)
	}
	d.pending = make(map[string]*pendingEvent)

	select {
	case d.output <- events:
	default:
		// A full output channel means events would be lost, which the
		// owner must learn about. The counter makes the loss visible.
		d.dropped++
	}
}

// Dropped returns how many flushed batches could not be delivered.
// Any nonzero value means coverage can no longer be trusted.
func (d *Debouncer) Dropped() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Output returns the channel of debounced event batches.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.output
}

// Stop stops the debouncer and closes the output channel.
// Safe to call multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
