// Package watcher tracks filesystem changes under an indexed root.
//
// The package implements a hybrid watching strategy:
//   - Primary: fsnotify for efficient event-based watching
//   - Fallback: Polling for environments where fsnotify fails (network mounts, Docker volumes)
//
// Events are debounced to coalesce rapid changes from IDEs and git
// operations. Edits to ignore files and to the project config surface
// as dedicated event kinds because they invalidate index coverage
// rather than a single file. Buffer overflow is never silent: a
// watcher that drops events reports it, since a dropped event means
// the catalog can no longer prove it has seen every change.
package watcher

import (
	"errors"
	"time"
)

// ErrOverflow reports that events were lost, either inside the kernel
// watch queue or in this package's buffers. Coverage is uncertain from
// that point until a reconcile scan confirms the catalog.
var ErrOverflow = errors.New("watch event overflow: changes were lost")

// Operation represents a file system operation type.
type Operation int

const (
	// OpCreate indicates a new file or directory was created.
	OpCreate Operation = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file or directory was deleted.
	OpDelete
	// OpRename indicates a file or directory was renamed away from
	// Path. The destination arrives as a separate OpCreate; pairing
	// the two is the tracker's job.
	OpRename
	// OpIgnoreChange indicates a .gitignore or .ignore file changed,
	// which can alter the eligible file set anywhere below it.
	OpIgnoreChange
	// OpPolicyChange indicates the project config file changed, which
	// can alter eligibility rules wholesale.
	OpPolicyChange
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	case OpIgnoreChange:
		return "IGNORE_CHANGE"
	case OpPolicyChange:
		return "POLICY_CHANGE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent represents a file system event.
type FileEvent struct {
	// Path is the relative path to the file or directory.
	Path string

	// OldPath is the previous path for paired renames. Empty until a
	// tracker resolves the pairing.
	OldPath string

	// Operation is the type of file system operation.
	Operation Operation

	// IsDir indicates if the event is for a directory.
	IsDir bool

	// Timestamp is when the event was detected.
	Timestamp time.Time
}

// policyFilenames are the project config files whose edits invalidate
// eligibility policy.
var policyFilenames = []string{".amangrep.yaml", ".amangrep.yml"}

func isPolicyFile(name string) bool {
	for _, f := range policyFilenames {
		if name == f {
			return true
		}
	}
	return false
}

// Options configures the watcher behavior.
type Options struct {
	// Hidden includes dot-prefixed entries, mirroring the index key's
	// traversal flag. Without it, changes under hidden directories
	// are invisible and irrelevant.
	Hidden bool

	// NoIgnore disables ignore-rule filtering of events.
	NoIgnore bool

	// DebounceWindow is the time to wait before emitting coalesced events.
	// Default: 300ms
	DebounceWindow time.Duration

	// PollInterval is the interval for polling mode (fallback).
	// Default: 2s
	PollInterval time.Duration

	// EventBufferSize is the size of the event channel buffer.
	// Default: 1024
	EventBufferSize int
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  300 * time.Millisecond,
		PollInterval:    2 * time.Second,
		EventBufferSize: 1024,
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow == 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.PollInterval == 0 {
		o.PollInterval = defaults.PollInterval
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	return o
}
