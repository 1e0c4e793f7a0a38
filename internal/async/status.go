// Package async provides the background-task infrastructure for the
// index builder: a phase-aware progress tracker and a lifecycle runner
// with bounded shutdown.
package async

import (
	"sync"
	"time"
)

// BuildStatus represents the overall state of a background build.
type BuildStatus string

const (
	// StatusBuilding indicates a build is in progress.
	StatusBuilding BuildStatus = "building"
	// StatusReady indicates the build finished and the catalog activated.
	StatusReady BuildStatus = "ready"
	// StatusStopped indicates the build was stopped before activation.
	StatusStopped BuildStatus = "stopped"
	// StatusError indicates the build failed with an error.
	StatusError BuildStatus = "error"
)

// Phase is one stage of the build pipeline. Phases advance strictly in
// order; a checkpointed build resumes in the phase it was stopped in.
type Phase string

const (
	// PhaseEnumerate walks the tree collecting eligible files.
	PhaseEnumerate Phase = "ENUMERATE"
	// PhaseTokenize reads files and builds their Bloom filters.
	PhaseTokenize Phase = "TOKENIZE"
	// PhasePersist flushes catalog rows and filters to the store.
	PhasePersist Phase = "PERSIST"
	// PhaseActivate finalizes metadata and flips the safety state.
	PhaseActivate Phase = "ACTIVATE"
)

// ProgressSnapshot is an immutable snapshot of build progress.
type ProgressSnapshot struct {
	Status         string  `json:"status"`
	Phase          string  `json:"phase"`
	FilesTotal     int     `json:"files_total"`
	FilesDone      int     `json:"files_done"`
	BytesTokenized int64   `json:"bytes_tokenized"`
	ProgressPct    float64 `json:"progress_pct"`
	ElapsedSeconds int     `json:"elapsed_seconds"`
	LastFile       string  `json:"last_file,omitempty"`
	ErrorMessage   string  `json:"error_message,omitempty"`
}

// Progress provides thread-safe tracking of build progress.
type Progress struct {
	mu sync.RWMutex

	status         BuildStatus
	phase          Phase
	filesTotal     int
	filesDone      int
	bytesTokenized int64
	lastFile       string
	startTime      time.Time
	errorMessage   string
}

// NewProgress creates a progress tracker positioned at enumeration.
func NewProgress() *Progress {
	return &Progress{
		status:    StatusBuilding,
		phase:     PhaseEnumerate,
		startTime: time.Now(),
	}
}

// SetPhase advances the tracker to a new phase with its total work count.
func (p *Progress) SetPhase(phase Phase, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.phase = phase
	p.filesTotal = total
}

// FileDone records completion of one file.
func (p *Progress) FileDone(relPath string, size int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.filesDone++
	p.bytesTokenized += size
	p.lastFile = relPath
}

// SetError marks the build as failed.
func (p *Progress) SetError(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusError
	p.errorMessage = message
}

// SetStopped marks the build as stopped before activation.
func (p *Progress) SetStopped() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status == StatusBuilding {
		p.status = StatusStopped
	}
}

// SetReady marks the build complete.
func (p *Progress) SetReady() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusReady
}

// IsBuilding returns true while the build is still running.
func (p *Progress) IsBuilding() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.status == StatusBuilding
}

// Snapshot returns an immutable copy of the current progress state.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var progressPct float64
	if p.filesTotal > 0 {
		progressPct = float64(p.filesDone) / float64(p.filesTotal) * 100.0
	}

	return ProgressSnapshot{
		Status:         string(p.status),
		Phase:          string(p.phase),
		FilesTotal:     p.filesTotal,
		FilesDone:      p.filesDone,
		BytesTokenized: p.bytesTokenized,
		ProgressPct:    progressPct,
		ElapsedSeconds: int(time.Since(p.startTime).Seconds()),
		LastFile:       p.lastFile,
		ErrorMessage:   p.errorMessage,
	}
}
