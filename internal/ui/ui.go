// Package ui provides terminal output components for progress and
// status display.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage represents one stage of an index build.
type Stage int

const (
	// StageEnumerate is the tree enumeration stage.
	StageEnumerate Stage = iota
	// StageTokenize is the file reading and filter-building stage.
	StageTokenize
	// StagePersist is the catalog persistence stage.
	StagePersist
	// StageActivate is the metadata finalization stage.
	StageActivate
	// StageComplete indicates the build finished.
	StageComplete
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageEnumerate:
		return "Enumerating"
	case StageTokenize:
		return "Tokenizing"
	case StagePersist:
		return "Persisting"
	case StageActivate:
		return "Activating"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short stage icon for plain text output.
func (s Stage) Icon() string {
	switch s {
	case StageEnumerate:
		return "SCAN"
	case StageTokenize:
		return "TOK"
	case StagePersist:
		return "SAVE"
	case StageActivate:
		return "FLIP"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// StageFromPhase maps a build phase name to its display stage.
func StageFromPhase(phase string) Stage {
	switch phase {
	case "ENUMERATE":
		return StageEnumerate
	case "TOKENIZE":
		return StageTokenize
	case "PERSIST":
		return StagePersist
	case "ACTIVATE":
		return StageActivate
	default:
		return StageComplete
	}
}

// ProgressEvent represents a progress update.
type ProgressEvent struct {
	Stage       Stage
	Current     int
	Total       int
	CurrentFile string
	Message     string
}

// ErrorEvent represents an error during processing.
type ErrorEvent struct {
	File   string
	Err    error
	IsWarn bool
}

// CompletionStats contains final build statistics.
type CompletionStats struct {
	Files    int
	Bytes    int64
	Duration time.Duration
	Errors   int
	Warnings int
	State    string // index safety state after the build
	Backend  string // probed backend ID
}

// Renderer defines the interface for progress display.
type Renderer interface {
	// Start initializes the renderer.
	Start(ctx context.Context) error

	// UpdateProgress updates progress display.
	UpdateProgress(event ProgressEvent)

	// AddError adds an error to display.
	AddError(event ErrorEvent)

	// Complete marks rendering as complete with summary.
	Complete(stats CompletionStats)

	// Stop stops the renderer and cleans up.
	Stop() error
}

// Config configures the UI renderer.
type Config struct {
	Output  io.Writer
	NoColor bool
}

// ConfigOption is a function that modifies Config.
type ConfigOption func(*Config)

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// NewConfig creates a new Config with the given output and options.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer creates a renderer for the config and environment.
// Color is dropped for pipes, CI environments, and NO_COLOR.
func NewRenderer(cfg Config) Renderer {
	if !cfg.NoColor && (!IsTTY(cfg.Output) || DetectCI() || DetectNoColor()) {
		cfg.NoColor = true
	}
	return NewPlainRenderer(cfg)
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor checks if NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"}
	for _, v := range ciVars {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
