package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
)

// StatusInfo contains index health information for one root.
type StatusInfo struct {
	Root        string    `json:"root"`
	State       string    `json:"state"`
	Reason      string    `json:"reason,omitempty"`
	StorageMode string    `json:"storage_mode"`
	Epoch       uint64    `json:"epoch"`
	TotalFiles  int       `json:"total_files"`
	TotalBytes  int64     `json:"total_bytes"`
	DirtyCount  int       `json:"dirty_count"`
	Backend     string    `json:"backend"`
	LastUpdated time.Time `json:"last_updated"`
}

// StatusRenderer displays index status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:    out,
		styles: GetStyles(noColor),
	}
}

// Render displays status info to terminal.
func (r *StatusRenderer) Render(info StatusInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Index Status: "+info.Root))

	state := info.State
	if info.Reason != "" {
		state = fmt.Sprintf("%s (%s)", state, info.Reason)
	}
	_, _ = fmt.Fprintf(r.out, "  State:        %s\n", r.renderState(info.State, state))
	_, _ = fmt.Fprintf(r.out, "  Storage:      %s\n", info.StorageMode)
	_, _ = fmt.Fprintf(r.out, "  Epoch:        %d\n", info.Epoch)
	_, _ = fmt.Fprintf(r.out, "  Files:        %d (%s)\n", info.TotalFiles, humanize.IBytes(uint64(info.TotalBytes)))
	if info.DirtyCount > 0 {
		_, _ = fmt.Fprintf(r.out, "  Dirty:        %d pending\n", info.DirtyCount)
	}
	if info.Backend != "" {
		_, _ = fmt.Fprintf(r.out, "  Backend:      %s\n", info.Backend)
	}
	if !info.LastUpdated.IsZero() {
		_, _ = fmt.Fprintf(r.out, "  Last updated: %s\n", formatTime(info.LastUpdated))
	}

	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

// renderState colors the rendered state by how usable the index is.
func (r *StatusRenderer) renderState(state, rendered string) string {
	switch state {
	case "COMPLETE":
		return r.styles.Success.Render(rendered)
	case "BUILDING", "ABSENT", "UNCERTAIN":
		return r.styles.Warning.Render(rendered)
	case "CORRUPT", "DISABLED":
		return r.styles.Error.Render(rendered)
	default:
		return rendered
	}
}

// formatTime formats a time for display.
func formatTime(t time.Time) string {
	now := time.Now()
	diff := now.Sub(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Format("2006-01-02 15:04")
	}
}
