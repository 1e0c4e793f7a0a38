package ui

import "github.com/charmbracelet/lipgloss"

// Palette follows GNU grep's default GREP_COLORS so match output reads
// the same as the tools amangrep fronts.
const (
	ColorMatch    = "196" // bold red, matched text and active paths
	ColorPath     = "127" // magenta, file names
	ColorLineNo   = "34"  // green, line and column numbers
	ColorWhite    = "255"
	ColorGray     = "245" // labels, secondary text
	ColorDarkGray = "238" // separators, context lines
	ColorYellow   = "220" // warnings
)

// Styles holds the terminal output styles shared by the match printer
// and the index progress/status renderers.
type Styles struct {
	Header   lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Dim      lipgloss.Style
	Stage    lipgloss.Style
	Active   lipgloss.Style
	Progress lipgloss.Style

	Border lipgloss.Style
	Panel  lipgloss.Style
	Label  lipgloss.Style
}

// DefaultStyles returns the colored styles for interactive terminals.
func DefaultStyles() Styles {
	return Styles{
		Header:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorWhite)),
		Success:  lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLineNo)),
		Warning:  lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Error:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorMatch)),
		Dim:      lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Stage:    lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Active:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorPath)),
		Progress: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLineNo)),

		Border: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(ColorDarkGray)).
			Padding(0, 1),
		Label: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
	}
}

// NoColorStyles returns pass-through styles for pipes, NO_COLOR, and CI.
func NoColorStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Header:   plain,
		Success:  plain,
		Warning:  plain,
		Error:    plain,
		Dim:      plain,
		Stage:    plain,
		Active:   plain,
		Progress: plain,
		Border:   plain,
		Panel:    plain,
		Label:    plain,
	}
}

// GetStyles picks the style set for the given color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}
