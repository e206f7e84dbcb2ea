// Package tui renders rollout reports and the interactive approval prompt.
package tui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/felixgeelhaar/rollgate/internal/domain/rollout"
)

// Theme colors.
var (
	ColorPrimary   = lipgloss.AdaptiveColor{Light: "#1e66f5", Dark: "#89b4fa"}
	ColorSecondary = lipgloss.AdaptiveColor{Light: "#7c3aed", Dark: "#cba6f7"}
	ColorSuccess   = lipgloss.AdaptiveColor{Light: "#40a02b", Dark: "#a6e3a1"}
	ColorWarning   = lipgloss.AdaptiveColor{Light: "#df8e1d", Dark: "#f9e2af"}
	ColorError     = lipgloss.AdaptiveColor{Light: "#d20f39", Dark: "#f38ba8"}
	ColorMuted     = lipgloss.AdaptiveColor{Light: "#6c6f85", Dark: "#6c7086"}
	ColorText      = lipgloss.AdaptiveColor{Light: "#4c4f69", Dark: "#cdd6f4"}
)

// Styles groups the lipgloss styles used for reports and prompts.
type Styles struct {
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Label    lipgloss.Style
	Text     lipgloss.Style

	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Muted   lipgloss.Style

	Selected lipgloss.Style
	Panel    lipgloss.Style
	Help     lipgloss.Style

	DiffAdd    lipgloss.Style
	DiffRemove lipgloss.Style
	DiffHeader lipgloss.Style
}

// DefaultStyles returns the default styles.
func DefaultStyles() Styles {
	return Styles{
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary),
		Subtitle: lipgloss.NewStyle().
			Foreground(ColorSecondary),
		Label: lipgloss.NewStyle().
			Foreground(ColorMuted).
			Width(13),
		Text: lipgloss.NewStyle().
			Foreground(ColorText),

		Success: lipgloss.NewStyle().Foreground(ColorSuccess),
		Warning: lipgloss.NewStyle().Foreground(ColorWarning),
		Error:   lipgloss.NewStyle().Foreground(ColorError),
		Muted:   lipgloss.NewStyle().Foreground(ColorMuted),

		Selected: lipgloss.NewStyle().
			Foreground(ColorPrimary).
			Bold(true),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorMuted).
			Padding(0, 1),
		Help: lipgloss.NewStyle().
			Foreground(ColorMuted),

		DiffAdd:    lipgloss.NewStyle().Foreground(ColorSuccess),
		DiffRemove: lipgloss.NewStyle().Foreground(ColorError),
		DiffHeader: lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorSecondary),
	}
}

// outcomeSymbol returns the one-character marker and style for an outcome.
func (s Styles) outcomeSymbol(outcome rollout.Outcome) string {
	switch outcome {
	case rollout.OutcomeUnchanged:
		return s.Muted.Render("=")
	case rollout.OutcomeWouldChange:
		return s.Warning.Render("~")
	case rollout.OutcomeChanged:
		return s.Success.Render("+")
	case rollout.OutcomeFailed:
		return s.Error.Render("x")
	default:
		return "?"
	}
}
