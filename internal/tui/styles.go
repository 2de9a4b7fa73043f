package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/felixgeelhaar/warden/internal/command"
)

// Styles contains lipgloss styles for the TUI
type Styles struct {
	Title   lipgloss.Style
	Command lipgloss.Style
	Error   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Muted   lipgloss.Style
	Border  lipgloss.Style
	Choice  lipgloss.Style
	Chosen  lipgloss.Style
	Key     lipgloss.Style
	KeyDesc lipgloss.Style
}

// DefaultStyles returns the default lipgloss styles
func DefaultStyles() Styles {
	return Styles{
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("63")), // Purple
		Command: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("252")),
		Error: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196")), // Red
		Success: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("46")), // Green
		Warning: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("226")), // Yellow
		Muted: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")), // Gray
		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1),
		Choice: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Padding(0, 1),
		Chosen: lipgloss.NewStyle().
			Background(lipgloss.Color("63")).
			Foreground(lipgloss.Color("230")).
			Bold(true).
			Padding(0, 1),
		Key: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("63")),
		KeyDesc: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),
	}
}

// TierColor returns the accent color for a risk tier.
func TierColor(t command.Tier) lipgloss.Color {
	switch t {
	case command.TierDestructive:
		return lipgloss.Color("196")
	case command.TierCaution, command.TierLongRunning:
		return lipgloss.Color("226")
	case command.TierInteractive:
		return lipgloss.Color("86")
	default:
		return lipgloss.Color("46")
	}
}

// TierBadge renders t as a colored label.
func (s Styles) TierBadge(t command.Tier) string {
	return lipgloss.NewStyle().Bold(true).Foreground(TierColor(t)).Render("[" + t.String() + "]")
}
