// Package tui renders transfer progress with Bubble Tea when --tui is set.
//
// The view shows the same numbers as the plain completion line. Quitting
// cancels the transfer, and the ledger or partial file keeps the resume
// point.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/ferry/types"
)

var (
	accent = lipgloss.Color("#0EA5E9")
	good   = lipgloss.Color("#10B981")
	bad    = lipgloss.Color("#EF4444")
	dim    = lipgloss.Color("#6B7280")
)

var (
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(accent).MarginBottom(1)
	LabelStyle = lipgloss.NewStyle().Foreground(dim).Width(14)
	HelpStyle  = lipgloss.NewStyle().Foreground(dim).MarginTop(1)
	BoxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(dim).
			Padding(1, 2)
)

var outcomeStyles = map[types.Outcome]lipgloss.Style{
	types.OutcomeCompleted: lipgloss.NewStyle().Bold(true).Foreground(good),
	types.OutcomeAborted:   lipgloss.NewStyle().Bold(true).Foreground(bad),
}

// OutcomeStyle colors a receipt outcome; unknown outcomes are unstyled.
func OutcomeStyle(outcome types.Outcome) lipgloss.Style {
	if s, ok := outcomeStyles[outcome]; ok {
		return s
	}
	return lipgloss.NewStyle()
}
