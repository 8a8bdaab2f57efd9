package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/nicklasos/god/internal/supervisor"
)

// ANSI 16-color palette so the UI follows the terminal theme
var (
	fgColor      = lipgloss.Color("15") // White foreground
	accentColor  = lipgloss.Color("6")  // Cyan accent
	selectColor  = lipgloss.Color("4")  // Blue for the descriptor title
	subtleColor  = lipgloss.Color("8")  // Dark gray for labels and stopped apps
	warningColor = lipgloss.Color("3")  // Yellow for transitions and status messages
	errorColor   = lipgloss.Color("1")  // Red for errors
	successColor = lipgloss.Color("2")  // Green for running apps
)

var (
	// Panel styles
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accentColor).
			Padding(1, 2)

	listPanelStyle   = panelStyle
	detailPanelStyle = panelStyle
	logPanelStyle    = panelStyle

	// Title styles
	titleStyle = lipgloss.NewStyle().
			Foreground(accentColor).
			Bold(true).
			MarginBottom(1)

	descriptorTitleStyle = lipgloss.NewStyle().
				Foreground(fgColor).
				Background(selectColor).
				Bold(true).
				Padding(0, 1).
				MarginBottom(1)

	// Text styles
	labelStyle = lipgloss.NewStyle().
			Foreground(subtleColor).
			MarginRight(1)

	valueStyle = lipgloss.NewStyle().
			Foreground(fgColor)

	helpStyle = lipgloss.NewStyle().
			Foreground(subtleColor).
			MarginTop(1)

	// List item styles
	listItemStyle = lipgloss.NewStyle().
			Foreground(fgColor).
			PaddingLeft(2)

	listItemSelectedStyle = lipgloss.NewStyle().
				Foreground(accentColor).
				Border(lipgloss.NormalBorder(), false, false, false, true).
				BorderForeground(accentColor).
				PaddingLeft(1)

	// Error/warning styles
	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(warningColor)
)

// Status badge styles
var statusStyles = map[string]lipgloss.Style{
	supervisor.StatusRunning: lipgloss.NewStyle().
		Foreground(successColor).
		Bold(true),
	supervisor.StatusStarting: lipgloss.NewStyle().
		Foreground(warningColor).
		Bold(true),
	supervisor.StatusStopping: lipgloss.NewStyle().
		Foreground(warningColor).
		Bold(true),
	supervisor.StatusStopped: lipgloss.NewStyle().
		Foreground(subtleColor).
		Bold(true),
	supervisor.StatusExited: lipgloss.NewStyle().
		Foreground(subtleColor).
		Bold(true),
	supervisor.StatusErrored: lipgloss.NewStyle().
		Foreground(errorColor).
		Background(lipgloss.Color("52")).
		Bold(true),
}

// GetStatusStyle returns the badge style for an app status
func GetStatusStyle(status string) lipgloss.Style {
	if style, ok := statusStyles[status]; ok {
		return style
	}
	return lipgloss.NewStyle().Foreground(subtleColor)
}
