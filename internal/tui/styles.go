package tui

import (
	"github.com/charmbracelet/lipgloss"

	"xrayclient/internal/core/types"
)

// Adaptive palette for light and dark terminals.
var (
	colorAccent = lipgloss.AdaptiveColor{Light: "#1F6FEB", Dark: "#58A6FF"}
	colorGreen  = lipgloss.AdaptiveColor{Light: "#1A7F37", Dark: "#3FB950"}
	colorRed    = lipgloss.AdaptiveColor{Light: "#CF222E", Dark: "#F85149"}
	colorAmber  = lipgloss.AdaptiveColor{Light: "#9A6700", Dark: "#D29922"}
	colorSubtle = lipgloss.AdaptiveColor{Light: "#8C959F", Dark: "#484F58"}
	colorFg     = lipgloss.AdaptiveColor{Light: "#1F2328", Dark: "#E6EDF3"}
	colorDimFg  = lipgloss.AdaptiveColor{Light: "#656D76", Dark: "#8B949E"}
	colorBorder = lipgloss.AdaptiveColor{Light: "#D0D7DE", Dark: "#30363D"}
	colorSelBg  = lipgloss.AdaptiveColor{Light: "#DDF4FF", Dark: "#15253A"}
)

// Header.
var (
	logoStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorAccent).
			PaddingRight(2)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorAccent).
			Underline(true).
			Padding(0, 2)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(colorDimFg).
				Padding(0, 2)

	pillStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Padding(0, 1)
)

// statePill renders the engine state badge.
func statePill(state types.RunState) string {
	bg := colorRed
	switch state {
	case types.StateRunning:
		bg = colorGreen
	case types.StateStarting, types.StateStopping:
		bg = colorAmber
	case types.StateStopped:
		bg = colorSubtle
	}
	label := string(state)
	if label == "" {
		label = "unknown"
	}
	return pillStyle.Background(bg).Render(label)
}

// Help bar.
var (
	helpBarStyle = lipgloss.NewStyle().
			Foreground(colorDimFg).
			Padding(0, 1)

	helpKeyStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorAccent)

	helpDescStyle = lipgloss.NewStyle().
			Foreground(colorDimFg)

	helpSepStyle = lipgloss.NewStyle().
			Foreground(colorSubtle)
)

// Content.
var (
	errorStyle   = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(colorGreen).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(colorDimFg)
	spinnerStyle = lipgloss.NewStyle().Foreground(colorAccent)

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 2)

	cardTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorAccent).
			MarginBottom(1)

	cardLabelStyle = lipgloss.NewStyle().
			Foreground(colorDimFg).
			Width(12)

	cardValueStyle = lipgloss.NewStyle().
			Foreground(colorFg)
)

// Log lines, keyed by the stream they came from.
var (
	accessLogStyle = lipgloss.NewStyle().Foreground(colorFg)
	errorLogStyle  = lipgloss.NewStyle().Foreground(colorRed)
	tipLogStyle    = lipgloss.NewStyle().Foreground(colorAmber)
	infoLogStyle   = lipgloss.NewStyle().Foreground(colorAccent)
	timeStampStyle = lipgloss.NewStyle().Foreground(colorSubtle)
)

// Notifications.
var (
	notifSuccessStyle = lipgloss.NewStyle().
				Foreground(colorGreen).
				Bold(true).
				Padding(0, 1)

	notifErrorStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true).
			Padding(0, 1)
)

func latencyStyle(ms int) lipgloss.Style {
	switch {
	case ms < 150:
		return lipgloss.NewStyle().Foreground(colorGreen)
	case ms < 600:
		return lipgloss.NewStyle().Foreground(colorAmber)
	default:
		return lipgloss.NewStyle().Foreground(colorRed)
	}
}
