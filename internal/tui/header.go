package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"

	"xrayclient/internal/core/types"
)

var tabNames = []string{"Status", "Profiles", "Logs"}

func renderHeader(activeTab int, state types.RunState, profile string, width int) string {
	logo := logoStyle.Render("XRAYCLIENT")

	pill := statePill(state)
	if profile != "" {
		pill = dimStyle.Render(profile+" ") + pill
	}

	tabs := make([]string, 0, len(tabNames))
	for i, name := range tabNames {
		if i == activeTab {
			tabs = append(tabs, activeTabStyle.Render(name))
		} else {
			tabs = append(tabs, inactiveTabStyle.Render(name))
		}
	}
	tabBar := lipgloss.JoinHorizontal(lipgloss.Bottom, tabs...)

	gap := max(width-lipgloss.Width(logo)-lipgloss.Width(pill), 1)
	topRow := logo + strings.Repeat(" ", gap) + pill

	return lipgloss.JoinVertical(lipgloss.Left, topRow, tabBar, separator(width))
}

func renderFooter(helpText string, width int) string {
	return lipgloss.JoinVertical(lipgloss.Left, separator(width), helpBarStyle.Render(helpText))
}

func separator(width int) string {
	return lipgloss.NewStyle().
		Foreground(colorBorder).
		Render(strings.Repeat("─", max(width, 0)))
}

func renderHelpBar(showFull bool) string {
	if !showFull {
		return joinBindings(keys.ShortHelp(), " | ")
	}
	var lines []string
	for _, group := range keys.FullHelp() {
		lines = append(lines, joinBindings(group, "  "))
	}
	return strings.Join(lines, "\n")
}

func joinBindings(bindings []key.Binding, sep string) string {
	var parts []string
	for _, b := range bindings {
		if !b.Enabled() {
			continue
		}
		parts = append(parts, helpKeyStyle.Render(b.Help().Key)+" "+helpDescStyle.Render(b.Help().Desc))
	}
	return strings.Join(parts, helpSepStyle.Render(sep))
}
