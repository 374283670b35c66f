package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"github.com/docker/go-units"

	"xrayclient/internal/core/types"
)

type statusModel struct {
	width  int
	height int

	engine  types.Status
	speed   *types.SpeedStats
	version *types.VersionInfo
	session types.UpdateSession
	proxyOn bool

	updateBar progress.Model
}

func newStatusModel() statusModel {
	return statusModel{
		updateBar: progress.New(progress.WithDefaultGradient()),
	}
}

func (sm *statusModel) setSize(w, h int) {
	sm.width = w
	sm.height = h
	sm.updateBar.Width = max(w-8, 10)
}

func (sm *statusModel) View() string {
	w := max(sm.width-6, 30)

	engine := sm.card("Engine",
		sm.row("State", string(sm.engine.State)),
		sm.row("Profile", orDash(sm.engine.Profile)),
		sm.row("PID", intOrDash(sm.engine.PID)),
		sm.row("Generation", fmt.Sprintf("%d", sm.engine.Generation)),
		sm.row("HTTP", orDash(sm.engine.HTTP)),
		sm.row("SOCKS", orDash(sm.engine.Socks)),
		sm.row("Uptime", sm.uptime()),
		sm.row("Proxy", onOff(sm.proxyOn)),
	)

	traffic := sm.card("Traffic",
		sm.row("Upload", formatRate(sm.upload())),
		sm.row("Download", formatRate(sm.download())),
		"",
		sm.row("Xray", sm.xrayVersion()),
		sm.row("App", sm.appVersion()),
	)

	var top string
	if sm.width > 80 {
		half := (w - 4) / 2
		top = lipgloss.JoinHorizontal(lipgloss.Top,
			cardStyle.Width(half).Render(engine), "  ", cardStyle.Width(half).Render(traffic))
	} else {
		top = lipgloss.JoinVertical(lipgloss.Left,
			cardStyle.Width(w).Render(engine), cardStyle.Width(w).Render(traffic))
	}

	return forceHeight(lipgloss.JoinVertical(lipgloss.Left, top, sm.updateView()), sm.width, sm.height)
}

func (sm *statusModel) updateView() string {
	s := sm.session
	switch {
	case s.Running:
		return fmt.Sprintf(" Updating assets %s", sm.updateBar.ViewAs(s.Progress/100))
	case s.End && s.Err != "":
		return errorStyle.Render(fmt.Sprintf(" Update failed: %s", s.Err))
	case s.End:
		return successStyle.Render(" Assets up to date")
	}
	return ""
}

func (sm *statusModel) card(title string, rows ...string) string {
	return lipgloss.JoinVertical(lipgloss.Left, append([]string{cardTitleStyle.Render(title)}, rows...)...)
}

func (sm *statusModel) row(label, value string) string {
	return cardLabelStyle.Render(label+":") + " " + cardValueStyle.Render(value)
}

func (sm *statusModel) uptime() string {
	if !sm.engine.Running || sm.engine.StartedAt.IsZero() {
		return "-"
	}
	return units.HumanDuration(time.Since(sm.engine.StartedAt))
}

func (sm *statusModel) upload() *float64 {
	if sm.speed == nil {
		return nil
	}
	return sm.speed.Up
}

func (sm *statusModel) download() *float64 {
	if sm.speed == nil {
		return nil
	}
	return sm.speed.Down
}

func (sm *statusModel) xrayVersion() string {
	if sm.version == nil {
		return "-"
	}
	return orDash(sm.version.XrayVersion)
}

func (sm *statusModel) appVersion() string {
	if sm.version == nil {
		return "-"
	}
	return orDash(sm.version.AppVersion)
}

// formatRate renders a byte rate; nil means the counter was absent.
func formatRate(v *float64) string {
	if v == nil {
		return "-"
	}
	return units.HumanSize(*v) + "/s"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func intOrDash(n int) string {
	if n == 0 {
		return "-"
	}
	return fmt.Sprintf("%d", n)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
