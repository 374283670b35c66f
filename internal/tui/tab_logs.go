package tui

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"xrayclient/internal/events"
)

const maxLogLines = 500

type logLine struct {
	at   time.Time
	kind events.Kind
	text string
}

type logsModel struct {
	width  int
	height int

	lines    []logLine
	viewport viewport.Model
	follow   bool
}

func newLogsModel() logsModel {
	return logsModel{
		viewport: viewport.New(0, 0),
		follow:   true,
	}
}

func (lm *logsModel) setSize(w, h int) {
	lm.width = w
	lm.height = h
	lm.viewport.Width = w
	lm.viewport.Height = max(h, 1)
	lm.render()
}

// append adds a line, dropping the oldest beyond maxLogLines.
func (lm *logsModel) append(at time.Time, kind events.Kind, text string) {
	for _, part := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		lm.lines = append(lm.lines, logLine{at: at, kind: kind, text: part})
	}
	if over := len(lm.lines) - maxLogLines; over > 0 {
		lm.lines = append(lm.lines[:0], lm.lines[over:]...)
	}
	lm.render()
}

func (lm *logsModel) clear() {
	lm.lines = nil
	lm.follow = true
	lm.render()
}

func (lm *logsModel) render() {
	out := make([]string, len(lm.lines))
	for i, l := range lm.lines {
		out[i] = timeStampStyle.Render(l.at.Format("15:04:05")) + " " + lineStyle(l.kind).Render(l.text)
	}
	lm.viewport.SetContent(strings.Join(out, "\n"))
	if lm.follow {
		lm.viewport.GotoBottom()
	}
}

func lineStyle(kind events.Kind) lipgloss.Style {
	switch kind {
	case events.KindErrorLog:
		return errorLogStyle
	case events.KindTip:
		return tipLogStyle
	case events.KindAccessLog:
		return accessLogStyle
	default:
		return infoLogStyle
	}
}

func (lm *logsModel) Update(msg tea.Msg, _ *Model) tea.Cmd {
	if msg, ok := msg.(tea.KeyMsg); ok && key.Matches(msg, keys.Clear) {
		lm.clear()
		return nil
	}
	var cmd tea.Cmd
	lm.viewport, cmd = lm.viewport.Update(msg)
	lm.follow = lm.viewport.AtBottom()
	return cmd
}

func (lm *logsModel) View() string {
	if len(lm.lines) == 0 {
		return forceHeight(dimStyle.Render("Waiting for engine output..."), lm.width, lm.height)
	}
	return forceHeight(lm.viewport.View(), lm.width, lm.height)
}
