package tui

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"xrayclient/internal/storage/models"
)

type profilesModel struct {
	width  int
	height int

	table     table.Model
	profiles  []*models.Profile
	latencies map[int64]*models.LatencyTest
	current   int64

	testingSingle bool
	testingBatch  bool
	batchCurrent  int
	batchTotal    int
	batchProgress progress.Model
}

func profileColumns(width int) []table.Column {
	name, addr := 24, 28
	if width > 100 {
		name, addr = width/4, width/4
	}
	return []table.Column{
		{Title: " ", Width: 1},
		{Title: "ID", Width: 5},
		{Title: "Name", Width: name},
		{Title: "Address", Width: addr},
		{Title: "Network", Width: 8},
		{Title: "Security", Width: 9},
		{Title: "Latency", Width: 9},
	}
}

func newProfilesModel() profilesModel {
	t := table.New(
		table.WithColumns(profileColumns(0)),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderForeground(colorBorder).
		BorderBottom(true).
		Bold(true).
		Foreground(colorAccent)
	s.Selected = s.Selected.
		Foreground(colorFg).
		Background(colorSelBg).
		Bold(true)
	t.SetStyles(s)

	return profilesModel{
		table:         t,
		latencies:     map[int64]*models.LatencyTest{},
		batchProgress: progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
	}
}

func (pm *profilesModel) setSize(w, h int) {
	pm.width = w
	pm.height = h
	pm.table.SetColumns(profileColumns(w))
	pm.batchProgress.Width = max(w-24, 10)
	pm.adjustTableHeight()
}

// adjustTableHeight leaves room for the testing indicator line.
func (pm *profilesModel) adjustTableHeight() {
	overhead := 0
	if pm.testingSingle || pm.testingBatch {
		overhead++
	}
	pm.table.SetHeight(max(pm.height-overhead, 1))
}

func (pm *profilesModel) setProfiles(msg profilesLoadedMsg) {
	pm.profiles = msg.profiles
	pm.latencies = msg.latencies
	pm.current = msg.current
	pm.refreshRows()
}

func (pm *profilesModel) refreshRows() {
	rows := make([]table.Row, len(pm.profiles))
	for i, p := range pm.profiles {
		marker := ""
		if p.ID == pm.current {
			marker = "*"
		}
		rows[i] = table.Row{
			marker,
			strconv.FormatInt(p.ID, 10),
			truncate(p.Name, 30),
			net.JoinHostPort(p.General.Address, strconv.Itoa(p.General.Port)),
			p.General.Network,
			orDash(p.General.Security),
			pm.latencyCell(p.ID),
		}
	}
	pm.table.SetRows(rows)
}

func (pm *profilesModel) latencyCell(id int64) string {
	l, ok := pm.latencies[id]
	switch {
	case !ok:
		return "-"
	case l.Success && l.LatencyMS != nil:
		return fmt.Sprintf("%dms", *l.LatencyMS)
	default:
		return "fail"
	}
}

func (pm *profilesModel) record(l *models.LatencyTest) {
	if l == nil {
		return
	}
	pm.latencies[l.ProfileID] = l
	pm.refreshRows()
}

func (pm *profilesModel) selected() *models.Profile {
	idx := pm.table.Cursor()
	if idx >= 0 && idx < len(pm.profiles) {
		return pm.profiles[idx]
	}
	return nil
}

func (pm *profilesModel) Update(msg tea.Msg, root *Model) tea.Cmd {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(msg, keys.Use):
			if p := pm.selected(); p != nil && !root.busy {
				root.busy = true
				return selectProfile(root.selector, root.client, p, root.status.engine.Running)
			}
			return nil

		case key.Matches(msg, keys.Ping):
			if p := pm.selected(); p != nil && root.tester != nil && !pm.testingSingle && !pm.testingBatch {
				pm.testingSingle = true
				pm.adjustTableHeight()
				return testSingleLatency(root.tester, p)
			}
			return nil

		case key.Matches(msg, keys.PingAll):
			if len(pm.profiles) > 0 && root.tester != nil && !pm.testingSingle && !pm.testingBatch {
				pm.testingBatch = true
				pm.batchCurrent = 0
				pm.batchTotal = len(pm.profiles)
				pm.adjustTableHeight()
				return testBatchLatency(root.tester, pm.profiles, root.send)
			}
			return nil
		}
	}

	var cmd tea.Cmd
	pm.table, cmd = pm.table.Update(msg)
	return cmd
}

func (pm *profilesModel) View(s spinner.Model) string {
	var b strings.Builder

	if pm.testingSingle {
		b.WriteString(s.View() + " Testing latency...\n")
	} else if pm.testingBatch {
		pct := 0.0
		if pm.batchTotal > 0 {
			pct = float64(pm.batchCurrent) / float64(pm.batchTotal)
		}
		b.WriteString(fmt.Sprintf("%s Testing %d/%d ", s.View(), pm.batchCurrent, pm.batchTotal))
		b.WriteString(pm.batchProgress.ViewAs(pct))
		b.WriteString("\n")
	}

	if len(pm.profiles) == 0 {
		b.WriteString(dimStyle.Render("No profiles. Import one with: xrayclient profile import <uri>"))
	} else {
		b.WriteString(pm.table.View())
	}
	return forceHeight(b.String(), pm.width, pm.height)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-1] + "~"
}
