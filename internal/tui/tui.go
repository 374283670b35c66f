// Package tui is the interactive monitor attached to a running daemon. It
// renders the daemon's event stream and drives the engine over the API.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"xrayclient/internal/api"
	"xrayclient/internal/core/types"
	"xrayclient/internal/events"
	"xrayclient/internal/latency"
	"xrayclient/internal/storage/models"
	pkgerrors "xrayclient/pkg/errors"
)

// Tab indices.
const (
	tabStatus   = 0
	tabProfiles = 1
	tabLogs     = 2
	tabCount    = 3
)

// Client is the part of the daemon API the monitor drives.
type Client interface {
	Status(ctx context.Context) (*api.StatusView, error)
	Start(ctx context.Context) (*types.Status, error)
	Stop(ctx context.Context) error
	SetProxy(ctx context.Context, enabled bool) error
	Update(ctx context.Context) error
	Identity(ctx context.Context, seed string) (string, error)
}

// Stream delivers daemon events.
type Stream interface {
	Next() (api.StreamEvent, error)
	Close() error
}

// ProfileStore lists profiles and their latency history.
type ProfileStore interface {
	GetAllProfiles(ctx context.Context) ([]*models.Profile, error)
	GetLatestLatency(ctx context.Context, profileID int64) (*models.LatencyTest, error)
}

// Selector reads and switches the current profile.
type Selector interface {
	Current(ctx context.Context) (*models.Profile, error)
	Select(ctx context.Context, id int64) (*models.Profile, error)
}

// Deps holds everything injected into the monitor.
type Deps struct {
	Client   Client
	Stream   Stream
	Profiles ProfileStore
	Selector Selector
	Tester   *latency.Tester
}

// Model is the root BubbleTea model.
type Model struct {
	client   Client
	stream   Stream
	store    ProfileStore
	selector Selector
	tester   *latency.Tester
	send     func(tea.Msg)

	width  int
	height int

	activeTab int
	showHelp  bool

	// busy is set while an engine action is in flight.
	busy      bool
	streamErr error

	status      statusModel
	profilesTab profilesModel
	logsTab     logsModel

	notification    string
	notificationErr bool
	notifVersion    int

	spinner spinner.Model
}

// NewModel creates a new root Model.
func NewModel(deps Deps) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	return &Model{
		client:      deps.Client,
		stream:      deps.Stream,
		store:       deps.Profiles,
		selector:    deps.Selector,
		tester:      deps.Tester,
		spinner:     s,
		status:      newStatusModel(),
		profilesTab: newProfilesModel(),
		logsTab:     newLogsModel(),
	}
}

func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{loadStatus(m.client), m.spinner.Tick}
	if m.stream != nil {
		cmds = append(cmds, waitForEvent(m.stream))
	}
	if m.store != nil && m.selector != nil {
		cmds = append(cmds, loadProfiles(m.store, m.selector))
	}
	return tea.Batch(cmds...)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	prevNotifVersion := m.notifVersion

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		ch := m.contentHeight()
		m.status.setSize(msg.Width, ch)
		m.profilesTab.setSize(msg.Width, ch)
		m.logsTab.setSize(msg.Width, ch)
		return m, nil

	case tea.KeyMsg:
		if cmd, handled := m.handleGlobalKey(msg); handled {
			return m, cmd
		}

	case eventMsg:
		cmds = append(cmds, m.handleEvent(msg.event), waitForEvent(m.stream))

	case streamClosedMsg:
		m.streamErr = msg.err
		m.setNotification("Lost connection to daemon", true)

	case statusLoadedMsg:
		if msg.err != nil {
			m.setNotification(fmt.Sprintf("Status failed: %v", msg.err), true)
			break
		}
		m.status.engine = msg.view.Engine
		m.status.session = msg.view.Update
		if msg.view.Version != nil {
			m.status.version = msg.view.Version
		}
		if msg.view.Speed != nil {
			m.status.speed = msg.view.Speed
		}

	case profilesLoadedMsg:
		if msg.err == nil {
			m.profilesTab.setProfiles(msg)
		}

	case actionResultMsg:
		m.busy = false
		if msg.err != nil {
			m.setNotification(msg.err.Error(), true)
		} else {
			m.setNotification(msg.text, false)
		}
		cmds = append(cmds, loadStatus(m.client))

	case proxyResultMsg:
		m.busy = false
		if msg.err != nil {
			m.setNotification(fmt.Sprintf("System proxy: %v", msg.err), true)
		} else {
			m.status.proxyOn = msg.enabled
			m.setNotification("System proxy "+onOff(msg.enabled), false)
		}

	case identityResultMsg:
		m.busy = false
		if msg.err != nil {
			m.setNotification(fmt.Sprintf("Identity failed: %v", msg.err), true)
		} else {
			m.setNotification("New identity: "+msg.id, false)
		}

	case profileSelectedMsg:
		m.busy = false
		switch {
		case msg.err != nil:
			m.setNotification(fmt.Sprintf("Switch failed: %v", msg.err), true)
		case msg.restarted:
			m.setNotification(fmt.Sprintf("Switched to %s, engine restarted", msg.profile.Name), false)
		default:
			m.setNotification(fmt.Sprintf("Current profile: %s", msg.profile.Name), false)
		}
		cmds = append(cmds, loadProfiles(m.store, m.selector), loadStatus(m.client))

	case latencyTestProgressMsg:
		m.profilesTab.batchCurrent = msg.current
		m.profilesTab.batchTotal = msg.total
		m.profilesTab.record(msg.result.Latency)

	case latencyTestDoneMsg:
		m.profilesTab.testingBatch = false
		m.profilesTab.adjustTableHeight()
		m.setNotification(fmt.Sprintf("Tested %d: %d ok, %d failed",
			msg.batch.Tested, msg.batch.Succeeded, msg.batch.Failed), false)
		cmds = append(cmds, loadProfiles(m.store, m.selector))

	case singleLatencyDoneMsg:
		m.profilesTab.testingSingle = false
		m.profilesTab.adjustTableHeight()
		m.profilesTab.record(msg.result.Latency)
		if l := msg.result.Latency; l.Success && l.LatencyMS != nil {
			m.setNotification(fmt.Sprintf("%s: %s", msg.result.Profile.Name,
				latencyStyle(*l.LatencyMS).Render(fmt.Sprintf("%dms", *l.LatencyMS))), false)
		} else {
			m.setNotification(fmt.Sprintf("%s: unreachable", msg.result.Profile.Name), true)
		}

	case clearNotificationMsg:
		if msg.version == m.notifVersion {
			m.notification = ""
			m.notificationErr = false
		}
	}

	if m.busy || m.profilesTab.testingSingle || m.profilesTab.testingBatch {
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	if m.notifVersion > prevNotifVersion && m.notification != "" {
		cmds = append(cmds, clearNotification(4*time.Second, m.notifVersion))
	}

	switch m.activeTab {
	case tabProfiles:
		cmds = append(cmds, m.profilesTab.Update(msg, m))
	case tabLogs:
		cmds = append(cmds, m.logsTab.Update(msg, m))
	}

	return m, tea.Batch(cmds...)
}

// handleEvent folds one daemon event into the model.
func (m *Model) handleEvent(ev api.StreamEvent) tea.Cmd {
	switch ev.Kind {
	case events.KindRunning:
		var running bool
		if ev.Decode(&running) == nil {
			m.status.engine.Running = running
			if running {
				m.status.engine.State = types.StateRunning
			} else {
				m.status.engine.State = types.StateStopped
				m.status.speed = nil
			}
		}
		return loadStatus(m.client)

	case events.KindSpeed:
		var speed types.SpeedStats
		if ev.Decode(&speed) == nil {
			m.status.speed = &speed
		}

	case events.KindVersionInfo:
		var v types.VersionInfo
		if ev.Decode(&v) == nil {
			m.status.version = &v
		}

	case events.KindUpdateProgress:
		var s types.UpdateSession
		if ev.Decode(&s) != nil {
			return nil
		}
		finished := s.End && m.status.session.Running
		m.status.session = s
		if finished {
			if s.Err != "" {
				m.setNotification("Update failed: "+s.Err, true)
			} else {
				m.setNotification("Assets updated", false)
			}
		}

	case events.KindAccessLog, events.KindErrorLog, events.KindTip, events.KindIdentity:
		var line string
		if ev.Decode(&line) == nil {
			m.logsTab.append(ev.Time, ev.Kind, line)
		}
	}
	return nil
}

func (m *Model) View() string {
	if m.width == 0 {
		return "Connecting..."
	}

	header := renderHeader(m.activeTab, m.status.engine.State, m.status.engine.Profile, m.width)

	var content string
	switch m.activeTab {
	case tabStatus:
		content = m.status.View()
	case tabProfiles:
		content = m.profilesTab.View(m.spinner)
	case tabLogs:
		content = m.logsTab.View()
	}

	parts := []string{header}
	if n := m.notificationView(); n != "" {
		parts = append(parts, n)
	}
	parts = append(parts, content, renderFooter(renderHelpBar(m.showHelp), m.width))

	return forceHeight(lipgloss.JoinVertical(lipgloss.Left, parts...), m.width, m.height)
}

func (m *Model) notificationView() string {
	switch {
	case m.busy:
		return m.spinner.View() + " Working..."
	case m.notification == "":
		return ""
	case m.notificationErr:
		return notifErrorStyle.Render("! " + m.notification)
	default:
		return notifSuccessStyle.Render("* " + m.notification)
	}
}

// forceHeight pads or truncates s to exactly height lines so BubbleTea
// does not leave stale lines behind when switching tabs.
func forceHeight(s string, width, height int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > height {
		lines = lines[:height]
	}
	blank := strings.Repeat(" ", width)
	for len(lines) < height {
		lines = append(lines, blank)
	}
	return strings.Join(lines, "\n")
}

func (m *Model) contentHeight() int {
	overhead := 6
	if m.showHelp {
		overhead += 3
	}
	return max(m.height-overhead, 1)
}

// handleGlobalKey runs bindings that apply on every tab. handled is false
// when the key belongs to the active tab.
func (m *Model) handleGlobalKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch {
	case key.Matches(msg, keys.Quit):
		return tea.Quit, true

	case key.Matches(msg, keys.Help):
		m.showHelp = !m.showHelp
		ch := m.contentHeight()
		m.status.setSize(m.width, ch)
		m.profilesTab.setSize(m.width, ch)
		m.logsTab.setSize(m.width, ch)
		return nil, true

	case key.Matches(msg, keys.TabNext):
		m.activeTab = (m.activeTab + 1) % tabCount
		return nil, true

	case key.Matches(msg, keys.TabPrev):
		m.activeTab = (m.activeTab - 1 + tabCount) % tabCount
		return nil, true

	case key.Matches(msg, keys.Refresh):
		cmds := []tea.Cmd{loadStatus(m.client)}
		if m.store != nil && m.selector != nil {
			cmds = append(cmds, loadProfiles(m.store, m.selector))
		}
		return tea.Batch(cmds...), true
	}

	if m.busy {
		return nil, false
	}
	switch {
	case key.Matches(msg, keys.Start):
		m.busy = true
		return startEngine(m.client), true
	case key.Matches(msg, keys.Stop):
		m.busy = true
		return stopEngine(m.client), true
	case key.Matches(msg, keys.Proxy):
		m.busy = true
		return setProxy(m.client, !m.status.proxyOn), true
	case key.Matches(msg, keys.Update):
		if m.status.session.Running {
			m.setNotification(pkgerrors.ErrUpdateInProgress.Error(), true)
			return clearNotification(4*time.Second, m.notifVersion), true
		}
		m.busy = true
		return requestUpdate(m.client), true
	case key.Matches(msg, keys.Identity):
		m.busy = true
		return createIdentity(m.client), true
	}
	return nil, false
}

func (m *Model) setNotification(text string, isErr bool) {
	m.notification = text
	m.notificationErr = isErr
	m.notifVersion++
}

// NewProgram creates a bubbletea program with alt screen.
func NewProgram(ctx context.Context, deps Deps) *tea.Program {
	m := NewModel(deps)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	m.send = p.Send
	return p
}

// Run opens the daemon event stream and blocks until the user quits or ctx
// ends. The daemon treats the open stream as a visible window.
func Run(ctx context.Context, client *api.Client, deps Deps) error {
	stream, err := client.Events(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	deps.Client = client
	deps.Stream = stream
	_, err = NewProgram(ctx, deps).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
