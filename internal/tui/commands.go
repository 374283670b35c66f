package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"xrayclient/internal/latency"
	"xrayclient/internal/storage/models"
)

// waitForEvent blocks on the stream and delivers one event. The model
// re-issues it after every eventMsg.
func waitForEvent(stream Stream) tea.Cmd {
	return func() tea.Msg {
		ev, err := stream.Next()
		if err != nil {
			return streamClosedMsg{err: err}
		}
		return eventMsg{event: ev}
	}
}

// loadStatus fetches the daemon snapshot.
func loadStatus(client Client) tea.Cmd {
	return func() tea.Msg {
		view, err := client.Status(context.Background())
		return statusLoadedMsg{view: view, err: err}
	}
}

// loadProfiles fetches all profiles with their latest latency result.
func loadProfiles(store ProfileStore, selector Selector) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		profiles, err := store.GetAllProfiles(ctx)
		if err != nil {
			return profilesLoadedMsg{err: err}
		}
		msg := profilesLoadedMsg{
			profiles:  profiles,
			latencies: make(map[int64]*models.LatencyTest, len(profiles)),
		}
		for _, p := range profiles {
			if l, err := store.GetLatestLatency(ctx, p.ID); err == nil && l != nil {
				msg.latencies[p.ID] = l
			}
		}
		if cur, err := selector.Current(ctx); err == nil && cur != nil {
			msg.current = cur.ID
		}
		return msg
	}
}

func startEngine(client Client) tea.Cmd {
	return func() tea.Msg {
		st, err := client.Start(context.Background())
		if err != nil {
			return actionResultMsg{err: err}
		}
		return actionResultMsg{text: fmt.Sprintf("Engine started (pid %d)", st.PID)}
	}
}

func stopEngine(client Client) tea.Cmd {
	return func() tea.Msg {
		if err := client.Stop(context.Background()); err != nil {
			return actionResultMsg{err: err}
		}
		return actionResultMsg{text: "Engine stopped"}
	}
}

func setProxy(client Client, enabled bool) tea.Cmd {
	return func() tea.Msg {
		err := client.SetProxy(context.Background(), enabled)
		return proxyResultMsg{enabled: enabled, err: err}
	}
}

func requestUpdate(client Client) tea.Cmd {
	return func() tea.Msg {
		if err := client.Update(context.Background()); err != nil {
			return actionResultMsg{err: err}
		}
		return actionResultMsg{text: "Update started"}
	}
}

func createIdentity(client Client) tea.Cmd {
	return func() tea.Msg {
		id, err := client.Identity(context.Background(), "")
		return identityResultMsg{id: id, err: err}
	}
}

// selectProfile makes profile current and restarts the engine when it runs.
func selectProfile(selector Selector, client Client, profile *models.Profile, running bool) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		if _, err := selector.Select(ctx, profile.ID); err != nil {
			return profileSelectedMsg{profile: profile, err: err}
		}
		if !running {
			return profileSelectedMsg{profile: profile}
		}
		if _, err := client.Start(ctx); err != nil {
			return profileSelectedMsg{profile: profile, err: err}
		}
		return profileSelectedMsg{profile: profile, restarted: true}
	}
}

func testSingleLatency(tester *latency.Tester, profile *models.Profile) tea.Cmd {
	return func() tea.Msg {
		return singleLatencyDoneMsg{result: tester.TestSingle(context.Background(), profile)}
	}
}

// testBatchLatency tests profiles with progress reporting via send.
func testBatchLatency(tester *latency.Tester, profiles []*models.Profile, send func(tea.Msg)) tea.Cmd {
	return func() tea.Msg {
		progress := func(result *latency.TestResult, current, total int) {
			if send != nil {
				send(latencyTestProgressMsg{result: result, current: current, total: total})
			}
		}
		batch := tester.TestBatch(context.Background(), profiles, progress)
		return latencyTestDoneMsg{batch: batch}
	}
}

// clearNotification returns a command that fires after a delay.
func clearNotification(d time.Duration, version int) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		return clearNotificationMsg{version: version}
	})
}
