package tui

import (
	"xrayclient/internal/api"
	"xrayclient/internal/latency"
	"xrayclient/internal/storage/models"
)

// Event stream messages.

type eventMsg struct {
	event api.StreamEvent
}

type streamClosedMsg struct {
	err error
}

// Data loading messages.

type statusLoadedMsg struct {
	view *api.StatusView
	err  error
}

type profilesLoadedMsg struct {
	profiles  []*models.Profile
	latencies map[int64]*models.LatencyTest
	current   int64
	err       error
}

// Engine control messages.

type actionResultMsg struct {
	text string
	err  error
}

type proxyResultMsg struct {
	enabled bool
	err     error
}

type identityResultMsg struct {
	id  string
	err error
}

type profileSelectedMsg struct {
	profile   *models.Profile
	restarted bool
	err       error
}

// Latency testing messages.

type latencyTestProgressMsg struct {
	result  *latency.TestResult
	current int
	total   int
}

type latencyTestDoneMsg struct {
	batch *latency.BatchResult
}

type singleLatencyDoneMsg struct {
	result *latency.TestResult
}

// Notification message.

type clearNotificationMsg struct {
	version int
}
