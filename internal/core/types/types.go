package types

import (
	"encoding/json"
	"io"
	"os"
	"strconv"
	"syscall"
	"time"
)

// RunState is the supervisor's view of the engine lifecycle.
type RunState string

const (
	StateStopped  RunState = "stopped"
	StateStarting RunState = "starting"
	StateRunning  RunState = "running"
	StateStopping RunState = "stopping"
	StateCrashed  RunState = "crashed"
)

// ExitStatus describes how an engine process ended.
type ExitStatus struct {
	Code   int       `json:"code"`
	Signal os.Signal `json:"-"`
}

// Clean reports whether the exit counts as a successful run: exit code zero
// or termination by SIGTERM. Other signals are failures.
func (s ExitStatus) Clean() bool {
	return s.Code == 0 || s.Signal == syscall.SIGTERM
}

func (s ExitStatus) String() string {
	if s.Signal != nil {
		return "signal: " + s.Signal.String()
	}
	return "exit code " + strconv.Itoa(s.Code)
}

// Process is a spawned engine. Stdout and Stderr must be drained by the
// caller, otherwise Wait blocks. Both streams reach EOF after Wait returns.
type Process interface {
	PID() int
	Stdout() io.Reader
	Stderr() io.Reader
	// Terminate requests a graceful stop.
	Terminate() error
	Kill() error
	Wait() ExitStatus
}

// Status represents core runtime status
type Status struct {
	State      RunState      `json:"state"`
	Running    bool          `json:"running"`
	PID        int           `json:"pid,omitempty"`
	Generation uint64        `json:"generation"`
	Profile    string        `json:"profile,omitempty"`
	HTTP       string        `json:"http,omitempty"`
	Socks      string        `json:"socks,omitempty"`
	StartedAt  time.Time     `json:"startedAt,omitempty"`
	Uptime     time.Duration `json:"uptime,omitempty"`
}

// SpeedStats holds byte rates. A nil field means the counter was absent
// from that poll.
type SpeedStats struct {
	Up   *float64 `json:"up,omitempty"`
	Down *float64 `json:"down,omitempty"`
}

// VersionInfo is reported after install and after an engine upgrade.
type VersionInfo struct {
	AppVersion    string    `json:"appVersion"`
	XrayVersion   string    `json:"xrayVersion"`
	GeoLastUpdate time.Time `json:"geoLastUpdate"`
}

// UpdateSession tracks one asset update run. Err names the file that failed
// and is encoded as null otherwise.
type UpdateSession struct {
	Running  bool    `json:"running"`
	End      bool    `json:"end"`
	Err      string  `json:"err"`
	Progress float64 `json:"progress"`
	GeoIP    bool    `json:"geoip"`
	Xray     bool    `json:"xray"`
}

func (s UpdateSession) MarshalJSON() ([]byte, error) {
	type plain UpdateSession
	out := struct {
		plain
		Err *string `json:"err"`
	}{plain: plain(s)}
	if s.Err != "" {
		out.Err = &s.Err
	}
	return json.Marshal(out)
}
