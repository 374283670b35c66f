//go:build unix

package xray

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"xrayclient/internal/core/types"
)

// Own process group so a Ctrl+C on the CLI does not reach the engine
// before the supervisor has stopped it.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func terminate(p *os.Process) error {
	return p.Signal(unix.SIGTERM)
}

func exitStatus(state *os.ProcessState, _ bool) types.ExitStatus {
	if state == nil {
		return types.ExitStatus{Code: -1}
	}
	status := types.ExitStatus{Code: state.ExitCode()}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		status.Signal = ws.Signal()
	}
	return status
}
