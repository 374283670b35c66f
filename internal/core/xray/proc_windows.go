//go:build windows

package xray

import (
	"os"
	"syscall"

	"golang.org/x/sys/windows"

	"xrayclient/internal/core/types"
)

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP | windows.CREATE_NO_WINDOW}
}

// Windows has no SIGTERM; the process is killed and the exit is reported as
// a graceful termination.
func terminate(p *os.Process) error {
	return p.Kill()
}

func exitStatus(state *os.ProcessState, terminated bool) types.ExitStatus {
	if state == nil {
		return types.ExitStatus{Code: -1}
	}
	status := types.ExitStatus{Code: state.ExitCode()}
	if terminated && status.Code != 0 {
		status.Signal = syscall.SIGTERM
	}
	return status
}
