// Package sysproxy points the operating system proxy settings at the
// engine's local listeners.
package sysproxy

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"xrayclient/internal/storage/models"
)

type runner func(name string, args ...string) ([]byte, error)

// System toggles the system-wide proxy of the current platform.
type System struct {
	log *zap.Logger
	run runner
}

// New returns a System that shells out to the platform tools.
func New(log *zap.Logger) *System {
	if log == nil {
		log = zap.NewNop()
	}
	return &System{log: log, run: execRun}
}

// Enable routes system traffic through the given HTTP and SOCKS listeners.
func (s *System) Enable(http, socks models.Endpoint) error {
	if err := s.enable(http, socks); err != nil {
		return fmt.Errorf("failed to enable system proxy: %w", err)
	}
	s.log.Info("system proxy enabled",
		zap.String("http", hostPort(http)),
		zap.String("socks", hostPort(socks)))
	return nil
}

// Disable clears the system-wide proxy.
func (s *System) Disable() error {
	if err := s.disable(); err != nil {
		return fmt.Errorf("failed to disable system proxy: %w", err)
	}
	s.log.Info("system proxy disabled")
	return nil
}

func hostPort(ep models.Endpoint) string {
	return ep.Server + ":" + strconv.Itoa(ep.Port)
}

func execRun(name string, args ...string) ([]byte, error) {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return out, nil
}
