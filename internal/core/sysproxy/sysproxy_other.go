//go:build !linux && !darwin && !windows

package sysproxy

import (
	"errors"
	"runtime"

	"xrayclient/internal/storage/models"
)

var errUnsupported = errors.New("system proxy is not supported on " + runtime.GOOS)

func (s *System) enable(http, socks models.Endpoint) error {
	return errUnsupported
}

func (s *System) disable() error {
	return errUnsupported
}
