package errors

import (
	"errors"
	"fmt"
)

// Common error types
var (
	// Core errors
	ErrCoreNotFound    = errors.New("core binary not found")
	ErrCoreStartFailed = errors.New("failed to start core")
	ErrCoreExited      = errors.New("core exited unexpectedly")

	// Profile errors
	ErrProfileNotFound     = errors.New("profile not found")
	ErrProfileInvalid      = errors.New("invalid profile")
	ErrProtocolUnsupported = errors.New("protocol not supported")
	ErrURIInvalid          = errors.New("invalid URI")

	// Asset errors
	ErrUpdateInProgress = errors.New("asset update already running")
	ErrAllMirrorsFailed = errors.New("all mirrors failed")

	// Identity errors
	ErrInvalidIdentity = errors.New("engine returned an invalid identity")

	// Latency errors
	ErrLatencyTestFailed = errors.New("latency test failed")

	// API errors
	ErrDaemonUnreachable = errors.New("daemon is not reachable")
)

// ProfileError represents a profile-related error
type ProfileError struct {
	ProfileID int64
	Name      string
	Err       error
}

func (e *ProfileError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("profile '%s' (ID: %d): %v", e.Name, e.ProfileID, e.Err)
	}
	return fmt.Sprintf("profile (ID: %d): %v", e.ProfileID, e.Err)
}

func (e *ProfileError) Unwrap() error {
	return e.Err
}

// AssetError names the data file or binary an update step failed on.
type AssetError struct {
	Name string
	Err  error
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("asset '%s': %v", e.Name, e.Err)
}

func (e *AssetError) Unwrap() error {
	return e.Err
}

// CoreError represents a core-related error
type CoreError struct {
	CoreType string
	Err      error
}

func (e *CoreError) Error() string {
	return fmt.Sprintf("%s core: %v", e.CoreType, e.Err)
}

func (e *CoreError) Unwrap() error {
	return e.Err
}

// NetworkError represents a network-related error
type NetworkError struct {
	Address string
	Port    int
	Err     error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error (%s:%d): %v", e.Address, e.Port, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// HTTPError represents a non-200 HTTP response
type HTTPError struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d %s for %s", e.StatusCode, e.Status, e.URL)
}
