package latency

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"xrayclient/internal/storage/models"
	pkgerrors "xrayclient/pkg/errors"
)

// Strategy defines how a latency test is performed against a single profile.
type Strategy interface {
	// Name returns the strategy identifier.
	Name() string
	// Test returns the round-trip time in milliseconds.
	Test(ctx context.Context, profile *models.Profile) (latencyMS int, err error)
}

// TCPStrategy measures the TCP handshake to the profile's remote endpoint.
// It only proves reachability; the proxy protocol is not exercised.
type TCPStrategy struct{}

func (s *TCPStrategy) Name() string { return "tcp" }

func (s *TCPStrategy) Test(ctx context.Context, profile *models.Profile) (int, error) {
	address := net.JoinHostPort(profile.General.Address, strconv.Itoa(profile.General.Port))

	start := time.Now()
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return 0, &pkgerrors.NetworkError{
			Address: profile.General.Address,
			Port:    profile.General.Port,
			Err:     fmt.Errorf("%w: tcp handshake: %v", pkgerrors.ErrLatencyTestFailed, err),
		}
	}
	elapsed := time.Since(start)
	conn.Close()

	return int(elapsed.Milliseconds()), nil
}

// NewStrategy creates a Strategy by name.
func NewStrategy(name string) (Strategy, error) {
	switch name {
	case "tcp", "":
		return &TCPStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown test strategy: %s (available: tcp)", name)
	}
}
