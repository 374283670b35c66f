package sysproxy

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/multierr"

	"xrayclient/internal/storage/models"
)

func (s *System) enable(http, socks models.Endpoint) error {
	services, err := s.networkServices()
	if err != nil {
		return fmt.Errorf("failed to detect network services: %w", err)
	}

	socksPort := strconv.Itoa(socks.Port)
	httpPort := strconv.Itoa(http.Port)
	for _, svc := range services {
		steps := [][]string{
			{"-setsocksfirewallproxy", svc, socks.Server, socksPort},
			{"-setsocksfirewallproxystate", svc, "on"},
			{"-setwebproxy", svc, http.Server, httpPort},
			{"-setwebproxystate", svc, "on"},
			{"-setsecurewebproxy", svc, http.Server, httpPort},
			{"-setsecurewebproxystate", svc, "on"},
		}
		for _, args := range steps {
			if _, err := s.run("networksetup", args...); err != nil {
				return fmt.Errorf("networksetup %s on %s: %w", args[0], svc, err)
			}
		}
	}
	return nil
}

// disable turns every proxy off on every service, collecting failures.
func (s *System) disable() error {
	services, err := s.networkServices()
	if err != nil {
		return fmt.Errorf("failed to detect network services: %w", err)
	}

	var errs error
	for _, svc := range services {
		for _, flag := range []string{"-setsocksfirewallproxystate", "-setwebproxystate", "-setsecurewebproxystate"} {
			if _, err := s.run("networksetup", flag, svc, "off"); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s on %s: %w", flag, svc, err))
			}
		}
	}
	return errs
}

// networkServices lists the enabled network services.
func (s *System) networkServices() ([]string, error) {
	out, err := s.run("networksetup", "-listallnetworkservices")
	if err != nil {
		return nil, err
	}

	var services []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		// Disabled services carry a leading asterisk.
		if line == "" || strings.HasPrefix(line, "An asterisk") || strings.HasPrefix(line, "*") {
			continue
		}
		services = append(services, line)
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("no active network services found")
	}
	return services, nil
}
