package sysproxy

import (
	"fmt"
	"strconv"

	"xrayclient/internal/storage/models"
)

const gnomeProxySchema = "org.gnome.system.proxy"

func enableCommands(http, socks models.Endpoint) [][]string {
	return [][]string{
		{"gsettings", "set", gnomeProxySchema, "mode", "manual"},

		{"gsettings", "set", gnomeProxySchema + ".socks", "host", socks.Server},
		{"gsettings", "set", gnomeProxySchema + ".socks", "port", strconv.Itoa(socks.Port)},

		{"gsettings", "set", gnomeProxySchema + ".http", "host", http.Server},
		{"gsettings", "set", gnomeProxySchema + ".http", "port", strconv.Itoa(http.Port)},

		{"gsettings", "set", gnomeProxySchema + ".https", "host", http.Server},
		{"gsettings", "set", gnomeProxySchema + ".https", "port", strconv.Itoa(http.Port)},
	}
}

// enable sets the GNOME proxy to manual mode.
func (s *System) enable(http, socks models.Endpoint) error {
	for _, args := range enableCommands(http, socks) {
		if _, err := s.run(args[0], args[1:]...); err != nil {
			return fmt.Errorf("failed to run %v: %w", args, err)
		}
	}
	return nil
}

func (s *System) disable() error {
	_, err := s.run("gsettings", "set", gnomeProxySchema, "mode", "none")
	return err
}
