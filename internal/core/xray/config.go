package xray

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"xrayclient/internal/storage/models"
)

// LoopbackIP is where the control API and non-LAN listeners bind.
const LoopbackIP = "127.0.0.1"

// FlowXTLSDirect is the flow marker set on the user entry in xtls mode.
const FlowXTLSDirect = "xtls-rprx-direct"

// XrayConfig represents the root Xray configuration
type XrayConfig struct {
	Stats     *StatsConfig     `json:"stats"`
	API       *APIConfig       `json:"api"`
	Policy    *PolicyConfig    `json:"policy"`
	Log       *LogConfig       `json:"log"`
	Routing   *RoutingConfig   `json:"routing"`
	Inbounds  []InboundConfig  `json:"inbounds"`
	Outbounds []OutboundConfig `json:"outbounds"`
}

// StatsConfig enables xray statistics
type StatsConfig struct{}

// APIConfig configures the xray control API
type APIConfig struct {
	Tag      string   `json:"tag"`
	Services []string `json:"services"`
}

// PolicyConfig sets system-level policies
type PolicyConfig struct {
	System *SystemPolicy `json:"system"`
}

// SystemPolicy controls system-level stats collection
type SystemPolicy struct {
	StatsOutboundUplink   bool `json:"statsOutboundUplink"`
	StatsOutboundDownlink bool `json:"statsOutboundDownlink"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	LogLevel string `json:"loglevel"`
}

// InboundConfig represents an inbound configuration
type InboundConfig struct {
	Tag      string                 `json:"tag,omitempty"`
	Protocol string                 `json:"protocol"`
	Listen   string                 `json:"listen"`
	Port     int                    `json:"port"`
	Settings map[string]interface{} `json:"settings"`
}

// OutboundConfig represents an outbound configuration
type OutboundConfig struct {
	Tag            string          `json:"tag"`
	Protocol       string          `json:"protocol"`
	Settings       interface{}     `json:"settings"`
	StreamSettings *StreamSettings `json:"streamSettings,omitempty"`
}

// VLESSSettings is the settings block of the proxy outbound.
type VLESSSettings struct {
	Vnext []VLESSServer `json:"vnext"`
}

// VLESSServer is one remote server entry.
type VLESSServer struct {
	Address string      `json:"address"`
	Port    int         `json:"port"`
	Users   []VLESSUser `json:"users"`
}

// VLESSUser carries the identity credential.
type VLESSUser struct {
	ID         string `json:"id"`
	Level      int    `json:"level"`
	Encryption string `json:"encryption"`
	Flow       string `json:"flow,omitempty"`
}

// StreamSettings represents stream settings (transport + security)
type StreamSettings struct {
	Network      string       `json:"network"`
	Security     string       `json:"security"`
	WSSettings   *WSSettings  `json:"wsSettings,omitempty"`
	XTLSSettings *TLSSettings `json:"xtlsSettings,omitempty"`
	TLSSettings  *TLSSettings `json:"tlsSettings,omitempty"`
}

// TLSSettings holds the server name for tls and xtls
type TLSSettings struct {
	ServerName string `json:"serverName"`
}

// WSSettings represents WebSocket settings
type WSSettings struct {
	Path string `json:"path"`
}

// RoutingConfig represents routing configuration
type RoutingConfig struct {
	DomainStrategy string        `json:"domainStrategy"`
	Rules          []RoutingRule `json:"rules"`
}

// RoutingRule represents a routing rule
type RoutingRule struct {
	Type        string   `json:"type"`
	InboundTag  []string `json:"inboundTag,omitempty"`
	OutboundTag string   `json:"outboundTag"`
	Domain      []string `json:"domain,omitempty"`
	IP          []string `json:"ip,omitempty"`
	Port        string   `json:"port,omitempty"`
}

var (
	ruleOutbounds = []string{models.OutboundReject, models.OutboundProxy, models.OutboundDirect}
	ruleMatches   = []string{models.MatchDomain, models.MatchIP, models.MatchPort}
)

// BuildConfig turns a profile into an engine configuration. The listen
// address is lanIP when LAN exposure is on, loopback otherwise. The resolved
// listener endpoints are written back into profile.Proxies; persisting the
// profile is up to the caller.
func BuildConfig(profile *models.Profile, lanIP string, statsPort int) *XrayConfig {
	general := profile.General
	local := general.LocalProxy

	listen := LoopbackIP
	if local.LANEnabled && lanIP != "" {
		listen = lanIP
	}
	profile.Proxies.HTTP = models.Endpoint{Server: listen, Port: local.HTTP}
	profile.Proxies.Socks = models.Endpoint{Server: listen, Port: local.Socks}

	cfg := &XrayConfig{
		Stats: &StatsConfig{},
		API: &APIConfig{
			Tag:      "api",
			Services: []string{"StatsService"},
		},
		Policy: &PolicyConfig{
			System: &SystemPolicy{
				StatsOutboundUplink:   true,
				StatsOutboundDownlink: true,
			},
		},
		Log: &LogConfig{LogLevel: profile.Log.Level},
		Routing: &RoutingConfig{
			DomainStrategy: "IPIfNonMatch",
			Rules: []RoutingRule{{
				Type:        "field",
				InboundTag:  []string{"api"},
				OutboundTag: "api",
			}},
		},
	}

	cfg.Inbounds = []InboundConfig{
		{
			Protocol: "http",
			Listen:   listen,
			Port:     local.HTTP,
			Settings: map[string]interface{}{"timeout": 0},
		},
		{
			Protocol: "socks",
			Listen:   listen,
			Port:     local.Socks,
			Settings: map[string]interface{}{"udp": true},
		},
		{
			Tag:      "api",
			Protocol: "dokodemo-door",
			Listen:   LoopbackIP,
			Port:     statsPort,
			Settings: map[string]interface{}{"address": LoopbackIP},
		},
	}

	cfg.Outbounds = []OutboundConfig{
		{Tag: models.OutboundDirect, Protocol: "freedom", Settings: struct{}{}},
		{Tag: models.OutboundReject, Protocol: "blackhole", Settings: struct{}{}},
		proxyOutbound(general),
	}

	for _, outbound := range ruleOutbounds {
		set := profile.Rules.For(outbound)
		for _, match := range ruleMatches {
			values := set.Values(match)
			if len(values) == 0 {
				continue
			}
			rule := RoutingRule{Type: "field", OutboundTag: outbound}
			switch match {
			case models.MatchDomain:
				rule.Domain = values
			case models.MatchIP:
				rule.IP = values
			case models.MatchPort:
				rule.Port = strings.Join(values, ",")
			}
			cfg.Routing.Rules = append(cfg.Routing.Rules, rule)
		}
	}

	// Unmatched traffic goes through the proxy.
	cfg.Routing.Rules = append(cfg.Routing.Rules, RoutingRule{
		Type:        "field",
		OutboundTag: models.OutboundProxy,
		Port:        "0-65535",
	})

	return cfg
}

func proxyOutbound(general models.General) OutboundConfig {
	user := VLESSUser{
		ID:         general.ID,
		Level:      general.Level,
		Encryption: "none",
	}
	stream := &StreamSettings{
		Network:  general.Network,
		Security: general.Security,
	}

	if general.Network == "ws" {
		stream.WSSettings = &WSSettings{Path: general.WSPath}
	}

	switch general.Security {
	case "xtls":
		stream.XTLSSettings = &TLSSettings{ServerName: general.Address}
		user.Flow = FlowXTLSDirect
	case "tls":
		stream.TLSSettings = &TLSSettings{ServerName: general.Address}
	}

	return OutboundConfig{
		Tag:      models.OutboundProxy,
		Protocol: "vless",
		Settings: VLESSSettings{
			Vnext: []VLESSServer{{
				Address: general.Address,
				Port:    general.Port,
				Users:   []VLESSUser{user},
			}},
		},
		StreamSettings: stream,
	}
}

// Marshal renders the configuration document.
func (c *XrayConfig) Marshal() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// WriteConfig atomically replaces path with the rendered configuration, so
// an engine started afterwards never reads a partially written file.
func WriteConfig(path string, cfg *XrayConfig) error {
	data, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp config: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}
