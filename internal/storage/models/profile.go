package models

import (
	"fmt"
	"time"
)

// Outbound tags used by routing rules.
const (
	OutboundReject = "reject"
	OutboundProxy  = "proxy"
	OutboundDirect = "direct"
)

// Rule match types.
const (
	MatchDomain = "domain"
	MatchIP     = "ip"
	MatchPort   = "port"
)

// Profile represents one named connection configuration.
type Profile struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	ProfileData

	LastUsed  *time.Time `json:"lastUsed,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// ProfileData is the persisted profile document.
type ProfileData struct {
	General General     `json:"general"`
	Log     LogSettings `json:"log"`
	Rules   Rules       `json:"rules"`
	Proxies Proxies     `json:"proxies"`

	// StartedSuccessfully records whether this profile last ran the engine
	// to a clean exit (or is still running). It drives autostart.
	StartedSuccessfully bool `json:"startedSuccessfully"`
}

// General holds the remote endpoint and local listener settings.
type General struct {
	Address    string     `json:"address"`
	Port       int        `json:"port"`
	ID         string     `json:"id"` // identity credential
	Level      int        `json:"level"`
	Network    string     `json:"network"`  // tcp, ws, ...
	Security   string     `json:"security"` // "", tls, xtls
	WSPath     string     `json:"wsPath,omitempty"`
	LocalProxy LocalProxy `json:"localProxy"`
}

// LocalProxy configures the engine's local HTTP and SOCKS listeners.
type LocalProxy struct {
	HTTP       int  `json:"http"`
	Socks      int  `json:"socks"`
	LANEnabled bool `json:"lanEnabled"`
}

// LogSettings carries the engine log level.
type LogSettings struct {
	Level string `json:"level"` // debug, info, warning, error, none
}

// RuleSet lists match values for one outbound.
type RuleSet struct {
	Domain []string `json:"domain,omitempty"`
	IP     []string `json:"ip,omitempty"`
	Port   []string `json:"port,omitempty"`
}

// Values returns the list for a match type.
func (r RuleSet) Values(match string) []string {
	switch match {
	case MatchDomain:
		return r.Domain
	case MatchIP:
		return r.IP
	case MatchPort:
		return r.Port
	}
	return nil
}

// Rules groups rule sets by outbound.
type Rules struct {
	Reject RuleSet `json:"reject"`
	Proxy  RuleSet `json:"proxy"`
	Direct RuleSet `json:"direct"`
}

// For returns the rule set of an outbound tag.
func (r Rules) For(outbound string) RuleSet {
	switch outbound {
	case OutboundReject:
		return r.Reject
	case OutboundProxy:
		return r.Proxy
	case OutboundDirect:
		return r.Direct
	}
	return RuleSet{}
}

// Endpoint is a resolved listener address.
type Endpoint struct {
	Server string `json:"server"`
	Port   int    `json:"port"`
}

// Proxies holds the listener endpoints last written by the config
// synthesizer, plus whether the system-wide proxy should point at them.
type Proxies struct {
	HTTP    Endpoint `json:"http"`
	Socks   Endpoint `json:"socks"`
	Enabled bool     `json:"enabled"`
}

// DefaultProfileData returns the document used for new profiles.
func DefaultProfileData() ProfileData {
	return ProfileData{
		General: General{
			Network: "tcp",
			LocalProxy: LocalProxy{
				HTTP:  1081,
				Socks: 1080,
			},
		},
		Log: LogSettings{Level: "warning"},
	}
}

var (
	validNetworks  = map[string]bool{"tcp": true, "ws": true, "kcp": true, "http": true, "quic": true, "grpc": true}
	validSecurity  = map[string]bool{"": true, "none": true, "tls": true, "xtls": true}
	validLogLevels = map[string]bool{"debug": true, "info": true, "warning": true, "error": true, "none": true}
)

// Validate checks that the document can be turned into an engine config.
func (d *ProfileData) Validate() error {
	g := d.General
	if g.Address == "" {
		return fmt.Errorf("address is required")
	}
	if g.Port <= 0 || g.Port > 65535 {
		return fmt.Errorf("invalid port: %d", g.Port)
	}
	if g.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !validNetworks[g.Network] {
		return fmt.Errorf("unsupported network: %s", g.Network)
	}
	if !validSecurity[g.Security] {
		return fmt.Errorf("unsupported security: %s", g.Security)
	}
	for name, p := range map[string]int{"http": g.LocalProxy.HTTP, "socks": g.LocalProxy.Socks} {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("invalid %s listener port: %d", name, p)
		}
	}
	if g.LocalProxy.HTTP == g.LocalProxy.Socks {
		return fmt.Errorf("http and socks listeners share port %d", g.LocalProxy.HTTP)
	}
	if !validLogLevels[d.Log.Level] {
		return fmt.Errorf("unsupported log level: %s", d.Log.Level)
	}
	return nil
}
