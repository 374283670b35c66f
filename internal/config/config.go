package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Default mirror lists, tried in order. Only the first fallback is used.
var (
	DefaultGeoIPMirrors = []string{
		"https://cdn.jsdelivr.net/gh/Loyalsoldier/v2ray-rules-dat@release/geoip.dat",
		"https://github.com/Loyalsoldier/v2ray-rules-dat/releases/latest/download/geoip.dat",
	}
	DefaultGeoSiteMirrors = []string{
		"https://cdn.jsdelivr.net/gh/Loyalsoldier/v2ray-rules-dat@release/geosite.dat",
		"https://github.com/Loyalsoldier/v2ray-rules-dat/releases/latest/download/geosite.dat",
	}
)

// Config is the application configuration read from config.yaml.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	API      APIConfig      `yaml:"api"`
	Engine   EngineConfig   `yaml:"engine"`
	Stats    StatsConfig    `yaml:"stats"`
	Update   UpdateConfig   `yaml:"update"`
	Database DatabaseConfig `yaml:"database"`
}

// LogConfig controls the application logger, not the engine's own log level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// APIConfig controls the local control API.
type APIConfig struct {
	Listen string `yaml:"listen"`
}

// EngineConfig locates the engine and its control port.
type EngineConfig struct {
	BundleDir   string        `yaml:"bundle_dir"` // read-only install location of the shipped engine
	StoreDir    string        `yaml:"store_dir"`  // writable copy; defaults to <data>/xray-core
	StatsPort   int           `yaml:"stats_port"`
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

// StatsConfig holds the poll intervals for the visible and hidden UI states.
type StatsConfig struct {
	VisibleInterval time.Duration `yaml:"visible_interval"`
	HiddenInterval  time.Duration `yaml:"hidden_interval"`
}

// UpdateConfig controls the asset updater.
type UpdateConfig struct {
	GeoIPMirrors   []string      `yaml:"geoip_mirrors"`
	GeoSiteMirrors []string      `yaml:"geosite_mirrors"`
	Interval       time.Duration `yaml:"interval"` // 0 disables scheduled updates
	ViaProxy       bool          `yaml:"via_proxy"`
}

// DatabaseConfig locates the profile database.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "console"},
		API: APIConfig{Listen: "127.0.0.1:7717"},
		Engine: EngineConfig{
			BundleDir:   defaultBundleDir(),
			StatsPort:   10085,
			StopTimeout: 5 * time.Second,
		},
		Stats: StatsConfig{
			VisibleInterval: 2500 * time.Millisecond,
			HiddenInterval:  5 * time.Minute,
		},
		Update: UpdateConfig{
			GeoIPMirrors:   append([]string(nil), DefaultGeoIPMirrors...),
			GeoSiteMirrors: append([]string(nil), DefaultGeoSiteMirrors...),
			ViaProxy:       true,
		},
	}
}

// defaultBundleDir mirrors the packaged layout: <install>/xray-core next to
// the directory holding the executable.
func defaultBundleDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "xray-core"
	}
	return filepath.Join(filepath.Dir(exe), "..", "xray-core")
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the fields the supervisor cannot run without.
func Validate(cfg *Config) error {
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error (got %q)", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console (got %q)", cfg.Log.Format)
	}
	if _, _, err := net.SplitHostPort(cfg.API.Listen); err != nil {
		return fmt.Errorf("api.listen: %w", err)
	}
	if cfg.Engine.StatsPort <= 0 || cfg.Engine.StatsPort > 65535 {
		return fmt.Errorf("engine.stats_port out of range: %d", cfg.Engine.StatsPort)
	}
	if cfg.Engine.StopTimeout <= 0 {
		return fmt.Errorf("engine.stop_timeout must be positive")
	}
	if cfg.Stats.VisibleInterval <= 0 || cfg.Stats.HiddenInterval <= 0 {
		return fmt.Errorf("stats intervals must be positive")
	}
	if len(cfg.Update.GeoIPMirrors) == 0 || len(cfg.Update.GeoSiteMirrors) == 0 {
		return fmt.Errorf("update mirrors must not be empty")
	}
	if cfg.Update.Interval < 0 {
		return fmt.Errorf("update.interval must not be negative")
	}
	return nil
}
