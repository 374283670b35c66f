package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 10085, cfg.Engine.StatsPort)
	assert.Equal(t, 2500*time.Millisecond, cfg.Stats.VisibleInterval)
	assert.Equal(t, 5*time.Minute, cfg.Stats.HiddenInterval)
	assert.Equal(t, DefaultGeoIPMirrors, cfg.Update.GeoIPMirrors)
}

func TestLoad_OverridesAndDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
log:
  level: debug
  format: json
engine:
  stats_port: 20085
  stop_timeout: 2s
stats:
  visible_interval: 1s
update:
  interval: 24h
  geoip_mirrors: ["http://a/geoip.dat"]
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 20085, cfg.Engine.StatsPort)
	assert.Equal(t, 2*time.Second, cfg.Engine.StopTimeout)
	assert.Equal(t, time.Second, cfg.Stats.VisibleInterval)
	assert.Equal(t, 5*time.Minute, cfg.Stats.HiddenInterval)
	assert.Equal(t, 24*time.Hour, cfg.Update.Interval)
	assert.Equal(t, []string{"http://a/geoip.dat"}, cfg.Update.GeoIPMirrors)
	assert.Equal(t, DefaultGeoSiteMirrors, cfg.Update.GeoSiteMirrors)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "bad level", mutate: func(c *Config) { c.Log.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: true},
		{name: "bad listen", mutate: func(c *Config) { c.API.Listen = "nope" }, wantErr: true},
		{name: "port zero", mutate: func(c *Config) { c.Engine.StatsPort = 0 }, wantErr: true},
		{name: "no mirrors", mutate: func(c *Config) { c.Update.GeoSiteMirrors = nil }, wantErr: true},
		{name: "negative interval", mutate: func(c *Config) { c.Update.Interval = -time.Second }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
