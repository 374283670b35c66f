// Package core supervises the proxy engine process.
package core

import (
	"context"
	"time"

	"xrayclient/internal/core/types"
	"xrayclient/internal/storage/models"
)

// Engine launches the proxy engine and runs its one-shot subcommands.
type Engine interface {
	Launch(configPath string) (types.Process, error)
	Version(ctx context.Context) (string, error)
	UUID(ctx context.Context, seed string) (string, error)
}

// Installer prepares the engine store.
type Installer interface {
	EnsureInstalled(ctx context.Context) error
	GeoLastUpdate() (time.Time, error)
}

// ProfileStore gives access to the current profile.
type ProfileStore interface {
	Current(ctx context.Context) (*models.Profile, error)
	Save(ctx context.Context, profile *models.Profile) error
}

// SystemProxy points the operating system's proxy settings at the engine
// listeners.
type SystemProxy interface {
	Enable(http, socks models.Endpoint) error
	Disable() error
}

// StatsResetter restarts traffic sampling from a fresh baseline.
type StatsResetter interface {
	Reset()
}

// ApplyRequest replaces the editable parts of the current profile.
type ApplyRequest struct {
	General models.General     `json:"general"`
	Log     models.LogSettings `json:"log"`
	Rules   models.Rules       `json:"rules"`
}
