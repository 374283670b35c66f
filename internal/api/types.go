package api

import (
	"time"

	"xrayclient/internal/core/types"
	"xrayclient/internal/storage/models"
)

// APIError is the body of every non-2xx response.
type APIError struct {
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// IdentityRequest asks for a new identity, derived from Seed when given.
type IdentityRequest struct {
	Seed string `json:"seed"`
}

// IdentityResponse carries the generated identity.
type IdentityResponse struct {
	ID string `json:"id"`
}

// ApplyRequest replaces the editable parts of the current profile.
type ApplyRequest struct {
	General models.General     `json:"general"`
	Log     models.LogSettings `json:"log"`
	Rules   models.Rules       `json:"rules"`
}

// ProxyRequest toggles the system-wide proxy.
type ProxyRequest struct {
	Enabled bool `json:"enabled"`
}

// VisibilityRequest reports whether a user interface is on screen.
type VisibilityRequest struct {
	Visible bool `json:"visible"`
}

// StatusView is the snapshot returned by GET /v1/status.
type StatusView struct {
	Engine   types.Status        `json:"engine"`
	Update   types.UpdateSession `json:"update"`
	Version  *types.VersionInfo  `json:"version,omitempty"`
	Speed    *types.SpeedStats   `json:"speed,omitempty"`
	Visible  bool                `json:"visible"`
	Watchers int                 `json:"watchers"`
}

// EventView is one event on the stream. Payload is kept raw on the client
// side and decoded by kind.
type EventView struct {
	Kind    string      `json:"kind"`
	Payload interface{} `json:"payload"`
	Time    time.Time   `json:"time"`
}
