// Package parser turns share links into profiles and back.
package parser

import (
	"fmt"
	"strings"

	"xrayclient/internal/storage/models"
	pkgerrors "xrayclient/pkg/errors"
)

// Parse detects the link scheme and parses the URI into a new profile.
// Only vless links map onto the profile model.
func Parse(uri string) (*models.Profile, error) {
	uri = strings.TrimSpace(uri)

	idx := strings.Index(uri, "://")
	if idx <= 0 {
		return nil, fmt.Errorf("%w: missing protocol scheme", pkgerrors.ErrURIInvalid)
	}

	switch scheme := strings.ToLower(uri[:idx]); scheme {
	case "vless":
		return ParseVLESS(uri)
	default:
		return nil, fmt.Errorf("%w: %s", pkgerrors.ErrProtocolUnsupported, scheme)
	}
}
