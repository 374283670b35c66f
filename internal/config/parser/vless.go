package parser

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"xrayclient/internal/core/xray"
	"xrayclient/internal/storage/models"
	pkgerrors "xrayclient/pkg/errors"
)

// ParseVLESS parses vless://id@address:port?parameters#remark into a profile
// built on the default document.
func ParseVLESS(uri string) (*models.Profile, error) {
	if !strings.HasPrefix(strings.ToLower(uri), "vless://") {
		return nil, fmt.Errorf("%w: must start with vless://", pkgerrors.ErrURIInvalid)
	}

	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrURIInvalid, err)
	}

	id := u.User.Username()
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", pkgerrors.ErrURIInvalid)
	}

	host := u.Hostname()
	portStr := u.Port()
	if host == "" || portStr == "" {
		return nil, fmt.Errorf("%w: address and port are required", pkgerrors.ErrURIInvalid)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%w: invalid port %q", pkgerrors.ErrURIInvalid, portStr)
	}

	query := u.Query()

	network := query.Get("type")
	switch network {
	case "":
		network = "tcp"
	case "h2":
		network = "http"
	}

	security := query.Get("security")
	switch security {
	case "", "none":
		security = ""
	case "tls":
		if query.Get("flow") == xray.FlowXTLSDirect {
			security = "xtls"
		}
	case "xtls":
	default:
		return nil, fmt.Errorf("%w: security %s", pkgerrors.ErrProtocolUnsupported, security)
	}

	profile := &models.Profile{ProfileData: models.DefaultProfileData()}
	g := &profile.General
	g.Address = host
	g.Port = port
	g.ID = id
	g.Network = network
	g.Security = security
	if network == "ws" {
		g.WSPath = query.Get("path")
	}
	if level := query.Get("level"); level != "" {
		if g.Level, err = strconv.Atoi(level); err != nil {
			return nil, fmt.Errorf("%w: invalid level %q", pkgerrors.ErrURIInvalid, level)
		}
	}

	profile.Name = u.Fragment
	if profile.Name == "" {
		profile.Name = net.JoinHostPort(host, portStr)
	}

	if err := profile.Validate(); err != nil {
		return nil, &pkgerrors.ProfileError{Name: profile.Name, Err: fmt.Errorf("%w: %v", pkgerrors.ErrProfileInvalid, err)}
	}
	return profile, nil
}

// EncodeVLESS renders the profile's remote endpoint as a share link.
func EncodeVLESS(profile *models.Profile) string {
	g := profile.General

	u := &url.URL{
		Scheme: "vless",
		User:   url.User(g.ID),
		Host:   net.JoinHostPort(g.Address, strconv.Itoa(g.Port)),
	}

	query := url.Values{}
	query.Set("encryption", "none")
	if g.Network != "" && g.Network != "tcp" {
		query.Set("type", g.Network)
	}
	if g.Network == "ws" && g.WSPath != "" {
		query.Set("path", g.WSPath)
	}
	switch g.Security {
	case "tls":
		query.Set("security", "tls")
		query.Set("sni", g.Address)
	case "xtls":
		query.Set("security", "xtls")
		query.Set("sni", g.Address)
		query.Set("flow", xray.FlowXTLSDirect)
	}
	if g.Level != 0 {
		query.Set("level", strconv.Itoa(g.Level))
	}

	u.RawQuery = query.Encode()
	u.Fragment = profile.Name
	return u.String()
}
