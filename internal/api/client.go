package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"xrayclient/internal/core/types"
	"xrayclient/internal/events"
	pkgerrors "xrayclient/pkg/errors"
)

// Client talks to a running daemon.
type Client struct {
	base   url.URL
	http   *http.Client
	dialer *websocket.Dialer
}

// NewClient returns a client for the API listening on addr (host:port).
func NewClient(addr string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base:   url.URL{Scheme: "http", Host: addr, Path: "/" + APIVersion},
		http:   &http.Client{Timeout: timeout},
		dialer: &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
	}
}

func (c *Client) endpoint(path string) string {
	u := c.base
	u.Path += path
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.wrapDialError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) wrapDialError(err error) error {
	var opErr *net.OpError
	if errors.As(err, &opErr) || errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("%w at %s: %v", pkgerrors.ErrDaemonUnreachable, c.base.Host, err)
	}
	return err
}

// decodeError turns an error response into an error carrying the server
// message. Conflicts map back onto ErrUpdateInProgress.
func decodeError(resp *http.Response) error {
	httpErr := &pkgerrors.HTTPError{
		StatusCode: resp.StatusCode,
		Status:     http.StatusText(resp.StatusCode),
		URL:        resp.Request.URL.String(),
	}

	var apiErr APIError
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Error == "" {
		return httpErr
	}
	if resp.StatusCode == http.StatusConflict {
		return fmt.Errorf("%w: %s", pkgerrors.ErrUpdateInProgress, apiErr.Error)
	}
	return fmt.Errorf("%s: %w", apiErr.Error, httpErr)
}

// Status fetches the daemon snapshot.
func (c *Client) Status(ctx context.Context) (*StatusView, error) {
	var view StatusView
	if err := c.do(ctx, http.MethodGet, "/status", nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// Start (re)starts the engine with the current profile.
func (c *Client) Start(ctx context.Context) (*types.Status, error) {
	var st types.Status
	if err := c.do(ctx, http.MethodPost, "/start", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Stop terminates the engine.
func (c *Client) Stop(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/stop", nil, nil)
}

// Apply replaces the editable parts of the current profile and restarts.
func (c *Client) Apply(ctx context.Context, req ApplyRequest) (*types.Status, error) {
	var st types.Status
	if err := c.do(ctx, http.MethodPost, "/apply", req, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// SetProxy toggles the system-wide proxy.
func (c *Client) SetProxy(ctx context.Context, enabled bool) error {
	return c.do(ctx, http.MethodPut, "/proxy", ProxyRequest{Enabled: enabled}, nil)
}

// Identity asks the engine for a new identity.
func (c *Client) Identity(ctx context.Context, seed string) (string, error) {
	var resp IdentityResponse
	if err := c.do(ctx, http.MethodPost, "/identity", IdentityRequest{Seed: seed}, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Update starts an asset update session.
func (c *Client) Update(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/update", nil, nil)
}

// UpdateSession returns the current or last update session.
func (c *Client) UpdateSession(ctx context.Context) (*types.UpdateSession, error) {
	var session types.UpdateSession
	if err := c.do(ctx, http.MethodGet, "/update", nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// SetVisibility reports whether a user interface is on screen.
func (c *Client) SetVisibility(ctx context.Context, visible bool) error {
	return c.do(ctx, http.MethodPut, "/visibility", VisibilityRequest{Visible: visible}, nil)
}

// StreamEvent is an event received from the daemon. Payload is decoded on
// demand by kind.
type StreamEvent struct {
	Kind    events.Kind     `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	Time    time.Time       `json:"time"`
}

// Decode unmarshals the payload into v.
func (e StreamEvent) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// EventStream is an open event subscription.
type EventStream struct {
	conn *websocket.Conn
}

// Events opens the event stream. The daemon counts the stream as a visible
// user interface until it is closed.
func (c *Client) Events(ctx context.Context) (*EventStream, error) {
	u := c.base
	u.Scheme = "ws"
	u.Path += "/events"

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, &pkgerrors.HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, URL: u.String()}
		}
		return nil, c.wrapDialError(err)
	}
	return &EventStream{conn: conn}, nil
}

// Next blocks for the next event.
func (s *EventStream) Next() (StreamEvent, error) {
	var ev StreamEvent
	err := s.conn.ReadJSON(&ev)
	return ev, err
}

// Close ends the subscription.
func (s *EventStream) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return s.conn.Close()
}
