package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"xrayclient/internal/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// handleEvents upgrades to a WebSocket and streams bus events, starting
// with the retained state. Any connected stream marks the UI visible.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sub, err := s.stream.Subscribe(s.opts.StreamBuffer)
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer sub.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	s.watch()
	defer s.unwatch()

	closed := make(chan struct{})
	go s.readPump(conn, closed)

	for _, ev := range s.stream.Snapshot() {
		if err := s.send(conn, ev); err != nil {
			return
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				s.closeStream(conn, websocket.CloseGoingAway, "event bus closed")
				return
			}
			if err := s.send(conn, ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-s.closing:
			s.closeStream(conn, websocket.CloseGoingAway, "server shutting down")
			return
		}
	}
}

func (s *Server) send(conn *websocket.Conn, ev events.Event) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(EventView{Kind: string(ev.Kind), Payload: ev.Payload, Time: ev.Time})
}

func (s *Server) closeStream(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// readPump discards client frames and detects disconnects.
func (s *Server) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func (s *Server) watch() {
	if s.watchers.Add(1) == 1 {
		s.vis.SetVisible(true)
	}
	s.log.Debug("watcher connected", zap.Int32("watchers", s.watchers.Load()))
}

func (s *Server) unwatch() {
	if s.watchers.Add(-1) == 0 {
		s.vis.SetVisible(false)
	}
	s.log.Debug("watcher disconnected", zap.Int32("watchers", s.watchers.Load()))
}
