package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/render"
	"go.uber.org/zap"

	"xrayclient/internal/core"
	"xrayclient/internal/core/types"
	"xrayclient/internal/events"
	pkgerrors "xrayclient/pkg/errors"
)

// TimeNow is swapped in tests.
var TimeNow = time.Now

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, APIError{
		Error:     msg,
		Timestamp: TimeNow().UTC().Format(time.RFC3339),
	})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pkgerrors.ErrUpdateInProgress):
		return http.StatusConflict
	case errors.Is(err, pkgerrors.ErrProfileInvalid):
		return http.StatusBadRequest
	case errors.Is(err, pkgerrors.ErrProfileNotFound):
		return http.StatusNotFound
	case errors.Is(err, pkgerrors.ErrInvalidIdentity):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, r, code, err.Error())
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": TimeNow().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view := StatusView{
		Engine:   s.ctrl.Status(),
		Update:   s.updater.Session(),
		Visible:  s.vis.Visible(),
		Watchers: s.Watchers(),
	}
	if ev, ok := s.stream.Last(events.KindVersionInfo); ok {
		if v, ok := ev.Payload.(types.VersionInfo); ok {
			view.Version = &v
		}
	}
	if ev, ok := s.stream.Last(events.KindSpeed); ok {
		if v, ok := ev.Payload.(types.SpeedStats); ok {
			view.Speed = &v
		}
	}
	writeJSON(w, r, http.StatusOK, view)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Start(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Stop(); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	var req ApplyRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	err := s.ctrl.Apply(r.Context(), core.ApplyRequest{
		General: req.General,
		Log:     req.Log,
		Rules:   req.Rules,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	var req ProxyRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := s.ctrl.SetSystemProxy(r.Context(), req.Enabled); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, req)
}

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	var req IdentityRequest
	if r.ContentLength != 0 {
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
	}
	id, err := s.ctrl.CreateIdentity(r.Context(), req.Seed)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, IdentityResponse{ID: id})
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.updater.Session())
}

// handleUpdate starts a session in the background; progress is reported on
// the event stream.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if s.updater.Running() {
		s.fail(w, r, pkgerrors.ErrUpdateInProgress)
		return
	}

	s.updates.Add(1)
	go func() {
		defer s.updates.Done()
		err := s.updater.Update(s.ctx)
		if err != nil && !errors.Is(err, pkgerrors.ErrUpdateInProgress) {
			s.log.Warn("update failed", zap.Error(err))
		}
	}()
	writeJSON(w, r, http.StatusAccepted, map[string]bool{"started": true})
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	var req VisibilityRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	s.vis.SetVisible(req.Visible)
	writeJSON(w, r, http.StatusOK, req)
}
