// Package api serves the local control surface: JSON requests over HTTP and
// the event stream over WebSocket.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"xrayclient/internal/core"
	"xrayclient/internal/core/types"
	"xrayclient/internal/events"
)

// Route prefixing. Versioning is explicit to allow non-breaking additions.
const (
	APIVersion     = "v1"
	DefaultAddress = "127.0.0.1:7717"
)

// Controller is the part of the supervisor the API drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop() error
	Apply(ctx context.Context, req core.ApplyRequest) error
	SetSystemProxy(ctx context.Context, enabled bool) error
	CreateIdentity(ctx context.Context, seed string) (string, error)
	Status() types.Status
}

// Updater runs asset update sessions.
type Updater interface {
	Update(ctx context.Context) error
	Running() bool
	Session() types.UpdateSession
}

// Visibility receives the on-screen state of user interfaces.
type Visibility interface {
	SetVisible(visible bool)
	Visible() bool
}

// Stream is the subscriber side of the event bus.
type Stream interface {
	Subscribe(buffer int) (*events.Subscription, error)
	Snapshot() []events.Event
	Last(kind events.Kind) (events.Event, bool)
}

// ServerOptions configures the HTTP server.
type ServerOptions struct {
	Addr              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	// StreamBuffer is the per-watcher event queue length.
	StreamBuffer int
	// AllowedOrigins lists the browser origins allowed to call the API.
	AllowedOrigins []string
	Logger         *zap.Logger
}

// Server hosts the control API.
type Server struct {
	http    *http.Server
	ctrl    Controller
	updater Updater
	vis     Visibility
	stream  Stream
	log     *zap.Logger
	opts    ServerOptions

	upgrader websocket.Upgrader
	watchers atomic.Int32
	updates  sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener
	closing  chan struct{}
	stopOnce sync.Once
	// ctx bounds background work started by requests.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer constructs the API server. It does not listen until Start.
func NewServer(ctrl Controller, updater Updater, vis Visibility, stream Stream, opts ServerOptions) *Server {
	if opts.Addr == "" {
		opts.Addr = DefaultAddress
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.ReadHeaderTimeout == 0 {
		opts.ReadHeaderTimeout = 2 * time.Second
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = 60 * time.Second
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	if opts.StreamBuffer <= 0 {
		opts.StreamBuffer = 256
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := &Server{
		ctrl:    ctrl,
		updater: updater,
		vis:     vis,
		stream:  stream,
		log:     opts.Logger,
		opts:    opts,
		closing: make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Origin checks are left to the CORS policy; the listener is local.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	// No WriteTimeout: the event stream is long lived and sets its own
	// per-message deadlines.
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadTimeout:       opts.ReadTimeout,
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
		IdleTimeout:       opts.IdleTimeout,
		ErrorLog:          zap.NewStdLog(opts.Logger),
		BaseContext: func(net.Listener) context.Context {
			return context.Background()
		},
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/"+APIVersion, func(r chi.Router) {
		r.Get("/healthz", s.handleHealthz)
		r.Get("/status", s.handleStatus)
		r.Post("/start", s.handleStart)
		r.Post("/stop", s.handleStop)
		r.Post("/apply", s.handleApply)
		r.Put("/proxy", s.handleProxy)
		r.Post("/identity", s.handleIdentity)
		r.Get("/update", s.handleUpdateStatus)
		r.Post("/update", s.handleUpdate)
		r.Put("/visibility", s.handleVisibility)
		r.Get("/events", s.handleEvents)
	})
	return r
}

// Start binds the listener and serves in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		s.log.Info("api listening", zap.String("addr", ln.Addr().String()))
		if err := s.http.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("api serve failed", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.opts.Addr
}

// Stop gracefully shuts down the server, waiting up to ShutdownTimeout.
// Open event streams are closed first; Shutdown does not track them.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		close(s.closing)
		s.cancel()
	})
	if timeout := s.opts.ShutdownTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.http.Shutdown(ctx)
}

// WaitUpdates blocks until update sessions started through the API return.
// Stop cancels their downloads.
func (s *Server) WaitUpdates() {
	s.updates.Wait()
}

// Watchers reports the number of connected event streams.
func (s *Server) Watchers() int {
	return int(s.watchers.Load())
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("api request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}
