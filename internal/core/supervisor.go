package core

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"xrayclient/internal/core/types"
	"xrayclient/internal/core/xray"
	"xrayclient/internal/events"
	"xrayclient/internal/storage/models"
	pkgerrors "xrayclient/pkg/errors"
)

// Tips published after a successful start.
const (
	TipStartup = "Startup complete."
	TipApplied = "Changes have been applied."
)

const (
	// Seeds this long are ignored and a random identity is generated.
	maxSeedLength = 30
	maxLogLine    = 1024 * 1024
)

// Options tunes a Supervisor.
type Options struct {
	ConfigPath  string
	StatsPort   int
	StopTimeout time.Duration
	AppVersion  string
	Clock       clockwork.Clock
	Logger      *zap.Logger
	// DetectLAN resolves the address LAN-exposed listeners bind to.
	DetectLAN func() string
}

// handle is one spawned engine. It is never reused across restarts.
type handle struct {
	gen       uint64
	proc      types.Process
	profile   string
	http      models.Endpoint
	socks     models.Endpoint
	startedAt time.Time
	done      chan struct{}
	observers []func(types.ExitStatus)
}

// Supervisor owns the single engine process. Every asynchronous completion
// (exit waiter, output relays) checks that its handle is still current
// before touching shared state.
type Supervisor struct {
	engine    Engine
	installer Installer
	profiles  ProfileStore
	sysproxy  SystemProxy
	bus       events.Publisher
	opts      Options
	clock     clockwork.Clock
	log       *zap.Logger

	mu     sync.Mutex
	state  types.RunState
	gen    uint64
	handle *handle
	// retiring is a stopped process that has not exited yet.
	retiring *handle
	lanIP    string
	stats    StatsResetter

	// current mirrors handle.gen (0 when stopped) for lock-free readers.
	current atomic.Uint64
}

// New creates a stopped supervisor.
func New(engine Engine, installer Installer, profiles ProfileStore, sysproxy SystemProxy, bus events.Publisher, opts Options) *Supervisor {
	if opts.StatsPort == 0 {
		opts.StatsPort = 10085
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.DetectLAN == nil {
		opts.DetectLAN = DetectLANIP
	}

	return &Supervisor{
		engine:    engine,
		installer: installer,
		profiles:  profiles,
		sysproxy:  sysproxy,
		bus:       bus,
		opts:      opts,
		clock:     opts.Clock,
		log:       opts.Logger,
		state:     types.StateStopped,
		lanIP:     xray.LoopbackIP,
	}
}

// AttachStats registers the sampler reset on every successful start.
func (s *Supervisor) AttachStats(r StatsResetter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = r
}

// StatsAddr is the engine control endpoint.
func (s *Supervisor) StatsAddr() string {
	return net.JoinHostPort(xray.LoopbackIP, strconv.Itoa(s.opts.StatsPort))
}

// Init installs the engine store, reports versions, detects the LAN address
// and restarts the engine when the current profile last ran successfully.
// Only installation and asset stat failures are returned.
func (s *Supervisor) Init(ctx context.Context) error {
	if err := s.installer.EnsureInstalled(ctx); err != nil {
		return fmt.Errorf("failed to install engine: %w", err)
	}
	if err := s.ReportVersion(ctx); err != nil {
		return err
	}

	lanIP := s.opts.DetectLAN()
	s.mu.Lock()
	s.lanIP = lanIP
	s.mu.Unlock()
	s.log.Debug("lan address detected", zap.String("ip", lanIP))

	profile, err := s.profiles.Current(ctx)
	if err != nil {
		return fmt.Errorf("failed to load current profile: %w", err)
	}
	if profile.StartedSuccessfully {
		if err := s.Start(ctx); err != nil {
			s.log.Error("autostart failed", zap.Error(err))
			s.bus.Publish(events.KindErrorLog, err.Error())
		}
	}
	return nil
}

// ReportVersion publishes app, engine and data file versions. An engine
// that cannot report its version is published with an empty version.
func (s *Supervisor) ReportVersion(ctx context.Context) error {
	version, err := s.engine.Version(ctx)
	if err != nil {
		s.log.Warn("failed to read engine version", zap.Error(err))
		s.bus.Publish(events.KindErrorLog, fmt.Sprintf("xray-core error exit: %v", err))
	}

	geoLastUpdate, err := s.installer.GeoLastUpdate()
	if err != nil {
		return fmt.Errorf("failed to stat geo data: %w", err)
	}

	s.bus.Publish(events.KindVersionInfo, types.VersionInfo{
		AppVersion:    s.opts.AppVersion,
		XrayVersion:   version,
		GeoLastUpdate: geoLastUpdate,
	})
	return nil
}

// Start launches the engine with the current profile, replacing any
// running instance. The previous process has exited (or been killed)
// before the new one is spawned. The lock is released while waiting.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	first := s.handle == nil
	for {
		dying := s.retiring
		if s.handle != nil {
			dying = s.handle
			s.detachLocked(dying)
		}
		if dying == nil {
			break
		}
		s.state = types.StateStopping
		s.mu.Unlock()
		s.awaitExit(dying)
		s.mu.Lock()
		if s.retiring == dying {
			s.retiring = nil
		}
	}
	defer s.mu.Unlock()

	s.state = types.StateStarting

	profile, err := s.profiles.Current(ctx)
	if err != nil {
		return s.failStartLocked(nil, fmt.Errorf("failed to load current profile: %w", err))
	}

	cfg := xray.BuildConfig(profile, s.lanIP, s.opts.StatsPort)
	if err := xray.WriteConfig(s.opts.ConfigPath, cfg); err != nil {
		return s.failStartLocked(nil, err)
	}
	if err := s.profiles.Save(ctx, profile); err != nil {
		return s.failStartLocked(nil, fmt.Errorf("failed to save profile: %w", err))
	}

	if profile.Proxies.Enabled {
		if err := s.sysproxy.Enable(profile.Proxies.HTTP, profile.Proxies.Socks); err != nil {
			s.log.Warn("failed to enable system proxy", zap.Error(err))
		}
	}

	proc, err := s.engine.Launch(s.opts.ConfigPath)
	if err != nil {
		return s.failStartLocked(profile, err)
	}

	s.gen++
	h := &handle{
		gen:       s.gen,
		proc:      proc,
		profile:   profile.Name,
		http:      profile.Proxies.HTTP,
		socks:     profile.Proxies.Socks,
		startedAt: s.clock.Now(),
		done:      make(chan struct{}),
	}
	s.handle = h
	s.current.Store(h.gen)
	s.state = types.StateRunning

	go s.relay(h, proc.Stdout(), events.KindAccessLog)
	go s.relay(h, proc.Stderr(), events.KindErrorLog)
	go s.wait(h)

	s.log.Info("engine started",
		zap.Int("pid", proc.PID()),
		zap.Uint64("generation", h.gen),
		zap.String("profile", profile.Name))

	s.bus.Publish(events.KindRunning, true)
	if first {
		s.bus.Publish(events.KindTip, TipStartup)
	} else {
		s.bus.Publish(events.KindTip, TipApplied)
	}
	if s.stats != nil {
		s.stats.Reset()
	}
	return nil
}

// failStartLocked reports a start that never produced a process and rolls
// back the system proxy when it was switched on for this attempt.
func (s *Supervisor) failStartLocked(profile *models.Profile, err error) error {
	s.state = types.StateStopped
	s.bus.Publish(events.KindRunning, false)

	if profile != nil && profile.Proxies.Enabled {
		if derr := s.sysproxy.Disable(); derr != nil {
			s.log.Warn("failed to disable system proxy", zap.Error(derr))
		}
	}
	s.log.Error("engine start failed", zap.Error(err))
	return err
}

// detachLocked makes h the retiring process and asks it to terminate.
func (s *Supervisor) detachLocked(h *handle) error {
	s.handle = nil
	s.current.Store(0)
	s.retiring = h

	err := h.proc.Terminate()
	if err != nil {
		s.log.Warn("failed to terminate engine", zap.Int("pid", h.proc.PID()), zap.Error(err))
	}
	return err
}

// awaitExit blocks until h is gone, killing it after StopTimeout.
func (s *Supervisor) awaitExit(h *handle) {
	select {
	case <-h.done:
		return
	case <-s.clock.After(s.opts.StopTimeout):
	}

	s.log.Warn("engine did not exit in time, killing", zap.Int("pid", h.proc.PID()))
	if err := h.proc.Kill(); err != nil {
		s.log.Warn("failed to kill engine", zap.Error(err))
	}
	select {
	case <-h.done:
	case <-s.clock.After(s.opts.StopTimeout):
		s.log.Error("engine still alive after kill", zap.Int("pid", h.proc.PID()))
	}
}

func (s *Supervisor) wait(h *handle) {
	status := h.proc.Wait()
	close(h.done)
	s.handleExit(h, status)
}

// handleExit records the outcome of h when it is still the live handle and
// then runs the observers registered on it.
func (s *Supervisor) handleExit(h *handle, status types.ExitStatus) {
	s.mu.Lock()
	observers := h.observers
	h.observers = nil
	if s.retiring == h {
		s.retiring = nil
	}

	if s.handle == h {
		s.handle = nil
		s.current.Store(0)

		clean := status.Clean()
		if clean {
			s.state = types.StateStopped
			s.log.Info("engine exited", zap.Stringer("status", status))
		} else {
			s.state = types.StateCrashed
			err := &pkgerrors.CoreError{CoreType: "xray", Err: fmt.Errorf("%w: %s", pkgerrors.ErrCoreExited, status)}
			s.log.Error("engine crashed", zap.Error(err))
		}
		s.bus.Publish(events.KindRunning, false)
		s.recordExitLocked(clean)
	} else {
		s.log.Debug("retired engine exited", zap.Uint64("generation", h.gen), zap.Stringer("status", status))
	}
	s.mu.Unlock()

	for _, fn := range observers {
		fn(status)
	}
}

func (s *Supervisor) recordExitLocked(clean bool) {
	ctx := context.Background()
	profile, err := s.profiles.Current(ctx)
	if err != nil {
		s.log.Error("failed to load profile after exit", zap.Error(err))
		return
	}

	profile.StartedSuccessfully = clean
	if err := s.profiles.Save(ctx, profile); err != nil {
		s.log.Error("failed to save profile after exit", zap.Error(err))
	}

	if !clean && profile.Proxies.Enabled {
		if err := s.sysproxy.Disable(); err != nil {
			s.log.Warn("failed to disable system proxy", zap.Error(err))
		}
	}
}

// relay publishes each output line while h is current and keeps draining
// afterwards so the process never blocks on a full pipe.
func (s *Supervisor) relay(h *handle, r io.Reader, kind events.Kind) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLogLine)
	for scanner.Scan() {
		if s.current.Load() != h.gen {
			continue
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.log.Debug("engine output", zap.String("stream", string(kind)), zap.String("line", line))
		s.bus.Publish(kind, line)
	}
	if err := scanner.Err(); err != nil {
		s.log.Warn("engine output relay stopped", zap.String("stream", string(kind)), zap.Error(err))
	}
	io.Copy(io.Discard, r)
}

// Stop asks the engine to terminate and returns without waiting. It is a
// no-op when nothing runs.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == nil {
		return nil
	}
	return s.stopLocked(s.handle)
}

// StopWith registers fn on the live process and asks it to terminate in
// one step, so fn always sees the exit of the process it stopped. It
// reports false when nothing runs. On a failed termination fn is dropped.
func (s *Supervisor) StopWith(fn func(types.ExitStatus)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.handle
	if h == nil {
		return false, nil
	}
	h.observers = append(h.observers, fn)
	if err := s.stopLocked(h); err != nil {
		h.observers = h.observers[:len(h.observers)-1]
		return true, err
	}
	return true, nil
}

func (s *Supervisor) stopLocked(h *handle) error {
	err := s.detachLocked(h)
	s.state = types.StateStopped
	s.bus.Publish(events.KindRunning, false)
	s.log.Info("engine stopped", zap.Int("pid", h.proc.PID()))
	if err != nil {
		return &pkgerrors.CoreError{CoreType: "xray", Err: err}
	}
	return nil
}

// Shutdown stops the engine, waits for it (or a process still exiting
// after Stop) until ctx expires and releases the system proxy.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	var errs error

	s.mu.Lock()
	h := s.handle
	if h != nil {
		s.handle = nil
		s.current.Store(0)
		s.retiring = h
		s.state = types.StateStopped
		errs = multierr.Append(errs, h.proc.Terminate())
		s.bus.Publish(events.KindRunning, false)
	} else {
		h = s.retiring
	}
	s.mu.Unlock()

	if h != nil {
		select {
		case <-h.done:
		case <-ctx.Done():
			errs = multierr.Append(errs, h.proc.Kill())
			errs = multierr.Append(errs, ctx.Err())
		}
	}

	profile, err := s.profiles.Current(ctx)
	if err != nil {
		return multierr.Append(errs, err)
	}
	if profile.Proxies.Enabled {
		errs = multierr.Append(errs, s.sysproxy.Disable())
	}
	return errs
}

// Apply replaces the editable parts of the current profile, marks it for
// autostart and restarts the engine with it.
func (s *Supervisor) Apply(ctx context.Context, req ApplyRequest) error {
	profile, err := s.profiles.Current(ctx)
	if err != nil {
		return fmt.Errorf("failed to load current profile: %w", err)
	}

	profile.General = req.General
	profile.Log.Level = req.Log.Level
	profile.Rules = req.Rules
	if err := profile.Validate(); err != nil {
		return &pkgerrors.ProfileError{
			ProfileID: profile.ID,
			Name:      profile.Name,
			Err:       fmt.Errorf("%w: %v", pkgerrors.ErrProfileInvalid, err),
		}
	}

	profile.StartedSuccessfully = true
	if err := s.profiles.Save(ctx, profile); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return s.Start(ctx)
}

// SetSystemProxy records whether the operating system proxy should follow
// the engine and applies it right away when the engine runs.
func (s *Supervisor) SetSystemProxy(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, err := s.profiles.Current(ctx)
	if err != nil {
		return fmt.Errorf("failed to load current profile: %w", err)
	}
	profile.Proxies.Enabled = enabled
	if err := s.profiles.Save(ctx, profile); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}

	if !enabled {
		return s.sysproxy.Disable()
	}
	if s.handle != nil {
		return s.sysproxy.Enable(s.handle.http, s.handle.socks)
	}
	return nil
}

// CreateIdentity asks the engine for a UUID, derived from seed when seed is
// short enough. The engine result is validated and published.
func (s *Supervisor) CreateIdentity(ctx context.Context, seed string) (string, error) {
	if utf8.RuneCountInString(seed) >= maxSeedLength {
		seed = ""
	}

	var id uuid.UUID
	out, err := s.engine.UUID(ctx, seed)
	if err != nil {
		s.log.Warn("engine uuid failed, generating locally", zap.Error(err))
		id = localIdentity(seed)
	} else {
		id, err = uuid.Parse(strings.TrimSpace(out))
		if err != nil {
			return "", fmt.Errorf("%w: %q", pkgerrors.ErrInvalidIdentity, out)
		}
	}

	s.bus.Publish(events.KindIdentity, id.String())
	return id.String(), nil
}

// localIdentity matches the engine's derivation: SHA-1 name based UUID in
// the nil namespace, random when there is no seed.
func localIdentity(seed string) uuid.UUID {
	if seed == "" {
		return uuid.New()
	}
	return uuid.NewSHA1(uuid.Nil, []byte(seed))
}

// Running reports whether an engine process is live.
func (s *Supervisor) Running() bool {
	return s.current.Load() != 0
}

// OnlineProxy returns the HTTP listener of the live engine when the
// current profile routes the system through it.
func (s *Supervisor) OnlineProxy(ctx context.Context) (models.Endpoint, bool) {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	if h == nil {
		return models.Endpoint{}, false
	}

	profile, err := s.profiles.Current(ctx)
	if err != nil || !profile.Proxies.Enabled {
		return models.Endpoint{}, false
	}
	return h.http, true
}

// Status returns a snapshot of the supervisor.
func (s *Supervisor) Status() types.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := types.Status{State: s.state, Generation: s.gen}
	if h := s.handle; h != nil {
		st.Running = true
		st.PID = h.proc.PID()
		st.Profile = h.profile
		st.HTTP = net.JoinHostPort(h.http.Server, strconv.Itoa(h.http.Port))
		st.Socks = net.JoinHostPort(h.socks.Server, strconv.Itoa(h.socks.Port))
		st.StartedAt = h.startedAt
		st.Uptime = s.clock.Since(h.startedAt).Round(time.Second)
	}
	return st
}
