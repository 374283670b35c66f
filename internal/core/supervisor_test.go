package core

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xrayclient/internal/core/types"
	"xrayclient/internal/events"
	"xrayclient/internal/storage/models"
	pkgerrors "xrayclient/pkg/errors"
)

type fakeProcess struct {
	pid        int
	engine     *fakeEngine
	outR, errR *io.PipeReader
	outW, errW *io.PipeWriter
	exit       chan types.ExitStatus
	once       sync.Once
	ignoreTerm bool
	termErr    error
	terminated atomic.Int32
	killed     atomic.Bool
}

func (p *fakeProcess) PID() int          { return p.pid }
func (p *fakeProcess) Stdout() io.Reader { return p.outR }
func (p *fakeProcess) Stderr() io.Reader { return p.errR }

func (p *fakeProcess) Terminate() error {
	p.terminated.Add(1)
	if !p.ignoreTerm {
		p.finish(types.ExitStatus{Code: -1, Signal: syscall.SIGTERM})
	}
	return p.termErr
}

func (p *fakeProcess) Kill() error {
	p.killed.Store(true)
	p.finish(types.ExitStatus{Code: -1, Signal: syscall.SIGKILL})
	return nil
}

func (p *fakeProcess) finish(status types.ExitStatus) {
	p.once.Do(func() {
		p.engine.exited()
		p.exit <- status
	})
}

func (p *fakeProcess) Wait() types.ExitStatus {
	status := <-p.exit
	p.outW.Close()
	p.errW.Close()
	return status
}

type fakeEngine struct {
	mu         sync.Mutex
	procs      []*fakeProcess
	alive      int
	overlap    bool
	launchErr  error
	ignoreTerm bool

	version  string
	uuidOut  string
	uuidErr  error
	uuidSeed string
}

func (e *fakeEngine) Launch(configPath string) (types.Process, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.launchErr != nil {
		return nil, e.launchErr
	}
	if e.alive > 0 {
		e.overlap = true
	}
	e.alive++

	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	p := &fakeProcess{
		pid:        1000 + len(e.procs),
		engine:     e,
		outR:       outR,
		errR:       errR,
		outW:       outW,
		errW:       errW,
		exit:       make(chan types.ExitStatus, 1),
		ignoreTerm: e.ignoreTerm,
	}
	e.procs = append(e.procs, p)
	return p, nil
}

func (e *fakeEngine) exited() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alive--
}

func (e *fakeEngine) running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alive
}

func (e *fakeEngine) proc(i int) *fakeProcess {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.procs[i]
}

func (e *fakeEngine) launches() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.procs)
}

func (e *fakeEngine) Version(ctx context.Context) (string, error) {
	if e.version == "" {
		return "", errors.New("exit status 1")
	}
	return e.version, nil
}

func (e *fakeEngine) UUID(ctx context.Context, seed string) (string, error) {
	e.mu.Lock()
	e.uuidSeed = seed
	e.mu.Unlock()
	return e.uuidOut, e.uuidErr
}

type fakeInstaller struct {
	err error
}

func (f *fakeInstaller) EnsureInstalled(ctx context.Context) error { return f.err }
func (f *fakeInstaller) GeoLastUpdate() (time.Time, error) {
	return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), nil
}

type fakeStore struct {
	mu      sync.Mutex
	profile models.Profile
	saves   int
}

func (s *fakeStore) Current(ctx context.Context) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profile
	return &p, nil
}

func (s *fakeStore) Save(ctx context.Context, profile *models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = *profile
	s.saves++
	return nil
}

func (s *fakeStore) get() models.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

type fakeSysProxy struct {
	mu       sync.Mutex
	enabled  int
	disabled int
	http     models.Endpoint
}

func (f *fakeSysProxy) Enable(http, socks models.Endpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled++
	f.http = http
	return nil
}

func (f *fakeSysProxy) Disable() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disabled++
	return nil
}

func (f *fakeSysProxy) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled, f.disabled
}

type fakeResetter struct {
	n atomic.Int32
}

func (f *fakeResetter) Reset() { f.n.Add(1) }

type fixture struct {
	sup     *Supervisor
	engine  *fakeEngine
	store   *fakeStore
	sysprox *fakeSysProxy
	stats   *fakeResetter
	bus     *events.Bus
	sub     *events.Subscription
	config  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	data := models.DefaultProfileData()
	data.General.Address = "edge.example.com"
	data.General.Port = 443
	data.General.ID = "b831381d-6324-4d53-ad4f-8cda48b30811"

	f := &fixture{
		engine:  &fakeEngine{version: "Xray 1.8.4 (Xray, Penetrates Everything.)"},
		store:   &fakeStore{profile: models.Profile{ID: 1, Name: "default", ProfileData: data}},
		sysprox: &fakeSysProxy{},
		stats:   &fakeResetter{},
		bus:     events.New(),
		config:  filepath.Join(t.TempDir(), "Data", "config.json"),
	}
	sub, err := f.bus.Subscribe(256)
	require.NoError(t, err)
	f.sub = sub

	f.sup = New(f.engine, &fakeInstaller{}, f.store, f.sysprox, f.bus, Options{
		ConfigPath:  f.config,
		StatsPort:   10085,
		StopTimeout: 200 * time.Millisecond,
		AppVersion:  "1.0.0",
		DetectLAN:   func() string { return "192.168.1.5" },
	})
	f.sup.AttachStats(f.stats)

	t.Cleanup(func() {
		f.sup.Shutdown(context.Background())
		f.bus.Close()
	})
	return f
}

// next returns the next event of kind, skipping others.
func (f *fixture) next(t *testing.T, kind events.Kind) events.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-f.sub.C:
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timeout waiting for %s event", kind)
		}
	}
}

func (f *fixture) drain() {
	for {
		select {
		case <-f.sub.C:
		default:
			return
		}
	}
}

func TestStart_PublishesRunningAndTip(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.sup.Start(context.Background()))

	assert.Equal(t, true, f.next(t, events.KindRunning).Payload)
	assert.Equal(t, TipStartup, f.next(t, events.KindTip).Payload)
	assert.True(t, f.sup.Running())
	assert.Equal(t, int32(1), f.stats.n.Load())

	_, err := os.Stat(f.config)
	assert.NoError(t, err)

	saved := f.store.get()
	assert.Equal(t, models.Endpoint{Server: "127.0.0.1", Port: 1081}, saved.Proxies.HTTP)

	st := f.sup.Status()
	assert.Equal(t, types.StateRunning, st.State)
	assert.Equal(t, uint64(1), st.Generation)
	assert.Equal(t, "127.0.0.1:1081", st.HTTP)
	assert.Equal(t, "default", st.Profile)
}

func TestStart_RestartNeverOverlaps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.sup.Start(ctx))
	require.NoError(t, f.sup.Start(ctx))
	require.NoError(t, f.sup.Start(ctx))

	assert.False(t, f.engine.overlap)
	assert.Equal(t, 3, f.engine.launches())
	assert.Equal(t, int32(1), f.engine.proc(0).terminated.Load())
	assert.Equal(t, uint64(3), f.sup.Status().Generation)

	assert.Equal(t, TipStartup, f.next(t, events.KindTip).Payload)
	assert.Equal(t, TipApplied, f.next(t, events.KindTip).Payload)
}

func TestStart_KillsProcessIgnoringTermination(t *testing.T) {
	f := newFixture(t)
	f.engine.ignoreTerm = true
	ctx := context.Background()

	require.NoError(t, f.sup.Start(ctx))
	f.engine.ignoreTerm = false
	require.NoError(t, f.sup.Start(ctx))

	assert.True(t, f.engine.proc(0).killed.Load())
	assert.False(t, f.engine.overlap)
	assert.True(t, f.sup.Running())
}

func TestStart_WaitsForStoppedProcess(t *testing.T) {
	f := newFixture(t)
	f.engine.ignoreTerm = true
	f.store.profile.StartedSuccessfully = true
	f.store.profile.Proxies.Enabled = true
	ctx := context.Background()

	require.NoError(t, f.sup.Start(ctx))
	require.NoError(t, f.sup.Stop())
	f.engine.ignoreTerm = false
	require.NoError(t, f.sup.Start(ctx))

	assert.False(t, f.engine.overlap)
	assert.True(t, f.engine.proc(0).killed.Load())
	assert.Equal(t, 2, f.engine.launches())
	assert.True(t, f.sup.Running())

	time.Sleep(50 * time.Millisecond)
	assert.True(t, f.store.get().StartedSuccessfully)
	_, disabled := f.sysprox.counts()
	assert.Equal(t, 0, disabled)
	assert.Equal(t, types.StateRunning, f.sup.Status().State)
}

func TestStart_StatusServedWhileWaiting(t *testing.T) {
	f := newFixture(t)
	f.engine.ignoreTerm = true
	ctx := context.Background()

	require.NoError(t, f.sup.Start(ctx))
	f.engine.mu.Lock()
	f.engine.ignoreTerm = false
	f.engine.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- f.sup.Start(ctx) }()

	assert.Eventually(t, func() bool {
		st := f.sup.Status()
		return st.State == types.StateStopping && !st.Running
	}, time.Second, 5*time.Millisecond)
	running, err := f.sup.StopWith(func(types.ExitStatus) {})
	assert.NoError(t, err)
	assert.False(t, running, "nothing live to stop")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("restart never finished")
	}
	assert.False(t, f.engine.overlap)
	assert.True(t, f.engine.proc(0).killed.Load())
	assert.Equal(t, types.StateRunning, f.sup.Status().State)
}

func TestStart_ConcurrentRestartsNeverOverlap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.sup.Start(ctx))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.sup.Start(ctx))
		}()
	}
	wg.Wait()

	assert.False(t, f.engine.overlap)
	assert.Equal(t, 5, f.engine.launches())
	assert.Equal(t, 1, f.engine.running())
	assert.True(t, f.sup.Running())
}

func TestExit_StaleHandleIgnored(t *testing.T) {
	f := newFixture(t)
	f.engine.ignoreTerm = true
	f.store.profile.StartedSuccessfully = true
	f.store.profile.Proxies.Enabled = true

	require.NoError(t, f.sup.Start(context.Background()))
	old := f.engine.proc(0)
	require.NoError(t, f.sup.Stop())
	f.drain()

	// Output and a crash from the detached process change nothing.
	go old.outW.Write([]byte("late line\n"))
	old.finish(types.ExitStatus{Code: 1})

	assert.Eventually(t, func() bool { return f.engine.running() == 0 }, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	assert.True(t, f.store.get().StartedSuccessfully)
	_, disabled := f.sysprox.counts()
	assert.Equal(t, 0, disabled)
	assert.Equal(t, types.StateStopped, f.sup.Status().State)

	select {
	case ev := <-f.sub.C:
		t.Fatalf("unexpected event %s", ev.Kind)
	default:
	}
}

func TestExit_CrashRecordsFailureAndDisablesProxy(t *testing.T) {
	f := newFixture(t)
	f.store.profile.StartedSuccessfully = true
	f.store.profile.Proxies.Enabled = true

	require.NoError(t, f.sup.Start(context.Background()))
	f.next(t, events.KindRunning)

	f.engine.proc(0).finish(types.ExitStatus{Code: 23})

	assert.Equal(t, false, f.next(t, events.KindRunning).Payload)
	assert.Eventually(t, func() bool {
		return !f.store.get().StartedSuccessfully
	}, time.Second, 10*time.Millisecond)

	enabled, disabled := f.sysprox.counts()
	assert.Equal(t, 1, enabled)
	assert.Equal(t, 1, disabled)
	assert.Equal(t, types.StateCrashed, f.sup.Status().State)
	assert.False(t, f.sup.Running())
}

func TestExit_CleanExitRecordsSuccess(t *testing.T) {
	tests := []struct {
		name   string
		status types.ExitStatus
	}{
		{"exit zero", types.ExitStatus{Code: 0}},
		{"terminated", types.ExitStatus{Code: -1, Signal: syscall.SIGTERM}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.store.profile.Proxies.Enabled = true

			require.NoError(t, f.sup.Start(context.Background()))
			f.next(t, events.KindRunning)

			f.engine.proc(0).finish(tt.status)
			assert.Equal(t, false, f.next(t, events.KindRunning).Payload)

			assert.Eventually(t, func() bool {
				return f.store.get().StartedSuccessfully
			}, time.Second, 10*time.Millisecond)
			_, disabled := f.sysprox.counts()
			assert.Equal(t, 0, disabled)
			assert.Equal(t, types.StateStopped, f.sup.Status().State)
		})
	}
}

func TestStart_LaunchFailureRollsBackProxy(t *testing.T) {
	f := newFixture(t)
	f.store.profile.Proxies.Enabled = true
	f.engine.launchErr = &pkgerrors.CoreError{CoreType: "xray", Err: pkgerrors.ErrCoreStartFailed}

	err := f.sup.Start(context.Background())
	assert.ErrorIs(t, err, pkgerrors.ErrCoreStartFailed)

	assert.Equal(t, false, f.next(t, events.KindRunning).Payload)
	enabled, disabled := f.sysprox.counts()
	assert.Equal(t, 1, enabled)
	assert.Equal(t, 1, disabled)
	assert.False(t, f.sup.Running())
}

func TestStart_SystemProxyUntouchedWhenDisabled(t *testing.T) {
	f := newFixture(t)
	f.engine.launchErr = errors.New("boom")

	require.Error(t, f.sup.Start(context.Background()))

	enabled, disabled := f.sysprox.counts()
	assert.Zero(t, enabled)
	assert.Zero(t, disabled)
}

func TestStop_Idempotent(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.sup.Stop())

	require.NoError(t, f.sup.Start(context.Background()))
	require.NoError(t, f.sup.Stop())
	require.NoError(t, f.sup.Stop())

	assert.Equal(t, int32(1), f.engine.proc(0).terminated.Load())
	assert.False(t, f.sup.Running())
	assert.Equal(t, types.StateStopped, f.sup.Status().State)
}

func TestStopWith(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	running, err := f.sup.StopWith(func(types.ExitStatus) {})
	require.NoError(t, err)
	assert.False(t, running)

	require.NoError(t, f.sup.Start(ctx))
	restarted := make(chan error, 1)
	running, err = f.sup.StopWith(func(st types.ExitStatus) {
		assert.True(t, st.Clean())
		restarted <- f.sup.Start(ctx)
	})
	require.NoError(t, err)
	assert.True(t, running)

	select {
	case err := <-restarted:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("observer did not run")
	}
	assert.True(t, f.sup.Running())
	assert.Equal(t, 2, f.engine.launches())
	assert.Equal(t, int32(1), f.engine.proc(0).terminated.Load())
	assert.Zero(t, f.engine.proc(1).terminated.Load(), "restarted engine left alone")
	assert.False(t, f.engine.overlap)
}

func TestStopWith_TerminateFailure(t *testing.T) {
	f := newFixture(t)
	f.engine.ignoreTerm = true
	require.NoError(t, f.sup.Start(context.Background()))
	p := f.engine.proc(0)
	p.termErr = errors.New("operation not permitted")

	called := make(chan struct{}, 1)
	running, err := f.sup.StopWith(func(types.ExitStatus) { called <- struct{}{} })
	assert.True(t, running)
	var coreErr *pkgerrors.CoreError
	require.ErrorAs(t, err, &coreErr)

	p.finish(types.ExitStatus{Code: -1, Signal: syscall.SIGKILL})
	time.Sleep(50 * time.Millisecond)
	select {
	case <-called:
		t.Fatal("dropped observer ran")
	default:
	}
}

func TestOutputRelay(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.sup.Start(context.Background()))
	p := f.engine.proc(0)

	go p.outW.Write([]byte("accepted tcp:example.com:443 [proxy]\n"))
	assert.Equal(t, "accepted tcp:example.com:443 [proxy]", f.next(t, events.KindAccessLog).Payload)

	go p.errW.Write([]byte("  [Warning] core: started  \n"))
	assert.Equal(t, "[Warning] core: started", f.next(t, events.KindErrorLog).Payload)
}

func TestInit_Autostart(t *testing.T) {
	f := newFixture(t)
	f.store.profile.StartedSuccessfully = true
	f.store.profile.General.LocalProxy.LANEnabled = true

	require.NoError(t, f.sup.Init(context.Background()))

	info := f.next(t, events.KindVersionInfo).Payload.(types.VersionInfo)
	assert.Equal(t, "1.0.0", info.AppVersion)
	assert.Equal(t, "Xray 1.8.4 (Xray, Penetrates Everything.)", info.XrayVersion)
	assert.False(t, info.GeoLastUpdate.IsZero())

	assert.True(t, f.sup.Running())
	assert.Equal(t, "192.168.1.5:1081", f.sup.Status().HTTP)
}

func TestInit_NoAutostart(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.sup.Init(context.Background()))
	assert.False(t, f.sup.Running())
	assert.Zero(t, f.engine.launches())
}

func TestInit_EngineVersionFailureIsReported(t *testing.T) {
	f := newFixture(t)
	f.engine.version = ""

	require.NoError(t, f.sup.Init(context.Background()))
	assert.Contains(t, f.next(t, events.KindErrorLog).Payload, "xray-core error exit")
	info := f.next(t, events.KindVersionInfo).Payload.(types.VersionInfo)
	assert.Empty(t, info.XrayVersion)
}

func TestInit_InstallFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.sup.installer = &fakeInstaller{err: pkgerrors.ErrCoreNotFound}

	err := f.sup.Init(context.Background())
	assert.ErrorIs(t, err, pkgerrors.ErrCoreNotFound)
}

func TestApply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := ApplyRequest{
		General: f.store.get().General,
		Log:     models.LogSettings{Level: "debug"},
		Rules:   models.Rules{Direct: models.RuleSet{Domain: []string{"geosite:cn"}}},
	}
	req.General.Security = "tls"
	require.NoError(t, f.sup.Apply(ctx, req))

	saved := f.store.get()
	assert.True(t, saved.StartedSuccessfully)
	assert.Equal(t, "debug", saved.Log.Level)
	assert.Equal(t, []string{"geosite:cn"}, saved.Rules.Direct.Domain)
	assert.True(t, f.sup.Running())

	data, err := os.ReadFile(f.config)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"geosite:cn"`)
}

func TestApply_InvalidProfile(t *testing.T) {
	f := newFixture(t)

	err := f.sup.Apply(context.Background(), ApplyRequest{Log: models.LogSettings{Level: "debug"}})
	assert.ErrorIs(t, err, pkgerrors.ErrProfileInvalid)
	assert.Zero(t, f.engine.launches())
	assert.False(t, f.store.get().StartedSuccessfully)
}

func TestSetSystemProxy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.sup.SetSystemProxy(ctx, true))
	enabled, _ := f.sysprox.counts()
	assert.Zero(t, enabled, "nothing to point at while stopped")
	assert.True(t, f.store.get().Proxies.Enabled)

	require.NoError(t, f.sup.Start(ctx))
	enabled, _ = f.sysprox.counts()
	assert.Equal(t, 1, enabled)

	require.NoError(t, f.sup.SetSystemProxy(ctx, false))
	_, disabled := f.sysprox.counts()
	assert.Equal(t, 1, disabled)
	assert.False(t, f.store.get().Proxies.Enabled)
}

func TestCreateIdentity(t *testing.T) {
	const generated = "2c5ef5b6-6b39-5b7e-9a41-6b07d0f7e1a0"

	t.Run("short seed is passed through", func(t *testing.T) {
		f := newFixture(t)
		f.engine.uuidOut = generated + "\n"

		id, err := f.sup.CreateIdentity(context.Background(), "alice")
		require.NoError(t, err)
		assert.Equal(t, generated, id)
		assert.Equal(t, "alice", f.engine.uuidSeed)
		assert.Equal(t, generated, f.next(t, events.KindIdentity).Payload)
	})

	t.Run("long seed is dropped", func(t *testing.T) {
		f := newFixture(t)
		f.engine.uuidOut = generated

		_, err := f.sup.CreateIdentity(context.Background(), "a-seed-that-is-far-too-long-to-use")
		require.NoError(t, err)
		assert.Empty(t, f.engine.uuidSeed)
	})

	t.Run("invalid engine output", func(t *testing.T) {
		f := newFixture(t)
		f.engine.uuidOut = "not a uuid"

		_, err := f.sup.CreateIdentity(context.Background(), "")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidIdentity)
	})

	t.Run("engine failure falls back to local derivation", func(t *testing.T) {
		f := newFixture(t)
		f.engine.uuidErr = errors.New("exec: not found")

		id, err := f.sup.CreateIdentity(context.Background(), "alice")
		require.NoError(t, err)
		assert.Equal(t, uuid.NewSHA1(uuid.Nil, []byte("alice")).String(), id)
	})
}
