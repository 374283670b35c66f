// Package assets refreshes the engine's geo data files and swaps in a newer
// bundled engine binary.
package assets

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"xrayclient/internal/core/types"
	"xrayclient/internal/core/xray"
	"xrayclient/internal/events"
	"xrayclient/internal/paths"
	"xrayclient/internal/storage/models"
	pkgerrors "xrayclient/pkg/errors"
)

// Supervisor is the part of the engine supervisor the updater drives.
type Supervisor interface {
	Start(ctx context.Context) error
	StopWith(fn func(types.ExitStatus)) (bool, error)
	ReportVersion(ctx context.Context) error
	OnlineProxy(ctx context.Context) (models.Endpoint, bool)
}

// Layout locates the installed and bundled engine files.
type Layout interface {
	BinaryPath() string
	GeoIPPath() string
	GeoSitePath() string
	BundledBinaryPath() (string, error)
}

// VersionFunc reports the version of the engine binary at path.
type VersionFunc func(ctx context.Context, path string) (string, error)

// Options tunes an Updater.
type Options struct {
	GeoIPMirrors   []string
	GeoSiteMirrors []string
	// ViaProxy tunnels downloads through the engine's HTTP listener while
	// the system proxy points at it.
	ViaProxy bool
	TempPath string
	Fetcher  *Fetcher
	Version  VersionFunc
	Logger   *zap.Logger
}

// Phase weights of the overall progress.
const (
	geoIPWeight   = 80
	geoSiteWeight = 20
)

// Updater runs at most one update session at a time.
type Updater struct {
	sup     Supervisor
	layout  Layout
	bus     events.Publisher
	fetcher *Fetcher
	opts    Options
	log     *zap.Logger
	phases  *PhaseProgress

	active  atomic.Bool
	mu      sync.Mutex
	session types.UpdateSession
}

// NewUpdater creates an idle updater.
func NewUpdater(sup Supervisor, layout Layout, bus events.Publisher, opts Options) *Updater {
	if opts.TempPath == "" {
		opts.TempPath = filepath.Join(paths.TempDir(), "geo.dat.tmp")
	}
	if opts.Fetcher == nil {
		opts.Fetcher = NewFetcher(DefaultFetcherConfig())
	}
	if opts.Version == nil {
		opts.Version = xray.VersionOf
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Updater{
		sup:     sup,
		layout:  layout,
		bus:     bus,
		fetcher: opts.Fetcher,
		opts:    opts,
		log:     opts.Logger,
		phases:  NewPhaseProgress(geoIPWeight, geoSiteWeight),
	}
}

// Session returns the state of the current or last session.
func (u *Updater) Session() types.UpdateSession {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.session
}

// Running reports whether a session is in progress.
func (u *Updater) Running() bool {
	return u.active.Load()
}

type asset struct {
	name    string
	dst     string
	mirrors []string
}

// Update downloads geoip.dat then geosite.dat and replaces the engine
// binary when the bundled one reports a different version. When the
// engine runs, the binary swap waits for it to exit and the session ends
// after the restart; Update itself returns once the swap is scheduled.
func (u *Updater) Update(ctx context.Context) error {
	if !u.active.CompareAndSwap(false, true) {
		return pkgerrors.ErrUpdateInProgress
	}

	u.mu.Lock()
	u.session = types.UpdateSession{Running: true}
	snapshot := u.session
	u.mu.Unlock()
	u.bus.Publish(events.KindUpdateProgress, snapshot)

	if err := os.MkdirAll(filepath.Dir(u.opts.TempPath), 0755); err != nil {
		u.end(xray.GeoIPFile)
		return &pkgerrors.AssetError{Name: xray.GeoIPFile, Err: err}
	}

	assets := []asset{
		{name: xray.GeoIPFile, dst: u.layout.GeoIPPath(), mirrors: u.opts.GeoIPMirrors},
		{name: xray.GeoSiteFile, dst: u.layout.GeoSitePath(), mirrors: u.opts.GeoSiteMirrors},
	}
	for phase, a := range assets {
		if err := u.fetchAsset(ctx, phase, a); err != nil {
			u.log.Error("asset update failed", zap.String("asset", a.name), zap.Error(err))
			u.end(a.name)
			return &pkgerrors.AssetError{Name: a.name, Err: err}
		}
		if a.name == xray.GeoIPFile {
			u.mu.Lock()
			u.session.GeoIP = true
			u.mu.Unlock()
		}
		u.log.Info("asset updated", zap.String("asset", a.name))
	}

	return u.checkBinary(ctx)
}

// fetchAsset tries the primary mirror and then exactly one fallback.
func (u *Updater) fetchAsset(ctx context.Context, phase int, a asset) error {
	mirrors := a.mirrors
	if len(mirrors) > 2 {
		mirrors = mirrors[:2]
	}
	if len(mirrors) == 0 {
		return fmt.Errorf("%w: no mirror configured", pkgerrors.ErrAllMirrorsFailed)
	}

	proxy := u.proxyURL(ctx)
	var errs error
	for _, mirror := range mirrors {
		err := u.download(ctx, phase, mirror, a.dst, proxy)
		if err == nil {
			return nil
		}
		u.log.Warn("mirror failed", zap.String("url", mirror), zap.Error(err))
		errs = multierr.Append(errs, err)
	}
	return fmt.Errorf("%w: %v", pkgerrors.ErrAllMirrorsFailed, errs)
}

func (u *Updater) download(ctx context.Context, phase int, rawURL, dst string, proxy *url.URL) error {
	err := u.fetcher.Download(ctx, rawURL, u.opts.TempPath, proxy, func(percent float64) {
		u.progress(phase, percent)
	})
	if err != nil {
		return err
	}
	if err := xray.MoveFile(u.opts.TempPath, dst, 0644); err != nil {
		os.Remove(u.opts.TempPath)
		return fmt.Errorf("failed to install %s: %w", filepath.Base(dst), err)
	}
	return nil
}

func (u *Updater) proxyURL(ctx context.Context) *url.URL {
	if !u.opts.ViaProxy {
		return nil
	}
	ep, ok := u.sup.OnlineProxy(ctx)
	if !ok {
		return nil
	}
	return &url.URL{Scheme: "http", Host: net.JoinHostPort(ep.Server, strconv.Itoa(ep.Port))}
}

func (u *Updater) progress(phase int, percent float64) {
	u.mu.Lock()
	u.session.Progress = u.phases.Overall(phase, percent)
	snapshot := u.session
	u.mu.Unlock()
	u.bus.Publish(events.KindUpdateProgress, snapshot)
}

// checkBinary compares the installed engine with a temporary copy of the
// bundled one, which cannot be executed in place.
func (u *Updater) checkBinary(ctx context.Context) error {
	binary := u.layout.BinaryPath()
	name := filepath.Base(binary)
	tmp := binary + ".tmp"

	fail := func(err error) error {
		u.log.Error("engine version check failed", zap.Error(err))
		u.end(name)
		return &pkgerrors.AssetError{Name: name, Err: err}
	}

	bundled, err := u.layout.BundledBinaryPath()
	if err != nil {
		return fail(err)
	}
	installedVersion, err := u.opts.Version(ctx, binary)
	if err != nil {
		return fail(err)
	}
	if err := xray.CopyFile(bundled, tmp, 0755); err != nil {
		return fail(err)
	}
	bundledVersion, err := u.opts.Version(ctx, tmp)
	if err != nil {
		os.Remove(tmp)
		return fail(err)
	}

	if installedVersion == bundledVersion {
		os.Remove(tmp)
		u.end("")
		return nil
	}

	u.log.Info("engine upgrade available",
		zap.String("installed", installedVersion),
		zap.String("bundled", bundledVersion))

	swapCtx := context.WithoutCancel(ctx)
	running, err := u.sup.StopWith(func(types.ExitStatus) { u.swap(swapCtx, tmp, true) })
	if err != nil {
		os.Remove(tmp)
		u.log.Error("failed to stop engine for upgrade", zap.Error(err))
		u.end(name)
		return &pkgerrors.AssetError{Name: name, Err: err}
	}
	if !running {
		u.swap(swapCtx, tmp, false)
	}
	return nil
}

// swap moves the new binary into place, reports the new version and, when
// the engine was running, starts it again.
func (u *Updater) swap(ctx context.Context, tmp string, restart bool) {
	binary := u.layout.BinaryPath()
	if err := xray.MoveFile(tmp, binary, 0755); err != nil {
		u.log.Error("failed to replace engine binary", zap.Error(err))
		u.end(filepath.Base(binary))
		return
	}
	if err := u.sup.ReportVersion(ctx); err != nil {
		u.log.Warn("failed to report version", zap.Error(err))
	}
	if restart {
		if err := u.sup.Start(ctx); err != nil {
			u.log.Error("failed to restart engine after upgrade", zap.Error(err))
		}
	}

	u.mu.Lock()
	u.session.Xray = true
	u.mu.Unlock()
	u.end("")
}

// end closes the session. errName names the file that failed, empty on
// success.
func (u *Updater) end(errName string) {
	u.mu.Lock()
	u.session.Running = false
	u.session.End = true
	u.session.Err = errName
	if errName == "" {
		u.session.Progress = 100
	}
	snapshot := u.session
	u.mu.Unlock()

	u.bus.Publish(events.KindUpdateProgress, snapshot)
	u.active.Store(false)
}
