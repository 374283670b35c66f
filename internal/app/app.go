// Package app builds the object graph shared by the daemon and the CLI.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"xrayclient/internal/api"
	"xrayclient/internal/assets"
	"xrayclient/internal/config"
	"xrayclient/internal/core"
	"xrayclient/internal/core/sysproxy"
	"xrayclient/internal/core/xray"
	"xrayclient/internal/events"
	"xrayclient/internal/latency"
	"xrayclient/internal/paths"
	"xrayclient/internal/stats"
	"xrayclient/internal/storage"
	"xrayclient/internal/storage/sqlite"
)

// Options selects the configuration the application starts from.
type Options struct {
	ConfigPath string
	// LogLevel overrides log.level when set.
	LogLevel   string
	AppVersion string
}

// App holds the storage, the configuration and the engine layout.
// Runtime components are created by NewDaemon.
type App struct {
	Config   *config.Config
	Log      *zap.Logger
	Storage  storage.Storage
	Profiles *storage.Profiles
	Locator  *xray.Locator
	Engine   *xray.Engine
	DataDir  string
	Version  string
}

// New loads the configuration, opens the database and resolves the engine
// layout.
func New(opts Options) (*App, error) {
	if opts.ConfigPath == "" {
		dir, err := paths.ConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get config directory: %w", err)
		}
		opts.ConfigPath = filepath.Join(dir, "config.yaml")
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
	}

	log, err := NewLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	dataDir, err := paths.DataDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get data directory: %w", err)
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = filepath.Join(dataDir, "xrayclient.db")
	}
	store, err := sqlite.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	storeDir := cfg.Engine.StoreDir
	if storeDir == "" {
		storeDir = filepath.Join(dataDir, "xray-core")
	}
	locator := xray.NewLocator(storeDir, cfg.Engine.BundleDir)

	log.Debug("application initialized",
		zap.String("config", opts.ConfigPath),
		zap.String("db", dbPath),
		zap.String("store", storeDir))

	return &App{
		Config:   cfg,
		Log:      log,
		Storage:  store,
		Profiles: storage.NewProfiles(store),
		Locator:  locator,
		Engine:   xray.New(locator.BinaryPath(), log.Named("engine")),
		DataDir:  dataDir,
		Version:  opts.AppVersion,
	}, nil
}

// NewLogger builds a JSON production logger or a console development one.
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var zcfg zap.Config
	if cfg.Format == "json" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.DisableStacktrace = true
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.OutputPaths = []string{"stderr"}
	return zcfg.Build()
}

// ConfigPath is where the engine config is generated before each start.
func (a *App) ConfigPath() string {
	return filepath.Join(a.DataDir, "Data", "config.json")
}

// LatencyTester builds a tester using the stored latency settings unless
// the caller overrides them.
func (a *App) LatencyTester(ctx context.Context, workers int64, timeout time.Duration) *latency.Tester {
	if workers <= 0 {
		if v, err := a.Storage.GetSetting(ctx, storage.SettingLatencyWorkers); err == nil {
			workers, _ = strconv.ParseInt(v, 10, 64)
		}
	}
	if timeout <= 0 {
		if v, err := a.Storage.GetSetting(ctx, storage.SettingLatencyTimeout); err == nil {
			if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
				timeout = time.Duration(ms) * time.Millisecond
			}
		}
	}
	return latency.NewTester(a.Storage, latency.TesterConfig{
		Workers: workers,
		Timeout: timeout,
		Logger:  a.Log.Named("latency"),
	})
}

// APIClient returns a client for the configured daemon address.
func (a *App) APIClient() *api.Client {
	return api.NewClient(a.Config.API.Listen, 0)
}

// Close releases the database and flushes the logger.
func (a *App) Close() error {
	var errs error
	if a.Storage != nil {
		errs = multierr.Append(errs, a.Storage.Close())
	}
	// Sync on stderr fails on some terminals; it is not worth reporting.
	_ = a.Log.Sync()
	return errs
}

// Daemon is the long-running supervisor process.
type Daemon struct {
	app        *App
	Bus        *events.Bus
	Supervisor *core.Supervisor
	Poller     *stats.Poller
	Updater    *assets.Updater
	Scheduler  *assets.Scheduler
	API        *api.Server
}

// NewDaemon wires the runtime components. Nothing is started yet.
func (a *App) NewDaemon() (*Daemon, error) {
	cfg := a.Config
	bus := events.New()

	sup := core.New(a.Engine, a.Locator, a.Profiles, sysproxy.New(a.Log.Named("sysproxy")), bus, core.Options{
		ConfigPath:  a.ConfigPath(),
		StatsPort:   cfg.Engine.StatsPort,
		StopTimeout: cfg.Engine.StopTimeout,
		AppVersion:  a.Version,
		Logger:      a.Log.Named("supervisor"),
	})

	poller := stats.New(a.Engine, sup, bus, stats.Options{
		Addr:            sup.StatsAddr(),
		VisibleInterval: cfg.Stats.VisibleInterval,
		HiddenInterval:  cfg.Stats.HiddenInterval,
		Logger:          a.Log.Named("poller"),
	})
	sup.AttachStats(poller)

	fetcherCfg := assets.DefaultFetcherConfig()
	fetcherCfg.UserAgent = "XrayClient/" + a.Version
	updater := assets.NewUpdater(sup, a.Locator, bus, assets.Options{
		GeoIPMirrors:   cfg.Update.GeoIPMirrors,
		GeoSiteMirrors: cfg.Update.GeoSiteMirrors,
		ViaProxy:       cfg.Update.ViaProxy,
		Fetcher:        assets.NewFetcher(fetcherCfg),
		Logger:         a.Log.Named("updater"),
	})

	scheduler, err := assets.NewScheduler(updater, cfg.Update.Interval, a.Log.Named("scheduler"))
	if err != nil {
		return nil, err
	}

	server := api.NewServer(sup, updater, poller, bus, api.ServerOptions{
		Addr:   cfg.API.Listen,
		Logger: a.Log.Named("api"),
	})

	return &Daemon{
		app:        a,
		Bus:        bus,
		Supervisor: sup,
		Poller:     poller,
		Updater:    updater,
		Scheduler:  scheduler,
		API:        server,
	}, nil
}

// Run initializes the engine, serves the API and blocks until ctx is done
// or the process receives SIGINT/SIGTERM. Shutdown stops the engine and
// restores the system proxy.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := d.app.Log
	if err := d.Supervisor.Init(ctx); err != nil {
		d.Bus.Close()
		return err
	}
	if err := d.API.Start(); err != nil {
		return multierr.Append(
			fmt.Errorf("failed to start api on %s: %w", d.app.Config.API.Listen, err),
			d.shutdown(),
		)
	}
	if err := d.Scheduler.Start(ctx); err != nil {
		log.Warn("failed to start update scheduler", zap.Error(err))
	}

	log.Info("daemon running", zap.String("api", d.API.Addr()))
	<-ctx.Done()
	log.Info("shutting down")
	return d.shutdown()
}

func (d *Daemon) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), d.app.Config.Engine.StopTimeout*2)
	defer cancel()

	var errs error
	if d.Scheduler.IsRunning() {
		errs = multierr.Append(errs, d.Scheduler.Stop())
	}
	errs = multierr.Append(errs, d.API.Stop(ctx))
	d.API.WaitUpdates()
	d.Poller.Close()
	errs = multierr.Append(errs, d.Supervisor.Shutdown(ctx))
	d.Bus.Close()
	return errs
}
