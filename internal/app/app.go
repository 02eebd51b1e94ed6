// Package app provides the main application struct for centralized dependency
// management and lifecycle control of the evknews server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chicotreta/evknews/config"
	"github.com/chicotreta/evknews/internal/cache"
	"github.com/chicotreta/evknews/internal/dispatch"
	"github.com/chicotreta/evknews/internal/feed"
	"github.com/chicotreta/evknews/internal/httpclient"
	"github.com/chicotreta/evknews/internal/lifecycle"
	"github.com/chicotreta/evknews/internal/observability"
	"github.com/chicotreta/evknews/internal/server"
	"github.com/chicotreta/evknews/internal/state"
)

// App represents the main application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config     *config.Config
	cacheStore cache.Store
	stateStore state.Store
	manager    *lifecycle.Manager
	engine     *feed.Engine
	prober     feed.Prober
	server     *server.Server

	triggers  chan feed.Trigger
	runCancel context.CancelFunc

	shutdownMu sync.Mutex
	shutdown   bool
}

// New creates a new App with all dependencies initialized: cache and state
// stores, the feed engine, the lifecycle manager (installed and activated),
// the request dispatcher, and the HTTP server.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &App{
		config:   cfg,
		triggers: make(chan feed.Trigger, 8),
	}

	var metrics *observability.Metrics
	if cfg.Server.MetricsEnabled {
		metrics = observability.New(prometheus.DefaultRegisterer)
	}

	cacheStore, err := newCacheStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache store: %w", err)
	}
	app.cacheStore = cacheStore

	stateStore, err := state.New(ctx, stateConfig(cfg))
	if err != nil {
		closeErr := cacheStore.Close()
		if closeErr != nil {
			return nil, fmt.Errorf("failed to initialize state store: %w (also: cache close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize state store: %w", err)
	}
	app.stateStore = stateStore

	httpClient := httpclient.NewDefault()

	snapshots := feed.NewSnapshotStore(stateStore, cfg.Feed.SnapshotMaxBytes, metrics)

	prober, err := feed.NewDialProber(cfg.Origin.URL)
	if err != nil {
		return nil, app.initFailure("failed to build connectivity prober", err)
	}
	app.prober = prober

	feedClient := feed.NewClient(httpClient, cfg.Origin.URL+cfg.Origin.FeedPath)
	app.engine = feed.NewEngine(feedClient, snapshots, prober, metrics, logEvent)

	manifest, err := lifecycle.LoadManifest(cfg.Origin.ManifestPath)
	if err != nil {
		return nil, app.initFailure("failed to load precache manifest", err)
	}

	cacheCfg := cache.Config{Prefix: cfg.Cache.AppPrefix, Version: cfg.Cache.VersionTag}
	app.manager = lifecycle.NewManager(cacheStore, cacheCfg, cfg.Origin.URL, httpClient, manifest, metrics)
	app.manager.OnControllerChange(func() {
		select {
		case app.triggers <- feed.TriggerControllerChanged:
		default:
			slog.Warn("trigger queue full, dropping controller-changed resync")
		}
	})

	if err := app.manager.Install(ctx); err != nil {
		return nil, app.initFailure("precache install failed", err)
	}
	if err := app.manager.Activate(ctx); err != nil {
		return nil, app.initFailure("activation failed", err)
	}

	app.logStartupInfo()

	dispatcher := dispatch.New(cacheStore, cfg.Origin.URL, httpClient, metrics)

	serverCfg := &server.Config{
		AdminKey:        cfg.Server.AdminKey,
		MetricsEnabled:  cfg.Server.MetricsEnabled,
		MetricsEndpoint: cfg.Server.MetricsEndpoint,
	}
	handler := server.NewHandler(dispatcher, app.manager, app.engine, snapshots)
	app.server = server.New(handler, serverCfg)

	return app, nil
}

// Engine returns the feed sync engine.
func (a *App) Engine() *feed.Engine {
	return a.engine
}

// Manager returns the lifecycle manager.
func (a *App) Manager() *lifecycle.Manager {
	return a.manager
}

// Start launches the sync loop and the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.runCancel = cancel
	go a.engine.Run(runCtx, a.triggers)
	go a.watchConnectivity(runCtx)
	a.triggers <- feed.TriggerStart

	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down app components in dependency order: the
// HTTP server first, then the sync loop, then the stores.
// Shutdown is idempotent; after the first call, subsequent calls are no-ops.
// It attempts every close step and returns a joined error if any step fails.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	slog.Info("shutting down application...")

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	if a.runCancel != nil {
		a.runCancel()
	}

	if a.cacheStore != nil {
		if err := a.cacheStore.Close(); err != nil {
			slog.Error("cache store close error", "error", err)
			errs = append(errs, fmt.Errorf("cache close: %w", err))
		}
	}

	if a.stateStore != nil {
		if err := a.stateStore.Close(); err != nil {
			slog.Error("state store close error", "error", err)
			errs = append(errs, fmt.Errorf("state close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	slog.Info("application shutdown complete")
	return nil
}

// watchConnectivity re-triggers sync when connectivity returns while the
// fallback feed is being served.
func (a *App) watchConnectivity(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !a.engine.FallbackActive() {
				continue
			}
			if a.prober.Online(ctx) {
				select {
				case a.triggers <- feed.TriggerOnline:
				default:
				}
			}
		}
	}
}

// initFailure closes whatever was already initialized and wraps err.
func (a *App) initFailure(msg string, err error) error {
	var closeErrs []error
	if a.cacheStore != nil {
		closeErrs = append(closeErrs, a.cacheStore.Close())
	}
	if a.stateStore != nil {
		closeErrs = append(closeErrs, a.stateStore.Close())
	}
	if closeErr := errors.Join(closeErrs...); closeErr != nil {
		return fmt.Errorf("%s: %w (also: close error: %v)", msg, err, closeErr)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// newCacheStore builds the cache store for the configured backend.
func newCacheStore(cfg *config.Config) (cache.Store, error) {
	cacheCfg := cache.Config{Prefix: cfg.Cache.AppPrefix, Version: cfg.Cache.VersionTag}

	switch cfg.Cache.Backend {
	case "memory":
		return cache.NewMemoryStore(cacheCfg), nil
	case "disk":
		return cache.NewDiskStore(cacheCfg, cfg.Cache.Dir, cfg.Cache.Compress)
	case "redis":
		return cache.NewRedisStore(cacheCfg, cfg.Cache.RedisURL)
	default:
		return nil, fmt.Errorf("unknown cache backend: %s (valid: memory, disk, redis)", cfg.Cache.Backend)
	}
}

// stateConfig maps the application configuration onto the state store factory.
func stateConfig(cfg *config.Config) state.Config {
	sc := state.DefaultConfig()
	sc.Type = cfg.State.Backend
	if cfg.State.SQLitePath != "" {
		sc.SQLite.Path = cfg.State.SQLitePath
	}
	sc.PostgreSQL.URL = cfg.State.PostgresURL
	sc.MongoDB.URL = cfg.State.MongoURL
	if cfg.State.MongoDatabase != "" {
		sc.MongoDB.Database = cfg.State.MongoDatabase
	}
	return sc
}

// logEvent is the default engine sink: events only surface in the logs.
func logEvent(ev feed.Event) {
	switch ev.Kind {
	case feed.EventRenderedLocal:
		slog.Info("rendered local snapshot", "items", len(ev.Items))
	case feed.EventUpdated:
		slog.Info("feed updated", "items", len(ev.Items))
	case feed.EventNotModified:
		slog.Debug("feed unchanged")
	case feed.EventFailed:
		slog.Warn("sync failed, serving stale snapshot", "error", ev.Err)
	case feed.EventFallback:
		slog.Warn("serving fallback feed", "reason", ev.Reason)
	}
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo() {
	cfg := a.config

	if cfg.Server.AdminKey == "" {
		slog.Warn("EVKNEWS_ADMIN_KEY not set, control endpoints are unauthenticated")
	} else {
		slog.Info("authentication enabled", "mode", "admin_key")
	}

	if cfg.Server.MetricsEnabled {
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Server.MetricsEndpoint)
	} else {
		slog.Info("prometheus metrics disabled")
	}

	slog.Info("cache configured",
		"backend", cfg.Cache.Backend,
		"generation", cache.Config{Prefix: cfg.Cache.AppPrefix, Version: cfg.Cache.VersionTag}.Generation(cache.PartitionCore).Name(),
	)
	slog.Info("state store configured", "backend", cfg.State.Backend)
	slog.Info("origin configured", "url", cfg.Origin.URL, "feed", cfg.Origin.FeedPath)
}
