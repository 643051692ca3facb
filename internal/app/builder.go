package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/stacklok/joplin-bridge/internal/api"
	v0 "github.com/stacklok/joplin-bridge/internal/api/v0"
	"github.com/stacklok/joplin-bridge/internal/config"
	"github.com/stacklok/joplin-bridge/internal/joplin"
	"github.com/stacklok/joplin-bridge/internal/runner"
	"github.com/stacklok/joplin-bridge/internal/status"
	"github.com/stacklok/joplin-bridge/internal/sync/coordinator"
	"github.com/stacklok/joplin-bridge/internal/telemetry"
)

const (
	defaultReadTimeout = 10 * time.Second
	defaultIdleTimeout = 60 * time.Second

	// writeTimeoutMargin keeps the listener from cutting off a foreground
	// sync response that finished right at the sync timeout
	writeTimeoutMargin = 30 * time.Second
)

// BridgeAppOptions is a function that configures the bridge app builder
type BridgeAppOptions func(*bridgeAppConfig) error

// bridgeAppConfig collects the builder inputs.
// It supports dependency injection for testing while providing defaults for production
type bridgeAppConfig struct {
	config *config.Config

	// Optional component overrides (primarily for testing)
	executor    runner.Executor
	client      joplin.Client
	coordinator coordinator.Coordinator
	persistence status.Persistence
	telemetry   *telemetry.Telemetry

	// HTTP server options
	address     string
	middlewares []func(http.Handler) http.Handler
	readTimeout time.Duration
	idleTimeout time.Duration

	// closers release resources acquired while building, in reverse order
	closers []func() error
}

func baseConfig(opts ...BridgeAppOptions) (*bridgeAppConfig, error) {
	cfg := &bridgeAppConfig{
		readTimeout: defaultReadTimeout,
		idleTimeout: defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		cfg.config = config.Default()
	}
	if cfg.address != "" && cfg.address != cfg.config.Server.Address {
		// Copy so the caller's config is left untouched
		overridden := *cfg.config
		overridden.Server.Address = cfg.address
		cfg.config = &overridden
	}
	cfg.address = cfg.config.Server.Address

	return cfg, nil
}

// NewBridgeApp builds every component from the configuration and wires them together
func NewBridgeApp(
	ctx context.Context,
	opts ...BridgeAppOptions,
) (*BridgeApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	if err := cfg.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Release whatever was acquired if a later step fails
	var cleanupNeeded = true
	defer func() {
		if cleanupNeeded {
			cfg.close()
		}
	}()

	if err := buildTelemetry(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to build telemetry: %w", err)
	}

	executor, err := buildExecutor(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build command runner: %w", err)
	}

	store, err := buildStatusStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build status store: %w", err)
	}

	syncCoordinator, err := buildSyncCoordinator(cfg, executor, store)
	if err != nil {
		return nil, fmt.Errorf("failed to build sync coordinator: %w", err)
	}

	client := cfg.client
	if client == nil {
		client = joplin.NewClient(executor,
			joplin.WithCommandTimeout(cfg.config.GetCommandTimeout()),
			joplin.WithTracerProvider(cfg.telemetry.TracerProvider()),
		)
	}

	httpServer, err := buildHTTPServer(ctx, cfg, syncCoordinator, client)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	appCtx, cancel := context.WithCancel(ctx)

	cleanupNeeded = false

	return &BridgeApp{
		config: cfg.config,
		components: &AppComponents{
			Executor:        executor,
			Client:          client,
			StatusStore:     store,
			SyncCoordinator: syncCoordinator,
			Telemetry:       cfg.telemetry,
		},
		httpServer: httpServer,
		closers:    cfg.closers,
		ctx:        appCtx,
		cancelFunc: cancel,
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) BridgeAppOptions {
	return func(cfg *bridgeAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress overrides server.address. The override is checked by
// config.Validate like any configured address, loopback rule included.
func WithAddress(addr string) BridgeAppOptions {
	return func(cfg *bridgeAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}
		cfg.address = addr
		return nil
	}
}

// WithMiddlewares sets custom HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) BridgeAppOptions {
	return func(cfg *bridgeAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithExecutor allows injecting a custom command executor (for testing)
func WithExecutor(e runner.Executor) BridgeAppOptions {
	return func(cfg *bridgeAppConfig) error {
		cfg.executor = e
		return nil
	}
}

// WithClient allows injecting a custom joplin client (for testing)
func WithClient(c joplin.Client) BridgeAppOptions {
	return func(cfg *bridgeAppConfig) error {
		cfg.client = c
		return nil
	}
}

// WithSyncCoordinator allows injecting a custom sync coordinator (for testing)
func WithSyncCoordinator(c coordinator.Coordinator) BridgeAppOptions {
	return func(cfg *bridgeAppConfig) error {
		cfg.coordinator = c
		return nil
	}
}

// WithStatusPersistence allows injecting a custom status persistence
func WithStatusPersistence(p status.Persistence) BridgeAppOptions {
	return func(cfg *bridgeAppConfig) error {
		cfg.persistence = p
		return nil
	}
}

// WithTelemetry allows injecting already initialized telemetry providers
func WithTelemetry(t *telemetry.Telemetry) BridgeAppOptions {
	return func(cfg *bridgeAppConfig) error {
		cfg.telemetry = t
		return nil
	}
}

func (b *bridgeAppConfig) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			slog.Warn("Failed to release resource", "error", err)
		}
	}
	b.closers = nil
}

// buildTelemetry initializes the OpenTelemetry providers unless injected
func buildTelemetry(ctx context.Context, b *bridgeAppConfig) error {
	if b.telemetry != nil {
		return nil
	}

	tel, err := telemetry.New(ctx, b.config.Telemetry)
	if err != nil {
		return err
	}
	b.telemetry = tel
	b.closers = append(b.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tel.Shutdown(shutdownCtx)
	})
	return nil
}

// buildExecutor builds the os/exec runner pinned to the joplin profile
func buildExecutor(b *bridgeAppConfig) (runner.Executor, error) {
	if b.executor != nil {
		return b.executor, nil
	}

	commandMetrics, err := telemetry.NewCommandMetrics(b.telemetry.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create command metrics: %w", err)
	}

	joplinCfg := b.config.Joplin
	opts := []runner.Option{
		runner.WithBinary(joplinCfg.Binary),
		runner.WithWorkDir(joplinCfg.WorkDir),
		runner.WithEnv(b.config.CommandEnv()),
		runner.WithDefaultTimeout(b.config.GetCommandTimeout()),
		runner.WithCommandMetrics(commandMetrics),
	}
	if joplinCfg.MaxOutputBytes > 0 {
		opts = append(opts, runner.WithMaxOutput(joplinCfg.MaxOutputBytes))
	}

	slog.Info("Command runner configured",
		"binary", joplinCfg.Binary,
		"work_dir", joplinCfg.WorkDir,
		"profile", joplinCfg.Profile)
	return runner.New(opts...), nil
}

// buildStatusStore creates the status store and restores the persisted record, if enabled
func buildStatusStore(ctx context.Context, b *bridgeAppConfig) (*status.Store, error) {
	if b.persistence == nil && b.config.Status.Persist {
		path := b.config.Status.Path
		if path == "" {
			path = status.DefaultStatusPath()
		}

		fp, err := status.OpenFilePersistence(path)
		if err != nil {
			if errors.Is(err, status.ErrLocked) {
				return nil, fmt.Errorf("another bridge instance owns %s: %w", path, err)
			}
			return nil, err
		}
		b.persistence = fp
		b.closers = append(b.closers, fp.Close)
		slog.Info("Sync status persistence enabled", "path", fp.Path())
	}

	var opts []status.StoreOption
	if b.persistence != nil {
		opts = append(opts, status.WithPersistence(b.persistence))
	}

	store := status.NewStore(opts...)
	if err := store.Restore(ctx); err != nil {
		return nil, fmt.Errorf("failed to restore sync status: %w", err)
	}
	return store, nil
}

// buildSyncCoordinator builds the coordinator with metrics and tracing
func buildSyncCoordinator(
	b *bridgeAppConfig,
	executor runner.Executor,
	store *status.Store,
) (coordinator.Coordinator, error) {
	if b.coordinator != nil {
		return b.coordinator, nil
	}

	slog.Info("Initializing sync coordinator")

	coordOpts := []coordinator.Option{
		coordinator.WithSyncTimeout(b.config.GetSyncTimeout()),
		coordinator.WithInterval(b.config.GetSyncInterval()),
		coordinator.WithTracerProvider(b.telemetry.TracerProvider()),
	}

	syncMetrics, err := telemetry.NewSyncMetrics(b.telemetry.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create sync metrics: %w", err)
	}
	if syncMetrics != nil {
		coordOpts = append(coordOpts, coordinator.WithSyncMetrics(syncMetrics))
	}

	return coordinator.New(executor, store, coordOpts...), nil
}

// buildHTTPServer builds the HTTP server with router and middleware
//
//nolint:unparam // we prefer having a similar interface
func buildHTTPServer(
	_ context.Context,
	b *bridgeAppConfig,
	coord coordinator.Coordinator,
	client joplin.Client,
) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	if b.middlewares == nil {
		b.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			api.LoggingMiddleware,
		}
	}

	serverOpts := []api.ServerOption{
		api.WithRoutesOptions(
			v0.WithAddonVersion(b.config.GetAddonVersion()),
			v0.WithDataAPIPort(b.config.Joplin.DataAPIPort),
			v0.WithRequestTimeout(b.config.GetRequestTimeout()),
		),
	}

	if b.telemetry != nil {
		// The observer goes first so it sees every request, including recovered panics
		observer, err := telemetry.NewHTTPObserver(b.telemetry.TracerProvider(), b.telemetry.MeterProvider())
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP observer: %w", err)
		}
		b.middlewares = append([]func(http.Handler) http.Handler{observer.Middleware}, b.middlewares...)

		if h := b.telemetry.MetricsHandler(); h != nil {
			serverOpts = append(serverOpts, api.WithMetricsHandler(h))
			slog.Info("Prometheus metrics endpoint enabled", "path", "/metrics")
		}
	}

	serverOpts = append(serverOpts, api.WithMiddlewares(b.middlewares...))
	router := api.NewServer(coord, client, serverOpts...)

	server := &http.Server{
		Addr:         b.address,
		Handler:      router,
		ReadTimeout:  b.readTimeout,
		WriteTimeout: writeTimeout(b.config),
		IdleTimeout:  b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}

// writeTimeout outlasts both the longest foreground sync and the per-request timeout
func writeTimeout(cfg *config.Config) time.Duration {
	return max(cfg.GetSyncTimeout(), cfg.GetRequestTimeout()) + writeTimeoutMargin
}
