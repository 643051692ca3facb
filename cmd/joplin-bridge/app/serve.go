package app

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	bridgeapp "github.com/stacklok/joplin-bridge/internal/app"
	"github.com/stacklok/joplin-bridge/internal/config"
	"github.com/stacklok/joplin-bridge/internal/versions"
)

const (
	flagConfig        = "config"
	flagAddress       = "address"
	flagBinary        = "binary"
	flagProfile       = "profile"
	flagSyncInterval  = "sync-interval"
	flagPersistStatus = "persist-status"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the bridge HTTP server",
		Long: `Start the bridge HTTP server on the loopback interface.

Every setting has a default, so no configuration file is required. A YAML file
(--config) overrides the defaults, and flags or JOPLIN_BRIDGE_* environment
variables override the file.`,
		RunE: runServe,
	}

	flags := cmd.Flags()
	flags.String(flagConfig, "", "Path to configuration file (YAML format)")
	flags.String(flagAddress, config.DefaultAddress, "Address to listen on")
	flags.String(flagBinary, config.DefaultBinary, "joplin CLI executable")
	flags.String(flagProfile, config.DefaultProfileDir, "joplin profile directory")
	flags.String(flagSyncInterval, "", "Run a sync periodically (e.g. 30m); disabled when empty")
	flags.Bool(flagPersistStatus, false, "Persist the sync status across restarts")

	flags.VisitAll(func(f *pflag.Flag) {
		if err := viper.BindPFlag(f.Name, f); err != nil {
			slog.Error("Failed to bind flag", "flag", f.Name, "error", err)
		}
	})

	return cmd
}

// loadConfig reads the optional file and applies flag and environment overrides.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	var opts []config.Option
	if path := v.GetString(flagConfig); path != "" {
		opts = append(opts, config.WithConfigPath(path))
	}

	cfg, err := config.LoadConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Only values that were given explicitly beat the file
	if isSet(v, flagAddress) {
		cfg.Server.Address = v.GetString(flagAddress)
	}
	if isSet(v, flagBinary) {
		cfg.Joplin.Binary = v.GetString(flagBinary)
	}
	if isSet(v, flagProfile) {
		cfg.Joplin.Profile = v.GetString(flagProfile)
	}
	if isSet(v, flagSyncInterval) {
		cfg.Sync.Interval = v.GetString(flagSyncInterval)
	}
	if isSet(v, flagPersistStatus) {
		cfg.Status.Persist = v.GetBool(flagPersistStatus)
	}

	if cfg.Telemetry != nil && cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = versions.Version
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// isSet reports whether key came from a changed flag or the environment.
// Flag defaults do not count, so they never override the file.
func isSet(v *viper.Viper, key string) bool {
	return v.IsSet(key)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}

	slog.Info("Starting joplin bridge",
		"version", versions.Version,
		"address", cfg.Server.Address,
		"binary", cfg.Joplin.Binary)

	app, err := bridgeapp.NewBridgeApp(ctx, bridgeapp.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- app.Start()
	}()

	select {
	case err := <-errChan:
		// The listener failed; release what was started before returning
		if stopErr := app.Stop(cfg.GetShutdownTimeout()); stopErr != nil {
			slog.Warn("Shutdown after server failure was incomplete", "error", stopErr)
		}
		return err
	case <-ctx.Done():
	}

	if err := app.Stop(cfg.GetShutdownTimeout()); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errChan
}
