// Package config provides configuration loading and validation for the joplin bridge.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/joplin-bridge/internal/telemetry"
)

const (
	// DefaultBinary is the joplin CLI executable
	DefaultBinary = "joplin"

	// DefaultDataDir is the working directory and HOME of every CLI invocation
	DefaultDataDir = "/data/joplin"

	// DefaultProfileDir is the joplin profile used by the CLI
	DefaultProfileDir = "/data/joplin/.config/joplin"

	// DefaultAddress is the loopback listener of the bridge
	DefaultAddress = "127.0.0.1:41186"

	// DefaultDataAPIPort is the port of joplin's own data API, advertised to clients
	DefaultDataAPIPort = 41185

	// DefaultAddonVersion is reported by /health and /info
	DefaultAddonVersion = "1.0.0"

	defaultCommandTimeout  = "120s"
	defaultSyncTimeout     = "300s"
	defaultRequestTimeout  = "150s"
	defaultShutdownTimeout = "30s"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		// Validate the path to prevent path traversal attacks
		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Joplin    JoplinConfig      `yaml:"joplin"`
	Server    ServerConfig      `yaml:"server"`
	Sync      SyncConfig        `yaml:"sync"`
	Status    StatusConfig      `yaml:"status"`
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`

	// AddonVersion is reported to clients; defaults to "1.0.0"
	AddonVersion string `yaml:"addonVersion,omitempty"`
}

// JoplinConfig describes how the CLI is invoked
type JoplinConfig struct {
	Binary string `yaml:"binary"`

	// WorkDir is the fixed working directory of every invocation
	WorkDir string `yaml:"workDir"`

	// Home and Profile pin HOME and JOPLIN_PROFILE
	Home    string `yaml:"home"`
	Profile string `yaml:"profile"`

	// CommandTimeout bounds informational subcommands (config, status, version)
	CommandTimeout string `yaml:"commandTimeout"`

	// MaxOutputBytes caps each captured stream
	MaxOutputBytes int `yaml:"maxOutputBytes,omitempty"`

	// DataAPIPort is advertised as joplin_data_api_url
	DataAPIPort int `yaml:"dataApiPort"`
}

// ServerConfig defines the HTTP listener
type ServerConfig struct {
	Address string `yaml:"address"`

	// AllowNonLoopback permits binding outside the loopback interface
	AllowNonLoopback bool `yaml:"allowNonLoopback,omitempty"`

	// RequestTimeout applies to every route except POST /sync
	RequestTimeout string `yaml:"requestTimeout"`

	// ShutdownTimeout bounds the drain of requests and of an in-flight background sync
	ShutdownTimeout string `yaml:"shutdownTimeout"`
}

// SyncConfig defines sync execution
type SyncConfig struct {
	Timeout string `yaml:"timeout"`

	// Interval enables a periodic sync when non-empty (e.g. "30m")
	Interval string `yaml:"interval,omitempty"`
}

// StatusConfig defines optional persistence of the sync status
type StatusConfig struct {
	Persist bool `yaml:"persist,omitempty"`

	// Path defaults to $XDG_STATE_HOME/joplin-bridge/status.json
	Path string `yaml:"path,omitempty"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Joplin: JoplinConfig{
			Binary:         DefaultBinary,
			WorkDir:        DefaultDataDir,
			Home:           DefaultDataDir,
			Profile:        DefaultProfileDir,
			CommandTimeout: defaultCommandTimeout,
			DataAPIPort:    DefaultDataAPIPort,
		},
		Server: ServerConfig{
			Address:         DefaultAddress,
			RequestTimeout:  defaultRequestTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Sync: SyncConfig{
			Timeout: defaultSyncTimeout,
		},
		AddonVersion: DefaultAddonVersion,
	}
}

// LoadConfig returns the defaults overlaid with the YAML file, if one is given
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	config := Default()

	if loaderCfg.path != "" {
		// Read the entire file into memory
		data, err := os.ReadFile(loaderCfg.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Keys missing from the file keep their defaults
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate checks the whole configuration and reports every problem found
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	var errs []error

	if c.Joplin.Binary == "" {
		errs = append(errs, errors.New("joplin.binary is required"))
	}
	if c.Joplin.DataAPIPort < 1 || c.Joplin.DataAPIPort > 65535 {
		errs = append(errs, fmt.Errorf("joplin.dataApiPort must be between 1 and 65535, got %d", c.Joplin.DataAPIPort))
	}
	if c.Joplin.MaxOutputBytes < 0 {
		errs = append(errs, fmt.Errorf("joplin.maxOutputBytes must not be negative"))
	}

	errs = append(errs,
		validatePositiveDuration("joplin.commandTimeout", c.Joplin.CommandTimeout),
		validatePositiveDuration("sync.timeout", c.Sync.Timeout),
		validatePositiveDuration("server.requestTimeout", c.Server.RequestTimeout),
		validatePositiveDuration("server.shutdownTimeout", c.Server.ShutdownTimeout),
		c.Server.validateAddress(),
	)

	if c.Sync.Interval != "" {
		errs = append(errs, validatePositiveDuration("sync.interval", c.Sync.Interval))
	}

	errs = append(errs, c.Telemetry.Validate())

	return errors.Join(errs...)
}

func (s *ServerConfig) validateAddress() error {
	host, port, err := net.SplitHostPort(s.Address)
	if err != nil {
		return fmt.Errorf("server.address %q: %w", s.Address, err)
	}
	if port == "" {
		return fmt.Errorf("server.address %q: port is required", s.Address)
	}
	if s.AllowNonLoopback || isLoopback(host) {
		return nil
	}
	return fmt.Errorf("server.address %q is not a loopback address; set server.allowNonLoopback to bind it", s.Address)
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func validatePositiveDuration(field, value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", field, value)
	}
	return nil
}

// mustDuration parses a duration that Validate has already accepted
func mustDuration(value string) time.Duration {
	d, _ := time.ParseDuration(value)
	return d
}

// GetCommandTimeout returns joplin.commandTimeout
func (c *Config) GetCommandTimeout() time.Duration {
	return mustDuration(c.Joplin.CommandTimeout)
}

// GetSyncTimeout returns sync.timeout
func (c *Config) GetSyncTimeout() time.Duration {
	return mustDuration(c.Sync.Timeout)
}

// GetSyncInterval returns sync.interval, zero when periodic sync is disabled
func (c *Config) GetSyncInterval() time.Duration {
	if c.Sync.Interval == "" {
		return 0
	}
	return mustDuration(c.Sync.Interval)
}

// GetRequestTimeout returns server.requestTimeout
func (c *Config) GetRequestTimeout() time.Duration {
	return mustDuration(c.Server.RequestTimeout)
}

// GetShutdownTimeout returns server.shutdownTimeout
func (c *Config) GetShutdownTimeout() time.Duration {
	return mustDuration(c.Server.ShutdownTimeout)
}

// GetAddonVersion returns the addon version, using "1.0.0" if not specified
func (c *Config) GetAddonVersion() string {
	if c.AddonVersion == "" {
		return DefaultAddonVersion
	}
	return c.AddonVersion
}

// CommandEnv returns the environment variables pinned on every CLI invocation
func (c *Config) CommandEnv() map[string]string {
	return map[string]string{
		"HOME":           c.Joplin.Home,
		"JOPLIN_PROFILE": c.Joplin.Profile,
	}
}
