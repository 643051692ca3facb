// Package joplin wraps the joplin CLI subcommands the bridge relies on and
// parses their output.
package joplin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/joplin-bridge/internal/otel"
	"github.com/stacklok/joplin-bridge/internal/runner"
)

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks -source=client.go Client

const (
	// DefaultCommandTimeout bounds the short informational subcommands
	DefaultCommandTimeout = 120 * time.Second

	// TokenKey is the config key holding the data API token
	TokenKey = "api.token"

	// SyncTargetKey is the config key holding the sync target id
	SyncTargetKey = "sync.target"

	// TracerName is the instrumentation scope of CLI spans
	TracerName = "github.com/stacklok/joplin-bridge/joplin"
)

// ErrParse means the CLI answered, but not in the expected shape
var ErrParse = errors.New("could not parse output")

// CommandError reports a subcommand that did not succeed
type CommandError struct {
	// Message is the CLI's stderr, or a generic message when it printed nothing
	Message string
	Result  *runner.Result
}

func (e *CommandError) Error() string {
	return e.Message
}

func (e *CommandError) Unwrap() error {
	if e.Result == nil {
		return nil
	}
	return e.Result.Err
}

// Client is the set of joplin operations used by the HTTP surface
type Client interface {
	// Token returns the data API token
	Token(ctx context.Context) (string, error)

	// ConfigValue returns the value of a single config key
	ConfigValue(ctx context.Context, key string) (string, error)

	// Status returns the raw output of `joplin status`
	Status(ctx context.Context) (string, error)

	// Version returns the CLI version
	Version(ctx context.Context) (*semver.Version, error)
}

type cliClient struct {
	executor runner.Executor
	timeout  time.Duration
	tracer   trace.Tracer
}

// ClientOption configures the CLI client
type ClientOption func(*cliClient)

// WithCommandTimeout overrides DefaultCommandTimeout
func WithCommandTimeout(timeout time.Duration) ClientOption {
	return func(c *cliClient) {
		c.timeout = timeout
	}
}

// WithTracerProvider records a span per subcommand
func WithTracerProvider(provider trace.TracerProvider) ClientOption {
	return func(c *cliClient) {
		if provider != nil {
			c.tracer = provider.Tracer(TracerName)
		}
	}
}

// NewClient returns a Client that runs every operation through executor
func NewClient(executor runner.Executor, opts ...ClientOption) Client {
	c := &cliClient{
		executor: executor,
		timeout:  DefaultCommandTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *cliClient) Token(ctx context.Context) (string, error) {
	return c.configValue(ctx, TokenKey, "Failed to get token")
}

func (c *cliClient) ConfigValue(ctx context.Context, key string) (string, error) {
	return c.configValue(ctx, key, fmt.Sprintf("Failed to get %s", key))
}

func (c *cliClient) configValue(ctx context.Context, key, fallback string) (string, error) {
	result, err := c.run(ctx, "config", fallback, key)
	if err != nil {
		return "", err
	}
	_, value, err := ParseKeyValue(result.Stdout)
	if err != nil {
		return "", fmt.Errorf("config %s: %w", key, err)
	}
	return value, nil
}

func (c *cliClient) Status(ctx context.Context) (string, error) {
	result, err := c.run(ctx, "status", "Failed to get status")
	if err != nil {
		return "", err
	}
	return result.Stdout, nil
}

func (c *cliClient) Version(ctx context.Context) (*semver.Version, error) {
	result, err := c.run(ctx, "version", "Failed to get version")
	if err != nil {
		return nil, err
	}
	return ParseVersion(result.Stdout)
}

func (c *cliClient) run(ctx context.Context, name, fallback string, args ...string) (_ *runner.Result, err error) {
	ctx, span := otel.StartSpan(ctx, c.tracer, "joplin."+name,
		trace.WithAttributes(otel.AttrCommand.String(name)),
	)
	defer func() {
		otel.RecordError(span, err)
		span.End()
	}()
	if name == "config" && len(args) > 0 {
		span.SetAttributes(otel.AttrConfigKey.String(args[0]))
	}

	result := c.executor.Execute(ctx, runner.Spec{Name: name, Args: args, Timeout: c.timeout})
	span.SetAttributes(otel.AttrRunID.String(result.RunID), otel.AttrExitCode.Int(result.ExitCode))
	if result.Success {
		return result, nil
	}
	msg := result.Stderr
	if msg == "" {
		msg = fallback
	}
	return nil, &CommandError{Message: msg, Result: result}
}

// ParseKeyValue splits a `key = value` line at its first "=" and trims both sides.
func ParseKeyValue(line string) (key, value string, err error) {
	key, value, found := strings.Cut(line, "=")
	if !found {
		return "", "", fmt.Errorf("%w: no \"=\" in %q", ErrParse, line)
	}
	return strings.TrimSpace(key), strings.TrimSpace(value), nil
}

// ParseVersion returns the first dotted semantic version in the output of `joplin version`,
// e.g. "joplin 2.14.2 (prod, linux)".
func ParseVersion(output string) (*semver.Version, error) {
	for _, field := range strings.Fields(output) {
		field = strings.Trim(field, "(),")
		if !strings.Contains(field, ".") {
			continue
		}
		if v, err := semver.NewVersion(field); err == nil {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: no version in %q", ErrParse, output)
}
