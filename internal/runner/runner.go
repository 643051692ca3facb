// Package runner provides safe execution of joplin CLI subcommands with input
// validation, a pinned environment, bounded timeouts and output size limits.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/joplin-bridge/internal/telemetry"
)

//go:generate mockgen -destination=mocks/mock_executor.go -package=mocks -source=runner.go Executor

const (
	// DefaultBinary is the CLI every subcommand is dispatched to
	DefaultBinary = "joplin"

	// DefaultTimeout applies to specs that don't carry their own timeout
	DefaultTimeout = 120 * time.Second

	// DefaultMaxOutput caps each captured stream
	DefaultMaxOutput = 1 << 20 // 1 MB

	// waitDelay bounds how long we wait for output pipes once the process has been killed.
	// Grandchildren that inherited the pipes would otherwise keep Wait blocked.
	waitDelay = 2 * time.Second
)

// Executor runs a single CLI invocation. Implementations never return an error
// or panic; every failure mode is reported through the Result.
type Executor interface {
	Execute(ctx context.Context, spec Spec) *Result
}

// Runner is the os/exec backed Executor.
type Runner struct {
	binary         string
	workDir        string
	env            map[string]string
	defaultTimeout time.Duration
	maxOutput      int
	metrics        *telemetry.CommandMetrics
}

// Option configures a Runner
type Option func(*Runner)

// WithBinary sets the executable that receives the subcommand
func WithBinary(binary string) Option {
	return func(r *Runner) {
		r.binary = binary
	}
}

// WithWorkDir sets the fixed working directory of every spawned process
func WithWorkDir(dir string) Option {
	return func(r *Runner) {
		r.workDir = dir
	}
}

// WithEnv pins environment variables on top of the inherited process environment
func WithEnv(env map[string]string) Option {
	return func(r *Runner) {
		r.env = maps.Clone(env)
	}
}

// WithDefaultTimeout sets the timeout used when a spec carries none
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(r *Runner) {
		r.defaultTimeout = timeout
	}
}

// WithMaxOutput sets the per-stream capture limit in bytes
func WithMaxOutput(limit int) Option {
	return func(r *Runner) {
		r.maxOutput = limit
	}
}

// WithCommandMetrics records per-command duration and outcome
func WithCommandMetrics(metrics *telemetry.CommandMetrics) Option {
	return func(r *Runner) {
		r.metrics = metrics
	}
}

// New creates a Runner with defaults applied before the options.
func New(opts ...Option) *Runner {
	r := &Runner{
		binary:         DefaultBinary,
		defaultTimeout: DefaultTimeout,
		maxOutput:      DefaultMaxOutput,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute validates spec, runs it and returns a normalized result.
// Exactly one process is spawned per valid call; nothing is retried.
func (r *Runner) Execute(ctx context.Context, spec Spec) (result *Result) {
	runID := uuid.New().String()
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			slog.Error("Command runner panicked", "run_id", runID, "command", spec.Name, "panic", p)
			result = failedResult(runID, spec.Name, fmt.Sprint(p), fmt.Errorf("%w: %v", ErrInternal, p))
		}
		result.Duration = time.Since(start)
		r.metrics.RecordCommand(ctx, result.Command, result.Duration, result.Success)
	}()

	if err := spec.Validate(); err != nil {
		slog.Warn("Rejected command", "run_id", runID, "command", spec.Name, "error", err)
		return failedResult(runID, spec.Name, "Security error: "+err.Error(), err)
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}

	return r.run(ctx, runID, spec, timeout)
}

func (r *Runner) run(ctx context.Context, runID string, spec Spec, timeout time.Duration) *Result {
	ctx, cancel := context.WithTimeoutCause(ctx, timeout, errRunTimeout)
	defer cancel()

	argv := append([]string{spec.Name}, spec.Args...)
	cmd := exec.CommandContext(ctx, r.binary, argv...)
	cmd.Dir = r.workDir
	cmd.Env = r.environ()
	cmd.WaitDelay = waitDelay
	configureProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	stdoutW := &limitWriter{buf: &stdout, limit: r.maxOutput}
	stderrW := &limitWriter{buf: &stderr, limit: r.maxOutput}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	slog.Debug("Executing command", "run_id", runID, "command", spec.String(), "timeout", timeout)

	runErr := cmd.Run()

	result := &Result{
		RunID:     runID,
		Command:   spec.Name,
		Stdout:    strings.TrimSpace(stdout.String()),
		Stderr:    strings.TrimSpace(stderr.String()),
		Truncated: stdoutW.truncated || stderrW.truncated,
	}

	if runErr == nil {
		result.Success = true
		return result
	}

	// The context check has to come first: a killed process also surfaces as an ExitError.
	// Only our own deadline is a timeout; a caller's deadline or cancel is a cancellation.
	switch {
	case errors.Is(context.Cause(ctx), errRunTimeout):
		slog.Warn("Command timed out", "run_id", runID, "command", spec.Name, "timeout", timeout)
		result.ExitCode = -1
		result.Stderr = fmt.Sprintf("Command timed out after %s seconds", formatSeconds(timeout))
		result.Err = fmt.Errorf("%w after %s", ErrTimeout, timeout)
		return result
	case ctx.Err() != nil:
		result.ExitCode = -1
		result.Stderr = "Command canceled: " + ctx.Err().Error()
		result.Err = fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
		return result
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		result.Err = fmt.Errorf("%w: %s exited with code %d", ErrProcess, spec.Name, result.ExitCode)
		slog.Debug("Command failed", "run_id", runID, "command", spec.Name, "exit_code", result.ExitCode)
		return result
	}

	// Binary not found, bad working directory or other exec error.
	slog.Error("Command could not be started", "run_id", runID, "command", spec.Name, "error", runErr)
	result.ExitCode = -1
	if result.Stderr == "" {
		result.Stderr = runErr.Error()
	}
	result.Err = fmt.Errorf("%w: %w", ErrStart, runErr)
	return result
}

// environ returns the inherited environment with the pinned variables overriding it.
func (r *Runner) environ() []string {
	env := make([]string, 0, len(os.Environ())+len(r.env))
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if _, pinned := r.env[key]; pinned {
			continue
		}
		env = append(env, kv)
	}
	for _, key := range slices.Sorted(maps.Keys(r.env)) {
		env = append(env, key+"="+r.env[key])
	}
	return env
}

// formatSeconds renders 300s as "300" and 250ms as "0.25".
func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

// limitWriter writes up to limit bytes to buf, then silently discards the rest.
// truncated is set once a byte has actually been discarded.
type limitWriter struct {
	buf       *bytes.Buffer
	limit     int
	truncated bool
}

func (w *limitWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if len(p) > remaining {
		w.truncated = true
		// Write only what fits, but report all bytes as consumed
		// to avoid short write errors from io.Copy.
		if remaining > 0 {
			w.buf.Write(p[:remaining])
		}
		return len(p), nil
	}
	return w.buf.Write(p)
}
