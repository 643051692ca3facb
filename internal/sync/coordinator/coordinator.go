package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/ptr"

	bridgeotel "github.com/stacklok/joplin-bridge/internal/otel"
	"github.com/stacklok/joplin-bridge/internal/runner"
	"github.com/stacklok/joplin-bridge/internal/status"
	"github.com/stacklok/joplin-bridge/internal/telemetry"
)

//go:generate mockgen -destination=mocks/mock_coordinator.go -package=mocks -source=coordinator.go Coordinator

// TracerName is the instrumentation scope of sync spans
const TracerName = "github.com/stacklok/joplin-bridge/sync"

const (
	modeForeground = "foreground"
	modeBackground = "background"
)

// Coordinator serializes sync attempts and owns their lifecycle
type Coordinator interface {
	// TriggerSync starts a sync unless one is already running.
	// With background set it returns as soon as the sync is scheduled.
	TriggerSync(ctx context.Context, background bool) *Outcome

	// Status returns a snapshot of the sync status
	Status() status.SyncStatus

	// Start runs the periodic sync loop, if configured, and blocks until ctx is cancelled
	Start(ctx context.Context) error

	// Stop ends the loop and waits for an in-flight background sync, bounded by ctx
	Stop(ctx context.Context) error
}

// defaultCoordinator is the default implementation of Coordinator
type defaultCoordinator struct {
	executor    runner.Executor
	store       *status.Store
	syncTimeout time.Duration
	interval    time.Duration

	// workers tracks background syncs for Stop. TryBegin is the only gate:
	// a worker may still be logging after Complete, so the group is unbounded.
	workers *errgroup.Group

	// Lifecycle management
	mu         sync.Mutex
	cancelFunc context.CancelFunc
	done       chan struct{}

	syncMetrics *telemetry.SyncMetrics
	tracer      trace.Tracer
}

// Option is a function that configures the coordinator
type Option func(*defaultCoordinator)

// WithSyncTimeout overrides DefaultSyncTimeout
func WithSyncTimeout(timeout time.Duration) Option {
	return func(c *defaultCoordinator) {
		c.syncTimeout = timeout
	}
}

// WithInterval enables the periodic sync loop. Zero disables it.
func WithInterval(interval time.Duration) Option {
	return func(c *defaultCoordinator) {
		c.interval = interval
	}
}

// WithSyncMetrics sets the sync metrics for the coordinator
func WithSyncMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(c *defaultCoordinator) {
		c.syncMetrics = metrics
	}
}

// WithTracerProvider sets the provider of sync spans. The global provider is used otherwise.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(c *defaultCoordinator) {
		if provider != nil {
			c.tracer = provider.Tracer(TracerName)
		}
	}
}

// New creates a new coordinator with injected dependencies
func New(executor runner.Executor, store *status.Store, opts ...Option) Coordinator {
	c := &defaultCoordinator{
		executor:    executor,
		store:       store,
		syncTimeout: DefaultSyncTimeout,
		workers:     &errgroup.Group{},
		tracer:      otel.Tracer(TracerName),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Status returns a deep copy of the current sync status
func (c *defaultCoordinator) Status() status.SyncStatus {
	return c.store.Snapshot()
}

// TriggerSync implements Coordinator
func (c *defaultCoordinator) TriggerSync(ctx context.Context, background bool) *Outcome {
	snapshot, began := c.store.TryBegin()
	if !began {
		slog.Info("Sync already in progress, rejecting trigger", "background", background)
		c.syncMetrics.RecordTrigger(ctx, string(OutcomeConflict))
		return &Outcome{Kind: OutcomeConflict, Status: snapshot}
	}

	// The sync must outlive the request that triggered it.
	syncCtx := context.WithoutCancel(ctx)

	if background {
		c.workers.Go(func() error {
			c.runSync(syncCtx, modeBackground)
			return nil
		})
		slog.Info("Background sync started")
		c.syncMetrics.RecordTrigger(ctx, string(OutcomeAccepted))
		return &Outcome{Kind: OutcomeAccepted, Status: snapshot}
	}

	result, final := c.runSync(syncCtx, modeForeground)
	c.syncMetrics.RecordTrigger(ctx, string(OutcomeCompleted))
	return &Outcome{Kind: OutcomeCompleted, Status: final, Result: result}
}

// runSync executes the sync command for an attempt that already went through
// TryBegin and completes the status exactly once, whatever happens.
func (c *defaultCoordinator) runSync(ctx context.Context, mode string) (result *runner.Result, final status.SyncStatus) {
	start := time.Now()
	c.syncMetrics.SyncStarted(ctx)

	ctx, span := bridgeotel.StartSpan(ctx, c.tracer, "joplin.sync",
		trace.WithAttributes(bridgeotel.AttrSyncMode.String(mode)),
	)
	defer span.End()

	// Set up the final status update in a defer block so that a panicking
	// executor can't leave the status running.
	defer func() {
		if p := recover(); p != nil {
			slog.Error("Sync panicked", "mode", mode, "panic", p)
			msg := fmt.Sprintf("Unexpected failure while syncing: %v", p)
			result = &runner.Result{
				Command:  syncCommand,
				Stderr:   msg,
				ExitCode: -1,
				Err:      fmt.Errorf("%w: %v", runner.ErrInternal, p),
			}
		}

		var errText *string
		if !result.Success {
			errText = ptr.To(result.ErrorText())
			span.SetStatus(codes.Error, *errText)
		}
		span.SetAttributes(bridgeotel.AttrSyncResult.Bool(result.Success))
		final = c.store.Complete(result.Stdout, errText)

		duration := time.Since(start)
		c.syncMetrics.SyncFinished(ctx, mode, duration, result.Success)
		if result.Success {
			slog.Info("Sync completed successfully", "mode", mode, "duration", duration, "run_id", result.RunID)
		} else {
			slog.Error("Sync failed", "mode", mode, "duration", duration, "run_id", result.RunID,
				"exit_code", result.ExitCode, "error", result.Err)
		}
	}()

	slog.Info("Starting sync operation", "mode", mode)

	result = c.executor.Execute(ctx, runner.Spec{Name: syncCommand, Timeout: c.syncTimeout})
	if result == nil {
		panic("executor returned no result")
	}
	span.SetAttributes(
		bridgeotel.AttrRunID.String(result.RunID),
		bridgeotel.AttrExitCode.Int(result.ExitCode),
	)
	return result, final
}

// Start runs the periodic sync loop until ctx is cancelled or Stop is called.
func (c *defaultCoordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.cancelFunc != nil {
		c.mu.Unlock()
		return errors.New("coordinator already started")
	}
	coordCtx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	defer func() {
		close(done)
		slog.Info("Sync coordinator shutting down")
	}()

	if c.interval <= 0 {
		slog.Info("Periodic sync disabled")
		<-coordCtx.Done()
		return nil
	}

	interval := jitteredInterval(c.interval)
	slog.Info("Configured periodic sync",
		"base_interval", c.interval,
		"actual_interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			outcome := c.TriggerSync(coordCtx, false)
			if outcome.Kind == OutcomeConflict {
				slog.Debug("Skipping periodic sync, another sync is running")
			}
			// Recalculate interval with new jitter for next iteration
			ticker.Reset(jitteredInterval(c.interval))
		case <-coordCtx.Done():
			slog.Info("Sync coordinator stopping")
			return nil
		}
	}
}

// Stop implements Coordinator
func (c *defaultCoordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancelFunc, c.done
	c.mu.Unlock()

	if cancel != nil {
		slog.Info("Stopping sync coordinator")
		cancel()
		if err := awaitClosed(ctx, done); err != nil {
			return fmt.Errorf("waiting for sync loop: %w", err)
		}
	}

	waited := make(chan struct{})
	go func() {
		_ = c.workers.Wait()
		close(waited)
	}()

	if err := awaitClosed(ctx, waited); err != nil {
		slog.Warn("Background sync still running at shutdown")
		return fmt.Errorf("waiting for background sync: %w", err)
	}
	return nil
}

// awaitClosed waits for ch to close or ctx to end. A closed ch wins even when
// ctx is already done, so an expired deadline with nothing to wait for is not an error.
func awaitClosed(ctx context.Context, ch <-chan struct{}) error {
	select {
	case <-ch:
		return nil
	default:
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		// Both may be ready at once; select picks randomly.
		select {
		case <-ch:
			return nil
		default:
			return ctx.Err()
		}
	}
}
