package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SyncMetricsMeterName is the name used for the sync metrics meter
	SyncMetricsMeterName = "github.com/stacklok/joplin-bridge/sync"

	// CommandMetricsMeterName is the name used for the CLI command metrics meter
	CommandMetricsMeterName = "github.com/stacklok/joplin-bridge/command"
)

// SyncMetrics holds the instruments describing sync triggers and executions
type SyncMetrics struct {
	syncDuration metric.Float64Histogram
	triggers     metric.Int64Counter
	running      metric.Int64UpDownCounter
}

// NewSyncMetrics creates sync instruments on provider. A nil provider yields nil (no-op) metrics.
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	syncDuration, err := meter.Float64Histogram(
		"joplin_bridge_sync_duration_seconds",
		metric.WithDescription("Duration of joplin sync executions in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	triggers, err := meter.Int64Counter(
		"joplin_bridge_sync_triggers_total",
		metric.WithDescription("Sync triggers by outcome (accepted, completed, conflict)"),
		metric.WithUnit("{trigger}"),
	)
	if err != nil {
		return nil, err
	}

	running, err := meter.Int64UpDownCounter(
		"joplin_bridge_sync_running",
		metric.WithDescription("Number of sync executions in flight (0 or 1)"),
		metric.WithUnit("{sync}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		syncDuration: syncDuration,
		triggers:     triggers,
		running:      running,
	}, nil
}

// RecordTrigger counts a trigger with its outcome kind
func (m *SyncMetrics) RecordTrigger(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.triggers.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// SyncStarted marks a sync execution as in flight
func (m *SyncMetrics) SyncStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.running.Add(ctx, 1)
}

// SyncFinished records the duration of a finished sync and clears the in-flight marker
func (m *SyncMetrics) SyncFinished(ctx context.Context, mode string, duration time.Duration, success bool) {
	if m == nil {
		return
	}
	m.running.Add(ctx, -1)
	m.syncDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.Bool("success", success),
	))
}

// CommandMetrics holds the instruments describing joplin CLI invocations
type CommandMetrics struct {
	commandDuration metric.Float64Histogram
}

// NewCommandMetrics creates command instruments on provider. A nil provider yields nil (no-op) metrics.
func NewCommandMetrics(provider metric.MeterProvider) (*CommandMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	commandDuration, err := provider.Meter(CommandMetricsMeterName).Float64Histogram(
		"joplin_bridge_command_duration_seconds",
		metric.WithDescription("Duration of joplin CLI invocations in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	return &CommandMetrics{commandDuration: commandDuration}, nil
}

// RecordCommand records a single CLI invocation
func (m *CommandMetrics) RecordCommand(ctx context.Context, command string, duration time.Duration, success bool) {
	if m == nil {
		return
	}
	m.commandDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("command", command),
		attribute.Bool("success", success),
	))
}
