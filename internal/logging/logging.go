// Package logging builds the process-wide slog handler: a zap JSON core on
// stderr, bridged through logr, with OpenTelemetry trace correlation.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix is the prefix of every environment variable read by the bridge
const EnvPrefix = "JOPLIN_BRIDGE"

// LevelFromEnv parses JOPLIN_BRIDGE_LOG_LEVEL, falling back to LOG_LEVEL.
// Defaults to slog.LevelInfo if neither is set or if the value is invalid.
func LevelFromEnv() slog.Level {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	levelStr := v.GetString("LOG_LEVEL")
	if levelStr == "" {
		levelStr = os.Getenv("LOG_LEVEL")
	}

	level, ok := ParseLevel(levelStr)
	if !ok {
		slog.Warn("Invalid LOG_LEVEL, using INFO", "value", levelStr)
	}
	return level
}

// ParseLevel maps a level name to slog. Unknown names yield info and false.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// NewHandler returns a handler writing JSON through zap, and the function that
// flushes zap's buffers on exit.
func NewHandler(level slog.Level) (slog.Handler, func() error, error) {
	zapCfg := zap.NewProductionConfig()
	// logr turns slog debug into V(4), which zapr writes at zap level -4.
	zapCfg.Level = zap.NewAtomicLevelAt(zapcore.Level(min(int(level), 0)))
	zapCfg.Sampling = nil
	zapCfg.EncoderConfig.TimeKey = "time"
	zapCfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder

	zapLog, err := zapCfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build zap logger: %w", err)
	}

	return NewTraceHandler(logr.ToSlogHandler(zapr.NewLogger(zapLog)), level), zapLog.Sync, nil
}

// traceHandler wraps an slog.Handler to inject OpenTelemetry trace_id and
// span_id into every record. It also enforces the minimum level, since logr
// has no warn level and passes warnings through as info.
type traceHandler struct {
	slog.Handler
	level slog.Leveler
}

// NewTraceHandler wraps h with trace correlation and a minimum level
func NewTraceHandler(h slog.Handler, level slog.Leveler) slog.Handler {
	return &traceHandler{Handler: h, level: level}
}

func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level() && h.Handler.Enabled(ctx, level)
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		r.AddAttrs(
			slog.String("trace_id", span.SpanContext().TraceID().String()),
			slog.String("span_id", span.SpanContext().SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithAttrs(attrs), level: h.level}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithGroup(name), level: h.level}
}
