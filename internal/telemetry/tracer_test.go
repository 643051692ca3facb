package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestNewTracerProvider_NoOp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  *Config
	}{
		{name: "nil config", cfg: nil},
		{name: "telemetry disabled", cfg: &Config{Tracing: &TracingConfig{Enabled: true}}},
		{name: "no tracing section", cfg: &Config{Enabled: true}},
		{name: "tracing disabled", cfg: &Config{Enabled: true, Tracing: &TracingConfig{Enabled: false}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tp, err := newTracerProvider(context.Background(), tt.cfg)
			require.NoError(t, err)
			_, isNoop := tp.(noop.TracerProvider)
			assert.True(t, isNoop)
		})
	}
}

//nolint:paralleltest // registers the global tracer provider
func TestNewTracerProvider_SDK(t *testing.T) {
	cfg := &Config{
		Enabled:  true,
		Endpoint: "localhost:4318",
		Insecure: true,
		Tracing:  &TracingConfig{Enabled: true, Sampling: 0.5},
	}

	tp, err := newTracerProvider(context.Background(), cfg)
	require.NoError(t, err)

	sdkTP, ok := tp.(*sdktrace.TracerProvider)
	require.True(t, ok, "expected SDK tracer provider")
	_ = sdkTP.Shutdown(context.Background())
}

func TestNewResource(t *testing.T) {
	t.Parallel()

	res, err := newResource(context.Background(), &Config{ServiceName: "bridge-test", ServiceVersion: "9.9.9"})
	require.NoError(t, err)

	attrs := map[string]string{}
	for _, kv := range res.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "bridge-test", attrs["service.name"])
	assert.Equal(t, "9.9.9", attrs["service.version"])
}
