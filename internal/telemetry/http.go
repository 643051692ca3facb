package telemetry

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// HTTPInstrumentationName scopes the spans and instruments of the bridge API
	HTTPInstrumentationName = "github.com/stacklok/joplin-bridge/http"

	// UnmatchedRoute labels requests that reached no endpoint
	UnmatchedRoute = "unmatched"
)

// HTTPObserver traces and measures requests to the bridge API.
// A nil observer, or one without a provider, passes requests through.
type HTTPObserver struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator

	duration metric.Float64Histogram
	requests metric.Int64Counter
	inFlight metric.Int64UpDownCounter
}

// NewHTTPObserver creates the observer. Either provider may be nil.
func NewHTTPObserver(tracerProvider trace.TracerProvider, meterProvider metric.MeterProvider) (*HTTPObserver, error) {
	o := &HTTPObserver{propagator: otel.GetTextMapPropagator()}

	if tracerProvider != nil {
		o.tracer = tracerProvider.Tracer(HTTPInstrumentationName)
	}

	if meterProvider == nil {
		return o, nil
	}
	meter := meterProvider.Meter(HTTPInstrumentationName)

	var err error
	// Buckets reach the sync timeout, since POST /sync holds the request for the whole sync.
	o.duration, err = meter.Float64Histogram(
		"joplin_bridge_http_request_duration_seconds",
		metric.WithDescription("Duration of bridge API requests in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 300),
	)
	if err != nil {
		return nil, err
	}
	o.requests, err = meter.Int64Counter(
		"joplin_bridge_http_requests_total",
		metric.WithDescription("Bridge API requests by method, route and status code"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}
	o.inFlight, err = meter.Int64UpDownCounter(
		"joplin_bridge_http_active_requests",
		metric.WithDescription("Bridge API requests in flight"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return o, nil
}

// Middleware wraps next with a server span and request metrics.
func (o *HTTPObserver) Middleware(next http.Handler) http.Handler {
	if o == nil || (o.tracer == nil && o.requests == nil) {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The request context may be cancelled once ServeHTTP returns
		ctx := o.propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		var span trace.Span
		if o.tracer != nil {
			ctx, span = o.tracer.Start(ctx, r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
					semconv.UserAgentOriginal(r.UserAgent()),
				),
			)
			defer span.End()
		}

		if o.inFlight != nil {
			o.inFlight.Add(ctx, 1)
			defer o.inFlight.Add(ctx, -1)
		}

		next.ServeHTTP(ww, r.WithContext(ctx))

		// chi fills in the pattern while routing, so it is only known now
		route := RouteLabel(r)
		code := ww.Status()
		if code == 0 {
			// Nothing written; net/http sends 200
			code = http.StatusOK
		}

		if span != nil {
			if route != UnmatchedRoute {
				span.SetName(r.Method + " " + route)
				span.SetAttributes(semconv.HTTPRouteKey.String(route))
			}
			span.SetAttributes(semconv.HTTPResponseStatusCode(code))
			// A 409 conflict or 400 is the client's outcome, not a server failure.
			if code >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(code))
			}
		}

		if o.requests != nil {
			attrs := metric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("route", route),
				attribute.String("status_code", strconv.Itoa(code)),
			)
			o.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			o.requests.Add(ctx, 1, attrs)
		}
	})
}

// RouteLabel is the endpoint pattern a routed request matched, or UnmatchedRoute.
// The endpoints are mounted under a catch-all, so a pattern that still ends in
// a wildcard means no endpoint took the request.
func RouteLabel(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return UnmatchedRoute
	}
	pattern := rctx.RoutePattern()
	if pattern == "" || strings.HasSuffix(pattern, "*") {
		return UnmatchedRoute
	}
	return pattern
}
