// Package tracing provides distributed tracing infrastructure for the
// coordination server. It integrates with OpenTelemetry to provide span
// creation, context propagation, and trace export capabilities.
package tracing

import (
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MiddlewareConfig configures the HTTP tracing middleware.
type MiddlewareConfig struct {
	// Tracer is the OpenTelemetry tracer for creating spans.
	// If nil, the middleware returns a pass-through (no-op).
	Tracer trace.Tracer
}

// NewHTTPMiddleware creates middleware that wraps every request in a server
// span. The span is named after the route pattern, carries method and
// status attributes, and is marked as an error for 5xx responses.
//
// If Tracer is nil, the middleware returns a pass-through function that
// simply calls the next handler without any tracing overhead.
func NewHTTPMiddleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	if cfg.Tracer == nil {
		// Return pass-through if tracing disabled
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// The mux stamps r.Pattern before the per-route middleware
			// runs; it already includes the method.
			route := r.Pattern
			if route == "" {
				route = fmt.Sprintf("%s %s", r.Method, r.URL.Path)
			}
			ctx, span := cfg.Tracer.Start(r.Context(), SpanPrefixHTTP+route,
				trace.WithSpanKind(trace.SpanKindServer),
			)
			defer span.End()

			span.SetAttributes(
				attribute.String(AttrHTTPMethod, r.Method),
				attribute.String(AttrHTTPRoute, route),
			)
			if swarmID := r.PathValue("swarm_id"); swarmID != "" {
				span.SetAttributes(attribute.String(AttrSwarmID, swarmID))
			}

			// Stash the trace id so handler logs can be correlated with spans.
			ctx = ContextWithTraceID(ctx, span.SpanContext().TraceID().String())

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			span.SetAttributes(attribute.Int(AttrHTTPStatus, rec.status))
			if rec.status >= 500 {
				span.SetStatus(codes.Error, http.StatusText(rec.status))
			} else {
				span.SetStatus(codes.Ok, "")
			}
		})
	}
}

// statusRecorder captures the response status for the span while keeping
// the writer usable for streaming responses.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the wrapped writer so SSE streams keep working under
// the middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap supports http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
