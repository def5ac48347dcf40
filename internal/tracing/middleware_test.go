package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newRecordingMiddleware returns the middleware plus the recorder that
// captures every span it creates.
func newRecordingMiddleware(t *testing.T) (func(http.Handler) http.Handler, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return NewHTTPMiddleware(MiddlewareConfig{Tracer: tp.Tracer("test")}), recorder
}

func attrValue(attrs []attribute.KeyValue, key string) any {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value.AsInterface()
		}
	}
	return nil
}

func TestNewHTTPMiddleware_NilTracerPassesThrough(t *testing.T) {
	mw := NewHTTPMiddleware(MiddlewareConfig{})

	called := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.True(t, called, "next handler should run")
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestNewHTTPMiddleware_RecordsSpanPerRequest(t *testing.T) {
	mw, recorder := newRecordingMiddleware(t)

	// Register through a mux so the route pattern and path values are set
	// the way the server sets them.
	mux := http.NewServeMux()
	mux.Handle("GET /swarm/{swarm_id}/status", mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NotEmpty(t, TraceIDFromContext(r.Context()), "handlers should see the trace id")
		w.WriteHeader(http.StatusOK)
	})))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/swarm/swarm-20260101-120000-abc123/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	spans := recorder.Ended()
	require.Len(t, spans, 1, "one span per request")

	span := spans[0]
	require.Equal(t, "http.GET /swarm/{swarm_id}/status", span.Name())
	attrs := span.Attributes()
	require.Equal(t, "GET", attrValue(attrs, AttrHTTPMethod))
	require.Equal(t, "GET /swarm/{swarm_id}/status", attrValue(attrs, AttrHTTPRoute))
	require.Equal(t, "swarm-20260101-120000-abc123", attrValue(attrs, AttrSwarmID))
	require.Equal(t, int64(200), attrValue(attrs, AttrHTTPStatus))
	require.Equal(t, codes.Ok, span.Status().Code)
}

func TestNewHTTPMiddleware_MarksServerErrors(t *testing.T) {
	mw, recorder := newRecordingMiddleware(t)

	mux := http.NewServeMux()
	mux.Handle("POST /swarm/create", mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/swarm/create", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, codes.Error, spans[0].Status().Code)
	require.Equal(t, int64(500), attrValue(spans[0].Attributes(), AttrHTTPStatus))
}

func TestNewHTTPMiddleware_ClientErrorsAreNotSpanErrors(t *testing.T) {
	mw, recorder := newRecordingMiddleware(t)

	mux := http.NewServeMux()
	mux.Handle("POST /swarm/create", mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusUnprocessableEntity)
	})))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/swarm/create", nil))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, codes.Ok, spans[0].Status().Code,
		"client errors are request outcomes, not server faults")
}

func TestStatusRecorder_PreservesFlusher(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, status: http.StatusOK}

	var w http.ResponseWriter = sr
	flusher, ok := w.(http.Flusher)
	require.True(t, ok, "wrapped writer should still expose Flush for SSE")
	flusher.Flush()
	require.True(t, rec.Flushed)
}
