// Package server implements the coordination HTTP surface: swarm
// lifecycle endpoints, worker report endpoints, SSE event streams, and
// the health probe. Handlers validate the wire shape, delegate state
// transitions to the store, and translate store errors onto the error
// contract.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/spellbook-dev/spellbook/api"
	"github.com/spellbook-dev/spellbook/internal/cache"
	"github.com/spellbook-dev/spellbook/internal/log"
	"github.com/spellbook-dev/spellbook/internal/pubsub"
	"github.com/spellbook-dev/spellbook/internal/retry"
	"github.com/spellbook-dev/spellbook/internal/store"
	"github.com/spellbook-dev/spellbook/internal/swarm"
	"github.com/spellbook-dev/spellbook/internal/tracing"
)

// HandlerConfig holds the dependencies for creating a Handler.
type HandlerConfig struct {
	// Store is the state manager backing every endpoint. Required.
	Store *store.Store
	// Broker delivers change notifications to event streams. If nil,
	// streams fall back to pure polling.
	Broker *pubsub.Broker[store.Change]
	// Policy classifies worker errors and computes retry delays.
	// A zero value means retry.DefaultPolicy().
	Policy retry.Policy
	// Endpoint is the base URL advertised to workers in create
	// responses, e.g. "http://127.0.0.1:7432".
	Endpoint string
	// Version is reported by the health endpoint.
	Version string
	// PollInterval is how often event streams re-read the log when no
	// change notification arrives. Defaults to 2s.
	PollInterval time.Duration
	// KeepaliveInterval is how often idle streams emit an SSE comment
	// so proxies don't drop the connection. Defaults to 30s.
	KeepaliveInterval time.Duration
	// StatusCacheTTL bounds how stale a cached status snapshot may be.
	// Zero or negative disables the cache and every status read hits
	// the store.
	StatusCacheTTL time.Duration
	// Tracer enables per-request spans. If nil, requests are not traced.
	Tracer trace.Tracer
}

// Handler serves the coordination API over HTTP.
type Handler struct {
	store             *store.Store
	broker            *pubsub.Broker[store.Change]
	policy            retry.Policy
	status            *cache.ReadThrough[*store.StatusSummary, string]
	statusTTL         time.Duration
	tracer            trace.Tracer
	endpoint          string
	version           string
	startedAt         time.Time
	pollInterval      time.Duration
	keepaliveInterval time.Duration

	// done is closed on shutdown so open event streams return instead
	// of holding Shutdown until their clients disconnect.
	done      chan struct{}
	closeOnce sync.Once

	// now is swappable in tests for deterministic response timestamps.
	now func() time.Time
}

// NewHandler creates a Handler with the given dependencies.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Policy == (retry.Policy{}) {
		cfg.Policy = retry.DefaultPolicy()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = 30 * time.Second
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	h := &Handler{
		store:             cfg.Store,
		broker:            cfg.Broker,
		policy:            cfg.Policy,
		statusTTL:         cfg.StatusCacheTTL,
		tracer:            cfg.Tracer,
		endpoint:          cfg.Endpoint,
		version:           cfg.Version,
		startedAt:         time.Now(),
		pollInterval:      cfg.PollInterval,
		keepaliveInterval: cfg.KeepaliveInterval,
		done:              make(chan struct{}),
		now:               time.Now,
	}
	h.status = cache.NewReadThrough(
		cache.NewMemory[*store.StatusSummary]("swarm-status", cfg.StatusCacheTTL, time.Minute),
		func(ctx context.Context, swarmID string) (*store.StatusSummary, error) {
			return cfg.Store.GetSwarmStatus(ctx, swarmID)
		},
		cfg.StatusCacheTTL <= 0,
	)
	return h
}

// Close releases streaming clients. Idempotent; called by the server
// before shutting down the listener.
func (h *Handler) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Routes returns the HTTP handler for all coordination endpoints.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mw := tracing.NewHTTPMiddleware(tracing.MiddlewareConfig{Tracer: h.tracer})

	// The middleware wraps each route individually rather than the whole
	// mux: r.Pattern and path values are only stamped once the mux has
	// matched, so an outer wrapper would see empty span names.
	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, mw(fn))
	}

	handle("POST /swarm/create", h.CreateSwarm)
	handle("POST /swarm/{swarm_id}/register", h.RegisterWorker)
	handle("POST /swarm/{swarm_id}/progress", h.ReportProgress)
	handle("POST /swarm/{swarm_id}/complete", h.ReportComplete)
	handle("POST /swarm/{swarm_id}/error", h.ReportError)
	handle("POST /swarm/{swarm_id}/heartbeat", h.Heartbeat)
	handle("GET /swarm/{swarm_id}/status", h.GetStatus)
	handle("GET /swarm/{swarm_id}/events", h.StreamEvents)
	handle("GET /health", h.Health)

	return mux
}

// CreateSwarm handles POST /swarm/create.
func (h *Handler) CreateSwarm(w http.ResponseWriter, r *http.Request) {
	var req api.CreateSwarmRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	// Omitted notify_on_complete defaults to true.
	notify := true
	if req.NotifyOnComplete != nil {
		notify = *req.NotifyOnComplete
	}

	sw, err := h.store.CreateSwarm(r.Context(), store.CreateSwarmParams{
		Feature:          req.Feature,
		ManifestPath:     req.ManifestPath,
		AutoMerge:        req.AutoMerge,
		NotifyOnComplete: notify,
	})
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	log.Info(log.CatServer, "Swarm created", "swarm_id", sw.ID, "feature", sw.Feature)
	h.writeJSON(w, http.StatusCreated, api.CreateSwarmResponse{
		SwarmID:          sw.ID,
		Endpoint:         h.endpoint,
		CreatedAt:        sw.CreatedAt,
		AutoMerge:        sw.AutoMerge,
		NotifyOnComplete: sw.NotifyOnComplete,
	})
}

// RegisterWorker handles POST /swarm/{swarm_id}/register.
func (h *Handler) RegisterWorker(w http.ResponseWriter, r *http.Request) {
	swarmID := r.PathValue("swarm_id")

	var req api.RegisterWorkerRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	wk, sw, err := h.store.RegisterWorker(r.Context(), swarmID, store.RegisterWorkerParams{
		PacketID:   req.PacketID,
		PacketName: req.PacketName,
		Worktree:   req.Worktree,
		TasksTotal: req.TasksTotal,
	})
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.status.Invalidate(r.Context(), swarmID)
	addSpanEvent(r.Context(), tracing.EventEventAppended,
		attribute.String(tracing.AttrEventType, string(swarm.EventWorkerRegistered)),
		attribute.Int(tracing.AttrPacketID, wk.PacketID),
	)

	log.Info(log.CatServer, "Worker registered",
		"swarm_id", swarmID, "packet_id", wk.PacketID, "packet_name", wk.PacketName)
	h.writeJSON(w, http.StatusCreated, api.RegisterWorkerResponse{
		Acknowledged: true,
		SwarmID:      swarmID,
		PacketID:     wk.PacketID,
		WorkerStatus: string(wk.Status),
		SwarmStatus:  string(sw.Status),
		Timestamp:    h.timestamp(),
	})
}

// ReportProgress handles POST /swarm/{swarm_id}/progress.
func (h *Handler) ReportProgress(w http.ResponseWriter, r *http.Request) {
	swarmID := r.PathValue("swarm_id")

	var req api.ProgressRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	wk, err := h.store.UpdateProgress(r.Context(), swarmID, store.ProgressParams{
		PacketID:       req.PacketID,
		TaskID:         req.TaskID,
		TaskName:       req.TaskName,
		Status:         req.Status,
		TasksCompleted: req.TasksCompleted,
		Commit:         req.Commit,
	})
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.status.Invalidate(r.Context(), swarmID)
	addSpanEvent(r.Context(), tracing.EventEventAppended,
		attribute.String(tracing.AttrEventType, string(swarm.EventProgress)),
		attribute.Int(tracing.AttrPacketID, wk.PacketID),
	)

	h.writeJSON(w, http.StatusOK, api.ProgressResponse{
		Acknowledged:   true,
		PacketID:       wk.PacketID,
		TasksCompleted: wk.TasksCompleted,
		TasksTotal:     wk.TasksTotal,
		Timestamp:      h.timestamp(),
	})
}

// ReportComplete handles POST /swarm/{swarm_id}/complete.
func (h *Handler) ReportComplete(w http.ResponseWriter, r *http.Request) {
	swarmID := r.PathValue("swarm_id")

	var req api.CompleteRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	result, err := h.store.MarkComplete(r.Context(), swarmID, store.CompleteParams{
		PacketID:     req.PacketID,
		FinalCommit:  req.FinalCommit,
		TestsPassed:  req.TestsPassed,
		ReviewPassed: req.ReviewPassed,
	})
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.status.Invalidate(r.Context(), swarmID)
	addSpanEvent(r.Context(), tracing.EventEventAppended,
		attribute.String(tracing.AttrEventType, string(swarm.EventWorkerComplete)),
		attribute.Int(tracing.AttrPacketID, req.PacketID),
	)

	if result.SwarmComplete {
		log.Info(log.CatServer, "Swarm complete", "swarm_id", swarmID)
	}
	h.writeJSON(w, http.StatusOK, api.CompleteResponse{
		Acknowledged:     true,
		SwarmComplete:    result.SwarmComplete,
		RemainingWorkers: result.RemainingWorkers,
		Timestamp:        h.timestamp(),
	})
}

// ReportError handles POST /swarm/{swarm_id}/error. Classification is
// server-side: the worker's own recoverability claim is recorded for
// diagnosis but never trusted for the retry decision.
func (h *Handler) ReportError(w http.ResponseWriter, r *http.Request) {
	swarmID := r.PathValue("swarm_id")

	var req api.ErrorReportRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	recoverable := retry.IsRecoverable(req.ErrorType)
	_, err := h.store.RecordError(r.Context(), swarmID, store.ErrorParams{
		PacketID:           req.PacketID,
		TaskID:             req.TaskID,
		ErrorType:          req.ErrorType,
		Message:            req.Message,
		Recoverable:        recoverable,
		ClaimedRecoverable: req.Recoverable,
	})
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.status.Invalidate(r.Context(), swarmID)
	addSpanEvent(r.Context(), tracing.EventErrorOccurred,
		attribute.String(tracing.AttrErrorType, req.ErrorType),
		attribute.Int(tracing.AttrPacketID, req.PacketID),
	)

	log.Warn(log.CatRetry, "Worker error reported",
		"swarm_id", swarmID, "packet_id", req.PacketID,
		"error_type", req.ErrorType, "recoverable", recoverable)

	resp := api.ErrorReportResponse{
		Acknowledged:   true,
		RetryScheduled: recoverable,
		Timestamp:      h.timestamp(),
	}
	if recoverable {
		secs := h.policy.DelaySeconds(1)
		resp.RetryInSeconds = &secs
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Heartbeat handles POST /swarm/{swarm_id}/heartbeat.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	swarmID := r.PathValue("swarm_id")

	var req api.HeartbeatRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	if _, err := h.store.RecordHeartbeat(r.Context(), swarmID, req.PacketID); err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.status.Invalidate(r.Context(), swarmID)

	h.writeJSON(w, http.StatusOK, api.HeartbeatResponse{
		Acknowledged: true,
		Timestamp:    h.timestamp(),
	})
}

// GetStatus handles GET /swarm/{swarm_id}/status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	swarmID := r.PathValue("swarm_id")

	summary, err := h.status.Get(r.Context(), swarmID, swarmID, h.statusTTL)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, statusToResponse(summary))
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	active, err := h.store.CountActiveSwarms(r.Context())
	if err != nil {
		log.ErrorErr(log.CatServer, "Health check failed", err)
		h.writeJSON(w, http.StatusServiceUnavailable, api.HealthResponse{
			Status:  "unhealthy",
			Version: h.version,
		})
		return
	}
	workers, err := h.store.CountWorkers(r.Context())
	if err != nil {
		log.ErrorErr(log.CatServer, "Health check failed", err)
		h.writeJSON(w, http.StatusServiceUnavailable, api.HealthResponse{
			Status:  "unhealthy",
			Version: h.version,
		})
		return
	}

	h.writeJSON(w, http.StatusOK, api.HealthResponse{
		Status:        "ok",
		UptimeSeconds: int64(h.now().Sub(h.startedAt) / time.Second),
		ActiveSwarms:  active,
		TotalWorkers:  workers,
		Version:       h.version,
	})
}

// statusToResponse flattens a status summary onto the wire shape.
func statusToResponse(s *store.StatusSummary) api.SwarmStatusResponse {
	resp := api.SwarmStatusResponse{
		SwarmID:          s.Swarm.ID,
		Feature:          s.Swarm.Feature,
		ManifestPath:     s.Swarm.ManifestPath,
		Status:           string(s.Swarm.Status),
		AutoMerge:        s.Swarm.AutoMerge,
		NotifyOnComplete: s.Swarm.NotifyOnComplete,
		CreatedAt:        s.Swarm.CreatedAt,
		UpdatedAt:        s.Swarm.UpdatedAt,
		CompletedAt:      s.Swarm.CompletedAt,
		Workers: api.WorkerCounts{
			Total:      len(s.Workers),
			Registered: s.WorkersByStatus[swarm.WorkerRegistered],
			Running:    s.WorkersByStatus[swarm.WorkerRunning],
			Complete:   s.WorkersByStatus[swarm.WorkerComplete],
			Failed:     s.WorkersByStatus[swarm.WorkerFailed],
		},
		Tasks: api.TaskCounts{
			Completed: s.TasksCompleted,
			Total:     s.TasksTotal,
		},
		WorkerDetails: make([]api.WorkerDetail, 0, len(s.Workers)),
	}
	for i := range s.Workers {
		wk := &s.Workers[i]
		resp.WorkerDetails = append(resp.WorkerDetails, api.WorkerDetail{
			PacketID:        wk.PacketID,
			PacketName:      wk.PacketName,
			Worktree:        wk.Worktree,
			Status:          string(wk.Status),
			TasksCompleted:  wk.TasksCompleted,
			TasksTotal:      wk.TasksTotal,
			CurrentTaskID:   wk.CurrentTaskID,
			LastCommit:      wk.LastCommit,
			FinalCommit:     wk.FinalCommit,
			TestsPassed:     wk.TestsPassed,
			ReviewPassed:    wk.ReviewPassed,
			ErrorType:       wk.ErrorType,
			ErrorMessage:    wk.ErrorMessage,
			RegisteredAt:    wk.RegisteredAt,
			UpdatedAt:       wk.UpdatedAt,
			CompletedAt:     wk.CompletedAt,
			LastHeartbeatAt: wk.LastHeartbeatAt,
		})
	}
	return resp
}

// decodeValid parses and validates the request body, writing the error
// response itself on failure. Returns false when the caller should stop.
func (h *Handler) decodeValid(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, api.CodeInvalidJSON, "Invalid JSON body", nil)
		return false
	}
	if details := api.Validate(dst); details != nil {
		h.writeError(w, http.StatusUnprocessableEntity, api.CodeValidationError, "Request failed validation", details)
		return false
	}
	addSpanEvent(r.Context(), tracing.EventRequestValidated)
	return true
}

// writeStoreError maps store errors onto the wire contract: missing rows
// are 404, duplicate registrations 409, state-rule violations 422 with
// the offending field, anything else a 500.
func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	var notFound *store.NotFoundError
	if errors.As(err, &notFound) {
		h.writeError(w, http.StatusNotFound, api.CodeNotFound, notFound.Error(), nil)
		return
	}
	var conflict *store.ConflictError
	if errors.As(err, &conflict) {
		h.writeError(w, http.StatusConflict, api.CodeConflict, conflict.Error(), nil)
		return
	}
	var rule *store.RuleError
	if errors.As(err, &rule) {
		h.writeError(w, http.StatusUnprocessableEntity, api.CodeValidationError, "Request violates swarm state",
			map[string]string{rule.Field: rule.Reason})
		return
	}
	log.ErrorErr(log.CatStore, "Store operation failed", err)
	h.writeError(w, http.StatusInternalServerError, api.CodeStoreError, "Store operation failed", nil)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error(log.CatServer, "Failed to encode JSON response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string, details map[string]string) {
	h.writeJSON(w, status, api.ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

// timestamp is the server-generated stamp every acknowledgment carries,
// truncated to whole seconds to match stored timestamps.
func (h *Handler) timestamp() time.Time {
	return h.now().UTC().Truncate(time.Second)
}

func addSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}
