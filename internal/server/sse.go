package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/spellbook-dev/spellbook/api"
	"github.com/spellbook-dev/spellbook/internal/log"
	"github.com/spellbook-dev/spellbook/internal/pubsub"
	"github.com/spellbook-dev/spellbook/internal/store"
	"github.com/spellbook-dev/spellbook/internal/swarm"
	"github.com/spellbook-dev/spellbook/internal/tracing"
)

// StreamEvents handles GET /swarm/{swarm_id}/events. It replays every
// event with id > since_event_id in ascending order, then tails the log
// until the swarm reaches a terminal state, waking on broker
// notifications with a bounded poll as fallback. Delivery is
// at-least-once across reconnects; the monotonic id lets clients dedup.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	swarmID := r.PathValue("swarm_id")

	since := int64(0)
	if raw := r.URL.Query().Get("since_event_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			h.writeError(w, http.StatusBadRequest, api.CodeValidationError,
				"Invalid since_event_id",
				map[string]string{"since_event_id": "must be a non-negative integer"})
			return
		}
		since = parsed
	}

	// Resolve the swarm before switching protocols; a 404 is useless once
	// SSE headers are on the wire.
	sw, err := h.store.GetSwarm(r.Context(), swarmID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, api.CodeStoreError,
			"Streaming not supported", nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)

	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ctx := r.Context()
	lastID := since

	// Subscribe before the replay query so nothing committed between the
	// two is missed; a redundant wake costs one no-op query.
	var wake <-chan pubsub.Event[store.Change]
	if h.broker != nil {
		wake = h.broker.Subscribe(ctx)
	}

	log.Debug(log.CatStream, "stream opened",
		"swarm_id", swarmID, "since_event_id", since)

	sent, err := h.emitEventsSince(ctx, w, flusher, swarmID, &lastID)
	if err != nil {
		log.Warn(log.CatStream, "stream replay aborted",
			"swarm_id", swarmID, "error", err)
		return
	}
	addSpanEvent(ctx, tracing.EventStreamReplay,
		attribute.Int("events.replayed", sent),
		attribute.Int64(tracing.AttrEventID, lastID))

	// The status read preceded the replay query, so a terminal status
	// means every event of the swarm's life has just been emitted.
	if sw.Status.IsTerminal() {
		h.endStream(ctx, swarmID, lastID)
		return
	}

	poll := time.NewTicker(h.pollInterval)
	defer poll.Stop()
	keepalive := time.NewTicker(h.keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug(log.CatStream, "stream client disconnected",
				"swarm_id", swarmID, "last_event_id", lastID)
			return

		case <-h.done:
			// Server shutdown: end the stream so Shutdown is not held
			// hostage by idle subscribers.
			return

		case change, ok := <-wake:
			if !ok {
				// Broker closed; the poll ticker keeps the stream live.
				wake = nil
				continue
			}
			if skipWake(change, swarmID) {
				continue
			}
			finished, err := h.tailOnce(ctx, w, flusher, swarmID, &lastID)
			if err != nil || finished {
				h.endStream(ctx, swarmID, lastID)
				return
			}

		case <-poll.C:
			finished, err := h.tailOnce(ctx, w, flusher, swarmID, &lastID)
			if err != nil || finished {
				h.endStream(ctx, swarmID, lastID)
				return
			}

		case <-keepalive.C:
			// Comment line, not a log row: keeps proxies from reaping
			// idle connections without disturbing id bookkeeping.
			_, _ = fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

// skipWake reports whether a broker notification is irrelevant to this
// stream. Watcher ticks carry no swarm id and wake everyone.
func skipWake(change pubsub.Event[store.Change], swarmID string) bool {
	if change.Type == pubsub.TickEvent {
		return false
	}
	return change.Payload.SwarmID != "" && change.Payload.SwarmID != swarmID
}

// tailOnce emits anything newer than lastID and reports whether the
// stream is finished. The swarm status is read before the event query:
// terminal transitions commit their events first, so a terminal answer
// here guarantees the subsequent emit drains the complete log.
func (h *Handler) tailOnce(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, swarmID string, lastID *int64) (bool, error) {
	sw, err := h.store.GetSwarm(ctx, swarmID)
	if err != nil {
		var notFound *store.NotFoundError
		if errors.As(err, &notFound) {
			// Cleaned up mid-stream; nothing more will ever arrive.
			return true, nil
		}
		return false, err
	}

	if _, err := h.emitEventsSince(ctx, w, flusher, swarmID, lastID); err != nil {
		return false, err
	}
	return sw.Status.IsTerminal(), nil
}

// emitEventsSince writes all events with id > *lastID as SSE records and
// advances the cursor. Returns how many events were sent.
func (h *Handler) emitEventsSince(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, swarmID string, lastID *int64) (int, error) {
	events, err := h.store.GetEvents(ctx, swarmID, *lastID)
	if err != nil {
		return 0, err
	}
	for i := range events {
		if err := writeSSEEvent(w, &events[i]); err != nil {
			return i, err
		}
		*lastID = events[i].ID
	}
	if len(events) > 0 {
		flusher.Flush()
	}
	return len(events), nil
}

func (h *Handler) endStream(ctx context.Context, swarmID string, lastID int64) {
	addSpanEvent(ctx, tracing.EventStreamEOF,
		attribute.Int64(tracing.AttrEventID, lastID))
	log.Debug(log.CatStream, "stream complete",
		"swarm_id", swarmID, "last_event_id", lastID)
}

// writeSSEEvent renders one event as an SSE record:
//
//	id: <event_id>
//	event: <event_type>
//	data: <JSON payload>
func writeSSEEvent(w http.ResponseWriter, e *swarm.Event) error {
	payload := api.EventPayload{
		EventType:    string(e.Type),
		PacketID:     e.PacketID,
		TaskID:       e.TaskID,
		Commit:       e.Commit,
		CreatedAt:    e.CreatedAt,
		TaskName:     e.TaskName,
		ErrorType:    e.ErrorType,
		ErrorMessage: e.ErrorMessage,
		Recoverable:  e.Recoverable,
		SwarmID:      e.SwarmID,
	}
	if len(e.Data) > 0 {
		var extra api.ExtraData
		if err := json.Unmarshal(e.Data, &extra); err == nil {
			payload.EventData = extra
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event %d: %w", e.ID, err)
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", e.ID, e.Type, data); err != nil {
		return fmt.Errorf("write event %d: %w", e.ID, err)
	}
	return nil
}
