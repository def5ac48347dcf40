package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spellbook-dev/spellbook/internal/log"
	"github.com/spellbook-dev/spellbook/internal/pubsub"
	"github.com/spellbook-dev/spellbook/internal/swarm"
)

// Change is the post-commit notification published on the broker. SSE
// streams treat it as a wake-up and re-read the log; the status cache uses
// it to invalidate.
type Change struct {
	SwarmID     string
	LastEventID int64
	SwarmStatus swarm.SwarmStatus
}

// Store executes every coordination state transition. Each mutating
// operation is one SQLite transaction appending the event that describes
// it, so readers never observe a mutation without its event.
type Store struct {
	conn   *sql.DB
	broker *pubsub.Broker[Change]
	now    func() time.Time
}

// NewStore wraps an open DB. The broker may be nil (one-shot CLI use);
// notifications are then skipped.
func NewStore(db *DB, broker *pubsub.Broker[Change]) *Store {
	return &Store{
		conn:   db.Connection(),
		broker: broker,
		now:    time.Now,
	}
}

// dbtx abstracts *sql.DB and *sql.Tx for the row helpers.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) notify(eventType pubsub.EventType, change Change) {
	if s.broker != nil {
		s.broker.Publish(eventType, change)
	}
}

// stamp returns the single timestamp used by every row an operation
// touches. Truncated to seconds so the stored text form is stable.
func (s *Store) stamp() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}

// CreateSwarmParams carries the validated fields for swarm creation.
type CreateSwarmParams struct {
	Feature          string
	ManifestPath     string
	AutoMerge        bool
	NotifyOnComplete bool
}

// CreateSwarm inserts a new swarm with status created and returns it.
// Creation appends no event: the log of a swarm starts with its first
// worker registration.
func (s *Store) CreateSwarm(ctx context.Context, p CreateSwarmParams) (*swarm.Swarm, error) {
	now := s.stamp()

	var sw *swarm.Swarm
	// The hex suffix makes same-second collisions vanishingly rare, but a
	// collision is still an insert failure, so retry with a fresh id.
	for attempt := 0; attempt < 3; attempt++ {
		sw = &swarm.Swarm{
			ID:               swarm.NewSwarmID(now),
			Feature:          p.Feature,
			ManifestPath:     p.ManifestPath,
			Status:           swarm.SwarmCreated,
			AutoMerge:        p.AutoMerge,
			NotifyOnComplete: p.NotifyOnComplete,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO swarms (swarm_id, feature, manifest_path, status,
					auto_merge, notify_on_complete, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				sw.ID, sw.Feature, sw.ManifestPath, string(sw.Status),
				sw.AutoMerge, sw.NotifyOnComplete,
				formatTime(sw.CreatedAt), formatTime(sw.UpdatedAt),
			)
			return err
		})
		if isUniqueViolation(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("insert swarm: %w", err)
		}

		log.Info(log.CatStore, "swarm created", "swarm_id", sw.ID, "feature", sw.Feature)
		s.notify(pubsub.CreatedEvent, Change{SwarmID: sw.ID, SwarmStatus: sw.Status})
		return sw, nil
	}
	return nil, fmt.Errorf("insert swarm: id collision persisted across retries")
}

// GetSwarm returns one swarm or a NotFoundError.
func (s *Store) GetSwarm(ctx context.Context, swarmID string) (*swarm.Swarm, error) {
	return fetchSwarm(ctx, s.conn, swarmID)
}

func fetchSwarm(ctx context.Context, q dbtx, swarmID string) (*swarm.Swarm, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+swarmColumns+` FROM swarms WHERE swarm_id = ?`, swarmID)
	m, err := scanSwarm(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "swarm", ID: swarmID}
	}
	if err != nil {
		return nil, fmt.Errorf("query swarm: %w", err)
	}
	return m.toDomain()
}

// GetWorker returns one worker or a NotFoundError.
func (s *Store) GetWorker(ctx context.Context, swarmID string, packetID int) (*swarm.Worker, error) {
	return fetchWorker(ctx, s.conn, swarmID, packetID)
}

func fetchWorker(ctx context.Context, q dbtx, swarmID string, packetID int) (*swarm.Worker, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+workerColumns+` FROM workers WHERE swarm_id = ? AND packet_id = ?`,
		swarmID, packetID)
	m, err := scanWorker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "worker", ID: fmt.Sprintf("%s/%d", swarmID, packetID)}
	}
	if err != nil {
		return nil, fmt.Errorf("query worker: %w", err)
	}
	return m.toDomain()
}

func updateSwarmRow(ctx context.Context, q dbtx, sw *swarm.Swarm) error {
	_, err := q.ExecContext(ctx,
		`UPDATE swarms SET status = ?, updated_at = ?, completed_at = ?
		 WHERE swarm_id = ?`,
		string(sw.Status), formatTime(sw.UpdatedAt), formatTimePtr(sw.CompletedAt), sw.ID)
	if err != nil {
		return fmt.Errorf("update swarm: %w", err)
	}
	return nil
}

func updateWorkerRow(ctx context.Context, q dbtx, w *swarm.Worker) error {
	_, err := q.ExecContext(ctx,
		`UPDATE workers SET status = ?, tasks_completed = ?,
			current_task_id = ?, last_commit = ?, final_commit = ?,
			tests_passed = ?, review_passed = ?, error_type = ?,
			error_message = ?, updated_at = ?, completed_at = ?,
			last_heartbeat_at = ?
		 WHERE swarm_id = ? AND packet_id = ?`,
		string(w.Status), w.TasksCompleted,
		w.CurrentTaskID, w.LastCommit, w.FinalCommit,
		w.TestsPassed, w.ReviewPassed, w.ErrorType,
		w.ErrorMessage, formatTime(w.UpdatedAt), formatTimePtr(w.CompletedAt),
		formatTimePtr(w.LastHeartbeatAt),
		w.SwarmID, w.PacketID)
	if err != nil {
		return fmt.Errorf("update worker: %w", err)
	}
	return nil
}

// insertEvent appends one event row and returns its monotonic id.
func insertEvent(ctx context.Context, q dbtx, e *swarm.Event) (int64, error) {
	var data *string
	if len(e.Data) > 0 {
		s := string(e.Data)
		data = &s
	}
	res, err := q.ExecContext(ctx,
		`INSERT INTO events (swarm_id, packet_id, event_type, task_id,
			task_name, commit_sha, error_type, error_message, recoverable,
			event_data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SwarmID, e.PacketID, string(e.Type), e.TaskID,
		e.TaskName, e.Commit, e.ErrorType, e.ErrorMessage, e.Recoverable,
		data, formatTime(e.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("event insert id: %w", err)
	}
	e.ID = id
	return id, nil
}

func marshalEventData(fields map[string]any) []byte {
	if len(fields) == 0 {
		return nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil
	}
	return data
}

// RegisterWorkerParams carries the validated fields for registration.
type RegisterWorkerParams struct {
	PacketID   int
	PacketName string
	Worktree   string
	TasksTotal int
}

// RegisterWorker inserts a worker with status registered, flips a freshly
// created swarm to running, and appends worker_registered, all in one
// transaction. A duplicate (swarm_id, packet_id) yields a ConflictError
// and no state change.
func (s *Store) RegisterWorker(ctx context.Context, swarmID string, p RegisterWorkerParams) (*swarm.Worker, *swarm.Swarm, error) {
	now := s.stamp()

	var (
		w           *swarm.Worker
		sw          *swarm.Swarm
		lastEventID int64
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		sw, err = fetchSwarm(ctx, tx, swarmID)
		if err != nil {
			return err
		}
		if sw.Status.IsTerminal() {
			return &RuleError{Field: "swarm_id", Reason: fmt.Sprintf("swarm is %s", sw.Status)}
		}

		var one int
		dupErr := tx.QueryRowContext(ctx,
			`SELECT 1 FROM workers WHERE swarm_id = ? AND packet_id = ?`,
			swarmID, p.PacketID).Scan(&one)
		if dupErr == nil {
			return &ConflictError{SwarmID: swarmID, PacketID: p.PacketID}
		}
		if !errors.Is(dupErr, sql.ErrNoRows) {
			return fmt.Errorf("check duplicate registration: %w", dupErr)
		}

		w = &swarm.Worker{
			SwarmID:        swarmID,
			PacketID:       p.PacketID,
			PacketName:     p.PacketName,
			Worktree:       p.Worktree,
			Status:         swarm.WorkerRegistered,
			TasksTotal:     p.TasksTotal,
			TasksCompleted: 0,
			RegisteredAt:   now,
			UpdatedAt:      now,
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO workers (swarm_id, packet_id, packet_name, status,
				worktree, tasks_total, tasks_completed, registered_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			w.SwarmID, w.PacketID, w.PacketName, string(w.Status),
			w.Worktree, w.TasksTotal, w.TasksCompleted,
			formatTime(w.RegisteredAt), formatTime(w.UpdatedAt))
		if isUniqueViolation(err) {
			return &ConflictError{SwarmID: swarmID, PacketID: p.PacketID}
		}
		if err != nil {
			return fmt.Errorf("insert worker: %w", err)
		}

		if sw.Status == swarm.SwarmCreated {
			if err := sw.TransitionTo(swarm.SwarmRunning, now); err != nil {
				return err
			}
			if err := updateSwarmRow(ctx, tx, sw); err != nil {
				return err
			}
		}

		lastEventID, err = insertEvent(ctx, tx, &swarm.Event{
			SwarmID:   swarmID,
			PacketID:  &p.PacketID,
			Type:      swarm.EventWorkerRegistered,
			CreatedAt: now,
			Data: marshalEventData(map[string]any{
				"packet_name": p.PacketName,
				"tasks_total": p.TasksTotal,
				"worktree":    p.Worktree,
			}),
		})
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	log.Info(log.CatStore, "worker registered",
		"swarm_id", swarmID, "packet_id", p.PacketID, "packet_name", p.PacketName)
	s.notify(pubsub.AppendedEvent, Change{SwarmID: swarmID, LastEventID: lastEventID, SwarmStatus: sw.Status})
	return w, sw, nil
}

// ProgressParams carries the validated fields of a progress report.
type ProgressParams struct {
	PacketID       int
	TaskID         string
	TaskName       string
	Status         string
	TasksCompleted int
	Commit         string
}

// UpdateProgress advances a worker's counter, forces its status to
// running, and appends a progress event. Counter regressions and reports
// against terminal workers are RuleErrors; nothing is written.
func (s *Store) UpdateProgress(ctx context.Context, swarmID string, p ProgressParams) (*swarm.Worker, error) {
	now := s.stamp()

	var (
		w           *swarm.Worker
		sw          *swarm.Swarm
		lastEventID int64
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		sw, err = fetchSwarm(ctx, tx, swarmID)
		if err != nil {
			return err
		}
		w, err = fetchWorker(ctx, tx, swarmID, p.PacketID)
		if err != nil {
			return err
		}
		if w.Status.IsTerminal() {
			return &RuleError{Field: "packet_id", Reason: fmt.Sprintf("worker is %s", w.Status)}
		}
		if p.TasksCompleted < w.TasksCompleted {
			return &RuleError{
				Field:  "tasks_completed",
				Reason: fmt.Sprintf("cannot decrease from %d to %d", w.TasksCompleted, p.TasksCompleted),
			}
		}
		if p.TasksCompleted > w.TasksTotal {
			return &RuleError{
				Field:  "tasks_completed",
				Reason: fmt.Sprintf("exceeds registered tasks_total %d", w.TasksTotal),
			}
		}

		if w.Status == swarm.WorkerRegistered {
			if err := w.TransitionTo(swarm.WorkerRunning, now); err != nil {
				return err
			}
		}
		w.TasksCompleted = p.TasksCompleted
		w.CurrentTaskID = &p.TaskID
		if p.Commit != "" {
			w.LastCommit = &p.Commit
		}
		w.UpdatedAt = now
		if err := updateWorkerRow(ctx, tx, w); err != nil {
			return err
		}

		event := &swarm.Event{
			SwarmID:   swarmID,
			PacketID:  &p.PacketID,
			Type:      swarm.EventProgress,
			TaskID:    &p.TaskID,
			TaskName:  &p.TaskName,
			CreatedAt: now,
			Data: marshalEventData(map[string]any{
				"status":          p.Status,
				"tasks_completed": w.TasksCompleted,
				"tasks_total":     w.TasksTotal,
			}),
		}
		if p.Commit != "" {
			event.Commit = &p.Commit
		}
		lastEventID, err = insertEvent(ctx, tx, event)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Debug(log.CatStore, "progress recorded",
		"swarm_id", swarmID, "packet_id", p.PacketID,
		"tasks_completed", w.TasksCompleted, "tasks_total", w.TasksTotal)
	s.notify(pubsub.AppendedEvent, Change{SwarmID: swarmID, LastEventID: lastEventID, SwarmStatus: sw.Status})
	return w, nil
}

// CompleteParams carries the validated fields of a completion report.
type CompleteParams struct {
	PacketID     int
	FinalCommit  string
	TestsPassed  bool
	ReviewPassed bool
}

// CompleteResult reports the fan-in state after a completion.
// RemainingWorkers counts workers whose status is not complete, computed
// inside the completing transaction.
type CompleteResult struct {
	Worker           *swarm.Worker
	SwarmComplete    bool
	RemainingWorkers int
}

// MarkComplete finishes a worker and, when it was the last one, finishes
// the swarm and appends all_complete inside the same transaction, so the
// all-complete check observes the just-written worker row.
func (s *Store) MarkComplete(ctx context.Context, swarmID string, p CompleteParams) (*CompleteResult, error) {
	now := s.stamp()

	var (
		result      CompleteResult
		sw          *swarm.Swarm
		lastEventID int64
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		sw, err = fetchSwarm(ctx, tx, swarmID)
		if err != nil {
			return err
		}
		w, err := fetchWorker(ctx, tx, swarmID, p.PacketID)
		if err != nil {
			return err
		}
		if w.Status.IsTerminal() {
			return &RuleError{Field: "packet_id", Reason: fmt.Sprintf("worker is %s", w.Status)}
		}

		// A worker may complete without ever reporting progress; it still
		// passes through running.
		if w.Status == swarm.WorkerRegistered {
			if err := w.TransitionTo(swarm.WorkerRunning, now); err != nil {
				return err
			}
		}
		if err := w.TransitionTo(swarm.WorkerComplete, now); err != nil {
			return err
		}
		w.CurrentTaskID = nil
		w.FinalCommit = &p.FinalCommit
		w.TestsPassed = &p.TestsPassed
		w.ReviewPassed = &p.ReviewPassed
		if err := updateWorkerRow(ctx, tx, w); err != nil {
			return err
		}

		lastEventID, err = insertEvent(ctx, tx, &swarm.Event{
			SwarmID:   swarmID,
			PacketID:  &p.PacketID,
			Type:      swarm.EventWorkerComplete,
			Commit:    &p.FinalCommit,
			CreatedAt: now,
			Data: marshalEventData(map[string]any{
				"tests_passed":  p.TestsPassed,
				"review_passed": p.ReviewPassed,
			}),
		})
		if err != nil {
			return err
		}

		var remaining int
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM workers WHERE swarm_id = ? AND status != ?`,
			swarmID, string(swarm.WorkerComplete)).Scan(&remaining)
		if err != nil {
			return fmt.Errorf("count remaining workers: %w", err)
		}

		swarmComplete := false
		if remaining == 0 && sw.Status == swarm.SwarmRunning {
			if err := sw.TransitionTo(swarm.SwarmComplete, now); err != nil {
				return err
			}
			if err := updateSwarmRow(ctx, tx, sw); err != nil {
				return err
			}
			lastEventID, err = insertEvent(ctx, tx, &swarm.Event{
				SwarmID:   swarmID,
				Type:      swarm.EventAllComplete,
				CreatedAt: now,
			})
			if err != nil {
				return err
			}
			swarmComplete = true
		}

		result = CompleteResult{Worker: w, SwarmComplete: swarmComplete, RemainingWorkers: remaining}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info(log.CatStore, "worker complete",
		"swarm_id", swarmID, "packet_id", p.PacketID,
		"swarm_complete", result.SwarmComplete, "remaining", result.RemainingWorkers)
	s.notify(pubsub.AppendedEvent, Change{SwarmID: swarmID, LastEventID: lastEventID, SwarmStatus: sw.Status})
	return &result, nil
}

// ErrorParams carries the validated fields of an error report.
// Recoverable is the retry policy's verdict; ClaimedRecoverable is what
// the worker asserted and is preserved in event_data when they disagree.
type ErrorParams struct {
	PacketID           int
	TaskID             string
	ErrorType          string
	Message            string
	Recoverable        bool
	ClaimedRecoverable bool
}

// RecordError appends a worker_error event; when the error is not
// recoverable it also fails the worker and the swarm in the same
// transaction. The event is appended even for workers already terminal so
// the log stays truthful for post-mortems.
func (s *Store) RecordError(ctx context.Context, swarmID string, p ErrorParams) (*swarm.Worker, error) {
	now := s.stamp()

	var (
		w           *swarm.Worker
		sw          *swarm.Swarm
		lastEventID int64
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		sw, err = fetchSwarm(ctx, tx, swarmID)
		if err != nil {
			return err
		}
		w, err = fetchWorker(ctx, tx, swarmID, p.PacketID)
		if err != nil {
			return err
		}

		data := map[string]any{}
		if p.ClaimedRecoverable != p.Recoverable {
			data["claimed_recoverable"] = p.ClaimedRecoverable
		}
		recoverable := p.Recoverable
		lastEventID, err = insertEvent(ctx, tx, &swarm.Event{
			SwarmID:      swarmID,
			PacketID:     &p.PacketID,
			Type:         swarm.EventWorkerError,
			TaskID:       &p.TaskID,
			ErrorType:    &p.ErrorType,
			ErrorMessage: &p.Message,
			Recoverable:  &recoverable,
			CreatedAt:    now,
			Data:         marshalEventData(data),
		})
		if err != nil {
			return err
		}

		if !p.Recoverable {
			if !w.Status.IsTerminal() {
				if err := w.TransitionTo(swarm.WorkerFailed, now); err != nil {
					return err
				}
				w.CurrentTaskID = &p.TaskID
				w.ErrorType = &p.ErrorType
				w.ErrorMessage = &p.Message
				if err := updateWorkerRow(ctx, tx, w); err != nil {
					return err
				}
			}
			if sw.Status == swarm.SwarmRunning {
				if err := sw.TransitionTo(swarm.SwarmFailed, now); err != nil {
					return err
				}
				if err := updateSwarmRow(ctx, tx, sw); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Warn(log.CatStore, "worker error recorded",
		"swarm_id", swarmID, "packet_id", p.PacketID,
		"error_type", p.ErrorType, "recoverable", p.Recoverable)
	s.notify(pubsub.AppendedEvent, Change{SwarmID: swarmID, LastEventID: lastEventID, SwarmStatus: sw.Status})
	return w, nil
}

// RecordHeartbeat stamps a worker's liveness and appends a heartbeat
// event.
func (s *Store) RecordHeartbeat(ctx context.Context, swarmID string, packetID int) (*swarm.Worker, error) {
	now := s.stamp()

	var (
		w           *swarm.Worker
		sw          *swarm.Swarm
		lastEventID int64
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		sw, err = fetchSwarm(ctx, tx, swarmID)
		if err != nil {
			return err
		}
		w, err = fetchWorker(ctx, tx, swarmID, packetID)
		if err != nil {
			return err
		}
		if w.Status.IsTerminal() {
			return &RuleError{Field: "packet_id", Reason: fmt.Sprintf("worker is %s", w.Status)}
		}

		t := now
		w.LastHeartbeatAt = &t
		w.UpdatedAt = now
		if err := updateWorkerRow(ctx, tx, w); err != nil {
			return err
		}

		lastEventID, err = insertEvent(ctx, tx, &swarm.Event{
			SwarmID:   swarmID,
			PacketID:  &packetID,
			Type:      swarm.EventHeartbeat,
			CreatedAt: now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notify(pubsub.AppendedEvent, Change{SwarmID: swarmID, LastEventID: lastEventID, SwarmStatus: sw.Status})
	return w, nil
}

// GetEvents returns the events of a swarm with event_id > sinceEventID in
// ascending id order.
func (s *Store) GetEvents(ctx context.Context, swarmID string, sinceEventID int64) ([]swarm.Event, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE swarm_id = ? AND event_id > ?
		 ORDER BY event_id ASC`,
		swarmID, sinceEventID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []swarm.Event
	for rows.Next() {
		m, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		e, err := m.toDomain()
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return events, nil
}

// StatusSummary is the computed view of one swarm: the swarm row, its
// workers, and aggregate counters derived from them.
type StatusSummary struct {
	Swarm           swarm.Swarm
	Workers         []swarm.Worker
	WorkersByStatus map[swarm.WorkerStatus]int
	TasksCompleted  int
	TasksTotal      int
}

// GetSwarmStatus loads the swarm and its workers and computes the
// aggregates. Counters come from the worker rows, never from cached or
// hardcoded values.
func (s *Store) GetSwarmStatus(ctx context.Context, swarmID string) (*StatusSummary, error) {
	sw, err := fetchSwarm(ctx, s.conn, swarmID)
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+workerColumns+` FROM workers
		 WHERE swarm_id = ? ORDER BY packet_id ASC`, swarmID)
	if err != nil {
		return nil, fmt.Errorf("query workers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	summary := &StatusSummary{
		Swarm:           *sw,
		WorkersByStatus: make(map[swarm.WorkerStatus]int),
	}
	for rows.Next() {
		m, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("scan worker row: %w", err)
		}
		w, err := m.toDomain()
		if err != nil {
			return nil, err
		}
		summary.Workers = append(summary.Workers, *w)
		summary.WorkersByStatus[w.Status]++
		summary.TasksCompleted += w.TasksCompleted
		summary.TasksTotal += w.TasksTotal
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate worker rows: %w", err)
	}
	return summary, nil
}

// CountActiveSwarms counts swarms that are not terminal.
func (s *Store) CountActiveSwarms(ctx context.Context) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM swarms WHERE status IN (?, ?)`,
		string(swarm.SwarmCreated), string(swarm.SwarmRunning)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active swarms: %w", err)
	}
	return n, nil
}

// CountWorkers counts all workers across all swarms.
func (s *Store) CountWorkers(ctx context.Context) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM workers`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count workers: %w", err)
	}
	return n, nil
}

// CleanupOldSwarms deletes terminal swarms whose last update is older than
// the cutoff. Workers and events cascade with their swarm. Returns the
// number of swarms removed.
func (s *Store) CleanupOldSwarms(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := formatTime(s.stamp().Add(-olderThan))

	var removed []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT swarm_id FROM swarms
			 WHERE status IN (?, ?) AND updated_at < ?`,
			string(swarm.SwarmComplete), string(swarm.SwarmFailed), cutoff)
		if err != nil {
			return fmt.Errorf("query old swarms: %w", err)
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("scan swarm id: %w", err)
			}
			removed = append(removed, id)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate old swarms: %w", err)
		}
		if len(removed) == 0 {
			return nil
		}

		_, err = tx.ExecContext(ctx,
			`DELETE FROM swarms WHERE status IN (?, ?) AND updated_at < ?`,
			string(swarm.SwarmComplete), string(swarm.SwarmFailed), cutoff)
		if err != nil {
			return fmt.Errorf("delete old swarms: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, id := range removed {
		s.notify(pubsub.DeletedEvent, Change{SwarmID: id})
	}
	if len(removed) > 0 {
		log.Info(log.CatCleanup, "old swarms removed", "count", len(removed))
	}
	return len(removed), nil
}
