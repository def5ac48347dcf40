// Package swarm defines the coordination domain: swarms, workers, and the
// append-only event log that records everything that happens to them.
package swarm

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// SwarmStatus is the lifecycle state of a swarm.
type SwarmStatus string

const (
	SwarmCreated  SwarmStatus = "created"
	SwarmRunning  SwarmStatus = "running"
	SwarmComplete SwarmStatus = "complete"
	SwarmFailed   SwarmStatus = "failed"
)

// swarmTransitions defines the legal swarm state machine.
// A swarm's status is a pure function of its workers: the first
// registration flips it to running; fan-in of completions or a terminal
// worker failure ends it.
var swarmTransitions = map[SwarmStatus]map[SwarmStatus]bool{
	SwarmCreated: {
		SwarmRunning: true,
	},
	SwarmRunning: {
		SwarmComplete: true,
		SwarmFailed:   true,
	},
	SwarmComplete: {},
	SwarmFailed:   {},
}

// CanTransitionTo reports whether moving to target is legal.
func (s SwarmStatus) CanTransitionTo(target SwarmStatus) bool {
	return swarmTransitions[s][target]
}

// IsTerminal reports whether no further transitions are possible.
func (s SwarmStatus) IsTerminal() bool {
	return len(swarmTransitions[s]) == 0
}

// ValidTargets returns the states reachable from s.
func (s SwarmStatus) ValidTargets() []SwarmStatus {
	targets := make([]SwarmStatus, 0, len(swarmTransitions[s]))
	for t := range swarmTransitions[s] {
		targets = append(targets, t)
	}
	return targets
}

// WorkerStatus is the lifecycle state of a worker.
type WorkerStatus string

const (
	WorkerRegistered WorkerStatus = "registered"
	WorkerRunning    WorkerStatus = "running"
	WorkerComplete   WorkerStatus = "complete"
	WorkerFailed     WorkerStatus = "failed"
)

// workerTransitions defines the legal worker state machine. A worker that
// hits a non-recoverable error before its first progress report fails
// straight from registered.
var workerTransitions = map[WorkerStatus]map[WorkerStatus]bool{
	WorkerRegistered: {
		WorkerRunning: true,
		WorkerFailed:  true,
	},
	WorkerRunning: {
		WorkerComplete: true,
		WorkerFailed:   true,
	},
	WorkerComplete: {},
	WorkerFailed:   {},
}

// CanTransitionTo reports whether moving to target is legal.
func (s WorkerStatus) CanTransitionTo(target WorkerStatus) bool {
	return workerTransitions[s][target]
}

// IsTerminal reports whether no further transitions are possible.
func (s WorkerStatus) IsTerminal() bool {
	return len(workerTransitions[s]) == 0
}

// EventType identifies what an event log row records.
type EventType string

const (
	EventWorkerRegistered EventType = "worker_registered"
	EventProgress         EventType = "progress"
	EventWorkerComplete   EventType = "worker_complete"
	EventWorkerError      EventType = "worker_error"
	EventAllComplete      EventType = "all_complete"
	EventHeartbeat        EventType = "heartbeat"
)

// IsValid reports whether t is one of the defined event types.
func (t EventType) IsValid() bool {
	switch t {
	case EventWorkerRegistered, EventProgress, EventWorkerComplete,
		EventWorkerError, EventAllComplete, EventHeartbeat:
		return true
	}
	return false
}

// Swarm is one coordinated run over a decomposed feature.
type Swarm struct {
	ID               string
	Feature          string
	ManifestPath     string
	Status           SwarmStatus
	AutoMerge        bool
	NotifyOnComplete bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
}

// TransitionTo moves the swarm to the target status, stamping UpdatedAt
// and CompletedAt (on terminal states) with now.
func (s *Swarm) TransitionTo(target SwarmStatus, now time.Time) error {
	if !s.Status.CanTransitionTo(target) {
		return fmt.Errorf("invalid swarm transition from %s to %s", s.Status, target)
	}
	s.Status = target
	s.UpdatedAt = now
	if target.IsTerminal() {
		t := now
		s.CompletedAt = &t
	}
	return nil
}

// Worker is one packet executor inside a swarm, identified by
// (SwarmID, PacketID). CurrentTaskID and LastCommit track the most recent
// progress report; ErrorType and ErrorMessage record why a failed worker
// failed.
type Worker struct {
	SwarmID         string
	PacketID        int
	PacketName      string
	Worktree        string
	Status          WorkerStatus
	TasksTotal      int
	TasksCompleted  int
	CurrentTaskID   *string
	LastCommit      *string
	FinalCommit     *string
	TestsPassed     *bool
	ReviewPassed    *bool
	ErrorType       *string
	ErrorMessage    *string
	RegisteredAt    time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
	LastHeartbeatAt *time.Time
}

// TransitionTo moves the worker to the target status, stamping UpdatedAt
// and CompletedAt (on terminal states) with now.
func (w *Worker) TransitionTo(target WorkerStatus, now time.Time) error {
	if !w.Status.CanTransitionTo(target) {
		return fmt.Errorf("invalid worker transition from %s to %s", w.Status, target)
	}
	w.Status = target
	w.UpdatedAt = now
	if target.IsTerminal() {
		t := now
		w.CompletedAt = &t
	}
	return nil
}

// Event is one row of the append-only log. IDs are assigned by the store
// and strictly increase; they are never reused.
type Event struct {
	ID           int64
	SwarmID      string
	PacketID     *int
	Type         EventType
	TaskID       *string
	TaskName     *string
	Commit       *string
	ErrorType    *string
	ErrorMessage *string
	Recoverable  *bool
	Data         []byte // free-form JSON payload, may be nil
	CreatedAt    time.Time
}

// swarmIDPattern matches generated swarm identifiers.
var swarmIDPattern = regexp.MustCompile(`^swarm-\d{8}-\d{6}-[0-9a-f]{6}$`)

// NewSwarmID generates a swarm identifier of the form
// swarm-YYYYMMDD-HHMMSS-xxxxxx, where the suffix is random hex. The
// timestamp makes IDs sortable by creation time at a glance; the suffix
// disambiguates swarms created in the same second.
func NewSwarmID(now time.Time) string {
	suffix := uuid.NewString()[:6]
	return fmt.Sprintf("swarm-%s-%s", now.UTC().Format("20060102-150405"), suffix)
}

// ValidSwarmID reports whether id has the generated shape.
func ValidSwarmID(id string) bool {
	return swarmIDPattern.MatchString(id)
}
