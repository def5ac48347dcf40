// Package api defines the wire contracts of the spellbook coordination
// server: request bodies, response bodies, and their validation rules.
// It has no dependencies on the server internals so worker-side programs
// can import it alongside the client package.
package api

import "time"

// Error codes returned in ErrorResponse.Code.
const (
	CodeInvalidJSON     = "invalid_json"
	CodeValidationError = "validation_error"
	CodeNotFound        = "not_found"
	CodeConflict        = "conflict"
	CodeStoreError      = "store_error"
)

// ErrorResponse is the body of every non-2xx response.
// Details maps field names to human-readable reasons on validation
// failures.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// CreateSwarmRequest creates a new swarm.
type CreateSwarmRequest struct {
	Feature      string `json:"feature" validate:"required"`
	ManifestPath string `json:"manifest_path" validate:"required"`
	AutoMerge    bool   `json:"auto_merge"`
	// NotifyOnComplete defaults to true when omitted.
	NotifyOnComplete *bool `json:"notify_on_complete"`
}

// CreateSwarmResponse echoes the created swarm and where to reach it.
type CreateSwarmResponse struct {
	SwarmID          string    `json:"swarm_id"`
	Endpoint         string    `json:"endpoint"`
	CreatedAt        time.Time `json:"created_at"`
	AutoMerge        bool      `json:"auto_merge"`
	NotifyOnComplete bool      `json:"notify_on_complete"`
}

// RegisterWorkerRequest announces a worker for one packet of the swarm.
type RegisterWorkerRequest struct {
	PacketID   int    `json:"packet_id" validate:"required,gt=0"`
	PacketName string `json:"packet_name" validate:"required,max=255,packet_name"`
	TasksTotal int    `json:"tasks_total" validate:"required,gte=1,lte=1000"`
	Worktree   string `json:"worktree" validate:"required"`
}

// RegisterWorkerResponse acknowledges a registration.
type RegisterWorkerResponse struct {
	Acknowledged bool      `json:"acknowledged"`
	SwarmID      string    `json:"swarm_id"`
	PacketID     int       `json:"packet_id"`
	WorkerStatus string    `json:"worker_status"`
	SwarmStatus  string    `json:"swarm_status"`
	Timestamp    time.Time `json:"timestamp"`
}

// ProgressRequest reports per-task progress for a packet.
type ProgressRequest struct {
	PacketID       int    `json:"packet_id" validate:"required,gt=0"`
	TaskID         string `json:"task_id" validate:"required,max=255"`
	TaskName       string `json:"task_name" validate:"required,max=500"`
	Status         string `json:"status" validate:"required,oneof=started completed failed"`
	TasksCompleted int    `json:"tasks_completed" validate:"gte=0,ltefield=TasksTotal"`
	TasksTotal     int    `json:"tasks_total" validate:"required,gt=0"`
	Commit         string `json:"commit,omitempty" validate:"omitempty,commit_sha"`
}

// ProgressResponse acknowledges a progress report with the stored counters.
type ProgressResponse struct {
	Acknowledged   bool      `json:"acknowledged"`
	PacketID       int       `json:"packet_id"`
	TasksCompleted int       `json:"tasks_completed"`
	TasksTotal     int       `json:"tasks_total"`
	Timestamp      time.Time `json:"timestamp"`
}

// CompleteRequest reports that a packet finished all of its tasks.
type CompleteRequest struct {
	PacketID     int    `json:"packet_id" validate:"required,gt=0"`
	FinalCommit  string `json:"final_commit" validate:"required,commit_sha"`
	TestsPassed  bool   `json:"tests_passed"`
	ReviewPassed bool   `json:"review_passed"`
}

// CompleteResponse acknowledges a completion and reports swarm fan-in.
// RemainingWorkers counts workers whose status is not complete.
type CompleteResponse struct {
	Acknowledged     bool      `json:"acknowledged"`
	SwarmComplete    bool      `json:"swarm_complete"`
	RemainingWorkers int       `json:"remaining_workers"`
	Timestamp        time.Time `json:"timestamp"`
}

// ErrorReportRequest reports a task failure from a worker.
type ErrorReportRequest struct {
	PacketID    int    `json:"packet_id" validate:"required,gt=0"`
	TaskID      string `json:"task_id" validate:"required,max=255"`
	ErrorType   string `json:"error_type" validate:"required,max=100"`
	Message     string `json:"message" validate:"required,max=5000"`
	Recoverable bool   `json:"recoverable"`
}

// ErrorReportResponse carries retry advice. RetryInSeconds is null when no
// retry is scheduled.
type ErrorReportResponse struct {
	Acknowledged   bool      `json:"acknowledged"`
	RetryScheduled bool      `json:"retry_scheduled"`
	RetryInSeconds *int      `json:"retry_in_seconds"`
	Timestamp      time.Time `json:"timestamp"`
}

// HeartbeatRequest is a worker liveness ping.
type HeartbeatRequest struct {
	PacketID int `json:"packet_id" validate:"required,gt=0"`
}

// HeartbeatResponse acknowledges a liveness ping.
type HeartbeatResponse struct {
	Acknowledged bool      `json:"acknowledged"`
	Timestamp    time.Time `json:"timestamp"`
}

// WorkerCounts aggregates workers of a swarm by status.
type WorkerCounts struct {
	Total      int `json:"total"`
	Registered int `json:"registered"`
	Running    int `json:"running"`
	Complete   int `json:"complete"`
	Failed     int `json:"failed"`
}

// TaskCounts aggregates task progress across all workers of a swarm.
type TaskCounts struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// WorkerDetail is one worker row in the status response. CurrentTaskID and
// LastCommit reflect the most recent progress report; ErrorType and
// ErrorMessage are set when the worker failed.
type WorkerDetail struct {
	PacketID        int        `json:"packet_id"`
	PacketName      string     `json:"packet_name"`
	Worktree        string     `json:"worktree"`
	Status          string     `json:"status"`
	TasksCompleted  int        `json:"tasks_completed"`
	TasksTotal      int        `json:"tasks_total"`
	CurrentTaskID   *string    `json:"current_task_id,omitempty"`
	LastCommit      *string    `json:"last_commit,omitempty"`
	FinalCommit     *string    `json:"final_commit,omitempty"`
	TestsPassed     *bool      `json:"tests_passed,omitempty"`
	ReviewPassed    *bool      `json:"review_passed,omitempty"`
	ErrorType       *string    `json:"error_type,omitempty"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
	RegisteredAt    time.Time  `json:"registered_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	LastHeartbeatAt *time.Time `json:"last_heartbeat_at,omitempty"`
}

// SwarmStatusResponse is the full computed view of one swarm.
type SwarmStatusResponse struct {
	SwarmID          string         `json:"swarm_id"`
	Feature          string         `json:"feature"`
	ManifestPath     string         `json:"manifest_path"`
	Status           string         `json:"status"`
	AutoMerge        bool           `json:"auto_merge"`
	NotifyOnComplete bool           `json:"notify_on_complete"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	Workers          WorkerCounts   `json:"workers"`
	Tasks            TaskCounts     `json:"tasks"`
	WorkerDetails    []WorkerDetail `json:"worker_details"`
}

// HealthResponse reports daemon liveness and store headline counts.
type HealthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	ActiveSwarms  int    `json:"active_swarms"`
	TotalWorkers  int    `json:"total_workers"`
	Version       string `json:"version"`
}

// EventPayload is the JSON object carried in each SSE data: line.
// The five core fields are always present (null when not applicable) so
// stream consumers can parse one stable shape; kind-specific extras are
// omitted when empty.
type EventPayload struct {
	EventType    string    `json:"event_type"`
	PacketID     *int      `json:"packet_id"`
	TaskID       *string   `json:"task_id"`
	Commit       *string   `json:"commit"`
	CreatedAt    time.Time `json:"created_at"`
	TaskName     *string   `json:"task_name,omitempty"`
	ErrorType    *string   `json:"error_type,omitempty"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	Recoverable  *bool     `json:"recoverable,omitempty"`
	SwarmID      string    `json:"swarm_id,omitempty"`
	EventData    ExtraData `json:"event_data,omitempty"`
}

// ExtraData is the kind-specific JSON blob attached to an event.
type ExtraData map[string]any
