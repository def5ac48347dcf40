package store

import (
	"fmt"
	"time"

	"github.com/spellbook-dev/spellbook/internal/swarm"
)

// Timestamps are stored as RFC 3339 UTC text truncated to whole seconds,
// so lexicographic comparison in SQL equals chronological comparison and
// every value serializes with the trailing Z the wire format requires.
const timeLayout = time.RFC3339

func formatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseTimePtr(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := parseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// swarmColumns is the list of columns to select for swarm queries.
const swarmColumns = `swarm_id, feature, manifest_path, status, auto_merge,
	notify_on_complete, created_at, updated_at, completed_at`

// swarmModel represents the database row for the swarms table.
type swarmModel struct {
	SwarmID          string
	Feature          string
	ManifestPath     string
	Status           string
	AutoMerge        bool
	NotifyOnComplete bool
	CreatedAt        string
	UpdatedAt        string
	CompletedAt      *string
}

// scanSwarm scans a row into a swarmModel.
func scanSwarm(scanner interface{ Scan(...any) error }) (*swarmModel, error) {
	var m swarmModel
	err := scanner.Scan(
		&m.SwarmID, &m.Feature, &m.ManifestPath, &m.Status,
		&m.AutoMerge, &m.NotifyOnComplete,
		&m.CreatedAt, &m.UpdatedAt, &m.CompletedAt,
	)
	return &m, err
}

func (m *swarmModel) toDomain() (*swarm.Swarm, error) {
	createdAt, err := parseTime(m.CreatedAt)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseTime(m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	completedAt, err := parseTimePtr(m.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &swarm.Swarm{
		ID:               m.SwarmID,
		Feature:          m.Feature,
		ManifestPath:     m.ManifestPath,
		Status:           swarm.SwarmStatus(m.Status),
		AutoMerge:        m.AutoMerge,
		NotifyOnComplete: m.NotifyOnComplete,
		CreatedAt:        createdAt,
		UpdatedAt:        updatedAt,
		CompletedAt:      completedAt,
	}, nil
}

// workerColumns is the list of columns to select for worker queries.
const workerColumns = `swarm_id, packet_id, packet_name, status, worktree,
	tasks_total, tasks_completed, current_task_id, last_commit,
	final_commit, tests_passed, review_passed, error_type, error_message,
	registered_at, updated_at, completed_at, last_heartbeat_at`

// workerModel represents the database row for the workers table.
type workerModel struct {
	SwarmID         string
	PacketID        int
	PacketName      string
	Status          string
	Worktree        string
	TasksTotal      int
	TasksCompleted  int
	CurrentTaskID   *string
	LastCommit      *string
	FinalCommit     *string
	TestsPassed     *bool
	ReviewPassed    *bool
	ErrorType       *string
	ErrorMessage    *string
	RegisteredAt    string
	UpdatedAt       string
	CompletedAt     *string
	LastHeartbeatAt *string
}

// scanWorker scans a row into a workerModel.
func scanWorker(scanner interface{ Scan(...any) error }) (*workerModel, error) {
	var m workerModel
	err := scanner.Scan(
		&m.SwarmID, &m.PacketID, &m.PacketName, &m.Status, &m.Worktree,
		&m.TasksTotal, &m.TasksCompleted, &m.CurrentTaskID, &m.LastCommit,
		&m.FinalCommit, &m.TestsPassed, &m.ReviewPassed,
		&m.ErrorType, &m.ErrorMessage,
		&m.RegisteredAt, &m.UpdatedAt, &m.CompletedAt, &m.LastHeartbeatAt,
	)
	return &m, err
}

func (m *workerModel) toDomain() (*swarm.Worker, error) {
	registeredAt, err := parseTime(m.RegisteredAt)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseTime(m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	completedAt, err := parseTimePtr(m.CompletedAt)
	if err != nil {
		return nil, err
	}
	lastHeartbeatAt, err := parseTimePtr(m.LastHeartbeatAt)
	if err != nil {
		return nil, err
	}
	return &swarm.Worker{
		SwarmID:         m.SwarmID,
		PacketID:        m.PacketID,
		PacketName:      m.PacketName,
		Worktree:        m.Worktree,
		Status:          swarm.WorkerStatus(m.Status),
		TasksTotal:      m.TasksTotal,
		TasksCompleted:  m.TasksCompleted,
		CurrentTaskID:   m.CurrentTaskID,
		LastCommit:      m.LastCommit,
		FinalCommit:     m.FinalCommit,
		TestsPassed:     m.TestsPassed,
		ReviewPassed:    m.ReviewPassed,
		ErrorType:       m.ErrorType,
		ErrorMessage:    m.ErrorMessage,
		RegisteredAt:    registeredAt,
		UpdatedAt:       updatedAt,
		CompletedAt:     completedAt,
		LastHeartbeatAt: lastHeartbeatAt,
	}, nil
}

// eventColumns is the list of columns to select for event queries.
const eventColumns = `event_id, swarm_id, packet_id, event_type, task_id,
	task_name, commit_sha, error_type, error_message, recoverable,
	event_data, created_at`

// eventModel represents the database row for the events table.
type eventModel struct {
	EventID      int64
	SwarmID      string
	PacketID     *int
	EventType    string
	TaskID       *string
	TaskName     *string
	CommitSHA    *string
	ErrorType    *string
	ErrorMessage *string
	Recoverable  *bool
	EventData    *string
	CreatedAt    string
}

// scanEvent scans a row into an eventModel.
func scanEvent(scanner interface{ Scan(...any) error }) (*eventModel, error) {
	var m eventModel
	err := scanner.Scan(
		&m.EventID, &m.SwarmID, &m.PacketID, &m.EventType,
		&m.TaskID, &m.TaskName, &m.CommitSHA,
		&m.ErrorType, &m.ErrorMessage, &m.Recoverable,
		&m.EventData, &m.CreatedAt,
	)
	return &m, err
}

func (m *eventModel) toDomain() (*swarm.Event, error) {
	createdAt, err := parseTime(m.CreatedAt)
	if err != nil {
		return nil, err
	}
	var data []byte
	if m.EventData != nil {
		data = []byte(*m.EventData)
	}
	return &swarm.Event{
		ID:           m.EventID,
		SwarmID:      m.SwarmID,
		PacketID:     m.PacketID,
		Type:         swarm.EventType(m.EventType),
		TaskID:       m.TaskID,
		TaskName:     m.TaskName,
		Commit:       m.CommitSHA,
		ErrorType:    m.ErrorType,
		ErrorMessage: m.ErrorMessage,
		Recoverable:  m.Recoverable,
		Data:         data,
		CreatedAt:    createdAt,
	}, nil
}
