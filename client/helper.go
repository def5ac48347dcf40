package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spellbook-dev/spellbook/api"
	"github.com/spellbook-dev/spellbook/internal/log"
	"github.com/spellbook-dev/spellbook/internal/paths"
)

// Task progress statuses accepted by the server.
const (
	TaskStarted   = "started"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// Helper reports one packet's work to the coordination server. Every
// report is a dual write: the checkpoint file lands on disk first, then
// the HTTP call goes out. So whatever the server may have heard is never
// fresher than the local marker, and a crashed worker resumes from a
// state it actually claimed.
//
// Safe for concurrent use; the tasks_completed counter is guarded.
type Helper struct {
	client *Client

	swarmID    string
	packetID   int
	packetName string
	worktree   string
	tasksTotal int

	checkpointPath string

	mu             sync.Mutex
	tasksCompleted int
	counted        map[string]bool // task ids already counted as completed
}

// HelperConfig identifies the packet a Helper reports for.
type HelperConfig struct {
	SwarmID    string
	PacketID   int
	PacketName string
	Worktree   string
	TasksTotal int
}

func (cfg HelperConfig) validate() error {
	if cfg.SwarmID == "" {
		return errors.New("helper: swarm id is required")
	}
	if cfg.PacketID <= 0 {
		return fmt.Errorf("helper: packet id must be positive, got %d", cfg.PacketID)
	}
	if cfg.PacketName == "" {
		return errors.New("helper: packet name is required")
	}
	if cfg.Worktree == "" {
		return errors.New("helper: worktree is required")
	}
	if cfg.TasksTotal < 1 {
		return fmt.Errorf("helper: tasks total must be at least 1, got %d", cfg.TasksTotal)
	}
	return nil
}

// NewHelper binds a client to one (swarm, packet) identity.
func NewHelper(c *Client, cfg HelperConfig) (*Helper, error) {
	if c == nil {
		return nil, errors.New("helper: client is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Helper{
		client:     c,
		swarmID:    cfg.SwarmID,
		packetID:   cfg.PacketID,
		packetName: cfg.PacketName,
		worktree:   cfg.Worktree,
		tasksTotal: cfg.TasksTotal,
		counted:    make(map[string]bool),
		checkpointPath: filepath.Join(
			paths.CheckpointDir(cfg.Worktree),
			fmt.Sprintf("packet-%d-%s.json", cfg.PacketID, cfg.PacketName),
		),
	}, nil
}

// CheckpointPath returns where this helper writes its dual-write marker.
func (h *Helper) CheckpointPath() string {
	return h.checkpointPath
}

// TasksCompleted returns the in-process counter.
func (h *Helper) TasksCompleted() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tasksCompleted
}

// Progress describes one task-level report.
type Progress struct {
	TaskID   string
	TaskName string
	// Status is one of TaskStarted, TaskCompleted, TaskFailed. A
	// TaskCompleted report advances the counter.
	Status string
	// Commit is the hash produced by the task, if any.
	Commit string
}

// Completion describes the packet-level final report.
type Completion struct {
	FinalCommit  string
	TestsPassed  bool
	ReviewPassed bool
}

// TaskError describes a failure report. Recoverable is the worker's own
// claim; the server classifies independently and its answer wins.
type TaskError struct {
	TaskID      string
	ErrorType   string
	Message     string
	Recoverable bool
}

// Register announces the worker. The checkpoint hits disk before the
// request, like every other report.
func (h *Helper) Register(ctx context.Context) (*api.RegisterWorkerResponse, error) {
	h.mu.Lock()
	err := writeCheckpoint(h.checkpointPath, h.record(CheckpointRegistered))
	h.mu.Unlock()
	if err != nil {
		return nil, err
	}

	resp, err := h.client.RegisterWorker(ctx, h.swarmID, api.RegisterWorkerRequest{
		PacketID:   h.packetID,
		PacketName: h.packetName,
		TasksTotal: h.tasksTotal,
		Worktree:   h.worktree,
	})
	if err != nil {
		return nil, err
	}
	log.Debug(log.CatClient, "worker registered",
		"swarm_id", h.swarmID, "packet_id", h.packetID)
	return resp, nil
}

// ReportProgress records a task report. A TaskCompleted status advances
// the counter before the checkpoint is written; each task id is counted
// once, so retrying a report after a network failure re-sends the same
// counter instead of claiming the task twice. If the checkpoint cannot
// be written the counter is rolled back and no request is made.
func (h *Helper) ReportProgress(ctx context.Context, p Progress) (*api.ProgressResponse, error) {
	h.mu.Lock()
	advanced := false
	if p.Status == TaskCompleted && !h.counted[p.TaskID] {
		h.counted[p.TaskID] = true
		h.tasksCompleted++
		advanced = true
	}
	completed := h.tasksCompleted

	cp := h.record(CheckpointProgress)
	cp.TaskID = p.TaskID
	cp.TaskName = p.TaskName
	cp.Status = p.Status
	cp.Commit = p.Commit
	if err := writeCheckpoint(h.checkpointPath, cp); err != nil {
		if advanced {
			delete(h.counted, p.TaskID)
			h.tasksCompleted--
		}
		h.mu.Unlock()
		return nil, err
	}
	h.mu.Unlock()

	return h.client.ReportProgress(ctx, h.swarmID, api.ProgressRequest{
		PacketID:       h.packetID,
		TaskID:         p.TaskID,
		TaskName:       p.TaskName,
		Status:         p.Status,
		TasksCompleted: completed,
		TasksTotal:     h.tasksTotal,
		Commit:         p.Commit,
	})
}

// ReportComplete records the packet's final report.
func (h *Helper) ReportComplete(ctx context.Context, c Completion) (*api.CompleteResponse, error) {
	h.mu.Lock()
	cp := h.record(CheckpointComplete)
	cp.FinalCommit = c.FinalCommit
	cp.TestsPassed = &c.TestsPassed
	cp.ReviewPassed = &c.ReviewPassed
	err := writeCheckpoint(h.checkpointPath, cp)
	h.mu.Unlock()
	if err != nil {
		return nil, err
	}

	resp, err := h.client.ReportComplete(ctx, h.swarmID, api.CompleteRequest{
		PacketID:     h.packetID,
		FinalCommit:  c.FinalCommit,
		TestsPassed:  c.TestsPassed,
		ReviewPassed: c.ReviewPassed,
	})
	if err != nil {
		return nil, err
	}
	log.Debug(log.CatClient, "worker complete",
		"swarm_id", h.swarmID, "packet_id", h.packetID,
		"swarm_complete", resp.SwarmComplete)
	return resp, nil
}

// ReportError records a failure and returns the server's retry advice.
func (h *Helper) ReportError(ctx context.Context, e TaskError) (*api.ErrorReportResponse, error) {
	h.mu.Lock()
	cp := h.record(CheckpointError)
	cp.TaskID = e.TaskID
	cp.ErrorType = e.ErrorType
	cp.ErrorMessage = e.Message
	cp.Recoverable = &e.Recoverable
	err := writeCheckpoint(h.checkpointPath, cp)
	h.mu.Unlock()
	if err != nil {
		return nil, err
	}

	return h.client.ReportError(ctx, h.swarmID, api.ErrorReportRequest{
		PacketID:    h.packetID,
		TaskID:      e.TaskID,
		ErrorType:   e.ErrorType,
		Message:     e.Message,
		Recoverable: e.Recoverable,
	})
}

// Heartbeat pings liveness. It carries no claim about work done, so
// nothing is checkpointed.
func (h *Helper) Heartbeat(ctx context.Context) (*api.HeartbeatResponse, error) {
	return h.client.Heartbeat(ctx, h.swarmID, h.packetID)
}

// ResumeFromDisk loads this packet's checkpoint and seeds the counter
// from it. Returns nil without error when no checkpoint exists, which is
// the fresh-start case. The checkpoint tells a resuming worker how many
// tasks it already claimed; skipping those tasks is the worker's job.
func (h *Helper) ResumeFromDisk() (*Checkpoint, error) {
	cp, err := ReadCheckpoint(h.checkpointPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	h.mu.Lock()
	h.tasksCompleted = cp.TasksCompleted
	if cp.Status == TaskCompleted && cp.TaskID != "" {
		h.counted[cp.TaskID] = true
	}
	h.mu.Unlock()

	log.Info(log.CatClient, "resumed from checkpoint",
		"swarm_id", h.swarmID, "packet_id", h.packetID,
		"event", cp.Event, "tasks_completed", cp.TasksCompleted)
	return cp, nil
}

// record snapshots the identity fields shared by every checkpoint.
// Callers hold h.mu.
func (h *Helper) record(event string) Checkpoint {
	return Checkpoint{
		Event:          event,
		Timestamp:      time.Now().UTC(),
		PacketID:       h.packetID,
		PacketName:     h.packetName,
		TasksCompleted: h.tasksCompleted,
		TasksTotal:     h.tasksTotal,
	}
}
