package client

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Checkpoint is the on-disk record of the last report a worker made (or
// was about to make). It is written before the corresponding HTTP call,
// so after a crash the file is never behind what the server may have
// heard.
type Checkpoint struct {
	Event          string    `json:"event"`
	Timestamp      time.Time `json:"timestamp"`
	PacketID       int       `json:"packet_id"`
	PacketName     string    `json:"packet_name"`
	TasksCompleted int       `json:"tasks_completed"`
	TasksTotal     int       `json:"tasks_total"`

	// Event-specific fields, omitted when not applicable.
	TaskID       string `json:"task_id,omitempty"`
	TaskName     string `json:"task_name,omitempty"`
	Status       string `json:"status,omitempty"`
	Commit       string `json:"commit,omitempty"`
	FinalCommit  string `json:"final_commit,omitempty"`
	TestsPassed  *bool  `json:"tests_passed,omitempty"`
	ReviewPassed *bool  `json:"review_passed,omitempty"`
	ErrorType    string `json:"error_type,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Recoverable  *bool  `json:"recoverable,omitempty"`
}

// Checkpoint event names.
const (
	CheckpointRegistered = "registered"
	CheckpointProgress   = "progress"
	CheckpointComplete   = "complete"
	CheckpointError      = "error"
)

// writeCheckpoint persists cp at path. Parents are created; the write
// goes to a temp file in the same directory and is renamed into place,
// which is atomic on POSIX, so a reader never sees a torn record.
func writeCheckpoint(path string, cp Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating checkpoint directory: %w", err)
	}

	temp, err := os.CreateTemp(dir, ".checkpoint.json.tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := temp.Name()

	if _, err := temp.Write(data); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}

	return nil
}

// ReadCheckpoint loads a checkpoint file, typically during crash
// recovery. os.IsNotExist on the returned error distinguishes "never
// checkpointed" from a corrupt record.
func ReadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parsing checkpoint %s: %w", path, err)
	}
	return &cp, nil
}
