// Package paths provides path resolution utilities.
package paths

import (
	"os"
	"path/filepath"
)

const (
	// EnvStateDir overrides the state directory location.
	EnvStateDir = "SPELLBOOK_STATE_DIR"

	stateDirName = ".spellbook"
	dbFileName   = "spellbook.db"
	logFileName  = "spellbook.log"
)

// StateDir resolves the spellbook state directory.
//
// Resolution order:
//   - explicit non-empty path argument
//   - SPELLBOOK_STATE_DIR environment variable
//   - ~/.spellbook
//   - ./.spellbook when the home directory cannot be determined
//
// The directory itself is not created here; the store and logger create
// what they need with appropriate modes.
func StateDir(explicit string) string {
	if explicit != "" {
		return filepath.Clean(explicit)
	}
	if env := os.Getenv(EnvStateDir); env != "" {
		return filepath.Clean(env)
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return stateDirName
	}
	return filepath.Join(home, stateDirName)
}

// DBPath resolves the SQLite database file path. An explicit path wins;
// otherwise the file lives in the state directory.
func DBPath(explicit string) string {
	if explicit != "" {
		return filepath.Clean(explicit)
	}
	return filepath.Join(StateDir(""), dbFileName)
}

// LogPath resolves the daemon log file path.
func LogPath(explicit string) string {
	if explicit != "" {
		return filepath.Clean(explicit)
	}
	return filepath.Join(StateDir(""), logFileName)
}

// CheckpointDir returns the checkpoint directory for a worker worktree.
// Worker helpers write their dual-write markers under this directory.
func CheckpointDir(worktree string) string {
	return filepath.Join(worktree, stateDirName, "checkpoints")
}
