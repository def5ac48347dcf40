package testutil

import "fmt"

// workerSpec holds one worker's registration fields and the state to apply
// after it.
type workerSpec struct {
	packetID     int
	packetName   string
	worktree     string
	tasksTotal   int
	progress     int
	completed    bool
	finalCommit  string
	testsPassed  bool
	reviewPassed bool
	failed       bool
	failedTaskID string
	errorType    string
	errorMessage string
}

// defaultWorker returns a workerSpec with sensible defaults.
func defaultWorker(packetID int, packetName string, tasksTotal int) workerSpec {
	return workerSpec{
		packetID:   packetID,
		packetName: packetName,
		worktree:   fmt.Sprintf("/work/%s", packetName),
		tasksTotal: tasksTotal,
	}
}

// WorkerOption configures a worker during builder setup.
type WorkerOption func(*workerSpec)

// Worktree overrides the worker's worktree path.
func Worktree(path string) WorkerOption {
	return func(w *workerSpec) { w.worktree = path }
}

// Progress reports tasksCompleted tasks done, moving the worker to running.
func Progress(tasksCompleted int) WorkerOption {
	return func(w *workerSpec) { w.progress = tasksCompleted }
}

// Completed marks the worker complete with the given final commit and both
// outcome flags passing.
func Completed(finalCommit string) WorkerOption {
	return func(w *workerSpec) {
		w.completed = true
		w.finalCommit = finalCommit
		w.testsPassed = true
		w.reviewPassed = true
	}
}

// CompletedWith marks the worker complete with explicit outcome flags.
func CompletedWith(finalCommit string, testsPassed, reviewPassed bool) WorkerOption {
	return func(w *workerSpec) {
		w.completed = true
		w.finalCommit = finalCommit
		w.testsPassed = testsPassed
		w.reviewPassed = reviewPassed
	}
}

// Failed records an error report for the worker. The classifier decides
// whether it turns terminal, exactly as a live report would.
func Failed(errorType, message string) WorkerOption {
	return func(w *workerSpec) {
		w.failed = true
		w.failedTaskID = "task-failed"
		w.errorType = errorType
		w.errorMessage = message
	}
}
