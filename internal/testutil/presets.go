package testutil

// WithStandardWorkers adds the standard three-worker dataset: one still
// registered, one mid-progress, one complete. Status endpoints see every
// worker state except failed.
func (b *SwarmBuilder) WithStandardWorkers() *SwarmBuilder {
	return b.
		WithWorker(1, "core-api", 5).
		WithWorker(2, "web-ui", 4, Progress(2)).
		WithWorker(3, "docs", 3, Completed("abcdef1234567"))
}

// WithFanInWorkers adds two workers with the first already complete, so the
// swarm is one completion away from all_complete.
func (b *SwarmBuilder) WithFanInWorkers() *SwarmBuilder {
	return b.
		WithWorker(1, "core-api", 3, Completed("abcdef1")).
		WithWorker(2, "web-ui", 3, Progress(1))
}

// WithFailedWorker adds a single worker that reported a non-recoverable
// build failure, leaving the worker and the swarm failed.
func (b *SwarmBuilder) WithFailedWorker() *SwarmBuilder {
	return b.WithWorker(1, "core-api", 3, Failed("build_failure", "compile error in main.go"))
}
