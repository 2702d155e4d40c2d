package taskname

// Task type names shared between the engine (enqueuer) and the worker.
const (
	GrantRetry = "grant:retry"
)
