// Package runner defines the abstract execution backend the engine submits
// jobs to. Concrete backends (local process, SSH host, batch scheduler) live
// behind this interface; the engine only ever sees handles and statuses.
package runner

import "context"

// Status is the backend's view of a submitted job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	// StatusUnknown is a legitimate, non-terminal answer: the backend cannot
	// say right now. The scheduler retries observation rather than guessing.
	StatusUnknown Status = "unknown"
)

// Terminal reports whether the backend considers the job finished.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Handle identifies a submitted job on a specific backend.
type Handle struct {
	ID         string // Backend-assigned identifier (pid, slurm job id, ...)
	RunnerType string
	Cluster    string
}

// WorkSpec is everything a backend needs to start a job.
type WorkSpec struct {
	JobID      string
	JobName    string
	Template   string
	Parameters map[string]string
}

// RetrieveResult is the outcome of collecting a finished job's artifacts.
type RetrieveResult struct {
	Success      bool
	FinalMetrics map[string]string
	Errors       []string
	Warnings     []string
}

// Runner is the execution backend contract. All methods take a context; the
// engine never holds its scheduler lock across these calls.
type Runner interface {
	// Submit starts the job and returns a handle. Failures are reported as
	// *models.SubmissionError by the caller.
	Submit(ctx context.Context, spec WorkSpec) (Handle, error)
	// Status reports the backend's current view of the job.
	Status(ctx context.Context, h Handle) (Status, error)
	// Cancel requests termination. Best effort: a nil error means the request
	// was delivered, not that the job stopped.
	Cancel(ctx context.Context, h Handle) error
	// StreamOutput returns a lazy line sequence that ends when the backend
	// reports a terminal status or ctx is cancelled.
	StreamOutput(ctx context.Context, h Handle) (<-chan string, error)
	// RetrieveResults copies the job's artifacts to destination and returns
	// final metrics plus any errors/warnings the backend recorded.
	RetrieveResults(ctx context.Context, h Handle, destination string) (RetrieveResult, error)
}
