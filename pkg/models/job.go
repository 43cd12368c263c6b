package models

import "time"

type JobStatus string

const (
	PendingJobStatus   JobStatus = "PENDING"
	QueuedJobStatus    JobStatus = "QUEUED"
	RunningJobStatus   JobStatus = "RUNNING"
	CompletedJobStatus JobStatus = "COMPLETED"
	FailedJobStatus    JobStatus = "FAILED"
	CancelledJobStatus JobStatus = "CANCELLED"
	UnknownJobStatus   JobStatus = "UNKNOWN"
)

// Terminal reports whether the status is final for a job. UNKNOWN is a
// legitimate non-terminal answer from a backend; the scheduler keeps polling.
func (s JobStatus) Terminal() bool {
	return s == CompletedJobStatus || s == FailedJobStatus || s == CancelledJobStatus
}

// QueuedJob is a unit of work admitted to the queue manager, independent of
// workflow membership. Dependencies are job ids, resolved at admission time.
type QueuedJob struct {
	ID           string            `json:"id" db:"id"`
	WorkflowID   string            `json:"workflow_id,omitempty" db:"workflow_id"`
	NodeID       string            `json:"node_id,omitempty" db:"node_id"`
	Name         string            `json:"name" db:"name"`
	Template     string            `json:"template" db:"template"`
	Parameters   map[string]string `json:"parameters" db:"-"`
	Dependencies []string          `json:"dependencies" db:"-"`
	Priority     int               `json:"priority" db:"priority"`
	Status       JobStatus         `json:"status" db:"status"`
	RunnerType   string            `json:"runner_type" db:"runner_type"`
	Cluster      string            `json:"cluster,omitempty" db:"cluster"`
	Handle       string            `json:"handle,omitempty" db:"handle"`
	ErrorMsg     string            `json:"error,omitempty" db:"error_msg"`
	EnqueuedAt   time.Time         `json:"enqueued_at" db:"enqueued_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty" db:"started_at"`
	FinishedAt   *time.Time        `json:"finished_at,omitempty" db:"finished_at"`
}
