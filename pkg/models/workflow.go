package models

import "time"

type WorkflowStatus string

const (
	PendingWorkflowStatus   WorkflowStatus = "PENDING"
	RunningWorkflowStatus   WorkflowStatus = "RUNNING"
	PausedWorkflowStatus    WorkflowStatus = "PAUSED"
	CompletedWorkflowStatus WorkflowStatus = "COMPLETED"
	FailedWorkflowStatus    WorkflowStatus = "FAILED"
	CancelledWorkflowStatus WorkflowStatus = "CANCELLED"
)

// Terminal reports whether the status is final for a workflow. PAUSED is not
// terminal: a paused workflow can be resumed.
func (s WorkflowStatus) Terminal() bool {
	return s == CompletedWorkflowStatus || s == FailedWorkflowStatus || s == CancelledWorkflowStatus
}

// Workflow is the persisted record of a registered workflow. The Definition
// column carries the registered definition as JSON so in-memory state can be
// rebuilt after a restart.
type Workflow struct {
	ID         string         `json:"id" db:"id"`
	Name       string         `json:"name" db:"name"`
	Status     WorkflowStatus `json:"status" db:"status"`
	Definition []byte         `json:"-" db:"definition"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at" db:"updated_at"`
}

// WorkflowState is the runtime state of one registered workflow, exclusively
// owned by the orchestrator. The three node sets are pairwise disjoint.
type WorkflowState struct {
	WorkflowID     string
	Status         WorkflowStatus
	CreatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
	CompletedNodes map[string]struct{}
	FailedNodes    map[string]struct{}
	RunningNodes   map[string]struct{}
	TotalNodes     int
}

// StateSnapshot is an immutable copy of a WorkflowState handed to callers.
type StateSnapshot struct {
	WorkflowID     string                `json:"workflow_id"`
	Status         WorkflowStatus        `json:"status"`
	CreatedAt      time.Time             `json:"created_at"`
	StartedAt      *time.Time            `json:"started_at,omitempty"`
	FinishedAt     *time.Time            `json:"finished_at,omitempty"`
	CompletedNodes []string              `json:"completed_nodes"`
	FailedNodes    []string              `json:"failed_nodes"`
	RunningNodes   []string              `json:"running_nodes"`
	NodeStatuses   map[string]NodeStatus `json:"node_statuses"`
	Progress       float64               `json:"progress"` // Settled fraction in [0,1]
}
