package models

type NodeStatus string

const (
	PendingNodeStatus   NodeStatus = "PENDING"
	ReadyNodeStatus     NodeStatus = "READY"
	QueuedNodeStatus    NodeStatus = "QUEUED"
	RunningNodeStatus   NodeStatus = "RUNNING"
	CompletedNodeStatus NodeStatus = "COMPLETED"
	FailedNodeStatus    NodeStatus = "FAILED"
	SkippedNodeStatus   NodeStatus = "SKIPPED"
)

// Terminal reports whether the status is final for a node.
func (s NodeStatus) Terminal() bool {
	return s == CompletedNodeStatus || s == FailedNodeStatus || s == SkippedNodeStatus
}

// FailurePolicy governs what happens to the owning workflow when a node fails.
type FailurePolicy string

const (
	AbortPolicy          FailurePolicy = "ABORT"
	SkipDependentsPolicy FailurePolicy = "SKIP_DEPENDENTS"
	RetryPolicy          FailurePolicy = "RETRY"
	ContinuePolicy       FailurePolicy = "CONTINUE"
)

// ValidFailurePolicy reports whether p is one of the known policies.
func ValidFailurePolicy(p FailurePolicy) bool {
	switch p {
	case AbortPolicy, SkipDependentsPolicy, RetryPolicy, ContinuePolicy:
		return true
	}
	return false
}

// WorkflowNode is one step of a registered workflow. Nodes are created at
// registration time and mutated only by the orchestrator and its scheduler
// loop.
type WorkflowNode struct {
	NodeID             string            `json:"node_id"`                       // Unique within the workflow
	JobName            string            `json:"job_name"`                      // Descriptive name (e.g., "scf", "bands")
	Template           string            `json:"template"`                      // Calculation template handed to the runner
	Parameters         map[string]string `json:"parameters"`                    // Raw values, may contain ${...} expressions
	ResolvedParameters map[string]string `json:"resolved_parameters,omitempty"` // Nil until resolved
	Dependencies       []string          `json:"dependencies"`                  // Node IDs this node depends on
	Status             NodeStatus        `json:"status"`
	FailurePolicy      FailurePolicy     `json:"failure_policy"`
	FallbackPolicy     FailurePolicy     `json:"fallback_policy"` // Applied once RETRY is exhausted
	RetryCount         int               `json:"retry_count"`
	MaxRetries         int               `json:"max_retries"`
	Priority           int               `json:"priority"`
	RunnerType         string            `json:"runner_type"` // e.g., "local", "ssh", "slurm"
	Cluster            string            `json:"cluster,omitempty"`
	JobHandle          string            `json:"job_handle,omitempty"` // Empty until submitted
	JobID              string            `json:"job_id,omitempty"`     // Empty until enqueued
	Results            map[string]string `json:"results,omitempty"`    // Nil until completed
	ErrorMsg           string            `json:"error,omitempty"`      // Last failure message
}
