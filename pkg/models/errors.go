package models

import (
	"fmt"
	"strings"
)

// CircularDependencyError reports a cycle found while validating a dependency
// graph. Fatal to the registration (or enqueue) that produced it, nothing
// else.
type CircularDependencyError struct {
	Cycle []string // Node ids along the cycle, in traversal order
}

func (e *CircularDependencyError) Error() string {
	if len(e.Cycle) == 0 {
		return "circular dependency detected"
	}
	return fmt.Sprintf("circular dependency detected: %s", strings.Join(e.Cycle, " -> "))
}

// UnknownDependencyError reports an admission-time dependency on a job id the
// queue manager cannot see. Never conflated with a cycle.
type UnknownDependencyError struct {
	JobID      string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("job %q depends on unknown job %q", e.JobID, e.Dependency)
}

// DuplicateJobError reports an enqueue with an already-queued job id.
type DuplicateJobError struct {
	JobID string
}

func (e *DuplicateJobError) Error() string {
	return fmt.Sprintf("job %q already queued", e.JobID)
}

// ParameterResolutionError reports a failure rendering a node's parameters.
// It becomes a node failure subject to the node's failure policy.
type ParameterResolutionError struct {
	NodeID    string
	Parameter string
	Detail    string
}

func (e *ParameterResolutionError) Error() string {
	if e.Parameter == "" {
		return fmt.Sprintf("node %q: parameter resolution failed: %s", e.NodeID, e.Detail)
	}
	return fmt.Sprintf("node %q: cannot resolve parameter %q: %s", e.NodeID, e.Parameter, e.Detail)
}

// SubmissionError reports a runner refusing or failing to accept a job.
// Routed through the failure policy, distinct from store errors.
type SubmissionError struct {
	JobID string
	Err   error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission of job %q failed: %v", e.JobID, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// WorkflowNotFoundError is a caller error on an unknown workflow id.
type WorkflowNotFoundError struct {
	WorkflowID string
}

func (e *WorkflowNotFoundError) Error() string {
	return fmt.Sprintf("workflow %q not found", e.WorkflowID)
}

// JobNotFoundError is a caller error on an unknown job id.
type JobNotFoundError struct {
	JobID string
}

func (e *JobNotFoundError) Error() string {
	return fmt.Sprintf("job %q not found", e.JobID)
}
