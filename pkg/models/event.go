package models

import "time"

// EventType tags the closed union of lifecycle events emitted by the
// orchestrator.
type EventType string

const (
	WorkflowStartedEvent   EventType = "WORKFLOW_STARTED"
	NodeStartedEvent       EventType = "NODE_STARTED"
	NodeCompletedEvent     EventType = "NODE_COMPLETED"
	NodeFailedEvent        EventType = "NODE_FAILED"
	WorkflowCompletedEvent EventType = "WORKFLOW_COMPLETED"
	WorkflowFailedEvent    EventType = "WORKFLOW_FAILED"
	WorkflowCancelledEvent EventType = "WORKFLOW_CANCELLED"
)

// Event is one lifecycle notification. Which payload fields are set depends
// on Type: NodeCompleted carries Results, NodeFailed carries Error and
// RetryCount, workflow-level events carry only the workflow id.
type Event struct {
	Type       EventType         `json:"type"`
	WorkflowID string            `json:"workflow_id"`
	NodeID     string            `json:"node_id,omitempty"`
	Results    map[string]string `json:"results,omitempty"`
	Error      string            `json:"error,omitempty"`
	RetryCount int               `json:"retry_count,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}
