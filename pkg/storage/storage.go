package storage

import (
	"errors"

	"github.com/TheFermiSea/CrystalMath-sub000/pkg/models"
)

// ErrNotFound is returned when a workflow or job id does not exist.
var ErrNotFound = errors.New("not found")

// JobStore defines the persistence operations the engine needs. It is the
// single source of truth across restarts; everything in memory is a cache
// rebuilt from it.
type JobStore interface {
	// Transaction control. Begin returns a store view scoped to one
	// transaction; Commit/Rollback are only valid on that view.
	Begin() (JobStore, error)
	Commit() error
	Rollback() error
	Close() error

	// Workflow operations
	SaveWorkflow(w models.Workflow) error
	GetWorkflow(id string) (models.Workflow, error)
	ListWorkflows() ([]models.Workflow, error)
	UpdateWorkflowStatus(id string, status models.WorkflowStatus) error

	// Job operations
	CreateJob(j models.QueuedJob) error
	GetJob(id string) (models.QueuedJob, error)
	ListJobs(workflowID string) ([]models.QueuedJob, error)
	// GetJobStatusesBatch resolves all ids in a single round trip. Ids that
	// do not exist are absent from the result, not an error.
	GetJobStatusesBatch(ids []string) (map[string]models.JobStatus, error)
	UpdateJobStatus(id string, status models.JobStatus, errorMsg string) error
	UpdateJobHandle(id, handle string) error
	UpdateJobResults(id string, results map[string]string) error
	GetJobResults(id string) (map[string]string, error)
}
