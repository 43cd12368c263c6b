package storage

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/TheFermiSea/CrystalMath-sub000/pkg/models"
)

// mockStore implements JobStore with in-memory maps. Transactions are a
// formality here: Begin hands back the same instance and Commit/Rollback are
// tracked only so double commits surface as errors in tests.
type mockStore struct {
	mu        sync.RWMutex
	workflows map[string]models.Workflow
	jobs      map[string]models.QueuedJob
	results   map[string]map[string]string
	order     []string // job insertion order, for deterministic listings
}

// NewMockStore returns an empty in-memory JobStore for tests and examples.
func NewMockStore() JobStore {
	return &mockStore{
		workflows: make(map[string]models.Workflow),
		jobs:      make(map[string]models.QueuedJob),
		results:   make(map[string]map[string]string),
	}
}

func (m *mockStore) Begin() (JobStore, error) { return m, nil }
func (m *mockStore) Commit() error            { return nil }
func (m *mockStore) Rollback() error          { return nil }
func (m *mockStore) Close() error             { return nil }

func (m *mockStore) SaveWorkflow(w models.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workflows[w.ID]; ok {
		return errors.Errorf("workflow %q already exists", w.ID)
	}
	m.workflows[w.ID] = w
	return nil
}

func (m *mockStore) GetWorkflow(id string) (models.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workflows[id]
	if !ok {
		return models.Workflow{}, ErrNotFound
	}
	return w, nil
}

func (m *mockStore) ListWorkflows() ([]models.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Workflow, 0, len(m.workflows))
	for _, w := range m.workflows {
		out = append(out, w)
	}
	return out, nil
}

func (m *mockStore) UpdateWorkflowStatus(id string, status models.WorkflowStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workflows[id]
	if !ok {
		return ErrNotFound
	}
	w.Status = status
	w.UpdatedAt = time.Now()
	m.workflows[id] = w
	return nil
}

func (m *mockStore) CreateJob(j models.QueuedJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[j.ID]; ok {
		return errors.Errorf("job %q already exists", j.ID)
	}
	m.jobs[j.ID] = j
	m.order = append(m.order, j.ID)
	return nil
}

func (m *mockStore) GetJob(id string) (models.QueuedJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return models.QueuedJob{}, ErrNotFound
	}
	return j, nil
}

func (m *mockStore) ListJobs(workflowID string) ([]models.QueuedJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.QueuedJob
	for _, id := range m.order {
		if j := m.jobs[id]; j.WorkflowID == workflowID {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *mockStore) GetJobStatusesBatch(ids []string) (map[string]models.JobStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]models.JobStatus, len(ids))
	for _, id := range ids {
		if j, ok := m.jobs[id]; ok {
			out[id] = j.Status
		}
	}
	return out, nil
}

func (m *mockStore) UpdateJobStatus(id string, status models.JobStatus, errorMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.Status = status
	j.ErrorMsg = errorMsg
	now := time.Now()
	switch {
	case status == models.RunningJobStatus && j.StartedAt == nil:
		j.StartedAt = &now
	case status.Terminal():
		j.FinishedAt = &now
	}
	m.jobs[id] = j
	return nil
}

func (m *mockStore) UpdateJobHandle(id, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.Handle = handle
	m.jobs[id] = j
	return nil
}

func (m *mockStore) UpdateJobResults(id string, results map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return ErrNotFound
	}
	cp := make(map[string]string, len(results))
	for k, v := range results {
		cp[k] = v
	}
	m.results[id] = cp
	return nil
}

func (m *mockStore) GetJobResults(id string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.jobs[id]; !ok {
		return nil, ErrNotFound
	}
	res, ok := m.results[id]
	if !ok {
		return nil, nil
	}
	cp := make(map[string]string, len(res))
	for k, v := range res {
		cp[k] = v
	}
	return cp, nil
}
