// Package queue implements priority-ordered admission control between ready
// jobs and finite per-backend execution capacity. It knows nothing about
// workflows: dependencies arrive resolved to job ids and gating is purely
// status-driven.
package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/TheFermiSea/CrystalMath-sub000/pkg/graph"
	"github.com/TheFermiSea/CrystalMath-sub000/pkg/models"
	"github.com/TheFermiSea/CrystalMath-sub000/pkg/storage"
)

// Logger is the narrow logging surface the manager needs.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Gate is consulted at admission time. Returning false keeps the job pending
// without consuming capacity; the orchestrator uses it to make pause/cancel
// effective for future admissions immediately.
type Gate func(job models.QueuedJob) bool

const defaultCapacity = 4

// Manager owns the priority queue and the per-(runner,cluster) capacity
// accounting. All public methods are atomic with respect to each other; the
// in-memory lock is never held across store round trips.
type Manager struct {
	mu       sync.Mutex
	store    storage.JobStore
	logger   Logger
	jobs     map[string]*entry
	pending  pendingHeap
	seq      uint64
	capacity map[string]int // capKey -> slots; missing key falls back to defaultCap
	inflight map[string]int // capKey -> jobs currently consuming a slot
	defCap   int
	gate     Gate
}

// NewManager returns a Manager persisting jobs through store.
func NewManager(store storage.JobStore, logger Logger) *Manager {
	return &Manager{
		store:    store,
		logger:   logger,
		jobs:     make(map[string]*entry),
		capacity: make(map[string]int),
		inflight: make(map[string]int),
		defCap:   defaultCapacity,
	}
}

// SetCapacity fixes the number of concurrent jobs for a runner type and
// cluster. An empty cluster configures the runner-wide default.
func (m *Manager) SetCapacity(runnerType, cluster string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capacity[capKey(runnerType, cluster)] = n
}

// SetDefaultCapacity fixes the slot count used for backends without an
// explicit SetCapacity call.
func (m *Manager) SetDefaultCapacity(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defCap = n
}

// SetGate installs the admission gate consulted by Schedule.
func (m *Manager) SetGate(g Gate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = g
}

func capKey(runnerType, cluster string) string {
	if cluster == "" {
		return runnerType
	}
	return runnerType + "/" + cluster
}

// Enqueue admits a job to the queue. It rejects duplicates, dependencies on
// job ids neither queued nor stored (*models.UnknownDependencyError), and any
// cycle across the combined set of queued and incoming dependencies. On
// success the job is persisted PENDING and its id returned.
func (m *Manager) Enqueue(ctx context.Context, job models.QueuedJob) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = models.PendingJobStatus
	job.EnqueuedAt = time.Now()

	// Phase 1: in-memory validation and reservation.
	m.mu.Lock()
	if _, ok := m.jobs[job.ID]; ok {
		m.mu.Unlock()
		return "", &models.DuplicateJobError{JobID: job.ID}
	}
	var external []string // deps that must be resolved against the store
	for _, dep := range job.Dependencies {
		if dep == job.ID {
			m.mu.Unlock()
			return "", &models.CircularDependencyError{Cycle: []string{job.ID, job.ID}}
		}
		if _, ok := m.jobs[dep]; !ok {
			external = append(external, dep)
		}
	}
	g := graph.New[string]()
	for id, e := range m.jobs {
		g.AddNode(id)
		for _, dep := range e.job.Dependencies {
			g.AddEdge(id, dep)
		}
	}
	g.AddNode(job.ID)
	for _, dep := range job.Dependencies {
		g.AddEdge(job.ID, dep)
	}
	if cycle := g.Validate(); cycle != nil {
		m.mu.Unlock()
		return "", &models.CircularDependencyError{Cycle: cycle}
	}
	// Reserve the id so a concurrent Enqueue cannot race it while the store
	// round trips below run unlocked.
	e := &entry{job: &job, seq: m.seq, index: -1}
	m.seq++
	m.jobs[job.ID] = e
	m.mu.Unlock()

	abort := func() {
		m.mu.Lock()
		delete(m.jobs, job.ID)
		m.mu.Unlock()
	}

	// Phase 2: store validation and persistence, outside the lock.
	for _, dep := range external {
		if _, err := m.store.GetJob(dep); err != nil {
			abort()
			if errors.Is(err, storage.ErrNotFound) {
				return "", &models.UnknownDependencyError{JobID: job.ID, Dependency: dep}
			}
			return "", errors.Wrapf(err, "resolving dependency %q", dep)
		}
	}
	if _, err := m.store.GetJob(job.ID); err == nil {
		abort()
		return "", &models.DuplicateJobError{JobID: job.ID}
	} else if !errors.Is(err, storage.ErrNotFound) {
		abort()
		return "", errors.Wrap(err, "checking for duplicate job")
	}
	if err := m.store.CreateJob(job); err != nil {
		abort()
		return "", errors.Wrapf(err, "persisting job %q", job.ID)
	}

	// Phase 3: make the job schedulable.
	m.mu.Lock()
	heap.Push(&m.pending, e)
	m.mu.Unlock()
	m.logger.Infof("Enqueued job %s (%s) with priority %d", job.ID, job.Name, job.Priority)
	return job.ID, nil
}

// Schedule scans pending jobs in priority order and admits those whose
// dependencies are all COMPLETED, up to the available capacity of each
// backend. Dependency statuses come from one batched store read per pass.
// Admitted jobs transition PENDING -> QUEUED and are returned in admission
// order.
func (m *Manager) Schedule(ctx context.Context) ([]models.QueuedJob, error) {
	// Snapshot the dependency set under the lock, resolve it against the
	// store with the lock released, then admit under the lock again. A job
	// dequeued between the two lock sections simply no longer matches its
	// snapshot and is skipped this pass.
	m.mu.Lock()
	depSet := make(map[string]struct{})
	for _, e := range m.pending {
		for _, dep := range e.job.Dependencies {
			depSet[dep] = struct{}{}
		}
	}
	m.mu.Unlock()

	depIDs := make([]string, 0, len(depSet))
	for dep := range depSet {
		depIDs = append(depIDs, dep)
	}
	var statuses map[string]models.JobStatus
	if len(depIDs) > 0 {
		var err error
		statuses, err = m.store.GetJobStatusesBatch(depIDs)
		if err != nil {
			return nil, errors.Wrap(err, "batch dependency status read")
		}
	}

	m.mu.Lock()
	var admitted []models.QueuedJob
	var skipped []*entry
	for m.pending.Len() > 0 {
		e := heap.Pop(&m.pending).(*entry)
		if e.job.Status != models.PendingJobStatus {
			continue // cancelled or dequeued while pending
		}
		if !m.depsCompleted(e.job, statuses) {
			skipped = append(skipped, e)
			continue
		}
		if m.gate != nil && !m.gate(*e.job) {
			skipped = append(skipped, e)
			continue
		}
		key := capKey(e.job.RunnerType, e.job.Cluster)
		if m.inflight[key] >= m.slots(key) {
			skipped = append(skipped, e)
			continue
		}
		m.inflight[key]++
		e.job.Status = models.QueuedJobStatus
		admitted = append(admitted, *e.job)
	}
	for _, e := range skipped {
		heap.Push(&m.pending, e)
	}
	m.mu.Unlock()

	// Persist admissions after the lock is gone. A store failure reverts the
	// job so a later pass retries it.
	var ok []models.QueuedJob
	for _, job := range admitted {
		if err := m.store.UpdateJobStatus(job.ID, models.QueuedJobStatus, ""); err != nil {
			m.logger.Errorf("Failed to persist admission of job %s, reverting: %v", job.ID, err)
			m.revert(job.ID)
			continue
		}
		ok = append(ok, job)
	}
	return ok, nil
}

// depsCompleted reports whether every dependency of job is COMPLETED. A
// dependency still queued in memory is checked against its live in-memory
// status so reading the list and deciding readiness stays one atomic step.
func (m *Manager) depsCompleted(job *models.QueuedJob, batch map[string]models.JobStatus) bool {
	for _, dep := range job.Dependencies {
		if e, ok := m.jobs[dep]; ok {
			if e.job.Status != models.CompletedJobStatus {
				return false
			}
			continue
		}
		if batch[dep] != models.CompletedJobStatus {
			return false
		}
	}
	return true
}

func (m *Manager) slots(key string) int {
	if n, ok := m.capacity[key]; ok {
		return n
	}
	return m.defCap
}

// revert puts an admitted job back to PENDING and frees its slot.
func (m *Manager) revert(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[jobID]
	if !ok || e.job.Status != models.QueuedJobStatus {
		return
	}
	e.job.Status = models.PendingJobStatus
	m.inflight[capKey(e.job.RunnerType, e.job.Cluster)]--
	if e.index == -1 {
		heap.Push(&m.pending, e)
	}
}

// MarkRunning records a successful submission: the job holds its capacity
// slot and carries the backend handle from here on.
func (m *Manager) MarkRunning(jobID, handle string) error {
	m.mu.Lock()
	e, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return &models.JobNotFoundError{JobID: jobID}
	}
	e.job.Status = models.RunningJobStatus
	e.job.Handle = handle
	now := time.Now()
	e.job.StartedAt = &now
	m.mu.Unlock()

	if err := m.store.UpdateJobHandle(jobID, handle); err != nil {
		return errors.Wrapf(err, "persisting handle for job %q", jobID)
	}
	return errors.Wrapf(m.store.UpdateJobStatus(jobID, models.RunningJobStatus, ""), "persisting status for job %q", jobID)
}

// MarkTerminal records a terminal status observed for an in-flight job and
// frees its capacity slot. Idempotent: repeating a terminal observation is a
// no-op.
func (m *Manager) MarkTerminal(jobID string, status models.JobStatus, errorMsg string) error {
	if !status.Terminal() {
		return errors.Errorf("status %s is not terminal", status)
	}
	m.mu.Lock()
	e, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return &models.JobNotFoundError{JobID: jobID}
	}
	if e.job.Status.Terminal() {
		m.mu.Unlock()
		return nil
	}
	wasInflight := e.job.Status == models.QueuedJobStatus || e.job.Status == models.RunningJobStatus
	if e.job.Status == models.PendingJobStatus && e.index != -1 {
		heap.Remove(&m.pending, e.index)
	}
	e.job.Status = status
	e.job.ErrorMsg = errorMsg
	now := time.Now()
	e.job.FinishedAt = &now
	if wasInflight {
		m.inflight[capKey(e.job.RunnerType, e.job.Cluster)]--
	}
	m.mu.Unlock()

	return errors.Wrapf(m.store.UpdateJobStatus(jobID, status, errorMsg), "persisting terminal status for job %q", jobID)
}

// Dequeue removes a still-pending job from the queue entirely.
func (m *Manager) Dequeue(jobID string) (models.QueuedJob, error) {
	m.mu.Lock()
	e, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return models.QueuedJob{}, &models.JobNotFoundError{JobID: jobID}
	}
	if e.job.Status != models.PendingJobStatus {
		m.mu.Unlock()
		return models.QueuedJob{}, errors.Errorf("job %q is %s, only pending jobs can be dequeued", jobID, e.job.Status)
	}
	if e.index != -1 {
		heap.Remove(&m.pending, e.index)
	}
	delete(m.jobs, jobID)
	job := *e.job
	m.mu.Unlock()

	if err := m.store.UpdateJobStatus(jobID, models.CancelledJobStatus, "dequeued"); err != nil {
		m.logger.Errorf("Failed to persist dequeue of job %s: %v", jobID, err)
	}
	return job, nil
}

// Cancel marks a non-terminal job cancelled. Pending jobs leave the queue
// immediately; for running jobs the caller is responsible for backend
// cancellation (the manager only does the accounting).
func (m *Manager) Cancel(jobID string) error {
	return m.MarkTerminal(jobID, models.CancelledJobStatus, "cancelled")
}

// GetStatus returns the job's current status, falling back to the store for
// jobs already cleaned out of memory.
func (m *Manager) GetStatus(jobID string) (models.JobStatus, error) {
	m.mu.Lock()
	if e, ok := m.jobs[jobID]; ok {
		status := e.job.Status
		m.mu.Unlock()
		return status, nil
	}
	m.mu.Unlock()

	job, err := m.store.GetJob(jobID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", &models.JobNotFoundError{JobID: jobID}
	}
	if err != nil {
		return "", err
	}
	return job.Status, nil
}

// SetPriority changes a pending job's priority and re-sifts the heap.
func (m *Manager) SetPriority(jobID string, priority int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[jobID]
	if !ok {
		return &models.JobNotFoundError{JobID: jobID}
	}
	e.job.Priority = priority
	if e.index != -1 {
		heap.Fix(&m.pending, e.index)
	}
	return nil
}

// InFlight returns copies of all jobs currently QUEUED or RUNNING.
func (m *Manager) InFlight() []models.QueuedJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.QueuedJob
	for _, e := range m.jobs {
		if e.job.Status == models.QueuedJobStatus || e.job.Status == models.RunningJobStatus {
			out = append(out, *e.job)
		}
	}
	return out
}

// Remove drops a terminal job from memory after its workflow is done with
// it. The persisted record stays.
func (m *Manager) Remove(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.jobs[jobID]; ok && e.job.Status.Terminal() {
		delete(m.jobs, jobID)
	}
}

// Restore reinserts a job during recovery without re-validating or
// re-persisting it. Non-terminal jobs with no handle go back to pending.
func (m *Manager) Restore(job models.QueuedJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return
	}
	j := job
	e := &entry{job: &j, seq: m.seq, index: -1}
	m.seq++
	m.jobs[job.ID] = e
	switch job.Status {
	case models.PendingJobStatus:
		heap.Push(&m.pending, e)
	case models.QueuedJobStatus, models.RunningJobStatus:
		m.inflight[capKey(job.RunnerType, job.Cluster)]++
	}
}
