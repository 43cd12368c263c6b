package orchestrator

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/TheFermiSea/CrystalMath-sub000/pkg/models"
	"github.com/TheFermiSea/CrystalMath-sub000/pkg/runner"
)

// DefaultPollInterval is the reconciliation period used when the caller does
// not set one.
const DefaultPollInterval = 2 * time.Second

// Scheduler is the sole writer advancing workflow state from externally
// observed job completions. Each pass observes in-flight jobs, applies
// terminal transitions, and dispatches newly admitted jobs to their
// backends. A failed pass is logged and retried on the next tick; it never
// takes the process down.
type Scheduler struct {
	orch     *Orchestrator
	interval time.Duration
	logger   Logger
}

// NewScheduler returns a Scheduler polling at the given interval.
func NewScheduler(orch *Orchestrator, interval time.Duration, logger Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Scheduler{orch: orch, interval: interval, logger: logger}
}

// Run executes reconciliation passes until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Infof("Scheduler loop started (interval %s)", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Infof("Scheduler loop stopped: %v", ctx.Err())
			return
		case <-ticker.C:
			if err := s.Pass(ctx); err != nil {
				// Fatal only to this pass; the next tick retries.
				s.logger.Errorf("Reconciliation pass failed: %v", err)
			}
		}
	}
}

// Pass runs one reconciliation cycle: observe, advance, dispatch.
func (s *Scheduler) Pass(ctx context.Context) error {
	if err := s.observe(ctx); err != nil {
		return err
	}
	return s.dispatch(ctx)
}

// observe polls the backends for every in-flight job and applies newly
// terminal statuses. The in-memory lock is never held across the backend
// round trips.
func (s *Scheduler) observe(ctx context.Context) error {
	inflight := s.orch.queue.InFlight()
	for _, job := range inflight {
		if job.Handle == "" {
			continue // admitted but not yet submitted
		}
		r := s.orch.runnerFor(job.RunnerType)
		if r == nil {
			s.logger.Errorf("Job %s references unregistered runner %q", job.ID, job.RunnerType)
			continue
		}
		h := runner.Handle{ID: job.Handle, RunnerType: job.RunnerType, Cluster: job.Cluster}
		status, err := r.Status(ctx, h)
		if err != nil {
			// Connection trouble is transient by contract; keep polling.
			s.logger.Errorf("Status poll for job %s failed: %v", job.ID, err)
			continue
		}
		if !status.Terminal() {
			continue // includes StatusUnknown: retry observation, never guess
		}
		s.applyTerminal(ctx, job, r, h, status)
	}
	return nil
}

// applyTerminal records one terminal backend status in the queue and the
// owning workflow. Safe to call repeatedly for the same job.
func (s *Scheduler) applyTerminal(ctx context.Context, job models.QueuedJob, r runner.Runner, h runner.Handle, status runner.Status) {
	var (
		results   map[string]string
		errMsg    string
		jobStatus models.JobStatus
	)
	switch status {
	case runner.StatusCompleted:
		jobStatus = models.CompletedJobStatus
		res, err := r.RetrieveResults(ctx, h, "")
		if err != nil {
			// The job finished; failing to collect artifacts fails the node.
			jobStatus = models.FailedJobStatus
			errMsg = errors.Wrapf(err, "retrieving results of job %q", job.ID).Error()
			break
		}
		if !res.Success {
			jobStatus = models.FailedJobStatus
			if len(res.Errors) > 0 {
				errMsg = res.Errors[0]
			} else {
				errMsg = "backend reported unsuccessful result retrieval"
			}
			break
		}
		results = res.FinalMetrics
		for _, w := range res.Warnings {
			s.logger.Infof("Job %s warning: %s", job.ID, w)
		}
		if err := s.orch.store.UpdateJobResults(job.ID, results); err != nil {
			s.logger.Errorf("Failed to persist results of job %s: %v", job.ID, err)
		}
	case runner.StatusFailed:
		jobStatus = models.FailedJobStatus
		errMsg = "backend reported job failure"
	case runner.StatusCancelled:
		jobStatus = models.CancelledJobStatus
	}

	if err := s.orch.queue.MarkTerminal(job.ID, jobStatus, errMsg); err != nil {
		s.logger.Errorf("Failed to record terminal status of job %s: %v", job.ID, err)
		return
	}
	s.orch.OnJobTerminal(ctx, job.ID, jobStatus, results, errMsg)
}

// dispatch admits ready jobs through the queue manager and submits them to
// their backends. Submission failures are routed through the owning node's
// failure policy as *models.SubmissionError.
func (s *Scheduler) dispatch(ctx context.Context) error {
	admitted, err := s.orch.queue.Schedule(ctx)
	if err != nil {
		return errors.Wrap(err, "queue schedule")
	}
	for _, job := range admitted {
		r := s.orch.runnerFor(job.RunnerType)
		if r == nil {
			s.submitFailed(ctx, job, errors.Errorf("no runner registered for type %q", job.RunnerType))
			continue
		}
		h, err := r.Submit(ctx, runner.WorkSpec{
			JobID:      job.ID,
			JobName:    job.Name,
			Template:   job.Template,
			Parameters: job.Parameters,
		})
		if err != nil {
			s.submitFailed(ctx, job, err)
			continue
		}
		if err := s.orch.queue.MarkRunning(job.ID, h.ID); err != nil {
			s.logger.Errorf("Failed to record running job %s: %v", job.ID, err)
		}
		s.orch.MarkNodeRunning(job.ID, h.ID)
		s.logger.Infof("Submitted job %s (%s) to %s as %s", job.ID, job.Name, job.RunnerType, h.ID)
	}
	return nil
}

func (s *Scheduler) submitFailed(ctx context.Context, job models.QueuedJob, cause error) {
	subErr := &models.SubmissionError{JobID: job.ID, Err: cause}
	s.logger.Errorf("%v", subErr)
	if err := s.orch.queue.MarkTerminal(job.ID, models.FailedJobStatus, subErr.Error()); err != nil {
		s.logger.Errorf("Failed to record submission failure of job %s: %v", job.ID, err)
	}
	s.orch.OnJobTerminal(ctx, job.ID, models.FailedJobStatus, nil, subErr.Error())
}
