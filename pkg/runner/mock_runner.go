package runner

import (
	"context"
	"fmt"
	"sync"
)

// MockRunner is a scriptable in-memory backend for tests. Submitted jobs sit
// in StatusRunning until the test flips them with Complete/Fail. Scripting
// is keyed by job name rather than job id, because ids are minted by the
// queue at admission time.
type MockRunner struct {
	mu         sync.Mutex
	seq        int
	jobs       map[string]*mockJob // keyed by handle id
	byName     map[string]string   // job name -> latest handle id
	submits    map[string]int      // job name -> submit count
	submitErrs map[string][]error  // job name -> queued submit failures
	cancelled  []string            // handle ids cancel was requested for
}

type mockJob struct {
	spec    WorkSpec
	status  Status
	output  []string
	metrics map[string]string
}

// NewMockRunner returns an empty mock backend.
func NewMockRunner() *MockRunner {
	return &MockRunner{
		jobs:       make(map[string]*mockJob),
		byName:     make(map[string]string),
		submits:    make(map[string]int),
		submitErrs: make(map[string][]error),
	}
}

// FailNextSubmit scripts the next n Submit calls for the named job to fail
// with err.
func (r *MockRunner) FailNextSubmit(name string, n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < n; i++ {
		r.submitErrs[name] = append(r.submitErrs[name], err)
	}
}

func (r *MockRunner) Submit(ctx context.Context, spec WorkSpec) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submits[spec.JobName]++
	if errs := r.submitErrs[spec.JobName]; len(errs) > 0 {
		err := errs[0]
		r.submitErrs[spec.JobName] = errs[1:]
		return Handle{}, err
	}
	r.seq++
	id := fmt.Sprintf("mock-%d", r.seq)
	r.jobs[id] = &mockJob{spec: spec, status: StatusRunning}
	r.byName[spec.JobName] = id
	return Handle{ID: id, RunnerType: "mock"}, nil
}

func (r *MockRunner) Status(ctx context.Context, h Handle) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[h.ID]
	if !ok {
		return StatusUnknown, nil
	}
	return j.status, nil
}

func (r *MockRunner) Cancel(ctx context.Context, h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, h.ID)
	if j, ok := r.jobs[h.ID]; ok && !j.status.Terminal() {
		j.status = StatusCancelled
	}
	return nil
}

func (r *MockRunner) StreamOutput(ctx context.Context, h Handle) (<-chan string, error) {
	r.mu.Lock()
	j, ok := r.jobs[h.ID]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("unknown handle %q", h.ID)
	}
	lines := append([]string(nil), j.output...)
	r.mu.Unlock()

	ch := make(chan string, len(lines))
	for _, l := range lines {
		ch <- l
	}
	close(ch)
	return ch, nil
}

func (r *MockRunner) RetrieveResults(ctx context.Context, h Handle, destination string) (RetrieveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[h.ID]
	if !ok {
		return RetrieveResult{}, fmt.Errorf("unknown handle %q", h.ID)
	}
	metrics := make(map[string]string, len(j.metrics))
	for k, v := range j.metrics {
		metrics[k] = v
	}
	return RetrieveResult{Success: j.status == StatusCompleted, FinalMetrics: metrics}, nil
}

// Complete marks the latest submission of the named job completed, with the
// given final metrics.
func (r *MockRunner) Complete(name string, metrics map[string]string) {
	r.setStatus(name, StatusCompleted, metrics)
}

// Fail marks the latest submission of the named job failed.
func (r *MockRunner) Fail(name string) {
	r.setStatus(name, StatusFailed, nil)
}

// SetOutput scripts the output lines streamed for the named job.
func (r *MockRunner) SetOutput(name string, lines []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byName[name]; ok {
		r.jobs[id].output = append([]string(nil), lines...)
	}
}

// SubmitCount returns how many times the named job was submitted.
func (r *MockRunner) SubmitCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.submits[name]
}

// Cancelled returns the handle ids cancellation was requested for.
func (r *MockRunner) Cancelled() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.cancelled...)
}

func (r *MockRunner) setStatus(name string, status Status, metrics map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byName[name]
	if !ok {
		return
	}
	r.jobs[id].status = status
	if metrics != nil {
		r.jobs[id].metrics = metrics
	}
}
