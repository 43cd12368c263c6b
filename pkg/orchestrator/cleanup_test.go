package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheFermiSea/CrystalMath-sub000/pkg/models"
	"github.com/TheFermiSea/CrystalMath-sub000/pkg/queue"
	"github.com/TheFermiSea/CrystalMath-sub000/pkg/runner"
	"github.com/TheFermiSea/CrystalMath-sub000/pkg/storage"
)

type nopLogger struct{}

func (nopLogger) Infof(format string, args ...interface{})  {}
func (nopLogger) Errorf(format string, args ...interface{}) {}

// Long-running engines host many workflows over their lifetime; the per-job
// bookkeeping of a finished workflow must not accumulate.

func TestOrchestrator_ReleasesJobBookkeepingOnCompletion(t *testing.T) {
	store := storage.NewMockStore()
	qm := queue.NewManager(store, nopLogger{})
	orch := New(store, qm, nopLogger{})
	mr := runner.NewMockRunner()
	orch.RegisterRunner("local", mr)
	sched := NewScheduler(orch, time.Second, nopLogger{})
	ctx := context.Background()

	require.NoError(t, orch.Register(&models.WorkflowDefinition{
		WorkflowID: "oneshot",
		Nodes:      map[string]models.NodeSpec{"relax": {JobName: "relax", Template: "opt"}},
	}))
	require.NoError(t, orch.Start(ctx, "oneshot"))
	require.NoError(t, sched.Pass(ctx))

	orch.mu.Lock()
	assert.Len(t, orch.jobIndex, 1)
	orch.mu.Unlock()

	mr.Complete("relax", nil)
	require.NoError(t, sched.Pass(ctx))

	snap, err := orch.GetStatus("oneshot")
	require.NoError(t, err)
	require.Equal(t, models.CompletedWorkflowStatus, snap.Status)

	orch.mu.Lock()
	assert.Empty(t, orch.jobIndex)
	assert.Empty(t, orch.processed)
	orch.mu.Unlock()
	assert.Empty(t, qm.InFlight())

	// The persisted record is untouched, only the runtime maps are gone.
	jobs, err := store.ListJobs("oneshot")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	status, err := qm.GetStatus(jobs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.CompletedJobStatus, status)
}

func TestOrchestrator_ReleasesJobBookkeepingOnCancel(t *testing.T) {
	store := storage.NewMockStore()
	qm := queue.NewManager(store, nopLogger{})
	orch := New(store, qm, nopLogger{})
	mr := runner.NewMockRunner()
	orch.RegisterRunner("local", mr)
	sched := NewScheduler(orch, time.Second, nopLogger{})
	ctx := context.Background()

	require.NoError(t, orch.Register(&models.WorkflowDefinition{
		WorkflowID: "aborted",
		Nodes: map[string]models.NodeSpec{
			"relax": {JobName: "relax", Template: "opt"},
			"scf":   {JobName: "scf", Template: "scf", Dependencies: []string{"relax"}},
		},
	}))
	require.NoError(t, orch.Start(ctx, "aborted"))
	require.NoError(t, sched.Pass(ctx))
	require.NoError(t, orch.Cancel(ctx, "aborted"))

	orch.mu.Lock()
	assert.Empty(t, orch.jobIndex)
	assert.Empty(t, orch.processed)
	orch.mu.Unlock()
	assert.Empty(t, qm.InFlight())
}
