package queue_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TheFermiSea/CrystalMath-sub000/pkg/models"
	"github.com/TheFermiSea/CrystalMath-sub000/pkg/queue"
	"github.com/TheFermiSea/CrystalMath-sub000/pkg/storage"
)

type logger struct{}

func (l logger) Infof(format string, args ...interface{}) {
	// no-op
}

func (l logger) Errorf(format string, args ...interface{}) {
	// no-op
}

func newManager() (*queue.Manager, storage.JobStore) {
	store := storage.NewMockStore()
	return queue.NewManager(store, logger{}), store
}

func job(id string, priority int, deps ...string) models.QueuedJob {
	return models.QueuedJob{
		ID:           id,
		Name:         id,
		Template:     "scf",
		Priority:     priority,
		RunnerType:   "local",
		Dependencies: deps,
	}
}

func TestManager_Enqueue(t *testing.T) {
	ctx := context.Background()

	t.Run("GeneratesID", func(t *testing.T) {
		m, store := newManager()
		id, err := m.Enqueue(ctx, job("", 0))
		assert.NoError(t, err)
		assert.NotEmpty(t, id)

		status, err := m.GetStatus(id)
		assert.NoError(t, err)
		assert.Equal(t, models.PendingJobStatus, status)

		stored, err := store.GetJob(id)
		assert.NoError(t, err)
		assert.Equal(t, models.PendingJobStatus, stored.Status)
	})

	t.Run("Duplicate", func(t *testing.T) {
		m, _ := newManager()
		_, err := m.Enqueue(ctx, job("j1", 0))
		assert.NoError(t, err)
		_, err = m.Enqueue(ctx, job("j1", 0))
		var dup *models.DuplicateJobError
		assert.ErrorAs(t, err, &dup)
		assert.Equal(t, "j1", dup.JobID)
	})

	t.Run("UnknownDependency", func(t *testing.T) {
		m, store := newManager()
		_, err := m.Enqueue(ctx, job("j1", 0, "no-such-job"))
		var unknown *models.UnknownDependencyError
		assert.ErrorAs(t, err, &unknown)
		assert.Equal(t, "no-such-job", unknown.Dependency)

		// The rejected job left no trace.
		_, err = store.GetJob("j1")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = m.GetStatus("j1")
		var notFound *models.JobNotFoundError
		assert.ErrorAs(t, err, &notFound)
	})

	t.Run("SelfDependency", func(t *testing.T) {
		m, _ := newManager()
		_, err := m.Enqueue(ctx, job("j1", 0, "j1"))
		var cyc *models.CircularDependencyError
		assert.ErrorAs(t, err, &cyc)
	})

	t.Run("CycleAcrossQueuedSet", func(t *testing.T) {
		m, _ := newManager()
		// A forward edge can only exist after a crash left one behind;
		// Restore skips validation the same way recovery does.
		j := job("x", 0, "y")
		j.Status = models.PendingJobStatus
		m.Restore(j)
		_, err := m.Enqueue(ctx, job("y", 0, "x"))
		var cyc *models.CircularDependencyError
		assert.ErrorAs(t, err, &cyc)
	})

	t.Run("DependencyOnQueuedJob", func(t *testing.T) {
		m, _ := newManager()
		_, err := m.Enqueue(ctx, job("a", 0))
		assert.NoError(t, err)
		_, err = m.Enqueue(ctx, job("b", 0, "a"))
		assert.NoError(t, err)
	})
}

func TestManager_ScheduleOrdering(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager()
	m.SetDefaultCapacity(10)

	_, err := m.Enqueue(ctx, job("low", 1))
	assert.NoError(t, err)
	_, err = m.Enqueue(ctx, job("mid", 3))
	assert.NoError(t, err)
	_, err = m.Enqueue(ctx, job("high", 5))
	assert.NoError(t, err)

	admitted, err := m.Schedule(ctx)
	assert.NoError(t, err)
	ids := make([]string, 0, len(admitted))
	for _, j := range admitted {
		ids = append(ids, j.ID)
	}
	assert.Equal(t, []string{"high", "mid", "low"}, ids)
}

func TestManager_ScheduleFIFOTieBreak(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager()
	m.SetDefaultCapacity(10)

	for i := 0; i < 5; i++ {
		_, err := m.Enqueue(ctx, job(fmt.Sprintf("j%d", i), 7))
		assert.NoError(t, err)
	}
	admitted, err := m.Schedule(ctx)
	assert.NoError(t, err)
	ids := make([]string, 0, len(admitted))
	for _, j := range admitted {
		ids = append(ids, j.ID)
	}
	assert.Equal(t, []string{"j0", "j1", "j2", "j3", "j4"}, ids)
}

func TestManager_ScheduleDependencyGate(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager()

	_, err := m.Enqueue(ctx, job("a", 0))
	assert.NoError(t, err)
	_, err = m.Enqueue(ctx, job("b", 9, "a")) // higher priority but blocked
	assert.NoError(t, err)

	admitted, err := m.Schedule(ctx)
	assert.NoError(t, err)
	assert.Len(t, admitted, 1)
	assert.Equal(t, "a", admitted[0].ID)

	// b stays pending until a completes, regardless of priority.
	admitted, err = m.Schedule(ctx)
	assert.NoError(t, err)
	assert.Empty(t, admitted)

	assert.NoError(t, m.MarkRunning("a", "h-a"))
	assert.NoError(t, m.MarkTerminal("a", models.CompletedJobStatus, ""))

	admitted, err = m.Schedule(ctx)
	assert.NoError(t, err)
	assert.Len(t, admitted, 1)
	assert.Equal(t, "b", admitted[0].ID)
}

func TestManager_ScheduleFailedDependencyNeverAdmits(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager()

	_, err := m.Enqueue(ctx, job("a", 0))
	assert.NoError(t, err)
	_, err = m.Enqueue(ctx, job("b", 0, "a"))
	assert.NoError(t, err)

	admitted, err := m.Schedule(ctx)
	assert.NoError(t, err)
	assert.Len(t, admitted, 1)
	assert.NoError(t, m.MarkTerminal("a", models.FailedJobStatus, "boom"))

	admitted, err = m.Schedule(ctx)
	assert.NoError(t, err)
	assert.Empty(t, admitted)
}

func TestManager_Capacity(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager()
	m.SetCapacity("local", "", 1)

	_, err := m.Enqueue(ctx, job("a", 5))
	assert.NoError(t, err)
	_, err = m.Enqueue(ctx, job("b", 1))
	assert.NoError(t, err)

	admitted, err := m.Schedule(ctx)
	assert.NoError(t, err)
	assert.Len(t, admitted, 1)
	assert.Equal(t, "a", admitted[0].ID)

	// Slot stays occupied across QUEUED and RUNNING.
	assert.NoError(t, m.MarkRunning("a", "h-a"))
	admitted, err = m.Schedule(ctx)
	assert.NoError(t, err)
	assert.Empty(t, admitted)

	assert.NoError(t, m.MarkTerminal("a", models.CompletedJobStatus, ""))
	admitted, err = m.Schedule(ctx)
	assert.NoError(t, err)
	assert.Len(t, admitted, 1)
	assert.Equal(t, "b", admitted[0].ID)
}

func TestManager_CapacityPerCluster(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager()
	m.SetCapacity("slurm", "hpc1", 1)
	m.SetCapacity("slurm", "hpc2", 1)

	mk := func(id, cluster string) models.QueuedJob {
		j := job(id, 0)
		j.RunnerType = "slurm"
		j.Cluster = cluster
		return j
	}
	for _, j := range []models.QueuedJob{mk("a1", "hpc1"), mk("a2", "hpc1"), mk("b1", "hpc2")} {
		_, err := m.Enqueue(ctx, j)
		assert.NoError(t, err)
	}

	admitted, err := m.Schedule(ctx)
	assert.NoError(t, err)
	ids := make([]string, 0, len(admitted))
	for _, j := range admitted {
		ids = append(ids, j.ID)
	}
	// One slot per cluster: a1 takes hpc1, b1 takes hpc2, a2 waits.
	assert.ElementsMatch(t, []string{"a1", "b1"}, ids)
}

func TestManager_MarkTerminalIdempotent(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager()
	m.SetCapacity("local", "", 1)

	_, err := m.Enqueue(ctx, job("a", 0))
	assert.NoError(t, err)
	admitted, err := m.Schedule(ctx)
	assert.NoError(t, err)
	assert.Len(t, admitted, 1)

	assert.NoError(t, m.MarkTerminal("a", models.CompletedJobStatus, ""))
	assert.NoError(t, m.MarkTerminal("a", models.CompletedJobStatus, ""))
	assert.NoError(t, m.MarkTerminal("a", models.FailedJobStatus, "late report"))

	status, err := m.GetStatus("a")
	assert.NoError(t, err)
	assert.Equal(t, models.CompletedJobStatus, status)

	// A double-freed slot would let two jobs through a capacity of one.
	_, err = m.Enqueue(ctx, job("b", 0))
	assert.NoError(t, err)
	_, err = m.Enqueue(ctx, job("c", 0))
	assert.NoError(t, err)
	admitted, err = m.Schedule(ctx)
	assert.NoError(t, err)
	assert.Len(t, admitted, 1)
}

func TestManager_MarkTerminalRejectsNonTerminal(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager()
	_, err := m.Enqueue(ctx, job("a", 0))
	assert.NoError(t, err)
	assert.Error(t, m.MarkTerminal("a", models.RunningJobStatus, ""))
}

func TestManager_SetPriority(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager()
	m.SetDefaultCapacity(10)

	_, err := m.Enqueue(ctx, job("a", 5))
	assert.NoError(t, err)
	_, err = m.Enqueue(ctx, job("b", 1))
	assert.NoError(t, err)

	assert.NoError(t, m.SetPriority("b", 9))

	admitted, err := m.Schedule(ctx)
	assert.NoError(t, err)
	assert.Len(t, admitted, 2)
	assert.Equal(t, "b", admitted[0].ID)
	assert.Equal(t, "a", admitted[1].ID)

	assert.Error(t, m.SetPriority("missing", 1))
}

func TestManager_Dequeue(t *testing.T) {
	ctx := context.Background()
	m, store := newManager()

	_, err := m.Enqueue(ctx, job("a", 0))
	assert.NoError(t, err)
	j, err := m.Dequeue("a")
	assert.NoError(t, err)
	assert.Equal(t, "a", j.ID)

	stored, err := store.GetJob("a")
	assert.NoError(t, err)
	assert.Equal(t, models.CancelledJobStatus, stored.Status)

	admitted, err := m.Schedule(ctx)
	assert.NoError(t, err)
	assert.Empty(t, admitted)

	// Admitted jobs can no longer be dequeued.
	_, err = m.Enqueue(ctx, job("b", 0))
	assert.NoError(t, err)
	_, err = m.Schedule(ctx)
	assert.NoError(t, err)
	_, err = m.Dequeue("b")
	assert.Error(t, err)
}

func TestManager_CancelPending(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager()

	_, err := m.Enqueue(ctx, job("a", 0))
	assert.NoError(t, err)
	assert.NoError(t, m.Cancel("a"))

	status, err := m.GetStatus("a")
	assert.NoError(t, err)
	assert.Equal(t, models.CancelledJobStatus, status)

	admitted, err := m.Schedule(ctx)
	assert.NoError(t, err)
	assert.Empty(t, admitted)
}

func TestManager_GateBlocksAdmission(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager()

	open := false
	m.SetGate(func(j models.QueuedJob) bool { return open })

	_, err := m.Enqueue(ctx, job("a", 0))
	assert.NoError(t, err)

	admitted, err := m.Schedule(ctx)
	assert.NoError(t, err)
	assert.Empty(t, admitted)

	open = true
	admitted, err = m.Schedule(ctx)
	assert.NoError(t, err)
	assert.Len(t, admitted, 1)
}

func TestManager_GetStatusStoreFallback(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager()

	_, err := m.Enqueue(ctx, job("a", 0))
	assert.NoError(t, err)
	assert.NoError(t, m.MarkTerminal("a", models.CompletedJobStatus, ""))
	m.Remove("a")

	status, err := m.GetStatus("a")
	assert.NoError(t, err)
	assert.Equal(t, models.CompletedJobStatus, status)
}

func TestManager_InFlight(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager()

	_, err := m.Enqueue(ctx, job("a", 0))
	assert.NoError(t, err)
	assert.Empty(t, m.InFlight())

	_, err = m.Schedule(ctx)
	assert.NoError(t, err)
	inflight := m.InFlight()
	assert.Len(t, inflight, 1)
	assert.Equal(t, models.QueuedJobStatus, inflight[0].Status)

	assert.NoError(t, m.MarkRunning("a", "h-a"))
	inflight = m.InFlight()
	assert.Len(t, inflight, 1)
	assert.Equal(t, models.RunningJobStatus, inflight[0].Status)
	assert.Equal(t, "h-a", inflight[0].Handle)

	assert.NoError(t, m.MarkTerminal("a", models.CompletedJobStatus, ""))
	assert.Empty(t, m.InFlight())
}

func TestManager_ConcurrentEnqueueAndSchedule(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager()
	m.SetCapacity("local", "", 5)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Enqueue(ctx, job(fmt.Sprintf("j%d", i), i%3))
			assert.NoError(t, err)
		}(i)
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			admitted, err := m.Schedule(ctx)
			assert.NoError(t, err)
			mu.Lock()
			for _, j := range admitted {
				seen[j.ID]++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	// One final pass so admissions racing the enqueues are accounted for.
	admitted, err := m.Schedule(ctx)
	assert.NoError(t, err)
	mu.Lock()
	for _, j := range admitted {
		seen[j.ID]++
	}
	total := 0
	for id, n := range seen {
		assert.Equalf(t, 1, n, "job %s admitted %d times", id, n)
		total++
	}
	mu.Unlock()
	assert.Equal(t, 5, total)
	assert.Len(t, m.InFlight(), 5)
}
