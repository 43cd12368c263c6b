package orchestrator_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TheFermiSea/CrystalMath-sub000/pkg/models"
	"github.com/TheFermiSea/CrystalMath-sub000/pkg/orchestrator"
)

func TestEmitter_FanOut(t *testing.T) {
	em := orchestrator.NewEmitter(logger{})
	defer em.Close()

	ch1, cancel1 := em.Subscribe(8)
	ch2, cancel2 := em.Subscribe(8)
	defer cancel1()
	defer cancel2()

	em.Publish(models.Event{Type: models.WorkflowStartedEvent, WorkflowID: "wf"})

	ev1 := <-ch1
	ev2 := <-ch2
	assert.Equal(t, models.WorkflowStartedEvent, ev1.Type)
	assert.Equal(t, models.WorkflowStartedEvent, ev2.Type)
	assert.False(t, ev1.Timestamp.IsZero())
}

func TestEmitter_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	em := orchestrator.NewEmitter(logger{})
	defer em.Close()

	ch, cancel := em.Subscribe(1)
	defer cancel()

	// Nobody drains; publishes past the buffer must not block.
	em.Publish(models.Event{Type: models.NodeStartedEvent, WorkflowID: "wf", NodeID: "a"})
	em.Publish(models.Event{Type: models.NodeCompletedEvent, WorkflowID: "wf", NodeID: "a"})
	em.Publish(models.Event{Type: models.WorkflowCompletedEvent, WorkflowID: "wf"})

	assert.Len(t, drain(ch), 1)
}

func TestEmitter_CancelClosesChannel(t *testing.T) {
	em := orchestrator.NewEmitter(logger{})
	defer em.Close()

	ch, cancel := em.Subscribe(1)
	cancel()
	cancel() // safe to repeat

	_, open := <-ch
	assert.False(t, open)

	// Publishing after cancellation reaches nobody but must not panic.
	em.Publish(models.Event{Type: models.WorkflowStartedEvent, WorkflowID: "wf"})
}

func TestEmitter_CloseTerminatesSubscribers(t *testing.T) {
	em := orchestrator.NewEmitter(logger{})
	ch, cancel := em.Subscribe(1)
	defer cancel()

	em.Close()
	_, open := <-ch
	assert.False(t, open)

	// Subscribing after Close yields an already-closed channel.
	late, _ := em.Subscribe(1)
	_, open = <-late
	assert.False(t, open)
}
