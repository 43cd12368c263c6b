package orchestrator

import (
	"sync"
	"time"

	"github.com/TheFermiSea/CrystalMath-sub000/pkg/models"
)

// Emitter fans lifecycle events out to subscribers. Each subscriber gets its
// own buffered channel; a subscriber that stops draining loses events (they
// are dropped with a log line) rather than stalling the scheduler.
type Emitter struct {
	mu     sync.Mutex
	subs   map[int]chan models.Event
	nextID int
	closed bool
	logger Logger
}

// NewEmitter returns an Emitter logging drops through logger.
func NewEmitter(logger Logger) *Emitter {
	return &Emitter{
		subs:   make(map[int]chan models.Event),
		logger: logger,
	}
}

// Subscribe registers a new subscriber with the given channel buffer. The
// returned cancel function removes the subscription and closes the channel;
// it is safe to call more than once.
func (e *Emitter) Subscribe(buffer int) (<-chan models.Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	ch := make(chan models.Event, buffer)
	if e.closed {
		close(ch)
		return ch, func() {}
	}
	e.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if sub, ok := e.subs[id]; ok {
				delete(e.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber without blocking.
func (e *Emitter) Publish(ev models.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			e.logger.Errorf("Dropping event %s for slow subscriber %d", ev.Type, id)
		}
	}
}

// Close terminates all subscriptions. Further Publish calls are no-ops.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
}
