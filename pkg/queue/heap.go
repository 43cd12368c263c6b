package queue

import "github.com/TheFermiSea/CrystalMath-sub000/pkg/models"

// entry is a queued job plus its heap bookkeeping. seq preserves enqueue
// order so equal priorities are admitted FIFO.
type entry struct {
	job   *models.QueuedJob
	seq   uint64
	index int // heap index, -1 when not in the pending heap
}

// pendingHeap orders entries by descending priority, then ascending enqueue
// sequence. Implements container/heap.Interface.
type pendingHeap []*entry

func (h pendingHeap) Len() int { return len(h) }

func (h pendingHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority > h[j].job.Priority
	}
	return h[i].seq < h[j].seq
}

func (h pendingHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *pendingHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
