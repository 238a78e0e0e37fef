package llm

import (
	"container/heap"
	"context"
	"sync"
)

// PriorityQueue bounds LLM concurrency while letting higher-priority work
// (summarization over ordinary extraction traffic) jump ahead of
// queued-but-not-yet-running lower-priority work.
type PriorityQueue struct {
	mu      sync.Mutex
	sem     chan struct{}
	pending jobHeap
	seq     int
}

type job struct {
	priority int
	seq      int
	ready    chan struct{}
}

type jobHeap []*job

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority // higher priority first
	}
	return h[i].seq < h[j].seq // FIFO within a priority tier
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x any)   { *h = append(*h, x.(*job)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// NewPriorityQueue creates a queue admitting at most maxConcurrency
// simultaneous Run calls.
func NewPriorityQueue(maxConcurrency int) *PriorityQueue {
	return &PriorityQueue{sem: make(chan struct{}, maxConcurrency)}
}

// Run blocks until a concurrency slot is available, favoring higher
// priority callers, then executes fn. It returns fn's error, or ctx.Err()
// if the context is cancelled while still waiting for a slot.
func (q *PriorityQueue) Run(ctx context.Context, priority int, fn func() error) error {
	j := &job{priority: priority, ready: make(chan struct{})}

	q.mu.Lock()
	q.seq++
	j.seq = q.seq
	heap.Push(&q.pending, j)
	q.tryDispatch()
	q.mu.Unlock()

	select {
	case <-j.ready:
	case <-ctx.Done():
		q.mu.Lock()
		removed := q.removePending(j)
		q.mu.Unlock()
		if removed {
			return ctx.Err()
		}
		// Already admitted (slot held) by the time cancellation landed;
		// fall through and run fn so the semaphore slot is released.
	}

	defer func() {
		q.mu.Lock()
		<-q.sem
		q.tryDispatch()
		q.mu.Unlock()
	}()
	return fn()
}

// tryDispatch admits as many pending jobs as free slots allow. Callers must
// hold q.mu.
func (q *PriorityQueue) tryDispatch() {
	for len(q.pending) > 0 {
		select {
		case q.sem <- struct{}{}:
			next := heap.Pop(&q.pending).(*job)
			close(next.ready)
		default:
			return
		}
	}
}

// removePending removes target from the pending heap if still present,
// reporting whether it found (and removed) it. Callers must hold q.mu.
func (q *PriorityQueue) removePending(target *job) bool {
	for i, j := range q.pending {
		if j == target {
			heap.Remove(&q.pending, i)
			return true
		}
	}
	return false
}
