// Package supervisor implements the reader/worker process tree: a supervisor
// that spawns, monitors, and replaces reader and worker children connected by
// a bounded internal job queue.
package supervisor

import (
	"context"
	"time"

	"github.com/masayang/sqsd/internal/common/metrics"
	"github.com/masayang/sqsd/internal/queue"
)

// JobQueue is the bounded buffer carrying fetched-but-unacknowledged messages
// from readers to workers. Multiple readers push and multiple workers pop
// concurrently; FIFO order holds only within a single producer's pushes.
type JobQueue struct {
	ch chan queue.Message
}

// NewJobQueue creates a job queue with the given capacity
func NewJobQueue(capacity int) *JobQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &JobQueue{ch: make(chan queue.Message, capacity)}
}

// Push blocks while the queue is full. Backpressure is deliberate: a fetched
// message is already invisible on the remote side and must not be dropped.
// Only cancellation of ctx (the supervisor's hard-stop context) aborts a
// blocked push; cooperative shutdown lets in-flight pushes finish.
func (q *JobQueue) Push(ctx context.Context, m queue.Message) error {
	select {
	case q.ch <- m:
		metrics.JobQueueDepth.Set(float64(len(q.ch)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop waits up to wait for a message. The bounded wait lets a worker observe
// its shutdown flag without blocking indefinitely on an empty queue.
func (q *JobQueue) Pop(wait time.Duration) (queue.Message, bool) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case m := <-q.ch:
		metrics.JobQueueDepth.Set(float64(len(q.ch)))
		return m, true
	case <-timer.C:
		return queue.Message{}, false
	}
}

// Len returns the number of buffered messages
func (q *JobQueue) Len() int { return len(q.ch) }

// Cap returns the queue capacity
func (q *JobQueue) Cap() int { return cap(q.ch) }
