package agent

import (
	"context"
	"errors"
	"sync"

	"github.com/graymoon-build/graymoon/internal/protocol"
)

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("job queue closed")

// JobKind discriminates the two JobEnvelope variants.
type JobKind int

const (
	// JobCommand is a request/response command from the control service.
	JobCommand JobKind = iota
	// JobNotify is a fire-and-forget job raised by a local VCS hook.
	JobNotify
)

// NotifyJob identifies the repository a hook fired for.
type NotifyJob struct {
	RepositoryID   int64
	WorkspaceID    int64
	RepositoryPath string
}

// JobEnvelope is a tagged union: exactly one of Request or Notify is set,
// selected by Kind.
type JobEnvelope struct {
	Kind    JobKind
	Request *protocol.RequestCommand
	Notify  *NotifyJob
}

// Queue is a bounded multi-producer/multi-consumer queue of JobEnvelope.
// Producers block when the queue is full (backpressure); ordering is FIFO
// across all producers. Close terminates all readers after the remaining
// envelopes drain.
type Queue struct {
	jobs      chan JobEnvelope
	done      chan struct{}
	closeOnce sync.Once
}

// QueueCapacity derives the queue bound from the worker count.
func QueueCapacity(maxConcurrentCommands int) int {
	capacity := 2 * maxConcurrentCommands
	if capacity < 64 {
		capacity = 64
	}
	return capacity
}

// NewQueue creates a queue sized for the given worker count.
func NewQueue(maxConcurrentCommands int) *Queue {
	return &Queue{
		jobs: make(chan JobEnvelope, QueueCapacity(maxConcurrentCommands)),
		done: make(chan struct{}),
	}
}

// Enqueue adds an envelope, blocking while the queue is full.
func (q *Queue) Enqueue(ctx context.Context, env JobEnvelope) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	select {
	case q.jobs <- env:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue removes the next envelope, blocking while the queue is empty.
// After Close, remaining envelopes drain in order; then ok is false.
func (q *Queue) Dequeue(ctx context.Context) (JobEnvelope, bool) {
	select {
	case env := <-q.jobs:
		return env, true
	case <-ctx.Done():
		return JobEnvelope{}, false
	case <-q.done:
	}

	// Closed: drain whatever is still buffered.
	select {
	case env := <-q.jobs:
		return env, true
	default:
		return JobEnvelope{}, false
	}
}

// Depth reports the number of queued envelopes.
func (q *Queue) Depth() int {
	return len(q.jobs)
}

// Close stops admission and lets readers drain. Safe to call repeatedly.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
