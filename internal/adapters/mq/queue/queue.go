// Package queue is the in-process bus carrying release events from the
// policy engine to the rating workers.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/civicstake/internal/domain/model"
	"github.com/okian/civicstake/pkg/metrics"
)

const (
	defaultQueueCapacity = 10000
	defaultPublishWait   = 2 * time.Second
	transport            = "memory"
)

// Event is the payload flowing through the queue.
type Event = model.ReleaseEvent

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds an event, returning false if the queue is full or closed.
	Enqueue(ctx context.Context, e Event) bool

	// Dequeue returns a channel of events. It is closed when the queue is closed.
	Dequeue(ctx context.Context) <-chan Event

	Len(ctx context.Context) int
	Close() error
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	events      chan Event
	capacity    int
	publishWait time.Duration
	mu          sync.RWMutex
	closed      bool
}

var _ Queue = (*InMemoryQueue)(nil)

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity, publishWait: defaultPublishWait}
	for _, opt := range opts {
		opt(q)
	}
	q.events = make(chan Event, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0)
	return q
}

// Publish hands an event to the workers. A full buffer is waited on for up
// to the publish wait. Cancellation of ctx is ignored: the release behind
// the event has already committed.
func (q *InMemoryQueue) Publish(_ context.Context, e model.ReleaseEvent) error { //nolint:gocritic // hugeParam: events travel by value
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordReleaseEventFailed(transport)
		return fmt.Errorf("publish %s: %w", e.EventID, ErrClosed)
	}

	select {
	case q.events <- e:
		q.published()
		return nil
	default:
	}
	if q.publishWait > 0 {
		timer := time.NewTimer(q.publishWait)
		defer timer.Stop()
		select {
		case q.events <- e:
			q.published()
			return nil
		case <-timer.C:
		}
	}

	metrics.RecordQueueEnqueueError()
	metrics.RecordErrorByComponent("queue", "queue_full")
	metrics.RecordReleaseEventFailed(transport)
	return fmt.Errorf("publish %s after %s: %w", e.EventID, q.publishWait, ErrFull)
}

func (q *InMemoryQueue) published() {
	metrics.RecordQueueEnqueue()
	metrics.RecordReleaseEventPublished(transport)
	q.observe()
}

// Enqueue adds an event to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, e Event) bool { //nolint:gocritic // hugeParam: Event is passed by value for channel semantics
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "closed")
		return false
	}

	select {
	case q.events <- e:
		metrics.RecordQueueEnqueue()
		q.observe()
		return true
	case <-ctx.Done():
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return false
	default:
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "queue_full")
		return false
	}
}

// Dequeue returns a channel that receives events as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-q.events:
				if !ok {
					return
				}
				select {
				case out <- e:
					metrics.RecordQueueDequeue()
					q.observe()
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Len returns the current number of queued events.
func (q *InMemoryQueue) Len(_ context.Context) int {
	return q.observe()
}

func (q *InMemoryQueue) observe() int {
	size := len(q.events)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
	return size
}

// Close stops intake. Buffered events are still delivered to consumers.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.events)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
