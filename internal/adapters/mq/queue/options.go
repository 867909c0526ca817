package queue

import "time"

// Option applies a configuration option to the InMemoryQueue.
type Option func(*InMemoryQueue)

// WithCapacity sets the maximum number of buffered events.
func WithCapacity(capacity int) Option {
	return func(q *InMemoryQueue) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}

// WithPublishWait bounds how long Publish waits for room in a full buffer.
// Zero makes Publish fail at once.
func WithPublishWait(d time.Duration) Option {
	return func(q *InMemoryQueue) {
		if d >= 0 {
			q.publishWait = d
		}
	}
}
