package queue

import (
	"context"
	"sync"

	"github.com/example/imgclassify/internal/pipeline"
)

// MemoryQueue is an in-process Queue for tests and single-binary deployments.
type MemoryQueue struct {
	mu     sync.Mutex
	items  []pipeline.JobDescriptor
	notify chan struct{}
}

// NewMemoryQueue constructs an empty MemoryQueue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{notify: make(chan struct{}, 1)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job pipeline.JobDescriptor) error {
	q.mu.Lock()
	q.items = append(q.items, job)
	q.mu.Unlock()
	q.signal()
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (pipeline.JobDescriptor, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			job := q.items[0]
			q.items[0] = pipeline.JobDescriptor{}
			q.items = q.items[1:]
			remaining := len(q.items)
			q.mu.Unlock()
			// Pass the wakeup on so other waiters see the rest.
			if remaining > 0 {
				q.signal()
			}
			return job, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return pipeline.JobDescriptor{}, ctx.Err()
		case <-q.notify:
		}
	}
}

// Len reports how many descriptors are pending.
func (q *MemoryQueue) Len(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

func (q *MemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
