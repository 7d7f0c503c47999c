// Package queue carries job descriptors from the ingestion side to workers.
package queue

import (
	"context"

	"github.com/example/imgclassify/internal/pipeline"
)

// Queue is a blocking FIFO of job descriptors. Each descriptor is delivered
// to exactly one Dequeue caller. Outages surface as
// pipeline.ErrQueueUnavailable.
type Queue interface {
	Enqueue(ctx context.Context, job pipeline.JobDescriptor) error
	// Dequeue blocks until a descriptor is available or ctx is done.
	Dequeue(ctx context.Context) (pipeline.JobDescriptor, error)
}
