package pipeline

import "errors"

var (
	// ErrStoreUnavailable means the content store could not be reached.
	ErrStoreUnavailable = errors.New("content store unavailable")
	// ErrQueueUnavailable means the work queue could not be reached.
	ErrQueueUnavailable = errors.New("work queue unavailable")
	// ErrCacheUnavailable means the result cache could not be reached.
	ErrCacheUnavailable = errors.New("result cache unavailable")
	// ErrInferenceFailed means the model raised or returned no result.
	ErrInferenceFailed = errors.New("inference failed")
	// ErrTimeout means a wait for a job result exceeded its budget.
	ErrTimeout = errors.New("timed out waiting for result")
	// ErrNotFound means a key was never written.
	ErrNotFound = errors.New("not found")
)

// IsConnectivity reports whether err is one of the backing-store outages.
func IsConnectivity(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrQueueUnavailable) ||
		errors.Is(err, ErrCacheUnavailable)
}
