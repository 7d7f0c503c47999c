package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/imgclassify/internal/logging"
	"github.com/example/imgclassify/internal/pipeline"
	"github.com/example/imgclassify/internal/resultcache"
)

// ErrEmptyContent is returned when a submission carries no bytes.
var ErrEmptyContent = errors.New("content is empty")

// ContentStore persists uploaded bytes by fingerprint.
type ContentStore interface {
	Put(ctx context.Context, content []byte) (pipeline.Fingerprint, error)
}

// JobQueue is the producer side of the work queue.
type JobQueue interface {
	Enqueue(ctx context.Context, job pipeline.JobDescriptor) error
}

// ResultReader reads predictions from the result cache.
type ResultReader interface {
	Lookup(ctx context.Context, key resultcache.Key) (pipeline.Prediction, error)
}

// Options tune result polling.
type Options struct {
	PollInterval   time.Duration
	DefaultTimeout time.Duration
}

// DefaultOptions polls every 100ms and waits up to 30s.
func DefaultOptions() Options {
	return Options{PollInterval: 100 * time.Millisecond, DefaultTimeout: 30 * time.Second}
}

// ClassificationUseCase is the submission and retrieval façade used by the
// ingestion layer.
type ClassificationUseCase struct {
	content        ContentStore
	queue          JobQueue
	results        ResultReader
	repo           MetricsRepository
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	pollInterval   time.Duration
	defaultTimeout time.Duration
	newJobID       func() string
}

// NewClassificationUseCase constructs a new use case instance. repo may be nil
// when no prediction log is configured.
func NewClassificationUseCase(content ContentStore, queue JobQueue, results ResultReader, repo MetricsRepository, logger *zap.Logger, opts Options) *ClassificationUseCase {
	defaults := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = defaults.DefaultTimeout
	}
	return &ClassificationUseCase{
		content:        content,
		queue:          queue,
		results:        results,
		repo:           repo,
		logger:         logger.Named("classification_usecase"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
		pollInterval:   opts.PollInterval,
		defaultTimeout: opts.DefaultTimeout,
		newJobID:       uuid.NewString,
	}
}

// Submit stores content, enqueues a job for it and returns the job id without
// waiting for inference. Content is persisted before the job is enqueued.
func (uc *ClassificationUseCase) Submit(ctx context.Context, content []byte) (string, error) {
	if len(content) == 0 {
		return "", ErrEmptyContent
	}
	jobID := uc.newJobID()
	opLogger := logging.WithOperation(uc.logger, "usecase.submit", jobID)

	var fp pipeline.Fingerprint
	if err := uc.withRetry(ctx, jobID, "content.put", func() error {
		var err error
		fp, err = uc.content.Put(ctx, content)
		return err
	}); err != nil {
		opLogger.Error("failed to store content", logging.ErrorField(err))
		return "", err
	}

	job := pipeline.JobDescriptor{JobID: jobID, Fingerprint: fp}
	if err := uc.withRetry(ctx, jobID, "queue.enqueue", func() error {
		return uc.queue.Enqueue(ctx, job)
	}); err != nil {
		opLogger.Error("failed to enqueue job", logging.ErrorField(err))
		return "", err
	}

	opLogger.Info("job submitted", zap.String("fingerprint", fp.String()), zap.Int("size", len(content)))
	return jobID, nil
}

// AwaitResult polls the result cache until the job's prediction appears or
// timeout elapses, in which case pipeline.ErrTimeout is returned. The job
// keeps running after a timeout; a later call can still collect it. A
// non-positive timeout uses the configured default.
func (uc *ClassificationUseCase) AwaitResult(ctx context.Context, jobID string, timeout time.Duration) (pipeline.Prediction, error) {
	if timeout <= 0 {
		timeout = uc.defaultTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opLogger := logging.WithOperation(uc.logger, "usecase.await_result", jobID)
	ticker := time.NewTicker(uc.pollInterval)
	defer ticker.Stop()

	for {
		p, err := uc.results.Lookup(waitCtx, resultcache.JobKey(jobID))
		if err == nil {
			return p, nil
		}
		if waitCtx.Err() == nil && !errors.Is(err, pipeline.ErrNotFound) {
			if !isTransientError(err) {
				wrapped := logging.NewOperationError("usecase.await_result", jobID, err)
				opLogger.Error("result lookup failed", logging.ErrorField(wrapped))
				return pipeline.Prediction{}, wrapped
			}
			opLogger.Warn("transient result lookup error", zap.Error(err))
		}

		select {
		case <-waitCtx.Done():
			if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
				opLogger.Info("timed out waiting for result", zap.Duration("timeout", timeout))
				return pipeline.Prediction{}, logging.NewOperationError("usecase.await_result", jobID, pipeline.ErrTimeout)
			}
			return pipeline.Prediction{}, logging.NewOperationError("usecase.await_result", jobID, waitCtx.Err())
		case <-ticker.C:
		}
	}
}

// Result probes for a finished job once. found is false while the job is
// still pending.
func (uc *ClassificationUseCase) Result(ctx context.Context, jobID string) (p pipeline.Prediction, found bool, err error) {
	err = uc.withRetry(ctx, jobID, "cache.get.result", func() error {
		var lookupErr error
		p, lookupErr = uc.results.Lookup(ctx, resultcache.JobKey(jobID))
		if errors.Is(lookupErr, pipeline.ErrNotFound) {
			return nil
		}
		if lookupErr == nil {
			found = true
		}
		return lookupErr
	})
	if err != nil {
		return pipeline.Prediction{}, false, err
	}
	return p, found, nil
}

// Classify submits content and waits for its prediction.
func (uc *ClassificationUseCase) Classify(ctx context.Context, content []byte, timeout time.Duration) (string, pipeline.Prediction, error) {
	jobID, err := uc.Submit(ctx, content)
	if err != nil {
		return "", pipeline.Prediction{}, err
	}
	p, err := uc.AwaitResult(ctx, jobID, timeout)
	return jobID, p, err
}

// withRetry retries fn on transient errors with bounded exponential backoff.
func (uc *ClassificationUseCase) withRetry(ctx context.Context, jobID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, jobID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, jobID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, jobID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, jobID, err)
		}

		opLogger.Warn("transient error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, jobID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
