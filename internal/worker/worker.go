// Package worker consumes job descriptors, resolves them against the
// fingerprint cache or the model, and publishes the result under the job id.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/imgclassify/internal/connect"
	"github.com/example/imgclassify/internal/inference"
	"github.com/example/imgclassify/internal/logging"
	"github.com/example/imgclassify/internal/metrics"
	"github.com/example/imgclassify/internal/pipeline"
	"github.com/example/imgclassify/internal/repository"
	"github.com/example/imgclassify/internal/resultcache"
)

// Queue is the consumer side of the work queue.
type Queue interface {
	Dequeue(ctx context.Context) (pipeline.JobDescriptor, error)
}

// ContentReader loads stored image bytes.
type ContentReader interface {
	Get(ctx context.Context, fp pipeline.Fingerprint) ([]byte, error)
}

// ResultCache is the subset of resultcache.Cache used by the worker.
type ResultCache interface {
	Lookup(ctx context.Context, key resultcache.Key) (pipeline.Prediction, error)
	Store(ctx context.Context, key resultcache.Key, p pipeline.Prediction) error
}

// Recorder persists an audit row per finished job.
type Recorder interface {
	SaveLog(ctx context.Context, log *repository.PredictionLog) error
}

// Option customises a Worker.
type Option func(*Worker)

// WithRecorder persists finished jobs through r.
func WithRecorder(r Recorder) Option {
	return func(w *Worker) { w.recorder = r }
}

// WithMetrics reports job outcomes to m.
func WithMetrics(m *metrics.Worker) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithInferenceTimeout bounds each call to the model. Zero means no bound.
func WithInferenceTimeout(d time.Duration) Option {
	return func(w *Worker) { w.inferenceTimeout = d }
}

// WithRetryDelay sets the pause after a failed dequeue.
func WithRetryDelay(d time.Duration) Option {
	return func(w *Worker) { w.retryDelay = d }
}

// WithSleeper replaces the sleep used between dequeue retries.
func WithSleeper(s connect.Sleeper) Option {
	return func(w *Worker) { w.sleep = s }
}

// Worker runs the inference loop. One Worker may drive several concurrent
// loops; all shared state lives in the queue, content store and cache.
type Worker struct {
	queue            Queue
	content          ContentReader
	cache            ResultCache
	model            inference.Client
	recorder         Recorder
	metrics          *metrics.Worker
	logger           *zap.Logger
	inferenceTimeout time.Duration
	retryDelay       time.Duration
	sleep            connect.Sleeper
}

// New constructs a Worker.
func New(queue Queue, content ContentReader, cache ResultCache, model inference.Client, logger *zap.Logger, opts ...Option) *Worker {
	w := &Worker{
		queue:      queue,
		content:    content,
		cache:      cache,
		model:      model,
		logger:     logger.Named("worker"),
		retryDelay: connect.DefaultDelay,
		sleep:      connect.SleepContext,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run processes jobs until ctx is cancelled. A job already dequeued when
// cancellation arrives is still completed. Run returns nil on orderly
// shutdown.
func (w *Worker) Run(ctx context.Context) error {
	return w.run(ctx, w.logger)
}

// RunPool runs n concurrent loops and waits for all of them to stop.
func (w *Worker) RunPool(ctx context.Context, n int) error {
	if n < 1 {
		n = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		logger := w.logger.With(zap.Int("loop", i))
		g.Go(func() error {
			return w.run(gctx, logger)
		})
	}
	return g.Wait()
}

func (w *Worker) run(ctx context.Context, logger *zap.Logger) error {
	logger.Info("worker loop started")
	defer logger.Info("worker loop stopped")

	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("dequeue failed", zap.Error(err), zap.Duration("retry_in", w.retryDelay))
			if err := w.sleep(ctx, w.retryDelay); err != nil {
				return nil
			}
			continue
		}

		// Shutdown must not abandon a job that has left the queue.
		if _, err := w.Process(context.WithoutCancel(ctx), job); err != nil {
			logger.Warn("job finished without delivery", zap.String("job_id", job.JobID), zap.Error(err))
		}
	}
}

// Process resolves one job and stores its result under the job id. The
// returned error is non-nil only when the job result could not be delivered.
func (w *Worker) Process(ctx context.Context, job pipeline.JobDescriptor) (pipeline.Prediction, error) {
	start := time.Now()
	opLogger := logging.WithOperation(w.logger, "worker.process", job.JobID).
		With(zap.String("fingerprint", job.Fingerprint.String()))

	fpKey := resultcache.FingerprintKey(job.Fingerprint)
	result, err := w.cache.Lookup(ctx, fpKey)
	cacheHit := err == nil
	switch {
	case cacheHit:
		w.metrics.CacheHit()
		opLogger.Debug("fingerprint cache hit")
	case errors.Is(err, pipeline.ErrNotFound):
	default:
		opLogger.Warn("fingerprint lookup failed, treating as miss", zap.Error(err))
	}

	if !cacheHit {
		result = w.classify(ctx, job, opLogger)
		if result.Classified {
			if err := w.cache.Store(ctx, fpKey, result); err != nil {
				opLogger.Warn("failed to cache fingerprint result", zap.Error(err))
			}
		}
	}

	if err := w.cache.Store(ctx, resultcache.JobKey(job.JobID), result); err != nil {
		wrapped := logging.NewOperationError("worker.store_job_result", job.JobID, err)
		opLogger.Error("failed to deliver job result, submitter will time out", logging.ErrorField(wrapped))
		w.metrics.JobFinished(metrics.OutcomeUndelivered)
		return result, wrapped
	}

	if result.Classified {
		w.metrics.JobFinished(metrics.OutcomeClassified)
	} else {
		w.metrics.JobFinished(metrics.OutcomeUnclassified)
	}
	elapsed := time.Since(start)
	opLogger.Info("job completed",
		zap.Bool("cache_hit", cacheHit),
		zap.Bool("classified", result.Classified),
		zap.String("label", result.Label),
		zap.Float64("confidence", result.Confidence),
		zap.Duration("elapsed", elapsed),
	)
	w.record(ctx, job, result, cacheHit, elapsed, opLogger)
	return result, nil
}

// classify loads the content and runs the model. Any failure yields the
// unclassified outcome so the submitter gets an answer.
func (w *Worker) classify(ctx context.Context, job pipeline.JobDescriptor, opLogger *zap.Logger) pipeline.Prediction {
	content, err := w.content.Get(ctx, job.Fingerprint)
	if err != nil {
		opLogger.Error("failed to load content", zap.Error(err))
		return pipeline.Unclassified()
	}
	result, err := w.infer(ctx, content)
	if err != nil {
		opLogger.Error("inference failed", zap.Error(err))
		return pipeline.Unclassified()
	}
	return result
}

func (w *Worker) infer(ctx context.Context, content []byte) (result pipeline.Prediction, err error) {
	if w.inferenceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.inferenceTimeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		w.metrics.ObserveInference(time.Since(start))
		if r := recover(); r != nil {
			result, err = pipeline.Prediction{}, fmt.Errorf("%w: panic: %v", pipeline.ErrInferenceFailed, r)
		}
	}()

	result, err = w.model.Infer(ctx, content)
	if err != nil {
		if !errors.Is(err, pipeline.ErrInferenceFailed) {
			err = fmt.Errorf("%w: %w", pipeline.ErrInferenceFailed, err)
		}
		return pipeline.Prediction{}, err
	}
	if !result.Classified {
		return pipeline.Prediction{}, fmt.Errorf("%w: empty result", pipeline.ErrInferenceFailed)
	}
	return result, nil
}

func (w *Worker) record(ctx context.Context, job pipeline.JobDescriptor, result pipeline.Prediction, cacheHit bool, elapsed time.Duration, opLogger *zap.Logger) {
	if w.recorder == nil {
		return
	}
	err := w.recorder.SaveLog(ctx, &repository.PredictionLog{
		JobID:       job.JobID,
		Fingerprint: job.Fingerprint.String(),
		Label:       result.Label,
		Confidence:  result.Confidence,
		Classified:  result.Classified,
		CacheHit:    cacheHit,
		LatencyMs:   elapsed.Milliseconds(),
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		opLogger.Warn("failed to record prediction log", zap.Error(err))
	}
}
