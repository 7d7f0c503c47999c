package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/imgclassify/internal/logging"
)

// PredictionLog records one finished classification job.
type PredictionLog struct {
	ID          uint      `gorm:"primaryKey"`
	JobID       string    `gorm:"column:job_id;uniqueIndex;size:64"`
	Fingerprint string    `gorm:"column:fingerprint;index;size:64"`
	Label       string    `gorm:"column:label;size:255"`
	Confidence  float64   `gorm:"column:confidence"`
	Classified  bool      `gorm:"column:classified"`
	CacheHit    bool      `gorm:"column:cache_hit"`
	LatencyMs   int64     `gorm:"column:latency_ms"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (PredictionLog) TableName() string {
	return "prediction_logs"
}

// MetricsAggregation is the raw aggregate over prediction logs.
type MetricsAggregation struct {
	TotalCount        int64
	ClassifiedCount   int64
	CacheHitCount     int64
	AverageConfidence float64
	AverageLatencyMs  float64
}

// PredictionRepository provides persistence APIs for prediction logs.
type PredictionRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewPredictionRepository creates a new repository instance.
func NewPredictionRepository(db *gorm.DB, logger *zap.Logger) *PredictionRepository {
	return &PredictionRepository{
		db:             db,
		logger:         logger.Named("prediction_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *PredictionRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&PredictionLog{})
}

// SaveLog persists a prediction log entry. A duplicate job id is ignored so a
// redelivered job does not fail the worker.
func (r *PredictionRepository) SaveLog(ctx context.Context, log *PredictionLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.JobID, func() error {
		err := r.db.WithContext(ctx).Create(log).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil
		}
		return err
	})
}

// FindByJobID retrieves the log for a job.
func (r *PredictionRepository) FindByJobID(ctx context.Context, jobID string) (*PredictionLog, error) {
	var log PredictionLog
	err := r.executeWithRetry(ctx, "repository.find_by_job_id", jobID, func() error {
		return r.db.WithContext(ctx).First(&log, "job_id = ?", jobID).Error
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// AggregateMetrics summarises every persisted prediction.
func (r *PredictionRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&PredictionLog{}).
			Select(`COUNT(*) AS total_count,
				COALESCE(SUM(CASE WHEN classified THEN 1 ELSE 0 END), 0) AS classified_count,
				COALESCE(SUM(CASE WHEN cache_hit THEN 1 ELSE 0 END), 0) AS cache_hit_count,
				COALESCE(AVG(CASE WHEN classified THEN confidence END), 0) AS average_confidence,
				COALESCE(AVG(latency_ms), 0) AS average_latency_ms`).
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (r *PredictionRepository) executeWithRetry(ctx context.Context, operation, jobID string, fn func() error) error {
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, jobID)

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, jobID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !isTransientError(err) || attempt == attempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, jobID, err)
		}
		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
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
	return errors.As(err, &temporary) && temporary.Temporary()
}
