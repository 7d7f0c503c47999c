package usecase

import (
	"context"
	"errors"

	"github.com/example/imgclassify/internal/repository"
)

// ErrNoPredictionLog is returned when metrics are requested but no
// prediction log is configured.
var ErrNoPredictionLog = errors.New("prediction log not configured")

// MetricsRepository aggregates persisted prediction logs.
type MetricsRepository interface {
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// MetricsSummary represents aggregated classification insights.
type MetricsSummary struct {
	TotalJobs         int64   `json:"total_jobs"`
	ClassifiedJobs    int64   `json:"classified_jobs"`
	ClassifiedRate    float64 `json:"classified_rate"`
	CacheHitRate      float64 `json:"cache_hit_rate"`
	AverageConfidence float64 `json:"average_confidence"`
	AverageLatencyMs  float64 `json:"average_latency_ms"`
}

// GetMetricsSummary aggregates classification metrics from persisted logs.
func (uc *ClassificationUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	if uc.repo == nil {
		return nil, ErrNoPredictionLog
	}
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalJobs:         aggregation.TotalCount,
		ClassifiedJobs:    aggregation.ClassifiedCount,
		AverageConfidence: aggregation.AverageConfidence,
		AverageLatencyMs:  aggregation.AverageLatencyMs,
	}

	if aggregation.TotalCount > 0 {
		summary.ClassifiedRate = float64(aggregation.ClassifiedCount) / float64(aggregation.TotalCount)
		summary.CacheHitRate = float64(aggregation.CacheHitCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
