package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/lyceum-lms/lyceum-lms/internal/authz"
	authzcache "github.com/lyceum-lms/lyceum-lms/internal/authz/cache"
	jobmetrics "github.com/lyceum-lms/lyceum-lms/internal/jobs"
)

const (
	// TaskCacheMetrics samples the decision cache size for the entries gauge.
	TaskCacheMetrics = "authz:cache:metrics"
)

// KeyCounter enumerates live decision cache keys.
type KeyCounter interface {
	Keys(ctx context.Context, prefix string) ([]authzcache.KeyInfo, error)
}

// EntriesGauge receives the sampled entry count.
type EntriesGauge interface {
	SetCacheEntries(n int)
}

// CacheMetricsJob keeps the decision cache entries gauge current.
type CacheMetricsJob struct {
	Store   KeyCounter
	Gauge   EntriesGauge
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCacheMetricsJob constructs the job handler.
func NewCacheMetricsJob(store KeyCounter, gauge EntriesGauge, logger *slog.Logger, metrics *jobmetrics.Metrics) *CacheMetricsJob {
	return &CacheMetricsJob{Store: store, Gauge: gauge, Logger: logger, Metrics: metrics}
}

// NewCacheMetricsTask constructs an Asynq task for a cache size sample.
func NewCacheMetricsTask() *asynq.Task {
	return asynq.NewTask(TaskCacheMetrics, nil, asynq.Queue(QueueDefault))
}

// Handle executes one sample.
func (j *CacheMetricsJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Store == nil || j.Gauge == nil {
		return errors.New("cache metrics: store or gauge not configured")
	}

	tracker := j.metrics().Track(TaskCacheMetrics)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	keys, err := j.Store.Keys(ctx, authz.KeyPrefix)
	if err != nil {
		resultErr = err
		j.log().Warn("sample decision cache", slog.Any("error", err))
		return resultErr
	}
	j.Gauge.SetCacheEntries(len(keys))
	j.log().Info("sampled decision cache", slog.Int("entries", len(keys)))
	return resultErr
}

func (j *CacheMetricsJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *CacheMetricsJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskCacheMetrics))
	}
	return slog.Default().With(slog.String("job", TaskCacheMetrics))
}
