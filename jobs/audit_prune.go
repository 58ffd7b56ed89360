package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/lyceum-lms/lyceum-lms/internal/jobs"
)

const (
	// TaskAuditPrune trims decision trail entries past retention.
	TaskAuditPrune = "authz:audit:prune"
)

// AuditPrunePayload optionally overrides the configured retention.
type AuditPrunePayload struct {
	// Retention is a Go duration string; empty uses the configured default.
	Retention string `json:"retention,omitempty"`
}

// TrailPruner deletes trail entries older than the retention window.
type TrailPruner interface {
	PruneOlderThan(ctx context.Context, retention time.Duration) (int64, error)
}

// AuditPruneJob enforces the decision trail retention policy.
type AuditPruneJob struct {
	Trail     TrailPruner
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewAuditPruneJob constructs the job handler.
func NewAuditPruneJob(trail TrailPruner, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditPruneJob {
	return &AuditPruneJob{Trail: trail, Retention: retention, Logger: logger, Metrics: metrics}
}

// NewAuditPruneTask constructs an Asynq task for a trail prune run. A zero
// retention defers to the worker's configured default.
func NewAuditPruneTask(retention time.Duration) (*asynq.Task, error) {
	payload := AuditPrunePayload{}
	if retention > 0 {
		payload.Retention = retention.String()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditPrune, body, asynq.Queue(QueueDefault)), nil
}

// Handle executes the prune run.
func (j *AuditPruneJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Trail == nil {
		return errors.New("audit prune: trail not configured")
	}
	var payload AuditPrunePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	retention := j.Retention
	if payload.Retention != "" {
		parsed, err := time.ParseDuration(payload.Retention)
		if err != nil || parsed <= 0 {
			return asynq.SkipRetry
		}
		retention = parsed
	}

	tracker := j.metrics().Track(TaskAuditPrune)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	removed, err := j.Trail.PruneOlderThan(ctx, retention)
	if err != nil {
		resultErr = err
		j.log().Error("prune decision trail", slog.Any("error", err))
		return resultErr
	}
	j.log().Info("pruned decision trail", slog.Int64("removed", removed), slog.Duration("retention", retention))
	return resultErr
}

func (j *AuditPruneJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *AuditPruneJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAuditPrune))
	}
	return slog.Default().With(slog.String("job", TaskAuditPrune))
}
