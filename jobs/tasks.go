package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/lyceum-lms/lyceum-lms/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskInvalidateSubtree drops cached decisions under a resource.
	TaskInvalidateSubtree = "authz:invalidate:subtree"
	// TaskInvalidatePrincipal drops cached decisions for a subject.
	TaskInvalidatePrincipal = "authz:invalidate:principal"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// InvalidateSubtreePayload names the resource whose subtree went stale.
type InvalidateSubtreePayload struct {
	ResourceID int64 `json:"resource_id"`
}

// InvalidatePrincipalPayload names the subject whose claims changed.
type InvalidatePrincipalPayload struct {
	SubjectID string `json:"subject_id"`
}

// NewInvalidateSubtreeTask constructs an Asynq task for a subtree invalidation.
func NewInvalidateSubtreeTask(resourceID int64) (*asynq.Task, error) {
	body, err := json.Marshal(InvalidateSubtreePayload{ResourceID: resourceID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInvalidateSubtree, body, asynq.Queue(QueueDefault)), nil
}

// NewInvalidatePrincipalTask constructs an Asynq task for a principal invalidation.
func NewInvalidatePrincipalTask(subjectID string) (*asynq.Task, error) {
	body, err := json.Marshal(InvalidatePrincipalPayload{SubjectID: subjectID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInvalidatePrincipal, body, asynq.Queue(QueueDefault)), nil
}

// InvalidationEngine is the slice of the decision engine the jobs drive.
type InvalidationEngine interface {
	InvalidateSubtree(ctx context.Context, resourceID int64) error
	InvalidatePrincipal(ctx context.Context, subjectID string) error
}

// InvalidationJob applies queued invalidation signals to the engine. Course
// moves, claim edits, and submission writes enqueue these instead of talking
// to the cache directly.
type InvalidationJob struct {
	Engine  InvalidationEngine
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewInvalidationJob constructs the job handler.
func NewInvalidationJob(engine InvalidationEngine, logger *slog.Logger, metrics *jobmetrics.Metrics) *InvalidationJob {
	return &InvalidationJob{Engine: engine, Logger: logger, Metrics: metrics}
}

// HandleSubtree executes a queued subtree invalidation.
func (j *InvalidationJob) HandleSubtree(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Engine == nil {
		return errors.New("invalidation: engine not configured")
	}
	var payload InvalidateSubtreePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.ResourceID <= 0 {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskInvalidateSubtree)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if err := j.Engine.InvalidateSubtree(ctx, payload.ResourceID); err != nil {
		resultErr = err
		j.log(TaskInvalidateSubtree).Error("invalidate subtree", slog.Int64("resource_id", payload.ResourceID), slog.Any("error", err))
		return resultErr
	}
	return resultErr
}

// HandlePrincipal executes a queued principal invalidation.
func (j *InvalidationJob) HandlePrincipal(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Engine == nil {
		return errors.New("invalidation: engine not configured")
	}
	var payload InvalidatePrincipalPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.SubjectID == "" {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskInvalidatePrincipal)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if err := j.Engine.InvalidatePrincipal(ctx, payload.SubjectID); err != nil {
		resultErr = err
		j.log(TaskInvalidatePrincipal).Error("invalidate principal", slog.String("subject", payload.SubjectID), slog.Any("error", err))
		return resultErr
	}
	return resultErr
}

func (j *InvalidationJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *InvalidationJob) log(task string) *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", task))
	}
	return slog.Default().With(slog.String("job", task))
}
