package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/lyceum-lms/lyceum-lms/internal/hierarchy"
	jobmetrics "github.com/lyceum-lms/lyceum-lms/internal/jobs"
)

const (
	// TaskHierarchyVerify sweeps the stored tree for structural corruption.
	TaskHierarchyVerify = "authz:hierarchy:verify"
)

// NodeSource loads the full stored tree.
type NodeSource interface {
	AllNodes(ctx context.Context) ([]hierarchy.Node, error)
}

// HierarchyVerifyJob runs the integrity sweep. Any problem is a
// configuration fault: it fails the run loudly so the failure alert fires
// instead of letting evaluation discover the corruption request by request.
type HierarchyVerifyJob struct {
	Nodes   NodeSource
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewHierarchyVerifyJob constructs the job handler.
func NewHierarchyVerifyJob(nodes NodeSource, logger *slog.Logger, metrics *jobmetrics.Metrics) *HierarchyVerifyJob {
	return &HierarchyVerifyJob{Nodes: nodes, Logger: logger, Metrics: metrics}
}

// NewHierarchyVerifyTask constructs an Asynq task for an integrity sweep.
func NewHierarchyVerifyTask() *asynq.Task {
	return asynq.NewTask(TaskHierarchyVerify, nil, asynq.Queue(QueueDefault))
}

// Handle executes the integrity sweep.
func (j *HierarchyVerifyJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Nodes == nil {
		return errors.New("hierarchy verify: node source not configured")
	}

	tracker := j.metrics().Track(TaskHierarchyVerify)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	nodes, err := j.Nodes.AllNodes(ctx)
	if err != nil {
		resultErr = err
		j.log().Error("load tree", slog.Any("error", err))
		return resultErr
	}
	problems := hierarchy.VerifyTree(nodes)
	if len(problems) > 0 {
		j.metrics().AddHierarchyProblems(len(problems))
		for _, p := range problems {
			j.log().Error("hierarchy integrity violation", slog.Int64("node_id", p.NodeID), slog.String("detail", p.Detail))
		}
		resultErr = fmt.Errorf("hierarchy verify: %d problems in %d nodes", len(problems), len(nodes))
		return resultErr
	}
	j.log().Info("hierarchy verified", slog.Int("nodes", len(nodes)))
	return resultErr
}

func (j *HierarchyVerifyJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *HierarchyVerifyJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskHierarchyVerify))
	}
	return slog.Default().With(slog.String("job", TaskHierarchyVerify))
}
