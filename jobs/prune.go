package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/caseflow/caseflow/internal/jobs"
)

// TaskMaintenancePrune removes expired throttle events, idempotency keys and password resets.
const TaskMaintenancePrune = "maintenance:prune"

// PruneTarget deletes the expired rows of one table.
type PruneTarget struct {
	Table string
	Run   func(ctx context.Context) (int64, error)
}

// NewPruneTask builds the periodic retention task.
func NewPruneTask() *asynq.Task {
	return asynq.NewTask(TaskMaintenancePrune, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(3))
}

// PruneJob runs every target, continuing after failures.
type PruneJob struct {
	Targets []PruneTarget
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle executes the retention pass.
func (j *PruneJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil {
		return errors.New("prune: handler not configured")
	}
	tracker := j.Metrics.Track(TaskMaintenancePrune)
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var errs []error
	for _, target := range j.Targets {
		rows, err := target.Run(ctx)
		if err != nil {
			logger.Error("prune table", slog.String("table", target.Table), slog.Any("error", err))
			errs = append(errs, err)
			continue
		}
		j.Metrics.AddPruned(target.Table, rows)
		logger.Info("pruned table", slog.String("table", target.Table), slog.Int64("rows", rows))
	}
	return tracker.End(errors.Join(errs...))
}
