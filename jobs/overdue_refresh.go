package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/coop-ledger/coopledger/internal/jobs"
	"github.com/coop-ledger/coopledger/internal/shared"
)

// OverdueRefresher runs the overdue sweep on behalf of the scheduler. Satisfied by
// *loans.Service.
type OverdueRefresher interface {
	RefreshOverdueAsSystem(ctx context.Context, now time.Time) (int, error)
}

// OverdueRefreshJob marks past-due loans overdue on a schedule.
type OverdueRefreshJob struct {
	Loans   OverdueRefresher
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewOverdueRefreshJob wires dependencies for the refresh handler.
func NewOverdueRefreshJob(loans OverdueRefresher, logger *slog.Logger, metrics *jobmetrics.Metrics) *OverdueRefreshJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &OverdueRefreshJob{
		Loans:   loans,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes loans:overdue_refresh tasks.
func (j *OverdueRefreshJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Loans == nil {
		return errors.New("overdue refresh: handler not configured")
	}
	var payload OverdueRefreshPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	asOf := j.clock()
	if payload.AsOf != "" {
		asOf, err = shared.ParseDate("as_of", payload.AsOf)
		if err != nil {
			j.Logger.Warn("drop overdue refresh task", slog.String("as_of", payload.AsOf), slog.Any("error", err))
			return asynq.SkipRetry
		}
	}

	tracker := j.Metrics.Track(TaskOverdueRefresh)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.Logger.With(slog.String("as_of", asOf.Format(shared.DateLayout)))
	updated, err := j.Loans.RefreshOverdueAsSystem(ctx, asOf)
	if err != nil {
		logger.Error("overdue refresh", slog.Any("error", err))
		if errors.Is(err, shared.ErrValidation) {
			return errors.Join(err, asynq.SkipRetry)
		}
		return err
	}
	j.Metrics.AddProcessed(TaskOverdueRefresh, updated)
	logger.Info("overdue refresh complete", slog.Int("updated", updated))
	return nil
}
