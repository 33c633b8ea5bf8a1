package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/coop-ledger/coopledger/internal/jobs"
	"github.com/coop-ledger/coopledger/internal/notify"
)

// NotifyDispatchJob consumes notify:event tasks. Delivery channels are pluggable through
// the Sink; the default sink logs the event.
type NotifyDispatchJob struct {
	Sink    notify.Notifier
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewNotifyDispatchJob wires dependencies for the dispatch handler.
func NewNotifyDispatchJob(sink notify.Notifier, logger *slog.Logger, metrics *jobmetrics.Metrics) *NotifyDispatchJob {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = LogSink{Logger: logger}
	}
	return &NotifyDispatchJob{Sink: sink, Logger: logger, Metrics: metrics}
}

// Handle processes notify:event tasks.
func (j *NotifyDispatchJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	var event notify.Event
	if err := json.Unmarshal(t.Payload(), &event); err != nil || event.Kind == "" {
		j.Logger.Warn("drop malformed notify task", slog.Any("error", err))
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskNotifyEvent)
	defer func() {
		err = tracker.End(err)
	}()
	if err := j.Sink.Notify(ctx, event); err != nil {
		j.Logger.Error("dispatch notification", slog.String("kind", event.Kind), slog.Int64("entity_id", event.EntityID), slog.Any("error", err))
		return err
	}
	j.Metrics.AddProcessed(TaskNotifyEvent, 1)
	return nil
}

// LogSink writes events to the structured log.
type LogSink struct {
	Logger *slog.Logger
}

// Notify implements notify.Notifier.
func (s LogSink) Notify(ctx context.Context, event notify.Event) error {
	s.Logger.InfoContext(ctx, "member notification",
		slog.String("kind", event.Kind),
		slog.Int64("member_id", event.MemberID),
		slog.String("entity_type", event.EntityType),
		slog.Int64("entity_id", event.EntityID),
		slog.Any("data", event.Data),
	)
	return nil
}
