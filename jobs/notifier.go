package jobs

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/coop-ledger/coopledger/internal/notify"
)

// Enqueuer is the subset of *asynq.Client used to submit tasks.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Notifier hands committed domain events to the worker through the queue.
type Notifier struct {
	enqueuer Enqueuer
}

// NewNotifier builds a queue-backed notify.Notifier.
func NewNotifier(enqueuer Enqueuer) *Notifier {
	return &Notifier{enqueuer: enqueuer}
}

var _ notify.Notifier = (*Notifier)(nil)

// Notify enqueues a notify:event task.
func (n *Notifier) Notify(ctx context.Context, event notify.Event) error {
	if n == nil || n.enqueuer == nil {
		return nil
	}
	task, err := NewNotifyEventTask(event)
	if err != nil {
		return fmt.Errorf("jobs: build notify task: %w", err)
	}
	if _, err := n.enqueuer.EnqueueContext(ctx, task, asynq.Queue(QueueDefault), asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("jobs: enqueue %s: %w", event.Kind, err)
	}
	return nil
}
