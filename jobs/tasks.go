package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/coop-ledger/coopledger/internal/notify"
	"github.com/coop-ledger/coopledger/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries ledger maintenance that must not wait behind notifications.
	QueueCritical = "critical"
	// TaskNotifyEvent dispatches a committed domain event to members.
	TaskNotifyEvent = "notify:event"
	// TaskOverdueRefresh marks past-due open loans as overdue.
	TaskOverdueRefresh = "loans:overdue_refresh"
)

// NewNotifyEventTask constructs an Asynq task for the event.
func NewNotifyEventTask(e notify.Event) (*asynq.Task, error) {
	e.OccurredAt = e.OccurredAt.UTC()
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotifyEvent, data), nil
}

// OverdueRefreshPayload optionally pins the evaluation date; empty means today.
type OverdueRefreshPayload struct {
	AsOf string `json:"as_of,omitempty"`
}

// NewOverdueRefreshTask constructs an overdue sweep task. A zero asOf evaluates at run time.
func NewOverdueRefreshTask(asOf time.Time) (*asynq.Task, error) {
	payload := OverdueRefreshPayload{}
	if !asOf.IsZero() {
		payload.AsOf = asOf.UTC().Format(shared.DateLayout)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOverdueRefresh, data), nil
}
