// Package notify defines the events handed to the notification dispatcher once a business
// operation has committed.
package notify

import (
	"context"
	"time"
)

// Event kinds.
const (
	KindLoanApproved      = "loan.approved"
	KindLoanRepayment     = "loan.repayment"
	KindLoanRepaid        = "loan.repaid"
	KindDividendDeclared  = "dividend.declared"
	KindDividendPaid      = "dividend.member_paid"
	KindContributionAdded = "contribution.confirmed"
)

// Event describes a completed business operation.
type Event struct {
	Kind       string            `json:"kind"`
	MemberID   int64             `json:"member_id,omitempty"`
	EntityType string            `json:"entity_type"`
	EntityID   int64             `json:"entity_id"`
	Data       map[string]string `json:"data,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Notifier dispatches events. Delivery is asynchronous and outside the engine's
// transaction; callers log failures rather than failing the operation.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Nop discards events.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Event) error { return nil }
