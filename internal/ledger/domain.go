// Package ledger records member contributions and aggregates the confirmed ones, which are
// the only amounts that count toward eligibility and dividend shares.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/coop-ledger/coopledger/internal/shared"
)

// Status of a contribution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Contribution is a single payment by a member into the cooperative.
type Contribution struct {
	ID            int64           `json:"id"`
	MemberID      int64           `json:"member_id"`
	Amount        decimal.Decimal `json:"amount"`
	Date          time.Time       `json:"contribution_date"`
	PaymentMethod string          `json:"payment_method"`
	Reference     string          `json:"reference"`
	Status        Status          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// MemberAmount is one confirmed amount attributed to a member.
type MemberAmount struct {
	MemberID int64
	Amount   decimal.Decimal
}

// MemberTotal is the aggregated confirmed amount of a member.
type MemberTotal struct {
	MemberID int64           `json:"member_id"`
	Total    decimal.Decimal `json:"total"`
}

// RecordInput is the payload for a new pending contribution.
type RecordInput struct {
	MemberID      int64           `json:"member_id" validate:"required,gt=0"`
	Amount        decimal.Decimal `json:"amount"`
	Date          time.Time       `json:"contribution_date" validate:"required"`
	PaymentMethod string          `json:"payment_method" validate:"required,max=40"`
	Reference     string          `json:"reference" validate:"max=120"`
}

// ListFilters narrows contribution listings.
type ListFilters struct {
	MemberID int64
	Status   Status
	Page     shared.Page
}

// ListResult is a page of contributions.
type ListResult struct {
	Contributions []Contribution    `json:"contributions"`
	Paging        shared.PagingInfo `json:"paging"`
}

type contributionSnapshot struct {
	ID            int64  `json:"id"`
	MemberID      int64  `json:"member_id"`
	Amount        string `json:"amount"`
	Date          string `json:"contribution_date"`
	PaymentMethod string `json:"payment_method"`
	Reference     string `json:"reference,omitempty"`
	Status        Status `json:"status"`
	Reason        string `json:"reason,omitempty"`
}

func snapshot(c Contribution) contributionSnapshot {
	return contributionSnapshot{
		ID:            c.ID,
		MemberID:      c.MemberID,
		Amount:        c.Amount.StringFixed(shared.MinorUnitScale),
		Date:          c.Date.Format(shared.DateLayout),
		PaymentMethod: c.PaymentMethod,
		Reference:     c.Reference,
		Status:        c.Status,
	}
}
