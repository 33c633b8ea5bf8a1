// Package dividends declares profit-sharing distributions and tracks the per-member
// payments that result from them.
package dividends

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/coop-ledger/coopledger/internal/shared"
)

// Status of a declaration.
type Status string

const (
	StatusDeclared  Status = "declared"
	StatusApproved  Status = "approved"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusDeclared: {StatusApproved, StatusCancelled},
	StatusApproved: {StatusPaid, StatusCancelled},
}

// CanTransition reports whether from → to is legal. Paid and cancelled are terminal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDeclared, StatusApproved, StatusPaid, StatusCancelled:
		return true
	}
	return false
}

// PaymentStatus of a member dividend.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// Declaration is a dividend pool declared for a period.
type Declaration struct {
	ID          int64           `json:"id"`
	PeriodStart time.Time       `json:"period_start"`
	PeriodEnd   time.Time       `json:"period_end"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      Status          `json:"status"`
	Notes       string          `json:"notes,omitempty"`
	DeclaredBy  int64           `json:"declared_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// MemberDividend is one member's allotment within a declaration.
type MemberDividend struct {
	ID                 int64           `json:"id"`
	DeclarationID      int64           `json:"declaration_id"`
	MemberID           int64           `json:"member_id"`
	ContributionAmount decimal.Decimal `json:"contribution_amount"`
	Percentage         decimal.Decimal `json:"percentage"`
	Amount             decimal.Decimal `json:"amount"`
	PaymentStatus      PaymentStatus   `json:"payment_status"`
	PaymentMethod      string          `json:"payment_method,omitempty"`
	PaymentReference   string          `json:"payment_reference,omitempty"`
	PaidAt             *time.Time      `json:"paid_at,omitempty"`
}

// DeclareInput is the payload for Declare.
type DeclareInput struct {
	PeriodStart time.Time       `json:"period_start" validate:"required"`
	PeriodEnd   time.Time       `json:"period_end" validate:"required"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Notes       string          `json:"notes" validate:"max=500"`
}

// Preview is a distribution computed without persisting anything.
type Preview struct {
	PeriodStart        time.Time       `json:"period_start"`
	PeriodEnd          time.Time       `json:"period_end"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	TotalContributions decimal.Decimal `json:"total_contributions"`
	Shares             []Share         `json:"shares"`
}

// Detail is a declaration with its member rows.
type Detail struct {
	Declaration Declaration      `json:"declaration"`
	Members     []MemberDividend `json:"members"`
}

// ListFilters narrows declaration listings.
type ListFilters struct {
	Status Status
	Page   shared.Page
}

// ListResult is a page of declarations.
type ListResult struct {
	Declarations []Declaration     `json:"declarations"`
	Paging       shared.PagingInfo `json:"paging"`
}

type declarationSnapshot struct {
	ID          int64  `json:"id"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
	TotalAmount string `json:"total_amount"`
	Status      Status `json:"status"`
	Notes       string `json:"notes,omitempty"`
	Members     int    `json:"members,omitempty"`
}

func declSnapshot(d Declaration, members int) declarationSnapshot {
	return declarationSnapshot{
		ID:          d.ID,
		PeriodStart: d.PeriodStart.Format(shared.DateLayout),
		PeriodEnd:   d.PeriodEnd.Format(shared.DateLayout),
		TotalAmount: d.TotalAmount.StringFixed(shared.MinorUnitScale),
		Status:      d.Status,
		Notes:       d.Notes,
		Members:     members,
	}
}

type memberDividendSnapshot struct {
	ID               int64         `json:"id"`
	DeclarationID    int64         `json:"declaration_id"`
	MemberID         int64         `json:"member_id"`
	Amount           string        `json:"amount"`
	PaymentStatus    PaymentStatus `json:"payment_status"`
	PaymentMethod    string        `json:"payment_method,omitempty"`
	PaymentReference string        `json:"payment_reference,omitempty"`
	Reason           string        `json:"reason,omitempty"`
}

func mdSnapshot(md MemberDividend) memberDividendSnapshot {
	return memberDividendSnapshot{
		ID:               md.ID,
		DeclarationID:    md.DeclarationID,
		MemberID:         md.MemberID,
		Amount:           md.Amount.StringFixed(shared.MinorUnitScale),
		PaymentStatus:    md.PaymentStatus,
		PaymentMethod:    md.PaymentMethod,
		PaymentReference: md.PaymentReference,
	}
}
