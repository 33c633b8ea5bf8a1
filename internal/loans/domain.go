// Package loans implements eligibility, loan issuance, repayment tracking and the overdue
// sweep. Balances are always derived from the repayment history.
package loans

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/coop-ledger/coopledger/internal/shared"
)

// Status of a loan.
type Status string

const (
	StatusApproved  Status = "approved"
	StatusActive    Status = "active"
	StatusOverdue   Status = "overdue"
	StatusRepaid    Status = "repaid"
	StatusCancelled Status = "cancelled"
)

// DefaultLimitMultiplier caps a loan at this multiple of confirmed contributions.
const DefaultLimitMultiplier = 3

var hundred = decimal.NewFromInt(100)

// Loan is a member loan. TotalAmount, TotalRepaid and Balance are derived on read.
type Loan struct {
	ID           int64           `json:"id"`
	MemberID     int64           `json:"member_id"`
	Principal    decimal.Decimal `json:"principal"`
	InterestRate decimal.Decimal `json:"interest_rate"`
	LoanDate     time.Time       `json:"loan_date"`
	DueDate      time.Time       `json:"due_date"`
	Status       Status          `json:"status"`
	Purpose      string          `json:"purpose,omitempty"`
	CreatedBy    int64           `json:"created_by,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`

	TotalAmount decimal.Decimal `json:"total_amount"`
	TotalRepaid decimal.Decimal `json:"total_repaid"`
	Balance     decimal.Decimal `json:"balance"`
}

// Repayment is an append-only payment against a loan.
type Repayment struct {
	ID            int64           `json:"id"`
	LoanID        int64           `json:"loan_id"`
	Amount        decimal.Decimal `json:"amount"`
	Date          time.Time       `json:"repayment_date"`
	PaymentMethod string          `json:"payment_method"`
	RecordedBy    int64           `json:"recorded_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Eligibility is the borrowing capacity of a member.
type Eligibility struct {
	MemberID           int64           `json:"member_id"`
	TotalContributions decimal.Decimal `json:"total_contributions"`
	MaxLoanAmount      decimal.Decimal `json:"max_loan_amount"`
	IsEligible         bool            `json:"is_eligible"`
}

// NewEligibility derives eligibility from confirmed contributions. It is monotonic in total.
func NewEligibility(memberID int64, total decimal.Decimal, multiplier int64) Eligibility {
	if multiplier <= 0 {
		multiplier = DefaultLimitMultiplier
	}
	return Eligibility{
		MemberID:           memberID,
		TotalContributions: total,
		MaxLoanAmount:      total.Mul(decimal.NewFromInt(multiplier)),
		IsEligible:         total.IsPositive(),
	}
}

// TotalAmount is principal × (1 + rate/100), rounded half-up to the minor unit.
func TotalAmount(principal, rate decimal.Decimal) decimal.Decimal {
	return principal.Mul(decimal.NewFromInt(1).Add(rate.Div(hundred))).Round(shared.MinorUnitScale)
}

// Derive fills the derived fields from the full repayment history.
func Derive(l Loan, repayments []Repayment) Loan {
	repaid := decimal.Zero
	for _, r := range repayments {
		repaid = repaid.Add(r.Amount)
	}
	return deriveWithRepaid(l, repaid)
}

func deriveWithRepaid(l Loan, repaid decimal.Decimal) Loan {
	l.TotalAmount = TotalAmount(l.Principal, l.InterestRate)
	l.TotalRepaid = repaid
	l.Balance = l.TotalAmount.Sub(repaid)
	return l
}

// IsOpen reports whether the loan still accepts repayments.
func (s Status) IsOpen() bool {
	return s == StatusApproved || s == StatusActive || s == StatusOverdue
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.IsOpen() || s == StatusRepaid || s == StatusCancelled
}

// statusAfterRepayment returns the status of an open loan after its balance changed.
func statusAfterRepayment(current Status, balance decimal.Decimal) Status {
	if !balance.IsPositive() {
		return StatusRepaid
	}
	if current == StatusApproved {
		return StatusActive
	}
	return current
}

// isOverdue reports whether a loan should move to overdue at day today.
func isOverdue(l Loan, today time.Time) bool {
	return (l.Status == StatusApproved || l.Status == StatusActive) &&
		shared.DateOnly(l.DueDate).Before(today) &&
		l.Balance.IsPositive()
}

// LoanRequest is the payload for ProcessLoan.
type LoanRequest struct {
	MemberID     int64           `json:"member_id" validate:"required,gt=0"`
	Amount       decimal.Decimal `json:"amount"`
	InterestRate decimal.Decimal `json:"interest_rate"`
	LoanDate     time.Time       `json:"loan_date"`
	DueDate      time.Time       `json:"due_date" validate:"required"`
	Purpose      string          `json:"purpose" validate:"max=255"`
}

// RepaymentRequest is the payload for RecordRepayment.
type RepaymentRequest struct {
	LoanID        int64           `json:"loan_id" validate:"required,gt=0"`
	Amount        decimal.Decimal `json:"amount"`
	Date          time.Time       `json:"repayment_date"`
	PaymentMethod string          `json:"payment_method" validate:"required,max=40"`
}

// ListFilters narrows loan listings.
type ListFilters struct {
	MemberID int64
	Status   Status
	Page     shared.Page
}

// ListResult is a page of loans.
type ListResult struct {
	Loans  []Loan            `json:"loans"`
	Paging shared.PagingInfo `json:"paging"`
}

// OverdueReport lists overdue loans after a refresh.
type OverdueReport struct {
	AsOf             time.Time       `json:"as_of"`
	Refreshed        int             `json:"refreshed"`
	Loans            []Loan          `json:"loans"`
	TotalOutstanding decimal.Decimal `json:"total_outstanding"`
}

type loanSnapshot struct {
	ID           int64  `json:"id"`
	MemberID     int64  `json:"member_id"`
	Principal    string `json:"principal"`
	InterestRate string `json:"interest_rate"`
	LoanDate     string `json:"loan_date"`
	DueDate      string `json:"due_date"`
	Status       Status `json:"status"`
	TotalAmount  string `json:"total_amount"`
	TotalRepaid  string `json:"total_repaid"`
	Balance      string `json:"balance"`
	Purpose      string `json:"purpose,omitempty"`
}

func snapshot(l Loan) loanSnapshot {
	return loanSnapshot{
		ID:           l.ID,
		MemberID:     l.MemberID,
		Principal:    l.Principal.StringFixed(shared.MinorUnitScale),
		InterestRate: l.InterestRate.String(),
		LoanDate:     l.LoanDate.Format(shared.DateLayout),
		DueDate:      l.DueDate.Format(shared.DateLayout),
		Status:       l.Status,
		TotalAmount:  l.TotalAmount.StringFixed(shared.MinorUnitScale),
		TotalRepaid:  l.TotalRepaid.StringFixed(shared.MinorUnitScale),
		Balance:      l.Balance.StringFixed(shared.MinorUnitScale),
		Purpose:      l.Purpose,
	}
}

type repaymentSnapshot struct {
	Loan      loanSnapshot `json:"loan"`
	Repayment struct {
		ID     int64  `json:"id"`
		Amount string `json:"amount"`
		Date   string `json:"repayment_date"`
		Method string `json:"payment_method"`
	} `json:"repayment"`
}
