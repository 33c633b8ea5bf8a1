package loans

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coop-ledger/coopledger/internal/audit"
	"github.com/coop-ledger/coopledger/internal/ledger"
	"github.com/coop-ledger/coopledger/internal/notify"
	"github.com/coop-ledger/coopledger/internal/rbac"
	"github.com/coop-ledger/coopledger/internal/shared"
)

// Authorizer gates operations on the actor's permissions.
type Authorizer interface {
	Require(ctx context.Context, actorID int64, perms ...rbac.Permission) error
}

// Repository exposes loan persistence.
type Repository interface {
	Contributions() ledger.ContributionReader
	MemberStatus(ctx context.Context, memberID int64) (string, error)
	Get(ctx context.Context, id int64) (Loan, []Repayment, error)
	List(ctx context.Context, f ListFilters, limit, offset int) ([]Loan, error)
	ListOverdue(ctx context.Context) ([]Loan, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	WithSweepTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes transactional loan operations. List-style reads fill TotalRepaid.
type TxRepository interface {
	audit.Recorder
	Contributions() ledger.ContributionReader
	MemberStatus(ctx context.Context, memberID int64) (string, error)
	InsertLoan(ctx context.Context, l Loan) (Loan, error)
	GetForUpdate(ctx context.Context, id int64) (Loan, error)
	// TouchLoan writes the locked loan row so a concurrent repeatable-read writer that
	// locked it from an older snapshot fails to serialize instead of reading stale history.
	TouchLoan(ctx context.Context, id int64) error
	Repayments(ctx context.Context, loanID int64) ([]Repayment, error)
	InsertRepayment(ctx context.Context, r Repayment) (Repayment, error)
	// UpdateStatus sets status when the current status is one of from and reports
	// whether a row changed.
	UpdateStatus(ctx context.Context, id int64, to Status, from ...Status) (bool, error)
	// LockOverdueCandidates locks approved and active loans due before today, skipping
	// rows held by concurrent callers.
	LockOverdueCandidates(ctx context.Context, today time.Time) ([]Loan, error)
}

// Config tunes the loan engine.
type Config struct {
	LimitMultiplier int64
	// SystemActorID attributes scheduled sweeps in the audit log.
	SystemActorID int64
}

// Service is the loan engine.
type Service struct {
	repo     Repository
	authz    Authorizer
	notifier notify.Notifier
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
}

// NewService constructs the loan engine.
func NewService(repo Repository, authz Authorizer, notifier notify.Notifier, logger *slog.Logger, cfg Config) *Service {
	if cfg.LimitMultiplier <= 0 {
		cfg.LimitMultiplier = DefaultLimitMultiplier
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, authz: authz, notifier: notifier, logger: logger, cfg: cfg, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Eligibility returns the borrowing capacity of a member from confirmed contributions.
func (s *Service) Eligibility(ctx context.Context, memberID int64) (Eligibility, error) {
	if memberID <= 0 {
		return Eligibility{}, shared.Validation("member id required")
	}
	if _, err := s.repo.MemberStatus(ctx, memberID); err != nil {
		return Eligibility{}, err
	}
	total, err := ledger.NewAggregator(s.repo.Contributions()).TotalConfirmedContributions(ctx, memberID)
	if err != nil {
		return Eligibility{}, err
	}
	return NewEligibility(memberID, total, s.cfg.LimitMultiplier), nil
}

// ProcessLoan issues an approved loan within the member's limit.
func (s *Service) ProcessLoan(ctx context.Context, actorID int64, req LoanRequest) (Loan, error) {
	req.Purpose = strings.TrimSpace(req.Purpose)
	if err := shared.ValidateStruct(req); err != nil {
		return Loan{}, err
	}
	if err := shared.ValidatePositiveAmount("amount", req.Amount); err != nil {
		return Loan{}, err
	}
	if req.InterestRate.IsNegative() || req.InterestRate.GreaterThan(hundred) {
		return Loan{}, shared.Validation("interest rate must be between 0 and 100")
	}
	loanDate := shared.DateOnly(s.now())
	if !req.LoanDate.IsZero() {
		loanDate = shared.DateOnly(req.LoanDate)
	}
	dueDate := shared.DateOnly(req.DueDate)
	if !dueDate.After(loanDate) {
		return Loan{}, shared.Validation("due date must be after loan date")
	}
	if err := s.authz.Require(ctx, actorID, rbac.PermManageFinances); err != nil {
		return Loan{}, err
	}

	var created Loan
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		status, err := tx.MemberStatus(ctx, req.MemberID)
		if err != nil {
			return err
		}
		if status != "active" {
			return fmt.Errorf("%w: member %d is %s", shared.ErrIneligibleMember, req.MemberID, status)
		}
		total, err := ledger.NewAggregator(tx.Contributions()).TotalConfirmedContributions(ctx, req.MemberID)
		if err != nil {
			return err
		}
		elig := NewEligibility(req.MemberID, total, s.cfg.LimitMultiplier)
		if !elig.IsEligible {
			return fmt.Errorf("%w: member %d has no confirmed contributions", shared.ErrIneligibleMember, req.MemberID)
		}
		if req.Amount.GreaterThan(elig.MaxLoanAmount) {
			return fmt.Errorf("%w: requested %s, limit %s", shared.ErrExceedsLimit,
				req.Amount.StringFixed(shared.MinorUnitScale), elig.MaxLoanAmount.StringFixed(shared.MinorUnitScale))
		}
		created, err = tx.InsertLoan(ctx, Loan{
			MemberID:     req.MemberID,
			Principal:    req.Amount,
			InterestRate: req.InterestRate,
			LoanDate:     loanDate,
			DueDate:      dueDate,
			Status:       StatusApproved,
			Purpose:      req.Purpose,
			CreatedBy:    actorID,
		})
		if err != nil {
			return err
		}
		created = Derive(created, nil)
		return audit.Apply(ctx, tx, audit.Command{
			Action:     "loan.process",
			EntityType: audit.EntityLoan,
			EntityID:   created.ID,
			After:      snapshot(created),
		}, actorID, s.now())
	})
	if err != nil {
		return Loan{}, err
	}
	s.notify(ctx, notify.Event{
		Kind:       notify.KindLoanApproved,
		MemberID:   created.MemberID,
		EntityType: audit.EntityLoan,
		EntityID:   created.ID,
		Data: map[string]string{
			"principal":    created.Principal.StringFixed(shared.MinorUnitScale),
			"total_amount": created.TotalAmount.StringFixed(shared.MinorUnitScale),
			"due_date":     created.DueDate.Format(shared.DateLayout),
		},
		OccurredAt: s.now(),
	})
	return created, nil
}

// RecordRepayment appends a repayment and recomputes the balance from the full history.
func (s *Service) RecordRepayment(ctx context.Context, actorID int64, req RepaymentRequest) (Loan, error) {
	req.PaymentMethod = strings.TrimSpace(req.PaymentMethod)
	if err := shared.ValidateStruct(req); err != nil {
		return Loan{}, err
	}
	if err := shared.ValidatePositiveAmount("amount", req.Amount); err != nil {
		return Loan{}, err
	}
	date := shared.DateOnly(s.now())
	if !req.Date.IsZero() {
		date = shared.DateOnly(req.Date)
	}
	if err := s.authz.Require(ctx, actorID, rbac.PermManageFinances); err != nil {
		return Loan{}, err
	}

	var updated Loan
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		loan, err := tx.GetForUpdate(ctx, req.LoanID)
		if err != nil {
			return err
		}
		if err := tx.TouchLoan(ctx, loan.ID); err != nil {
			return err
		}
		history, err := tx.Repayments(ctx, loan.ID)
		if err != nil {
			return err
		}
		before := Derive(loan, history)
		if before.Status == StatusCancelled {
			return fmt.Errorf("%w: loan %d is cancelled", shared.ErrInvalidTransition, loan.ID)
		}
		if req.Amount.GreaterThan(before.Balance) {
			return fmt.Errorf("%w: repayment %s, balance %s", shared.ErrExceedsBalance,
				req.Amount.StringFixed(shared.MinorUnitScale), before.Balance.StringFixed(shared.MinorUnitScale))
		}
		repayment, err := tx.InsertRepayment(ctx, Repayment{
			LoanID:        loan.ID,
			Amount:        req.Amount,
			Date:          date,
			PaymentMethod: req.PaymentMethod,
			RecordedBy:    actorID,
		})
		if err != nil {
			return err
		}
		history, err = tx.Repayments(ctx, loan.ID)
		if err != nil {
			return err
		}
		updated = Derive(loan, history)
		if updated.Balance.IsNegative() {
			return fmt.Errorf("%w: balance would become %s", shared.ErrExceedsBalance, updated.Balance.String())
		}
		next := statusAfterRepayment(loan.Status, updated.Balance)
		if next != loan.Status {
			if _, err := tx.UpdateStatus(ctx, loan.ID, next, loan.Status); err != nil {
				return err
			}
			updated.Status = next
		}
		var after repaymentSnapshot
		after.Loan = snapshot(updated)
		after.Repayment.ID = repayment.ID
		after.Repayment.Amount = repayment.Amount.StringFixed(shared.MinorUnitScale)
		after.Repayment.Date = repayment.Date.Format(shared.DateLayout)
		after.Repayment.Method = repayment.PaymentMethod
		return audit.Apply(ctx, tx, audit.Command{
			Action:     "loan.repayment",
			EntityType: audit.EntityLoan,
			EntityID:   loan.ID,
			Before:     snapshot(before),
			After:      after,
		}, actorID, s.now())
	})
	if err != nil {
		return Loan{}, err
	}
	kind := notify.KindLoanRepayment
	if updated.Status == StatusRepaid {
		kind = notify.KindLoanRepaid
	}
	s.notify(ctx, notify.Event{
		Kind:       kind,
		MemberID:   updated.MemberID,
		EntityType: audit.EntityLoan,
		EntityID:   updated.ID,
		Data: map[string]string{
			"amount":  req.Amount.StringFixed(shared.MinorUnitScale),
			"balance": updated.Balance.StringFixed(shared.MinorUnitScale),
		},
		OccurredAt: s.now(),
	})
	return updated, nil
}

// CancelLoan cancels an approved loan that has no repayments.
func (s *Service) CancelLoan(ctx context.Context, actorID, loanID int64, reason string) (Loan, error) {
	if loanID <= 0 {
		return Loan{}, shared.Validation("loan id required")
	}
	if err := s.authz.Require(ctx, actorID, rbac.PermManageFinances); err != nil {
		return Loan{}, err
	}
	var updated Loan
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		loan, err := tx.GetForUpdate(ctx, loanID)
		if err != nil {
			return err
		}
		history, err := tx.Repayments(ctx, loanID)
		if err != nil {
			return err
		}
		before := Derive(loan, history)
		if loan.Status != StatusApproved || len(history) > 0 {
			return fmt.Errorf("%w: loan %d is %s with %d repayments", shared.ErrInvalidTransition, loanID, loan.Status, len(history))
		}
		if _, err := tx.UpdateStatus(ctx, loanID, StatusCancelled, StatusApproved); err != nil {
			return err
		}
		updated = before
		updated.Status = StatusCancelled
		after := map[string]any{"loan": snapshot(updated), "reason": strings.TrimSpace(reason)}
		return audit.Apply(ctx, tx, audit.Command{
			Action:     "loan.cancel",
			EntityType: audit.EntityLoan,
			EntityID:   loanID,
			Before:     snapshot(before),
			After:      after,
		}, actorID, s.now())
	})
	if err != nil {
		return Loan{}, err
	}
	return updated, nil
}

// RefreshOverdueStatuses moves every approved or active loan whose due date has passed
// with a positive balance to overdue. Running it again without other changes updates
// nothing.
func (s *Service) RefreshOverdueStatuses(ctx context.Context, actorID int64, now time.Time) (int, error) {
	if err := s.authz.Require(ctx, actorID, rbac.PermManageFinances, rbac.PermViewReports); err != nil {
		return 0, err
	}
	return s.refreshOverdue(ctx, actorID, now)
}

// RefreshOverdueAsSystem runs the sweep on behalf of the scheduler.
func (s *Service) RefreshOverdueAsSystem(ctx context.Context, now time.Time) (int, error) {
	if s.cfg.SystemActorID <= 0 {
		return 0, shared.Validation("system actor id not configured")
	}
	return s.refreshOverdue(ctx, s.cfg.SystemActorID, now)
}

func (s *Service) refreshOverdue(ctx context.Context, actorID int64, now time.Time) (int, error) {
	today := shared.DateOnly(now)
	updated := 0
	err := s.repo.WithSweepTx(ctx, func(ctx context.Context, tx TxRepository) error {
		updated = 0
		candidates, err := tx.LockOverdueCandidates(ctx, today)
		if err != nil {
			return err
		}
		for _, candidate := range candidates {
			history, err := tx.Repayments(ctx, candidate.ID)
			if err != nil {
				return err
			}
			loan := Derive(candidate, history)
			if !isOverdue(loan, today) {
				continue
			}
			changed, err := tx.UpdateStatus(ctx, loan.ID, StatusOverdue, StatusApproved, StatusActive)
			if err != nil {
				return err
			}
			if !changed {
				continue
			}
			after := loan
			after.Status = StatusOverdue
			if err := audit.Apply(ctx, tx, audit.Command{
				Action:     "loan.overdue",
				EntityType: audit.EntityLoan,
				EntityID:   loan.ID,
				Before:     snapshot(loan),
				After:      snapshot(after),
			}, actorID, s.now()); err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if updated > 0 {
		s.logger.Info("loans marked overdue", slog.Int("count", updated), slog.String("as_of", today.Format(shared.DateLayout)))
	}
	return updated, nil
}

// RequireReportAccess checks the permission needed to refresh and read overdue reports.
func (s *Service) RequireReportAccess(ctx context.Context, actorID int64) error {
	return s.authz.Require(ctx, actorID, rbac.PermManageFinances, rbac.PermViewReports)
}

// OverdueReport refreshes overdue statuses and lists overdue loans with a balance.
func (s *Service) OverdueReport(ctx context.Context, actorID int64, now time.Time) (OverdueReport, error) {
	refreshed, err := s.RefreshOverdueStatuses(ctx, actorID, now)
	if err != nil {
		return OverdueReport{}, err
	}
	loans, err := s.repo.ListOverdue(ctx)
	if err != nil {
		return OverdueReport{}, err
	}
	report := OverdueReport{AsOf: shared.DateOnly(now), Refreshed: refreshed, Loans: []Loan{}, TotalOutstanding: decimal.Zero}
	for _, l := range loans {
		l = deriveWithRepaid(l, l.TotalRepaid)
		if !l.Balance.IsPositive() {
			continue
		}
		report.Loans = append(report.Loans, l)
		report.TotalOutstanding = report.TotalOutstanding.Add(l.Balance)
	}
	return report, nil
}

// GetLoan returns a loan with derived fields and its repayments.
func (s *Service) GetLoan(ctx context.Context, actorID, id int64) (Loan, []Repayment, error) {
	if err := s.authz.Require(ctx, actorID, rbac.PermManageFinances, rbac.PermViewReports); err != nil {
		return Loan{}, nil, err
	}
	loan, history, err := s.repo.Get(ctx, id)
	if err != nil {
		return Loan{}, nil, err
	}
	if history == nil {
		history = []Repayment{}
	}
	return Derive(loan, history), history, nil
}

// ListLoans returns a page of loans with derived fields.
func (s *Service) ListLoans(ctx context.Context, actorID int64, f ListFilters) (ListResult, error) {
	if f.Status != "" && !f.Status.Valid() {
		return ListResult{}, shared.Validation("unknown loan status %q", f.Status)
	}
	if err := s.authz.Require(ctx, actorID, rbac.PermManageFinances, rbac.PermViewReports); err != nil {
		return ListResult{}, err
	}
	page := f.Page.Normalize()
	rows, err := s.repo.List(ctx, f, page.PageSize+1, page.Offset())
	if err != nil {
		return ListResult{}, err
	}
	hasNext := len(rows) > page.PageSize
	if hasNext {
		rows = rows[:page.PageSize]
	}
	out := make([]Loan, 0, len(rows))
	for _, l := range rows {
		out = append(out, deriveWithRepaid(l, l.TotalRepaid))
	}
	return ListResult{Loans: out, Paging: shared.NewPagingInfo(page, hasNext)}, nil
}

func (s *Service) notify(ctx context.Context, event notify.Event) {
	if err := s.notifier.Notify(ctx, event); err != nil {
		s.logger.Warn("loans notify", slog.String("kind", event.Kind), slog.Int64("entity_id", event.EntityID), slog.Any("error", err))
	}
}
