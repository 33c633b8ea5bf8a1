package dividends

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
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

// Repository exposes dividend persistence.
type Repository interface {
	Contributions() ledger.ContributionReader
	GetDeclaration(ctx context.Context, id int64) (Declaration, error)
	MemberDividends(ctx context.Context, declarationID int64) ([]MemberDividend, error)
	ListDeclarations(ctx context.Context, f ListFilters, limit, offset int) ([]Declaration, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes transactional dividend operations.
type TxRepository interface {
	audit.Recorder
	Contributions() ledger.ContributionReader
	InsertDeclaration(ctx context.Context, d Declaration) (Declaration, error)
	InsertMemberDividends(ctx context.Context, rows []MemberDividend) error
	MemberDividends(ctx context.Context, declarationID int64) ([]MemberDividend, error)
	GetDeclarationForUpdate(ctx context.Context, id int64) (Declaration, error)
	UpdateDeclarationStatus(ctx context.Context, id int64, status Status) error
	GetMemberDividendForUpdate(ctx context.Context, id int64) (MemberDividend, error)
	UpdateMemberDividendPayment(ctx context.Context, md MemberDividend) error
}

// Service is the dividend engine.
type Service struct {
	repo     Repository
	authz    Authorizer
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the dividend engine.
func NewService(repo Repository, authz Authorizer, notifier notify.Notifier, logger *slog.Logger) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, authz: authz, notifier: notifier, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func distribute(ctx context.Context, reader ledger.ContributionReader, start, end time.Time, pool decimal.Decimal) (Preview, error) {
	period, err := shared.NewPeriod(start, end)
	if err != nil {
		return Preview{}, err
	}
	if err := shared.ValidatePositiveAmount("total amount", pool); err != nil {
		return Preview{}, err
	}
	totals, err := ledger.NewAggregator(reader).TotalConfirmedByPeriod(ctx, period.Start, period.End)
	if err != nil {
		return Preview{}, err
	}
	sorted := ledger.SortedTotals(totals)
	shares, err := Allocate(pool, sorted)
	if err != nil {
		return Preview{}, err
	}
	sum := decimal.Zero
	for _, t := range sorted {
		sum = sum.Add(t.Total)
	}
	return Preview{PeriodStart: period.Start, PeriodEnd: period.End, TotalAmount: pool, TotalContributions: sum, Shares: shares}, nil
}

// PreviewDistribution computes the distribution of pool over the period without writing.
func (s *Service) PreviewDistribution(ctx context.Context, actorID int64, start, end time.Time, pool decimal.Decimal) (Preview, error) {
	if err := s.authz.Require(ctx, actorID, rbac.PermManageFinances, rbac.PermViewReports); err != nil {
		return Preview{}, err
	}
	return distribute(ctx, s.repo.Contributions(), start, end, pool)
}

// Declare persists a declaration and its member rows as one unit.
func (s *Service) Declare(ctx context.Context, actorID int64, in DeclareInput) (Detail, error) {
	in.Notes = strings.TrimSpace(in.Notes)
	if err := shared.ValidateStruct(in); err != nil {
		return Detail{}, err
	}
	if _, err := shared.NewPeriod(in.PeriodStart, in.PeriodEnd); err != nil {
		return Detail{}, err
	}
	if err := shared.ValidatePositiveAmount("total amount", in.TotalAmount); err != nil {
		return Detail{}, err
	}
	if err := s.authz.Require(ctx, actorID, rbac.PermManageFinances); err != nil {
		return Detail{}, err
	}
	var detail Detail
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		preview, err := distribute(ctx, tx.Contributions(), in.PeriodStart, in.PeriodEnd, in.TotalAmount)
		if err != nil {
			return err
		}
		if sum := SumAmounts(preview.Shares); !sum.Equal(in.TotalAmount) {
			return fmt.Errorf("dividends: allocation sums to %s, pool is %s", sum, in.TotalAmount)
		}
		decl, err := tx.InsertDeclaration(ctx, Declaration{
			PeriodStart: preview.PeriodStart,
			PeriodEnd:   preview.PeriodEnd,
			TotalAmount: in.TotalAmount,
			Status:      StatusDeclared,
			Notes:       in.Notes,
			DeclaredBy:  actorID,
		})
		if err != nil {
			return err
		}
		rows := make([]MemberDividend, len(preview.Shares))
		for i, sh := range preview.Shares {
			rows[i] = MemberDividend{
				DeclarationID:      decl.ID,
				MemberID:           sh.MemberID,
				ContributionAmount: sh.Contribution,
				Percentage:         sh.Percentage,
				Amount:             sh.Amount,
				PaymentStatus:      PaymentPending,
			}
		}
		if err := tx.InsertMemberDividends(ctx, rows); err != nil {
			return err
		}
		members, err := tx.MemberDividends(ctx, decl.ID)
		if err != nil {
			return err
		}
		detail = Detail{Declaration: decl, Members: members}
		return audit.Apply(ctx, tx, audit.Command{
			Action:     "dividend.declare",
			EntityType: audit.EntityDeclaration,
			EntityID:   decl.ID,
			After:      declSnapshot(decl, len(members)),
		}, actorID, s.now())
	})
	if err != nil {
		return Detail{}, err
	}
	s.notify(ctx, notify.Event{
		Kind:       notify.KindDividendDeclared,
		EntityType: audit.EntityDeclaration,
		EntityID:   detail.Declaration.ID,
		Data: map[string]string{
			"total_amount": detail.Declaration.TotalAmount.StringFixed(shared.MinorUnitScale),
			"members":      fmt.Sprint(len(detail.Members)),
		},
		OccurredAt: s.now(),
	})
	return detail, nil
}

// TransitionStatus moves a declaration along declared → approved → paid, or cancels it
// before payment. A declaration is only marked paid once no member row is pending.
func (s *Service) TransitionStatus(ctx context.Context, actorID, id int64, next Status) (Declaration, error) {
	if !next.Valid() {
		return Declaration{}, shared.Validation("unknown declaration status %q", next)
	}
	if err := s.authz.Require(ctx, actorID, rbac.PermManageFinances); err != nil {
		return Declaration{}, err
	}
	var updated Declaration
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		decl, err := tx.GetDeclarationForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(decl.Status, next) {
			return fmt.Errorf("%w: declaration %d cannot move from %s to %s", shared.ErrInvalidTransition, id, decl.Status, next)
		}
		if next == StatusPaid {
			members, err := tx.MemberDividends(ctx, id)
			if err != nil {
				return err
			}
			pending := 0
			for _, md := range members {
				if md.PaymentStatus == PaymentPending {
					pending++
				}
			}
			if pending > 0 {
				return fmt.Errorf("%w: declaration %d has %d pending member payments", shared.ErrInvalidTransition, id, pending)
			}
		}
		if err := tx.UpdateDeclarationStatus(ctx, id, next); err != nil {
			return err
		}
		updated = decl
		updated.Status = next
		updated.UpdatedAt = s.now().UTC()
		return audit.Apply(ctx, tx, audit.Command{
			Action:     "dividend." + string(next),
			EntityType: audit.EntityDeclaration,
			EntityID:   id,
			Before:     declSnapshot(decl, 0),
			After:      declSnapshot(updated, 0),
		}, actorID, s.now())
	})
	if err != nil {
		return Declaration{}, err
	}
	return updated, nil
}

// MarkMemberPaid settles a pending member dividend. An empty reference is replaced by a
// generated one.
func (s *Service) MarkMemberPaid(ctx context.Context, actorID, memberDividendID int64, method, reference string) (MemberDividend, error) {
	method = strings.TrimSpace(method)
	reference = strings.TrimSpace(reference)
	if method == "" {
		return MemberDividend{}, shared.Validation("payment method required")
	}
	if reference == "" {
		reference = "DIV-" + uuid.NewString()
	}
	md, err := s.settle(ctx, actorID, memberDividendID, PaymentPaid, func(md *MemberDividend) {
		paidAt := s.now().UTC()
		md.PaymentMethod = method
		md.PaymentReference = reference
		md.PaidAt = &paidAt
	}, "")
	if err != nil {
		return MemberDividend{}, err
	}
	s.notify(ctx, notify.Event{
		Kind:       notify.KindDividendPaid,
		MemberID:   md.MemberID,
		EntityType: audit.EntityDividend,
		EntityID:   md.ID,
		Data: map[string]string{
			"amount":    md.Amount.StringFixed(shared.MinorUnitScale),
			"reference": md.PaymentReference,
		},
		OccurredAt: s.now(),
	})
	return md, nil
}

// MarkMemberFailed records a failed payment attempt for a pending member dividend.
func (s *Service) MarkMemberFailed(ctx context.Context, actorID, memberDividendID int64, reason string) (MemberDividend, error) {
	return s.settle(ctx, actorID, memberDividendID, PaymentFailed, nil, strings.TrimSpace(reason))
}

func (s *Service) settle(ctx context.Context, actorID, id int64, target PaymentStatus, apply func(*MemberDividend), reason string) (MemberDividend, error) {
	if id <= 0 {
		return MemberDividend{}, shared.Validation("member dividend id required")
	}
	if err := s.authz.Require(ctx, actorID, rbac.PermManageFinances); err != nil {
		return MemberDividend{}, err
	}
	var updated MemberDividend
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		md, err := tx.GetMemberDividendForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if md.PaymentStatus != PaymentPending {
			return fmt.Errorf("%w: member dividend %d is %s", shared.ErrNotPending, id, md.PaymentStatus)
		}
		decl, err := tx.GetDeclarationForUpdate(ctx, md.DeclarationID)
		if err != nil {
			return err
		}
		if decl.Status != StatusApproved {
			return fmt.Errorf("%w: declaration %d is %s, not approved", shared.ErrInvalidTransition, decl.ID, decl.Status)
		}
		updated = md
		updated.PaymentStatus = target
		if apply != nil {
			apply(&updated)
		}
		if err := tx.UpdateMemberDividendPayment(ctx, updated); err != nil {
			return err
		}
		after := mdSnapshot(updated)
		after.Reason = reason
		return audit.Apply(ctx, tx, audit.Command{
			Action:     "dividend.member_" + string(target),
			EntityType: audit.EntityDividend,
			EntityID:   id,
			Before:     mdSnapshot(md),
			After:      after,
		}, actorID, s.now())
	})
	if err != nil {
		return MemberDividend{}, err
	}
	return updated, nil
}

// GetDeclaration returns a declaration with its member rows.
func (s *Service) GetDeclaration(ctx context.Context, actorID, id int64) (Detail, error) {
	if err := s.authz.Require(ctx, actorID, rbac.PermManageFinances, rbac.PermViewReports); err != nil {
		return Detail{}, err
	}
	decl, err := s.repo.GetDeclaration(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	members, err := s.repo.MemberDividends(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	if members == nil {
		members = []MemberDividend{}
	}
	return Detail{Declaration: decl, Members: members}, nil
}

// ListDeclarations returns a page of declarations, newest first.
func (s *Service) ListDeclarations(ctx context.Context, actorID int64, f ListFilters) (ListResult, error) {
	if f.Status != "" && !f.Status.Valid() {
		return ListResult{}, shared.Validation("unknown declaration status %q", f.Status)
	}
	if err := s.authz.Require(ctx, actorID, rbac.PermManageFinances, rbac.PermViewReports); err != nil {
		return ListResult{}, err
	}
	page := f.Page.Normalize()
	rows, err := s.repo.ListDeclarations(ctx, f, page.PageSize+1, page.Offset())
	if err != nil {
		return ListResult{}, err
	}
	hasNext := len(rows) > page.PageSize
	if hasNext {
		rows = rows[:page.PageSize]
	}
	if rows == nil {
		rows = []Declaration{}
	}
	return ListResult{Declarations: rows, Paging: shared.NewPagingInfo(page, hasNext)}, nil
}

func (s *Service) notify(ctx context.Context, event notify.Event) {
	if err := s.notifier.Notify(ctx, event); err != nil {
		s.logger.Warn("dividends notify", slog.String("kind", event.Kind), slog.Int64("entity_id", event.EntityID), slog.Any("error", err))
	}
}
