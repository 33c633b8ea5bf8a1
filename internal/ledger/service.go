package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coop-ledger/coopledger/internal/audit"
	"github.com/coop-ledger/coopledger/internal/notify"
	"github.com/coop-ledger/coopledger/internal/rbac"
	"github.com/coop-ledger/coopledger/internal/shared"
)

// Authorizer gates operations on the actor's permissions.
type Authorizer interface {
	Require(ctx context.Context, actorID int64, perms ...rbac.Permission) error
}

// Repository exposes contribution persistence.
type Repository interface {
	ContributionReader
	Get(ctx context.Context, id int64) (Contribution, error)
	List(ctx context.Context, f ListFilters, limit, offset int) ([]Contribution, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes transactional contribution operations.
type TxRepository interface {
	audit.Recorder
	MemberStatus(ctx context.Context, memberID int64) (string, error)
	Insert(ctx context.Context, c Contribution) (Contribution, error)
	GetForUpdate(ctx context.Context, id int64) (Contribution, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
}

// Service records contributions and answers aggregate queries.
type Service struct {
	repo     Repository
	authz    Authorizer
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the ledger service.
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

// TotalConfirmedContributions sums a member's confirmed contributions.
func (s *Service) TotalConfirmedContributions(ctx context.Context, memberID int64) (decimal.Decimal, error) {
	return NewAggregator(s.repo).TotalConfirmedContributions(ctx, memberID)
}

// TotalConfirmedByPeriod sums confirmed contributions per member within the period.
func (s *Service) TotalConfirmedByPeriod(ctx context.Context, start, end time.Time) (map[int64]decimal.Decimal, error) {
	return NewAggregator(s.repo).TotalConfirmedByPeriod(ctx, start, end)
}

// RecordContribution stores a pending contribution for an active member.
func (s *Service) RecordContribution(ctx context.Context, actorID int64, in RecordInput) (Contribution, error) {
	in.PaymentMethod = strings.TrimSpace(in.PaymentMethod)
	in.Reference = strings.TrimSpace(in.Reference)
	if err := shared.ValidateStruct(in); err != nil {
		return Contribution{}, err
	}
	if err := shared.ValidatePositiveAmount("amount", in.Amount); err != nil {
		return Contribution{}, err
	}
	if err := s.authz.Require(ctx, actorID, rbac.PermManageFinances); err != nil {
		return Contribution{}, err
	}
	var created Contribution
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		status, err := tx.MemberStatus(ctx, in.MemberID)
		if err != nil {
			return err
		}
		if status != "active" {
			return shared.Validation("member %d is %s", in.MemberID, status)
		}
		created, err = tx.Insert(ctx, Contribution{
			MemberID:      in.MemberID,
			Amount:        in.Amount,
			Date:          shared.DateOnly(in.Date),
			PaymentMethod: in.PaymentMethod,
			Reference:     in.Reference,
			Status:        StatusPending,
		})
		if err != nil {
			return err
		}
		return audit.Apply(ctx, tx, audit.Command{
			Action:     "contribution.record",
			EntityType: audit.EntityContribution,
			EntityID:   created.ID,
			After:      snapshot(created),
		}, actorID, s.now())
	})
	if err != nil {
		return Contribution{}, err
	}
	return created, nil
}

// ConfirmContribution settles a pending contribution as confirmed.
func (s *Service) ConfirmContribution(ctx context.Context, actorID, id int64) (Contribution, error) {
	c, err := s.settle(ctx, actorID, id, StatusConfirmed, "")
	if err != nil {
		return Contribution{}, err
	}
	s.notify(ctx, notify.Event{
		Kind:       notify.KindContributionAdded,
		MemberID:   c.MemberID,
		EntityType: audit.EntityContribution,
		EntityID:   c.ID,
		Data:       map[string]string{"amount": c.Amount.StringFixed(shared.MinorUnitScale)},
		OccurredAt: s.now(),
	})
	return c, nil
}

// FailContribution settles a pending contribution as failed.
func (s *Service) FailContribution(ctx context.Context, actorID, id int64, reason string) (Contribution, error) {
	return s.settle(ctx, actorID, id, StatusFailed, strings.TrimSpace(reason))
}

func (s *Service) settle(ctx context.Context, actorID, id int64, target Status, reason string) (Contribution, error) {
	if id <= 0 {
		return Contribution{}, shared.Validation("contribution id required")
	}
	if err := s.authz.Require(ctx, actorID, rbac.PermManageFinances); err != nil {
		return Contribution{}, err
	}
	var updated Contribution
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != StatusPending {
			return fmt.Errorf("%w: contribution %d is %s", shared.ErrNotPending, current.ID, current.Status)
		}
		if err := tx.UpdateStatus(ctx, id, target); err != nil {
			return err
		}
		updated = current
		updated.Status = target
		updated.UpdatedAt = s.now().UTC()
		after := snapshot(updated)
		after.Reason = reason
		return audit.Apply(ctx, tx, audit.Command{
			Action:     "contribution." + actionVerb(target),
			EntityType: audit.EntityContribution,
			EntityID:   id,
			Before:     snapshot(current),
			After:      after,
		}, actorID, s.now())
	})
	if err != nil {
		return Contribution{}, err
	}
	return updated, nil
}

func actionVerb(target Status) string {
	if target == StatusConfirmed {
		return "confirm"
	}
	return "fail"
}

// GetContribution returns one contribution.
func (s *Service) GetContribution(ctx context.Context, actorID, id int64) (Contribution, error) {
	if err := s.authz.Require(ctx, actorID, rbac.PermManageFinances, rbac.PermViewReports); err != nil {
		return Contribution{}, err
	}
	return s.repo.Get(ctx, id)
}

// ListContributions returns a page of contributions.
func (s *Service) ListContributions(ctx context.Context, actorID int64, f ListFilters) (ListResult, error) {
	if f.Status != "" && f.Status != StatusPending && f.Status != StatusConfirmed && f.Status != StatusFailed {
		return ListResult{}, shared.Validation("unknown contribution status %q", f.Status)
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
	if rows == nil {
		rows = []Contribution{}
	}
	return ListResult{Contributions: rows, Paging: shared.NewPagingInfo(page, hasNext)}, nil
}

func (s *Service) notify(ctx context.Context, event notify.Event) {
	if err := s.notifier.Notify(ctx, event); err != nil {
		s.logger.Warn("ledger notify", slog.String("kind", event.Kind), slog.Int64("entity_id", event.EntityID), slog.Any("error", err))
	}
}
