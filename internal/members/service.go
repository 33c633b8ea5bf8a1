package members

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/coop-ledger/coopledger/internal/audit"
	"github.com/coop-ledger/coopledger/internal/rbac"
	"github.com/coop-ledger/coopledger/internal/shared"
)

// Authorizer gates operations on the actor's permissions.
type Authorizer interface {
	Require(ctx context.Context, actorID int64, perms ...rbac.Permission) error
}

// RoleCache drops cached role sets. Satisfied by *rbac.RedisCache.
type RoleCache interface {
	Invalidate(ctx context.Context, memberID int64) error
}

// Repository exposes member persistence.
type Repository interface {
	Get(ctx context.Context, id int64) (Member, error)
	List(ctx context.Context, f ListFilters, limit, offset int) ([]Member, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes transactional member operations.
type TxRepository interface {
	audit.Recorder
	Insert(ctx context.Context, m Member) (Member, error)
	GetForUpdate(ctx context.Context, id int64) (Member, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
	Roles(ctx context.Context, id int64) ([]string, error)
	Delete(ctx context.Context, id int64) error
}

// Service manages the member lifecycle.
type Service struct {
	repo   Repository
	authz  Authorizer
	roles  RoleCache
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the member service.
func NewService(repo Repository, authz Authorizer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, authz: authz, logger: logger, now: time.Now}
}

// WithRoleCache sets the cache whose entry is dropped when a member is deleted.
func (s *Service) WithRoleCache(c RoleCache) *Service {
	s.roles = c
	return s
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Enroll creates an active member.
func (s *Service) Enroll(ctx context.Context, actorID int64, in EnrollInput) (Member, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := shared.ValidateStruct(in); err != nil {
		return Member{}, err
	}
	if err := s.authz.Require(ctx, actorID, rbac.PermManageUsers); err != nil {
		return Member{}, err
	}
	joined := shared.DateOnly(in.JoinedAt)
	if in.JoinedAt.IsZero() {
		joined = shared.DateOnly(s.now())
	}
	var created Member
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.Insert(ctx, Member{
			Name:     in.Name,
			Phone:    in.Phone,
			Email:    in.Email,
			Status:   StatusActive,
			JoinedAt: joined,
		})
		if err != nil {
			return err
		}
		return audit.Apply(ctx, tx, audit.Command{
			Action:     "member.enroll",
			EntityType: audit.EntityMember,
			EntityID:   created.ID,
			After:      snapshot(created, nil),
		}, actorID, s.now())
	})
	if err != nil {
		return Member{}, err
	}
	return created, nil
}

// Suspend moves an active or inactive member to suspended.
func (s *Service) Suspend(ctx context.Context, actorID, id int64) (Member, error) {
	return s.transition(ctx, actorID, id, "member.suspend", StatusSuspended, StatusActive, StatusInactive)
}

// Reactivate moves a suspended or inactive member back to active.
func (s *Service) Reactivate(ctx context.Context, actorID, id int64) (Member, error) {
	return s.transition(ctx, actorID, id, "member.reactivate", StatusActive, StatusSuspended, StatusInactive)
}

func (s *Service) transition(ctx context.Context, actorID, id int64, action string, to Status, from ...Status) (Member, error) {
	if id <= 0 {
		return Member{}, shared.Validation("member id required")
	}
	if err := s.authz.Require(ctx, actorID, rbac.PermManageUsers); err != nil {
		return Member{}, err
	}
	var updated Member
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		m, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		allowed := false
		for _, f := range from {
			if m.Status == f {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: member %d is %s, cannot become %s", shared.ErrInvalidTransition, id, m.Status, to)
		}
		if err := tx.UpdateStatus(ctx, id, to); err != nil {
			return err
		}
		updated = m
		updated.Status = to
		updated.UpdatedAt = s.now().UTC()
		return audit.Apply(ctx, tx, audit.Command{
			Action:     action,
			EntityType: audit.EntityMember,
			EntityID:   id,
			Before:     snapshot(m, nil),
			After:      snapshot(updated, nil),
		}, actorID, s.now())
	})
	if err != nil {
		return Member{}, err
	}
	return updated, nil
}

// Delete removes a member. confirmation must equal the member's current name byte for
// byte; the full record, roles included, is written to the audit log before removal.
func (s *Service) Delete(ctx context.Context, actorID, id int64, confirmation string) error {
	if id <= 0 {
		return shared.Validation("member id required")
	}
	if err := s.authz.Require(ctx, actorID, rbac.PermManageUsers); err != nil {
		return err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		m, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if confirmation != m.Name {
			return fmt.Errorf("%w: type the member's full name exactly to delete member %d", shared.ErrConfirmationMismatch, id)
		}
		roles, err := tx.Roles(ctx, id)
		if err != nil {
			return err
		}
		if err := audit.Apply(ctx, tx, audit.Command{
			Action:     "member.delete",
			EntityType: audit.EntityMember,
			EntityID:   id,
			Before:     snapshot(m, roles),
		}, actorID, s.now()); err != nil {
			return err
		}
		return tx.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	if s.roles != nil {
		if err := s.roles.Invalidate(ctx, id); err != nil {
			s.logger.Warn("members role cache invalidate", slog.Int64("member_id", id), slog.Any("error", err))
		}
	}
	s.logger.Info("member deleted", slog.Int64("member_id", id), slog.Int64("actor_id", actorID))
	return nil
}

// Get returns one member.
func (s *Service) Get(ctx context.Context, actorID, id int64) (Member, error) {
	if err := s.authz.Require(ctx, actorID, rbac.PermManageUsers, rbac.PermViewReports); err != nil {
		return Member{}, err
	}
	return s.repo.Get(ctx, id)
}

// List returns a page of members ordered by name.
func (s *Service) List(ctx context.Context, actorID int64, f ListFilters) (ListResult, error) {
	if f.Status != "" && !f.Status.Valid() {
		return ListResult{}, shared.Validation("unknown member status %q", f.Status)
	}
	if err := s.authz.Require(ctx, actorID, rbac.PermManageUsers, rbac.PermViewReports); err != nil {
		return ListResult{}, err
	}
	f.Search = strings.TrimSpace(f.Search)
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
		rows = []Member{}
	}
	return ListResult{Members: rows, Paging: shared.NewPagingInfo(page, hasNext)}, nil
}
