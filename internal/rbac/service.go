package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coop-ledger/coopledger/internal/audit"
	"github.com/coop-ledger/coopledger/internal/shared"
)

// Repository exposes role persistence.
type Repository interface {
	RolesOf(ctx context.Context, memberID int64) ([]Role, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes transactional role operations.
type TxRepository interface {
	audit.Recorder
	MemberExists(ctx context.Context, memberID int64) (bool, error)
	RolesOf(ctx context.Context, memberID int64) ([]Role, error)
	InsertRole(ctx context.Context, memberID int64, role Role) error
	DeleteRole(ctx context.Context, memberID int64, role Role) error
}

// Cache stores role sets keyed by member and generation. Invalidate must advance the
// generation returned by Version.
type Cache interface {
	Version(ctx context.Context, memberID int64) (int64, error)
	Get(ctx context.Context, memberID, version int64) (RoleSet, bool, error)
	Set(ctx context.Context, memberID, version int64, roles RoleSet) error
	Invalidate(ctx context.Context, memberID int64) error
}

// Service resolves role sets and gates operations on permissions.
type Service struct {
	repo   Repository
	cache  Cache
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the RBAC service. cache may be nil.
func NewService(repo Repository, cache Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Roles returns the role set held by a member.
func (s *Service) Roles(ctx context.Context, memberID int64) (RoleSet, error) {
	cached := s.cache != nil
	var version int64
	if cached {
		var err error
		version, err = s.cache.Version(ctx, memberID)
		if err != nil {
			s.logger.Warn("rbac cache version", slog.Int64("member_id", memberID), slog.Any("error", err))
			cached = false
		}
	}
	if cached {
		set, ok, err := s.cache.Get(ctx, memberID, version)
		if err != nil {
			s.logger.Warn("rbac cache get", slog.Int64("member_id", memberID), slog.Any("error", err))
		} else if ok {
			return set, nil
		}
	}
	roles, err := s.repo.RolesOf(ctx, memberID)
	if err != nil {
		return nil, err
	}
	set := NewRoleSet(roles...)
	if cached {
		if err := s.cache.Set(ctx, memberID, version, set); err != nil {
			s.logger.Warn("rbac cache set", slog.Int64("member_id", memberID), slog.Any("error", err))
		}
	}
	return set, nil
}

// HasRole reports whether the member holds role.
func (s *Service) HasRole(ctx context.Context, memberID int64, role Role) (bool, error) {
	set, err := s.Roles(ctx, memberID)
	if err != nil {
		return false, err
	}
	return set.Has(role), nil
}

// HasAnyRole reports whether the member holds at least one of roles.
func (s *Service) HasAnyRole(ctx context.Context, memberID int64, roles ...Role) (bool, error) {
	set, err := s.Roles(ctx, memberID)
	if err != nil {
		return false, err
	}
	return set.HasAny(roles...), nil
}

// Require fails with a *shared.PermissionError unless the actor holds a role granting
// at least one of perms.
func (s *Service) Require(ctx context.Context, actorID int64, perms ...Permission) error {
	if len(perms) == 0 {
		return nil
	}
	set := RoleSet{}
	if actorID > 0 {
		var err error
		set, err = s.Roles(ctx, actorID)
		if err != nil {
			return err
		}
	}
	for _, p := range perms {
		if set.Can(p) {
			return nil
		}
	}
	return denied(perms...)
}

func denied(perms ...Permission) error {
	seen := make(map[Role]bool)
	var sufficient []string
	names := ""
	for i, p := range perms {
		if i > 0 {
			names += " or "
		}
		names += string(p)
		for _, r := range grants[p] {
			if !seen[r] {
				seen[r] = true
				sufficient = append(sufficient, string(r))
			}
		}
	}
	return &shared.PermissionError{Permission: names, Sufficient: sufficient}
}

// AssignRole grants role to a member. Assigning a held role is a successful no-op.
func (s *Service) AssignRole(ctx context.Context, actorID, memberID int64, rawRole string) (RoleSet, error) {
	return s.change(ctx, actorID, memberID, rawRole, true)
}

// RemoveRole revokes role from a member. Removing a role not held is a successful no-op.
func (s *Service) RemoveRole(ctx context.Context, actorID, memberID int64, rawRole string) (RoleSet, error) {
	return s.change(ctx, actorID, memberID, rawRole, false)
}

func (s *Service) change(ctx context.Context, actorID, memberID int64, rawRole string, grant bool) (RoleSet, error) {
	role, err := ParseRole(rawRole)
	if err != nil {
		return nil, err
	}
	if memberID <= 0 {
		return nil, shared.Validation("member id required")
	}
	if err := s.Require(ctx, actorID, PermManageUsers); err != nil {
		return nil, err
	}
	var result RoleSet
	changed := false
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		exists, err := tx.MemberExists(ctx, memberID)
		if err != nil {
			return err
		}
		if !exists {
			return shared.NotFound("member", memberID)
		}
		current, err := tx.RolesOf(ctx, memberID)
		if err != nil {
			return err
		}
		before := NewRoleSet(current...)
		action := "role.assign"
		if grant {
			result = before.With(role)
			if before.Has(role) {
				return nil
			}
			err = tx.InsertRole(ctx, memberID, role)
		} else {
			action = "role.remove"
			result = before.Without(role)
			if !before.Has(role) {
				return nil
			}
			err = tx.DeleteRole(ctx, memberID, role)
		}
		if err != nil {
			return err
		}
		changed = true
		return audit.Apply(ctx, tx, audit.Command{
			Action:     action,
			EntityType: audit.EntityRole,
			EntityID:   fmt.Sprintf("%d:%s", memberID, role),
			Before:     roleSnapshot{MemberID: memberID, Roles: before.Strings()},
			After:      roleSnapshot{MemberID: memberID, Roles: result.Strings()},
		}, actorID, s.now())
	})
	if err != nil {
		return nil, err
	}
	if changed && s.cache != nil {
		if err := s.cache.Invalidate(ctx, memberID); err != nil {
			s.logger.Warn("rbac cache invalidate", slog.Int64("member_id", memberID), slog.Any("error", err))
		}
	}
	return result, nil
}
