package rbac

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coop-ledger/coopledger/internal/audit"
	"github.com/coop-ledger/coopledger/internal/platform/db"
	"github.com/coop-ledger/coopledger/internal/shared"
)

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// RolesOf returns the roles assigned to a member.
func (r *PGRepository) RolesOf(ctx context.Context, memberID int64) ([]Role, error) {
	return rolesOf(ctx, r.pool, memberID)
}

// WithTx runs fn inside a repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) RecordAudit(ctx context.Context, e audit.Entry) error {
	return audit.Insert(ctx, t.tx, e)
}

func (t *txRepo) MemberExists(ctx context.Context, memberID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM members WHERE id = $1)`, memberID).Scan(&exists)
	return exists, shared.StoreError("rbac: member exists", err)
}

func (t *txRepo) RolesOf(ctx context.Context, memberID int64) ([]Role, error) {
	return rolesOf(ctx, t.tx, memberID)
}

func (t *txRepo) InsertRole(ctx context.Context, memberID int64, role Role) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO role_assignments (member_id, role) VALUES ($1, $2) ON CONFLICT DO NOTHING`, memberID, string(role))
	return shared.StoreError("rbac: insert role", err)
}

func (t *txRepo) DeleteRole(ctx context.Context, memberID int64, role Role) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM role_assignments WHERE member_id = $1 AND role = $2`, memberID, string(role))
	return shared.StoreError("rbac: delete role", err)
}

func rolesOf(ctx context.Context, q db.Querier, memberID int64) ([]Role, error) {
	rows, err := q.Query(ctx, `SELECT role FROM role_assignments WHERE member_id = $1 ORDER BY role`, memberID)
	if err != nil {
		return nil, shared.StoreError("rbac: list roles", err)
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, shared.StoreError("rbac: scan role", err)
		}
		roles = append(roles, Role(role))
	}
	return roles, shared.StoreError("rbac: rows", rows.Err())
}
