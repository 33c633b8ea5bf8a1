package members

import (
	"context"
	"strconv"

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

const memberColumns = `id, name, phone, email, status, joined_at, created_at, updated_at`

func scanMember(row pgx.Row) (Member, error) {
	var m Member
	var status string
	if err := row.Scan(&m.ID, &m.Name, &m.Phone, &m.Email, &status, &m.JoinedAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return Member{}, err
	}
	m.Status = Status(status)
	return m, nil
}

func getMember(ctx context.Context, q db.Querier, id int64, lock bool) (Member, error) {
	sql := `SELECT ` + memberColumns + ` FROM members WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	m, err := scanMember(q.QueryRow(ctx, sql, id))
	if db.IsNoRows(err) {
		return Member{}, shared.NotFound("member", id)
	}
	return m, shared.StoreError("members: get member", err)
}

// Get loads one member.
func (r *PGRepository) Get(ctx context.Context, id int64) (Member, error) {
	return getMember(ctx, r.pool, id, false)
}

// List returns members ordered by name.
func (r *PGRepository) List(ctx context.Context, f ListFilters, limit, offset int) ([]Member, error) {
	sql := `SELECT ` + memberColumns + ` FROM members WHERE 1=1`
	var args []any
	if f.Status != "" {
		args = append(args, string(f.Status))
		sql += ` AND status = $` + strconv.Itoa(len(args))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		n := strconv.Itoa(len(args))
		sql += ` AND (name ILIKE $` + n + ` OR email ILIKE $` + n + ` OR phone ILIKE $` + n + `)`
	}
	args = append(args, limit, offset)
	sql += ` ORDER BY name, id LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, shared.StoreError("members: list members", err)
	}
	defer rows.Close()
	var out []Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, shared.StoreError("members: scan member", err)
		}
		out = append(out, m)
	}
	return out, shared.StoreError("members: rows", rows.Err())
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

func (t *txRepo) Insert(ctx context.Context, m Member) (Member, error) {
	row := t.tx.QueryRow(ctx, `INSERT INTO members (name, phone, email, status, joined_at)
VALUES ($1, $2, $3, $4, $5) RETURNING `+memberColumns,
		m.Name, m.Phone, m.Email, string(m.Status), m.JoinedAt)
	created, err := scanMember(row)
	return created, shared.StoreError("members: insert member", err)
}

func (t *txRepo) GetForUpdate(ctx context.Context, id int64) (Member, error) {
	return getMember(ctx, t.tx, id, true)
}

func (t *txRepo) UpdateStatus(ctx context.Context, id int64, status Status) error {
	_, err := t.tx.Exec(ctx, `UPDATE members SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	return shared.StoreError("members: update status", err)
}

func (t *txRepo) Roles(ctx context.Context, id int64) ([]string, error) {
	rows, err := t.tx.Query(ctx, `SELECT role FROM role_assignments WHERE member_id = $1 ORDER BY role`, id)
	if err != nil {
		return nil, shared.StoreError("members: roles", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, shared.StoreError("members: scan role", err)
		}
		out = append(out, role)
	}
	return out, shared.StoreError("members: rows", rows.Err())
}

// Delete removes the member row. Role assignments cascade; financial history restricts.
func (t *txRepo) Delete(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM members WHERE id = $1`, id)
	if db.HasCode(err, db.CodeForeignKeyViolation) {
		return shared.Validation("member %d has financial history and cannot be deleted", id)
	}
	if err != nil {
		return shared.StoreError("members: delete member", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("member", id)
	}
	return nil
}
