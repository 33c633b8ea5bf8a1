package ledger

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/coop-ledger/coopledger/internal/audit"
	"github.com/coop-ledger/coopledger/internal/platform/db"
	"github.com/coop-ledger/coopledger/internal/shared"
)

// Reader implements ContributionReader on any querier, so other engines can aggregate
// inside their own transaction.
type Reader struct {
	q db.Querier
}

// NewReader binds a reader to a pool or transaction.
func NewReader(q db.Querier) Reader {
	return Reader{q: q}
}

// ConfirmedAmounts lists the confirmed contribution amounts of a member.
func (r Reader) ConfirmedAmounts(ctx context.Context, memberID int64) ([]decimal.Decimal, error) {
	rows, err := r.q.Query(ctx, `SELECT amount FROM contributions WHERE member_id = $1 AND status = 'confirmed'`, memberID)
	if err != nil {
		return nil, shared.StoreError("ledger: confirmed amounts", err)
	}
	defer rows.Close()
	var out []decimal.Decimal
	for rows.Next() {
		var n pgtype.Numeric
		if err := rows.Scan(&n); err != nil {
			return nil, shared.StoreError("ledger: scan amount", err)
		}
		amount, err := db.Decimal(n)
		if err != nil {
			return nil, shared.StoreError("ledger: decode amount", err)
		}
		out = append(out, amount)
	}
	return out, shared.StoreError("ledger: rows", rows.Err())
}

// ConfirmedInPeriod lists confirmed contributions dated within [start, end].
func (r Reader) ConfirmedInPeriod(ctx context.Context, start, end time.Time) ([]MemberAmount, error) {
	rows, err := r.q.Query(ctx, `SELECT member_id, amount FROM contributions
WHERE status = 'confirmed' AND contribution_date BETWEEN $1 AND $2
ORDER BY member_id, id`, start, end)
	if err != nil {
		return nil, shared.StoreError("ledger: confirmed in period", err)
	}
	defer rows.Close()
	var out []MemberAmount
	for rows.Next() {
		var row MemberAmount
		var n pgtype.Numeric
		if err := rows.Scan(&row.MemberID, &n); err != nil {
			return nil, shared.StoreError("ledger: scan period row", err)
		}
		if row.Amount, err = db.Decimal(n); err != nil {
			return nil, shared.StoreError("ledger: decode amount", err)
		}
		out = append(out, row)
	}
	return out, shared.StoreError("ledger: rows", rows.Err())
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	Reader
	pool *pgxpool.Pool
}

// NewRepository builds the PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{Reader: NewReader(pool), pool: pool}
}

const contributionColumns = `id, member_id, amount, contribution_date, payment_method, reference, status, created_at, updated_at`

func scanContribution(row pgx.Row) (Contribution, error) {
	var c Contribution
	var amount pgtype.Numeric
	var status string
	if err := row.Scan(&c.ID, &c.MemberID, &amount, &c.Date, &c.PaymentMethod, &c.Reference, &status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return Contribution{}, err
	}
	c.Status = Status(status)
	var err error
	c.Amount, err = db.Decimal(amount)
	return c, err
}

// Get loads one contribution.
func (r *PGRepository) Get(ctx context.Context, id int64) (Contribution, error) {
	return getContribution(ctx, r.pool, id, false)
}

func getContribution(ctx context.Context, q db.Querier, id int64, lock bool) (Contribution, error) {
	sql := `SELECT ` + contributionColumns + ` FROM contributions WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	c, err := scanContribution(q.QueryRow(ctx, sql, id))
	if db.IsNoRows(err) {
		return Contribution{}, shared.NotFound("contribution", id)
	}
	return c, shared.StoreError("ledger: get contribution", err)
}

// List returns contributions newest first.
func (r *PGRepository) List(ctx context.Context, f ListFilters, limit, offset int) ([]Contribution, error) {
	sql := `SELECT ` + contributionColumns + ` FROM contributions WHERE 1=1`
	var args []any
	if f.MemberID > 0 {
		args = append(args, f.MemberID)
		sql += ` AND member_id = $` + strconv.Itoa(len(args))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		sql += ` AND status = $` + strconv.Itoa(len(args))
	}
	args = append(args, limit, offset)
	sql += ` ORDER BY contribution_date DESC, id DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, shared.StoreError("ledger: list contributions", err)
	}
	defer rows.Close()
	var out []Contribution
	for rows.Next() {
		c, err := scanContribution(rows)
		if err != nil {
			return nil, shared.StoreError("ledger: scan contribution", err)
		}
		out = append(out, c)
	}
	return out, shared.StoreError("ledger: rows", rows.Err())
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

func (t *txRepo) MemberStatus(ctx context.Context, memberID int64) (string, error) {
	var status string
	err := t.tx.QueryRow(ctx, `SELECT status FROM members WHERE id = $1`, memberID).Scan(&status)
	if db.IsNoRows(err) {
		return "", shared.NotFound("member", memberID)
	}
	return status, shared.StoreError("ledger: member status", err)
}

func (t *txRepo) Insert(ctx context.Context, c Contribution) (Contribution, error) {
	row := t.tx.QueryRow(ctx, `INSERT INTO contributions (member_id, amount, contribution_date, payment_method, reference, status)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+contributionColumns,
		c.MemberID, db.Numeric(c.Amount), c.Date, c.PaymentMethod, c.Reference, string(c.Status))
	created, err := scanContribution(row)
	return created, shared.StoreError("ledger: insert contribution", err)
}

func (t *txRepo) GetForUpdate(ctx context.Context, id int64) (Contribution, error) {
	return getContribution(ctx, t.tx, id, true)
}

func (t *txRepo) UpdateStatus(ctx context.Context, id int64, status Status) error {
	_, err := t.tx.Exec(ctx, `UPDATE contributions SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	return shared.StoreError("ledger: update status", err)
}
