package dividends

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coop-ledger/coopledger/internal/audit"
	"github.com/coop-ledger/coopledger/internal/ledger"
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

const declarationColumns = `id, period_start, period_end, total_amount, status, notes, COALESCE(declared_by, 0), created_at, updated_at`

const memberDividendColumns = `id, declaration_id, member_id, contribution_amount, percentage, amount, payment_status, payment_method, payment_reference, paid_at`

func scanDeclaration(row pgx.Row) (Declaration, error) {
	var d Declaration
	var total pgtype.Numeric
	var status string
	if err := row.Scan(&d.ID, &d.PeriodStart, &d.PeriodEnd, &total, &status, &d.Notes, &d.DeclaredBy, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return Declaration{}, err
	}
	d.Status = Status(status)
	var err error
	d.TotalAmount, err = db.Decimal(total)
	return d, err
}

func scanMemberDividend(row pgx.Row) (MemberDividend, error) {
	var md MemberDividend
	var contribution, percentage, amount pgtype.Numeric
	var status string
	if err := row.Scan(&md.ID, &md.DeclarationID, &md.MemberID, &contribution, &percentage, &amount, &status, &md.PaymentMethod, &md.PaymentReference, &md.PaidAt); err != nil {
		return MemberDividend{}, err
	}
	md.PaymentStatus = PaymentStatus(status)
	var err error
	if md.ContributionAmount, err = db.Decimal(contribution); err != nil {
		return MemberDividend{}, err
	}
	if md.Percentage, err = db.Decimal(percentage); err != nil {
		return MemberDividend{}, err
	}
	md.Amount, err = db.Decimal(amount)
	return md, err
}

// Contributions reads confirmed contributions outside a transaction.
func (r *PGRepository) Contributions() ledger.ContributionReader {
	return ledger.NewReader(r.pool)
}

// GetDeclaration loads one declaration.
func (r *PGRepository) GetDeclaration(ctx context.Context, id int64) (Declaration, error) {
	return getDeclaration(ctx, r.pool, id, false)
}

// MemberDividends lists the member rows of a declaration.
func (r *PGRepository) MemberDividends(ctx context.Context, declarationID int64) ([]MemberDividend, error) {
	return memberDividends(ctx, r.pool, declarationID)
}

// ListDeclarations returns declarations newest first.
func (r *PGRepository) ListDeclarations(ctx context.Context, f ListFilters, limit, offset int) ([]Declaration, error) {
	sql := `SELECT ` + declarationColumns + ` FROM dividend_declarations WHERE 1=1`
	var args []any
	if f.Status != "" {
		args = append(args, string(f.Status))
		sql += ` AND status = $` + strconv.Itoa(len(args))
	}
	args = append(args, limit, offset)
	sql += ` ORDER BY period_end DESC, id DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, shared.StoreError("dividends: list declarations", err)
	}
	defer rows.Close()
	var out []Declaration
	for rows.Next() {
		d, err := scanDeclaration(rows)
		if err != nil {
			return nil, shared.StoreError("dividends: scan declaration", err)
		}
		out = append(out, d)
	}
	return out, shared.StoreError("dividends: rows", rows.Err())
}

// WithTx runs fn inside a repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

func getDeclaration(ctx context.Context, q db.Querier, id int64, lock bool) (Declaration, error) {
	sql := `SELECT ` + declarationColumns + ` FROM dividend_declarations WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	d, err := scanDeclaration(q.QueryRow(ctx, sql, id))
	if db.IsNoRows(err) {
		return Declaration{}, shared.NotFound("dividend declaration", id)
	}
	return d, shared.StoreError("dividends: get declaration", err)
}

func memberDividends(ctx context.Context, q db.Querier, declarationID int64) ([]MemberDividend, error) {
	rows, err := q.Query(ctx, `SELECT `+memberDividendColumns+` FROM member_dividends WHERE declaration_id = $1 ORDER BY member_id`, declarationID)
	if err != nil {
		return nil, shared.StoreError("dividends: list member dividends", err)
	}
	defer rows.Close()
	var out []MemberDividend
	for rows.Next() {
		md, err := scanMemberDividend(rows)
		if err != nil {
			return nil, shared.StoreError("dividends: scan member dividend", err)
		}
		out = append(out, md)
	}
	return out, shared.StoreError("dividends: rows", rows.Err())
}

type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) RecordAudit(ctx context.Context, e audit.Entry) error {
	return audit.Insert(ctx, t.tx, e)
}

func (t *txRepo) Contributions() ledger.ContributionReader {
	return ledger.NewReader(t.tx)
}

func (t *txRepo) InsertDeclaration(ctx context.Context, d Declaration) (Declaration, error) {
	row := t.tx.QueryRow(ctx, `INSERT INTO dividend_declarations (period_start, period_end, total_amount, status, notes, declared_by)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+declarationColumns,
		d.PeriodStart, d.PeriodEnd, db.Numeric(d.TotalAmount), string(d.Status), d.Notes, d.DeclaredBy)
	created, err := scanDeclaration(row)
	return created, shared.StoreError("dividends: insert declaration", err)
}

// InsertMemberDividends bulk loads the member rows with COPY inside the declaration's
// transaction.
func (t *txRepo) InsertMemberDividends(ctx context.Context, rows []MemberDividend) error {
	n, err := t.tx.CopyFrom(ctx,
		pgx.Identifier{"member_dividends"},
		[]string{"declaration_id", "member_id", "contribution_amount", "percentage", "amount", "payment_status"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			md := rows[i]
			return []any{md.DeclarationID, md.MemberID, db.Numeric(md.ContributionAmount), db.Numeric(md.Percentage), db.Numeric(md.Amount), string(md.PaymentStatus)}, nil
		}),
	)
	if err != nil {
		return shared.StoreError("dividends: copy member dividends", err)
	}
	if int(n) != len(rows) {
		return shared.StoreError("dividends: copy member dividends", fmt.Errorf("copied %d of %d rows", n, len(rows)))
	}
	return nil
}

func (t *txRepo) MemberDividends(ctx context.Context, declarationID int64) ([]MemberDividend, error) {
	return memberDividends(ctx, t.tx, declarationID)
}

func (t *txRepo) GetDeclarationForUpdate(ctx context.Context, id int64) (Declaration, error) {
	return getDeclaration(ctx, t.tx, id, true)
}

func (t *txRepo) UpdateDeclarationStatus(ctx context.Context, id int64, status Status) error {
	_, err := t.tx.Exec(ctx, `UPDATE dividend_declarations SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	return shared.StoreError("dividends: update declaration", err)
}

func (t *txRepo) GetMemberDividendForUpdate(ctx context.Context, id int64) (MemberDividend, error) {
	md, err := scanMemberDividend(t.tx.QueryRow(ctx, `SELECT `+memberDividendColumns+` FROM member_dividends WHERE id = $1 FOR UPDATE`, id))
	if db.IsNoRows(err) {
		return MemberDividend{}, shared.NotFound("member dividend", id)
	}
	return md, shared.StoreError("dividends: get member dividend", err)
}

func (t *txRepo) UpdateMemberDividendPayment(ctx context.Context, md MemberDividend) error {
	_, err := t.tx.Exec(ctx, `UPDATE member_dividends
SET payment_status = $2, payment_method = $3, payment_reference = $4, paid_at = $5, updated_at = NOW()
WHERE id = $1`, md.ID, string(md.PaymentStatus), md.PaymentMethod, md.PaymentReference, md.PaidAt)
	return shared.StoreError("dividends: update member dividend", err)
}
