package loans

import (
	"context"
	"strconv"
	"time"

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

const loanColumns = `l.id, l.member_id, l.principal, l.interest_rate, l.loan_date, l.due_date, l.status, l.purpose, COALESCE(l.created_by, 0), l.created_at, l.updated_at`

const repaidColumn = `(SELECT COALESCE(SUM(r.amount), 0) FROM loan_repayments r WHERE r.loan_id = l.id)`

func scanLoan(row pgx.Row, withRepaid bool) (Loan, error) {
	var l Loan
	var principal, rate, repaid pgtype.Numeric
	var status string
	dest := []any{&l.ID, &l.MemberID, &principal, &rate, &l.LoanDate, &l.DueDate, &status, &l.Purpose, &l.CreatedBy, &l.CreatedAt, &l.UpdatedAt}
	if withRepaid {
		dest = append(dest, &repaid)
	}
	if err := row.Scan(dest...); err != nil {
		return Loan{}, err
	}
	l.Status = Status(status)
	var err error
	if l.Principal, err = db.Decimal(principal); err != nil {
		return Loan{}, err
	}
	if l.InterestRate, err = db.Decimal(rate); err != nil {
		return Loan{}, err
	}
	if withRepaid {
		if l.TotalRepaid, err = db.Decimal(repaid); err != nil {
			return Loan{}, err
		}
	}
	return l, nil
}

func collectLoans(rows pgx.Rows, withRepaid bool) ([]Loan, error) {
	defer rows.Close()
	var out []Loan
	for rows.Next() {
		l, err := scanLoan(rows, withRepaid)
		if err != nil {
			return nil, shared.StoreError("loans: scan loan", err)
		}
		out = append(out, l)
	}
	return out, shared.StoreError("loans: rows", rows.Err())
}

// Contributions reads confirmed contributions outside a transaction.
func (r *PGRepository) Contributions() ledger.ContributionReader {
	return ledger.NewReader(r.pool)
}

// MemberStatus returns the lifecycle status of a member.
func (r *PGRepository) MemberStatus(ctx context.Context, memberID int64) (string, error) {
	return memberStatus(ctx, r.pool, memberID)
}

func memberStatus(ctx context.Context, q db.Querier, memberID int64) (string, error) {
	var status string
	err := q.QueryRow(ctx, `SELECT status FROM members WHERE id = $1`, memberID).Scan(&status)
	if db.IsNoRows(err) {
		return "", shared.NotFound("member", memberID)
	}
	return status, shared.StoreError("loans: member status", err)
}

// Get loads a loan and its repayments.
func (r *PGRepository) Get(ctx context.Context, id int64) (Loan, []Repayment, error) {
	loan, err := getLoan(ctx, r.pool, id, false)
	if err != nil {
		return Loan{}, nil, err
	}
	history, err := repayments(ctx, r.pool, id)
	if err != nil {
		return Loan{}, nil, err
	}
	return loan, history, nil
}

// List returns loans newest first, with TotalRepaid summed from repayments.
func (r *PGRepository) List(ctx context.Context, f ListFilters, limit, offset int) ([]Loan, error) {
	sql := `SELECT ` + loanColumns + `, ` + repaidColumn + ` FROM loans l WHERE 1=1`
	var args []any
	if f.MemberID > 0 {
		args = append(args, f.MemberID)
		sql += ` AND l.member_id = $` + strconv.Itoa(len(args))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		sql += ` AND l.status = $` + strconv.Itoa(len(args))
	}
	args = append(args, limit, offset)
	sql += ` ORDER BY l.loan_date DESC, l.id DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, shared.StoreError("loans: list", err)
	}
	return collectLoans(rows, true)
}

// ListOverdue returns overdue loans ordered by due date.
func (r *PGRepository) ListOverdue(ctx context.Context) ([]Loan, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+loanColumns+`, `+repaidColumn+` FROM loans l WHERE l.status = 'overdue' ORDER BY l.due_date, l.id`)
	if err != nil {
		return nil, shared.StoreError("loans: list overdue", err)
	}
	return collectLoans(rows, true)
}

// WithTx runs fn inside a repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// WithSweepTx runs fn inside a read-committed transaction.
func (r *PGRepository) WithSweepTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithReadCommittedTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

func getLoan(ctx context.Context, q db.Querier, id int64, lock bool) (Loan, error) {
	sql := `SELECT ` + loanColumns + ` FROM loans l WHERE l.id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	loan, err := scanLoan(q.QueryRow(ctx, sql, id), false)
	if db.IsNoRows(err) {
		return Loan{}, shared.NotFound("loan", id)
	}
	return loan, shared.StoreError("loans: get", err)
}

func repayments(ctx context.Context, q db.Querier, loanID int64) ([]Repayment, error) {
	rows, err := q.Query(ctx, `SELECT id, loan_id, amount, repayment_date, payment_method, COALESCE(recorded_by, 0), created_at
FROM loan_repayments WHERE loan_id = $1 ORDER BY repayment_date, id`, loanID)
	if err != nil {
		return nil, shared.StoreError("loans: list repayments", err)
	}
	defer rows.Close()
	var out []Repayment
	for rows.Next() {
		var rp Repayment
		var amount pgtype.Numeric
		if err := rows.Scan(&rp.ID, &rp.LoanID, &amount, &rp.Date, &rp.PaymentMethod, &rp.RecordedBy, &rp.CreatedAt); err != nil {
			return nil, shared.StoreError("loans: scan repayment", err)
		}
		if rp.Amount, err = db.Decimal(amount); err != nil {
			return nil, shared.StoreError("loans: decode repayment", err)
		}
		out = append(out, rp)
	}
	return out, shared.StoreError("loans: rows", rows.Err())
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

func (t *txRepo) MemberStatus(ctx context.Context, memberID int64) (string, error) {
	return memberStatus(ctx, t.tx, memberID)
}

func (t *txRepo) InsertLoan(ctx context.Context, l Loan) (Loan, error) {
	row := t.tx.QueryRow(ctx, `INSERT INTO loans AS l (member_id, principal, interest_rate, loan_date, due_date, status, purpose, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING `+loanColumns,
		l.MemberID, db.Numeric(l.Principal), db.Numeric(l.InterestRate), l.LoanDate, l.DueDate, string(l.Status), l.Purpose, l.CreatedBy)
	created, err := scanLoan(row, false)
	return created, shared.StoreError("loans: insert", err)
}

func (t *txRepo) GetForUpdate(ctx context.Context, id int64) (Loan, error) {
	return getLoan(ctx, t.tx, id, true)
}

func (t *txRepo) TouchLoan(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE loans SET updated_at = NOW() WHERE id = $1`, id)
	return shared.StoreError("loans: touch", err)
}

func (t *txRepo) Repayments(ctx context.Context, loanID int64) ([]Repayment, error) {
	return repayments(ctx, t.tx, loanID)
}

func (t *txRepo) InsertRepayment(ctx context.Context, rp Repayment) (Repayment, error) {
	var amount pgtype.Numeric
	err := t.tx.QueryRow(ctx, `INSERT INTO loan_repayments (loan_id, amount, repayment_date, payment_method, recorded_by)
VALUES ($1, $2, $3, $4, $5) RETURNING id, amount, created_at`,
		rp.LoanID, db.Numeric(rp.Amount), rp.Date, rp.PaymentMethod, rp.RecordedBy).Scan(&rp.ID, &amount, &rp.CreatedAt)
	if err != nil {
		return Repayment{}, shared.StoreError("loans: insert repayment", err)
	}
	if rp.Amount, err = db.Decimal(amount); err != nil {
		return Repayment{}, shared.StoreError("loans: decode repayment", err)
	}
	return rp, nil
}

func (t *txRepo) UpdateStatus(ctx context.Context, id int64, to Status, from ...Status) (bool, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}
	tag, err := t.tx.Exec(ctx, `UPDATE loans SET status = $2, updated_at = NOW() WHERE id = $1 AND status = ANY($3)`, id, string(to), allowed)
	if err != nil {
		return false, shared.StoreError("loans: update status", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepo) LockOverdueCandidates(ctx context.Context, today time.Time) ([]Loan, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+loanColumns+` FROM loans l
WHERE l.status IN ('approved', 'active') AND l.due_date < $1
ORDER BY l.id FOR UPDATE SKIP LOCKED`, today)
	if err != nil {
		return nil, shared.StoreError("loans: lock overdue candidates", err)
	}
	return collectLoans(rows, false)
}
