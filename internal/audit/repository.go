package audit

import (
	"context"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coop-ledger/coopledger/internal/platform/db"
	"github.com/coop-ledger/coopledger/internal/shared"
)

// Insert appends the entry using q, which is normally the transaction that carries the
// domain mutation.
func Insert(ctx context.Context, q db.Querier, e Entry) error {
	_, err := q.Exec(ctx, `INSERT INTO audit_logs (id, action, entity_type, entity_id, before, after, actor_id, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, e.ID, e.Action, e.EntityType, e.EntityID, nullJSON(e.Before), nullJSON(e.After), e.ActorID, e.At)
	return shared.StoreError("audit: insert entry", err)
}

func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// Repository provides PostgreSQL backed persistence for the audit log.
type Repository struct {
	pool *pgxpool.Pool
}

var _ Store = (*Repository)(nil)

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Append writes a standalone entry in its own transaction.
func (r *Repository) Append(ctx context.Context, e Entry) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return Insert(ctx, tx, e)
	})
}

// Search returns up to limit entries matching the filters, newest first.
func (r *Repository) Search(ctx context.Context, f Filters, limit, offset int) ([]Entry, error) {
	query := `SELECT id, action, entity_type, entity_id, before, after, actor_id, occurred_at FROM audit_logs WHERE 1=1`
	args := []any{}
	add := func(clause string, value any) {
		args = append(args, value)
		query += " AND " + strings.ReplaceAll(clause, "?", "$"+strconv.Itoa(len(args)))
	}
	if f.EntityType != "" {
		add("entity_type = ?", f.EntityType)
	}
	if f.EntityID != "" {
		add("entity_id = ?", f.EntityID)
	}
	if f.Action != "" {
		add("action ILIKE ?", "%"+escapeLike(f.Action)+"%")
	}
	if f.ActorID > 0 {
		add("actor_id = ?", f.ActorID)
	}
	if !f.From.IsZero() {
		add("occurred_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		add("occurred_at <= ?", f.To)
	}
	if f.Before != nil {
		args = append(args, f.Before.At, f.Before.ID)
		query += " AND (occurred_at, id) < ($" + strconv.Itoa(len(args)-1) + ", $" + strconv.Itoa(len(args)) + ")"
	}
	args = append(args, limit, offset)
	query += " ORDER BY occurred_at DESC, id DESC LIMIT $" + strconv.Itoa(len(args)-1) + " OFFSET $" + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, shared.StoreError("audit: search", err)
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		var before, after []byte
		if err := rows.Scan(&e.ID, &e.Action, &e.EntityType, &e.EntityID, &before, &after, &e.ActorID, &e.At); err != nil {
			return nil, shared.StoreError("audit: scan", err)
		}
		e.Before = before
		e.After = after
		entries = append(entries, e)
	}
	return entries, shared.StoreError("audit: rows", rows.Err())
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
