package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coop-ledger/coopledger/internal/app"
	"github.com/coop-ledger/coopledger/internal/audit"
	"github.com/coop-ledger/coopledger/internal/auth"
	"github.com/coop-ledger/coopledger/internal/platform/db"
)

// seed bootstraps the first administrator, who can then enroll everyone else through the API.
func main() {
	name := flag.String("name", "Administrator", "display name of the bootstrap admin")
	email := flag.String("email", "admin@coop.local", "email of the bootstrap admin")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of the printed bearer token")
	flag.Parse()

	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 2})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	fmt.Println("→ Applying schema...")
	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	fmt.Println("→ Seeding admin...")
	memberID, created, err := seedAdmin(ctx, pool, strings.TrimSpace(*name), strings.ToLower(strings.TrimSpace(*email)))
	if err != nil {
		log.Fatalf("seed admin: %v", err)
	}
	if created {
		fmt.Printf("  created member %d\n", memberID)
	} else {
		fmt.Printf("  member %d already exists\n", memberID)
	}

	verifier, err := auth.NewVerifier(cfg.AuthTokenSecret, cfg.AuthIssuer)
	if err != nil {
		log.Fatalf("token verifier: %v", err)
	}
	token, err := verifier.Issue(memberID, *name, *tokenTTL)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}
	fmt.Printf("→ Bearer token (expires in %s):\n%s\n", *tokenTTL, token)
}

func seedAdmin(ctx context.Context, pool *pgxpool.Pool, name, email string) (int64, bool, error) {
	var (
		memberID int64
		created  bool
	)
	err := db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `SELECT id FROM members WHERE email = $1 ORDER BY id LIMIT 1`, email).Scan(&memberID)
		switch {
		case db.IsNoRows(err):
			if err := tx.QueryRow(ctx, `
				INSERT INTO members (name, email, status, joined_at)
				VALUES ($1, $2, 'active', CURRENT_DATE)
				RETURNING id`, name, email).Scan(&memberID); err != nil {
				return err
			}
			created = true
		case err != nil:
			return err
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO role_assignments (member_id, role)
			VALUES ($1, 'admin')
			ON CONFLICT (member_id, role) DO NOTHING`, memberID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		entry, err := audit.Command{
			Action:     "role.assign",
			EntityType: audit.EntityRole,
			EntityID:   fmt.Sprintf("%d:admin", memberID),
			After:      map[string]any{"member_id": memberID, "roles": []string{"admin"}, "source": "seed"},
		}.Entry(memberID, time.Now())
		if err != nil {
			return err
		}
		return audit.Insert(ctx, tx, entry)
	})
	return memberID, created, err
}
