package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/coop-ledger/coopledger/internal/shared"
)

// IdempotencyHeader names the client-chosen key that deduplicates retried writes.
const IdempotencyHeader = "Idempotency-Key"

const maxIdempotencyKeyLen = 128

// IdempotencyStore claims and releases request keys.
type IdempotencyStore interface {
	Claim(ctx context.Context, scope, key string) error
	Release(ctx context.Context, scope, key string) error
}

// Idempotent rejects a repeated write that carries an already claimed Idempotency-Key.
// Requests without the header pass through. Failed requests release their key so the
// client can retry.
func Idempotent(store IdempotencyStore, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			if key == "" || r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKeyLen {
				RespondError(w, r, logger, shared.Validation("%s must be at most %d characters", IdempotencyHeader, maxIdempotencyKeyLen))
				return
			}
			actorID, err := ActorID(r)
			if err != nil {
				RespondError(w, r, logger, err)
				return
			}
			scope := "actor:" + strconv.FormatInt(actorID, 10)
			if err := store.Claim(r.Context(), scope, key); err != nil {
				RespondError(w, r, logger, err)
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			if ww.Status() < http.StatusBadRequest {
				return
			}
			if err := store.Release(context.WithoutCancel(r.Context()), scope, key); err != nil {
				logger.Warn("idempotency release", slog.String("key", key), slog.Any("error", err))
			}
		})
	}
}
