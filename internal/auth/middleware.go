package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/coop-ledger/coopledger/internal/platform/httpx"
	"github.com/coop-ledger/coopledger/internal/shared"
)

// Middleware attaches the verified actor to the request context. Requests without a
// valid bearer token are rejected with 401.
func Middleware(v *Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := v.Verify(bearerToken(r))
			if err != nil {
				if !errors.Is(err, ErrTokenMissing) {
					logger.Info("rejected token", slog.String("request_id", middleware.GetReqID(r.Context())), slog.Any("error", err))
				}
				httpx.RespondError(w, r, logger, httpx.ErrUnauthorized)
				return
			}
			actor.RequestID = middleware.GetReqID(r.Context())
			next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
