package rbac

import (
	"log/slog"
	"net/http"

	"github.com/coop-ledger/coopledger/internal/platform/httpx"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// RequireAny ensures the current actor holds a role granting at least one of perms.
func (m Middleware) RequireAny(perms ...Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(perms) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			actorID, err := httpx.ActorID(r)
			if err != nil {
				httpx.RespondError(w, r, m.Logger, err)
				return
			}
			if err := m.Service.Require(r.Context(), actorID, perms...); err != nil {
				if m.Logger != nil {
					m.Logger.Info("rbac denied", slog.Int64("actor_id", actorID), slog.String("path", r.URL.Path), slog.Any("error", err))
				}
				httpx.RespondError(w, r, m.Logger, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
