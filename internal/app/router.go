package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	audithttp "github.com/coop-ledger/coopledger/internal/audit/http"
	"github.com/coop-ledger/coopledger/internal/auth"
	"github.com/coop-ledger/coopledger/internal/dividends"
	"github.com/coop-ledger/coopledger/internal/ledger"
	"github.com/coop-ledger/coopledger/internal/loans"
	"github.com/coop-ledger/coopledger/internal/members"
	"github.com/coop-ledger/coopledger/internal/observability"
	"github.com/coop-ledger/coopledger/internal/platform/httpx"
	"github.com/coop-ledger/coopledger/internal/rbac"
	"github.com/coop-ledger/coopledger/jobs"
)

// HealthCheck pings a backing service.
type HealthCheck func(ctx context.Context) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger              *slog.Logger
	Config              *Config
	Verifier            *auth.Verifier
	RBACMiddleware      rbac.Middleware
	MembersHandler      *members.Handler
	RolesHandler        *rbac.Handler
	ContributionHandler *ledger.Handler
	LoansHandler        *loans.Handler
	DividendsHandler    *dividends.Handler
	AuditHandler        *audithttp.Handler
	JobHandler          *jobs.Handler
	Idempotency         httpx.IdempotencyStore
	Metrics             *observability.Metrics
	HealthChecks        map[string]HealthCheck
}

// NewRouter constructs the chi.Router with the ledger API mounted behind bearer auth.
func NewRouter(params RouterParams) http.Handler {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", healthHandler(params.Logger, params.HealthChecks))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(params.Verifier, params.Logger))
		if params.Idempotency != nil {
			r.Use(httpx.Idempotent(params.Idempotency, params.Logger))
		}

		if params.MembersHandler != nil || params.RolesHandler != nil {
			r.Route("/members", func(r chi.Router) {
				if params.MembersHandler != nil {
					params.MembersHandler.MountRoutes(r)
				}
				if params.RolesHandler != nil {
					r.Route("/{memberID}/roles", params.RolesHandler.MountRoutes)
				}
			})
		}
		if params.ContributionHandler != nil {
			r.Route("/contributions", params.ContributionHandler.MountRoutes)
		}
		if params.LoansHandler != nil {
			r.Route("/loans", params.LoansHandler.MountRoutes)
		}
		if params.DividendsHandler != nil {
			r.Route("/dividends", params.DividendsHandler.MountRoutes)
		}
		if params.AuditHandler != nil {
			r.Route("/audit", params.AuditHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", func(r chi.Router) {
				r.Use(params.RBACMiddleware.RequireAny(rbac.PermManageFinances, rbac.PermViewReports))
				params.JobHandler.MountRoutes(r)
			})
		}
	})

	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(logger *slog.Logger, checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		for name, check := range checks {
			if resp.Checks == nil {
				resp.Checks = make(map[string]string, len(checks))
			}
			if err := check(ctx); err != nil {
				logger.Warn("health check failed", slog.String("check", name), slog.Any("error", err))
				resp.Checks[name] = "unavailable"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httpx.JSON(w, status, resp)
	}
}
