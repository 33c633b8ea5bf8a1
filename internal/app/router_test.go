package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coop-ledger/coopledger/internal/auth"
	"github.com/coop-ledger/coopledger/internal/loans"
	"github.com/coop-ledger/coopledger/internal/observability"
	_ "github.com/coop-ledger/coopledger/internal/testing/guard"
)

func newTestRouter(t *testing.T, checks map[string]HealthCheck) (http.Handler, *auth.Verifier) {
	t.Helper()
	verifier, err := auth.NewVerifier("test-secret", "")
	require.NoError(t, err)
	return NewRouter(RouterParams{
		Config:       &Config{AppEnv: "test", AppRequestTimeout: time.Second, AppRateLimit: 1000},
		Verifier:     verifier,
		LoansHandler: loans.NewHandler(nil, nil),
		Metrics:      observability.NewMetrics(),
		HealthChecks: checks,
	}), verifier
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t, map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok","checks":{"postgres":"ok"}}`, rec.Body.String())
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.NotEmpty(t, rec.Header().Get("X-Frame-Options"))
}

func TestHealthzDegraded(t *testing.T) {
	router, _ := newTestRouter(t, map[string]HealthCheck{
		"redis": func(context.Context) error { return errors.New("dial tcp: refused") },
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NotContains(t, rec.Body.String(), "refused")
}

func TestAPIRequiresBearerToken(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/loans", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestMetricsEndpointIsPublic(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `coopledger_http_requests_total{code="200",route="/healthz"}`)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{AuthTokenSecret: "x", LoanLimitMultiplier: 3}
	require.NoError(t, cfg.validate())

	cfg.LoanLimitMultiplier = 0
	require.Error(t, cfg.validate())

	cfg = Config{LoanLimitMultiplier: 3}
	require.Error(t, cfg.validate())
}

func TestLoadConfigFromEnv(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("AUTH_TOKEN_SECRET", "s3cret")
	t.Setenv("LOAN_LIMIT_MULTIPLIER", "4")
	t.Setenv("ROLE_CACHE_TTL", "90s")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, int64(4), cfg.LoanLimitMultiplier)
	require.Equal(t, 90*time.Second, cfg.RoleCacheTTL)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.False(t, cfg.IsProduction())
}

func TestGuardEnablesTestMode(t *testing.T) {
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Cleanup(RefreshTestMode)
	t.Setenv(testModeEnv, "0")
	RefreshTestMode()
	require.False(t, InTestMode())
}
