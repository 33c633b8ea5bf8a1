package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsHandlerExposesJobMetrics(t *testing.T) {
	metrics := NewMetrics()
	_ = metrics.Jobs().Track("loans:overdue_refresh").End(nil)
	_ = metrics.Jobs().Track("notify:event").End(errors.New("boom"))
	metrics.Jobs().AddProcessed("loans:overdue_refresh", 3)

	body := scrape(t, metrics)
	require.Contains(t, body, `coopledger_jobs_total{job="loans:overdue_refresh",status="success"} 1`)
	require.Contains(t, body, `coopledger_jobs_failures_total{job="notify:event"} 1`)
	require.Contains(t, body, `coopledger_job_items_processed_total{job="loans:overdue_refresh"} 3`)
	require.Contains(t, body, "go_goroutines")
}

func TestMetricsServerExposesJobMetrics(t *testing.T) {
	metrics := NewMetrics()
	srv := metrics.Server(":9091")
	require.Equal(t, ":9091", srv.Addr)
	_ = metrics.Jobs().Track("loans:overdue_refresh").End(nil)

	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `coopledger_jobs_total{job="loans:overdue_refresh",status="success"} 1`)

	rr = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/loans/{id}")
	req := httptest.NewRequest(http.MethodGet, "/loans/7", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	require.True(t, strings.Contains(body, `coopledger_http_requests_total{code="418",route="/loans/{id}"} 1`), body)
	require.Contains(t, body, `coopledger_http_request_duration_seconds_bucket{route="/loans/{id}"`)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	require.Nil(t, m.Jobs())
	_ = m.Jobs().Track("x").End(nil)
	m.Jobs().AddProcessed("x", 1)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
