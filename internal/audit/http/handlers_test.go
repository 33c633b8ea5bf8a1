package audithttp

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/coop-ledger/coopledger/internal/audit"
	"github.com/coop-ledger/coopledger/internal/rbac"
	"github.com/coop-ledger/coopledger/internal/shared"
)

type stubQueryService struct {
	entries     []audit.Entry
	lastFilters audit.Filters
	calls       int
	cursors     []audit.Cursor
}

func (s *stubQueryService) Query(ctx context.Context, filters audit.Filters) (audit.Result, error) {
	s.calls++
	s.lastFilters = filters
	page := filters.Page.Normalize()
	start := page.Offset()
	if filters.Before != nil {
		s.cursors = append(s.cursors, *filters.Before)
		page.Page = 1
		start = len(s.entries)
		for i, e := range s.entries {
			if e.ID == filters.Before.ID {
				start = i + 1
				break
			}
		}
	}
	if start > len(s.entries) {
		start = len(s.entries)
	}
	end := start + page.PageSize
	hasNext := end < len(s.entries)
	if end > len(s.entries) {
		end = len(s.entries)
	}
	return audit.Result{Entries: s.entries[start:end], Paging: shared.NewPagingInfo(page, hasNext)}, nil
}

type stubAuthorizer struct{ allowed bool }

func (s stubAuthorizer) Require(_ context.Context, _ int64, perms ...rbac.Permission) error {
	if s.allowed {
		return nil
	}
	return &shared.PermissionError{Permission: string(perms[0]), Sufficient: []string{"admin", "treasurer", "chairperson"}}
}

func newTestRouter(svc QueryService, authz Authorizer) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithActor(req.Context(), shared.Actor{ID: 3})))
		})
	})
	r.Route("/audit", NewHandler(nil, svc, authz).MountRoutes)
	return r
}

func entries(n int) []audit.Entry {
	out := make([]audit.Entry, n)
	for i := range out {
		out[i] = audit.Entry{
			ID:         uuid.New(),
			Action:     "loan.repayment",
			EntityType: audit.EntityLoan,
			EntityID:   "12",
			After:      json.RawMessage(`{"status":"active"}`),
			ActorID:    3,
			At:         time.Date(2024, 6, 15, 10, 0, i, 0, time.UTC),
		}
	}
	return out
}

func TestQueryParsesFilters(t *testing.T) {
	svc := &stubQueryService{entries: entries(2)}
	router := newTestRouter(svc, stubAuthorizer{allowed: true})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit?entity_type=loan&entity_id=12&actor_id=3&action=repay&from=2024-06-01&to=2024-06-15&page=1&page_size=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	f := svc.lastFilters
	require.Equal(t, "loan", f.EntityType)
	require.Equal(t, "12", f.EntityID)
	require.Equal(t, int64(3), f.ActorID)
	require.Equal(t, "repay", f.Action)
	require.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), f.From)
	require.True(t, f.To.After(time.Date(2024, 6, 15, 23, 59, 59, 0, time.UTC)))
	require.True(t, f.To.Before(time.Date(2024, 6, 16, 0, 0, 0, 0, time.UTC)))

	var result audit.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.Entries, 2)
}

func TestQueryRejectsBadFilters(t *testing.T) {
	router := newTestRouter(&stubQueryService{}, stubAuthorizer{allowed: true})
	for _, q := range []string{"actor_id=abc", "from=15-06-2024", "from=2024-06-10&to=2024-06-01", "from=2020-01-01&to=2024-01-01"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit?"+q, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestQueryRequiresViewReports(t *testing.T) {
	svc := &stubQueryService{}
	router := newTestRouter(svc, stubAuthorizer{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Zero(t, svc.calls)
}

func TestExportWalksAllPages(t *testing.T) {
	svc := &stubQueryService{entries: entries(exportPageSize + 5)}
	router := newTestRouter(svc, stubAuthorizer{allowed: true})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/export.csv", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	require.Equal(t, 2, svc.calls)
	require.Empty(t, rec.Header().Get(TruncatedHeader))
	require.Len(t, svc.cursors, 1)
	require.Equal(t, svc.entries[exportPageSize-1].ID, svc.cursors[0].ID)

	records, err := csv.NewReader(strings.NewReader(rec.Body.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, exportPageSize+6)
	require.Equal(t, `{"status":"active"}`, records[1][7])
}

func TestExportIsRateLimitedPerActor(t *testing.T) {
	router := newTestRouter(&stubQueryService{}, stubAuthorizer{allowed: true})
	for i := 0; i < rateLimit; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/export.csv", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/export.csv", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestExportMarksTruncatedAtRowCap(t *testing.T) {
	svc := &stubQueryService{entries: entries(maxExportRows + 1)}
	router := newTestRouter(svc, stubAuthorizer{allowed: true})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/export.csv", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "true", rec.Header().Get(TruncatedHeader))

	records, err := csv.NewReader(strings.NewReader(rec.Body.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, maxExportRows+1)
	require.Equal(t, svc.entries[maxExportRows-1].ID.String(), records[maxExportRows][0])
}

func TestExportAtExactCapIsNotTruncated(t *testing.T) {
	svc := &stubQueryService{entries: entries(maxExportRows)}
	router := newTestRouter(svc, stubAuthorizer{allowed: true})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/export.csv", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get(TruncatedHeader))
}
