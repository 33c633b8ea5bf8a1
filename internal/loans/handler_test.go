package loans

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/coop-ledger/coopledger/internal/platform/httpx"
	"github.com/coop-ledger/coopledger/internal/rbac"
	"github.com/coop-ledger/coopledger/internal/shared"
)

func newTestRouter(svc *Service) http.Handler {
	h := NewHandler(nil, svc)
	h.now = func() time.Time { return today }
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithActor(req.Context(), shared.Actor{ID: 9})))
		})
	})
	r.Route("/loans", h.MountRoutes)
	return r
}

func TestHandlerProcessMapsExceedsLimit(t *testing.T) {
	store := newMemStore()
	store.members[1] = "active"
	store.contribute(1, "5000")
	router := newTestRouter(newTestService(store))

	body := `{"member_id":1,"amount":"20000","interest_rate":"10","due_date":"2024-12-31"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/loans", strings.NewReader(body)))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, "exceeds_limit", problem.Code)

	body = `{"member_id":1,"amount":"15000","interest_rate":"10","due_date":"2024-12-31"}`
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/loans", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), `"total_amount":"16500"`)
}

func TestHandlerEligibility(t *testing.T) {
	store := newMemStore()
	store.members[4] = "active"
	store.contribute(4, "5000")
	router := newTestRouter(newTestService(store))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/loans/eligibility/4", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var elig Eligibility
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &elig))
	require.True(t, elig.IsEligible)
	require.Equal(t, "15000", elig.MaxLoanAmount.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/loans/eligibility/5", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerOverdueRequiresReportAccess(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, roleAuthorizer{9: rbac.NewRoleSet(rbac.RoleMember)}, nil, nil, Config{})
	router := newTestRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/loans/overdue", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandlerOverdueReport(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	loan := seedLoan(t, store, svc, "1000")
	l := store.loans[loan.ID]
	l.DueDate = shared.DateOnly(today).AddDate(0, 0, -1)
	store.loans[loan.ID] = l
	router := newTestRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/loans/overdue", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var report OverdueReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, 1, report.Refreshed)
	require.Len(t, report.Loans, 1)
	require.Equal(t, "1100", report.TotalOutstanding.String())
}
