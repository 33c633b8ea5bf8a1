package members

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/coop-ledger/coopledger/internal/platform/httpx"
	"github.com/coop-ledger/coopledger/internal/shared"
)

func newTestRouter(svc *Service) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithActor(req.Context(), shared.Actor{ID: 1})))
		})
	})
	r.Route("/members", NewHandler(nil, svc).MountRoutes)
	return r
}

func TestHandlerEnrollAndDelete(t *testing.T) {
	store := newMemStore()
	router := newTestRouter(NewService(store, allowAll{}, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/members", strings.NewReader(`{"name":"Amina Wanjiru","joined_at":"2023-03-01"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)
	var m Member
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	require.Equal(t, StatusActive, m.Status)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/members/1", strings.NewReader(`{"confirmation":"amina wanjiru"}`)))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, "confirmation_mismatch", problem.Code)
	require.NotContains(t, problem.Detail, "Amina")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/members/1", strings.NewReader(`{"confirmation":"Amina Wanjiru"}`)))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, store.members)
}

func TestHandlerRejectsBadJoinDate(t *testing.T) {
	router := newTestRouter(NewService(newMemStore(), allowAll{}, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/members", strings.NewReader(`{"name":"A","joined_at":"01/03/2023"}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
