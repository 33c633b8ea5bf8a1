package rbac

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coop-ledger/coopledger/internal/platform/httpx"
	"github.com/coop-ledger/coopledger/internal/shared"
)

func TestMiddlewareRequireAny(t *testing.T) {
	repo := newMemRepo()
	repo.grant(1, RoleTreasurer)
	repo.grant(2, RoleMember)
	mw := Middleware{Service: NewService(repo, nil, nil)}
	handler := mw.RequireAny(PermManageFinances)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	serve := func(actorID int64) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/loans", nil)
		if actorID > 0 {
			req = req.WithContext(shared.ContextWithActor(req.Context(), shared.Actor{ID: actorID}))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusNoContent, serve(1).Code)
	require.Equal(t, http.StatusUnauthorized, serve(0).Code)

	rec := serve(2)
	require.Equal(t, http.StatusForbidden, rec.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, "permission_denied", problem.Code)
	require.Equal(t, []string{"admin", "treasurer"}, problem.RequiredRoles)
}
