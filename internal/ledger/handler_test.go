package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/coop-ledger/coopledger/internal/platform/httpx"
	"github.com/coop-ledger/coopledger/internal/shared"
)

type memKeys map[string]bool

func (k memKeys) Claim(_ context.Context, scope, key string) error {
	if k[scope+key] {
		return fmt.Errorf("%w: %s", shared.ErrDuplicateRequest, key)
	}
	k[scope+key] = true
	return nil
}

func (k memKeys) Release(_ context.Context, scope, key string) error {
	delete(k, scope+key)
	return nil
}

func newTestRouter(store *memStore) http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.Idempotent(memKeys{}, nil))
	r.Route("/contributions", NewHandler(nil, NewService(store, allowAll{}, nil, nil)).MountRoutes)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path, body, idemKey string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if idemKey != "" {
		req.Header.Set(httpx.IdempotencyHeader, idemKey)
	}
	req = req.WithContext(shared.ContextWithActor(req.Context(), shared.Actor{ID: 1}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerRecordIsIdempotent(t *testing.T) {
	store := newMemStore()
	store.members[5] = "active"
	h := newTestRouter(store)
	body := `{"member_id":5,"amount":"125.50","contribution_date":"2026-02-01","payment_method":"mpesa","reference":"QX1"}`

	rec := doJSON(t, h, http.MethodPost, "/contributions", body, "c-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created Contribution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, StatusPending, created.Status)
	require.Equal(t, "125.5", created.Amount.String())

	rec = doJSON(t, h, http.MethodPost, "/contributions", body, "c-1")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "duplicate_request")
	require.Len(t, store.contributions, 1)
	require.Len(t, store.audits, 1)
}

func TestHandlerRejectedRecordReleasesKey(t *testing.T) {
	store := newMemStore()
	store.members[5] = "active"
	h := newTestRouter(store)

	rec := doJSON(t, h, http.MethodPost, "/contributions", `{"member_id":5,"amount":"0","contribution_date":"2026-02-01","payment_method":"cash"}`, "c-2")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/contributions", `{"member_id":5,"amount":"10","contribution_date":"2026-02-01","payment_method":"cash"}`, "c-2")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/contributions", `{"member_id":5,"amount":"10","contribution_date":"01/02/2026","payment_method":"cash"}`, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerConfirmThenTotals(t *testing.T) {
	store := newMemStore()
	store.add(5, "40.00", day(2026, 1, 10), StatusPending)
	store.add(5, "60.00", day(2026, 1, 20), StatusConfirmed)
	h := newTestRouter(store)

	rec := doJSON(t, h, http.MethodPost, "/contributions/1/confirm", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/contributions/1/confirm", "", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "not_pending")

	rec = doJSON(t, h, http.MethodGet, "/contributions/totals?member_id=5", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp totalsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Totals, 1)
	require.Equal(t, "100", resp.Totals[0].Total.String())

	rec = doJSON(t, h, http.MethodGet, "/contributions/totals?start=2026-01-15&end=2026-01-31", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "2026-01-15", resp.Start)
	require.Len(t, resp.Totals, 1)
	require.Equal(t, "60", resp.Totals[0].Total.String())
}
