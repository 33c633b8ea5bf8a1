package httpx

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coop-ledger/coopledger/internal/shared"
)

type memIdempotency struct {
	claimed  map[string]bool
	released []string
}

func (m *memIdempotency) Claim(_ context.Context, scope, key string) error {
	if m.claimed == nil {
		m.claimed = map[string]bool{}
	}
	id := scope + "/" + key
	if m.claimed[id] {
		return fmt.Errorf("%w: key %q", shared.ErrDuplicateRequest, key)
	}
	m.claimed[id] = true
	return nil
}

func (m *memIdempotency) Release(_ context.Context, scope, key string) error {
	id := scope + "/" + key
	delete(m.claimed, id)
	m.released = append(m.released, id)
	return nil
}

func idempotentRequest(method, key string, actorID int64) *http.Request {
	req := httptest.NewRequest(method, "/contributions", strings.NewReader(`{}`))
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}
	if actorID > 0 {
		req = req.WithContext(shared.ContextWithActor(req.Context(), shared.Actor{ID: actorID}))
	}
	return req
}

func TestIdempotentRejectsReplay(t *testing.T) {
	store := &memIdempotency{}
	calls := 0
	h := Idempotent(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, idempotentRequest(http.MethodPost, "pay-1", 7))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, idempotentRequest(http.MethodPost, "pay-1", 7))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "duplicate_request")
	require.Equal(t, 1, calls)

	// Another actor may reuse the same key.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, idempotentRequest(http.MethodPost, "pay-1", 8))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, 2, calls)
}

func TestIdempotentReleasesFailedRequests(t *testing.T) {
	store := &memIdempotency{}
	status := http.StatusUnprocessableEntity
	h := Idempotent(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, idempotentRequest(http.MethodPost, "pay-2", 7))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, []string{"actor:7/pay-2"}, store.released)

	status = http.StatusCreated
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, idempotentRequest(http.MethodPost, "pay-2", 7))
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestIdempotentPassThrough(t *testing.T) {
	store := &memIdempotency{}
	calls := 0
	h := Idempotent(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		h.ServeHTTP(httptest.NewRecorder(), idempotentRequest(http.MethodPost, "", 7))
		h.ServeHTTP(httptest.NewRecorder(), idempotentRequest(http.MethodGet, "read-1", 7))
	}
	require.Equal(t, 4, calls)
	require.Empty(t, store.claimed)
}

func TestIdempotentRejectsBadKeys(t *testing.T) {
	h := Idempotent(&memIdempotency{}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, idempotentRequest(http.MethodPost, strings.Repeat("k", 129), 7))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, idempotentRequest(http.MethodPost, "pay-3", 0))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
