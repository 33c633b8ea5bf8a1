package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/coop-ledger/coopledger/internal/shared"
)

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		shared.Validation("amount must be positive"):                        http.StatusBadRequest,
		fmt.Errorf("%w: member 4", shared.ErrIneligibleMember):              http.StatusUnprocessableEntity,
		shared.ErrExceedsLimit:                                              http.StatusUnprocessableEntity,
		shared.ErrExceedsBalance:                                            http.StatusUnprocessableEntity,
		shared.ErrConfirmationMismatch:                                      http.StatusUnprocessableEntity,
		shared.ErrInvalidTransition:                                         http.StatusConflict,
		shared.ErrNotPending:                                                http.StatusConflict,
		shared.NotFound("loan", 9):                                          http.StatusNotFound,
		&shared.PermissionError{Permission: "manage finances"}:              http.StatusForbidden,
		shared.StoreError("ledger: insert", errors.New("connection reset")): http.StatusServiceUnavailable,
		ErrUnauthorized:                                                     http.StatusUnauthorized,
		errors.New("something unclassified"):                                http.StatusInternalServerError,
	}
	for err, want := range cases {
		require.Equal(t, want, StatusFor(err), err.Error())
	}
}

func TestRespondErrorWritesProblem(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/loans", nil)
	RespondError(rec, req, nil, &shared.PermissionError{Permission: "manage finances", Sufficient: []string{"admin", "treasurer"}})

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var p ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	require.Equal(t, "permission_denied", p.Code)
	require.Equal(t, []string{"admin", "treasurer"}, p.RequiredRoles)
	require.NotEmpty(t, p.Detail)
}

func TestRespondErrorHidesStoreDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/loans/1", nil)
	RespondError(rec, req, nil, shared.StoreError("loans: get", errors.New("pq: password authentication failed for user coop")))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NotContains(t, rec.Body.String(), "password")
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var target struct {
		Amount string `json:"amount"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"1","extra":true}`))
	require.ErrorIs(t, DecodeJSON(req, &target), shared.ErrValidation)
}

func TestActorAndID(t *testing.T) {
	r := chi.NewRouter()
	var gotActor, gotID int64
	r.Get("/loans/{id}", func(w http.ResponseWriter, req *http.Request) {
		actor, id, ok := ActorAndID(w, req, nil, "id")
		if !ok {
			return
		}
		gotActor, gotID = actor, id
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/loans/5", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/loans/abc", nil)
	req = req.WithContext(shared.ContextWithActor(req.Context(), shared.Actor{ID: 2}))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/loans/5", nil)
	req = req.WithContext(shared.ContextWithActor(req.Context(), shared.Actor{ID: 2}))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, int64(2), gotActor)
	require.Equal(t, int64(5), gotID)
}
