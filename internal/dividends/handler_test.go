package dividends

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/coop-ledger/coopledger/internal/shared"
)

func serveDividends(t *testing.T, svc *Service, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/dividends", NewHandler(nil, svc).MountRoutes)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req = req.WithContext(shared.ContextWithActor(req.Context(), shared.Actor{ID: 9}))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandlerPreview(t *testing.T) {
	svc := NewService(seededStore(), allowAll{}, nil, nil)

	rec := serveDividends(t, svc, http.MethodGet, "/dividends/preview?start=2024-01-01&end=2024-03-31&total_amount=1000", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var preview Preview
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &preview))
	require.Len(t, preview.Shares, 3)
	require.Equal(t, "1000", SumAmounts(preview.Shares).String())

	rec = serveDividends(t, svc, http.MethodGet, "/dividends/preview?start=2024-01-01&end=2024-03-31&total_amount=lots", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerDeclareApprovePay(t *testing.T) {
	store := seededStore()
	svc := NewService(store, allowAll{}, nil, nil)

	rec := serveDividends(t, svc, http.MethodPost, "/dividends", `{"period_start":"2024-01-01","period_end":"2024-03-31","total_amount":"1000","notes":"Q1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var detail Detail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	require.Equal(t, StatusDeclared, detail.Declaration.Status)
	require.Len(t, detail.Members, 3)

	rec = serveDividends(t, svc, http.MethodPost, "/dividends/payments/1/paid", `{"payment_method":"bank"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = serveDividends(t, svc, http.MethodPost, "/dividends/1/status", `{"status":"approved"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serveDividends(t, svc, http.MethodPost, "/dividends/payments/1/paid", `{"payment_method":"bank"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var md MemberDividend
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &md))
	require.Equal(t, PaymentPaid, md.PaymentStatus)
	require.True(t, strings.HasPrefix(md.PaymentReference, "DIV-"))

	rec = serveDividends(t, svc, http.MethodPost, "/dividends/1/status", `{"status":"declared"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid_transition")
}

func TestHandlerDeclareNeedsFinancePermission(t *testing.T) {
	svc := NewService(seededStore(), denyFinances{}, nil, nil)

	rec := serveDividends(t, svc, http.MethodPost, "/dividends", `{"period_start":"2024-01-01","period_end":"2024-03-31","total_amount":"1000"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = serveDividends(t, svc, http.MethodGet, "/dividends", "")
	require.Equal(t, http.StatusOK, rec.Code)
}
