package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/coop-ledger/coopledger/internal/shared"
)

var epoch = time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)

func newTestVerifier(t *testing.T, issuer string) *Verifier {
	t.Helper()
	v, err := NewVerifier("s3cret", issuer)
	require.NoError(t, err)
	v.now = func() time.Time { return epoch }
	return v
}

func TestVerifyRoundTrip(t *testing.T) {
	v := newTestVerifier(t, "coop-idp")
	token, err := v.Issue(42, "Amina", time.Hour)
	require.NoError(t, err)

	actor, err := v.Verify(token)
	require.NoError(t, err)
	require.Equal(t, shared.Actor{ID: 42, Name: "Amina"}, actor)
}

func TestVerifyRejections(t *testing.T) {
	v := newTestVerifier(t, "coop-idp")

	_, err := v.Verify("")
	require.ErrorIs(t, err, ErrTokenMissing)

	expired, err := v.Issue(42, "", time.Minute)
	require.NoError(t, err)
	later := newTestVerifier(t, "coop-idp")
	later.now = func() time.Time { return epoch.Add(time.Hour) }
	_, err = later.Verify(expired)
	require.ErrorIs(t, err, ErrTokenExpired)

	other := newTestVerifier(t, "elsewhere")
	foreign, err := other.Issue(42, "", time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(foreign)
	require.ErrorIs(t, err, ErrTokenInvalid)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "42",
		Issuer:    "coop-idp",
		ExpiresAt: jwt.NewNumericDate(epoch.Add(time.Hour)),
	}}).SignedString([]byte("wrong"))
	require.NoError(t, err)
	_, err = v.Verify(forged)
	require.ErrorIs(t, err, ErrTokenInvalid)

	bad, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "treasurer",
		Issuer:    "coop-idp",
		ExpiresAt: jwt.NewNumericDate(epoch.Add(time.Hour)),
	}}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = v.Verify(bad)
	require.ErrorIs(t, err, ErrTokenInvalid)

	_, err = NewVerifier(" ", "")
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrTokenInvalid))
}

func TestMiddleware(t *testing.T) {
	v := newTestVerifier(t, "")
	var seen shared.Actor
	h := Middleware(v, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = shared.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/loans", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := v.Issue(7, "Treasurer", time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/loans", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, int64(7), seen.ID)

	req = httptest.NewRequest(http.MethodGet, "/loans", nil)
	req.Header.Set("Authorization", "Bearer "+token+"x")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
