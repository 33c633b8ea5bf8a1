// Package httpx provides HTTP response utilities following RFC7807 problem details.
package httpx

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/coop-ledger/coopledger/internal/shared"
)

// ProblemDetail represents RFC7807 problem details.
type ProblemDetail struct {
	Type          string   `json:"type,omitempty"`
	Title         string   `json:"title"`
	Status        int      `json:"status"`
	Detail        string   `json:"detail,omitempty"`
	Code          string   `json:"code,omitempty"`
	RequiredRoles []string `json:"required_roles,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Problem sends an RFC7807 problem details response.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	problem(w, status, title, "", detail, nil)
}

func problem(w http.ResponseWriter, status int, title, code, detail string, roles []string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ProblemDetail{
		Title:         title,
		Status:        status,
		Detail:        detail,
		Code:          code,
		RequiredRoles: roles,
	})
}

// DecodeJSON decodes the request body into target, rejecting unknown fields.
func DecodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return shared.Validation("decode body: %v", err)
	}
	return nil
}

// IDParam parses a positive integer URL parameter.
func IDParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Validation("invalid %s %q", name, raw)
	}
	return id, nil
}

// PageFromQuery reads page and page_size query parameters.
func PageFromQuery(r *http.Request) shared.Page {
	q := r.URL.Query()
	page, _ := strconv.Atoi(strings.TrimSpace(q.Get("page")))
	size, _ := strconv.Atoi(strings.TrimSpace(q.Get("page_size")))
	return shared.Page{Page: page, PageSize: size}.Normalize()
}

// ActorID returns the authenticated actor's id or ErrUnauthorized.
func ActorID(r *http.Request) (int64, error) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		return 0, fmt.Errorf("%w: no actor in context", ErrUnauthorized)
	}
	return actor.ID, nil
}

// ActorAndID resolves the actor and a positive id URL parameter, writing the problem
// response itself when either is missing.
func ActorAndID(w http.ResponseWriter, r *http.Request, logger *slog.Logger, param string) (int64, int64, bool) {
	actorID, err := ActorID(r)
	if err != nil {
		RespondError(w, r, logger, err)
		return 0, 0, false
	}
	id, err := IDParam(r, param)
	if err != nil {
		RespondError(w, r, logger, err)
		return 0, 0, false
	}
	return actorID, id, true
}
