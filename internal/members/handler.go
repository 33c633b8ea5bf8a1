package members

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/coop-ledger/coopledger/internal/platform/httpx"
	"github.com/coop-ledger/coopledger/internal/shared"
)

// Handler exposes members over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds the member handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers member routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.enroll)
	r.Get("/{memberID}", h.get)
	r.Post("/{memberID}/suspend", h.suspend)
	r.Post("/{memberID}/reactivate", h.reactivate)
	r.Delete("/{memberID}", h.delete)
}

type enrollRequest struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
	JoinedAt string `json:"joined_at"`
}

type deleteRequest struct {
	Confirmation string `json:"confirmation"`
}

func (h *Handler) enroll(w http.ResponseWriter, r *http.Request) {
	actorID, err := httpx.ActorID(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var req enrollRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	in := EnrollInput{Name: req.Name, Phone: req.Phone, Email: req.Email}
	if req.JoinedAt != "" {
		if in.JoinedAt, err = shared.ParseDate("joined_at", req.JoinedAt); err != nil {
			httpx.RespondError(w, r, h.logger, err)
			return
		}
	}
	m, err := h.service.Enroll(r.Context(), actorID, in)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, m)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := httpx.ActorAndID(w, r, h.logger, "memberID")
	if !ok {
		return
	}
	m, err := h.service.Get(r.Context(), actorID, id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actorID, err := httpx.ActorID(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	q := r.URL.Query()
	result, err := h.service.List(r.Context(), actorID, ListFilters{
		Status: Status(q.Get("status")),
		Search: q.Get("q"),
		Page:   httpx.PageFromQuery(r),
	})
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) suspend(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := httpx.ActorAndID(w, r, h.logger, "memberID")
	if !ok {
		return
	}
	m, err := h.service.Suspend(r.Context(), actorID, id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) reactivate(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := httpx.ActorAndID(w, r, h.logger, "memberID")
	if !ok {
		return
	}
	m, err := h.service.Reactivate(r.Context(), actorID, id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

// delete expects {"confirmation": "<member name>"} in the body.
func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := httpx.ActorAndID(w, r, h.logger, "memberID")
	if !ok {
		return
	}
	var req deleteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if err := h.service.Delete(r.Context(), actorID, id, req.Confirmation); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
