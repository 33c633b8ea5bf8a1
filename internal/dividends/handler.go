package dividends

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/coop-ledger/coopledger/internal/platform/httpx"
	"github.com/coop-ledger/coopledger/internal/shared"
)

// Handler exposes the dividend engine over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds the dividend handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers dividend routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.declare)
	r.Get("/preview", h.preview)
	r.Get("/{id}", h.get)
	r.Post("/{id}/status", h.transition)
	r.Post("/payments/{id}/paid", h.markPaid)
	r.Post("/payments/{id}/failed", h.markFailed)
}

type declareRequest struct {
	PeriodStart string          `json:"period_start"`
	PeriodEnd   string          `json:"period_end"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Notes       string          `json:"notes"`
}

type transitionRequest struct {
	Status Status `json:"status"`
}

type paidRequest struct {
	PaymentMethod    string `json:"payment_method"`
	PaymentReference string `json:"payment_reference"`
}

type failedRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	actorID, err := httpx.ActorID(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	q := r.URL.Query()
	start, err := shared.ParseDate("start", q.Get("start"))
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	end, err := shared.ParseDate("end", q.Get("end"))
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	pool, err := decimal.NewFromString(q.Get("total_amount"))
	if err != nil {
		httpx.RespondError(w, r, h.logger, shared.Validation("invalid total_amount %q", q.Get("total_amount")))
		return
	}
	preview, err := h.service.PreviewDistribution(r.Context(), actorID, start, end, pool)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, preview)
}

func (h *Handler) declare(w http.ResponseWriter, r *http.Request) {
	actorID, err := httpx.ActorID(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var req declareRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	in := DeclareInput{TotalAmount: req.TotalAmount, Notes: req.Notes}
	if in.PeriodStart, err = shared.ParseDate("period_start", req.PeriodStart); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if in.PeriodEnd, err = shared.ParseDate("period_end", req.PeriodEnd); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	detail, err := h.service.Declare(r.Context(), actorID, in)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, detail)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := httpx.ActorAndID(w, r, h.logger, "id")
	if !ok {
		return
	}
	var req transitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	decl, err := h.service.TransitionStatus(r.Context(), actorID, id, req.Status)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, decl)
}

func (h *Handler) markPaid(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := httpx.ActorAndID(w, r, h.logger, "id")
	if !ok {
		return
	}
	var req paidRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	md, err := h.service.MarkMemberPaid(r.Context(), actorID, id, req.PaymentMethod, req.PaymentReference)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, md)
}

func (h *Handler) markFailed(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := httpx.ActorAndID(w, r, h.logger, "id")
	if !ok {
		return
	}
	var req failedRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, r, h.logger, err)
			return
		}
	}
	md, err := h.service.MarkMemberFailed(r.Context(), actorID, id, req.Reason)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, md)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := httpx.ActorAndID(w, r, h.logger, "id")
	if !ok {
		return
	}
	detail, err := h.service.GetDeclaration(r.Context(), actorID, id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actorID, err := httpx.ActorID(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	result, err := h.service.ListDeclarations(r.Context(), actorID, ListFilters{
		Status: Status(r.URL.Query().Get("status")),
		Page:   httpx.PageFromQuery(r),
	})
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}
