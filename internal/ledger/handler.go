package ledger

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/coop-ledger/coopledger/internal/platform/httpx"
	"github.com/coop-ledger/coopledger/internal/shared"
)

// Handler exposes contributions over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds the contribution handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers contribution routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.record)
	r.Get("/totals", h.totals)
	r.Get("/{id}", h.get)
	r.Post("/{id}/confirm", h.confirm)
	r.Post("/{id}/fail", h.fail)
}

type recordRequest struct {
	MemberID      int64           `json:"member_id"`
	Amount        decimal.Decimal `json:"amount"`
	Date          string          `json:"contribution_date"`
	PaymentMethod string          `json:"payment_method"`
	Reference     string          `json:"reference"`
}

type failRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) record(w http.ResponseWriter, r *http.Request) {
	actorID, err := httpx.ActorID(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var req recordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	date, err := shared.ParseDate("contribution_date", req.Date)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	c, err := h.service.RecordContribution(r.Context(), actorID, RecordInput{
		MemberID:      req.MemberID,
		Amount:        req.Amount,
		Date:          date,
		PaymentMethod: req.PaymentMethod,
		Reference:     req.Reference,
	})
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, c)
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := httpx.ActorAndID(w, r, h.logger, "id")
	if !ok {
		return
	}
	c, err := h.service.ConfirmContribution(r.Context(), actorID, id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := httpx.ActorAndID(w, r, h.logger, "id")
	if !ok {
		return
	}
	var req failRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, r, h.logger, err)
			return
		}
	}
	c, err := h.service.FailContribution(r.Context(), actorID, id, req.Reason)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := httpx.ActorAndID(w, r, h.logger, "id")
	if !ok {
		return
	}
	c, err := h.service.GetContribution(r.Context(), actorID, id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actorID, err := httpx.ActorID(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	q := r.URL.Query()
	f := ListFilters{Status: Status(q.Get("status")), Page: httpx.PageFromQuery(r)}
	if raw := q.Get("member_id"); raw != "" {
		f.MemberID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.RespondError(w, r, h.logger, shared.Validation("invalid member_id %q", raw))
			return
		}
	}
	result, err := h.service.ListContributions(r.Context(), actorID, f)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type totalsResponse struct {
	Start  string        `json:"period_start,omitempty"`
	End    string        `json:"period_end,omitempty"`
	Totals []MemberTotal `json:"totals"`
}

// totals answers either ?member_id= or ?start=&end= aggregates.
func (h *Handler) totals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if raw := q.Get("member_id"); raw != "" {
		memberID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || memberID <= 0 {
			httpx.RespondError(w, r, h.logger, shared.Validation("invalid member_id %q", raw))
			return
		}
		total, err := h.service.TotalConfirmedContributions(r.Context(), memberID)
		if err != nil {
			httpx.RespondError(w, r, h.logger, err)
			return
		}
		httpx.JSON(w, http.StatusOK, totalsResponse{Totals: []MemberTotal{{MemberID: memberID, Total: total}}})
		return
	}
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
	totals, err := h.service.TotalConfirmedByPeriod(r.Context(), start, end)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, totalsResponse{
		Start:  start.Format(shared.DateLayout),
		End:    end.Format(shared.DateLayout),
		Totals: SortedTotals(totals),
	})
}
