package loans

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/coop-ledger/coopledger/internal/platform/httpx"
	"github.com/coop-ledger/coopledger/internal/shared"
)

// Handler exposes the loan engine over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
	now     func() time.Time
}

// NewHandler builds the loan handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, now: time.Now}
}

// MountRoutes registers loan routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.process)
	r.Get("/eligibility/{memberID}", h.eligibility)
	r.Get("/overdue", h.overdue)
	r.Post("/overdue/refresh", h.refresh)
	r.Get("/{id}", h.get)
	r.Post("/{id}/repayments", h.repay)
	r.Post("/{id}/cancel", h.cancel)
}

type processRequest struct {
	MemberID     int64           `json:"member_id"`
	Amount       decimal.Decimal `json:"amount"`
	InterestRate decimal.Decimal `json:"interest_rate"`
	LoanDate     string          `json:"loan_date"`
	DueDate      string          `json:"due_date"`
	Purpose      string          `json:"purpose"`
}

type repayRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	Date          string          `json:"repayment_date"`
	PaymentMethod string          `json:"payment_method"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type loanResponse struct {
	Loan       Loan        `json:"loan"`
	Repayments []Repayment `json:"repayments,omitempty"`
}

type refreshResponse struct {
	AsOf    string `json:"as_of"`
	Updated int    `json:"updated"`
}

func (h *Handler) eligibility(w http.ResponseWriter, r *http.Request) {
	memberID, err := httpx.IDParam(r, "memberID")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	elig, err := h.service.Eligibility(r.Context(), memberID)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, elig)
}

func (h *Handler) process(w http.ResponseWriter, r *http.Request) {
	actorID, err := httpx.ActorID(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var req processRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	in := LoanRequest{MemberID: req.MemberID, Amount: req.Amount, InterestRate: req.InterestRate, Purpose: req.Purpose}
	if req.LoanDate != "" {
		if in.LoanDate, err = shared.ParseDate("loan_date", req.LoanDate); err != nil {
			httpx.RespondError(w, r, h.logger, err)
			return
		}
	}
	if in.DueDate, err = shared.ParseDate("due_date", req.DueDate); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	loan, err := h.service.ProcessLoan(r.Context(), actorID, in)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, loanResponse{Loan: loan})
}

func (h *Handler) repay(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := httpx.ActorAndID(w, r, h.logger, "id")
	if !ok {
		return
	}
	var req repayRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	in := RepaymentRequest{LoanID: id, Amount: req.Amount, PaymentMethod: req.PaymentMethod}
	if req.Date != "" {
		date, err := shared.ParseDate("repayment_date", req.Date)
		if err != nil {
			httpx.RespondError(w, r, h.logger, err)
			return
		}
		in.Date = date
	}
	loan, err := h.service.RecordRepayment(r.Context(), actorID, in)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, loanResponse{Loan: loan})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := httpx.ActorAndID(w, r, h.logger, "id")
	if !ok {
		return
	}
	var req cancelRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, r, h.logger, err)
			return
		}
	}
	loan, err := h.service.CancelLoan(r.Context(), actorID, id, req.Reason)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, loanResponse{Loan: loan})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := httpx.ActorAndID(w, r, h.logger, "id")
	if !ok {
		return
	}
	loan, history, err := h.service.GetLoan(r.Context(), actorID, id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, loanResponse{Loan: loan, Repayments: history})
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
		if f.MemberID, err = strconv.ParseInt(raw, 10, 64); err != nil {
			httpx.RespondError(w, r, h.logger, shared.Validation("invalid member_id %q", raw))
			return
		}
	}
	result, err := h.service.ListLoans(r.Context(), actorID, f)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	actorID, err := httpx.ActorID(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	now := h.now()
	updated, err := h.service.RefreshOverdueStatuses(r.Context(), actorID, now)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, refreshResponse{AsOf: shared.DateOnly(now).Format(shared.DateLayout), Updated: updated})
}

// overdue coalesces concurrent report requests for the same day after checking each
// caller's own permission.
func (h *Handler) overdue(w http.ResponseWriter, r *http.Request) {
	actorID, err := httpx.ActorID(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if err := h.service.RequireReportAccess(r.Context(), actorID); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	now := h.now()
	key := "overdue:" + shared.DateOnly(now).Format(shared.DateLayout)
	report, coalesced, err := coalesce(r.Context(), key, func(ctx context.Context) (OverdueReport, error) {
		return h.service.OverdueReport(ctx, actorID, now)
	})
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if coalesced {
		w.Header().Set("X-Report-Shared", "true")
	}
	httpx.JSON(w, http.StatusOK, report)
}
