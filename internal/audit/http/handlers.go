package audithttp

import (
	"bytes"
	"context"
	"encoding/csv"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coop-ledger/coopledger/internal/audit"
	"github.com/coop-ledger/coopledger/internal/platform/httpx"
	"github.com/coop-ledger/coopledger/internal/rbac"
	"github.com/coop-ledger/coopledger/internal/shared"
)

const (
	maxDateRangeDays = 366
	exportPageSize   = 100
	maxExportRows    = 5000
)

// TruncatedHeader is set on exports that stopped at the row cap.
const TruncatedHeader = "X-Truncated"

// QueryService is the read side of the audit log.
type QueryService interface {
	Query(ctx context.Context, filters audit.Filters) (audit.Result, error)
}

// Authorizer gates access on the actor's permissions.
type Authorizer interface {
	Require(ctx context.Context, actorID int64, perms ...rbac.Permission) error
}

// Handler serves audit log queries.
type Handler struct {
	logger  *slog.Logger
	service QueryService
	authz   Authorizer
}

// NewHandler builds the audit handler.
func NewHandler(logger *slog.Logger, service QueryService, authz Authorizer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, authz: authz}
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	filters, ok := h.authorizedFilters(w, r)
	if !ok {
		return
	}
	result, err := h.service.Query(r.Context(), filters)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filters, ok := h.authorizedFilters(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	_ = cw.Write([]string{"id", "at", "actor_id", "action", "entity_type", "entity_id", "before", "after"})
	filters.Page = shared.Page{Page: 1, PageSize: exportPageSize}
	filters.Before = nil
	written := 0
	truncated := false
	for {
		result, err := h.service.Query(r.Context(), filters)
		if err != nil {
			httpx.RespondError(w, r, h.logger, err)
			return
		}
		for _, e := range result.Entries {
			if written == maxExportRows {
				truncated = true
				break
			}
			_ = cw.Write([]string{
				e.ID.String(),
				e.At.UTC().Format(time.RFC3339),
				strconv.FormatInt(e.ActorID, 10),
				e.Action,
				e.EntityType,
				e.EntityID,
				string(e.Before),
				string(e.After),
			})
			written++
		}
		if truncated || !result.Paging.HasNext || len(result.Entries) == 0 {
			break
		}
		if written == maxExportRows {
			truncated = true
			break
		}
		filters.Before = audit.CursorOf(result.Entries[len(result.Entries)-1])
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"audit-log.csv\"")
	if truncated {
		w.Header().Set(TruncatedHeader, "true")
		h.logger.Info("audit export truncated", slog.Int("rows", written))
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

func (h *Handler) authorizedFilters(w http.ResponseWriter, r *http.Request) (audit.Filters, bool) {
	actorID, err := httpx.ActorID(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return audit.Filters{}, false
	}
	if err := h.authz.Require(r.Context(), actorID, rbac.PermViewReports); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return audit.Filters{}, false
	}
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return audit.Filters{}, false
	}
	return filters, true
}

// parseFilters reads entity_type, entity_id, actor_id, action, from and to. Dates are
// whole days; to is inclusive.
func parseFilters(r *http.Request) (audit.Filters, error) {
	q := r.URL.Query()
	f := audit.Filters{
		EntityType: strings.TrimSpace(q.Get("entity_type")),
		EntityID:   strings.TrimSpace(q.Get("entity_id")),
		Action:     strings.TrimSpace(q.Get("action")),
		Page:       httpx.PageFromQuery(r),
	}
	if raw := strings.TrimSpace(q.Get("actor_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return audit.Filters{}, shared.Validation("invalid actor_id %q", raw)
		}
		f.ActorID = id
	}
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		from, err := shared.ParseDate("from", raw)
		if err != nil {
			return audit.Filters{}, err
		}
		f.From = from
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		to, err := shared.ParseDate("to", raw)
		if err != nil {
			return audit.Filters{}, err
		}
		f.To = to.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	if !f.From.IsZero() && !f.To.IsZero() {
		if f.To.Before(f.From) {
			return audit.Filters{}, shared.Validation("to must not be before from")
		}
		if f.To.Sub(f.From) > maxDateRangeDays*24*time.Hour {
			return audit.Filters{}, shared.Validation("date range is limited to %d days", maxDateRangeDays)
		}
	}
	return f, nil
}
