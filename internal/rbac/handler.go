package rbac

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/coop-ledger/coopledger/internal/platform/httpx"
)

// Handler exposes role assignment over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds the role handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers role routes under /members/{memberID}/roles.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Put("/{role}", h.assign)
	r.Delete("/{role}", h.remove)
}

type rolesResponse struct {
	MemberID    int64    `json:"member_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

func newRolesResponse(memberID int64, set RoleSet) rolesResponse {
	resp := rolesResponse{MemberID: memberID, Roles: set.Strings(), Permissions: []string{}}
	for _, p := range []Permission{PermManageUsers, PermManageFinances, PermManageMeetings, PermViewReports} {
		if set.Can(p) {
			resp.Permissions = append(resp.Permissions, string(p))
		}
	}
	return resp
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actorID, memberID, ok := httpx.ActorAndID(w, r, h.logger, "memberID")
	if !ok {
		return
	}
	if actorID != memberID {
		if err := h.service.Require(r.Context(), actorID, PermManageUsers, PermViewReports); err != nil {
			httpx.RespondError(w, r, h.logger, err)
			return
		}
	}
	set, err := h.service.Roles(r.Context(), memberID)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newRolesResponse(memberID, set))
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, h.service.AssignRole)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, h.service.RemoveRole)
}

func (h *Handler) change(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, actorID, memberID int64, role string) (RoleSet, error)) {
	actorID, err := httpx.ActorID(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	memberID, err := httpx.IDParam(r, "memberID")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	set, err := op(r.Context(), actorID, memberID, chi.URLParam(r, "role"))
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newRolesResponse(memberID, set))
}
