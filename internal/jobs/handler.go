package jobs

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/installmatch/backend/internal/apperrors"
	"github.com/installmatch/backend/internal/httpx"
	"github.com/installmatch/backend/internal/middleware"
	"github.com/installmatch/backend/internal/models"
	"github.com/installmatch/backend/internal/validation"
)

// Request/response structs use snake_case JSON.

type CreateWorkOrderRequest struct {
	BudgetAmount        int64           `json:"budget_amount"`
	IsUrgent            bool            `json:"is_urgent"`
	OriginalWorkOrderID string          `json:"original_work_order_id"`
	Details             json.RawMessage `json:"details"`
}

type CreateWorkOrderResponse struct {
	WorkOrder *models.WorkOrder        `json:"work_order"`
	Payment   *models.PointTransaction `json:"payment"`
}

type AdvanceStatusRequest struct {
	Status models.WorkOrderStatus `json:"status"`
}

type Handler struct {
	svc       Service
	validator *validation.Validator
	log       *slog.Logger
}

func NewHandler(svc Service, validator *validation.Validator, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, validator: validator, log: log}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromCtx(r.Context())
	var req CreateWorkOrderRequest
	if err := httpx.Decode(r, h.validator, validation.CreateWorkOrder, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	wo, payment, err := h.svc.CreateWorkOrder(r.Context(), id, CreateInput{
		BudgetAmount:        req.BudgetAmount,
		IsUrgent:            req.IsUrgent,
		OriginalWorkOrderID: req.OriginalWorkOrderID,
		Details:             req.Details,
	})
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, CreateWorkOrderResponse{WorkOrder: wo, Payment: payment})
}

// List returns the caller's own orders. Admins pass payer_id or
// contractor_id to look at someone else's.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromCtx(r.Context())
	limit := httpx.QueryInt(r, "limit", DefaultListLimit)

	var (
		list []*models.WorkOrder
		err  error
	)
	switch id.Role {
	case models.RoleSeller:
		list, err = h.svc.ListForPayer(r.Context(), id.AccountID, limit)
	case models.RoleContractor:
		list, err = h.svc.ListForContractor(r.Context(), id.AccountID, limit)
	case models.RoleAdmin:
		list, err = h.listForAdmin(r, limit)
	default:
		err = apperrors.ErrForbidden
	}
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if list == nil {
		list = []*models.WorkOrder{}
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) listForAdmin(r *http.Request, limit int) ([]*models.WorkOrder, error) {
	q := r.URL.Query()
	if s := q.Get("payer_id"); s != "" {
		payer, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("%w: payer_id: %v", apperrors.ErrValidation, err)
		}
		return h.svc.ListForPayer(r.Context(), payer, limit)
	}
	if s := q.Get("contractor_id"); s != "" {
		contractor, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("%w: contractor_id: %v", apperrors.ErrValidation, err)
		}
		return h.svc.ListForContractor(r.Context(), contractor, limit)
	}
	return h.svc.ListOpen(r.Context(), limit)
}

func (h *Handler) ListOpen(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListOpen(r.Context(), httpx.QueryInt(r, "limit", DefaultListLimit))
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if list == nil {
		list = []*models.WorkOrder{}
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromCtx(r.Context())
	wo, err := h.svc.GetWorkOrder(r.Context(), chi.URLParam(r, "id"), id)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, wo)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromCtx(r.Context())
	changes, err := h.svc.History(r.Context(), chi.URLParam(r, "id"), id)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if changes == nil {
		changes = []models.StatusChange{}
	}
	httpx.WriteJSON(w, http.StatusOK, changes)
}

func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromCtx(r.Context())
	wo, err := h.svc.AcceptWorkOrder(r.Context(), chi.URLParam(r, "id"), id)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, wo)
}

func (h *Handler) AdvanceStatus(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromCtx(r.Context())
	var req AdvanceStatusRequest
	if err := httpx.Decode(r, h.validator, validation.AdvanceStatus, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	wo, err := h.svc.AdvanceStatus(r.Context(), chi.URLParam(r, "id"), id, req.Status)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, wo)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromCtx(r.Context())
	wo, err := h.svc.CancelWorkOrder(r.Context(), chi.URLParam(r, "id"), id)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, wo)
}
