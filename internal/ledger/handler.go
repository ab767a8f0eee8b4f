package ledger

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/installmatch/backend/internal/httpx"
	"github.com/installmatch/backend/internal/middleware"
	"github.com/installmatch/backend/internal/models"
	"github.com/installmatch/backend/internal/validation"
)

type AmountRequest struct {
	Amount int64 `json:"amount"`
}

type ValidateRequest struct {
	RequiredAmount int64 `json:"required_amount"`
}

// Handler exposes the caller's own point account. The account role always
// comes from the token, never from the request.
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

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromCtx(r.Context())
	b, err := h.svc.GetBalance(r.Context(), id.AccountID, id.Role)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, b)
}

func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromCtx(r.Context())
	var req ValidateRequest
	if err := httpx.Decode(r, h.validator, validation.ValidateBalance, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	check, err := h.svc.Validate(r.Context(), id.AccountID, id.Role, req.RequiredAmount)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, check)
}

func (h *Handler) Charge(w http.ResponseWriter, r *http.Request) {
	h.amountOp(w, r, h.svc.Charge)
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.amountOp(w, r, h.svc.Withdraw)
}

type amountFunc func(ctx context.Context, accountID uuid.UUID, role string, amount int64) (*models.PointTransaction, error)

func (h *Handler) amountOp(w http.ResponseWriter, r *http.Request, op amountFunc) {
	id, _ := middleware.IdentityFromCtx(r.Context())
	var req AmountRequest
	if err := httpx.Decode(r, h.validator, validation.Amount, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	t, err := op(r.Context(), id.AccountID, id.Role, req.Amount)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, t)
}

func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromCtx(r.Context())
	list, err := h.svc.Transactions(r.Context(), id.AccountID, id.Role, httpx.QueryInt(r, "limit", DefaultHistoryLimit))
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if list == nil {
		list = []models.PointTransaction{}
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}
