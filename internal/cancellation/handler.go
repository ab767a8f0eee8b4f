package cancellation

import (
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

type CreateRequest struct {
	Reason         string `json:"reason"`
	AdditionalInfo string `json:"additional_info"`
}

type DecisionRequest struct {
	Approve bool `json:"approve"`
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

// Create answers 200 when the request was approved on the spot and 202 when
// it is queued for an admin.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromCtx(r.Context())
	var req CreateRequest
	if err := httpx.Decode(r, h.validator, validation.CancellationRequest, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	out, err := h.svc.RequestCancellation(r.Context(), chi.URLParam(r, "id"), id, req.Reason, req.AdditionalInfo)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	status := http.StatusAccepted
	if out.AutoApproved {
		status = http.StatusOK
	}
	httpx.WriteJSON(w, status, out)
}

func (h *Handler) ListForWorkOrder(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromCtx(r.Context())
	list, err := h.svc.ListForWorkOrder(r.Context(), chi.URLParam(r, "id"), id)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	writeList(w, list)
}

func (h *Handler) Window(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromCtx(r.Context())
	info, err := h.svc.Window(r.Context(), chi.URLParam(r, "id"), id)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, info)
}

func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListPending(r.Context(), httpx.QueryInt(r, "limit", DefaultQueueLimit))
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	writeList(w, list)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromCtx(r.Context())
	requestID, err := requestIDParam(r)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	req, err := h.svc.Get(r.Context(), requestID, id)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, req)
}

func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromCtx(r.Context())
	requestID, err := requestIDParam(r)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	var req DecisionRequest
	if err := httpx.Decode(r, h.validator, validation.CancellationDecision, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	out, err := h.svc.Decide(r.Context(), requestID, req.Approve, id)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func requestIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: request id: %v", apperrors.ErrNotFound, err)
	}
	return id, nil
}

func writeList(w http.ResponseWriter, list []*models.CancellationRequest) {
	if list == nil {
		list = []*models.CancellationRequest{}
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}
