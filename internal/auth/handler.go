package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/installmatch/backend/internal/httpx"
	"github.com/installmatch/backend/internal/models"
	"github.com/installmatch/backend/internal/validation"
)

// Request/response structs use snake_case JSON.

type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token   string          `json:"token"`
	Account *models.Account `json:"account"`
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

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := httpx.Decode(r, h.validator, validation.Register, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	acc, err := h.svc.Register(r.Context(), req.Email, req.Password, req.DisplayName, req.Role)
	switch {
	case errors.Is(err, ErrDuplicateEmail):
		httpx.WriteJSON(w, http.StatusConflict, map[string]string{"error": "DUPLICATE_EMAIL", "message": err.Error()})
		return
	case errors.Is(err, ErrInvalidRole):
		httpx.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "INVALID_ROLE", "message": err.Error()})
		return
	case err != nil:
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, acc)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httpx.Decode(r, h.validator, validation.Login, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	token, acc, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		httpx.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "INVALID_CREDENTIALS", "message": err.Error()})
		return
	}
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, LoginResponse{Token: token, Account: acc})
}
