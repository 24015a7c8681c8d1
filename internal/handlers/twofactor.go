package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/oursfolio/oursfolio/internal/auth"
	"github.com/oursfolio/oursfolio/internal/models"
	"github.com/oursfolio/oursfolio/internal/services"
	pkghttp "github.com/oursfolio/oursfolio/pkg/http"
)

// TwoFactorServiceInterface defines the interface for 2FA management
type TwoFactorServiceInterface interface {
	Setup(ctx context.Context, accountID string) (*services.TwoFactorSetupResponse, error)
	Confirm(ctx context.Context, accountID, code string) error
	Disable(ctx context.Context, accountID string) error
	History(ctx context.Context, accountID string, limit int) ([]*services.LoginHistoryResponse, error)
}

// TwoFactorHandler handles 2FA enrollment and login-history endpoints.
// All routes require an authenticated session.
type TwoFactorHandler struct {
	service TwoFactorServiceInterface
}

// NewTwoFactorHandler creates a new TwoFactorHandler
func NewTwoFactorHandler(service TwoFactorServiceInterface) *TwoFactorHandler {
	return &TwoFactorHandler{service: service}
}

// ConfirmRequest represents the request body for confirming enrollment
type ConfirmRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// Setup begins or resumes TOTP enrollment for the calling account
func (h *TwoFactorHandler) Setup(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	resp, err := h.service.Setup(r.Context(), claims.AccountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Account not found")
			return
		}
		pkghttp.WriteInternalError(w, "Failed to start 2FA setup")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// Confirm verifies a code from the authenticator app and enables 2FA
func (h *TwoFactorHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.Confirm(r.Context(), claims.AccountID, req.Code); err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidToken):
			pkghttp.WriteBadRequest(w, "Invalid verification code")
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "Account not found")
		default:
			pkghttp.WriteInternalError(w, "Failed to confirm 2FA setup")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]bool{"two_factor_enabled": true})
}

// Disable turns off 2FA for the calling account
func (h *TwoFactorHandler) Disable(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	if err := h.service.Disable(r.Context(), claims.AccountID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Account not found")
			return
		}
		pkghttp.WriteInternalError(w, "Failed to disable 2FA")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]bool{"two_factor_enabled": false})
}

// History lists the calling account's recent login attempts
func (h *TwoFactorHandler) History(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			pkghttp.WriteBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	entries, err := h.service.History(r.Context(), claims.AccountID, limit)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to load login history")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"history": entries,
	})
}
