package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/mabini-abc/portal/internal/auth"
	"github.com/mabini-abc/portal/internal/models"
	pkghttp "github.com/mabini-abc/portal/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, identity, secret string) (*models.AuthResult, error)
	TouchActivity(ctx context.Context, accountID string) error
}

// SessionIssuer creates session credentials for authenticated accounts
type SessionIssuer interface {
	Issue(account *models.Account) (string, time.Time, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service      AuthServiceInterface
	sessions     SessionIssuer
	cookieConfig auth.CookieConfig
	logger       *slog.Logger
	now          func() time.Time
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, sessions SessionIssuer, cookieConfig auth.CookieConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:      service,
		sessions:     sessions,
		cookieConfig: cookieConfig,
		logger:       logger,
		now:          time.Now,
	}
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// AccountResponse represents an account in the HTTP response
type AccountResponse struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	Role           string     `json:"role"`
	Barangay       string     `json:"barangay,omitempty"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
}

// LoginResponse is returned on a successful login
type LoginResponse struct {
	SessionToken string           `json:"session_token"`
	ExpiresAt    time.Time        `json:"expires_at"`
	Account      *AccountResponse `json:"account"`
}

func accountToResponse(a *models.Account) *AccountResponse {
	return &AccountResponse{
		ID:             a.ID,
		Email:          a.Email,
		Role:           a.Role.String(),
		Barangay:       a.Barangay,
		LastActivityAt: a.LastActivityAt,
	}
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if !result.Allowed() {
		writeDenial(w, result, h.now())
		return
	}

	token, expiresAt, err := h.sessions.Issue(result.Account)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	auth.SetSessionCookie(w, token, expiresAt, h.cookieConfig)
	pkghttp.WriteJSON(w, http.StatusOK, LoginResponse{
		SessionToken: token,
		ExpiresAt:    expiresAt,
		Account:      accountToResponse(result.Account),
	})
}

// Logout handles POST /auth/logout. Sessions are stateless, so this only
// clears the browser cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookie(w, h.cookieConfig)
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	account := auth.AccountFromContext(r.Context())
	if account == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, accountToResponse(account))
}

// Activity handles POST /auth/activity
func (h *AuthHandler) Activity(w http.ResponseWriter, r *http.Request) {
	account := auth.AccountFromContext(r.Context())
	if account == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}
	if err := h.service.TouchActivity(r.Context(), account.ID); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
