package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mabini-abc/portal/internal/auth"
	"github.com/mabini-abc/portal/internal/models"
	"github.com/mabini-abc/portal/internal/services"
	pkghttp "github.com/mabini-abc/portal/pkg/http"
)

// ResetServiceInterface defines the interface for the password reset workflow
type ResetServiceInterface interface {
	Submit(ctx context.Context, in services.SubmitResetInput) (*models.ResetRequest, error)
	Review(ctx context.Context, in services.ReviewInput) (*services.ReviewResult, error)
	List(ctx context.Context, filter models.ResetRequestFilter) (*services.ResetRequestList, error)
	Delete(ctx context.Context, id int64) error
}

// ResetHandler handles password reset HTTP requests
type ResetHandler struct {
	service  ResetServiceInterface
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewResetHandler creates a new ResetHandler
func NewResetHandler(service ResetServiceInterface, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *ResetHandler {
	return &ResetHandler{
		service:  service,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// SubmitResetRequest represents the request body for a self-service reset
type SubmitResetRequest struct {
	Email           string `json:"email" validate:"required,email"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=NewPassword"`
}

// SubmitResetResponse acknowledges a queued request
type SubmitResetResponse struct {
	RequestID int64  `json:"request_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// ReviewResetRequest represents an administrator decision
type ReviewResetRequest struct {
	Action          string `json:"action" validate:"required,oneof=approve reject"`
	RejectionReason string `json:"rejection_reason" validate:"max=500"`
}

// ResetRequestResponse represents a reset request in the HTTP response
type ResetRequestResponse struct {
	ID              int64      `json:"id"`
	AccountID       string     `json:"account_id"`
	AccountEmail    string     `json:"account_email"`
	AccountRole     string     `json:"account_role"`
	Barangay        string     `json:"barangay,omitempty"`
	Status          string     `json:"status"`
	IPAddress       *string    `json:"ip_address,omitempty"`
	UserAgent       *string    `json:"user_agent,omitempty"`
	RequestedAt     time.Time  `json:"requested_at"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
	ReviewedByEmail *string    `json:"reviewed_by_email,omitempty"`
	RejectionReason *string    `json:"rejection_reason,omitempty"`
}

// ResetRequestListResponse is the administrator queue
type ResetRequestListResponse struct {
	Status       string                  `json:"status"`
	Requests     []*ResetRequestResponse `json:"requests"`
	PendingCount int64                   `json:"pending_count"`
}

func resetRequestToResponse(r *models.ResetRequest) *ResetRequestResponse {
	return &ResetRequestResponse{
		ID:              r.ID,
		AccountID:       r.AccountID,
		AccountEmail:    r.AccountEmail,
		AccountRole:     r.AccountRole.String(),
		Barangay:        r.AccountBarangay,
		Status:          string(r.Status),
		IPAddress:       r.IPAddress,
		UserAgent:       r.UserAgent,
		RequestedAt:     r.RequestedAt,
		ReviewedAt:      r.ReviewedAt,
		ReviewedByEmail: r.ReviewedByEmail,
		RejectionReason: r.RejectionReason,
	}
}

// Submit handles POST /auth/password-reset
func (h *ResetHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitResetRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ip, ua := pkghttp.ClientMetadata(r, h.ipConfig)
	created, err := h.service.Submit(r.Context(), services.SubmitResetInput{
		Identity:    req.Email,
		NewPassword: req.NewPassword,
		IPAddress:   ip,
		UserAgent:   ua,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, SubmitResetResponse{
		RequestID: created.ID,
		Status:    string(created.Status),
		Message:   "Password reset request submitted. Your account is locked until an administrator reviews it.",
	})
}

// List handles GET /admin/reset-requests?status=
func (h *ResetHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := models.ParseResetFilter(r.URL.Query().Get("status"))

	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	resp := ResetRequestListResponse{
		Status:       string(list.Filter),
		Requests:     make([]*ResetRequestResponse, 0, len(list.Requests)),
		PendingCount: list.PendingCount,
	}
	for _, req := range list.Requests {
		resp.Requests = append(resp.Requests, resetRequestToResponse(req))
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// Review handles POST /admin/reset-requests/{id}/review
func (h *ResetHandler) Review(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	reviewer := auth.AccountFromContext(r.Context())
	if reviewer == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req ReviewResetRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.Review(r.Context(), services.ReviewInput{
		RequestID:  id,
		Decision:   models.ResetDecision(req.Action),
		ReviewerID: reviewer.ID,
		Reason:     req.RejectionReason,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, resetRequestToResponse(result.Request))
}

// Delete handles DELETE /admin/reset-requests/{id}
func (h *ResetHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		pkghttp.WriteBadRequest(w, "Invalid id")
		return 0, false
	}
	return id, true
}
