package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/mabini-abc/portal/internal/services"
	pkghttp "github.com/mabini-abc/portal/pkg/http"
)

// AuditServiceInterface defines the password change log operations
type AuditServiceInterface interface {
	ListRecent(ctx context.Context) (*services.PasswordChangeFeed, error)
	Delete(ctx context.Context, id int64) error
	Clear(ctx context.Context) (int64, error)
}

// AuditHandler serves the password change log to administrators
type AuditHandler struct {
	service AuditServiceInterface
	logger  *slog.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(service AuditServiceInterface, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		service: service,
		logger:  logger,
	}
}

// PasswordChangeResponse represents a password change log entry in HTTP response
type PasswordChangeResponse struct {
	ID             int64     `json:"id"`
	AccountID      string    `json:"account_id"`
	AccountEmail   string    `json:"account_email"`
	AccountRole    string    `json:"account_role"`
	Barangay       string    `json:"barangay,omitempty"`
	ResetRequestID *int64    `json:"reset_request_id,omitempty"`
	IPAddress      *string   `json:"ip_address,omitempty"`
	ChangedAt      time.Time `json:"changed_at"`
	Freshness      string    `json:"freshness"`
}

// PasswordChangeFeedResponse is the notification feed body
type PasswordChangeFeedResponse struct {
	Notifications []PasswordChangeResponse `json:"notifications"`
	UnreadCount   int64                    `json:"unread_count"`
}

// List handles GET /admin/password-changes
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	feed, err := h.service.ListRecent(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	resp := PasswordChangeFeedResponse{
		Notifications: make([]PasswordChangeResponse, 0, len(feed.Notices)),
		UnreadCount:   feed.UnreadCount,
	}
	for _, n := range feed.Notices {
		resp.Notifications = append(resp.Notifications, PasswordChangeResponse{
			ID:             n.ID,
			AccountID:      n.AccountID,
			AccountEmail:   n.AccountEmail,
			AccountRole:    n.AccountRole.String(),
			Barangay:       n.AccountBarangay,
			ResetRequestID: n.ResetRequestID,
			IPAddress:      n.IPAddress,
			ChangedAt:      n.ChangedAt,
			Freshness:      n.Freshness,
		})
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// Delete handles DELETE /admin/password-changes/{id}
func (h *AuditHandler) Delete(w http.ResponseWriter, r *http.Request) {
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

// Clear handles DELETE /admin/password-changes
func (h *AuditHandler) Clear(w http.ResponseWriter, r *http.Request) {
	removed, err := h.service.Clear(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}
