package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mabini-abc/portal/internal/models"
	pkgauth "github.com/mabini-abc/portal/pkg/auth"
	pkglogger "github.com/mabini-abc/portal/pkg/logger"
)

// ResetRequestRepository defines the persistence operations of the reset workflow.
// CreatePending, Approve and Reject must each be atomic.
type ResetRequestRepository interface {
	HasPending(ctx context.Context, accountID string) (bool, error)
	CreatePending(ctx context.Context, req *models.ResetRequest) (*models.ResetRequest, error)
	Approve(ctx context.Context, id int64, reviewerID string, at time.Time) (*models.ResetRequest, *models.PasswordChangeLog, error)
	Reject(ctx context.Context, id int64, reviewerID, reason string, at time.Time) (*models.ResetRequest, error)
	GetByID(ctx context.Context, id int64) (*models.ResetRequest, error)
	List(ctx context.Context, filter models.ResetRequestFilter) ([]*models.ResetRequest, error)
	CountPending(ctx context.Context) (int64, error)
	Delete(ctx context.Context, id int64) error
}

// SubmitResetInput is a self-service password change request.
type SubmitResetInput struct {
	Identity    string
	NewPassword string
	IPAddress   string
	UserAgent   string
}

// ReviewInput is an administrator's decision on a pending request.
type ReviewInput struct {
	RequestID  int64
	Decision   models.ResetDecision
	ReviewerID string
	Reason     string
}

// ReviewResult carries the reviewed request and, for approvals, the log entry written.
type ReviewResult struct {
	Request  *models.ResetRequest
	LogEntry *models.PasswordChangeLog
}

// ResetRequestList is the administrator view of the queue.
type ResetRequestList struct {
	Filter       models.ResetRequestFilter
	Requests     []*models.ResetRequest
	PendingCount int64
}

// ResetService implements the two-phase password reset workflow: a
// secretary submits a new password, which locks the account until an
// administrator approves or rejects it.
type ResetService struct {
	accounts    AccountRepository
	repo        ResetRequestRepository
	notifier    ResetNotifier
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
}

// NewResetService creates a new ResetService
func NewResetService(accounts AccountRepository, repo ResetRequestRepository, notifier ResetNotifier, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *ResetService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &ResetService{
		accounts:    accounts,
		repo:        repo,
		notifier:    notifier,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// SetClock replaces the time source.
func (s *ResetService) SetClock(now func() time.Time) {
	s.now = now
}

// Submit files a pending reset request and locks the account until it is reviewed.
func (s *ResetService) Submit(ctx context.Context, in SubmitResetInput) (*models.ResetRequest, error) {
	identity := models.NormalizeIdentity(in.Identity)
	newPassword := strings.TrimSpace(in.NewPassword)

	account, err := s.accounts.GetByEmail(ctx, identity)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, s.declineSubmit(ctx, identity, "", in.IPAddress, models.ErrResetAccountNotFound)
		}
		return nil, s.internal(ctx, "failed to get account by email", err)
	}

	if account.Archived {
		return nil, s.declineSubmit(ctx, identity, account.ID, in.IPAddress, models.ErrResetAccountArchived)
	}
	if account.Role.IsAdmin() {
		return nil, s.declineSubmit(ctx, identity, account.ID, in.IPAddress, models.ErrAdminResetForbidden)
	}

	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		var verr *pkgauth.PasswordValidationError
		msg := err.Error()
		if errors.As(err, &verr) {
			msg = "Password " + verr.Reason
		}
		return nil, s.declineSubmit(ctx, identity, account.ID, in.IPAddress,
			models.NewDecline(models.ErrUnprocessable, "invalid_password", msg))
	}
	if pkgauth.PasswordMatches(account.PasswordHash, newPassword) {
		return nil, s.declineSubmit(ctx, identity, account.ID, in.IPAddress, models.ErrResetNoChange)
	}

	pending, err := s.repo.HasPending(ctx, account.ID)
	if err != nil {
		return nil, s.internal(ctx, "failed to check pending reset", err)
	}
	if pending {
		return nil, s.declineSubmit(ctx, identity, account.ID, in.IPAddress, models.ErrResetAlreadyPending)
	}

	hash, err := pkgauth.HashPassword(newPassword)
	if err != nil {
		return nil, s.internal(ctx, "failed to hash new password", err)
	}

	req, err := s.repo.CreatePending(ctx, &models.ResetRequest{
		AccountID:       account.ID,
		NewPasswordHash: hash,
		IPAddress:       optionalString(in.IPAddress),
		UserAgent:       optionalString(in.UserAgent),
		Status:          models.ResetStatusPending,
		RequestedAt:     s.now(),
	})
	if err != nil {
		var decline *models.DeclineError
		if errors.As(err, &decline) {
			return nil, s.declineSubmit(ctx, identity, account.ID, in.IPAddress, err)
		}
		return nil, s.internal(ctx, "failed to create reset request", err)
	}

	s.logger.InfoContext(ctx, "password reset requested",
		slog.Int64("request_id", req.ID),
		slog.String("account_id", account.ID))
	s.auditLogger.LogPasswordReset(ctx, pkglogger.AuditEvent{
		EventType: "reset_submitted",
		AccountID: account.ID,
		Identity:  identity,
		IPAddress: in.IPAddress,
		Success:   true,
		Metadata:  map[string]string{"request_id": strconv.FormatInt(req.ID, 10)},
	})

	if err := s.notifier.ResetRequested(ctx, req); err != nil {
		s.logger.WarnContext(ctx, "failed to notify administrators of reset request",
			slog.Int64("request_id", req.ID), slog.Any("error", err))
	}

	return req, nil
}

func (s *ResetService) declineSubmit(ctx context.Context, identity, accountID, ip string, err error) error {
	s.auditLogger.LogPasswordReset(ctx, pkglogger.AuditEvent{
		EventType:     "reset_submitted",
		AccountID:     accountID,
		Identity:      identity,
		IPAddress:     ip,
		FailureReason: models.ReasonOf(err),
	})
	return err
}

// Review applies an administrator decision to a pending request. Approval
// installs the submitted password, unlocks the account and appends a
// password change log entry. Rejection only unlocks the account.
func (s *ResetService) Review(ctx context.Context, in ReviewInput) (*ReviewResult, error) {
	if in.Decision != models.ResetDecisionApprove && in.Decision != models.ResetDecisionReject {
		return nil, models.ErrInvalidDecision
	}

	reviewer, err := s.accounts.GetByID(ctx, in.ReviewerID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrReviewerNotAdmin
		}
		return nil, s.internal(ctx, "failed to get reviewer", err)
	}
	if !reviewer.Role.IsAdmin() || reviewer.Archived {
		return nil, models.ErrReviewerNotAdmin
	}

	at := s.now()
	result := &ReviewResult{}

	switch in.Decision {
	case models.ResetDecisionApprove:
		result.Request, result.LogEntry, err = s.repo.Approve(ctx, in.RequestID, reviewer.ID, at)
	case models.ResetDecisionReject:
		reason := strings.TrimSpace(in.Reason)
		if reason == "" {
			reason = models.DefaultRejectionReason
		}
		result.Request, err = s.repo.Reject(ctx, in.RequestID, reviewer.ID, reason, at)
	}
	if err != nil {
		var decline *models.DeclineError
		if errors.As(err, &decline) {
			return nil, err
		}
		return nil, s.internal(ctx, "failed to review reset request", err)
	}

	s.logger.InfoContext(ctx, "password reset reviewed",
		slog.Int64("request_id", in.RequestID),
		slog.String("decision", string(in.Decision)),
		slog.String("reviewer_id", reviewer.ID))
	s.auditLogger.LogPasswordReset(ctx, pkglogger.AuditEvent{
		EventType: "reset_" + string(result.Request.Status),
		AccountID: result.Request.AccountID,
		Identity:  result.Request.AccountEmail,
		Success:   true,
		Metadata: map[string]string{
			"request_id":  strconv.FormatInt(in.RequestID, 10),
			"reviewer_id": reviewer.ID,
		},
	})

	if err := s.notifier.ResetReviewed(ctx, result.Request); err != nil {
		s.logger.WarnContext(ctx, "failed to notify requester of review",
			slog.Int64("request_id", in.RequestID), slog.Any("error", err))
	}

	return result, nil
}

// Get returns a single request.
func (s *ResetService) Get(ctx context.Context, id int64) (*models.ResetRequest, error) {
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrResetRequestNotFound
		}
		return nil, s.internal(ctx, "failed to get reset request", err)
	}
	return req, nil
}

// List returns the requests matching filter along with the pending count.
func (s *ResetService) List(ctx context.Context, filter models.ResetRequestFilter) (*ResetRequestList, error) {
	requests, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, s.internal(ctx, "failed to list reset requests", err)
	}
	pending, err := s.repo.CountPending(ctx)
	if err != nil {
		return nil, s.internal(ctx, "failed to count pending reset requests", err)
	}
	return &ResetRequestList{Filter: filter, Requests: requests, PendingCount: pending}, nil
}

// Delete removes a reviewed request.
func (s *ResetService) Delete(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrConflict) {
			return err
		}
		return s.internal(ctx, "failed to delete reset request", err)
	}
	s.logger.InfoContext(ctx, "reset request deleted", slog.Int64("request_id", id))
	return nil
}

func (s *ResetService) internal(ctx context.Context, msg string, err error) error {
	s.logger.ErrorContext(ctx, msg, slog.Any("error", err))
	return fmt.Errorf("%w: %v", models.ErrInternalServer, err)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
