package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mabini-abc/portal/internal/models"
)

const (
	changeFeedWindow = 30 * 24 * time.Hour
	changeFeedLimit  = 50
	unreadWindow     = 24 * time.Hour
)

// PasswordChangeLogRepository defines the read and housekeeping operations on the change log.
// Entries are appended by ResetRequestRepository.Approve.
type PasswordChangeLogRepository interface {
	ListSince(ctx context.Context, since time.Time, limit int) ([]*models.PasswordChangeLog, error)
	CountSince(ctx context.Context, since time.Time) (int64, error)
	Delete(ctx context.Context, id int64) error
	DeleteAll(ctx context.Context) (int64, error)
}

// PasswordChangeNotice is a log entry as shown in the administrator feed.
type PasswordChangeNotice struct {
	*models.PasswordChangeLog
	Freshness string
}

// PasswordChangeFeed is the recent slice of the change log.
type PasswordChangeFeed struct {
	Notices     []PasswordChangeNotice
	UnreadCount int64
}

// AuditService exposes the password change log to administrators
type AuditService struct {
	repo   PasswordChangeLogRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewAuditService creates a new AuditService
func NewAuditService(repo PasswordChangeLogRepository, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock replaces the time source.
func (s *AuditService) SetClock(now func() time.Time) {
	s.now = now
}

// ListRecent returns up to 50 entries from the last 30 days, newest first.
// UnreadCount covers the last 24 hours.
func (s *AuditService) ListRecent(ctx context.Context) (*PasswordChangeFeed, error) {
	now := s.now()

	entries, err := s.repo.ListSince(ctx, now.Add(-changeFeedWindow), changeFeedLimit)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list password changes", slog.Any("error", err))
		return nil, fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}

	unread, err := s.repo.CountSince(ctx, now.Add(-unreadWindow))
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to count recent password changes", slog.Any("error", err))
		return nil, fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}

	feed := &PasswordChangeFeed{
		Notices:     make([]PasswordChangeNotice, 0, len(entries)),
		UnreadCount: unread,
	}
	for _, e := range entries {
		feed.Notices = append(feed.Notices, PasswordChangeNotice{PasswordChangeLog: e, Freshness: e.Freshness(now)})
	}
	return feed, nil
}

// Delete removes one entry.
func (s *AuditService) Delete(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrLogEntryNotFound
		}
		s.logger.ErrorContext(ctx, "failed to delete password change log", slog.Any("error", err))
		return fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}
	s.logger.InfoContext(ctx, "password change log entry deleted", slog.Int64("log_id", id))
	return nil
}

// Clear removes every entry and returns how many were deleted.
func (s *AuditService) Clear(ctx context.Context) (int64, error) {
	removed, err := s.repo.DeleteAll(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to clear password change log", slog.Any("error", err))
		return 0, fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}
	s.logger.InfoContext(ctx, "password change log cleared", slog.Int64("removed", removed))
	return removed, nil
}
