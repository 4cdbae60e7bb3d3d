package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mabini-abc/portal/internal/models"
	pkgauth "github.com/mabini-abc/portal/pkg/auth"
	pkglogger "github.com/mabini-abc/portal/pkg/logger"
)

// AccountRepository defines the credential store operations the services need
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	TouchActivity(ctx context.Context, id string, at time.Time) error
}

// LoginAttemptTracker defines the brute-force lockout operations used by Login
type LoginAttemptTracker interface {
	CheckLock(ctx context.Context, identity string) (models.LockStatus, error)
	RecordFailure(ctx context.Context, identity string) (models.LockStatus, error)
	RecordSuccess(ctx context.Context, identity string) error
}

// AuthService handles authentication business logic
type AuthService struct {
	accounts    AccountRepository
	tracker     LoginAttemptTracker
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
}

// NewAuthService creates a new AuthService
func NewAuthService(accounts AccountRepository, tracker LoginAttemptTracker, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *AuthService {
	return &AuthService{
		accounts:    accounts,
		tracker:     tracker,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// SetClock replaces the time source.
func (s *AuthService) SetClock(now func() time.Time) {
	s.now = now
}

// Login decides whether identity may sign in with secret. Declines are
// reported through AuthResult.Reason; the error return is reserved for
// storage failures.
//
// Checks run in order: attempt lock, registration, archival, reset lock,
// then the password itself. Only a wrong password counts as a failed
// attempt.
func (s *AuthService) Login(ctx context.Context, identity, secret string) (*models.AuthResult, error) {
	identity = models.NormalizeIdentity(identity)

	lock, err := s.tracker.CheckLock(ctx, identity)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to check login lock", slog.Any("error", err))
		return nil, fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}
	if lock.Locked {
		return s.deny(ctx, identity, nil, &models.AuthResult{Reason: models.DenyAttemptLock, LockedUntil: lock.LockedUntil}), nil
	}

	account, err := s.accounts.GetByEmail(ctx, identity)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return s.deny(ctx, identity, nil, &models.AuthResult{Reason: models.DenyNotRegistered}), nil
		}
		s.logger.ErrorContext(ctx, "failed to get account by email", slog.Any("error", err))
		return nil, fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}

	if account.Archived {
		return s.deny(ctx, identity, account, &models.AuthResult{Reason: models.DenyArchived}), nil
	}
	if account.Locked {
		return s.deny(ctx, identity, account, &models.AuthResult{Reason: models.DenyResetPendingLock}), nil
	}

	if err := pkgauth.ComparePassword(account.PasswordHash, secret); err != nil {
		if !errors.Is(err, pkgauth.ErrPasswordMismatch) {
			s.logger.ErrorContext(ctx, "stored verifier is malformed",
				slog.String("account_id", account.ID), slog.Any("error", err))
		}

		status, err := s.tracker.RecordFailure(ctx, identity)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to record login failure", slog.Any("error", err))
			return nil, fmt.Errorf("%w: %v", models.ErrInternalServer, err)
		}
		if status.Locked {
			return s.deny(ctx, identity, account, &models.AuthResult{Reason: models.DenyAttemptLock, LockedUntil: status.LockedUntil}), nil
		}
		return s.deny(ctx, identity, account, &models.AuthResult{Reason: models.DenyBadCredentials}), nil
	}

	if err := s.tracker.RecordSuccess(ctx, identity); err != nil {
		s.logger.ErrorContext(ctx, "failed to reset login attempts", slog.Any("error", err))
		return nil, fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}

	if err := s.accounts.TouchActivity(ctx, account.ID, s.now()); err != nil {
		// The login itself already succeeded.
		s.logger.WarnContext(ctx, "failed to record account activity",
			slog.String("account_id", account.ID), slog.Any("error", err))
	}

	s.logger.InfoContext(ctx, "account logged in", slog.String("account_id", account.ID))
	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType: "login_success",
		AccountID: account.ID,
		Identity:  identity,
		Success:   true,
	})

	return &models.AuthResult{Account: account}, nil
}

func (s *AuthService) deny(ctx context.Context, identity string, account *models.Account, result *models.AuthResult) *models.AuthResult {
	event := pkglogger.AuditEvent{
		EventType:     "login_failed",
		Identity:      identity,
		FailureReason: string(result.Reason),
	}
	if account != nil {
		event.AccountID = account.ID
	}
	s.auditLogger.LogAuthAttempt(ctx, event)
	return result
}

// IsAccountUsable reports whether identity may currently hold a session.
// It is consulted on every authenticated request so that archival or a
// pending reset takes effect immediately.
func (s *AuthService) IsAccountUsable(ctx context.Context, identity string) (*models.AccountUsability, error) {
	account, err := s.accounts.GetByEmail(ctx, models.NormalizeIdentity(identity))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return &models.AccountUsability{Reason: models.DenyNotRegistered}, nil
		}
		return nil, fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}
	return usabilityOf(account), nil
}

// IsAccountUsableByID is IsAccountUsable keyed by account id, as carried by a session.
func (s *AuthService) IsAccountUsableByID(ctx context.Context, accountID string) (*models.AccountUsability, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return &models.AccountUsability{Reason: models.DenyNotRegistered}, nil
		}
		return nil, fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}
	return usabilityOf(account), nil
}

func usabilityOf(account *models.Account) *models.AccountUsability {
	switch {
	case account.Archived:
		return &models.AccountUsability{Reason: models.DenyArchived, Account: account}
	case account.Locked:
		return &models.AccountUsability{Reason: models.DenyResetPendingLock, Account: account}
	default:
		return &models.AccountUsability{Usable: true, Account: account}
	}
}

// TouchActivity records that the account is still active.
func (s *AuthService) TouchActivity(ctx context.Context, accountID string) error {
	if err := s.accounts.TouchActivity(ctx, accountID, s.now()); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}
	return nil
}
