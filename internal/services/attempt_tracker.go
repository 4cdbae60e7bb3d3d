package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/mabini-abc/portal/internal/models"
)

// maxBackoffShift bounds the lockout doubling; 30s << 20 is roughly a year.
const maxBackoffShift = 20

// maxLockout is the saturation point for bases too large to double safely.
const maxLockout = time.Duration(math.MaxInt64)

// AttemptStore is the row-locked persistence contract of the tracker.
// Mutate must run fn and write its result atomically with respect to other
// Mutate calls for the same identity.
type AttemptStore interface {
	Mutate(ctx context.Context, identity string, create bool, fn func(state *models.LoginAttemptState) (*models.LoginAttemptState, error)) error
	DeleteIdle(ctx context.Context, before time.Time) (int64, error)
}

// AttemptPolicy holds the lockout threshold and base backoff.
type AttemptPolicy struct {
	MaxFailedAttempts int
	BaseLockout       time.Duration
}

// DefaultAttemptPolicy is five failures and a 30 second first lockout.
func DefaultAttemptPolicy() AttemptPolicy {
	return AttemptPolicy{MaxFailedAttempts: 5, BaseLockout: 30 * time.Second}
}

// AttemptTracker counts consecutive login failures per identity and imposes
// exponentially growing lockouts. Escalation survives lock expiry and is
// only reset by a successful login.
type AttemptTracker struct {
	store  AttemptStore
	policy AttemptPolicy
	logger *slog.Logger
	now    func() time.Time
}

// NewAttemptTracker creates a new AttemptTracker
func NewAttemptTracker(store AttemptStore, policy AttemptPolicy, logger *slog.Logger) *AttemptTracker {
	return &AttemptTracker{
		store:  store,
		policy: policy,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock replaces the time source.
func (t *AttemptTracker) SetClock(now func() time.Time) {
	t.now = now
}

// LockoutDuration returns the lock length for the given escalation level
// (1-based). It never decreases as the level rises and saturates at
// maxLockout instead of overflowing.
func (t *AttemptTracker) LockoutDuration(lockoutCount int) time.Duration {
	shift := lockoutCount - 1
	if shift < 0 {
		shift = 0
	}
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	if t.policy.BaseLockout > maxLockout>>uint(shift) {
		return maxLockout
	}
	return t.policy.BaseLockout << uint(shift)
}

// CheckLock reports whether identity is currently locked. A lock whose
// expiry has passed is cleared; repeating the call is harmless.
func (t *AttemptTracker) CheckLock(ctx context.Context, identity string) (models.LockStatus, error) {
	var status models.LockStatus

	err := t.store.Mutate(ctx, identity, false, func(state *models.LoginAttemptState) (*models.LoginAttemptState, error) {
		if state == nil || state.LockedUntil == nil {
			return nil, nil
		}

		if until := *state.LockedUntil; until.After(t.now()) {
			status = models.LockStatus{Locked: true, LockedUntil: &until}
			return nil, nil
		}

		next := *state
		next.LockedUntil = nil
		return &next, nil
	})
	if err != nil {
		return models.LockStatus{}, fmt.Errorf("check lock: %w", err)
	}
	return status, nil
}

// RecordFailure counts a failed attempt. Reaching the threshold starts a
// lockout, raises the escalation level and resets the counter; the returned
// status then has Triggered set.
func (t *AttemptTracker) RecordFailure(ctx context.Context, identity string) (models.LockStatus, error) {
	var status models.LockStatus

	err := t.store.Mutate(ctx, identity, true, func(state *models.LoginAttemptState) (*models.LoginAttemptState, error) {
		now := t.now()
		next := models.LoginAttemptState{Identity: identity}
		if state != nil {
			next = *state
		}
		next.LastAttemptAt = now

		// A concurrent attempt that passed CheckLock before the lock was set.
		if next.LockedUntil != nil && next.LockedUntil.After(now) {
			until := *next.LockedUntil
			status = models.LockStatus{Locked: true, LockedUntil: &until}
			return &next, nil
		}
		next.LockedUntil = nil

		next.FailedAttempts++
		if next.FailedAttempts >= t.policy.MaxFailedAttempts {
			next.LockoutCount++
			next.FailedAttempts = 0
			until := now.Add(t.LockoutDuration(next.LockoutCount))
			next.LockedUntil = &until
			status = models.LockStatus{Locked: true, LockedUntil: &until, Triggered: true}
		}
		return &next, nil
	})
	if err != nil {
		return models.LockStatus{}, fmt.Errorf("record failure: %w", err)
	}

	if status.Triggered {
		t.logger.WarnContext(ctx, "login lockout started",
			slog.Time("locked_until", *status.LockedUntil))
	}
	return status, nil
}

// RecordSuccess clears the failure counter, the escalation level and any lock.
func (t *AttemptTracker) RecordSuccess(ctx context.Context, identity string) error {
	err := t.store.Mutate(ctx, identity, false, func(state *models.LoginAttemptState) (*models.LoginAttemptState, error) {
		if state == nil {
			return nil, nil
		}
		return &models.LoginAttemptState{
			Identity:      state.Identity,
			LastAttemptAt: t.now(),
		}, nil
	})
	if err != nil {
		return fmt.Errorf("record success: %w", err)
	}
	return nil
}

// PruneIdle removes tracker rows without history that have been idle for
// longer than retention.
func (t *AttemptTracker) PruneIdle(ctx context.Context, retention time.Duration) (int64, error) {
	removed, err := t.store.DeleteIdle(ctx, t.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("prune attempt states: %w", err)
	}
	return removed, nil
}
