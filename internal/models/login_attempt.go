package models

import "time"

// LoginAttemptState tracks consecutive failures for one identity.
// Rows are keyed by identity, not account, so unknown emails are tracked too.
type LoginAttemptState struct {
	Identity       string     `db:"identity"`
	FailedAttempts int        `db:"failed_attempts"`
	LockoutCount   int        `db:"lockout_count"`
	LockedUntil    *time.Time `db:"locked_until"`
	LastAttemptAt  time.Time  `db:"last_attempt_at"`
}

// LockStatus is the attempt tracker's view of an identity at a point in time.
type LockStatus struct {
	Locked      bool
	LockedUntil *time.Time
	// Triggered is set when the call that produced this status created the lock.
	Triggered bool
}

// Remaining returns how long the lock has left relative to now.
func (s LockStatus) Remaining(now time.Time) time.Duration {
	if !s.Locked || s.LockedUntil == nil {
		return 0
	}
	if d := s.LockedUntil.Sub(now); d > 0 {
		return d
	}
	return 0
}
