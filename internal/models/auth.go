package models

import (
	"fmt"
	"math"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DenyReason is the stable code attached to a refused login or session.
type DenyReason string

const (
	DenyNone             DenyReason = ""
	DenyNotRegistered    DenyReason = "not_registered"
	DenyArchived         DenyReason = "archived"
	DenyResetPendingLock DenyReason = "reset_pending_lock"
	DenyAttemptLock      DenyReason = "attempt_lock"
	DenyBadCredentials   DenyReason = "bad_credentials"
)

// AuthResult is the outcome of a login: either an account or a deny reason.
type AuthResult struct {
	Account     *Account
	Reason      DenyReason
	LockedUntil *time.Time // set for DenyAttemptLock
}

// Allowed reports whether authentication succeeded.
func (r *AuthResult) Allowed() bool {
	return r.Reason == DenyNone && r.Account != nil
}

// RetryAfter is the remaining attempt lock at now, rounded up to whole seconds.
func (r *AuthResult) RetryAfter(now time.Time) time.Duration {
	if r.Reason != DenyAttemptLock || r.LockedUntil == nil {
		return 0
	}
	d := r.LockedUntil.Sub(now)
	if d <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(d.Seconds())) * time.Second
}

// Message renders the human-readable explanation for a denial.
func (r *AuthResult) Message(now time.Time) string {
	switch r.Reason {
	case DenyNone:
		return "Login successful"
	case DenyNotRegistered:
		return "Email is not registered"
	case DenyArchived:
		return "This account has been archived. Contact the administrator."
	case DenyResetPendingLock:
		return "This account is locked while a password reset request awaits administrator approval"
	case DenyAttemptLock:
		return fmt.Sprintf("Too many failed login attempts. Try again in %d seconds.", int64(r.RetryAfter(now)/time.Second))
	case DenyBadCredentials:
		return "Invalid email or password"
	default:
		return "Authentication failed"
	}
}

// AccountUsability answers whether an identity may currently hold a session.
type AccountUsability struct {
	Usable  bool
	Reason  DenyReason
	Account *Account
}

// SessionClaims are carried by the signed session credential.
type SessionClaims struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	jwt.RegisteredClaims
}
