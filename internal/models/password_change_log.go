package models

import "time"

// PasswordChangeLog is the immutable audit record of an approved reset.
type PasswordChangeLog struct {
	ID              int64
	AccountID       string
	AccountEmail    string
	AccountRole     Role
	AccountBarangay string
	ResetRequestID  *int64
	IPAddress       *string
	UserAgent       *string
	ChangedAt       time.Time
}

// Freshness buckets used by the administrator notification feed.
const (
	LogFreshnessNew    = "new"
	LogFreshnessRecent = "recent"
	LogFreshnessOld    = "old"
)

// Freshness classifies the entry relative to now: new within a day,
// recent within a week, old otherwise.
func (l *PasswordChangeLog) Freshness(now time.Time) string {
	age := now.Sub(l.ChangedAt)
	switch {
	case age < 24*time.Hour:
		return LogFreshnessNew
	case age < 7*24*time.Hour:
		return LogFreshnessRecent
	default:
		return LogFreshnessOld
	}
}
