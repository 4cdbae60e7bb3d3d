package models

import "time"

// ResetStatus is the lifecycle state of a password reset request.
type ResetStatus string

const (
	ResetStatusPending  ResetStatus = "pending"
	ResetStatusApproved ResetStatus = "approved"
	ResetStatusRejected ResetStatus = "rejected"
)

// ResetDecision is the reviewing administrator's verdict.
type ResetDecision string

const (
	ResetDecisionApprove ResetDecision = "approve"
	ResetDecisionReject  ResetDecision = "reject"
)

// DefaultRejectionReason is recorded when an administrator rejects without a reason.
const DefaultRejectionReason = "Request rejected by admin"

// ResetRequest is one self-service password change awaiting or past review.
type ResetRequest struct {
	ID              int64
	AccountID       string
	AccountEmail    string
	AccountRole     Role
	AccountBarangay string
	NewPasswordHash string
	IPAddress       *string
	UserAgent       *string
	Status          ResetStatus
	RequestedAt     time.Time
	ReviewedAt      *time.Time
	ReviewedBy      *string
	ReviewedByEmail *string
	RejectionReason *string
}

// IsTerminal reports whether the request has left the pending state.
func (r *ResetRequest) IsTerminal() bool {
	return r.Status != ResetStatusPending
}

// ResetRequestFilter selects requests by status; "all" disables the filter.
type ResetRequestFilter string

const (
	ResetFilterPending  ResetRequestFilter = "pending"
	ResetFilterApproved ResetRequestFilter = "approved"
	ResetFilterRejected ResetRequestFilter = "rejected"
	ResetFilterAll      ResetRequestFilter = "all"
)

// ParseResetFilter falls back to pending for unknown values.
func ParseResetFilter(s string) ResetRequestFilter {
	switch ResetRequestFilter(s) {
	case ResetFilterPending, ResetFilterApproved, ResetFilterRejected, ResetFilterAll:
		return ResetRequestFilter(s)
	default:
		return ResetFilterPending
	}
}
