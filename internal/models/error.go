package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrRateLimited    = errors.New("rate limited")
	ErrUnprocessable  = errors.New("unprocessable request")
	ErrInternalServer = errors.New("internal server error")
)

// DeclineError is a recoverable refusal with a stable machine-readable reason.
// It unwraps to one of the taxonomy sentinels above.
type DeclineError struct {
	Kind    error
	Reason  string
	Message string
}

func (e *DeclineError) Error() string {
	return e.Reason + ": " + e.Message
}

func (e *DeclineError) Unwrap() error {
	return e.Kind
}

// NewDecline builds a DeclineError of the given kind.
func NewDecline(kind error, reason, message string) *DeclineError {
	return &DeclineError{Kind: kind, Reason: reason, Message: message}
}

// Password reset declines
var (
	ErrResetAccountNotFound = NewDecline(ErrNotFound, "not_found", "No account is registered with that email")
	ErrResetAccountArchived = NewDecline(ErrForbidden, "archived", "This account has been archived")
	ErrAdminResetForbidden  = NewDecline(ErrForbidden, "admin_reset_forbidden", "Administrator passwords cannot be changed through self-service reset")
	ErrResetNoChange        = NewDecline(ErrUnprocessable, "no_change", "The new password must differ from the current password")
	ErrResetAlreadyPending  = NewDecline(ErrConflict, "already_pending", "A password reset request is already pending administrator review")
	ErrResetRequestNotFound = NewDecline(ErrNotFound, "not_found", "Reset request not found")
	ErrResetAlreadyReviewed = NewDecline(ErrConflict, "already_reviewed", "This reset request has already been reviewed")
	ErrResetReviewRequired  = NewDecline(ErrConflict, "review_required", "Pending reset requests must be reviewed before they can be deleted")
	ErrReviewerNotAdmin     = NewDecline(ErrForbidden, "forbidden", "Only administrators can review password reset requests")
	ErrInvalidDecision      = NewDecline(ErrUnprocessable, "invalid_decision", `Decision must be "approve" or "reject"`)
)

// Audit log declines
var (
	ErrLogEntryNotFound = NewDecline(ErrNotFound, "not_found", "Password change notification not found")
)

// ReasonOf extracts the decline reason code, or "" for other errors.
func ReasonOf(err error) string {
	var d *DeclineError
	if errors.As(err, &d) {
		return d.Reason
	}
	return ""
}
