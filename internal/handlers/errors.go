package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mabini-abc/portal/internal/models"
	pkghttp "github.com/mabini-abc/portal/pkg/http"
)

// statusForError maps the error taxonomy onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, models.ErrUnprocessable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError renders a service error. Declines carry their own reason
// code and message; anything else is logged and reported as internal.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var decline *models.DeclineError
	if errors.As(err, &decline) {
		pkghttp.WriteError(w, statusForError(err), decline.Reason, decline.Message)
		return
	}

	status := statusForError(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path), slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}
	pkghttp.WriteError(w, status, reasonForStatus[status], err.Error())
}

var reasonForStatus = map[int]string{
	http.StatusNotFound:            "not_found",
	http.StatusConflict:            "conflict",
	http.StatusForbidden:           "forbidden",
	http.StatusTooManyRequests:     "rate_limited",
	http.StatusUnprocessableEntity: "unprocessable",
	http.StatusBadRequest:          "bad_request",
	http.StatusUnauthorized:        "unauthorized",
}

// statusForDenial maps a login deny reason onto an HTTP status code.
func statusForDenial(reason models.DenyReason) int {
	switch reason {
	case models.DenyAttemptLock:
		return http.StatusTooManyRequests
	case models.DenyArchived, models.DenyResetPendingLock:
		return http.StatusForbidden
	default:
		return http.StatusUnauthorized
	}
}

// writeDenial renders a refused login. The remaining lockout is computed at
// response time.
func writeDenial(w http.ResponseWriter, result *models.AuthResult, now time.Time) {
	msg := result.Message(now)
	if result.Reason == models.DenyAttemptLock {
		pkghttp.WriteRetryAfter(w, string(result.Reason), msg, result.RetryAfter(now))
		return
	}
	pkghttp.WriteError(w, statusForDenial(result.Reason), string(result.Reason), msg)
}
