package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mabini-abc/portal/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", models.ErrConflict), http.StatusConflict},
		{models.ErrResetAccountArchived, http.StatusForbidden},
		{models.ErrRateLimited, http.StatusTooManyRequests},
		{models.ErrResetNoChange, http.StatusUnprocessableEntity},
		{models.ErrBadRequest, http.StatusBadRequest},
		{models.ErrUnauthorized, http.StatusUnauthorized},
		{errors.New("anything else"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusForError(tt.err), tt.err.Error())
	}
}

func TestWriteServiceError_PlainSentinel(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	writeServiceError(w, r, NewTestLogger(), fmt.Errorf("lookup: %w", models.ErrNotFound))

	AssertErrorResponse(t, w, http.StatusNotFound, "not_found")
}

type stubHealth struct{ err error }

func (s stubHealth) HealthCheck(ctx context.Context) error { return s.err }

func TestHealth(t *testing.T) {
	w := httptest.NewRecorder()
	Health(stubHealth{}, NewTestLogger())(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)

	w = httptest.NewRecorder()
	Health(stubHealth{err: errors.New("down")}, NewTestLogger())(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	AssertErrorResponse(t, w, http.StatusServiceUnavailable, "unavailable")
}
