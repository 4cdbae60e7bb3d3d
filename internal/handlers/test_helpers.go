package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mabini-abc/portal/internal/auth"
	"github.com/mabini-abc/portal/internal/models"
	"github.com/mabini-abc/portal/internal/services"
	pkghttp "github.com/mabini-abc/portal/pkg/http"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAccountContext attaches account to the request as the session middleware would
func WithAccountContext(req *http.Request, account *models.Account) *http.Request {
	return req.WithContext(auth.WithAccount(req.Context(), account))
}

// WithChiRouteContext adds chi URL parameters to request context for testing
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// NewTestLogger returns a logger that discards output
func NewTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc         func(ctx context.Context, identity, secret string) (*models.AuthResult, error)
	TouchActivityFunc func(ctx context.Context, accountID string) error
}

func (m *MockAuthService) Login(ctx context.Context, identity, secret string) (*models.AuthResult, error) {
	if m.LoginFunc == nil {
		return &models.AuthResult{Reason: models.DenyBadCredentials}, nil
	}
	return m.LoginFunc(ctx, identity, secret)
}

func (m *MockAuthService) TouchActivity(ctx context.Context, accountID string) error {
	if m.TouchActivityFunc == nil {
		return nil
	}
	return m.TouchActivityFunc(ctx, accountID)
}

// MockSessionIssuer implements SessionIssuer for testing
type MockSessionIssuer struct {
	IssueFunc func(account *models.Account) (string, time.Time, error)
}

func (m *MockSessionIssuer) Issue(account *models.Account) (string, time.Time, error) {
	if m.IssueFunc == nil {
		return "session-token", time.Now().Add(time.Hour), nil
	}
	return m.IssueFunc(account)
}

// MockResetService implements ResetServiceInterface for testing
type MockResetService struct {
	SubmitFunc func(ctx context.Context, in services.SubmitResetInput) (*models.ResetRequest, error)
	ReviewFunc func(ctx context.Context, in services.ReviewInput) (*services.ReviewResult, error)
	ListFunc   func(ctx context.Context, filter models.ResetRequestFilter) (*services.ResetRequestList, error)
	DeleteFunc func(ctx context.Context, id int64) error
}

func (m *MockResetService) Submit(ctx context.Context, in services.SubmitResetInput) (*models.ResetRequest, error) {
	if m.SubmitFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.SubmitFunc(ctx, in)
}

func (m *MockResetService) Review(ctx context.Context, in services.ReviewInput) (*services.ReviewResult, error) {
	if m.ReviewFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.ReviewFunc(ctx, in)
}

func (m *MockResetService) List(ctx context.Context, filter models.ResetRequestFilter) (*services.ResetRequestList, error) {
	if m.ListFunc == nil {
		return &services.ResetRequestList{Filter: filter}, nil
	}
	return m.ListFunc(ctx, filter)
}

func (m *MockResetService) Delete(ctx context.Context, id int64) error {
	if m.DeleteFunc == nil {
		return nil
	}
	return m.DeleteFunc(ctx, id)
}

// MockAuditService implements AuditServiceInterface for testing
type MockAuditService struct {
	ListRecentFunc func(ctx context.Context) (*services.PasswordChangeFeed, error)
	DeleteFunc     func(ctx context.Context, id int64) error
	ClearFunc      func(ctx context.Context) (int64, error)
}

func (m *MockAuditService) ListRecent(ctx context.Context) (*services.PasswordChangeFeed, error) {
	if m.ListRecentFunc == nil {
		return &services.PasswordChangeFeed{}, nil
	}
	return m.ListRecentFunc(ctx)
}

func (m *MockAuditService) Delete(ctx context.Context, id int64) error {
	if m.DeleteFunc == nil {
		return nil
	}
	return m.DeleteFunc(ctx, id)
}

func (m *MockAuditService) Clear(ctx context.Context) (int64, error) {
	if m.ClearFunc == nil {
		return 0, nil
	}
	return m.ClearFunc(ctx)
}
