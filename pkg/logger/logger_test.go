package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizedEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"secretary@mabini.gov.ph", "s********@******.***.ph"},
		{"a@x.com", "a@*.com"},
		{"no-at-sign", "[invalid-email]"},
		{"two@at@signs.com", "[invalid-email]"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizedEmail(tt.in), tt.in)
	}
}

func TestSanitizeQueryString(t *testing.T) {
	assert.True(t, SanitizeQueryString("session=abc"))
	assert.True(t, SanitizeQueryString("Email=x@y.z"))
	assert.False(t, SanitizeQueryString("status=pending"))
	assert.False(t, SanitizeQueryString(""))
}

func TestAuditLogger_MasksIdentityAndSetsLevel(t *testing.T) {
	var buf bytes.Buffer
	al := NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	al.LogAuthAttempt(context.Background(), AuditEvent{
		EventType:     "login_failed",
		Identity:      "secretary@mabini.gov",
		FailureReason: "bad_credentials",
	})

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, "auth", record["audit_type"])
	assert.Equal(t, "s********@******.gov", record["identity"])
	assert.Equal(t, "bad_credentials", record["failure_reason"])
}

func TestAuditLogger_PasswordResetSuccessIsInfo(t *testing.T) {
	var buf bytes.Buffer
	al := NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	al.LogPasswordReset(context.Background(), AuditEvent{
		EventType: "reset_approved",
		AccountID: "acc-1",
		Success:   true,
		Metadata:  map[string]string{"request_id": "7"},
	})

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "INFO", record["level"])
	assert.Equal(t, "password_reset", record["audit_type"])
	assert.Equal(t, "7", record["request_id"])
	assert.Equal(t, "acc-1", record["account_id"])
}
