package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecurityLogger_LogEvent(t *testing.T) {
	var buf bytes.Buffer
	sl := NewSecurityLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	sl.LogEvent(context.Background(), "account_locked", "failed_login:alice@example.com", at,
		map[string]interface{}{"attempts": 5, "reason": "multiple_failed_logins"}, true)

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, "security_event", record["msg"])
	assert.Equal(t, "account_locked", record["event_type"])
	assert.Equal(t, "failed_login:a****@*******.com", record["subject"])
	assert.Equal(t, "2024-03-01T09:00:00Z", record["timestamp"])

	details, ok := record["details"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(5), details["attempts"])
}

func TestSecurityLogger_NonAlertingIsInfo(t *testing.T) {
	var buf bytes.Buffer
	sl := NewSecurityLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	sl.LogEvent(context.Background(), "ip_unblocked", "10.0.0.1", time.Now(), nil, false)

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "INFO", record["level"])
	assert.NotContains(t, record, "details")
}
