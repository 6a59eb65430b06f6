package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/trialmatch/protocol-engine/pkg/auth"
)

// setupTestLogger creates a test logger with an observer to capture log entries.
func setupTestLogger(t *testing.T) (*zap.Logger, *observer.ObservedLogs) {
	t.Helper()
	core, recorded := observer.New(zapcore.DebugLevel)
	return zap.New(core), recorded
}

func actorContext(subject string) context.Context {
	return auth.WithClaims(context.Background(), &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
	})
}

func TestDetectSQLInjection(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"", false},
		{"oncology", false},
		{"Phase 2 NSCLC", false},
		{"' OR '1'='1", true},
		{"'; DROP TABLE protocols--", true},
	}

	for _, tt := range tests {
		got, fingerprint := DetectSQLInjection(tt.value)
		assert.Equal(t, tt.want, got, "value %q", tt.value)
		if tt.want {
			assert.NotEmpty(t, fingerprint)
		}
	}
}

func TestLogInjectionAttempt(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	tests := []struct {
		name     string
		ctx      context.Context
		wantUser string
	}{
		{name: "with actor", ctx: actorContext("user-123"), wantUser: "user-123"},
		{name: "without actor", ctx: context.Background(), wantUser: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorded.TakeAll()

			auditor.LogInjectionAttempt(tt.ctx, InjectionDetails{
				Filter:      "search",
				Value:       "' OR 1=1 --" + strings.Repeat("x", 200),
				Fingerprint: "s&1c",
			})

			logs := recorded.All()
			require.Len(t, logs, 1)

			entry := logs[0]
			assert.Equal(t, zapcore.ErrorLevel, entry.Level)
			assert.Equal(t, "security_audit", entry.LoggerName)
			assert.Equal(t, "SQL injection attempt detected", entry.Message)

			fields := entry.ContextMap()
			assert.Equal(t, "search", fields["filter"])
			assert.Equal(t, "s&1c", fields["fingerprint"])
			assert.Equal(t, tt.wantUser, fields["user_id"])
			assert.Equal(t, "critical", fields["severity"])

			var event SecurityEvent
			require.NoError(t, json.Unmarshal([]byte(fields["event_json"].(string)), &event))
			assert.Equal(t, EventSQLInjectionAttempt, event.EventType)
			assert.Nil(t, event.ProtocolID)

			details, ok := event.Details.(map[string]any)
			require.True(t, ok)
			value := details["value"].(string)
			assert.True(t, strings.HasSuffix(value, "..."), "value should be truncated")
			assert.LessOrEqual(t, len(value), 103)
		})
	}
}

func TestLogAccessDenied(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)
	protocolID := uuid.New()

	auditor.LogAccessDenied(actorContext("user-456"), protocolID, "delete")

	logs := recorded.All()
	require.Len(t, logs, 1)
	assert.Equal(t, zapcore.WarnLevel, logs[0].Level)

	fields := logs[0].ContextMap()
	assert.Equal(t, protocolID.String(), fields["protocol_id"])
	assert.Equal(t, "delete", fields["operation"])
	assert.Equal(t, "user-456", fields["user_id"])

	var event SecurityEvent
	require.NoError(t, json.Unmarshal([]byte(fields["event_json"].(string)), &event))
	require.NotNil(t, event.ProtocolID)
	assert.Equal(t, protocolID, *event.ProtocolID)
	assert.Equal(t, EventAccessDenied, event.EventType)
}

func TestWithClientIP(t *testing.T) {
	var got string
	handler := WithClientIP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIPFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/protocols", nil)
	req.RemoteAddr = "10.1.2.3:54321"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "10.1.2.3", got)
	assert.Empty(t, ClientIPFromContext(context.Background()))
}
