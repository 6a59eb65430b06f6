// Package audit provides security audit logging for SIEM consumption.
// It logs security-relevant events in structured JSON format for easy parsing
// and integration with security information and event management systems.
package audit

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/corazawaf/libinjection-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trialmatch/protocol-engine/pkg/auth"
	"github.com/trialmatch/protocol-engine/pkg/logging"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection flags a filter value.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventAccessDenied is logged when an actor is refused an operation on a protocol.
	EventAccessDenied SecurityEventType = "access_denied"
)

// SecurityEvent represents an auditable security event with all relevant context
// for SIEM ingestion and analysis.
type SecurityEvent struct {
	Timestamp  time.Time         `json:"timestamp"`
	EventType  SecurityEventType `json:"event_type"`
	ProtocolID *uuid.UUID        `json:"protocol_id,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	ClientIP   string            `json:"client_ip,omitempty"`
	Details    any               `json:"details"`
	Severity   string            `json:"severity"` // info, warning, critical
}

// InjectionDetails contains specifics of a flagged filter value.
type InjectionDetails struct {
	Filter      string `json:"filter"`
	Value       string `json:"value"`
	Fingerprint string `json:"fingerprint"` // libinjection fingerprint for pattern analysis
}

// DetectSQLInjection runs libinjection over value. It returns the fingerprint
// when the value looks like SQL injection.
func DetectSQLInjection(value string) (bool, string) {
	if value == "" {
		return false, ""
	}
	return libinjection.IsSQLi(value)
}

// SecurityAuditor logs security events for SIEM consumption.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates a new security auditor under the "security_audit"
// logger namespace.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// LogInjectionAttempt records a flagged filter value at ERROR level with
// "critical" severity. The value is truncated before logging.
func (a *SecurityAuditor) LogInjectionAttempt(ctx context.Context, details InjectionDetails) {
	details.Value = logging.TruncateString(details.Value, logging.MaxFilterLogLength)
	event := a.newEvent(ctx, EventSQLInjectionAttempt, nil, details, "critical")

	a.logger.Error("SQL injection attempt detected",
		zap.String("event_json", marshalEvent(event)),
		zap.String("filter", details.Filter),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("client_ip", event.ClientIP),
		zap.String("user_id", event.UserID),
		zap.String("severity", event.Severity),
	)
}

// LogAccessDenied records a refused read, update or delete at WARN level.
func (a *SecurityAuditor) LogAccessDenied(ctx context.Context, protocolID uuid.UUID, operation string) {
	event := a.newEvent(ctx, EventAccessDenied, &protocolID, map[string]string{"operation": operation}, "warning")

	a.logger.Warn("Protocol access denied",
		zap.String("event_json", marshalEvent(event)),
		zap.String("protocol_id", protocolID.String()),
		zap.String("operation", operation),
		zap.String("client_ip", event.ClientIP),
		zap.String("user_id", event.UserID),
		zap.String("severity", event.Severity),
	)
}

func (a *SecurityAuditor) newEvent(ctx context.Context, typ SecurityEventType, protocolID *uuid.UUID, details any, severity string) SecurityEvent {
	var userID string
	if claims, ok := auth.GetClaims(ctx); ok {
		userID = claims.Subject
	}
	return SecurityEvent{
		Timestamp:  time.Now().UTC(),
		EventType:  typ,
		ProtocolID: protocolID,
		UserID:     userID,
		ClientIP:   ClientIPFromContext(ctx),
		Details:    details,
		Severity:   severity,
	}
}

// marshalEvent serializes an event; marshaling these known types cannot fail.
func marshalEvent(event SecurityEvent) string {
	b, _ := json.Marshal(event)
	return string(b)
}

type clientIPKey struct{}

// ClientIPFromContext returns the client address stored by WithClientIP.
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

// WithClientIP records the request's remote host in the context so events
// raised deeper in the call stack can carry it.
func WithClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			ip = host
		}
		ctx := context.WithValue(r.Context(), clientIPKey{}, ip)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
