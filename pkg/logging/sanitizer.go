package logging

import (
	"regexp"
)

// RedactedText is the replacement text for sensitive data.
const RedactedText = "[REDACTED]"

// MaxFilterLogLength bounds user-supplied filter text written to logs.
const MaxFilterLogLength = 100

type redaction struct {
	pattern     *regexp.Regexp
	replacement string
}

var (
	// password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordRedaction = redaction{regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`), "${1}=" + RedactedText}

	// user:pass@host in URLs
	userInfoRedaction = redaction{regexp.MustCompile(`://[^:/\s]+:[^@\s]+@`), "://" + RedactedText + "@"}

	bearerRedaction = redaction{regexp.MustCompile(`Bearer\s+[A-Za-z0-9-_]+\.[A-Za-z0-9-_]+\.[A-Za-z0-9-_]*`), "Bearer " + RedactedText}

	// Connection strings
	connStringRedactions = []redaction{passwordRedaction, userInfoRedaction}

	// Error text may carry any of the above
	errorRedactions = []redaction{passwordRedaction, bearerRedaction, userInfoRedaction}
)

func redact(s string, rules []redaction) string {
	for _, r := range rules {
		s = r.pattern.ReplaceAllString(s, r.replacement)
	}
	return s
}

// SanitizeConnectionString removes credentials from a DSN or postgres:// URL.
// Use this before logging any connection string.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	return redact(connStr, connStringRedactions)
}

// SanitizeError returns err's message with credentials and bearer tokens
// removed. Use this before logging errors from the database driver or auth.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return redact(err.Error(), errorRedactions)
}

// TruncateString truncates a string to maxLen bytes and adds an ellipsis if needed.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
