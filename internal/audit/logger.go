// Package audit provides structured audit logging for dispatched requests.
package audit

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	bearerTokenPattern = regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9\-._~+/]+=*`)
	keyValuePattern    = regexp.MustCompile(`(?i)\b(token|secret|password|authorization)\s*[:=]\s*([^\s,;]+)`)
)

// Decision values recorded per dispatch.
const (
	DecisionAllowed         = "allowed"
	DecisionConsentRequired = "consent-required"
	DecisionDenied          = "denied"
	DecisionError           = "error"
)

// Completion captures one finalized dispatch outcome.
type Completion struct {
	RequestID   string
	UserID      string
	Domain      string
	Action      string
	Decision    string
	ErrorKind   string
	ErrorDetail string
	Degraded    bool
	Duration    time.Duration
}

// Logger emits structured audit entries.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates an audit logger.
func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// Complete writes a single entry for one finished dispatch.
func (l *Logger) Complete(event Completion) {
	if l == nil {
		return
	}

	decision := strings.TrimSpace(event.Decision)
	if decision == "" {
		decision = DecisionError
	}
	duration := event.Duration
	if duration < 0 {
		duration = 0
	}

	entry := l.logger.Info().
		Str("event", "gateway.dispatch.completed").
		Str("request_id", strings.TrimSpace(event.RequestID)).
		Str("user_id", strings.TrimSpace(event.UserID)).
		Str("domain", strings.TrimSpace(event.Domain)).
		Str("action", strings.TrimSpace(event.Action)).
		Str("decision", decision).
		Bool("degraded", event.Degraded).
		Int64("duration_ms", duration.Milliseconds())

	if kind := strings.TrimSpace(event.ErrorKind); kind != "" {
		entry = entry.Str("error_kind", kind)
	}
	if detail := RedactSensitiveText(event.ErrorDetail); detail != "" {
		entry = entry.Str("error_detail", detail)
	}

	entry.Msg("dispatch completed")
}

// RedactSensitiveText removes obvious secrets from free-text error details.
func RedactSensitiveText(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	redacted := bearerTokenPattern.ReplaceAllString(trimmed, "Bearer [REDACTED]")
	redacted = keyValuePattern.ReplaceAllStringFunc(redacted, func(match string) string {
		parts := strings.SplitN(match, ":", 2)
		if len(parts) == 2 {
			return fmt.Sprintf("%s: [REDACTED]", strings.TrimSpace(parts[0]))
		}
		parts = strings.SplitN(match, "=", 2)
		if len(parts) == 2 {
			return fmt.Sprintf("%s=[REDACTED]", strings.TrimSpace(parts[0]))
		}
		return "[REDACTED]"
	})
	return redacted
}
