// Package apperr defines the closed error taxonomy returned by the gateway
// and the normalizer that maps provider-native failures into it.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind is a closed set of gateway error categories.
type Kind string

const (
	// KindUnknownOperation indicates the (domain, action) pair is not registered.
	KindUnknownOperation Kind = "unknown_operation"
	// KindInvalidRequest indicates a malformed or incomplete request envelope.
	KindInvalidRequest Kind = "invalid_request"
	// KindAccessDenied indicates the provider rejected the call for missing permissions.
	KindAccessDenied Kind = "access_denied"
	// KindInvalidCredentials indicates the configured credential identifier is not recognized.
	KindInvalidCredentials Kind = "invalid_credentials"
	// KindExpiredCredentials indicates the credentials were valid once but have expired.
	KindExpiredCredentials Kind = "expired_credentials"
	// KindInvalidSecret indicates the secret portion of the credentials does not match.
	KindInvalidSecret Kind = "invalid_secret"
	// KindNotFound indicates the referenced provider resource does not exist.
	KindNotFound Kind = "not_found"
	// KindThrottled indicates the provider rate-limited the call.
	KindThrottled Kind = "throttled"
	// KindConsentRequired is a control outcome, not a fault: the caller must
	// grant consent before the capability executes.
	KindConsentRequired Kind = "consent_required"
	// KindUnavailable indicates the target component was marked unavailable at startup.
	KindUnavailable Kind = "unavailable"
	// KindUnknown covers unrecognized provider failures; the original message is preserved.
	KindUnknown Kind = "unknown"
)

const diagnosticsHint = "run the permission diagnostic (GET /api/v1/diagnostics) to see which capabilities the configured credentials support"

// Error is a normalized gateway error with an optional remediation hint.
type Error struct {
	Kind        Kind   `json:"kind"`
	Message     string `json:"message"`
	Remediation string `json:"remediation,omitempty"`

	// Status is the HTTP status the transport should use. Not serialized.
	Status int `json:"-"`
}

// Error implements error.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// HTTPStatus returns the attached status code, defaulting by kind.
func (e *Error) HTTPStatus() int {
	if e == nil {
		return http.StatusInternalServerError
	}
	if e.Status != 0 {
		return e.Status
	}
	switch e.Kind {
	case KindUnknownOperation, KindNotFound:
		return http.StatusNotFound
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindAccessDenied:
		return http.StatusForbidden
	case KindInvalidCredentials, KindExpiredCredentials, KindInvalidSecret:
		return http.StatusUnauthorized
	case KindThrottled:
		return http.StatusTooManyRequests
	case KindConsentRequired:
		return http.StatusOK
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: strings.TrimSpace(message)}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// WithRemediation attaches a remediation hint and returns the error.
func (e *Error) WithRemediation(hint string) *Error {
	e.Remediation = strings.TrimSpace(hint)
	return e
}

// ProviderSignal is implemented by provider client errors that carry a
// provider-native failure code and HTTP status.
type ProviderSignal interface {
	error
	Signal() string
	StatusCode() int
}

// Normalize maps an arbitrary failure into the closed taxonomy. Already
// normalized errors pass through unchanged; unrecognized failures become
// KindUnknown with the original message preserved.
func Normalize(err error) *Error {
	if err == nil {
		return nil
	}

	var normalized *Error
	if errors.As(err, &normalized) {
		return normalized
	}

	var signal ProviderSignal
	if errors.As(err, &signal) {
		return fromSignal(signal)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{
			Kind:        KindUnknown,
			Message:     "request to the provider timed out",
			Remediation: "retry; if timeouts persist, check provider endpoint connectivity",
			Status:      http.StatusGatewayTimeout,
		}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{
			Kind:    KindUnknown,
			Message: "request canceled before the provider responded",
			Status:  http.StatusRequestTimeout,
		}
	}

	return New(KindUnknown, err.Error())
}

func fromSignal(signal ProviderSignal) *Error {
	message := strings.TrimSpace(signal.Error())
	status := signal.StatusCode()

	switch canonicalSignal(signal.Signal()) {
	case "accessdenied", "accessdeniedexception", "unauthorizedoperation", "forbidden":
		return &Error{
			Kind:        KindAccessDenied,
			Message:     message,
			Remediation: diagnosticsHint,
			Status:      status,
		}
	case "expiredtoken", "expiredtokenexception", "requestexpired":
		return &Error{
			Kind:        KindExpiredCredentials,
			Message:     message,
			Remediation: "refresh the provider credentials configured for the gateway",
			Status:      status,
		}
	case "invalidclienttokenid", "unrecognizedclient", "unrecognizedclientexception":
		return &Error{
			Kind:        KindInvalidCredentials,
			Message:     message,
			Remediation: "verify the configured credential identifier",
			Status:      status,
		}
	case "signaturedoesnotmatch", "invalidsignature", "invalidsignatureexception":
		return &Error{
			Kind:        KindInvalidSecret,
			Message:     message,
			Remediation: "verify the configured secret key; it does not match the credential identifier",
			Status:      status,
		}
	case "notfound", "resourcenotfound", "resourcenotfoundexception", "nosuchentity":
		return &Error{Kind: KindNotFound, Message: message, Status: status}
	case "throttling", "throttlingexception", "toomanyrequests", "toomanyrequestsexception":
		return &Error{
			Kind:        KindThrottled,
			Message:     message,
			Remediation: "retry after a short delay",
			Status:      status,
		}
	}

	switch status {
	case http.StatusUnauthorized:
		return &Error{
			Kind:        KindInvalidCredentials,
			Message:     message,
			Remediation: "verify the configured provider credentials",
			Status:      status,
		}
	case http.StatusForbidden:
		return &Error{
			Kind:        KindAccessDenied,
			Message:     message,
			Remediation: diagnosticsHint,
			Status:      status,
		}
	case http.StatusNotFound:
		return &Error{Kind: KindNotFound, Message: message, Status: status}
	case http.StatusTooManyRequests:
		return &Error{
			Kind:        KindThrottled,
			Message:     message,
			Remediation: "retry after a short delay",
			Status:      status,
		}
	}

	return &Error{Kind: KindUnknown, Message: message, Status: status}
}

func canonicalSignal(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
