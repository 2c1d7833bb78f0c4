// Package dispatch routes inbound requests through classification, consent
// gating and the remote-operation handlers, and normalizes every outcome.
package dispatch

import (
	"context"

	"github.com/opsgate/opsgate/internal/apperr"
	"github.com/opsgate/opsgate/internal/capability"
	"github.com/opsgate/opsgate/internal/consent"
)

// Request is the inbound envelope from the chat platform.
type Request struct {
	Domain  string         `json:"domain"`
	Action  string         `json:"action"`
	UserID  string         `json:"userId,omitempty"`
	Consent bool           `json:"consent,omitempty"`
	Confirm bool           `json:"confirm,omitempty"`
	Region  string         `json:"region,omitempty"`
	Params  map[string]any `json:"params,omitempty"`

	// RequestID is assigned by the transport, not the caller.
	RequestID string `json:"-"`
}

// Key returns the capability key addressed by the request.
func (r Request) Key() capability.Key {
	return capability.Key{Domain: r.Domain, Action: r.Action}
}

// Response is the outbound envelope.
type Response struct {
	Success     bool          `json:"success"`
	Data        any           `json:"data,omitempty"`
	Error       *apperr.Error `json:"error,omitempty"`
	CostWarning string        `json:"costWarning,omitempty"`

	// Consent-required control fields.
	RequiresConsent bool                  `json:"requiresConsent,omitempty"`
	UserID          string                `json:"userId,omitempty"`
	Category        *consent.CategoryInfo `json:"category,omitempty"`
	HowToConsent    string                `json:"howToConsent,omitempty"`

	// Degraded flags a grant that is effective but not durably persisted.
	Degraded bool   `json:"degraded,omitempty"`
	Warning  string `json:"warning,omitempty"`
}

// Handler executes one remote operation. Implementations are opaque to the
// pipeline: only the success/failure boundary is inspected.
type Handler interface {
	Invoke(ctx context.Context, req Request) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request) (any, error)

// Invoke implements Handler.
func (f HandlerFunc) Invoke(ctx context.Context, req Request) (any, error) {
	return f(ctx, req)
}

// Table is the typed routing table from capability key to handler, built
// once at startup.
type Table map[capability.Key]Handler

// Merge combines routing tables; duplicate keys are a programming error
// caught by ValidateTable's startup cross-check.
func Merge(tables ...Table) Table {
	merged := make(Table)
	for _, table := range tables {
		for key, handler := range table {
			merged[key] = handler
		}
	}
	return merged
}
