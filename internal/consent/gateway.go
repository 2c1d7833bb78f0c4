package consent

import (
	"context"
	"strings"

	"github.com/opsgate/opsgate/internal/capability"
)

const (
	// HowToConsent is the machine-resumable retry instruction attached to
	// every consent-required descriptor.
	HowToConsent = "resend the same request with consent=true"
	// HowToIdentify is the instruction for anonymous callers, who can never
	// reach a paid capability.
	HowToIdentify = "supply a userId and resend the request with consent=true"
)

// CategoryInfo is the category summary embedded in consent descriptors and
// status views.
type CategoryInfo struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	CostDescriptor string `json:"costDescriptor"`
}

// Descriptor tells a caller how to satisfy a consent requirement.
type Descriptor struct {
	UserID       string       `json:"userId,omitempty"`
	Category     CategoryInfo `json:"category"`
	HowToConsent string       `json:"howToConsent"`
}

// Decision is the gateway outcome for one classified request.
type Decision struct {
	Allow    bool
	Degraded bool
	Warning  string
	Required *Descriptor
}

// Gateway decides allow / require-consent / record-consent-and-allow. It is
// stateless per request: every call is evaluated fresh from store state,
// which keeps the decision idempotent and safe to retry.
type Gateway struct {
	registry *capability.Registry
	store    Store
}

// NewGateway creates a consent gateway over the registry and store.
func NewGateway(registry *capability.Registry, store Store) *Gateway {
	return &Gateway{registry: registry, store: store}
}

// Decide evaluates the consent state machine for an already-classified entry.
func (g *Gateway) Decide(ctx context.Context, entry capability.Entry, userID string, suppliedConsent bool) Decision {
	if !entry.Classification.IsPaid() {
		return Decision{Allow: true}
	}

	categoryID := entry.Classification.Category
	userID = strings.TrimSpace(userID)

	if userID == "" {
		return Decision{Required: g.descriptor("", categoryID, HowToIdentify)}
	}

	if suppliedConsent {
		ack := g.store.Set(ctx, userID, categoryID, true)
		return Decision{Allow: true, Degraded: ack.Degraded, Warning: ack.Warning}
	}

	if record, ok := g.store.Get(ctx, userID, categoryID); ok && record.Granted {
		return Decision{Allow: true}
	}

	return Decision{Required: g.descriptor(userID, categoryID, HowToConsent)}
}

func (g *Gateway) descriptor(userID string, id capability.CategoryID, instruction string) *Descriptor {
	info := CategoryInfo{ID: string(id)}
	if category, ok := g.registry.Category(id); ok {
		info.Name = category.Name
		info.CostDescriptor = category.CostDescriptor
	}
	return &Descriptor{
		UserID:       userID,
		Category:     info,
		HowToConsent: instruction,
	}
}
