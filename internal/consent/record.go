// Package consent tracks per-user consent for paid capability categories and
// decides whether a classified request may proceed.
package consent

import (
	"context"
	"time"

	"github.com/opsgate/opsgate/internal/capability"
)

// Source identifies which tier a record was read from.
type Source string

const (
	// SourceCache marks a record served from the volatile tier.
	SourceCache Source = "cache"
	// SourceDurable marks a record served from the durable tier.
	SourceDurable Source = "durable"
)

// Record is one consent decision for a (user, category) pair. Revocation
// flips Granted to false; rows are never deleted.
type Record struct {
	UserID    string                `json:"userId"`
	Category  capability.CategoryID `json:"category"`
	Granted   bool                  `json:"granted"`
	GrantedAt time.Time             `json:"grantedAt"`
	Source    Source                `json:"source"`
}

// Ack reports the persistence outcome of a consent write. A degraded ack
// means the grant is effective for the session but was not durably stored.
type Ack struct {
	Degraded bool   `json:"degraded,omitempty"`
	Warning  string `json:"warning,omitempty"`
}

// DurableStore is the truth tier behind the in-process cache.
type DurableStore interface {
	Get(ctx context.Context, userID string, category capability.CategoryID) (Record, bool, error)
	Put(ctx context.Context, record Record) error
	ListForUser(ctx context.Context, userID string) ([]Record, error)
}

// Store is the consent persistence surface the gateway depends on. Durable
// failures are contained inside the implementation; callers only see the
// degraded flag.
type Store interface {
	Get(ctx context.Context, userID string, category capability.CategoryID) (Record, bool)
	Set(ctx context.Context, userID string, category capability.CategoryID, granted bool) Ack
	ListForUser(ctx context.Context, userID string) []Record
}
