package consent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/opsgate/opsgate/internal/capability"
)

// Publisher receives consent change notifications. Implementations must not
// block the consent path; failures are theirs to contain.
type Publisher interface {
	ConsentChanged(ctx context.Context, record Record)
}

// StatusEntry is the per-category consent status view.
type StatusEntry struct {
	Category    CategoryInfo `json:"category"`
	Description string       `json:"description,omitempty"`
	Granted     bool         `json:"granted"`
	GrantedAt   *time.Time   `json:"grantedAt,omitempty"`
	Source      Source       `json:"source,omitempty"`
}

// CategoryListing enumerates one category and its member capabilities.
type CategoryListing struct {
	Category    CategoryInfo `json:"category"`
	Description string       `json:"description,omitempty"`
	Members     []string     `json:"members"`
}

// Service implements the consent sub-protocol (grant, revoke, revoke-all,
// status, list) served under domain "consent".
type Service struct {
	registry  *capability.Registry
	store     Store
	publisher Publisher
	logger    zerolog.Logger
}

// NewService creates the consent service. publisher may be nil.
func NewService(registry *capability.Registry, store Store, publisher Publisher, logger zerolog.Logger) *Service {
	return &Service{
		registry:  registry,
		store:     store,
		publisher: publisher,
		logger:    logger.With().Str("component", "consent").Logger(),
	}
}

// Grant records consent for one category.
func (s *Service) Grant(ctx context.Context, userID string, rawCategory string) (StatusEntry, Ack, error) {
	return s.set(ctx, userID, rawCategory, true)
}

// Revoke withdraws consent for one category. The row is kept with
// granted=false, not deleted.
func (s *Service) Revoke(ctx context.Context, userID string, rawCategory string) (StatusEntry, Ack, error) {
	return s.set(ctx, userID, rawCategory, false)
}

// RevokeAll withdraws consent for every category. The ack is degraded if any
// single write was.
func (s *Service) RevokeAll(ctx context.Context, userID string) ([]StatusEntry, Ack, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, Ack{}, fmt.Errorf("userId is required to revoke consent")
	}

	var entries []StatusEntry
	var merged Ack
	for _, id := range capability.CategoryIDs() {
		entry, ack, err := s.set(ctx, userID, string(id), false)
		if err != nil {
			return nil, Ack{}, err
		}
		if ack.Degraded {
			merged = ack
		}
		entries = append(entries, entry)
	}
	return entries, merged, nil
}

// Status reports per-category consent state for a user. Categories with no
// record read as not granted.
func (s *Service) Status(ctx context.Context, userID string) ([]StatusEntry, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("userId is required to read consent status")
	}

	byCategory := make(map[capability.CategoryID]Record)
	for _, record := range s.store.ListForUser(ctx, userID) {
		byCategory[record.Category] = record
	}

	var entries []StatusEntry
	for _, id := range capability.CategoryIDs() {
		entry := StatusEntry{Category: s.categoryInfo(id)}
		if category, ok := s.registry.Category(id); ok {
			entry.Description = category.Description
		}
		if record, ok := byCategory[id]; ok {
			grantedAt := record.GrantedAt
			entry.Granted = record.Granted
			entry.GrantedAt = &grantedAt
			entry.Source = record.Source
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// List enumerates the closed category set and member capabilities.
func (s *Service) List() []CategoryListing {
	var listings []CategoryListing
	for _, id := range capability.CategoryIDs() {
		listing := CategoryListing{Category: s.categoryInfo(id)}
		if category, ok := s.registry.Category(id); ok {
			listing.Description = category.Description
		}
		for _, member := range s.registry.MembersOf(id) {
			listing.Members = append(listing.Members, member.String())
		}
		listings = append(listings, listing)
	}
	return listings
}

func (s *Service) set(ctx context.Context, userID, rawCategory string, granted bool) (StatusEntry, Ack, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return StatusEntry{}, Ack{}, fmt.Errorf("userId is required to change consent")
	}

	id, err := s.parseCategory(rawCategory)
	if err != nil {
		return StatusEntry{}, Ack{}, err
	}

	ack := s.store.Set(ctx, userID, id, granted)

	record, _ := s.store.Get(ctx, userID, id)
	if s.publisher != nil {
		s.publisher.ConsentChanged(ctx, record)
	}
	s.logger.Info().
		Str("user_id", userID).
		Str("category", string(id)).
		Bool("granted", granted).
		Bool("degraded", ack.Degraded).
		Msg("consent updated")

	grantedAt := record.GrantedAt
	entry := StatusEntry{
		Category:  s.categoryInfo(id),
		Granted:   record.Granted,
		GrantedAt: &grantedAt,
		Source:    record.Source,
	}
	return entry, ack, nil
}

func (s *Service) parseCategory(raw string) (capability.CategoryID, error) {
	id := capability.CategoryID(strings.TrimSpace(raw))
	if id == "" {
		return "", fmt.Errorf("categoryId is required")
	}
	if _, ok := s.registry.Category(id); !ok {
		return "", fmt.Errorf("unknown consent category %q", id)
	}
	return id, nil
}

func (s *Service) categoryInfo(id capability.CategoryID) CategoryInfo {
	info := CategoryInfo{ID: string(id)}
	if category, ok := s.registry.Category(id); ok {
		info.Name = category.Name
		info.CostDescriptor = category.CostDescriptor
	}
	return info
}
