// Package capability defines the static registry that classifies every
// dispatchable (domain, action) pair: free or consent-gated, which provider
// permissions it needs, and whether it can be probed without side effects.
package capability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNotFound indicates a (domain, action) pair with no registry entry.
// Distinct from a Free classification: an unknown operation is a hard error.
var ErrNotFound = errors.New("capability not found")

// Key identifies one capability.
type Key struct {
	Domain string `json:"domain"`
	Action string `json:"action"`
}

// String renders the key as "domain.action".
func (k Key) String() string {
	return k.Domain + "." + k.Action
}

// CategoryID is the closed set of consent categories. Every paid capability
// belongs to exactly one.
type CategoryID string

const (
	// CategoryCostReporting governs billed cost-and-usage queries.
	CategoryCostReporting CategoryID = "cost-reporting"
	// CategoryAssistant governs AI assistant model invocations.
	CategoryAssistant CategoryID = "ai-assistant"
	// CategoryFunctionInvocation governs serverless function invocations.
	CategoryFunctionInvocation CategoryID = "function-invocation"
	// CategoryNotificationPublish governs notification publishes.
	CategoryNotificationPublish CategoryID = "notification-publish"
)

// CategoryIDs returns the closed category set in stable order.
func CategoryIDs() []CategoryID {
	return []CategoryID{
		CategoryCostReporting,
		CategoryAssistant,
		CategoryFunctionInvocation,
		CategoryNotificationPublish,
	}
}

// Category carries human-facing consent category metadata.
type Category struct {
	ID             CategoryID `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	CostDescriptor string     `json:"costDescriptor"`
}

// Class distinguishes free capabilities from consent-gated ones.
type Class int

const (
	// ClassFree capabilities execute without consent.
	ClassFree Class = iota
	// ClassPaid capabilities require consent for their category.
	ClassPaid
)

// Classification binds a class to its category for paid capabilities.
type Classification struct {
	Class    Class
	Category CategoryID
}

// Free classifies a capability as executable without consent.
func Free() Classification {
	return Classification{Class: ClassFree}
}

// Paid classifies a capability under a consent category.
func Paid(category CategoryID) Classification {
	return Classification{Class: ClassPaid, Category: category}
}

// IsPaid reports whether the capability requires consent.
func (c Classification) IsPaid() bool {
	return c.Class == ClassPaid
}

// Identity is the resolved provider principal used by diagnostics.
type Identity struct {
	Account   string `json:"account"`
	Principal string `json:"principal"`
	Display   string `json:"display,omitempty"`
}

// ProbeAPI is the side-effect-free read surface diagnostics may touch.
// Implementations must keep every call non-mutating and resource-bounded.
type ProbeAPI interface {
	ResolveIdentity(ctx context.Context, region string) (Identity, error)
	ListInstances(ctx context.Context, region string) error
	ListBuckets(ctx context.Context, region string) error
	ListFunctions(ctx context.Context, region string) error
	ListDatabases(ctx context.Context, region string) error
	ListAlarms(ctx context.Context, region string) error
	ListTopics(ctx context.Context, region string) error
	ListUsers(ctx context.Context, region string) error
}

// ProbeFunc executes one safe read against live credentials.
type ProbeFunc func(ctx context.Context, api ProbeAPI, region string) error

// ProbeMode classifies how a capability may be diagnosed.
type ProbeMode string

const (
	// ProbeNone means no diagnostic is defined for the capability.
	ProbeNone ProbeMode = "none"
	// ProbeSafeRead means the capability has a side-effect-free probe.
	ProbeSafeRead ProbeMode = "safe-read"
	// ProbeUnsafe means probing would mutate state or incur cost.
	ProbeUnsafe ProbeMode = "unsafe"
)

// Probe describes the diagnostic classification of a capability. Unsafe and
// None probes carry no function, so they cannot be executed even by mistake.
type Probe struct {
	mode   ProbeMode
	run    ProbeFunc
	reason string
}

// SafeRead attaches a side-effect-free probe function.
func SafeRead(run ProbeFunc) Probe {
	return Probe{mode: ProbeSafeRead, run: run}
}

// Unsafe marks a capability as unprobeable with an explanation.
func Unsafe(reason string) Probe {
	return Probe{mode: ProbeUnsafe, reason: strings.TrimSpace(reason)}
}

// NoProbe marks a capability with no diagnostic defined.
func NoProbe() Probe {
	return Probe{mode: ProbeNone}
}

// Mode returns the probe classification.
func (p Probe) Mode() ProbeMode {
	if p.mode == "" {
		return ProbeNone
	}
	return p.mode
}

// Executable reports whether a probe function is attached.
func (p Probe) Executable() bool {
	return p.mode == ProbeSafeRead && p.run != nil
}

// Reason returns the explanation for an unsafe probe.
func (p Probe) Reason() string {
	return p.reason
}

// Run executes the attached probe function.
func (p Probe) Run(ctx context.Context, api ProbeAPI, region string) error {
	if !p.Executable() {
		return fmt.Errorf("probe is not executable (mode %s)", p.Mode())
	}
	return p.run(ctx, api, region)
}

// Entry is one immutable registry row.
type Entry struct {
	Key                 Key
	Classification      Classification
	RequiredPermissions []string
	Probe               Probe
	Destructive         bool
	Description         string
}

// Registry is the read-only capability table, shared by all workers.
type Registry struct {
	entries    map[Key]Entry
	ordered    []Key
	categories map[CategoryID]Category
}

// NewRegistry builds the registry from the built-in capability table.
func NewRegistry() (*Registry, error) {
	entries := builtinEntries()

	r := &Registry{
		entries:    make(map[Key]Entry, len(entries)),
		ordered:    make([]Key, 0, len(entries)),
		categories: make(map[CategoryID]Category, len(CategoryIDs())),
	}
	for _, id := range CategoryIDs() {
		r.categories[id] = Category{ID: id}
	}

	for _, entry := range entries {
		if entry.Key.Domain == "" || entry.Key.Action == "" {
			return nil, fmt.Errorf("capability table contains empty key %q", entry.Key)
		}
		if _, exists := r.entries[entry.Key]; exists {
			return nil, fmt.Errorf("capability table contains duplicate entry %s", entry.Key)
		}
		if entry.Classification.IsPaid() {
			if _, known := r.categories[entry.Classification.Category]; !known {
				return nil, fmt.Errorf("capability %s references unknown category %q", entry.Key, entry.Classification.Category)
			}
		}
		r.entries[entry.Key] = entry
		r.ordered = append(r.ordered, entry.Key)
	}

	sort.Slice(r.ordered, func(i, j int) bool {
		if r.ordered[i].Domain != r.ordered[j].Domain {
			return r.ordered[i].Domain < r.ordered[j].Domain
		}
		return r.ordered[i].Action < r.ordered[j].Action
	})

	return r, nil
}

// Classify resolves the registry entry for a (domain, action) pair.
func (r *Registry) Classify(domain, action string) (Entry, error) {
	key := Key{Domain: strings.TrimSpace(domain), Action: strings.TrimSpace(action)}
	entry, ok := r.entries[key]
	if !ok {
		return Entry{}, fmt.Errorf("operation %s: %w", key, ErrNotFound)
	}
	return entry, nil
}

// Lookup returns the entry for a key.
func (r *Registry) Lookup(key Key) (Entry, bool) {
	entry, ok := r.entries[key]
	return entry, ok
}

// List returns all entries in stable (domain, action) order.
func (r *Registry) List() []Entry {
	entries := make([]Entry, 0, len(r.ordered))
	for _, key := range r.ordered {
		entries = append(entries, r.entries[key])
	}
	return entries
}

// ListProbeable returns entries carrying an executable safe-read probe.
func (r *Registry) ListProbeable() []Entry {
	var entries []Entry
	for _, key := range r.ordered {
		if entry := r.entries[key]; entry.Probe.Executable() {
			entries = append(entries, entry)
		}
	}
	return entries
}

// ListUnsafe returns entries whose probe is classified unsafe.
func (r *Registry) ListUnsafe() []Entry {
	var entries []Entry
	for _, key := range r.ordered {
		if entry := r.entries[key]; entry.Probe.Mode() == ProbeUnsafe {
			entries = append(entries, entry)
		}
	}
	return entries
}

// CategoryOf returns the consent category governing a capability, if paid.
func (r *Registry) CategoryOf(domain, action string) (CategoryID, bool) {
	entry, err := r.Classify(domain, action)
	if err != nil || !entry.Classification.IsPaid() {
		return "", false
	}
	return entry.Classification.Category, true
}

// Category returns category metadata by identifier.
func (r *Registry) Category(id CategoryID) (Category, bool) {
	category, ok := r.categories[id]
	return category, ok
}

// MembersOf returns the capabilities governed by a category, in stable order.
func (r *Registry) MembersOf(id CategoryID) []Key {
	var members []Key
	for _, key := range r.ordered {
		entry := r.entries[key]
		if entry.Classification.IsPaid() && entry.Classification.Category == id {
			members = append(members, key)
		}
	}
	return members
}

// Domains returns the distinct capability domains in stable order.
func (r *Registry) Domains() []string {
	seen := make(map[string]struct{})
	var domains []string
	for _, key := range r.ordered {
		if _, ok := seen[key.Domain]; ok {
			continue
		}
		seen[key.Domain] = struct{}{}
		domains = append(domains, key.Domain)
	}
	return domains
}
