package consent

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opsgate/opsgate/internal/capability"
)

const (
	defaultDurableTimeout = 3 * time.Second
	defaultCacheTTL       = 12 * time.Hour

	// DegradedWarning is surfaced to callers when a grant could not be
	// durably persisted.
	DegradedWarning = "consent recorded for this session only; the durable consent store is currently unavailable"

	lockStripes = 64
)

// StoreOptions tune the tiered store.
type StoreOptions struct {
	// DurableTimeout bounds every durable-tier access.
	DurableTimeout time.Duration
	// CacheTTL bounds how long a clean cache entry is served without
	// re-reading the durable tier.
	CacheTTL time.Duration
	Logger   zerolog.Logger
	Clock    func() time.Time
}

// TieredStore layers a volatile cache over a durable store. The cache is
// authoritative for freshness, the durable tier for truth. Durable failures
// are logged and contained; they never abort a consent decision.
type TieredStore struct {
	durable DurableStore
	cache   *memoryCache
	locks   [lockStripes]sync.Mutex
	opts    StoreOptions
}

// NewTieredStore creates the two-tier consent store.
func NewTieredStore(durable DurableStore, opts StoreOptions) *TieredStore {
	if opts.DurableTimeout <= 0 {
		opts.DurableTimeout = defaultDurableTimeout
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &TieredStore{
		durable: durable,
		cache:   newMemoryCache(),
		opts:    opts,
	}
}

// Get resolves the consent record for a (user, category) pair. Cache first;
// on a miss the durable tier is consulted and the cache populated. When the
// durable tier is unreachable a stale cache entry keeps working, and a cold
// cache reads as absent (fail closed for new grants).
func (s *TieredStore) Get(ctx context.Context, userID string, category capability.CategoryID) (Record, bool) {
	now := s.opts.Clock()

	entry, cached := s.cache.get(userID, category)
	if cached && (entry.dirty || now.Sub(entry.cachedAt) < s.opts.CacheTTL) {
		return entry.record, true
	}

	durableCtx, cancel := context.WithTimeout(ctx, s.opts.DurableTimeout)
	defer cancel()

	record, found, err := s.durable.Get(durableCtx, userID, category)
	if err != nil {
		s.opts.Logger.Warn().Err(err).
			Str("user_id", userID).
			Str("category", string(category)).
			Msg("durable consent read failed")
		if cached {
			return entry.record, true
		}
		return Record{}, false
	}

	s.flushDirty(ctx, userID)

	if !found {
		if cached {
			// The TTL re-read found no durable row; keep honoring the
			// cached grant until a durable write settles the divergence.
			return entry.record, true
		}
		return Record{}, false
	}

	record.Source = SourceDurable
	s.cache.put(record, now, false)
	return record, true
}

// Set records a consent decision. The cache is written unconditionally; the
// durable write is attempted with a bounded timeout and a failure yields a
// degraded ack instead of an error. Writes for the same key are serialized.
func (s *TieredStore) Set(ctx context.Context, userID string, category capability.CategoryID, granted bool) Ack {
	lock := s.lockFor(userID, category)
	lock.Lock()
	defer lock.Unlock()

	now := s.opts.Clock().UTC()
	record := Record{
		UserID:    userID,
		Category:  category,
		Granted:   granted,
		GrantedAt: now,
	}
	s.cache.put(record, now, true)

	durableCtx, cancel := context.WithTimeout(ctx, s.opts.DurableTimeout)
	defer cancel()

	if err := s.durable.Put(durableCtx, record); err != nil {
		s.opts.Logger.Warn().Err(err).
			Str("user_id", userID).
			Str("category", string(category)).
			Bool("granted", granted).
			Msg("durable consent write failed; grant held in cache only")
		return Ack{Degraded: true, Warning: DegradedWarning}
	}

	s.cache.markClean(record)
	return Ack{}
}

// ListForUser merges both tiers for a status view. The durable tier wins on
// conflict unless the cache entry is strictly newer, which happens when a
// durable write failed after the cache was updated.
func (s *TieredStore) ListForUser(ctx context.Context, userID string) []Record {
	merged := make(map[capability.CategoryID]Record)

	durableCtx, cancel := context.WithTimeout(ctx, s.opts.DurableTimeout)
	defer cancel()

	durableRecords, err := s.durable.ListForUser(durableCtx, userID)
	if err != nil {
		s.opts.Logger.Warn().Err(err).Str("user_id", userID).Msg("durable consent list failed; serving cache only")
	} else {
		for _, record := range durableRecords {
			record.Source = SourceDurable
			merged[record.Category] = record
		}
	}

	for _, entry := range s.cache.listForUser(userID) {
		durable, exists := merged[entry.record.Category]
		if !exists || entry.record.GrantedAt.After(durable.GrantedAt) {
			merged[entry.record.Category] = entry.record
		}
	}

	records := make([]Record, 0, len(merged))
	for _, id := range capability.CategoryIDs() {
		if record, ok := merged[id]; ok {
			records = append(records, record)
		}
	}
	return records
}

// flushDirty retries durable writes that previously failed for this user.
// Best effort; entries stay dirty until a flush succeeds. Each flush takes
// the same stripe lock as Set and re-checks the entry under it, so a stale
// flush can never land after a newer durable write for the same key.
func (s *TieredStore) flushDirty(ctx context.Context, userID string) {
	for _, record := range s.cache.dirtyForUser(userID) {
		s.flushRecord(ctx, userID, record)
	}
}

func (s *TieredStore) flushRecord(ctx context.Context, userID string, record Record) {
	lock := s.lockFor(userID, record.Category)
	lock.Lock()
	defer lock.Unlock()

	entry, ok := s.cache.get(userID, record.Category)
	if !ok || !entry.dirty ||
		!entry.record.GrantedAt.Equal(record.GrantedAt) ||
		entry.record.Granted != record.Granted {
		// A concurrent Set replaced or already settled this entry.
		return
	}

	flushCtx, cancel := context.WithTimeout(ctx, s.opts.DurableTimeout)
	err := s.durable.Put(flushCtx, entry.record)
	cancel()
	if err != nil {
		s.opts.Logger.Debug().Err(err).
			Str("user_id", userID).
			Str("category", string(record.Category)).
			Msg("dirty consent flush failed")
		return
	}
	s.cache.markClean(entry.record)
	s.opts.Logger.Info().
		Str("user_id", userID).
		Str("category", string(record.Category)).
		Msg("reconciled cached consent into durable store")
}

func (s *TieredStore) lockFor(userID string, category capability.CategoryID) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(category))
	return &s.locks[h.Sum32()%lockStripes]
}
