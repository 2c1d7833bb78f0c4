package consent

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/opsgate/opsgate/internal/capability"
)

func newTestStore(durable DurableStore) *TieredStore {
	return NewTieredStore(durable, StoreOptions{Logger: zerolog.Nop()})
}

func TestTieredStore_RoundTrip(t *testing.T) {
	store := newTestStore(NewMemoryDurable())
	ctx := context.Background()

	_, ok := store.Get(ctx, "alice", capability.CategoryCostReporting)
	require.False(t, ok)

	ack := store.Set(ctx, "alice", capability.CategoryCostReporting, true)
	require.False(t, ack.Degraded)
	require.Empty(t, ack.Warning)

	record, ok := store.Get(ctx, "alice", capability.CategoryCostReporting)
	require.True(t, ok)
	require.True(t, record.Granted)
	require.Equal(t, "alice", record.UserID)
}

func TestTieredStore_DegradedAckWhenDurableDown(t *testing.T) {
	durable := NewMemoryDurable()
	durable.SetFailing(true)
	store := newTestStore(durable)
	ctx := context.Background()

	ack := store.Set(ctx, "alice", capability.CategoryAssistant, true)
	require.True(t, ack.Degraded)
	require.Equal(t, DegradedWarning, ack.Warning)

	// The grant still works for this session from the cache tier.
	record, ok := store.Get(ctx, "alice", capability.CategoryAssistant)
	require.True(t, ok)
	require.True(t, record.Granted)
	require.Equal(t, SourceCache, record.Source)
}

func TestTieredStore_ColdCacheReadsAbsentWhenDurableDown(t *testing.T) {
	durable := NewMemoryDurable()
	durable.SetFailing(true)
	store := newTestStore(durable)

	_, ok := store.Get(context.Background(), "nobody", capability.CategoryCostReporting)
	require.False(t, ok)
}

func TestTieredStore_CachedGrantSurvivesDurableOutage(t *testing.T) {
	durable := NewMemoryDurable()
	now := time.Now()
	store := NewTieredStore(durable, StoreOptions{
		Logger:   zerolog.Nop(),
		CacheTTL: time.Nanosecond, // force TTL re-reads on every get
		Clock:    func() time.Time { return now },
	})
	ctx := context.Background()

	store.Set(ctx, "alice", capability.CategoryCostReporting, true)
	now = now.Add(time.Second)

	durable.SetFailing(true)
	record, ok := store.Get(ctx, "alice", capability.CategoryCostReporting)
	require.True(t, ok)
	require.True(t, record.Granted)
}

func TestTieredStore_DirtyFlushReconciles(t *testing.T) {
	durable := NewMemoryDurable()
	durable.SetFailing(true)
	store := newTestStore(durable)
	ctx := context.Background()

	ack := store.Set(ctx, "alice", capability.CategoryAssistant, true)
	require.True(t, ack.Degraded)

	// The durable tier recovers; the next durable read flushes the dirty
	// entry.
	durable.SetFailing(false)
	_, _ = store.Get(ctx, "alice", capability.CategoryCostReporting)

	record, found, err := durable.Get(ctx, "alice", capability.CategoryAssistant)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, record.Granted)
}

// gatedDurable lets a test hold a single durable write in flight.
type gatedDurable struct {
	*MemoryDurable
	hold    atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedDurable) Put(ctx context.Context, record Record) error {
	if g.hold.CompareAndSwap(true, false) {
		close(g.entered)
		<-g.release
	}
	return g.MemoryDurable.Put(ctx, record)
}

func TestTieredStore_StaleFlushNeverOverwritesNewerWrite(t *testing.T) {
	durable := &gatedDurable{
		MemoryDurable: NewMemoryDurable(),
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	store := newTestStore(durable)
	ctx := context.Background()

	// A grant lands only in the cache while the durable tier is down.
	durable.SetFailing(true)
	ack := store.Set(ctx, "alice", capability.CategoryCostReporting, true)
	require.True(t, ack.Degraded)
	durable.SetFailing(false)

	// The next durable read re-flushes the cached grant; hold that durable
	// write in flight.
	durable.hold.Store(true)
	flushDone := make(chan struct{})
	go func() {
		defer close(flushDone)
		store.Get(ctx, "alice", capability.CategoryAssistant)
	}()
	<-durable.entered

	// The user revokes while the flush is in flight. The revocation must
	// serialize against the flush so the durable tier ends up revoked.
	revokeDone := make(chan Ack, 1)
	go func() {
		revokeDone <- store.Set(ctx, "alice", capability.CategoryCostReporting, false)
	}()

	close(durable.release)
	<-flushDone
	ack = <-revokeDone
	require.False(t, ack.Degraded)

	record, found, err := durable.MemoryDurable.Get(ctx, "alice", capability.CategoryCostReporting)
	require.NoError(t, err)
	require.True(t, found)
	require.False(t, record.Granted, "revocation must not be clobbered by a stale cached grant flush")

	got, ok := store.Get(ctx, "alice", capability.CategoryCostReporting)
	require.True(t, ok)
	require.False(t, got.Granted)
}

func TestTieredStore_FlushSkipsEntriesReplacedMeanwhile(t *testing.T) {
	durable := NewMemoryDurable()
	store := newTestStore(durable)
	ctx := context.Background()

	durable.SetFailing(true)
	store.Set(ctx, "alice", capability.CategoryCostReporting, true)
	durable.SetFailing(false)

	// The revocation settles durably and cleans the entry before any flush
	// runs; a later flush pass must find nothing left to write.
	store.Set(ctx, "alice", capability.CategoryCostReporting, false)
	_, _ = store.Get(ctx, "alice", capability.CategoryAssistant)

	record, found, err := durable.Get(ctx, "alice", capability.CategoryCostReporting)
	require.NoError(t, err)
	require.True(t, found)
	require.False(t, record.Granted)
}

func TestTieredStore_DoubleGrantIsIdempotent(t *testing.T) {
	store := newTestStore(NewMemoryDurable())
	ctx := context.Background()

	first := store.Set(ctx, "alice", capability.CategoryCostReporting, true)
	second := store.Set(ctx, "alice", capability.CategoryCostReporting, true)
	require.False(t, first.Degraded)
	require.False(t, second.Degraded)

	record, ok := store.Get(ctx, "alice", capability.CategoryCostReporting)
	require.True(t, ok)
	require.True(t, record.Granted)
}

func TestTieredStore_RevokeKeepsRecord(t *testing.T) {
	store := newTestStore(NewMemoryDurable())
	ctx := context.Background()

	store.Set(ctx, "alice", capability.CategoryCostReporting, true)
	store.Set(ctx, "alice", capability.CategoryCostReporting, false)

	record, ok := store.Get(ctx, "alice", capability.CategoryCostReporting)
	require.True(t, ok)
	require.False(t, record.Granted)
}

func TestTieredStore_ListForUserMergesTiers(t *testing.T) {
	durable := NewMemoryDurable()
	store := newTestStore(durable)
	ctx := context.Background()

	store.Set(ctx, "alice", capability.CategoryCostReporting, true)

	// A second grant lands only in the cache because the durable tier is
	// down; the list view must still show both.
	durable.SetFailing(true)
	store.Set(ctx, "alice", capability.CategoryAssistant, true)
	durable.SetFailing(false)

	records := store.ListForUser(ctx, "alice")
	require.Len(t, records, 2)

	byCategory := make(map[capability.CategoryID]Record)
	for _, record := range records {
		byCategory[record.Category] = record
	}
	require.True(t, byCategory[capability.CategoryCostReporting].Granted)
	require.True(t, byCategory[capability.CategoryAssistant].Granted)
}

func TestTieredStore_ListForUserCacheNewerWins(t *testing.T) {
	durable := NewMemoryDurable()
	store := newTestStore(durable)
	ctx := context.Background()

	store.Set(ctx, "alice", capability.CategoryCostReporting, true)
	time.Sleep(time.Millisecond)

	durable.SetFailing(true)
	store.Set(ctx, "alice", capability.CategoryCostReporting, false)
	durable.SetFailing(false)

	records := store.ListForUser(ctx, "alice")
	require.Len(t, records, 1)
	require.False(t, records[0].Granted, "newer cached revocation must win over the stale durable grant")
}

func TestTieredStore_UsersAreIsolated(t *testing.T) {
	store := newTestStore(NewMemoryDurable())
	ctx := context.Background()

	store.Set(ctx, "alice", capability.CategoryCostReporting, true)

	_, ok := store.Get(ctx, "bob", capability.CategoryCostReporting)
	require.False(t, ok)
	require.Empty(t, store.ListForUser(ctx, "bob"))
}
