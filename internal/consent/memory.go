package consent

import (
	"context"
	"errors"
	"sync"

	"github.com/opsgate/opsgate/internal/capability"
)

// ErrDurableUnavailable is returned by a MemoryDurable forced into failure.
var ErrDurableUnavailable = errors.New("durable consent store unavailable")

// MemoryDurable is an in-memory DurableStore. It backs dev deployments that
// run without a database and test scenarios that simulate durable outages.
type MemoryDurable struct {
	mu      sync.RWMutex
	records map[cacheKey]Record
	failing bool
}

// NewMemoryDurable creates an empty in-memory durable store.
func NewMemoryDurable() *MemoryDurable {
	return &MemoryDurable{records: make(map[cacheKey]Record)}
}

// SetFailing toggles simulated unavailability.
func (m *MemoryDurable) SetFailing(failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = failing
}

// Get reads one record.
func (m *MemoryDurable) Get(_ context.Context, userID string, category capability.CategoryID) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failing {
		return Record{}, false, ErrDurableUnavailable
	}
	record, ok := m.records[cacheKey{userID: userID, category: category}]
	return record, ok, nil
}

// Put upserts one record.
func (m *MemoryDurable) Put(_ context.Context, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return ErrDurableUnavailable
	}
	record.Source = SourceDurable
	m.records[cacheKey{userID: record.UserID, category: record.Category}] = record
	return nil
}

// ListForUser reads all records for a user.
func (m *MemoryDurable) ListForUser(_ context.Context, userID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failing {
		return nil, ErrDurableUnavailable
	}
	var records []Record
	for key, record := range m.records {
		if key.userID == userID {
			records = append(records, record)
		}
	}
	return records, nil
}
