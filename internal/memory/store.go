package memory

import (
	"sync"
	"time"

	"github.com/iteaky/carbot/internal/domain"
)

// DefaultTTL is how long collected facts survive without an update.
const DefaultTTL = 24 * time.Hour

// Store is the per-session fact store. Get returns nil when the session has
// no record or the record expired. Put replaces the record as a whole.
type Store interface {
	Get(sessionID string) *domain.Memory
	Put(sessionID string, m domain.Memory)
}

// TTLStore is an in-memory Store with lazy per-entry expiry: an entry is
// evicted when a Get finds it older than the TTL. Safe for concurrent use
// across sessions; the caller serializes turns within one session.
type TTLStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	memory    domain.Memory
	updatedAt time.Time
}

var _ Store = (*TTLStore)(nil)

// NewTTLStore creates a store with the given TTL. A non-positive TTL falls
// back to DefaultTTL.
func NewTTLStore(ttl time.Duration) *TTLStore {
	return NewTTLStoreWithClock(ttl, time.Now)
}

// NewTTLStoreWithClock creates a store with an injectable clock for tests.
func NewTTLStoreWithClock(ttl time.Duration, now func() time.Time) *TTLStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &TTLStore{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]memoryEntry),
	}
}

// Get returns a copy of the session's fact record, or nil when absent or
// expired. Expired entries are removed on the spot.
func (s *TTLStore) Get(sessionID string) *domain.Memory {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[sessionID]
	if !ok {
		return nil
	}
	if s.now().Sub(e.updatedAt) > s.ttl {
		delete(s.entries, sessionID)
		return nil
	}

	m := e.memory
	return &m
}

// Put stores the session's fact record and resets its expiry.
func (s *TTLStore) Put(sessionID string, m domain.Memory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[sessionID] = memoryEntry{memory: m, updatedAt: s.now()}
}
