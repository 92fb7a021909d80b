package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"throttle/internal/models"
	"time"

	"github.com/cespare/xxhash/v2"
)

const memoryShardCount = 64

var errClosed = errors.New("store is closed")

// MemoryStorage keeps counters in process memory. Keys are spread over a
// fixed set of shards and every key carries its own lock, so writers only
// wait on other writers for the same key. Data is lost on restart.
type MemoryStorage struct {
	shards [memoryShardCount]memoryShard
	closed atomic.Bool
}

type memoryShard struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	mu      sync.Mutex
	record  *models.CounterRecord
	removed bool // set once the entry has been unlinked from its shard
}

// NewMemoryStorage creates a new memory-based storage instance
func NewMemoryStorage(config Config) (*MemoryStorage, error) {
	m := &MemoryStorage{}
	for i := range m.shards {
		m.shards[i].entries = make(map[string]*memoryEntry)
	}
	return m, nil
}

func (m *MemoryStorage) shard(key string) *memoryShard {
	return &m.shards[xxhash.Sum64String(key)%memoryShardCount]
}

// entry returns the entry for key, creating an empty one if needed.
func (m *MemoryStorage) entry(key string) *memoryEntry {
	s := m.shard(key)

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[key]; !ok {
		e = &memoryEntry{}
		s.entries[key] = e
	}
	return e
}

// Apply runs fn under the key's lock. The callback runs exactly once.
func (m *MemoryStorage) Apply(ctx context.Context, key string, window time.Duration, fn ApplyFunc) (models.CounterRecord, error) {
	if m.closed.Load() {
		return models.CounterRecord{}, unavailable(errClosed)
	}
	if err := ctx.Err(); err != nil {
		return models.CounterRecord{}, unavailable(err)
	}

	for {
		e := m.entry(key)
		e.mu.Lock()
		if e.removed {
			// Reaped between lookup and lock; the shard now holds a fresh entry.
			e.mu.Unlock()
			continue
		}

		var existing *models.CounterRecord
		if e.record != nil {
			current := *e.record
			existing = &current
		}

		next, write := fn(existing)
		if write {
			next.Key = key
			e.record = &next
		}

		var stored models.CounterRecord
		if e.record != nil {
			stored = *e.record
		}
		e.mu.Unlock()
		return stored, nil
	}
}

// Get returns a copy of the stored record for key
func (m *MemoryStorage) Get(ctx context.Context, key string) (*models.CounterRecord, error) {
	if m.closed.Load() {
		return nil, unavailable(errClosed)
	}

	s := m.shard(key)
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed || e.record == nil {
		return nil, nil
	}
	record := *e.record
	return &record, nil
}

// DeleteBefore drops records whose window started before cutoff. Entries
// that are busy in an Apply are skipped and picked up by a later sweep.
func (m *MemoryStorage) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.closed.Load() {
		return 0, unavailable(errClosed)
	}

	limit := cutoff.Unix()
	var removed int64
	for i := range m.shards {
		if err := ctx.Err(); err != nil {
			return removed, unavailable(err)
		}

		s := &m.shards[i]
		s.mu.Lock()
		for key, e := range s.entries {
			if !e.mu.TryLock() {
				continue
			}
			if e.record == nil || e.record.WindowStart < limit {
				if e.record != nil {
					removed++
				}
				e.removed = true
				delete(s.entries, key)
			}
			e.mu.Unlock()
		}
		s.mu.Unlock()
	}
	return removed, nil
}

// Len reports how many keys currently hold an entry.
func (m *MemoryStorage) Len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

func (m *MemoryStorage) Ping(ctx context.Context) error {
	if m.closed.Load() {
		return unavailable(errClosed)
	}
	return nil
}

// Close marks the store closed; later calls fail with ErrUnavailable.
func (m *MemoryStorage) Close() error {
	m.closed.Store(true)
	return nil
}
