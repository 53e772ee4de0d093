package cache

import (
	"sync"
	"time"
)

// Entry is one cached value. A failure marker is an entry with FailureReason
// set and no payload: a first-class value, distinct from empty data, kept so
// repeated runs do not re-issue futile network calls.
type Entry struct {
	Payload       []byte
	FailureReason string
	Expiry        time.Time
}

// Failed reports whether the entry memoizes a failure.
func (e Entry) Failed() bool {
	return e.FailureReason != ""
}

// Store is the injectable key-value backend. Implementations must be safe for
// concurrent use; expiry filtering is the caller's concern so backends stay
// dumb.
type Store interface {
	Get(key string) (Entry, bool, error)
	Put(key string, e Entry) error
	Delete(key string) error
	Purge(now time.Time) error
	Close() error
}

// MemoryStore is the in-process Store used by default and by tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (m *MemoryStore) Get(key string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	return e, ok, nil
}

func (m *MemoryStore) Put(key string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = e
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryStore) Purge(now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		if now.After(e.Expiry) {
			delete(m.entries, k)
		}
	}
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
