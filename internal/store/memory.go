package store

import (
	"context"
	"sync"
	"time"

	"github.com/quotaflow/quotaflow/internal/clock"
)

// MemoryStore is a process-local Store backed by a map. Expiry is enforced
// lazily on reads and by a fire-and-forget timer scheduled when an entry is
// created. State is not shared across processes, so the guarantee is
// development-grade only; production deployments should use Redis or REST KV.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	clock   clock.Clock
}

// NewMemoryStore creates a memory store using the given clock.
func NewMemoryStore(c clock.Clock) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*Entry),
		clock:   c,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	if e.Expired(s.clock.Now()) {
		delete(s.entries, key)
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, entry *Entry, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *entry
	s.entries[key] = &cp
	if ttl > 0 {
		s.scheduleSweep(key, ttl)
	}
	return nil
}

func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	e, ok := s.entries[key]
	if ok && !e.Expired(now) {
		e.Count++
		cp := *e
		return &cp, nil
	}

	e = &Entry{Count: 1, ResetTime: now.Add(window)}
	s.entries[key] = e
	s.scheduleSweep(key, window)
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// Close drops all entries. Pending sweep timers become no-ops.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*Entry)
	return nil
}

// Len returns the number of live entries, counting expired ones not yet swept.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// scheduleSweep arranges for key to be removed once ttl elapses. The sweep
// re-checks expiry before deleting so a newer window for the same key is
// left alone. Caller must hold s.mu.
func (s *MemoryStore) scheduleSweep(key string, ttl time.Duration) {
	expired := s.clock.After(ttl)
	go func() {
		<-expired

		s.mu.Lock()
		defer s.mu.Unlock()

		if e, ok := s.entries[key]; ok && e.Expired(s.clock.Now()) {
			delete(s.entries, key)
		}
	}()
}
