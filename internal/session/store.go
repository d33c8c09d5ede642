package session

import (
	"context"
	"sync"
	"time"

	"github.com/homedesign/portal-gateway/internal/domain"
)

// Record is the persisted session boundary format: the opaque backend
// credential and the serialized user record, stored as two values that only
// ever move together.
type Record struct {
	Token string
	User  []byte
}

// Store is the single shared mutable resource of the guard. Every
// implementation must write both Record values atomically: a reader may see
// the old pair or the new pair, never a mix, and Delete removes both.
type Store interface {
	Get(ctx context.Context, sid string) (*Record, error)
	Put(ctx context.Context, sid string, rec Record, ttl time.Duration) error
	Delete(ctx context.Context, sid string) error
}

type memoryEntry struct {
	rec       Record
	expiresAt time.Time
}

// InMemoryStore keeps sessions in process memory. Suitable for tests and
// single-node development runs.
type InMemoryStore struct {
	mu    sync.RWMutex
	store map[string]memoryEntry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{store: make(map[string]memoryEntry)}
}

func (s *InMemoryStore) Get(_ context.Context, sid string) (*Record, error) {
	now := time.Now().UTC()
	s.mu.RLock()
	entry, ok := s.store[sid]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.store, sid)
		s.mu.Unlock()
		return nil, domain.ErrSessionNotFound
	}
	rec := entry.rec
	rec.User = append([]byte(nil), entry.rec.User...)
	return &rec, nil
}

func (s *InMemoryStore) Put(_ context.Context, sid string, rec Record, ttl time.Duration) error {
	entry := memoryEntry{rec: Record{Token: rec.Token, User: append([]byte(nil), rec.User...)}}
	if ttl > 0 {
		entry.expiresAt = time.Now().UTC().Add(ttl)
	}
	s.mu.Lock()
	s.store[sid] = entry
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, sid string) error {
	s.mu.Lock()
	delete(s.store, sid)
	s.mu.Unlock()
	return nil
}
