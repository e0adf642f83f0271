package audit

import (
	"context"
	"sync"
	"time"
)

type header struct {
	meta      Meta
	startedAt time.Time
}

// MemoryStore is an in-memory Store for tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	headers map[string]header
	entries map[string][]Entry
}

// NewMemoryStore creates an empty in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		headers: make(map[string]header),
		entries: make(map[string][]Entry),
	}
}

func key(tenantID, conversationID string) string {
	return tenantID + ":" + conversationID
}

func (s *MemoryStore) UpsertHeader(ctx context.Context, meta Meta, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(meta.TenantID, meta.ConversationID)
	if _, ok := s.headers[k]; !ok {
		s.headers[k] = header{meta: meta, startedAt: startedAt}
	}
	return nil
}

func (s *MemoryStore) AppendEntry(ctx context.Context, meta Meta, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(meta.TenantID, meta.ConversationID)
	s.entries[k] = append(s.entries[k], *entry)
	return nil
}

func (s *MemoryStore) CountByKind(ctx context.Context, tenantID, conversationID string, kind Kind) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.entries[key(tenantID, conversationID)] {
		if e.Kind == kind {
			n++
		}
	}
	return n, nil
}

// Entries returns a copy of the conversation's entries, in append order.
func (s *MemoryStore) Entries(tenantID, conversationID string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.entries[key(tenantID, conversationID)]
	out := make([]Entry, len(src))
	copy(out, src)
	return out
}

// HasHeader reports whether the conversation header exists.
func (s *MemoryStore) HasHeader(tenantID, conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.headers[key(tenantID, conversationID)]
	return ok
}
