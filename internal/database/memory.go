package database

import (
	"context"
	"fmt"
	"sync"

	"github.com/darmiel/trustbroker/internal/config"
	"github.com/darmiel/trustbroker/internal/core"
)

const MemoryType = "memory"

var _ core.SessionStore = (*InMemorySessionStore)(nil)

// InMemorySessionStore keeps session records in process memory.
// Records are lost on restart.
type InMemorySessionStore struct {
	mu      sync.RWMutex
	records map[string]core.SessionRecord
}

func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{
		records: make(map[string]core.SessionRecord),
	}
}

func NewMemoryFromConfig(_ context.Context, cfg config.BackendConfig) (core.SessionStore, error) {
	var none struct{}
	if err := cfg.Decode(&none); err != nil {
		return nil, err
	}
	return NewInMemorySessionStore(), nil
}

func (s *InMemorySessionStore) Create(_ context.Context, record *core.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ID]; exists {
		return fmt.Errorf("session '%s' already exists", record.ID)
	}
	s.records[record.ID] = cloneRecord(*record)
	return nil
}

func (s *InMemorySessionStore) Get(_ context.Context, id string) (*core.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, core.ErrRecordNotFound
	}
	cpy := cloneRecord(rec)
	return &cpy, nil
}

func (s *InMemorySessionStore) CompareAndSwapExpiry(_ context.Context, id string, oldExpiry, newExpiry int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.ExpiresAt != oldExpiry {
		return false, nil
	}
	rec.ExpiresAt = newExpiry
	s.records[id] = rec
	return true, nil
}

func (s *InMemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return core.ErrRecordNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *InMemorySessionStore) DeleteExpired(_ context.Context, nowMillis int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deletedCount int64
	for id, rec := range s.records {
		if rec.ExpiresAt <= nowMillis {
			delete(s.records, id)
			deletedCount++
		}
	}
	return deletedCount, nil
}

func (s *InMemorySessionStore) Close() error {
	return nil
}

func cloneRecord(r core.SessionRecord) core.SessionRecord {
	r.Scopes = append([]string(nil), r.Scopes...)
	r.EncryptedPayload = append([]byte(nil), r.EncryptedPayload...)
	return r
}
