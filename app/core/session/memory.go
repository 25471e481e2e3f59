package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Data
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Data)}
}

func (s *MemoryStore) Create(_ context.Context, data *Data) error {
	now := time.Now()
	data.CreatedAt = now
	data.UpdatedAt = now
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[data.ID] = *data
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Data, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := data
	return &out, nil
}

func (s *MemoryStore) Update(_ context.Context, data *Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[data.ID]; !ok {
		return ErrNotFound
	}
	data.UpdatedAt = time.Now()
	s.sessions[data.ID] = *data
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
