package storage

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps records in a map for the lifetime of the process. Thread-safe.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*RequestMessage
}

// NewMemoryStore creates a new empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*RequestMessage),
	}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*RequestMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return msg.Clone(), nil
}

func (s *MemoryStore) Put(_ context.Context, msg *RequestMessage) error {
	if msg == nil || msg.ID == "" {
		return fmt.Errorf("put: record id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[msg.ID] = msg.Clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, id)
	return nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries), nil
}

func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*RequestMessage)
	return nil
}
