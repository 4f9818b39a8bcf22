// Package memory is an in-process store used by tests and by
// STORE_MODE=memory runs where nothing should touch the disk.
package memory

import (
	"slices"
	"sync"

	"blinkd/internal/domain"
	"blinkd/internal/store"
)

type Store struct {
	mu    sync.RWMutex
	token string
	queue []domain.BlinkRecord
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) LoadQueue() ([]domain.BlinkRecord, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.queue), 0, nil
}

func (s *Store) SaveQueue(records []domain.BlinkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = slices.Clone(records)
	return nil
}

func (s *Store) LoadToken() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", store.ErrNotFound
	}
	return s.token, nil
}

func (s *Store) SaveToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

func (s *Store) DeleteToken() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return nil
}
