// Package memory is the in-process pending-request store for tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"civis/internal/kyc"
	"civis/pkg/platform/sentinel"
)

type entry struct {
	pending kyc.Pending
	expires time.Time
}

type Store struct {
	mu      sync.Mutex
	entries map[uuid.UUID]entry
	now     func() time.Time
}

func New() *Store {
	return &Store{
		entries: make(map[uuid.UUID]entry),
		now:     time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Put(_ context.Context, userID uuid.UUID, p kyc.Pending, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[userID] = entry{pending: p, expires: s.now().Add(ttl)}
	return nil
}

func (s *Store) Get(_ context.Context, userID uuid.UUID) (*kyc.Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[userID]
	if !ok || s.now().After(e.expires) {
		delete(s.entries, userID)
		return nil, sentinel.ErrNotFound
	}
	p := e.pending
	return &p, nil
}

func (s *Store) Delete(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, userID)
	return nil
}
