// Package memory is the in-process counter backend for tests and single
// instance deployments.
package memory

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count    int64
	expires  time.Time
	duration time.Duration
}

type Store struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

func New() *Store {
	return &Store{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Incr(_ context.Context, key string, windowLen time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[key]
	if !ok || now.After(w.expires) {
		w = &window{expires: now.Add(windowLen), duration: windowLen}
		s.windows[key] = w
	}
	w.count++
	return w.count, w.expires.Sub(now), nil
}

func (s *Store) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
	return nil
}
