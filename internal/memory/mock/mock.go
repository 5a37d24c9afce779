// Package mock provides an in-memory [memory.Store] for tests.
package mock

import (
	"context"
	"maps"
	"sync"

	"github.com/voicemesh/voicemesh/internal/memory"
)

// Compile-time assertion that Store satisfies memory.Store.
var _ memory.Store = (*Store)(nil)

// Store is a map-backed memory store. The zero value is not usable; create
// one with [New]. Set FailAll to make every operation return
// [memory.ErrUnavailable], simulating an unreachable backend.
type Store struct {
	mu      sync.Mutex
	bags    map[string]map[string]any
	touches map[string]int

	FailAll bool
}

// New creates an empty mock store.
func New() *Store {
	return &Store{
		bags:    make(map[string]map[string]any),
		touches: make(map[string]int),
	}
}

// Put implements [memory.Store].
func (s *Store) Put(_ context.Context, sessionID string, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAll {
		return memory.ErrUnavailable
	}
	bag, ok := s.bags[sessionID]
	if !ok {
		bag = make(map[string]any, len(patch))
		s.bags[sessionID] = bag
	}
	maps.Copy(bag, patch)
	return nil
}

// Get implements [memory.Store].
func (s *Store) Get(_ context.Context, sessionID string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAll {
		return nil, memory.ErrUnavailable
	}
	out := make(map[string]any, len(s.bags[sessionID]))
	maps.Copy(out, s.bags[sessionID])
	return out, nil
}

// Delete implements [memory.Store].
func (s *Store) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAll {
		return memory.ErrUnavailable
	}
	delete(s.bags, sessionID)
	return nil
}

// Touch implements [memory.Store]. Touches are counted for assertions.
func (s *Store) Touch(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAll {
		return memory.ErrUnavailable
	}
	s.touches[sessionID]++
	return nil
}

// Touches returns how many times sessionID has been touched.
func (s *Store) Touches(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touches[sessionID]
}
