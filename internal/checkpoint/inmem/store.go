// Package inmem provides an in-memory implementation of checkpoint.Store.
// It is intended for tests and local development; production deployments
// should use checkpoint/mongocp.
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentcore/runtime/internal/agentstate"
	"github.com/agentcore/runtime/internal/checkpoint"
)

// Store is an in-memory checkpoint.Store. Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	sessions map[string]struct{}
	states   map[string]*agentstate.State
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		sessions: make(map[string]struct{}),
		states:   make(map[string]*agentstate.State),
	}
}

// CreateSession implements checkpoint.Store.
func (s *Store) CreateSession(_ context.Context, _ string, sessionID string, _ time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	s.sessions[sessionID] = struct{}{}
	return sessionID, nil
}

// Get implements checkpoint.Store.
func (s *Store) Get(_ context.Context, sessionID string) (*agentstate.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[sessionID]
	if !ok {
		return nil, checkpoint.ErrNotFound
	}
	return state.Clone(), nil
}

// Put implements checkpoint.Store.
func (s *Store) Put(_ context.Context, sessionID string, state *agentstate.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sessionID] = struct{}{}
	s.states[sessionID] = state.Clone()
	return nil
}

// Delete implements checkpoint.Store.
func (s *Store) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	delete(s.states, sessionID)
	return nil
}
