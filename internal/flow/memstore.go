package flow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pitabwire/formflow/model"
)

// MemoryStateStore is an in-memory StateStore for testing and single-instance
// deployments.
type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[string]model.FlowState // key: session ID
}

// NewMemoryStateStore creates a new in-memory state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		states: make(map[string]model.FlowState),
	}
}

// Create persists a new session state.
func (s *MemoryStateStore) Create(_ context.Context, state model.FlowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.states[state.SessionID]; exists {
		return model.NewConflictError(
			fmt.Sprintf("session %q already exists", state.SessionID),
		)
	}

	s.states[state.SessionID] = *state.Clone()
	return nil
}

// Get retrieves a session state.
func (s *MemoryStateStore) Get(_ context.Context, sessionID string) (model.FlowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, exists := s.states[sessionID]
	if !exists {
		return model.FlowState{}, model.NewNotFoundError(
			fmt.Sprintf("session %q not found", sessionID),
		)
	}
	return *state.Clone(), nil
}

// Update persists an updated state with optimistic locking.
func (s *MemoryStateStore) Update(_ context.Context, state model.FlowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.states[state.SessionID]
	if !exists {
		return model.NewNotFoundError(
			fmt.Sprintf("session %q not found", state.SessionID),
		)
	}

	if existing.Version != state.Version {
		return model.NewConflictError(
			fmt.Sprintf("session %q version conflict (expected %d, got %d)", state.SessionID, state.Version, existing.Version),
		)
	}

	stored := *state.Clone()
	stored.Version++
	stored.UpdatedAt = time.Now().UTC()
	s.states[state.SessionID] = stored
	return nil
}

// Delete removes a session state.
func (s *MemoryStateStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.states[sessionID]; !exists {
		return model.NewNotFoundError(
			fmt.Sprintf("session %q not found", sessionID),
		)
	}
	delete(s.states, sessionID)
	return nil
}

// Len returns the number of stored sessions. For testing.
func (s *MemoryStateStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}
