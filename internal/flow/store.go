package flow

import (
	"context"

	"github.com/pitabwire/formflow/model"
)

// StateStore persists session flow states.
type StateStore interface {
	// Create persists a new session state. Returns CONFLICT if the session
	// already exists.
	Create(ctx context.Context, state model.FlowState) error

	// Get retrieves a session state. Returns NOT_FOUND if it doesn't exist.
	Get(ctx context.Context, sessionID string) (model.FlowState, error)

	// Update persists a state with optimistic locking. state.Version must
	// match the stored version; on success the stored version is
	// state.Version+1. Returns CONFLICT if the version has changed.
	Update(ctx context.Context, state model.FlowState) error

	// Delete removes a session state. Returns NOT_FOUND if it doesn't exist.
	Delete(ctx context.Context, sessionID string) error
}
