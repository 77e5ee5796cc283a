package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/formflow/model"
)

// PgSchema creates the table used by PgStateStore.
const PgSchema = `
CREATE TABLE IF NOT EXISTS flow_sessions (
	session_id   TEXT PRIMARY KEY,
	flow_id      TEXT NOT NULL,
	current_step TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	state        JSONB NOT NULL,
	version      INTEGER NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS flow_sessions_flow_status ON flow_sessions (flow_id, status);`

// PgStateStore is a PostgreSQL-backed StateStore using pgx/v5.
type PgStateStore struct {
	pool *pgxpool.Pool
}

// NewPgStateStore creates a new PostgreSQL state store.
func NewPgStateStore(pool *pgxpool.Pool) *PgStateStore {
	return &PgStateStore{pool: pool}
}

// EnsureSchema creates the flow_sessions table if needed.
func (s *PgStateStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, PgSchema); err != nil {
		return fmt.Errorf("create flow_sessions: %w", err)
	}
	return nil
}

// Create inserts a new session state.
func (s *PgStateStore) Create(ctx context.Context, state model.FlowState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO flow_sessions (
			session_id, flow_id, current_step, status, state, version,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		state.SessionID, state.FlowID, state.CurrentStepID, state.Status, stateJSON, state.Version,
		state.CreatedAt, state.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return model.NewConflictError(fmt.Sprintf("session %q already exists", state.SessionID))
	}
	if err != nil {
		return fmt.Errorf("insert flow session: %w", err)
	}
	return nil
}

// Get retrieves a session state.
func (s *PgStateStore) Get(ctx context.Context, sessionID string) (model.FlowState, error) {
	var stateJSON []byte
	var version int

	err := s.pool.QueryRow(ctx, `
		SELECT state, version
		FROM flow_sessions
		WHERE session_id = $1`,
		sessionID,
	).Scan(&stateJSON, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.FlowState{}, model.NewNotFoundError(
			fmt.Sprintf("session %q not found", sessionID),
		)
	}
	if err != nil {
		return model.FlowState{}, fmt.Errorf("query flow session: %w", err)
	}

	var state model.FlowState
	if err := json.Unmarshal(stateJSON, &state); err != nil {
		return model.FlowState{}, fmt.Errorf("unmarshal state: %w", err)
	}
	state.Version = version
	return state, nil
}

// Update persists an updated state with optimistic locking.
func (s *PgStateStore) Update(ctx context.Context, state model.FlowState) error {
	expected := state.Version
	state.Version++
	state.UpdatedAt = time.Now().UTC()

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE flow_sessions SET
			current_step = $1,
			status = $2,
			state = $3,
			version = $4,
			updated_at = $5
		WHERE session_id = $6 AND version = $7`,
		state.CurrentStepID, state.Status, stateJSON, state.Version,
		state.UpdatedAt, state.SessionID, expected,
	)
	if err != nil {
		return fmt.Errorf("update flow session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("session %q version conflict (expected %d)", state.SessionID, expected),
		)
	}
	return nil
}

// Delete removes a session state.
func (s *PgStateStore) Delete(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM flow_sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("delete flow session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(
			fmt.Sprintf("session %q not found", sessionID),
		)
	}
	return nil
}
