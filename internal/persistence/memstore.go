package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pitabwire/formflow/model"
)

// MemorySubmissionStore is an in-memory SubmissionStore for testing and
// single-instance deployments.
type MemorySubmissionStore struct {
	mu      sync.RWMutex
	records map[string]model.FormSubmission // key: submission ID
	keys    map[model.SubmissionKey]string  // logical key -> submission ID
}

// NewMemorySubmissionStore creates a new in-memory submission store.
func NewMemorySubmissionStore() *MemorySubmissionStore {
	return &MemorySubmissionStore{
		records: make(map[string]model.FormSubmission),
		keys:    make(map[model.SubmissionKey]string),
	}
}

// Insert stores a new submission.
func (s *MemorySubmissionStore) Insert(_ context.Context, sub model.FormSubmission) (model.FormSubmission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.keys[sub.Key()]; exists {
		return model.FormSubmission{}, model.NewConflictError(
			fmt.Sprintf("submission for session %q step %q already exists", sub.SessionID, sub.StepID),
		)
	}

	now := time.Now().UTC()
	sub.ID = uuid.New().String()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	sub.FormData = cloneData(sub.FormData)

	s.records[sub.ID] = sub
	s.keys[sub.Key()] = sub.ID
	return sub, nil
}

// Replace overwrites an existing submission.
func (s *MemorySubmissionStore) Replace(_ context.Context, sub model.FormSubmission) (model.FormSubmission, error) {
	sub.UpdatedAt = time.Now().UTC()
	if err := s.overwrite(sub); err != nil {
		return model.FormSubmission{}, err
	}
	return sub, nil
}

// Restore overwrites an existing submission without touching UpdatedAt.
func (s *MemorySubmissionStore) Restore(_ context.Context, sub model.FormSubmission) error {
	return s.overwrite(sub)
}

func (s *MemorySubmissionStore) overwrite(sub model.FormSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.records[sub.ID]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("submission %q not found", sub.ID))
	}
	if existing.Key() != sub.Key() {
		if owner, taken := s.keys[sub.Key()]; taken && owner != sub.ID {
			return model.NewConflictError(
				fmt.Sprintf("submission for session %q step %q already exists", sub.SessionID, sub.StepID),
			)
		}
		delete(s.keys, existing.Key())
	}

	sub.FormData = cloneData(sub.FormData)
	s.records[sub.ID] = sub
	s.keys[sub.Key()] = sub.ID
	return nil
}

// Get retrieves a submission by id.
func (s *MemorySubmissionStore) Get(_ context.Context, id string) (model.FormSubmission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, exists := s.records[id]
	if !exists {
		return model.FormSubmission{}, model.NewNotFoundError(
			fmt.Sprintf("submission %q not found", id),
		)
	}
	sub.FormData = cloneData(sub.FormData)
	return sub, nil
}

// FindByKey retrieves the submission for a session step.
func (s *MemorySubmissionStore) FindByKey(ctx context.Context, key model.SubmissionKey) (model.FormSubmission, error) {
	s.mu.RLock()
	id, exists := s.keys[key]
	s.mu.RUnlock()

	if !exists {
		return model.FormSubmission{}, model.NewNotFoundError(
			fmt.Sprintf("no submission for session %q step %q", key.SessionID, key.StepID),
		)
	}
	return s.Get(ctx, id)
}

// Find lists submissions matching filter.
func (s *MemorySubmissionStore) Find(_ context.Context, filter model.SubmissionFilter) ([]model.FormSubmission, error) {
	if filter.Empty() {
		return nil, model.NewBadRequestError("sessionId or salesOrderNumber is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.FormSubmission
	for _, sub := range s.records {
		if !matches(sub, filter) {
			continue
		}
		sub.FormData = cloneData(sub.FormData)
		result = append(result, sub)
	}
	sortBySubmittedAt(result)
	return result, nil
}

// Delete removes a submission by id.
func (s *MemorySubmissionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, exists := s.records[id]
	if !exists {
		return model.NewNotFoundError(
			fmt.Sprintf("submission %q not found", id),
		)
	}
	delete(s.records, id)
	delete(s.keys, sub.Key())
	return nil
}

// Len returns the number of stored submissions. For testing.
func (s *MemorySubmissionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func matches(sub model.FormSubmission, f model.SubmissionFilter) bool {
	if f.SessionID != "" {
		return sub.SessionID == f.SessionID
	}
	if sub.Metadata.SalesOrderNumber != f.SalesOrderNumber {
		return false
	}
	return f.ItemNumber == "" || sub.Metadata.ItemNumber == f.ItemNumber
}

func cloneData(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
