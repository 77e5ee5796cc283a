// Package persistence durably records form submissions in a primary store and
// mirrors each record to a secondary store, compensating the primary write
// when the mirror write fails.
package persistence

import (
	"context"
	"sort"

	"github.com/pitabwire/formflow/model"
)

// SubmissionStore is the primary database of form submissions. At most one
// record exists per (sessionId, stepId).
type SubmissionStore interface {
	// Insert stores a new submission, assigning its id and timestamps.
	// Returns CONFLICT if a record with the same key exists.
	Insert(ctx context.Context, sub model.FormSubmission) (model.FormSubmission, error)

	// Replace overwrites the record with sub.ID. CreatedAt is stored as
	// given; UpdatedAt is set by the store. Returns NOT_FOUND if no record
	// has the id.
	Replace(ctx context.Context, sub model.FormSubmission) (model.FormSubmission, error)

	// Restore writes sub back exactly as given, UpdatedAt included. It undoes
	// a Replace. Returns NOT_FOUND if no record has the id.
	Restore(ctx context.Context, sub model.FormSubmission) error

	// Get retrieves a submission by id.
	Get(ctx context.Context, id string) (model.FormSubmission, error)

	// FindByKey retrieves the submission for a session step. Returns
	// NOT_FOUND if none exists.
	FindByKey(ctx context.Context, key model.SubmissionKey) (model.FormSubmission, error)

	// Find lists submissions matching filter ordered by submittedAt.
	Find(ctx context.Context, filter model.SubmissionFilter) ([]model.FormSubmission, error)

	// Delete removes a submission by id. Returns NOT_FOUND if nothing was
	// deleted.
	Delete(ctx context.Context, id string) error
}

func sortBySubmittedAt(subs []model.FormSubmission) {
	sort.SliceStable(subs, func(i, j int) bool {
		return subs[i].Metadata.SubmittedAt.Before(subs[j].Metadata.SubmittedAt)
	})
}
