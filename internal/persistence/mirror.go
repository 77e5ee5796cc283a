package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/pitabwire/formflow/model"
)

// Mirror is the secondary copy of every submission, addressed by a logical
// path derived from the submission.
type Mirror interface {
	// Put writes data at p, replacing any previous content.
	Put(ctx context.Context, p string, data []byte) error
	// Get reads the content at p. Returns NOT_FOUND if nothing is stored.
	Get(ctx context.Context, p string) ([]byte, error)
	// Remove deletes p. Removing a missing path is not an error.
	Remove(ctx context.Context, p string) error
	// Name identifies the mirror driver in logs and metrics.
	Name() string
}

// MirrorPath returns the logical path of a submission's mirror entry:
// orders/<salesOrder>[/items/<item>]/<sessionId>/<stepId>.json when a sales
// order is known, sessions/<sessionId>/<stepId>.json otherwise.
func MirrorPath(sub model.FormSubmission) (string, error) {
	segs := []string{"sessions"}
	if so := sub.Metadata.SalesOrderNumber; so != "" {
		segs = []string{"orders", so}
		if item := sub.Metadata.ItemNumber; item != "" {
			segs = append(segs, "items", item)
		}
	}
	segs = append(segs, sub.SessionID, sub.StepID+".json")

	for _, s := range segs {
		if err := checkSegment(s); err != nil {
			return "", err
		}
	}
	return path.Join(segs...), nil
}

func checkSegment(s string) error {
	switch {
	case s == "" || s == ".json":
		return model.NewBadRequestError("mirror path segment is empty")
	case s == "." || s == ".." || strings.ContainsAny(s, `/\`) || strings.Contains(s, ".."):
		return model.NewBadRequestError(fmt.Sprintf("mirror path segment %q is not allowed", s))
	}
	return nil
}

// EncodeMirror renders the mirror record of a persisted submission.
func EncodeMirror(sub model.FormSubmission) ([]byte, error) {
	data, err := json.MarshalIndent(sub, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode mirror record %s: %w", sub.ID, err)
	}
	return data, nil
}

// DecodeMirror parses a mirror record.
func DecodeMirror(data []byte) (model.FormSubmission, error) {
	var sub model.FormSubmission
	if err := json.Unmarshal(data, &sub); err != nil {
		return model.FormSubmission{}, fmt.Errorf("decode mirror record: %w", err)
	}
	return sub, nil
}
