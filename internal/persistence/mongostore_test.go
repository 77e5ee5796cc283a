package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/pitabwire/formflow/model"
)

func TestNormalizeBSON(t *testing.T) {
	in := bson.D{
		{Key: "count", Value: int32(3)},
		{Key: "total", Value: int64(12)},
		{Key: "rows", Value: bson.A{bson.M{"w": int32(1)}, "x"}},
		{Key: "at", Value: bson.NewDateTimeFromTime(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))},
	}
	want := map[string]any{
		"count": float64(3),
		"total": float64(12),
		"rows":  []any{map[string]any{"w": float64(1)}, "x"},
		"at":    "2026-03-01T09:00:00Z",
	}
	assert.Equal(t, want, normalizeBSON(in))
}

func TestDocRoundTrip(t *testing.T) {
	sub := testSubmission()
	sub.ID = bson.NewObjectID().Hex()
	doc := toDoc(sub)
	doc.ID, _ = bson.ObjectIDFromHex(sub.ID)

	got := fromDoc(doc)
	assert.Equal(t, sub.ID, got.ID)
	assert.Equal(t, sub.Metadata, got.Metadata)
	assert.Equal(t, sub.FormData, got.FormData)
}

func TestObjectID_invalid(t *testing.T) {
	_, err := objectID("not-an-id")
	assert.True(t, model.HasCode(err, model.ErrBadRequest))
}
