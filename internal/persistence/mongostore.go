package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pitabwire/formflow/model"
)

// MongoStore is a MongoDB-backed SubmissionStore.
type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore creates a store over the given collection.
func NewMongoStore(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll}
}

type submissionDoc struct {
	ID        bson.ObjectID  `bson:"_id,omitempty"`
	SessionID string         `bson:"sessionId"`
	ProjectID string         `bson:"projectId,omitempty"`
	ItemID    string         `bson:"itemId,omitempty"`
	StepID    string         `bson:"stepId"`
	FormID    string         `bson:"formId"`
	FormData  map[string]any `bson:"formData"`
	Metadata  metadataDoc    `bson:"metadata"`
	CreatedAt time.Time      `bson:"createdAt"`
	UpdatedAt time.Time      `bson:"updatedAt"`
}

type metadataDoc struct {
	SubmittedAt      time.Time `bson:"submittedAt"`
	FormVersion      string    `bson:"formVersion"`
	UserID           string    `bson:"userId,omitempty"`
	SalesOrderNumber string    `bson:"salesOrderNumber,omitempty"`
	ItemNumber       string    `bson:"itemNumber,omitempty"`
	ProductType      string    `bson:"productType,omitempty"`
	IsRevision       bool      `bson:"isRevision"`
	RenamedFrom      string    `bson:"renamedFrom,omitempty"`
}

// EnsureIndexes creates the unique (sessionId, stepId) index and the lookup
// index used by sales-order queries.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "sessionId", Value: 1}, {Key: "stepId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("session_step_unique"),
		},
		{
			Keys:    bson.D{{Key: "metadata.salesOrderNumber", Value: 1}, {Key: "metadata.itemNumber", Value: 1}},
			Options: options.Index().SetName("sales_order_item"),
		},
	})
	if err != nil {
		return fmt.Errorf("create submission indexes: %w", err)
	}
	return nil
}

// Ping checks connectivity to the database holding the collection.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.coll.Database().Client().Ping(ctx, nil)
}

// Insert stores a new submission.
func (s *MongoStore) Insert(ctx context.Context, sub model.FormSubmission) (model.FormSubmission, error) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	sub.CreatedAt = now
	sub.UpdatedAt = now
	sub.Metadata.SubmittedAt = sub.Metadata.SubmittedAt.UTC().Truncate(time.Millisecond)

	doc := toDoc(sub)
	doc.ID = bson.NewObjectID()
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return model.FormSubmission{}, model.NewConflictError(
				fmt.Sprintf("submission for session %q step %q already exists", sub.SessionID, sub.StepID),
			)
		}
		return model.FormSubmission{}, fmt.Errorf("insert submission: %w", err)
	}
	sub.ID = doc.ID.Hex()
	return sub, nil
}

// Replace overwrites an existing submission.
func (s *MongoStore) Replace(ctx context.Context, sub model.FormSubmission) (model.FormSubmission, error) {
	sub.UpdatedAt = time.Now().UTC()
	sub, err := s.overwrite(ctx, sub)
	if err != nil {
		return model.FormSubmission{}, err
	}
	return sub, nil
}

// Restore overwrites an existing submission without touching UpdatedAt.
func (s *MongoStore) Restore(ctx context.Context, sub model.FormSubmission) error {
	_, err := s.overwrite(ctx, sub)
	return err
}

func (s *MongoStore) overwrite(ctx context.Context, sub model.FormSubmission) (model.FormSubmission, error) {
	oid, err := objectID(sub.ID)
	if err != nil {
		return model.FormSubmission{}, err
	}
	sub.UpdatedAt = sub.UpdatedAt.UTC().Truncate(time.Millisecond)
	sub.CreatedAt = sub.CreatedAt.UTC().Truncate(time.Millisecond)
	sub.Metadata.SubmittedAt = sub.Metadata.SubmittedAt.UTC().Truncate(time.Millisecond)

	doc := toDoc(sub)
	doc.ID = oid
	res, err := s.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: oid}}, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return model.FormSubmission{}, model.NewConflictError(
				fmt.Sprintf("submission for session %q step %q already exists", sub.SessionID, sub.StepID),
			)
		}
		return model.FormSubmission{}, fmt.Errorf("replace submission %s: %w", sub.ID, err)
	}
	if res.MatchedCount == 0 {
		return model.FormSubmission{}, model.NewNotFoundError(fmt.Sprintf("submission %q not found", sub.ID))
	}
	return sub, nil
}

// Get retrieves a submission by id.
func (s *MongoStore) Get(ctx context.Context, id string) (model.FormSubmission, error) {
	oid, err := objectID(id)
	if err != nil {
		return model.FormSubmission{}, err
	}
	return s.findOne(ctx, bson.D{{Key: "_id", Value: oid}}, fmt.Sprintf("submission %q not found", id))
}

// FindByKey retrieves the submission for a session step.
func (s *MongoStore) FindByKey(ctx context.Context, key model.SubmissionKey) (model.FormSubmission, error) {
	filter := bson.D{{Key: "sessionId", Value: key.SessionID}, {Key: "stepId", Value: key.StepID}}
	return s.findOne(ctx, filter, fmt.Sprintf("no submission for session %q step %q", key.SessionID, key.StepID))
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.D, notFound string) (model.FormSubmission, error) {
	var doc submissionDoc
	err := s.coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.FormSubmission{}, model.NewNotFoundError(notFound)
	}
	if err != nil {
		return model.FormSubmission{}, fmt.Errorf("find submission: %w", err)
	}
	return fromDoc(doc), nil
}

// Find lists submissions matching filter ordered by submittedAt.
func (s *MongoStore) Find(ctx context.Context, filter model.SubmissionFilter) ([]model.FormSubmission, error) {
	var q bson.D
	switch {
	case filter.SessionID != "":
		q = bson.D{{Key: "sessionId", Value: filter.SessionID}}
	case filter.SalesOrderNumber != "":
		q = bson.D{{Key: "metadata.salesOrderNumber", Value: filter.SalesOrderNumber}}
		if filter.ItemNumber != "" {
			q = append(q, bson.E{Key: "metadata.itemNumber", Value: filter.ItemNumber})
		}
	default:
		return nil, model.NewBadRequestError("sessionId or salesOrderNumber is required")
	}

	cur, err := s.coll.Find(ctx, q, options.Find().SetSort(bson.D{{Key: "metadata.submittedAt", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find submissions: %w", err)
	}
	var docs []submissionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode submissions: %w", err)
	}
	out := make([]model.FormSubmission, len(docs))
	for i, d := range docs {
		out[i] = fromDoc(d)
	}
	return out, nil
}

// Delete removes a submission by id.
func (s *MongoStore) Delete(ctx context.Context, id string) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	res, err := s.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: oid}})
	if err != nil {
		return fmt.Errorf("delete submission %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return model.NewNotFoundError(fmt.Sprintf("submission %q not found", id))
	}
	return nil
}

func objectID(id string) (bson.ObjectID, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return bson.ObjectID{}, model.NewBadRequestError(fmt.Sprintf("invalid submission id %q", id))
	}
	return oid, nil
}

func toDoc(sub model.FormSubmission) submissionDoc {
	m := sub.Metadata
	return submissionDoc{
		SessionID: sub.SessionID,
		ProjectID: sub.ProjectID,
		ItemID:    sub.ItemID,
		StepID:    sub.StepID,
		FormID:    sub.FormID,
		FormData:  sub.FormData,
		Metadata: metadataDoc{
			SubmittedAt:      m.SubmittedAt,
			FormVersion:      m.FormVersion,
			UserID:           m.UserID,
			SalesOrderNumber: m.SalesOrderNumber,
			ItemNumber:       m.ItemNumber,
			ProductType:      m.ProductType,
			IsRevision:       m.IsRevision,
			RenamedFrom:      m.RenamedFrom,
		},
		CreatedAt: sub.CreatedAt,
		UpdatedAt: sub.UpdatedAt,
	}
}

func fromDoc(d submissionDoc) model.FormSubmission {
	m := d.Metadata
	data := make(map[string]any, len(d.FormData))
	for k, v := range d.FormData {
		data[k] = normalizeBSON(v)
	}
	return model.FormSubmission{
		ID:        d.ID.Hex(),
		SessionID: d.SessionID,
		ProjectID: d.ProjectID,
		ItemID:    d.ItemID,
		StepID:    d.StepID,
		FormID:    d.FormID,
		FormData:  data,
		Metadata: model.SubmissionMetadata{
			SubmittedAt:      m.SubmittedAt.UTC(),
			FormVersion:      m.FormVersion,
			UserID:           m.UserID,
			SalesOrderNumber: m.SalesOrderNumber,
			ItemNumber:       m.ItemNumber,
			ProductType:      m.ProductType,
			IsRevision:       m.IsRevision,
			RenamedFrom:      m.RenamedFrom,
		},
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}

// normalizeBSON converts decoded BSON containers into plain maps and slices
// and integers into float64, matching what a JSON decode produces.
func normalizeBSON(v any) any {
	switch t := v.(type) {
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalizeBSON(e.Value)
		}
		return out
	case bson.M:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalizeBSON(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalizeBSON(e)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeBSON(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeBSON(e)
		}
		return out
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case bson.DateTime:
		return t.Time().UTC().Format(time.RFC3339Nano)
	}
	return v
}
