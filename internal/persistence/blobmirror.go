package persistence

import (
	"context"
	"fmt"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// buckets
	_ "gocloud.dev/blob/memblob"  // mem:// buckets
	"gocloud.dev/gcerrors"

	"github.com/pitabwire/formflow/model"
)

// BlobMirror mirrors submissions as JSON objects in a gocloud blob bucket,
// typically a directory on disk (file:///var/lib/formflow/mirror).
type BlobMirror struct {
	bucket *blob.Bucket
}

// NewBlobMirror wraps an open bucket.
func NewBlobMirror(bucket *blob.Bucket) *BlobMirror {
	return &BlobMirror{bucket: bucket}
}

// OpenBlobMirror opens the bucket at url. The file and mem schemes are
// registered.
func OpenBlobMirror(ctx context.Context, url string) (*BlobMirror, error) {
	b, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open mirror bucket %q: %w", url, err)
	}
	return NewBlobMirror(b), nil
}

// Name implements Mirror.
func (m *BlobMirror) Name() string { return "blob" }

// Put implements Mirror.
func (m *BlobMirror) Put(ctx context.Context, p string, data []byte) error {
	err := m.bucket.WriteAll(ctx, p, data, &blob.WriterOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("write mirror %s: %w", p, err)
	}
	return nil
}

// Get implements Mirror.
func (m *BlobMirror) Get(ctx context.Context, p string) ([]byte, error) {
	data, err := m.bucket.ReadAll(ctx, p)
	if gcerrors.Code(err) == gcerrors.NotFound {
		return nil, model.NewNotFoundError(fmt.Sprintf("mirror entry %q not found", p))
	}
	if err != nil {
		return nil, fmt.Errorf("read mirror %s: %w", p, err)
	}
	return data, nil
}

// Remove implements Mirror.
func (m *BlobMirror) Remove(ctx context.Context, p string) error {
	err := m.bucket.Delete(ctx, p)
	if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("delete mirror %s: %w", p, err)
	}
	return nil
}

// Close releases the bucket.
func (m *BlobMirror) Close() error {
	return m.bucket.Close()
}
