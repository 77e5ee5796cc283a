package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/formflow/model"
)

func TestMirrorPath(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*model.FormSubmission)
		want    string
		wantErr bool
	}{
		{name: "order and item", want: "orders/123456/items/2/sess-1/door-info.json"},
		{
			name:   "order without item",
			mutate: func(s *model.FormSubmission) { s.Metadata.ItemNumber = "" },
			want:   "orders/123456/sess-1/door-info.json",
		},
		{
			name:   "no sales order",
			mutate: func(s *model.FormSubmission) { s.Metadata.SalesOrderNumber = "" },
			want:   "sessions/sess-1/door-info.json",
		},
		{name: "parent segment", mutate: func(s *model.FormSubmission) { s.Metadata.SalesOrderNumber = ".." }, wantErr: true},
		{name: "embedded slash", mutate: func(s *model.FormSubmission) { s.StepID = "a/b" }, wantErr: true},
		{name: "backslash", mutate: func(s *model.FormSubmission) { s.Metadata.ItemNumber = `2\3` }, wantErr: true},
		{name: "empty step", mutate: func(s *model.FormSubmission) { s.StepID = "" }, wantErr: true},
		{name: "empty session", mutate: func(s *model.FormSubmission) { s.SessionID = "" }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := testSubmission()
			if tt.mutate != nil {
				tt.mutate(&sub)
			}
			got, err := MirrorPath(sub)
			if tt.wantErr {
				assert.True(t, model.HasCode(err, model.ErrBadRequest), "err = %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// mirrorSuite exercises the Mirror contract against any driver.
func mirrorSuite(t *testing.T, m Mirror) {
	ctx := context.Background()
	const p = "orders/123456/sess-1/door-info.json"

	t.Run("missing", func(t *testing.T) {
		_, err := m.Get(ctx, p)
		assert.True(t, model.HasCode(err, model.ErrNotFound), "err = %v", err)
		assert.NoError(t, m.Remove(ctx, p))
	})

	t.Run("put get overwrite remove", func(t *testing.T) {
		require.NoError(t, m.Put(ctx, p, []byte(`{"v":1}`)))
		got, err := m.Get(ctx, p)
		require.NoError(t, err)
		assert.JSONEq(t, `{"v":1}`, string(got))

		require.NoError(t, m.Put(ctx, p, []byte(`{"v":2}`)))
		got, err = m.Get(ctx, p)
		require.NoError(t, err)
		assert.JSONEq(t, `{"v":2}`, string(got))

		require.NoError(t, m.Remove(ctx, p))
		_, err = m.Get(ctx, p)
		assert.True(t, model.HasCode(err, model.ErrNotFound))
	})

	t.Run("record round trip", func(t *testing.T) {
		sub := testSubmission()
		sub.ID = "65f1c0ffee0000000000abcd"
		data, err := EncodeMirror(sub)
		require.NoError(t, err)
		require.NoError(t, m.Put(ctx, p, data))

		got, err := m.Get(ctx, p)
		require.NoError(t, err)
		decoded, err := DecodeMirror(got)
		require.NoError(t, err)
		assert.Equal(t, sub.ID, decoded.ID)
		assert.Equal(t, sub.FormData, decoded.FormData)
		assert.True(t, sub.Metadata.SubmittedAt.Equal(decoded.Metadata.SubmittedAt))
	})
}

func TestBlobMirror(t *testing.T) {
	mirrorSuite(t, newMirror(t))
}

func TestBlobMirror_fileBucket(t *testing.T) {
	dir := t.TempDir()
	m, err := OpenBlobMirror(context.Background(), "file://"+filepath.ToSlash(dir))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	mirrorSuite(t, m)

	require.NoError(t, m.Put(context.Background(), "sessions/s1/entry.json", []byte("{}")))
	_, err = os.Stat(filepath.Join(dir, "sessions", "s1", "entry.json"))
	assert.NoError(t, err, "file bucket should lay entries out as directories")
}

func TestRedisMirror(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	mirrorSuite(t, NewRedisMirror(client, "", 0))
}

func TestRedisMirror_prefixAndTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	m := NewRedisMirror(client, "audit:", 0)
	require.NoError(t, m.Put(context.Background(), "sessions/s1/entry.json", []byte("{}")))
	assert.True(t, mr.Exists("audit:sessions/s1/entry.json"))
	assert.Zero(t, mr.TTL("audit:sessions/s1/entry.json"))
}

func TestBadgerMirror(t *testing.T) {
	m, err := OpenBadgerMirror("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	mirrorSuite(t, m)
}

func TestBadgerMirror_onDisk(t *testing.T) {
	dir := t.TempDir()
	m, err := OpenBadgerMirror(dir)
	require.NoError(t, err)
	require.NoError(t, m.Put(context.Background(), "sessions/s1/entry.json", []byte(`{"a":1}`)))
	require.NoError(t, m.Close())

	reopened, err := OpenBadgerMirror(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	got, err := reopened.Get(context.Background(), "sessions/s1/entry.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(got))
}
