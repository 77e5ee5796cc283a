package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"

	"github.com/pitabwire/formflow/internal/observability"
	"github.com/pitabwire/formflow/internal/persistence"
	"github.com/pitabwire/formflow/model"
)

type fixture struct {
	store   *persistence.MemorySubmissionStore
	mirror  persistence.Mirror
	coord   *persistence.Coordinator
	metrics *observability.Metrics
	auditor *Auditor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := memblob.OpenBucket(nil)
	t.Cleanup(func() { _ = b.Close() })

	f := &fixture{
		store:   persistence.NewMemorySubmissionStore(),
		mirror:  persistence.NewBlobMirror(b),
		metrics: observability.InitMetrics(prometheus.NewRegistry()),
	}
	f.coord = persistence.NewCoordinator(f.store, f.mirror)
	f.auditor = NewAuditor(f.store, f.mirror, nil, f.metrics)
	return f
}

func submission(step string) model.FormSubmission {
	return model.FormSubmission{
		SessionID: "sess-1",
		StepID:    step,
		FormID:    step,
		FormData:  map[string]any{"width": float64(36)},
		Metadata: model.SubmissionMetadata{
			SubmittedAt:      time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
			FormVersion:      model.DefaultFormVersion,
			SalesOrderNumber: "123456",
		},
	}
}

func (f *fixture) persist(t *testing.T, step string) model.FormSubmission {
	t.Helper()
	res, err := f.coord.Persist(context.Background(), submission(step))
	require.NoError(t, err)
	sub, err := f.store.Get(context.Background(), res.SubmissionID)
	require.NoError(t, err)
	return sub
}

func TestAudit_clean(t *testing.T) {
	f := newFixture(t)
	f.persist(t, "entry")
	f.persist(t, "door-info")

	report, err := f.auditor.Audit(context.Background(), model.SubmissionFilter{SalesOrderNumber: "123456"}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.True(t, report.Clean())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.AuditRunsTotal.WithLabelValues("ok")))
}

func TestAudit_findsMissingAndStale(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	entry := f.persist(t, "entry")
	door := f.persist(t, "door-info")

	p, _ := persistence.MirrorPath(entry)
	require.NoError(t, f.mirror.Remove(ctx, p))

	door.FormData = map[string]any{"width": float64(40)}
	door.UpdatedAt = door.UpdatedAt.Add(time.Minute)
	_, err := f.store.Replace(ctx, door)
	require.NoError(t, err)

	report, err := f.auditor.Audit(ctx, model.SubmissionFilter{SessionID: "sess-1"}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 1, report.Count(KindMissing))
	assert.Equal(t, 1, report.Count(KindStale))
	for _, finding := range report.Findings {
		assert.False(t, finding.Fixed)
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.AuditMismatchesTotal.WithLabelValues("missing")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.AuditMismatchesTotal.WithLabelValues("stale")))

	// Without fix the mirror is left alone.
	_, err = f.mirror.Get(ctx, p)
	assert.True(t, model.HasCode(err, model.ErrNotFound))
}

func TestAudit_fixRewritesMirror(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	entry := f.persist(t, "entry")
	p, _ := persistence.MirrorPath(entry)
	require.NoError(t, f.mirror.Put(ctx, p, []byte("not json")))

	report, err := f.auditor.Audit(ctx, model.SubmissionFilter{SessionID: "sess-1"}, true)
	require.NoError(t, err)
	require.Len(t, report.Findings, 1)
	assert.Equal(t, KindStale, report.Findings[0].Kind)
	assert.True(t, report.Findings[0].Fixed)

	data, err := f.mirror.Get(ctx, p)
	require.NoError(t, err)
	mirrored, err := persistence.DecodeMirror(data)
	require.NoError(t, err)
	assert.Equal(t, entry.ID, mirrored.ID)

	again, err := f.auditor.Audit(ctx, model.SubmissionFilter{SessionID: "sess-1"}, false)
	require.NoError(t, err)
	assert.True(t, again.Clean())
}

// downMirror rejects every write.
type downMirror struct {
	persistence.Mirror
}

func (downMirror) Put(context.Context, string, []byte) error {
	return errors.New("mirror unavailable")
}

func TestAudit_cleanAfterRevisionRollback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.persist(t, "entry")

	revised := submission("entry")
	revised.FormData = map[string]any{"width": float64(48)}
	revised.Metadata.IsRevision = true
	coord := persistence.NewCoordinator(f.store, downMirror{Mirror: f.mirror})
	_, err := coord.Persist(ctx, revised)
	require.Error(t, err)
	require.False(t, model.IsDivergence(err))

	report, err := f.auditor.Audit(ctx, model.SubmissionFilter{SessionID: "sess-1"}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.True(t, report.Clean(), "findings = %+v", report.Findings)
}

func TestAudit_emptyFilter(t *testing.T) {
	f := newFixture(t)
	_, err := f.auditor.Audit(context.Background(), model.SubmissionFilter{}, false)
	assert.True(t, model.HasCode(err, model.ErrBadRequest))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.AuditRunsTotal.WithLabelValues("error")))
}

func TestScheduler_RunOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	entry := f.persist(t, "entry")
	p, _ := persistence.MirrorPath(entry)
	require.NoError(t, f.mirror.Remove(ctx, p))

	s, err := NewScheduler(f.auditor, "@every 1h",
		[]model.SubmissionFilter{{SalesOrderNumber: "123456"}}, true, nil)
	require.NoError(t, err)
	s.RunOnce()

	_, err = f.mirror.Get(ctx, p)
	assert.NoError(t, err)
}

func TestScheduler_badSchedule(t *testing.T) {
	f := newFixture(t)
	_, err := NewScheduler(f.auditor, "every hour", nil, false, nil)
	assert.Error(t, err)
}

func TestScheduler_StartStop(t *testing.T) {
	f := newFixture(t)
	s, err := NewScheduler(f.auditor, "@every 1h", nil, false, nil)
	require.NoError(t, err)
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.NoError(t, ctx.Err())
}
