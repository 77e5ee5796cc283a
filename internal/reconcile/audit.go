// Package reconcile finds database records whose mirror entry is missing or
// out of date, the residue of failed rollbacks, and optionally rewrites the
// mirror from the database.
package reconcile

import (
	"context"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"github.com/pitabwire/formflow/internal/observability"
	"github.com/pitabwire/formflow/internal/persistence"
	"github.com/pitabwire/formflow/model"
)

// Finding kinds.
const (
	KindMissing = "missing"
	KindStale   = "stale"
)

// Finding describes one database record whose mirror entry disagrees.
type Finding struct {
	Kind         string `json:"kind"`
	SubmissionID string `json:"submissionId"`
	SessionID    string `json:"sessionId"`
	StepID       string `json:"stepId"`
	MirrorPath   string `json:"mirrorPath"`
	Fixed        bool   `json:"fixed"`
	Error        string `json:"error,omitempty"`
}

// Report is the result of an audit.
type Report struct {
	Checked  int       `json:"checked"`
	Findings []Finding `json:"findings"`
}

// Count returns the number of findings of a kind.
func (r Report) Count(kind string) int {
	n := 0
	for _, f := range r.Findings {
		if f.Kind == kind {
			n++
		}
	}
	return n
}

// Clean reports whether every checked record is mirrored.
func (r Report) Clean() bool { return len(r.Findings) == 0 }

// Recorder observes audit runs.
type Recorder interface {
	RecordAuditRun(status string, missing, stale int)
}

// Auditor compares the primary store with the mirror.
type Auditor struct {
	store    persistence.SubmissionStore
	mirror   persistence.Mirror
	logger   *zap.Logger
	recorder Recorder
}

// NewAuditor creates an Auditor. logger and recorder may be nil.
func NewAuditor(store persistence.SubmissionStore, mirror persistence.Mirror, logger *zap.Logger, recorder Recorder) *Auditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{store: store, mirror: mirror, logger: logger, recorder: recorder}
}

// Audit checks every submission selected by filter. With fix set, missing and
// stale mirror entries are rewritten from the database record. The database
// is never modified.
func (a *Auditor) Audit(ctx context.Context, filter model.SubmissionFilter, fix bool) (report Report, err error) {
	ctx, span := observability.StartSpan(ctx, "reconcile.Audit",
		observability.AttrSessionID.String(filter.SessionID),
		observability.AttrMirror.String(a.mirror.Name()),
	)
	defer func() {
		if a.recorder != nil {
			status := "ok"
			if err != nil {
				status = "error"
			}
			a.recorder.RecordAuditRun(status, report.Count(KindMissing), report.Count(KindStale))
		}
		observability.EndSpanWithError(span, err)
	}()

	subs, err := a.store.Find(ctx, filter)
	if err != nil {
		return Report{}, err
	}

	for _, sub := range subs {
		report.Checked++
		f, err := a.check(ctx, sub)
		if err != nil {
			return report, err
		}
		if f == nil {
			continue
		}
		if fix {
			if err := a.rewrite(ctx, sub, f.MirrorPath); err != nil {
				f.Error = err.Error()
			} else {
				f.Fixed = true
			}
		}
		a.logger.Warn("audit: mirror entry "+f.Kind,
			zap.String("submission_id", f.SubmissionID),
			zap.String("session_id", f.SessionID),
			zap.String("step_id", f.StepID),
			zap.String("mirror_path", f.MirrorPath),
			zap.Bool("fixed", f.Fixed),
		)
		report.Findings = append(report.Findings, *f)
	}
	return report, nil
}

func (a *Auditor) check(ctx context.Context, sub model.FormSubmission) (*Finding, error) {
	p, err := persistence.MirrorPath(sub)
	if err != nil {
		return nil, fmt.Errorf("submission %s: %w", sub.ID, err)
	}
	finding := &Finding{
		SubmissionID: sub.ID,
		SessionID:    sub.SessionID,
		StepID:       sub.StepID,
		MirrorPath:   p,
	}

	data, err := a.mirror.Get(ctx, p)
	if model.HasCode(err, model.ErrNotFound) {
		finding.Kind = KindMissing
		return finding, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read mirror entry %s: %w", p, err)
	}

	mirrored, err := persistence.DecodeMirror(data)
	if err != nil || !sameRecord(sub, mirrored) {
		finding.Kind = KindStale
		return finding, nil
	}
	return nil, nil
}

func (a *Auditor) rewrite(ctx context.Context, sub model.FormSubmission, p string) error {
	data, err := persistence.EncodeMirror(sub)
	if err != nil {
		return err
	}
	return a.mirror.Put(ctx, p, data)
}

func sameRecord(db, mirrored model.FormSubmission) bool {
	return db.ID == mirrored.ID &&
		db.FormID == mirrored.FormID &&
		db.UpdatedAt.Equal(mirrored.UpdatedAt) &&
		db.Metadata.IsRevision == mirrored.Metadata.IsRevision &&
		db.Metadata.SubmittedAt.Equal(mirrored.Metadata.SubmittedAt) &&
		reflect.DeepEqual(db.FormData, mirrored.FormData)
}
