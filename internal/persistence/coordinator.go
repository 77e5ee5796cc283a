package persistence

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/formflow/internal/observability"
	"github.com/pitabwire/formflow/model"
)

// Persist outcomes reported to the Recorder.
const (
	OutcomeInserted   = "inserted"
	OutcomeRevised    = "revised"
	OutcomeDBFailed   = "db_failed"
	OutcomeRolledBack = "rolled_back"
	OutcomeDiverged   = "diverged"
)

// Recorder observes persist outcomes.
type Recorder interface {
	RecordPersist(mirror, outcome string, duration time.Duration)
	RecordDivergence(mirror string)
}

type nopRecorder struct{}

func (nopRecorder) RecordPersist(string, string, time.Duration) {}
func (nopRecorder) RecordDivergence(string)                     {}

// Coordinator writes each submission to the primary store and then to the
// mirror. A mirror failure is compensated on the primary store so that a
// record visible in the database always has a mirror entry. There is no
// two-phase commit: if compensation fails the stores have diverged and an
// operator must reconcile them.
type Coordinator struct {
	store    SubmissionStore
	mirror   Mirror
	logger   *zap.Logger
	recorder Recorder
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger used for divergence reports.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

// NewCoordinator creates a new Coordinator.
func NewCoordinator(store SubmissionStore, mirror Mirror, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    store,
		mirror:   mirror,
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Store returns the primary store.
func (c *Coordinator) Store() SubmissionStore { return c.store }

// Mirror returns the mirror store.
func (c *Coordinator) Mirror() Mirror { return c.mirror }

// Persist durably records sub. The first submission of a (sessionId, stepId)
// is inserted; later ones replace it in place as revisions. On any failure a
// PERSISTENCE_ERROR is returned and, unless it wraps a DIVERGENCE, nothing of
// this attempt remains in either store.
func (c *Coordinator) Persist(ctx context.Context, sub model.FormSubmission) (result model.PersistResult, err error) {
	ctx, span := observability.StartSpan(ctx, "persistence.Persist",
		observability.AttrSessionID.String(sub.SessionID),
		observability.AttrStepID.String(sub.StepID),
		observability.AttrMirror.String(c.mirror.Name()),
	)
	start := time.Now()
	outcome := OutcomeDBFailed
	defer func() {
		c.recorder.RecordPersist(c.mirror.Name(), outcome, time.Since(start))
		observability.EndSpanWithError(span, err)
	}()

	mirrorPath, err := MirrorPath(sub)
	if err != nil {
		return model.PersistResult{}, err
	}

	prior, found, err := c.lookup(ctx, sub.Key())
	if err != nil {
		return model.PersistResult{}, model.NewPersistenceError("lookup existing submission failed", err)
	}

	var saved model.FormSubmission
	if found {
		sub.ID = prior.ID
		sub.CreatedAt = prior.CreatedAt
		saved, err = c.store.Replace(ctx, sub)
	} else {
		saved, err = c.store.Insert(ctx, sub)
	}
	if err != nil {
		return model.PersistResult{}, model.NewPersistenceError("database write failed", err)
	}

	data, err := EncodeMirror(saved)
	if err == nil {
		err = c.mirror.Put(ctx, mirrorPath, data)
	}
	if err != nil {
		mirrorErr := err
		if cerr := c.compensate(ctx, saved, prior, found); cerr != nil {
			outcome = OutcomeDiverged
			div := model.NewDivergenceError(saved.ID, cerr).
				WithContext("session_id", sub.SessionID).
				WithContext("step_id", sub.StepID).
				WithContext("mirror_path", mirrorPath)
			c.recorder.RecordDivergence(c.mirror.Name())
			c.logger.Error("persist: rollback failed, database and mirror diverged",
				zap.String("submission_id", saved.ID),
				zap.String("session_id", sub.SessionID),
				zap.String("step_id", sub.StepID),
				zap.String("mirror", c.mirror.Name()),
				zap.String("mirror_path", mirrorPath),
				zap.Bool("revision", found),
				zap.NamedError("mirror_error", mirrorErr),
				zap.NamedError("rollback_error", cerr),
			)
			return model.PersistResult{}, model.NewPersistenceError("mirror write failed and rollback failed", div)
		}
		outcome = OutcomeRolledBack
		c.logger.Warn("persist: mirror write failed, database write rolled back",
			zap.String("session_id", sub.SessionID),
			zap.String("step_id", sub.StepID),
			zap.String("mirror", c.mirror.Name()),
			zap.Error(mirrorErr),
		)
		return model.PersistResult{}, model.NewPersistenceError("mirror write failed", mirrorErr)
	}

	outcome = OutcomeInserted
	if found {
		outcome = OutcomeRevised
	}
	return model.PersistResult{SubmissionID: saved.ID, Revision: found}, nil
}

func (c *Coordinator) lookup(ctx context.Context, key model.SubmissionKey) (model.FormSubmission, bool, error) {
	prior, err := c.store.FindByKey(ctx, key)
	if model.HasCode(err, model.ErrNotFound) {
		return model.FormSubmission{}, false, nil
	}
	if err != nil {
		return model.FormSubmission{}, false, err
	}
	return prior, true, nil
}

// compensate undoes the database write of a failed persist: an insert is
// deleted, a replacement is restored exactly to the prior version so it
// matches the mirror entry again.
func (c *Coordinator) compensate(ctx context.Context, saved, prior model.FormSubmission, replaced bool) error {
	// The caller may have given up; the rollback must still run.
	ctx = context.WithoutCancel(ctx)
	if replaced {
		if err := c.store.Restore(ctx, prior); err != nil {
			return fmt.Errorf("restore submission %s: %w", prior.ID, err)
		}
		return nil
	}
	if err := c.store.Delete(ctx, saved.ID); err != nil {
		return fmt.Errorf("delete submission %s: %w", saved.ID, err)
	}
	return nil
}

// Delete removes a submission and its mirror entry. This is the explicit
// rollback of a persisted submission.
func (c *Coordinator) Delete(ctx context.Context, id string) (model.FormSubmission, error) {
	sub, err := c.store.Get(ctx, id)
	if err != nil {
		return model.FormSubmission{}, err
	}
	if err := c.store.Delete(ctx, id); err != nil {
		return model.FormSubmission{}, err
	}
	if p, err := MirrorPath(sub); err == nil {
		if err := c.mirror.Remove(ctx, p); err != nil {
			c.logger.Warn("delete: mirror entry not removed",
				zap.String("submission_id", id),
				zap.String("mirror_path", p),
				zap.Error(err),
			)
		}
	}
	return sub, nil
}
