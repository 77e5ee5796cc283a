// Package session drives form-flow sessions end to end: it loads a session's
// state, applies the flow executor, persists accepted submissions through the
// persistence coordinator and saves the new state.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/formflow/internal/events"
	"github.com/pitabwire/formflow/internal/flow"
	"github.com/pitabwire/formflow/internal/observability"
	"github.com/pitabwire/formflow/internal/persistence"
	"github.com/pitabwire/formflow/model"
)

// StartRequest opens a new session on a flow.
type StartRequest struct {
	FlowID    string                `json:"flowId"`
	SessionID string                `json:"sessionId,omitempty"`
	Revision  bool                  `json:"isRevision,omitempty"`
	Metadata  model.SessionMetadata `json:"metadata"`
}

// SubmitRequest carries one step's raw form data.
type SubmitRequest struct {
	SessionID string         `json:"sessionId"`
	StepID    string         `json:"stepId"`
	FormID    string         `json:"formId,omitempty"`
	FormData  map[string]any `json:"formData"`
	Metadata  SubmitMetadata `json:"metadata"`
	// IdempotencyKey deduplicates retries of the same submit.
	IdempotencyKey string `json:"-"`
}

// SubmitMetadata is caller-supplied context of a single submission.
type SubmitMetadata struct {
	UserID string `json:"userId,omitempty"`
}

// SubmitResponse is returned for an accepted submission.
type SubmitResponse struct {
	Success      bool                 `json:"success"`
	SubmissionID string               `json:"submissionId"`
	Revision     bool                 `json:"revision"`
	Completed    bool                 `json:"completed"`
	Hidden       []string             `json:"hiddenFields,omitempty"`
	Actions      []model.ActionStatus `json:"actions,omitempty"`
	State        model.FlowState      `json:"state"`
	Progress     model.Progress       `json:"progress"`
}

// Recorder observes session activity.
type Recorder interface {
	RecordSessionStart(flowID string, revision bool)
	RecordSessionCompletion(flowID string)
	RecordSessionReset(flowID string)
	RecordStepSubmission(flowID, stepID, result string, duration time.Duration)
	RecordValidationFailure(formID string)
}

type nopRecorder struct{}

func (nopRecorder) RecordSessionStart(string, bool)                            {}
func (nopRecorder) RecordSessionCompletion(string)                             {}
func (nopRecorder) RecordSessionReset(string)                                  {}
func (nopRecorder) RecordStepSubmission(string, string, string, time.Duration) {}
func (nopRecorder) RecordValidationFailure(string)                             {}

// Service runs sessions against a flow executor, a state store and the
// persistence coordinator.
type Service struct {
	executor    *flow.Executor
	states      flow.StateStore
	coordinator *persistence.Coordinator
	publisher   events.Publisher
	idempotency IdempotencyStore
	idemTTL     time.Duration
	recorder    Recorder
	logger      *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the fallback logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithPublisher sets the submission event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithIdempotencyStore enables replay of keyed submits for ttl.
func WithIdempotencyStore(store IdempotencyStore, ttl time.Duration) Option {
	return func(s *Service) {
		s.idempotency = store
		s.idemTTL = ttl
	}
}

// NewService creates a Service.
func NewService(executor *flow.Executor, states flow.StateStore, coordinator *persistence.Coordinator, opts ...Option) *Service {
	s := &Service{
		executor:    executor,
		states:      states,
		coordinator: coordinator,
		publisher:   events.NopPublisher{},
		idemTTL:     DefaultIdempotencyTTL,
		recorder:    nopRecorder{},
		logger:      zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start creates the initial state of a new session and saves it.
func (s *Service) Start(ctx context.Context, req StartRequest) (model.FlowState, error) {
	if req.FlowID == "" {
		return model.FlowState{}, model.NewBadRequestError("flowId is required")
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if req.Metadata.UserID == "" {
		req.Metadata.UserID = model.UserIDFrom(ctx)
	}

	ctx, span := observability.StartSpan(ctx, "session.Start",
		observability.AttrSessionID.String(sessionID),
		observability.AttrFlowID.String(req.FlowID),
		observability.AttrRevision.Bool(req.Revision),
	)
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	state, err := s.executor.Start(req.FlowID, sessionID, req.Metadata, req.Revision)
	if err != nil {
		return model.FlowState{}, err
	}
	if err = s.states.Create(ctx, *state); err != nil {
		return model.FlowState{}, err
	}

	s.recorder.RecordSessionStart(req.FlowID, req.Revision)
	observability.RequestLogger(ctx, s.logger).Info("session started",
		zap.String("session_id", sessionID),
		zap.String("flow_id", req.FlowID),
		zap.String("entry_step", state.CurrentStepID),
		zap.Bool("revision", req.Revision),
	)
	return *state, nil
}

// State returns the saved state of a session.
func (s *Service) State(ctx context.Context, sessionID string) (model.FlowState, error) {
	return s.states.Get(ctx, sessionID)
}

// Submit validates and persists one step's data and advances the session.
// The submission is durable in both stores before the new state is saved; if
// saving the state then conflicts, CONFLICT is returned and a retry of the
// same step revises the stored record instead of duplicating it.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (resp SubmitResponse, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "session.Submit",
		observability.AttrSessionID.String(req.SessionID),
		observability.AttrStepID.String(req.StepID),
	)
	flowID := ""
	defer func() {
		result := "ok"
		if err != nil {
			result = errorCode(err)
		}
		if flowID != "" {
			s.recorder.RecordStepSubmission(flowID, req.StepID, result, time.Since(start))
		}
		observability.EndSpanWithError(span, err)
	}()

	var idemKey, idemHash string
	if s.idempotency != nil && req.IdempotencyKey != "" {
		idemKey = FormatIdempotencyKey(req.SessionID, req.IdempotencyKey)
		idemHash = hashSubmit(req)
		cached, found, err := s.idempotency.Check(ctx, idemKey, idemHash)
		if err != nil {
			return SubmitResponse{}, err
		}
		if found && cached != nil {
			return *cached, nil
		}
	}

	state, err := s.states.Get(ctx, req.SessionID)
	if err != nil {
		return SubmitResponse{}, err
	}
	flowID = state.FlowID
	span.SetAttributes(observability.AttrFlowID.String(flowID))

	if tab, ok := state.Tab(req.StepID); ok && req.FormID != "" && tab.FormID != req.FormID {
		return SubmitResponse{}, model.NewBadRequestError(
			fmt.Sprintf("form %q does not belong to step %q", req.FormID, tab.StepID))
	}

	next, result, err := s.executor.Submit(&state, req.StepID, req.FormData)
	if err != nil {
		if model.HasCode(err, model.ErrValidationError) {
			formID := req.FormID
			if tab, ok := state.Tab(req.StepID); ok {
				formID = tab.FormID
			}
			s.recorder.RecordValidationFailure(formID)
		}
		return SubmitResponse{}, err
	}

	sub := result.Submission
	if sub.Metadata.UserID == "" {
		sub.Metadata.UserID = req.Metadata.UserID
	}
	if sub.Metadata.UserID == "" {
		sub.Metadata.UserID = model.UserIDFrom(ctx)
	}

	persisted, err := s.coordinator.Persist(ctx, sub)
	if err != nil {
		s.logSubmitFailure(ctx, req, err)
		return SubmitResponse{}, err
	}

	if err = s.states.Update(ctx, *next); err != nil {
		if model.HasCode(err, model.ErrConflict) {
			return SubmitResponse{}, model.NewConflictError(
				fmt.Sprintf("session %q changed while step %q was being saved; reload and retry", req.SessionID, req.StepID)).
				WithContext("submission_id", persisted.SubmissionID)
		}
		return SubmitResponse{}, err
	}
	next.Version++

	if result.Completed {
		s.recorder.RecordSessionCompletion(flowID)
	}

	s.publisher.PublishSubmission(ctx, events.SubmissionEvent{
		SessionID:        req.SessionID,
		FlowID:           flowID,
		StepID:           sub.StepID,
		FormID:           sub.FormID,
		SubmissionID:     persisted.SubmissionID,
		Revision:         persisted.Revision,
		FlowCompleted:    result.Completed,
		SalesOrderNumber: sub.Metadata.SalesOrderNumber,
		ItemNumber:       sub.Metadata.ItemNumber,
		OccurredAt:       time.Now().UTC(),
	})

	observability.RequestLogger(ctx, s.logger).Info("step submitted",
		zap.String("session_id", req.SessionID),
		zap.String("flow_id", flowID),
		zap.String("step_id", sub.StepID),
		zap.String("submission_id", persisted.SubmissionID),
		zap.Bool("revision", persisted.Revision),
		zap.Bool("completed", result.Completed),
		zap.Strings("hidden_fields", result.Hidden),
	)

	resp = SubmitResponse{
		Success:      true,
		SubmissionID: persisted.SubmissionID,
		Revision:     persisted.Revision,
		Completed:    result.Completed,
		Hidden:       result.Hidden,
		Actions:      result.Actions,
		State:        *next,
		Progress:     flow.Progress(next),
	}

	if idemKey != "" {
		if err := s.idempotency.Store(ctx, idemKey, idemHash, resp, s.idemTTL); err != nil {
			observability.RequestLogger(ctx, s.logger).Warn("idempotency result not stored",
				zap.String("session_id", req.SessionID),
				zap.Error(err),
			)
		}
	}
	return resp, nil
}

// Navigate opens a completed tab for viewing or revision and saves the
// session.
func (s *Service) Navigate(ctx context.Context, sessionID, formID string) (model.FlowState, error) {
	state, err := s.states.Get(ctx, sessionID)
	if err != nil {
		return model.FlowState{}, err
	}
	next, err := s.executor.Navigate(&state, formID)
	if err != nil {
		return model.FlowState{}, err
	}
	if err := s.states.Update(ctx, *next); err != nil {
		return model.FlowState{}, err
	}
	next.Version++
	return *next, nil
}

// Prefill returns the initial values of a tab's form.
func (s *Service) Prefill(ctx context.Context, sessionID, formID string) (model.Values, error) {
	state, err := s.states.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.executor.Prefill(&state, formID)
}

// Progress summarizes how many tabs of a session are complete.
func (s *Service) Progress(ctx context.Context, sessionID string) (model.Progress, error) {
	state, err := s.states.Get(ctx, sessionID)
	if err != nil {
		return model.Progress{}, err
	}
	return flow.Progress(&state), nil
}

// Reset discards a session's state. Persisted submissions are kept.
func (s *Service) Reset(ctx context.Context, sessionID string) error {
	state, err := s.states.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.states.Delete(ctx, sessionID); err != nil {
		return err
	}
	if !state.Completed() {
		s.recorder.RecordSessionReset(state.FlowID)
	}
	observability.RequestLogger(ctx, s.logger).Info("session reset",
		zap.String("session_id", sessionID),
		zap.String("flow_id", state.FlowID),
	)
	return nil
}

func (s *Service) logSubmitFailure(ctx context.Context, req SubmitRequest, err error) {
	logger := observability.RequestLogger(ctx, s.logger)
	fields := []zap.Field{
		zap.String("session_id", req.SessionID),
		zap.String("step_id", req.StepID),
		zap.Any("form_data", observability.RedactValues(req.FormData)),
		zap.Error(err),
	}
	if model.IsDivergence(err) {
		logger.Error("submit: stores diverged", fields...)
		return
	}
	logger.Warn("submit: persist failed", fields...)
}

func errorCode(err error) string {
	var env *model.ErrorEnvelope
	if errors.As(err, &env) {
		return env.Code
	}
	return model.ErrInternalError
}
