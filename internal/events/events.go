// Package events announces persisted submissions to other services. Publishing
// is best effort: a failure is logged and counted, never returned to the
// caller whose submission is already durable.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/pitabwire/formflow/internal/observability"
)

// SubjectSubmissionPersisted is the default subject of submission events.
const SubjectSubmissionPersisted = "formflow.submission.persisted"

// SubmissionEvent describes a submission that was written to both stores.
type SubmissionEvent struct {
	SessionID        string    `json:"sessionId"`
	FlowID           string    `json:"flowId"`
	StepID           string    `json:"stepId"`
	FormID           string    `json:"formId"`
	SubmissionID     string    `json:"submissionId"`
	Revision         bool      `json:"revision"`
	FlowCompleted    bool      `json:"flowCompleted"`
	SalesOrderNumber string    `json:"salesOrderNumber,omitempty"`
	ItemNumber       string    `json:"itemNumber,omitempty"`
	OccurredAt       time.Time `json:"occurredAt"`
}

// Publisher publishes submission events.
type Publisher interface {
	PublishSubmission(ctx context.Context, ev SubmissionEvent)
}

// NopPublisher drops every event.
type NopPublisher struct{}

// PublishSubmission implements Publisher.
func (NopPublisher) PublishSubmission(context.Context, SubmissionEvent) {}

// MsgPublisher is the part of *nats.Conn used for publishing.
type MsgPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// Recorder observes publish attempts.
type Recorder interface {
	RecordEventPublish(status string)
}

// NATSPublisher publishes events as JSON messages on a NATS subject.
type NATSPublisher struct {
	conn     MsgPublisher
	subject  string
	logger   *zap.Logger
	recorder Recorder
}

// NewNATSPublisher creates a publisher. An empty subject uses
// SubjectSubmissionPersisted. recorder may be nil.
func NewNATSPublisher(conn MsgPublisher, subject string, logger *zap.Logger, recorder Recorder) *NATSPublisher {
	if subject == "" {
		subject = SubjectSubmissionPersisted
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{conn: conn, subject: subject, logger: logger, recorder: recorder}
}

// Connect dials a NATS server, retrying in the background until it is
// reachable.
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("formflow"),
		nats.Timeout(10*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(3*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
}

// PublishSubmission implements Publisher.
func (p *NATSPublisher) PublishSubmission(ctx context.Context, ev SubmissionEvent) {
	status := "ok"
	defer func() {
		if p.recorder != nil {
			p.recorder.RecordEventPublish(status)
		}
	}()

	data, err := json.Marshal(ev)
	if err != nil {
		status = "error"
		p.logger.Error("encode submission event", zap.Error(err))
		return
	}

	msg := nats.NewMsg(p.subject)
	msg.Data = data
	msg.Header.Set("Nats-Msg-Id", ev.SubmissionID+":"+ev.OccurredAt.UTC().Format(time.RFC3339Nano))
	observability.InjectTraceHeaders(ctx, propagation.HeaderCarrier(http.Header(msg.Header)))

	if err := p.conn.PublishMsg(msg); err != nil {
		status = "error"
		p.logger.Warn("publish submission event failed",
			zap.String("subject", p.subject),
			zap.String("session_id", ev.SessionID),
			zap.String("step_id", ev.StepID),
			zap.String("submission_id", ev.SubmissionID),
			zap.Error(err),
		)
	}
}

// HealthCheck reports whether the underlying connection is up.
func (p *NATSPublisher) HealthCheck(context.Context) error {
	c, ok := p.conn.(interface{ IsConnected() bool })
	if !ok || c.IsConnected() {
		return nil
	}
	return errors.New("nats: not connected")
}
