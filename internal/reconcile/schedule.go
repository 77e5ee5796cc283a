package reconcile

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/pitabwire/formflow/model"
)

// Scheduler runs audits on a cron schedule.
type Scheduler struct {
	auditor *Auditor
	filters []model.SubmissionFilter
	fix     bool
	logger  *zap.Logger
	cron    *cron.Cron
}

// NewScheduler registers an audit of each filter on the given schedule, in
// standard five-field cron syntax or a descriptor such as "@every 1h".
func NewScheduler(auditor *Auditor, schedule string, filters []model.SubmissionFilter, fix bool, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{l: logger.Sugar()}
	s := &Scheduler{
		auditor: auditor,
		filters: filters,
		fix:     fix,
		logger:  logger,
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cl),
			cron.Recover(cl),
		)),
	}
	if _, err := s.cron.AddFunc(schedule, s.RunOnce); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins running audits in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops the scheduler and waits for a running audit to finish or ctx
// to end.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// RunOnce audits every configured filter.
func (s *Scheduler) RunOnce() {
	ctx := context.Background()
	for _, f := range s.filters {
		report, err := s.auditor.Audit(ctx, f, s.fix)
		if err != nil {
			s.logger.Error("scheduled audit failed",
				zap.String("session_id", f.SessionID),
				zap.String("sales_order", f.SalesOrderNumber),
				zap.Error(err),
			)
			continue
		}
		s.logger.Info("scheduled audit finished",
			zap.String("session_id", f.SessionID),
			zap.String("sales_order", f.SalesOrderNumber),
			zap.Int("checked", report.Checked),
			zap.Int("missing", report.Count(KindMissing)),
			zap.Int("stale", report.Count(KindStale)),
		)
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
