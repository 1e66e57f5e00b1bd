package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type StaleReconciler interface {
	ReconcileStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// Scheduler периодически сверяет зависшие pending-платежи.
type Scheduler struct {
	reconciler StaleReconciler
	schedule   cron.Schedule
	spec       string
	olderThan  time.Duration
	timeout    time.Duration
	log        zerolog.Logger
}

func New(r StaleReconciler, spec string, olderThan time.Duration, log zerolog.Logger) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("reconcile schedule %q: %w", spec, err)
	}
	return &Scheduler{
		reconciler: r,
		schedule:   schedule,
		spec:       spec,
		olderThan:  olderThan,
		timeout:    2 * time.Minute,
		log:        log,
	}, nil
}

// Run блокируется до отмены ctx, затем дожидается текущего прогона.
func (s *Scheduler) Run(ctx context.Context) error {
	clog := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	c.Schedule(s.schedule, cron.FuncJob(func() { s.RunOnce(ctx) }))

	c.Start()
	s.log.Info().Str("schedule", s.spec).Dur("older_than", s.olderThan).Msg("reconcile scheduler started")

	<-ctx.Done()
	<-c.Stop().Done()
	s.log.Info().Msg("reconcile scheduler stopped")
	return nil
}

func (s *Scheduler) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.reconciler.ReconcileStale(ctx, s.olderThan)
	if err != nil {
		s.log.Error().Err(err).Int("resolved", n).Msg("stale payment sweep failed")
		return
	}
	s.log.Debug().Int("resolved", n).Msg("stale payment sweep done")
}

// cronLogger пускает сообщения cron в zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
