package scheduler

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Runner runs one dispatch pass. *dispatcher.Dispatcher satisfies it.
type Runner interface {
	RunPass(ctx context.Context, now time.Time) (int, error)
}

// Service wakes up on a cron expression and runs a dispatch pass each time.
type Service struct {
	runner Runner
	cron   *cron.Cron
	spec   string
	now    func() time.Time
}

func NewService(runner Runner, spec string) (*Service, error) {
	if err := ValidateCronExpression(spec); err != nil {
		return nil, errors.Wrapf(err, "dispatch schedule %q", spec)
	}
	return &Service{
		runner: runner,
		cron:   cron.New(),
		spec:   spec,
		now:    time.Now,
	}, nil
}

// Start registers the trigger and returns immediately. Passes use ctx for
// listing; tasks they launch are detached from it.
func (s *Service) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.Tick(ctx) }); err != nil {
		return errors.Wrap(err, "register dispatch trigger")
	}
	s.cron.Start()
	log.Info().Str("schedule", s.spec).Msg("dispatch trigger started")
	return nil
}

// Stop halts the trigger. The returned context is done once a pass that is
// currently listing jobs returns.
func (s *Service) Stop() context.Context {
	return s.cron.Stop()
}

// Tick runs one pass at the current time. Errors end the pass; the next
// tick tries again.
func (s *Service) Tick(ctx context.Context) {
	now := s.now()
	n, err := s.runner.RunPass(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("dispatch pass failed")
		return
	}
	log.Debug().Int("launched", n).Time("now", now).Msg("dispatch pass")
}

// ValidateCronExpression validates a cron expression
func ValidateCronExpression(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}

// NextRunTime calculates the next run time for a cron expression
func NextRunTime(expr string, from time.Time) (time.Time, error) {
	cronSchedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	return cronSchedule.Next(from), nil
}
