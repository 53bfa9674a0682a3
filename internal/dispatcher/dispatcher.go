package dispatcher

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"digestflow/internal/content"
	"digestflow/internal/delivery"
	"digestflow/internal/domain"
	"digestflow/internal/metrics"
	"digestflow/internal/queue"
	"digestflow/internal/recurrence"
	"digestflow/internal/stats"
	"digestflow/internal/worker"
)

// Composer builds the body of an autoSummary job.
type Composer interface {
	Generate(ctx context.Context, in content.Input) content.Output
}

type Options struct {
	Repo    queue.Repository
	Metrics metrics.Source
	Content Composer
	Sender  delivery.Sender
	Pool    *worker.Pool
	Retry   RetryPolicy
	// Now defaults to time.Now.
	Now func() time.Time
}

// Dispatcher finds due jobs and moves each one through
// build content -> deliver -> next state -> conditional persist.
type Dispatcher struct {
	repo    queue.Repository
	metrics metrics.Source
	content Composer
	sender  delivery.Sender
	pool    *worker.Pool
	retry   RetryPolicy
	now     func() time.Time

	passes     atomic.Int64
	delivered  atomic.Int64
	failed     atomic.Int64
	claimed    atomic.Int64
	conflicts  atomic.Int64
	deadLetter atomic.Int64
}

func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		repo:    opts.Repo,
		metrics: opts.Metrics,
		content: opts.Content,
		sender:  opts.Sender,
		pool:    opts.Pool,
		retry:   opts.Retry,
		now:     opts.Now,
	}
	if d.pool == nil {
		d.pool = worker.NewPool(0)
	}
	if d.content == nil {
		d.content = content.NewGenerator(nil)
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// Stats is a point-in-time copy of the dispatch counters.
type Stats struct {
	Passes     int64 `json:"passes"`
	Delivered  int64 `json:"delivered"`
	Failed     int64 `json:"failed"`
	Claimed    int64 `json:"claimed"`
	Conflicts  int64 `json:"conflicts"`
	DeadLetter int64 `json:"dead_letter"`
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Passes:     d.passes.Load(),
		Delivered:  d.delivered.Load(),
		Failed:     d.failed.Load(),
		Claimed:    d.claimed.Load(),
		Conflicts:  d.conflicts.Load(),
		DeadLetter: d.deadLetter.Load(),
	}
}

// RunPass launches one task per job due at now and returns without waiting
// for them. Overlapping passes are safe: only one claim per occurrence applies.
func (d *Dispatcher) RunPass(ctx context.Context, now time.Time) (int, error) {
	d.passes.Add(1)
	jobs, err := d.repo.ListDue(ctx, now)
	if err != nil {
		return 0, errors.Wrap(err, "list due jobs")
	}
	for _, job := range jobs {
		job := job // per-iteration copy; go.mod targets go1.21 loop semantics
		d.pool.Go(ctx, job.ID, func(ctx context.Context) {
			d.process(ctx, job)
		})
	}
	if len(jobs) > 0 {
		log.Info().Int("jobs", len(jobs)).Time("now", now).Msg("dispatch pass launched")
	}
	return len(jobs), nil
}

// Wait blocks until every task launched by RunPass has finished.
func (d *Dispatcher) Wait() {
	d.pool.Wait()
}

func (d *Dispatcher) process(ctx context.Context, job domain.ScheduledJob) {
	logger := log.With().
		Str("job_id", job.ID).
		Str("owner_id", job.OwnerID).
		Time("send_at", job.SendAt).
		Logger()

	if job.Sent {
		return
	}

	if job.Mode == domain.ModeAutoSummary {
		d.compose(ctx, &job, logger)
	}

	err := d.sender.Send(ctx, delivery.Message{
		FromName:   job.FromName,
		Recipients: job.Recipients,
		Subject:    job.Subject,
		Text:       job.Body,
		HTML:       job.BodyHTML,
	})
	if err != nil {
		d.failed.Add(1)
		d.recordFailure(ctx, job, err, logger)
		return
	}
	d.delivered.Add(1)

	outcome := d.nextState(ctx, job, logger)
	if job.Mode == domain.ModeAutoSummary {
		outcome.Body = job.Body
		outcome.BodyHTML = job.BodyHTML
	}

	applied, err := d.repo.MarkOutcome(ctx, job.ID, job.SendAt, outcome)
	if err != nil {
		logger.Error().Err(err).Msg("failed to persist job outcome")
		return
	}
	if !applied {
		d.conflicts.Add(1)
		logger.Debug().Msg("job already advanced by another pass")
		return
	}
	d.claimed.Add(1)

	ev := logger.Info()
	if !outcome.Sent {
		ev = ev.Time("next_send_at", outcome.NextSendAt)
	}
	ev.Bool("sent", outcome.Sent).Msg("job delivered")
}

// compose overwrites the in-memory body of an autoSummary job. It never
// fails; an unreachable metrics source yields a statistics-only body.
func (d *Dispatcher) compose(ctx context.Context, job *domain.ScheduledJob, logger zerolog.Logger) {
	var (
		snap domain.MetricsSnapshot
		err  error
	)
	if d.metrics == nil {
		err = errors.Wrap(domain.ErrUpstreamUnavailable, "no metrics source configured")
	} else {
		snap, err = d.metrics.Fetch(ctx, job.OwnerID)
	}
	if err != nil {
		logger.Warn().Err(err).Msg("metrics unavailable, sending statistics-only summary")
		snap = domain.MetricsSnapshot{}
	}

	out := d.content.Generate(ctx, content.Input{
		OwnerName: snap.OwnerName,
		Model:     job.AIModel,
		Snapshot:  snap,
		Rows:      stats.Aggregate(snap),
		SourceErr: err,
	})
	if !out.Structured {
		logger.Warn().Msg("summary reply was not structured, using raw text")
	}
	job.Body = out.Text
	job.BodyHTML = out.HTML
}

// nextState decides where a delivered job goes. Anything that prevents
// computing a next occurrence finishes the job so it cannot fire in a loop.
func (d *Dispatcher) nextState(ctx context.Context, job domain.ScheduledJob, logger zerolog.Logger) queue.Outcome {
	if job.Mode != domain.ModeAutoSummary && !job.Recurring {
		return queue.Outcome{Sent: true}
	}

	schedule, err := d.repo.GetOwnerSchedule(ctx, job.OwnerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Info().Msg("no owner schedule, finishing job")
		} else {
			logger.Warn().Err(err).Msg("owner schedule unavailable, finishing job")
		}
		return queue.Outcome{Sent: true}
	}

	next, ok := recurrence.Next(schedule, d.now())
	if !ok {
		logger.Info().Str("stop_date", schedule.StopDate).Msg("schedule exhausted")
		return queue.Outcome{Sent: true}
	}
	return queue.Outcome{NextSendAt: next}
}

func (d *Dispatcher) recordFailure(ctx context.Context, job domain.ScheduledJob, cause error, logger zerolog.Logger) {
	failures := job.Failures + 1
	retryAt, terminal := d.retry.decide(failures, d.now())

	applied, err := d.repo.RecordFailure(ctx, job.ID, job.SendAt, queue.Failure{
		Err:      cause.Error(),
		RetryAt:  retryAt,
		Terminal: terminal,
	})
	if err != nil {
		logger.Error().Err(err).AnErr("cause", cause).Msg("delivery failed and could not be recorded")
		return
	}
	if !applied {
		logger.Debug().Err(cause).Msg("delivery failed for an occurrence already advanced")
		return
	}

	if terminal {
		d.deadLetter.Add(1)
		logger.Error().Err(cause).Int("failures", failures).Msg("delivery failed, giving up")
		return
	}
	ev := logger.Warn().Err(cause).Int("failures", failures)
	if !retryAt.IsZero() {
		ev = ev.Time("retry_at", retryAt)
	}
	ev.Msg("delivery failed, job left pending")
}
