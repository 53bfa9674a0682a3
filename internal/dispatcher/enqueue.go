package dispatcher

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"

	"digestflow/internal/domain"
	"digestflow/internal/recurrence"
)

type EnqueueRequest struct {
	// ID replaces a pending job with the same id when set.
	ID         string      `json:"id,omitempty"`
	OwnerID    string      `json:"owner_id"`
	Recipients []string    `json:"recipients"`
	Subject    string      `json:"subject"`
	Body       string      `json:"body"`
	BodyHTML   string      `json:"body_html"`
	SendAt     *time.Time  `json:"send_at,omitempty"`
	Mode       domain.Mode `json:"mode"`
	Recurring  bool        `json:"recurring"`
	AIModel    string      `json:"ai_model"`
	FromName   string      `json:"from_name"`
}

// Enqueue validates req and stores it as a pending job. Without an explicit
// SendAt the first send is the owner's next scheduled occurrence when the job
// follows a schedule, and now otherwise.
func (d *Dispatcher) Enqueue(ctx context.Context, req EnqueueRequest) (domain.ScheduledJob, error) {
	job, err := validate(req)
	if err != nil {
		return domain.ScheduledJob{}, err
	}

	switch {
	case req.SendAt != nil:
		job.SendAt = req.SendAt.UTC()
	case job.Mode == domain.ModeAutoSummary || job.Recurring:
		at, err := d.firstOccurrence(ctx, job.OwnerID)
		if err != nil {
			return domain.ScheduledJob{}, err
		}
		job.SendAt = at
	default:
		job.SendAt = d.now().UTC()
	}

	id, err := d.repo.Upsert(ctx, job)
	if err != nil {
		return domain.ScheduledJob{}, err
	}
	stored, err := d.repo.Get(ctx, id)
	if err != nil {
		return domain.ScheduledJob{}, err
	}

	log.Info().
		Str("job_id", id).
		Str("owner_id", stored.OwnerID).
		Str("mode", string(stored.Mode)).
		Time("send_at", stored.SendAt).
		Msg("job enqueued")
	return stored, nil
}

// NextOccurrence previews when ownerID's schedule fires next.
// ok is false when the schedule is past its stop date.
func (d *Dispatcher) NextOccurrence(ctx context.Context, ownerID string) (next time.Time, ok bool, err error) {
	s, err := d.repo.GetOwnerSchedule(ctx, ownerID)
	if err != nil {
		return time.Time{}, false, err
	}
	next, ok = recurrence.Next(s, d.now())
	return next, ok, nil
}

func (d *Dispatcher) firstOccurrence(ctx context.Context, ownerID string) (time.Time, error) {
	next, ok, err := d.NextOccurrence(ctx, ownerID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return d.now().UTC(), nil
	case err != nil:
		return time.Time{}, err
	case !ok:
		return time.Time{}, domain.Validationf("schedule for owner %s has passed its stop date", ownerID)
	}
	return next, nil
}

func validate(req EnqueueRequest) (domain.ScheduledJob, error) {
	mode := req.Mode
	if mode == "" {
		mode = domain.ModeManual
	}
	if mode != domain.ModeManual && mode != domain.ModeAutoSummary {
		return domain.ScheduledJob{}, domain.Validationf("unknown mode %q", req.Mode)
	}

	recipients := make([]string, 0, len(req.Recipients))
	for _, r := range req.Recipients {
		r = strings.TrimSpace(r)
		if r == "" {
			return domain.ScheduledJob{}, domain.Validationf("recipients must not contain blank entries")
		}
		recipients = append(recipients, r)
	}
	if len(recipients) == 0 {
		return domain.ScheduledJob{}, domain.Validationf("at least one recipient is required")
	}

	if strings.TrimSpace(req.Subject) == "" {
		return domain.ScheduledJob{}, domain.Validationf("subject is required")
	}
	owner := strings.TrimSpace(req.OwnerID)
	switch {
	case mode == domain.ModeManual && strings.TrimSpace(req.Body) == "" && strings.TrimSpace(req.BodyHTML) == "":
		return domain.ScheduledJob{}, domain.Validationf("body is required for manual jobs")
	case mode == domain.ModeAutoSummary && owner == "":
		return domain.ScheduledJob{}, domain.Validationf("owner_id is required for autoSummary jobs")
	case req.Recurring && owner == "":
		return domain.ScheduledJob{}, domain.Validationf("owner_id is required for recurring jobs")
	}

	return domain.ScheduledJob{
		ID:         strings.TrimSpace(req.ID),
		OwnerID:    owner,
		Recipients: recipients,
		Subject:    req.Subject,
		Body:       req.Body,
		BodyHTML:   req.BodyHTML,
		Mode:       mode,
		Recurring:  req.Recurring,
		AIModel:    req.AIModel,
		FromName:   req.FromName,
	}, nil
}
