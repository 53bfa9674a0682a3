package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"digestflow/internal/domain"
)

// EnsureSchema creates tables if they don't exist. Instants are stored as
// epoch milliseconds.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS jobs (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL DEFAULT '',
  recipients TEXT NOT NULL,
  subject TEXT NOT NULL,
  body TEXT NOT NULL DEFAULT '',
  body_html TEXT NOT NULL DEFAULT '',
  send_at INTEGER NOT NULL,
  sent INTEGER NOT NULL DEFAULT 0,
  failed INTEGER NOT NULL DEFAULT 0,
  failures INTEGER NOT NULL DEFAULT 0,
  last_error TEXT NOT NULL DEFAULT '',
  mode TEXT NOT NULL CHECK(mode IN ('manual','autoSummary')) DEFAULT 'manual',
  recurring INTEGER NOT NULL DEFAULT 0,
  ai_model TEXT NOT NULL DEFAULT '',
  from_name TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_due ON jobs(sent, send_at);
CREATE INDEX IF NOT EXISTS idx_jobs_owner ON jobs(owner_id, sent);
CREATE TABLE IF NOT EXISTS owner_schedules (
  owner_id TEXT PRIMARY KEY,
  frequency TEXT NOT NULL,
  time_of_day TEXT NOT NULL,
  day_of_week INTEGER NOT NULL DEFAULT 1,
  day_of_month INTEGER NOT NULL DEFAULT 1,
  tz_offset_minutes INTEGER NOT NULL DEFAULT 0,
  stop_date TEXT NOT NULL DEFAULT '',
  updated_at INTEGER NOT NULL
);
`
	_, err := db.Exec(schema)
	return err
}

// Outcome is the state a successful delivery moves a job to. Sent=false means
// the job stays pending at NextSendAt.
type Outcome struct {
	Sent       bool
	NextSendAt time.Time
	Body       string // persisted when non-empty
	BodyHTML   string
}

// Failure records an unsuccessful delivery. A zero RetryAt keeps send_at as
// is; Terminal moves the job to the failed dead-letter state.
type Failure struct {
	Err      string
	RetryAt  time.Time
	Terminal bool
}

type Counts struct {
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

type Repository interface {
	Upsert(ctx context.Context, j domain.ScheduledJob) (string, error)
	Get(ctx context.Context, id string) (domain.ScheduledJob, error)
	ListDue(ctx context.Context, now time.Time) ([]domain.ScheduledJob, error)
	// MarkOutcome and RecordFailure only apply while the row is still pending
	// at expectedSendAt. applied=false means another pass already claimed it.
	MarkOutcome(ctx context.Context, id string, expectedSendAt time.Time, o Outcome) (applied bool, err error)
	RecordFailure(ctx context.Context, id string, expectedSendAt time.Time, f Failure) (applied bool, err error)
	DeleteByID(ctx context.Context, id, ownerID string) (bool, error)
	ListPendingByOwner(ctx context.Context, ownerID string) ([]domain.JobSummary, error)
	Counts(ctx context.Context) (Counts, error)

	PutOwnerSchedule(ctx context.Context, ownerID string, s domain.RecurrenceSchedule) error
	GetOwnerSchedule(ctx context.Context, ownerID string) (domain.RecurrenceSchedule, error)
	DeleteOwnerSchedule(ctx context.Context, ownerID string) error
}

type sqliteRepo struct{ db *sql.DB }

func NewSQLiteRepo(db *sql.DB) Repository { return &sqliteRepo{db: db} }

func ms(t time.Time) int64 { return t.UnixMilli() }

func fromMS(v int64) time.Time { return time.UnixMilli(v).UTC() }

const jobColumns = `id,owner_id,recipients,subject,body,body_html,send_at,sent,failed,failures,last_error,mode,recurring,ai_model,from_name,created_at,updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (domain.ScheduledJob, error) {
	var (
		j                            domain.ScheduledJob
		recipients                   string
		sendAt, createdAt, updatedAt int64
		mode                         string
	)
	err := s.Scan(&j.ID, &j.OwnerID, &recipients, &j.Subject, &j.Body, &j.BodyHTML, &sendAt, &j.Sent, &j.Failed,
		&j.Failures, &j.LastError, &mode, &j.Recurring, &j.AIModel, &j.FromName, &createdAt, &updatedAt)
	if err != nil {
		return domain.ScheduledJob{}, err
	}
	if err := json.Unmarshal([]byte(recipients), &j.Recipients); err != nil {
		return domain.ScheduledJob{}, errors.Wrapf(err, "job %s: decode recipients", j.ID)
	}
	j.Mode = domain.Mode(mode)
	j.SendAt, j.CreatedAt, j.UpdatedAt = fromMS(sendAt), fromMS(createdAt), fromMS(updatedAt)
	return j, nil
}

// Upsert inserts j, or replaces a still-pending row with the same id. Rows that
// are already sent are never touched; that case returns domain.ErrConflict.
func (r *sqliteRepo) Upsert(ctx context.Context, j domain.ScheduledJob) (string, error) {
	id := j.ID
	if id == "" {
		id = "job_" + uuid.NewString()
	}
	if j.Mode == "" {
		j.Mode = domain.ModeManual
	}
	recipients, err := json.Marshal(j.Recipients)
	if err != nil {
		return "", errors.Wrap(err, "encode recipients")
	}
	now := ms(time.Now())

	res, err := r.db.ExecContext(ctx, `
INSERT INTO jobs (`+jobColumns+`)
VALUES (?,?,?,?,?,?,?,0,0,0,'',?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  owner_id=excluded.owner_id, recipients=excluded.recipients, subject=excluded.subject,
  body=excluded.body, body_html=excluded.body_html, send_at=excluded.send_at,
  failures=0, last_error='', mode=excluded.mode, recurring=excluded.recurring,
  ai_model=excluded.ai_model, from_name=excluded.from_name, updated_at=excluded.updated_at
WHERE jobs.sent=0
`, id, j.OwnerID, string(recipients), j.Subject, j.Body, j.BodyHTML, ms(j.SendAt),
		string(j.Mode), j.Recurring, j.AIModel, j.FromName, now, now)
	if err != nil {
		return "", errors.Wrap(err, "upsert job")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return "", errors.Wrapf(domain.ErrConflict, "job %s already sent", id)
	}
	return id, nil
}

func (r *sqliteRepo) Get(ctx context.Context, id string) (domain.ScheduledJob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScheduledJob{}, errors.Wrapf(domain.ErrNotFound, "job %s", id)
	}
	if err != nil {
		return domain.ScheduledJob{}, errors.Wrap(err, "get job")
	}
	return j, nil
}

func (r *sqliteRepo) ListDue(ctx context.Context, now time.Time) ([]domain.ScheduledJob, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+jobColumns+`
FROM jobs
WHERE sent=0 AND send_at <= ?
ORDER BY send_at`, ms(now))
	if err != nil {
		return nil, errors.Wrap(err, "list due jobs")
	}
	defer rows.Close()

	var jobs []domain.ScheduledJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *sqliteRepo) MarkOutcome(ctx context.Context, id string, expectedSendAt time.Time, o Outcome) (bool, error) {
	next := expectedSendAt
	if !o.Sent {
		next = o.NextSendAt
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE jobs
SET sent=?, send_at=?,
    body=CASE WHEN ?='' THEN body ELSE ? END,
    body_html=CASE WHEN ?='' THEN body_html ELSE ? END,
    failures=0, last_error='', updated_at=?
WHERE id=? AND sent=0 AND send_at=?`,
		o.Sent, ms(next), o.Body, o.Body, o.BodyHTML, o.BodyHTML, ms(time.Now()), id, ms(expectedSendAt))
	if err != nil {
		return false, errors.Wrapf(err, "mark outcome for job %s", id)
	}
	return applied(res)
}

func (r *sqliteRepo) RecordFailure(ctx context.Context, id string, expectedSendAt time.Time, f Failure) (bool, error) {
	retryAt := expectedSendAt
	if !f.RetryAt.IsZero() {
		retryAt = f.RetryAt
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE jobs
SET failures=failures+1, last_error=?, send_at=?, sent=?, failed=?, updated_at=?
WHERE id=? AND sent=0 AND send_at=?`,
		f.Err, ms(retryAt), f.Terminal, f.Terminal, ms(time.Now()), id, ms(expectedSendAt))
	if err != nil {
		return false, errors.Wrapf(err, "record failure for job %s", id)
	}
	return applied(res)
}

func applied(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	return n == 1, nil
}

// DeleteByID removes a job only if it belongs to ownerID.
func (r *sqliteRepo) DeleteByID(ctx context.Context, id, ownerID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id=? AND owner_id=?`, id, ownerID)
	if err != nil {
		return false, errors.Wrap(err, "delete job")
	}
	return applied(res)
}

func (r *sqliteRepo) ListPendingByOwner(ctx context.Context, ownerID string) ([]domain.JobSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id,subject,send_at,mode,recurring,failures
FROM jobs WHERE owner_id=? AND sent=0 ORDER BY send_at`, ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "list pending jobs")
	}
	defer rows.Close()

	var out []domain.JobSummary
	for rows.Next() {
		var (
			s      domain.JobSummary
			sendAt int64
			mode   string
		)
		if err := rows.Scan(&s.ID, &s.Subject, &sendAt, &mode, &s.Recurring, &s.Failures); err != nil {
			return nil, err
		}
		s.SendAt = fromMS(sendAt)
		s.Mode = domain.Mode(mode)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *sqliteRepo) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := r.db.QueryRowContext(ctx, `
SELECT
  COALESCE(SUM(CASE WHEN sent=0 THEN 1 ELSE 0 END),0),
  COALESCE(SUM(CASE WHEN sent=1 AND failed=0 THEN 1 ELSE 0 END),0),
  COALESCE(SUM(CASE WHEN failed=1 THEN 1 ELSE 0 END),0)
FROM jobs`).Scan(&c.Pending, &c.Sent, &c.Failed)
	if err != nil {
		return Counts{}, errors.Wrap(err, "count jobs")
	}
	return c, nil
}

func (r *sqliteRepo) PutOwnerSchedule(ctx context.Context, ownerID string, s domain.RecurrenceSchedule) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO owner_schedules (owner_id,frequency,time_of_day,day_of_week,day_of_month,tz_offset_minutes,stop_date,updated_at)
VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(owner_id) DO UPDATE SET
  frequency=excluded.frequency, time_of_day=excluded.time_of_day, day_of_week=excluded.day_of_week,
  day_of_month=excluded.day_of_month, tz_offset_minutes=excluded.tz_offset_minutes,
  stop_date=excluded.stop_date, updated_at=excluded.updated_at
`, ownerID, string(s.Frequency), s.TimeOfDay, s.DayOfWeek, s.DayOfMonth, s.TimezoneOffsetMinutes, s.StopDate, ms(time.Now()))
	if err != nil {
		return errors.Wrap(err, "put owner schedule")
	}
	return nil
}

func (r *sqliteRepo) GetOwnerSchedule(ctx context.Context, ownerID string) (domain.RecurrenceSchedule, error) {
	var (
		s    domain.RecurrenceSchedule
		freq string
	)
	err := r.db.QueryRowContext(ctx, `
SELECT frequency,time_of_day,day_of_week,day_of_month,tz_offset_minutes,stop_date
FROM owner_schedules WHERE owner_id=?`, ownerID).
		Scan(&freq, &s.TimeOfDay, &s.DayOfWeek, &s.DayOfMonth, &s.TimezoneOffsetMinutes, &s.StopDate)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RecurrenceSchedule{}, errors.Wrapf(domain.ErrNotFound, "schedule for owner %s", ownerID)
	}
	if err != nil {
		return domain.RecurrenceSchedule{}, errors.Wrap(err, "get owner schedule")
	}
	s.Frequency = domain.Frequency(freq)
	return s, nil
}

func (r *sqliteRepo) DeleteOwnerSchedule(ctx context.Context, ownerID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM owner_schedules WHERE owner_id=?`, ownerID)
	if err != nil {
		return errors.Wrap(err, "delete owner schedule")
	}
	return nil
}
