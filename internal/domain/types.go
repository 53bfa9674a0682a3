package domain

import "time"

type Mode string

const (
	ModeManual      Mode = "manual"
	ModeAutoSummary Mode = "autoSummary"
)

type ScheduledJob struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id,omitempty"`
	Recipients []string  `json:"recipients"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	BodyHTML   string    `json:"body_html,omitempty"`
	SendAt     time.Time `json:"send_at"`
	Sent       bool      `json:"sent"`
	Failed     bool      `json:"failed"` // terminal dead-letter; only ever set together with Sent
	Failures   int       `json:"failures"`
	LastError  string    `json:"last_error,omitempty"`
	Mode       Mode      `json:"mode"`
	Recurring  bool      `json:"recurring"`
	AIModel    string    `json:"ai_model,omitempty"`
	FromName   string    `json:"from_name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// JobSummary is the owner-facing view of a pending job.
type JobSummary struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	SendAt    time.Time `json:"send_at"`
	Mode      Mode      `json:"mode"`
	Recurring bool      `json:"recurring"`
	Failures  int       `json:"failures"`
}

type Frequency string

const (
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

type RecurrenceSchedule struct {
	Frequency             Frequency `json:"frequency"`
	TimeOfDay             string    `json:"time_of_day"`  // local "HH:MM"
	DayOfWeek             int       `json:"day_of_week"`  // 1=Monday..7=Sunday
	DayOfMonth            int       `json:"day_of_month"` // 1..31, clamped to month length
	TimezoneOffsetMinutes int       `json:"timezone_offset_minutes"`
	StopDate              string    `json:"stop_date,omitempty"` // inclusive local date, YYYY-MM-DD
}
