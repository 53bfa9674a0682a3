// Package recurrence computes the next fire instant of an owner's weekly or
// monthly schedule. Everything here is pure: the same schedule and "now"
// always produce the same answer.
package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"digestflow/internal/domain"
)

const (
	DefaultTimeOfDay = "08:00"
	stopDateLayout   = "2006-01-02"
)

type rule struct {
	freq         domain.Frequency
	hour, minute int
	dayOfWeek    int
	dayOfMonth   int
	offset       int
	stop         time.Time // start of the day after the stop date, zero if unset
}

// Problems lists the fields of s that would be replaced by defaults. An empty
// result means the schedule is used exactly as written.
func Problems(s domain.RecurrenceSchedule) []string {
	var out []string
	switch s.Frequency {
	case domain.Monthly:
		if s.DayOfMonth < 1 || s.DayOfMonth > 31 {
			out = append(out, fmt.Sprintf("day_of_month %d not in 1..31", s.DayOfMonth))
		}
	default:
		if s.Frequency != domain.Weekly {
			out = append(out, fmt.Sprintf("unknown frequency %q", s.Frequency))
		}
		if s.DayOfWeek < 1 || s.DayOfWeek > 7 {
			out = append(out, fmt.Sprintf("day_of_week %d not in 1..7", s.DayOfWeek))
		}
	}
	if _, _, ok := parseClock(s.TimeOfDay); !ok {
		out = append(out, fmt.Sprintf("time_of_day %q is not HH:MM", s.TimeOfDay))
	}
	if s.StopDate != "" {
		if _, err := time.Parse(stopDateLayout, strings.TrimSpace(s.StopDate)); err != nil {
			out = append(out, fmt.Sprintf("stop_date %q is not YYYY-MM-DD", s.StopDate))
		}
	}
	return out
}

// Normalize returns s with every malformed field replaced by its default:
// 08:00, day 1, weekly, no stop date.
func Normalize(s domain.RecurrenceSchedule) domain.RecurrenceSchedule {
	r := compile(s)
	out := domain.RecurrenceSchedule{
		Frequency:             r.freq,
		TimeOfDay:             fmt.Sprintf("%02d:%02d", r.hour, r.minute),
		DayOfWeek:             s.DayOfWeek,
		DayOfMonth:            s.DayOfMonth,
		TimezoneOffsetMinutes: r.offset,
	}
	if r.freq == domain.Weekly {
		out.DayOfWeek = r.dayOfWeek
	} else {
		out.DayOfMonth = r.dayOfMonth
	}
	if !r.stop.IsZero() {
		out.StopDate = r.stop.AddDate(0, 0, -1).Format(stopDateLayout)
	}
	return out
}

func compile(s domain.RecurrenceSchedule) rule {
	r := rule{freq: s.Frequency, offset: s.TimezoneOffsetMinutes, dayOfWeek: s.DayOfWeek, dayOfMonth: s.DayOfMonth}
	if r.freq != domain.Weekly && r.freq != domain.Monthly {
		r.freq = domain.Weekly
	}
	h, m, ok := parseClock(s.TimeOfDay)
	if !ok {
		h, m, _ = parseClock(DefaultTimeOfDay)
	}
	r.hour, r.minute = h, m
	if r.dayOfWeek < 1 || r.dayOfWeek > 7 {
		r.dayOfWeek = 1
	}
	if r.dayOfMonth < 1 || r.dayOfMonth > 31 {
		r.dayOfMonth = 1
	}
	if s.StopDate != "" {
		if d, err := time.Parse(stopDateLayout, strings.TrimSpace(s.StopDate)); err == nil {
			r.stop = d.AddDate(0, 0, 1)
		}
	}
	return r
}

func parseClock(v string) (int, int, bool) {
	hh, mm, found := strings.Cut(strings.TrimSpace(v), ":")
	if !found {
		return 0, 0, false
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, 0, false
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}

// Next returns the first occurrence of s strictly after now. The boolean is
// false when the schedule is exhausted by its stop date.
func Next(s domain.RecurrenceSchedule, now time.Time) (time.Time, bool) {
	r := compile(s)
	local := ToLocal(now, r.offset)
	if !r.stop.IsZero() && !local.Before(r.stop) {
		return time.Time{}, false
	}

	var candidate time.Time
	switch r.freq {
	case domain.Monthly:
		candidate = r.monthly(local)
	default:
		candidate = r.weekly(local)
	}

	if !r.stop.IsZero() && !candidate.Before(r.stop) {
		return time.Time{}, false
	}
	return ToInstant(candidate, r.offset), true
}

func (r rule) at(day time.Time) time.Time {
	return startOfDay(day).Add(time.Duration(r.hour)*time.Hour + time.Duration(r.minute)*time.Minute)
}

func (r rule) weekly(local time.Time) time.Time {
	ahead := (r.dayOfWeek - isoWeekday(local) + 7) % 7
	candidate := r.at(local.AddDate(0, 0, ahead))
	if !candidate.After(local) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate
}

func (r rule) monthly(local time.Time) time.Time {
	y, m, _ := local.Date()
	candidate := r.inMonth(y, m)
	if !candidate.After(local) {
		first := time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC)
		candidate = r.inMonth(first.Year(), first.Month())
	}
	return candidate
}

func (r rule) inMonth(year int, month time.Month) time.Time {
	day := min(r.dayOfMonth, daysIn(year, month))
	return r.at(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}
