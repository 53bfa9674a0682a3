package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"digestflow/internal/domain"
)

// local builds a wall-clock value and converts it to the instant domain.
func local(offset, y int, mo time.Month, d, h, mi int) time.Time {
	return ToInstant(time.Date(y, mo, d, h, mi, 0, 0, time.UTC), offset)
}

func TestToLocalRoundTrip(t *testing.T) {
	instant := time.Date(2025, 3, 30, 1, 30, 0, 0, time.UTC)
	for _, offset := range []int{-840, -330, -300, -1, 0, 1, 60, 300, 345, 720} {
		wall := ToLocal(instant, offset)
		assert.True(t, ToInstant(wall, offset).Equal(instant), "offset %d", offset)
	}

	// UTC+5 is expressed as -300.
	wall := ToLocal(time.Date(2025, 10, 15, 5, 0, 0, 0, time.UTC), -300)
	assert.Equal(t, time.Date(2025, 10, 15, 10, 0, 0, 0, time.UTC), wall)
}

func TestNextWeekly(t *testing.T) {
	sched := domain.RecurrenceSchedule{
		Frequency:             domain.Weekly,
		DayOfWeek:             3,
		TimeOfDay:             "09:00",
		TimezoneOffsetMinutes: -300,
	}

	t.Run("same weekday after the time rolls to next week", func(t *testing.T) {
		now := local(-300, 2025, 10, 15, 10, 0) // Wednesday 10:00 local
		got, ok := Next(sched, now)
		require.True(t, ok)
		assert.Equal(t, local(-300, 2025, 10, 22, 9, 0), got)
		assert.Equal(t, time.Date(2025, 10, 22, 4, 0, 0, 0, time.UTC), got)
	})

	t.Run("same weekday before the time fires today", func(t *testing.T) {
		now := local(-300, 2025, 10, 15, 8, 59)
		got, ok := Next(sched, now)
		require.True(t, ok)
		assert.Equal(t, local(-300, 2025, 10, 15, 9, 0), got)
	})

	t.Run("exactly at the time is not strictly after", func(t *testing.T) {
		now := local(-300, 2025, 10, 15, 9, 0)
		got, ok := Next(sched, now)
		require.True(t, ok)
		assert.Equal(t, local(-300, 2025, 10, 22, 9, 0), got)
	})

	t.Run("later weekday in the same week", func(t *testing.T) {
		s := sched
		s.DayOfWeek = 7
		got, ok := Next(s, local(-300, 2025, 10, 15, 10, 0))
		require.True(t, ok)
		assert.Equal(t, local(-300, 2025, 10, 19, 9, 0), got)
	})

	t.Run("deterministic", func(t *testing.T) {
		now := local(-300, 2025, 10, 15, 10, 0)
		a, okA := Next(sched, now)
		b, okB := Next(sched, now)
		assert.Equal(t, okA, okB)
		assert.Equal(t, a, b)
	})

	t.Run("local date differs from UTC date", func(t *testing.T) {
		// 2025-10-14 22:00 UTC is already Wednesday 03:00 in UTC+5.
		now := time.Date(2025, 10, 14, 22, 0, 0, 0, time.UTC)
		got, ok := Next(sched, now)
		require.True(t, ok)
		assert.Equal(t, local(-300, 2025, 10, 15, 9, 0), got)
	})
}

func TestNextMonthlyClamp(t *testing.T) {
	sched := domain.RecurrenceSchedule{
		Frequency:  domain.Monthly,
		DayOfMonth: 31,
		TimeOfDay:  "07:30",
	}

	got, ok := Next(sched, local(0, 2025, 11, 5, 12, 0))
	require.True(t, ok)
	assert.Equal(t, local(0, 2025, 11, 30, 7, 30), got)

	got, ok = Next(sched, got)
	require.True(t, ok)
	assert.Equal(t, local(0, 2025, 12, 31, 7, 30), got)

	t.Run("leap february", func(t *testing.T) {
		s := sched
		s.DayOfMonth = 30
		got, ok := Next(s, local(0, 2024, 2, 10, 0, 0))
		require.True(t, ok)
		assert.Equal(t, local(0, 2024, 2, 29, 7, 30), got)
	})

	t.Run("december rolls into january", func(t *testing.T) {
		s := sched
		s.DayOfMonth = 1
		got, ok := Next(s, local(0, 2025, 12, 2, 0, 0))
		require.True(t, ok)
		assert.Equal(t, local(0, 2026, 1, 1, 7, 30), got)
	})
}

func TestNextStopDate(t *testing.T) {
	now := local(120, 2025, 10, 15, 10, 0)
	yesterday := "2025-10-14"

	for _, freq := range []domain.Frequency{domain.Weekly, domain.Monthly} {
		_, ok := Next(domain.RecurrenceSchedule{
			Frequency:             freq,
			DayOfWeek:             4,
			DayOfMonth:            20,
			TimeOfDay:             "09:00",
			TimezoneOffsetMinutes: 120,
			StopDate:              yesterday,
		}, now)
		assert.False(t, ok, string(freq))
	}

	t.Run("candidate beyond stop date", func(t *testing.T) {
		_, ok := Next(domain.RecurrenceSchedule{
			Frequency: domain.Weekly, DayOfWeek: 1, TimeOfDay: "09:00", StopDate: "2025-10-19",
		}, local(0, 2025, 10, 15, 10, 0))
		assert.False(t, ok)
	})

	t.Run("stop date is inclusive", func(t *testing.T) {
		got, ok := Next(domain.RecurrenceSchedule{
			Frequency: domain.Weekly, DayOfWeek: 1, TimeOfDay: "23:59", StopDate: "2025-10-20",
		}, local(0, 2025, 10, 15, 10, 0))
		require.True(t, ok)
		assert.Equal(t, local(0, 2025, 10, 20, 23, 59), got)
	})
}

func TestNextMalformedFallsBack(t *testing.T) {
	s := domain.RecurrenceSchedule{Frequency: "fortnightly", TimeOfDay: "25:99", DayOfWeek: 0, StopDate: "someday"}
	got, ok := Next(s, local(0, 2025, 10, 15, 10, 0))
	require.True(t, ok)
	assert.Equal(t, local(0, 2025, 10, 20, 8, 0), got)

	assert.Len(t, Problems(s), 4)
	assert.Equal(t, domain.RecurrenceSchedule{Frequency: domain.Weekly, TimeOfDay: "08:00", DayOfWeek: 1}, Normalize(s))

	m := domain.RecurrenceSchedule{Frequency: domain.Monthly, TimeOfDay: "9:5", DayOfMonth: 42}
	got, ok = Next(m, local(0, 2025, 10, 15, 10, 0))
	require.True(t, ok)
	assert.Equal(t, local(0, 2025, 11, 1, 9, 5), got)
	assert.Empty(t, Problems(domain.RecurrenceSchedule{Frequency: domain.Monthly, TimeOfDay: "09:05", DayOfMonth: 31}))
}
