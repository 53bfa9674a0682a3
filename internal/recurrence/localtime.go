package recurrence

import "time"

// Local wall-clock values are carried as time.Time in UTC so that calendar
// arithmetic never picks up the host zone. The offset follows the
// "minutes to add to local to reach the instant" convention.

// ToLocal converts an instant to the owner's wall clock.
func ToLocal(instant time.Time, offsetMinutes int) time.Time {
	return instant.UTC().Add(-time.Duration(offsetMinutes) * time.Minute)
}

// ToInstant converts a wall-clock value produced by ToLocal (or built with
// time.Date in UTC) back to the instant domain.
func ToInstant(local time.Time, offsetMinutes int) time.Time {
	return local.UTC().Add(time.Duration(offsetMinutes) * time.Minute)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// isoWeekday maps Go's Sunday=0 to 1=Monday..7=Sunday.
func isoWeekday(t time.Time) int {
	return (int(t.Weekday())+6)%7 + 1
}
