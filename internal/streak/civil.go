// internal/streak/civil.go
package streak

import (
	"time"
)

// civilDateLayout is the YYYY-MM-DD form used for all civil dates.
const civilDateLayout = "2006-01-02"

// CivilDateInZone returns the calendar date of instant as observed in tz.
// An empty or unknown time zone silently falls back to UTC; the ingestion
// pipeline must never fail because of a bad user preference.
func CivilDateInZone(instant time.Time, tz string) string {
	loc, err := time.LoadLocation(tz)
	if err != nil || tz == "" {
		loc = time.UTC
	}
	return instant.In(loc).Format(civilDateLayout)
}

// CivilDateUTC returns the UTC calendar date of instant. This is the
// partition key for daily activity rows.
func CivilDateUTC(instant time.Time) string {
	return instant.UTC().Format(civilDateLayout)
}

// DaysBetween returns to - from in whole calendar days. Both arguments are
// civil dates; the arithmetic is date-only, so DST transitions between the
// two days cannot skew the count.
func DaysBetween(from, to string) (int, error) {
	f, err := time.Parse(civilDateLayout, from)
	if err != nil {
		return 0, err
	}
	t, err := time.Parse(civilDateLayout, to)
	if err != nil {
		return 0, err
	}
	return int(t.Sub(f) / (24 * time.Hour)), nil
}
