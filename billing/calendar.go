package billing

import (
	"fmt"
	"time"
)

// DateLayout is the wire and storage format of a calendar date.
const DateLayout = "2006-01-02"

// =============================================================================
// CALENDAR DATES - Represented as midnight UTC
// =============================================================================

// ParseDate parses a YYYY-MM-DD string into a calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q, expected YYYY-MM-DD", ErrValidation, s)
	}
	return t, nil
}

// Date truncates a calendar date to midnight UTC, dropping any clock part.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// AddDays moves a calendar date by n days.
func AddDays(date time.Time, n int) time.Time {
	return date.AddDate(0, 0, n)
}

// =============================================================================
// BUSINESS CALENDAR - Timezone-aware day boundaries
// =============================================================================

// Calendar binds calendar-date arithmetic to the business timezone.
// Entries are bucketed and cut off by local days, never by UTC days.
type Calendar struct {
	loc *time.Location
}

// NewCalendar loads the named IANA timezone. An empty name means UTC.
func NewCalendar(tz string) (Calendar, error) {
	if tz == "" {
		return Calendar{loc: time.UTC}, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Calendar{}, fmt.Errorf("%w: unknown timezone %q", ErrValidation, tz)
	}
	return Calendar{loc: loc}, nil
}

// UTCCalendar is the calendar used when no business timezone is configured.
func UTCCalendar() Calendar { return Calendar{loc: time.UTC} }

func (c Calendar) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// Cutoff returns the first instant after the business day named by date.
// A timestamp t falls on or before that day iff t.Before(Cutoff(date)).
func (c Calendar) Cutoff(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, c.Location()).UTC()
}

// EndOfDay is the last representable instant of the business day.
func (c Calendar) EndOfDay(date time.Time) time.Time {
	return c.Cutoff(date).Add(-time.Nanosecond)
}

// DateOf returns the business-local calendar date of an instant.
func (c Calendar) DateOf(t time.Time) time.Time {
	y, m, d := t.In(c.Location()).Date()
	return Date(y, m, d)
}

// Today is DateOf(now).
func (c Calendar) Today(now time.Time) time.Time {
	return c.DateOf(now)
}
