package shared

import (
	"strings"
	"time"
)

// DateLayout is the wire format of calendar dates.
const DateLayout = "2006-01-02"

// DateOnly truncates t to its UTC calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date, reporting ErrValidation on failure.
func ParseDate(field, raw string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, Validation("%s must be a date in YYYY-MM-DD format", field)
	}
	return t, nil
}

// Period is an inclusive range of calendar days.
type Period struct {
	Start time.Time
	End   time.Time
}

// NewPeriod normalizes both bounds to days and rejects an end before the start.
func NewPeriod(start, end time.Time) (Period, error) {
	if start.IsZero() || end.IsZero() {
		return Period{}, Validation("period start and end are required")
	}
	p := Period{Start: DateOnly(start), End: DateOnly(end)}
	if p.End.Before(p.Start) {
		return Period{}, Validation("period end %s is before start %s", p.End.Format(DateLayout), p.Start.Format(DateLayout))
	}
	return p, nil
}

// Contains reports whether the day of t lies within the period.
func (p Period) Contains(t time.Time) bool {
	d := DateOnly(t)
	return !d.Before(p.Start) && !d.After(p.End)
}
