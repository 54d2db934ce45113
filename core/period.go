package core

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - Billing window for invoice aggregation
// =============================================================================

// Period is a closed interval [Start, End].
type Period struct {
	Start time.Time
	End   time.Time
}

// NewPeriod builds a period and rejects End before Start.
func NewPeriod(start, end time.Time) (Period, error) {
	p := Period{Start: start.UTC(), End: end.UTC()}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

// DatePeriod builds a period covering whole calendar days from start to end.
func DatePeriod(start, end time.Time) (Period, error) {
	return NewPeriod(StartOfDay(start), EndOfDay(end))
}

// Validate returns ErrInvalidPeriod if End is before Start.
func (p Period) Validate() error {
	if p.End.Before(p.Start) {
		return fmt.Errorf("%w: %s", ErrInvalidPeriod, p)
	}
	return nil
}

// Contains returns true if t is within the period [Start, End].
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.Format(time.DateOnly) + ", " + p.End.Format(time.DateOnly) + "]"
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// EndOfDay returns the last representable microsecond of t's day in UTC.
func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1).Add(-time.Microsecond)
}
