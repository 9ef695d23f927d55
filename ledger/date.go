package ledger

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - Calendar day in ISO form
// =============================================================================

// DateLayout is the ISO calendar-date layout deliveries are keyed by.
const DateLayout = "2006-01-02"

// Date is a calendar date in YYYY-MM-DD form. The form is zero-padded and
// big-endian, so string comparison orders dates chronologically.
type Date string

// Constructors
func NewDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

func DateOf(t time.Time) Date { return Date(t.Format(DateLayout)) }

// ParseDate accepts only canonical YYYY-MM-DD strings naming a real day.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil || t.Format(DateLayout) != s {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date(s), nil
}

// Valid reports whether d is a canonical calendar date.
func (d Date) Valid() bool {
	_, err := ParseDate(string(d))
	return err == nil
}

// Time returns midnight UTC of d, or the zero time when d is malformed.
func (d Date) Time() time.Time {
	t, err := time.Parse(DateLayout, string(d))
	if err != nil {
		return time.Time{}
	}
	return t
}

// Comparison
func (d Date) Before(other Date) bool        { return d < other }
func (d Date) After(other Date) bool         { return d > other }
func (d Date) BeforeOrEqual(other Date) bool { return d <= other }
func (d Date) AfterOrEqual(other Date) bool  { return d >= other }

// Arithmetic
func (d Date) AddDays(n int) Date { return DateOf(d.Time().AddDate(0, 0, n)) }

// Format renders d with a time layout, e.g. "02-Jan".
func (d Date) Format(layout string) string { return d.Time().Format(layout) }

func (d Date) String() string { return string(d) }

// =============================================================================
// PERIOD - Inclusive date range
// =============================================================================

// Period is the inclusive range [Start, End].
type Period struct {
	Start Date
	End   Date
}

// MonthOf returns the calendar month containing d.
func MonthOf(d Date) Period {
	t := d.Time()
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Period{Start: DateOf(first), End: DateOf(first.AddDate(0, 1, -1))}
}

// Validate checks both bounds are dates and Start is not after End.
func (p Period) Validate() error {
	if _, err := ParseDate(string(p.Start)); err != nil {
		return err
	}
	if _, err := ParseDate(string(p.End)); err != nil {
		return err
	}
	if p.Start.After(p.End) {
		return fmt.Errorf("%w: %s", ErrInvalidPeriod, p)
	}
	return nil
}

// Contains returns true if d is within [Start, End].
func (p Period) Contains(d Date) bool {
	return p.Start.BeforeOrEqual(d) && d.BeforeOrEqual(p.End)
}

// Days returns every date of the period in order, with no gaps.
func (p Period) Days() []Date {
	var days []Date
	end := p.End.Time()
	for current := p.Start.Time(); !current.After(end); current = current.AddDate(0, 0, 1) {
		days = append(days, DateOf(current))
	}
	return days
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}
