package domain

import (
	"errors"
	"strings"
	"time"
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// ErrInvalidDate is returned by ParseDate for unparseable input.
var ErrInvalidDate = errors.New("invalid date")

// DateRange is an inclusive span of calendar days. Either bound may be unset.
type DateRange struct {
	Start *time.Time
	End   *time.Time
}

// ParseDate accepts YYYY-MM-DD or an RFC 3339 timestamp and truncates to a UTC calendar day.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, ErrInvalidDate
	}
	if t, err := time.Parse(DateLayout, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return Day(t), nil
}

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DatePtr is a convenience for building ranges.
func DatePtr(t time.Time) *time.Time {
	d := Day(t)
	return &d
}

// Scheduled reports whether the range has at least one bound.
func (r DateRange) Scheduled() bool {
	return r.Start != nil || r.End != nil
}

// Bounds returns the effective inclusive interval. A range with a single bound
// occupies that one day.
func (r DateRange) Bounds() (start, end time.Time, ok bool) {
	switch {
	case r.Start != nil && r.End != nil:
		return Day(*r.Start), Day(*r.End), true
	case r.Start != nil:
		return Day(*r.Start), Day(*r.Start), true
	case r.End != nil:
		return Day(*r.End), Day(*r.End), true
	}
	return time.Time{}, time.Time{}, false
}

// Ordered reports whether start <= end when both are set.
func (r DateRange) Ordered() bool {
	if r.Start == nil || r.End == nil {
		return true
	}
	return !Day(*r.Start).After(Day(*r.End))
}

// Overlaps reports whether existing falls into the window r under the three
// overlap cases: r contains existing's start, r contains existing's end, or
// existing spans r entirely. Unscheduled ranges never overlap.
func (r DateRange) Overlaps(existing DateRange) bool {
	cStart, cEnd, ok := r.Bounds()
	if !ok {
		return false
	}
	eStart, eEnd, ok := existing.Bounds()
	if !ok {
		return false
	}
	within := func(t time.Time) bool {
		return !t.Before(cStart) && !t.After(cEnd)
	}
	if within(eStart) || within(eEnd) {
		return true
	}
	return !eStart.After(cStart) && !eEnd.Before(cEnd)
}
