package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Pattern is the recurrence kind of a RecurrenceSpec.
type Pattern string

const (
	PatternOneOff      Pattern = "one_off"
	PatternDaily       Pattern = "daily"
	PatternWeekly      Pattern = "weekly"
	PatternMultiWeekly Pattern = "multi_weekly"
)

// Weekday is a three letter lower-case day code (mon..sun).
type Weekday string

const (
	Mon Weekday = "mon"
	Tue Weekday = "tue"
	Wed Weekday = "wed"
	Thu Weekday = "thu"
	Fri Weekday = "fri"
	Sat Weekday = "sat"
	Sun Weekday = "sun"
)

var weekdayCodes = map[time.Weekday]Weekday{
	time.Monday:    Mon,
	time.Tuesday:   Tue,
	time.Wednesday: Wed,
	time.Thursday:  Thu,
	time.Friday:    Fri,
	time.Saturday:  Sat,
	time.Sunday:    Sun,
}

// WeekdayOf returns the day code of t.
func WeekdayOf(t time.Time) Weekday { return weekdayCodes[t.Weekday()] }

// ParseWeekdays parses a comma separated list such as "mon,wed".  Empty
// input yields an empty slice.
func ParseWeekdays(s string) ([]Weekday, error) {
	out := []Weekday{}
	for _, p := range strings.Split(s, ",") {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		d := Weekday(p)
		if !d.Valid() {
			return nil, fmt.Errorf("unknown weekday %q", p)
		}
		out = append(out, d)
	}
	return out, nil
}

// Valid reports whether d is one of the seven known codes.
func (d Weekday) Valid() bool {
	switch d {
	case Mon, Tue, Wed, Thu, Fri, Sat, Sun:
		return true
	}
	return false
}

// JoinWeekdays is the inverse of ParseWeekdays.
func JoinWeekdays(days []Weekday) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = string(d)
	}
	return strings.Join(parts, ",")
}

// RecurrenceSpec describes how occurrences of a resource repeat over a
// date range.  Specs are written by administrators and only read by the
// generator.
//
// Fields:
//   - ResourceID: resource (class or event series) the occurrences belong to.
//   - Pattern: one_off, daily, weekly or multi_weekly.
//   - Days: weekday codes; empty unless Pattern is weekly/multi_weekly.
//   - StartTime: time-of-day the occurrence starts.
//   - EndTime: time-of-day the occurrence ends.
//   - StartDate: first date the spec applies to.
//   - EndDate: last date the spec applies to, nil when open ended.
//   - Active: inactive specs are never expanded.
type RecurrenceSpec struct {
	ID         uint64     // recurrence_specs.id
	ResourceID uint64     // recurrence_specs.resource_id
	Pattern    Pattern    // recurrence_specs.pattern
	Days       []Weekday  // recurrence_specs.days (comma separated)
	StartTime  TimeOfDay  // recurrence_specs.start_time
	EndTime    TimeOfDay  // recurrence_specs.end_time
	StartDate  time.Time  // recurrence_specs.start_date
	EndDate    *time.Time // recurrence_specs.end_date (nullable)
	Active     bool       // recurrence_specs.active
	CreatedAt  time.Time  // recurrence_specs.created_at
}

var (
	ErrInvalidPattern   = errors.New("invalid recurrence pattern")
	ErrInvalidDateRange = errors.New("end date before start date")
	ErrInvalidTimeRange = errors.New("end time must be after start time")
	ErrMissingDays      = errors.New("weekly patterns require at least one day")
)

// Normalize clears the day set for patterns that do not use it.
func (s *RecurrenceSpec) Normalize() {
	if s.Pattern == PatternOneOff || s.Pattern == PatternDaily {
		s.Days = nil
	}
	s.StartDate = DateOf(s.StartDate)
	if s.EndDate != nil {
		d := DateOf(*s.EndDate)
		s.EndDate = &d
	}
}

// Validate checks a spec submitted by an administrator.  The matcher
// tolerates an empty day set on weekly specs; creation does not.
func (s RecurrenceSpec) Validate() error {
	switch s.Pattern {
	case PatternOneOff, PatternDaily:
	case PatternWeekly, PatternMultiWeekly:
		if len(s.Days) == 0 {
			return ErrMissingDays
		}
	default:
		return ErrInvalidPattern
	}
	for _, d := range s.Days {
		if !d.Valid() {
			return fmt.Errorf("%w: day %q", ErrInvalidPattern, d)
		}
	}
	if s.EndDate != nil && DateOf(*s.EndDate).Before(DateOf(s.StartDate)) {
		return ErrInvalidDateRange
	}
	if !s.StartTime.Before(s.EndTime) {
		return ErrInvalidTimeRange
	}
	return nil
}

// DateOf truncates t to midnight UTC of its calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
