// Package recurrence expands recurrence specs into dated occurrences.
package recurrence

import (
	"time"

	"github.com/iliyamo/studio-reservation/internal/model"
)

// Matches reports whether date is an occurrence date of spec.  It ignores
// the spec's active range; Window handles clamping.
//
// A weekly or multi_weekly spec with no days never matches.  Operators must
// pick days explicitly.
func Matches(date time.Time, spec model.RecurrenceSpec) bool {
	switch spec.Pattern {
	case model.PatternOneOff:
		return model.DateOf(date).Equal(model.DateOf(spec.StartDate))
	case model.PatternDaily:
		return true
	case model.PatternWeekly, model.PatternMultiWeekly:
		code := model.WeekdayOf(date)
		for _, d := range spec.Days {
			if d == code {
				return true
			}
		}
		return false
	}
	return false
}

// Window clamps [from, to] to the spec's own active range.  ok is false
// when the clamped range is empty.
func Window(spec model.RecurrenceSpec, from, to time.Time) (start, end time.Time, ok bool) {
	start = model.DateOf(from)
	if s := model.DateOf(spec.StartDate); s.After(start) {
		start = s
	}
	end = model.DateOf(to)
	if spec.EndDate != nil {
		if e := model.DateOf(*spec.EndDate); e.Before(end) {
			end = e
		}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// Dates returns every matching date of spec inside [from, to].
func Dates(spec model.RecurrenceSpec, from, to time.Time) []time.Time {
	start, end, ok := Window(spec, from, to)
	if !ok {
		return nil
	}
	var out []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if Matches(d, spec) {
			out = append(out, d)
		}
	}
	return out
}
