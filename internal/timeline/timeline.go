// Package timeline turns an ordered activity list into concrete start/end
// instants for one calendar day.
package timeline

import (
	"sort"
	"time"

	"ttagenda/internal/model"
)

// Entry is one activity placed on the wall clock.
type Entry struct {
	Activity model.Activity `json:"activity"`
	Start    time.Time      `json:"start"`
	End      time.Time      `json:"end"`
}

// Contains reports whether now falls in [Start, End).
func (e Entry) Contains(now time.Time) bool {
	return !now.Before(e.Start) && now.Before(e.End)
}

// Build picks the timeline mode for acts. When any activity carries an
// explicit start time the stamped reconstruction is used and then anchored
// to start, so an occurrence moved to another start time keeps its internal
// spacing. Otherwise times are derived sequentially from start.
func Build(date model.Date, start model.Clock, acts []model.Activity, loc *time.Location, kinds model.KindTable) []Entry {
	if len(acts) == 0 {
		return nil
	}
	if !anyStamped(acts) {
		return Sequential(date, start, acts, loc, kinds)
	}
	return anchor(Stamped(date, acts, loc), date.At(start, loc), kinds)
}

// Sequential chains activities back to back from the nominal start. A
// leading run of pre-session activities is placed immediately before the
// nominal start, after which the running pointer resumes at it.
func Sequential(date model.Date, start model.Clock, acts []model.Activity, loc *time.Location, kinds model.KindTable) []Entry {
	ordered := byOrderIndex(acts)
	if len(ordered) == 0 {
		return nil
	}

	nominal := date.At(start, loc)
	out := make([]Entry, 0, len(ordered))

	pre := 0
	preMinutes := 0
	for _, a := range ordered {
		b, _ := kinds.Behavior(a.Kind)
		if !b.PreSession {
			break
		}
		pre++
		preMinutes += a.DurationMinutes
	}

	current := nominal.Add(-minutes(preMinutes))
	for i, a := range ordered {
		if i == pre {
			current = nominal
		}
		end := current.Add(minutes(a.DurationMinutes))
		out = append(out, Entry{Activity: a, Start: current, End: end})
		current = end
	}
	return out
}

// Stamped rebuilds a timeline from activities that carry a start time of
// day. When a start is not strictly after the previous one the session has
// crossed midnight and the working date advances by one day. Activities
// without a start time are chained onto the previous end; a leading run of
// them is placed back to back so it ends at the first stamped start.
func Stamped(date model.Date, acts []model.Activity, loc *time.Location) []Entry {
	ordered := byOrderIndex(acts)
	first := -1
	for i, a := range ordered {
		if a.StartTime != nil {
			first = i
			break
		}
	}
	if first < 0 {
		return nil
	}

	out := make([]Entry, len(ordered))
	current := date
	var lastStart time.Time
	for i := first; i < len(ordered); i++ {
		a := ordered[i]
		var start time.Time
		if a.StartTime != nil {
			start = current.At(*a.StartTime, loc)
			if i > first && !start.After(lastStart) {
				current = current.AddDays(1)
				start = current.At(*a.StartTime, loc)
			}
		} else {
			start = out[i-1].End
			current = model.DateOf(start)
		}
		out[i] = Entry{Activity: a, Start: start, End: start.Add(minutes(a.DurationMinutes))}
		lastStart = start
	}

	next := out[first].Start
	for i := first - 1; i >= 0; i-- {
		a := ordered[i]
		start := next.Add(-minutes(a.DurationMinutes))
		out[i] = Entry{Activity: a, Start: start, End: next}
		next = start
	}
	return out
}

// anchor shifts entries so the first activity that is not pre-session
// starts at nominal. With only pre-session activities their last end is
// aligned to nominal instead.
func anchor(entries []Entry, nominal time.Time, kinds model.KindTable) []Entry {
	if len(entries) == 0 {
		return entries
	}
	at := entries[len(entries)-1].End
	for _, e := range entries {
		if b, _ := kinds.Behavior(e.Activity.Kind); !b.PreSession {
			at = e.Start
			break
		}
	}
	shift := nominal.Sub(at)
	if shift == 0 {
		return entries
	}
	for i := range entries {
		entries[i].Start = entries[i].Start.Add(shift)
		entries[i].End = entries[i].End.Add(shift)
	}
	return entries
}

// Span returns the first start and last end of a timeline.
func Span(entries []Entry) (start, end time.Time, ok bool) {
	if len(entries) == 0 {
		return time.Time{}, time.Time{}, false
	}
	start, end = entries[0].Start, entries[0].End
	for _, e := range entries[1:] {
		if e.End.After(end) {
			end = e.End
		}
	}
	return start, end, true
}

func anyStamped(acts []model.Activity) bool {
	for _, a := range acts {
		if a.StartTime != nil {
			return true
		}
	}
	return false
}

func byOrderIndex(acts []model.Activity) []model.Activity {
	out := append([]model.Activity(nil), acts...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OrderIndex < out[j].OrderIndex
	})
	return out
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}
