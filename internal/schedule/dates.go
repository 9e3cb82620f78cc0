package schedule

import (
	"fmt"

	"github.com/teambition/rrule-go"

	"ttagenda/internal/model"
)

// rruleWeekdays is indexed by the Monday-based weekday stored on templates.
var rruleWeekdays = [7]rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA, rrule.SU}

// weekdayDates lists every date in [from, to] (inclusive) falling on the
// given Monday-based weekday.
func weekdayDates(from, to model.Date, weekday int) ([]model.Date, error) {
	if weekday < 0 || weekday > 6 {
		return nil, fmt.Errorf("weekday %d not in 0..6", weekday)
	}
	if to.Before(from) {
		return nil, nil
	}

	r, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Byweekday: []rrule.Weekday{rruleWeekdays[weekday]},
		Dtstart:   from.UTC(),
		Until:     to.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("weekly rule for weekday %d: %w", weekday, err)
	}

	occ := r.All()
	out := make([]model.Date, 0, len(occ))
	for _, t := range occ {
		out = append(out, model.DateOf(t.UTC()))
	}
	return out, nil
}

func maxDate(a, b model.Date) model.Date {
	if a.After(b) {
		return a
	}
	return b
}

func minDate(a, b model.Date) model.Date {
	if a.Before(b) {
		return a
	}
	return b
}
