// Package ics renders composed schedule items as an iCalendar feed.
package ics

import (
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"ttagenda/internal/model"
)

const productID = "-//ttagenda//practice schedule//EN"

// EventUID returns the stable UID of an item. Template occurrences are
// keyed by template and date so an edited occurrence keeps its UID.
func EventUID(it model.ScheduleItem, host string) string {
	if host == "" {
		host = "ttagenda"
	}
	switch it.Source {
	case model.SourceAdHoc:
		return fmt.Sprintf("adhoc-%d@%s", it.AdHocID, host)
	default:
		return fmt.Sprintf("tpl-%d-%s@%s", it.TemplateID, it.Date, host)
	}
}

// Export serializes items as a VCALENDAR with one VEVENT per item.
func Export(items []model.ScheduleItem, loc *time.Location, host string, stamp time.Time) string {
	if loc == nil {
		loc = time.Local
	}
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	for _, it := range items {
		start := it.Date.At(it.StartTime, loc)
		end := start.Add(time.Duration(it.DurationMinutes) * time.Minute)

		ev := cal.AddEvent(EventUID(it, host))
		ev.SetDtStampTime(stamp.UTC())
		ev.SetStartAt(start)
		ev.SetEndAt(end)
		summary := it.Name
		if it.IsOverride {
			summary += " (changed)"
		}
		ev.SetSummary(summary)
		ev.SetDescription(describe(it))
	}
	return cal.Serialize()
}

func describe(it model.ScheduleItem) string {
	lines := make([]string, 0, len(it.Activities))
	for _, a := range it.Activities {
		line := fmt.Sprintf("%s %dmin", a.Kind, a.DurationMinutes)
		if a.Topic != "" {
			line += " " + a.Topic
		}
		if len(a.EffectivePositionCodes) > 0 {
			line += " [" + strings.Join(a.EffectivePositionCodes, ",") + "]"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
