// Package schedule composes recurring templates, per-date overrides and
// ad-hoc instances into a flat, totally ordered list of schedule items.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	appLog "ttagenda/internal/log"
	"ttagenda/internal/model"
	"ttagenda/internal/timeline"
)

// ErrInvalidRange is returned when from is after to.
var ErrInvalidRange = errors.New("schedule: from date is after to date")

// Source is the read-only view of persisted schedule data the composer
// needs.
type Source interface {
	ListActiveTemplatesOverlapping(ctx context.Context, from, to model.Date) ([]model.Template, error)
	ListOverrides(ctx context.Context, from, to model.Date) ([]model.Override, error)
	ListAdHocInstances(ctx context.Context, from, to model.Date) ([]model.AdHocInstance, error)
	ListPositionGroups(ctx context.Context) ([]model.PositionGroup, error)
}

// DefaultPositions is the position list used when none is configured.
var DefaultPositions = []string{"OL", "DL", "LB", "RB", "DB", "TE", "WR", "QB"}

// Composer builds schedule items. It holds no mutable state and is safe for
// concurrent use.
type Composer struct {
	src       Source
	kinds     model.KindTable
	positions []string
}

// Option configures a Composer.
type Option func(*Composer)

// WithKinds sets the activity kind table.
func WithKinds(k model.KindTable) Option {
	return func(c *Composer) {
		if k != nil {
			c.kinds = k
		}
	}
}

// WithPositions sets the full list of position codes a team activity covers.
func WithPositions(p []string) Option {
	return func(c *Composer) {
		if len(p) > 0 {
			c.positions = append([]string(nil), p...)
		}
	}
}

// NewComposer constructs a Composer over src.
func NewComposer(src Source, opts ...Option) *Composer {
	c := &Composer{
		src:       src,
		kinds:     model.DefaultKinds(),
		positions: append([]string(nil), DefaultPositions...),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Kinds returns the kind table used by the composer.
func (c *Composer) Kinds() model.KindTable {
	return c.kinds
}

// Build composes every occurrence in [from, to], both ends inclusive.
//
// For each active template whose validity window intersects the range,
// every matching weekday yields one item unless a cancelling override
// exists for that date. An override replaces the start time and/or the
// activity list; unset fields inherit from the template. Ad-hoc instances
// are added as they are. The result is ordered by (date, start time, name).
func (c *Composer) Build(ctx context.Context, from, to model.Date) ([]model.ScheduleItem, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("%w: %s > %s", ErrInvalidRange, from, to)
	}

	groups, err := c.src.ListPositionGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("list position groups: %w", err)
	}
	groupsByName := make(map[string][]string, len(groups))
	for _, g := range groups {
		groupsByName[g.Name] = g.PositionCodes
	}

	templates, err := c.src.ListActiveTemplatesOverlapping(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	overrides, err := c.src.ListOverrides(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	adhoc, err := c.src.ListAdHocInstances(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list ad-hoc instances: %w", err)
	}

	overridesByKey := make(map[model.OverrideKey]model.Override, len(overrides))
	for _, o := range overrides {
		overridesByKey[o.Key()] = o
	}
	used := make(map[model.OverrideKey]bool, len(overrides))

	items := make([]model.ScheduleItem, 0)

	for _, tpl := range templates {
		if !tpl.Active || !tpl.Overlaps(from, to) {
			continue
		}
		dates, err := weekdayDates(maxDate(from, tpl.ValidFrom), minDate(to, tpl.ValidTo), tpl.Weekday)
		if err != nil {
			appLog.Error("schedule: skipping template", err, "template_id", tpl.ID, "name", tpl.Name)
			continue
		}

		var templateActivities []model.Activity
		for _, day := range dates {
			key := model.OverrideKey{TemplateID: tpl.ID, Date: day}
			ov, hasOverride := overridesByKey[key]
			if hasOverride {
				used[key] = true
				if ov.Cancelled {
					continue
				}
			}

			start := tpl.StartTime
			if hasOverride && ov.StartTime != nil {
				start = *ov.StartTime
			}

			var acts []model.Activity
			if hasOverride && ov.Activities != nil {
				acts = c.expand(ov.Activities, groupsByName)
			} else {
				if templateActivities == nil {
					templateActivities = c.expand(tpl.Activities, groupsByName)
				}
				acts = model.CloneActivities(templateActivities)
			}

			item := newItem(model.SourceTemplate, tpl.Name, day, start, acts)
			item.TemplateID = tpl.ID
			item.IsOverride = hasOverride
			items = append(items, item)
		}
	}

	for _, inst := range adhoc {
		if inst.Date.Before(from) || inst.Date.After(to) {
			continue
		}
		item := newItem(model.SourceAdHoc, inst.Name, inst.Date, inst.StartTime, c.expand(inst.Activities, groupsByName))
		item.AdHocID = inst.ID
		items = append(items, item)
	}

	for key, o := range overridesByKey {
		if !used[key] {
			appLog.Debug("schedule: override matches no occurrence",
				"override_id", o.ID,
				"template_id", o.TemplateID,
				"date", o.Date.String(),
			)
		}
	}

	SortItems(items)
	return items, nil
}

// Occurrence composes the single occurrence of templateID on date. found is
// false when the template has no (uncancelled) occurrence that day.
func (c *Composer) Occurrence(ctx context.Context, templateID int64, date model.Date) (model.ScheduleItem, bool, error) {
	items, err := c.Build(ctx, date, date)
	if err != nil {
		return model.ScheduleItem{}, false, err
	}
	for _, it := range items {
		if it.Source == model.SourceTemplate && it.TemplateID == templateID {
			return it, true, nil
		}
	}
	return model.ScheduleItem{}, false, nil
}

// Upcoming returns up to limit occurrences between today and today+horizonDays
// that have not ended at now.
func (c *Composer) Upcoming(ctx context.Context, now time.Time, loc *time.Location, horizonDays, limit int) ([]model.ScheduleItem, error) {
	if loc == nil {
		loc = time.Local
	}
	if horizonDays < 0 {
		horizonDays = 0
	}
	today := model.DateOf(now.In(loc))
	items, err := c.Build(ctx, today, today.AddDays(horizonDays))
	if err != nil {
		return nil, err
	}

	out := make([]model.ScheduleItem, 0, limit)
	for _, it := range items {
		if limit > 0 && len(out) >= limit {
			break
		}
		_, end := c.ItemSpan(it, loc)
		if !end.After(now) {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

// ItemSpan returns the first start and last end of the item's timeline, so
// pre-session and stamped activities count. An item without activities
// spans only its start instant.
func (c *Composer) ItemSpan(it model.ScheduleItem, loc *time.Location) (time.Time, time.Time) {
	if start, end, ok := timeline.Span(timeline.Build(it.Date, it.StartTime, it.Activities, loc, c.kinds)); ok {
		return start, end
	}
	start := it.Date.At(it.StartTime, loc)
	return start, start
}

// SortItems orders items by date, start time and name. Remaining ties are
// broken by source and id so the order is total.
func SortItems(items []model.ScheduleItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if c := a.Date.Compare(b.Date); c != 0 {
			return c < 0
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.TemplateID != b.TemplateID {
			return a.TemplateID < b.TemplateID
		}
		return a.AdHocID < b.AdHocID
	})
}

func newItem(src model.Source, name string, day model.Date, start model.Clock, acts []model.Activity) model.ScheduleItem {
	total := model.TotalMinutes(acts)
	end, days := start.Add(total)
	return model.ScheduleItem{
		Source:          src,
		Name:            name,
		Date:            day,
		StartTime:       start,
		EndTime:         end,
		EndDate:         day.AddDays(days),
		DurationMinutes: total,
		Activities:      acts,
	}
}
