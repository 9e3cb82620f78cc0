// Package live answers "what is running right now, and what is next" for
// the live board.
package live

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ttagenda/internal/model"
	"ttagenda/internal/timeline"
)

type Status string

const (
	StatusNone     Status = "none"
	StatusUpcoming Status = "upcoming"
	StatusRunning  Status = "running"
)

// Occurrence is one composed item together with its placed timeline.
type Occurrence struct {
	Item     model.ScheduleItem
	Timeline []timeline.Entry
}

// Span returns the absolute interval covered by the occurrence timeline.
func (o Occurrence) Span() (time.Time, time.Time, bool) {
	return timeline.Span(o.Timeline)
}

// Result is the outcome of one evaluation. It is never persisted.
type Result struct {
	Status          Status              `json:"status"`
	Training        *model.ScheduleItem `json:"current_training"`
	CurrentActivity *timeline.Entry     `json:"current_activity"`
	NextActivity    *timeline.Entry     `json:"next_activity"`
	Timeline        []timeline.Entry    `json:"timeline,omitempty"`
}

// Resolve evaluates candidate occurrences against now.
//
// The first occurrence whose [start, end) contains now is running. Failing
// that, the occurrence starting soonest after now on now's calendar day is
// upcoming. Occurrences with an empty timeline never match.
func Resolve(occs []Occurrence, now time.Time) Result {
	sorted := make([]Occurrence, 0, len(occs))
	for _, o := range occs {
		if len(o.Timeline) > 0 {
			sorted = append(sorted, o)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		si, _, _ := sorted[i].Span()
		sj, _, _ := sorted[j].Span()
		if !si.Equal(sj) {
			return si.Before(sj)
		}
		return sorted[i].Item.Name < sorted[j].Item.Name
	})

	for _, o := range sorted {
		start, end, _ := o.Span()
		if !now.Before(start) && now.Before(end) {
			return running(o, now)
		}
	}

	today := model.DateOf(now)
	for _, o := range sorted {
		start, _, _ := o.Span()
		if o.Item.Date != today || !start.After(now) {
			continue
		}
		return upcoming(o)
	}
	return Result{Status: StatusNone}
}

// ResolveOne evaluates a single selected occurrence: running while now is
// inside it, upcoming before it starts, none afterwards.
func ResolveOne(o Occurrence, now time.Time) Result {
	start, end, ok := o.Span()
	switch {
	case !ok:
		return Result{Status: StatusNone}
	case now.Before(start):
		return upcoming(o)
	case now.Before(end):
		return running(o, now)
	default:
		return Result{Status: StatusNone}
	}
}

func running(o Occurrence, now time.Time) Result {
	item := o.Item
	res := Result{Status: StatusRunning, Training: &item, Timeline: o.Timeline}
	for i := range o.Timeline {
		if o.Timeline[i].Contains(now) {
			cur := o.Timeline[i]
			res.CurrentActivity = &cur
			if i+1 < len(o.Timeline) {
				next := o.Timeline[i+1]
				res.NextActivity = &next
			}
			return res
		}
	}
	// now sits in no entry; report the first one still ahead.
	for i := range o.Timeline {
		if o.Timeline[i].Start.After(now) {
			next := o.Timeline[i]
			res.NextActivity = &next
			break
		}
	}
	return res
}

func upcoming(o Occurrence) Result {
	item := o.Item
	first := o.Timeline[0]
	return Result{Status: StatusUpcoming, Training: &item, NextActivity: &first, Timeline: o.Timeline}
}

// Composer is the part of schedule.Composer the resolver needs.
type Composer interface {
	Build(ctx context.Context, from, to model.Date) ([]model.ScheduleItem, error)
	Occurrence(ctx context.Context, templateID int64, date model.Date) (model.ScheduleItem, bool, error)
	Kinds() model.KindTable
}

// Resolver builds candidate occurrences from a Composer and resolves them.
type Resolver struct {
	composer Composer
	loc      *time.Location
}

func NewResolver(c Composer, loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.Local
	}
	return &Resolver{composer: c, loc: loc}
}

// Status evaluates yesterday's and today's occurrences so a session that
// started before midnight is still reported as running after it.
func (r *Resolver) Status(ctx context.Context, now time.Time) (Result, error) {
	now = now.In(r.loc)
	today := model.DateOf(now)
	items, err := r.composer.Build(ctx, today.AddDays(-1), today)
	if err != nil {
		return Result{}, fmt.Errorf("compose candidates: %w", err)
	}
	occs := make([]Occurrence, 0, len(items))
	for _, it := range items {
		occs = append(occs, r.occurrence(it))
	}
	return Resolve(occs, now), nil
}

// StatusFor evaluates one selected template occurrence. A date without an
// occurrence yields StatusNone.
func (r *Resolver) StatusFor(ctx context.Context, templateID int64, date model.Date, now time.Time) (Result, error) {
	it, found, err := r.composer.Occurrence(ctx, templateID, date)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return Result{Status: StatusNone}, nil
	}
	return ResolveOne(r.occurrence(it), now.In(r.loc)), nil
}

func (r *Resolver) occurrence(it model.ScheduleItem) Occurrence {
	return Occurrence{
		Item:     it,
		Timeline: timeline.Build(it.Date, it.StartTime, it.Activities, r.loc, r.composer.Kinds()),
	}
}
