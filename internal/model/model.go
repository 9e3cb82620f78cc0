package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrInvalidTemplate = errors.New("invalid template")
	ErrInvalidActivity = errors.New("invalid activity")
	ErrMissingDuration = errors.New("activity has no duration_minutes")
	ErrInvalidOverride = errors.New("invalid override")
	ErrInvalidInstance = errors.New("invalid ad-hoc instance")
)

// GroupCombo is one combination of positions sharing a topic in a
// group-layout activity.
type GroupCombo struct {
	Groups []string `json:"groups" yaml:"groups"`
	Topic  string   `json:"topic" yaml:"topic"`
}

// Activity is one timed block of a session. The same shape is used for
// template activity definitions, override replacement lists and ad-hoc
// instance activities.
type Activity struct {
	Kind            ActivityKind `json:"activity_type" yaml:"activity_type"`
	DurationMinutes int          `json:"duration_minutes" yaml:"duration_minutes"`
	OrderIndex      int          `json:"order_index" yaml:"order_index"`

	// StartTime is set only when the activity was stored with an explicit
	// wall-clock start (stamped timelines).
	StartTime *Clock `json:"start_time,omitempty" yaml:"start_time,omitempty"`

	Topic  string            `json:"topic,omitempty" yaml:"topic,omitempty"`
	Topics map[string]string `json:"topics,omitempty" yaml:"topics,omitempty"`
	Combos []GroupCombo      `json:"combos,omitempty" yaml:"combos,omitempty"`

	PositionCodes  []string `json:"position_codes" yaml:"position_codes"`
	PositionGroups []string `json:"position_groups" yaml:"position_groups"`

	// EffectivePositionCodes is derived by the composer.
	EffectivePositionCodes []string `json:"effective_position_codes" yaml:"-"`
}

// UnmarshalJSON decodes an activity and insists on a duration field, the
// only part of an override activity the core relies on.
func (a *Activity) UnmarshalJSON(b []byte) error {
	type plain Activity
	var raw struct {
		plain
		DurationMinutes *int `json:"duration_minutes"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.DurationMinutes == nil {
		return ErrMissingDuration
	}
	*a = Activity(raw.plain)
	a.DurationMinutes = *raw.DurationMinutes
	return nil
}

// Validate enforces the data-layer rules for stored activities.
func (a Activity) Validate() error {
	if a.Kind == "" {
		return fmt.Errorf("%w: empty activity_type", ErrInvalidActivity)
	}
	if a.DurationMinutes <= 0 {
		return fmt.Errorf("%w: duration_minutes must be > 0 (got %d)", ErrInvalidActivity, a.DurationMinutes)
	}
	if a.StartTime != nil && !a.StartTime.Valid() {
		return fmt.Errorf("%w: start_time out of range", ErrInvalidActivity)
	}
	return nil
}

// Clone returns a deep copy of a.
func (a Activity) Clone() Activity {
	out := a
	if a.StartTime != nil {
		st := *a.StartTime
		out.StartTime = &st
	}
	if a.Topics != nil {
		out.Topics = make(map[string]string, len(a.Topics))
		for k, v := range a.Topics {
			out.Topics[k] = v
		}
	}
	if a.Combos != nil {
		out.Combos = make([]GroupCombo, len(a.Combos))
		for i, c := range a.Combos {
			out.Combos[i] = GroupCombo{Groups: append([]string(nil), c.Groups...), Topic: c.Topic}
		}
	}
	out.PositionCodes = cloneStrings(a.PositionCodes)
	out.PositionGroups = cloneStrings(a.PositionGroups)
	out.EffectivePositionCodes = cloneStrings(a.EffectivePositionCodes)
	return out
}

// CloneActivities deep-copies a list, preserving nil.
func CloneActivities(in []Activity) []Activity {
	if in == nil {
		return nil
	}
	out := make([]Activity, len(in))
	for i, a := range in {
		out[i] = a.Clone()
	}
	return out
}

// TotalMinutes sums the durations of acts.
func TotalMinutes(acts []Activity) int {
	total := 0
	for _, a := range acts {
		if a.DurationMinutes > 0 {
			total += a.DurationMinutes
		}
	}
	return total
}

// Template is a recurring weekly session definition.
type Template struct {
	ID         int64      `json:"id" yaml:"id,omitempty"`
	Name       string     `json:"name" yaml:"name"`
	ValidFrom  Date       `json:"valid_from" yaml:"valid_from"`
	ValidTo    Date       `json:"valid_to" yaml:"valid_to"`
	Weekday    int        `json:"weekday" yaml:"weekday"` // Monday=0 .. Sunday=6
	StartTime  Clock      `json:"start_time" yaml:"start_time"`
	Active     bool       `json:"is_active" yaml:"is_active"`
	Activities []Activity `json:"activities" yaml:"activities"`
}

// Validate enforces the template invariants.
func (t Template) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidTemplate)
	}
	if t.ValidTo.Before(t.ValidFrom) {
		return fmt.Errorf("%w: valid_from %s is after valid_to %s", ErrInvalidTemplate, t.ValidFrom, t.ValidTo)
	}
	if t.Weekday < 0 || t.Weekday > 6 {
		return fmt.Errorf("%w: weekday %d not in 0..6", ErrInvalidTemplate, t.Weekday)
	}
	if !t.StartTime.Valid() {
		return fmt.Errorf("%w: start_time out of range", ErrInvalidTemplate)
	}
	seen := make(map[int]bool, len(t.Activities))
	for _, a := range t.Activities {
		if err := a.Validate(); err != nil {
			return err
		}
		if seen[a.OrderIndex] {
			return fmt.Errorf("%w: duplicate order_index %d", ErrInvalidTemplate, a.OrderIndex)
		}
		seen[a.OrderIndex] = true
	}
	return nil
}

// Overlaps reports whether the validity window intersects [from, to].
func (t Template) Overlaps(from, to Date) bool {
	return !t.ValidTo.Before(from) && !t.ValidFrom.After(to)
}

// Override is a per-date exception to a template occurrence. A nil
// StartTime or nil Activities inherits the template value.
type Override struct {
	ID         int64      `json:"id" yaml:"id,omitempty"`
	TemplateID int64      `json:"template_id" yaml:"template_id"`
	Date       Date       `json:"date" yaml:"date"`
	Cancelled  bool       `json:"cancelled" yaml:"cancelled"`
	StartTime  *Clock     `json:"start_time,omitempty" yaml:"start_time,omitempty"`
	Activities []Activity `json:"activities" yaml:"activities,omitempty"`
}

// OverrideKey identifies the single override allowed per template and date.
type OverrideKey struct {
	TemplateID int64
	Date       Date
}

func (o Override) Key() OverrideKey {
	return OverrideKey{TemplateID: o.TemplateID, Date: o.Date}
}

// Validate enforces the override invariants.
func (o Override) Validate() error {
	if o.TemplateID <= 0 {
		return fmt.Errorf("%w: missing template_id", ErrInvalidOverride)
	}
	if o.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidOverride)
	}
	if o.StartTime != nil && !o.StartTime.Valid() {
		return fmt.Errorf("%w: start_time out of range", ErrInvalidOverride)
	}
	for _, a := range o.Activities {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// AdHocInstance is a one-off session not tied to any template.
type AdHocInstance struct {
	ID         int64      `json:"id" yaml:"id,omitempty"`
	Name       string     `json:"name" yaml:"name"`
	Date       Date       `json:"date" yaml:"date"`
	StartTime  Clock      `json:"start_time" yaml:"start_time"`
	Activities []Activity `json:"activities" yaml:"activities"`
}

// Validate enforces the ad-hoc instance invariants.
func (i AdHocInstance) Validate() error {
	if i.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidInstance)
	}
	if i.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidInstance)
	}
	if !i.StartTime.Valid() {
		return fmt.Errorf("%w: start_time out of range", ErrInvalidInstance)
	}
	for _, a := range i.Activities {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// PositionGroup names a set of position codes.
type PositionGroup struct {
	ID            int64    `json:"id" yaml:"id,omitempty"`
	Name          string   `json:"name" yaml:"name"`
	PositionCodes []string `json:"position_codes" yaml:"position_codes"`
}

// Source tells where a ScheduleItem came from.
type Source string

const (
	SourceTemplate Source = "template"
	SourceAdHoc    Source = "ad_hoc"
)

// ScheduleItem is one composed occurrence. It is derived fresh on every
// query and never persisted.
type ScheduleItem struct {
	Source          Source     `json:"source"`
	TemplateID      int64      `json:"template_id,omitempty"`
	AdHocID         int64      `json:"ad_hoc_id,omitempty"`
	Name            string     `json:"name"`
	Date            Date       `json:"date"`
	StartTime       Clock      `json:"start_time"`
	EndTime         Clock      `json:"end_time"`
	EndDate         Date       `json:"end_date"`
	DurationMinutes int        `json:"duration_minutes"`
	Activities      []Activity `json:"activities"`
	IsOverride      bool       `json:"is_override"`
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
