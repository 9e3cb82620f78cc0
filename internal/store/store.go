// Package store holds the persistence collaborators of the schedule core:
// an in-memory store for tests and demos, a SQLite store for production and
// a YAML seed importer that fills either of them.
//
// Both stores satisfy schedule.Source (read side) and the admin write
// surface used by the web package. Every value crossing the store boundary
// is deep-copied so callers never share mutable state with the store.
package store

import (
	"context"
	"errors"

	"ttagenda/internal/model"
)

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a uniqueness rule would be violated.
	ErrConflict = errors.New("store: conflict")
)

// Store is the full read/write surface both implementations provide.
type Store interface {
	ListActiveTemplatesOverlapping(ctx context.Context, from, to model.Date) ([]model.Template, error)
	ListOverrides(ctx context.Context, from, to model.Date) ([]model.Override, error)
	ListAdHocInstances(ctx context.Context, from, to model.Date) ([]model.AdHocInstance, error)
	ListPositionGroups(ctx context.Context) ([]model.PositionGroup, error)

	ListTemplates(ctx context.Context) ([]model.Template, error)
	GetTemplate(ctx context.Context, id int64) (model.Template, error)
	CreateTemplate(ctx context.Context, t model.Template) (model.Template, error)
	UpdateTemplate(ctx context.Context, t model.Template) (model.Template, error)
	UpsertOverride(ctx context.Context, o model.Override) (model.Override, error)
	DeleteOverride(ctx context.Context, templateID int64, date model.Date) error
	CreateAdHocInstance(ctx context.Context, inst model.AdHocInstance) (model.AdHocInstance, error)
	CreatePositionGroup(ctx context.Context, g model.PositionGroup) (model.PositionGroup, error)

	Ping(ctx context.Context) error
	Close() error
}

func cloneTemplate(t model.Template) model.Template {
	t.Activities = model.CloneActivities(t.Activities)
	return t
}

func cloneOverride(o model.Override) model.Override {
	if o.StartTime != nil {
		st := *o.StartTime
		o.StartTime = &st
	}
	o.Activities = model.CloneActivities(o.Activities)
	return o
}

func cloneInstance(i model.AdHocInstance) model.AdHocInstance {
	i.Activities = model.CloneActivities(i.Activities)
	return i
}

func cloneGroup(g model.PositionGroup) model.PositionGroup {
	g.PositionCodes = append([]string{}, g.PositionCodes...)
	return g
}

func inRange(d, from, to model.Date) bool {
	return !d.Before(from) && !d.After(to)
}
