package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"ttagenda/internal/model"
)

// Memory is a Store kept entirely in process memory.
type Memory struct {
	mu        sync.RWMutex
	nextID    int64
	templates map[int64]model.Template
	overrides map[model.OverrideKey]model.Override
	adhoc     map[int64]model.AdHocInstance
	groups    map[string]model.PositionGroup
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		templates: make(map[int64]model.Template),
		overrides: make(map[model.OverrideKey]model.Override),
		adhoc:     make(map[int64]model.AdHocInstance),
		groups:    make(map[string]model.PositionGroup),
	}
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *Memory) ListActiveTemplatesOverlapping(_ context.Context, from, to model.Date) ([]model.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Template, 0, len(m.templates))
	for _, t := range m.templates {
		if t.Active && t.Overlaps(from, to) {
			out = append(out, cloneTemplate(t))
		}
	}
	sortTemplates(out)
	return out, nil
}

func (m *Memory) ListTemplates(_ context.Context) ([]model.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Template, 0, len(m.templates))
	for _, t := range m.templates {
		out = append(out, cloneTemplate(t))
	}
	sortTemplates(out)
	return out, nil
}

func (m *Memory) GetTemplate(_ context.Context, id int64) (model.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.templates[id]
	if !ok {
		return model.Template{}, fmt.Errorf("template %d: %w", id, ErrNotFound)
	}
	return cloneTemplate(t), nil
}

func (m *Memory) CreateTemplate(_ context.Context, t model.Template) (model.Template, error) {
	if err := t.Validate(); err != nil {
		return model.Template{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t = cloneTemplate(t)
	t.ID = m.id()
	m.templates[t.ID] = t
	return cloneTemplate(t), nil
}

func (m *Memory) UpdateTemplate(_ context.Context, t model.Template) (model.Template, error) {
	if err := t.Validate(); err != nil {
		return model.Template{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.templates[t.ID]; !ok {
		return model.Template{}, fmt.Errorf("template %d: %w", t.ID, ErrNotFound)
	}
	m.templates[t.ID] = cloneTemplate(t)
	return cloneTemplate(t), nil
}

func (m *Memory) ListOverrides(_ context.Context, from, to model.Date) ([]model.Override, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Override, 0)
	for _, o := range m.overrides {
		if inRange(o.Date, from, to) {
			out = append(out, cloneOverride(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Date.Compare(out[j].Date); c != 0 {
			return c < 0
		}
		return out[i].TemplateID < out[j].TemplateID
	})
	return out, nil
}

// UpsertOverride stores o as the only override for its (template, date),
// replacing every field of an existing one.
func (m *Memory) UpsertOverride(_ context.Context, o model.Override) (model.Override, error) {
	if err := o.Validate(); err != nil {
		return model.Override{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.templates[o.TemplateID]; !ok {
		return model.Override{}, fmt.Errorf("template %d: %w", o.TemplateID, ErrNotFound)
	}
	o = cloneOverride(o)
	if prev, ok := m.overrides[o.Key()]; ok {
		o.ID = prev.ID
	} else {
		o.ID = m.id()
	}
	m.overrides[o.Key()] = o
	return cloneOverride(o), nil
}

func (m *Memory) DeleteOverride(_ context.Context, templateID int64, date model.Date) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := model.OverrideKey{TemplateID: templateID, Date: date}
	if _, ok := m.overrides[key]; !ok {
		return fmt.Errorf("override %d/%s: %w", templateID, date, ErrNotFound)
	}
	delete(m.overrides, key)
	return nil
}

func (m *Memory) ListAdHocInstances(_ context.Context, from, to model.Date) ([]model.AdHocInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.AdHocInstance, 0)
	for _, inst := range m.adhoc {
		if inRange(inst.Date, from, to) {
			out = append(out, cloneInstance(inst))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreateAdHocInstance(_ context.Context, inst model.AdHocInstance) (model.AdHocInstance, error) {
	if err := inst.Validate(); err != nil {
		return model.AdHocInstance{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	inst = cloneInstance(inst)
	inst.ID = m.id()
	m.adhoc[inst.ID] = inst
	return cloneInstance(inst), nil
}

func (m *Memory) ListPositionGroups(_ context.Context) ([]model.PositionGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.PositionGroup, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, cloneGroup(g))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) CreatePositionGroup(_ context.Context, g model.PositionGroup) (model.PositionGroup, error) {
	g.Name = strings.TrimSpace(g.Name)
	if g.Name == "" {
		return model.PositionGroup{}, fmt.Errorf("position group: empty name")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.groups[g.Name]; ok {
		return model.PositionGroup{}, fmt.Errorf("position group %q: %w", g.Name, ErrConflict)
	}
	g = cloneGroup(g)
	g.ID = m.id()
	m.groups[g.Name] = g
	return cloneGroup(g), nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func sortTemplates(ts []model.Template) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].ID < ts[j].ID })
}
