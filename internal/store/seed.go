package store

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	appLog "ttagenda/internal/log"
	"ttagenda/internal/model"
)

// Seed is the YAML document used to pre-populate a store.
//
// Overrides reference their template by name because ids are assigned on
// insert.
type Seed struct {
	PositionGroups []model.PositionGroup `yaml:"position_groups"`
	Templates      []model.Template      `yaml:"templates"`
	Overrides      []SeedOverride        `yaml:"overrides"`
	AdHoc          []model.AdHocInstance `yaml:"adhoc"`
}

// SeedOverride is an override keyed by template name.
type SeedOverride struct {
	Template       string `yaml:"template"`
	model.Override `yaml:",inline"`
}

// LoadSeed reads a seed document from path.
func LoadSeed(path string) (*Seed, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Seed
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	return &s, nil
}

// Apply writes every entry of s into st. Position groups that already exist
// are skipped so a seed can be applied to a persistent store on each start.
func (s *Seed) Apply(ctx context.Context, st Store) error {
	for _, g := range s.PositionGroups {
		if _, err := st.CreatePositionGroup(ctx, g); err != nil {
			if isConflict(err) {
				appLog.Debug("seed: position group exists", "name", g.Name)
				continue
			}
			return fmt.Errorf("seed position group %q: %w", g.Name, err)
		}
	}

	existing, err := st.ListTemplates(ctx)
	if err != nil {
		return fmt.Errorf("seed: list templates: %w", err)
	}
	ids := make(map[string]int64, len(existing)+len(s.Templates))
	for _, t := range existing {
		ids[t.Name] = t.ID
	}

	created := 0
	for _, t := range s.Templates {
		if _, ok := ids[t.Name]; ok {
			appLog.Debug("seed: template exists", "name", t.Name)
			continue
		}
		t.ID = 0
		saved, err := st.CreateTemplate(ctx, t)
		if err != nil {
			return fmt.Errorf("seed template %q: %w", t.Name, err)
		}
		ids[saved.Name] = saved.ID
		created++
	}

	for _, so := range s.Overrides {
		id, ok := ids[so.Template]
		if !ok {
			return fmt.Errorf("seed override %s: template %q: %w", so.Date, so.Template, ErrNotFound)
		}
		o := so.Override
		o.TemplateID = id
		if _, err := st.UpsertOverride(ctx, o); err != nil {
			return fmt.Errorf("seed override %q/%s: %w", so.Template, so.Date, err)
		}
	}

	// Ad-hoc instances have no natural key; only seed them into a store that
	// was empty of templates before this run.
	if len(existing) == 0 {
		for _, inst := range s.AdHoc {
			inst.ID = 0
			if _, err := st.CreateAdHocInstance(ctx, inst); err != nil {
				return fmt.Errorf("seed ad-hoc %q: %w", inst.Name, err)
			}
		}
	}

	appLog.Info("seed applied",
		"position_groups", len(s.PositionGroups),
		"templates_created", created,
		"overrides", len(s.Overrides),
	)
	return nil
}

func isConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
