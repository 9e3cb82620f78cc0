package schedule

import (
	"sort"

	appLog "ttagenda/internal/log"
	"ttagenda/internal/model"
)

// expand returns a copy of acts in order-index order with position groups
// resolved into EffectivePositionCodes.
func (c *Composer) expand(acts []model.Activity, groups map[string][]string) []model.Activity {
	out := make([]model.Activity, 0, len(acts))
	for _, a := range acts {
		a = a.Clone()
		if a.PositionCodes == nil {
			a.PositionCodes = []string{}
		}
		if a.PositionGroups == nil {
			a.PositionGroups = []string{}
		}
		a.EffectivePositionCodes = c.effectivePositions(a, groups)
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OrderIndex < out[j].OrderIndex
	})
	return out
}

func (c *Composer) effectivePositions(a model.Activity, groups map[string][]string) []string {
	set := make(map[string]struct{})
	add := func(codes ...string) {
		for _, code := range codes {
			if code != "" {
				set[code] = struct{}{}
			}
		}
	}

	add(a.PositionCodes...)
	for _, name := range a.PositionGroups {
		codes, ok := groups[name]
		if !ok {
			appLog.Debug("schedule: unknown position group", "group", name, "activity_type", string(a.Kind))
			continue
		}
		add(codes...)
	}

	b, _ := c.kinds.Behavior(a.Kind)
	switch b.Layout {
	case model.LayoutTeam:
		if len(set) == 0 {
			add(c.positions...)
		}
	case model.LayoutIndividual:
		for code := range a.Topics {
			add(code)
		}
	case model.LayoutGroup:
		for _, combo := range a.Combos {
			add(combo.Groups...)
		}
	}

	out := make([]string, 0, len(set))
	for code := range set {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}
