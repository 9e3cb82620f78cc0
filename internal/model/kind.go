package model

import (
	"fmt"
	"strings"
)

// ActivityKind is the stored activity type ("team", "prepractice", ...).
type ActivityKind string

const (
	KindTeam        ActivityKind = "team"
	KindPrePractice ActivityKind = "prepractice"
	KindIndividual  ActivityKind = "individual"
	KindGroup       ActivityKind = "group"
)

// Layout is the closed set of shapes an activity can take.
type Layout int

const (
	// LayoutTeam spans every position with one topic.
	LayoutTeam Layout = iota
	// LayoutIndividual splits by position with a per-position topic map.
	LayoutIndividual
	// LayoutGroup combines positions into named combos, one topic per combo.
	LayoutGroup
)

func (l Layout) String() string {
	switch l {
	case LayoutTeam:
		return "team"
	case LayoutIndividual:
		return "individual"
	case LayoutGroup:
		return "group"
	default:
		return fmt.Sprintf("layout(%d)", int(l))
	}
}

// ParseLayout maps a config name onto a Layout.
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "team", "":
		return LayoutTeam, nil
	case "individual":
		return LayoutIndividual, nil
	case "group":
		return LayoutGroup, nil
	default:
		return 0, fmt.Errorf("unknown activity layout %q", s)
	}
}

// Behavior describes how an activity kind is laid out and timed.
type Behavior struct {
	Layout Layout
	// PreSession activities run before the nominal start time of a session.
	PreSession bool
}

// KindTable resolves an ActivityKind to its Behavior.
type KindTable map[ActivityKind]Behavior

// DefaultKinds returns the built-in kind table.
func DefaultKinds() KindTable {
	return KindTable{
		KindTeam:        {Layout: LayoutTeam},
		KindPrePractice: {Layout: LayoutTeam, PreSession: true},
		KindIndividual:  {Layout: LayoutIndividual},
		KindGroup:       {Layout: LayoutGroup},
	}
}

// Behavior returns the behavior of k. Unknown kinds behave like team
// activities; ok reports whether k was found.
func (t KindTable) Behavior(k ActivityKind) (Behavior, bool) {
	if t == nil {
		t = DefaultKinds()
	}
	b, ok := t[k]
	if !ok {
		return Behavior{Layout: LayoutTeam}, false
	}
	return b, true
}

// With returns a copy of t with extra kinds merged over it.
func (t KindTable) With(extra KindTable) KindTable {
	out := make(KindTable, len(t)+len(extra))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
