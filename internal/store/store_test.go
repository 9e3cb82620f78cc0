package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ttagenda/internal/model"
)

func clockPtr(s string) *model.Clock {
	c := model.MustClock(s)
	return &c
}

func wednesdayTemplate() model.Template {
	return model.Template{
		Name:      "Wed practice",
		ValidFrom: model.MustDate("2026-03-01"),
		ValidTo:   model.MustDate("2026-03-31"),
		Weekday:   2,
		StartTime: model.MustClock("19:30"),
		Active:    true,
		Activities: []model.Activity{
			{Kind: model.KindTeam, DurationMinutes: 60, OrderIndex: 0, PositionGroups: []string{"Offense"}},
			{Kind: model.KindIndividual, DurationMinutes: 60, OrderIndex: 1, Topics: map[string]string{"QB": "reads"}},
		},
	}
}

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "agenda.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

func TestStoreContract(t *testing.T) {
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, st.Ping(ctx))

			tpl, err := st.CreateTemplate(ctx, wednesdayTemplate())
			require.NoError(t, err)
			require.NotZero(t, tpl.ID)

			got, err := st.GetTemplate(ctx, tpl.ID)
			require.NoError(t, err)
			assert.Equal(t, "Wed practice", got.Name)
			assert.Equal(t, model.MustClock("19:30"), got.StartTime)
			require.Len(t, got.Activities, 2)
			assert.Equal(t, "reads", got.Activities[1].Topics["QB"])

			_, err = st.GetTemplate(ctx, tpl.ID+100)
			assert.ErrorIs(t, err, ErrNotFound)

			// window filter
			ts, err := st.ListActiveTemplatesOverlapping(ctx, model.MustDate("2026-04-01"), model.MustDate("2026-04-30"))
			require.NoError(t, err)
			assert.Empty(t, ts)
			ts, err = st.ListActiveTemplatesOverlapping(ctx, model.MustDate("2026-02-20"), model.MustDate("2026-03-01"))
			require.NoError(t, err)
			assert.Len(t, ts, 1)

			// inactive templates are not listed for composition
			got.Active = false
			_, err = st.UpdateTemplate(ctx, got)
			require.NoError(t, err)
			ts, err = st.ListActiveTemplatesOverlapping(ctx, model.MustDate("2026-03-01"), model.MustDate("2026-03-31"))
			require.NoError(t, err)
			assert.Empty(t, ts)
			all, err := st.ListTemplates(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 1)
		})
	}
}

func TestStoreOverrides(t *testing.T) {
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			tpl, err := st.CreateTemplate(ctx, wednesdayTemplate())
			require.NoError(t, err)

			day := model.MustDate("2026-03-11")
			first, err := st.UpsertOverride(ctx, model.Override{
				TemplateID: tpl.ID,
				Date:       day,
				StartTime:  clockPtr("20:00"),
				Activities: []model.Activity{{Kind: model.KindTeam, DurationMinutes: 30}},
			})
			require.NoError(t, err)

			// second upsert replaces the whole row
			second, err := st.UpsertOverride(ctx, model.Override{TemplateID: tpl.ID, Date: day, Cancelled: true})
			require.NoError(t, err)
			assert.Equal(t, first.ID, second.ID)

			ovs, err := st.ListOverrides(ctx, model.MustDate("2026-03-01"), model.MustDate("2026-03-31"))
			require.NoError(t, err)
			require.Len(t, ovs, 1)
			assert.True(t, ovs[0].Cancelled)
			assert.Nil(t, ovs[0].StartTime)
			assert.Nil(t, ovs[0].Activities)

			// explicit empty list survives a round trip
			_, err = st.UpsertOverride(ctx, model.Override{TemplateID: tpl.ID, Date: day, Activities: []model.Activity{}})
			require.NoError(t, err)
			ovs, err = st.ListOverrides(ctx, day, day)
			require.NoError(t, err)
			require.Len(t, ovs, 1)
			assert.NotNil(t, ovs[0].Activities)
			assert.Empty(t, ovs[0].Activities)

			_, err = st.UpsertOverride(ctx, model.Override{TemplateID: tpl.ID + 100, Date: day})
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, st.DeleteOverride(ctx, tpl.ID, day))
			assert.ErrorIs(t, st.DeleteOverride(ctx, tpl.ID, day), ErrNotFound)
		})
	}
}

func TestStoreAdHocAndGroups(t *testing.T) {
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			g, err := st.CreatePositionGroup(ctx, model.PositionGroup{Name: "Offense", PositionCodes: []string{"QB", "WR"}})
			require.NoError(t, err)
			assert.NotZero(t, g.ID)
			_, err = st.CreatePositionGroup(ctx, model.PositionGroup{Name: "Offense"})
			assert.ErrorIs(t, err, ErrConflict)

			groups, err := st.ListPositionGroups(ctx)
			require.NoError(t, err)
			require.Len(t, groups, 1)
			assert.Equal(t, []string{"QB", "WR"}, groups[0].PositionCodes)

			inst, err := st.CreateAdHocInstance(ctx, model.AdHocInstance{
				Name:       "Film session",
				Date:       model.MustDate("2026-03-14"),
				StartTime:  model.MustClock("10:00"),
				Activities: []model.Activity{{Kind: model.KindTeam, DurationMinutes: 90}},
			})
			require.NoError(t, err)
			assert.NotZero(t, inst.ID)

			list, err := st.ListAdHocInstances(ctx, model.MustDate("2026-03-14"), model.MustDate("2026-03-14"))
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, 90, list[0].Activities[0].DurationMinutes)

			list, err = st.ListAdHocInstances(ctx, model.MustDate("2026-03-15"), model.MustDate("2026-03-31"))
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestStoreRejectsInvalid(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	bad := wednesdayTemplate()
	bad.Activities[0].DurationMinutes = 0
	_, err := st.CreateTemplate(ctx, bad)
	assert.ErrorIs(t, err, model.ErrInvalidActivity)

	bad = wednesdayTemplate()
	bad.ValidTo = model.MustDate("2026-02-01")
	_, err = st.CreateTemplate(ctx, bad)
	assert.ErrorIs(t, err, model.ErrInvalidTemplate)
}

func TestMemoryReturnsCopies(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()
	tpl, err := st.CreateTemplate(ctx, wednesdayTemplate())
	require.NoError(t, err)

	tpl.Activities[0].DurationMinutes = 999
	got, err := st.GetTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, got.Activities[0].DurationMinutes)
}

const seedYAML = `
position_groups:
  - name: Offense
    position_codes: [QB, WR, OL, TE, RB]
templates:
  - name: Wed practice
    valid_from: 2026-03-01
    valid_to: 2026-03-31
    weekday: 2
    start_time: "19:30"
    is_active: true
    activities:
      - activity_type: team
        duration_minutes: 120
        order_index: 0
overrides:
  - template: Wed practice
    date: 2026-03-18
    cancelled: true
adhoc:
  - name: Film session
    date: 2026-03-14
    start_time: "10:00"
    activities:
      - activity_type: team
        duration_minutes: 60
        order_index: 0
`

func TestSeedApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o600))

	seed, err := LoadSeed(path)
	require.NoError(t, err)

	st := NewMemory()
	ctx := context.Background()
	require.NoError(t, seed.Apply(ctx, st))
	// applying twice does not duplicate
	require.NoError(t, seed.Apply(ctx, st))

	ts, err := st.ListTemplates(ctx)
	require.NoError(t, err)
	require.Len(t, ts, 1)
	assert.Equal(t, 2, ts[0].Weekday)

	ovs, err := st.ListOverrides(ctx, model.MustDate("2026-03-01"), model.MustDate("2026-03-31"))
	require.NoError(t, err)
	require.Len(t, ovs, 1)
	assert.True(t, ovs[0].Cancelled)
	assert.Equal(t, ts[0].ID, ovs[0].TemplateID)

	adhoc, err := st.ListAdHocInstances(ctx, model.MustDate("2026-03-01"), model.MustDate("2026-03-31"))
	require.NoError(t, err)
	assert.Len(t, adhoc, 1)
}

func TestSeedUnknownTemplate(t *testing.T) {
	seed := &Seed{Overrides: []SeedOverride{{Template: "nope", Override: model.Override{Date: model.MustDate("2026-03-18")}}}}
	err := seed.Apply(context.Background(), NewMemory())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteSkipsUndecodableRows(t *testing.T) {
	ctx := context.Background()
	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "agenda.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })

	wed, err := sq.CreateTemplate(ctx, wednesdayTemplate())
	require.NoError(t, err)
	thu := wednesdayTemplate()
	thu.Name, thu.Weekday = "Thu practice", 3
	thu, err = sq.CreateTemplate(ctx, thu)
	require.NoError(t, err)

	// Rows written by another tool without a duration field.
	_, err = sq.db.ExecContext(ctx,
		`INSERT INTO overrides (template_id, date, cancelled, activities_json) VALUES (?, ?, 0, ?)`,
		wed.ID, "2026-03-11", `[{"activity_type":"team"}]`)
	require.NoError(t, err)
	_, err = sq.db.ExecContext(ctx,
		`INSERT INTO templates (name, valid_from, valid_to, weekday, start_minute, is_active, activities_json)
		 VALUES ('Broken', '2026-03-01', '2026-03-31', 4, 600, 1, 'not json')`)
	require.NoError(t, err)
	good, err := sq.UpsertOverride(ctx, model.Override{TemplateID: thu.ID, Date: model.MustDate("2026-03-12"), Cancelled: true})
	require.NoError(t, err)

	ovs, err := sq.ListOverrides(ctx, model.MustDate("2026-03-01"), model.MustDate("2026-03-31"))
	require.NoError(t, err)
	require.Len(t, ovs, 1)
	assert.Equal(t, good.ID, ovs[0].ID)

	ts, err := sq.ListActiveTemplatesOverlapping(ctx, model.MustDate("2026-03-01"), model.MustDate("2026-03-31"))
	require.NoError(t, err)
	require.Len(t, ts, 2)
	assert.Equal(t, wed.ID, ts[0].ID)
	assert.Equal(t, thu.ID, ts[1].ID)
}
