package ics

import (
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ttagenda/internal/model"
)

func TestExportRoundTrip(t *testing.T) {
	items := []model.ScheduleItem{
		{
			Source:          model.SourceTemplate,
			TemplateID:      7,
			Name:            "Wed practice",
			Date:            model.MustDate("2026-03-11"),
			StartTime:       model.MustClock("20:00"),
			DurationMinutes: 30,
			IsOverride:      true,
			Activities: []model.Activity{
				{Kind: model.KindTeam, DurationMinutes: 30, Topic: "install", EffectivePositionCodes: []string{"OL", "QB"}},
			},
		},
		{
			Source:          model.SourceAdHoc,
			AdHocID:         3,
			Name:            "Film",
			Date:            model.MustDate("2026-03-14"),
			StartTime:       model.MustClock("10:00"),
			DurationMinutes: 60,
		},
	}

	out := Export(items, time.UTC, "example.org", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

	cal, err := ical.ParseCalendar(strings.NewReader(out))
	require.NoError(t, err)
	events := cal.Events()
	require.Len(t, events, 2)

	first := events[0]
	assert.Equal(t, "tpl-7-2026-03-11@example.org", first.Id())
	start, err := first.GetStartAt()
	require.NoError(t, err)
	end, err := first.GetEndAt()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 11, 20, 0, 0, 0, time.UTC), start.UTC())
	assert.Equal(t, 30*time.Minute, end.Sub(start))
	assert.Equal(t, "Wed practice (changed)", first.GetProperty(ical.ComponentPropertySummary).Value)

	assert.Equal(t, "adhoc-3@example.org", events[1].Id())
}

func TestDescribe(t *testing.T) {
	it := model.ScheduleItem{Activities: []model.Activity{
		{Kind: model.KindTeam, DurationMinutes: 30, Topic: "install", EffectivePositionCodes: []string{"OL", "QB"}},
		{Kind: model.KindIndividual, DurationMinutes: 45},
	}}
	assert.Equal(t, "team 30min install [OL,QB]\nindividual 45min", describe(it))
}
