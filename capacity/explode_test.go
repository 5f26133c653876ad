package capacity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/capacity-engine/generic"
)

// =============================================================================
// RESTRICTIVE-AND TOGGLES
// =============================================================================

func TestEffectiveToggles_RestrictiveAND(t *testing.T) {
	cases := []struct {
		name       string
		global     bool
		rule       *bool
		wantResult bool
	}{
		{"global off, rule on", false, boolPtr(true), false},
		{"global off, rule unset", false, nil, false},
		{"global on, rule off", true, boolPtr(false), false},
		{"global on, rule unset", true, nil, true},
		{"global on, rule on", true, boolPtr(true), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := Rule{IncludeWeekends: tc.rule, IncludeHolidays: tc.rule}
			weekends, holidays := EffectiveToggles(CalendarToggles{
				IncludeWeekends: tc.global,
				IncludeHolidays: tc.global,
			}, r)
			assert.Equal(t, tc.wantResult, weekends)
			assert.Equal(t, tc.wantResult, holidays)
		})
	}
}

func TestExploder_RuleWeekendOffBeatsGlobalOn(t *testing.T) {
	// GIVEN: Global toggle includes weekends, the rule opts out
	// WHEN: Counting the rule's days over Mon-Sun
	// THEN: Only the five weekdays count

	e := NewExploder(week(), CalendarToggles{IncludeWeekends: true}, nil)
	r := rule("r1", "10", "c1", "t1")
	r.IncludeWeekends = boolPtr(false)

	assert.Equal(t, 5, e.Count(r))

	r.IncludeWeekends = nil
	assert.Equal(t, 7, e.Count(r))
}

// =============================================================================
// CLAMPING
// =============================================================================

func TestExploder_ClampsRuleRange(t *testing.T) {
	// GIVEN: A rule running Jan 4 - Jan 20, queried over Jan 1 - Jan 7
	// WHEN: Exploding
	// THEN: Only Thu 4 and Fri 5 remain

	e := NewExploder(week(), CalendarToggles{}, nil)
	r := rule("r1", "10", "c1", "t1")
	r.Start = datePtr("2024-01-04")
	r.End = datePtr("2024-01-20")

	records := e.Explode(r)
	require.Len(t, records, 2)
	assert.Equal(t, "2024-01-04", records[0].Date)
	assert.Equal(t, "2024-01-05", records[1].Date)
	assert.Equal(t, "bucket-r1", records[0].BucketID)
}

func TestExploder_RuleOutsidePeriodProducesNothing(t *testing.T) {
	e := NewExploder(week(), CalendarToggles{}, nil)
	r := rule("r1", "10", "c1", "t1")
	r.Start = datePtr("2024-02-01")
	r.End = datePtr("2024-02-28")

	assert.Equal(t, 0, e.Count(r))
	assert.Empty(t, e.Explode(r))
}

func TestExploder_InvertedRuleRangeProducesNothing(t *testing.T) {
	e := NewExploder(week(), CalendarToggles{}, nil)
	r := rule("r1", "10", "c1", "t1")
	r.Start = datePtr("2024-01-05")
	r.End = datePtr("2024-01-02")

	_, ok := e.EffectiveRange(r)
	assert.False(t, ok)
	assert.Equal(t, 0, e.Count(r))
}

// =============================================================================
// COUNT AND EXPLODE AGREE
// =============================================================================

func TestExploder_CountMatchesExplode(t *testing.T) {
	holidays := generic.NewHolidaySet([]generic.Holiday{{ID: "h", Date: generic.MustParseDate("2024-01-03")}})
	calendars := []CalendarToggles{
		{},
		{IncludeWeekends: true},
		{IncludeHolidays: true},
		{IncludeWeekends: true, IncludeHolidays: true},
		{IndividualDates: []generic.TimePoint{generic.MustParseDate("2024-01-06")}},
	}
	rules := []Rule{
		rule("open", "10", "c1", "t1"),
		func() Rule { r := rule("late", "10", "c1", "t1"); r.Start = datePtr("2024-01-05"); return r }(),
		func() Rule { r := rule("noweekend", "10", "c1", "t1"); r.IncludeWeekends = boolPtr(false); return r }(),
		func() Rule { r := rule("noholiday", "10", "c1", "t1"); r.IncludeHolidays = boolPtr(false); return r }(),
	}
	for _, cal := range calendars {
		e := NewExploder(week(), cal, holidays)
		for _, r := range rules {
			assert.Equal(t, e.Count(r), len(e.Explode(r)), "rule %s calendar %+v", r.ID, cal)
		}
	}
}

func TestExploder_FiveDayRuleEstimate(t *testing.T) {
	// GIVEN: 3_600_000 ms/day over five valid days
	// THEN: 18_000_000 ms estimated

	e := NewExploder(week(), CalendarToggles{}, nil)
	r := rule("r1", "10", "c1", "t1")

	assert.Equal(t, generic.Millis(18_000_000), r.DailyEstimated.Mul(e.Count(r)))
}

func TestExploder_PeriodValidDaysUsesGlobalToggles(t *testing.T) {
	e := NewExploder(week(), CalendarToggles{
		IndividualDates: []generic.TimePoint{generic.MustParseDate("2024-01-06")},
	}, nil)
	assert.Equal(t, 6, e.PeriodValidDays())
}
