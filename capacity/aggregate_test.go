package capacity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/capacity-engine/generic"
)

func cardByID(cards []Card, id string) (Card, bool) {
	for _, c := range cards {
		if c.EntityID == id {
			return c, true
		}
	}
	return Card{}, false
}

// =============================================================================
// SUMMARY MODE
// =============================================================================

func TestSummarize_ByResponsible(t *testing.T) {
	// GIVEN: Two rules for responsible 10, one for responsible 20
	// WHEN: Summarizing by responsible over five weekdays
	// THEN: Estimates are 1h x 5 days per rule

	rules := []Rule{
		rule("r1", "10", "c1", "t1"),
		rule("r2", "10", "c2", "t2"),
		rule("r3", "20", "c1", "t1"),
	}
	agg := NewAggregator(NewExploder(week(), CalendarToggles{}, nil))

	cards := agg.Summarize(rules, responsibleQuery())

	require.Len(t, cards, 2)
	assert.Equal(t, "10", cards[0].EntityID, "sorted by estimate desc")
	assert.Equal(t, generic.Millis(36_000_000), cards[0].Estimated)
	assert.Equal(t, Counts{Tasks: 2, Clients: 2, Products: 1, Responsibles: 1, TaskTypes: 1}, cards[0].Counts)
	assert.Equal(t, generic.Millis(18_000_000), cards[1].Estimated)
}

func TestSummarize_ClientListCountsTowardEachClient(t *testing.T) {
	// GIVEN: One rule shared by clients c1 and c2
	// WHEN: Summarizing by client
	// THEN: Both cards receive the full estimate

	agg := NewAggregator(NewExploder(week(), CalendarToggles{}, nil))
	q := Query{Dimension: DimensionClient, Period: week()}

	cards := agg.Summarize([]Rule{rule("r1", "10", "c1, c2", "t1")}, q)

	require.Len(t, cards, 2)
	for _, c := range cards {
		assert.Equal(t, generic.Millis(18_000_000), c.Estimated)
	}
}

func TestSummarize_SecondaryFilterIsAND(t *testing.T) {
	rules := []Rule{
		rule("r1", "10", "c1", "t1"),
		rule("r2", "10", "c2", "t1"),
		rule("r3", "10", "c1", "t2"),
	}
	agg := NewAggregator(NewExploder(week(), CalendarToggles{}, nil))
	q := responsibleQuery()
	q.Secondary = Filters{DimensionClient: {"c1"}, DimensionTask: {"t1"}}

	cards := agg.Summarize(rules, q)

	require.Len(t, cards, 1)
	assert.Equal(t, generic.Millis(18_000_000), cards[0].Estimated)
	assert.Equal(t, 1, cards[0].Counts.Tasks)
}

func TestSummarize_SelectedEntityWithoutRulesGetsZeroCard(t *testing.T) {
	agg := NewAggregator(NewExploder(week(), CalendarToggles{}, nil))

	cards := agg.Summarize([]Rule{rule("r1", "10", "c1", "t1")}, responsibleQuery("10", "99"))

	require.Len(t, cards, 2)
	zero, ok := cardByID(cards, "99")
	require.True(t, ok)
	assert.Zero(t, zero.Estimated)
	assert.Equal(t, Counts{}, zero.Counts)
}

func TestSummarize_RuleWithoutValidDaysNotCounted(t *testing.T) {
	r := rule("r1", "10", "c1", "t1")
	r.Start = datePtr("2024-01-06")
	r.End = datePtr("2024-01-07")
	agg := NewAggregator(NewExploder(week(), CalendarToggles{}, nil))

	cards := agg.Summarize([]Rule{r}, responsibleQuery())

	require.Len(t, cards, 1)
	assert.Zero(t, cards[0].Estimated)
	assert.Zero(t, cards[0].Counts.Tasks)
}

// =============================================================================
// SUMMARY AND EXPANDED MODES AGREE
// =============================================================================

func TestSummarizeRecords_MatchesSummary(t *testing.T) {
	// GIVEN: Rules with mixed ranges, calendars and shared clients
	// WHEN: Computing every card both ways
	// THEN: Estimated and counts agree for every entity and dimension

	rules := []Rule{
		rule("r1", "10", "c1,c2", "t1"),
		func() Rule { r := rule("r2", "10", "c2", "t2"); r.Start = datePtr("2024-01-03"); return r }(),
		func() Rule { r := rule("r3", "20", "c1", "t1"); r.IncludeWeekends = boolPtr(false); return r }(),
		func() Rule { r := rule("r4", "20", "c3", "t3"); r.DailyEstimated = 1_800_000; return r }(),
	}
	calendar := CalendarToggles{IncludeWeekends: true}
	exploder := NewExploder(week(), calendar, nil)
	agg := NewAggregator(exploder)

	for _, d := range Dimensions {
		q := Query{Dimension: d, Period: week(), Calendar: calendar, Secondary: Filters{}}
		if d != DimensionClient {
			q.Secondary[DimensionClient] = []string{"c1", "c2"}
		}
		for _, summary := range agg.Summarize(rules, q) {
			var records []ExplodedRecord
			for _, r := range agg.RulesFor(summary.EntityID, rules, q) {
				records = append(records, exploder.Explode(r)...)
			}
			expanded := agg.SummarizeRecords(summary.EntityID, records, q)

			assert.Equal(t, summary.Estimated, expanded.Estimated, "%s/%s", d, summary.EntityID)
			assert.Equal(t, summary.Counts, expanded.Counts, "%s/%s", d, summary.EntityID)
		}
	}
}

func TestSummarize_RepeatedClientCountsOnce(t *testing.T) {
	// GIVEN: A rule whose client list repeats the same client
	// WHEN: Computing the client card in summary and expanded mode
	// THEN: Both see one hour per weekday, and the client drill-down row agrees

	rules := []Rule{rule("r1", "10", "c1, c1,c1", "t1")}
	exploder := NewExploder(week(), CalendarToggles{}, nil)
	agg := NewAggregator(exploder)
	q := Query{Dimension: DimensionClient, Period: week(), Secondary: Filters{}}

	cards := agg.Summarize(rules, q)
	require.Len(t, cards, 1)
	assert.Equal(t, generic.Millis(5*generic.MillisPerHour), cards[0].Estimated)

	records := exploder.Explode(rules[0])
	expanded := agg.SummarizeRecords("c1", records, q)
	assert.Equal(t, cards[0].Estimated, expanded.Estimated)
	assert.Equal(t, 1, expanded.Counts.Clients)

	rows := GroupRecords(records, DimensionClient, nil)
	require.Len(t, rows, 1)
	assert.Equal(t, cards[0].Estimated, rows[0].Estimated)
}

// =============================================================================
// AVAILABILITY AND COST
// =============================================================================

func TestDeriveAvailability_PJ(t *testing.T) {
	card := DeriveAvailability(Card{Estimated: 10_000_000}, ContractInfo{Type: ContractPJ}, 5)

	assert.Equal(t, generic.Millis(10_000_000), card.Contracted)
	assert.Equal(t, generic.Millis(10_000_000), card.Available)
}

func TestDeriveAvailability_CLT(t *testing.T) {
	// GIVEN: 8h/day CLT over five valid days, 100_000_000 ms estimated
	// THEN: contracted 144_000_000, available 44_000_000

	card := DeriveAvailability(Card{Estimated: 100_000_000},
		ContractInfo{Type: ContractCLT, HoursPerDay: generic.NewHours(8)}, 5)

	assert.Equal(t, generic.Millis(144_000_000), card.Contracted)
	assert.Equal(t, generic.Millis(44_000_000), card.Available)
}

func TestDeriveAvailability_CLTOverbookedClampsToZero(t *testing.T) {
	card := DeriveAvailability(Card{Estimated: 200_000_000},
		ContractInfo{Type: ContractCLT, HoursPerDay: generic.NewHours(8)}, 5)

	assert.Zero(t, card.Available)
}

func TestDeriveAvailability_UnknownContractIsZero(t *testing.T) {
	card := DeriveAvailability(Card{Estimated: 10_000_000}, ContractInfo{}, 5)

	assert.Zero(t, card.Contracted)
	assert.Zero(t, card.Available)
}

func TestDeriveCost(t *testing.T) {
	card := DeriveCost(Card{Estimated: 18_000_000, Realized: 7_200_000}, generic.MustParseMoney("50"))

	assert.Equal(t, "250.00", card.EstimatedCost.String())
	assert.Equal(t, "100.00", card.RealizedCost.String())
}

func TestQueryValidate(t *testing.T) {
	err := Query{}.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, generic.ErrPeriodRequired)
	assert.ErrorIs(t, err, generic.ErrDimensionRequired)

	q := responsibleQuery()
	q.Secondary = Filters{DimensionResponsible: {"10"}}
	assert.ErrorIs(t, q.Validate(), generic.ErrInvalidDimension)

	assert.NoError(t, responsibleQuery().Validate())
}

func TestQueryValidate_PeriodSpanCapped(t *testing.T) {
	// GIVEN: Queries over a maximal span, one day beyond it, and the whole calendar
	// WHEN: Validating
	// THEN: Only the maximal span passes; longer spans are client errors

	start := generic.MustParseDate("2020-01-01")

	q := responsibleQuery()
	q.Period = generic.Period{Start: start, End: start.AddDays(MaxPeriodDays - 1)}
	assert.NoError(t, q.Validate())

	q.Period.End = start.AddDays(MaxPeriodDays)
	err := q.Validate()
	assert.ErrorIs(t, err, generic.ErrPeriodTooLong)
	assert.True(t, generic.IsClientError(err))

	q.Period = generic.Period{Start: generic.MustParseDate("0001-01-01"), End: generic.MustParseDate("9999-12-31")}
	assert.ErrorIs(t, q.Validate(), generic.ErrPeriodTooLong)
}
