package capacity

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/warp/capacity-engine/generic"
)

// =============================================================================
// MOCK BACKEND
// =============================================================================

// mockBackend is a testify mock for Backend.
type mockBackend struct {
	mock.Mock
}

var _ Backend = (*mockBackend)(nil)

func (m *mockBackend) Rules(ctx context.Context, req RulesRequest) ([]Rule, error) {
	args := m.Called(ctx, req)
	if rules, ok := args.Get(0).([]Rule); ok {
		return rules, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockBackend) EstimatedTotal(ctx context.Context, req RulesRequest) (generic.Millis, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(generic.Millis), args.Error(1)
}

func (m *mockBackend) RealizedTotals(ctx context.Context, req FigureRequest) (map[string]RealizedTotal, error) {
	args := m.Called(ctx, req)
	if v, ok := args.Get(0).(map[string]RealizedTotal); ok {
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockBackend) ContractedHours(ctx context.Context, ids []string, period generic.Period) (map[string]ContractInfo, error) {
	args := m.Called(ctx, ids, period)
	if v, ok := args.Get(0).(map[string]ContractInfo); ok {
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockBackend) HourlyCosts(ctx context.Context, ids []string, period generic.Period) (map[string]generic.Money, error) {
	args := m.Called(ctx, ids, period)
	if v, ok := args.Get(0).(map[string]generic.Money); ok {
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockBackend) CardDetails(ctx context.Context, req DetailRequest) ([]DetailRow, error) {
	args := m.Called(ctx, req)
	if v, ok := args.Get(0).([]DetailRow); ok {
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockBackend) TimeLogs(ctx context.Context, req TimeLogRequest) ([]TimeLog, error) {
	args := m.Called(ctx, req)
	if v, ok := args.Get(0).([]TimeLog); ok {
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockBackend) Names(ctx context.Context, d Dimension) (map[string]string, error) {
	args := m.Called(ctx, d)
	if v, ok := args.Get(0).(map[string]string); ok {
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}

// =============================================================================
// FIXTURES
// =============================================================================

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// week is Monday 2024-01-01 through Sunday 2024-01-07.
func week() generic.Period {
	return generic.MustPeriod("2024-01-01", "2024-01-07")
}

func boolPtr(b bool) *bool { return &b }

func datePtr(s string) *generic.TimePoint {
	tp := generic.MustParseDate(s)
	return &tp
}

// rule builds a one-hour-per-day rule over the whole query period.
func rule(id, responsible, clients, task string) Rule {
	return Rule{
		ID:             id,
		BucketID:       "bucket-" + id,
		ResponsibleID:  responsible,
		ClientID:       clients,
		ProductID:      "p1",
		TaskID:         task,
		TaskTypeID:     "tt1",
		DailyEstimated: generic.MillisPerHour,
	}
}

func responsibleQuery(ids ...string) Query {
	return Query{
		Dimension: DimensionResponsible,
		EntityIDs: ids,
		Period:    week(),
		Secondary: Filters{},
	}
}

// primeCache commits a summary the way a cycle would and returns the
// generation it was committed under.
func primeCache(t *testing.T, cache *Cache, rules []Rule, q Query, holidays generic.HolidayCalendar) uint64 {
	t.Helper()
	gen := cache.Invalidate()
	exploder := NewExploder(q.Period, q.Calendar, holidays)
	aggregator := NewAggregator(exploder)
	data := &cycleData{
		query:      q,
		rules:      rules,
		exploder:   exploder,
		aggregator: aggregator,
		validDays:  exploder.PeriodValidDays(),
	}
	if err := cache.SetSummary(gen, data, aggregator.Summarize(rules, q)); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	return gen
}
