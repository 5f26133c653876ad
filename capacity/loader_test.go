package capacity

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/warp/capacity-engine/generic"
)

func newTestLoader(src FigureSource, cache *Cache, cfg LoaderConfig) *Loader {
	return NewLoader(src, cache, cfg, discardLogger(), nil)
}

func loadRequest(gen uint64, d Dimension, ids ...string) LoadRequest {
	return LoadRequest{Generation: gen, Dimension: d, EntityIDs: ids, Period: week(), Secondary: Filters{}}
}

func TestLoader_RealizedFailureZeroFills(t *testing.T) {
	// GIVEN: The realized endpoint answers 500
	// WHEN: Loading figures for three tasks
	// THEN: Every task ends up with realized 0 / pending 0 and one warning

	q := Query{Dimension: DimensionTask, Period: week(), Secondary: Filters{}}
	cache := NewCache()
	gen := primeCache(t, cache, []Rule{
		rule("r1", "10", "c1", "t1"),
		rule("r2", "10", "c1", "t2"),
		rule("r3", "10", "c1", "t3"),
	}, q, nil)

	src := &mockBackend{}
	src.On("RealizedTotals", mock.Anything, mock.Anything).Return(nil, errors.New("status 500"))

	report := newTestLoader(src, cache, LoaderConfig{}).Load(context.Background(), loadRequest(gen, DimensionTask, "t1", "t2", "t3"))

	assert.False(t, report.Abandoned)
	assert.Equal(t, 3, report.ZeroFilled[FigureRealized])
	assert.Contains(t, report.Warning, "realized for 3 entities")
	for _, id := range []string{"t1", "t2", "t3"} {
		got, ok := cache.Realized(id)
		require.True(t, ok, id)
		assert.Equal(t, RealizedTotal{}, got)
		card, _ := cache.Card(id)
		assert.True(t, card.RealizedLoaded)
	}
	src.AssertNumberOfCalls(t, "RealizedTotals", 1)
}

func TestLoader_ResponsibleFigures(t *testing.T) {
	// GIVEN: Responsibles 10 and 20, plus a non-numeric id
	// WHEN: Loading figures
	// THEN: Contract and cost are fetched for numeric ids only, the bad id is
	//       zero-filled without a warning

	cache := NewCache()
	gen := primeCache(t, cache, []Rule{
		rule("r1", "10", "c1", "t1"),
		rule("r2", "20", "c1", "t1"),
		rule("r3", "ext-7", "c1", "t1"),
	}, responsibleQuery(), nil)

	src := &mockBackend{}
	src.On("RealizedTotals", mock.Anything, mock.Anything).Return(map[string]RealizedTotal{
		"10": {Realized: 3_600_000, Pending: 1_000},
	}, nil)
	src.On("ContractedHours", mock.Anything, []string{"10", "20"}, week()).Return(map[string]ContractInfo{
		"10": {Type: ContractCLT, HoursPerDay: generic.NewHours(8)},
		"20": {Type: ContractPJ},
	}, nil)
	src.On("HourlyCosts", mock.Anything, []string{"10", "20"}, week()).Return(map[string]generic.Money{
		"10": generic.MustParseMoney("80"),
	}, nil)

	report := newTestLoader(src, cache, LoaderConfig{}).Load(context.Background(),
		loadRequest(gen, DimensionResponsible, "10", "20", "ext-7"))

	assert.Empty(t, report.Warning)
	assert.Equal(t, []string{"ext-7"}, report.InvalidIDs)

	ana, _ := cache.Card("10")
	assert.Equal(t, generic.Millis(144_000_000), ana.Contracted)
	assert.Equal(t, generic.Millis(3_600_000), ana.Realized)
	assert.Equal(t, "80.00", ana.HourlyCost.String())

	pj, _ := cache.Card("20")
	assert.Equal(t, pj.Estimated, pj.Contracted)
	assert.Zero(t, pj.Realized)
	assert.True(t, pj.RealizedLoaded)

	ext, _ := cache.Card("ext-7")
	assert.True(t, ext.ContractLoaded)
	assert.Zero(t, ext.Contracted)

	src.AssertExpectations(t)
}

func TestLoader_ChunksAboveBatchSize(t *testing.T) {
	q := Query{Dimension: DimensionTask, Period: week(), Secondary: Filters{}}
	cache := NewCache()
	gen := primeCache(t, cache, nil, q, nil)

	src := &mockBackend{}
	src.On("RealizedTotals", mock.Anything, mock.Anything).Return(map[string]RealizedTotal{}, nil)

	newTestLoader(src, cache, LoaderConfig{BatchSize: 2}).Load(context.Background(),
		loadRequest(gen, DimensionTask, "t1", "t2", "t3", "t4", "t5"))

	src.AssertNumberOfCalls(t, "RealizedTotals", 3)
}

func TestLoader_PoolNeverExceedsConcurrency(t *testing.T) {
	// GIVEN: Ten tasks loaded one per request with a pool of four
	// WHEN: Every request takes a while
	// THEN: All ten requests run, never more than four at once

	q := Query{Dimension: DimensionTask, Period: week(), Secondary: Filters{}}
	cache := NewCache()
	gen := primeCache(t, cache, nil, q, nil)

	var inFlight, peak atomic.Int32
	src := &mockBackend{}
	src.On("RealizedTotals", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
		}).
		Return(map[string]RealizedTotal{}, nil)

	ids := []string{"t1", "t2", "t3", "t4", "t5", "t6", "t7", "t8", "t9", "t10"}
	report := newTestLoader(src, cache, LoaderConfig{BatchSize: 1, Concurrency: 4}).
		Load(context.Background(), loadRequest(gen, DimensionTask, ids...))

	assert.Empty(t, report.Warning)
	src.AssertNumberOfCalls(t, "RealizedTotals", 10)
	assert.LessOrEqual(t, peak.Load(), int32(4))
	assert.GreaterOrEqual(t, peak.Load(), int32(2))
}

func TestLoader_TimeoutZeroFills(t *testing.T) {
	q := Query{Dimension: DimensionTask, Period: week(), Secondary: Filters{}}
	cache := NewCache()
	gen := primeCache(t, cache, []Rule{rule("r1", "10", "c1", "t1")}, q, nil)

	src := &mockBackend{}
	src.On("RealizedTotals", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	report := newTestLoader(src, cache, LoaderConfig{Timeout: 20 * time.Millisecond}).
		Load(context.Background(), loadRequest(gen, DimensionTask, "t1"))

	assert.False(t, report.Abandoned)
	assert.NotEmpty(t, report.Warning)
	_, ok := cache.Realized("t1")
	assert.True(t, ok)
}

func TestLoader_AbandonedLoadIsSilent(t *testing.T) {
	// GIVEN: The cycle is cancelled while the request is in flight
	// WHEN: The request returns
	// THEN: Nothing is written and no warning is produced

	q := Query{Dimension: DimensionTask, Period: week(), Secondary: Filters{}}
	cache := NewCache()
	gen := primeCache(t, cache, []Rule{rule("r1", "10", "c1", "t1")}, q, nil)

	ctx, cancel := context.WithCancel(context.Background())
	src := &mockBackend{}
	src.On("RealizedTotals", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, context.Canceled)

	report := newTestLoader(src, cache, LoaderConfig{}).Load(ctx, loadRequest(gen, DimensionTask, "t1"))

	assert.True(t, report.Abandoned)
	assert.Empty(t, report.Warning)
	_, ok := cache.Realized("t1")
	assert.False(t, ok)
}

func TestLoader_StaleGenerationIsSilent(t *testing.T) {
	q := Query{Dimension: DimensionTask, Period: week(), Secondary: Filters{}}
	cache := NewCache()
	gen := primeCache(t, cache, []Rule{rule("r1", "10", "c1", "t1")}, q, nil)

	src := &mockBackend{}
	src.On("RealizedTotals", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cache.Invalidate() }).
		Return(map[string]RealizedTotal{"t1": {Realized: 10}}, nil)

	report := newTestLoader(src, cache, LoaderConfig{}).Load(context.Background(), loadRequest(gen, DimensionTask, "t1"))

	assert.True(t, report.Abandoned)
	_, ok := cache.Realized("t1")
	assert.False(t, ok)
}

func TestLoader_UnauthorizedIsReported(t *testing.T) {
	q := Query{Dimension: DimensionTask, Period: week(), Secondary: Filters{}}
	cache := NewCache()
	gen := primeCache(t, cache, []Rule{rule("r1", "10", "c1", "t1")}, q, nil)

	src := &mockBackend{}
	src.On("RealizedTotals", mock.Anything, mock.Anything).Return(nil, generic.ErrUnauthorized)

	report := newTestLoader(src, cache, LoaderConfig{}).Load(context.Background(), loadRequest(gen, DimensionTask, "t1"))

	assert.True(t, report.Unauthorized)
}
