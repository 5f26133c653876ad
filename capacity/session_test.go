package capacity

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/warp/capacity-engine/generic"
	"github.com/warp/capacity-engine/generic/store"
)

func newTestSession(t *testing.T, backend *mockBackend, metrics *Metrics) *Session {
	t.Helper()
	mem := store.NewMemory()
	s := NewSession(backend, SessionDeps{
		Holidays: mem,
		Cycles:   mem,
		Logger:   discardLogger(),
		Metrics:  metrics,
	}, SessionConfig{
		Pipeline: PipelineConfig{OptionsDebounce: 5 * time.Millisecond, ReloadDebounce: 10 * time.Millisecond},
	})
	t.Cleanup(s.Close)
	return s
}

func answerAll(backend *mockBackend) {
	backend.On("Rules", mock.Anything, mock.Anything).Return(fixtureRules, nil)
	backend.On("RealizedTotals", mock.Anything, mock.Anything).Return(map[string]RealizedTotal{}, nil)
	backend.On("ContractedHours", mock.Anything, mock.Anything, mock.Anything).Return(map[string]ContractInfo{}, nil)
	backend.On("HourlyCosts", mock.Anything, mock.Anything, mock.Anything).Return(map[string]generic.Money{}, nil)
	backend.On("Names", mock.Anything, mock.Anything).Return(map[string]string{}, nil)
	backend.On("EstimatedTotal", mock.Anything, mock.Anything).Return(generic.Millis(0), nil)
}

func TestSession_ApplyThenExpand(t *testing.T) {
	// GIVEN: A session over two responsibles
	// WHEN: The query loads and one card is expanded
	// THEN: The expansion holds the weekday records of that card's rule

	backend := &mockBackend{}
	answerAll(backend)
	s := newTestSession(t, backend, nil)

	require.NoError(t, s.Apply(responsibleQuery()))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))

	cards, err := s.Cards()
	require.NoError(t, err)
	require.Len(t, cards, 2)

	exp, err := s.Expand(ctx, "10")
	require.NoError(t, err)
	assert.Len(t, exp.Records, 5)
	assert.Len(t, exp.Buckets["bucket-r1"], 5)

	_, err = s.Expand(ctx, "99")
	assert.ErrorIs(t, err, generic.ErrEntityNotFound)
}

func TestSession_ClosedRejectsCalls(t *testing.T) {
	s := newTestSession(t, &mockBackend{}, nil)
	before := s.LastUsed()

	s.Close()
	s.Close()

	_, err := s.Cards()
	assert.ErrorIs(t, err, generic.ErrSessionClosed)
	assert.ErrorIs(t, s.Apply(responsibleQuery()), generic.ErrSessionClosed)
	assert.Equal(t, before, s.LastUsed())
}

func TestSession_OpenGauge(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	a := newTestSession(t, &mockBackend{}, metrics)
	newTestSession(t, &mockBackend{}, metrics)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.sessions))

	a.Close()
	a.Close()
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.sessions))
}
