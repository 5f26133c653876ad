package capacity

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are shared by every session of a process. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	loaderRequests  *prometheus.CounterVec
	zeroFilled      *prometheus.CounterVec
	expansions      prometheus.Counter
	expansionPasses prometheus.Counter
	cycles          *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	mismatches      prometheus.Counter
	sessions        prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		loaderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capacity",
			Name:      "loader_requests_total",
			Help:      "Batched upstream requests issued by the loader.",
		}, []string{"figure", "outcome"}),
		zeroFilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capacity",
			Name:      "zero_filled_entities_total",
			Help:      "Entities whose figure fell back to zero.",
		}, []string{"figure"}),
		expansions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "capacity",
			Name:      "expansions_total",
			Help:      "Cards expanded into day-level records.",
		}),
		expansionPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "capacity",
			Name:      "expansion_passes_total",
			Help:      "Expansion queue passes.",
		}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capacity",
			Name:      "cycles_total",
			Help:      "Query cycles by final state.",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "capacity",
			Name:      "cycle_duration_seconds",
			Help:      "Time from Apply to the end of a cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		mismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "capacity",
			Name:      "reconciliation_mismatches_total",
			Help:      "Cycles whose estimated total disagreed with the server total.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "capacity",
			Name:      "sessions_open",
			Help:      "Open capacity sessions.",
		}),
	}
	reg.MustRegister(
		m.loaderRequests, m.zeroFilled,
		m.expansions, m.expansionPasses,
		m.cycles, m.cycleDuration,
		m.mismatches, m.sessions,
	)
	return m
}

func (m *Metrics) loaderRequest(figure, outcome string) {
	if m == nil {
		return
	}
	m.loaderRequests.WithLabelValues(figure, outcome).Inc()
}

func (m *Metrics) zeroFill(figure string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.zeroFilled.WithLabelValues(figure).Add(float64(n))
}

func (m *Metrics) expansionPass(cards int) {
	if m == nil {
		return
	}
	m.expansionPasses.Inc()
	m.expansions.Add(float64(cards))
}

func (m *Metrics) cycleDone(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
	m.cycleDuration.Observe(seconds)
}

func (m *Metrics) mismatch() {
	if m == nil {
		return
	}
	m.mismatches.Inc()
}

// SessionOpened / SessionClosed track the open-session gauge.
func (m *Metrics) SessionOpened() {
	if m != nil {
		m.sessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.sessions.Dec()
	}
}
