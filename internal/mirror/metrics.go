package mirror

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports attempt outcomes, current scores and which tier answered.
type Metrics struct {
	attempts *prometheus.CounterVec
	duration *prometheus.HistogramVec
	scores   *scoreCollector
	tiers    *prometheus.CounterVec
}

// NewMetrics registers the mirror metrics on reg. Scores are read from the
// store at scrape time; a nil store leaves the score gauge out.
func NewMetrics(reg prometheus.Registerer, scores ScoreStore) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mirror_attempts_total",
			Help: "Backend attempts by backend, role and result.",
		}, []string{"backend", "role", "result"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mirror_attempt_duration_seconds",
			Help:    "Backend attempt latency.",
			Buckets: []float64{.1, .25, .5, 1, 2, 3, 4, 6, 10},
		}, []string{"role"}),
		tiers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mirror_resolutions_total",
			Help: "Resolved requests by answering tier; unavailable when every tier failed.",
		}, []string{"tier"}),
	}
	if scores != nil {
		m.scores = newScoreCollector(scores)
		if reg != nil {
			reg.MustRegister(m.scores)
		}
	}
	return m
}

func (m *Metrics) Observe(o Outcome) {
	if m == nil {
		return
	}
	result := "failure"
	if o.Success {
		result = "success"
	}
	m.attempts.WithLabelValues(o.Backend, string(o.Role), result).Inc()
	m.duration.WithLabelValues(string(o.Role)).Observe(o.Elapsed.Seconds())
}

func (m *Metrics) resolved(tier string) {
	if m == nil {
		return
	}
	m.tiers.WithLabelValues(tier).Inc()
}

// scoreCollector reports the store's live scores on every scrape, so the
// gauge can never lag behind a write that raced another Observe.
type scoreCollector struct {
	store ScoreStore
	desc  *prometheus.Desc
}

func newScoreCollector(store ScoreStore) *scoreCollector {
	return &scoreCollector{
		store: store,
		desc: prometheus.NewDesc("mirror_backend_score",
			"Current reliability score per backend.", []string{"backend"}, nil),
	}
}

func (c *scoreCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *scoreCollector) Collect(ch chan<- prometheus.Metric) {
	for backend, score := range c.store.Snapshot() {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(score), backend)
	}
}
