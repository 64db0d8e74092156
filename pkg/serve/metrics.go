package serve

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aerovista/skyconform/pkg/result"
)

// Metrics holds the server's run and step counters on a private registry,
// so tests can build servers side by side without collisions.
type Metrics struct {
	Registry *prometheus.Registry

	runsTotal   *prometheus.CounterVec
	stepsTotal  *prometheus.CounterVec
	runDuration prometheus.Histogram
	runsActive  prometheus.Gauge
}

// NewMetrics builds and registers the server's metric set.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skyconform_runs_total",
				Help: "Scenario runs by terminal status.",
			},
			[]string{"status"},
		),
		stepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skyconform_steps_total",
				Help: "Step results by terminal status.",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "skyconform_run_duration_seconds",
				Help:    "Wall-clock duration of scenario runs.",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
		),
		runsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "skyconform_runs_active",
				Help: "Scenario runs currently executing.",
			},
		),
	}
	m.Registry.MustRegister(m.runsTotal, m.stepsTotal, m.runDuration, m.runsActive)
	return m
}

func (m *Metrics) runStarted() {
	m.runsActive.Inc()
}

func (m *Metrics) runFinished(res *result.ScenarioResult) {
	m.runsActive.Dec()
	m.runsTotal.WithLabelValues(string(res.Status)).Inc()
	m.runDuration.Observe(res.Duration.Seconds())
	for _, sr := range res.Steps {
		m.stepsTotal.WithLabelValues(string(sr.Status)).Inc()
	}
}
