package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/transcoder/metric"
)

// Metrics holds the Prometheus collectors shared by every driver in a process.
// A nil *Metrics disables recording.
type Metrics struct {
	units    *prometheus.CounterVec   // by format
	records  *prometheus.CounterVec   // by format
	failures *prometheus.CounterVec   // by format and kind
	skipped  *prometheus.CounterVec   // by format
	runs     *prometheus.CounterVec   // by format and final state
	active   *prometheus.GaugeVec     // runs in progress, by format
	duration *prometheus.HistogramVec // per record, by format
}

// NewMetrics creates and registers pipeline metrics with the provided registry.
func NewMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "pipeline",
			Name:      name,
			Help:      help,
		}, labels)
	}

	m := &Metrics{
		units:    counter("units_total", "Input units fetched", "format"),
		records:  counter("records_total", "Records emitted to the success sink", "format"),
		failures: counter("failures_total", "Failure records emitted", "format", "kind"),
		skipped:  counter("skipped_units_total", "Absent or empty units skipped", "format"),
		runs:     counter("runs_total", "Completed runs by final state", "format", "state"),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "pipeline",
			Name:      "active_runs",
			Help:      "Driver runs in progress",
		}, []string{"format"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "pipeline",
			Name:      "record_duration_seconds",
			Help:      "Time to parse, project and lower one record",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"format"}),
	}

	for name, c := range map[string]*prometheus.CounterVec{
		"units": m.units, "records": m.records, "failures": m.failures,
		"skipped": m.skipped, "runs": m.runs,
	} {
		if err := registry.RegisterCounterVec("pipeline", name, c); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGaugeVec("pipeline", "active_runs", m.active); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec("pipeline", "record_duration", m.duration); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) recordUnit(format string) {
	if m == nil {
		return
	}
	m.units.WithLabelValues(format).Inc()
}

func (m *Metrics) recordSuccess(format string, d time.Duration) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(format).Inc()
	m.duration.WithLabelValues(format).Observe(d.Seconds())
}

func (m *Metrics) recordFailure(format, kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(format, kind).Inc()
}

func (m *Metrics) recordSkip(format string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(format).Inc()
}

func (m *Metrics) startRun(format string) {
	if m == nil {
		return
	}
	m.active.WithLabelValues(format).Inc()
}

func (m *Metrics) recordRun(format string, s State) {
	if m == nil {
		return
	}
	m.active.WithLabelValues(format).Dec()
	m.runs.WithLabelValues(format, s.String()).Inc()
}
