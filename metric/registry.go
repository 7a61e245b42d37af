package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/transcoder/errors"
)

// Namespace prefixes every metric the module defines.
const Namespace = "transcoder"

// MetricsRegistry is a Prometheus registry that also tracks collectors by
// owner and name, so a package that registers twice gets an error instead
// of a panic.
type MetricsRegistry struct {
	prometheusRegistry *prometheus.Registry

	mu    sync.Mutex
	owned map[string]prometheus.Collector // "owner.name"
}

// NewMetricsRegistry creates a registry with Go runtime and process collectors.
func NewMetricsRegistry() *MetricsRegistry {
	r := &MetricsRegistry{
		prometheusRegistry: prometheus.NewRegistry(),
		owned:              make(map[string]prometheus.Collector),
	}
	r.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// PrometheusRegistry returns the underlying registry for handlers and Gather.
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// RegisterCounterVec registers a counter vector under owner and name.
func (r *MetricsRegistry) RegisterCounterVec(owner, name string, c *prometheus.CounterVec) error {
	return r.register("RegisterCounterVec", owner, name, c)
}

// RegisterGaugeVec registers a gauge vector under owner and name.
func (r *MetricsRegistry) RegisterGaugeVec(owner, name string, g *prometheus.GaugeVec) error {
	return r.register("RegisterGaugeVec", owner, name, g)
}

// RegisterHistogramVec registers a histogram vector under owner and name.
func (r *MetricsRegistry) RegisterHistogramVec(owner, name string, h *prometheus.HistogramVec) error {
	return r.register("RegisterHistogramVec", owner, name, h)
}

func (r *MetricsRegistry) register(method, owner, name string, c prometheus.Collector) error {
	key := owner + "." + name

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.owned[key]; ok {
		return errors.WrapInvalid(fmt.Errorf("%s is already registered", key),
			"MetricsRegistry", method, "check owner key")
	}
	if err := r.prometheusRegistry.Register(c); err != nil {
		var dup prometheus.AlreadyRegisteredError
		if stderrors.As(err, &dup) {
			return errors.WrapInvalid(err, "MetricsRegistry", method, "check collector name")
		}
		return errors.WrapFatal(err, "MetricsRegistry", method, "register collector")
	}
	r.owned[key] = c
	return nil
}
