package mycodo

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "mycodo"

// Metrics collects measurement gauges and cycle counters on a private
// registry, exposed through the daemon's /metrics endpoint.
type Metrics struct {
	registry *prometheus.Registry

	ph     *prometheus.GaugeVec
	cycles *prometheus.CounterVec
	faults *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.ph = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "ph",
		Help:      "Most recent pH reading.",
	}, []string{"sensor"})

	m.cycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "measure_cycles_total",
		Help:      "Measurement cycles run.",
	}, []string{"sensor"})

	m.faults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "measure_faults_total",
		Help:      "Measurement cycles that produced no value.",
	}, []string{"sensor"})

	m.registry.MustRegister(m.ph, m.cycles, m.faults)

	return m
}

// Observe records the outcome of one measurement cycle.
func (m *Metrics) Observe(sensorId string, values map[int]*float64) {
	m.cycles.WithLabelValues(sensorId).Inc()

	value := values[phMeasurementIndex]
	if value == nil {
		m.faults.WithLabelValues(sensorId).Inc()
		return
	}

	m.ph.WithLabelValues(sensorId).Set(*value)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
