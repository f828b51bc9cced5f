package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Singleton instance registered with the default Prometheus registry
	instance *PrometheusMetrics
	once     sync.Once
)

// PrometheusMetrics handles all metrics collection for the membership service
type PrometheusMetrics struct {
	// Membership metrics
	ClusterNodesTotal  prometheus.Gauge
	ClusterNodesActive prometheus.Gauge
	RegistryOperations *prometheus.CounterVec

	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
}

// NewPrometheusMetrics creates metrics registered with reg
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		ClusterNodesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cluster_nodes_total",
			Help: "The total number of nodes in the registry",
		}),
		ClusterNodesActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cluster_nodes_active",
			Help: "The number of registered nodes currently marked active",
		}),
		RegistryOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "registry_operations_total",
				Help: "The total number of registry mutations by operation and result",
			},
			[]string{"op", "result"},
		),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "requests_total",
				Help: "The total number of processed requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "request_duration_seconds",
				Help:    "The request latencies in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		RequestsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "requests_in_flight",
			Help: "The number of requests currently being processed",
		}),
	}
}

// GetMetrics returns the singleton instance bound to the default registry
func GetMetrics() *PrometheusMetrics {
	once.Do(func() {
		instance = NewPrometheusMetrics(prometheus.DefaultRegisterer)
	})
	return instance
}

// Handler returns the Prometheus exposition handler for the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetNodeCounts updates the membership gauges
func (pm *PrometheusMetrics) SetNodeCounts(total, active int) {
	pm.ClusterNodesTotal.Set(float64(total))
	pm.ClusterNodesActive.Set(float64(active))
}

// RecordOperation counts a registry operation by result
func (pm *PrometheusMetrics) RecordOperation(op, result string) {
	pm.RegistryOperations.WithLabelValues(op, result).Inc()
}

// RecordRequest records a request with its method, endpoint, and status
func (pm *PrometheusMetrics) RecordRequest(method, endpoint, status string) {
	pm.RequestsTotal.WithLabelValues(method, endpoint, status).Inc()
}

// ObserveRequestDuration records the duration of a request
func (pm *PrometheusMetrics) ObserveRequestDuration(method, endpoint string, duration float64) {
	pm.RequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// IncRequestsInFlight increments the number of requests in flight
func (pm *PrometheusMetrics) IncRequestsInFlight() {
	pm.RequestsInFlight.Inc()
}

// DecRequestsInFlight decrements the number of requests in flight
func (pm *PrometheusMetrics) DecRequestsInFlight() {
	pm.RequestsInFlight.Dec()
}
