package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vhost_proxy"

// FallbackHostLabel replaces the hostname label for requests that did not
// match a route, so arbitrary Host headers cannot grow label cardinality.
const FallbackHostLabel = "_fallback"

type promMetrics struct {
	connectionsTotal   prometheus.Counter
	malformedTotal     prometheus.Counter
	selectionsTotal    *prometheus.CounterVec
	responsesTotal     *prometheus.CounterVec
	forwardDuration    *prometheus.HistogramVec
	responseBytesTotal *prometheus.CounterVec
}

func newPromMetrics(registry *prometheus.Registry) *promMetrics {
	pm := &promMetrics{
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of accepted client connections.",
		}),
		malformedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_requests_total",
			Help:      "Total number of connections closed because the request line could not be parsed.",
		}),
		selectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_selections_total",
			Help:      "Total number of backend selections, labeled by hostname and backend.",
		}, []string{"hostname", "backend"}),
		responsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "Total number of responses returned to clients, labeled by hostname, backend and outcome.",
		}, []string{"hostname", "backend", "outcome"}), // outcome: backend, fallback
		forwardDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "forward_duration_seconds",
			Help:      "Histogram of backend round-trip latencies in seconds, labeled by backend.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend"}),
		responseBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_bytes_total",
			Help:      "Total response bytes relayed to clients, labeled by backend.",
		}, []string{"backend"}),
	}

	registry.MustRegister(
		pm.connectionsTotal,
		pm.malformedTotal,
		pm.selectionsTotal,
		pm.responsesTotal,
		pm.forwardDuration,
		pm.responseBytesTotal,
	)

	return pm
}

func hostLabel(event MetricEvent) string {
	if event.Fallback {
		return FallbackHostLabel
	}
	return event.Hostname
}

func (pm *promMetrics) observe(event MetricEvent) {
	switch event.Type {
	case EventConnectionAccepted:
		pm.connectionsTotal.Inc()

	case EventRequestMalformed:
		pm.malformedTotal.Inc()

	case EventBackendSelected:
		pm.selectionsTotal.WithLabelValues(hostLabel(event), event.Backend).Inc()

	case EventResponseCompleted:
		outcome := "backend"
		if event.ForwardFailed {
			outcome = "fallback"
		}
		pm.responsesTotal.WithLabelValues(hostLabel(event), event.Backend, outcome).Inc()
		pm.forwardDuration.WithLabelValues(event.Backend).Observe(event.Duration.Seconds())
		pm.responseBytesTotal.WithLabelValues(event.Backend).Add(float64(event.Bytes))
	}
}

// activeCollector reports the reservation counts returned by source on
// each scrape.
type activeCollector struct {
	desc   *prometheus.Desc
	source func() map[string]map[string]int
}

func newActiveCollector(source func() map[string]map[string]int) *activeCollector {
	return &activeCollector{
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "active_reservations"),
			"Connections currently reserved on a backend, labeled by hostname and backend.",
			[]string{"hostname", "backend"}, nil,
		),
		source: source,
	}
}

func (ac *activeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- ac.desc
}

func (ac *activeCollector) Collect(ch chan<- prometheus.Metric) {
	for hostname, backends := range ac.source() {
		for backend, n := range backends {
			ch <- prometheus.MustNewConstMetric(ac.desc, prometheus.GaugeValue, float64(n), hostname, backend)
		}
	}
}
