// Package metrics provides real-time metrics collection for the proxy.
//
// It uses a channel-based event pipeline to asynchronously collect:
//   - Accepted connections and malformed requests
//   - Backend selection frequencies per hostname
//   - Forward latencies with percentile calculations (P50, P95, P99)
//   - Backend status code distribution and fallback responses
//   - Active reservations per backend
//
// The collector runs in a dedicated goroutine and processes events without
// blocking connection handlers. Emit never blocks: when the buffer is full the
// event is dropped.
//
// Every event updates two views: an in-memory aggregate served as JSON
// (Snapshot, Handler) and Prometheus vectors on a private registry
// (PrometheusHandler).
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger, nil)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:       metrics.EventResponseCompleted,
//		Hostname:   "app1.local",
//		Backend:    "127.0.0.1:9001",
//		Duration:   150 * time.Millisecond,
//		StatusCode: 200,
//	})
//
//	snapshot := collector.Snapshot()
package metrics
