package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type EventType string

const (
	EventConnectionAccepted EventType = "connection_accepted"
	EventRequestMalformed   EventType = "request_malformed"
	EventBackendSelected    EventType = "backend_selected"
	EventResponseCompleted  EventType = "response_completed"
)

type MetricEvent struct {
	Type      EventType
	Timestamp time.Time
	Hostname  string
	Backend   string
	// Fallback marks events for requests routed to the sentinel backend.
	Fallback bool
	// ForwardFailed marks responses replaced by the synthetic 404.
	ForwardFailed bool
	Duration      time.Duration
	StatusCode    int
	Bytes         int
}

type Collector struct {
	eventCh  chan MetricEvent
	metrics  *Metrics
	prom     *promMetrics
	registry *prometheus.Registry
	logger   *slog.Logger
}

// NewCollector creates a collector. A nil registry gets a fresh private one.
func NewCollector(bufferSize int, logger *slog.Logger, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	return &Collector{
		eventCh:  make(chan MetricEvent, bufferSize),
		metrics:  NewMetrics(),
		prom:     newPromMetrics(registry),
		registry: registry,
		logger:   logger.With(slog.String("component", "metrics")),
	}
}

func (c *Collector) EventChannel() chan<- MetricEvent {
	return c.eventCh
}

// Emit queues an event without blocking. It is safe on a nil collector.
func (c *Collector) Emit(event MetricEvent) {
	if c == nil {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
	default:
		c.logger.Debug("Metrics buffer full, dropping event", slog.String("type", string(event.Type)))
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.Run(ctx)
}

// Run processes events until ctx is cancelled, then drains what is queued.
func (c *Collector) Run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventConnectionAccepted:
		c.metrics.IncrementConnections()

	case EventRequestMalformed:
		c.metrics.IncrementMalformed()

	case EventBackendSelected:
		c.metrics.RecordBackendSelection(event.Backend)

	case EventResponseCompleted:
		c.metrics.RecordResponse(event.Backend, event.Duration, event.StatusCode, event.Bytes, event.ForwardFailed)
	}

	c.prom.observe(event)
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	return c.metrics.Snapshot()
}

// TrackActive exports the counts returned by source as the
// active_reservations gauge. source is called on every scrape.
func (c *Collector) TrackActive(source func() map[string]map[string]int) error {
	if err := c.registry.Register(newActiveCollector(source)); err != nil {
		return fmt.Errorf("register active reservations: %w", err)
	}
	return nil
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
