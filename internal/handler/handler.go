package handler

import (
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/vhost-proxy/internal/backend"
	"github.com/angeloszaimis/vhost-proxy/internal/loadbalancer"
	"github.com/angeloszaimis/vhost-proxy/internal/metrics"
	"github.com/angeloszaimis/vhost-proxy/internal/request"
	"github.com/angeloszaimis/vhost-proxy/internal/route"
)

type ConnHandler struct {
	logger     *slog.Logger
	table      *route.Table
	balancer   *loadbalancer.LoadBalancer
	forwarder  *backend.Forwarder
	collector  *metrics.Collector
	bufferSize int
}

func New(
	logger *slog.Logger,
	table *route.Table,
	balancer *loadbalancer.LoadBalancer,
	forwarder *backend.Forwarder,
	collector *metrics.Collector,
	bufferSize int,
) *ConnHandler {
	if bufferSize <= 0 {
		bufferSize = request.DefaultBufferSize
	}

	return &ConnHandler{
		logger:     logger.With(slog.String("component", "handler")),
		table:      table,
		balancer:   balancer,
		forwarder:  forwarder,
		collector:  collector,
		bufferSize: bufferSize,
	}
}

// Handle runs one client connection to completion and closes it.
func (h *ConnHandler) Handle(conn net.Conn) {
	defer conn.Close()

	log := h.logger.With(
		slog.String("conn_id", uuid.NewString()),
		slog.String("from", conn.RemoteAddr().String()))

	h.collector.Emit(metrics.MetricEvent{Type: metrics.EventConnectionAccepted})

	raw, err := request.ReadHead(conn, h.bufferSize)
	if err != nil {
		if !errors.Is(err, request.ErrEmptyRead) {
			log.Warn("Failed to read request", slog.Any("err", err))
		}
		return
	}

	head, err := request.Parse(raw)
	if err != nil {
		log.Warn("Malformed request, closing connection", slog.Any("err", err))
		h.collector.Emit(metrics.MetricEvent{Type: metrics.EventRequestMalformed})
		return
	}

	res := h.table.Resolve(head.Host)

	log.Info("Received request",
		slog.String("method", head.Method),
		slog.String("target", head.Target),
		slog.String("proto", head.Version),
		slog.String("host", head.Host),
		slog.Bool("fallback", res.Fallback))

	reservation, err := h.balancer.Reserve(res, clientIP(conn.RemoteAddr()))
	if err != nil {
		log.Error("No backend reserved", slog.String("host", head.Host), slog.Any("err", err))
		h.reply(log, conn, backend.NotFoundResponse())
		return
	}
	defer reservation.Release()

	selected := reservation.Backend().String()
	h.collector.Emit(metrics.MetricEvent{
		Type:     metrics.EventBackendSelected,
		Hostname: res.Hostname,
		Backend:  selected,
		Fallback: res.Fallback,
	})

	log.Info("Forwarding to backend",
		slog.String("host", head.Host),
		slog.String("backend", selected))

	start := time.Now()
	resp, fwdErr := h.forwarder.Forward(reservation.Backend(), head.Raw)
	duration := time.Since(start)

	h.collector.Emit(metrics.MetricEvent{
		Type:          metrics.EventResponseCompleted,
		Hostname:      res.Hostname,
		Backend:       selected,
		Fallback:      res.Fallback,
		ForwardFailed: fwdErr != nil,
		Duration:      duration,
		StatusCode:    backend.StatusCode(resp),
		Bytes:         len(resp),
	})

	h.reply(log, conn, resp)
	// Close before the deferred release so the client is not held open
	// while accounting runs.
	conn.Close()

	log.Debug("Connection completed",
		slog.String("backend", selected),
		slog.Duration("duration", duration),
		slog.Int("bytes", len(resp)))
}

func (h *ConnHandler) reply(log *slog.Logger, conn net.Conn, resp []byte) {
	if _, err := conn.Write(resp); err != nil {
		log.Warn("Failed to write response to client", slog.Any("err", err))
	}
}

func clientIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}

	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
