package backend

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/angeloszaimis/vhost-proxy/internal/route"
)

// Dialer opens outbound connections. *net.Dialer satisfies it.
type Dialer interface {
	Dial(network, address string) (net.Conn, error)
}

// Forwarder opens one connection per request. There is no pooling and no
// per-request deadline: a backend that never closes holds the caller.
type Forwarder struct {
	logger *slog.Logger
	dialer Dialer
}

func NewForwarder(logger *slog.Logger, dialer Dialer) *Forwarder {
	if dialer == nil {
		dialer = &net.Dialer{}
	}

	return &Forwarder{
		logger: logger.With(slog.String("component", "forwarder")),
		dialer: dialer,
	}
}

// Forward sends head to b unmodified and returns everything b writes until
// it closes the connection. On failure the response is NotFoundResponse and
// the error says why; bytes already received are discarded.
func (f *Forwarder) Forward(b route.Backend, head []byte) ([]byte, error) {
	resp, err := f.roundTrip(b, head)
	if err != nil {
		f.logger.Warn("Backend unreachable, sending fallback response",
			slog.String("backend", b.String()),
			slog.Any("err", err))
		return NotFoundResponse(), err
	}

	return resp, nil
}

func (f *Forwarder) roundTrip(b route.Backend, head []byte) ([]byte, error) {
	conn, err := f.dialer.Dial("tcp", b.String())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", b, err)
	}
	defer conn.Close()

	if _, err := conn.Write(head); err != nil {
		return nil, fmt.Errorf("write to %s: %w", b, err)
	}

	var resp bytes.Buffer
	if _, err := io.Copy(&resp, conn); err != nil {
		return nil, fmt.Errorf("read from %s: %w", b, err)
	}

	return resp.Bytes(), nil
}
