package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"time"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

var ErrServerClosed = errors.New("proxy: server closed")

// Handler processes a single accepted connection and is responsible for
// closing it.
type Handler interface {
	Handle(conn net.Conn)
}

type HandlerFunc func(conn net.Conn)

func (f HandlerFunc) Handle(conn net.Conn) {
	f(conn)
}

type Server struct {
	logger  *slog.Logger
	handler Handler

	mutex    sync.Mutex
	listener net.Listener
	closed   bool
	wg       sync.WaitGroup
}

func New(logger *slog.Logger, handler Handler) *Server {
	return &Server{
		logger:  logger.With(slog.String("component", "proxy")),
		handler: handler,
	}
}

// ListenAndServe binds addr and serves until ctx is cancelled or Shutdown
// is called.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until the listener fails permanently, ctx
// is cancelled or Shutdown is called. It returns ErrServerClosed in the
// latter two cases.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.mutex.Unlock()

	stop := context.AfterFunc(ctx, func() {
		s.closeListener()
	})
	defer stop()

	s.logger.Info("Proxy listening", slog.String("address", ln.Addr().String()))

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() || ctx.Err() != nil {
				return ErrServerClosed
			}

			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("accept: %w", err)
			}

			// Anything else (EMFILE, ECONNABORTED, ...) is treated as transient.
			backoff = nextBackoff(backoff)
			s.logger.Warn("Accept failed, retrying",
				slog.Any("err", err),
				slog.Duration("backoff", backoff))
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Connection handler panicked",
				slog.String("from", conn.RemoteAddr().String()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			conn.Close()
		}
	}()

	s.handler.Handle(conn)
}

// Shutdown stops accepting new connections and waits for in-flight handlers
// to return or for ctx to be done, whichever comes first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeListener()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) Addr() net.Addr {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) closeListener() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			s.logger.Warn("Failed to close listener", slog.Any("err", err))
		}
	}
}

func (s *Server) isClosed() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.closed
}

func nextBackoff(current time.Duration) time.Duration {
	if current == 0 {
		return minAcceptBackoff
	}
	current *= 2
	if current > maxAcceptBackoff {
		return maxAcceptBackoff
	}
	return current
}
