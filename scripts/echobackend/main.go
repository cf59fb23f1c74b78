// Echobackend is a raw TCP backend for exercising the proxy by hand.
//
// Usage:
//
//	go run ./scripts/echobackend -addr 127.0.0.1:9001
//	go run ./scripts/echobackend -addr 127.0.0.1:9002 -echo
//
// Each connection gets one read. By default the backend answers with a small
// HTTP response naming itself in X-Backend-Server; with -echo it writes the
// received bytes back. The connection is closed afterwards, which is how the
// proxy detects the end of the response.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:9001", "address to listen on")
	name := flag.String("name", "", "name reported in X-Backend-Server (default: listen address)")
	echo := flag.Bool("echo", false, "echo the request bytes instead of answering")
	delay := flag.Duration("delay", 0, "artificial delay before answering")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Error("Failed to listen", slog.String("addr", *addr), slog.Any("err", err))
		os.Exit(1)
	}

	if *name == "" {
		*name = ln.Addr().String()
	}
	log.Info("Backend listening", slog.String("addr", ln.Addr().String()), slog.Bool("echo", *echo))

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Error("Accept failed", slog.Any("err", err))
			os.Exit(1)
		}
		go serve(log, conn, *name, *echo, *delay)
	}
}

func serve(log *slog.Logger, conn net.Conn, name string, echo bool, delay time.Duration) {
	defer conn.Close()

	buf := make([]byte, 64*1024)
	n, err := conn.Read(buf)
	if err != nil {
		log.Warn("Read failed", slog.Any("err", err))
		return
	}

	if delay > 0 {
		time.Sleep(delay)
	}

	if echo {
		_, _ = conn.Write(buf[:n])
		return
	}

	id := uuid.NewString()
	body := fmt.Sprintf("%s handled request %s\n", name, id)
	fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\n"+
		"Content-Type: text/plain\r\n"+
		"Content-Length: %d\r\n"+
		"X-Backend-Server: %s\r\n"+
		"X-Request-Id: %s\r\n"+
		"Connection: close\r\n\r\n%s", len(body), name, id, body)

	log.Info("Request served",
		slog.String("from", conn.RemoteAddr().String()),
		slog.String("request_id", id),
		slog.Int("bytes", n))
}
