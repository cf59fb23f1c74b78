package route

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Backend is an upstream host:port endpoint. It is comparable and used as a
// map key for connection accounting.
type Backend struct {
	Host string
	Port int
}

// String renders the backend as a dialable address.
func (b Backend) String() string {
	return net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

// ParseBackend parses a "host:port" string.
func ParseBackend(addr string) (Backend, error) {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return Backend{}, fmt.Errorf("parse backend %q: %w", addr, err)
	}

	if host == "" {
		return Backend{}, fmt.Errorf("parse backend %q: empty host", addr)
	}

	p, err := strconv.Atoi(port)
	if err != nil || p < 1 || p > 65535 {
		return Backend{}, fmt.Errorf("parse backend %q: invalid port %q", addr, port)
	}

	return Backend{Host: host, Port: p}, nil
}

// MustParseBackend is like ParseBackend but panics on error.
// Intended for tests and static defaults.
func MustParseBackend(addr string) Backend {
	b, err := ParseBackend(addr)
	if err != nil {
		panic(err)
	}
	return b
}
