package request

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultBufferSize bounds the single read taken from a client connection.
const DefaultBufferSize = 64 * 1024

var (
	ErrEmptyRead            = errors.New("empty request")
	ErrMalformedRequestLine = errors.New("malformed request line")
)

// Head is the parsed view of a request head. Raw is the original input.
type Head struct {
	Method  string
	Target  string
	Version string
	Host    string
	Raw     []byte
}

// ReadHead performs one read of at most size bytes from r. Anything the
// client sends beyond that first read is not consumed.
func ReadHead(r io.Reader, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultBufferSize
	}

	buf := make([]byte, size)
	n, err := r.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}

	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read request: %w", err)
	}

	return nil, ErrEmptyRead
}

// Parse reads the request line and the first Host header out of raw.
// A missing Host header is not an error; Host is then empty.
func Parse(raw []byte) (*Head, error) {
	line, rest := nextLine(raw)

	method, target, version, ok := parseRequestLine(line)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMalformedRequestLine, truncate(line, 64))
	}

	return &Head{
		Method:  method,
		Target:  target,
		Version: version,
		Host:    findHost(rest),
		Raw:     raw,
	}, nil
}

func parseRequestLine(line []byte) (method, target, version string, ok bool) {
	fields := strings.Split(string(line), " ")
	if len(fields) != 3 {
		return "", "", "", false
	}

	method, target, version = fields[0], fields[1], fields[2]
	if method == "" || target == "" || !strings.HasPrefix(version, "HTTP/") {
		return "", "", "", false
	}

	return method, target, version, true
}

// findHost scans header lines up to the first blank line.
func findHost(headers []byte) string {
	for len(headers) > 0 {
		var line []byte
		line, headers = nextLine(headers)

		if len(line) == 0 {
			break
		}

		colon := bytes.IndexByte(line, ':')
		if colon < 0 {
			continue
		}

		name := bytes.TrimSpace(line[:colon])
		if !strings.EqualFold(string(name), "Host") {
			continue
		}

		return strings.TrimSpace(string(line[colon+1:]))
	}

	return ""
}

// nextLine splits off the first line, dropping the "\n" and an optional "\r".
func nextLine(b []byte) (line, rest []byte) {
	idx := bytes.IndexByte(b, '\n')
	if idx < 0 {
		return bytes.TrimSuffix(b, []byte("\r")), nil
	}
	return bytes.TrimSuffix(b[:idx], []byte("\r")), b[idx+1:]
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
