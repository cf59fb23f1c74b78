package backend

import (
	"bytes"
	"strconv"
	"strings"
)

const notFoundResponse = "HTTP/1.1 404 Not Found\r\n" +
	"Content-Type: text/plain\r\n" +
	"Content-Length: 13\r\n" +
	"Connection: close\r\n" +
	"\r\n" +
	"404 Not Found"

// NotFoundResponse returns a fresh copy of the response sent when a backend
// cannot be reached.
func NotFoundResponse() []byte {
	return []byte(notFoundResponse)
}

// StatusCode reads the status code from an HTTP response's status line,
// or returns 0 when resp does not start with one.
func StatusCode(resp []byte) int {
	line := resp
	if i := bytes.IndexByte(resp, '\n'); i >= 0 {
		line = resp[:i]
	}

	fields := strings.Fields(string(line))
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "HTTP/") {
		return 0
	}

	code, err := strconv.Atoi(fields[1])
	if err != nil || code < 100 || code > 999 {
		return 0
	}
	return code
}
