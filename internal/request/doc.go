// Package request extracts the little the proxy needs from a raw HTTP
// request head: the request line and the Host header. The raw bytes are
// never rewritten; they are relayed to the backend exactly as received.
package request
