// Package proxy owns the inbound TCP listener. It accepts client connections
// and hands each one to a connection handler on its own goroutine.
package proxy
