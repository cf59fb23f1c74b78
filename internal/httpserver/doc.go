// Package httpserver runs the admin HTTP endpoint next to the proxy listener.
package httpserver
