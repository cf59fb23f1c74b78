// Package route holds the static virtual-host routing table. It maps a
// Host header value to the ordered backend list and the name of the
// selection policy configured for it, and substitutes a sentinel fallback
// backend for hostnames it cannot resolve.
package route
