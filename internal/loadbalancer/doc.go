// Package loadbalancer owns the per-hostname selection state and exposes it
// only through select-and-reserve and release operations. Each hostname is
// guarded by its own mutex; no I/O happens while one is held.
package loadbalancer
