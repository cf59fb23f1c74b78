// Package strategy defines the backend selection policies a virtual host
// can be configured with:
//
//   - Round Robin: cyclic distribution driven by a per-hostname cursor
//   - Least Connections: fewest active reservations, ties to the earliest configured backend
//   - Random: uniform random selection
//   - Consistent Hash: client-IP affinity over a crc32 ring with virtual nodes
//
// Strategies are stateless; all per-hostname state lives in State, which the
// caller must lock around SelectBackend.
package strategy
