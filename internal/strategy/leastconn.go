package strategy

import (
	"math"

	"github.com/angeloszaimis/vhost-proxy/internal/route"
)

type leastConnStrategy struct{}

// SelectBackend returns the backend with the fewest active reservations.
// Strict less-than keeps the earliest configured backend on ties.
func (l *leastConnStrategy) SelectBackend(state *State, backends []route.Backend, _ string) route.Backend {
	best := backends[0]
	bestConns := math.MaxInt

	for _, b := range backends {
		activeConns := state.Active[b]
		if activeConns < bestConns {
			bestConns = activeConns
			best = b
		}
	}

	return best
}

func NewLeastConnStrategy() Strategy {
	return &leastConnStrategy{}
}
