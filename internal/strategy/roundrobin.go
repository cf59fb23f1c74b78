package strategy

import (
	"github.com/angeloszaimis/vhost-proxy/internal/route"
)

type roundRobinStrategy struct{}

func (rb *roundRobinStrategy) SelectBackend(state *State, backends []route.Backend, _ string) route.Backend {
	index := state.Cursor % len(backends)
	state.Cursor = (index + 1) % len(backends)

	return backends[index]
}

func NewRoundRobinStrategy() Strategy {
	return &roundRobinStrategy{}
}
