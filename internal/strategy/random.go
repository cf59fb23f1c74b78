package strategy

import (
	"math/rand/v2"

	"github.com/angeloszaimis/vhost-proxy/internal/route"
)

type randomStrategy struct{}

func (r *randomStrategy) SelectBackend(_ *State, backends []route.Backend, _ string) route.Backend {
	return backends[rand.IntN(len(backends))]
}

func NewRandomStrategy() Strategy {
	return &randomStrategy{}
}
