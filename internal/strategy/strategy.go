package strategy

import (
	"github.com/angeloszaimis/vhost-proxy/internal/route"
)

const (
	RoundRobin     = "round-robin"
	LeastConn      = "least-conn"
	Random         = "random"
	ConsistentHash = "consistent_hash"
)

const defaultVirtualNodes = 100

type Strategy interface {
	// SelectBackend picks one of backends (never empty) for the request
	// identified by key.
	SelectBackend(state *State, backends []route.Backend, key string) route.Backend
}

// State is the mutable selection state of one hostname. Active holds an
// entry for every configured backend and is never negative.
type State struct {
	Cursor int
	Active map[route.Backend]int

	ring *ringSnapshot
}

func NewState(backends []route.Backend) *State {
	active := make(map[route.Backend]int, len(backends))
	for _, b := range backends {
		active[b] = 0
	}

	return &State{Active: active}
}

// New returns the strategy registered under kind. Unknown kinds get round
// robin and ok is false.
func New(kind string, virtualNodes int) (s Strategy, ok bool) {
	switch kind {
	case RoundRobin:
		return NewRoundRobinStrategy(), true
	case LeastConn:
		return NewLeastConnStrategy(), true
	case Random:
		return NewRandomStrategy(), true
	case ConsistentHash:
		return NewConsistentHashStrategy(virtualNodes), true
	default:
		return NewRoundRobinStrategy(), false
	}
}

// Kinds lists the recognised policy names.
func Kinds() []string {
	return []string{RoundRobin, LeastConn, Random, ConsistentHash}
}
