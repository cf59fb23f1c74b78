package loadbalancer

import (
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/angeloszaimis/vhost-proxy/internal/route"
	"github.com/angeloszaimis/vhost-proxy/internal/strategy"
)

var ErrNoBackends = errors.New("no backends to select from")

type LoadBalancer struct {
	logger       *slog.Logger
	virtualNodes int

	mutex sync.Mutex
	hosts map[string]*hostState
}

type hostState struct {
	mutex    sync.Mutex
	policy   string
	backends []route.Backend
	strategy strategy.Strategy
	state    *strategy.State
}

func NewLoadBalancer(logger *slog.Logger, virtualNodes int) *LoadBalancer {
	return &LoadBalancer{
		logger:       logger.With(slog.String("component", "loadbalancer")),
		virtualNodes: virtualNodes,
		hosts:        make(map[string]*hostState),
	}
}

// Select picks a backend for hostname and reserves it by incrementing its
// active count in the same critical section.
//
// State is keyed by hostname and built for one backend set and policy.
// Calling Select for the same hostname with a different set or policy
// discards that state: counts and cursor start over, and reservations taken
// before the change are released against the new state, where they clamp at
// zero (Release reports false and logs a warning). Callers routing from a
// fixed table never hit this.
func (lb *LoadBalancer) Select(hostname string, backends []route.Backend, policy string) (route.Backend, error) {
	return lb.SelectWithKey(hostname, backends, policy, "")
}

// SelectWithKey is Select with an affinity key for key-aware policies.
func (lb *LoadBalancer) SelectWithKey(hostname string, backends []route.Backend, policy, key string) (route.Backend, error) {
	if len(backends) == 0 {
		return route.Backend{}, ErrNoBackends
	}

	hs := lb.hostFor(hostname, backends, policy)

	hs.mutex.Lock()
	var chosen route.Backend
	if len(hs.backends) == 1 {
		chosen = hs.backends[0]
	} else {
		chosen = hs.strategy.SelectBackend(hs.state, hs.backends, key)
	}
	hs.state.Active[chosen]++
	hs.mutex.Unlock()

	return chosen, nil
}

// Release returns the reservation taken on backend for hostname. It reports
// false, leaving the state clamped and intact, when there was nothing to
// release.
func (lb *LoadBalancer) Release(hostname string, backend route.Backend) bool {
	lb.mutex.Lock()
	hs, ok := lb.hosts[hostname]
	lb.mutex.Unlock()

	if !ok {
		lb.logger.Warn("Release for hostname without state",
			slog.String("hostname", hostname),
			slog.String("backend", backend.String()))
		return false
	}

	hs.mutex.Lock()
	n, known := hs.state.Active[backend]
	released := known && n > 0
	if released {
		hs.state.Active[backend] = n - 1
	}
	hs.mutex.Unlock()

	if !released {
		lb.logger.Warn("Release without matching reservation",
			slog.String("hostname", hostname),
			slog.String("backend", backend.String()),
			slog.Bool("known_backend", known))
	}

	return released
}

// Reserve selects a backend for the resolution and returns a handle whose
// Release must be deferred by the caller. Fallback resolutions are not
// accounted.
func (lb *LoadBalancer) Reserve(res route.Resolution, key string) (*Reservation, error) {
	if len(res.Backends) == 0 {
		return nil, ErrNoBackends
	}

	if res.Fallback {
		return &Reservation{hostname: res.Hostname, backend: res.Backends[0], fallback: true}, nil
	}

	chosen, err := lb.SelectWithKey(res.Hostname, res.Backends, res.Policy, key)
	if err != nil {
		return nil, err
	}

	return &Reservation{lb: lb, hostname: res.Hostname, backend: chosen}, nil
}

// ActiveConnections returns the current reservation count of backend under
// hostname.
func (lb *LoadBalancer) ActiveConnections(hostname string, backend route.Backend) int {
	lb.mutex.Lock()
	hs, ok := lb.hosts[hostname]
	lb.mutex.Unlock()

	if !ok {
		return 0
	}

	hs.mutex.Lock()
	defer hs.mutex.Unlock()
	return hs.state.Active[backend]
}

// Snapshot copies the active counts of every hostname dispatched so far,
// keyed by hostname and backend address.
func (lb *LoadBalancer) Snapshot() map[string]map[string]int {
	lb.mutex.Lock()
	hosts := make(map[string]*hostState, len(lb.hosts))
	for name, hs := range lb.hosts {
		hosts[name] = hs
	}
	lb.mutex.Unlock()

	out := make(map[string]map[string]int, len(hosts))
	for name, hs := range hosts {
		hs.mutex.Lock()
		counts := make(map[string]int, len(hs.state.Active))
		for b, n := range hs.state.Active {
			counts[b.String()] = n
		}
		hs.mutex.Unlock()

		out[name] = counts
	}

	return out
}

// hostFor returns the state of hostname, creating it on first dispatch.
// State created for a different backend set or policy is replaced.
func (lb *LoadBalancer) hostFor(hostname string, backends []route.Backend, policy string) *hostState {
	lb.mutex.Lock()
	hs, ok := lb.hosts[hostname]
	if ok && hs.policy == policy && slices.Equal(hs.backends, backends) {
		lb.mutex.Unlock()
		return hs
	}

	strat, known := strategy.New(policy, lb.virtualNodes)
	hs = &hostState{
		policy:   policy,
		backends: slices.Clone(backends),
		strategy: strat,
		state:    strategy.NewState(backends),
	}
	lb.hosts[hostname] = hs
	lb.mutex.Unlock()

	if ok {
		lb.logger.Warn("Backend set changed, selection state reset",
			slog.String("hostname", hostname))
	}

	if !known && len(backends) > 1 {
		lb.logger.Warn("Unknown policy, defaulting to round-robin",
			slog.String("hostname", hostname),
			slog.String("requested", policy))
	}

	return hs
}
