package loadbalancer

import (
	"sync"

	"github.com/angeloszaimis/vhost-proxy/internal/route"
)

// Reservation is the accounting slot held by one in-flight connection. It
// remembers the backend actually selected so Release decrements that one.
type Reservation struct {
	lb       *LoadBalancer
	hostname string
	backend  route.Backend
	fallback bool
	once     sync.Once
}

func (r *Reservation) Hostname() string {
	return r.hostname
}

func (r *Reservation) Backend() route.Backend {
	return r.backend
}

// Fallback reports whether the sentinel backend was substituted.
func (r *Reservation) Fallback() bool {
	return r.fallback
}

// Release gives the slot back. Only the first call has an effect.
func (r *Reservation) Release() {
	r.once.Do(func() {
		if r.fallback || r.lb == nil {
			return
		}
		r.lb.Release(r.hostname, r.backend)
	})
}
