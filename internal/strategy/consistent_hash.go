package strategy

import (
	"hash/crc32"
	"sort"
	"strconv"

	"github.com/angeloszaimis/vhost-proxy/internal/route"
)

type consistentHashStrategy struct {
	virtualNodes int
}

type ringSnapshot struct {
	positions []uint32
	owners    map[uint32]route.Backend
}

func buildRing(backends []route.Backend, vnodes int) *ringSnapshot {
	rs := &ringSnapshot{
		positions: make([]uint32, 0, len(backends)*vnodes),
		owners:    make(map[uint32]route.Backend, len(backends)*vnodes),
	}

	for _, b := range backends {
		for i := 0; i < vnodes; i++ {
			key := b.String() + "#" + strconv.Itoa(i)
			hash := crc32.ChecksumIEEE([]byte(key))

			if _, taken := rs.owners[hash]; taken {
				continue
			}

			rs.positions = append(rs.positions, hash)
			rs.owners[hash] = b
		}
	}

	sort.Slice(rs.positions, func(i, j int) bool { return rs.positions[i] < rs.positions[j] })
	return rs
}

func (r *ringSnapshot) lookup(hash uint32) route.Backend {
	idx := sort.Search(len(r.positions), func(i int) bool {
		return r.positions[i] >= hash
	})

	if idx == len(r.positions) {
		idx = 0
	}

	return r.owners[r.positions[idx]]
}

// SelectBackend maps key (the client IP) onto the ring. The ring is built
// on first use and cached in state, since a hostname's backends never change.
func (s *consistentHashStrategy) SelectBackend(state *State, backends []route.Backend, key string) route.Backend {
	if state.ring == nil || len(state.ring.positions) == 0 {
		state.ring = buildRing(backends, s.virtualNodes)
	}

	return state.ring.lookup(crc32.ChecksumIEEE([]byte(key)))
}

func NewConsistentHashStrategy(virtualNodes int) Strategy {
	if virtualNodes <= 0 {
		virtualNodes = defaultVirtualNodes
	}

	return &consistentHashStrategy{virtualNodes: virtualNodes}
}
