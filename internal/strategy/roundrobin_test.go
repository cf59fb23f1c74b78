package strategy_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/vhost-proxy/internal/route"
	"github.com/angeloszaimis/vhost-proxy/internal/strategy"
)

var _ = Describe("Roundrobin", func() {
	var (
		strat    strategy.Strategy
		state    *strategy.State
		backends []route.Backend
	)

	BeforeEach(func() {
		strat = strategy.NewRoundRobinStrategy()
		backends = threeBackends()
		state = strategy.NewState(backends)
	})

	Describe("SelectBackend", func() {
		It("should cycle through backends in order", func() {
			Expect(strat.SelectBackend(state, backends, "")).To(Equal(backends[0]))
			Expect(strat.SelectBackend(state, backends, "")).To(Equal(backends[1]))
			Expect(strat.SelectBackend(state, backends, "")).To(Equal(backends[2]))
			Expect(strat.SelectBackend(state, backends, "")).To(Equal(backends[0]))
		})

		It("should distribute load evenly", func() {
			counts := make(map[string]int)
			for i := 0; i < 300; i++ {
				selected := strat.SelectBackend(state, backends, "")
				counts[selected.String()]++
			}
			Expect(counts["127.0.0.1:8081"]).To(Equal(100))
			Expect(counts["127.0.0.1:8082"]).To(Equal(100))
			Expect(counts["127.0.0.1:8083"]).To(Equal(100))
		})

		It("should start from the current cursor", func() {
			state.Cursor = 2
			Expect(strat.SelectBackend(state, backends, "")).To(Equal(backends[2]))
			Expect(strat.SelectBackend(state, backends, "")).To(Equal(backends[0]))
		})

		It("should keep the cursor within range", func() {
			for i := 0; i < 10; i++ {
				strat.SelectBackend(state, backends, "")
				Expect(state.Cursor).To(BeNumerically(">=", 0))
				Expect(state.Cursor).To(BeNumerically("<", len(backends)))
			}
		})

		It("should not touch the active counters", func() {
			strat.SelectBackend(state, backends, "")
			for _, b := range backends {
				Expect(state.Active[b]).To(Equal(0))
			}
		})
	})
})

var _ = Describe("Random", func() {
	var (
		strat    strategy.Strategy
		backends []route.Backend
		state    *strategy.State
	)

	BeforeEach(func() {
		strat = strategy.NewRandomStrategy()
		backends = threeBackends()
		state = strategy.NewState(backends)
	})

	It("should select a configured backend", func() {
		Expect(backends).To(ContainElement(strat.SelectBackend(state, backends, "")))
	})

	It("should distribute across backends over multiple calls", func() {
		seen := make(map[route.Backend]bool)
		for i := 0; i < 100; i++ {
			seen[strat.SelectBackend(state, backends, "")] = true
		}
		Expect(len(seen)).To(BeNumerically(">=", 2))
	})
})

var _ = Describe("New", func() {
	DescribeTable("recognised policies",
		func(kind string) {
			strat, ok := strategy.New(kind, 100)
			Expect(ok).To(BeTrue())
			Expect(strat).NotTo(BeNil())
		},
		Entry("Round Robin", strategy.RoundRobin),
		Entry("Least Connections", strategy.LeastConn),
		Entry("Random", strategy.Random),
		Entry("Consistent Hash", strategy.ConsistentHash),
	)

	DescribeTable("unknown policies default to round robin",
		func(kind string) {
			strat, ok := strategy.New(kind, 100)
			Expect(ok).To(BeFalse())

			backends := threeBackends()
			state := strategy.NewState(backends)
			Expect(strat.SelectBackend(state, backends, "")).To(Equal(backends[0]))
			Expect(strat.SelectBackend(state, backends, "")).To(Equal(backends[1]))
		},
		Entry("empty", ""),
		Entry("mixed case", "Round-Robin"),
		Entry("a host string", "127.0.0.1:9000"),
		Entry("garbage", "!!invalid!!"),
	)

	It("should list every recognised kind", func() {
		Expect(strategy.Kinds()).To(ConsistOf(
			strategy.RoundRobin, strategy.LeastConn, strategy.Random, strategy.ConsistentHash))
	})
})
