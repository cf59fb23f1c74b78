package loadbalancer_test

import (
	"log/slog"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/vhost-proxy/internal/loadbalancer"
	"github.com/angeloszaimis/vhost-proxy/internal/route"
	"github.com/angeloszaimis/vhost-proxy/internal/strategy"
)

var _ = Describe("LoadBalancer", func() {
	var (
		lb       *loadbalancer.LoadBalancer
		a, b, c  route.Backend
		backends []route.Backend
	)

	BeforeEach(func() {
		log := slog.New(slog.NewTextHandler(GinkgoWriter, nil))
		lb = loadbalancer.NewLoadBalancer(log, 100)

		a = route.MustParseBackend("10.0.0.1:9001")
		b = route.MustParseBackend("10.0.0.2:9001")
		c = route.MustParseBackend("10.0.0.3:9001")
		backends = []route.Backend{a, b, c}
	})

	Describe("Select", func() {
		It("should fail on an empty backend list", func() {
			_, err := lb.Select("app.local", nil, strategy.RoundRobin)
			Expect(err).To(MatchError(loadbalancer.ErrNoBackends))
		})

		Context("with round-robin", func() {
			It("should hand out backends in cyclic order", func() {
				var got []route.Backend
				for i := 0; i < 6; i++ {
					chosen, err := lb.Select("app.local", backends, strategy.RoundRobin)
					Expect(err).NotTo(HaveOccurred())
					got = append(got, chosen)
				}
				Expect(got).To(Equal([]route.Backend{a, b, c, a, b, c}))
			})

			It("should keep one cursor per hostname", func() {
				first, _ := lb.Select("one.local", backends, strategy.RoundRobin)
				second, _ := lb.Select("two.local", backends, strategy.RoundRobin)
				Expect(first).To(Equal(a))
				Expect(second).To(Equal(a))
			})

			It("should consume every cursor value exactly once under concurrency", func() {
				const workers = 300
				var (
					wg     sync.WaitGroup
					mu     sync.Mutex
					counts = make(map[route.Backend]int)
				)

				for i := 0; i < workers; i++ {
					wg.Add(1)
					go func() {
						defer GinkgoRecover()
						defer wg.Done()
						chosen, err := lb.Select("app.local", backends, strategy.RoundRobin)
						Expect(err).NotTo(HaveOccurred())
						mu.Lock()
						counts[chosen]++
						mu.Unlock()
					}()
				}
				wg.Wait()

				Expect(counts[a]).To(Equal(workers / 3))
				Expect(counts[b]).To(Equal(workers / 3))
				Expect(counts[c]).To(Equal(workers / 3))
			})
		})

		Context("with least-conn", func() {
			It("should pick the minimum and reserve it atomically", func() {
				// Drive counters to {A: 2, B: 0, C: 1}.
				for i := 0; i < 3; i++ {
					_, err := lb.Select("app.local", backends, strategy.LeastConn)
					Expect(err).NotTo(HaveOccurred())
				}
				chosen, err := lb.Select("app.local", backends, strategy.LeastConn)
				Expect(err).NotTo(HaveOccurred())
				Expect(chosen).To(Equal(a))
				Expect(lb.Release("app.local", b)).To(BeTrue())

				Expect(lb.ActiveConnections("app.local", a)).To(Equal(2))
				Expect(lb.ActiveConnections("app.local", b)).To(Equal(0))
				Expect(lb.ActiveConnections("app.local", c)).To(Equal(1))

				chosen, err = lb.Select("app.local", backends, strategy.LeastConn)
				Expect(err).NotTo(HaveOccurred())
				Expect(chosen).To(Equal(b))
				Expect(lb.ActiveConnections("app.local", b)).To(Equal(1))

				chosen, err = lb.Select("app.local", backends, strategy.LeastConn)
				Expect(err).NotTo(HaveOccurred())
				Expect(chosen).To(Equal(b), "tie between B and C goes to the earlier backend")
			})

			It("should spread concurrent selections instead of piling on one minimum", func() {
				var wg sync.WaitGroup
				for i := 0; i < 30; i++ {
					wg.Add(1)
					go func() {
						defer GinkgoRecover()
						defer wg.Done()
						_, err := lb.Select("app.local", backends, strategy.LeastConn)
						Expect(err).NotTo(HaveOccurred())
					}()
				}
				wg.Wait()

				for _, be := range backends {
					Expect(lb.ActiveConnections("app.local", be)).To(Equal(10))
				}
			})
		})

		Context("with a single backend", func() {
			DescribeTable("should always return it regardless of policy",
				func(policy string) {
					only := []route.Backend{a}
					for i := 0; i < 3; i++ {
						chosen, err := lb.Select("single.local", only, policy)
						Expect(err).NotTo(HaveOccurred())
						Expect(chosen).To(Equal(a))
					}
				},
				Entry("round-robin", strategy.RoundRobin),
				Entry("least-conn", strategy.LeastConn),
				Entry("random", strategy.Random),
				Entry("unrecognised", "sticky-sessions"),
			)
		})

		Context("with an unknown policy", func() {
			It("should behave like round-robin", func() {
				var got []route.Backend
				for i := 0; i < 4; i++ {
					chosen, _ := lb.Select("app.local", backends, "weighted")
					got = append(got, chosen)
				}
				Expect(got).To(Equal([]route.Backend{a, b, c, a}))
			})
		})

		Context("when the backend set changes", func() {
			It("should rebuild state keyed by the new set", func() {
				_, _ = lb.Select("app.local", backends, strategy.LeastConn)
				smaller := []route.Backend{b, c}
				chosen, err := lb.Select("app.local", smaller, strategy.LeastConn)
				Expect(err).NotTo(HaveOccurred())
				Expect(chosen).To(Equal(b))
				Expect(lb.Snapshot()["app.local"]).To(HaveLen(2))
			})

			It("should not carry reservations taken before the change", func() {
				r, err := lb.Reserve(route.Resolution{Hostname: "app.local", Backends: backends, Policy: strategy.LeastConn}, "")
				Expect(err).NotTo(HaveOccurred())
				Expect(r.Backend()).To(Equal(a))

				_, err = lb.Select("app.local", []route.Backend{b, c}, strategy.LeastConn)
				Expect(err).NotTo(HaveOccurred())
				Expect(lb.ActiveConnections("app.local", a)).To(Equal(0))

				Expect(lb.Release("app.local", a)).To(BeFalse())
				r.Release()
				Expect(lb.Snapshot()["app.local"]).To(Equal(map[string]int{
					"10.0.0.2:9001": 1,
					"10.0.0.3:9001": 0,
				}))
			})
		})
	})

	Describe("Release", func() {
		It("should clamp at zero and report the anomaly", func() {
			_, _ = lb.Select("app.local", backends, strategy.LeastConn)
			Expect(lb.Release("app.local", a)).To(BeTrue())
			Expect(lb.Release("app.local", a)).To(BeFalse())
			Expect(lb.ActiveConnections("app.local", a)).To(Equal(0))
		})

		It("should ignore unknown hostnames and backends", func() {
			Expect(lb.Release("nobody.local", a)).To(BeFalse())

			_, _ = lb.Select("app.local", backends, strategy.LeastConn)
			Expect(lb.Release("app.local", route.MustParseBackend("10.9.9.9:1"))).To(BeFalse())
			Expect(lb.Snapshot()["app.local"]).NotTo(HaveKey("10.9.9.9:1"))
		})
	})

	Describe("Reserve", func() {
		It("should release the backend it selected exactly once", func() {
			res := route.Resolution{Hostname: "app.local", Backends: backends, Policy: strategy.LeastConn}

			r, err := lb.Reserve(res, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Backend()).To(Equal(a))
			Expect(r.Hostname()).To(Equal("app.local"))
			Expect(lb.ActiveConnections("app.local", a)).To(Equal(1))

			r.Release()
			r.Release()
			Expect(lb.ActiveConnections("app.local", a)).To(Equal(0))
		})

		It("should not account fallback resolutions", func() {
			fallback := route.MustParseBackend("127.0.0.1:9000")
			r, err := lb.Reserve(route.Resolution{Hostname: "ghost.local", Backends: []route.Backend{fallback}, Fallback: true}, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Fallback()).To(BeTrue())
			Expect(r.Backend()).To(Equal(fallback))

			r.Release()
			Expect(lb.Snapshot()).NotTo(HaveKey("ghost.local"))
		})

		It("should return to the starting counts after concurrent reserve/release pairs", func() {
			res := route.Resolution{Hostname: "app.local", Backends: backends, Policy: strategy.LeastConn}

			var wg sync.WaitGroup
			for i := 0; i < 200; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					r, err := lb.Reserve(res, "")
					Expect(err).NotTo(HaveOccurred())
					defer r.Release()
				}()
			}
			wg.Wait()

			for _, be := range backends {
				Expect(lb.ActiveConnections("app.local", be)).To(Equal(0))
			}
		})

		It("should pass the key to consistent hashing", func() {
			res := route.Resolution{Hostname: "sticky.local", Backends: backends, Policy: strategy.ConsistentHash}
			first, err := lb.Reserve(res, "192.168.1.10")
			Expect(err).NotTo(HaveOccurred())
			defer first.Release()

			for i := 0; i < 5; i++ {
				r, err := lb.Reserve(res, "192.168.1.10")
				Expect(err).NotTo(HaveOccurred())
				Expect(r.Backend()).To(Equal(first.Backend()))
				r.Release()
			}
		})
	})

	Describe("Snapshot", func() {
		It("should copy counts keyed by backend address", func() {
			_, _ = lb.Select("app.local", backends, strategy.RoundRobin)
			snap := lb.Snapshot()
			Expect(snap["app.local"]).To(Equal(map[string]int{
				"10.0.0.1:9001": 1,
				"10.0.0.2:9001": 0,
				"10.0.0.3:9001": 0,
			}))

			snap["app.local"]["10.0.0.1:9001"] = 42
			Expect(lb.ActiveConnections("app.local", a)).To(Equal(1))
		})
	})
})
