package route_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/vhost-proxy/internal/route"
)

var _ = Describe("Table", func() {
	var (
		table    *route.Table
		fallback route.Backend
		a, b, c  route.Backend
	)

	BeforeEach(func() {
		fallback = route.MustParseBackend("127.0.0.1:9000")
		a = route.MustParseBackend("10.0.0.1:9001")
		b = route.MustParseBackend("10.0.0.2:9001")
		c = route.MustParseBackend("10.0.0.3:9001")

		var err error
		table, err = route.NewTable([]route.Entry{
			{Hostname: "app1.local", Backends: []route.Backend{a, b, c}, Policy: "round-robin"},
			{Hostname: "app2.local", Backends: []route.Backend{a}, Policy: "least-conn"},
			{Hostname: "empty.local", Backends: nil, Policy: "round-robin"},
			{Hostname: "192.168.56.103:8080", Backends: []route.Backend{b}},
		}, fallback)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("NewTable", func() {
		It("should reject duplicate hostnames", func() {
			_, err := route.NewTable([]route.Entry{
				{Hostname: "dup.local", Backends: []route.Backend{a}},
				{Hostname: "dup.local", Backends: []route.Backend{b}},
			}, fallback)
			Expect(err).To(MatchError(route.ErrDuplicateHost))
		})

		It("should not alias the caller's backend slice", func() {
			backends := []route.Backend{a, b}
			t, err := route.NewTable([]route.Entry{{Hostname: "x", Backends: backends}}, fallback)
			Expect(err).NotTo(HaveOccurred())

			backends[0] = c
			Expect(t.Resolve("x").Backends).To(Equal([]route.Backend{a, b}))
		})
	})

	Describe("Resolve", func() {
		It("should return configured backends and policy on exact match", func() {
			res := table.Resolve("app1.local")
			Expect(res.Fallback).To(BeFalse())
			Expect(res.Backends).To(Equal([]route.Backend{a, b, c}))
			Expect(res.Policy).To(Equal("round-robin"))
		})

		It("should match hostnames that carry a port", func() {
			res := table.Resolve("192.168.56.103:8080")
			Expect(res.Fallback).To(BeFalse())
			Expect(res.Backends).To(Equal([]route.Backend{b}))
		})

		It("should not do suffix or case-folded matching", func() {
			Expect(table.Resolve("APP1.local").Fallback).To(BeTrue())
			Expect(table.Resolve("x.app1.local").Fallback).To(BeTrue())
		})

		It("should resolve missing and empty entries to the same fallback", func() {
			missing := table.Resolve("unknown.local")
			empty := table.Resolve("empty.local")
			noHost := table.Resolve("")

			for _, res := range []route.Resolution{missing, empty, noHost} {
				Expect(res.Fallback).To(BeTrue())
				Expect(res.Backends).To(Equal([]route.Backend{fallback}))
			}
		})
	})

	Describe("Entries", func() {
		It("should list entries in load order", func() {
			entries := table.Entries()
			Expect(entries).To(HaveLen(4))
			Expect(entries[0].Hostname).To(Equal("app1.local"))
			Expect(entries[3].Hostname).To(Equal("192.168.56.103:8080"))
			Expect(table.Len()).To(Equal(4))
			Expect(table.Fallback()).To(Equal(fallback))
		})
	})
})

var _ = Describe("ParseBackend", func() {
	DescribeTable("valid addresses",
		func(addr string, want route.Backend) {
			got, err := route.ParseBackend(addr)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(want))
		},
		Entry("ipv4", "127.0.0.1:9000", route.Backend{Host: "127.0.0.1", Port: 9000}),
		Entry("hostname", "backend.internal:80", route.Backend{Host: "backend.internal", Port: 80}),
		Entry("ipv6", "[::1]:8081", route.Backend{Host: "::1", Port: 8081}),
		Entry("surrounding spaces", " 10.0.0.1:1 ", route.Backend{Host: "10.0.0.1", Port: 1}),
	)

	DescribeTable("invalid addresses",
		func(addr string) {
			_, err := route.ParseBackend(addr)
			Expect(err).To(HaveOccurred())
		},
		Entry("missing port", "127.0.0.1"),
		Entry("empty host", ":9000"),
		Entry("port zero", "127.0.0.1:0"),
		Entry("port too large", "127.0.0.1:70000"),
		Entry("non numeric port", "127.0.0.1:http"),
	)

	It("should render back to host:port", func() {
		Expect(route.MustParseBackend("[::1]:8081").String()).To(Equal("[::1]:8081"))
		Expect(route.MustParseBackend("127.0.0.1:9000").String()).To(Equal("127.0.0.1:9000"))
	})
})
