package xbar_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/sesim/mem"
	"github.com/sarchlab/sesim/timing/clock"
	"github.com/sarchlab/sesim/timing/xbar"
)

type rangeResponder struct {
	name    string
	ranges  []mem.AddrRange
	delay   clock.Tick
	arrived []clock.Tick
}

func (r *rangeResponder) Name() string                { return r.name }
func (r *rangeResponder) AddrRanges() []mem.AddrRange { return r.ranges }

func (r *rangeResponder) Access(_ *mem.Packet, at clock.Tick) (clock.Tick, error) {
	r.arrived = append(r.arrived, at)
	return at + r.delay, nil
}

func line(cmd mem.Cmd, addr uint64) *mem.Packet {
	return &mem.Packet{Cmd: cmd, Addr: addr, Size: 64}
}

var _ = Describe("XBar", func() {
	var (
		domain *clock.SrcClockDomain
		low    *rangeResponder
		high   *rangeResponder
		bus    *xbar.XBar
	)

	BeforeEach(func() {
		var err error
		domain, err = clock.NewSrcClockDomain(1*sim.GHz, nil)
		Expect(err).NotTo(HaveOccurred())

		low = &rangeResponder{
			name:   "low",
			ranges: []mem.AddrRange{{Start: 0, End: 0x1000}},
			delay:  10_000,
		}
		high = &rangeResponder{
			name:   "high",
			ranges: []mem.AddrRange{{Start: 0x1000, End: 0x2000}},
			delay:  10_000,
		}

		bus, err = xbar.New("l2bus", xbar.L2XBarConfig(), domain)
		Expect(err).NotTo(HaveOccurred())
		bus.AttachResponder(low)
		bus.AttachResponder(high)
	})

	It("should route by address range", func() {
		port := bus.CPUSidePort("cpu")

		_, err := port.Access(line(mem.CmdRead, 0x1040), 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(high.arrived).To(HaveLen(1))
		Expect(low.arrived).To(BeEmpty())
	})

	It("should add frontend, forward and response latency", func() {
		port := bus.CPUSidePort("cpu")

		done, err := port.Access(line(mem.CmdRead, 0), 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(low.arrived).To(Equal([]clock.Tick{1_000}))
		Expect(done).To(Equal(clock.Tick(12_000)))
	})

	It("should serialize packets on a busy request layer", func() {
		a := bus.CPUSidePort("l1i")
		b := bus.CPUSidePort("l1d")

		_, _ = a.Access(line(mem.CmdRead, 0), 0)
		_, err := b.Access(line(mem.CmdRead, 0x40), 0)
		Expect(err).NotTo(HaveOccurred())

		// a 64B line holds the 32B-wide layer for two cycles
		Expect(low.arrived).To(Equal([]clock.Tick{1_000, 3_000}))
		Expect(bus.Stats().LayerWaitCycles).To(Equal(uint64(2)))
	})

	It("should give each destination its own request layer", func() {
		port := bus.CPUSidePort("cpu")

		_, _ = port.Access(line(mem.CmdRead, 0), 0)
		_, _ = bus.CPUSidePort("other").Access(line(mem.CmdRead, 0x1000), 0)

		Expect(high.arrived).To(Equal([]clock.Tick{1_000}))
	})

	It("should serialize responses to the same requestor", func() {
		port := bus.CPUSidePort("cpu")

		first, _ := port.Access(line(mem.CmdRead, 0), 0)
		second, err := port.Access(line(mem.CmdRead, 0x1000), 0)
		Expect(err).NotTo(HaveOccurred())

		Expect(first).To(Equal(clock.Tick(12_000)))
		// the response layer is held until 13ns by the first response
		Expect(second).To(Equal(clock.Tick(14_000)))
	})

	It("should not charge a response for writebacks", func() {
		port := bus.CPUSidePort("l2")

		done, err := port.Access(line(mem.CmdWriteback, 0), 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(done).To(Equal(clock.Tick(11_000)))
		Expect(bus.Stats().Writebacks).To(Equal(uint64(1)))
	})

	It("should count traffic", func() {
		port := bus.CPUSidePort("cpu")
		_, _ = port.Access(line(mem.CmdRead, 0), 0)
		_, _ = port.Access(&mem.Packet{Cmd: mem.CmdWrite, Addr: 8, Size: 8}, 50_000)

		stats := bus.Stats()
		Expect(stats.Packets).To(Equal(uint64(2)))
		Expect(stats.Bytes).To(Equal(uint64(72)))

		bus.Reset()
		Expect(bus.Stats()).To(Equal(xbar.Statistics{}))
	})

	It("should return an error for unroutable addresses", func() {
		port := bus.CPUSidePort("cpu")

		_, err := port.Access(line(mem.CmdRead, 0x5000), 0)
		Expect(errors.Is(err, mem.ErrNoRoute)).To(BeTrue())
	})

	It("should name ports after the bus", func() {
		port := bus.CPUSidePort("cpu")
		Expect(port.Name()).To(Equal("l2bus.cpu_side_ports[0]"))
		Expect(bus.Requestors()).To(Equal([]string{"cpu"}))
		Expect(port.AddrRanges()).To(HaveLen(2))
	})

	Describe("CheckRoutes", func() {
		It("should accept a fully covered range", func() {
			Expect(bus.CheckRoutes([]mem.AddrRange{{Start: 0, End: 0x2000}})).To(Succeed())
		})

		It("should reject a gap", func() {
			err := bus.CheckRoutes([]mem.AddrRange{{Start: 0, End: 0x3000}})
			Expect(errors.Is(err, mem.ErrNoRoute)).To(BeTrue())
		})

		It("should reject overlapping responders", func() {
			bus.AttachResponder(&rangeResponder{
				name:   "dup",
				ranges: []mem.AddrRange{{Start: 0x800, End: 0x1800}},
			})
			Expect(bus.CheckRoutes(nil)).To(MatchError(ContainSubstring("overlaps")))
		})

		It("should reject a bus without responders", func() {
			empty, err := xbar.New("membus", xbar.SystemXBarConfig(), domain)
			Expect(err).NotTo(HaveOccurred())
			Expect(empty.CheckRoutes(nil)).NotTo(Succeed())
		})
	})

	It("should provide the system bus preset", func() {
		c := xbar.SystemXBarConfig()
		Expect(c.Width).To(Equal(uint64(16)))
		Expect(c.FrontendLatency).To(Equal(uint64(3)))
		Expect(c.ForwardLatency).To(Equal(uint64(4)))
		Expect(c.ResponseLatency).To(Equal(uint64(2)))
	})
})
