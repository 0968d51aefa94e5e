package cpu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/sesim/emu"
	"github.com/sarchlab/sesim/insts"
	"github.com/sarchlab/sesim/mem"
	"github.com/sarchlab/sesim/timing/bpred"
	"github.com/sarchlab/sesim/timing/clock"
	"github.com/sarchlab/sesim/timing/cpu"
)

// independentAdds returns n additions that only read x9.
func independentAdds(n int) []uint32 {
	words := make([]uint32, n)
	for i := range words {
		words[i] = insts.EncodeADDImm(uint8(i%7+2), 9, 1, false)
	}
	return words
}

// countdown loops n times on x1.
func countdown(n uint16) []uint32 {
	return []uint32{
		insts.EncodeMOVZ(1, n, 0),
		insts.EncodeSUBImm(1, 1, 1, false),
		insts.EncodeCBNZ(1, -4),
	}
}

var _ = Describe("O3Config", func() {
	It("should accept the defaults", func() {
		Expect(cpu.DefaultO3Config().Validate()).To(Succeed())
		Expect(cpu.DefaultO3Config().FrontendDepth()).To(Equal(uint64(4)))
	})

	It("should reject empty queues", func() {
		config := cpu.DefaultO3Config()
		config.ROBEntries = 0
		_, err := cpu.NewO3CPU("cpu", newDomain(), config)
		Expect(err).To(MatchError(ContainSubstring("numROBEntries")))
	})

	It("should reject a fetch buffer that is not a power of two", func() {
		config := cpu.DefaultO3Config()
		config.FetchBufferSize = 48
		Expect(config.Validate()).To(MatchError(ContainSubstring("fetchBufferSize")))
	})

	It("should set every width at once", func() {
		config := cpu.DefaultO3Config().WithWidth(2)
		Expect(config.FetchWidth).To(Equal(2))
		Expect(config.CommitWidth).To(Equal(2))
	})
})

var _ = Describe("O3CPU", func() {
	var (
		c              *cpu.O3CPU
		icache, dcache *port
	)

	newO3 := func(opts ...cpu.Option) *cpu.O3CPU {
		o3, err := cpu.NewO3CPU("system.cpu", newDomain(), cpu.DefaultO3Config(), opts...)
		Expect(err).ToNot(HaveOccurred())
		return o3
	}

	BeforeEach(func() {
		c = newO3()
		icache = &port{name: "icache", delay: 1000}
		dcache = &port{name: "dcache", delay: 1000}
	})

	It("should run a program to completion", func() {
		attach(c, icache, dcache, newThread(repeat(3, insts.EncodeADDImm(0, 0, 1, false))...))

		exit := c.Run(0)

		Expect(exit.Cause).To(Equal(cpu.CauseExited))
		Expect(exit.Code).To(Equal(int64(3)))
		Expect(exit.Tick).To(Equal(c.CurTick()))
		Expect(c.Stats().CommittedInsts).To(Equal(uint64(5)))
		Expect(c.O3Stats().FetchedInsts).To(Equal(uint64(5)))
		Expect(c.MemMode()).To(Equal(cpu.MemModeTiming))
	})

	It("should overlap independent instructions", func() {
		program := independentAdds(32)

		attach(c, icache, dcache, newThread(program...))
		c.Run(0)

		simple := cpu.NewTimingSimpleCPU("simple", newDomain())
		attach(simple, &port{delay: 1000}, &port{delay: 1000}, newThread(program...))
		simple.Run(0)

		Expect(c.Stats().CommittedInsts).To(Equal(simple.Stats().CommittedInsts))
		Expect(c.Stats().NumCycles).To(BeNumerically("<", simple.Stats().NumCycles/2))
		Expect(c.Stats().IPC()).To(BeNumerically(">", 1))
	})

	It("should fetch a whole buffer per instruction cache access", func() {
		attach(c, icache, dcache, newThread(independentAdds(30)...))

		c.Run(0)

		Expect(icache.packets).To(HaveLen(2))
		Expect(icache.packets[0]).To(Equal(mem.Packet{Cmd: mem.CmdFetch, Addr: entry, Size: 64}))
		Expect(icache.packets[1].Addr).To(Equal(uint64(entry + 64)))
	})

	It("should serialize unpipelined dependent divides", func() {
		program := []uint32{
			insts.EncodeMOVZ(1, 3, 0),
			insts.EncodeMOVZ(2, 1000, 0),
		}
		program = append(program, repeat(3, insts.EncodeUDIV(2, 2, 1))...)
		attach(c, icache, dcache, newThread(program...))

		c.Run(0)

		Expect(c.Stats().NumCycles).To(BeNumerically(">=", 60))
		Expect(c.FUPool().Stats().Issued[insts.OpClassIntDiv]).To(Equal(uint64(3)))
	})

	It("should issue vector instructions to the SIMD units", func() {
		attach(c, icache, dcache, newThread(
			insts.EncodeMOVZ(1, 2, 0),
			insts.EncodeDUP(true, 2, 0, 1),
			insts.EncodeVADD(2, 1, 0, 0),
			insts.EncodeVADD(2, 1, 1, 1),
			insts.EncodeUMOV(2, 3, 3, 1),
		))

		exit := c.Run(0)

		Expect(exit.Err).ToNot(HaveOccurred())
		Expect(c.FUPool().Stats().Issued[insts.OpClassSimdMisc]).To(Equal(uint64(2)))
		Expect(c.FUPool().Stats().Issued[insts.OpClassSimdAdd]).To(Equal(uint64(2)))
	})

	It("should forward a store to a younger load", func() {
		program := append(storeProgram(), insts.EncodeLDR64(2, 1, 0))
		attach(c, icache, dcache, newThread(program...))

		exit := c.Run(0)

		Expect(exit.Code).To(Equal(int64(7)))
		Expect(c.O3Stats().ForwardedLoads).To(Equal(uint64(1)))
		Expect(dcache.packets).To(Equal([]mem.Packet{{Cmd: mem.CmdWrite, Addr: 0x8000, Size: 8}}))
		Expect(c.Stats().Loads).To(Equal(uint64(1)))
		Expect(c.Stats().Stores).To(Equal(uint64(1)))
	})

	It("should read from the data cache when nothing forwards", func() {
		program := []uint32{
			insts.EncodeMOVZ(1, 0x8000, 0),
			insts.EncodeLDR64(2, 1, 0),
		}
		dcache.delay = 20_000
		attach(c, icache, dcache, newThread(program...))

		c.Run(0)

		Expect(dcache.packets).To(Equal([]mem.Packet{{Cmd: mem.CmdRead, Addr: 0x8000, Size: 8}}))
		Expect(c.Stats().DCacheStallCycles).To(BeNumerically(">=", 19))
		Expect(c.O3Stats().ForwardedLoads).To(BeZero())
	})

	It("should squash after every mispredicted branch without a predictor", func() {
		attach(c, icache, dcache, newThread(countdown(10)...))

		exit := c.Run(0)

		Expect(exit.Cause).To(Equal(cpu.CauseExited))
		Expect(c.Stats().CommittedInsts).To(Equal(uint64(23)))
		Expect(c.Stats().Branches).To(Equal(uint64(10)))
		Expect(c.Stats().Mispredicts).To(Equal(uint64(9)))
		Expect(c.O3Stats().Squashes).To(Equal(uint64(9)))
		Expect(c.O3Stats().FetchSquashCycles).ToNot(BeZero())
	})

	It("should learn a loop branch with a predictor", func() {
		unit, err := bpred.NewUnitByName("LocalBP", bpred.DefaultParams())
		Expect(err).ToNot(HaveOccurred())
		c = newO3(cpu.WithBranchPredictor(unit))
		attach(c, icache, dcache, newThread(countdown(200)...))

		c.Run(0)

		Expect(c.Stats().Branches).To(Equal(uint64(200)))
		Expect(c.Stats().Mispredicts).To(BeNumerically("<", 10))
		Expect(unit.InFlight()).To(BeZero())
	})

	It("should stop fetching at the instruction limit", func() {
		c = newO3(cpu.WithMaxInsts(3))
		attach(c, icache, dcache, newThread(independentAdds(20)...))

		exit := c.Run(0)

		Expect(exit.Cause).To(Equal(cpu.CauseMaxInsts))
		Expect(c.Stats().CommittedInsts).To(Equal(uint64(3)))
		Expect(c.O3Stats().FetchedInsts).To(Equal(uint64(3)))
	})

	It("should stop at the tick limit and resume", func() {
		icache.delay = 100_000
		attach(c, icache, dcache, newThread(independentAdds(20)...))

		exit := c.Run(5000)
		Expect(exit.Cause).To(Equal(cpu.CauseLimit))
		Expect(exit.Tick).To(Equal(clock.Tick(5000)))

		exit = c.Run(0)
		Expect(exit.Cause).To(Equal(cpu.CauseExited))
		Expect(c.Stats().CommittedInsts).To(Equal(uint64(22)))
	})

	It("should report a store that fails to write as a fault", func() {
		dcache.fail = errPort
		attach(c, icache, dcache, newThread(storeProgram()...))

		exit := c.Run(0)

		Expect(exit.Cause).To(Equal(cpu.CauseFault))
		Expect(exit.Err).To(MatchError(errPort))
		Expect(c.Stats().Stores).To(BeZero())
	})

	It("should stop at a faulting instruction without committing it", func() {
		attach(c, icache, dcache, newThread(insts.EncodeNOP(), 0))

		exit := c.Run(0)

		Expect(exit.Cause).To(Equal(cpu.CauseFault))
		Expect(exit.Err).To(MatchError(emu.ErrUnknownInstruction))
		Expect(c.Stats().CommittedInsts).To(Equal(uint64(1)))
	})

	It("should take posted interrupts", func() {
		c.CreateInterruptController()
		c.Interrupts().Post(1)
		attach(c, icache, dcache, newThread())

		c.Run(0)

		Expect(c.Stats().InterruptsTaken).To(Equal(uint64(1)))
	})

	It("should fill a small ROB", func() {
		config := cpu.DefaultO3Config()
		config.ROBEntries = 4
		o3, err := cpu.NewO3CPU("system.cpu", newDomain(), config)
		Expect(err).ToNot(HaveOccurred())
		program := []uint32{
			insts.EncodeMOVZ(1, 3, 0),
			insts.EncodeUDIV(2, 2, 1),
		}
		program = append(program, independentAdds(8)...)
		attach(o3, icache, dcache, newThread(program...))

		exit := o3.Run(0)

		Expect(exit.Cause).To(Equal(cpu.CauseExited))
		Expect(o3.O3Stats().ROBFullEvents).ToNot(BeZero())
	})
})
