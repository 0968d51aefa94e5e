package cpu

import (
	"fmt"

	"github.com/sarchlab/sesim/timing/clock"
)

// TimingSimpleCPU executes one instruction at a time and waits for every
// fetch and data access to complete before starting the next instruction.
type TimingSimpleCPU struct {
	BaseCPU

	seq uint64
}

// NewTimingSimpleCPU creates a timing CPU in the given clock domain.
func NewTimingSimpleCPU(name string, domain *clock.SrcClockDomain, opts ...Option) *TimingSimpleCPU {
	return &TimingSimpleCPU{BaseCPU: newBaseCPU(name, domain, opts...)}
}

// Base returns the shared CPU state.
func (c *TimingSimpleCPU) Base() *BaseCPU { return &c.BaseCPU }

// MemMode returns timing.
func (c *TimingSimpleCPU) MemMode() MemMode { return MemModeTiming }

// Run executes instructions, blocking on memory.
func (c *TimingSimpleCPU) Run(limit clock.Tick) Exit {
	start := c.curTick
	defer func() {
		c.stats.NumCycles += c.clock.TicksToCycles(c.curTick - start)
	}()

	for {
		if c.limitReached(limit) {
			return Exit{Tick: c.curTick, Cause: CauseLimit}
		}

		c.serviceInterrupts()

		issue := c.curTick
		t := issue
		if fetch := c.fetchPacket(c.thread.PC(), instSize); fetch != nil {
			done, err := c.icache.Access(fetch, issue)
			if err != nil {
				return c.fault(err)
			}
			t = done
		}
		c.stats.ICacheStallCycles += c.clock.TicksToCycles(t - issue)

		r := c.thread.Step()

		dataStart := t
		for _, pkt := range c.dataPackets(r.Accesses) {
			done, err := c.dcache.Access(pkt, dataStart)
			if err != nil {
				return c.fault(err)
			}
			t = max(t, done)
		}
		c.stats.DCacheStallCycles += c.clock.TicksToCycles(t - dataStart)

		c.seq++
		c.predictSimple(c.seq, &r)

		c.curTick = c.clock.ClockEdge(t, 1)
		if exit, done := c.retire(&r); done {
			return exit
		}
	}
}

func (c *TimingSimpleCPU) fault(err error) Exit {
	return Exit{Tick: c.curTick, Cause: CauseFault, Err: fmt.Errorf("%s: %w", c.name, err)}
}
