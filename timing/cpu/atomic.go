package cpu

import (
	"fmt"

	"github.com/sarchlab/sesim/mem"
	"github.com/sarchlab/sesim/timing/clock"
)

const instSize = 4

// AtomicSimpleCPU executes one instruction per cycle. Memory accesses update
// cache state but their latency is not charged.
type AtomicSimpleCPU struct {
	BaseCPU

	seq uint64
}

// NewAtomicSimpleCPU creates an atomic CPU in the given clock domain.
func NewAtomicSimpleCPU(name string, domain *clock.SrcClockDomain, opts ...Option) *AtomicSimpleCPU {
	return &AtomicSimpleCPU{BaseCPU: newBaseCPU(name, domain, opts...)}
}

// Base returns the shared CPU state.
func (c *AtomicSimpleCPU) Base() *BaseCPU { return &c.BaseCPU }

// MemMode returns atomic.
func (c *AtomicSimpleCPU) MemMode() MemMode { return MemModeAtomic }

// Run executes instructions back to back.
func (c *AtomicSimpleCPU) Run(limit clock.Tick) Exit {
	for {
		if c.limitReached(limit) {
			return Exit{Tick: c.curTick, Cause: CauseLimit}
		}

		c.serviceInterrupts()

		fetch := c.fetchPacket(c.thread.PC(), instSize)
		r := c.thread.Step()

		var pkts []*mem.Packet
		if fetch != nil {
			pkts = append(pkts, fetch)
		}
		pkts = append(pkts, c.dataPackets(r.Accesses)...)

		for _, pkt := range pkts {
			port := c.dcache
			if pkt.Cmd == mem.CmdFetch {
				port = c.icache
			}
			if _, err := port.Access(pkt, c.curTick); err != nil {
				return Exit{Tick: c.curTick, Cause: CauseFault, Err: fmt.Errorf("%s: %w", c.name, err)}
			}
		}

		c.seq++
		c.predictSimple(c.seq, &r)

		c.curTick += c.clock.Period()
		c.stats.NumCycles++
		if exit, done := c.retire(&r); done {
			return exit
		}
	}
}
