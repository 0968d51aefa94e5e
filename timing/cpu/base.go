// Package cpu provides the CPU models: an atomic CPU that runs one
// instruction per cycle, a timing CPU that blocks on every memory access, and
// an out-of-order core.
//
// All models execute instructions functionally as they are fetched. The
// timing side then replays the fetch and data accesses of each instruction
// through the cache hierarchy.
package cpu

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/sesim/emu"
	"github.com/sarchlab/sesim/mem"
	"github.com/sarchlab/sesim/timing/bpred"
	"github.com/sarchlab/sesim/timing/clock"
	"github.com/sarchlab/sesim/workload"
)

// ErrNotConnected is returned by CheckConnected for a CPU with a missing
// port or thread.
var ErrNotConnected = errors.New("cpu port not connected")

// Exit causes.
const (
	CauseExited   = "exiting with last active thread context"
	CauseMaxInsts = "a thread reached the max instruction count"
	CauseLimit    = "simulate() limit reached"
	CauseFault    = "fault in simulated program"
)

// Exit describes why a CPU stopped.
type Exit struct {
	Tick  clock.Tick
	Cause string
	// Code is the program exit status for CauseExited.
	Code int64
	// Err is set for CauseFault.
	Err error
}

// ThreadContext is the architectural thread a CPU executes.
type ThreadContext interface {
	// PC returns the address of the next instruction.
	PC() uint64
	// Step executes the next instruction.
	Step() emu.StepResult
	// Translate maps a virtual address without allocating.
	Translate(vaddr uint64) (uint64, error)
}

// CPU is implemented by every CPU model.
type CPU interface {
	Base() *BaseCPU
	MemMode() MemMode
	// Run simulates until the thread exits, faults, reaches the instruction
	// limit, or the current tick reaches limit. A zero limit never stops.
	Run(limit clock.Tick) Exit
}

// Stats holds statistics common to every CPU model.
type Stats struct {
	NumCycles      uint64
	CommittedInsts uint64
	Loads          uint64
	Stores         uint64
	Branches       uint64
	// Mispredicts counts branches whose direction or target was wrong.
	Mispredicts uint64

	ICacheStallCycles uint64
	DCacheStallCycles uint64
	InterruptsTaken   uint64
	// UntimedAccesses counts accesses that could not be translated and were
	// not sent to a cache.
	UntimedAccesses uint64
}

// CPI returns cycles per committed instruction.
func (s Stats) CPI() float64 {
	if s.CommittedInsts == 0 {
		return 0
	}
	return float64(s.NumCycles) / float64(s.CommittedInsts)
}

// IPC returns committed instructions per cycle.
func (s Stats) IPC() float64 {
	if s.NumCycles == 0 {
		return 0
	}
	return float64(s.CommittedInsts) / float64(s.NumCycles)
}

// Option configures a BaseCPU.
type Option func(*BaseCPU)

// WithBranchPredictor sets the branch prediction unit.
func WithBranchPredictor(u *bpred.Unit) Option {
	return func(c *BaseCPU) {
		c.BranchPred = u
	}
}

// WithMaxInsts stops the CPU after n committed instructions.
func WithMaxInsts(n uint64) Option {
	return func(c *BaseCPU) {
		c.MaxInstsAnyThread = n
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *BaseCPU) {
		c.log = l
	}
}

// BaseCPU holds what every CPU model shares: ports, the thread, the branch
// predictor and the committed-instruction accounting.
type BaseCPU struct {
	name  string
	clock *clock.SrcClockDomain
	log   logrus.FieldLogger

	// Workload is the process the CPU runs.
	Workload *workload.Process
	// MaxInstsAnyThread stops simulation after this many committed
	// instructions. Zero means no limit.
	MaxInstsAnyThread uint64
	// BranchPred is optional for the simple CPUs.
	BranchPred *bpred.Unit

	numThreads int
	thread     ThreadContext
	interrupts *Interrupts

	icache mem.Responder
	dcache mem.Responder

	curTick clock.Tick
	stats   Stats
}

func newBaseCPU(name string, domain *clock.SrcClockDomain, opts ...Option) BaseCPU {
	b := BaseCPU{
		name:  name,
		clock: domain,
		log:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// Name returns the instance name.
func (c *BaseCPU) Name() string { return c.name }

// ClockDomain returns the clock the CPU runs on.
func (c *BaseCPU) ClockDomain() *clock.SrcClockDomain { return c.clock }

// ConnectICache attaches the instruction port.
func (c *BaseCPU) ConnectICache(r mem.Responder) { c.icache = r }

// ConnectDCache attaches the data port.
func (c *BaseCPU) ConnectDCache(r mem.Responder) { c.dcache = r }

// CreateThreads creates one hardware thread for the workload.
func (c *BaseCPU) CreateThreads() error {
	if c.Workload == nil {
		return fmt.Errorf("%s: no workload to create threads for", c.name)
	}
	c.numThreads = 1
	return nil
}

// NumThreads returns the number of created hardware threads.
func (c *BaseCPU) NumThreads() int { return c.numThreads }

// CreateInterruptController attaches an interrupt controller.
func (c *BaseCPU) CreateInterruptController() {
	c.interrupts = NewInterrupts()
}

// Interrupts returns the interrupt controller, or nil.
func (c *BaseCPU) Interrupts() *Interrupts { return c.interrupts }

// AttachThread binds the loaded thread context to the created thread.
func (c *BaseCPU) AttachThread(tc ThreadContext) error {
	if c.numThreads == 0 {
		return fmt.Errorf("%s: CreateThreads was not called", c.name)
	}
	c.thread = tc
	return nil
}

// CheckConnected verifies that both cache ports and the thread are bound.
func (c *BaseCPU) CheckConnected() error {
	switch {
	case c.icache == nil:
		return fmt.Errorf("%s: %w (icache_port)", c.name, ErrNotConnected)
	case c.dcache == nil:
		return fmt.Errorf("%s: %w (dcache_port)", c.name, ErrNotConnected)
	case c.thread == nil:
		return fmt.Errorf("%s: %w (thread context)", c.name, ErrNotConnected)
	}
	return nil
}

// CurTick returns the current simulated tick of the CPU.
func (c *BaseCPU) CurTick() clock.Tick { return c.curTick }

// Stats returns the common statistics.
func (c *BaseCPU) Stats() Stats { return c.stats }

func (c *BaseCPU) limitReached(limit clock.Tick) bool {
	return limit != 0 && c.curTick >= limit
}

func (c *BaseCPU) maxInstsReached() bool {
	return c.MaxInstsAnyThread != 0 && c.stats.CommittedInsts >= c.MaxInstsAnyThread
}

// serviceInterrupts takes any pending interrupt at an instruction boundary.
// SE mode has no handlers, so a taken interrupt is only counted.
func (c *BaseCPU) serviceInterrupts() {
	if c.interrupts == nil || !c.interrupts.Pending() {
		return
	}
	for _, id := range c.interrupts.Take() {
		c.stats.InterruptsTaken++
		c.log.WithField("cpu", c.name).Debugf("interrupt %d taken", id)
	}
}

// fetchPacket builds the instruction fetch for pc, or nil if pc has no
// translation yet.
func (c *BaseCPU) fetchPacket(pc, size uint64) *mem.Packet {
	paddr, err := c.thread.Translate(pc)
	if err != nil {
		c.stats.UntimedAccesses++
		return nil
	}
	return &mem.Packet{Cmd: mem.CmdFetch, Addr: paddr &^ (size - 1), Size: size}
}

// dataPackets translates the data accesses of one instruction.
func (c *BaseCPU) dataPackets(accesses []emu.MemAccess) []*mem.Packet {
	pkts := make([]*mem.Packet, 0, len(accesses))
	for _, a := range accesses {
		paddr, err := c.thread.Translate(a.Addr)
		if err != nil {
			c.stats.UntimedAccesses++
			continue
		}
		cmd := mem.CmdRead
		if a.Write {
			cmd = mem.CmdWrite
		}
		pkts = append(pkts, &mem.Packet{Cmd: cmd, Addr: paddr, Size: a.Size})
	}
	return pkts
}

// countCommit updates the per-instruction statistics.
func (c *BaseCPU) countCommit(r *emu.StepResult) {
	c.stats.CommittedInsts++
	if r.Inst == nil {
		return
	}
	switch {
	case r.Inst.IsLoad():
		c.stats.Loads++
	case r.Inst.IsStore():
		c.stats.Stores++
	case r.Inst.IsBranch():
		c.stats.Branches++
	}
}

// retire commits r and returns the exit it causes, if any. A faulting
// instruction stops the CPU without being committed.
func (c *BaseCPU) retire(r *emu.StepResult) (Exit, bool) {
	if r.Err != nil {
		return Exit{Tick: c.curTick, Cause: CauseFault, Code: r.ExitCode, Err: r.Err}, true
	}
	c.countCommit(r)

	switch {
	case r.Exited:
		return Exit{Tick: c.curTick, Cause: CauseExited, Code: r.ExitCode}, true
	case c.maxInstsReached():
		return Exit{Tick: c.curTick, Cause: CauseMaxInsts}, true
	}
	return Exit{}, false
}

// predictSimple runs the predictor for a simple CPU, where the branch
// resolves before the next fetch.
func (c *BaseCPU) predictSimple(seq uint64, r *emu.StepResult) {
	if c.BranchPred == nil || r.Inst == nil || !r.Inst.IsBranch() {
		return
	}
	pred := c.BranchPred.Predict(seq, r.PC, r.Inst)
	if !c.BranchPred.Resolve(seq, pred, r.Taken, r.NextPC) {
		c.stats.Mispredicts++
	}
}

func mispredicted(pred bpred.Prediction, r *emu.StepResult) bool {
	return pred.Taken != r.Taken || (r.Taken && pred.Target != r.NextPC)
}
