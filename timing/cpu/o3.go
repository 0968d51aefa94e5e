package cpu

import (
	"fmt"

	"github.com/sarchlab/sesim/emu"
	"github.com/sarchlab/sesim/insts"
	"github.com/sarchlab/sesim/mem"
	"github.com/sarchlab/sesim/timing/bpred"
	"github.com/sarchlab/sesim/timing/clock"
	"github.com/sarchlab/sesim/timing/latency"
)

// watchdogCycles bounds how long the core may run without committing.
const watchdogCycles = 1_000_000

// O3Config holds the out-of-order core parameters.
type O3Config struct {
	FetchWidth    int
	DispatchWidth int
	IssueWidth    int
	CommitWidth   int

	// FetchBufferSize is the size in bytes of the block fetched from the
	// instruction cache at once.
	FetchBufferSize uint64
	FetchQueueSize  int

	FetchToDecodeDelay  uint64
	DecodeToRenameDelay uint64
	RenameToIEWDelay    uint64

	ROBEntries int
	IQEntries  int
	LQEntries  int
	SQEntries  int

	FUPool *latency.PoolConfig
}

// DefaultO3Config returns an 8-wide core with a 192-entry ROB.
func DefaultO3Config() O3Config {
	return O3Config{
		FetchWidth:          8,
		DispatchWidth:       8,
		IssueWidth:          8,
		CommitWidth:         8,
		FetchBufferSize:     64,
		FetchQueueSize:      32,
		FetchToDecodeDelay:  1,
		DecodeToRenameDelay: 1,
		RenameToIEWDelay:    2,
		ROBEntries:          192,
		IQEntries:           64,
		LQEntries:           32,
		SQEntries:           32,
		FUPool:              latency.DefaultPoolConfig(),
	}
}

// WithWidth sets every pipeline width to w.
func (c O3Config) WithWidth(w int) O3Config {
	c.FetchWidth = w
	c.DispatchWidth = w
	c.IssueWidth = w
	c.CommitWidth = w
	return c
}

// FrontendDepth returns the cycles between fetch and dispatch.
func (c O3Config) FrontendDepth() uint64 {
	return c.FetchToDecodeDelay + c.DecodeToRenameDelay + c.RenameToIEWDelay
}

// Validate checks that every width and queue is usable.
func (c O3Config) Validate() error {
	for name, v := range map[string]int{
		"fetchWidth":     c.FetchWidth,
		"dispatchWidth":  c.DispatchWidth,
		"issueWidth":     c.IssueWidth,
		"commitWidth":    c.CommitWidth,
		"fetchQueueSize": c.FetchQueueSize,
		"numROBEntries":  c.ROBEntries,
		"numIQEntries":   c.IQEntries,
		"LQEntries":      c.LQEntries,
		"SQEntries":      c.SQEntries,
	} {
		if v <= 0 {
			return fmt.Errorf("O3CPU: %s must be > 0, got %d", name, v)
		}
	}
	b := c.FetchBufferSize
	if b < instSize || b&(b-1) != 0 {
		return fmt.Errorf("O3CPU: fetchBufferSize %d must be a power of two >= %d", b, instSize)
	}
	if c.FUPool == nil {
		return fmt.Errorf("O3CPU: no FU pool")
	}
	return nil
}

// O3Stats holds out-of-order pipeline statistics.
type O3Stats struct {
	FetchedInsts uint64
	// FetchSquashCycles counts cycles fetch waited for a mispredicted branch
	// to resolve.
	FetchSquashCycles uint64
	Squashes          uint64
	IssuedInsts       uint64
	ForwardedLoads    uint64

	ROBFullEvents uint64
	IQFullEvents  uint64
	LQFullEvents  uint64
	SQFullEvents  uint64
	// SerializeStallCycles counts cycles dispatch waited to serialize.
	SerializeStallCycles uint64

	// ROBOccupancy is the sum over cycles of the number of ROB entries.
	ROBOccupancy uint64
}

type dynInst struct {
	seq   uint64
	r     emu.StepResult
	class insts.OpClass
	pkts  []*mem.Packet

	pred         bpred.Prediction
	mispredicted bool
	serializing  bool

	dispatchCycle uint64
	srcs          []*dynInst

	issued    bool
	doneCycle uint64
}

func (d *dynInst) completeBy(cycle uint64) bool {
	return d.issued && d.doneCycle <= cycle
}

func (d *dynInst) isLoad() bool  { return d.class == insts.OpClassMemRead }
func (d *dynInst) isStore() bool { return d.class == insts.OpClassMemWrite }

type drainingStore struct {
	doneCycle uint64
	pkts      []*mem.Packet
}

// O3CPU is an out-of-order core. Instructions flow through fetch, a fixed
// decode and rename delay, dispatch into the ROB and queues, oldest-first
// issue to the FU pool, and in-order commit.
type O3CPU struct {
	BaseCPU

	config O3Config
	pool   *latency.Pool
	cycle  uint64
	seq    uint64

	fetchBlock      uint64
	fetchBlockValid bool
	fetchReadyCycle uint64
	fetchQueue      []*dynInst
	fetchStalledOn  *dynInst
	redirectCycle   uint64
	fetchDone       bool
	fetched         uint64

	rob        []*dynInst
	iq         []*dynInst
	lqCount    int
	stores     []*dynInst
	draining   []drainingStore
	lastWriter [256]*dynInst
	serializer *dynInst

	lastCommitCycle uint64
	exit            *Exit

	o3stats O3Stats
}

// NewO3CPU creates an out-of-order CPU.
func NewO3CPU(name string, domain *clock.SrcClockDomain, config O3Config, opts ...Option) (*O3CPU, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	pool, err := latency.NewPool(config.FUPool)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &O3CPU{
		BaseCPU: newBaseCPU(name, domain, opts...),
		config:  config,
		pool:    pool,
	}, nil
}

// Base returns the shared CPU state.
func (c *O3CPU) Base() *BaseCPU { return &c.BaseCPU }

// MemMode returns timing.
func (c *O3CPU) MemMode() MemMode { return MemModeTiming }

// Config returns the core parameters.
func (c *O3CPU) Config() O3Config { return c.config }

// O3Stats returns the pipeline statistics.
func (c *O3CPU) O3Stats() O3Stats { return c.o3stats }

// FUPool returns the functional-unit pool.
func (c *O3CPU) FUPool() *latency.Pool { return c.pool }

// Run advances the pipeline cycle by cycle.
func (c *O3CPU) Run(limit clock.Tick) Exit {
	for {
		if c.limitReached(limit) {
			return Exit{Tick: c.curTick, Cause: CauseLimit}
		}

		c.serviceInterrupts()

		c.resolve()
		c.commit()
		c.issue()
		c.drainStores()
		c.dispatch()
		c.fetch()

		c.o3stats.ROBOccupancy += uint64(len(c.rob))
		c.cycle++
		c.stats.NumCycles++
		c.curTick = c.clock.CyclesToTicks(c.cycle)

		if c.exit != nil {
			e := *c.exit
			e.Tick = c.curTick
			return e
		}

		if c.cycle-c.lastCommitCycle > watchdogCycles {
			return Exit{
				Tick:  c.curTick,
				Cause: CauseFault,
				Err:   fmt.Errorf("%s: no instruction committed for %d cycles", c.name, watchdogCycles),
			}
		}
	}
}

func (c *O3CPU) tickOf(cycle uint64) clock.Tick {
	return c.clock.CyclesToTicks(cycle)
}

func (c *O3CPU) cycleOf(t clock.Tick) uint64 {
	return c.clock.TicksToCycles(t)
}

func (c *O3CPU) fail(err error) {
	if c.exit == nil {
		c.exit = &Exit{Cause: CauseFault, Err: fmt.Errorf("%s: %w", c.name, err)}
	}
}

// resolve redirects fetch once the mispredicted branch it waits on has
// executed.
func (c *O3CPU) resolve() {
	d := c.fetchStalledOn
	if d == nil || !d.completeBy(c.cycle) {
		return
	}

	if c.BranchPred != nil {
		c.BranchPred.Squash(d.seq, d.r.Taken, d.r.NextPC)
	}
	c.redirectCycle = d.doneCycle + 1
	c.fetchStalledOn = nil
	c.fetchBlockValid = false
	c.o3stats.Squashes++
}

func (c *O3CPU) commit() {
	for n := 0; n < c.config.CommitWidth && len(c.rob) > 0; n++ {
		d := c.rob[0]
		if !d.completeBy(c.cycle) {
			return
		}

		if d.isStore() {
			if !c.writeStore(d) {
				return
			}
		}
		if d.isLoad() {
			c.lqCount--
		}

		c.rob = c.rob[1:]
		for _, reg := range dstRegs(d) {
			if c.lastWriter[reg] == d {
				c.lastWriter[reg] = nil
			}
		}
		if c.BranchPred != nil && d.class == insts.OpClassBranch {
			c.BranchPred.Update(d.seq)
		}
		if c.serializer == d {
			c.serializer = nil
		}

		c.lastCommitCycle = c.cycle
		if exit, done := c.retire(&d.r); done {
			c.exit = &exit
			return
		}
	}
}

// writeStore sends a committed store to the data cache. The store keeps
// its SQ entry until the write completes.
func (c *O3CPU) writeStore(d *dynInst) bool {
	done := c.cycle
	for _, pkt := range d.pkts {
		t, err := c.dcache.Access(pkt, c.tickOf(c.cycle))
		if err != nil {
			c.fail(err)
			return false
		}
		done = max(done, c.cycleOf(t))
	}
	c.stores = c.stores[1:]
	c.draining = append(c.draining, drainingStore{doneCycle: done, pkts: d.pkts})
	return true
}

func (c *O3CPU) drainStores() {
	live := c.draining[:0]
	for _, s := range c.draining {
		if s.doneCycle > c.cycle {
			live = append(live, s)
		}
	}
	c.draining = live
}

func (c *O3CPU) sqCount() int {
	return len(c.stores) + len(c.draining)
}

func (c *O3CPU) issue() {
	issued := 0
	kept := c.iq[:0]
	for _, d := range c.iq {
		if issued >= c.config.IssueWidth || !c.operandsReady(d) {
			kept = append(kept, d)
			continue
		}

		forward, wait := c.storeDependence(d)
		if wait {
			kept = append(kept, d)
			continue
		}

		lat, ok := c.pool.Issue(d.class, c.cycle)
		if !ok {
			kept = append(kept, d)
			continue
		}

		issued++
		c.o3stats.IssuedInsts++
		d.issued = true
		d.doneCycle = c.cycle + lat

		if d.isLoad() && !forward {
			c.loadFromCache(d, lat)
		}
		if forward {
			c.o3stats.ForwardedLoads++
		}
	}
	c.iq = kept
}

func (c *O3CPU) operandsReady(d *dynInst) bool {
	for _, src := range d.srcs {
		if !src.completeBy(c.cycle) {
			return false
		}
	}
	return true
}

// storeDependence checks a load against older uncommitted stores. A load
// fully covered by the youngest overlapping store forwards from it once the
// store has executed. A partial overlap waits for the store to commit.
func (c *O3CPU) storeDependence(d *dynInst) (forward, wait bool) {
	if !d.isLoad() || len(d.pkts) == 0 {
		return false, false
	}

	for i := len(c.stores) - 1; i >= 0; i-- {
		s := c.stores[i]
		if s.seq > d.seq {
			continue
		}
		covered, overlap := coverage(s.pkts, d.pkts)
		if !overlap {
			continue
		}
		if !covered {
			return false, true
		}
		if !s.completeBy(c.cycle) {
			return false, true
		}
		return true, false
	}

	// Committed stores still writing are older than every load in flight.
	for i := len(c.draining) - 1; i >= 0; i-- {
		covered, overlap := coverage(c.draining[i].pkts, d.pkts)
		if overlap {
			return covered, false
		}
	}
	return false, false
}

// coverage reports whether the stores fully cover every load packet, and
// whether they overlap any of them.
func coverage(stores, loads []*mem.Packet) (covered, overlap bool) {
	covered = true
	for _, l := range loads {
		lEnd := l.Addr + l.Size
		inside := false
		for _, s := range stores {
			sEnd := s.Addr + s.Size
			if s.Addr < lEnd && l.Addr < sEnd {
				overlap = true
				if s.Addr <= l.Addr && lEnd <= sEnd {
					inside = true
				}
			}
		}
		if !inside {
			covered = false
		}
	}
	return covered, overlap
}

func (c *O3CPU) loadFromCache(d *dynInst, lat uint64) {
	at := c.tickOf(c.cycle + lat)
	for _, pkt := range d.pkts {
		t, err := c.dcache.Access(pkt, at)
		if err != nil {
			c.fail(err)
			return
		}
		done := c.cycleOf(t)
		if done > d.doneCycle {
			c.stats.DCacheStallCycles += done - d.doneCycle
			d.doneCycle = done
		}
	}
}

func (c *O3CPU) dispatch() {
	for n := 0; n < c.config.DispatchWidth && len(c.fetchQueue) > 0; n++ {
		d := c.fetchQueue[0]
		if d.dispatchCycle > c.cycle {
			return
		}
		if c.serializer != nil || (d.serializing && len(c.rob) > 0) {
			c.o3stats.SerializeStallCycles++
			return
		}

		switch {
		case len(c.rob) >= c.config.ROBEntries:
			c.o3stats.ROBFullEvents++
			return
		case len(c.iq) >= c.config.IQEntries:
			c.o3stats.IQFullEvents++
			return
		case d.isLoad() && c.lqCount >= c.config.LQEntries:
			c.o3stats.LQFullEvents++
			return
		case d.isStore() && c.sqCount() >= c.config.SQEntries:
			c.o3stats.SQFullEvents++
			return
		}

		c.rename(d)

		c.rob = append(c.rob, d)
		c.iq = append(c.iq, d)
		if d.isLoad() {
			c.lqCount++
		}
		if d.isStore() {
			c.stores = append(c.stores, d)
		}
		if d.serializing {
			c.serializer = d
		}
		c.fetchQueue = c.fetchQueue[1:]
	}
}

func (c *O3CPU) rename(d *dynInst) {
	if d.r.Inst == nil {
		return
	}
	for _, reg := range d.r.Inst.SrcRegs() {
		if w := c.lastWriter[reg]; w != nil {
			d.srcs = append(d.srcs, w)
		}
	}
	for _, reg := range dstRegs(d) {
		c.lastWriter[reg] = d
	}
}

func dstRegs(d *dynInst) []uint8 {
	if d.r.Inst == nil {
		return nil
	}
	return d.r.Inst.DstRegs()
}

func (c *O3CPU) fetch() {
	switch {
	case c.fetchDone:
		return
	case c.fetchStalledOn != nil:
		c.o3stats.FetchSquashCycles++
		return
	case c.cycle < c.redirectCycle:
		return
	}

	for n := 0; n < c.config.FetchWidth && len(c.fetchQueue) < c.config.FetchQueueSize; n++ {
		if !c.fetchBlockReady() {
			return
		}

		d := c.fetchOne()
		c.fetchQueue = append(c.fetchQueue, d)

		switch {
		case d.r.Err != nil || d.r.Exited:
			c.fetchDone = true
			return
		case c.MaxInstsAnyThread != 0 && c.fetched >= c.MaxInstsAnyThread:
			c.fetchDone = true
			return
		case d.mispredicted:
			c.fetchStalledOn = d
			c.stats.Mispredicts++
			return
		case d.r.Taken:
			return
		}
	}
}

// fetchBlockReady makes sure the fetch buffer holds the block of the next
// PC, requesting it from the instruction cache if needed.
func (c *O3CPU) fetchBlockReady() bool {
	pc := c.thread.PC()
	block := pc &^ (c.config.FetchBufferSize - 1)

	if !c.fetchBlockValid || block != c.fetchBlock {
		c.fetchBlock = block
		c.fetchBlockValid = true
		c.fetchReadyCycle = c.cycle

		if pkt := c.fetchPacket(pc, c.config.FetchBufferSize); pkt != nil {
			t, err := c.icache.Access(pkt, c.tickOf(c.cycle))
			if err != nil {
				c.fail(err)
				c.fetchDone = true
				return false
			}
			c.fetchReadyCycle = c.cycleOf(t)
		}
	}

	if c.fetchReadyCycle > c.cycle {
		c.stats.ICacheStallCycles++
		return false
	}
	return true
}

func (c *O3CPU) fetchOne() *dynInst {
	r := c.thread.Step()
	c.seq++
	c.fetched++
	c.o3stats.FetchedInsts++

	d := &dynInst{
		seq:           c.seq,
		r:             r,
		class:         insts.OpClassNop,
		dispatchCycle: c.cycle + c.config.FrontendDepth(),
		serializing:   r.Err != nil || r.Exited,
	}
	if r.Inst == nil {
		return d
	}

	d.class = r.Inst.OpClass()
	d.serializing = d.serializing || r.Inst.IsSerializing()
	d.pkts = c.dataPackets(r.Accesses)

	if r.Inst.IsBranch() {
		d.pred = bpred.Prediction{Target: r.PC + instSize}
		if c.BranchPred != nil {
			d.pred = c.BranchPred.Predict(d.seq, r.PC, r.Inst)
		}
		d.mispredicted = mispredicted(d.pred, &r)
	}
	return d
}
