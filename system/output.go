package system

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/sarchlab/sesim/config"
	"github.com/sarchlab/sesim/insts"
	"github.com/sarchlab/sesim/stats"
	"github.com/sarchlab/sesim/timing/cache"
	"github.com/sarchlab/sesim/timing/clock"
	"github.com/sarchlab/sesim/timing/cpu"
	"github.com/sarchlab/sesim/timing/xbar"
)

// statsTable registers scalars and formulas, remembering the first error.
type statsTable struct {
	g   *stats.Group
	err error
}

func (t *statsTable) scalar(name, desc string, unit stats.Unit, v float64) {
	if t.err != nil {
		return
	}
	s, err := t.g.NewScalar(name, desc, unit)
	if err != nil {
		t.err = err
		return
	}
	s.Set(v)
}

func (t *statsTable) count(name, desc string, v uint64) {
	t.scalar(name, desc, stats.UnitCount, float64(v))
}

func (t *statsTable) formula(name, desc string, unit stats.Unit, fn func() float64) {
	if t.err != nil {
		return
	}
	if _, err := t.g.NewFormula(name, desc, unit, fn); err != nil {
		t.err = err
	}
}

// Stats snapshots the statistics of every component into a group tree.
func (r *Root) Stats() (*stats.Group, error) {
	s := r.System
	root := stats.NewGroup("")
	base := s.CPU.Base()
	cs := base.Stats()
	simTicks := base.CurTick()

	top := &statsTable{g: root}
	top.scalar("simSeconds", "Number of seconds simulated", stats.UnitSecond, simTicks.Seconds())
	top.scalar("simTicks", "Number of ticks simulated", stats.UnitTick, float64(simTicks))
	top.scalar("finalTick", "Number of ticks from beginning of simulation", stats.UnitTick, float64(simTicks))
	top.scalar("simFreq", "The number of ticks per simulated second", stats.UnitHertz, clock.TicksPerSecond)
	top.scalar("hostSeconds", "Real time elapsed on the host", stats.UnitSecond, r.hostTime.Seconds())
	top.count("simInsts", "Number of instructions simulated", cs.CommittedInsts)
	top.formula("hostInstRate", "Simulator instruction rate (inst/s)", stats.UnitRatio, func() float64 {
		return float64(cs.CommittedInsts) / r.hostTime.Seconds()
	})

	sys := root.Group("system")
	tables := []*statsTable{top}

	cpuGroup := sys.Group("cpu")
	tables = append(tables, cpuStats(cpuGroup, s.CPU), branchStats(cpuGroup, s))
	tables = append(tables,
		cacheStats(cpuGroup.Group("icache"), s.ICache),
		cacheStats(cpuGroup.Group("dcache"), s.DCache),
		cacheStats(sys.Group("l2cache"), s.L2Cache),
		xbarStats(sys.Group("l2bus"), s.L2Bus),
		xbarStats(sys.Group("membus"), s.MemBus),
		r.memCtrlStats(sys.Group("mem_ctrl")),
	)

	for _, t := range tables {
		if t.err != nil {
			return nil, t.err
		}
	}
	return root, nil
}

func cpuStats(g *stats.Group, c cpu.CPU) *statsTable {
	cs := c.Base().Stats()
	t := &statsTable{g: g}
	t.scalar("numCycles", "Number of cpu cycles simulated", stats.UnitCycle, float64(cs.NumCycles))
	t.count("committedInsts", "Number of instructions committed", cs.CommittedInsts)
	t.formula("cpi", "CPI: cycles per instruction", stats.UnitRatio, cs.CPI)
	t.formula("ipc", "IPC: instructions per cycle", stats.UnitRatio, cs.IPC)
	t.count("numLoadInsts", "Number of load instructions", cs.Loads)
	t.count("numStoreInsts", "Number of store instructions", cs.Stores)
	t.count("numBranches", "Number of branches committed", cs.Branches)
	t.count("branchMispredicts", "Number of branch mispredicts", cs.Mispredicts)
	t.scalar("icacheStallCycles", "Cycles waiting for the instruction cache", stats.UnitCycle,
		float64(cs.ICacheStallCycles))
	t.scalar("dcacheStallCycles", "Cycles waiting for the data cache", stats.UnitCycle,
		float64(cs.DCacheStallCycles))
	t.count("interruptsTaken", "Number of interrupts taken", cs.InterruptsTaken)
	t.count("untimedAccesses", "Accesses without a translation at fetch", cs.UntimedAccesses)

	o3, ok := c.(*cpu.O3CPU)
	if !ok {
		return t
	}
	o3s := o3.O3Stats()
	t.count("fetchedInsts", "Number of instructions fetched", o3s.FetchedInsts)
	t.scalar("fetchSquashCycles", "Cycles fetch waited for a mispredicted branch", stats.UnitCycle,
		float64(o3s.FetchSquashCycles))
	t.count("squashes", "Number of mispredict squashes", o3s.Squashes)
	t.count("issuedInsts", "Number of instructions issued", o3s.IssuedInsts)
	t.count("forwLoads", "Number of loads forwarded from the store queue", o3s.ForwardedLoads)
	t.count("robFullEvents", "Times dispatch found the ROB full", o3s.ROBFullEvents)
	t.count("iqFullEvents", "Times dispatch found the IQ full", o3s.IQFullEvents)
	t.count("lqFullEvents", "Times dispatch found the LQ full", o3s.LQFullEvents)
	t.count("sqFullEvents", "Times dispatch found the SQ full", o3s.SQFullEvents)
	t.scalar("serializeStallCycles", "Cycles dispatch waited to serialize", stats.UnitCycle,
		float64(o3s.SerializeStallCycles))
	t.formula("robAvgOccupancy", "Average ROB occupancy", stats.UnitRatio, func() float64 {
		return float64(o3s.ROBOccupancy) / float64(cs.NumCycles)
	})

	pool := o3.FUPool().Stats()
	for _, class := range insts.OpClasses() {
		if n := pool.Busy[class]; n != 0 {
			t.count("fuBusy::"+class.String(), "Issue attempts that found every unit busy", n)
		}
	}
	return t
}

func branchStats(g *stats.Group, s *System) *statsTable {
	t := &statsTable{g: g.Group("branchPred")}
	if s.BranchPred == nil {
		return t
	}
	bs := s.BranchPred.Stats()
	t.count("lookups", "Number of BP lookups", bs.Lookups)
	t.count("condPredicted", "Number of conditional branches predicted", bs.CondPredicted)
	t.count("condIncorrect", "Number of conditional branches incorrect", bs.CondIncorrect)
	t.count("BTBLookups", "Number of BTB lookups", bs.BTBLookups)
	t.count("BTBHits", "Number of BTB hits", bs.BTBHits)
	t.formula("BTBHitRatio", "BTB Hit Ratio", stats.UnitRatio, func() float64 { return bs.BTBHitRate() / 100 })
	t.count("RASUsed", "Number of times the RAS was used to get a target", bs.RASUsed)
	t.count("RASIncorrect", "Number of incorrect RAS predictions", bs.RASIncorrect)
	t.count("indirectMispredicted", "Number of mispredicted indirect branches", bs.IndirectMispredicted)
	return t
}

func cacheStats(g *stats.Group, c *cache.Cache) *statsTable {
	cs := c.Stats()
	t := &statsTable{g: g}
	t.count("demandAccesses", "number of demand accesses", cs.Accesses())
	t.count("demandHits", "number of demand hits", cs.Hits)
	t.count("demandMisses", "number of demand misses", cs.Misses)
	t.count("demandMshrHits", "number of demand MSHR hits", cs.MSHRHits)
	t.formula("demandMissRate", "miss rate for demand accesses", stats.UnitRatio, cs.MissRate)
	t.scalar("demandAvgMissLatency", "average demand miss latency", stats.UnitTick, cs.AvgMissLatency())
	t.count("readReqs", "number of read requests", cs.Reads)
	t.count("writeReqs", "number of write requests", cs.Writes)
	t.count("replacements", "number of replacements", cs.Evictions)
	t.count("writebacks", "number of writebacks", cs.Writebacks)
	t.scalar("blockedCycles", "cycles waiting for a free MSHR", stats.UnitCycle, float64(cs.BlockedCycles))
	return t
}

func xbarStats(g *stats.Group, x *xbar.XBar) *statsTable {
	xs := x.Stats()
	t := &statsTable{g: g}
	t.count("pktCount", "Packet count", xs.Packets)
	t.scalar("pktSize", "Cumulative packet size", stats.UnitByte, float64(xs.Bytes))
	t.count("writebacks", "Writeback packets", xs.Writebacks)
	t.scalar("layerWaitCycles", "Cycles packets waited for a busy layer", stats.UnitCycle,
		float64(xs.LayerWaitCycles))
	return t
}

func (r *Root) memCtrlStats(g *stats.Group) *statsTable {
	ms := r.System.MemCtrl.Stats()
	t := &statsTable{g: g}
	t.count("readReqs", "Number of read requests accepted", ms.ReadReqs)
	t.count("writeReqs", "Number of write requests accepted", ms.WriteReqs)
	t.count("readBursts", "Number of controller read bursts", ms.ReadBursts)
	t.count("writeBursts", "Number of controller write bursts", ms.WriteBursts)
	t.count("readRowHits", "Number of row buffer hits during reads", ms.ReadRowHits)
	t.count("writeRowHits", "Number of row buffer hits during writes", ms.WriteRowHits)
	t.formula("readRowHitRate", "Row buffer hit rate for reads", stats.UnitRatio, ms.ReadRowHitRate)
	t.formula("writeRowHitRate", "Row buffer hit rate for writes", stats.UnitRatio, ms.WriteRowHitRate)
	t.count("activations", "Number of row activations", ms.Activations)
	t.count("precharges", "Number of precharges", ms.Precharges)
	t.count("refreshes", "Number of refreshes", ms.Refreshes)
	t.scalar("bytesRead", "Total bytes read", stats.UnitByte, float64(ms.BytesRead))
	t.scalar("bytesWritten", "Total bytes written", stats.UnitByte, float64(ms.BytesWritten))
	t.scalar("avgReadLatency", "Average read latency", stats.UnitTick, ms.AvgReadLatency())
	if r.phys != nil {
		t.scalar("physMemSize", "Size of the backing physical memory", stats.UnitByte,
			float64(r.phys.Range().Size()))
	}
	return t
}

// componentDump describes one component in config.yaml.
type componentDump struct {
	Name   string   `yaml:"name"`
	Type   string   `yaml:"type"`
	Ports  []string `yaml:"ports,omitempty"`
	Params any      `yaml:"params,omitempty"`
}

type configDump struct {
	FullSystem bool            `yaml:"full_system"`
	MemMode    string          `yaml:"mem_mode"`
	MemRanges  []string        `yaml:"mem_ranges"`
	Options    *config.Options `yaml:"options"`
	Components []componentDump `yaml:"components"`
}

func (r *Root) configDump() configDump {
	s := r.System
	d := configDump{
		FullSystem: r.FullSystem,
		MemMode:    string(s.MemMode),
		Options:    s.Options,
	}
	for _, m := range s.MemRanges {
		d.MemRanges = append(d.MemRanges, m.String())
	}

	cpuParams := map[string]any{"clock": s.Options.SysClock, "max_insts": s.Options.MaxInsts}
	if s.BranchPred != nil {
		cpuParams["branchPred"] = s.BranchPred.Name()
	}
	if o3, ok := s.CPU.(*cpu.O3CPU); ok {
		c := o3.Config()
		cpuParams["fetchBufferSize"] = c.FetchBufferSize
		cpuParams["width"] = c.FetchWidth
		cpuParams["numROBEntries"] = c.ROBEntries
		cpuParams["numIQEntries"] = c.IQEntries
		cpuParams["LQEntries"] = c.LQEntries
		cpuParams["SQEntries"] = c.SQEntries

		table := o3.FUPool().Table()
		fuPool := map[string]int{}
		for _, fu := range table.Config().FUs {
			fuPool[fu.Name] += fu.Count
		}
		opLat := map[string]uint64{}
		for _, class := range insts.OpClasses() {
			if table.NeedsUnit(class) {
				opLat[class.String()] = table.ClassLatency(class)
			}
		}
		cpuParams["fuPool"] = fuPool
		cpuParams["opLat"] = opLat
	}

	d.Components = append(d.Components, componentDump{
		Name:   s.CPU.Base().Name(),
		Type:   string(s.CPUClass.Class),
		Params: cpuParams,
	})
	for _, c := range []*cache.Cache{s.ICache, s.DCache, s.L2Cache} {
		cc := c.Config()
		d.Components = append(d.Components, componentDump{
			Name: c.Name(),
			Type: cc.Kind.String(),
			Params: map[string]any{
				"size":             cc.Size,
				"assoc":            cc.Assoc,
				"line_size":        cc.BlockSize,
				"tag_latency":      cc.TagLatency,
				"data_latency":     cc.DataLatency,
				"response_latency": cc.ResponseLatency,
				"mshrs":            cc.MSHRs,
				"tgts_per_mshr":    cc.TgtsPerMSHR,
			},
		})
	}
	for _, x := range []struct {
		bus  *xbar.XBar
		kind string
	}{{s.L2Bus, "L2XBar"}, {s.MemBus, "SystemXBar"}} {
		d.Components = append(d.Components, componentDump{
			Name:   x.bus.Name(),
			Type:   x.kind,
			Ports:  x.bus.Requestors(),
			Params: x.bus.Config(),
		})
	}

	mc := s.MemCtrl.Config()
	d.Components = append(d.Components, componentDump{
		Name: s.MemCtrl.Name(),
		Type: "MemCtrl",
		Params: map[string]any{
			"dram":        mc.Interface.Name,
			"page_policy": string(mc.PagePolicy),
			"range":       s.MemRanges[0].String(),
		},
	})
	return d
}

// WriteOutputs writes stats.txt and config.yaml into dir.
func (r *Root) WriteOutputs(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	g, err := r.Stats()
	if err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(dir, "stats.txt"))
	if err != nil {
		return fmt.Errorf("failed to create stats.txt: %w", err)
	}
	if err := g.Dump(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write stats.txt: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	data, err := yaml.Marshal(r.configDump())
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0644); err != nil {
		return fmt.Errorf("failed to write config.yaml: %w", err)
	}
	return nil
}
