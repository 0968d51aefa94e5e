package dram

import (
	"fmt"

	"github.com/sarchlab/sesim/mem"
	"github.com/sarchlab/sesim/timing/clock"
)

// PagePolicy decides when a bank closes its open row.
type PagePolicy string

// Page policies.
const (
	// PageOpen leaves rows open until a conflict forces a precharge.
	PageOpen PagePolicy = "open"
	// PageOpenAdaptive leaves rows open after hits and cold activations, and
	// closes a row that was opened by a conflict.
	PageOpenAdaptive PagePolicy = "open_adaptive"
	// PageClose precharges after every access.
	PageClose PagePolicy = "close"
)

// ParsePagePolicy converts a policy name.
func ParsePagePolicy(s string) (PagePolicy, error) {
	switch p := PagePolicy(s); p {
	case PageOpen, PageOpenAdaptive, PageClose:
		return p, nil
	default:
		return "", fmt.Errorf("unknown page policy %q (valid: open, open_adaptive, close)", s)
	}
}

// Config holds memory controller parameters.
type Config struct {
	Interface       Interface
	PagePolicy      PagePolicy
	FrontendLatency clock.Tick
	BackendLatency  clock.Tick
}

// DefaultConfig returns a controller for the given interface with the
// open_adaptive policy and 10ns frontend and backend latencies.
func DefaultConfig(iface Interface) Config {
	return Config{
		Interface:       iface,
		PagePolicy:      PageOpenAdaptive,
		FrontendLatency: clock.FromNanoseconds(10),
		BackendLatency:  clock.FromNanoseconds(10),
	}
}

// Statistics holds controller counters.
type Statistics struct {
	ReadReqs     uint64
	WriteReqs    uint64
	ReadBursts   uint64
	WriteBursts  uint64
	ReadRowHits  uint64
	WriteRowHits uint64
	Activations  uint64
	Precharges   uint64
	Refreshes    uint64
	BytesRead    uint64
	BytesWritten uint64

	// TotalReadLatency is the sum of read latencies in ticks, measured from
	// arrival at the controller to the response leaving it.
	TotalReadLatency clock.Tick
}

// AvgReadLatency returns the average read latency in ticks.
func (s Statistics) AvgReadLatency() float64 {
	if s.ReadReqs == 0 {
		return 0
	}
	return float64(s.TotalReadLatency) / float64(s.ReadReqs)
}

// ReadRowHitRate returns the fraction of read bursts that hit an open row.
func (s Statistics) ReadRowHitRate() float64 {
	if s.ReadBursts == 0 {
		return 0
	}
	return float64(s.ReadRowHits) / float64(s.ReadBursts)
}

// WriteRowHitRate returns the fraction of write bursts that hit an open row.
func (s Statistics) WriteRowHitRate() float64 {
	if s.WriteBursts == 0 {
		return 0
	}
	return float64(s.WriteRowHits) / float64(s.WriteBursts)
}

const noRow = ^uint64(0)

type bank struct {
	openRow uint64

	actAllowedAt clock.Tick
	colAllowedAt clock.Tick
	preAllowedAt clock.Tick
}

type rank struct {
	banks []bank

	// recent activation ticks for the tXAW window, oldest first
	activations  []clock.Tick
	rrdAllowedAt clock.Tick
	wtrAllowedAt clock.Tick
	refreshDueAt clock.Tick
}

// Location is the decoded position of an address in the DRAM.
type Location struct {
	Rank   int
	Bank   int
	Row    uint64
	Column uint64
}

// MemCtrl is a single-channel memory controller. It serves requests in
// arrival order and answers with the tick the response leaves it.
type MemCtrl struct {
	name      string
	config    Config
	addrRange mem.AddrRange

	ranks     []rank
	busFreeAt clock.Tick

	stats Statistics
}

// NewMemCtrl creates a controller serving r.
func NewMemCtrl(name string, config Config, r mem.AddrRange) (*MemCtrl, error) {
	if err := config.Interface.Validate(); err != nil {
		return nil, err
	}
	if _, err := ParsePagePolicy(string(config.PagePolicy)); err != nil {
		return nil, err
	}
	if r.Size() == 0 {
		return nil, fmt.Errorf("%s: empty address range", name)
	}

	c := &MemCtrl{name: name, config: config, addrRange: r}
	c.ranks = make([]rank, config.Interface.Ranks)
	c.Reset()
	return c, nil
}

// Name returns the instance name.
func (c *MemCtrl) Name() string { return c.name }

// Config returns the controller parameters.
func (c *MemCtrl) Config() Config { return c.config }

// AddrRanges returns the range the controller serves.
func (c *MemCtrl) AddrRanges() []mem.AddrRange {
	return []mem.AddrRange{c.addrRange}
}

// Decode maps addr with the RoRaBaCoCh scheme: from least to most
// significant, channel, column, bank, rank, row.
func (c *MemCtrl) Decode(addr uint64) Location {
	iface := c.config.Interface
	offset := addr - c.addrRange.Start

	burst := offset / iface.BurstSize
	col := burst % iface.BurstsPerRow()
	rowIdx := burst / iface.BurstsPerRow()

	banks := uint64(iface.BanksPerRank)
	ranks := uint64(iface.Ranks)

	return Location{
		Column: col,
		Bank:   int(rowIdx % banks),
		Rank:   int(rowIdx / banks % ranks),
		Row:    rowIdx / banks / ranks,
	}
}

// Access schedules pkt and returns the tick its response leaves the
// controller. Writes are acknowledged once accepted; their bursts still
// occupy the banks and the data bus.
func (c *MemCtrl) Access(pkt *mem.Packet, at clock.Tick) (clock.Tick, error) {
	size := max(pkt.Size, 1)
	if !c.addrRange.ContainsSpan(pkt.Addr, size) {
		return 0, fmt.Errorf("%s: %w %#x", c.name, mem.ErrNoRoute, pkt.Addr)
	}

	iface := c.config.Interface
	arrival := at + c.config.FrontendLatency
	isRead := pkt.Cmd.IsRead()

	if isRead {
		c.stats.ReadReqs++
		c.stats.BytesRead += pkt.Size
	} else {
		c.stats.WriteReqs++
		c.stats.BytesWritten += pkt.Size
	}

	first := pkt.Addr &^ (iface.BurstSize - 1)
	last := (pkt.Addr + size - 1) &^ (iface.BurstSize - 1)

	done := arrival
	for addr := first; addr <= last; addr += iface.BurstSize {
		done = max(done, c.burst(addr, arrival, isRead))
	}

	if !isRead {
		return arrival + c.config.BackendLatency, nil
	}

	respond := done + c.config.BackendLatency
	c.stats.TotalReadLatency += respond - at
	return respond, nil
}

// burst schedules one column access and returns the tick its data transfer
// ends.
func (c *MemCtrl) burst(addr uint64, at clock.Tick, isRead bool) clock.Tick {
	iface := c.config.Interface
	loc := c.Decode(addr)
	r := &c.ranks[loc.Rank]
	c.refresh(r, at)
	b := &r.banks[loc.Bank]

	rowHit := b.openRow == loc.Row
	conflict := !rowHit && b.openRow != noRow

	if isRead {
		c.stats.ReadBursts++
		if rowHit {
			c.stats.ReadRowHits++
		}
	} else {
		c.stats.WriteBursts++
		if rowHit {
			c.stats.WriteRowHits++
		}
	}

	if !rowHit {
		actAt := max(at, b.actAllowedAt)
		if conflict {
			preAt := max(at, b.preAllowedAt)
			c.stats.Precharges++
			actAt = max(actAt, preAt+iface.TRP)
		}
		c.activate(r, b, loc.Row, actAt)
	}

	colAt := max(at, b.colAllowedAt)
	if isRead {
		colAt = max(colAt, r.wtrAllowedAt)
	}

	dataStart := max(colAt+iface.TCL, c.busFreeAt)
	dataEnd := dataStart + iface.TBURST
	c.busFreeAt = dataEnd

	if isRead {
		b.preAllowedAt = max(b.preAllowedAt, colAt+iface.TRTP)
	} else {
		b.preAllowedAt = max(b.preAllowedAt, dataEnd+iface.TWR)
		r.wtrAllowedAt = max(r.wtrAllowedAt, dataEnd+iface.TWTR)
	}

	if c.closeAfter(conflict) {
		c.precharge(b)
	}

	return dataEnd
}

func (c *MemCtrl) closeAfter(conflict bool) bool {
	switch c.config.PagePolicy {
	case PageClose:
		return true
	case PageOpenAdaptive:
		return conflict
	default:
		return false
	}
}

// activate opens row in b no earlier than at, honouring tRRD and the
// activation window.
func (c *MemCtrl) activate(r *rank, b *bank, row uint64, at clock.Tick) {
	iface := c.config.Interface

	actAt := max(at, r.rrdAllowedAt)
	if len(r.activations) >= iface.ActivationLimit {
		actAt = max(actAt, r.activations[0]+iface.TXAW)
		r.activations = r.activations[1:]
	}
	r.activations = append(r.activations, actAt)

	b.openRow = row
	b.colAllowedAt = actAt + iface.TRCD
	b.preAllowedAt = actAt + iface.TRAS
	r.rrdAllowedAt = actAt + iface.TRRD
	c.stats.Activations++
}

func (c *MemCtrl) precharge(b *bank) {
	b.openRow = noRow
	b.actAllowedAt = max(b.actAllowedAt, b.preAllowedAt+c.config.Interface.TRP)
	c.stats.Precharges++
}

// refresh performs every refresh of r that fell due by now. A refresh
// closes all banks and blocks them for tRFC.
func (c *MemCtrl) refresh(r *rank, now clock.Tick) {
	iface := c.config.Interface
	for r.refreshDueAt <= now {
		start := r.refreshDueAt
		for i := range r.banks {
			b := &r.banks[i]
			if b.openRow != noRow {
				start = max(start, b.preAllowedAt+iface.TRP)
				b.openRow = noRow
			}
		}
		end := start + iface.TRFC
		for i := range r.banks {
			r.banks[i].actAllowedAt = max(r.banks[i].actAllowedAt, end)
		}
		r.refreshDueAt += iface.TREFI
		c.stats.Refreshes++
	}
}

// Stats returns the controller statistics.
func (c *MemCtrl) Stats() Statistics {
	return c.stats
}

// Reset closes every row, clears timing state and statistics.
func (c *MemCtrl) Reset() {
	iface := c.config.Interface
	for i := range c.ranks {
		banks := make([]bank, iface.BanksPerRank)
		for j := range banks {
			banks[j].openRow = noRow
		}
		c.ranks[i] = rank{banks: banks, refreshDueAt: iface.TREFI}
	}
	c.busFreeAt = 0
	c.stats = Statistics{}
}
