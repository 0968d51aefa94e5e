// Package cache provides set-associative write-back caches built on the Akita
// cache directory.
//
// Caches track tags and line state only. Data always lives in physical
// memory, so a cache contributes latency and statistics but never holds a
// private copy of a line.
package cache

import (
	"errors"
	"fmt"

	akitacache "github.com/sarchlab/akita/v4/mem/cache"

	"github.com/sarchlab/sesim/mem"
	"github.com/sarchlab/sesim/timing/clock"
)

// ErrNotConnected is returned when a cache is accessed before its memory
// side has been connected.
var ErrNotConnected = errors.New("cache port not connected")

// Kind tells which port of the CPU a cache attaches to.
type Kind uint8

// Cache kinds.
const (
	KindL1I Kind = iota
	KindL1D
	KindL2
)

func (k Kind) String() string {
	switch k {
	case KindL1I:
		return "L1ICache"
	case KindL1D:
		return "L1DCache"
	case KindL2:
		return "L2Cache"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Config holds cache configuration parameters. Latencies are in cycles of
// the cache's clock domain.
type Config struct {
	Kind Kind
	// Size in bytes
	Size uint64
	// Associativity (number of ways)
	Assoc int
	// BlockSize in bytes (cache line size)
	BlockSize uint64

	TagLatency      uint64
	DataLatency     uint64
	ResponseLatency uint64

	MSHRs       int
	TgtsPerMSHR int

	// SequentialAccess looks the tags up before reading the data array,
	// which makes a hit cost tag + data instead of the larger of the two.
	SequentialAccess bool
}

// L1IConfig returns the instruction cache preset: 16kB, 2-way.
func L1IConfig() Config {
	return Config{
		Kind:            KindL1I,
		Size:            16 * 1024,
		Assoc:           2,
		BlockSize:       64,
		TagLatency:      2,
		DataLatency:     2,
		ResponseLatency: 2,
		MSHRs:           4,
		TgtsPerMSHR:     20,
	}
}

// L1DConfig returns the data cache preset: 64kB, 2-way.
func L1DConfig() Config {
	c := L1IConfig()
	c.Kind = KindL1D
	c.Size = 64 * 1024
	return c
}

// L2Config returns the unified L2 preset: 256kB, 8-way.
func L2Config() Config {
	return Config{
		Kind:            KindL2,
		Size:            256 * 1024,
		Assoc:           8,
		BlockSize:       64,
		TagLatency:      20,
		DataLatency:     20,
		ResponseLatency: 20,
		MSHRs:           20,
		TgtsPerMSHR:     12,
	}
}

// Validate checks that the geometry describes a whole number of sets.
func (c Config) Validate() error {
	if c.BlockSize == 0 || c.BlockSize&(c.BlockSize-1) != 0 {
		return fmt.Errorf("%s: block size %d is not a power of two", c.Kind, c.BlockSize)
	}
	if c.Assoc <= 0 {
		return fmt.Errorf("%s: associativity must be > 0, got %d", c.Kind, c.Assoc)
	}
	setBytes := uint64(c.Assoc) * c.BlockSize
	if c.Size == 0 || c.Size%setBytes != 0 {
		return fmt.Errorf("%s: size %d is not a multiple of assoc*line (%d)", c.Kind, c.Size, setBytes)
	}
	if c.MSHRs <= 0 || c.TgtsPerMSHR <= 0 {
		return fmt.Errorf("%s: mshrs and tgts_per_mshr must be > 0", c.Kind)
	}
	return nil
}

// NumSets returns the number of sets.
func (c Config) NumSets() int {
	return int(c.Size / (uint64(c.Assoc) * c.BlockSize))
}

// HitLatency returns the cycles a hit spends in the cache.
func (c Config) HitLatency() uint64 {
	if c.SequentialAccess {
		return c.TagLatency + c.DataLatency
	}
	return max(c.TagLatency, c.DataLatency)
}

// Statistics holds cache performance statistics.
type Statistics struct {
	Reads      uint64
	Writes     uint64
	Hits       uint64
	Misses     uint64
	MSHRHits   uint64
	Evictions  uint64
	Writebacks uint64

	// BlockedCycles counts cycles requests spent waiting for a free MSHR.
	BlockedCycles uint64
	// MissLatency is the total latency of all misses, in ticks.
	MissLatency clock.Tick
}

// Accesses returns the number of demand accesses.
func (s Statistics) Accesses() uint64 {
	return s.Hits + s.Misses + s.MSHRHits
}

// MissRate returns misses (including MSHR hits) over accesses.
func (s Statistics) MissRate() float64 {
	total := s.Accesses()
	if total == 0 {
		return 0
	}
	return float64(s.Misses+s.MSHRHits) / float64(total)
}

// AvgMissLatency returns the average miss latency in ticks.
func (s Statistics) AvgMissLatency() float64 {
	if s.Misses == 0 {
		return 0
	}
	return float64(s.MissLatency) / float64(s.Misses)
}

type mshr struct {
	blockAddr uint64
	readyAt   clock.Tick
	targets   int
}

// Cache is a tag-only set-associative cache. It implements mem.Responder for
// the level above and forwards misses and writebacks to its memory side.
type Cache struct {
	name   string
	config Config
	clock  *clock.SrcClockDomain

	// Akita cache directory for tag/state management
	directory *akitacache.DirectoryImpl

	mshrs []mshr

	cpuSide bool
	memSide mem.Responder

	stats Statistics
}

// New creates a cache in the given clock domain.
func New(name string, config Config, domain *clock.SrcClockDomain) (*Cache, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if domain == nil {
		return nil, fmt.Errorf("%s: clock domain is required", name)
	}

	directory := akitacache.NewDirectory(
		config.NumSets(),
		config.Assoc,
		int(config.BlockSize),
		akitacache.NewLRUVictimFinder(),
	)

	return &Cache{
		name:      name,
		config:    config,
		clock:     domain,
		directory: directory,
		mshrs:     make([]mshr, 0, config.MSHRs),
	}, nil
}

// Name returns the instance name.
func (c *Cache) Name() string { return c.name }

// Config returns the cache configuration.
func (c *Cache) Config() Config { return c.config }

// AddrRanges returns the ranges served below this cache.
func (c *Cache) AddrRanges() []mem.AddrRange {
	if c.memSide == nil {
		return nil
	}
	return c.memSide.AddrRanges()
}

// Access looks pkt up and returns the tick at which the response leaves the
// cache. Misses are forwarded to the memory side and allocate the line.
func (c *Cache) Access(pkt *mem.Packet, at clock.Tick) (clock.Tick, error) {
	if c.memSide == nil {
		return 0, fmt.Errorf("%s: %w (mem_side)", c.name, ErrNotConnected)
	}

	if pkt.Cmd == mem.CmdWriteback {
		return c.acceptWriteback(pkt, at)
	}

	if pkt.Cmd.IsRead() {
		c.stats.Reads++
	} else {
		c.stats.Writes++
	}

	blockAddr := pkt.BlockAddr(c.config.BlockSize)
	c.retireMSHRs(at)

	if m := c.findMSHR(blockAddr); m != nil {
		return c.coalesce(m, pkt, at), nil
	}

	block := c.directory.Lookup(0, blockAddr)
	if block != nil && block.IsValid {
		c.stats.Hits++
		c.directory.Visit(block)
		if !pkt.Cmd.IsRead() {
			block.IsDirty = true
		}
		return c.clock.ClockEdge(at, c.config.HitLatency()), nil
	}

	return c.handleMiss(pkt, blockAddr, at)
}

// coalesce attaches a request to an in-flight miss. When the MSHR has no
// free target slot, the request waits for the fill and then hits.
func (c *Cache) coalesce(m *mshr, pkt *mem.Packet, at clock.Tick) clock.Tick {
	c.markDirty(pkt)

	if m.targets < c.config.TgtsPerMSHR {
		m.targets++
		c.stats.MSHRHits++
		return max(m.readyAt, c.clock.ClockEdge(at, c.config.TagLatency))
	}

	c.stats.Hits++
	c.stats.BlockedCycles += c.clock.TicksToCycles(m.readyAt - at)
	return c.clock.ClockEdge(m.readyAt, c.config.HitLatency())
}

func (c *Cache) markDirty(pkt *mem.Packet) {
	if pkt.Cmd.IsRead() {
		return
	}
	if block := c.directory.Lookup(0, pkt.BlockAddr(c.config.BlockSize)); block != nil {
		block.IsDirty = true
	}
}

func (c *Cache) handleMiss(pkt *mem.Packet, blockAddr uint64, at clock.Tick) (clock.Tick, error) {
	start := at
	if len(c.mshrs) >= c.config.MSHRs {
		start = c.earliestMSHR()
		c.stats.BlockedCycles += c.clock.TicksToCycles(start - at)
		c.retireMSHRs(start)
	}

	sendAt := c.clock.ClockEdge(start, c.config.TagLatency)

	if err := c.evict(blockAddr, sendAt); err != nil {
		return 0, err
	}

	cmd := mem.CmdRead
	if pkt.Cmd == mem.CmdFetch {
		cmd = mem.CmdFetch
	}
	fill := &mem.Packet{Cmd: cmd, Addr: blockAddr, Size: c.config.BlockSize}
	done, err := c.memSide.Access(fill, sendAt)
	if err != nil {
		return 0, fmt.Errorf("%s: miss on %s: %w", c.name, pkt, err)
	}
	readyAt := c.clock.ClockEdge(done, c.config.ResponseLatency)

	c.stats.Misses++
	c.stats.MissLatency += readyAt - at
	c.mshrs = append(c.mshrs, mshr{blockAddr: blockAddr, readyAt: readyAt, targets: 1})
	c.install(blockAddr, !pkt.Cmd.IsRead())

	return readyAt, nil
}

// evict makes room for blockAddr, writing a dirty victim to the memory side.
// The writeback is off the critical path of the miss.
func (c *Cache) evict(blockAddr uint64, at clock.Tick) error {
	victim := c.directory.FindVictim(blockAddr)
	if victim == nil || !victim.IsValid {
		return nil
	}

	c.stats.Evictions++
	if !victim.IsDirty {
		return nil
	}

	c.stats.Writebacks++
	wb := &mem.Packet{Cmd: mem.CmdWriteback, Addr: victim.Tag, Size: c.config.BlockSize}
	if _, err := c.memSide.Access(wb, at); err != nil {
		return fmt.Errorf("%s: writeback of %#x: %w", c.name, victim.Tag, err)
	}
	victim.IsValid = false
	victim.IsDirty = false
	return nil
}

func (c *Cache) install(blockAddr uint64, dirty bool) {
	block := c.directory.FindVictim(blockAddr)
	block.Tag = blockAddr
	block.IsValid = true
	block.IsDirty = dirty
	c.directory.Visit(block)
}

// acceptWriteback absorbs a dirty line from the level above. The line is
// allocated without fetching it.
func (c *Cache) acceptWriteback(pkt *mem.Packet, at clock.Tick) (clock.Tick, error) {
	blockAddr := pkt.BlockAddr(c.config.BlockSize)
	done := c.clock.ClockEdge(at, c.config.TagLatency)

	if block := c.directory.Lookup(0, blockAddr); block != nil && block.IsValid {
		block.IsDirty = true
		c.directory.Visit(block)
		return done, nil
	}

	if err := c.evict(blockAddr, done); err != nil {
		return 0, err
	}
	c.install(blockAddr, true)
	return done, nil
}

func (c *Cache) findMSHR(blockAddr uint64) *mshr {
	for i := range c.mshrs {
		if c.mshrs[i].blockAddr == blockAddr {
			return &c.mshrs[i]
		}
	}
	return nil
}

// retireMSHRs frees every MSHR whose fill completed by now.
func (c *Cache) retireMSHRs(now clock.Tick) {
	live := c.mshrs[:0]
	for _, m := range c.mshrs {
		if m.readyAt > now {
			live = append(live, m)
		}
	}
	c.mshrs = live
}

func (c *Cache) earliestMSHR() clock.Tick {
	earliest := clock.MaxTick
	for _, m := range c.mshrs {
		earliest = min(earliest, m.readyAt)
	}
	return earliest
}

// OutstandingMisses returns the number of MSHRs still in flight at now.
func (c *Cache) OutstandingMisses(now clock.Tick) int {
	n := 0
	for _, m := range c.mshrs {
		if m.readyAt > now {
			n++
		}
	}
	return n
}

// Contains reports whether the line holding addr is resident.
func (c *Cache) Contains(addr uint64) bool {
	block := c.directory.Lookup(0, addr&^(c.config.BlockSize-1))
	return block != nil && block.IsValid
}

// IsDirty reports whether the line holding addr is resident and dirty.
func (c *Cache) IsDirty(addr uint64) bool {
	block := c.directory.Lookup(0, addr&^(c.config.BlockSize-1))
	return block != nil && block.IsValid && block.IsDirty
}

// Invalidate drops the line holding addr without writing it back.
func (c *Cache) Invalidate(addr uint64) {
	block := c.directory.Lookup(0, addr&^(c.config.BlockSize-1))
	if block != nil {
		block.IsValid = false
		block.IsDirty = false
	}
}

// Flush writes every dirty line to the memory side and cleans it.
func (c *Cache) Flush(at clock.Tick) error {
	if c.memSide == nil {
		return fmt.Errorf("%s: %w (mem_side)", c.name, ErrNotConnected)
	}

	for _, set := range c.directory.GetSets() {
		for _, block := range set.Blocks {
			if !block.IsValid || !block.IsDirty {
				continue
			}
			wb := &mem.Packet{Cmd: mem.CmdWriteback, Addr: block.Tag, Size: c.config.BlockSize}
			if _, err := c.memSide.Access(wb, at); err != nil {
				return fmt.Errorf("%s: flush of %#x: %w", c.name, block.Tag, err)
			}
			block.IsDirty = false
			c.stats.Writebacks++
		}
	}
	return nil
}

// Stats returns the cache statistics.
func (c *Cache) Stats() Statistics {
	return c.stats
}

// Reset clears all lines, MSHRs and statistics.
func (c *Cache) Reset() {
	c.directory.Reset()
	c.mshrs = c.mshrs[:0]
	c.stats = Statistics{}
}
