// Package xbar models address-routed crossbars. Each destination has a
// request layer and each source a response layer; a packet holds a layer for
// ceil(size/width) cycles.
package xbar

import (
	"fmt"

	"github.com/sarchlab/sesim/mem"
	"github.com/sarchlab/sesim/timing/clock"
)

// Config holds crossbar parameters. Latencies are in cycles.
type Config struct {
	// Width of the datapath in bytes per cycle.
	Width           uint64
	FrontendLatency uint64
	ForwardLatency  uint64
	ResponseLatency uint64
}

// L2XBarConfig returns the parameters of the bus between the L1s and the L2.
func L2XBarConfig() Config {
	return Config{
		Width:           32,
		FrontendLatency: 1,
		ForwardLatency:  0,
		ResponseLatency: 1,
	}
}

// SystemXBarConfig returns the parameters of the memory bus.
func SystemXBarConfig() Config {
	return Config{
		Width:           16,
		FrontendLatency: 3,
		ForwardLatency:  4,
		ResponseLatency: 2,
	}
}

// Statistics holds crossbar traffic counters.
type Statistics struct {
	Packets    uint64
	Bytes      uint64
	Writebacks uint64
	// LayerWaitCycles counts cycles packets waited for a busy layer.
	LayerWaitCycles uint64
}

// XBar is a crossbar connecting requestor ports to responders.
type XBar struct {
	name   string
	config Config
	clock  *clock.SrcClockDomain

	ports      []*Port
	responders []mem.Responder

	reqLayerFree  []clock.Tick
	respLayerFree []clock.Tick

	stats Statistics
}

// New creates a crossbar in the given clock domain.
func New(name string, config Config, domain *clock.SrcClockDomain) (*XBar, error) {
	if config.Width == 0 {
		return nil, fmt.Errorf("%s: width must be > 0", name)
	}
	if domain == nil {
		return nil, fmt.Errorf("%s: clock domain is required", name)
	}
	return &XBar{name: name, config: config, clock: domain}, nil
}

// Name returns the instance name.
func (x *XBar) Name() string { return x.name }

// Config returns the crossbar parameters.
func (x *XBar) Config() Config { return x.config }

// Port is a CPU-side port of a crossbar, owned by one requestor.
type Port struct {
	xbar      *XBar
	id        int
	requestor string
}

// CPUSidePort creates a port for requestor.
func (x *XBar) CPUSidePort(requestor string) mem.Responder {
	p := &Port{xbar: x, id: len(x.ports), requestor: requestor}
	x.ports = append(x.ports, p)
	x.respLayerFree = append(x.respLayerFree, 0)
	return p
}

// AttachResponder connects r to a memory-side port.
func (x *XBar) AttachResponder(r mem.Responder) {
	x.responders = append(x.responders, r)
	x.reqLayerFree = append(x.reqLayerFree, 0)
}

// Requestors returns the names of the requestors attached to the CPU side.
func (x *XBar) Requestors() []string {
	names := make([]string, len(x.ports))
	for i, p := range x.ports {
		names[i] = p.requestor
	}
	return names
}

// Responders returns the memory-side responders.
func (x *XBar) Responders() []mem.Responder {
	return x.responders
}

// AddrRanges returns the union of the ranges of every responder.
func (x *XBar) AddrRanges() []mem.AddrRange {
	var ranges []mem.AddrRange
	for _, r := range x.responders {
		ranges = append(ranges, r.AddrRanges()...)
	}
	return ranges
}

func (x *XBar) route(addr uint64) (int, error) {
	for i, r := range x.responders {
		for _, ar := range r.AddrRanges() {
			if ar.Contains(addr) {
				return i, nil
			}
		}
	}
	return -1, fmt.Errorf("%s: %w %#x", x.name, mem.ErrNoRoute, addr)
}

// CheckRoutes verifies that every address of want routes to exactly one
// responder.
func (x *XBar) CheckRoutes(want []mem.AddrRange) error {
	if len(x.responders) == 0 {
		return fmt.Errorf("%s: no memory-side responders", x.name)
	}

	for i, a := range x.responders {
		for _, b := range x.responders[i+1:] {
			for _, ra := range a.AddrRanges() {
				for _, rb := range b.AddrRanges() {
					if ra.Intersects(rb) {
						return fmt.Errorf("%s: %s %s overlaps %s %s",
							x.name, a.Name(), ra, b.Name(), rb)
					}
				}
			}
		}
	}

	for _, r := range want {
		if err := x.covers(r); err != nil {
			return err
		}
	}
	return nil
}

func (x *XBar) covers(want mem.AddrRange) error {
	addr := want.Start
	for addr < want.End {
		next := addr
		for _, r := range x.responders {
			for _, ar := range r.AddrRanges() {
				if ar.Contains(addr) {
					next = min(ar.End, want.End)
				}
			}
		}
		if next == addr {
			return fmt.Errorf("%s: %w %#x", x.name, mem.ErrNoRoute, addr)
		}
		addr = next
	}
	return nil
}

func (x *XBar) occupancy(size uint64) uint64 {
	return max(1, (size+x.config.Width-1)/x.config.Width)
}

// acquire holds a layer that frees at *free for cycles and returns the tick
// the packet starts crossing it.
func (x *XBar) acquire(free *clock.Tick, at clock.Tick, cycles uint64) clock.Tick {
	start := x.clock.ClockEdge(max(at, *free), 0)
	if start > at {
		x.stats.LayerWaitCycles += x.clock.TicksToCycles(start - at)
	}
	*free = start + x.clock.CyclesToTicks(cycles)
	return start
}

func (x *XBar) forward(src int, pkt *mem.Packet, at clock.Tick) (clock.Tick, error) {
	dst, err := x.route(pkt.Addr)
	if err != nil {
		return 0, err
	}

	x.stats.Packets++
	x.stats.Bytes += pkt.Size
	occ := x.occupancy(pkt.Size)

	start := x.acquire(&x.reqLayerFree[dst], at, occ)
	sendAt := x.clock.ClockEdge(start, x.config.FrontendLatency+x.config.ForwardLatency)

	done, err := x.responders[dst].Access(pkt, sendAt)
	if err != nil {
		return 0, err
	}

	if pkt.Cmd == mem.CmdWriteback {
		x.stats.Writebacks++
		return done, nil
	}

	respStart := x.acquire(&x.respLayerFree[src], done, occ)
	return x.clock.ClockEdge(respStart, x.config.ResponseLatency), nil
}

// Stats returns the crossbar statistics.
func (x *XBar) Stats() Statistics {
	return x.stats
}

// Reset frees every layer and clears the statistics.
func (x *XBar) Reset() {
	for i := range x.reqLayerFree {
		x.reqLayerFree[i] = 0
	}
	for i := range x.respLayerFree {
		x.respLayerFree[i] = 0
	}
	x.stats = Statistics{}
}

// Name returns the port name.
func (p *Port) Name() string {
	return fmt.Sprintf("%s.cpu_side_ports[%d]", p.xbar.name, p.id)
}

// Requestor returns the name of the component that owns the port.
func (p *Port) Requestor() string { return p.requestor }

// AddrRanges returns the ranges reachable through the crossbar.
func (p *Port) AddrRanges() []mem.AddrRange {
	return p.xbar.AddrRanges()
}

// Access sends pkt across the crossbar to the responder owning its address.
func (p *Port) Access(pkt *mem.Packet, at clock.Tick) (clock.Tick, error) {
	return p.xbar.forward(p.id, pkt, at)
}
