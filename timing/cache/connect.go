package cache

import (
	"fmt"

	"github.com/sarchlab/sesim/mem"
)

// CPUPorts is the CPU side that L1 caches attach to.
type CPUPorts interface {
	ConnectICache(r mem.Responder)
	ConnectDCache(r mem.Responder)
}

// Bus is a crossbar that caches connect to. Requestors get their own port so
// that the bus can account response traffic per source.
type Bus interface {
	Name() string
	CPUSidePort(requestor string) mem.Responder
	AttachResponder(r mem.Responder)
}

// ConnectCPU attaches an L1 cache to the matching CPU port.
func (c *Cache) ConnectCPU(cpu CPUPorts) error {
	switch c.config.Kind {
	case KindL1I:
		cpu.ConnectICache(c)
	case KindL1D:
		cpu.ConnectDCache(c)
	default:
		return fmt.Errorf("%s: a %s cannot connect to a CPU", c.name, c.config.Kind)
	}
	c.cpuSide = true
	return nil
}

// ConnectBus attaches the memory side of an L1 cache to bus.
func (c *Cache) ConnectBus(bus Bus) {
	c.memSide = bus.CPUSidePort(c.name)
}

// ConnectCPUSideBus makes the cache a responder on bus.
func (c *Cache) ConnectCPUSideBus(bus Bus) {
	bus.AttachResponder(c)
	c.cpuSide = true
}

// ConnectMemSideBus attaches the memory side of the cache to bus.
func (c *Cache) ConnectMemSideBus(bus Bus) {
	c.memSide = bus.CPUSidePort(c.name)
}

// ConnectMemSide attaches the memory side directly to a responder.
func (c *Cache) ConnectMemSide(r mem.Responder) {
	c.memSide = r
}

// CheckConnected reports an error if either side is unconnected.
func (c *Cache) CheckConnected() error {
	if !c.cpuSide {
		return fmt.Errorf("%s: %w (cpu_side)", c.name, ErrNotConnected)
	}
	if c.memSide == nil {
		return fmt.Errorf("%s: %w (mem_side)", c.name, ErrNotConnected)
	}
	return nil
}
