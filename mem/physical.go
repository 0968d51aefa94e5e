package mem

import (
	"errors"
	"fmt"

	akitamem "github.com/sarchlab/akita/v4/mem/mem"
)

// ErrOutOfRange is returned for accesses that fall outside physical memory.
var ErrOutOfRange = errors.New("physical address out of range")

// PhysicalMemory holds the contents of the simulated DRAM. Timing components
// never own data; every functional read and write lands here.
type PhysicalMemory struct {
	addrRange AddrRange
	storage   *akitamem.Storage
}

// NewPhysicalMemory allocates backing storage for the given range.
func NewPhysicalMemory(r AddrRange) *PhysicalMemory {
	return &PhysicalMemory{
		addrRange: r,
		storage:   akitamem.NewStorage(r.Size()),
	}
}

// Range returns the address range served by this memory.
func (m *PhysicalMemory) Range() AddrRange {
	return m.addrRange
}

// Read returns size bytes starting at the physical address addr.
func (m *PhysicalMemory) Read(addr, size uint64) ([]byte, error) {
	if !m.addrRange.ContainsSpan(addr, size) {
		return nil, fmt.Errorf("read %d bytes at %#x: %w", size, addr, ErrOutOfRange)
	}

	data, err := m.storage.Read(addr-m.addrRange.Start, size)
	if err != nil {
		return nil, fmt.Errorf("read %d bytes at %#x: %w", size, addr, err)
	}

	return data, nil
}

// Write stores data at the physical address addr.
func (m *PhysicalMemory) Write(addr uint64, data []byte) error {
	if !m.addrRange.ContainsSpan(addr, uint64(len(data))) {
		return fmt.Errorf("write %d bytes at %#x: %w", len(data), addr, ErrOutOfRange)
	}

	if err := m.storage.Write(addr-m.addrRange.Start, data); err != nil {
		return fmt.Errorf("write %d bytes at %#x: %w", len(data), addr, err)
	}

	return nil
}

// Zero clears size bytes starting at addr.
func (m *PhysicalMemory) Zero(addr, size uint64) error {
	return m.Write(addr, make([]byte, size))
}
