// Package mem provides the physical memory of the simulated system, address
// ranges and the packet/port protocol spoken between memory components.
package mem

import "fmt"

// AddrRange is a half-open physical address range [Start, End).
type AddrRange struct {
	Start uint64
	End   uint64
}

// NewAddrRange returns the range [0, size).
func NewAddrRange(size uint64) AddrRange {
	return AddrRange{Start: 0, End: size}
}

// Size returns the number of bytes covered by the range.
func (r AddrRange) Size() uint64 {
	return r.End - r.Start
}

// Contains reports whether addr falls inside the range.
func (r AddrRange) Contains(addr uint64) bool {
	return addr >= r.Start && addr < r.End
}

// ContainsSpan reports whether the whole span [addr, addr+size) is inside the
// range.
func (r AddrRange) ContainsSpan(addr, size uint64) bool {
	if size == 0 {
		return r.Contains(addr)
	}
	return addr >= r.Start && addr+size <= r.End && addr+size > addr
}

// Intersects reports whether two ranges overlap.
func (r AddrRange) Intersects(o AddrRange) bool {
	return r.Start < o.End && o.Start < r.End
}

func (r AddrRange) String() string {
	return fmt.Sprintf("[%#x:%#x]", r.Start, r.End)
}
