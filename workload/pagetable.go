package workload

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sarchlab/sesim/mem"
)

// PageSize is the granularity of the SE page table.
const PageSize = 4096

// ErrPageFault is returned for accesses to virtual addresses outside every
// mapped region.
var ErrPageFault = errors.New("page fault")

// ErrOutOfMemory is returned when no physical frame is left.
var ErrOutOfMemory = errors.New("out of physical memory")

// DefaultMmapBase is where anonymous mappings start.
const DefaultMmapBase = 0x7f0000000000

func pageDown(v uint64) uint64 { return v &^ (PageSize - 1) }
func pageUp(v uint64) uint64   { return (v + PageSize - 1) &^ (PageSize - 1) }

type region struct {
	start, end uint64
	name       string
}

func (r region) contains(addr uint64) bool {
	return addr >= r.start && addr < r.end
}

// PageTable maps the virtual address space of one process onto frames of
// physical memory. Frames are allocated on first touch inside a region that
// the process owns: a loaded segment, the heap, an anonymous mapping, or the
// stack.
type PageTable struct {
	phys   *mem.PhysicalMemory
	frames mem.AddrRange

	pages     map[uint64]uint64
	nextFrame uint64
	freeList  []uint64

	regions []region
	heap    region
	stack   region

	brk      uint64
	mmapNext uint64
}

// NewPageTable creates a page table that allocates frames from the given
// range of phys.
func NewPageTable(phys *mem.PhysicalMemory, frames mem.AddrRange) *PageTable {
	return &PageTable{
		phys:      phys,
		frames:    frames,
		pages:     make(map[uint64]uint64),
		nextFrame: pageUp(frames.Start),
		mmapNext:  DefaultMmapBase,
	}
}

// AddRegion declares [start, end) as owned by the process.
func (pt *PageTable) AddRegion(start, end uint64, name string) {
	pt.regions = append(pt.regions, region{start: pageDown(start), end: pageUp(end), name: name})
}

// SetHeap places the program break at brkStart.
func (pt *PageTable) SetHeap(brkStart uint64) {
	pt.heap = region{start: brkStart, end: brkStart, name: "heap"}
	pt.brk = brkStart
}

// SetStack declares a stack that ends at top and may grow down to
// top-maxSize.
func (pt *PageTable) SetStack(top, maxSize uint64) {
	pt.stack = region{start: top - maxSize, end: top, name: "stack"}
}

// MappedPages returns the number of virtual pages backed by a frame.
func (pt *PageTable) MappedPages() int {
	return len(pt.pages)
}

// Translate returns the physical address of vaddr without allocating.
func (pt *PageTable) Translate(vaddr uint64) (uint64, error) {
	frame, ok := pt.pages[pageDown(vaddr)]
	if !ok {
		return 0, fmt.Errorf("%w at %#x", ErrPageFault, vaddr)
	}
	return frame + vaddr%PageSize, nil
}

func (pt *PageTable) owned(vaddr uint64) bool {
	if pt.stack.contains(vaddr) {
		return true
	}
	if vaddr >= pt.heap.start && vaddr < pageUp(pt.brk) {
		return true
	}
	for _, r := range pt.regions {
		if r.contains(vaddr) {
			return true
		}
	}
	return false
}

func (pt *PageTable) allocFrame() (uint64, error) {
	if n := len(pt.freeList); n > 0 {
		frame := pt.freeList[n-1]
		pt.freeList = pt.freeList[:n-1]
		if err := pt.phys.Zero(frame, PageSize); err != nil {
			return 0, err
		}
		return frame, nil
	}

	if pt.nextFrame+PageSize > pt.frames.End {
		return 0, fmt.Errorf("%w: %d frames in use", ErrOutOfMemory, len(pt.pages))
	}
	frame := pt.nextFrame
	pt.nextFrame += PageSize
	return frame, nil
}

func (pt *PageTable) translateOrMap(vaddr uint64) (uint64, error) {
	vpn := pageDown(vaddr)
	if frame, ok := pt.pages[vpn]; ok {
		return frame + vaddr%PageSize, nil
	}

	if !pt.owned(vaddr) {
		return 0, fmt.Errorf("%w at %#x", ErrPageFault, vaddr)
	}

	frame, err := pt.allocFrame()
	if err != nil {
		return 0, err
	}
	pt.pages[vpn] = frame
	return frame + vaddr%PageSize, nil
}

// Read implements emu.Memory.
func (pt *PageTable) Read(addr, size uint64) ([]byte, error) {
	out := make([]byte, 0, size)
	for size > 0 {
		paddr, err := pt.translateOrMap(addr)
		if err != nil {
			return nil, err
		}

		n := min(size, PageSize-addr%PageSize)
		data, err := pt.phys.Read(paddr, n)
		if err != nil {
			return nil, err
		}
		out = append(out, data...)

		addr += n
		size -= n
	}
	return out, nil
}

// Write implements emu.Memory.
func (pt *PageTable) Write(addr uint64, data []byte) error {
	for len(data) > 0 {
		paddr, err := pt.translateOrMap(addr)
		if err != nil {
			return err
		}

		n := min(uint64(len(data)), PageSize-addr%PageSize)
		if err := pt.phys.Write(paddr, data[:n]); err != nil {
			return err
		}

		addr += n
		data = data[n:]
	}
	return nil
}

// Brk implements emu.AddressSpace. Shrinking releases whole pages above the
// new break.
func (pt *PageTable) Brk(addr uint64) uint64 {
	if addr < pt.heap.start || addr >= pt.mmapFloor() {
		return pt.brk
	}

	if addr < pt.brk {
		pt.unmapPages(pageUp(addr), pageUp(pt.brk))
	}
	pt.brk = addr
	return pt.brk
}

func (pt *PageTable) mmapFloor() uint64 {
	if pt.stack.end != 0 && pt.stack.start < DefaultMmapBase {
		return pt.stack.start
	}
	return DefaultMmapBase
}

// Mmap implements emu.AddressSpace. The address hint is ignored.
func (pt *PageTable) Mmap(_, length uint64) (uint64, error) {
	if length == 0 {
		return 0, fmt.Errorf("zero-length mapping")
	}

	start := pt.mmapNext
	end := start + pageUp(length)
	if pt.stack.end != 0 && end > pt.stack.start && start < pt.stack.end {
		return 0, fmt.Errorf("%w: mapping of %d bytes collides with the stack", ErrOutOfMemory, length)
	}

	pt.mmapNext = end
	pt.regions = append(pt.regions, region{start: start, end: end, name: "mmap"})
	return start, nil
}

// Munmap implements emu.AddressSpace.
func (pt *PageTable) Munmap(addr, length uint64) error {
	if addr%PageSize != 0 {
		return fmt.Errorf("unaligned munmap at %#x", addr)
	}

	end := addr + pageUp(length)
	pt.unmapPages(addr, end)

	var kept []region
	for _, r := range pt.regions {
		if r.name != "mmap" || r.end <= addr || r.start >= end {
			kept = append(kept, r)
			continue
		}
		if r.start < addr {
			kept = append(kept, region{start: r.start, end: addr, name: r.name})
		}
		if r.end > end {
			kept = append(kept, region{start: end, end: r.end, name: r.name})
		}
	}
	pt.regions = kept

	return nil
}

func (pt *PageTable) unmapPages(start, end uint64) {
	var vpns []uint64
	for vpn := range pt.pages {
		if vpn >= start && vpn < end {
			vpns = append(vpns, vpn)
		}
	}
	sort.Slice(vpns, func(i, j int) bool { return vpns[i] < vpns[j] })

	for _, vpn := range vpns {
		pt.freeList = append(pt.freeList, pt.pages[vpn])
		delete(pt.pages, vpn)
	}
}
