package emu

import "fmt"

const pageSize = 4096

func pageAlign(v uint64) uint64 {
	return (v + pageSize - 1) &^ (pageSize - 1)
}

// FlatAddressSpace manages brk and mmap regions over memory that is already
// addressable everywhere, such as SparseMemory.
type FlatAddressSpace struct {
	brkStart uint64
	brk      uint64
	mmapNext uint64
}

// NewFlatAddressSpace creates an address space whose heap starts at brkStart
// and whose anonymous mappings are handed out upwards from mmapBase.
func NewFlatAddressSpace(brkStart, mmapBase uint64) *FlatAddressSpace {
	return &FlatAddressSpace{
		brkStart: brkStart,
		brk:      brkStart,
		mmapNext: pageAlign(mmapBase),
	}
}

// Brk moves the program break.
func (s *FlatAddressSpace) Brk(addr uint64) uint64 {
	if addr >= s.brkStart && addr < s.mmapNext {
		s.brk = addr
	}
	return s.brk
}

// Mmap hands out a fresh page-aligned region.
func (s *FlatAddressSpace) Mmap(_, length uint64) (uint64, error) {
	if length == 0 {
		return 0, fmt.Errorf("zero-length mapping")
	}
	addr := s.mmapNext
	s.mmapNext += pageAlign(length)
	return addr, nil
}

// Munmap accepts any page-aligned range. Regions are never reused.
func (s *FlatAddressSpace) Munmap(addr, _ uint64) error {
	if addr%pageSize != 0 {
		return fmt.Errorf("unaligned munmap at %#x", addr)
	}
	return nil
}
