package emu

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrUnmapped is returned by memories that have no mapping for an address.
var ErrUnmapped = errors.New("unmapped address")

// Memory is the virtual address space seen by the emulated program.
type Memory interface {
	Read(addr, size uint64) ([]byte, error)
	Write(addr uint64, data []byte) error
}

// ReadUint reads a little-endian value of 1, 2, 4 or 8 bytes.
func ReadUint(m Memory, addr uint64, size uint8) (uint64, error) {
	buf, err := m.Read(addr, uint64(size))
	if err != nil {
		return 0, err
	}

	switch size {
	case 1:
		return uint64(buf[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf)), nil
	case 8:
		return binary.LittleEndian.Uint64(buf), nil
	}

	return 0, fmt.Errorf("unsupported access size %d", size)
}

// WriteUint writes the low size bytes of value in little-endian order.
func WriteUint(m Memory, addr uint64, size uint8, value uint64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, value)
	return m.Write(addr, buf[:size])
}

// ReadCString reads a NUL-terminated string of at most limit bytes.
func ReadCString(m Memory, addr uint64, limit int) (string, error) {
	var out []byte
	for len(out) < limit {
		b, err := m.Read(addr+uint64(len(out)), 1)
		if err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(out), nil
		}
		out = append(out, b[0])
	}
	return "", fmt.Errorf("string at %#x exceeds %d bytes", addr, limit)
}

const sparsePageSize = 4096

// SparseMemory is a demand-allocated flat address space. Every address is
// readable and reads of untouched memory return zero.
type SparseMemory struct {
	pages map[uint64]*[sparsePageSize]byte
}

// NewSparseMemory creates an empty sparse memory.
func NewSparseMemory() *SparseMemory {
	return &SparseMemory{pages: make(map[uint64]*[sparsePageSize]byte)}
}

func (m *SparseMemory) page(addr uint64) *[sparsePageSize]byte {
	num := addr / sparsePageSize
	p, ok := m.pages[num]
	if !ok {
		p = new([sparsePageSize]byte)
		m.pages[num] = p
	}
	return p
}

// Read copies size bytes starting at addr.
func (m *SparseMemory) Read(addr, size uint64) ([]byte, error) {
	out := make([]byte, size)
	for i := uint64(0); i < size; {
		a := addr + i
		off := a % sparsePageSize
		n := min(sparsePageSize-off, size-i)
		copy(out[i:i+n], m.page(a)[off:off+n])
		i += n
	}
	return out, nil
}

// Write stores data starting at addr.
func (m *SparseMemory) Write(addr uint64, data []byte) error {
	size := uint64(len(data))
	for i := uint64(0); i < size; {
		a := addr + i
		off := a % sparsePageSize
		n := min(sparsePageSize-off, size-i)
		copy(m.page(a)[off:off+n], data[i:i+n])
		i += n
	}
	return nil
}

// LoadProgram writes machine code at addr.
func (m *SparseMemory) LoadProgram(addr uint64, program []byte) {
	_ = m.Write(addr, program)
}
