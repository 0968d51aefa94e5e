// Package loader provides ELF binary loading for ARM64 executables.
package loader

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// SegmentFlags represents memory protection flags for a segment.
type SegmentFlags uint32

const (
	// SegmentFlagExecute indicates the segment is executable.
	SegmentFlagExecute SegmentFlags = 1 << iota
	// SegmentFlagWrite indicates the segment is writable.
	SegmentFlagWrite
	// SegmentFlagRead indicates the segment is readable.
	SegmentFlagRead
)

// DefaultStackTop is the default stack top address for ARM64 Linux user space.
const DefaultStackTop = 0x7ffffffff000

// DefaultStackSize is the largest the stack may grow (8MB).
const DefaultStackSize = 8 * 1024 * 1024

// PageSize is the page granularity used for the initial program break.
const PageSize = 4096

// Segment represents a loadable segment from an ELF binary.
type Segment struct {
	// VirtAddr is the virtual address where this segment should be loaded.
	VirtAddr uint64
	// Data contains the segment contents from the file.
	Data []byte
	// MemSize is the size in memory (may be larger than len(Data) for BSS).
	MemSize uint64
	// Flags contains the segment protection flags.
	Flags SegmentFlags
}

// End returns the first address past the segment in memory.
func (s Segment) End() uint64 {
	return s.VirtAddr + s.MemSize
}

// Program represents a loaded ELF program ready for execution.
type Program struct {
	// EntryPoint is the virtual address where execution should begin.
	EntryPoint uint64
	// Segments contains all loadable segments from the ELF file.
	Segments []Segment
	// InitialSP is the initial stack pointer value.
	InitialSP uint64

	// OSABI is the ABI byte of the ELF identification.
	OSABI elf.OSABI
	// PhdrAddr is the virtual address of the program header table, or 0 if
	// the table is not part of a loaded segment.
	PhdrAddr uint64
	// PhdrEntSize is the size of one program header.
	PhdrEntSize uint64
	// PhdrNum is the number of program headers.
	PhdrNum uint64
	// BrkStart is the page-aligned end of the highest segment.
	BrkStart uint64
}

// SegmentWriter receives segment contents at virtual addresses.
type SegmentWriter interface {
	Write(addr uint64, data []byte) error
}

// LoadInto copies every segment into memory, zero-filling the BSS tail.
func (p *Program) LoadInto(w SegmentWriter) error {
	for _, seg := range p.Segments {
		data := seg.Data
		if seg.MemSize > uint64(len(data)) {
			data = make([]byte, seg.MemSize)
			copy(data, seg.Data)
		}
		if len(data) == 0 {
			continue
		}
		if err := w.Write(seg.VirtAddr, data); err != nil {
			return fmt.Errorf("loading segment at 0x%x: %w", seg.VirtAddr, err)
		}
	}
	return nil
}

// Load parses an ARM64 ELF binary and returns a Program struct ready for
// loading into the emulator's memory.
func Load(path string) (*Program, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file: %w", err)
	}
	defer func() { _ = file.Close() }()

	return Parse(file)
}

// Parse reads an ARM64 ELF binary from r.
func Parse(r io.ReaderAt) (*Program, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file: %w", err)
	}

	if f.Class != elf.ELFCLASS64 {
		return nil, fmt.Errorf("not a 64-bit ELF file")
	}

	if f.Machine != elf.EM_AARCH64 {
		return nil, fmt.Errorf("not an ARM64 ELF file (machine type: %v)", f.Machine)
	}

	phoff, phentsize, err := programHeaderTable(r)
	if err != nil {
		return nil, err
	}

	prog := &Program{
		EntryPoint:  f.Entry,
		InitialSP:   DefaultStackTop,
		OSABI:       f.OSABI,
		PhdrEntSize: phentsize,
		PhdrNum:     uint64(len(f.Progs)),
	}

	var highest uint64
	for _, phdr := range f.Progs {
		if phdr.Type == elf.PT_PHDR {
			prog.PhdrAddr = phdr.Vaddr
		}
		if phdr.Type != elf.PT_LOAD {
			continue
		}

		seg, err := readSegment(phdr)
		if err != nil {
			return nil, err
		}
		prog.Segments = append(prog.Segments, seg)

		if prog.PhdrAddr == 0 && phoff >= phdr.Off && phoff < phdr.Off+phdr.Filesz {
			prog.PhdrAddr = phdr.Vaddr + (phoff - phdr.Off)
		}
		if seg.End() > highest {
			highest = seg.End()
		}
	}

	prog.BrkStart = (highest + PageSize - 1) &^ (PageSize - 1)

	return prog, nil
}

func readSegment(phdr *elf.Prog) (Segment, error) {
	data := make([]byte, phdr.Filesz)
	if phdr.Filesz > 0 {
		n, err := phdr.ReadAt(data, 0)
		if err != nil && err != io.EOF {
			return Segment{}, fmt.Errorf("failed to read segment at 0x%x: %w", phdr.Vaddr, err)
		}
		if uint64(n) != phdr.Filesz {
			return Segment{}, fmt.Errorf("short read for segment at 0x%x: got %d bytes, expected %d",
				phdr.Vaddr, n, phdr.Filesz)
		}
	}

	var flags SegmentFlags
	if phdr.Flags&elf.PF_X != 0 {
		flags |= SegmentFlagExecute
	}
	if phdr.Flags&elf.PF_W != 0 {
		flags |= SegmentFlagWrite
	}
	if phdr.Flags&elf.PF_R != 0 {
		flags |= SegmentFlagRead
	}

	return Segment{
		VirtAddr: phdr.Vaddr,
		Data:     data,
		MemSize:  phdr.Memsz,
		Flags:    flags,
	}, nil
}

// programHeaderTable reads e_phoff and e_phentsize, which debug/elf does not
// expose.
func programHeaderTable(r io.ReaderAt) (uint64, uint64, error) {
	hdr := make([]byte, 64)
	if _, err := r.ReadAt(hdr, 0); err != nil {
		return 0, 0, fmt.Errorf("reading ELF header: %w", err)
	}

	phoff := binary.LittleEndian.Uint64(hdr[32:40])
	phentsize := uint64(binary.LittleEndian.Uint16(hdr[54:56]))
	return phoff, phentsize, nil
}
