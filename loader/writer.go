package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	ehdrSize = 64
	phdrSize = 56
)

// Image describes a static executable for WriteELF.
type Image struct {
	Entry    uint64
	Segments []Segment
	OSABI    elf.OSABI
}

// WriteELF emits a minimal statically linked AArch64 executable. Each
// segment is placed at a file offset congruent to its address modulo the
// page size, and the headers are mapped by a leading read-only segment so
// that AT_PHDR is meaningful.
func WriteELF(w io.Writer, img Image) error {
	if len(img.Segments) == 0 {
		return fmt.Errorf("image has no segments")
	}

	lowest := img.Segments[0].VirtAddr
	for _, seg := range img.Segments {
		if seg.VirtAddr < lowest {
			lowest = seg.VirtAddr
		}
		if uint64(len(seg.Data)) > seg.MemSize {
			return fmt.Errorf("segment at 0x%x has more data than memory size", seg.VirtAddr)
		}
	}

	numPhdrs := len(img.Segments) + 1
	headerBytes := uint64(ehdrSize + phdrSize*numPhdrs)
	if lowest < PageSize || lowest%PageSize != 0 {
		return fmt.Errorf("lowest segment 0x%x must be page aligned and leave room for headers", lowest)
	}
	headerAddr := lowest - PageSize

	var ident [elf.EI_NIDENT]byte
	copy(ident[:], elf.ELFMAG)
	ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	ident[elf.EI_OSABI] = byte(img.OSABI)

	header := elf.Header64{
		Ident:     ident,
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_AARCH64),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     img.Entry,
		Phoff:     ehdrSize,
		Ehsize:    ehdrSize,
		Phentsize: phdrSize,
		Phnum:     uint16(numPhdrs),
		Shentsize: 64,
	}

	progs := []elf.Prog64{{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R),
		Off:    0,
		Vaddr:  headerAddr,
		Paddr:  headerAddr,
		Filesz: headerBytes,
		Memsz:  headerBytes,
		Align:  PageSize,
	}}

	offset := uint64(PageSize)
	offsets := make([]uint64, len(img.Segments))
	for i, seg := range img.Segments {
		offset = alignUp(offset, PageSize) + seg.VirtAddr%PageSize
		offsets[i] = offset
		progs = append(progs, elf.Prog64{
			Type:   uint32(elf.PT_LOAD),
			Flags:  uint32(elfFlags(seg.Flags)),
			Off:    offset,
			Vaddr:  seg.VirtAddr,
			Paddr:  seg.VirtAddr,
			Filesz: uint64(len(seg.Data)),
			Memsz:  seg.MemSize,
			Align:  PageSize,
		})
		offset += uint64(len(seg.Data))
	}

	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return err
	}
	for _, p := range progs {
		if err := binary.Write(buf, binary.LittleEndian, p); err != nil {
			return err
		}
	}
	for i, seg := range img.Segments {
		buf.Write(make([]byte, offsets[i]-uint64(buf.Len())))
		buf.Write(seg.Data)
	}

	_, err := w.Write(buf.Bytes())
	return err
}

func elfFlags(f SegmentFlags) elf.ProgFlag {
	var out elf.ProgFlag
	if f&SegmentFlagExecute != 0 {
		out |= elf.PF_X
	}
	if f&SegmentFlagWrite != 0 {
		out |= elf.PF_W
	}
	if f&SegmentFlagRead != 0 {
		out |= elf.PF_R
	}
	return out
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}
