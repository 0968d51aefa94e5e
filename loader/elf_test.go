package loader_test

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/sesim/loader"
)

type recordingWriter struct {
	writes map[uint64][]byte
}

func (w *recordingWriter) Write(addr uint64, data []byte) error {
	w.writes[addr] = append([]byte(nil), data...)
	return nil
}

var _ = Describe("ELF Loader", func() {
	var tempDir string

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()
	})

	writeImage := func(img loader.Image) string {
		path := filepath.Join(tempDir, "image.elf")
		buf := &bytes.Buffer{}
		Expect(loader.WriteELF(buf, img)).To(Succeed())
		Expect(os.WriteFile(path, buf.Bytes(), 0o755)).To(Succeed())
		return path
	}

	code := []byte{
		0x40, 0x05, 0x80, 0xd2, // mov x0, #42
		0xc0, 0x03, 0x5f, 0xd6, // ret
	}

	Describe("Load", func() {
		Context("with a hand-built ARM64 ELF binary", func() {
			var elfPath string

			BeforeEach(func() {
				elfPath = filepath.Join(tempDir, "test.elf")
				createMinimalARM64ELF(elfPath, 0x400000, 0x400080, code)
			})

			It("should extract the entry point and stack top", func() {
				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.EntryPoint).To(Equal(uint64(0x400080)))
				Expect(prog.InitialSP).To(Equal(uint64(loader.DefaultStackTop)))
			})

			It("should load the segment contents and permissions", func() {
				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.Segments).To(HaveLen(1))

				seg := prog.Segments[0]
				Expect(seg.VirtAddr).To(Equal(uint64(0x400000)))
				Expect(seg.Data).To(Equal(code))
				Expect(seg.Flags & loader.SegmentFlagExecute).NotTo(BeZero())
				Expect(seg.Flags & loader.SegmentFlagRead).NotTo(BeZero())
				Expect(seg.Flags & loader.SegmentFlagWrite).To(BeZero())
			})

			It("should report the program header table", func() {
				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.PhdrNum).To(Equal(uint64(1)))
				Expect(prog.PhdrEntSize).To(Equal(uint64(56)))
			})

			It("should place the break at the page after the segment", func() {
				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.BrkStart).To(Equal(uint64(0x401000)))
			})
		})

		Context("with an invalid file", func() {
			It("should return error for non-existent file", func() {
				_, err := loader.Load("/nonexistent/path/to/file.elf")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to open"))
			})

			It("should return error for non-ELF file", func() {
				notElfPath := filepath.Join(tempDir, "not-elf.bin")
				Expect(os.WriteFile(notElfPath, []byte("not an elf file"), 0o644)).To(Succeed())

				_, err := loader.Load(notElfPath)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("ELF"))
			})

			It("should return error for empty file", func() {
				emptyPath := filepath.Join(tempDir, "empty.elf")
				Expect(os.WriteFile(emptyPath, []byte{}, 0o644)).To(Succeed())

				_, err := loader.Load(emptyPath)
				Expect(err).To(HaveOccurred())
			})
		})

		Context("with non-ARM64 ELF", func() {
			It("should return error for x86-64 ELF", func() {
				elfPath := filepath.Join(tempDir, "x86.elf")
				createMinimalx86ELF(elfPath)

				_, err := loader.Load(elfPath)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("not an ARM64"))
			})
		})

		Context("with 32-bit ELF", func() {
			It("should return error for 32-bit ELF", func() {
				elfPath := filepath.Join(tempDir, "elf32.elf")
				createMinimal32BitELF(elfPath)

				_, err := loader.Load(elfPath)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("not a 64-bit"))
			})
		})
	})

	Describe("WriteELF", func() {
		var img loader.Image

		BeforeEach(func() {
			img = loader.Image{
				Entry: 0x400000,
				OSABI: elf.ELFOSABI_LINUX,
				Segments: []loader.Segment{
					{
						VirtAddr: 0x400000,
						Data:     code,
						MemSize:  uint64(len(code)),
						Flags:    loader.SegmentFlagRead | loader.SegmentFlagExecute,
					},
					{
						VirtAddr: 0x410010,
						Data:     []byte{1, 2, 3, 4},
						MemSize:  0x2000,
						Flags:    loader.SegmentFlagRead | loader.SegmentFlagWrite,
					},
				},
			}
		})

		It("should round-trip through Load", func() {
			prog, err := loader.Load(writeImage(img))
			Expect(err).NotTo(HaveOccurred())

			Expect(prog.EntryPoint).To(Equal(uint64(0x400000)))
			Expect(prog.OSABI).To(Equal(elf.ELFOSABI_LINUX))
			Expect(prog.Segments).To(HaveLen(3))
			Expect(prog.Segments[1].Data).To(Equal(code))
			Expect(prog.Segments[2].VirtAddr).To(Equal(uint64(0x410010)))
			Expect(prog.Segments[2].Data).To(Equal([]byte{1, 2, 3, 4}))
			Expect(prog.Segments[2].MemSize).To(Equal(uint64(0x2000)))
		})

		It("should map the program headers for AT_PHDR", func() {
			prog, err := loader.Load(writeImage(img))
			Expect(err).NotTo(HaveOccurred())

			Expect(prog.PhdrAddr).To(Equal(uint64(0x3FF000 + 64)))
			Expect(prog.PhdrNum).To(Equal(uint64(3)))
		})

		It("should set the break past the BSS", func() {
			prog, err := loader.Load(writeImage(img))
			Expect(err).NotTo(HaveOccurred())
			Expect(prog.BrkStart).To(Equal(uint64(0x413000)))
		})

		It("should reject images without segments", func() {
			err := loader.WriteELF(&bytes.Buffer{}, loader.Image{Entry: 0x400000})
			Expect(err).To(HaveOccurred())
		})

		It("should reject segments that cannot leave room for headers", func() {
			img.Segments[0].VirtAddr = 0x400010
			err := loader.WriteELF(&bytes.Buffer{}, img)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("LoadInto", func() {
		It("should zero-fill the BSS tail", func() {
			prog := &loader.Program{Segments: []loader.Segment{
				{VirtAddr: 0x1000, Data: []byte{7}, MemSize: 4},
				{VirtAddr: 0x2000, MemSize: 0},
			}}
			w := &recordingWriter{writes: map[uint64][]byte{}}

			Expect(prog.LoadInto(w)).To(Succeed())

			Expect(w.writes).To(HaveLen(1))
			Expect(w.writes[0x1000]).To(Equal([]byte{7, 0, 0, 0}))
		})
	})
})

// createMinimalARM64ELF creates a minimal valid ARM64 ELF64 binary.
func createMinimalARM64ELF(path string, loadAddr, entryPoint uint64, code []byte) {
	// ELF Header (64 bytes)
	elfHeader := make([]byte, 64)

	// Magic number
	copy(elfHeader[0:4], []byte{0x7f, 'E', 'L', 'F'})
	// Class: 64-bit
	elfHeader[4] = 2
	// Data: little endian
	elfHeader[5] = 1
	// Version
	elfHeader[6] = 1
	// OS/ABI
	elfHeader[7] = 0
	// Type: executable
	binary.LittleEndian.PutUint16(elfHeader[16:18], 2)
	// Machine: AArch64
	binary.LittleEndian.PutUint16(elfHeader[18:20], 183)
	// Version
	binary.LittleEndian.PutUint32(elfHeader[20:24], 1)
	// Entry point
	binary.LittleEndian.PutUint64(elfHeader[24:32], entryPoint)
	// Program header offset (right after ELF header)
	binary.LittleEndian.PutUint64(elfHeader[32:40], 64)
	// Section header offset (none)
	binary.LittleEndian.PutUint64(elfHeader[40:48], 0)
	// Flags
	binary.LittleEndian.PutUint32(elfHeader[48:52], 0)
	// ELF header size
	binary.LittleEndian.PutUint16(elfHeader[52:54], 64)
	// Program header entry size
	binary.LittleEndian.PutUint16(elfHeader[54:56], 56)
	// Number of program headers
	binary.LittleEndian.PutUint16(elfHeader[56:58], 1)
	// Section header entry size
	binary.LittleEndian.PutUint16(elfHeader[58:60], 64)
	// Number of section headers
	binary.LittleEndian.PutUint16(elfHeader[60:62], 0)
	// Section name string table index
	binary.LittleEndian.PutUint16(elfHeader[62:64], 0)

	// Program Header (56 bytes) - PT_LOAD
	progHeader := make([]byte, 56)
	// Type: PT_LOAD
	binary.LittleEndian.PutUint32(progHeader[0:4], 1)
	// Flags: PF_X | PF_R (readable + executable)
	binary.LittleEndian.PutUint32(progHeader[4:8], 0x5)
	// Offset in file (after headers)
	binary.LittleEndian.PutUint64(progHeader[8:16], 120)
	// Virtual address
	binary.LittleEndian.PutUint64(progHeader[16:24], loadAddr)
	// Physical address
	binary.LittleEndian.PutUint64(progHeader[24:32], loadAddr)
	// File size
	binary.LittleEndian.PutUint64(progHeader[32:40], uint64(len(code)))
	// Memory size
	binary.LittleEndian.PutUint64(progHeader[40:48], uint64(len(code)))
	// Alignment
	binary.LittleEndian.PutUint64(progHeader[48:56], 0x1000)

	// Write the ELF file
	file, _ := os.Create(path)
	defer func() { _ = file.Close() }()

	_, _ = file.Write(elfHeader)
	_, _ = file.Write(progHeader)
	_, _ = file.Write(code)
}

// createMinimalx86ELF creates a minimal x86-64 ELF to test rejection.
func createMinimalx86ELF(path string) {
	elfHeader := make([]byte, 64)

	copy(elfHeader[0:4], []byte{0x7f, 'E', 'L', 'F'})
	elfHeader[4] = 2                                    // 64-bit
	elfHeader[5] = 1                                    // little endian
	elfHeader[6] = 1                                    // version
	binary.LittleEndian.PutUint16(elfHeader[16:18], 2)  // executable
	binary.LittleEndian.PutUint16(elfHeader[18:20], 62) // x86-64
	binary.LittleEndian.PutUint32(elfHeader[20:24], 1)  // version
	binary.LittleEndian.PutUint64(elfHeader[24:32], 0)  // entry
	binary.LittleEndian.PutUint64(elfHeader[32:40], 64) // phoff
	binary.LittleEndian.PutUint16(elfHeader[52:54], 64) // ehsize
	binary.LittleEndian.PutUint16(elfHeader[54:56], 56) // phentsize
	binary.LittleEndian.PutUint16(elfHeader[56:58], 0)  // phnum

	file, _ := os.Create(path)
	defer func() { _ = file.Close() }()
	_, _ = file.Write(elfHeader)
}

// createMinimal32BitELF creates a minimal 32-bit ELF to test rejection.
func createMinimal32BitELF(path string) {
	elfHeader := make([]byte, 52)

	copy(elfHeader[0:4], []byte{0x7f, 'E', 'L', 'F'})
	elfHeader[4] = 1                                     // 32-bit (ELFCLASS32)
	elfHeader[5] = 1                                     // little endian
	elfHeader[6] = 1                                     // version
	binary.LittleEndian.PutUint16(elfHeader[16:18], 2)   // executable
	binary.LittleEndian.PutUint16(elfHeader[18:20], 183) // ARM64 (won't matter)
	binary.LittleEndian.PutUint32(elfHeader[20:24], 1)   // version

	file, _ := os.Create(path)
	defer func() { _ = file.Close() }()
	_, _ = file.Write(elfHeader)
}
