package workload_test

import (
	"bytes"
	"debug/elf"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/sesim/emu"
	"github.com/sarchlab/sesim/insts"
	"github.com/sarchlab/sesim/loader"
	"github.com/sarchlab/sesim/mem"
	"github.com/sarchlab/sesim/workload"
)

func writeExecutable(dir string, osabi elf.OSABI, code []byte) string {
	buf := &bytes.Buffer{}
	Expect(loader.WriteELF(buf, loader.Image{
		Entry: 0x400000,
		OSABI: osabi,
		Segments: []loader.Segment{{
			VirtAddr: 0x400000,
			Data:     code,
			MemSize:  uint64(len(code)),
			Flags:    loader.SegmentFlagRead | loader.SegmentFlagExecute,
		}},
	})).To(Succeed())

	path := filepath.Join(dir, "prog")
	Expect(os.WriteFile(path, buf.Bytes(), 0o755)).To(Succeed())
	return path
}

var _ = Describe("SE workload", func() {
	var (
		dir  string
		code []byte
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		// x0 = argc; exit(x0)
		code = insts.Program(
			insts.EncodeLDR64(0, 31, 0),
			insts.EncodeMOVZ(8, 93, 0),
			insts.EncodeSVC(0),
		)
	})

	Describe("InitCompatible", func() {
		It("should accept Linux and System V executables", func() {
			for _, abi := range []elf.OSABI{elf.ELFOSABI_NONE, elf.ELFOSABI_LINUX} {
				w, err := workload.InitCompatible(writeExecutable(dir, abi, code))
				Expect(err).ToNot(HaveOccurred())
				Expect(w.Program.EntryPoint).To(Equal(uint64(0x400000)))
			}
		})

		It("should reject other operating systems", func() {
			_, err := workload.InitCompatible(writeExecutable(dir, elf.ELFOSABI_FREEBSD, code))
			Expect(err).To(MatchError(workload.ErrNoCompatibleWorkload))
		})

		It("should reject files that are not executables", func() {
			path := filepath.Join(dir, "script.sh")
			Expect(os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755)).To(Succeed())

			_, err := workload.InitCompatible(path)
			Expect(err).To(MatchError(workload.ErrNoCompatibleWorkload))
			Expect(err.Error()).To(ContainSubstring("no compatible SE workload"))
		})
	})

	Describe("Load", func() {
		var (
			phys    *mem.PhysicalMemory
			process *workload.Process
			stdout  *bytes.Buffer
			w       *workload.SEWorkload
		)

		BeforeEach(func() {
			var err error
			w, err = workload.InitCompatible(writeExecutable(dir, elf.ELFOSABI_LINUX, code))
			Expect(err).ToNot(HaveOccurred())

			phys = mem.NewPhysicalMemory(mem.NewAddrRange(1 << 24))
			stdout = &bytes.Buffer{}
			process = workload.NewProcess(w.Path, []string{"prog", "-n", "3"})
			process.Env = []string{"HOME=/tmp"}
			process.Stdout = stdout
		})

		load := func() *workload.Thread {
			t, err := w.Load(process, phys, logrus.New())
			Expect(err).ToNot(HaveOccurred())
			return t
		}

		It("should start at the entry point with an aligned stack", func() {
			t := load()
			regs := t.Emulator.RegFile()

			Expect(regs.PC).To(Equal(uint64(0x400000)))
			Expect(regs.SP % 16).To(BeZero())
			Expect(regs.SP).To(BeNumerically("<", loader.DefaultStackTop))
		})

		It("should lay out argc, argv and envp", func() {
			t := load()
			m := t.Emulator.Memory()
			sp := t.Emulator.RegFile().SP

			argc, err := emu.ReadUint(m, sp, 8)
			Expect(err).ToNot(HaveOccurred())
			Expect(argc).To(Equal(uint64(3)))

			var args []string
			for i := uint64(0); i < argc; i++ {
				ptr, err := emu.ReadUint(m, sp+8+i*8, 8)
				Expect(err).ToNot(HaveOccurred())
				s, err := emu.ReadCString(m, ptr, 256)
				Expect(err).ToNot(HaveOccurred())
				args = append(args, s)
			}
			Expect(args).To(Equal([]string{"prog", "-n", "3"}))

			null, err := emu.ReadUint(m, sp+8+argc*8, 8)
			Expect(err).ToNot(HaveOccurred())
			Expect(null).To(BeZero())

			envPtr, err := emu.ReadUint(m, sp+16+argc*8, 8)
			Expect(err).ToNot(HaveOccurred())
			env, err := emu.ReadCString(m, envPtr, 256)
			Expect(err).ToNot(HaveOccurred())
			Expect(env).To(Equal("HOME=/tmp"))
		})

		It("should publish the entry point in the auxiliary vector", func() {
			t := load()
			m := t.Emulator.Memory()
			// argc, 3 argv, NULL, 1 envp, NULL
			auxv := t.Emulator.RegFile().SP + 7*8

			found := map[uint64]uint64{}
			for i := uint64(0); ; i++ {
				key, err := emu.ReadUint(m, auxv+i*16, 8)
				Expect(err).ToNot(HaveOccurred())
				value, err := emu.ReadUint(m, auxv+i*16+8, 8)
				Expect(err).ToNot(HaveOccurred())
				if key == workload.AtNull {
					break
				}
				found[key] = value
			}

			Expect(found).To(HaveKeyWithValue(uint64(workload.AtEntry), uint64(0x400000)))
			Expect(found).To(HaveKeyWithValue(uint64(workload.AtPagesz), uint64(workload.PageSize)))
			Expect(found).To(HaveKeyWithValue(uint64(workload.AtPhdr), w.Program.PhdrAddr))
			Expect(found).To(HaveKey(uint64(workload.AtRandom)))
		})

		It("should run the program to completion", func() {
			t := load()
			defer t.Close()

			exitCode, err := t.Emulator.Run()
			Expect(err).ToNot(HaveOccurred())
			Expect(exitCode).To(Equal(int64(3)))
		})
	})
})
