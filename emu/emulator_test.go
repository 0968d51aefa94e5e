package emu_test

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/sesim/emu"
	"github.com/sarchlab/sesim/insts"
)

const entry = 0x1000

// exitWith appends "mov x8, #93; svc #0" to a program.
func exitWith(words ...uint32) []byte {
	words = append(words, insts.EncodeMOVZ(8, 93, 0), insts.EncodeSVC(0))
	return insts.Program(words...)
}

var _ = Describe("Emulator", func() {
	var (
		e         *emu.Emulator
		stdoutBuf *bytes.Buffer
	)

	BeforeEach(func() {
		stdoutBuf = &bytes.Buffer{}
		e = emu.NewEmulator(
			emu.WithStdout(stdoutBuf),
			emu.WithStackPointer(0x7FFF0000),
		)
	})

	run := func(program []byte) int64 {
		Expect(e.LoadProgram(entry, program)).To(Succeed())
		code, err := e.Run()
		Expect(err).ToNot(HaveOccurred())
		return code
	}

	Describe("Step", func() {
		It("should report the executed instruction", func() {
			Expect(e.LoadProgram(entry, insts.Program(insts.EncodeADDImm(0, 0, 5, false)))).To(Succeed())

			r := e.Step()

			Expect(r.Err).ToNot(HaveOccurred())
			Expect(r.PC).To(Equal(uint64(entry)))
			Expect(r.NextPC).To(Equal(uint64(entry + 4)))
			Expect(r.Inst.Op).To(Equal(insts.OpADD))
			Expect(e.RegFile().ReadReg(0)).To(Equal(uint64(5)))
			Expect(e.InstructionCount()).To(Equal(uint64(1)))
		})

		It("should report taken branches and their target", func() {
			Expect(e.LoadProgram(entry, insts.Program(insts.EncodeB(12)))).To(Succeed())

			r := e.Step()

			Expect(r.Taken).To(BeTrue())
			Expect(r.NextPC).To(Equal(uint64(entry + 12)))
			Expect(e.RegFile().PC).To(Equal(uint64(entry + 12)))
		})

		It("should report data accesses", func() {
			e.RegFile().WriteReg(1, 0x8000)
			Expect(e.LoadProgram(entry, insts.Program(insts.EncodeSTR64(0, 1, 2)))).To(Succeed())

			r := e.Step()

			Expect(r.Accesses).To(Equal([]emu.MemAccess{{Addr: 0x8010, Size: 8, Write: true}}))
		})

		It("should fail on unknown instructions and name the pc", func() {
			Expect(e.LoadProgram(entry, insts.Program(0))).To(Succeed())

			r := e.Step()

			Expect(r.Err).To(MatchError(emu.ErrUnknownInstruction))
			Expect(r.Err.Error()).To(ContainSubstring("0x1000"))
			Expect(e.RegFile().PC).To(Equal(uint64(entry)))
		})

		It("should exit with -1 on BRK", func() {
			Expect(e.LoadProgram(entry, insts.Program(insts.EncodeBRK(0)))).To(Succeed())

			r := e.Step()

			Expect(r.Exited).To(BeTrue())
			Expect(r.ExitCode).To(Equal(int64(-1)))
			Expect(r.Err).To(MatchError(emu.ErrBreakpoint))
		})

		It("should keep reporting the exit after the program ends", func() {
			run(exitWith(insts.EncodeMOVZ(0, 3, 0)))

			r := e.Step()
			Expect(r.Exited).To(BeTrue())
			Expect(r.ExitCode).To(Equal(int64(3)))
		})
	})

	Describe("arithmetic", func() {
		It("should compute a counted loop", func() {
			// x0 = 0; x1 = 10; loop: x0 += 3; x1 -= 1; cbnz x1, loop
			code := run(exitWith(
				insts.EncodeMOVZ(0, 0, 0),
				insts.EncodeMOVZ(1, 10, 0),
				insts.EncodeADDImm(0, 0, 3, false),
				insts.EncodeSUBImm(1, 1, 1, false),
				insts.EncodeCBNZ(1, -8),
			))
			Expect(code).To(Equal(int64(30)))
		})

		It("should set flags on SUBS and branch on them", func() {
			// x0 = 5; cmp x0, #5; b.eq +8; mov x0, #1; (exit)
			code := run(exitWith(
				insts.EncodeMOVZ(0, 5, 0),
				insts.EncodeCMPImm(0, 5),
				insts.EncodeBCond(8, insts.CondEQ),
				insts.EncodeMOVZ(0, 1, 0),
			))
			Expect(code).To(Equal(int64(5)))
			Expect(e.RegFile().PSTATE.Z).To(BeTrue())
			Expect(e.RegFile().PSTATE.C).To(BeTrue())
		})

		It("should handle SP as ADD immediate operand", func() {
			e.RegFile().SP = 0x1000
			run(exitWith(insts.EncodeSUBImm(31, 31, 16, false)))
			Expect(e.RegFile().SP).To(Equal(uint64(0xFF0)))
		})

		It("should multiply and divide", func() {
			e.RegFile().WriteReg(1, 7)
			e.RegFile().WriteReg(2, 6)
			run(exitWith(
				insts.EncodeMUL(3, 1, 2),
				insts.EncodeUDIV(4, 3, 1),
				insts.EncodeUDIV(5, 3, 31),
				insts.EncodeMOVReg(0, 3),
			))
			Expect(e.RegFile().ReadReg(3)).To(Equal(uint64(42)))
			Expect(e.RegFile().ReadReg(4)).To(Equal(uint64(6)))
			Expect(e.RegFile().ReadReg(5)).To(Equal(uint64(0)))
		})

		It("should build 64-bit constants with MOVZ/MOVK", func() {
			words := insts.EncodeMOVImm64(2, 0x1122334455667788)
			run(exitWith(words...))
			Expect(e.RegFile().ReadReg(2)).To(Equal(uint64(0x1122334455667788)))
		})

		It("should shift with UBFM aliases", func() {
			e.RegFile().WriteReg(1, 0xF0)
			run(exitWith(
				insts.EncodeLSLImm(2, 1, 4),
				insts.EncodeLSRImm(3, 1, 4),
			))
			Expect(e.RegFile().ReadReg(2)).To(Equal(uint64(0xF00)))
			Expect(e.RegFile().ReadReg(3)).To(Equal(uint64(0xF)))
		})

		It("should sign-extend with SBFM", func() {
			e.RegFile().WriteReg(1, 0x80)
			// SXTB x2, w1
			run(exitWith(insts.EncodeBitfield(true, 0b00, 2, 1, 0, 7)))
			Expect(e.RegFile().ReadReg(2)).To(Equal(uint64(0xFFFFFFFFFFFFFF80)))
		})

		It("should conditionally select and increment", func() {
			e.RegFile().WriteReg(1, 10)
			e.RegFile().WriteReg(2, 20)
			run(exitWith(
				insts.EncodeCMPReg(1, 2),
				insts.EncodeCondSelect(true, 0, 0, 3, 1, 2, insts.CondLT),
				insts.EncodeCondSelect(true, 0, 1, 4, 1, 2, insts.CondGT),
			))
			Expect(e.RegFile().ReadReg(3)).To(Equal(uint64(10)))
			Expect(e.RegFile().ReadReg(4)).To(Equal(uint64(21)))
		})

		It("should apply CCMP only when the condition holds", func() {
			e.RegFile().WriteReg(1, 3)
			run(exitWith(
				insts.EncodeCMPImm(1, 4),                       // NE
				insts.EncodeCCMPImm(1, 3, 0b0000, insts.CondEQ), // not taken, flags = 0000
			))
			Expect(e.RegFile().PSTATE.NZCV()).To(Equal(uint8(0)))
		})
	})

	Describe("memory", func() {
		It("should store and reload through pre/post-indexed pairs", func() {
			e.RegFile().WriteReg(1, 11)
			e.RegFile().WriteReg(2, 22)
			e.RegFile().SP = 0x9000
			run(exitWith(
				insts.EncodeLoadStorePair(false, 1, 2, 31, -16, 3),
				insts.EncodeLoadStorePair(true, 3, 4, 31, 16, 1),
			))
			Expect(e.RegFile().ReadReg(3)).To(Equal(uint64(11)))
			Expect(e.RegFile().ReadReg(4)).To(Equal(uint64(22)))
			Expect(e.RegFile().SP).To(Equal(uint64(0x9000)))
		})

		It("should sign-extend byte loads", func() {
			Expect(e.Memory().Write(0x8000, []byte{0xFE})).To(Succeed())
			e.RegFile().WriteReg(1, 0x8000)
			run(exitWith(
				insts.EncodeLoadStoreImm(0, 2, 2, 1, 0), // LDRSB x2
				insts.EncodeLoadStoreImm(0, 1, 3, 1, 0), // LDRB w3
			))
			Expect(e.RegFile().ReadReg(2)).To(Equal(uint64(0xFFFFFFFFFFFFFFFE)))
			Expect(e.RegFile().ReadReg(3)).To(Equal(uint64(0xFE)))
		})

		It("should load PC-relative literals", func() {
			// ldr x0, =lit; (exit); lit
			prog := exitWith(insts.EncodeLDRLiteral(0, 12))
			prog = append(prog, 42, 0, 0, 0, 0, 0, 0, 0)
			Expect(run(prog)).To(Equal(int64(42)))
		})

		It("should succeed a store-exclusive after a load-exclusive", func() {
			e.RegFile().WriteReg(1, 0x8000)
			e.RegFile().WriteReg(2, 9)
			run(exitWith(
				0xC85FFC20, // LDAXR x0, [x1]
				0xC803FC22, // STLXR w3, x2, [x1]
			))
			v, err := emu.ReadUint(e.Memory(), 0x8000, 8)
			Expect(err).ToNot(HaveOccurred())
			Expect(v).To(Equal(uint64(9)))
			Expect(e.RegFile().ReadReg(3)).To(Equal(uint64(0)))
		})
	})

	Describe("calls", func() {
		It("should link and return", func() {
			// bl +12; (exit block at +4..); func: mov x0,#7; ret
			code := run(insts.Program(
				insts.EncodeBL(12),
				insts.EncodeMOVZ(8, 93, 0),
				insts.EncodeSVC(0),
				insts.EncodeMOVZ(0, 7, 0),
				insts.EncodeRET(),
			))
			Expect(code).To(Equal(int64(7)))
		})
	})

	Describe("system registers", func() {
		It("should round-trip TPIDR_EL0", func() {
			e.RegFile().WriteReg(1, 0xABCD)
			run(exitWith(
				0xD51BD041, // MSR TPIDR_EL0, x1
				insts.EncodeMRSTPIDR(2),
			))
			Expect(e.RegFile().ReadReg(2)).To(Equal(uint64(0xABCD)))
		})
	})
})
