package emu_test

import (
	"bytes"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/sesim/emu"
	"github.com/sarchlab/sesim/insts"
)

var _ = Describe("SIMD", func() {
	var (
		vregs   *emu.SIMDRegFile
		regFile *emu.RegFile
		simd    *emu.SIMD
	)

	BeforeEach(func() {
		vregs = emu.NewSIMDRegFile()
		regFile = &emu.RegFile{}
		simd = emu.NewSIMD(vregs, regFile)
	})

	Describe("VADD", func() {
		It("should wrap byte lanes and clear the upper half of 8B", func() {
			vregs.WriteQ(0, 0x00000000000000C8, 0xFFFFFFFFFFFFFFFF)
			vregs.WriteQ(1, 0x0000000000000064, 0xFFFFFFFFFFFFFFFF)
			vregs.WriteQ(2, 0, 0x1234)

			simd.VADD(2, 0, 1, insts.Arr8B)

			// 200 + 100 wraps to 44
			Expect(vregs.ReadLane(2, 1, 0)).To(Equal(uint64(44)))
			Expect(vregs.ReadLane(2, 8, 1)).To(BeZero())
		})

		It("should add 4S lanes in place", func() {
			for i := uint8(0); i < 4; i++ {
				vregs.WriteLane(0, 4, i, uint64(i+1)*100)
				vregs.WriteLane(1, 4, i, uint64(i+1)*10)
			}

			simd.VADD(0, 0, 1, insts.Arr4S)

			Expect(vregs.ReadLane(0, 4, 0)).To(Equal(uint64(110)))
			Expect(vregs.ReadLane(0, 4, 3)).To(Equal(uint64(440)))
		})
	})

	It("should subtract and multiply halfword lanes", func() {
		vregs.WriteLane(0, 2, 7, 3)
		vregs.WriteLane(1, 2, 7, 5)

		simd.VSUB(2, 0, 1, insts.Arr8H)
		simd.VMUL(3, 0, 1, insts.Arr8H)

		Expect(vregs.ReadLane(2, 2, 7)).To(Equal(uint64(0xFFFE)))
		Expect(vregs.ReadLane(3, 2, 7)).To(Equal(uint64(15)))
	})

	Describe("floating point", func() {
		It("should add single-precision lanes", func() {
			vregs.WriteLane(1, 4, 0, uint64(math.Float32bits(1.5)))
			vregs.WriteLane(1, 4, 1, uint64(math.Float32bits(2.5)))
			vregs.WriteLane(2, 4, 0, uint64(math.Float32bits(3.0)))
			vregs.WriteLane(2, 4, 1, uint64(math.Float32bits(4.0)))

			simd.VFADD(0, 1, 2, insts.Arr4S)

			Expect(math.Float32frombits(uint32(vregs.ReadLane(0, 4, 0)))).To(Equal(float32(4.5)))
			Expect(math.Float32frombits(uint32(vregs.ReadLane(0, 4, 1)))).To(Equal(float32(6.5)))
		})

		It("should multiply double-precision lanes", func() {
			vregs.WriteQ(1, math.Float64bits(1.5), math.Float64bits(-2))
			vregs.WriteQ(2, math.Float64bits(4), math.Float64bits(0.25))

			simd.VFMUL(0, 1, 2, insts.Arr2D)

			Expect(math.Float64frombits(vregs.ReadLane(0, 8, 0))).To(Equal(6.0))
			Expect(math.Float64frombits(vregs.ReadLane(0, 8, 1))).To(Equal(-0.5))
		})
	})

	Describe("DUP", func() {
		It("should replicate the low byte into 16 lanes", func() {
			regFile.WriteReg(1, 0x1AB)

			simd.DUP(0, 1, insts.Arr16B)

			for i := uint8(0); i < 16; i++ {
				Expect(vregs.ReadLane(0, 1, i)).To(Equal(uint64(0xAB)))
			}
		})

		It("should clear the upper half for 2S", func() {
			vregs.WriteQ(0, 0, ^uint64(0))
			regFile.WriteReg(1, 0xDEADBEEF_00000007)

			simd.DUP(0, 1, insts.Arr2S)

			Expect(vregs.ReadLane(0, 8, 0)).To(Equal(uint64(0x0000000700000007)))
			Expect(vregs.ReadLane(0, 8, 1)).To(BeZero())
		})
	})
})

var _ = Describe("Emulator SIMD&FP", func() {
	var e *emu.Emulator

	BeforeEach(func() {
		e = emu.NewEmulator(emu.WithStdout(&bytes.Buffer{}))
	})

	steps := func(words ...uint32) []emu.StepResult {
		Expect(e.LoadProgram(entry, insts.Program(words...))).To(Succeed())
		var out []emu.StepResult
		for range words {
			r := e.Step()
			Expect(r.Err).ToNot(HaveOccurred())
			out = append(out, r)
		}
		return out
	}

	It("should fill memory with DUP and STP Q", func() {
		steps(
			insts.EncodeMOVZ(1, 0xAB, 0),
			insts.EncodeDUP(true, 0, 0, 1),
			insts.EncodeMOVZ(2, 0x8000, 0),
			insts.EncodeLoadStorePairVector(false, 16, 0, 0, 2, 0, 2),
		)

		data, err := e.Memory().Read(0x8000, 32)
		Expect(err).ToNot(HaveOccurred())
		Expect(data).To(Equal(bytes.Repeat([]byte{0xAB}, 32)))
	})

	It("should copy 32 bytes with LDP and STP Q and report 16-byte accesses", func() {
		src := make([]byte, 32)
		for i := range src {
			src[i] = byte(i)
		}
		Expect(e.Memory().Write(0x8000, src)).To(Succeed())

		rs := steps(
			insts.EncodeMOVZ(1, 0x8000, 0),
			insts.EncodeMOVZ(2, 0x9000, 0),
			insts.EncodeLoadStorePairVector(true, 16, 0, 1, 1, 0, 2),
			insts.EncodeLoadStorePairVector(false, 16, 0, 1, 2, 32, 1),
		)

		Expect(rs[2].Accesses).To(Equal([]emu.MemAccess{
			{Addr: 0x8000, Size: 16},
			{Addr: 0x8010, Size: 16},
		}))
		Expect(rs[3].Accesses).To(Equal([]emu.MemAccess{
			{Addr: 0x9000, Size: 16, Write: true},
			{Addr: 0x9010, Size: 16, Write: true},
		}))

		dst, err := e.Memory().Read(0x9000, 32)
		Expect(err).ToNot(HaveOccurred())
		Expect(dst).To(Equal(src))
		Expect(e.RegFile().ReadReg(2)).To(Equal(uint64(0x9020)))
	})

	It("should clear the rest of the register on a D load", func() {
		Expect(e.Memory().Write(0x8000, []byte{1, 2, 3, 4, 5, 6, 7, 8})).To(Succeed())
		e.SIMDRegFile().WriteQ(3, ^uint64(0), ^uint64(0))

		steps(
			insts.EncodeMOVZ(1, 0x8000, 0),
			insts.EncodeLoadStoreVector(true, 8, 3, 1, 0),
		)

		Expect(e.SIMDRegFile().ReadLane(3, 8, 0)).To(Equal(uint64(0x0807060504030201)))
		Expect(e.SIMDRegFile().ReadLane(3, 8, 1)).To(BeZero())
	})

	It("should store only the low bytes of an S register", func() {
		Expect(e.Memory().Write(0x8000, bytes.Repeat([]byte{0xEE}, 8))).To(Succeed())
		e.SIMDRegFile().WriteQ(4, 0x1122334455667788, 0)

		steps(
			insts.EncodeMOVZ(1, 0x8000, 0),
			insts.EncodeLoadStoreVector(false, 4, 4, 1, 0),
		)

		data, _ := e.Memory().Read(0x8000, 8)
		Expect(data).To(Equal([]byte{0x88, 0x77, 0x66, 0x55, 0xEE, 0xEE, 0xEE, 0xEE}))
	})

	It("should move bits through FMOV without conversion", func() {
		steps(
			insts.EncodeMOVZ(1, 7, 0),
			insts.EncodeFMOVFromGP(true, 0, 1),
			insts.EncodeFMOVToGP(true, 2, 0),
		)

		Expect(e.RegFile().ReadReg(2)).To(Equal(uint64(7)))
		Expect(e.SIMDRegFile().ReadLane(0, 8, 1)).To(BeZero())
	})

	It("should insert and extract a halfword lane", func() {
		steps(
			insts.EncodeMOVZ(4, 0x1234, 0),
			insts.EncodeINS(1, 3, 5, 4),
			insts.EncodeUMOV(1, 3, 6, 5),
		)

		Expect(e.SIMDRegFile().ReadLane(5, 2, 3)).To(Equal(uint64(0x1234)))
		Expect(e.RegFile().ReadReg(6)).To(Equal(uint64(0x1234)))
	})

	It("should set all bytes with MOVI and clear the upper half of the 64-bit form", func() {
		e.SIMDRegFile().WriteQ(1, 0, ^uint64(0))

		steps(
			insts.EncodeMOVI(true, false, 0b1110, 0xFF, 0),
			insts.EncodeMOVI(false, false, 0b1110, 0x5A, 1),
		)

		Expect(e.SIMDRegFile().ReadLane(0, 8, 1)).To(Equal(^uint64(0)))
		Expect(e.SIMDRegFile().ReadLane(1, 8, 0)).To(Equal(uint64(0x5A5A5A5A5A5A5A5A)))
		Expect(e.SIMDRegFile().ReadLane(1, 8, 1)).To(BeZero())
	})

	It("should copy a register with MOV V.16B", func() {
		e.SIMDRegFile().WriteQ(2, 0xAAAA, 0xBBBB)

		steps(insts.EncodeVMOV(1, 2))

		Expect(e.SIMDRegFile().ReadLane(1, 8, 0)).To(Equal(uint64(0xAAAA)))
		Expect(e.SIMDRegFile().ReadLane(1, 8, 1)).To(Equal(uint64(0xBBBB)))
	})
})
