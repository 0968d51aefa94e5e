package emu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/sarchlab/sesim/insts"
)

// SIMDRegFile holds the SIMD&FP registers V0-V31. Each register is two
// little-endian doublewords; B, H, S and D views are its low bytes.
type SIMDRegFile struct {
	V [32][2]uint64
}

// NewSIMDRegFile creates a zeroed SIMD register file.
func NewSIMDRegFile() *SIMDRegFile {
	return &SIMDRegFile{}
}

// WriteQ sets all 128 bits of a register.
func (r *SIMDRegFile) WriteQ(reg uint8, low, high uint64) {
	r.V[reg&31] = [2]uint64{low, high}
}

// ReadLane reads element lane of size bytes.
func (r *SIMDRegFile) ReadLane(reg, size, lane uint8) uint64 {
	return lane128(r.V[reg&31], size, lane)
}

// WriteLane writes element lane of size bytes, leaving the others intact.
func (r *SIMDRegFile) WriteLane(reg, size, lane uint8, value uint64) {
	setLane128(&r.V[reg&31], size, lane, value)
}

// ReadBytes returns the low n bytes of a register.
func (r *SIMDRegFile) ReadBytes(reg, n uint8) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf, r.V[reg&31][0])
	binary.LittleEndian.PutUint64(buf[8:], r.V[reg&31][1])
	return buf[:n]
}

// WriteBytes loads data into the low bytes of a register and clears the
// rest, as a scalar or vector load does.
func (r *SIMDRegFile) WriteBytes(reg uint8, data []byte) {
	buf := make([]byte, 16)
	copy(buf, data)
	r.WriteQ(reg, binary.LittleEndian.Uint64(buf), binary.LittleEndian.Uint64(buf[8:]))
}

func lane128(v [2]uint64, size, lane uint8) uint64 {
	bit := uint(lane) * uint(size) * 8
	word := v[bit/64&1] >> (bit % 64)
	if size == 8 {
		return word
	}
	return word & (1<<(uint(size)*8) - 1)
}

func setLane128(v *[2]uint64, size, lane uint8, value uint64) {
	bit := uint(lane) * uint(size) * 8
	mask := ^uint64(0)
	if size < 8 {
		mask = 1<<(uint(size)*8) - 1
	}
	w := &v[bit/64&1]
	*w = *w&^(mask<<(bit%64)) | (value&mask)<<(bit%64)
}

// SIMD implements the Advanced SIMD and FP register moves and lane-wise
// arithmetic.
type SIMD struct {
	vregs   *SIMDRegFile
	regFile *RegFile
}

// NewSIMD creates a SIMD unit over the given register files.
func NewSIMD(vregs *SIMDRegFile, regFile *RegFile) *SIMD {
	return &SIMD{vregs: vregs, regFile: regFile}
}

// Execute runs one SIMD or FP move instruction.
func (s *SIMD) Execute(inst *insts.Instruction) error {
	arr := inst.Arrangement

	switch inst.Op {
	case insts.OpVADD:
		s.VADD(inst.Rd, inst.Rn, inst.Rm, arr)
	case insts.OpVSUB:
		s.VSUB(inst.Rd, inst.Rn, inst.Rm, arr)
	case insts.OpVMUL:
		s.VMUL(inst.Rd, inst.Rn, inst.Rm, arr)
	case insts.OpCMEQ:
		s.lanewise(inst.Rd, inst.Rn, inst.Rm, arr, func(a, b uint64) uint64 {
			if a == b {
				return ^uint64(0)
			}
			return 0
		})
	case insts.OpVAND:
		s.lanewise(inst.Rd, inst.Rn, inst.Rm, arr, func(a, b uint64) uint64 { return a & b })
	case insts.OpVORR:
		s.lanewise(inst.Rd, inst.Rn, inst.Rm, arr, func(a, b uint64) uint64 { return a | b })
	case insts.OpVEOR:
		s.lanewise(inst.Rd, inst.Rn, inst.Rm, arr, func(a, b uint64) uint64 { return a ^ b })
	case insts.OpVFADD:
		s.VFADD(inst.Rd, inst.Rn, inst.Rm, arr)
	case insts.OpVFSUB:
		s.VFSUB(inst.Rd, inst.Rn, inst.Rm, arr)
	case insts.OpVFMUL:
		s.VFMUL(inst.Rd, inst.Rn, inst.Rm, arr)
	case insts.OpDUP:
		s.DUP(inst.Rd, inst.Rn, arr)
	case insts.OpINS:
		s.vregs.WriteLane(inst.Rd, arr.ElemBytes(), inst.Lane, s.regFile.ReadReg(inst.Rn))
	case insts.OpUMOV:
		s.regFile.WriteReg(inst.Rd, s.vregs.ReadLane(inst.Rn, arr.ElemBytes(), inst.Lane))
	case insts.OpMOVI:
		high := uint64(0)
		if arr.Full() {
			high = inst.Imm
		}
		s.vregs.WriteQ(inst.Rd, inst.Imm, high)
	case insts.OpFMOVToGP:
		s.regFile.WriteReg(inst.Rd, s.vregs.ReadLane(inst.Rn, fpSize(inst), inst.Lane))
	case insts.OpFMOVFromGP:
		value := s.regFile.ReadReg(inst.Rn)
		if inst.Lane == 1 {
			s.vregs.WriteLane(inst.Rd, 8, 1, value)
			break
		}
		if !inst.Is64Bit {
			value = uint64(uint32(value))
		}
		s.vregs.WriteQ(inst.Rd, value, 0)
	default:
		return fmt.Errorf("%w: %v", ErrUnknownInstruction, inst.Op)
	}

	return nil
}

func fpSize(inst *insts.Instruction) uint8 {
	if inst.Is64Bit {
		return 8
	}
	return 4
}

// VADD performs vector integer addition.
func (s *SIMD) VADD(vd, vn, vm uint8, arr insts.Arrangement) {
	s.lanewise(vd, vn, vm, arr, func(a, b uint64) uint64 { return a + b })
}

// VSUB performs vector integer subtraction.
func (s *SIMD) VSUB(vd, vn, vm uint8, arr insts.Arrangement) {
	s.lanewise(vd, vn, vm, arr, func(a, b uint64) uint64 { return a - b })
}

// VMUL multiplies elements, keeping the low half of each product.
func (s *SIMD) VMUL(vd, vn, vm uint8, arr insts.Arrangement) {
	s.lanewise(vd, vn, vm, arr, func(a, b uint64) uint64 { return a * b })
}

// VFADD performs vector floating-point addition.
func (s *SIMD) VFADD(vd, vn, vm uint8, arr insts.Arrangement) {
	s.floatwise(vd, vn, vm, arr, func(a, b float64) float64 { return a + b })
}

// VFSUB performs vector floating-point subtraction.
func (s *SIMD) VFSUB(vd, vn, vm uint8, arr insts.Arrangement) {
	s.floatwise(vd, vn, vm, arr, func(a, b float64) float64 { return a - b })
}

// VFMUL performs vector floating-point multiplication.
func (s *SIMD) VFMUL(vd, vn, vm uint8, arr insts.Arrangement) {
	s.floatwise(vd, vn, vm, arr, func(a, b float64) float64 { return a * b })
}

// DUP copies the low element of a general-purpose register into every lane.
func (s *SIMD) DUP(vd, rn uint8, arr insts.Arrangement) {
	value := s.regFile.ReadReg(rn)
	var out [2]uint64
	for i := uint8(0); i < arr.Lanes(); i++ {
		setLane128(&out, arr.ElemBytes(), i, value)
	}
	s.vregs.V[vd&31] = out
}

// lanewise applies fn to each element pair. Sources are read before the
// destination is written, and a 64-bit arrangement clears the upper half.
func (s *SIMD) lanewise(vd, vn, vm uint8, arr insts.Arrangement, fn func(a, b uint64) uint64) {
	a, b := s.vregs.V[vn&31], s.vregs.V[vm&31]
	size := arr.ElemBytes()

	var out [2]uint64
	for i := uint8(0); i < arr.Lanes(); i++ {
		setLane128(&out, size, i, fn(lane128(a, size, i), lane128(b, size, i)))
	}
	s.vregs.V[vd&31] = out
}

// floatwise applies fn to single- or double-precision elements. Single
// precision operands are widened to double and the result rounded back.
func (s *SIMD) floatwise(vd, vn, vm uint8, arr insts.Arrangement, fn func(a, b float64) float64) {
	if arr.ElemBytes() == 8 {
		s.lanewise(vd, vn, vm, arr, func(a, b uint64) uint64 {
			return math.Float64bits(fn(math.Float64frombits(a), math.Float64frombits(b)))
		})
		return
	}

	s.lanewise(vd, vn, vm, arr, func(a, b uint64) uint64 {
		x := float64(math.Float32frombits(uint32(a)))
		y := float64(math.Float32frombits(uint32(b)))
		return uint64(math.Float32bits(float32(fn(x, y))))
	})
}
