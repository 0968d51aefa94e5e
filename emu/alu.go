package emu

import (
	"fmt"
	"math/bits"

	"github.com/sarchlab/sesim/insts"
)

// ALU implements AArch64 integer data-processing instructions.
type ALU struct {
	regFile *RegFile
}

// NewALU creates a new ALU connected to the given register file.
func NewALU(regFile *RegFile) *ALU {
	return &ALU{regFile: regFile}
}

func widthMask(is64 bool) uint64 {
	if is64 {
		return ^uint64(0)
	}
	return 0xFFFFFFFF
}

func datasize(is64 bool) uint {
	if is64 {
		return 64
	}
	return 32
}

func ones(n uint) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << n) - 1
}

// AddWithCarry computes x + y + carry at the given width and returns the
// result with the resulting NZCV flags.
func AddWithCarry(x, y uint64, carry bool, is64 bool) (uint64, PSTATE) {
	var c uint64
	if carry {
		c = 1
	}

	var result uint64
	var flags PSTATE

	if is64 {
		sum, carryOut := bits.Add64(x, y, c)
		result = sum
		flags.C = carryOut == 1
		flags.V = (x>>63 == y>>63) && (sum>>63 != x>>63)
		flags.N = sum>>63 == 1
	} else {
		x32, y32 := x&0xFFFFFFFF, y&0xFFFFFFFF
		sum := x32 + y32 + c
		result = sum & 0xFFFFFFFF
		flags.C = sum>>32 == 1
		flags.V = (x32>>31 == y32>>31) && (result>>31 != x32>>31)
		flags.N = result>>31 == 1
	}
	flags.Z = result == 0

	return result, flags
}

func logicFlags(result uint64, is64 bool) PSTATE {
	msb := uint(31)
	if is64 {
		msb = 63
	}
	return PSTATE{N: result>>msb&1 == 1, Z: result == 0}
}

// ShiftReg applies a register shift at the given width.
func ShiftReg(value uint64, st insts.ShiftType, amount uint8, is64 bool) uint64 {
	size := datasize(is64)
	value &= widthMask(is64)
	amt := uint(amount) % size

	switch st {
	case insts.ShiftLSL:
		return (value << amt) & widthMask(is64)
	case insts.ShiftLSR:
		return value >> amt
	case insts.ShiftASR:
		if is64 {
			return uint64(int64(value) >> amt)
		}
		return uint64(uint32(int32(uint32(value)) >> amt))
	case insts.ShiftROR:
		if is64 {
			return bits.RotateLeft64(value, -int(amt))
		}
		return uint64(bits.RotateLeft32(uint32(value), -int(amt)))
	}
	return value
}

// ExtendReg applies an extend-and-shift to a register operand.
func ExtendReg(value uint64, ext insts.ExtendType, shift uint8) uint64 {
	var v uint64
	switch ext {
	case insts.ExtendUXTB:
		v = uint64(uint8(value))
	case insts.ExtendUXTH:
		v = uint64(uint16(value))
	case insts.ExtendUXTW:
		v = uint64(uint32(value))
	case insts.ExtendUXTX, insts.ExtendSXTX:
		v = value
	case insts.ExtendSXTB:
		v = uint64(int64(int8(value)))
	case insts.ExtendSXTH:
		v = uint64(int64(int16(value)))
	case insts.ExtendSXTW:
		v = uint64(int64(int32(value)))
	}
	return v << shift
}

// Execute runs a data-processing instruction at pc.
func (a *ALU) Execute(inst *insts.Instruction, pc uint64) error {
	switch inst.Format {
	case insts.FormatDPImm:
		a.addSub(inst, a.regFile.read(inst.Rn, inst.RnIsSP), inst.Imm<<inst.Shift)
	case insts.FormatDPReg:
		if inst.Op == insts.OpADD || inst.Op == insts.OpSUB {
			op2 := ShiftReg(a.regFile.ReadReg(inst.Rm), inst.ShiftType, inst.ShiftAmount, inst.Is64Bit)
			a.addSub(inst, a.regFile.ReadReg(inst.Rn), op2)
			return nil
		}
		op2 := ShiftReg(a.regFile.ReadReg(inst.Rm), inst.ShiftType, inst.ShiftAmount, inst.Is64Bit)
		a.logical(inst, a.regFile.ReadReg(inst.Rn), op2, false)
	case insts.FormatDPExt:
		op2 := ExtendReg(a.regFile.ReadReg(inst.Rm), inst.ExtendType, inst.ShiftAmount)
		a.addSub(inst, a.regFile.read(inst.Rn, inst.RnIsSP), op2)
	case insts.FormatDPCarry:
		a.addSubCarry(inst)
	case insts.FormatLogicalImm:
		a.logical(inst, a.regFile.ReadReg(inst.Rn), inst.Imm, inst.RdIsSP)
	case insts.FormatMoveWide:
		a.moveWide(inst)
	case insts.FormatPCRel:
		if inst.Op == insts.OpADRP {
			a.regFile.WriteReg(inst.Rd, uint64(int64(pc&^0xFFF)+inst.BranchOffset))
		} else {
			a.regFile.WriteReg(inst.Rd, uint64(int64(pc)+inst.BranchOffset))
		}
	case insts.FormatBitfield:
		a.bitfield(inst)
	case insts.FormatExtract:
		a.extract(inst)
	case insts.FormatCondSelect:
		a.condSelect(inst)
	case insts.FormatCondCmp:
		a.condCompare(inst)
	case insts.FormatDataProc1Src:
		a.dataProc1(inst)
	case insts.FormatDataProc2Src:
		a.dataProc2(inst)
	case insts.FormatDataProc3Src:
		a.dataProc3(inst)
	default:
		return fmt.Errorf("%w: %s is not a data-processing instruction", ErrUnknownInstruction, inst.Op)
	}
	return nil
}

func (a *ALU) addSub(inst *insts.Instruction, op1, op2 uint64) {
	var result uint64
	var flags PSTATE
	if inst.Op == insts.OpSUB {
		result, flags = AddWithCarry(op1, ^op2, true, inst.Is64Bit)
	} else {
		result, flags = AddWithCarry(op1, op2, false, inst.Is64Bit)
	}

	if inst.SetFlags {
		a.regFile.PSTATE = flags
	}
	a.regFile.write(inst.Rd, result, inst.RdIsSP)
}

func (a *ALU) addSubCarry(inst *insts.Instruction) {
	op1 := a.regFile.ReadReg(inst.Rn)
	op2 := a.regFile.ReadReg(inst.Rm)
	if inst.Op == insts.OpSBC {
		op2 = ^op2
	}

	result, flags := AddWithCarry(op1, op2, a.regFile.PSTATE.C, inst.Is64Bit)
	if inst.SetFlags {
		a.regFile.PSTATE = flags
	}
	a.regFile.WriteReg(inst.Rd, result)
}

func (a *ALU) logical(inst *insts.Instruction, op1, op2 uint64, rdIsSP bool) {
	switch inst.Op {
	case insts.OpBIC, insts.OpORN, insts.OpEON:
		op2 = ^op2
	}

	var result uint64
	switch inst.Op {
	case insts.OpAND, insts.OpBIC:
		result = op1 & op2
	case insts.OpORR, insts.OpORN:
		result = op1 | op2
	case insts.OpEOR, insts.OpEON:
		result = op1 ^ op2
	}
	result &= widthMask(inst.Is64Bit)

	if inst.SetFlags {
		a.regFile.PSTATE = logicFlags(result, inst.Is64Bit)
	}
	a.regFile.write(inst.Rd, result, rdIsSP)
}

func (a *ALU) moveWide(inst *insts.Instruction) {
	imm := inst.Imm << inst.Shift
	mask := widthMask(inst.Is64Bit)

	var result uint64
	switch inst.Op {
	case insts.OpMOVZ:
		result = imm
	case insts.OpMOVN:
		result = ^imm
	case insts.OpMOVK:
		result = (a.regFile.ReadReg(inst.Rd) &^ (0xFFFF << inst.Shift)) | imm
	}
	a.regFile.WriteReg(inst.Rd, result&mask)
}

func (a *ALU) bitfield(inst *insts.Instruction) {
	size := datasize(inst.Is64Bit)
	src := a.regFile.ReadReg(inst.Rn) & widthMask(inst.Is64Bit)
	dst := a.regFile.ReadReg(inst.Rd) & widthMask(inst.Is64Bit)
	r := uint(inst.Immr) % size
	s := uint(inst.Imms) % size

	var field, fieldMask uint64
	var width, pos uint
	if s >= r {
		width = s - r + 1
		pos = 0
		field = (src >> r) & ones(width)
	} else {
		width = s + 1
		pos = size - r
		field = src & ones(width)
	}
	fieldMask = ones(width) << pos

	var result uint64
	switch inst.Op {
	case insts.OpUBFM:
		result = field << pos
	case insts.OpSBFM:
		signed := uint64(int64(field<<(64-width)) >> (64 - width))
		result = signed << pos
	case insts.OpBFM:
		result = (dst &^ fieldMask) | (field << pos)
	}
	a.regFile.WriteReg(inst.Rd, result&widthMask(inst.Is64Bit))
}

func (a *ALU) extract(inst *insts.Instruction) {
	size := datasize(inst.Is64Bit)
	lsb := uint(inst.Imms) % size
	hi := a.regFile.ReadReg(inst.Rn) & widthMask(inst.Is64Bit)
	lo := a.regFile.ReadReg(inst.Rm) & widthMask(inst.Is64Bit)

	result := lo
	if lsb != 0 {
		result = (lo >> lsb) | (hi << (size - lsb))
	}
	a.regFile.WriteReg(inst.Rd, result&widthMask(inst.Is64Bit))
}

func (a *ALU) condSelect(inst *insts.Instruction) {
	mask := widthMask(inst.Is64Bit)
	if ConditionHolds(inst.Cond, a.regFile.PSTATE) {
		a.regFile.WriteReg(inst.Rd, a.regFile.ReadReg(inst.Rn)&mask)
		return
	}

	op2 := a.regFile.ReadReg(inst.Rm)
	switch inst.Op {
	case insts.OpCSINC:
		op2++
	case insts.OpCSINV:
		op2 = ^op2
	case insts.OpCSNEG:
		op2 = -op2
	}
	a.regFile.WriteReg(inst.Rd, op2&mask)
}

func (a *ALU) condCompare(inst *insts.Instruction) {
	if !ConditionHolds(inst.Cond, a.regFile.PSTATE) {
		a.regFile.PSTATE.SetNZCV(inst.NZCV)
		return
	}

	op1 := a.regFile.ReadReg(inst.Rn)
	op2 := inst.Imm
	if !inst.CmpIsImm {
		op2 = a.regFile.ReadReg(inst.Rm)
	}

	var flags PSTATE
	if inst.Op == insts.OpCCMP {
		_, flags = AddWithCarry(op1, ^op2, true, inst.Is64Bit)
	} else {
		_, flags = AddWithCarry(op1, op2, false, inst.Is64Bit)
	}
	a.regFile.PSTATE = flags
}

func (a *ALU) dataProc1(inst *insts.Instruction) {
	src := a.regFile.ReadReg(inst.Rn)

	var result uint64
	if inst.Is64Bit {
		switch inst.Op {
		case insts.OpRBIT:
			result = bits.Reverse64(src)
		case insts.OpREV16:
			result = ((src & 0x00FF00FF00FF00FF) << 8) | ((src >> 8) & 0x00FF00FF00FF00FF)
		case insts.OpREV32:
			lo := bits.ReverseBytes32(uint32(src))
			hi := bits.ReverseBytes32(uint32(src >> 32))
			result = uint64(hi)<<32 | uint64(lo)
		case insts.OpREV:
			result = bits.ReverseBytes64(src)
		case insts.OpCLZ:
			result = uint64(bits.LeadingZeros64(src))
		case insts.OpCLS:
			result = uint64(bits.LeadingZeros64(src^(src<<1)|1)) // counts bits equal to the sign bit
		}
	} else {
		s := uint32(src)
		switch inst.Op {
		case insts.OpRBIT:
			result = uint64(bits.Reverse32(s))
		case insts.OpREV16:
			result = uint64(((s & 0x00FF00FF) << 8) | ((s >> 8) & 0x00FF00FF))
		case insts.OpREV:
			result = uint64(bits.ReverseBytes32(s))
		case insts.OpCLZ:
			result = uint64(bits.LeadingZeros32(s))
		case insts.OpCLS:
			result = uint64(bits.LeadingZeros32(s^(s<<1) | 1))
		}
	}
	a.regFile.WriteReg(inst.Rd, result)
}

func (a *ALU) dataProc2(inst *insts.Instruction) {
	mask := widthMask(inst.Is64Bit)
	op1 := a.regFile.ReadReg(inst.Rn) & mask
	op2 := a.regFile.ReadReg(inst.Rm) & mask

	var result uint64
	switch inst.Op {
	case insts.OpUDIV:
		if op2 != 0 {
			result = op1 / op2
		}
	case insts.OpSDIV:
		result = signedDivide(op1, op2, inst.Is64Bit)
	case insts.OpLSLV:
		result = ShiftReg(op1, insts.ShiftLSL, uint8(op2%uint64(datasize(inst.Is64Bit))), inst.Is64Bit)
	case insts.OpLSRV:
		result = ShiftReg(op1, insts.ShiftLSR, uint8(op2%uint64(datasize(inst.Is64Bit))), inst.Is64Bit)
	case insts.OpASRV:
		result = ShiftReg(op1, insts.ShiftASR, uint8(op2%uint64(datasize(inst.Is64Bit))), inst.Is64Bit)
	case insts.OpRORV:
		result = ShiftReg(op1, insts.ShiftROR, uint8(op2%uint64(datasize(inst.Is64Bit))), inst.Is64Bit)
	}
	a.regFile.WriteReg(inst.Rd, result&mask)
}

func signedDivide(op1, op2 uint64, is64 bool) uint64 {
	if op2 == 0 {
		return 0
	}
	if is64 {
		return uint64(int64(op1) / int64(op2))
	}
	return uint64(uint32(int32(uint32(op1)) / int32(uint32(op2))))
}

func (a *ALU) dataProc3(inst *insts.Instruction) {
	rn := a.regFile.ReadReg(inst.Rn)
	rm := a.regFile.ReadReg(inst.Rm)
	ra := a.regFile.ReadReg(inst.Ra)

	var result uint64
	switch inst.Op {
	case insts.OpMADD:
		result = ra + rn*rm
	case insts.OpMSUB:
		result = ra - rn*rm
	case insts.OpSMADDL:
		result = ra + uint64(int64(int32(rn))*int64(int32(rm)))
	case insts.OpSMSUBL:
		result = ra - uint64(int64(int32(rn))*int64(int32(rm)))
	case insts.OpUMADDL:
		result = ra + uint64(uint32(rn))*uint64(uint32(rm))
	case insts.OpUMSUBL:
		result = ra - uint64(uint32(rn))*uint64(uint32(rm))
	case insts.OpUMULH:
		result, _ = bits.Mul64(rn, rm)
	case insts.OpSMULH:
		hi, _ := bits.Mul64(rn, rm)
		if int64(rn) < 0 {
			hi -= rm
		}
		if int64(rm) < 0 {
			hi -= rn
		}
		result = hi
	}
	a.regFile.WriteReg(inst.Rd, result&widthMask(inst.Is64Bit))
}
