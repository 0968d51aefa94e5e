package emu

import "github.com/sarchlab/sesim/insts"

// ConditionHolds evaluates an AArch64 condition code against the flags.
func ConditionHolds(cond insts.Cond, p PSTATE) bool {
	var result bool

	switch cond >> 1 {
	case 0b000: // EQ/NE
		result = p.Z
	case 0b001: // CS/CC
		result = p.C
	case 0b010: // MI/PL
		result = p.N
	case 0b011: // VS/VC
		result = p.V
	case 0b100: // HI/LS
		result = p.C && !p.Z
	case 0b101: // GE/LT
		result = p.N == p.V
	case 0b110: // GT/LE
		result = p.N == p.V && !p.Z
	case 0b111: // AL/NV
		return true
	}

	if cond&1 == 1 {
		return !result
	}
	return result
}

// BranchUnit implements AArch64 branch instructions.
type BranchUnit struct {
	regFile *RegFile
}

// NewBranchUnit creates a new BranchUnit connected to the given register file.
func NewBranchUnit(regFile *RegFile) *BranchUnit {
	return &BranchUnit{regFile: regFile}
}

// Execute resolves the branch at pc. It returns whether the branch is taken
// and the address of the next instruction.
func (b *BranchUnit) Execute(inst *insts.Instruction, pc uint64) (bool, uint64) {
	fallthroughPC := pc + 4
	target := uint64(int64(pc) + inst.BranchOffset)

	switch inst.Op {
	case insts.OpB:
		return true, target
	case insts.OpBL:
		b.regFile.WriteReg(30, fallthroughPC)
		return true, target
	case insts.OpBR, insts.OpRET:
		return true, b.regFile.ReadReg(inst.Rn)
	case insts.OpBLR:
		// Read the target first in case Rn is X30.
		dest := b.regFile.ReadReg(inst.Rn)
		b.regFile.WriteReg(30, fallthroughPC)
		return true, dest
	}

	var taken bool
	switch inst.Op {
	case insts.OpBCond:
		taken = ConditionHolds(inst.Cond, b.regFile.PSTATE)
	case insts.OpCBZ, insts.OpCBNZ:
		v := b.regFile.ReadReg(inst.Rd) & widthMask(inst.Is64Bit)
		taken = (v == 0) == (inst.Op == insts.OpCBZ)
	case insts.OpTBZ, insts.OpTBNZ:
		bit := b.regFile.ReadReg(inst.Rd) >> inst.BitPos & 1
		taken = (bit == 0) == (inst.Op == insts.OpTBZ)
	}

	if taken {
		return true, target
	}
	return false, fallthroughPC
}
