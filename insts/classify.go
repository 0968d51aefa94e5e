package insts

// OpClass groups instructions by the functional unit that executes them.
type OpClass uint8

// Operation classes.
const (
	OpClassNop OpClass = iota
	OpClassIntAlu
	OpClassIntMult
	OpClassIntDiv
	OpClassMemRead
	OpClassMemWrite
	OpClassBranch
	OpClassSyscall
	OpClassSimdAdd
	OpClassSimdAlu
	OpClassSimdCmp
	OpClassSimdMisc
	OpClassSimdMult
	OpClassSimdFloatAdd
	OpClassSimdFloatMult
)

var opClassNames = [...]string{
	OpClassNop:      "No_OpClass",
	OpClassIntAlu:   "IntAlu",
	OpClassIntMult:  "IntMult",
	OpClassIntDiv:   "IntDiv",
	OpClassMemRead:  "MemRead",
	OpClassMemWrite: "MemWrite",
	OpClassBranch:   "Branch",
	OpClassSyscall:  "Syscall",

	OpClassSimdAdd:       "SimdAdd",
	OpClassSimdAlu:       "SimdAlu",
	OpClassSimdCmp:       "SimdCmp",
	OpClassSimdMisc:      "SimdMisc",
	OpClassSimdMult:      "SimdMult",
	OpClassSimdFloatAdd:  "SimdFloatAdd",
	OpClassSimdFloatMult: "SimdFloatMult",
}

func (c OpClass) String() string {
	if int(c) < len(opClassNames) {
		return opClassNames[c]
	}
	return "Unknown"
}

// OpClasses lists every operation class in declaration order.
func OpClasses() []OpClass {
	return []OpClass{
		OpClassNop, OpClassIntAlu, OpClassIntMult, OpClassIntDiv,
		OpClassMemRead, OpClassMemWrite, OpClassBranch, OpClassSyscall,
		OpClassSimdAdd, OpClassSimdAlu, OpClassSimdCmp, OpClassSimdMisc,
		OpClassSimdMult, OpClassSimdFloatAdd, OpClassSimdFloatMult,
	}
}

// OpClass returns the class of the instruction.
func (i *Instruction) OpClass() OpClass {
	switch i.Op {
	case OpNOP, OpBarrier, OpPRFM, OpUnknown:
		return OpClassNop
	case OpMADD, OpMSUB, OpSMADDL, OpSMSUBL, OpUMADDL, OpUMSUBL, OpSMULH, OpUMULH:
		return OpClassIntMult
	case OpUDIV, OpSDIV:
		return OpClassIntDiv
	case OpLDR, OpLDP, OpLDXR:
		return OpClassMemRead
	case OpSTR, OpSTP, OpSTXR:
		return OpClassMemWrite
	case OpB, OpBL, OpBCond, OpBR, OpBLR, OpRET, OpCBZ, OpCBNZ, OpTBZ, OpTBNZ:
		return OpClassBranch
	case OpSVC, OpBRK:
		return OpClassSyscall
	case OpVADD, OpVSUB:
		return OpClassSimdAdd
	case OpVAND, OpVORR, OpVEOR:
		return OpClassSimdAlu
	case OpCMEQ:
		return OpClassSimdCmp
	case OpVMUL:
		return OpClassSimdMult
	case OpVFADD, OpVFSUB:
		return OpClassSimdFloatAdd
	case OpVFMUL:
		return OpClassSimdFloatMult
	case OpDUP, OpINS, OpUMOV, OpMOVI, OpFMOVToGP, OpFMOVFromGP:
		return OpClassSimdMisc
	}
	return OpClassIntAlu
}

// IsLoad reports whether the instruction reads data memory.
func (i *Instruction) IsLoad() bool {
	return i.OpClass() == OpClassMemRead
}

// IsStore reports whether the instruction writes data memory.
func (i *Instruction) IsStore() bool {
	return i.OpClass() == OpClassMemWrite
}

// IsBranch reports whether the instruction can change the control flow.
func (i *Instruction) IsBranch() bool {
	return i.OpClass() == OpClassBranch
}

// IsCondBranch reports whether the branch outcome depends on a condition.
func (i *Instruction) IsCondBranch() bool {
	switch i.Op {
	case OpBCond, OpCBZ, OpCBNZ, OpTBZ, OpTBNZ:
		return true
	}
	return false
}

// IsCall reports whether the instruction writes a return address to X30.
func (i *Instruction) IsCall() bool {
	return i.Op == OpBL || i.Op == OpBLR
}

// IsReturn reports whether the instruction is a RET.
func (i *Instruction) IsReturn() bool {
	return i.Op == OpRET
}

// IsIndirect reports whether the branch target comes from a register.
func (i *Instruction) IsIndirect() bool {
	return i.Op == OpBR || i.Op == OpBLR || i.Op == OpRET
}

// IsSerializing reports whether the instruction must execute alone, after all
// older instructions have committed.
func (i *Instruction) IsSerializing() bool {
	switch i.Op {
	case OpSVC, OpBRK, OpMSR, OpBarrier, OpUnknown:
		return true
	}
	return false
}

// DirectTarget returns the target of a PC-relative branch located at pc.
// The second result is false for indirect branches and non-branches.
func (i *Instruction) DirectTarget(pc uint64) (uint64, bool) {
	if !i.IsBranch() || i.IsIndirect() {
		return 0, false
	}
	return uint64(int64(pc) + i.BranchOffset), true
}

// SrcRegs returns the registers read by the instruction. The zero register
// is omitted, SP is reported as RegSP, NZCV as RegFlags and Vn as RegV0+n.
func (i *Instruction) SrcRegs() []uint8 {
	var regs []uint8
	add := func(r uint8, isSP bool) {
		if r == RegZR {
			if !isSP {
				return
			}
			r = RegSP
		}
		regs = append(regs, r)
	}
	vec := func(r uint8) {
		regs = append(regs, RegV0+r)
	}
	data := add
	if i.Vector {
		data = func(r uint8, _ bool) { vec(r) }
	}

	switch i.Format {
	case FormatDPImm, FormatLogicalImm, FormatBitfield, FormatDataProc1Src:
		add(i.Rn, i.RnIsSP)
		if i.Op == OpBFM {
			add(i.Rd, false)
		}
	case FormatMoveWide:
		if i.Op == OpMOVK {
			add(i.Rd, false)
		}
	case FormatDPReg, FormatExtract, FormatDataProc2Src:
		add(i.Rn, false)
		add(i.Rm, false)
	case FormatDPExt:
		add(i.Rn, i.RnIsSP)
		add(i.Rm, false)
	case FormatDPCarry:
		add(i.Rn, false)
		add(i.Rm, false)
		regs = append(regs, RegFlags)
	case FormatCondSelect:
		add(i.Rn, false)
		add(i.Rm, false)
		regs = append(regs, RegFlags)
	case FormatCondCmp:
		add(i.Rn, false)
		if !i.CmpIsImm {
			add(i.Rm, false)
		}
		regs = append(regs, RegFlags)
	case FormatDataProc3Src:
		add(i.Rn, false)
		add(i.Rm, false)
		if i.Op != OpSMULH && i.Op != OpUMULH {
			add(i.Ra, false)
		}
	case FormatBranchCond:
		regs = append(regs, RegFlags)
	case FormatBranchReg:
		add(i.Rn, false)
	case FormatCompareBranch, FormatTestBranch:
		add(i.Rd, false)
	case FormatLoadStore, FormatLoadStorePair, FormatExclusive:
		add(i.Rn, i.RnIsSP)
		if i.Index == IndexReg {
			add(i.Rm, false)
		}
		if i.IsStore() {
			data(i.Rd, false)
			if i.Op == OpSTP {
				data(i.Rt2, false)
			}
		}
	case FormatSIMDReg:
		vec(i.Rn)
		vec(i.Rm)
	case FormatSIMDCopy:
		switch i.Op {
		case OpDUP:
			add(i.Rn, false)
		case OpINS:
			vec(i.Rd)
			add(i.Rn, false)
		case OpUMOV:
			vec(i.Rn)
		}
	case FormatFPMove:
		if i.Op == OpFMOVToGP {
			vec(i.Rn)
		} else {
			if i.Lane == 1 {
				vec(i.Rd)
			}
			add(i.Rn, false)
		}
	case FormatSystem:
		if i.Op == OpMSR {
			add(i.Rd, false)
		}
	case FormatException:
		if i.Op == OpSVC {
			for r := uint8(0); r <= 8; r++ {
				regs = append(regs, r)
			}
		}
	}

	return regs
}

// DstRegs returns the registers written by the instruction.
func (i *Instruction) DstRegs() []uint8 {
	var regs []uint8
	add := func(r uint8, isSP bool) {
		if r == RegZR {
			if !isSP {
				return
			}
			r = RegSP
		}
		regs = append(regs, r)
	}

	vec := func(r uint8) {
		regs = append(regs, RegV0+r)
	}
	data := add
	if i.Vector {
		data = func(r uint8, _ bool) { vec(r) }
	}

	switch i.Format {
	case FormatDPImm, FormatDPExt, FormatLogicalImm:
		add(i.Rd, i.RdIsSP)
	case FormatDPReg, FormatDPCarry, FormatMoveWide, FormatPCRel, FormatBitfield,
		FormatExtract, FormatCondSelect, FormatDataProc1Src, FormatDataProc2Src,
		FormatDataProc3Src:
		add(i.Rd, false)
	case FormatBranch, FormatBranchReg:
		if i.IsCall() {
			regs = append(regs, 30)
		}
	case FormatLoadStoreLit:
		if i.Op == OpLDR {
			data(i.Rd, false)
		}
	case FormatLoadStore, FormatLoadStorePair, FormatExclusive:
		if i.IsLoad() {
			data(i.Rd, false)
			if i.Op == OpLDP {
				data(i.Rt2, false)
			}
		}
		if i.Op == OpSTXR {
			add(i.Rm, false)
		}
		if i.Index == IndexPre || i.Index == IndexPost {
			add(i.Rn, true)
		}
	case FormatSIMDReg, FormatSIMDImm:
		vec(i.Rd)
	case FormatSIMDCopy, FormatFPMove:
		if i.Op == OpUMOV || i.Op == OpFMOVToGP {
			add(i.Rd, false)
		} else {
			vec(i.Rd)
		}
	case FormatSystem:
		if i.Op == OpMRS {
			add(i.Rd, false)
		}
	case FormatException:
		if i.Op == OpSVC {
			regs = append(regs, 0)
		}
	}

	if i.SetFlags {
		regs = append(regs, RegFlags)
	}

	return regs
}
