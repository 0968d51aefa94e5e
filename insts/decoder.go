package insts

// Decoder decodes AArch64 machine code into instructions.
type Decoder struct{}

// NewDecoder creates a new AArch64 instruction decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode decodes a 32-bit AArch64 instruction word. Unrecognized encodings
// decode to an instruction with Op == OpUnknown.
func (d *Decoder) Decode(word uint32) *Instruction {
	inst := &Instruction{Op: OpUnknown, Format: FormatUnknown}

	switch {
	case d.isSystem(word):
		d.decodeSystem(word, inst)
	case d.isException(word):
		d.decodeException(word, inst)
	case d.isPCRel(word):
		d.decodePCRel(word, inst)
	case d.isDataProcessingImm(word):
		d.decodeDataProcessingImm(word, inst)
	case d.isLogicalImm(word):
		d.decodeLogicalImm(word, inst)
	case d.isMoveWide(word):
		d.decodeMoveWide(word, inst)
	case d.isBitfield(word):
		d.decodeBitfield(word, inst)
	case d.isExtract(word):
		d.decodeExtract(word, inst)
	case d.isBranchImm(word):
		d.decodeBranchImm(word, inst)
	case d.isCompareBranch(word):
		d.decodeCompareBranch(word, inst)
	case d.isTestBranch(word):
		d.decodeTestBranch(word, inst)
	case d.isBranchCond(word):
		d.decodeBranchCond(word, inst)
	case d.isBranchReg(word):
		d.decodeBranchReg(word, inst)
	case d.isLogicalReg(word):
		d.decodeLogicalReg(word, inst)
	case d.isAddSubReg(word):
		d.decodeAddSubReg(word, inst)
	case d.isAddSubExt(word):
		d.decodeAddSubExt(word, inst)
	case d.isAddSubCarry(word):
		d.decodeAddSubCarry(word, inst)
	case d.isCondCmp(word):
		d.decodeCondCmp(word, inst)
	case d.isCondSelect(word):
		d.decodeCondSelect(word, inst)
	case d.isDataProc2Src(word):
		d.decodeDataProc2Src(word, inst)
	case d.isDataProc1Src(word):
		d.decodeDataProc1Src(word, inst)
	case d.isDataProc3Src(word):
		d.decodeDataProc3Src(word, inst)
	case d.isSIMDThreeSame(word):
		d.decodeSIMDThreeSame(word, inst)
	case d.isSIMDCopy(word):
		d.decodeSIMDCopy(word, inst)
	case d.isSIMDImm(word):
		d.decodeSIMDImm(word, inst)
	case d.isFPMove(word):
		d.decodeFPMove(word, inst)
	case d.isLoadStoreLit(word):
		d.decodeLoadStoreLit(word, inst)
	case d.isLoadStorePair(word):
		d.decodeLoadStorePair(word, inst)
	case d.isLoadStoreReg(word):
		d.decodeLoadStoreReg(word, inst)
	case d.isExclusive(word):
		d.decodeExclusive(word, inst)
	}

	return inst
}

func bits(word uint32, hi, lo uint) uint32 {
	return (word >> lo) & ((1 << (hi - lo + 1)) - 1)
}

func signExtend(value uint64, width uint) int64 {
	shift := 64 - width
	return int64(value<<shift) >> shift
}

// isSystem matches hints, barriers and MRS/MSR.
// Format: 1101010100 | L | op0 | op1 | CRn | CRm | op2 | Rt
func (d *Decoder) isSystem(word uint32) bool {
	return bits(word, 31, 22) == 0b1101010100
}

func (d *Decoder) decodeSystem(word uint32, inst *Instruction) {
	inst.Format = FormatSystem
	rt := uint8(bits(word, 4, 0))

	switch {
	case word&0xFFFFF01F == 0xD503201F:
		inst.Op = OpNOP
	case word&0xFFFFF01F == 0xD503301F:
		inst.Op = OpBarrier
	case bits(word, 20, 20) == 1:
		// MRS (L=1) / MSR (L=0), op0 is 2 or 3.
		inst.Rd = rt
		inst.Is64Bit = true
		inst.SysReg = decodeSysReg(bits(word, 20, 5))
		if bits(word, 21, 21) == 1 {
			inst.Op = OpMRS
		} else {
			inst.Op = OpMSR
		}
	case word&0xFFFFF000 == 0xD5033000:
		inst.Op = OpBarrier
	}
}

// decodeSysReg maps the op0:op1:CRn:CRm:op2 field to a known register.
func decodeSysReg(enc uint32) SysReg {
	switch enc {
	case 0b11_011_1101_0000_010:
		return SysRegTPIDR
	case 0b11_011_1110_0000_010:
		return SysRegCNTVCT
	case 0b11_011_1110_0000_000:
		return SysRegCNTFRQ
	case 0b11_011_0000_0000_111:
		return SysRegDCZID
	case 0b11_000_0000_0000_000:
		return SysRegMIDR
	case 0b11_011_0100_0100_000:
		return SysRegFPCR
	case 0b11_011_0100_0100_001:
		return SysRegFPSR
	default:
		return SysRegUnknown
	}
}

// isException matches SVC and BRK.
// Format: 11010100 | opc | imm16 | op2 | LL
func (d *Decoder) isException(word uint32) bool {
	return bits(word, 31, 24) == 0b11010100
}

func (d *Decoder) decodeException(word uint32, inst *Instruction) {
	opc := bits(word, 23, 21)
	ll := bits(word, 4, 0)
	inst.Format = FormatException
	inst.Imm = uint64(bits(word, 20, 5))

	switch {
	case opc == 0b000 && ll == 0b00001:
		inst.Op = OpSVC
	case opc == 0b001 && ll == 0b00000:
		inst.Op = OpBRK
	default:
		inst.Format = FormatUnknown
	}
}

// isPCRel matches ADR/ADRP.
// Format: op | immlo | 10000 | immhi | Rd
func (d *Decoder) isPCRel(word uint32) bool {
	return bits(word, 28, 24) == 0b10000
}

func (d *Decoder) decodePCRel(word uint32, inst *Instruction) {
	inst.Format = FormatPCRel
	inst.Is64Bit = true
	inst.Rd = uint8(bits(word, 4, 0))

	imm := uint64(bits(word, 23, 5))<<2 | uint64(bits(word, 30, 29))
	offset := signExtend(imm, 21)

	if bits(word, 31, 31) == 1 {
		inst.Op = OpADRP
		inst.BranchOffset = offset << 12
	} else {
		inst.Op = OpADR
		inst.BranchOffset = offset
	}
}

// isDataProcessingImm checks for Add/Sub immediate: bits [28:23] == 0b100010.
func (d *Decoder) isDataProcessingImm(word uint32) bool {
	return bits(word, 28, 23) == 0b100010
}

// decodeDataProcessingImm decodes Add/Sub immediate instructions.
// Format: sf | op | S | 100010 | sh | imm12 | Rn | Rd
func (d *Decoder) decodeDataProcessingImm(word uint32, inst *Instruction) {
	inst.Format = FormatDPImm
	inst.Is64Bit = bits(word, 31, 31) == 1
	inst.SetFlags = bits(word, 29, 29) == 1
	inst.Rd = uint8(bits(word, 4, 0))
	inst.Rn = uint8(bits(word, 9, 5))
	inst.Imm = uint64(bits(word, 21, 10))
	if bits(word, 22, 22) == 1 {
		inst.Shift = 12
	}

	inst.RnIsSP = true
	inst.RdIsSP = !inst.SetFlags

	if bits(word, 30, 30) == 1 {
		inst.Op = OpSUB
	} else {
		inst.Op = OpADD
	}
}

// isLogicalImm checks for logical immediate: bits [28:23] == 0b100100.
func (d *Decoder) isLogicalImm(word uint32) bool {
	return bits(word, 28, 23) == 0b100100
}

// decodeLogicalImm decodes AND/ORR/EOR/ANDS immediate.
// Format: sf | opc | 100100 | N | immr | imms | Rn | Rd
func (d *Decoder) decodeLogicalImm(word uint32, inst *Instruction) {
	is64 := bits(word, 31, 31) == 1
	n := bits(word, 22, 22)
	if !is64 && n == 1 {
		return
	}

	imm, ok := DecodeBitMasks(uint8(n), uint8(bits(word, 15, 10)), uint8(bits(word, 21, 16)), is64)
	if !ok {
		return
	}

	inst.Format = FormatLogicalImm
	inst.Is64Bit = is64
	inst.Rd = uint8(bits(word, 4, 0))
	inst.Rn = uint8(bits(word, 9, 5))
	inst.Imm = imm

	switch bits(word, 30, 29) {
	case 0b00:
		inst.Op = OpAND
		inst.RdIsSP = true
	case 0b01:
		inst.Op = OpORR
		inst.RdIsSP = true
	case 0b10:
		inst.Op = OpEOR
		inst.RdIsSP = true
	case 0b11:
		inst.Op = OpAND
		inst.SetFlags = true
	}
}

// DecodeBitMasks expands the N:immr:imms encoding of a logical immediate.
// It returns false for reserved encodings.
func DecodeBitMasks(n, imms, immr uint8, is64 bool) (uint64, bool) {
	combined := uint32(n)<<6 | uint32(^imms&0x3F)
	length := -1
	for i := 6; i >= 0; i-- {
		if combined&(1<<uint(i)) != 0 {
			length = i
			break
		}
	}
	if length < 1 {
		return 0, false
	}

	esize := uint(1) << uint(length)
	levels := uint8(esize - 1)
	s := imms & levels
	r := immr & levels
	if s == levels {
		return 0, false
	}

	welem := (uint64(1) << (uint(s) + 1)) - 1
	var emask uint64
	if esize == 64 {
		emask = ^uint64(0)
	} else {
		emask = (uint64(1) << esize) - 1
	}

	rotated := welem
	if r != 0 {
		rotated = ((welem >> r) | (welem << (esize - uint(r)))) & emask
	}

	result := uint64(0)
	for pos := uint(0); pos < 64; pos += esize {
		result |= rotated << pos
	}

	if !is64 {
		result &= 0xFFFFFFFF
	}

	return result, true
}

// isMoveWide checks for move wide immediate: bits [28:23] == 0b100101.
func (d *Decoder) isMoveWide(word uint32) bool {
	return bits(word, 28, 23) == 0b100101
}

// decodeMoveWide decodes MOVN/MOVZ/MOVK.
// Format: sf | opc | 100101 | hw | imm16 | Rd
func (d *Decoder) decodeMoveWide(word uint32, inst *Instruction) {
	is64 := bits(word, 31, 31) == 1
	hw := bits(word, 22, 21)
	if !is64 && hw > 1 {
		return
	}

	switch bits(word, 30, 29) {
	case 0b00:
		inst.Op = OpMOVN
	case 0b10:
		inst.Op = OpMOVZ
	case 0b11:
		inst.Op = OpMOVK
	default:
		return
	}

	inst.Format = FormatMoveWide
	inst.Is64Bit = is64
	inst.Rd = uint8(bits(word, 4, 0))
	inst.Imm = uint64(bits(word, 20, 5))
	inst.Shift = uint8(hw * 16)
}

// isBitfield checks for bitfield: bits [28:23] == 0b100110.
func (d *Decoder) isBitfield(word uint32) bool {
	return bits(word, 28, 23) == 0b100110
}

// decodeBitfield decodes SBFM/BFM/UBFM.
// Format: sf | opc | 100110 | N | immr | imms | Rn | Rd
func (d *Decoder) decodeBitfield(word uint32, inst *Instruction) {
	switch bits(word, 30, 29) {
	case 0b00:
		inst.Op = OpSBFM
	case 0b01:
		inst.Op = OpBFM
	case 0b10:
		inst.Op = OpUBFM
	default:
		return
	}

	inst.Format = FormatBitfield
	inst.Is64Bit = bits(word, 31, 31) == 1
	inst.Rd = uint8(bits(word, 4, 0))
	inst.Rn = uint8(bits(word, 9, 5))
	inst.Immr = uint8(bits(word, 21, 16))
	inst.Imms = uint8(bits(word, 15, 10))
}

// isExtract checks for EXTR: bits [28:23] == 0b100111 with op21 == 0.
func (d *Decoder) isExtract(word uint32) bool {
	return bits(word, 28, 23) == 0b100111 && bits(word, 30, 29) == 0 && bits(word, 21, 21) == 0
}

// decodeExtract decodes EXTR.
// Format: sf | 00 | 100111 | N | 0 | Rm | imms | Rn | Rd
func (d *Decoder) decodeExtract(word uint32, inst *Instruction) {
	inst.Op = OpEXTR
	inst.Format = FormatExtract
	inst.Is64Bit = bits(word, 31, 31) == 1
	inst.Rd = uint8(bits(word, 4, 0))
	inst.Rn = uint8(bits(word, 9, 5))
	inst.Rm = uint8(bits(word, 20, 16))
	inst.Imms = uint8(bits(word, 15, 10))
}

// isBranchImm checks for B/BL: bits [30:26] == 0b00101.
func (d *Decoder) isBranchImm(word uint32) bool {
	return bits(word, 30, 26) == 0b00101
}

// decodeBranchImm decodes B and BL.
// Format: op | 00101 | imm26
func (d *Decoder) decodeBranchImm(word uint32, inst *Instruction) {
	inst.Format = FormatBranch
	inst.BranchOffset = signExtend(uint64(bits(word, 25, 0)), 26) * 4

	if bits(word, 31, 31) == 1 {
		inst.Op = OpBL
	} else {
		inst.Op = OpB
	}
}

// isCompareBranch checks for CBZ/CBNZ: bits [30:25] == 0b011010.
func (d *Decoder) isCompareBranch(word uint32) bool {
	return bits(word, 30, 25) == 0b011010
}

// decodeCompareBranch decodes CBZ and CBNZ.
// Format: sf | 011010 | op | imm19 | Rt
func (d *Decoder) decodeCompareBranch(word uint32, inst *Instruction) {
	inst.Format = FormatCompareBranch
	inst.Is64Bit = bits(word, 31, 31) == 1
	inst.Rd = uint8(bits(word, 4, 0))
	inst.BranchOffset = signExtend(uint64(bits(word, 23, 5)), 19) * 4

	if bits(word, 24, 24) == 1 {
		inst.Op = OpCBNZ
	} else {
		inst.Op = OpCBZ
	}
}

// isTestBranch checks for TBZ/TBNZ: bits [30:25] == 0b011011.
func (d *Decoder) isTestBranch(word uint32) bool {
	return bits(word, 30, 25) == 0b011011
}

// decodeTestBranch decodes TBZ and TBNZ.
// Format: b5 | 011011 | op | b40 | imm14 | Rt
func (d *Decoder) decodeTestBranch(word uint32, inst *Instruction) {
	inst.Format = FormatTestBranch
	inst.Rd = uint8(bits(word, 4, 0))
	inst.BitPos = uint8(bits(word, 31, 31)<<5 | bits(word, 23, 19))
	inst.Is64Bit = inst.BitPos >= 32
	inst.BranchOffset = signExtend(uint64(bits(word, 18, 5)), 14) * 4

	if bits(word, 24, 24) == 1 {
		inst.Op = OpTBNZ
	} else {
		inst.Op = OpTBZ
	}
}

// isBranchCond checks for B.cond: bits [31:24] == 0b01010100 and bit 4 == 0.
func (d *Decoder) isBranchCond(word uint32) bool {
	return bits(word, 31, 24) == 0b01010100 && bits(word, 4, 4) == 0
}

// decodeBranchCond decodes B.cond.
// Format: 01010100 | imm19 | 0 | cond
func (d *Decoder) decodeBranchCond(word uint32, inst *Instruction) {
	inst.Op = OpBCond
	inst.Format = FormatBranchCond
	inst.Cond = Cond(bits(word, 3, 0))
	inst.BranchOffset = signExtend(uint64(bits(word, 23, 5)), 19) * 4
}

// isBranchReg checks for BR/BLR/RET: bits [31:25] == 0b1101011.
func (d *Decoder) isBranchReg(word uint32) bool {
	return bits(word, 31, 25) == 0b1101011 &&
		bits(word, 20, 16) == 0b11111 &&
		bits(word, 15, 10) == 0 &&
		bits(word, 4, 0) == 0
}

// decodeBranchReg decodes BR, BLR and RET.
// Format: 1101011 | opc | 11111 | 000000 | Rn | 00000
func (d *Decoder) decodeBranchReg(word uint32, inst *Instruction) {
	inst.Rn = uint8(bits(word, 9, 5))

	switch bits(word, 24, 21) {
	case 0b0000:
		inst.Op = OpBR
	case 0b0001:
		inst.Op = OpBLR
	case 0b0010:
		inst.Op = OpRET
	default:
		return
	}

	inst.Format = FormatBranchReg
	inst.Is64Bit = true
}

// isLogicalReg checks for logical (shifted register): bits [28:24] == 0b01010.
func (d *Decoder) isLogicalReg(word uint32) bool {
	return bits(word, 28, 24) == 0b01010
}

// decodeLogicalReg decodes AND/BIC/ORR/ORN/EOR/EON/ANDS/BICS.
// Format: sf | opc | 01010 | shift | N | Rm | imm6 | Rn | Rd
func (d *Decoder) decodeLogicalReg(word uint32, inst *Instruction) {
	is64 := bits(word, 31, 31) == 1
	imm6 := bits(word, 15, 10)
	if !is64 && imm6 >= 32 {
		return
	}

	invert := bits(word, 21, 21) == 1
	switch bits(word, 30, 29) {
	case 0b00, 0b11:
		inst.Op = OpAND
		if invert {
			inst.Op = OpBIC
		}
		inst.SetFlags = bits(word, 30, 29) == 0b11
	case 0b01:
		inst.Op = OpORR
		if invert {
			inst.Op = OpORN
		}
	case 0b10:
		inst.Op = OpEOR
		if invert {
			inst.Op = OpEON
		}
	}

	inst.Format = FormatDPReg
	inst.Is64Bit = is64
	inst.Rd = uint8(bits(word, 4, 0))
	inst.Rn = uint8(bits(word, 9, 5))
	inst.Rm = uint8(bits(word, 20, 16))
	inst.ShiftType = ShiftType(bits(word, 23, 22))
	inst.ShiftAmount = uint8(imm6)
}

// isAddSubReg checks for add/sub (shifted register): bits [28:24] == 0b01011, bit 21 == 0.
func (d *Decoder) isAddSubReg(word uint32) bool {
	return bits(word, 28, 24) == 0b01011 && bits(word, 21, 21) == 0
}

// decodeAddSubReg decodes ADD/SUB shifted register.
// Format: sf | op | S | 01011 | shift | 0 | Rm | imm6 | Rn | Rd
func (d *Decoder) decodeAddSubReg(word uint32, inst *Instruction) {
	shift := ShiftType(bits(word, 23, 22))
	if shift == ShiftROR {
		return
	}

	inst.Format = FormatDPReg
	inst.Is64Bit = bits(word, 31, 31) == 1
	inst.SetFlags = bits(word, 29, 29) == 1
	inst.Rd = uint8(bits(word, 4, 0))
	inst.Rn = uint8(bits(word, 9, 5))
	inst.Rm = uint8(bits(word, 20, 16))
	inst.ShiftType = shift
	inst.ShiftAmount = uint8(bits(word, 15, 10))

	if bits(word, 30, 30) == 1 {
		inst.Op = OpSUB
	} else {
		inst.Op = OpADD
	}
}

// isAddSubExt checks for add/sub (extended register): bits [28:21] == 0b01011001.
func (d *Decoder) isAddSubExt(word uint32) bool {
	return bits(word, 28, 21) == 0b01011001
}

// decodeAddSubExt decodes ADD/SUB extended register.
// Format: sf | op | S | 01011 | 00 | 1 | Rm | option | imm3 | Rn | Rd
func (d *Decoder) decodeAddSubExt(word uint32, inst *Instruction) {
	imm3 := bits(word, 12, 10)
	if imm3 > 4 {
		return
	}

	inst.Format = FormatDPExt
	inst.Is64Bit = bits(word, 31, 31) == 1
	inst.SetFlags = bits(word, 29, 29) == 1
	inst.Rd = uint8(bits(word, 4, 0))
	inst.Rn = uint8(bits(word, 9, 5))
	inst.Rm = uint8(bits(word, 20, 16))
	inst.ExtendType = ExtendType(bits(word, 15, 13))
	inst.ShiftAmount = uint8(imm3)
	inst.RnIsSP = true
	inst.RdIsSP = !inst.SetFlags

	if bits(word, 30, 30) == 1 {
		inst.Op = OpSUB
	} else {
		inst.Op = OpADD
	}
}

// isAddSubCarry checks for ADC/SBC: bits [28:21] == 0b11010000, opcode2 == 0.
func (d *Decoder) isAddSubCarry(word uint32) bool {
	return bits(word, 28, 21) == 0b11010000 && bits(word, 15, 10) == 0
}

// decodeAddSubCarry decodes ADC/ADCS/SBC/SBCS.
// Format: sf | op | S | 11010000 | Rm | 000000 | Rn | Rd
func (d *Decoder) decodeAddSubCarry(word uint32, inst *Instruction) {
	inst.Format = FormatDPCarry
	inst.Is64Bit = bits(word, 31, 31) == 1
	inst.SetFlags = bits(word, 29, 29) == 1
	inst.Rd = uint8(bits(word, 4, 0))
	inst.Rn = uint8(bits(word, 9, 5))
	inst.Rm = uint8(bits(word, 20, 16))

	if bits(word, 30, 30) == 1 {
		inst.Op = OpSBC
	} else {
		inst.Op = OpADC
	}
}

// isCondCmp checks for CCMN/CCMP: bits [29:21] == 0b111010010, o2 == 0, o3 == 0.
func (d *Decoder) isCondCmp(word uint32) bool {
	return bits(word, 29, 21) == 0b111010010 && bits(word, 10, 10) == 0 && bits(word, 4, 4) == 0
}

// decodeCondCmp decodes CCMN/CCMP with register or immediate operand.
// Format: sf | op | 1 | 11010010 | Rm/imm5 | cond | imm | 0 | Rn | 0 | nzcv
func (d *Decoder) decodeCondCmp(word uint32, inst *Instruction) {
	inst.Format = FormatCondCmp
	inst.Is64Bit = bits(word, 31, 31) == 1
	inst.SetFlags = true
	inst.Rn = uint8(bits(word, 9, 5))
	inst.Cond = Cond(bits(word, 15, 12))
	inst.NZCV = uint8(bits(word, 3, 0))
	inst.CmpIsImm = bits(word, 11, 11) == 1

	if inst.CmpIsImm {
		inst.Imm = uint64(bits(word, 20, 16))
	} else {
		inst.Rm = uint8(bits(word, 20, 16))
	}

	if bits(word, 30, 30) == 1 {
		inst.Op = OpCCMP
	} else {
		inst.Op = OpCCMN
	}
}

// isCondSelect checks for conditional select: bits [29:21] == 0b011010100.
func (d *Decoder) isCondSelect(word uint32) bool {
	return bits(word, 29, 21) == 0b011010100 && bits(word, 11, 11) == 0
}

// decodeCondSelect decodes CSEL/CSINC/CSINV/CSNEG.
// Format: sf | op | 0 | 11010100 | Rm | cond | op2 | Rn | Rd
func (d *Decoder) decodeCondSelect(word uint32, inst *Instruction) {
	op := bits(word, 30, 30)
	op2 := bits(word, 10, 10)

	switch {
	case op == 0 && op2 == 0:
		inst.Op = OpCSEL
	case op == 0 && op2 == 1:
		inst.Op = OpCSINC
	case op == 1 && op2 == 0:
		inst.Op = OpCSINV
	default:
		inst.Op = OpCSNEG
	}

	inst.Format = FormatCondSelect
	inst.Is64Bit = bits(word, 31, 31) == 1
	inst.Rd = uint8(bits(word, 4, 0))
	inst.Rn = uint8(bits(word, 9, 5))
	inst.Rm = uint8(bits(word, 20, 16))
	inst.Cond = Cond(bits(word, 15, 12))
}

// isDataProc2Src checks for 2-source data processing: bits [30:21] == 0b0011010110.
func (d *Decoder) isDataProc2Src(word uint32) bool {
	return bits(word, 30, 21) == 0b0011010110
}

// decodeDataProc2Src decodes UDIV/SDIV/LSLV/LSRV/ASRV/RORV.
// Format: sf | 0 | 0 | 11010110 | Rm | opcode | Rn | Rd
func (d *Decoder) decodeDataProc2Src(word uint32, inst *Instruction) {
	switch bits(word, 15, 10) {
	case 0b000010:
		inst.Op = OpUDIV
	case 0b000011:
		inst.Op = OpSDIV
	case 0b001000:
		inst.Op = OpLSLV
	case 0b001001:
		inst.Op = OpLSRV
	case 0b001010:
		inst.Op = OpASRV
	case 0b001011:
		inst.Op = OpRORV
	default:
		return
	}

	inst.Format = FormatDataProc2Src
	inst.Is64Bit = bits(word, 31, 31) == 1
	inst.Rd = uint8(bits(word, 4, 0))
	inst.Rn = uint8(bits(word, 9, 5))
	inst.Rm = uint8(bits(word, 20, 16))
}

// isDataProc1Src checks for 1-source data processing: bits [30:16] == 0b101101011000000.
func (d *Decoder) isDataProc1Src(word uint32) bool {
	return bits(word, 30, 16) == 0b101101011000000
}

// decodeDataProc1Src decodes RBIT/REV16/REV32/REV/CLZ/CLS.
// Format: sf | 1 | 0 | 11010110 | 00000 | opcode | Rn | Rd
func (d *Decoder) decodeDataProc1Src(word uint32, inst *Instruction) {
	is64 := bits(word, 31, 31) == 1

	switch bits(word, 15, 10) {
	case 0b000000:
		inst.Op = OpRBIT
	case 0b000001:
		inst.Op = OpREV16
	case 0b000010:
		if is64 {
			inst.Op = OpREV32
		} else {
			inst.Op = OpREV
		}
	case 0b000011:
		if !is64 {
			return
		}
		inst.Op = OpREV
	case 0b000100:
		inst.Op = OpCLZ
	case 0b000101:
		inst.Op = OpCLS
	default:
		return
	}

	inst.Format = FormatDataProc1Src
	inst.Is64Bit = is64
	inst.Rd = uint8(bits(word, 4, 0))
	inst.Rn = uint8(bits(word, 9, 5))
}

// isDataProc3Src checks for 3-source data processing: bits [28:24] == 0b11011.
func (d *Decoder) isDataProc3Src(word uint32) bool {
	return bits(word, 28, 24) == 0b11011 && bits(word, 30, 29) == 0
}

// decodeDataProc3Src decodes the multiply family.
// Format: sf | 00 | 11011 | op31 | Rm | o0 | Ra | Rn | Rd
func (d *Decoder) decodeDataProc3Src(word uint32, inst *Instruction) {
	is64 := bits(word, 31, 31) == 1
	o0 := bits(word, 15, 15)

	switch bits(word, 23, 21) {
	case 0b000:
		inst.Op = OpMADD
		if o0 == 1 {
			inst.Op = OpMSUB
		}
	case 0b001:
		inst.Op = OpSMADDL
		if o0 == 1 {
			inst.Op = OpSMSUBL
		}
	case 0b010:
		inst.Op = OpSMULH
	case 0b101:
		inst.Op = OpUMADDL
		if o0 == 1 {
			inst.Op = OpUMSUBL
		}
	case 0b110:
		inst.Op = OpUMULH
	default:
		return
	}

	if !is64 && inst.Op != OpMADD && inst.Op != OpMSUB {
		inst.Op = OpUnknown
		return
	}

	inst.Format = FormatDataProc3Src
	inst.Is64Bit = is64
	inst.Rd = uint8(bits(word, 4, 0))
	inst.Rn = uint8(bits(word, 9, 5))
	inst.Rm = uint8(bits(word, 20, 16))
	inst.Ra = uint8(bits(word, 14, 10))
}

// isLoadStoreLit checks for load register (literal): bits [29:27] == 011, bits [25:24] == 00.
func (d *Decoder) isLoadStoreLit(word uint32) bool {
	return bits(word, 29, 27) == 0b011 && bits(word, 25, 24) == 0
}

// decodeLoadStoreLit decodes LDR (literal), LDRSW (literal) and the SIMD&FP
// LDR (literal) forms.
// Format: opc | 011 | V | 00 | imm19 | Rt
func (d *Decoder) decodeLoadStoreLit(word uint32, inst *Instruction) {
	opc := bits(word, 31, 30)
	if bits(word, 26, 26) == 1 {
		if opc == 0b11 {
			return
		}
		inst.Vector = true
		inst.MemSize = uint8(4 << opc)
	} else {
		switch opc {
		case 0b00:
			inst.MemSize = 4
		case 0b01:
			inst.MemSize = 8
			inst.Is64Bit = true
		case 0b10:
			inst.MemSize = 4
			inst.Is64Bit = true
			inst.SignExtend = true
			inst.SignExtendTo64 = true
		case 0b11:
			inst.Op = OpPRFM
			inst.Format = FormatLoadStoreLit
			return
		}
	}

	inst.Op = OpLDR
	inst.Format = FormatLoadStoreLit
	inst.Rd = uint8(bits(word, 4, 0))
	inst.BranchOffset = signExtend(uint64(bits(word, 23, 5)), 19) * 4
}

// isLoadStorePair checks for load/store pair: bits [29:27] == 101, bit 25 == 0.
func (d *Decoder) isLoadStorePair(word uint32) bool {
	return bits(word, 29, 27) == 0b101 && bits(word, 25, 25) == 0
}

// decodeLoadStorePair decodes LDP/STP/LDPSW in all index modes, for general
// and SIMD&FP registers.
// Format: opc | 101 | V | mode | L | imm7 | Rt2 | Rn | Rt
func (d *Decoder) decodeLoadStorePair(word uint32, inst *Instruction) {
	opc := bits(word, 31, 30)
	load := bits(word, 22, 22) == 1

	switch {
	case bits(word, 26, 26) == 1:
		if opc == 0b11 {
			return
		}
		inst.Vector = true
		inst.MemSize = uint8(4 << opc)
	case opc == 0b00:
		inst.MemSize = 4
	case opc == 0b01:
		if !load {
			return
		}
		inst.MemSize = 4
		inst.SignExtend = true
		inst.SignExtendTo64 = true
		inst.Is64Bit = true
	case opc == 0b10:
		inst.MemSize = 8
		inst.Is64Bit = true
	default:
		return
	}

	switch bits(word, 24, 23) {
	case 0b00, 0b10:
		inst.Index = IndexOffset
	case 0b01:
		inst.Index = IndexPost
	case 0b11:
		inst.Index = IndexPre
	}

	if load {
		inst.Op = OpLDP
	} else {
		inst.Op = OpSTP
	}

	inst.Format = FormatLoadStorePair
	inst.Rd = uint8(bits(word, 4, 0))
	inst.Rn = uint8(bits(word, 9, 5))
	inst.Rt2 = uint8(bits(word, 14, 10))
	inst.RnIsSP = true
	inst.Offset = signExtend(uint64(bits(word, 21, 15)), 7) * int64(inst.MemSize)
}

// isLoadStoreReg checks for load/store register: bits [29:27] == 111, bit 25 == 0.
func (d *Decoder) isLoadStoreReg(word uint32) bool {
	return bits(word, 29, 27) == 0b111 && bits(word, 25, 25) == 0
}

// decodeLoadStoreReg decodes LDR/STR and their sized/signed variants, for
// general and SIMD&FP registers.
// Format: size | 111 | V | 0x | opc | ... | Rn | Rt
func (d *Decoder) decodeLoadStoreReg(word uint32, inst *Instruction) {
	size := bits(word, 31, 30)
	opc := bits(word, 23, 22)

	if bits(word, 26, 26) == 1 {
		if !d.setVectorLoadStoreOp(size, opc, inst) {
			return
		}
		// Scale offsets by the access size, 16 bytes for Q.
		size = log2(uint32(inst.MemSize))
	} else {
		inst.MemSize = uint8(1 << size)
		if !d.setLoadStoreOp(size, opc, inst) {
			return
		}
	}

	inst.Format = FormatLoadStore
	inst.Rd = uint8(bits(word, 4, 0))
	inst.Rn = uint8(bits(word, 9, 5))
	inst.RnIsSP = true

	if bits(word, 24, 24) == 1 {
		// Unsigned scaled 12-bit offset.
		inst.Index = IndexOffset
		inst.Offset = int64(bits(word, 21, 10)) << size
		return
	}

	if bits(word, 21, 21) == 1 {
		if bits(word, 11, 10) != 0b10 {
			inst.Op = OpUnknown
			inst.Format = FormatUnknown
			return
		}
		inst.Index = IndexReg
		inst.Rm = uint8(bits(word, 20, 16))
		inst.ExtendType = ExtendType(bits(word, 15, 13))
		inst.Scaled = bits(word, 12, 12) == 1
		if inst.Scaled {
			inst.ShiftAmount = uint8(size)
		}
		return
	}

	inst.Offset = signExtend(uint64(bits(word, 20, 12)), 9)
	switch bits(word, 11, 10) {
	case 0b00, 0b10:
		inst.Index = IndexOffset
	case 0b01:
		inst.Index = IndexPost
	case 0b11:
		inst.Index = IndexPre
	}
}

// setLoadStoreOp fills in the direction and extension from size and opc.
func (d *Decoder) setLoadStoreOp(size, opc uint32, inst *Instruction) bool {
	switch opc {
	case 0b00:
		inst.Op = OpSTR
		inst.Is64Bit = size == 0b11
	case 0b01:
		inst.Op = OpLDR
		inst.Is64Bit = size == 0b11
	case 0b10:
		if size == 0b11 {
			inst.Op = OpPRFM
			return true
		}
		inst.Op = OpLDR
		inst.SignExtend = true
		inst.SignExtendTo64 = true
		inst.Is64Bit = true
	case 0b11:
		if size >= 0b10 {
			return false
		}
		inst.Op = OpLDR
		inst.SignExtend = true
	}
	return true
}

// setVectorLoadStoreOp fills in the direction and access size of a SIMD&FP
// load or store. opc bit 1 selects the 128-bit Q form when size is 0.
func (d *Decoder) setVectorLoadStoreOp(size, opc uint32, inst *Instruction) bool {
	switch {
	case opc&0b10 == 0:
		inst.MemSize = uint8(1 << size)
	case size == 0:
		inst.MemSize = 16
	default:
		return false
	}

	inst.Vector = true
	if opc&1 == 1 {
		inst.Op = OpLDR
	} else {
		inst.Op = OpSTR
	}
	return true
}

func log2(n uint32) uint32 {
	var l uint32
	for n > 1 {
		n >>= 1
		l++
	}
	return l
}

// isExclusive checks for load/store exclusive and load-acquire/store-release:
// bits [29:24] == 0b001000.
func (d *Decoder) isExclusive(word uint32) bool {
	return bits(word, 29, 24) == 0b001000
}

// decodeExclusive decodes LDXR/STXR/LDAXR/STLXR and LDAR/STLR.
// Format: size | 001000 | o2 | L | o1 | Rs | o0 | Rt2 | Rn | Rt
func (d *Decoder) decodeExclusive(word uint32, inst *Instruction) {
	if bits(word, 21, 21) == 1 {
		return
	}

	size := bits(word, 31, 30)
	load := bits(word, 22, 22) == 1
	ordered := bits(word, 23, 23) == 1

	inst.Format = FormatExclusive
	inst.MemSize = uint8(1 << size)
	inst.Is64Bit = size == 0b11
	inst.Rd = uint8(bits(word, 4, 0))
	inst.Rn = uint8(bits(word, 9, 5))
	inst.RnIsSP = true
	inst.Index = IndexOffset

	switch {
	case ordered && load:
		inst.Op = OpLDR
	case ordered:
		inst.Op = OpSTR
	case load:
		inst.Op = OpLDXR
	default:
		inst.Op = OpSTXR
		inst.Rm = uint8(bits(word, 20, 16))
	}
}
