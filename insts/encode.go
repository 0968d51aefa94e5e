package insts

import "encoding/binary"

// Program packs instruction words into little-endian machine code.
func Program(words ...uint32) []byte {
	program := make([]byte, 0, len(words)*4)
	for _, w := range words {
		program = binary.LittleEndian.AppendUint32(program, w)
	}
	return program
}

func sf(is64 bool) uint32 {
	if is64 {
		return 1 << 31
	}
	return 0
}

func flag(b bool, pos uint) uint32 {
	if b {
		return 1 << pos
	}
	return 0
}

func reg(r uint8, pos uint) uint32 {
	return uint32(r&0x1F) << pos
}

// EncodeADDImm encodes ADD(S) Xd, Xn, #imm.
func EncodeADDImm(rd, rn uint8, imm uint16, setFlags bool) uint32 {
	return 1<<31 | flag(setFlags, 29) | 0b100010<<23 |
		uint32(imm&0xFFF)<<10 | reg(rn, 5) | reg(rd, 0)
}

// EncodeSUBImm encodes SUB(S) Xd, Xn, #imm.
func EncodeSUBImm(rd, rn uint8, imm uint16, setFlags bool) uint32 {
	return EncodeADDImm(rd, rn, imm, setFlags) | 1<<30
}

// EncodeCMPImm encodes CMP Xn, #imm.
func EncodeCMPImm(rn uint8, imm uint16) uint32 {
	return EncodeSUBImm(RegZR, rn, imm, true)
}

// EncodeADDReg encodes ADD(S) Xd, Xn, Xm.
func EncodeADDReg(rd, rn, rm uint8, setFlags bool) uint32 {
	return EncodeAddSubShifted(true, false, setFlags, rd, rn, rm, ShiftLSL, 0)
}

// EncodeSUBReg encodes SUB(S) Xd, Xn, Xm.
func EncodeSUBReg(rd, rn, rm uint8, setFlags bool) uint32 {
	return EncodeAddSubShifted(true, true, setFlags, rd, rn, rm, ShiftLSL, 0)
}

// EncodeCMPReg encodes CMP Xn, Xm.
func EncodeCMPReg(rn, rm uint8) uint32 {
	return EncodeSUBReg(RegZR, rn, rm, true)
}

// EncodeAddSubShifted encodes the add/sub shifted register form.
func EncodeAddSubShifted(is64, sub, setFlags bool, rd, rn, rm uint8,
	shift ShiftType, amount uint8,
) uint32 {
	return sf(is64) | flag(sub, 30) | flag(setFlags, 29) | 0b01011<<24 |
		uint32(shift)<<22 | reg(rm, 16) | uint32(amount&0x3F)<<10 |
		reg(rn, 5) | reg(rd, 0)
}

// EncodeAddSubExtended encodes the add/sub extended register form.
func EncodeAddSubExtended(sub, setFlags bool, rd, rn, rm uint8,
	ext ExtendType, amount uint8,
) uint32 {
	return 1<<31 | flag(sub, 30) | flag(setFlags, 29) | 0b01011001<<21 |
		reg(rm, 16) | uint32(ext)<<13 | uint32(amount&0x7)<<10 |
		reg(rn, 5) | reg(rd, 0)
}

// EncodeLogicalReg encodes AND/ORR/EOR/ANDS (opc 0-3), optionally inverted.
func EncodeLogicalReg(is64 bool, opc uint8, invert bool, rd, rn, rm uint8,
	shift ShiftType, amount uint8,
) uint32 {
	return sf(is64) | uint32(opc&0x3)<<29 | 0b01010<<24 | uint32(shift)<<22 |
		flag(invert, 21) | reg(rm, 16) | uint32(amount&0x3F)<<10 |
		reg(rn, 5) | reg(rd, 0)
}

// EncodeMOVReg encodes MOV Xd, Xm as ORR Xd, XZR, Xm.
func EncodeMOVReg(rd, rm uint8) uint32 {
	return EncodeLogicalReg(true, 0b01, false, rd, RegZR, rm, ShiftLSL, 0)
}

// EncodeLogicalImm encodes a logical immediate with raw N:immr:imms fields.
func EncodeLogicalImm(is64 bool, opc uint8, rd, rn, n, immr, imms uint8) uint32 {
	return sf(is64) | uint32(opc&0x3)<<29 | 0b100100<<23 | uint32(n&1)<<22 |
		uint32(immr&0x3F)<<16 | uint32(imms&0x3F)<<10 | reg(rn, 5) | reg(rd, 0)
}

// EncodeMOVZ encodes MOVZ Xd, #imm16, LSL #(hw*16).
func EncodeMOVZ(rd uint8, imm16 uint16, hw uint8) uint32 {
	return 0xD2800000 | uint32(hw&0x3)<<21 | uint32(imm16)<<5 | reg(rd, 0)
}

// EncodeMOVN encodes MOVN Xd, #imm16, LSL #(hw*16).
func EncodeMOVN(rd uint8, imm16 uint16, hw uint8) uint32 {
	return 0x92800000 | uint32(hw&0x3)<<21 | uint32(imm16)<<5 | reg(rd, 0)
}

// EncodeMOVK encodes MOVK Xd, #imm16, LSL #(hw*16).
func EncodeMOVK(rd uint8, imm16 uint16, hw uint8) uint32 {
	return 0xF2800000 | uint32(hw&0x3)<<21 | uint32(imm16)<<5 | reg(rd, 0)
}

// EncodeMOVImm64 returns the MOVZ/MOVK sequence that loads value into rd.
func EncodeMOVImm64(rd uint8, value uint64) []uint32 {
	words := []uint32{EncodeMOVZ(rd, uint16(value), 0)}
	for hw := uint8(1); hw < 4; hw++ {
		chunk := uint16(value >> (16 * hw))
		if chunk != 0 {
			words = append(words, EncodeMOVK(rd, chunk, hw))
		}
	}
	return words
}

// EncodeADR encodes ADR Xd, pc+offset.
func EncodeADR(rd uint8, offset int64) uint32 {
	imm := uint32(offset) & 0x1FFFFF
	return 0x10000000 | (imm&0x3)<<29 | (imm>>2)<<5 | reg(rd, 0)
}

// EncodeADRP encodes ADRP Xd, page(pc)+pages*4096.
func EncodeADRP(rd uint8, pages int64) uint32 {
	return EncodeADR(rd, pages) | 1<<31
}

// EncodeBitfield encodes SBFM/BFM/UBFM (opc 0-2).
func EncodeBitfield(is64 bool, opc uint8, rd, rn, immr, imms uint8) uint32 {
	n := uint32(0)
	if is64 {
		n = 1
	}
	return sf(is64) | uint32(opc&0x3)<<29 | 0b100110<<23 | n<<22 |
		uint32(immr&0x3F)<<16 | uint32(imms&0x3F)<<10 | reg(rn, 5) | reg(rd, 0)
}

// EncodeLSLImm encodes LSL Xd, Xn, #shift.
func EncodeLSLImm(rd, rn, shift uint8) uint32 {
	return EncodeBitfield(true, 0b10, rd, rn, (64-shift)&0x3F, 63-shift)
}

// EncodeLSRImm encodes LSR Xd, Xn, #shift.
func EncodeLSRImm(rd, rn, shift uint8) uint32 {
	return EncodeBitfield(true, 0b10, rd, rn, shift, 63)
}

// EncodeEXTR encodes EXTR Xd, Xn, Xm, #lsb.
func EncodeEXTR(rd, rn, rm, lsb uint8) uint32 {
	return 0x93C00000 | reg(rm, 16) | uint32(lsb&0x3F)<<10 | reg(rn, 5) | reg(rd, 0)
}

// EncodeCondSelect encodes CSEL (op=0,op2=0), CSINC (0,1), CSINV (1,0), CSNEG (1,1).
func EncodeCondSelect(is64 bool, op, op2 uint8, rd, rn, rm uint8, cond Cond) uint32 {
	return sf(is64) | uint32(op&1)<<30 | 0b011010100<<21 | reg(rm, 16) |
		uint32(cond&0xF)<<12 | uint32(op2&1)<<10 | reg(rn, 5) | reg(rd, 0)
}

// EncodeCCMPImm encodes CCMP Xn, #imm5, #nzcv, cond.
func EncodeCCMPImm(rn, imm5, nzcv uint8, cond Cond) uint32 {
	return 0xFA400800 | uint32(imm5&0x1F)<<16 | uint32(cond&0xF)<<12 |
		reg(rn, 5) | uint32(nzcv&0xF)
}

// EncodeCCMPReg encodes CCMP Xn, Xm, #nzcv, cond.
func EncodeCCMPReg(rn, rm, nzcv uint8, cond Cond) uint32 {
	return 0xFA400000 | reg(rm, 16) | uint32(cond&0xF)<<12 |
		reg(rn, 5) | uint32(nzcv&0xF)
}

// EncodeMADD encodes MADD Xd, Xn, Xm, Xa.
func EncodeMADD(rd, rn, rm, ra uint8) uint32 {
	return 0x9B000000 | reg(rm, 16) | reg(ra, 10) | reg(rn, 5) | reg(rd, 0)
}

// EncodeMSUB encodes MSUB Xd, Xn, Xm, Xa.
func EncodeMSUB(rd, rn, rm, ra uint8) uint32 {
	return EncodeMADD(rd, rn, rm, ra) | 1<<15
}

// EncodeMUL encodes MUL Xd, Xn, Xm.
func EncodeMUL(rd, rn, rm uint8) uint32 {
	return EncodeMADD(rd, rn, rm, RegZR)
}

// EncodeUMULH encodes UMULH Xd, Xn, Xm.
func EncodeUMULH(rd, rn, rm uint8) uint32 {
	return 0x9BC07C00 | reg(rm, 16) | reg(rn, 5) | reg(rd, 0)
}

// EncodeSMULH encodes SMULH Xd, Xn, Xm.
func EncodeSMULH(rd, rn, rm uint8) uint32 {
	return 0x9B407C00 | reg(rm, 16) | reg(rn, 5) | reg(rd, 0)
}

// EncodeDataProc2 encodes a 2-source operation with the given opcode.
func EncodeDataProc2(is64 bool, opcode uint8, rd, rn, rm uint8) uint32 {
	return sf(is64) | 0b0011010110<<21 | reg(rm, 16) | uint32(opcode&0x3F)<<10 |
		reg(rn, 5) | reg(rd, 0)
}

// EncodeUDIV encodes UDIV Xd, Xn, Xm.
func EncodeUDIV(rd, rn, rm uint8) uint32 {
	return EncodeDataProc2(true, 0b000010, rd, rn, rm)
}

// EncodeSDIV encodes SDIV Xd, Xn, Xm.
func EncodeSDIV(rd, rn, rm uint8) uint32 {
	return EncodeDataProc2(true, 0b000011, rd, rn, rm)
}

// EncodeDataProc1 encodes a 1-source operation with the given opcode.
func EncodeDataProc1(is64 bool, opcode uint8, rd, rn uint8) uint32 {
	return sf(is64) | 0b1011010110<<21 | uint32(opcode&0x3F)<<10 | reg(rn, 5) | reg(rd, 0)
}

// EncodeB encodes B pc+offset.
func EncodeB(offset int32) uint32 {
	return 0x14000000 | uint32(offset/4)&0x3FFFFFF
}

// EncodeBL encodes BL pc+offset.
func EncodeBL(offset int32) uint32 {
	return EncodeB(offset) | 1<<31
}

// EncodeBCond encodes B.cond pc+offset.
func EncodeBCond(offset int32, cond Cond) uint32 {
	return 0x54000000 | (uint32(offset/4)&0x7FFFF)<<5 | uint32(cond&0xF)
}

// EncodeBR encodes BR Xn.
func EncodeBR(rn uint8) uint32 {
	return 0xD61F0000 | reg(rn, 5)
}

// EncodeBLR encodes BLR Xn.
func EncodeBLR(rn uint8) uint32 {
	return 0xD63F0000 | reg(rn, 5)
}

// EncodeRET encodes RET (X30).
func EncodeRET() uint32 {
	return 0xD65F03C0
}

// EncodeCBZ encodes CBZ Xt, pc+offset.
func EncodeCBZ(rt uint8, offset int32) uint32 {
	return 0xB4000000 | (uint32(offset/4)&0x7FFFF)<<5 | reg(rt, 0)
}

// EncodeCBNZ encodes CBNZ Xt, pc+offset.
func EncodeCBNZ(rt uint8, offset int32) uint32 {
	return EncodeCBZ(rt, offset) | 1<<24
}

// EncodeTBZ encodes TBZ Xt, #bit, pc+offset.
func EncodeTBZ(rt, bit uint8, offset int32) uint32 {
	return 0x36000000 | uint32(bit>>5&1)<<31 | uint32(bit&0x1F)<<19 |
		(uint32(offset/4)&0x3FFF)<<5 | reg(rt, 0)
}

// EncodeTBNZ encodes TBNZ Xt, #bit, pc+offset.
func EncodeTBNZ(rt, bit uint8, offset int32) uint32 {
	return EncodeTBZ(rt, bit, offset) | 1<<24
}

// EncodeLDR64 encodes LDR Xt, [Xn, #imm12*8].
func EncodeLDR64(rt, rn uint8, imm12 uint16) uint32 {
	return 0xF9400000 | uint32(imm12&0xFFF)<<10 | reg(rn, 5) | reg(rt, 0)
}

// EncodeSTR64 encodes STR Xt, [Xn, #imm12*8].
func EncodeSTR64(rt, rn uint8, imm12 uint16) uint32 {
	return 0xF9000000 | uint32(imm12&0xFFF)<<10 | reg(rn, 5) | reg(rt, 0)
}

// EncodeLoadStoreImm encodes an unsigned-offset load or store of the given
// size (0-3) and opc (0 store, 1 load, 2/3 signed loads).
func EncodeLoadStoreImm(size, opc uint8, rt, rn uint8, imm12 uint16) uint32 {
	return uint32(size&0x3)<<30 | 0b111001<<24 | uint32(opc&0x3)<<22 |
		uint32(imm12&0xFFF)<<10 | reg(rn, 5) | reg(rt, 0)
}

// EncodeLoadStoreIndexed encodes an unscaled (mode 0), post-index (1) or
// pre-index (3) load or store.
func EncodeLoadStoreIndexed(size, opc uint8, rt, rn uint8, imm9 int16, mode uint8) uint32 {
	return uint32(size&0x3)<<30 | 0b111000<<24 | uint32(opc&0x3)<<22 |
		(uint32(imm9)&0x1FF)<<12 | uint32(mode&0x3)<<10 | reg(rn, 5) | reg(rt, 0)
}

// EncodeLoadStoreReg encodes a register-offset load or store with LSL
// extension, optionally scaled by the access size.
func EncodeLoadStoreReg(size, opc uint8, rt, rn, rm uint8, scaled bool) uint32 {
	return uint32(size&0x3)<<30 | 0b111000<<24 | uint32(opc&0x3)<<22 | 1<<21 |
		reg(rm, 16) | uint32(ExtendUXTX)<<13 | flag(scaled, 12) | 0b10<<10 |
		reg(rn, 5) | reg(rt, 0)
}

// EncodeLoadStorePair encodes LDP/STP of X registers. mode is 1 for
// post-index, 2 for signed offset and 3 for pre-index.
func EncodeLoadStorePair(load bool, rt, rt2, rn uint8, imm int16, mode uint8) uint32 {
	return 0b10<<30 | 0b101<<27 | uint32(mode&0x3)<<23 | flag(load, 22) |
		(uint32(imm/8)&0x7F)<<15 | reg(rt2, 10) | reg(rn, 5) | reg(rt, 0)
}

// EncodeLDRLiteral encodes LDR Xt, pc+offset.
func EncodeLDRLiteral(rt uint8, offset int32) uint32 {
	return 0x58000000 | (uint32(offset/4)&0x7FFFF)<<5 | reg(rt, 0)
}

// EncodeSVC encodes SVC #imm.
func EncodeSVC(imm uint16) uint32 {
	return 0xD4000001 | uint32(imm)<<5
}

// EncodeBRK encodes BRK #imm.
func EncodeBRK(imm uint16) uint32 {
	return 0xD4200000 | uint32(imm)<<5
}

// EncodeNOP encodes NOP.
func EncodeNOP() uint32 {
	return 0xD503201F
}

// EncodeMRSTPIDR encodes MRS Xt, TPIDR_EL0.
func EncodeMRSTPIDR(rt uint8) uint32 {
	return 0xD53BD040 | reg(rt, 0)
}

// EncodeLoadStoreVector encodes an unsigned-offset SIMD&FP LDR/STR of size
// bytes (1, 2, 4, 8 or 16). imm12 is scaled by size.
func EncodeLoadStoreVector(load bool, size uint8, rt, rn uint8, imm12 uint16) uint32 {
	var sz, opc uint32
	switch size {
	case 2:
		sz = 1
	case 4:
		sz = 2
	case 8:
		sz = 3
	case 16:
		opc = 0b10
	}
	if load {
		opc |= 1
	}
	return sz<<30 | 0b111101<<24 | opc<<22 |
		uint32(imm12&0xFFF)<<10 | reg(rn, 5) | reg(rt, 0)
}

// EncodeLoadStorePairVector encodes LDP/STP of S (size 4), D (8) or Q (16)
// registers. mode is 1 for post-index, 2 for signed offset and 3 for
// pre-index.
func EncodeLoadStorePairVector(load bool, size uint8, rt, rt2, rn uint8, imm int16, mode uint8) uint32 {
	var opc uint32
	switch size {
	case 8:
		opc = 1
	case 16:
		opc = 2
	}
	return opc<<30 | 0b1011<<26 | uint32(mode&0x3)<<23 | flag(load, 22) |
		(uint32(imm/int16(size))&0x7F)<<15 | reg(rt2, 10) | reg(rn, 5) | reg(rt, 0)
}

// EncodeSIMDThreeSame encodes an Advanced SIMD three-same instruction.
func EncodeSIMDThreeSame(q, u bool, size uint8, opcode uint8, rd, rn, rm uint8) uint32 {
	return flag(q, 30) | flag(u, 29) | 0b01110<<24 | uint32(size&3)<<22 | 1<<21 |
		reg(rm, 16) | uint32(opcode&0x1F)<<11 | 1<<10 | reg(rn, 5) | reg(rd, 0)
}

// EncodeVADD encodes ADD Vd.T, Vn.T, Vm.T for a full 128-bit arrangement of
// 1<<size byte elements.
func EncodeVADD(size uint8, rd, rn, rm uint8) uint32 {
	return EncodeSIMDThreeSame(true, false, size, 0b10000, rd, rn, rm)
}

// EncodeVMOV encodes MOV Vd.16B, Vn.16B (ORR with both sources equal).
func EncodeVMOV(rd, rn uint8) uint32 {
	return EncodeSIMDThreeSame(true, false, 0b10, 0b00011, rd, rn, rn)
}

// EncodeFADD4S encodes FADD Vd.4S, Vn.4S, Vm.4S.
func EncodeFADD4S(rd, rn, rm uint8) uint32 {
	return EncodeSIMDThreeSame(true, false, 0, 0b11010, rd, rn, rm)
}

// EncodeDUP encodes DUP Vd.T, Rn for 1<<elem byte elements.
func EncodeDUP(q bool, elem uint8, rd, rn uint8) uint32 {
	return flag(q, 30) | 0b01110000<<21 | uint32(1<<elem)<<16 | 0b0001<<11 |
		1<<10 | reg(rn, 5) | reg(rd, 0)
}

// EncodeINS encodes MOV Vd.T[lane], Rn for 1<<elem byte elements.
func EncodeINS(elem, lane uint8, rd, rn uint8) uint32 {
	imm5 := uint32(1<<elem) | uint32(lane)<<(elem+1)
	return 1<<30 | 0b01110000<<21 | (imm5&0x1F)<<16 | 0b0011<<11 |
		1<<10 | reg(rn, 5) | reg(rd, 0)
}

// EncodeUMOV encodes UMOV Rd, Vn.T[lane] for 1<<elem byte elements. D
// elements use the 64-bit form.
func EncodeUMOV(elem, lane uint8, rd, rn uint8) uint32 {
	imm5 := uint32(1<<elem) | uint32(lane)<<(elem+1)
	return flag(elem == 3, 30) | 0b01110000<<21 | (imm5&0x1F)<<16 | 0b0111<<11 |
		1<<10 | reg(rn, 5) | reg(rd, 0)
}

// EncodeMOVI encodes an Advanced SIMD modified immediate with the given op
// and cmode.
func EncodeMOVI(q, op bool, cmode, imm8 uint8, rd uint8) uint32 {
	return flag(q, 30) | flag(op, 29) | 0b0111100000<<19 | uint32(imm8>>5)<<16 |
		uint32(cmode&0xF)<<12 | 1<<10 | uint32(imm8&0x1F)<<5 | reg(rd, 0)
}

// EncodeFMOVToGP encodes FMOV Xd, Dn (or Wd, Sn).
func EncodeFMOVToGP(is64 bool, rd, rn uint8) uint32 {
	ftype := uint32(0)
	if is64 {
		ftype = 1
	}
	return sf(is64) | 0b11110<<24 | ftype<<22 | 1<<21 | 0b110<<16 | reg(rn, 5) | reg(rd, 0)
}

// EncodeFMOVFromGP encodes FMOV Dd, Xn (or Sd, Wn).
func EncodeFMOVFromGP(is64 bool, rd, rn uint8) uint32 {
	return EncodeFMOVToGP(is64, rd, rn) | 1<<16
}
