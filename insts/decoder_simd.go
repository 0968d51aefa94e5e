package insts

// isSIMDThreeSame checks for Advanced SIMD three same:
// 0 | Q | U | 01110 | size | 1 | Rm | opcode | 1 | Rn | Rd.
func (d *Decoder) isSIMDThreeSame(word uint32) bool {
	return bits(word, 31, 31) == 0 && bits(word, 28, 24) == 0b01110 &&
		bits(word, 21, 21) == 1 && bits(word, 10, 10) == 1
}

// decodeSIMDThreeSame decodes the vector ADD, SUB, MUL, CMEQ, the bitwise
// AND/ORR/EOR forms and FADD, FSUB, FMUL.
func (d *Decoder) decodeSIMDThreeSame(word uint32, inst *Instruction) {
	q := bits(word, 30, 30)
	u := bits(word, 29, 29)
	size := bits(word, 23, 22)
	opcode := bits(word, 15, 11)

	var op Op
	arr := arrangement(size, q)
	switch {
	case opcode == 0b10000:
		if size == 0b11 && q == 0 {
			return
		}
		op = OpVADD
		if u == 1 {
			op = OpVSUB
		}
	case opcode == 0b10011 && u == 0:
		if size == 0b11 {
			return
		}
		op = OpVMUL
	case opcode == 0b10001 && u == 1:
		if size == 0b11 && q == 0 {
			return
		}
		op = OpCMEQ
	case opcode == 0b00011:
		arr = arrangement(0, q)
		switch {
		case u == 0 && size == 0b00:
			op = OpVAND
		case u == 0 && size == 0b10:
			op = OpVORR
		case u == 1 && size == 0b00:
			op = OpVEOR
		default:
			return
		}
	case opcode == 0b11010 || opcode == 0b11011:
		sz := size & 1
		if sz == 1 && q == 0 {
			return
		}
		arr = arrangement(2+sz, q)
		switch {
		case opcode == 0b11010 && u == 0 && size < 0b10:
			op = OpVFADD
		case opcode == 0b11010 && u == 0:
			op = OpVFSUB
		case opcode == 0b11011 && u == 1 && size < 0b10:
			op = OpVFMUL
		default:
			return
		}
	default:
		return
	}

	inst.Op = op
	inst.Format = FormatSIMDReg
	inst.Arrangement = arr
	inst.Rd = uint8(bits(word, 4, 0))
	inst.Rn = uint8(bits(word, 9, 5))
	inst.Rm = uint8(bits(word, 20, 16))
}

// isSIMDCopy checks for Advanced SIMD copy:
// 0 | Q | op | 01110000 | imm5 | 0 | imm4 | 1 | Rn | Rd.
func (d *Decoder) isSIMDCopy(word uint32) bool {
	return bits(word, 31, 31) == 0 && bits(word, 28, 21) == 0b01110000 &&
		bits(word, 15, 15) == 0 && bits(word, 10, 10) == 1
}

// decodeSIMDCopy decodes DUP (general), INS (general) and UMOV. The element
// size is the position of the lowest set bit of imm5; the bits above it
// hold the lane index.
func (d *Decoder) decodeSIMDCopy(word uint32, inst *Instruction) {
	q := bits(word, 30, 30)
	imm5 := bits(word, 20, 16)
	imm4 := bits(word, 14, 11)
	if bits(word, 29, 29) == 1 || imm5&0xF == 0 {
		return
	}

	var elem uint32
	for imm5>>elem&1 == 0 {
		elem++
	}
	inst.Lane = uint8(imm5 >> (elem + 1))

	switch imm4 {
	case 0b0001:
		if elem == 3 && q == 0 {
			return
		}
		inst.Op = OpDUP
		inst.Arrangement = arrangement(elem, q)
		inst.Lane = 0
	case 0b0011:
		if q == 0 {
			return
		}
		inst.Op = OpINS
		inst.Arrangement = arrangement(elem, 1)
	case 0b0111:
		if (q == 1) != (elem == 3) {
			return
		}
		inst.Op = OpUMOV
		inst.Arrangement = arrangement(elem, 1)
		inst.Is64Bit = q == 1
	default:
		return
	}

	inst.Format = FormatSIMDCopy
	inst.Rd = uint8(bits(word, 4, 0))
	inst.Rn = uint8(bits(word, 9, 5))
}

// isSIMDImm checks for Advanced SIMD modified immediate:
// 0 | Q | op | 0111100000 | abc | cmode | o2 | 1 | defgh | Rd.
func (d *Decoder) isSIMDImm(word uint32) bool {
	return bits(word, 31, 31) == 0 && bits(word, 28, 19) == 0b0111100000 &&
		bits(word, 11, 10) == 0b01
}

// decodeSIMDImm decodes MOVI and MVNI. Imm holds the expanded 64-bit pattern
// that is written to each doubleword of the destination.
func (d *Decoder) decodeSIMDImm(word uint32, inst *Instruction) {
	q := bits(word, 30, 30)
	op := bits(word, 29, 29)
	cmode := bits(word, 15, 12)
	imm8 := uint64(bits(word, 18, 16)<<5 | bits(word, 9, 5))

	var imm uint64
	switch {
	case cmode&0b1001 == 0b0000:
		imm = replicate(imm8<<(8*(cmode>>1&3)), 32)
	case cmode&0b1101 == 0b1000:
		imm = replicate(imm8<<(8*(cmode>>1&1)), 16)
	case cmode == 0b1100 && op == 0:
		imm = replicate(imm8<<8|0xFF, 32)
	case cmode == 0b1101 && op == 0:
		imm = replicate(imm8<<16|0xFFFF, 32)
	case cmode == 0b1110 && op == 0:
		imm = replicate(imm8, 8)
	case cmode == 0b1110:
		for i := 0; i < 8; i++ {
			if imm8&(1<<i) != 0 {
				imm |= 0xFF << (8 * i)
			}
		}
		op = 0
	default:
		return
	}
	if op == 1 {
		imm = ^imm
	}

	inst.Op = OpMOVI
	inst.Format = FormatSIMDImm
	inst.Arrangement = arrangement(3, q)
	inst.Imm = imm
	inst.Rd = uint8(bits(word, 4, 0))
}

func replicate(v uint64, width uint) uint64 {
	v &= 1<<width - 1
	out := v
	for w := width; w < 64; w *= 2 {
		out |= out << w
	}
	return out
}

// isFPMove checks for conversion between floating-point and integer:
// sf | 0 | 0 | 11110 | ftype | 1 | rmode | opcode | 000000 | Rn | Rd.
func (d *Decoder) isFPMove(word uint32) bool {
	return bits(word, 30, 29) == 0 && bits(word, 28, 24) == 0b11110 &&
		bits(word, 21, 21) == 1 && bits(word, 15, 10) == 0
}

// decodeFPMove decodes the FMOV forms that copy bits unchanged: Wd<->Sn,
// Xd<->Dn and Xd<->Vn.D[1]. Conversions with rounding are not decoded.
func (d *Decoder) decodeFPMove(word uint32, inst *Instruction) {
	sf := bits(word, 31, 31)
	ftype := bits(word, 23, 22)
	rmode := bits(word, 20, 19)
	opcode := bits(word, 18, 16)

	if opcode != 0b110 && opcode != 0b111 {
		return
	}

	switch {
	case rmode == 0 && sf == 0 && ftype == 0b00:
	case rmode == 0 && sf == 1 && ftype == 0b01:
	case rmode == 1 && sf == 1 && ftype == 0b10:
		inst.Lane = 1
	default:
		return
	}

	inst.Op = OpFMOVToGP
	if opcode == 0b111 {
		inst.Op = OpFMOVFromGP
	}
	inst.Format = FormatFPMove
	inst.Is64Bit = sf == 1
	inst.Rd = uint8(bits(word, 4, 0))
	inst.Rn = uint8(bits(word, 9, 5))
}
