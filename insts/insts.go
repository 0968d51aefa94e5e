// Package insts provides AArch64 instruction definitions and decoding.
//
// This package turns AArch64 machine code into structured instructions for
// the functional emulator and the timing CPUs. It covers the integer
// user-space subset:
//   - Data processing (immediate and register): arithmetic, logical, move
//     wide, bitfield, extract, conditional select/compare, multiply/divide
//   - Branches: B, BL, B.cond, BR, BLR, RET, CBZ/CBNZ, TBZ/TBNZ
//   - Loads and stores: register, pair, literal, exclusive and ordered
//   - System: SVC, BRK, hints, barriers and EL0 system registers
//
// and the SIMD&FP moves compilers emit for memcpy, memset and spills:
// B/H/S/D/Q loads and stores, LDP/STP of S/D/Q, DUP, INS, UMOV, MOVI and
// FMOV to and from general registers, plus lane-wise ADD, SUB, MUL, CMEQ,
// AND, ORR, EOR, FADD, FSUB and FMUL.
//
// Usage:
//
//	decoder := insts.NewDecoder()
//	inst := decoder.Decode(0x91002820) // ADD X0, X1, #10
//	fmt.Printf("Op: %v, Rd: %d, Rn: %d, Imm: %d\n", inst.Op, inst.Rd, inst.Rn, inst.Imm)
package insts
