package insts

// Op represents an AArch64 opcode.
type Op uint16

// AArch64 opcodes.
const (
	OpUnknown Op = iota
	OpADD
	OpSUB
	OpADC
	OpSBC
	OpAND
	OpORR
	OpEOR
	OpBIC
	OpORN
	OpEON
	OpMOVZ
	OpMOVN
	OpMOVK
	OpADR
	OpADRP
	OpUBFM
	OpSBFM
	OpBFM
	OpEXTR
	OpCSEL
	OpCSINC
	OpCSINV
	OpCSNEG
	OpCCMP
	OpCCMN
	OpMADD
	OpMSUB
	OpSMADDL
	OpSMSUBL
	OpUMADDL
	OpUMSUBL
	OpSMULH
	OpUMULH
	OpUDIV
	OpSDIV
	OpLSLV
	OpLSRV
	OpASRV
	OpRORV
	OpRBIT
	OpREV16
	OpREV32
	OpREV
	OpCLZ
	OpCLS
	OpB
	OpBL
	OpBCond
	OpBR
	OpBLR
	OpRET
	OpCBZ
	OpCBNZ
	OpTBZ
	OpTBNZ
	OpLDR
	OpSTR
	OpLDP
	OpSTP
	OpLDXR
	OpSTXR
	OpPRFM
	OpMRS
	OpMSR
	OpSVC
	OpBRK
	OpNOP
	OpBarrier
	OpVADD
	OpVSUB
	OpVMUL
	OpVFADD
	OpVFSUB
	OpVFMUL
	OpVAND
	OpVORR
	OpVEOR
	OpCMEQ
	OpDUP
	OpINS
	OpUMOV
	OpMOVI
	OpFMOVToGP
	OpFMOVFromGP
)

var opNames = map[Op]string{
	OpUnknown: "unknown", OpADD: "add", OpSUB: "sub", OpADC: "adc", OpSBC: "sbc",
	OpAND: "and", OpORR: "orr", OpEOR: "eor", OpBIC: "bic", OpORN: "orn", OpEON: "eon",
	OpMOVZ: "movz", OpMOVN: "movn", OpMOVK: "movk", OpADR: "adr", OpADRP: "adrp",
	OpUBFM: "ubfm", OpSBFM: "sbfm", OpBFM: "bfm", OpEXTR: "extr",
	OpCSEL: "csel", OpCSINC: "csinc", OpCSINV: "csinv", OpCSNEG: "csneg",
	OpCCMP: "ccmp", OpCCMN: "ccmn", OpMADD: "madd", OpMSUB: "msub",
	OpSMADDL: "smaddl", OpSMSUBL: "smsubl", OpUMADDL: "umaddl", OpUMSUBL: "umsubl",
	OpSMULH: "smulh", OpUMULH: "umulh", OpUDIV: "udiv", OpSDIV: "sdiv",
	OpLSLV: "lslv", OpLSRV: "lsrv", OpASRV: "asrv", OpRORV: "rorv",
	OpRBIT: "rbit", OpREV16: "rev16", OpREV32: "rev32", OpREV: "rev", OpCLZ: "clz", OpCLS: "cls",
	OpB: "b", OpBL: "bl", OpBCond: "b.cond", OpBR: "br", OpBLR: "blr", OpRET: "ret",
	OpCBZ: "cbz", OpCBNZ: "cbnz", OpTBZ: "tbz", OpTBNZ: "tbnz",
	OpLDR: "ldr", OpSTR: "str", OpLDP: "ldp", OpSTP: "stp", OpLDXR: "ldxr", OpSTXR: "stxr",
	OpPRFM: "prfm", OpMRS: "mrs", OpMSR: "msr", OpSVC: "svc", OpBRK: "brk",
	OpNOP: "nop", OpBarrier: "barrier",
	OpVADD: "add.v", OpVSUB: "sub.v", OpVMUL: "mul.v",
	OpVFADD: "fadd.v", OpVFSUB: "fsub.v", OpVFMUL: "fmul.v",
	OpVAND: "and.v", OpVORR: "orr.v", OpVEOR: "eor.v", OpCMEQ: "cmeq",
	OpDUP: "dup", OpINS: "ins", OpUMOV: "umov", OpMOVI: "movi",
	OpFMOVToGP: "fmov", OpFMOVFromGP: "fmov",
}

func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return "unknown"
}

// Format represents an instruction encoding format.
type Format uint8

// Instruction formats.
const (
	FormatUnknown       Format = iota
	FormatDPImm                // Add/subtract (immediate)
	FormatDPReg                // Add/subtract and logical (shifted register)
	FormatDPExt                // Add/subtract (extended register)
	FormatDPCarry              // Add/subtract with carry
	FormatLogicalImm           // Logical (immediate)
	FormatMoveWide             // Move wide (immediate)
	FormatPCRel                // PC-relative addressing
	FormatBitfield             // Bitfield
	FormatExtract              // Extract
	FormatCondSelect           // Conditional select
	FormatCondCmp              // Conditional compare
	FormatDataProc1Src         // Data-processing (1 source)
	FormatDataProc2Src         // Data-processing (2 source)
	FormatDataProc3Src         // Data-processing (3 source)
	FormatBranch               // Unconditional branch (immediate)
	FormatBranchCond           // Conditional branch (immediate)
	FormatBranchReg            // Unconditional branch (register)
	FormatCompareBranch        // Compare and branch
	FormatTestBranch           // Test and branch
	FormatLoadStore            // Load/store register
	FormatLoadStorePair        // Load/store pair
	FormatLoadStoreLit         // Load register (literal)
	FormatExclusive            // Load/store exclusive and ordered
	FormatSystem               // Hints, barriers, system registers
	FormatException            // SVC, BRK
	FormatSIMDReg              // Advanced SIMD three same
	FormatSIMDCopy             // Advanced SIMD copy (DUP, INS, UMOV)
	FormatSIMDImm              // Advanced SIMD modified immediate
	FormatFPMove               // FMOV between general and FP registers
)

// Arrangement is the element layout of a vector register operand.
type Arrangement uint8

// Vector arrangements.
const (
	Arr8B Arrangement = iota
	Arr16B
	Arr4H
	Arr8H
	Arr2S
	Arr4S
	Arr1D
	Arr2D
)

// ElemBytes returns the size of one element.
func (a Arrangement) ElemBytes() uint8 {
	return 1 << (a / 2)
}

// Lanes returns the number of elements.
func (a Arrangement) Lanes() uint8 {
	if a.Full() {
		return 16 / a.ElemBytes()
	}
	return 8 / a.ElemBytes()
}

// Full reports whether the arrangement spans all 128 bits.
func (a Arrangement) Full() bool {
	return a%2 == 1
}

func arrangement(elemLog2, q uint32) Arrangement {
	return Arrangement(elemLog2*2 + q)
}

// Cond represents an AArch64 condition code.
type Cond uint8

// AArch64 condition codes.
const (
	CondEQ Cond = 0b0000
	CondNE Cond = 0b0001
	CondCS Cond = 0b0010
	CondCC Cond = 0b0011
	CondMI Cond = 0b0100
	CondPL Cond = 0b0101
	CondVS Cond = 0b0110
	CondVC Cond = 0b0111
	CondHI Cond = 0b1000
	CondLS Cond = 0b1001
	CondGE Cond = 0b1010
	CondLT Cond = 0b1011
	CondGT Cond = 0b1100
	CondLE Cond = 0b1101
	CondAL Cond = 0b1110
	CondNV Cond = 0b1111
)

// ShiftType represents a shift type for register operands.
type ShiftType uint8

// Shift types.
const (
	ShiftLSL ShiftType = 0b00
	ShiftLSR ShiftType = 0b01
	ShiftASR ShiftType = 0b10
	ShiftROR ShiftType = 0b11
)

// ExtendType is the extension applied to an extended-register operand.
type ExtendType uint8

// Extend types, in encoding order.
const (
	ExtendUXTB ExtendType = iota
	ExtendUXTH
	ExtendUXTW
	ExtendUXTX
	ExtendSXTB
	ExtendSXTH
	ExtendSXTW
	ExtendSXTX
)

// IndexMode is the addressing mode of a load or store.
type IndexMode uint8

// Addressing modes.
const (
	IndexOffset IndexMode = iota
	IndexPre
	IndexPost
	IndexReg
)

// SysReg identifies the system registers reachable from EL0.
type SysReg uint16

// System registers accessed by user-space code.
const (
	SysRegUnknown SysReg = iota
	SysRegTPIDR
	SysRegCNTVCT
	SysRegCNTFRQ
	SysRegDCZID
	SysRegMIDR
	SysRegFPCR
	SysRegFPSR
)

// Register numbers used for dependency tracking. General-purpose registers
// occupy 0-30, register 31 encodes the zero register and is never tracked.
// V0-V31 follow the flags.
const (
	RegZR    uint8 = 31
	RegSP    uint8 = 32
	RegFlags uint8 = 33
	RegV0    uint8 = 34
	NumRegs        = 66
)

// Instruction represents a decoded AArch64 instruction.
type Instruction struct {
	Op     Op
	Format Format

	Is64Bit  bool
	SetFlags bool
	Rd       uint8
	Rn       uint8
	Rm       uint8
	Ra       uint8
	Rt2      uint8

	// RdIsSP and RnIsSP mark register 31 as the stack pointer rather
	// than the zero register.
	RdIsSP bool
	RnIsSP bool

	Imm   uint64
	Shift uint8

	BranchOffset int64
	Cond         Cond
	BitPos       uint8

	ShiftType   ShiftType
	ShiftAmount uint8
	ExtendType  ExtendType

	// Bitfield operands.
	Immr uint8
	Imms uint8

	// Conditional compare operands.
	NZCV     uint8
	CmpIsImm bool

	// Load/store operands.
	MemSize        uint8
	SignExtend     bool
	SignExtendTo64 bool
	Index          IndexMode
	Offset         int64
	Scaled         bool

	// Vector marks load/store data registers (Rd, Rt2) as SIMD&FP
	// registers.
	Vector bool

	// Advanced SIMD operands. Lane is the element index of INS, UMOV and
	// FMOV to or from the upper half.
	Arrangement Arrangement
	Lane        uint8

	SysReg SysReg
}

// DataSize returns the operand width in bits.
func (i *Instruction) DataSize() uint8 {
	if i.Is64Bit {
		return 64
	}
	return 32
}
