package emu

import (
	"fmt"

	"github.com/sarchlab/sesim/insts"
)

// MemAccess describes one data memory access made by an instruction.
type MemAccess struct {
	Addr  uint64
	Size  uint64
	Write bool
}

// LoadStoreUnit implements AArch64 load and store instructions.
type LoadStoreUnit struct {
	regFile *RegFile
	vregs   *SIMDRegFile
	memory  Memory

	exclusiveValid bool
	exclusiveAddr  uint64
}

// NewLoadStoreUnit creates a new LoadStoreUnit connected to the given
// register files and memory.
func NewLoadStoreUnit(regFile *RegFile, vregs *SIMDRegFile, memory Memory) *LoadStoreUnit {
	return &LoadStoreUnit{
		regFile: regFile,
		vregs:   vregs,
		memory:  memory,
	}
}

// Execute performs the memory access of inst located at pc.
func (lsu *LoadStoreUnit) Execute(inst *insts.Instruction, pc uint64) ([]MemAccess, error) {
	if inst.Op == insts.OpPRFM {
		return nil, nil
	}

	if inst.Format == insts.FormatLoadStoreLit {
		addr := uint64(int64(pc) + inst.BranchOffset)
		return lsu.single(inst, addr)
	}

	base := lsu.regFile.ReadRegOrSP(inst.Rn)
	addr := base
	switch inst.Index {
	case insts.IndexOffset, insts.IndexPre:
		addr = uint64(int64(base) + inst.Offset)
	case insts.IndexReg:
		addr = base + ExtendReg(lsu.regFile.ReadReg(inst.Rm), inst.ExtendType, inst.ShiftAmount)
	}

	var accesses []MemAccess
	var err error
	switch inst.Format {
	case insts.FormatLoadStorePair:
		accesses, err = lsu.pair(inst, addr)
	case insts.FormatExclusive:
		accesses, err = lsu.exclusive(inst, addr)
	default:
		accesses, err = lsu.single(inst, addr)
	}
	if err != nil {
		return nil, err
	}

	switch inst.Index {
	case insts.IndexPre:
		lsu.regFile.WriteRegOrSP(inst.Rn, addr)
	case insts.IndexPost:
		lsu.regFile.WriteRegOrSP(inst.Rn, uint64(int64(base)+inst.Offset))
	}

	return accesses, nil
}

func (lsu *LoadStoreUnit) single(inst *insts.Instruction, addr uint64) ([]MemAccess, error) {
	size := inst.MemSize
	access := MemAccess{Addr: addr, Size: uint64(size), Write: inst.IsStore()}

	if inst.Vector {
		if err := lsu.vector(inst.Rd, addr, size, access.Write); err != nil {
			return nil, err
		}
		return []MemAccess{access}, nil
	}

	if access.Write {
		if err := WriteUint(lsu.memory, addr, size, lsu.regFile.ReadReg(inst.Rd)); err != nil {
			return nil, fmt.Errorf("store to %#x: %w", addr, err)
		}
		return []MemAccess{access}, nil
	}

	value, err := ReadUint(lsu.memory, addr, size)
	if err != nil {
		return nil, fmt.Errorf("load from %#x: %w", addr, err)
	}
	lsu.regFile.WriteReg(inst.Rd, extendLoad(inst, value))

	return []MemAccess{access}, nil
}

func (lsu *LoadStoreUnit) pair(inst *insts.Instruction, addr uint64) ([]MemAccess, error) {
	size := inst.MemSize
	second := addr + uint64(size)
	accesses := []MemAccess{
		{Addr: addr, Size: uint64(size), Write: inst.Op == insts.OpSTP},
		{Addr: second, Size: uint64(size), Write: inst.Op == insts.OpSTP},
	}

	if inst.Vector {
		if err := lsu.vector(inst.Rd, addr, size, accesses[0].Write); err != nil {
			return nil, err
		}
		if err := lsu.vector(inst.Rt2, second, size, accesses[1].Write); err != nil {
			return nil, err
		}
		return accesses, nil
	}

	if inst.Op == insts.OpSTP {
		if err := WriteUint(lsu.memory, addr, size, lsu.regFile.ReadReg(inst.Rd)); err != nil {
			return nil, fmt.Errorf("store pair to %#x: %w", addr, err)
		}
		if err := WriteUint(lsu.memory, second, size, lsu.regFile.ReadReg(inst.Rt2)); err != nil {
			return nil, fmt.Errorf("store pair to %#x: %w", second, err)
		}
		return accesses, nil
	}

	v1, err := ReadUint(lsu.memory, addr, size)
	if err != nil {
		return nil, fmt.Errorf("load pair from %#x: %w", addr, err)
	}
	v2, err := ReadUint(lsu.memory, second, size)
	if err != nil {
		return nil, fmt.Errorf("load pair from %#x: %w", second, err)
	}

	lsu.regFile.WriteReg(inst.Rd, extendLoad(inst, v1))
	lsu.regFile.WriteReg(inst.Rt2, extendLoad(inst, v2))

	return accesses, nil
}

// vector moves size bytes between memory and the low bytes of a SIMD&FP
// register. Loads clear the bytes above size.
func (lsu *LoadStoreUnit) vector(reg uint8, addr uint64, size uint8, write bool) error {
	if write {
		if err := lsu.memory.Write(addr, lsu.vregs.ReadBytes(reg, size)); err != nil {
			return fmt.Errorf("store to %#x: %w", addr, err)
		}
		return nil
	}

	data, err := lsu.memory.Read(addr, uint64(size))
	if err != nil {
		return fmt.Errorf("load from %#x: %w", addr, err)
	}
	lsu.vregs.WriteBytes(reg, data)
	return nil
}

func (lsu *LoadStoreUnit) exclusive(inst *insts.Instruction, addr uint64) ([]MemAccess, error) {
	switch inst.Op {
	case insts.OpLDXR:
		lsu.exclusiveValid = true
		lsu.exclusiveAddr = addr
		return lsu.single(inst, addr)
	case insts.OpSTXR:
		ok := lsu.exclusiveValid && lsu.exclusiveAddr == addr
		lsu.exclusiveValid = false
		if !ok {
			lsu.regFile.WriteReg(inst.Rm, 1)
			return nil, nil
		}
		accesses, err := lsu.single(inst, addr)
		if err != nil {
			return nil, err
		}
		lsu.regFile.WriteReg(inst.Rm, 0)
		return accesses, nil
	}

	return lsu.single(inst, addr)
}

// ClearExclusive drops the exclusive monitor.
func (lsu *LoadStoreUnit) ClearExclusive() {
	lsu.exclusiveValid = false
}

func extendLoad(inst *insts.Instruction, value uint64) uint64 {
	if !inst.SignExtend {
		return value
	}

	width := uint(inst.MemSize) * 8
	signed := uint64(int64(value<<(64-width)) >> (64 - width))
	if inst.SignExtendTo64 {
		return signed
	}
	return signed & 0xFFFFFFFF
}
