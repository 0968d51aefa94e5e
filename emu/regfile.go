// Package emu provides functional AArch64 execution for syscall-emulated
// user-space programs.
package emu

// RegFile represents the AArch64 user-visible register state.
type RegFile struct {
	// X holds general-purpose registers X0-X30.
	// X[31] is never read; register 31 is either XZR or SP depending on the
	// instruction.
	X [32]uint64

	// SP is the stack pointer.
	SP uint64

	// PC is the program counter.
	PC uint64

	// PSTATE holds the condition flags.
	PSTATE PSTATE

	// TPIDR is the EL0 software thread ID register used for TLS.
	TPIDR uint64
}

// PSTATE represents the processor condition flags.
type PSTATE struct {
	N bool
	Z bool
	C bool
	V bool
}

// NZCV packs the flags in the architectural bit order N:Z:C:V.
func (p PSTATE) NZCV() uint8 {
	var v uint8
	if p.N {
		v |= 0b1000
	}
	if p.Z {
		v |= 0b0100
	}
	if p.C {
		v |= 0b0010
	}
	if p.V {
		v |= 0b0001
	}
	return v
}

// SetNZCV unpacks a 4-bit N:Z:C:V value into the flags.
func (p *PSTATE) SetNZCV(v uint8) {
	p.N = v&0b1000 != 0
	p.Z = v&0b0100 != 0
	p.C = v&0b0010 != 0
	p.V = v&0b0001 != 0
}

// ReadReg reads a register value. Register 31 returns 0 (XZR).
func (r *RegFile) ReadReg(reg uint8) uint64 {
	if reg >= 31 {
		return 0
	}
	return r.X[reg]
}

// ReadRegOrSP reads a register value, treating register 31 as SP.
func (r *RegFile) ReadRegOrSP(reg uint8) uint64 {
	if reg == 31 {
		return r.SP
	}
	return r.X[reg]
}

// WriteReg writes a value to a register. Writes to register 31 are ignored.
func (r *RegFile) WriteReg(reg uint8, value uint64) {
	if reg >= 31 {
		return
	}
	r.X[reg] = value
}

// WriteRegOrSP writes a register value, treating register 31 as SP.
func (r *RegFile) WriteRegOrSP(reg uint8, value uint64) {
	if reg == 31 {
		r.SP = value
		return
	}
	r.X[reg] = value
}

// read selects between the XZR and SP views of register 31.
func (r *RegFile) read(reg uint8, isSP bool) uint64 {
	if isSP {
		return r.ReadRegOrSP(reg)
	}
	return r.ReadReg(reg)
}

func (r *RegFile) write(reg uint8, value uint64, isSP bool) {
	if isSP {
		r.WriteRegOrSP(reg, value)
		return
	}
	r.WriteReg(reg, value)
}
