package emu

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/sesim/insts"
)

// ErrUnknownInstruction is returned for encodings the emulator cannot execute.
var ErrUnknownInstruction = errors.New("unknown instruction")

// ErrBreakpoint is returned when the program executes BRK.
var ErrBreakpoint = errors.New("breakpoint instruction")

// Values reported by MRS for the read-only identification registers.
const (
	midrValue   = 0x410FD034 // Cortex-A53 r0p4
	dczidValue  = 0x10       // DC ZVA prohibited
	cntfrqValue = 1000000000 // virtual counter runs at 1GHz
)

// StepResult represents the result of executing a single instruction.
type StepResult struct {
	// PC is the address of the executed instruction.
	PC uint64

	// NextPC is the address of the next instruction on the correct path.
	NextPC uint64

	// Word is the raw instruction encoding.
	Word uint32

	// Inst is the decoded instruction. It is nil if the fetch faulted.
	Inst *insts.Instruction

	// Taken is true for branches that redirected control flow.
	Taken bool

	// Accesses lists the data memory accesses made by the instruction.
	Accesses []MemAccess

	// Exited is true if the program terminated (via exit syscall).
	Exited bool

	// ExitCode is the exit status if Exited is true.
	ExitCode int64

	// Err is set if an error occurred during execution.
	Err error
}

// Emulator executes AArch64 instructions functionally.
type Emulator struct {
	regFile        *RegFile
	simdRegFile    *SIMDRegFile
	memory         Memory
	decoder        *insts.Decoder
	syscallHandler SyscallHandler

	alu        *ALU
	lsu        *LoadStoreUnit
	branchUnit *BranchUnit
	simdUnit   *SIMD

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	fds    *FDTable
	space  AddressSpace
	cwd    string
	ident  Identity
	nowNs  func() uint64
	log    logrus.FieldLogger

	instructionCount uint64
	exited           bool
	exitCode         int64
}

// EmulatorOption is a functional option for configuring the Emulator.
type EmulatorOption func(*Emulator)

// WithMemory sets the address space the program executes in.
func WithMemory(m Memory) EmulatorOption {
	return func(e *Emulator) {
		e.memory = m
	}
}

// WithStdin sets the reader behind file descriptor 0.
func WithStdin(r io.Reader) EmulatorOption {
	return func(e *Emulator) {
		e.stdin = r
	}
}

// WithStdout sets the writer behind file descriptor 1.
func WithStdout(w io.Writer) EmulatorOption {
	return func(e *Emulator) {
		e.stdout = w
	}
}

// WithStderr sets the writer behind file descriptor 2.
func WithStderr(w io.Writer) EmulatorOption {
	return func(e *Emulator) {
		e.stderr = w
	}
}

// WithAddressSpace sets the brk/mmap manager.
func WithAddressSpace(s AddressSpace) EmulatorOption {
	return func(e *Emulator) {
		e.space = s
	}
}

// WithCwd sets the working directory used for relative paths.
func WithCwd(dir string) EmulatorOption {
	return func(e *Emulator) {
		e.cwd = dir
	}
}

// WithIdentity sets the IDs returned by getpid, getuid and friends.
func WithIdentity(id Identity) EmulatorOption {
	return func(e *Emulator) {
		e.ident = id
	}
}

// WithClock sets the source of simulated time in nanoseconds.
func WithClock(nowNs func() uint64) EmulatorOption {
	return func(e *Emulator) {
		e.nowNs = nowNs
	}
}

// WithLogger sets the logger used for warnings.
func WithLogger(l logrus.FieldLogger) EmulatorOption {
	return func(e *Emulator) {
		e.log = l
	}
}

// WithSyscallHandler replaces the Linux syscall handler.
func WithSyscallHandler(handler SyscallHandler) EmulatorOption {
	return func(e *Emulator) {
		e.syscallHandler = handler
	}
}

// WithStackPointer sets the initial stack pointer value.
func WithStackPointer(sp uint64) EmulatorOption {
	return func(e *Emulator) {
		e.regFile.SP = sp
	}
}

// NewEmulator creates a new AArch64 emulator.
func NewEmulator(opts ...EmulatorOption) *Emulator {
	e := &Emulator{
		regFile:     &RegFile{},
		simdRegFile: NewSIMDRegFile(),
		decoder:     insts.NewDecoder(),
		stdout:      os.Stdout,
		stderr:      os.Stderr,
		ident:       DefaultIdentity(),
		log:         logrus.StandardLogger(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.memory == nil {
		e.memory = NewSparseMemory()
	}
	if e.space == nil {
		e.space = NewFlatAddressSpace(0x10000000, 0x40000000)
	}
	if e.nowNs == nil {
		e.nowNs = func() uint64 { return e.instructionCount }
	}

	e.alu = NewALU(e.regFile)
	e.lsu = NewLoadStoreUnit(e.regFile, e.simdRegFile, e.memory)
	e.branchUnit = NewBranchUnit(e.regFile)
	e.simdUnit = NewSIMD(e.simdRegFile, e.regFile)
	e.fds = NewFDTable(e.stdin, e.stdout, e.stderr)

	if e.syscallHandler == nil {
		h := NewLinuxSyscallHandler(e.regFile, e.memory, e.fds, e.space)
		h.ident = e.ident
		h.nowNs = e.nowNs
		h.log = e.log
		if e.cwd != "" {
			h.cwd = e.cwd
		}
		e.syscallHandler = h
	}

	return e
}

// RegFile returns the emulator's register file.
func (e *Emulator) RegFile() *RegFile {
	return e.regFile
}

// SIMDRegFile returns the emulator's SIMD&FP register file.
func (e *Emulator) SIMDRegFile() *SIMDRegFile {
	return e.simdRegFile
}

// Memory returns the emulator's memory.
func (e *Emulator) Memory() Memory {
	return e.memory
}

// FDTable returns the emulated process's file descriptor table.
func (e *Emulator) FDTable() *FDTable {
	return e.fds
}

// InstructionCount returns the number of instructions executed.
func (e *Emulator) InstructionCount() uint64 {
	return e.instructionCount
}

// Exited reports whether the program has terminated and its exit code.
func (e *Emulator) Exited() (bool, int64) {
	return e.exited, e.exitCode
}

// LoadProgram writes machine code at entry and points the PC at it.
func (e *Emulator) LoadProgram(entry uint64, program []byte) error {
	if err := e.memory.Write(entry, program); err != nil {
		return fmt.Errorf("loading program at %#x: %w", entry, err)
	}
	e.regFile.PC = entry
	return nil
}

// Close releases host files opened by the program.
func (e *Emulator) Close() {
	e.fds.CloseAll()
}

// Step executes a single instruction.
func (e *Emulator) Step() StepResult {
	pc := e.regFile.PC
	if e.exited {
		return StepResult{PC: pc, NextPC: pc, Exited: true, ExitCode: e.exitCode}
	}

	word, err := ReadUint(e.memory, pc, 4)
	if err != nil {
		return StepResult{PC: pc, NextPC: pc, Err: fmt.Errorf("fetch at pc %#x: %w", pc, err)}
	}

	inst := e.decoder.Decode(uint32(word))
	result := StepResult{PC: pc, NextPC: pc + 4, Word: uint32(word), Inst: inst}

	e.execute(inst, &result)
	if result.Err != nil {
		result.NextPC = pc
		return result
	}

	e.regFile.PC = result.NextPC
	e.instructionCount++

	if result.Exited {
		e.exited = true
		e.exitCode = result.ExitCode
	}

	return result
}

// Run executes until the program exits or faults and returns the exit code.
func (e *Emulator) Run() (int64, error) {
	for {
		r := e.Step()
		if r.Err != nil {
			return -1, r.Err
		}
		if r.Exited {
			return r.ExitCode, nil
		}
	}
}

func (e *Emulator) execute(inst *insts.Instruction, result *StepResult) {
	pc := result.PC

	switch inst.OpClass() {
	case insts.OpClassBranch:
		result.Taken, result.NextPC = e.branchUnit.Execute(inst, pc)
	case insts.OpClassMemRead, insts.OpClassMemWrite:
		accesses, err := e.lsu.Execute(inst, pc)
		if err != nil {
			result.Err = fmt.Errorf("pc %#x: %w", pc, err)
			return
		}
		result.Accesses = accesses
	case insts.OpClassSyscall:
		e.exception(inst, result)
	case insts.OpClassNop:
		if inst.Op == insts.OpUnknown {
			result.Err = fmt.Errorf("%w %#08x at pc %#x", ErrUnknownInstruction, result.Word, pc)
		}
		if inst.Op == insts.OpBarrier {
			e.lsu.ClearExclusive()
		}
	default:
		switch inst.Format {
		case insts.FormatSystem:
			e.system(inst)
			return
		case insts.FormatSIMDReg, insts.FormatSIMDCopy, insts.FormatSIMDImm, insts.FormatFPMove:
			if err := e.simdUnit.Execute(inst); err != nil {
				result.Err = fmt.Errorf("pc %#x: %w", pc, err)
			}
			return
		}
		if err := e.alu.Execute(inst, pc); err != nil {
			result.Err = fmt.Errorf("pc %#x: %w", pc, err)
		}
	}
}

func (e *Emulator) exception(inst *insts.Instruction, result *StepResult) {
	if inst.Op == insts.OpBRK {
		result.Exited = true
		result.ExitCode = -1
		result.Err = fmt.Errorf("%w #%d at pc %#x", ErrBreakpoint, inst.Imm, result.PC)
		e.exited = true
		e.exitCode = -1
		return
	}

	r := e.syscallHandler.Handle()
	if r.Exited {
		result.Exited = true
		result.ExitCode = r.ExitCode
	}
}

func (e *Emulator) system(inst *insts.Instruction) {
	if inst.Op == insts.OpMSR {
		if inst.SysReg == insts.SysRegTPIDR {
			e.regFile.TPIDR = e.regFile.ReadReg(inst.Rd)
		}
		return
	}

	var value uint64
	switch inst.SysReg {
	case insts.SysRegTPIDR:
		value = e.regFile.TPIDR
	case insts.SysRegCNTVCT:
		value = e.nowNs()
	case insts.SysRegCNTFRQ:
		value = cntfrqValue
	case insts.SysRegDCZID:
		value = dczidValue
	case insts.SysRegMIDR:
		value = midrValue
	}
	e.regFile.WriteReg(inst.Rd, value)
}
