package workload

import (
	"debug/elf"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/sesim/emu"
	"github.com/sarchlab/sesim/loader"
	"github.com/sarchlab/sesim/mem"
)

// ErrNoCompatibleWorkload is returned for executables the SE workload cannot
// run.
var ErrNoCompatibleWorkload = errors.New("no compatible SE workload")

// SEWorkload runs one statically linked AArch64 Linux program.
type SEWorkload struct {
	Path    string
	Program *loader.Program
}

// InitCompatible inspects the executable and returns a workload able to run
// it.
func InitCompatible(executable string) (*SEWorkload, error) {
	prog, err := loader.Load(executable)
	if err != nil {
		return nil, fmt.Errorf("%w for %s: %w", ErrNoCompatibleWorkload, executable, err)
	}

	if prog.OSABI != elf.ELFOSABI_NONE && prog.OSABI != elf.ELFOSABI_LINUX {
		return nil, fmt.Errorf("%w for %s: OS ABI %v", ErrNoCompatibleWorkload, executable, prog.OSABI)
	}

	return &SEWorkload{Path: executable, Program: prog}, nil
}

// Thread is a loaded process ready to execute.
type Thread struct {
	Process   *Process
	PageTable *PageTable
	Emulator  *emu.Emulator
}

// Close releases the host files opened by the program.
func (t *Thread) Close() {
	t.Emulator.Close()
}

// Load maps the program into physical memory, builds the initial stack and
// returns a thread positioned at the entry point. Extra emulator options are
// applied after the ones derived from the process.
func (w *SEWorkload) Load(
	p *Process,
	phys *mem.PhysicalMemory,
	log logrus.FieldLogger,
	opts ...emu.EmulatorOption,
) (*Thread, error) {
	pt := NewPageTable(phys, phys.Range())

	for _, seg := range w.Program.Segments {
		pt.AddRegion(seg.VirtAddr, seg.End(), "segment")
	}
	if err := w.Program.LoadInto(pt); err != nil {
		return nil, err
	}

	pt.SetHeap(w.Program.BrkStart)
	pt.SetStack(w.Program.InitialSP, loader.DefaultStackSize)

	sp, err := BuildStack(pt, w.Program, p)
	if err != nil {
		return nil, fmt.Errorf("building initial stack: %w", err)
	}

	base := []emu.EmulatorOption{
		emu.WithMemory(pt),
		emu.WithAddressSpace(pt),
		emu.WithStdin(p.Stdin),
		emu.WithStdout(p.Stdout),
		emu.WithStderr(p.Stderr),
		emu.WithCwd(p.Cwd),
		emu.WithIdentity(p.Identity),
		emu.WithStackPointer(sp),
		emu.WithLogger(log),
	}
	e := emu.NewEmulator(append(base, opts...)...)
	e.RegFile().PC = w.Program.EntryPoint

	log.WithFields(logrus.Fields{
		"entry":    fmt.Sprintf("%#x", w.Program.EntryPoint),
		"segments": len(w.Program.Segments),
		"sp":       fmt.Sprintf("%#x", sp),
	}).Debug("workload loaded")

	return &Thread{Process: p, PageTable: pt, Emulator: e}, nil
}

// PC returns the address of the next instruction.
func (t *Thread) PC() uint64 {
	return t.Emulator.RegFile().PC
}

// Step executes the next instruction.
func (t *Thread) Step() emu.StepResult {
	return t.Emulator.Step()
}

// Translate maps a virtual address to its physical frame without
// allocating one.
func (t *Thread) Translate(vaddr uint64) (uint64, error) {
	return t.PageTable.Translate(vaddr)
}
