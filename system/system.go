// Package system builds and runs a complete single-CPU machine in
// syscall-emulation mode: CPU, split L1 caches, an L2 behind its own
// crossbar, the system crossbar and a DRAM controller.
package system

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/sesim/config"
	"github.com/sarchlab/sesim/mem"
	"github.com/sarchlab/sesim/timing/bpred"
	"github.com/sarchlab/sesim/timing/cache"
	"github.com/sarchlab/sesim/timing/clock"
	"github.com/sarchlab/sesim/timing/cpu"
	"github.com/sarchlab/sesim/timing/dram"
	"github.com/sarchlab/sesim/timing/xbar"
	"github.com/sarchlab/sesim/workload"
)

// DefaultO3Predictor is used by O3CPU when no predictor is selected.
const DefaultO3Predictor = bpred.DefaultO3Predictor

// System holds every component of the simulated machine.
type System struct {
	Options *config.Options

	ClockDomain *clock.SrcClockDomain
	CPUClass    config.CPUClass
	MemMode     cpu.MemMode
	MemRanges   []mem.AddrRange

	CPU        cpu.CPU
	BranchPred *bpred.Unit
	ICache     *cache.Cache
	DCache     *cache.Cache
	L2Bus      *xbar.XBar
	L2Cache    *cache.Cache
	MemBus     *xbar.XBar
	MemCtrl    *dram.MemCtrl
	SystemPort mem.Responder

	Process  *workload.Process
	Workload *workload.SEWorkload

	log     logrus.FieldLogger
	closers []io.Closer
}

// BuildOption customizes Build.
type BuildOption func(*builder)

type builder struct {
	log    logrus.FieldLogger
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// WithLogger sets the logger of the system and its components.
func WithLogger(l logrus.FieldLogger) BuildOption {
	return func(b *builder) {
		b.log = l
	}
}

// WithStdio binds the program's standard streams, overriding the input,
// output and errout options. Nil streams keep the option behaviour.
func WithStdio(stdin io.Reader, stdout, stderr io.Writer) BuildOption {
	return func(b *builder) {
		b.stdin = stdin
		b.stdout = stdout
		b.stderr = stderr
	}
}

// Build creates and connects every component described by opts.
func Build(opts *config.Options, buildOpts ...BuildOption) (*System, error) {
	b := &builder{log: logrus.StandardLogger()}
	for _, o := range buildOpts {
		o(b)
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}

	s := &System{Options: opts, log: b.log}
	steps := []func() error{
		s.buildClock,
		s.buildCPU,
		s.buildCaches,
		s.buildMemory,
		func() error { return s.buildProcess(b) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *System) buildClock() error {
	freq, err := config.ParseFrequency(s.Options.SysClock)
	if err != nil {
		return err
	}
	s.ClockDomain, err = clock.NewSrcClockDomain(freq, clock.DefaultVoltageDomain())
	if err != nil {
		return err
	}

	r, err := s.Options.MemRange()
	if err != nil {
		return err
	}
	s.MemRanges = []mem.AddrRange{r}

	s.log.WithFields(logrus.Fields{
		"clock":  s.Options.SysClock,
		"memory": r.String(),
	}).Info("system clock and memory ranges")
	return nil
}

func (s *System) buildCPU() error {
	class, err := config.GetCPUClass(s.Options.CPUType)
	if err != nil {
		return err
	}
	s.CPUClass = class
	s.MemMode = class.MemMode

	if err := s.buildPredictor(); err != nil {
		return err
	}

	opts := []cpu.Option{
		cpu.WithLogger(s.log),
		cpu.WithMaxInsts(s.Options.MaxInsts),
	}
	if s.BranchPred != nil {
		opts = append(opts, cpu.WithBranchPredictor(s.BranchPred))
	}

	const name = "system.cpu"
	switch class.Class {
	case cpu.ClassAtomicSimple:
		s.CPU = cpu.NewAtomicSimpleCPU(name, s.ClockDomain, opts...)
	case cpu.ClassTimingSimple:
		s.CPU = cpu.NewTimingSimpleCPU(name, s.ClockDomain, opts...)
	default:
		o3Config, err := s.Options.O3Config()
		if err != nil {
			return err
		}
		s.CPU, err = cpu.NewO3CPU(name, s.ClockDomain, o3Config, opts...)
		if err != nil {
			return err
		}
	}

	s.CPU.Base().CreateInterruptController()

	predictor := "none"
	if s.BranchPred != nil {
		predictor = s.BranchPred.Name()
	}
	s.log.WithFields(logrus.Fields{
		"cpu":       class.Class,
		"mem_mode":  s.MemMode,
		"predictor": predictor,
	}).Info("cpu created")
	return nil
}

func (s *System) buildPredictor() error {
	name := s.Options.BPType
	if name == "" {
		if s.CPUClass.Class != cpu.ClassO3 {
			return nil
		}
		name = DefaultO3Predictor
	}

	unit, err := bpred.NewUnitByName(name, s.Options.PredictorParams())
	if err != nil {
		return err
	}
	s.BranchPred = unit
	return nil
}

func (s *System) buildCaches() error {
	var err error
	if s.ICache, err = s.newCache("system.cpu.icache", cache.KindL1I); err != nil {
		return err
	}
	if s.DCache, err = s.newCache("system.cpu.dcache", cache.KindL1D); err != nil {
		return err
	}
	if s.L2Cache, err = s.newCache("system.l2cache", cache.KindL2); err != nil {
		return err
	}

	base := s.CPU.Base()
	if err := s.ICache.ConnectCPU(base); err != nil {
		return err
	}
	if err := s.DCache.ConnectCPU(base); err != nil {
		return err
	}

	if s.L2Bus, err = xbar.New("system.l2bus", xbar.L2XBarConfig(), s.ClockDomain); err != nil {
		return err
	}
	s.ICache.ConnectBus(s.L2Bus)
	s.DCache.ConnectBus(s.L2Bus)

	if s.MemBus, err = xbar.New("system.membus", xbar.SystemXBarConfig(), s.ClockDomain); err != nil {
		return err
	}
	s.L2Cache.ConnectCPUSideBus(s.L2Bus)
	s.L2Cache.ConnectMemSideBus(s.MemBus)

	s.log.WithField("l2bus", s.L2Bus.Requestors()).Debug("caches connected")
	return nil
}

func (s *System) newCache(name string, kind cache.Kind) (*cache.Cache, error) {
	c, err := s.Options.CacheConfig(kind)
	if err != nil {
		return nil, err
	}
	return cache.New(name, c, s.ClockDomain)
}

func (s *System) buildMemory() error {
	c, err := s.Options.MemCtrlConfig()
	if err != nil {
		return err
	}
	s.MemCtrl, err = dram.NewMemCtrl("system.mem_ctrl", c, s.MemRanges[0])
	if err != nil {
		return err
	}
	s.MemBus.AttachResponder(s.MemCtrl)
	s.SystemPort = s.MemBus.CPUSidePort("system.system_port")

	s.log.WithFields(logrus.Fields{
		"type":   c.Interface.Name,
		"policy": c.PagePolicy,
	}).Debug("memory controller attached")
	return nil
}

func (s *System) buildProcess(b *builder) error {
	o := s.Options
	p := workload.NewProcess(o.Cmd, o.ProcessArgs())

	env, err := o.LoadEnv()
	if err != nil {
		return err
	}
	p.Env = env

	if err := s.bindStdio(p, b); err != nil {
		return err
	}
	s.Process = p

	s.Workload, err = workload.InitCompatible(o.Cmd)
	if err != nil {
		return err
	}

	base := s.CPU.Base()
	base.Workload = p
	if err := base.CreateThreads(); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"cmd": p.Cmd,
		"cwd": p.Cwd,
	}).Info("process created")
	return nil
}

func (s *System) bindStdio(p *workload.Process, b *builder) error {
	o := s.Options

	switch {
	case b.stdin != nil:
		p.Stdin = b.stdin
	case o.Input != "":
		f, err := os.Open(o.Input)
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		s.closers = append(s.closers, f)
		p.Stdin = f
	}

	out, err := s.outputStream(b.stdout, o.Output)
	if err != nil {
		return err
	}
	if out != nil {
		p.Stdout = out
	}

	errOut, err := s.outputStream(b.stderr, o.Errout)
	if err != nil {
		return err
	}
	if errOut != nil {
		p.Stderr = errOut
	}
	return nil
}

func (s *System) outputStream(w io.Writer, path string) (io.Writer, error) {
	if w != nil {
		return w, nil
	}
	if path == "" {
		return nil, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	s.closers = append(s.closers, f)
	return f, nil
}

// Close releases the files opened for the program's streams.
func (s *System) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	s.closers = nil
	return errors.Join(errs...)
}
