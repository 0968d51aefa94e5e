package benchmarks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sarchlab/sesim/config"
	"github.com/sarchlab/sesim/loader"
	"github.com/sarchlab/sesim/system"
	"github.com/sarchlab/sesim/timing/clock"
	"github.com/sarchlab/sesim/timing/cpu"
)

// Result holds the outcome of one kernel under one predictor.
type Result struct {
	// Kernel identifies the benchmark
	Kernel string `json:"kernel"`

	// Description explains what the benchmark measures
	Description string `json:"description"`

	CPUType string `json:"cpu_type"`

	// BPType is the predictor that ran, "none" for no predictor
	BPType string `json:"bp_type"`

	// SimTicks is the tick at which the program stopped
	SimTicks uint64 `json:"sim_ticks"`

	// SimulatedCycles is the CPU cycle count
	SimulatedCycles uint64 `json:"simulated_cycles"`

	// InstructionsRetired is the number of committed instructions
	InstructionsRetired uint64 `json:"instructions_retired"`

	CPI float64 `json:"cpi"`

	Branches    uint64 `json:"branches"`
	Mispredicts uint64 `json:"mispredicts"`

	// Conditional predictor counters, empty without a predictor
	CondPredicted   uint64  `json:"cond_predicted,omitempty"`
	CondIncorrect   uint64  `json:"cond_incorrect,omitempty"`
	AccuracyPercent float64 `json:"accuracy_percent,omitempty"`
	BTBHitPercent   float64 `json:"btb_hit_percent,omitempty"`

	ICacheMisses uint64 `json:"icache_misses"`
	DCacheMisses uint64 `json:"dcache_misses"`
	L2Misses     uint64 `json:"l2_misses"`

	// Cause is why the simulation stopped
	Cause string `json:"cause"`

	// ExitCode is the program's exit code
	ExitCode int64 `json:"exit_code"`

	// Valid reports that the program exited with the expected code
	Valid bool `json:"valid"`

	// WallTime is the host time spent simulating
	WallTime time.Duration `json:"wall_time_ns"`
}

// HarnessConfig configures benchmark runs.
type HarnessConfig struct {
	// Options are the base options of every run. Cmd, Options and BPType are
	// replaced per run.
	Options *config.Options

	// WorkDir receives the kernel executables. A temporary directory is used
	// when empty.
	WorkDir string

	// Output receives PrintResults and PrintCSV
	Output io.Writer

	// Parallel bounds the number of simulations running at once. Zero uses
	// one per host CPU.
	Parallel int

	Logger logrus.FieldLogger
}

// DefaultConfig runs the kernels on the default O3 system.
func DefaultConfig() HarnessConfig {
	opts := config.DefaultOptions()
	opts.CPUType = string(cpu.ClassO3)

	return HarnessConfig{
		Options: opts,
		Output:  os.Stdout,
		Logger:  logrus.StandardLogger(),
	}
}

// Harness runs kernels through the full system.
type Harness struct {
	config  HarnessConfig
	kernels []Kernel
}

// NewHarness creates a harness.
func NewHarness(config HarnessConfig) *Harness {
	if config.Options == nil {
		config.Options = DefaultConfig().Options
	}
	if config.Output == nil {
		config.Output = io.Discard
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	return &Harness{config: config}
}

// AddKernel adds a kernel to the run list.
func (h *Harness) AddKernel(k Kernel) {
	h.kernels = append(h.kernels, k)
}

// AddKernels adds several kernels.
func (h *Harness) AddKernels(kernels []Kernel) {
	h.kernels = append(h.kernels, kernels...)
}

// Materialize writes the kernel as a static executable named after it in
// dir and returns its path.
func Materialize(k Kernel, dir string) (string, error) {
	buf := &bytes.Buffer{}
	if err := loader.WriteELF(buf, k.Image()); err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", k.Name, err)
	}

	path := filepath.Join(dir, k.Name)
	if err := os.WriteFile(path, buf.Bytes(), 0o755); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

// Compare runs every kernel under every predictor in bpTypes. An empty
// predictor name selects the CPU default.
func Compare(kernels []Kernel, bpTypes []string, opts *config.Options) ([]Result, error) {
	cfg := DefaultConfig()
	cfg.Options = opts
	cfg.Output = io.Discard

	h := NewHarness(cfg)
	h.AddKernels(kernels)
	return h.Run(bpTypes)
}

// Run executes every kernel under every predictor. Results are ordered
// kernel-major whatever order the runs finish in.
func (h *Harness) Run(bpTypes []string) ([]Result, error) {
	if len(bpTypes) == 0 {
		bpTypes = []string{""}
	}

	dir := h.config.WorkDir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "sesim-kernels")
		if err != nil {
			return nil, fmt.Errorf("failed to create work dir: %w", err)
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	paths := make([]string, len(h.kernels))
	for i, k := range h.kernels {
		path, err := Materialize(k, dir)
		if err != nil {
			return nil, err
		}
		paths[i] = path
	}

	limit := h.config.Parallel
	if limit <= 0 {
		limit = runtime.NumCPU()
	}

	var g errgroup.Group
	g.SetLimit(limit)

	results := make([]Result, len(h.kernels)*len(bpTypes))
	for i, k := range h.kernels {
		for j, bp := range bpTypes {
			slot := &results[i*len(bpTypes)+j]
			path := paths[i]
			g.Go(func() error {
				r, err := h.runKernel(k, path, bp)
				if err != nil {
					return err
				}
				*slot = r
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (h *Harness) runKernel(k Kernel, path, bpType string) (Result, error) {
	opts := *h.config.Options
	opts.Cmd = path
	opts.Options = ""
	opts.BPType = bpType

	log := h.config.Logger.WithFields(logrus.Fields{
		"kernel": k.Name,
		"bp":     bpType,
	})

	s, err := system.Build(&opts,
		system.WithLogger(log),
		system.WithStdio(bytes.NewReader(nil), io.Discard, io.Discard))
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", k.Name, err)
	}

	root := system.NewRoot(s)
	defer root.Close()

	if err := root.Instantiate(); err != nil {
		return Result{}, fmt.Errorf("%s: %w", k.Name, err)
	}

	exit := root.Simulate(clock.Tick(opts.AbsMaxTick))
	if exit.Err != nil {
		return Result{}, fmt.Errorf("%s under %q: %w", k.Name, bpType, exit.Err)
	}

	r := h.collect(k, root, exit)
	log.WithFields(logrus.Fields{
		"cycles": r.SimulatedCycles,
		"cpi":    r.CPI,
	}).Info("kernel finished")
	return r, nil
}

func (h *Harness) collect(k Kernel, root *system.Root, exit system.ExitEvent) Result {
	s := root.System
	st := s.CPU.Base().Stats()

	r := Result{
		Kernel:              k.Name,
		Description:         k.Description,
		CPUType:             string(s.CPUClass.Class),
		BPType:              "none",
		SimTicks:            uint64(exit.Tick),
		SimulatedCycles:     st.NumCycles,
		InstructionsRetired: st.CommittedInsts,
		CPI:                 st.CPI(),
		Branches:            st.Branches,
		Mispredicts:         st.Mispredicts,
		ICacheMisses:        s.ICache.Stats().Misses,
		DCacheMisses:        s.DCache.Stats().Misses,
		L2Misses:            s.L2Cache.Stats().Misses,
		Cause:               exit.Cause,
		ExitCode:            exit.Code,
		Valid:               exit.Cause == cpu.CauseExited && exit.Code == k.ExpectedExit,
		WallTime:            root.HostTime(),
	}

	if bp := s.BranchPred; bp != nil {
		bs := bp.Stats()
		r.BPType = bp.Name()
		r.CondPredicted = bs.CondPredicted
		r.CondIncorrect = bs.CondIncorrect
		r.AccuracyPercent = bs.Accuracy()
		r.BTBHitPercent = bs.BTBHitRate()
	}
	return r
}

// PrintResults outputs benchmark results in a human-readable table.
func (h *Harness) PrintResults(results []Result) {
	w := h.config.Output
	_, _ = fmt.Fprintf(w, "%-20s %-16s %10s %10s %7s %8s %9s %5s\n",
		"kernel", "predictor", "insts", "cycles", "cpi", "mispred", "accuracy", "ok")
	for _, r := range results {
		_, _ = fmt.Fprintf(w, "%-20s %-16s %10d %10d %7.3f %8d %8.2f%% %5t\n",
			r.Kernel, r.BPType, r.InstructionsRetired, r.SimulatedCycles,
			r.CPI, r.Mispredicts, r.AccuracyPercent, r.Valid)
	}
}

// PrintCSV outputs results in CSV format.
func (h *Harness) PrintCSV(results []Result) {
	w := h.config.Output
	_, _ = fmt.Fprintln(w, "kernel,bp_type,insts,cycles,cpi,branches,mispredicts,accuracy,icache_misses,dcache_misses,exit_code,valid")
	for _, r := range results {
		_, _ = fmt.Fprintf(w, "%s,%s,%d,%d,%.4f,%d,%d,%.2f,%d,%d,%d,%t\n",
			r.Kernel, r.BPType, r.InstructionsRetired, r.SimulatedCycles, r.CPI,
			r.Branches, r.Mispredicts, r.AccuracyPercent,
			r.ICacheMisses, r.DCacheMisses, r.ExitCode, r.Valid)
	}
}

// WriteJSON writes results as indented JSON.
func WriteJSON(w io.Writer, results []Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	return nil
}
