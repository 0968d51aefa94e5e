// Package config holds the simulation options, their command-line flags and
// YAML file form, and the helpers that turn them into component parameters.
package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/sarchlab/sesim/timing/bpred"
	"github.com/sarchlab/sesim/timing/cpu"
	"github.com/sarchlab/sesim/timing/dram"
)

// ErrNoCommand is returned by Validate when no executable is given.
var ErrNoCommand = errors.New("no executable given (use -c/--cmd)")

// PredictorOptions holds the direction predictor geometry.
type PredictorOptions struct {
	StaticPolicy       string `yaml:"static_policy"`
	LocalPredictorSize uint32 `yaml:"local_predictor_size"`
	LocalCtrBits       uint8  `yaml:"local_ctr_bits"`
	GApHistoryBits     uint8  `yaml:"gap_history_bits"`
	GApPHTSets         uint32 `yaml:"gap_pht_sets"`
	GApCtrBits         uint8  `yaml:"gap_ctr_bits"`
	PAgBHTSize         uint32 `yaml:"pag_bht_size"`
	PAgHistoryBits     uint8  `yaml:"pag_history_bits"`
	PAgCtrBits         uint8  `yaml:"pag_ctr_bits"`
	BTBEntries         uint32 `yaml:"btb_entries"`
	RASSize            uint32 `yaml:"ras_size"`
}

// O3Options holds the out-of-order core sizes.
type O3Options struct {
	Width      int `yaml:"width"`
	ROBEntries int `yaml:"rob_entries"`
	IQEntries  int `yaml:"iq_entries"`
	LQEntries  int `yaml:"lq_entries"`
	SQEntries  int `yaml:"sq_entries"`
	// FUPool is an optional JSON or YAML functional-unit pool file.
	FUPool string `yaml:"fu_pool"`
}

// Options are the simulation options.
type Options struct {
	CPUType  string `yaml:"cpu_type"`
	BPType   string `yaml:"bp_type"`
	SysClock string `yaml:"sys_clock"`

	MemType    string `yaml:"mem_type"`
	MemSize    string `yaml:"mem_size"`
	PagePolicy string `yaml:"page_policy"`

	CachelineSize uint64 `yaml:"cacheline_size"`
	L1ISize       string `yaml:"l1i_size"`
	L1IAssoc      int    `yaml:"l1i_assoc"`
	L1DSize       string `yaml:"l1d_size"`
	L1DAssoc      int    `yaml:"l1d_assoc"`
	L2Size        string `yaml:"l2_size"`
	L2Assoc       int    `yaml:"l2_assoc"`

	MaxInsts   uint64 `yaml:"maxinsts"`
	AbsMaxTick uint64 `yaml:"abs_max_tick"`

	Cmd     string `yaml:"cmd"`
	Options string `yaml:"options"`
	Env     string `yaml:"env"`
	Input   string `yaml:"input"`
	Output  string `yaml:"output"`
	Errout  string `yaml:"errout"`
	OutDir  string `yaml:"outdir"`

	Predictor PredictorOptions `yaml:"predictor"`
	O3        O3Options        `yaml:"o3"`
}

// DefaultOptions returns the options of a run with no flags.
func DefaultOptions() *Options {
	p := bpred.DefaultParams()
	o3 := cpu.DefaultO3Config()

	return &Options{
		CPUType:  string(cpu.ClassAtomicSimple),
		SysClock: "1GHz",

		MemType:    "DDR3_1600_8x8",
		MemSize:    "512MB",
		PagePolicy: string(dram.PageOpenAdaptive),

		CachelineSize: 64,
		L1ISize:       "16kB",
		L1IAssoc:      2,
		L1DSize:       "64kB",
		L1DAssoc:      2,
		L2Size:        "256kB",
		L2Assoc:       8,

		OutDir: "m5out",

		Predictor: PredictorOptions{
			StaticPolicy:       p.StaticPolicy,
			LocalPredictorSize: p.LocalPredictorSize,
			LocalCtrBits:       p.LocalCtrBits,
			GApHistoryBits:     p.GApHistoryBits,
			GApPHTSets:         p.GApPHTSets,
			GApCtrBits:         p.GApCtrBits,
			PAgBHTSize:         p.PAgBHTSize,
			PAgHistoryBits:     p.PAgHistoryBits,
			PAgCtrBits:         p.PAgCtrBits,
			BTBEntries:         p.BTBEntries,
			RASSize:            p.RASSize,
		},
		O3: O3Options{
			Width:      o3.FetchWidth,
			ROBEntries: o3.ROBEntries,
			IQEntries:  o3.IQEntries,
			LQEntries:  o3.LQEntries,
			SQEntries:  o3.SQEntries,
		},
	}
}

// BindFlags registers a flag for every option, with the current values as
// defaults.
func (o *Options) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.CPUType, "cpu-type", o.CPUType,
		"CPU model ("+strings.Join(cpu.Names(), ", ")+")")
	fs.StringVar(&o.BPType, "bp-type", o.BPType,
		"branch predictor (empty for the CPU default; see list-bp)")
	fs.StringVar(&o.SysClock, "sys-clock", o.SysClock, "system clock frequency")

	fs.StringVar(&o.MemType, "mem-type", o.MemType, "memory interface")
	fs.StringVar(&o.MemSize, "mem-size", o.MemSize, "physical memory size")
	fs.StringVar(&o.PagePolicy, "page-policy", o.PagePolicy, "DRAM page policy (open, open_adaptive, close)")

	fs.Uint64Var(&o.CachelineSize, "cacheline_size", o.CachelineSize, "cache line size in bytes")
	fs.StringVar(&o.L1ISize, "l1i_size", o.L1ISize, "L1 instruction cache size")
	fs.IntVar(&o.L1IAssoc, "l1i_assoc", o.L1IAssoc, "L1 instruction cache associativity")
	fs.StringVar(&o.L1DSize, "l1d_size", o.L1DSize, "L1 data cache size")
	fs.IntVar(&o.L1DAssoc, "l1d_assoc", o.L1DAssoc, "L1 data cache associativity")
	fs.StringVar(&o.L2Size, "l2_size", o.L2Size, "L2 cache size")
	fs.IntVar(&o.L2Assoc, "l2_assoc", o.L2Assoc, "L2 cache associativity")

	fs.Uint64VarP(&o.MaxInsts, "maxinsts", "I", o.MaxInsts, "stop after this many committed instructions")
	fs.Uint64Var(&o.AbsMaxTick, "abs-max-tick", o.AbsMaxTick, "stop at this absolute tick")

	fs.StringVarP(&o.Cmd, "cmd", "c", o.Cmd, "the binary to run in syscall emulation mode")
	fs.StringVarP(&o.Options, "options", "o", o.Options,
		`the options to pass to the binary, use " " around the entire string`)
	fs.StringVarP(&o.Env, "env", "e", o.Env, "initialize workload environment from text file")
	fs.StringVarP(&o.Input, "input", "i", o.Input, "read stdin from a file")
	fs.StringVar(&o.Output, "output", o.Output, "redirect stdout to a file")
	fs.StringVar(&o.Errout, "errout", o.Errout, "redirect stderr to a file")
	fs.StringVarP(&o.OutDir, "outdir", "d", o.OutDir, "directory for stats.txt and config.yaml")

	p := &o.Predictor
	fs.StringVar(&p.StaticPolicy, "static-policy", p.StaticPolicy, "StaticPred policy (taken, not-taken, btfn)")
	fs.Uint32Var(&p.LocalPredictorSize, "local-predictor-size", p.LocalPredictorSize, "LocalBP counters")
	fs.Uint8Var(&p.LocalCtrBits, "local-ctr-bits", p.LocalCtrBits, "LocalBP counter width")
	fs.Uint8Var(&p.GApHistoryBits, "gap-history-bits", p.GApHistoryBits, "GApPred global history length")
	fs.Uint32Var(&p.GApPHTSets, "gap-pht-sets", p.GApPHTSets, "GApPred pattern table sets")
	fs.Uint8Var(&p.GApCtrBits, "gap-ctr-bits", p.GApCtrBits, "GApPred counter width")
	fs.Uint32Var(&p.PAgBHTSize, "pag-bht-size", p.PAgBHTSize, "PAgPred history registers")
	fs.Uint8Var(&p.PAgHistoryBits, "pag-history-bits", p.PAgHistoryBits, "PAgPred history length")
	fs.Uint8Var(&p.PAgCtrBits, "pag-ctr-bits", p.PAgCtrBits, "PAgPred counter width")
	fs.Uint32Var(&p.BTBEntries, "btb-entries", p.BTBEntries, "branch target buffer entries")
	fs.Uint32Var(&p.RASSize, "ras-size", p.RASSize, "return address stack entries")

	fs.IntVar(&o.O3.Width, "o3-width", o.O3.Width, "O3CPU fetch, dispatch, issue and commit width")
	fs.IntVar(&o.O3.ROBEntries, "rob-entries", o.O3.ROBEntries, "O3CPU reorder buffer entries")
	fs.IntVar(&o.O3.IQEntries, "iq-entries", o.O3.IQEntries, "O3CPU instruction queue entries")
	fs.IntVar(&o.O3.LQEntries, "lq-entries", o.O3.LQEntries, "O3CPU load queue entries")
	fs.IntVar(&o.O3.SQEntries, "sq-entries", o.O3.SQEntries, "O3CPU store queue entries")
	fs.StringVar(&o.O3.FUPool, "fu-pool", o.O3.FUPool, "O3CPU functional-unit pool file (JSON or YAML)")
}

// LoadFile reads options from a YAML file on top of the defaults. Unknown
// keys are errors.
func LoadFile(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read options file: %w", err)
	}

	o := DefaultOptions()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(o); err != nil {
		return nil, fmt.Errorf("failed to parse options file %s: %w", path, err)
	}
	return o, nil
}

// Save writes the options as YAML.
func (o *Options) Save(path string) error {
	data, err := yaml.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to serialize options: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write options file: %w", err)
	}
	return nil
}

// Validate checks every option that can be checked without running.
func (o *Options) Validate() error {
	if o.Cmd == "" {
		return ErrNoCommand
	}
	class, err := GetCPUClass(o.CPUType)
	if err != nil {
		return err
	}
	bp := o.BPType
	if bp == "" && class.Class == cpu.ClassO3 {
		bp = bpred.DefaultO3Predictor
	}
	if bp != "" {
		if _, err := bpred.New(bp, o.PredictorParams()); err != nil {
			return err
		}
	}
	if _, err := dram.Lookup(o.MemType); err != nil {
		return err
	}
	if _, err := dram.ParsePagePolicy(o.PagePolicy); err != nil {
		return err
	}

	freq, err := ParseFrequency(o.SysClock)
	if err != nil {
		return fmt.Errorf("sys-clock: %w", err)
	}
	if freq <= 0 {
		return fmt.Errorf("sys-clock must be > 0")
	}
	if _, err := ParseSize(o.MemSize); err != nil {
		return fmt.Errorf("mem-size: %w", err)
	}

	line := o.CachelineSize
	if line == 0 || line&(line-1) != 0 {
		return fmt.Errorf("cacheline_size %d is not a power of two", line)
	}
	for _, c := range []struct {
		name  string
		size  string
		assoc int
	}{
		{"l1i", o.L1ISize, o.L1IAssoc},
		{"l1d", o.L1DSize, o.L1DAssoc},
		{"l2", o.L2Size, o.L2Assoc},
	} {
		size, err := ParseSize(c.size)
		if err != nil {
			return fmt.Errorf("%s_size: %w", c.name, err)
		}
		if c.assoc <= 0 {
			return fmt.Errorf("%s_assoc must be > 0", c.name)
		}
		if size == 0 || size%(uint64(c.assoc)*line) != 0 {
			return fmt.Errorf("%s_size %s is not a multiple of assoc*line (%d*%d)", c.name, c.size, c.assoc, line)
		}
	}
	return nil
}

// ProcessArgs returns argv for the workload: the command followed by the
// whitespace-separated words of the first ';'-separated options group.
func (o *Options) ProcessArgs() []string {
	args := []string{o.Cmd}
	if o.Options == "" {
		return args
	}
	first := strings.Split(o.Options, ";")[0]
	return append(args, strings.Fields(first)...)
}

// LoadEnv reads the KEY=VALUE lines of the env file. Blank lines are
// skipped.
func (o *Options) LoadEnv() ([]string, error) {
	if o.Env == "" {
		return nil, nil
	}

	f, err := os.Open(o.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to open env file: %w", err)
	}
	defer f.Close()

	var env []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.Contains(line, "=") {
			return nil, fmt.Errorf("env file %s: %q is not KEY=VALUE", o.Env, line)
		}
		env = append(env, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}
	return env, nil
}

// GetCPUClass resolves the CPU type option.
func GetCPUClass(name string) (CPUClass, error) {
	class, mode, err := cpu.LookupClass(name)
	if err != nil {
		return CPUClass{}, err
	}
	return CPUClass{Class: class, MemMode: mode}, nil
}

// CPUClass is a CPU model together with the memory mode it needs.
type CPUClass struct {
	Class   cpu.Class
	MemMode cpu.MemMode
}
