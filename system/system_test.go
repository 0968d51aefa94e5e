package system_test

import (
	"bytes"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/sarchlab/sesim/config"
	"github.com/sarchlab/sesim/insts"
	"github.com/sarchlab/sesim/loader"
	"github.com/sarchlab/sesim/stats"
	"github.com/sarchlab/sesim/system"
	"github.com/sarchlab/sesim/timing/clock"
	"github.com/sarchlab/sesim/timing/cpu"
	"github.com/sarchlab/sesim/workload"
)

const (
	textAddr = 0x400000
	dataAddr = 0x410000
)

// writeHello writes a program that prints "hi\n", loads from its data,
// counts down a loop and exits with 7.
func writeHello(dir string) string {
	code := insts.Program(
		insts.EncodeMOVZ(0, 1, 0),
		insts.EncodeMOVZ(1, dataAddr>>16, 1),
		insts.EncodeMOVZ(2, 3, 0),
		insts.EncodeMOVZ(8, 64, 0),
		insts.EncodeSVC(0),
		insts.EncodeLDR64(4, 1, 0),
		insts.EncodeMOVZ(3, 100, 0),
		insts.EncodeSUBImm(3, 3, 1, false),
		insts.EncodeCBNZ(3, -4),
		insts.EncodeMOVZ(0, 7, 0),
		insts.EncodeMOVZ(8, 93, 0),
		insts.EncodeSVC(0),
	)

	buf := &bytes.Buffer{}
	Expect(loader.WriteELF(buf, loader.Image{
		Entry: textAddr,
		Segments: []loader.Segment{
			{
				VirtAddr: textAddr,
				Data:     code,
				MemSize:  uint64(len(code)),
				Flags:    loader.SegmentFlagRead | loader.SegmentFlagExecute,
			},
			{
				VirtAddr: dataAddr,
				Data:     []byte("hi\n\x00\x00\x00\x00\x00"),
				MemSize:  8,
				Flags:    loader.SegmentFlagRead | loader.SegmentFlagWrite,
			},
		},
	})).To(Succeed())

	path := filepath.Join(dir, "hello")
	Expect(os.WriteFile(path, buf.Bytes(), 0o755)).To(Succeed())
	return path
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(GinkgoWriter)
	return l
}

var _ = Describe("System", func() {
	var (
		dir    string
		opts   *config.Options
		stdout *bytes.Buffer
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		opts = config.DefaultOptions()
		opts.Cmd = writeHello(dir)
		opts.MemSize = "64MB"
		stdout = &bytes.Buffer{}
	})

	build := func() *system.System {
		s, err := system.Build(opts,
			system.WithLogger(quietLogger()),
			system.WithStdio(nil, stdout, nil))
		Expect(err).ToNot(HaveOccurred())
		return s
	}

	run := func() (*system.Root, system.ExitEvent) {
		root := system.NewRoot(build())
		DeferCleanup(root.Close)
		Expect(root.Instantiate()).To(Succeed())
		return root, root.Simulate(0)
	}

	Describe("Build", func() {
		It("should wire the cache hierarchy", func() {
			s := build()

			Expect(s.MemMode).To(Equal(cpu.MemModeAtomic))
			Expect(s.BranchPred).To(BeNil())
			Expect(s.L2Bus.Requestors()).To(Equal([]string{"system.cpu.icache", "system.cpu.dcache"}))
			Expect(s.MemBus.Requestors()).To(Equal([]string{"system.l2cache", "system.system_port"}))
			Expect(s.MemBus.Responders()).To(ConsistOf(s.MemCtrl))
			Expect(s.L2Cache.Config().Size).To(Equal(uint64(256 << 10)))
			Expect(s.MemRanges[0].End).To(Equal(uint64(64 << 20)))
			Expect(s.Process.Cmd).To(Equal([]string{opts.Cmd}))
			Expect(s.CPU.Base().Interrupts()).ToNot(BeNil())
		})

		It("should give O3CPU a tournament predictor by default", func() {
			opts.CPUType = "DerivO3CPU"
			s := build()

			Expect(s.MemMode).To(Equal(cpu.MemModeTiming))
			Expect(s.BranchPred.Name()).To(Equal(system.DefaultO3Predictor))
		})

		It("should build the selected predictor", func() {
			opts.BPType = "GApPred"
			s := build()
			Expect(s.BranchPred.Name()).To(Equal("GApPred"))
		})

		It("should pass program options", func() {
			opts.Options = "a b;c"
			s := build()
			Expect(s.Process.Cmd).To(Equal([]string{opts.Cmd, "a", "b"}))
		})

		It("should reject invalid options", func() {
			opts.Cmd = ""
			_, err := system.Build(opts)
			Expect(err).To(MatchError(config.ErrNoCommand))
		})

		It("should reject executables it cannot run", func() {
			opts.Cmd = filepath.Join(dir, "script.sh")
			Expect(os.WriteFile(opts.Cmd, []byte("#!/bin/sh\n"), 0o755)).To(Succeed())

			_, err := system.Build(opts, system.WithLogger(quietLogger()))
			Expect(err).To(MatchError(workload.ErrNoCompatibleWorkload))
		})
	})

	Describe("Simulate", func() {
		It("should require Instantiate", func() {
			root := system.NewRoot(build())
			exit := root.Simulate(0)
			Expect(exit.Err).To(MatchError(system.ErrNotInstantiated))
		})

		DescribeTable("should run the program to its exit",
			func(cpuType string) {
				opts.CPUType = cpuType
				root, exit := run()

				Expect(exit.Err).ToNot(HaveOccurred())
				Expect(exit.Cause).To(Equal(cpu.CauseExited))
				Expect(exit.Code).To(Equal(int64(7)))
				Expect(exit.Tick).To(BeNumerically(">", 0))
				Expect(stdout.String()).To(Equal("hi\n"))
				Expect(root.System.CPU.Base().Stats().CommittedInsts).To(Equal(uint64(210)))
			},
			Entry("atomic", "AtomicSimpleCPU"),
			Entry("timing", "TimingSimpleCPU"),
			Entry("out of order", "O3CPU"),
		)

		It("should charge memory latency only in timing mode", func() {
			_, atomic := run()

			opts.CPUType = "TimingSimpleCPU"
			stdout.Reset()
			_, timing := run()

			Expect(atomic.Tick).To(Equal(clock.Tick(210 * 1000)))
			Expect(timing.Tick).To(BeNumerically(">", atomic.Tick))
		})

		It("should stop at the instruction limit", func() {
			opts.MaxInsts = 5
			_, exit := run()

			Expect(exit.Cause).To(Equal(cpu.CauseMaxInsts))
		})

		It("should stop at the tick limit and resume", func() {
			root := system.NewRoot(build())
			DeferCleanup(root.Close)
			Expect(root.Instantiate()).To(Succeed())

			exit := root.Simulate(10_000)
			Expect(exit.Cause).To(Equal(cpu.CauseLimit))
			Expect(exit.Tick).To(Equal(clock.Tick(10_000)))

			exit = root.Simulate(0)
			Expect(exit.Cause).To(Equal(cpu.CauseExited))
		})

		It("should send the L1 misses through the L2 to DRAM", func() {
			opts.CPUType = "TimingSimpleCPU"
			root, _ := run()
			s := root.System

			Expect(s.ICache.Stats().Misses).ToNot(BeZero())
			Expect(s.DCache.Stats().Misses).To(Equal(uint64(1)))
			Expect(s.L2Cache.Stats().Misses).To(Equal(s.ICache.Stats().Misses + 1))
			Expect(s.MemCtrl.Stats().ReadReqs).To(Equal(s.L2Cache.Stats().Misses))
		})
	})

	Describe("outputs", func() {
		It("should write the program output to a file", func() {
			opts.Output = filepath.Join(dir, "out.txt")
			s, err := system.Build(opts, system.WithLogger(quietLogger()))
			Expect(err).ToNot(HaveOccurred())
			root := system.NewRoot(s)
			Expect(root.Instantiate()).To(Succeed())
			root.Simulate(0)
			Expect(root.Close()).To(Succeed())

			Expect(os.ReadFile(opts.Output)).To(Equal([]byte("hi\n")))
		})

		It("should snapshot component statistics", func() {
			opts.CPUType = "O3CPU"
			root, exit := run()

			g, err := root.Stats()
			Expect(err).ToNot(HaveOccurred())

			ticks, ok := g.Lookup("simTicks")
			Expect(ok).To(BeTrue())
			Expect(ticks.Value()).To(Equal(float64(exit.Tick)))

			committed, ok := g.Lookup("system.cpu.committedInsts")
			Expect(ok).To(BeTrue())
			Expect(committed.Value()).To(Equal(210.0))

			lookups, ok := g.Lookup("system.cpu.branchPred.lookups")
			Expect(ok).To(BeTrue())
			Expect(lookups.Value()).To(BeNumerically(">=", 100))

			_, ok = g.Lookup("system.mem_ctrl.readReqs")
			Expect(ok).To(BeTrue())
		})

		It("should write stats.txt and config.yaml", func() {
			root, _ := run()
			out := filepath.Join(dir, "m5out")

			Expect(root.WriteOutputs(out)).To(Succeed())

			statsTxt, err := os.ReadFile(filepath.Join(out, "stats.txt"))
			Expect(err).ToNot(HaveOccurred())
			Expect(string(statsTxt)).To(ContainSubstring(stats.BeginMarker))
			Expect(string(statsTxt)).To(ContainSubstring("system.cpu.dcache.demandMisses"))

			data, err := os.ReadFile(filepath.Join(out, "config.yaml"))
			Expect(err).ToNot(HaveOccurred())
			var dump struct {
				FullSystem bool   `yaml:"full_system"`
				MemMode    string `yaml:"mem_mode"`
				Components []struct {
					Name string `yaml:"name"`
					Type string `yaml:"type"`
				} `yaml:"components"`
			}
			Expect(yaml.Unmarshal(data, &dump)).To(Succeed())
			Expect(dump.FullSystem).To(BeFalse())
			Expect(dump.MemMode).To(Equal("atomic"))
			Expect(dump.Components).To(HaveLen(7))
			Expect(dump.Components[0].Type).To(Equal("AtomicSimpleCPU"))
		})

		It("should describe the O3 functional units in config.yaml", func() {
			opts.CPUType = "O3CPU"
			root, _ := run()
			out := filepath.Join(dir, "m5out")
			Expect(root.WriteOutputs(out)).To(Succeed())

			data, err := os.ReadFile(filepath.Join(out, "config.yaml"))
			Expect(err).ToNot(HaveOccurred())
			var dump struct {
				Components []struct {
					Type   string `yaml:"type"`
					Params struct {
						FUPool map[string]int    `yaml:"fuPool"`
						OpLat  map[string]uint64 `yaml:"opLat"`
					} `yaml:"params"`
				} `yaml:"components"`
			}
			Expect(yaml.Unmarshal(data, &dump)).To(Succeed())

			c := dump.Components[0]
			Expect(c.Type).To(Equal("O3CPU"))
			Expect(c.Params.FUPool).To(HaveKeyWithValue("IntALU", 6))
			Expect(c.Params.FUPool).To(HaveKeyWithValue("RdWrPort", 4))
			Expect(c.Params.OpLat).To(HaveKeyWithValue("IntDiv", uint64(20)))
			Expect(c.Params.OpLat).NotTo(HaveKey("Syscall"))
		})
	})
})
