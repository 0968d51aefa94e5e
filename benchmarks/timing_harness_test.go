package benchmarks_test

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/sesim/benchmarks"
	"github.com/sarchlab/sesim/config"
	"github.com/sarchlab/sesim/loader"
	"github.com/sarchlab/sesim/timing/cpu"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(GinkgoWriter)
	return l
}

func harness(cpuType string) (*benchmarks.Harness, *bytes.Buffer) {
	out := &bytes.Buffer{}
	opts := config.DefaultOptions()
	opts.CPUType = cpuType

	h := benchmarks.NewHarness(benchmarks.HarnessConfig{
		Options: opts,
		WorkDir: GinkgoT().TempDir(),
		Output:  out,
		Logger:  quietLogger(),
	})
	return h, out
}

var _ = Describe("Kernels", func() {
	It("should have unique names", func() {
		names := benchmarks.Names()
		Expect(names).To(HaveLen(len(benchmarks.Kernels())))
		Expect(names).To(ContainElements("loop", "linked_list", "call_chain"))

		seen := map[string]bool{}
		for _, n := range names {
			Expect(seen[n]).To(BeFalse(), n)
			seen[n] = true
		}
	})

	It("should look kernels up by name", func() {
		ks, err := benchmarks.Lookup("call_chain", "loop")
		Expect(err).NotTo(HaveOccurred())
		Expect(ks).To(HaveLen(2))
		Expect(ks[0].Name).To(Equal("call_chain"))

		all, err := benchmarks.Lookup()
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(HaveLen(len(benchmarks.Kernels())))

		_, err = benchmarks.Lookup("nope")
		Expect(err).To(MatchError(ContainSubstring(`unknown kernel "nope"`)))
	})

	It("should materialize a loadable executable", func() {
		ks, err := benchmarks.Lookup("linked_list")
		Expect(err).NotTo(HaveOccurred())

		path, err := benchmarks.Materialize(ks[0], GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())

		prog, err := loader.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(prog.EntryPoint).To(Equal(uint64(benchmarks.TextAddr)))

		var data *loader.Segment
		for i := range prog.Segments {
			if prog.Segments[i].VirtAddr == benchmarks.DataAddr {
				data = &prog.Segments[i]
			}
		}
		Expect(data).NotTo(BeNil())
		Expect(data.Data).To(Equal(ks[0].Data))
	})

	DescribeTable("should compute the expected result on the atomic CPU",
		func(name string) {
			ks, err := benchmarks.Lookup(name)
			Expect(err).NotTo(HaveOccurred())

			h, _ := harness(string(cpu.ClassAtomicSimple))
			h.AddKernels(ks)
			results, err := h.Run(nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))

			r := results[0]
			Expect(r.Cause).To(Equal(cpu.CauseExited))
			Expect(r.ExitCode).To(Equal(ks[0].ExpectedExit))
			Expect(r.Valid).To(BeTrue())
			Expect(r.BPType).To(Equal("none"))
		},
		Entry("loop", "loop"),
		Entry("nested loops", "nested_loops"),
		Entry("alternating branch", "alternating_branch"),
		Entry("correlated branches", "correlated_branches"),
		Entry("pseudo-random branches", "random_branches"),
		Entry("linked list", "linked_list"),
		Entry("array sum", "array_sum"),
		Entry("array stride", "array_stride"),
		Entry("call chain", "call_chain"),
	)
})

var _ = Describe("Harness", func() {
	It("should count every instruction of a loop", func() {
		ks, _ := benchmarks.Lookup("loop")
		h, _ := harness(string(cpu.ClassAtomicSimple))
		h.AddKernels(ks)

		results, err := h.Run(nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(results[0].InstructionsRetired).To(Equal(uint64(2 + 200*3 + 2)))
		Expect(results[0].Branches).To(Equal(uint64(200)))
	})

	It("should run each kernel under each predictor", func() {
		ks, _ := benchmarks.Lookup("loop", "alternating_branch")
		h, out := harness(string(cpu.ClassO3))
		h.AddKernels(ks)

		results, err := h.Run([]string{"LocalBP", "TournamentBP"})
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(4))

		Expect(results[0].Kernel).To(Equal("loop"))
		Expect(results[0].BPType).To(Equal("LocalBP"))
		Expect(results[1].BPType).To(Equal("TournamentBP"))
		Expect(results[2].Kernel).To(Equal("alternating_branch"))
		for _, r := range results {
			Expect(r.Valid).To(BeTrue(), r.Kernel)
			Expect(r.CPUType).To(Equal(string(cpu.ClassO3)))
			Expect(r.CondPredicted).NotTo(BeZero())
			Expect(r.SimulatedCycles).NotTo(BeZero())
		}
		Expect(results[0].Mispredicts).To(BeNumerically("<", 10))

		h.PrintResults(results)
		h.PrintCSV(results)
		Expect(out.String()).To(ContainSubstring("TournamentBP"))
		Expect(strings.Count(out.String(), "\n")).To(Equal(1 + 4 + 1 + 4))
	})

	It("should give the same results serially and in parallel", func() {
		ks, _ := benchmarks.Lookup("nested_loops", "random_branches", "call_chain")
		bps := []string{"LocalBP", "GApPred"}

		run := func(parallel int) []benchmarks.Result {
			opts := config.DefaultOptions()
			opts.CPUType = string(cpu.ClassO3)
			h := benchmarks.NewHarness(benchmarks.HarnessConfig{
				Options:  opts,
				WorkDir:  GinkgoT().TempDir(),
				Parallel: parallel,
				Logger:   quietLogger(),
			})
			h.AddKernels(ks)
			results, err := h.Run(bps)
			Expect(err).NotTo(HaveOccurred())
			return results
		}

		serial := run(1)
		parallel := run(4)
		Expect(serial).To(HaveLen(6))
		Expect(cmp.Diff(serial, parallel,
			cmpopts.IgnoreFields(benchmarks.Result{}, "WallTime"))).To(BeEmpty())
	})

	It("should use the CPU default predictor for an empty name", func() {
		ks, _ := benchmarks.Lookup("loop")
		opts := config.DefaultOptions()
		opts.CPUType = string(cpu.ClassO3)

		results, err := benchmarks.Compare(ks, []string{""}, opts)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results[0].BPType).To(Equal("TournamentBP"))
	})

	It("should miss in the L1D on the strided kernel", func() {
		ks, _ := benchmarks.Lookup("array_sum", "array_stride")
		h, _ := harness(string(cpu.ClassTimingSimple))
		h.AddKernels(ks)

		results, err := h.Run(nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(results[1].DCacheMisses).To(BeNumerically(">", results[0].DCacheMisses))
		Expect(results[1].DCacheMisses).To(BeNumerically(">=", uint64(2048)))
	})

	It("should reject an unknown predictor", func() {
		ks, _ := benchmarks.Lookup("loop")
		h, _ := harness(string(cpu.ClassO3))
		h.AddKernels(ks)

		_, err := h.Run([]string{"NoSuchBP"})
		Expect(err).To(MatchError(ContainSubstring("NoSuchBP")))
	})

	It("should write results as JSON", func() {
		ks, _ := benchmarks.Lookup("call_chain")
		h, _ := harness(string(cpu.ClassAtomicSimple))
		h.AddKernels(ks)
		results, err := h.Run(nil)
		Expect(err).NotTo(HaveOccurred())

		buf := &bytes.Buffer{}
		Expect(benchmarks.WriteJSON(buf, results)).To(Succeed())

		var decoded []map[string]any
		Expect(json.Unmarshal(buf.Bytes(), &decoded)).To(Succeed())
		Expect(decoded).To(HaveLen(1))
		Expect(decoded[0]).To(HaveKeyWithValue("kernel", "call_chain"))
		Expect(decoded[0]).To(HaveKeyWithValue("exit_code", BeNumerically("==", 100)))
		Expect(decoded[0]).To(HaveKeyWithValue("valid", true))
	})
})
