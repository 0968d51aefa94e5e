package latency_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/sesim/insts"
	"github.com/sarchlab/sesim/timing/latency"
)

var _ = Describe("Table", func() {
	var (
		table   *latency.Table
		decoder *insts.Decoder
	)

	BeforeEach(func() {
		table = latency.NewTable()
		decoder = insts.NewDecoder()
	})

	Describe("ALU Instruction Latencies", func() {
		It("should return 1 cycle for ADD immediate", func() {
			// ADD X0, X1, #10
			inst := decoder.Decode(0x91002820)
			Expect(table.ClassLatency(inst.OpClass())).To(Equal(uint64(1)))
		})

		It("should return 1 cycle for branches", func() {
			// B #100, RET
			Expect(table.ClassLatency(decoder.Decode(0x14000019).OpClass())).To(Equal(uint64(1)))
			Expect(table.ClassLatency(decoder.Decode(0xD65F03C0).OpClass())).To(Equal(uint64(1)))
		})
	})

	Describe("Multiply and Divide Latencies", func() {
		It("should return 3 cycles for MADD", func() {
			// MADD X0, X1, X2, X3
			inst := decoder.Decode(0x9B020C20)
			Expect(inst.Op).To(Equal(insts.OpMADD))
			Expect(table.ClassLatency(inst.OpClass())).To(Equal(uint64(3)))
		})

		It("should return 20 cycles for UDIV", func() {
			// UDIV X0, X1, X2
			inst := decoder.Decode(0x9AC20820)
			Expect(inst.Op).To(Equal(insts.OpUDIV))
			Expect(table.ClassLatency(inst.OpClass())).To(Equal(uint64(20)))
		})
	})

	Describe("Memory Instruction Latencies", func() {
		It("should return the port latency for LDR and STR", func() {
			// LDR X0, [X1, #8] and STR X0, [X1, #8]
			Expect(table.ClassLatency(decoder.Decode(0xF9400420).OpClass())).To(Equal(uint64(1)))
			Expect(table.ClassLatency(decoder.Decode(0xF9000420).OpClass())).To(Equal(uint64(1)))
		})
	})

	Describe("Classes without a unit", func() {
		It("should take one cycle and need no unit", func() {
			Expect(table.ClassLatency(insts.OpClassSyscall)).To(Equal(uint64(1)))
			Expect(table.NeedsUnit(insts.OpClassNop)).To(BeFalse())
			Expect(table.NeedsUnit(insts.OpClassMemRead)).To(BeTrue())
		})
	})

	Describe("Custom Configuration", func() {
		It("should use custom config values", func() {
			config := &latency.PoolConfig{FUs: []latency.FUDesc{{
				Name:  "Any",
				Count: 1,
				Ops: []latency.OpDesc{
					{OpClass: "IntAlu", Latency: 2, Pipelined: true},
					{OpClass: "MemRead", Latency: 8, Pipelined: true},
				},
			}}}
			custom := latency.NewTableWithConfig(config)

			Expect(custom.ClassLatency(decoder.Decode(0x91002820).OpClass())).To(Equal(uint64(2)))
			Expect(custom.ClassLatency(decoder.Decode(0xF9400420).OpClass())).To(Equal(uint64(8)))
			Expect(custom.Config()).To(BeIdenticalTo(config))
		})
	})
})

var _ = Describe("Pool", func() {
	var pool *latency.Pool

	BeforeEach(func() {
		var err error
		pool, err = latency.NewPool(latency.DefaultPoolConfig())
		Expect(err).NotTo(HaveOccurred())
	})

	It("should issue up to six ALU operations per cycle", func() {
		for i := 0; i < 6; i++ {
			lat, ok := pool.Issue(insts.OpClassIntAlu, 10)
			Expect(ok).To(BeTrue())
			Expect(lat).To(Equal(uint64(1)))
		}
		_, ok := pool.Issue(insts.OpClassIntAlu, 10)
		Expect(ok).To(BeFalse())

		_, ok = pool.Issue(insts.OpClassIntAlu, 11)
		Expect(ok).To(BeTrue())
		Expect(pool.Stats().Busy[insts.OpClassIntAlu]).To(Equal(uint64(1)))
	})

	It("should share ALUs between integer and branch operations", func() {
		for i := 0; i < 6; i++ {
			_, ok := pool.Issue(insts.OpClassBranch, 0)
			Expect(ok).To(BeTrue())
		}
		_, ok := pool.Issue(insts.OpClassIntAlu, 0)
		Expect(ok).To(BeFalse())
	})

	It("should pipeline multiplies", func() {
		lat, ok := pool.Issue(insts.OpClassIntMult, 0)
		Expect(ok).To(BeTrue())
		Expect(lat).To(Equal(uint64(3)))

		_, _ = pool.Issue(insts.OpClassIntMult, 0)
		_, ok = pool.Issue(insts.OpClassIntMult, 1)
		Expect(ok).To(BeTrue())
	})

	It("should block a divider for its whole latency", func() {
		lat, ok := pool.Issue(insts.OpClassIntDiv, 0)
		Expect(ok).To(BeTrue())
		Expect(lat).To(Equal(uint64(20)))
		_, ok = pool.Issue(insts.OpClassIntDiv, 0)
		Expect(ok).To(BeTrue())

		_, ok = pool.Issue(insts.OpClassIntDiv, 19)
		Expect(ok).To(BeFalse())
		_, ok = pool.Issue(insts.OpClassIntMult, 19)
		Expect(ok).To(BeFalse())

		_, ok = pool.Issue(insts.OpClassIntDiv, 20)
		Expect(ok).To(BeTrue())
	})

	It("should offer four memory ports shared by loads and stores", func() {
		for i := 0; i < 2; i++ {
			_, ok := pool.Issue(insts.OpClassMemRead, 0)
			Expect(ok).To(BeTrue())
			_, ok = pool.Issue(insts.OpClassMemWrite, 0)
			Expect(ok).To(BeTrue())
		}
		_, ok := pool.Issue(insts.OpClassMemWrite, 0)
		Expect(ok).To(BeFalse())
		_, ok = pool.Issue(insts.OpClassMemRead, 1)
		Expect(ok).To(BeTrue())
	})

	It("should always issue classes without a unit", func() {
		for i := 0; i < 20; i++ {
			_, ok := pool.Issue(insts.OpClassSyscall, 0)
			Expect(ok).To(BeTrue())
		}
		Expect(pool.Stats().Issued[insts.OpClassSyscall]).To(Equal(uint64(20)))
	})

	It("should free every unit on reset", func() {
		_, _ = pool.Issue(insts.OpClassIntDiv, 0)
		_, _ = pool.Issue(insts.OpClassIntDiv, 0)
		pool.Reset()

		_, ok := pool.Issue(insts.OpClassIntDiv, 1)
		Expect(ok).To(BeTrue())
		Expect(pool.Stats().Issued).To(HaveLen(1))
	})
})

var _ = Describe("PoolConfig", func() {
	Describe("Validation", func() {
		It("should accept the default pool", func() {
			Expect(latency.DefaultPoolConfig().Validate()).To(Succeed())
		})

		It("should reject zero latency", func() {
			config := latency.DefaultPoolConfig()
			config.FUs[0].Ops[0].Latency = 0
			Expect(config.Validate()).To(MatchError(ContainSubstring("latency must be > 0")))
		})

		It("should reject zero units", func() {
			config := latency.DefaultPoolConfig()
			config.FUs[1].Count = 0
			Expect(config.Validate()).To(HaveOccurred())
		})

		It("should reject unknown op classes", func() {
			config := latency.DefaultPoolConfig()
			config.FUs[2].Ops[0].OpClass = "FloatAdd"
			Expect(config.Validate()).To(MatchError(ContainSubstring("unknown op class")))
		})

		It("should reject a class served twice", func() {
			config := latency.DefaultPoolConfig()
			config.FUs[1].Ops = append(config.FUs[1].Ops, latency.OpDesc{OpClass: "IntAlu", Latency: 1})
			Expect(config.Validate()).To(MatchError(ContainSubstring("already served")))
		})
	})

	Describe("Clone", func() {
		It("should create an independent copy", func() {
			original := latency.DefaultPoolConfig()
			clone := original.Clone()

			clone.FUs[0].Ops[0].Latency = 100
			clone.FUs[0].Count = 1

			Expect(original.FUs[0].Ops[0].Latency).To(Equal(uint64(1)))
			Expect(original.FUs[0].Count).To(Equal(6))
		})
	})

	Describe("File Operations", func() {
		var tempDir string

		BeforeEach(func() {
			tempDir = GinkgoT().TempDir()
		})

		It("should save and load JSON", func() {
			original := latency.DefaultPoolConfig()
			original.FUs[1].Ops[1].Latency = 12

			path := filepath.Join(tempDir, "fupool.json")
			Expect(original.SaveConfig(path)).To(Succeed())

			loaded, err := latency.LoadConfig(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded).To(Equal(original))
		})

		It("should save and load YAML", func() {
			original := latency.DefaultPoolConfig()
			path := filepath.Join(tempDir, "fupool.yaml")
			Expect(original.SaveConfig(path)).To(Succeed())

			loaded, err := latency.LoadConfig(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded).To(Equal(original))
		})

		It("should reject unknown YAML keys", func() {
			path := filepath.Join(tempDir, "bad.yml")
			data := "fus:\n  - name: IntALU\n    count: 1\n    width: 4\n"
			Expect(os.WriteFile(path, []byte(data), 0644)).To(Succeed())

			_, err := latency.LoadConfig(path)
			Expect(err).To(HaveOccurred())
		})

		It("should return error for non-existent file", func() {
			_, err := latency.LoadConfig("/nonexistent/path/fupool.json")
			Expect(err).To(HaveOccurred())
		})

		It("should return error for invalid JSON", func() {
			path := filepath.Join(tempDir, "invalid.json")
			Expect(os.WriteFile(path, []byte("not valid json"), 0644)).To(Succeed())

			_, err := latency.LoadConfig(path)
			Expect(err).To(HaveOccurred())
		})
	})
})
