package bpred_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/sesim/insts"
	"github.com/sarchlab/sesim/timing/bpred"
)

var decoder = insts.NewDecoder()

// runPattern drives a conditional branch at pc through the unit with the
// given outcomes and returns the number of mispredictions in the last
// window outcomes.
func runPattern(u *bpred.Unit, pc uint64, outcomes []bool, window int) int {
	inst := decoder.Decode(insts.EncodeBCond(-16, insts.CondNE))
	target := pc - 16

	wrong := 0
	for i, taken := range outcomes {
		seq := uint64(i)
		pred := u.Predict(seq, pc, inst)
		actual := pc + 4
		if taken {
			actual = target
		}
		if !u.Resolve(seq, pred, taken, actual) && i >= len(outcomes)-window {
			wrong++
		}
	}
	return wrong
}

func alternating(n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = i%2 == 0
	}
	return out
}

func always(n int, taken bool) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = taken
	}
	return out
}

var _ = Describe("SatCounter", func() {
	It("should saturate at both ends", func() {
		c := bpred.NewSatCounter(2, 0)
		c.Decrement()
		Expect(c.Value()).To(Equal(uint8(0)))

		for i := 0; i < 5; i++ {
			c.Increment()
		}
		Expect(c.Value()).To(Equal(uint8(3)))
		Expect(c.Taken()).To(BeTrue())
	})

	It("should require 2 mispredictions to change direction", func() {
		c := bpred.NewSatCounter(2, 3)

		c.Update(false)
		Expect(c.Taken()).To(BeTrue())

		c.Update(false)
		Expect(c.Taken()).To(BeFalse())
	})
})

var _ = Describe("StaticPred", func() {
	params := func(policy string) bpred.Params {
		p := bpred.DefaultParams()
		p.StaticPolicy = policy
		return p
	}

	It("should always predict taken with the taken policy", func() {
		s := bpred.NewStaticPred(params(bpred.PolicyTaken))
		taken, _ := s.Lookup(0x1000, 0x2000)
		Expect(taken).To(BeTrue())
	})

	It("should always predict not taken with the not-taken policy", func() {
		s := bpred.NewStaticPred(params(bpred.PolicyNotTaken))
		taken, _ := s.Lookup(0x1000, 0x800)
		Expect(taken).To(BeFalse())
	})

	It("should predict backward branches taken with btfn", func() {
		s := bpred.NewStaticPred(params(bpred.PolicyBTFN))

		backward, _ := s.Lookup(0x1000, 0x800)
		forward, _ := s.Lookup(0x1000, 0x2000)

		Expect(backward).To(BeTrue())
		Expect(forward).To(BeFalse())
	})

	It("should fall back to btfn for unknown policies", func() {
		s := bpred.NewStaticPred(params("sometimes"))
		Expect(s.Policy()).To(Equal(bpred.PolicyBTFN))
	})

	It("should never learn", func() {
		u := bpred.NewUnit(bpred.NewStaticPred(params(bpred.PolicyNotTaken)), bpred.DefaultParams())
		Expect(runPattern(u, 0x1000, always(20, true), 10)).To(Equal(10))
	})
})

var _ = Describe("LocalBP", func() {
	var lp *bpred.LocalBP

	BeforeEach(func() {
		var err error
		lp, err = bpred.NewLocalBP(bpred.DefaultParams())
		Expect(err).ToNot(HaveOccurred())
	})

	It("should initially predict not taken", func() {
		taken, _ := lp.Lookup(0x1000, 0)
		Expect(taken).To(BeFalse())
	})

	It("should learn a taken branch at commit", func() {
		lp.Update(0x1000, true, nil, false)
		taken, _ := lp.Lookup(0x1000, 0)
		Expect(taken).To(BeTrue())
	})

	It("should not train on squash updates", func() {
		lp.Update(0x1000, true, nil, true)
		taken, _ := lp.Lookup(0x1000, 0)
		Expect(taken).To(BeFalse())
	})

	It("should keep separate counters per address", func() {
		lp.Update(0x1000, true, nil, false)
		taken, _ := lp.Lookup(0x1004, 0)
		Expect(taken).To(BeFalse())
	})

	It("should not capture alternating patterns", func() {
		u := bpred.NewUnit(lp, bpred.DefaultParams())
		Expect(runPattern(u, 0x1000, alternating(200), 50)).To(BeNumerically(">", 10))
	})

	It("should forget training on Reset", func() {
		lp.Update(0x1000, true, nil, false)
		lp.Reset()
		taken, _ := lp.Lookup(0x1000, 0)
		Expect(taken).To(BeFalse())
	})
})

var _ = Describe("history-based predictors", func() {
	for _, name := range []string{"GApPred", "PAgPred", "TournamentBP", "BiModeBP", "TAGE"} {
		name := name

		Context(name, func() {
			var u *bpred.Unit

			BeforeEach(func() {
				var err error
				u, err = bpred.NewUnitByName(name, bpred.DefaultParams())
				Expect(err).ToNot(HaveOccurred())
			})

			It("should learn an always-taken branch", func() {
				Expect(runPattern(u, 0x2000, always(100, true), 50)).To(BeZero())
			})

			It("should learn an alternating branch", func() {
				Expect(runPattern(u, 0x2000, alternating(400), 100)).To(BeZero())
			})

			It("should undo speculative history on squash", func() {
				inst := decoder.Decode(insts.EncodeBCond(-16, insts.CondNE))
				runPattern(u, 0x2000, alternating(400), 0)

				first := u.Predict(1000, 0x2000, inst)
				u.Squash(999, false, 0)
				second := u.Predict(1001, 0x2000, inst)

				Expect(second).To(Equal(first))
				Expect(u.InFlight()).To(Equal(1))
			})
		})
	}
})

var _ = Describe("GApPred", func() {
	It("should distinguish branches by address", func() {
		u, err := bpred.NewUnitByName("GApPred", bpred.DefaultParams())
		Expect(err).ToNot(HaveOccurred())

		runPattern(u, 0x3000, always(50, true), 0)
		Expect(runPattern(u, 0x3004, always(50, false), 10)).To(BeZero())
	})
})
