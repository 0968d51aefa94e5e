package bpred_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/sesim/timing/bpred"
)

var _ = Describe("Predictor geometry", func() {
	DescribeTable("should reject tables that cannot be built",
		func(name string, edit func(p *bpred.Params), field string) {
			p := bpred.DefaultParams()
			edit(&p)

			dir, err := bpred.New(name, p)
			Expect(err).To(MatchError(bpred.ErrGeometry))
			Expect(err.Error()).To(ContainSubstring(field))
			Expect(dir).To(BeNil())

			_, err = bpred.NewUnitByName(name, p)
			Expect(err).To(MatchError(bpred.ErrGeometry))
		},
		Entry("GAp table larger than the cap", "GApPred",
			func(p *bpred.Params) { p.GApHistoryBits = 16; p.GApPHTSets = 1 << 16 },
			"gap pattern table"),
		Entry("GAp history too long", "GApPred",
			func(p *bpred.Params) { p.GApHistoryBits = 17 }, "gap_history_bits"),
		Entry("GAp sets not a power of two", "GApPred",
			func(p *bpred.Params) { p.GApPHTSets = 1000 }, "gap_pht_sets"),
		Entry("GAp counters too wide", "GApPred",
			func(p *bpred.Params) { p.GApCtrBits = 9 }, "gap_ctr_bits"),
		Entry("local table not a power of two", "LocalBP",
			func(p *bpred.Params) { p.LocalPredictorSize = 3000 }, "local_predictor_size"),
		Entry("local table larger than the cap", "LocalBP",
			func(p *bpred.Params) { p.LocalPredictorSize = 1 << 25 }, "local_predictor_size"),
		Entry("PAg history table larger than the cap", "PAgPred",
			func(p *bpred.Params) { p.PAgBHTSize = 1 << 25 }, "pag_bht_size"),
		Entry("PAg history too long", "PAgPred",
			func(p *bpred.Params) { p.PAgHistoryBits = 21 }, "pag_history_bits"),
		Entry("tournament global history too long", "TournamentBP",
			func(p *bpred.Params) { p.TournamentGlobalHistoryBits = 21 }, "tournament_global_history_bits"),
		Entry("BiMode choice table not a power of two", "BiModeBP",
			func(p *bpred.Params) { p.BiModeChoiceSize = 100 }, "bimode_choice_size"),
		Entry("TAGE tables too large", "TAGE",
			func(p *bpred.Params) { p.TAGETableBits = 17 }, "tage_table_bits"),
		Entry("BTB not a power of two", "LocalBP",
			func(p *bpred.Params) { p.BTBEntries = 1000 }, "btb_entries"),
		Entry("RAS larger than the cap", "StaticPred",
			func(p *bpred.Params) { p.RASSize = 1 << 25 }, "ras_size"),
	)

	It("should build a GAp table of exactly the maximum size", func() {
		p := bpred.DefaultParams()
		p.GApHistoryBits = 16
		p.GApPHTSets = 256

		g, err := bpred.NewGApPred(p)
		Expect(err).ToNot(HaveOccurred())

		Expect(func() {
			for pc := uint64(0x400000); pc < 0x400100; pc += 4 {
				g.Lookup(pc, 0)
			}
		}).ToNot(Panic())
	})

	It("should use defaults for unset fields", func() {
		for _, name := range bpred.Names() {
			dir, err := bpred.New(name, bpred.Params{})
			Expect(err).ToNot(HaveOccurred(), name)
			Expect(dir.Name()).To(Equal(name))
		}
	})
})
