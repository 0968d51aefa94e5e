package bpred

// GApPred is a two-level predictor with one global history register and a
// per-address set of pattern tables: the branch address selects a set and
// the global history selects the counter within it.
type GApPred struct {
	ghr         uint64
	historyBits uint8
	sets        uint32
	ctrBits     uint8
	pht         []SatCounter
}

type gapHistory struct {
	ghr uint64
}

// NewGApPred creates a GAp predictor from p.GApHistoryBits, p.GApPHTSets and
// p.GApCtrBits. The pattern table holds sets << history bits counters and
// may not exceed MaxTableEntries.
func NewGApPred(p Params) (*GApPred, error) {
	hbits, err := fieldBits("gap_history_bits", p.GApHistoryBits, 8, 16)
	if err != nil {
		return nil, err
	}
	sets, err := tableSize("gap_pht_sets", p.GApPHTSets, 1024)
	if err != nil {
		return nil, err
	}
	bits, err := fieldBits("gap_ctr_bits", p.GApCtrBits, 2, 8)
	if err != nil {
		return nil, err
	}

	entries := uint64(sets) << hbits
	if err := checkEntries("gap pattern table", entries); err != nil {
		return nil, err
	}

	return &GApPred{
		historyBits: hbits,
		sets:        sets,
		ctrBits:     bits,
		pht:         newCounters(uint32(entries), bits, weaklyNotTaken(bits)),
	}, nil
}

// Name returns the registry name.
func (g *GApPred) Name() string { return "GApPred" }

func (g *GApPred) counter(pc, ghr uint64) *SatCounter {
	set := index(pc, g.sets)
	return &g.pht[set<<g.historyBits|uint32(ghr)]
}

// Lookup predicts with the current history and shifts the prediction in.
func (g *GApPred) Lookup(pc, _ uint64) (bool, History) {
	h := gapHistory{ghr: g.ghr}
	taken := g.counter(pc, g.ghr).Taken()
	g.ghr = pushHistory(g.ghr, taken, g.historyBits)
	return taken, h
}

// UncondBranch shifts a taken outcome into the global history.
func (g *GApPred) UncondBranch(uint64) History {
	h := gapHistory{ghr: g.ghr}
	g.ghr = pushHistory(g.ghr, true, g.historyBits)
	return h
}

// Update corrects the history of a squashed branch, or trains the counter
// selected at lookup time.
func (g *GApPred) Update(pc uint64, taken bool, hist History, squashed bool) {
	h, ok := hist.(gapHistory)
	if !ok {
		return
	}
	if squashed {
		g.ghr = pushHistory(h.ghr, taken, g.historyBits)
		return
	}
	g.counter(pc, h.ghr).Update(taken)
}

// Squash restores the history saved at lookup.
func (g *GApPred) Squash(hist History) {
	if h, ok := hist.(gapHistory); ok {
		g.ghr = h.ghr
	}
}

// Reset clears the history and the pattern tables.
func (g *GApPred) Reset() {
	g.ghr = 0
	resetCounters(g.pht, weaklyNotTaken(g.ctrBits))
}
