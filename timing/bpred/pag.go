package bpred

// PAgPred is a two-level predictor with per-address history registers that
// index one global pattern table.
type PAgPred struct {
	bht         []uint64
	bhtSize     uint32
	historyBits uint8
	ctrBits     uint8
	pht         []SatCounter
}

type pagHistory struct {
	idx   uint32
	local uint64
}

// NewPAgPred creates a PAg predictor from p.PAgBHTSize, p.PAgHistoryBits and
// p.PAgCtrBits.
func NewPAgPred(p Params) (*PAgPred, error) {
	size, err := tableSize("pag_bht_size", p.PAgBHTSize, 1024)
	if err != nil {
		return nil, err
	}
	hbits, err := fieldBits("pag_history_bits", p.PAgHistoryBits, 8, 20)
	if err != nil {
		return nil, err
	}
	bits, err := fieldBits("pag_ctr_bits", p.PAgCtrBits, 2, 8)
	if err != nil {
		return nil, err
	}

	return &PAgPred{
		bht:         make([]uint64, size),
		bhtSize:     size,
		historyBits: hbits,
		ctrBits:     bits,
		pht:         newCounters(1<<hbits, bits, weaklyNotTaken(bits)),
	}, nil
}

// Name returns the registry name.
func (p *PAgPred) Name() string { return "PAgPred" }

// Lookup predicts with the branch's own history and shifts the prediction
// into it.
func (p *PAgPred) Lookup(pc, _ uint64) (bool, History) {
	idx := index(pc, p.bhtSize)
	h := pagHistory{idx: idx, local: p.bht[idx]}
	taken := p.pht[h.local].Taken()
	p.bht[idx] = pushHistory(h.local, taken, p.historyBits)
	return taken, h
}

// UncondBranch does nothing; unconditional branches have no local history.
func (p *PAgPred) UncondBranch(uint64) History { return nil }

// Update corrects the local history of a squashed branch, or trains the
// pattern table entry selected at lookup time.
func (p *PAgPred) Update(_ uint64, taken bool, hist History, squashed bool) {
	h, ok := hist.(pagHistory)
	if !ok {
		return
	}
	if squashed {
		p.bht[h.idx] = pushHistory(h.local, taken, p.historyBits)
		return
	}
	p.pht[h.local].Update(taken)
}

// Squash restores the local history saved at lookup.
func (p *PAgPred) Squash(hist History) {
	if h, ok := hist.(pagHistory); ok {
		p.bht[h.idx] = h.local
	}
}

// Reset clears all histories and counters.
func (p *PAgPred) Reset() {
	for i := range p.bht {
		p.bht[i] = 0
	}
	resetCounters(p.pht, weaklyNotTaken(p.ctrBits))
}
