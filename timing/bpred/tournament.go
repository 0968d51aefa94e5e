package bpred

// TournamentBP chooses between a local-history predictor and a
// global-history predictor with a table of choice counters indexed by the
// global history.
type TournamentBP struct {
	lht       []uint64
	lhtSize   uint32
	localBits uint8
	local     []SatCounter

	ghr        uint64
	globalBits uint8
	global     []SatCounter
	choice     []SatCounter

	ctrBits uint8
}

type tournamentHistory struct {
	ghr        uint64
	cond       bool
	localIdx   uint32
	localHist  uint64
	localPred  bool
	globalPred bool
}

// NewTournamentBP creates a tournament predictor.
func NewTournamentBP(p Params) (*TournamentBP, error) {
	lhtSize, err := tableSize("tournament_local_history_table_size", p.TournamentLocalHistoryTableSize, 2048)
	if err != nil {
		return nil, err
	}
	localBits, err := fieldBits("tournament_local_history_bits", p.TournamentLocalHistoryBits, 11, 20)
	if err != nil {
		return nil, err
	}
	globalBits, err := fieldBits("tournament_global_history_bits", p.TournamentGlobalHistoryBits, 13, 20)
	if err != nil {
		return nil, err
	}
	bits, err := fieldBits("tournament_ctr_bits", p.TournamentCtrBits, 2, 8)
	if err != nil {
		return nil, err
	}

	return &TournamentBP{
		lht:        make([]uint64, lhtSize),
		lhtSize:    lhtSize,
		localBits:  localBits,
		local:      newCounters(1<<localBits, bits, weaklyNotTaken(bits)),
		globalBits: globalBits,
		global:     newCounters(1<<globalBits, bits, weaklyNotTaken(bits)),
		choice:     newCounters(1<<globalBits, bits, weaklyNotTaken(bits)),
		ctrBits:    bits,
	}, nil
}

// Name returns the registry name.
func (t *TournamentBP) Name() string { return "TournamentBP" }

// Lookup consults both components and lets the choice counter pick.
func (t *TournamentBP) Lookup(pc, _ uint64) (bool, History) {
	idx := index(pc, t.lhtSize)
	h := tournamentHistory{
		ghr:       t.ghr,
		cond:      true,
		localIdx:  idx,
		localHist: t.lht[idx],
	}
	h.localPred = t.local[h.localHist].Taken()
	h.globalPred = t.global[t.ghr].Taken()

	taken := h.localPred
	if t.choice[t.ghr].Taken() {
		taken = h.globalPred
	}

	t.ghr = pushHistory(t.ghr, taken, t.globalBits)
	t.lht[idx] = pushHistory(h.localHist, taken, t.localBits)

	return taken, h
}

// UncondBranch shifts a taken outcome into the global history.
func (t *TournamentBP) UncondBranch(uint64) History {
	h := tournamentHistory{ghr: t.ghr, localPred: true, globalPred: true}
	t.ghr = pushHistory(t.ghr, true, t.globalBits)
	return h
}

// Update corrects speculative histories of a squashed branch, or trains the
// components at commit. The choice counter only moves when the components
// disagreed.
func (t *TournamentBP) Update(_ uint64, taken bool, hist History, squashed bool) {
	h, ok := hist.(tournamentHistory)
	if !ok {
		return
	}

	if squashed {
		t.ghr = pushHistory(h.ghr, taken, t.globalBits)
		if h.cond {
			t.lht[h.localIdx] = pushHistory(h.localHist, taken, t.localBits)
		}
		return
	}

	if h.localPred != h.globalPred {
		t.choice[h.ghr].Update(h.globalPred == taken)
	}
	t.local[h.localHist].Update(taken)
	t.global[h.ghr].Update(taken)
}

// Squash restores the histories saved at lookup.
func (t *TournamentBP) Squash(hist History) {
	h, ok := hist.(tournamentHistory)
	if !ok {
		return
	}
	t.ghr = h.ghr
	if h.cond {
		t.lht[h.localIdx] = h.localHist
	}
}

// Reset clears all histories and counters.
func (t *TournamentBP) Reset() {
	t.ghr = 0
	for i := range t.lht {
		t.lht[i] = 0
	}
	v := weaklyNotTaken(t.ctrBits)
	resetCounters(t.local, v)
	resetCounters(t.global, v)
	resetCounters(t.choice, v)
}
