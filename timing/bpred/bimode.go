package bpred

// BiModeBP splits the pattern history into a taken-biased and a
// not-taken-biased table. A per-address choice table picks the table, and
// the global history hashed with the address selects the counter.
type BiModeBP struct {
	choice   []SatCounter
	taken    []SatCounter
	notTaken []SatCounter

	choiceSize uint32
	tableSize  uint32

	ghr         uint64
	historyBits uint8
}

type biModeHistory struct {
	ghr         uint64
	choiceTaken bool
	finalPred   bool
}

// NewBiModeBP creates a BiMode predictor.
func NewBiModeBP(p Params) (*BiModeBP, error) {
	choiceSize, err := tableSize("bimode_choice_size", p.BiModeChoiceSize, 8192)
	if err != nil {
		return nil, err
	}
	predSize, err := tableSize("bimode_predictor_size", p.BiModePredictorSize, 8192)
	if err != nil {
		return nil, err
	}
	hbits, err := fieldBits("bimode_history_bits", p.BiModeHistoryBits, 13, 32)
	if err != nil {
		return nil, err
	}

	return &BiModeBP{
		choice:      newCounters(choiceSize, 2, 1),
		taken:       newCounters(predSize, 2, 2),
		notTaken:    newCounters(predSize, 2, 1),
		choiceSize:  choiceSize,
		tableSize:   predSize,
		historyBits: hbits,
	}, nil
}

// Name returns the registry name.
func (b *BiModeBP) Name() string { return "BiModeBP" }

func (b *BiModeBP) tableIndex(pc, ghr uint64) uint32 {
	return (uint32(pc>>2) ^ uint32(ghr)) & (b.tableSize - 1)
}

// Lookup reads the choice counter and then the selected direction table.
func (b *BiModeBP) Lookup(pc, _ uint64) (bool, History) {
	h := biModeHistory{ghr: b.ghr}
	h.choiceTaken = b.choice[index(pc, b.choiceSize)].Taken()

	idx := b.tableIndex(pc, b.ghr)
	if h.choiceTaken {
		h.finalPred = b.taken[idx].Taken()
	} else {
		h.finalPred = b.notTaken[idx].Taken()
	}

	b.ghr = pushHistory(b.ghr, h.finalPred, b.historyBits)
	return h.finalPred, h
}

// UncondBranch shifts a taken outcome into the global history.
func (b *BiModeBP) UncondBranch(uint64) History {
	h := biModeHistory{ghr: b.ghr, choiceTaken: true, finalPred: true}
	b.ghr = pushHistory(b.ghr, true, b.historyBits)
	return h
}

// Update trains the selected direction table. The choice table is trained
// unless it chose against the outcome while the selected table was still
// right.
func (b *BiModeBP) Update(pc uint64, taken bool, hist History, squashed bool) {
	h, ok := hist.(biModeHistory)
	if !ok {
		return
	}

	if squashed {
		b.ghr = pushHistory(h.ghr, taken, b.historyBits)
		return
	}

	idx := b.tableIndex(pc, h.ghr)
	if h.choiceTaken {
		b.taken[idx].Update(taken)
	} else {
		b.notTaken[idx].Update(taken)
	}

	if !(h.choiceTaken != taken && h.finalPred == taken) {
		b.choice[index(pc, b.choiceSize)].Update(taken)
	}
}

// Squash restores the global history.
func (b *BiModeBP) Squash(hist History) {
	if h, ok := hist.(biModeHistory); ok {
		b.ghr = h.ghr
	}
}

// Reset clears the history and every table.
func (b *BiModeBP) Reset() {
	b.ghr = 0
	resetCounters(b.choice, 1)
	resetCounters(b.taken, 2)
	resetCounters(b.notTaken, 1)
}
