package bpred

// LocalBP is a bimodal predictor: one table of saturating counters indexed
// by the branch address.
type LocalBP struct {
	counters []SatCounter
	size     uint32
	ctrBits  uint8
}

// NewLocalBP creates a LocalBP from p.LocalPredictorSize and p.LocalCtrBits.
func NewLocalBP(p Params) (*LocalBP, error) {
	size, err := tableSize("local_predictor_size", p.LocalPredictorSize, 2048)
	if err != nil {
		return nil, err
	}
	bits, err := fieldBits("local_ctr_bits", p.LocalCtrBits, 2, 8)
	if err != nil {
		return nil, err
	}

	return &LocalBP{
		counters: newCounters(size, bits, weaklyNotTaken(bits)),
		size:     size,
		ctrBits:  bits,
	}, nil
}

// Name returns the registry name.
func (l *LocalBP) Name() string { return "LocalBP" }

// Lookup reads the counter of pc.
func (l *LocalBP) Lookup(pc, _ uint64) (bool, History) {
	return l.counters[index(pc, l.size)].Taken(), nil
}

// UncondBranch does nothing; LocalBP keeps no history.
func (l *LocalBP) UncondBranch(uint64) History { return nil }

// Update trains the counter at commit.
func (l *LocalBP) Update(pc uint64, taken bool, _ History, squashed bool) {
	if squashed {
		return
	}
	l.counters[index(pc, l.size)].Update(taken)
}

// Squash does nothing; LocalBP keeps no history.
func (l *LocalBP) Squash(History) {}

// Reset restores every counter to weakly not taken.
func (l *LocalBP) Reset() {
	resetCounters(l.counters, weaklyNotTaken(l.ctrBits))
}
