package bpred

const (
	tageTagBits     = 9
	tageCtrMax      = 7
	tageTakenThresh = 4
	tageUsefulMax   = 3
	tageAgingPeriod = 1 << 18
)

type tageEntry struct {
	tag    uint16
	ctr    uint8
	useful uint8
	valid  bool
}

type tageTable struct {
	historyLen uint8
	entries    []tageEntry
}

// TAGE is a tagged geometric history length predictor: a bimodal base table
// backed by tagged tables indexed with increasingly long global histories.
// The longest matching table provides the prediction.
type TAGE struct {
	base      []SatCounter
	baseSize  uint32
	tables    []tageTable
	tableBits uint8

	ghr     uint64
	commits uint64
}

type tageHistory struct {
	ghr          uint64
	idx          []uint32
	tags         []uint16
	provider     int
	providerPred bool
	altPred      bool
	pred         bool
}

// NewTAGE creates a TAGE predictor. History lengths are capped at 64.
func NewTAGE(p Params) (*TAGE, error) {
	lengths := p.TAGEHistoryLengths
	if len(lengths) == 0 {
		lengths = DefaultParams().TAGEHistoryLengths
	}
	tableBits, err := fieldBits("tage_table_bits", p.TAGETableBits, 10, 16)
	if err != nil {
		return nil, err
	}
	baseSize, err := tableSize("tage_base_size", p.TAGEBaseSize, 4096)
	if err != nil {
		return nil, err
	}

	t := &TAGE{
		base:      newCounters(baseSize, 2, weaklyNotTaken(2)),
		baseSize:  baseSize,
		tableBits: tableBits,
	}
	for _, l := range lengths {
		t.tables = append(t.tables, tageTable{
			historyLen: min(l, 64),
			entries:    make([]tageEntry, 1<<tableBits),
		})
	}
	return t, nil
}

// Name returns the registry name.
func (t *TAGE) Name() string { return "TAGE" }

// fold compresses h into width bits by xoring chunks.
func fold(h uint64, width uint8) uint64 {
	var out uint64
	mask := historyMask(width)
	for h != 0 {
		out ^= h & mask
		h >>= width
	}
	return out
}

func (t *TAGE) hash(table int, pc, ghr uint64) (uint32, uint16) {
	hlen := t.tables[table].historyLen
	h := ghr & historyMask(hlen)
	pcBits := pc >> 2

	idx := (pcBits ^ pcBits>>t.tableBits ^ fold(h, t.tableBits)) & historyMask(t.tableBits)
	tag := (pcBits ^ fold(h, tageTagBits)<<1 ^ fold(h, tageTagBits-1)) & historyMask(tageTagBits)

	return uint32(idx), uint16(tag)
}

// Lookup predicts with the longest matching tagged table, falling back to
// the base table.
func (t *TAGE) Lookup(pc, _ uint64) (bool, History) {
	h := tageHistory{
		ghr:      t.ghr,
		idx:      make([]uint32, len(t.tables)),
		tags:     make([]uint16, len(t.tables)),
		provider: -1,
	}

	basePred := t.base[index(pc, t.baseSize)].Taken()
	h.providerPred = basePred
	h.altPred = basePred

	for i := range t.tables {
		h.idx[i], h.tags[i] = t.hash(i, pc, t.ghr)
		e := &t.tables[i].entries[h.idx[i]]
		if !e.valid || e.tag != h.tags[i] {
			continue
		}
		h.altPred = h.providerPred
		h.providerPred = e.ctr >= tageTakenThresh
		h.provider = i
	}

	h.pred = h.providerPred
	t.ghr = pushHistory(t.ghr, h.pred, 64)

	return h.pred, h
}

// UncondBranch shifts a taken outcome into the global history.
func (t *TAGE) UncondBranch(uint64) History {
	h := tageHistory{ghr: t.ghr, provider: -1, pred: true}
	t.ghr = pushHistory(t.ghr, true, 64)
	return h
}

// Update trains the provider, adjusts usefulness and allocates a longer
// entry after a misprediction.
func (t *TAGE) Update(pc uint64, taken bool, hist History, squashed bool) {
	h, ok := hist.(tageHistory)
	if !ok {
		return
	}

	if squashed {
		t.ghr = pushHistory(h.ghr, taken, 64)
		return
	}
	if h.idx == nil {
		return
	}

	if h.provider >= 0 {
		e := &t.tables[h.provider].entries[h.idx[h.provider]]
		if taken && e.ctr < tageCtrMax {
			e.ctr++
		} else if !taken && e.ctr > 0 {
			e.ctr--
		}
		if h.providerPred != h.altPred {
			if h.providerPred == taken && e.useful < tageUsefulMax {
				e.useful++
			} else if h.providerPred != taken && e.useful > 0 {
				e.useful--
			}
		}
	} else {
		t.base[index(pc, t.baseSize)].Update(taken)
	}

	if h.pred != taken {
		t.allocate(h, taken)
	}

	t.commits++
	if t.commits%tageAgingPeriod == 0 {
		t.age()
	}
}

func (t *TAGE) allocate(h tageHistory, taken bool) {
	for i := h.provider + 1; i < len(t.tables); i++ {
		e := &t.tables[i].entries[h.idx[i]]
		if e.valid && e.useful > 0 {
			continue
		}
		ctr := uint8(tageTakenThresh - 1)
		if taken {
			ctr = tageTakenThresh
		}
		*e = tageEntry{tag: h.tags[i], ctr: ctr, valid: true}
		return
	}

	for i := h.provider + 1; i < len(t.tables); i++ {
		e := &t.tables[i].entries[h.idx[i]]
		if e.useful > 0 {
			e.useful--
		}
	}
}

func (t *TAGE) age() {
	for i := range t.tables {
		for j := range t.tables[i].entries {
			t.tables[i].entries[j].useful >>= 1
		}
	}
}

// Squash restores the global history.
func (t *TAGE) Squash(hist History) {
	if h, ok := hist.(tageHistory); ok {
		t.ghr = h.ghr
	}
}

// Reset clears the history and every table.
func (t *TAGE) Reset() {
	t.ghr = 0
	t.commits = 0
	resetCounters(t.base, weaklyNotTaken(2))
	for i := range t.tables {
		for j := range t.tables[i].entries {
			t.tables[i].entries[j] = tageEntry{}
		}
	}
}
