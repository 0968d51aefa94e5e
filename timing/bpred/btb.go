package bpred

// btbEntry represents an entry in the Branch Target Buffer.
type btbEntry struct {
	valid  bool
	pc     uint64
	target uint64
}

// BTB is a direct-mapped branch target buffer.
type BTB struct {
	entries []btbEntry
	size    uint32
}

// NewBTB creates a BTB with size entries. Size must be a power of two.
func NewBTB(size uint32) *BTB {
	return &BTB{
		entries: make([]btbEntry, size),
		size:    size,
	}
}

// Lookup returns the stored target of the branch at pc.
func (b *BTB) Lookup(pc uint64) (uint64, bool) {
	e := &b.entries[index(pc, b.size)]
	if e.valid && e.pc == pc {
		return e.target, true
	}
	return 0, false
}

// Update records the target of the branch at pc.
func (b *BTB) Update(pc, target uint64) {
	b.entries[index(pc, b.size)] = btbEntry{valid: true, pc: pc, target: target}
}

// Reset invalidates every entry.
func (b *BTB) Reset() {
	for i := range b.entries {
		b.entries[i] = btbEntry{}
	}
}
