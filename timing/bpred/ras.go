package bpred

// RAS is a circular return address stack. Overflow overwrites the oldest
// entry.
type RAS struct {
	entries []uint64
	tos     int
	used    int
}

// rasState is what Squash needs to undo one push or pop.
type rasState struct {
	pushed     bool
	popped     bool
	overwrote  uint64
	tos        int
	used       int
	poppedAddr uint64
}

// NewRAS creates a return address stack with size entries.
func NewRAS(size uint32) *RAS {
	return &RAS{entries: make([]uint64, max(size, 1))}
}

// Empty reports whether no return address is stored.
func (r *RAS) Empty() bool {
	return r.used == 0
}

// Top returns the most recently pushed address.
func (r *RAS) Top() uint64 {
	return r.entries[r.tos]
}

func (r *RAS) push(addr uint64) rasState {
	s := rasState{pushed: true, tos: r.tos, used: r.used}
	r.tos = (r.tos + 1) % len(r.entries)
	s.overwrote = r.entries[r.tos]
	r.entries[r.tos] = addr
	r.used = min(r.used+1, len(r.entries))
	return s
}

func (r *RAS) pop() (uint64, rasState) {
	s := rasState{popped: true, tos: r.tos, used: r.used}
	addr := r.entries[r.tos]
	s.poppedAddr = addr
	r.tos = (r.tos - 1 + len(r.entries)) % len(r.entries)
	if r.used > 0 {
		r.used--
	}
	return addr, s
}

func (r *RAS) restore(s rasState) {
	if !s.pushed && !s.popped {
		return
	}
	if s.pushed {
		r.entries[r.tos] = s.overwrote
	}
	if s.popped {
		r.entries[s.tos] = s.poppedAddr
	}
	r.tos = s.tos
	r.used = s.used
}

// Reset empties the stack.
func (r *RAS) Reset() {
	for i := range r.entries {
		r.entries[i] = 0
	}
	r.tos = 0
	r.used = 0
}
