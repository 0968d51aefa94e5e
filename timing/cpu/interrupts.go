package cpu

import "sort"

// Interrupts is a per-CPU interrupt controller. Devices post interrupt
// numbers; the CPU takes them at the next instruction boundary.
//
// Syscall emulation has no devices, so nothing in a built system posts to
// the controller. Post is the attachment point for a device model.
type Interrupts struct {
	pending map[int]bool
	posted  uint64
}

// NewInterrupts creates an interrupt controller with nothing pending.
func NewInterrupts() *Interrupts {
	return &Interrupts{pending: map[int]bool{}}
}

// Post raises interrupt id. Posting an already pending id has no effect.
func (i *Interrupts) Post(id int) {
	if !i.pending[id] {
		i.pending[id] = true
		i.posted++
	}
}

// Clear drops interrupt id.
func (i *Interrupts) Clear(id int) {
	delete(i.pending, id)
}

// Pending reports whether any interrupt is raised.
func (i *Interrupts) Pending() bool {
	return len(i.pending) > 0
}

// Take returns the pending interrupts in ascending order and clears them.
func (i *Interrupts) Take() []int {
	ids := make([]int, 0, len(i.pending))
	for id := range i.pending {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	i.pending = map[int]bool{}
	return ids
}

// Posted returns the number of interrupts ever raised.
func (i *Interrupts) Posted() uint64 {
	return i.posted
}
