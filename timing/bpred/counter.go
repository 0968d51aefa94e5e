package bpred

// SatCounter is an n-bit saturating counter.
type SatCounter struct {
	value uint8
	max   uint8
}

// NewSatCounter creates a counter of the given width holding initial.
func NewSatCounter(bits uint8, initial uint8) SatCounter {
	c := SatCounter{max: uint8((1 << bits) - 1)}
	c.value = min(initial, c.max)
	return c
}

// Increment saturates at the maximum value.
func (c *SatCounter) Increment() {
	if c.value < c.max {
		c.value++
	}
}

// Decrement saturates at zero.
func (c *SatCounter) Decrement() {
	if c.value > 0 {
		c.value--
	}
}

// Update moves the counter towards taken or not taken.
func (c *SatCounter) Update(taken bool) {
	if taken {
		c.Increment()
	} else {
		c.Decrement()
	}
}

// Value returns the raw counter value.
func (c SatCounter) Value() uint8 {
	return c.value
}

// Taken reports whether the most significant bit is set.
func (c SatCounter) Taken() bool {
	return c.value > c.max/2
}

// Reset sets the counter to v.
func (c *SatCounter) Reset(v uint8) {
	c.value = min(v, c.max)
}

// weaklyNotTaken is the initial value of prediction counters: the highest
// value that still predicts not taken.
func weaklyNotTaken(bits uint8) uint8 {
	return uint8((1<<bits)-1) / 2
}

func newCounters(n uint32, bits uint8, initial uint8) []SatCounter {
	ctrs := make([]SatCounter, n)
	for i := range ctrs {
		ctrs[i] = NewSatCounter(bits, initial)
	}
	return ctrs
}

func resetCounters(ctrs []SatCounter, v uint8) {
	for i := range ctrs {
		ctrs[i].Reset(v)
	}
}
