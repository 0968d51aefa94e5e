// Package clock provides simulated time: ticks, clock domains and voltage
// domains.
//
// One tick is one picosecond, so a 1GHz clock has a period of 1000 ticks.
package clock

import (
	"fmt"
	"math"

	"github.com/sarchlab/akita/v4/sim"
)

// Tick is a point in simulated time, measured in picoseconds.
type Tick uint64

// TicksPerSecond is the global simulated tick frequency.
const TicksPerSecond = 1_000_000_000_000

// MaxTick is the largest representable tick.
const MaxTick = Tick(math.MaxUint64)

// Seconds converts a tick count to seconds.
func (t Tick) Seconds() float64 {
	return float64(t) / TicksPerSecond
}

// Nanoseconds converts a tick count to whole nanoseconds.
func (t Tick) Nanoseconds() uint64 {
	return uint64(t / 1000)
}

// FromNanoseconds converts a duration in nanoseconds into ticks.
func FromNanoseconds(ns float64) Tick {
	return Tick(math.Round(ns * 1000))
}

// VoltageDomain groups components that share a supply voltage.
type VoltageDomain struct {
	// Voltage in volts.
	Voltage float64
}

// DefaultVoltageDomain returns a 1.0V domain.
func DefaultVoltageDomain() *VoltageDomain {
	return &VoltageDomain{Voltage: 1.0}
}

// SrcClockDomain is a clock source that components tick on.
type SrcClockDomain struct {
	Clock         sim.Freq
	VoltageDomain *VoltageDomain

	period Tick
}

// NewSrcClockDomain creates a clock domain running at the given frequency.
func NewSrcClockDomain(freq sim.Freq, vd *VoltageDomain) (*SrcClockDomain, error) {
	if freq <= 0 {
		return nil, fmt.Errorf("clock frequency must be > 0, got %v", float64(freq))
	}

	period := Tick(math.Round(TicksPerSecond / float64(freq)))
	if period == 0 {
		return nil, fmt.Errorf("clock frequency %vHz exceeds the tick resolution", float64(freq))
	}

	if vd == nil {
		vd = DefaultVoltageDomain()
	}

	return &SrcClockDomain{
		Clock:         freq,
		VoltageDomain: vd,
		period:        period,
	}, nil
}

// Period returns the length of one cycle in ticks.
func (d *SrcClockDomain) Period() Tick {
	return d.period
}

// CyclesToTicks converts a cycle count to ticks.
func (d *SrcClockDomain) CyclesToTicks(cycles uint64) Tick {
	return Tick(cycles) * d.period
}

// TicksToCycles converts ticks to cycles, rounding up partial cycles.
func (d *SrcClockDomain) TicksToCycles(t Tick) uint64 {
	return uint64((t + d.period - 1) / d.period)
}

// ClockEdge returns the tick of the clock edge that is the given number of
// cycles after the first edge at or after now.
func (d *SrcClockDomain) ClockEdge(now Tick, cycles uint64) Tick {
	edge := ((now + d.period - 1) / d.period) * d.period
	return edge + d.CyclesToTicks(cycles)
}

// CycleAt returns the index of the cycle that contains the given tick.
func (d *SrcClockDomain) CycleAt(t Tick) uint64 {
	return uint64(t / d.period)
}
