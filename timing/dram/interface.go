// Package dram models a DRAM memory controller with per-bank row buffers,
// command timing constraints and periodic refresh.
package dram

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sarchlab/sesim/timing/clock"
)

// ErrUnknownInterface is returned by Lookup for unregistered memory types.
var ErrUnknownInterface = errors.New("unknown memory type")

// Interface describes a DRAM device organisation and its timing.
type Interface struct {
	Name string

	DevicesPerRank      uint64
	DeviceRowBufferSize uint64
	Ranks               int
	BanksPerRank        int
	BurstSize           uint64

	TCK    clock.Tick
	TBURST clock.Tick
	TRCD   clock.Tick
	TCL    clock.Tick
	TRP    clock.Tick
	TRAS   clock.Tick
	TRRD   clock.Tick
	TXAW   clock.Tick
	TWR    clock.Tick
	TRTP   clock.Tick
	TWTR   clock.Tick
	TRFC   clock.Tick
	TREFI  clock.Tick

	// ActivationLimit is the number of activates allowed in a tXAW window.
	ActivationLimit int
}

// RowBufferSize returns the row size of a rank in bytes.
func (i Interface) RowBufferSize() uint64 {
	return i.DevicesPerRank * i.DeviceRowBufferSize
}

// BurstsPerRow returns the number of column bursts in one row.
func (i Interface) BurstsPerRow() uint64 {
	return i.RowBufferSize() / i.BurstSize
}

// Validate checks that the organisation can be address-mapped.
func (i Interface) Validate() error {
	if i.Ranks <= 0 || i.BanksPerRank <= 0 {
		return fmt.Errorf("%s: ranks and banks must be > 0", i.Name)
	}
	if i.BurstSize == 0 || i.RowBufferSize() == 0 || i.RowBufferSize()%i.BurstSize != 0 {
		return fmt.Errorf("%s: row buffer %d is not a multiple of the burst size %d",
			i.Name, i.RowBufferSize(), i.BurstSize)
	}
	if i.ActivationLimit <= 0 {
		return fmt.Errorf("%s: activation limit must be > 0", i.Name)
	}
	return nil
}

func ns(v float64) clock.Tick { return clock.FromNanoseconds(v) }

// DDR3_1600_8x8 returns a DDR3-1600 interface built from eight x8 devices
// per rank, two ranks of eight banks.
//
//nolint:revive,stylecheck // named after the device part
func DDR3_1600_8x8() Interface {
	return Interface{
		Name:                "DDR3_1600_8x8",
		DevicesPerRank:      8,
		DeviceRowBufferSize: 1024,
		Ranks:               2,
		BanksPerRank:        8,
		BurstSize:           64,

		TCK:    ns(1.25),
		TBURST: ns(5),
		TRCD:   ns(13.75),
		TCL:    ns(13.75),
		TRP:    ns(13.75),
		TRAS:   ns(35),
		TRRD:   ns(6),
		TXAW:   ns(30),
		TWR:    ns(15),
		TRTP:   ns(7.5),
		TWTR:   ns(7.5),
		TRFC:   ns(260),
		TREFI:  ns(7800),

		ActivationLimit: 4,
	}
}

var interfaces = map[string]func() Interface{
	"DDR3_1600_8x8": DDR3_1600_8x8,
}

// Lookup returns the interface registered under name.
func Lookup(name string) (Interface, error) {
	f, ok := interfaces[name]
	if !ok {
		return Interface{}, fmt.Errorf("%w %q (valid: %s)", ErrUnknownInterface, name, strings.Join(Names(), ", "))
	}
	return f(), nil
}

// Names returns the registered memory types in sorted order.
func Names() []string {
	names := make([]string, 0, len(interfaces))
	for name := range interfaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
