package cpu

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownCPU is returned by LookupClass for unregistered CPU types.
var ErrUnknownCPU = errors.New("unknown cpu type")

// Class names a CPU model.
type Class string

// CPU classes.
const (
	ClassAtomicSimple Class = "AtomicSimpleCPU"
	ClassTimingSimple Class = "TimingSimpleCPU"
	ClassO3           Class = "O3CPU"
)

// MemMode is how a CPU drives the memory system.
type MemMode string

// Memory modes.
const (
	MemModeAtomic MemMode = "atomic"
	MemModeTiming MemMode = "timing"
)

var classes = map[string]Class{
	"AtomicSimpleCPU": ClassAtomicSimple,
	"TimingSimpleCPU": ClassTimingSimple,
	"O3CPU":           ClassO3,
	"DerivO3CPU":      ClassO3,
}

// MemMode returns the memory mode the class needs.
func (c Class) MemMode() MemMode {
	if c == ClassAtomicSimple {
		return MemModeAtomic
	}
	return MemModeTiming
}

// LookupClass resolves a CPU type name, accepting aliases.
func LookupClass(name string) (Class, MemMode, error) {
	c, ok := classes[name]
	if !ok {
		return "", "", fmt.Errorf("%w %q (valid: %s)", ErrUnknownCPU, name, strings.Join(Names(), ", "))
	}
	return c, c.MemMode(), nil
}

// Names returns the accepted CPU type names in sorted order.
func Names() []string {
	names := make([]string, 0, len(classes))
	for name := range classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
