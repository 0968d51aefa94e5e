// Package stats collects named statistics into a tree of groups and dumps
// them in the stats.txt format.
package stats

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Dump markers.
const (
	BeginMarker = "---------- Begin Simulation Statistics ----------"
	EndMarker   = "---------- End Simulation Statistics   ----------"
)

// ErrDuplicate is returned when a name is registered twice in one group.
var ErrDuplicate = errors.New("duplicate statistic name")

// Unit names what a statistic counts.
type Unit string

// Units.
const (
	UnitCount  Unit = "Count"
	UnitTick   Unit = "Tick"
	UnitCycle  Unit = "Cycle"
	UnitSecond Unit = "Second"
	UnitByte   Unit = "Byte"
	UnitRatio  Unit = "Ratio"
	UnitHertz  Unit = "Hertz"
)

// Stat is a single named value.
type Stat interface {
	Name() string
	Desc() string
	Unit() Unit
	Value() float64
}

// Scalar is a value set by the component that owns it.
type Scalar struct {
	name, desc string
	unit       Unit
	value      float64
}

// Name returns the statistic name.
func (s *Scalar) Name() string { return s.name }

// Desc returns the description.
func (s *Scalar) Desc() string { return s.desc }

// Unit returns the unit.
func (s *Scalar) Unit() Unit { return s.unit }

// Value returns the current value.
func (s *Scalar) Value() float64 { return s.value }

// Set replaces the value.
func (s *Scalar) Set(v float64) { s.value = v }

// SetUint replaces the value with a counter.
func (s *Scalar) SetUint(v uint64) { s.value = float64(v) }

// Add increments the value by v.
func (s *Scalar) Add(v float64) { s.value += v }

// Formula is a value derived from other statistics when it is read.
type Formula struct {
	name, desc string
	unit       Unit
	fn         func() float64
}

// Name returns the statistic name.
func (f *Formula) Name() string { return f.name }

// Desc returns the description.
func (f *Formula) Desc() string { return f.desc }

// Unit returns the unit.
func (f *Formula) Unit() Unit { return f.unit }

// Value evaluates the formula. NaN and infinities read as zero.
func (f *Formula) Value() float64 {
	v := f.fn()
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Group is a named node holding statistics and child groups. The full name
// of a statistic joins the group path and its name with dots.
type Group struct {
	name   string
	parent *Group
	stats  []Stat
	groups []*Group
	names  map[string]bool
}

// NewGroup creates a root group. A root with an empty name adds no prefix.
func NewGroup(name string) *Group {
	return &Group{name: name, names: map[string]bool{}}
}

// Name returns the group name.
func (g *Group) Name() string { return g.name }

// Path returns the dotted path from the root.
func (g *Group) Path() string {
	if g.parent == nil {
		return g.name
	}
	if p := g.parent.Path(); p != "" {
		return p + "." + g.name
	}
	return g.name
}

// Group returns the child group with the given name, creating it if needed.
func (g *Group) Group(name string) *Group {
	for _, c := range g.groups {
		if c.name == name {
			return c
		}
	}
	c := &Group{name: name, parent: g, names: map[string]bool{}}
	g.groups = append(g.groups, c)
	return c
}

// Groups returns the child groups in creation order.
func (g *Group) Groups() []*Group { return g.groups }

func (g *Group) register(s Stat) error {
	if g.names[s.Name()] {
		return fmt.Errorf("%w %q in %q", ErrDuplicate, s.Name(), g.Path())
	}
	g.names[s.Name()] = true
	g.stats = append(g.stats, s)
	return nil
}

// NewScalar registers a scalar.
func (g *Group) NewScalar(name, desc string, unit Unit) (*Scalar, error) {
	s := &Scalar{name: name, desc: desc, unit: unit}
	if err := g.register(s); err != nil {
		return nil, err
	}
	return s, nil
}

// NewFormula registers a formula.
func (g *Group) NewFormula(name, desc string, unit Unit, fn func() float64) (*Formula, error) {
	f := &Formula{name: name, desc: desc, unit: unit, fn: fn}
	if err := g.register(f); err != nil {
		return nil, err
	}
	return f, nil
}

// Stats returns the statistics of this group in registration order.
func (g *Group) Stats() []Stat { return g.stats }

// Lookup finds a statistic by its path relative to g, e.g.
// "cpu.numCycles".
func (g *Group) Lookup(path string) (Stat, bool) {
	parts := strings.Split(path, ".")
	cur := g
	for _, part := range parts[:len(parts)-1] {
		var next *Group
		for _, c := range cur.groups {
			if c.name == part {
				next = c
				break
			}
		}
		if next == nil {
			return nil, false
		}
		cur = next
	}

	name := parts[len(parts)-1]
	for _, s := range cur.stats {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// Reset zeroes every scalar in the tree.
func (g *Group) Reset() {
	for _, s := range g.stats {
		if sc, ok := s.(*Scalar); ok {
			sc.value = 0
		}
	}
	for _, c := range g.groups {
		c.Reset()
	}
}

// Dump writes every statistic in the tree between the begin and end
// markers, one per line.
func (g *Group) Dump(w io.Writer) error {
	p := &printer{w: w}
	p.printf("\n%s\n", BeginMarker)
	g.dump(p)
	p.printf("\n%s\n\n", EndMarker)
	return p.err
}

func (g *Group) dump(p *printer) {
	prefix := g.Path()
	for _, s := range g.stats {
		name := s.Name()
		if prefix != "" {
			name = prefix + "." + name
		}
		p.printf("%-*s %*s %*s# %s (%s)\n",
			nameWidth, name, valueWidth, FormatValue(s.Value()), descPad, "", s.Desc(), s.Unit())
	}
	for _, c := range g.groups {
		c.dump(p)
	}
}

const (
	nameWidth  = 51
	valueWidth = 12
	descPad    = 24
)

// FormatValue prints integers without a fraction and other values with six
// decimals.
func FormatValue(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', 6, 64)
}

type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}
