// Package latency provides the functional-unit pool that bounds how many
// operations of each class an out-of-order core can start per cycle, and how
// long each takes.
package latency

import (
	"github.com/sarchlab/sesim/insts"
)

// Table provides operation latency lookups.
type Table struct {
	config *PoolConfig
	ops    map[insts.OpClass]OpDesc
}

// NewTable creates a latency table for the default FU pool.
func NewTable() *Table {
	return NewTableWithConfig(DefaultPoolConfig())
}

// NewTableWithConfig creates a latency table for a custom FU pool. The config
// is expected to be valid; unknown classes are ignored.
func NewTableWithConfig(config *PoolConfig) *Table {
	t := &Table{config: config, ops: map[insts.OpClass]OpDesc{}}
	for _, fu := range config.FUs {
		for _, op := range fu.Ops {
			if class, err := ParseOpClass(op.OpClass); err == nil {
				t.ops[class] = op
			}
		}
	}
	return t
}

// ClassLatency returns the latency of an operation class. Classes that need
// no functional unit take one cycle.
func (t *Table) ClassLatency(class insts.OpClass) uint64 {
	if op, ok := t.ops[class]; ok {
		return op.Latency
	}
	return 1
}

// NeedsUnit reports whether an operation class must be issued to a
// functional unit.
func (t *Table) NeedsUnit(class insts.OpClass) bool {
	_, ok := t.ops[class]
	return ok
}

// Config returns the FU pool configuration.
func (t *Table) Config() *PoolConfig {
	return t.config
}

type unit struct {
	freeAt uint64
}

// PoolStats counts issue attempts.
type PoolStats struct {
	Issued map[insts.OpClass]uint64
	// Busy counts attempts rejected because every capable unit was busy.
	Busy map[insts.OpClass]uint64
}

// Pool tracks the occupancy of every functional unit cycle by cycle.
type Pool struct {
	table *Table
	units []unit
	// capable lists, per class, the indices of units that execute it
	capable map[insts.OpClass][]int
	stats   PoolStats
}

// NewPool creates a pool from a validated config.
func NewPool(config *PoolConfig) (*Pool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	p := &Pool{
		table:   NewTableWithConfig(config),
		capable: map[insts.OpClass][]int{},
	}
	for _, fu := range config.FUs {
		first := len(p.units)
		for i := 0; i < fu.Count; i++ {
			p.units = append(p.units, unit{})
		}
		for _, op := range fu.Ops {
			class, _ := ParseOpClass(op.OpClass)
			for i := first; i < len(p.units); i++ {
				p.capable[class] = append(p.capable[class], i)
			}
		}
	}
	p.resetStats()
	return p, nil
}

// Table returns the latency table of the pool.
func (p *Pool) Table() *Table { return p.table }

// Issue claims a unit for class in cycle. It returns the operation latency
// and false when every capable unit is busy. Classes without a unit always
// issue.
func (p *Pool) Issue(class insts.OpClass, cycle uint64) (uint64, bool) {
	op, ok := p.table.ops[class]
	if !ok {
		p.stats.Issued[class]++
		return 1, true
	}

	for _, idx := range p.capable[class] {
		u := &p.units[idx]
		if u.freeAt > cycle {
			continue
		}
		if op.Pipelined {
			u.freeAt = cycle + 1
		} else {
			u.freeAt = cycle + op.Latency
		}
		p.stats.Issued[class]++
		return op.Latency, true
	}

	p.stats.Busy[class]++
	return 0, false
}

// Stats returns a copy of the issue counters.
func (p *Pool) Stats() PoolStats {
	out := PoolStats{
		Issued: make(map[insts.OpClass]uint64, len(p.stats.Issued)),
		Busy:   make(map[insts.OpClass]uint64, len(p.stats.Busy)),
	}
	for k, v := range p.stats.Issued {
		out.Issued[k] = v
	}
	for k, v := range p.stats.Busy {
		out.Busy[k] = v
	}
	return out
}

// Reset frees every unit and clears the counters.
func (p *Pool) Reset() {
	for i := range p.units {
		p.units[i].freeAt = 0
	}
	p.resetStats()
}

func (p *Pool) resetStats() {
	p.stats = PoolStats{
		Issued: map[insts.OpClass]uint64{},
		Busy:   map[insts.OpClass]uint64{},
	}
}
