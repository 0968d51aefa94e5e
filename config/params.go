package config

import (
	"fmt"

	"github.com/sarchlab/sesim/mem"
	"github.com/sarchlab/sesim/timing/bpred"
	"github.com/sarchlab/sesim/timing/cache"
	"github.com/sarchlab/sesim/timing/cpu"
	"github.com/sarchlab/sesim/timing/dram"
	"github.com/sarchlab/sesim/timing/latency"
)

// PredictorParams returns the predictor geometry selected by the options.
func (o *Options) PredictorParams() bpred.Params {
	p := bpred.DefaultParams()
	q := o.Predictor

	p.StaticPolicy = q.StaticPolicy
	p.LocalPredictorSize = q.LocalPredictorSize
	p.LocalCtrBits = q.LocalCtrBits
	p.GApHistoryBits = q.GApHistoryBits
	p.GApPHTSets = q.GApPHTSets
	p.GApCtrBits = q.GApCtrBits
	p.PAgBHTSize = q.PAgBHTSize
	p.PAgHistoryBits = q.PAgHistoryBits
	p.PAgCtrBits = q.PAgCtrBits
	p.BTBEntries = q.BTBEntries
	p.RASSize = q.RASSize
	return p
}

// CacheConfig returns the preset for kind with the size, associativity and
// line size options applied.
func (o *Options) CacheConfig(kind cache.Kind) (cache.Config, error) {
	var (
		c     cache.Config
		size  string
		assoc int
	)
	switch kind {
	case cache.KindL1I:
		c, size, assoc = cache.L1IConfig(), o.L1ISize, o.L1IAssoc
	case cache.KindL1D:
		c, size, assoc = cache.L1DConfig(), o.L1DSize, o.L1DAssoc
	default:
		c, size, assoc = cache.L2Config(), o.L2Size, o.L2Assoc
	}

	bytes, err := ParseSize(size)
	if err != nil {
		return cache.Config{}, fmt.Errorf("%s size: %w", kind, err)
	}
	c.Size = bytes
	c.Assoc = assoc
	if o.CachelineSize != 0 {
		c.BlockSize = o.CachelineSize
	}
	return c, c.Validate()
}

// MemRange returns the physical memory range [0, mem-size).
func (o *Options) MemRange() (mem.AddrRange, error) {
	size, err := ParseSize(o.MemSize)
	if err != nil {
		return mem.AddrRange{}, fmt.Errorf("mem-size: %w", err)
	}
	return mem.NewAddrRange(size), nil
}

// MemCtrlConfig returns the controller parameters for the memory type.
func (o *Options) MemCtrlConfig() (dram.Config, error) {
	iface, err := dram.Lookup(o.MemType)
	if err != nil {
		return dram.Config{}, err
	}
	policy, err := dram.ParsePagePolicy(o.PagePolicy)
	if err != nil {
		return dram.Config{}, err
	}

	c := dram.DefaultConfig(iface)
	c.PagePolicy = policy
	return c, nil
}

// O3Config returns the out-of-order core parameters. A non-zero cache line
// size also sets the fetch buffer size.
func (o *Options) O3Config() (cpu.O3Config, error) {
	c := cpu.DefaultO3Config().WithWidth(o.O3.Width)
	c.ROBEntries = o.O3.ROBEntries
	c.IQEntries = o.O3.IQEntries
	c.LQEntries = o.O3.LQEntries
	c.SQEntries = o.O3.SQEntries
	if o.CachelineSize != 0 {
		c.FetchBufferSize = o.CachelineSize
	}

	if o.O3.FUPool != "" {
		pool, err := latency.LoadConfig(o.O3.FUPool)
		if err != nil {
			return cpu.O3Config{}, err
		}
		c.FUPool = pool
	}
	return c, c.Validate()
}
