package latency

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sarchlab/sesim/insts"
)

// OpDesc describes how a functional unit executes one operation class.
type OpDesc struct {
	// OpClass is the class name, e.g. "IntAlu" or "MemRead".
	OpClass string `json:"op_class" yaml:"op_class"`

	// Latency is the number of cycles until the result is available.
	Latency uint64 `json:"latency" yaml:"latency"`

	// Pipelined units accept a new operation every cycle. Unpipelined units
	// stay busy for the whole latency.
	Pipelined bool `json:"pipelined" yaml:"pipelined"`
}

// FUDesc describes a group of identical functional units.
type FUDesc struct {
	Name  string   `json:"name" yaml:"name"`
	Count int      `json:"count" yaml:"count"`
	Ops   []OpDesc `json:"ops" yaml:"ops"`
}

// PoolConfig is the functional-unit pool of an out-of-order core.
type PoolConfig struct {
	FUs []FUDesc `json:"fus" yaml:"fus"`
}

// DefaultPoolConfig returns six integer ALUs, two multiply/divide units,
// four memory ports and four single-cycle SIMD units.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		FUs: []FUDesc{
			{
				Name:  "IntALU",
				Count: 6,
				Ops: []OpDesc{
					{OpClass: "IntAlu", Latency: 1, Pipelined: true},
					{OpClass: "Branch", Latency: 1, Pipelined: true},
				},
			},
			{
				Name:  "IntMultDiv",
				Count: 2,
				Ops: []OpDesc{
					{OpClass: "IntMult", Latency: 3, Pipelined: true},
					{OpClass: "IntDiv", Latency: 20, Pipelined: false},
				},
			},
			{
				Name:  "RdWrPort",
				Count: 4,
				Ops: []OpDesc{
					{OpClass: "MemRead", Latency: 1, Pipelined: true},
					{OpClass: "MemWrite", Latency: 1, Pipelined: true},
				},
			},
			{
				Name:  "SIMD_Unit",
				Count: 4,
				Ops: []OpDesc{
					{OpClass: "SimdAdd", Latency: 1, Pipelined: true},
					{OpClass: "SimdAlu", Latency: 1, Pipelined: true},
					{OpClass: "SimdCmp", Latency: 1, Pipelined: true},
					{OpClass: "SimdMisc", Latency: 1, Pipelined: true},
					{OpClass: "SimdMult", Latency: 1, Pipelined: true},
					{OpClass: "SimdFloatAdd", Latency: 1, Pipelined: true},
					{OpClass: "SimdFloatMult", Latency: 1, Pipelined: true},
				},
			},
		},
	}
}

// ParseOpClass converts an operation class name.
func ParseOpClass(name string) (insts.OpClass, error) {
	for _, c := range insts.OpClasses() {
		if c.String() == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown op class %q", name)
}

// LoadConfig loads a PoolConfig from a JSON or YAML file, chosen by
// extension. Unknown fields are rejected.
func LoadConfig(path string) (*PoolConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read FU pool file: %w", err)
	}

	config := &PoolConfig{}
	if isYAML(path) {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(config)
	} else {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse FU pool %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveConfig writes the PoolConfig as JSON or YAML, chosen by extension.
func (c *PoolConfig) SaveConfig(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to serialize FU pool: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write FU pool file: %w", err)
	}
	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Validate checks unit counts and latencies, and that no operation class is
// served by two unit groups.
func (c *PoolConfig) Validate() error {
	if len(c.FUs) == 0 {
		return fmt.Errorf("FU pool has no functional units")
	}

	seen := map[insts.OpClass]string{}
	for _, fu := range c.FUs {
		if fu.Count <= 0 {
			return fmt.Errorf("%s: count must be > 0", fu.Name)
		}
		for _, op := range fu.Ops {
			class, err := ParseOpClass(op.OpClass)
			if err != nil {
				return fmt.Errorf("%s: %w", fu.Name, err)
			}
			if op.Latency == 0 {
				return fmt.Errorf("%s: %s latency must be > 0", fu.Name, op.OpClass)
			}
			if other, dup := seen[class]; dup {
				return fmt.Errorf("%s: %s is already served by %s", fu.Name, op.OpClass, other)
			}
			seen[class] = fu.Name
		}
	}
	return nil
}

// Clone returns a deep copy of the PoolConfig.
func (c *PoolConfig) Clone() *PoolConfig {
	out := &PoolConfig{FUs: make([]FUDesc, len(c.FUs))}
	for i, fu := range c.FUs {
		fu.Ops = append([]OpDesc(nil), fu.Ops...)
		out.FUs[i] = fu
	}
	return out
}
