// Package benchmarks provides built-in AArch64 micro-kernels and a harness
// that runs them through the full system under several branch predictors.
package benchmarks

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/sarchlab/sesim/insts"
	"github.com/sarchlab/sesim/loader"
)

// Kernel memory layout.
const (
	TextAddr = 0x400000
	DataAddr = 0x410000
)

// Kernel defines a single benchmark program.
type Kernel struct {
	// Name identifies the kernel
	Name string

	// Description explains what the kernel stresses
	Description string

	// Code is the text segment, loaded at TextAddr
	Code []uint32

	// Data is an optional data segment, loaded at DataAddr
	Data []byte

	// ExpectedExit is the exit code of a correct run
	ExpectedExit int64
}

// Image returns the executable image of the kernel.
func (k Kernel) Image() loader.Image {
	text := insts.Program(k.Code...)
	img := loader.Image{
		Entry: TextAddr,
		Segments: []loader.Segment{{
			VirtAddr: TextAddr,
			Data:     text,
			MemSize:  uint64(len(text)),
			Flags:    loader.SegmentFlagRead | loader.SegmentFlagExecute,
		}},
	}
	if len(k.Data) > 0 {
		img.Segments = append(img.Segments, loader.Segment{
			VirtAddr: DataAddr,
			Data:     k.Data,
			MemSize:  uint64(len(k.Data)),
			Flags:    loader.SegmentFlagRead | loader.SegmentFlagWrite,
		})
	}
	return img
}

// Kernels returns every built-in kernel.
func Kernels() []Kernel {
	return []Kernel{
		loopKernel(),
		nestedLoops(),
		alternatingBranch(),
		correlatedBranches(),
		randomBranches(),
		linkedList(),
		arraySum(),
		arrayStride(),
		callChain(),
	}
}

// Names returns the kernel names in sorted order.
func Names() []string {
	var names []string
	for _, k := range Kernels() {
		names = append(names, k.Name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the kernels with the given names. No names selects every
// kernel.
func Lookup(names ...string) ([]Kernel, error) {
	all := Kernels()
	if len(names) == 0 {
		return all, nil
	}

	byName := make(map[string]Kernel, len(all))
	for _, k := range all {
		byName[k.Name] = k
	}

	out := make([]Kernel, 0, len(names))
	for _, n := range names {
		k, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("unknown kernel %q", n)
		}
		out = append(out, k)
	}
	return out, nil
}

// exit ends a kernel with exit(x0).
func exit(code ...uint32) []uint32 {
	return append(code,
		insts.EncodeMOVZ(8, 93, 0),
		insts.EncodeSVC(0),
	)
}

// loopKernel is a single counted loop: one always-taken backward branch.
func loopKernel() Kernel {
	return Kernel{
		Name:        "loop",
		Description: "200-iteration counted loop",
		Code: exit(
			insts.EncodeMOVZ(0, 0, 0),
			insts.EncodeMOVZ(1, 200, 0),
			insts.EncodeADDImm(0, 0, 1, false),
			insts.EncodeSUBImm(1, 1, 1, false),
			insts.EncodeCBNZ(1, -8),
		),
		ExpectedExit: 200,
	}
}

// nestedLoops has an inner loop whose exit branch is taken once every 20
// iterations.
func nestedLoops() Kernel {
	return Kernel{
		Name:        "nested_loops",
		Description: "10 outer x 20 inner iterations",
		Code: exit(
			insts.EncodeMOVZ(0, 0, 0),
			insts.EncodeMOVZ(1, 10, 0),
			insts.EncodeMOVZ(2, 20, 0),
			insts.EncodeADDImm(0, 0, 1, false),
			insts.EncodeSUBImm(2, 2, 1, false),
			insts.EncodeCBNZ(2, -8),
			insts.EncodeSUBImm(1, 1, 1, false),
			insts.EncodeCBNZ(1, -20),
		),
		ExpectedExit: 200,
	}
}

// alternatingBranch branches on the low bit of the loop counter, so its
// outcome flips every iteration.
func alternatingBranch() Kernel {
	return Kernel{
		Name:        "alternating_branch",
		Description: "branch taken every other iteration",
		Code: exit(
			insts.EncodeMOVZ(0, 0, 0),
			insts.EncodeMOVZ(1, 200, 0),
			insts.EncodeTBZ(1, 0, 8),
			insts.EncodeADDImm(0, 0, 1, false),
			insts.EncodeSUBImm(1, 1, 1, false),
			insts.EncodeCBNZ(1, -12),
		),
		ExpectedExit: 100,
	}
}

// correlatedBranches tests bit 1 of the counter twice per iteration. The
// second test always repeats the first, which global history can learn.
func correlatedBranches() Kernel {
	return Kernel{
		Name:        "correlated_branches",
		Description: "second branch repeats the outcome of the first",
		Code: exit(
			insts.EncodeMOVZ(0, 0, 0),
			insts.EncodeMOVZ(1, 200, 0),
			insts.EncodeTBZ(1, 1, 8),
			insts.EncodeADDImm(0, 0, 1, false),
			insts.EncodeTBZ(1, 0, 8),
			insts.EncodeADDImm(0, 0, 2, false),
			insts.EncodeTBZ(1, 1, 8),
			insts.EncodeADDImm(0, 0, 4, false),
			insts.EncodeSUBImm(1, 1, 1, false),
			insts.EncodeCBNZ(1, -28),
		),
		ExpectedExit: 700,
	}
}

// LCG parameters of the pseudo-random kernel.
const (
	lcgSeed       = 42
	lcgMultiplier = 1103515245
	lcgIncrement  = 12345
	lcgIterations = 200
	lcgBit        = 16
)

// randomBranches branches on bit 16 of a linear congruential generator.
func randomBranches() Kernel {
	return Kernel{
		Name:        "random_branches",
		Description: "branch on a pseudo-random bit",
		Code: exit(
			insts.EncodeMOVZ(0, 0, 0),
			insts.EncodeMOVZ(1, lcgIterations, 0),
			insts.EncodeMOVZ(3, lcgSeed, 0),
			insts.EncodeMOVZ(4, lcgMultiplier&0xFFFF, 0),
			insts.EncodeMOVK(4, lcgMultiplier>>16, 1),
			insts.EncodeMOVZ(5, lcgIncrement, 0),
			insts.EncodeMADD(3, 3, 4, 5),
			insts.EncodeTBZ(3, lcgBit, 8),
			insts.EncodeADDImm(0, 0, 1, false),
			insts.EncodeSUBImm(1, 1, 1, false),
			insts.EncodeCBNZ(1, -16),
		),
		ExpectedExit: lcgOnes(),
	}
}

// lcgOnes counts the iterations of randomBranches that skip the branch.
func lcgOnes() int64 {
	var x uint64 = lcgSeed
	n := int64(0)
	for i := 0; i < lcgIterations; i++ {
		x = x*lcgMultiplier + lcgIncrement
		if x>>lcgBit&1 == 1 {
			n++
		}
	}
	return n
}

const (
	listNodes  = 256
	listStride = 97
	nodeSize   = 16
)

// linkedList walks nodes laid out in a scrambled order, summing their
// values. Every load depends on the previous one.
func linkedList() Kernel {
	data := make([]byte, listNodes*nodeSize)
	sum := int64(0)
	for k := 0; k < listNodes; k++ {
		node := k * listStride % listNodes
		next := uint64(0)
		if k+1 < listNodes {
			next = DataAddr + uint64((k+1)*listStride%listNodes*nodeSize)
		}
		binary.LittleEndian.PutUint64(data[node*nodeSize:], next)
		binary.LittleEndian.PutUint64(data[node*nodeSize+8:], uint64(k+1))
		sum += int64(k + 1)
	}

	return Kernel{
		Name:        "linked_list",
		Description: "pointer chase over 256 scrambled nodes",
		Code: exit(
			insts.EncodeMOVZ(0, 0, 0),
			insts.EncodeMOVZ(1, DataAddr>>16, 1),
			insts.EncodeLDR64(2, 1, 1),
			insts.EncodeADDReg(0, 0, 2, false),
			insts.EncodeLDR64(1, 1, 0),
			insts.EncodeCBNZ(1, -12),
		),
		Data:         data,
		ExpectedExit: sum,
	}
}

// array returns n little-endian words holding 0..n-1.
func array(n int) []byte {
	data := make([]byte, n*8)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint64(data[i*8:], uint64(i))
	}
	return data
}

// strided sums every stride-th word of an n-word array with post-indexed
// loads.
func strided(name, desc string, n, stride int) Kernel {
	loads := n / stride
	sum := int64(0)
	for i := 0; i < n; i += stride {
		sum += int64(i)
	}

	return Kernel{
		Name:        name,
		Description: desc,
		Code: exit(
			insts.EncodeMOVZ(0, 0, 0),
			insts.EncodeMOVZ(1, DataAddr>>16, 1),
			insts.EncodeMOVZ(2, uint16(loads), 0),
			insts.EncodeLoadStoreIndexed(3, 1, 3, 1, int16(stride*8), 1),
			insts.EncodeADDReg(0, 0, 3, false),
			insts.EncodeSUBImm(2, 2, 1, false),
			insts.EncodeCBNZ(2, -12),
		),
		Data:         array(n),
		ExpectedExit: sum,
	}
}

func arraySum() Kernel {
	return strided("array_sum", "sequential sum of 512 words", 512, 1)
}

// arrayStride touches one word per 64-byte line of a 128KiB array, which
// does not fit the default L1D.
func arrayStride() Kernel {
	return strided("array_stride", "one load per cache line over 128KiB", 16384, 8)
}

// callChain calls a function that calls a leaf, exercising the return
// address stack.
func callChain() Kernel {
	return Kernel{
		Name:        "call_chain",
		Description: "100 two-deep call/return chains",
		Code: []uint32{
			insts.EncodeMOVZ(0, 0, 0),
			insts.EncodeMOVZ(1, 100, 0),
			insts.EncodeBL(20),
			insts.EncodeSUBImm(1, 1, 1, false),
			insts.EncodeCBNZ(1, -8),
			insts.EncodeMOVZ(8, 93, 0),
			insts.EncodeSVC(0),
			// outer
			insts.EncodeMOVReg(9, 30),
			insts.EncodeBL(12),
			insts.EncodeMOVReg(30, 9),
			insts.EncodeRET(),
			// leaf
			insts.EncodeADDImm(0, 0, 1, false),
			insts.EncodeRET(),
		},
		ExpectedExit: 100,
	}
}
