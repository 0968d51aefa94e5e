// Package bpred implements branch prediction: a prediction unit with a
// branch target buffer and return address stack, and a family of direction
// predictors selectable by name.
package bpred

import (
	"errors"
	"fmt"
)

// MaxTableEntries bounds the number of entries in any single predictor
// table.
const MaxTableEntries = 1 << 24

// ErrGeometry is returned for predictor parameters that do not describe a
// buildable table.
var ErrGeometry = errors.New("invalid predictor geometry")

// Static prediction policies.
const (
	PolicyTaken    = "taken"
	PolicyNotTaken = "not-taken"
	PolicyBTFN     = "btfn"
)

// Params holds the geometry of the prediction unit and of every direction
// predictor. Only the fields of the selected predictor are used.
type Params struct {
	// BTBEntries is the number of branch target buffer entries.
	BTBEntries uint32
	// RASSize is the number of return address stack entries.
	RASSize uint32

	// StaticPolicy selects the StaticPred policy.
	StaticPolicy string

	// LocalPredictorSize is the number of LocalBP counters.
	LocalPredictorSize uint32
	// LocalCtrBits is the width of the LocalBP counters.
	LocalCtrBits uint8

	// GApHistoryBits is the length of the GAp global history register.
	GApHistoryBits uint8
	// GApPHTSets is the number of per-address pattern table sets.
	GApPHTSets uint32
	// GApCtrBits is the width of the GAp counters.
	GApCtrBits uint8

	// PAgBHTSize is the number of per-address history registers.
	PAgBHTSize uint32
	// PAgHistoryBits is the length of each per-address history.
	PAgHistoryBits uint8
	// PAgCtrBits is the width of the PAg counters.
	PAgCtrBits uint8

	// TournamentLocalHistoryTableSize is the number of local histories.
	TournamentLocalHistoryTableSize uint32
	// TournamentLocalHistoryBits is the length of each local history.
	TournamentLocalHistoryBits uint8
	// TournamentGlobalHistoryBits is the length of the global history.
	TournamentGlobalHistoryBits uint8
	// TournamentCtrBits is the width of local, global and choice counters.
	TournamentCtrBits uint8

	// BiModePredictorSize is the size of each BiMode direction table.
	BiModePredictorSize uint32
	// BiModeChoiceSize is the size of the BiMode choice table.
	BiModeChoiceSize uint32
	// BiModeHistoryBits is the length of the BiMode global history.
	BiModeHistoryBits uint8

	// TAGEHistoryLengths lists the history length of each tagged table.
	TAGEHistoryLengths []uint8
	// TAGETableBits is log2 of the entries per tagged table.
	TAGETableBits uint8
	// TAGEBaseSize is the number of bimodal base counters.
	TAGEBaseSize uint32
}

// DefaultParams returns the default predictor geometry.
func DefaultParams() Params {
	return Params{
		BTBEntries: 4096,
		RASSize:    16,

		StaticPolicy: PolicyBTFN,

		LocalPredictorSize: 2048,
		LocalCtrBits:       2,

		GApHistoryBits: 8,
		GApPHTSets:     1024,
		GApCtrBits:     2,

		PAgBHTSize:     1024,
		PAgHistoryBits: 8,
		PAgCtrBits:     2,

		TournamentLocalHistoryTableSize: 2048,
		TournamentLocalHistoryBits:      11,
		TournamentGlobalHistoryBits:     13,
		TournamentCtrBits:               2,

		BiModePredictorSize: 8192,
		BiModeChoiceSize:    8192,
		BiModeHistoryBits:   13,

		TAGEHistoryLengths: []uint8{4, 8, 16, 32, 64},
		TAGETableBits:      10,
		TAGEBaseSize:       4096,
	}
}

// checkUnit validates the branch target buffer and return address stack.
func (p Params) checkUnit() error {
	if _, err := tableSize("btb_entries", p.BTBEntries, 4096); err != nil {
		return err
	}
	return checkEntries("ras_size", uint64(p.RASSize))
}

// tableSize returns size, or def when size is zero.
func tableSize(field string, size, def uint32) (uint32, error) {
	if size == 0 {
		return def, nil
	}
	if !isPowerOfTwo(size) {
		return 0, fmt.Errorf("%w: %s %d is not a power of two", ErrGeometry, field, size)
	}
	return size, checkEntries(field, uint64(size))
}

// fieldBits returns bits, or def when bits is zero.
func fieldBits(field string, bits, def, limit uint8) (uint8, error) {
	if bits == 0 {
		return def, nil
	}
	if bits > limit {
		return 0, fmt.Errorf("%w: %s %d is outside 1..%d", ErrGeometry, field, bits, limit)
	}
	return bits, nil
}

func checkEntries(field string, n uint64) error {
	if n > MaxTableEntries {
		return fmt.Errorf("%w: %s needs %d entries, more than %d", ErrGeometry, field, n, MaxTableEntries)
	}
	return nil
}

func isPowerOfTwo(v uint32) bool {
	return v != 0 && v&(v-1) == 0
}

// index returns the table index of pc in a table of size entries.
func index(pc uint64, size uint32) uint32 {
	return uint32(pc>>2) & (size - 1)
}

func historyMask(bits uint8) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << bits) - 1
}

func pushHistory(h uint64, taken bool, bits uint8) uint64 {
	h <<= 1
	if taken {
		h |= 1
	}
	return h & historyMask(bits)
}
