package bpred

import (
	"github.com/sarchlab/sesim/insts"
)

// History is the state a direction predictor saves at lookup so that it can
// train at commit or undo speculation on a squash.
type History any

// DirectionPredictor predicts whether conditional branches are taken.
// Lookup and UncondBranch update speculative history; Squash undoes that;
// Update with squashed=true corrects the history of a mispredicted branch
// and Update with squashed=false trains the tables at commit.
type DirectionPredictor interface {
	Name() string
	Lookup(pc, target uint64) (bool, History)
	UncondBranch(pc uint64) History
	Update(pc uint64, taken bool, hist History, squashed bool)
	Squash(hist History)
	Reset()
}

// Prediction is the predicted outcome of a control instruction.
type Prediction struct {
	Taken  bool
	Target uint64
}

// Stats holds statistics for the branch prediction unit.
type Stats struct {
	Lookups              uint64
	CondPredicted        uint64
	CondIncorrect        uint64
	BTBLookups           uint64
	BTBHits              uint64
	RASUsed              uint64
	RASIncorrect         uint64
	IndirectMispredicted uint64
}

// Accuracy returns the conditional prediction accuracy as a percentage.
func (s Stats) Accuracy() float64 {
	if s.CondPredicted == 0 {
		return 0
	}
	return float64(s.CondPredicted-s.CondIncorrect) / float64(s.CondPredicted) * 100
}

// MispredictionRate returns the conditional misprediction rate as a
// percentage.
func (s Stats) MispredictionRate() float64 {
	if s.CondPredicted == 0 {
		return 0
	}
	return float64(s.CondIncorrect) / float64(s.CondPredicted) * 100
}

// BTBHitRate returns the BTB hit rate as a percentage.
func (s Stats) BTBHitRate() float64 {
	if s.BTBLookups == 0 {
		return 0
	}
	return float64(s.BTBHits) / float64(s.BTBLookups) * 100
}

// historyEntry tracks one in-flight control instruction.
type historyEntry struct {
	seq      uint64
	pc       uint64
	taken    bool
	target   uint64
	cond     bool
	call     bool
	ret      bool
	indirect bool
	dirHist  History
	ras      rasState
}

// Unit combines a direction predictor with a BTB and a RAS. Predictions are
// identified by a sequence number that increases in program order.
type Unit struct {
	dir DirectionPredictor
	btb *BTB
	ras *RAS

	history []historyEntry
	stats   Stats
}

// NewUnit creates a prediction unit around dir.
func NewUnit(dir DirectionPredictor, p Params) *Unit {
	btbEntries := p.BTBEntries
	if !isPowerOfTwo(btbEntries) {
		btbEntries = 4096
	}

	return &Unit{
		dir: dir,
		btb: NewBTB(btbEntries),
		ras: NewRAS(p.RASSize),
	}
}

// Name returns the name of the direction predictor.
func (u *Unit) Name() string {
	return u.dir.Name()
}

// Predict predicts the control instruction inst at pc. Non-branches are
// predicted not taken without touching any state.
func (u *Unit) Predict(seq, pc uint64, inst *insts.Instruction) Prediction {
	if inst == nil || !inst.IsBranch() {
		return Prediction{Target: pc + 4}
	}

	u.stats.Lookups++

	e := historyEntry{
		seq:      seq,
		pc:       pc,
		cond:     inst.IsCondBranch(),
		call:     inst.IsCall(),
		ret:      inst.IsReturn(),
		indirect: inst.IsIndirect(),
	}

	direct, hasDirect := inst.DirectTarget(pc)

	if e.cond {
		u.stats.CondPredicted++
		e.taken, e.dirHist = u.dir.Lookup(pc, direct)
	} else {
		e.dirHist = u.dir.UncondBranch(pc)
		e.taken = true
	}

	e.target = pc + 4
	if e.taken {
		e.target, e.taken = u.predictTarget(&e, direct, hasDirect)
	}

	if e.call {
		e.ras = u.ras.push(pc + 4)
	}

	u.history = append(u.history, e)

	return Prediction{Taken: e.taken, Target: e.target}
}

func (u *Unit) predictTarget(e *historyEntry, direct uint64, hasDirect bool) (uint64, bool) {
	if e.ret && !u.ras.Empty() {
		u.stats.RASUsed++
		var addr uint64
		addr, e.ras = u.ras.pop()
		return addr, true
	}

	u.stats.BTBLookups++
	target, hit := u.btb.Lookup(e.pc)
	if hit {
		u.stats.BTBHits++
	}

	switch {
	case hasDirect:
		return direct, true
	case hit:
		return target, true
	default:
		// An indirect branch without a known target falls through.
		return e.pc + 4, false
	}
}

// Update commits every prediction up to and including seq, training the
// direction predictor and the BTB.
func (u *Unit) Update(seq uint64) {
	n := 0
	for n < len(u.history) && u.history[n].seq <= seq {
		e := &u.history[n]
		if e.cond {
			u.dir.Update(e.pc, e.taken, e.dirHist, false)
		}
		if e.taken && !e.ret {
			u.btb.Update(e.pc, e.target)
		}
		n++
	}
	u.history = u.history[n:]
}

// Squash reports that the branch seq resolved to (taken, target) against its
// prediction. Younger predictions are undone and the branch is retrained.
func (u *Unit) Squash(seq uint64, taken bool, target uint64) {
	u.squashYounger(seq)

	n := len(u.history)
	if n == 0 || u.history[n-1].seq != seq {
		return
	}
	e := &u.history[n-1]

	if e.cond && e.taken != taken {
		u.stats.CondIncorrect++
	}
	if e.ret && e.ras.popped && e.target != target {
		u.stats.RASIncorrect++
	}
	if e.indirect && !e.ret && e.target != target {
		u.stats.IndirectMispredicted++
	}

	if e.cond {
		u.dir.Update(e.pc, taken, e.dirHist, true)
	}

	e.taken = taken
	e.target = target
	if taken && !e.ret {
		u.btb.Update(e.pc, target)
	}
}

func (u *Unit) squashYounger(seq uint64) {
	for len(u.history) > 0 {
		e := u.history[len(u.history)-1]
		if e.seq <= seq {
			return
		}
		u.dir.Squash(e.dirHist)
		u.ras.restore(e.ras)
		u.history = u.history[:len(u.history)-1]
	}
}

// Resolve is the single-step form used by CPUs that know the outcome right
// after predicting: it squashes on a mismatch and then commits seq. It
// reports whether the prediction was correct.
func (u *Unit) Resolve(seq uint64, pred Prediction, taken bool, target uint64) bool {
	correct := pred.Taken == taken && (!taken || pred.Target == target)
	if !correct {
		u.Squash(seq, taken, target)
	}
	u.Update(seq)
	return correct
}

// InFlight returns the number of uncommitted predictions.
func (u *Unit) InFlight() int {
	return len(u.history)
}

// Stats returns the prediction statistics.
func (u *Unit) Stats() Stats {
	return u.stats
}

// Reset clears all predictor state and statistics.
func (u *Unit) Reset() {
	u.dir.Reset()
	u.btb.Reset()
	u.ras.Reset()
	u.history = nil
	u.stats = Stats{}
}
