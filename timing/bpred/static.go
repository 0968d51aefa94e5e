package bpred

// StaticPred predicts every conditional branch with a fixed policy and keeps
// no state.
type StaticPred struct {
	policy string
}

// NewStaticPred creates a static predictor. Unknown policies fall back to
// backward-taken/forward-not-taken.
func NewStaticPred(p Params) *StaticPred {
	policy := p.StaticPolicy
	switch policy {
	case PolicyTaken, PolicyNotTaken, PolicyBTFN:
	default:
		policy = PolicyBTFN
	}
	return &StaticPred{policy: policy}
}

// Name returns the registry name.
func (s *StaticPred) Name() string { return "StaticPred" }

// Policy returns the active policy.
func (s *StaticPred) Policy() string { return s.policy }

// Lookup applies the policy. BTFN needs the branch target; a zero target is
// treated as forward.
func (s *StaticPred) Lookup(pc, target uint64) (bool, History) {
	switch s.policy {
	case PolicyTaken:
		return true, nil
	case PolicyNotTaken:
		return false, nil
	default:
		return target != 0 && target <= pc, nil
	}
}

// UncondBranch does nothing.
func (s *StaticPred) UncondBranch(uint64) History { return nil }

// Update does nothing.
func (s *StaticPred) Update(uint64, bool, History, bool) {}

// Squash does nothing.
func (s *StaticPred) Squash(History) {}

// Reset does nothing.
func (s *StaticPred) Reset() {}
