package bpred

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DefaultO3Predictor is used by the out-of-order CPU when no predictor is
// selected.
const DefaultO3Predictor = "TournamentBP"

// ErrUnknownPredictor is returned by New for unregistered names.
var ErrUnknownPredictor = errors.New("unknown branch predictor")

// Factory builds a direction predictor from its parameters.
type Factory func(p Params) (DirectionPredictor, error)

var registry = map[string]Factory{}

// Register makes a predictor available under name. Registering a name twice
// replaces the earlier factory.
func Register(name string, f Factory) {
	registry[name] = f
}

// factory adapts a typed constructor so that a failed build returns a nil
// interface.
func factory[T DirectionPredictor](ctor func(Params) (T, error)) Factory {
	return func(p Params) (DirectionPredictor, error) {
		d, err := ctor(p)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
}

func init() {
	Register("StaticPred", func(p Params) (DirectionPredictor, error) { return NewStaticPred(p), nil })
	Register("LocalBP", factory(NewLocalBP))
	Register("GApPred", factory(NewGApPred))
	Register("PAgPred", factory(NewPAgPred))
	Register("TournamentBP", factory(NewTournamentBP))
	Register("BiModeBP", factory(NewBiModeBP))
	Register("TAGE", factory(NewTAGE))
}

// New builds the direction predictor registered under name. Parameters that
// describe an invalid or oversized table are reported with ErrGeometry.
func New(name string, p Params) (DirectionPredictor, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (valid: %s)", ErrUnknownPredictor, name, strings.Join(Names(), ", "))
	}
	if err := p.checkUnit(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	dir, err := f(p)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return dir, nil
}

// NewUnitByName builds a prediction unit around the predictor registered
// under name.
func NewUnitByName(name string, p Params) (*Unit, error) {
	dir, err := New(name, p)
	if err != nil {
		return nil, err
	}
	return NewUnit(dir, p), nil
}

// Names returns the registered predictor names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
