package system

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/sesim/emu"
	"github.com/sarchlab/sesim/mem"
	"github.com/sarchlab/sesim/timing/clock"
	"github.com/sarchlab/sesim/timing/cpu"
	"github.com/sarchlab/sesim/workload"
)

// ErrNotInstantiated is returned when simulating before Instantiate.
var ErrNotInstantiated = errors.New("root is not instantiated")

// ExitEvent reports why a simulation stopped.
type ExitEvent struct {
	Tick  clock.Tick
	Cause string
	// Code is the program exit status.
	Code int64
	// Err is set when the program or a component faulted.
	Err error
}

// Root is the top of the simulated object tree.
type Root struct {
	FullSystem bool
	System     *System

	phys   *mem.PhysicalMemory
	thread *workload.Thread

	instantiated bool
	hostTime     time.Duration
}

// NewRoot creates a syscall-emulation root around s.
func NewRoot(s *System) *Root {
	return &Root{FullSystem: false, System: s}
}

// Instantiate checks that every port is connected and every address has a
// route, then loads the workload into physical memory.
func (r *Root) Instantiate() error {
	if r.instantiated {
		return nil
	}
	if r.FullSystem {
		return errors.New("full-system mode is not supported")
	}

	s := r.System
	for _, c := range []interface{ CheckConnected() error }{s.ICache, s.DCache, s.L2Cache} {
		if err := c.CheckConnected(); err != nil {
			return err
		}
	}
	if err := s.L2Bus.CheckRoutes(s.MemRanges); err != nil {
		return err
	}
	if err := s.MemBus.CheckRoutes(s.MemRanges); err != nil {
		return err
	}

	base := s.CPU.Base()
	r.phys = mem.NewPhysicalMemory(s.MemRanges[0])

	// The simulated clock is what clock_gettime reports.
	now := func() uint64 { return base.CurTick().Nanoseconds() }

	thread, err := s.Workload.Load(s.Process, r.phys, s.log, emu.WithClock(now))
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", s.Workload.Path, err)
	}
	if err := base.AttachThread(thread); err != nil {
		thread.Close()
		return err
	}
	if err := base.CheckConnected(); err != nil {
		thread.Close()
		return err
	}

	r.thread = thread
	r.instantiated = true
	s.log.WithField("executable", s.Workload.Path).Debug("instantiated")
	return nil
}

// Simulate runs until the program exits, a fault occurs, the instruction
// limit is reached, or the tick reaches maxTick. A zero maxTick never stops.
// Calling Simulate again resumes.
func (r *Root) Simulate(maxTick clock.Tick) ExitEvent {
	if !r.instantiated {
		return ExitEvent{Cause: cpu.CauseFault, Err: ErrNotInstantiated}
	}

	start := time.Now()
	exit := r.System.CPU.Run(maxTick)
	r.hostTime += time.Since(start)

	r.System.log.WithFields(logrus.Fields{
		"tick":  exit.Tick,
		"cause": exit.Cause,
	}).Debug("simulation stopped")

	return ExitEvent{Tick: exit.Tick, Cause: exit.Cause, Code: exit.Code, Err: exit.Err}
}

// Thread returns the loaded thread, or nil before Instantiate.
func (r *Root) Thread() *workload.Thread { return r.thread }

// HostTime returns the wall-clock time spent in Simulate.
func (r *Root) HostTime() time.Duration { return r.hostTime }

// Close releases the program's host files.
func (r *Root) Close() error {
	if r.thread != nil {
		r.thread.Close()
	}
	return r.System.Close()
}
