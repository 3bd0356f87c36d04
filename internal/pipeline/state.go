package pipeline

import (
	"fmt"

	"github.com/mfbutner/pl-autograders/pkg/errors"
)

// State is the position of a grading run in the pipeline.
type State int

const (
	StateInit State = iota
	StateBuilt
	StateBuildFailed
	StateTestsRun
	StateUngradable
	StateAggregated
	StatePersisted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateBuilt:
		return "built"
	case StateBuildFailed:
		return "build-failed"
	case StateTestsRun:
		return "tests-run"
	case StateUngradable:
		return "ungradable"
	case StateAggregated:
		return "aggregated"
	case StatePersisted:
		return "persisted"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool {
	return s == StatePersisted || s == StateFailed
}

var transitions = map[State][]State{
	StateInit:        {StateBuilt, StateBuildFailed, StateUngradable},
	StateBuilt:       {StateTestsRun},
	StateBuildFailed: {StateAggregated},
	StateTestsRun:    {StateAggregated},
	StateUngradable:  {StateAggregated},
	StateAggregated:  {StatePersisted},
}

// CanTransition reports whether a run may move from one state to another.
// Every non-terminal state may move to StateFailed.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Machine tracks the state of one run and rejects illegal transitions.
type Machine struct {
	state State
}

func NewMachine() *Machine {
	return &Machine{state: StateInit}
}

func (m *Machine) State() State {
	return m.state
}

func (m *Machine) Advance(to State) error {
	if !CanTransition(m.state, to) {
		return fmt.Errorf("%w: %s -> %s", errors.ErrIllegalTransition, m.state, to)
	}
	m.state = to
	return nil
}
