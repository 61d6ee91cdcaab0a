package dyn

import (
	"fmt"
	"sync"
)

// FaultOracle wraps an Oracle and injects singular-configuration failures
// on scheduled calls. Used to exercise the optimizer's perturb-and-retry
// path without needing a model that is actually singular at a known state.
type FaultOracle struct {
	Inner Oracle

	mu    sync.Mutex
	calls int
	// faulty holds 1-based call numbers that should fail.
	faulty map[int]bool
}

// NewFaultOracle schedules ErrSingularConfig on the given 1-based call
// numbers of the wrapped oracle.
func NewFaultOracle(inner Oracle, failOnCalls ...int) *FaultOracle {
	faulty := make(map[int]bool, len(failOnCalls))
	for _, c := range failOnCalls {
		faulty[c] = true
	}
	return &FaultOracle{Inner: inner, faulty: faulty}
}

func (f *FaultOracle) DoF() int { return f.Inner.DoF() }

// Calls reports how many evaluations have been attempted.
func (f *FaultOracle) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FaultOracle) Evaluate(s State) (*Evaluation, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	fail := f.faulty[n]
	f.mu.Unlock()

	if fail {
		return nil, fmt.Errorf("dyn: injected fault on call %d: %w", n, ErrSingularConfig)
	}
	return f.Inner.Evaluate(s)
}
