package dyn

import (
	"fmt"
	"math"
)

// State holds joint positions, velocities and accelerations for one
// trajectory sample. Values are copied on construction; a State is never
// modified once built, so it is safe to share across goroutines.
type State struct {
	Q []float64
	V []float64
	A []float64
}

// NewState builds a State from position, velocity and acceleration vectors.
// All three must have the same length (the model's degree-of-freedom count).
func NewState(q, v, a []float64) (State, error) {
	if len(v) != len(q) || len(a) != len(q) {
		return State{}, fmt.Errorf("dyn: state vectors disagree (q=%d v=%d a=%d): %w",
			len(q), len(v), len(a), ErrModelMismatch)
	}
	return State{Q: cloneVec(q), V: cloneVec(v), A: cloneVec(a)}, nil
}

// MustState is NewState for literals with known-equal lengths.
func MustState(q, v, a []float64) State {
	s, err := NewState(q, v, a)
	if err != nil {
		panic(err)
	}
	return s
}

// Rest returns a state at configuration q with zero velocity and acceleration.
func Rest(q []float64) State {
	n := len(q)
	return State{Q: cloneVec(q), V: make([]float64, n), A: make([]float64, n)}
}

// DoF returns the degree-of-freedom count of the state.
func (s State) DoF() int { return len(s.Q) }

// Clone returns a deep copy.
func (s State) Clone() State {
	return State{Q: cloneVec(s.Q), V: cloneVec(s.V), A: cloneVec(s.A)}
}

// IsValid reports whether all components are finite.
func (s State) IsValid() bool {
	for _, vec := range [][]float64{s.Q, s.V, s.A} {
		for _, v := range vec {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// Midpoint returns the sample halfway between s and other.
func (s State) Midpoint(other State) State {
	n := s.DoF()
	m := State{Q: make([]float64, n), V: make([]float64, n), A: make([]float64, n)}
	for i := 0; i < n; i++ {
		m.Q[i] = 0.5 * (s.Q[i] + other.Q[i])
		m.V[i] = 0.5 * (s.V[i] + other.V[i])
		m.A[i] = 0.5 * (s.A[i] + other.A[i])
	}
	return m
}

// PerturbQ returns a copy with delta added to the positions.
func (s State) PerturbQ(delta []float64) State {
	c := s.Clone()
	for i := range c.Q {
		if i < len(delta) {
			c.Q[i] += delta[i]
		}
	}
	return c
}

func cloneVec(v []float64) []float64 {
	c := make([]float64, len(v))
	copy(c, v)
	return c
}
