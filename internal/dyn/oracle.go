package dyn

import "gonum.org/v1/gonum/mat"

// Evaluation is the output of one dynamics call: the joint-space mass
// matrix, the bias-force vector (Coriolis, centrifugal and gravity terms)
// and the contact Jacobians active at the evaluated configuration.
//
// An Evaluation belongs to the call that produced it and is never mutated
// afterwards. The mass matrix is carried as the oracle produced it, without
// symmetrization; asymmetry is detected by the Adapter, not repaired.
type Evaluation struct {
	MassMatrix       *mat.Dense
	Bias             []float64
	ContactJacobians []*mat.Dense
}

// Oracle is the rigid-body-dynamics capability consumed by the optimizer.
// Implementations must be safe for concurrent Evaluate calls with distinct
// states, and deterministic for a given model and state.
type Oracle interface {
	// Evaluate computes mass matrix, bias forces and contact Jacobians at
	// the given state. Returns ErrSingularConfig (possibly wrapped) at
	// kinematic singularities.
	Evaluate(s State) (*Evaluation, error)

	// DoF reports the loaded model's degree-of-freedom count.
	DoF() int
}
