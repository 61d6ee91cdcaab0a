package program

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrShapeMismatch indicates a programming-contract violation in program
// assembly (e.g. evaluation count disagreeing with segment length). Fatal,
// never retried.
var ErrShapeMismatch = errors.New("program: shape mismatch")

// LinearConstraint is one row a.x <= b (inequality) or a.x = b (equality).
type LinearConstraint struct {
	A []float64
	B float64
}

// PSDTerm is one variable's coefficient matrix in an affine PSD constraint.
type PSDTerm struct {
	Var  int
	Coef *mat.SymDense
}

// PSDCone constrains F0 + sum_i x_i*Coef_i to be positive semidefinite.
type PSDCone struct {
	Dim   int
	F0    *mat.SymDense
	Terms []PSDTerm
}

// Layout records how decision variables map onto trajectory intervals:
// each interval owns DoF torque variables followed by two force components
// per contact.
type Layout struct {
	Intervals int
	DoF       int
	Contacts  int
}

func (l Layout) stride() int { return l.DoF + 2*l.Contacts }

// Torque extracts interval t's torque vector from a primal solution.
func (l Layout) Torque(x []float64, t int) []float64 {
	base := t * l.stride()
	out := make([]float64, l.DoF)
	copy(out, x[base:base+l.DoF])
	return out
}

// Force extracts interval t's force components for contact c.
func (l Layout) Force(x []float64, t, c int) (fx, fy float64) {
	base := t*l.stride() + l.DoF + 2*c
	return x[base], x[base+1]
}

// Program is one convex program: quadratic (or linear) objective, linear
// equality and inequality constraints, and optional PSD cone blocks. A
// Program is built per trajectory segment and discarded after solving.
type Program struct {
	NumVars int
	Layout  Layout

	// Objective 0.5*x'Qx + c'x. Quad may be nil for a linear objective;
	// Lin may be nil for a pure quadratic.
	Quad *mat.SymDense
	Lin  []float64

	Inequalities []LinearConstraint
	Equalities   []LinearConstraint
	Cones        []PSDCone
}

// Objective evaluates the objective at x.
func (p *Program) Objective(x []float64) float64 {
	v := 0.0
	if p.Quad != nil {
		xv := mat.NewVecDense(len(x), x)
		var qx mat.VecDense
		qx.MulVec(p.Quad, xv)
		v += 0.5 * mat.Dot(xv, &qx)
	}
	for i, c := range p.Lin {
		v += c * x[i]
	}
	return v
}

// Validate checks dimensional consistency across objective and constraints.
func (p *Program) Validate() error {
	if p.NumVars <= 0 {
		return fmt.Errorf("program: no decision variables: %w", ErrShapeMismatch)
	}
	if p.Quad != nil {
		if n := p.Quad.SymmetricDim(); n != p.NumVars {
			return fmt.Errorf("program: quadratic objective is %dx%d for %d vars: %w",
				n, n, p.NumVars, ErrShapeMismatch)
		}
	}
	if p.Lin != nil && len(p.Lin) != p.NumVars {
		return fmt.Errorf("program: linear objective has %d coefficients for %d vars: %w",
			len(p.Lin), p.NumVars, ErrShapeMismatch)
	}
	for i, c := range p.Inequalities {
		if len(c.A) != p.NumVars {
			return fmt.Errorf("program: inequality %d has %d coefficients for %d vars: %w",
				i, len(c.A), p.NumVars, ErrShapeMismatch)
		}
	}
	for i, c := range p.Equalities {
		if len(c.A) != p.NumVars {
			return fmt.Errorf("program: equality %d has %d coefficients for %d vars: %w",
				i, len(c.A), p.NumVars, ErrShapeMismatch)
		}
	}
	for i, cone := range p.Cones {
		if cone.F0 != nil && cone.F0.SymmetricDim() != cone.Dim {
			return fmt.Errorf("program: cone %d constant block dim mismatch: %w", i, ErrShapeMismatch)
		}
		for _, term := range cone.Terms {
			if term.Var < 0 || term.Var >= p.NumVars {
				return fmt.Errorf("program: cone %d references variable %d of %d: %w",
					i, term.Var, p.NumVars, ErrShapeMismatch)
			}
			if term.Coef.SymmetricDim() != cone.Dim {
				return fmt.Errorf("program: cone %d term dim mismatch: %w", i, ErrShapeMismatch)
			}
		}
	}
	return nil
}
