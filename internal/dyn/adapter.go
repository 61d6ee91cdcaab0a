package dyn

import (
	"fmt"
	"log/slog"
	"math"

	"trajopt/internal/logging"
)

// SymmetryTol is the relative tolerance for the mass-matrix symmetry check.
const SymmetryTol = 1e-9

// Adapter wraps an Oracle and enforces the evaluation contract: state
// dimensions must match the model, and the returned mass matrix must be
// symmetric within SymmetryTol. Violations are surfaced as errors rather
// than repaired, so model bugs are caught at the boundary.
type Adapter struct {
	oracle Oracle
	log    *slog.Logger
}

// NewAdapter wraps the given oracle.
func NewAdapter(oracle Oracle) *Adapter {
	return &Adapter{oracle: oracle, log: logging.New("dyn")}
}

// DoF reports the wrapped model's degree-of-freedom count.
func (a *Adapter) DoF() int { return a.oracle.DoF() }

// Evaluate runs the oracle and validates its output.
func (a *Adapter) Evaluate(s State) (*Evaluation, error) {
	if s.DoF() != a.oracle.DoF() {
		return nil, fmt.Errorf("dyn: state has %d dof, model has %d: %w",
			s.DoF(), a.oracle.DoF(), ErrModelMismatch)
	}

	ev, err := a.oracle.Evaluate(s)
	if err != nil {
		return nil, err
	}

	if err := checkSymmetry(ev); err != nil {
		a.log.Debug("mass matrix failed symmetry check", "dof", s.DoF())
		return nil, err
	}
	if len(ev.Bias) != s.DoF() {
		return nil, fmt.Errorf("dyn: bias vector has %d entries, want %d: %w",
			len(ev.Bias), s.DoF(), ErrNumericalInconsistency)
	}
	return ev, nil
}

func checkSymmetry(ev *Evaluation) error {
	m := ev.MassMatrix
	r, c := m.Dims()
	if r != c {
		return fmt.Errorf("dyn: mass matrix is %dx%d: %w", r, c, ErrNumericalInconsistency)
	}
	scale := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := math.Abs(m.At(i, j)); v > scale {
				scale = v
			}
		}
	}
	tol := SymmetryTol * (1 + scale)
	for i := 0; i < r; i++ {
		for j := i + 1; j < c; j++ {
			if math.Abs(m.At(i, j)-m.At(j, i)) > tol {
				return fmt.Errorf("dyn: mass matrix asymmetric at (%d,%d): |%g - %g| > %g: %w",
					i, j, m.At(i, j), m.At(j, i), tol, ErrNumericalInconsistency)
			}
		}
	}
	return nil
}
