package program

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"trajopt/internal/dyn"
	"trajopt/internal/trajectory"
)

// Limits bound the actuation and contact forces.
type Limits struct {
	TorqueMin  float64
	TorqueMax  float64
	FrictionMu float64
}

// Formulator assembles one convex program per trajectory segment.
//
// Decision variables are the joint torques per interval between adjacent
// samples, plus the planar contact forces when the dynamics expose contact
// Jacobians. Dynamics-consistency equalities are built at interval
// midpoints (averaged endpoint evaluations) for second-order accuracy and
// reproducibility. A length-1 segment skips dynamics consistency and
// becomes a pure static-equilibrium feasibility program.
type Formulator struct {
	Limits Limits

	// TorqueWeight and ForceWeight scale the quadratic objective terms.
	// Zero TorqueWeight selects 1; ForceWeight defaults to a small
	// regularizer so contact forces stay determined.
	TorqueWeight float64
	ForceWeight  float64

	// ContactStability replaces the linearized friction inequalities with
	// an equivalent 2x2 positive-semidefinite cone block per contact.
	ContactStability bool
}

func (f *Formulator) torqueWeight() float64 {
	if f.TorqueWeight > 0 {
		return f.TorqueWeight
	}
	return 1.0
}

func (f *Formulator) forceWeight() float64 {
	if f.ForceWeight > 0 {
		return f.ForceWeight
	}
	return 1e-3
}

// Formulate builds the program for a segment and its per-sample dynamics
// evaluations. The evaluation count must equal the segment length.
func (f *Formulator) Formulate(seg trajectory.Segment, evals []*dyn.Evaluation) (*Program, error) {
	if len(evals) != seg.Len() {
		return nil, fmt.Errorf("program: %d evaluations for %d samples: %w",
			len(evals), seg.Len(), ErrShapeMismatch)
	}

	n := seg.DoF()
	contacts := len(evals[0].ContactJacobians)
	for i, ev := range evals {
		if len(ev.ContactJacobians) != contacts {
			return nil, fmt.Errorf("program: sample %d has %d contacts, sample 0 has %d: %w",
				i, len(ev.ContactJacobians), contacts, ErrShapeMismatch)
		}
	}

	intervals := seg.Len() - 1
	static := intervals == 0
	if static {
		intervals = 1
	}

	stride := n + 2*contacts
	p := &Program{
		NumVars: intervals * stride,
		Layout:  Layout{Intervals: intervals, DoF: n, Contacts: contacts},
	}
	p.Quad = objectiveDiagonal(intervals, n, contacts, f.torqueWeight(), f.forceWeight())

	for t := 0; t < intervals; t++ {
		base := t * stride

		var massA []float64 // (M*a + bias) at the linearization point
		var jacs []*mat.Dense
		if static {
			// Static equilibrium: accelerations and velocities are treated
			// as zero, torques balance gravity and contact forces.
			massA = cloneVec(evals[0].Bias)
			jacs = evals[0].ContactJacobians
		} else {
			massA = midpointLoad(seg, evals, t)
			jacs = midpointJacobians(evals[t], evals[t+1])
		}

		// tau + J'f = M*a + bias, one row per dof.
		for i := 0; i < n; i++ {
			row := make([]float64, p.NumVars)
			row[base+i] = 1
			for c, jac := range jacs {
				fbase := base + n + 2*c
				row[fbase] += jac.At(0, i)
				row[fbase+1] += jac.At(1, i)
			}
			p.Equalities = append(p.Equalities, LinearConstraint{A: row, B: massA[i]})
		}

		// Torque box.
		for i := 0; i < n; i++ {
			up := make([]float64, p.NumVars)
			up[base+i] = 1
			p.Inequalities = append(p.Inequalities, LinearConstraint{A: up, B: f.Limits.TorqueMax})

			lo := make([]float64, p.NumVars)
			lo[base+i] = -1
			p.Inequalities = append(p.Inequalities, LinearConstraint{A: lo, B: -f.Limits.TorqueMin})
		}

		// Contact force constraints: linearized friction cone, or the
		// equivalent PSD embedding when stability cones are requested.
		for c := 0; c < contacts; c++ {
			fx := base + n + 2*c
			fy := fx + 1
			mu := f.Limits.FrictionMu
			if f.ContactStability {
				p.Cones = append(p.Cones, stabilityCone(p.NumVars, fx, fy, mu))
				continue
			}
			rows := []struct {
				ax, ay, b float64
			}{
				{0, -1, 0},   // -fy <= 0
				{1, -mu, 0},  // fx - mu*fy <= 0
				{-1, -mu, 0}, // -fx - mu*fy <= 0
			}
			for _, r := range rows {
				row := make([]float64, p.NumVars)
				row[fx] = r.ax
				row[fy] = r.ay
				p.Inequalities = append(p.Inequalities, LinearConstraint{A: row, B: r.b})
			}
		}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// midpointLoad computes (M*a + bias) at the midpoint of interval t using
// averaged endpoint evaluations and states.
func midpointLoad(seg trajectory.Segment, evals []*dyn.Evaluation, t int) []float64 {
	n := seg.DoF()
	mid := seg.At(t).Midpoint(seg.At(t + 1))

	m := mat.NewDense(n, n, nil)
	m.Add(evals[t].MassMatrix, evals[t+1].MassMatrix)
	m.Scale(0.5, m)

	load := make([]float64, n)
	av := mat.NewVecDense(n, mid.A)
	var ma mat.VecDense
	ma.MulVec(m, av)
	for i := 0; i < n; i++ {
		load[i] = ma.AtVec(i) + 0.5*(evals[t].Bias[i]+evals[t+1].Bias[i])
	}
	return load
}

func midpointJacobians(a, b *dyn.Evaluation) []*mat.Dense {
	out := make([]*mat.Dense, len(a.ContactJacobians))
	for i := range out {
		r, c := a.ContactJacobians[i].Dims()
		j := mat.NewDense(r, c, nil)
		j.Add(a.ContactJacobians[i], b.ContactJacobians[i])
		j.Scale(0.5, j)
		out[i] = j
	}
	return out
}

func objectiveDiagonal(intervals, n, contacts int, tw, fw float64) *mat.SymDense {
	stride := n + 2*contacts
	total := intervals * stride
	q := mat.NewSymDense(total, nil)
	for t := 0; t < intervals; t++ {
		base := t * stride
		for i := 0; i < n; i++ {
			q.SetSym(base+i, base+i, 2*tw)
		}
		for c := 0; c < 2*contacts; c++ {
			q.SetSym(base+n+c, base+n+c, 2*fw)
		}
	}
	return q
}

// stabilityCone encodes mu*fy >= |fx| as [[mu*fy, fx], [fx, mu*fy]] >= 0.
func stabilityCone(numVars, fx, fy int, mu float64) PSDCone {
	return PSDCone{
		Dim: 2,
		F0:  mat.NewSymDense(2, nil),
		Terms: []PSDTerm{
			{Var: fx, Coef: mat.NewSymDense(2, []float64{0, 1, 1, 0})},
			{Var: fy, Coef: mat.NewSymDense(2, []float64{mu, 0, 0, mu})},
		},
	}
}

func cloneVec(v []float64) []float64 {
	c := make([]float64, len(v))
	copy(c, v)
	return c
}
