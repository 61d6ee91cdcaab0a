package dyn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Link is one segment of a planar chain, modeled as a massless rod with a
// point mass at its tip.
type Link struct {
	Mass   float64
	Length float64
}

// Arm is an analytic dynamics oracle for a planar N-link revolute chain.
// Joint angles are measured from the +x axis of the parent link; gravity
// acts along -y. The mass matrix is assembled exactly from per-link
// Jacobians, gravity torques come from the potential gradient, and
// Coriolis/centrifugal terms are computed from Christoffel symbols of the
// mass matrix via central differences.
type Arm struct {
	Links   []Link
	Gravity float64

	// Contact, when true, exposes the end-effector Jacobian as a contact
	// Jacobian and reports ErrSingularConfig when it loses rank.
	Contact bool

	// SingularTol is the smallest end-effector singular value considered
	// non-singular. Zero selects the default 1e-8.
	SingularTol float64
}

// NewArm builds a chain of n identical unit links.
func NewArm(n int) *Arm {
	links := make([]Link, n)
	for i := range links {
		links[i] = Link{Mass: 1.0, Length: 1.0}
	}
	return &Arm{Links: links, Gravity: 9.81}
}

func (a *Arm) DoF() int { return len(a.Links) }

func (a *Arm) singularTol() float64 {
	if a.SingularTol > 0 {
		return a.SingularTol
	}
	return 1e-8
}

// Evaluate implements Oracle.
func (a *Arm) Evaluate(s State) (*Evaluation, error) {
	n := a.DoF()
	if s.DoF() != n {
		return nil, fmt.Errorf("dyn: arm has %d links, state has %d dof: %w",
			n, s.DoF(), ErrModelMismatch)
	}

	ev := &Evaluation{
		MassMatrix: a.massAt(s.Q),
		Bias:       a.biasAt(s.Q, s.V),
	}

	if a.Contact {
		jac := a.tipJacobian(s.Q)
		if smallestSingularValue(jac) < a.singularTol() {
			return nil, fmt.Errorf("dyn: end-effector jacobian rank-deficient: %w", ErrSingularConfig)
		}
		ev.ContactJacobians = []*mat.Dense{jac}
	}
	return ev, nil
}

// cumAngles returns the absolute angle of each link.
func (a *Arm) cumAngles(q []float64) []float64 {
	phi := make([]float64, len(q))
	sum := 0.0
	for i, qi := range q {
		sum += qi
		phi[i] = sum
	}
	return phi
}

// linkJacobian fills jac with the 2xN Jacobian of point mass k.
func (a *Arm) linkJacobian(jac *mat.Dense, phi []float64, k int) {
	n := len(phi)
	for i := 0; i < n; i++ {
		var jx, jy float64
		if i <= k {
			for j := i; j <= k; j++ {
				jx += -a.Links[j].Length * math.Sin(phi[j])
				jy += a.Links[j].Length * math.Cos(phi[j])
			}
		}
		jac.Set(0, i, jx)
		jac.Set(1, i, jy)
	}
}

// massAt assembles M(q) = sum_k m_k J_k^T J_k.
func (a *Arm) massAt(q []float64) *mat.Dense {
	n := len(q)
	phi := a.cumAngles(q)
	m := mat.NewDense(n, n, nil)
	jac := mat.NewDense(2, n, nil)
	var contrib mat.Dense
	for k := 0; k < n; k++ {
		a.linkJacobian(jac, phi, k)
		contrib.Mul(jac.T(), jac)
		contrib.Scale(a.Links[k].Mass, &contrib)
		m.Add(m, &contrib)
	}
	return m
}

// gravityAt returns dU/dq, the gravity torque vector.
func (a *Arm) gravityAt(q []float64) []float64 {
	n := len(q)
	phi := a.cumAngles(q)
	g := make([]float64, n)
	for i := 0; i < n; i++ {
		for k := i; k < n; k++ {
			// dy_k/dq_i = sum_{j=i..k} l_j cos(phi_j)
			var dy float64
			for j := i; j <= k; j++ {
				dy += a.Links[j].Length * math.Cos(phi[j])
			}
			g[i] += a.Links[k].Mass * a.Gravity * dy
		}
	}
	return g
}

// biasAt returns C(q,v)v + G(q) using finite-difference Christoffel symbols.
func (a *Arm) biasAt(q, v []float64) []float64 {
	n := len(q)
	const h = 1e-6

	// dM[k] = dM/dq_k by central difference.
	dM := make([]*mat.Dense, n)
	for k := 0; k < n; k++ {
		qp := cloneVec(q)
		qm := cloneVec(q)
		qp[k] += h
		qm[k] -= h
		mp := a.massAt(qp)
		mm := a.massAt(qm)
		d := mat.NewDense(n, n, nil)
		d.Sub(mp, mm)
		d.Scale(1/(2*h), d)
		dM[k] = d
	}

	bias := a.gravityAt(q)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			for k := 0; k < n; k++ {
				c := 0.5 * (dM[k].At(i, j) + dM[j].At(i, k) - dM[i].At(j, k))
				bias[i] += c * v[j] * v[k]
			}
		}
	}
	return bias
}

// tipJacobian returns the 2xN Jacobian of the end-effector point.
func (a *Arm) tipJacobian(q []float64) *mat.Dense {
	n := len(q)
	phi := a.cumAngles(q)
	jac := mat.NewDense(2, n, nil)
	a.linkJacobian(jac, phi, n-1)
	return jac
}

func smallestSingularValue(m *mat.Dense) float64 {
	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDNone) {
		return 0
	}
	vals := svd.Values(nil)
	return vals[len(vals)-1]
}

// GetParams exposes the chain parameters for sweeps and reporting.
func (a *Arm) GetParams() map[string]float64 {
	params := map[string]float64{"gravity": a.Gravity}
	for i, l := range a.Links {
		params[fmt.Sprintf("mass_%d", i)] = l.Mass
		params[fmt.Sprintf("length_%d", i)] = l.Length
	}
	return params
}

// SetParam updates a chain parameter by name.
func (a *Arm) SetParam(name string, value float64) error {
	if name == "gravity" {
		a.Gravity = value
		return nil
	}
	var idx int
	if n, _ := fmt.Sscanf(name, "mass_%d", &idx); n == 1 && idx < len(a.Links) {
		a.Links[idx].Mass = value
		return nil
	}
	if n, _ := fmt.Sscanf(name, "length_%d", &idx); n == 1 && idx < len(a.Links) {
		a.Links[idx].Length = value
		return nil
	}
	return fmt.Errorf("unknown param: %s", name)
}
