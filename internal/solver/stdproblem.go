package solver

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"trajopt/internal/program"
)

// quadObjective is 0.5*x'Qx + c'x with either part optional.
type quadObjective struct {
	quad *mat.SymDense
	lin  []float64
}

func (o quadObjective) value(x []float64) float64 {
	v := 0.0
	if o.quad != nil {
		n := len(x)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				v += 0.5 * x[i] * o.quad.At(i, j) * x[j]
			}
		}
	}
	for i, c := range o.lin {
		v += c * x[i]
	}
	return v
}

// stdProblem is the solver-internal view of a program. Rows reference the
// program's own slices and are never written to.
type stdProblem struct {
	n         int
	objective quadObjective

	g [][]float64 // inequality rows, g[i].x <= h[i]
	h []float64

	eqA [][]float64
	eqB []float64

	cones []program.PSDCone
}

func newStdProblem(p *program.Program) *stdProblem {
	sp := &stdProblem{
		n:         p.NumVars,
		objective: quadObjective{quad: p.Quad, lin: p.Lin},
		cones:     p.Cones,
	}
	for _, c := range p.Inequalities {
		sp.g = append(sp.g, c.A)
		sp.h = append(sp.h, c.B)
	}
	for _, c := range p.Equalities {
		sp.eqA = append(sp.eqA, c.A)
		sp.eqB = append(sp.eqB, c.B)
	}
	return sp
}

// phaseOne builds the feasibility problem over (x, s): minimize s with
// every inequality and cone relaxed by s, plus a floor s >= -1 so the
// descent cannot run away once the region is strictly feasible.
func (sp *stdProblem) phaseOne() *stdProblem {
	n := sp.n
	ph := &stdProblem{n: n + 1}

	lin := make([]float64, n+1)
	lin[n] = 1
	ph.objective = quadObjective{lin: lin}

	for i, row := range sp.g {
		ext := make([]float64, n+1)
		copy(ext, row)
		ext[n] = -1
		ph.g = append(ph.g, ext)
		ph.h = append(ph.h, sp.h[i])
	}
	floor := make([]float64, n+1)
	floor[n] = -1
	ph.g = append(ph.g, floor)
	ph.h = append(ph.h, 1)

	for _, row := range sp.eqA {
		ext := make([]float64, n+1)
		copy(ext, row)
		ph.eqA = append(ph.eqA, ext)
	}
	ph.eqB = sp.eqB

	for _, cone := range sp.cones {
		relaxed := program.PSDCone{Dim: cone.Dim, F0: cone.F0}
		relaxed.Terms = append(relaxed.Terms, cone.Terms...)
		relaxed.Terms = append(relaxed.Terms, program.PSDTerm{Var: n, Coef: identitySym(cone.Dim)})
		ph.cones = append(ph.cones, relaxed)
	}
	return ph
}

// initialSlack picks s0 so that (x0, s0) is strictly feasible for the
// phase-I problem.
func (sp *stdProblem) initialSlack(x0 []float64) float64 {
	worst := -0.5
	for i, row := range sp.g {
		if v := dot(row, x0) - sp.h[i]; v > worst {
			worst = v
		}
	}
	for _, cone := range sp.cones {
		f := coneAt(cone, x0)
		var es mat.EigenSym
		if es.Factorize(f, false) {
			vals := es.Values(nil)
			if v := -vals[0]; v > worst {
				worst = v
			}
		}
	}
	return worst + 1
}

func (sp *stdProblem) barrierCount() int {
	m := len(sp.g)
	for _, c := range sp.cones {
		m += c.Dim
	}
	return m
}

func (sp *stdProblem) rhsScale() float64 {
	s := 0.0
	for _, b := range sp.eqB {
		if a := math.Abs(b); a > s {
			s = a
		}
	}
	return s
}

func (sp *stdProblem) equalityResidual(x []float64) float64 {
	r := 0.0
	for i, row := range sp.eqA {
		if v := math.Abs(dot(row, x) - sp.eqB[i]); v > r {
			r = v
		}
	}
	return r
}

// equalityLeastSquares returns the minimum-norm solution of Ax = b via the
// normal equations of the transpose, or zeros when there are no equalities.
func (sp *stdProblem) equalityLeastSquares() ([]float64, bool) {
	x := make([]float64, sp.n)
	m := len(sp.eqA)
	if m == 0 {
		return x, true
	}

	a := rowsToDense(sp.eqA, sp.n)
	var aat mat.Dense
	aat.Mul(a, a.T())

	var w mat.VecDense
	if err := w.SolveVec(&aat, mat.NewVecDense(m, append([]float64(nil), sp.eqB...))); err != nil {
		return nil, false
	}

	var xv mat.VecDense
	xv.MulVec(a.T(), &w)
	copy(x, xv.RawVector().Data)
	return x, true
}

func (sp *stdProblem) strictlyFeasible(x []float64) bool {
	for i, row := range sp.g {
		if sp.h[i]-dot(row, x) <= 1e-12 {
			return false
		}
	}
	for _, cone := range sp.cones {
		var ch mat.Cholesky
		if !ch.Factorize(coneAt(cone, x)) {
			return false
		}
	}
	return true
}

// barrierValue is t*f(x) + phi(x); ok is false outside the domain.
func (sp *stdProblem) barrierValue(obj quadObjective, x []float64, t float64) (float64, bool) {
	v := t * obj.value(x)
	for i, row := range sp.g {
		d := sp.h[i] - dot(row, x)
		if d <= 0 {
			return 0, false
		}
		v -= math.Log(d)
	}
	for _, cone := range sp.cones {
		var ch mat.Cholesky
		if !ch.Factorize(coneAt(cone, x)) {
			return 0, false
		}
		v -= ch.LogDet()
	}
	return v, true
}

// gradHess fills grad and hess with the gradient and Hessian of
// t*f(x) + phi(x). Returns false outside the barrier domain.
func (sp *stdProblem) gradHess(obj quadObjective, x []float64, t float64, grad []float64, hess *mat.Dense) bool {
	n := sp.n
	for i := range grad {
		grad[i] = 0
	}
	hess.Zero()

	// Objective part.
	if obj.quad != nil {
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				q := obj.quad.At(i, j)
				grad[i] += t * q * x[j]
				hess.Set(i, j, hess.At(i, j)+t*q)
			}
		}
	}
	for i, c := range obj.lin {
		grad[i] += t * c
	}

	// Linear inequality barrier.
	for k, row := range sp.g {
		d := sp.h[k] - dot(row, x)
		if d <= 0 {
			return false
		}
		inv := 1 / d
		inv2 := inv * inv
		for i, gi := range row {
			if gi == 0 {
				continue
			}
			grad[i] += gi * inv
			for j, gj := range row {
				if gj != 0 {
					hess.Set(i, j, hess.At(i, j)+gi*gj*inv2)
				}
			}
		}
	}

	// PSD cone barrier: -log det F(x).
	for _, cone := range sp.cones {
		f := coneAt(cone, x)
		var ch mat.Cholesky
		if !ch.Factorize(f) {
			return false
		}
		var finv mat.SymDense
		if err := ch.InverseTo(&finv); err != nil {
			return false
		}

		// Precompute Finv*C_v per term.
		prods := make([]*mat.Dense, len(cone.Terms))
		for vi, term := range cone.Terms {
			prod := mat.NewDense(cone.Dim, cone.Dim, nil)
			prod.Mul(&finv, term.Coef)
			prods[vi] = prod
			grad[term.Var] -= traceDense(prod)
		}
		for vi, tv := range cone.Terms {
			for wi, tw := range cone.Terms {
				hess.Set(tv.Var, tw.Var, hess.At(tv.Var, tw.Var)+traceProduct(prods[vi], prods[wi]))
			}
		}
	}
	return true
}

// newtonStep solves the KKT system for the equality-constrained Newton
// direction at the current Hessian and gradient.
func (sp *stdProblem) newtonStep(hess *mat.Dense, grad []float64) ([]float64, bool) {
	n := sp.n
	m := len(sp.eqA)

	size := n + m
	k := mat.NewDense(size, size, nil)
	rhs := mat.NewVecDense(size, nil)

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			k.Set(i, j, hess.At(i, j))
		}
		rhs.SetVec(i, -grad[i])
	}
	for r, row := range sp.eqA {
		for j, v := range row {
			k.Set(n+r, j, v)
			k.Set(j, n+r, v)
		}
	}

	var sol mat.VecDense
	if err := sol.SolveVec(k, rhs); err != nil {
		return nil, false
	}

	dx := make([]float64, n)
	for i := range dx {
		dx[i] = sol.AtVec(i)
	}
	return dx, true
}

// solveEqualityKKT solves the program directly when there is nothing to
// barrier: min 0.5x'Qx + c'x subject to Ax = b.
func (sp *stdProblem) solveEqualityKKT() ([]float64, bool) {
	n := sp.n
	m := len(sp.eqA)
	size := n + m

	k := mat.NewDense(size, size, nil)
	rhs := mat.NewVecDense(size, nil)

	for i := 0; i < n; i++ {
		if sp.objective.quad != nil {
			for j := 0; j < n; j++ {
				k.Set(i, j, sp.objective.quad.At(i, j))
			}
		}
		c := 0.0
		if sp.objective.lin != nil {
			c = sp.objective.lin[i]
		}
		rhs.SetVec(i, -c)
	}
	for r, row := range sp.eqA {
		for j, v := range row {
			k.Set(n+r, j, v)
			k.Set(j, n+r, v)
		}
		rhs.SetVec(n+r, sp.eqB[r])
	}

	var sol mat.VecDense
	if err := sol.SolveVec(k, rhs); err != nil {
		return nil, false
	}
	x := make([]float64, n)
	for i := range x {
		x[i] = sol.AtVec(i)
	}
	return x, true
}

func coneAt(cone program.PSDCone, x []float64) *mat.SymDense {
	f := mat.NewSymDense(cone.Dim, nil)
	if cone.F0 != nil {
		f.CopySym(cone.F0)
	}
	for _, term := range cone.Terms {
		var scaled mat.SymDense
		scaled.ScaleSym(x[term.Var], term.Coef)
		f.AddSym(f, &scaled)
	}
	return f
}

func identitySym(n int) *mat.SymDense {
	id := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		id.SetSym(i, i, 1)
	}
	return id
}

func rowsToDense(rows [][]float64, cols int) *mat.Dense {
	d := mat.NewDense(len(rows), cols, nil)
	for i, row := range rows {
		for j, v := range row {
			d.Set(i, j, v)
		}
	}
	return d
}

func traceDense(m *mat.Dense) float64 {
	r, _ := m.Dims()
	t := 0.0
	for i := 0; i < r; i++ {
		t += m.At(i, i)
	}
	return t
}

func traceProduct(a, b *mat.Dense) float64 {
	r, c := a.Dims()
	t := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			t += a.At(i, j) * b.At(j, i)
		}
	}
	return t
}
