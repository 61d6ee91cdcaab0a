package solver

import (
	"context"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/mat"

	"trajopt/internal/logging"
	"trajopt/internal/program"
)

// Barrier is a log-barrier interior-point oracle for the programs the
// formulator produces: quadratic (or linear) objective, linear equalities
// and inequalities, and small PSD cone blocks. PSD blocks enter the
// barrier through -log det of the affine matrix, so cone programs solve
// on the same central path as plain QPs.
//
// The method is the classic two-phase scheme: phase I minimizes a shared
// infeasibility slack to find a strictly feasible start (or prove there is
// none), phase II follows the central path with equality-constrained
// Newton steps.
type Barrier struct {
	log *slog.Logger
}

// NewBarrier returns a ready oracle.
func NewBarrier() *Barrier {
	return &Barrier{log: logging.New("barrier")}
}

// Solve implements Oracle.
func (b *Barrier) Solve(ctx context.Context, p *program.Program, opts Options) (Outcome, error) {
	return b.solve(ctx, p, opts, nil)
}

// SolveFrom implements WarmStarter. x0 is used when it is strictly
// feasible; otherwise the solver falls back to phase I.
func (b *Barrier) SolveFrom(ctx context.Context, p *program.Program, opts Options, x0 []float64) (Outcome, error) {
	return b.solve(ctx, p, opts, x0)
}

const (
	barrierMu       = 10.0
	maxOuterRounds  = 60
	newtonTol       = 1e-9
	divergenceLimit = 1e10
	feasMargin      = 1e-8
)

func (b *Barrier) solve(ctx context.Context, p *program.Program, opts Options, warm []float64) (Outcome, error) {
	opts = opts.withDefaults()
	if err := p.Validate(); err != nil {
		return Outcome{Code: RawNumericalBreakdown}, err
	}

	sp := newStdProblem(p)
	budget := opts.MaxIterations

	// Pure equality-constrained program: one KKT solve.
	if len(sp.g) == 0 && len(sp.cones) == 0 {
		x, ok := sp.solveEqualityKKT()
		if !ok {
			return Outcome{Code: RawNumericalBreakdown}, nil
		}
		return Outcome{Code: RawOptimal, X: x, Objective: p.Objective(x), Iterations: 1}, nil
	}

	iters := 0

	x0, code := b.findStart(ctx, sp, warm, opts, &budget, &iters)
	if code != RawOptimal {
		return Outcome{Code: code, X: x0, Iterations: iters}, nil
	}

	x, code := b.centralPath(ctx, sp, sp.objective, x0, opts.Tolerance, &budget, &iters, nil)
	out := Outcome{Code: code, X: x, Iterations: iters}
	if code == RawOptimal {
		out.Objective = p.Objective(x)
	}
	return out, nil
}

// findStart returns a strictly feasible equality-consistent point, using
// the warm start when acceptable and phase I otherwise.
func (b *Barrier) findStart(ctx context.Context, sp *stdProblem, warm []float64, opts Options, budget, iters *int) ([]float64, RawCode) {
	if warm != nil && len(warm) == sp.n && sp.strictlyFeasible(warm) && sp.equalityResidual(warm) < feasMargin {
		b.log.Debug("warm start accepted", "vars", sp.n)
		return append([]float64(nil), warm...), RawOptimal
	}

	x0, ok := sp.equalityLeastSquares()
	if !ok {
		return nil, RawNumericalBreakdown
	}
	if r := sp.equalityResidual(x0); r > 1e-6*(1+sp.rhsScale()) {
		b.log.Debug("equality system inconsistent", "residual", r)
		return nil, RawPrimalInfeasible
	}
	if sp.strictlyFeasible(x0) {
		return x0, RawOptimal
	}

	// Phase I over (x, s): minimize s with every constraint relaxed by s.
	ph := sp.phaseOne()
	z0 := append(append([]float64(nil), x0...), ph.initialSlack(x0))

	z, code := b.centralPath(ctx, ph, ph.objective, z0, math.Max(opts.Tolerance, 1e-9), budget, iters,
		func(z []float64) bool { return z[sp.n] < -1e-6 })
	if code == RawIterationLimit || code == RawNumericalBreakdown {
		return nil, code
	}
	if z == nil || z[sp.n] >= -1e-9 {
		return nil, RawPrimalInfeasible
	}

	x := append([]float64(nil), z[:sp.n]...)
	if !sp.strictlyFeasible(x) {
		return nil, RawPrimalInfeasible
	}
	return x, RawOptimal
}

// centralPath minimizes obj over sp's constraint set starting from the
// strictly feasible x0, increasing the barrier parameter until the duality
// gap bound m/t drops below tol. stop, when non-nil, short-circuits the
// descent as soon as it holds (phase I early exit).
func (b *Barrier) centralPath(ctx context.Context, sp *stdProblem, obj quadObjective, x0 []float64, tol float64, budget, iters *int, stop func([]float64) bool) ([]float64, RawCode) {
	x := append([]float64(nil), x0...)
	m := float64(sp.barrierCount())

	if stop != nil && stop(x) {
		return x, RawOptimal
	}

	t := 1.0
	for round := 0; round < maxOuterRounds; round++ {
		if ctx.Err() != nil {
			return x, RawNumericalBreakdown
		}

		code := b.center(sp, obj, x, t, budget, iters, stop)
		if code != RawOptimal {
			return x, code
		}
		if stop != nil && stop(x) {
			return x, RawOptimal
		}
		if m/t < tol {
			return x, RawOptimal
		}
		t *= barrierMu
	}
	return x, RawIterationLimit
}

// center runs damped Newton to the central point at barrier parameter t,
// updating x in place.
func (b *Barrier) center(sp *stdProblem, obj quadObjective, x []float64, t float64, budget, iters *int, stop func([]float64) bool) RawCode {
	n := sp.n
	grad := make([]float64, n)
	hess := mat.NewDense(n, n, nil)

	for step := 0; step < 100; step++ {
		if *budget <= 0 {
			return RawIterationLimit
		}
		*budget--
		*iters++

		if normInf(x) > divergenceLimit {
			return RawDualInfeasible
		}

		if !sp.gradHess(obj, x, t, grad, hess) {
			return RawNumericalBreakdown
		}

		dx, ok := sp.newtonStep(hess, grad)
		if !ok {
			return RawNumericalBreakdown
		}

		decrement := -dot(grad, dx)
		if decrement/2 < newtonTol {
			return RawOptimal
		}

		alpha := b.lineSearch(sp, obj, x, dx, grad, t)
		if alpha == 0 {
			return RawOptimal
		}
		axpy(alpha, dx, x)

		if stop != nil && stop(x) {
			return RawOptimal
		}
	}
	return RawOptimal
}

// lineSearch backtracks from a full step until the iterate is strictly
// feasible and satisfies a sufficient-decrease condition.
func (b *Barrier) lineSearch(sp *stdProblem, obj quadObjective, x, dx, grad []float64, t float64) float64 {
	const (
		beta  = 0.5
		sigma = 0.25
	)
	base, ok := sp.barrierValue(obj, x, t)
	if !ok {
		return 0
	}
	slope := dot(grad, dx)

	trial := make([]float64, len(x))
	alpha := 1.0
	for alpha > 1e-13 {
		copy(trial, x)
		axpy(alpha, dx, trial)
		if sp.strictlyFeasible(trial) {
			if v, ok := sp.barrierValue(obj, trial, t); ok && v <= base+sigma*alpha*slope {
				return alpha
			}
		}
		alpha *= beta
	}
	return 0
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func axpy(alpha float64, dx, x []float64) {
	for i := range x {
		x[i] += alpha * dx[i]
	}
}

func normInf(x []float64) float64 {
	m := 0.0
	for _, v := range x {
		if a := math.Abs(v); a > m {
			m = a
		}
	}
	return m
}
