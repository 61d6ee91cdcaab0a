package optimizer

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"

	"trajopt/internal/dyn"
	"trajopt/internal/logging"
	"trajopt/internal/program"
	"trajopt/internal/solver"
	"trajopt/internal/trajectory"
)

// Config holds the optimizer's tuning knobs. Thresholds and budgets are
// always configuration inputs, never hardcoded in the loop.
type Config struct {
	// ConvergenceTol: a run converges when the objective improvement
	// between successive solves drops below this. Default 1e-6.
	ConvergenceTol float64

	// RegressionTol bounds how much the objective may increase between
	// successive solves before the run fails with ObjectiveRegression.
	// Applied both absolutely and relative to the previous value.
	// Default 1e-3.
	RegressionTol float64

	// MaxIterations bounds the refine loop. Default 20.
	MaxIterations int

	// SingularRetries bounds perturb-and-retry attempts per sample.
	// Default 3.
	SingularRetries int

	// PerturbScale sizes the configuration perturbation applied to a
	// singular sample. Default 1e-3.
	PerturbScale float64

	// RandSeed seeds the perturbation stream; the per-run stream also
	// mixes in the seed index so concurrent runs stay independent.
	RandSeed int64

	Solver solver.Options
}

func (c Config) withDefaults() Config {
	if c.ConvergenceTol <= 0 {
		c.ConvergenceTol = 1e-6
	}
	if c.RegressionTol <= 0 {
		c.RegressionTol = 1e-3
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 20
	}
	if c.SingularRetries <= 0 {
		c.SingularRetries = 3
	}
	if c.PerturbScale <= 0 {
		c.PerturbScale = 1e-3
	}
	return c
}

// Optimizer drives one seed's refine loop:
//
//	Init -> Evaluating -> Formulating -> Solving -> {Converged, Refining, Failed}
//
// with Refining feeding back into Evaluating until convergence or budget
// exhaustion. The best-known-feasible segment is never mutated; each
// refinement replaces the working segment with a new value.
type Optimizer struct {
	dynamics   *dyn.Adapter
	formulator *program.Formulator
	solve      *solver.Adapter
	cfg        Config
	log        *slog.Logger
}

// New wires an optimizer from its three collaborators.
func New(dynamics *dyn.Adapter, formulator *program.Formulator, solve *solver.Adapter, cfg Config) *Optimizer {
	return &Optimizer{
		dynamics:   dynamics,
		formulator: formulator,
		solve:      solve,
		cfg:        cfg.withDefaults(),
		log:        logging.New("optimizer"),
	}
}

// Run executes the state machine for one seed segment. It always returns
// a Run with a terminal phase; errors are folded into the terminal reason.
func (o *Optimizer) Run(ctx context.Context, seed int, segment trajectory.Segment) *Run {
	run := &Run{Seed: seed, Phase: PhaseInit, BestObjective: math.Inf(1)}
	start := time.Now()
	defer func() { run.WallTime = time.Since(start) }()

	rng := rand.New(rand.NewSource(o.cfg.RandSeed + int64(seed)*7919))
	current := segment.Clone()
	retries := make(map[int]int)
	prevObj := math.Inf(1)

	for run.Iterations < o.cfg.MaxIterations {
		if ctx.Err() != nil {
			return o.fail(run, ReasonCancelled, ctx.Err())
		}

		run.Phase = PhaseEvaluating
		evals, err := o.evaluateAll(current)
		if err != nil {
			var evalErr *dyn.EvalError
			if errors.As(err, &evalErr) && errors.Is(err, dyn.ErrSingularConfig) {
				i := evalErr.Sample
				retries[i]++
				if retries[i] > o.cfg.SingularRetries {
					return o.fail(run, ReasonSingularRetries, err)
				}
				o.log.Debug("perturbing singular sample",
					"seed", seed, "sample", i, "attempt", retries[i])
				run.Phase = PhaseRefining
				current = current.WithSample(i, o.perturb(current.At(i), rng))
				// The trajectory changed exogenously; objective
				// comparisons restart from scratch.
				prevObj = math.Inf(1)
				continue
			}
			return o.fail(run, ReasonEvalFailed, err)
		}

		run.Phase = PhaseFormulating
		prog, err := o.formulator.Formulate(current, evals)
		if err != nil {
			return o.fail(run, ReasonInternal, err)
		}

		run.Phase = PhaseSolving
		res, err := o.solve.Solve(ctx, prog, o.cfg.Solver)
		if err != nil {
			return o.fail(run, ReasonCancelled, err)
		}

		run.Iterates = append(run.Iterates, Iterate{Segment: current, Result: res})
		run.Iterations++

		switch res.Status {
		case solver.StatusOptimal:
			if res.Objective <= run.BestObjective {
				best := current
				run.BestSegment = &best
				run.BestObjective = res.Objective
			}

			if !math.IsInf(prevObj, 1) {
				allowed := prevObj + math.Max(o.cfg.RegressionTol, o.cfg.RegressionTol*math.Abs(prevObj))
				if res.Objective > allowed {
					return o.fail(run, ReasonObjectiveRegression, nil)
				}
				if math.Abs(prevObj-res.Objective) < o.cfg.ConvergenceTol {
					run.Phase = PhaseConverged
					run.Reason = ReasonConverged
					return run
				}
			}
			prevObj = res.Objective

			run.Phase = PhaseRefining
			current = o.refine(current, evals, prog.Layout, res.Solution)

		case solver.StatusInfeasible:
			return o.fail(run, ReasonInfeasible, nil)
		case solver.StatusUnbounded:
			return o.fail(run, ReasonUnbounded, nil)
		default:
			return o.fail(run, ReasonSolverError, nil)
		}
	}

	return o.fail(run, ReasonMaxIterations, nil)
}

func (o *Optimizer) fail(run *Run, reason Reason, err error) *Run {
	run.Phase = PhaseFailed
	run.Reason = reason
	run.Err = err
	if err != nil {
		o.log.Debug("run failed", "seed", run.Seed, "reason", reason, "err", err)
	}
	return run
}

// evaluateAll runs the dynamics adapter over every sample. A singular
// sample aborts the sweep so the caller can perturb it and restart.
func (o *Optimizer) evaluateAll(seg trajectory.Segment) ([]*dyn.Evaluation, error) {
	evals := make([]*dyn.Evaluation, seg.Len())
	for i := 0; i < seg.Len(); i++ {
		ev, err := o.dynamics.Evaluate(seg.At(i))
		if err != nil {
			return nil, &dyn.EvalError{Sample: i, Wrapped: err}
		}
		evals[i] = ev
	}
	return evals, nil
}

func (o *Optimizer) perturb(s dyn.State, rng *rand.Rand) dyn.State {
	delta := make([]float64, s.DoF())
	for i := range delta {
		delta[i] = o.cfg.PerturbScale * (rng.Float64() - 0.5)
	}
	return s.PerturbQ(delta)
}

// refine builds the next candidate segment from the primal solution:
// per-sample accelerations are recovered from the solved torques and
// contact forces, then velocities and positions are re-integrated by the
// trapezoid rule from the fixed initial sample. The input segment is left
// untouched.
func (o *Optimizer) refine(seg trajectory.Segment, evals []*dyn.Evaluation, layout program.Layout, x []float64) trajectory.Segment {
	n := seg.DoF()
	T := seg.Len()
	if T == 1 {
		// Static program: equilibrium has nothing to integrate.
		return seg.Clone()
	}

	// Generalized force per interval: torque plus contact contributions
	// through the midpoint Jacobians.
	force := make([][]float64, layout.Intervals)
	for t := 0; t < layout.Intervals; t++ {
		f := layout.Torque(x, t)
		for c := 0; c < layout.Contacts; c++ {
			fx, fy := layout.Force(x, t, c)
			ja := evals[t].ContactJacobians[c]
			jb := evals[t+1].ContactJacobians[c]
			for i := 0; i < n; i++ {
				f[i] += 0.5 * ((ja.At(0, i)+jb.At(0, i))*fx + (ja.At(1, i)+jb.At(1, i))*fy)
			}
		}
		force[t] = f
	}

	// Per-sample acceleration from M a = force - bias, averaging the
	// adjacent interval forces at interior samples.
	accels := make([][]float64, T)
	for i := 0; i < T; i++ {
		eff := make([]float64, n)
		switch {
		case i == 0:
			copy(eff, force[0])
		case i == T-1:
			copy(eff, force[T-2])
		default:
			for d := 0; d < n; d++ {
				eff[d] = 0.5 * (force[i-1][d] + force[i][d])
			}
		}

		rhs := mat.NewVecDense(n, nil)
		for d := 0; d < n; d++ {
			rhs.SetVec(d, eff[d]-evals[i].Bias[d])
		}
		var a mat.VecDense
		if err := a.SolveVec(evals[i].MassMatrix, rhs); err != nil {
			// Keep the old acceleration when the mass matrix resists.
			accels[i] = seg.At(i).A
			continue
		}
		out := make([]float64, n)
		for d := 0; d < n; d++ {
			out[d] = a.AtVec(d)
		}
		accels[i] = out
	}

	// Re-integrate from the fixed initial state.
	dt := seg.Dt()
	states := make([]dyn.State, T)
	first := seg.At(0)
	states[0] = dyn.MustState(first.Q, first.V, accels[0])
	for i := 1; i < T; i++ {
		prev := states[i-1]
		v := make([]float64, n)
		q := make([]float64, n)
		for d := 0; d < n; d++ {
			v[d] = prev.V[d] + 0.5*dt*(accels[i-1][d]+accels[i][d])
			q[d] = prev.Q[d] + 0.5*dt*(prev.V[d]+v[d])
		}
		states[i] = dyn.MustState(q, v, accels[i])
	}

	next, err := trajectory.New(states, dt)
	if err != nil {
		return seg.Clone()
	}
	return next
}
