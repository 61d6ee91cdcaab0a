package solver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"trajopt/internal/logging"
	"trajopt/internal/program"
)

// Status is the normalized four-way-plus-budget outcome of a solve.
type Status int

const (
	StatusOptimal Status = iota
	StatusInfeasible
	StatusUnbounded
	StatusSolverError
	StatusMaxIterations
)

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusInfeasible:
		return "infeasible"
	case StatusUnbounded:
		return "unbounded"
	case StatusSolverError:
		return "solver-error"
	case StatusMaxIterations:
		return "max-iterations"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ErrSolverFailure marks a solve that failed for numerical reasons after
// the adapter's single retry.
var ErrSolverFailure = errors.New("solver: numerical failure")

// Options configure one solve call.
type Options struct {
	MaxIterations int
	Tolerance     float64
}

func (o Options) withDefaults() Options {
	if o.MaxIterations <= 0 {
		o.MaxIterations = 200
	}
	if o.Tolerance <= 0 {
		o.Tolerance = 1e-8
	}
	return o
}

// Result is the normalized solve outcome. Solution is present iff the
// status is optimal; it is never zero-filled for failed solves.
type Result struct {
	Status     Status
	Solution   []float64
	Objective  float64
	Iterations int
}

// RawCode is a solver-native status code as reported by an Oracle.
// Callers outside this package must never depend on raw codes; the
// Adapter is the sole translation boundary.
type RawCode int

const (
	RawOptimal            RawCode = 0
	RawPrimalInfeasible   RawCode = 1
	RawDualInfeasible     RawCode = 2
	RawIterationLimit     RawCode = 10
	RawNumericalBreakdown RawCode = -1
)

// Outcome is an oracle's raw result: code, final iterate, objective at the
// iterate, and iteration count. X may be a partial iterate for failures.
type Outcome struct {
	Code       RawCode
	X          []float64
	Objective  float64
	Iterations int
}

// Oracle is the external convex/SDP solve capability.
type Oracle interface {
	Solve(ctx context.Context, p *program.Program, opts Options) (Outcome, error)
}

// WarmStarter is implemented by oracles that accept an initial point.
type WarmStarter interface {
	SolveFrom(ctx context.Context, p *program.Program, opts Options, x0 []float64) (Outcome, error)
}

// Adapter wraps an Oracle, normalizes its heterogeneous status codes into
// Status, and applies the retry policy: a numerical breakdown is retried
// exactly once from a perturbed warm start when the oracle supports it,
// then propagated. The adapter never mutates the program it is given.
type Adapter struct {
	oracle Oracle
	log    *slog.Logger
}

// NewAdapter wraps the given solve oracle.
func NewAdapter(oracle Oracle) *Adapter {
	return &Adapter{oracle: oracle, log: logging.New("solver")}
}

// Solve runs the oracle on the program and normalizes the result. Context
// cancellation propagates as an error; everything else becomes a Status.
func (a *Adapter) Solve(ctx context.Context, p *program.Program, opts Options) (*Result, error) {
	opts = opts.withDefaults()

	out, err := a.oracle.Solve(ctx, p, opts)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	if err != nil || out.Code == RawNumericalBreakdown {
		retried, rerr := a.retry(ctx, p, opts, out)
		if rerr == nil && retried != nil {
			out = *retried
		} else {
			a.log.Debug("solve failed after retry", "err", err)
			return &Result{Status: StatusSolverError, Iterations: out.Iterations}, nil
		}
	}

	return normalize(out), nil
}

// retry perturbs the last iterate and re-solves once. Returns nil when
// the oracle cannot warm-start or the retry failed again.
func (a *Adapter) retry(ctx context.Context, p *program.Program, opts Options, prev Outcome) (*Outcome, error) {
	ws, ok := a.oracle.(WarmStarter)
	if !ok || len(prev.X) != p.NumVars {
		return nil, ErrSolverFailure
	}

	x0 := make([]float64, len(prev.X))
	for i, v := range prev.X {
		// Deterministic perturbation keeps retries reproducible.
		sign := 1.0
		if i%2 == 1 {
			sign = -1.0
		}
		x0[i] = v + sign*1e-6*(1+absf(v))
	}

	a.log.Debug("retrying solve from perturbed warm start", "vars", p.NumVars)
	out, err := ws.SolveFrom(ctx, p, opts, x0)
	if err != nil || out.Code == RawNumericalBreakdown {
		return nil, ErrSolverFailure
	}
	return &out, nil
}

func normalize(out Outcome) *Result {
	res := &Result{Iterations: out.Iterations}
	switch out.Code {
	case RawOptimal:
		res.Status = StatusOptimal
		res.Solution = append([]float64(nil), out.X...)
		res.Objective = out.Objective
	case RawPrimalInfeasible:
		res.Status = StatusInfeasible
	case RawDualInfeasible:
		res.Status = StatusUnbounded
	case RawIterationLimit:
		res.Status = StatusMaxIterations
	default:
		res.Status = StatusSolverError
	}
	return res
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
