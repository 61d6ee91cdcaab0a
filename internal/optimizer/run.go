package optimizer

import (
	"fmt"
	"time"

	"trajopt/internal/solver"
	"trajopt/internal/trajectory"
)

// Phase is the optimizer's per-run state.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseEvaluating
	PhaseFormulating
	PhaseSolving
	PhaseConverged
	PhaseRefining
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseEvaluating:
		return "evaluating"
	case PhaseFormulating:
		return "formulating"
	case PhaseSolving:
		return "solving"
	case PhaseConverged:
		return "converged"
	case PhaseRefining:
		return "refining"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Reason names a run's terminal outcome.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonConverged           Reason = "converged"
	ReasonMaxIterations       Reason = "max-iterations-exceeded"
	ReasonInfeasible          Reason = "infeasible"
	ReasonUnbounded           Reason = "unbounded"
	ReasonSolverError         Reason = "solver-error"
	ReasonSingularRetries     Reason = "singular-retries-exhausted"
	ReasonObjectiveRegression Reason = "objective-regression"
	ReasonCancelled           Reason = "cancelled"
	ReasonEvalFailed          Reason = "dynamics-evaluation-failed"
	ReasonInternal            Reason = "internal-error"
)

// Iterate is one (segment, solve result) pair in a run's history.
type Iterate struct {
	Segment trajectory.Segment
	Result  *solver.Result
}

// Run aggregates one seed's optimization: the iterate history, the
// best-known-feasible candidate for rollback, and the terminal verdict.
// A Run is owned by the optimizer while in flight and read-only afterwards.
type Run struct {
	Seed   int
	Phase  Phase
	Reason Reason
	Err    error

	Iterates []Iterate

	// BestSegment and BestObjective track the lowest-objective feasible
	// iterate seen so far; they survive a later failure.
	BestSegment   *trajectory.Segment
	BestObjective float64

	Iterations int
	WallTime   time.Duration
}

// Converged reports whether the run terminated successfully.
func (r *Run) Converged() bool { return r.Phase == PhaseConverged }

// Feasible reports whether any iterate produced an optimal solve.
func (r *Run) Feasible() bool { return r.BestSegment != nil }

// ObjectiveHistory returns the objective value of every optimal iterate,
// in order.
func (r *Run) ObjectiveHistory() []float64 {
	var hist []float64
	for _, it := range r.Iterates {
		if it.Result != nil && it.Result.Status == solver.StatusOptimal {
			hist = append(hist, it.Result.Objective)
		}
	}
	return hist
}
