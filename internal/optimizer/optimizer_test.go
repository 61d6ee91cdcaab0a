package optimizer

import (
	"context"
	"math"
	"testing"

	"trajopt/internal/dyn"
	"trajopt/internal/program"
	"trajopt/internal/solver"
	"trajopt/internal/trajectory"
)

func barrierAdapter() *solver.Adapter {
	return solver.NewAdapter(solver.NewBarrier())
}

func holdOptimizer(oracle dyn.Oracle, cfg Config) *Optimizer {
	form := &program.Formulator{Limits: program.Limits{TorqueMin: -5, TorqueMax: 5}}
	return New(dyn.NewAdapter(oracle), form, barrierAdapter(), cfg)
}

// Minimum-torque hold of a two-link arm: the optimum is exactly the
// gravity-compensation torque at the held configuration, repeated per
// interval.
func TestRunConvergesToGravityCompensation(t *testing.T) {
	arm := &dyn.Arm{
		Links:   []dyn.Link{{Mass: 0.4, Length: 0.5}, {Mass: 0.3, Length: 0.5}},
		Gravity: 9.81,
	}

	q := []float64{-math.Pi/2 + 0.3, 0.4}
	const samples = 5
	seg := trajectory.Hold(q, samples, 0.05)

	opt := holdOptimizer(arm, Config{ConvergenceTol: 1e-6, MaxIterations: 20})
	run := opt.Run(context.Background(), 0, seg)

	if !run.Converged() {
		t.Fatalf("run did not converge: phase=%v reason=%v err=%v", run.Phase, run.Reason, run.Err)
	}
	if run.Iterations > 20 {
		t.Errorf("iterations = %d, want <= 20", run.Iterations)
	}

	// Closed-form gravity torque at the hold configuration.
	m1, l1 := arm.Links[0].Mass, arm.Links[0].Length
	m2, l2 := arm.Links[1].Mass, arm.Links[1].Length
	phi1, phi2 := q[0], q[0]+q[1]
	g1 := (m1+m2)*arm.Gravity*l1*math.Cos(phi1) + m2*arm.Gravity*l2*math.Cos(phi2)
	g2 := m2 * arm.Gravity * l2 * math.Cos(phi2)
	analytic := float64(samples-1) * (g1*g1 + g2*g2)

	if math.Abs(run.BestObjective-analytic) > 1e-6 {
		t.Errorf("objective = %.10f, want %.10f within 1e-6", run.BestObjective, analytic)
	}
}

// scriptedOracle replays raw outcomes, sizing the iterate to the program.
type scriptedOracle struct {
	codes []solver.RawCode
	objs  []float64
	call  int
}

func (s *scriptedOracle) Solve(ctx context.Context, p *program.Program, opts solver.Options) (solver.Outcome, error) {
	i := s.call
	if i >= len(s.codes) {
		i = len(s.codes) - 1
	}
	s.call++
	return solver.Outcome{
		Code:       s.codes[i],
		X:          make([]float64, p.NumVars),
		Objective:  s.objs[i],
		Iterations: 1,
	}, nil
}

func scriptedOptimizer(codes []solver.RawCode, objs []float64, cfg Config) *Optimizer {
	form := &program.Formulator{Limits: program.Limits{TorqueMin: -50, TorqueMax: 50}}
	return New(dyn.NewAdapter(dyn.NewArm(1)), form, solver.NewAdapter(&scriptedOracle{codes: codes, objs: objs}), cfg)
}

func TestRunFailsOnObjectiveRegression(t *testing.T) {
	opt := scriptedOptimizer(
		[]solver.RawCode{solver.RawOptimal, solver.RawOptimal},
		[]float64{10, 50},
		Config{ConvergenceTol: 1e-9, RegressionTol: 1e-6},
	)
	run := opt.Run(context.Background(), 0, trajectory.Hold([]float64{0.2}, 2, 0.05))

	if run.Phase != PhaseFailed || run.Reason != ReasonObjectiveRegression {
		t.Fatalf("phase=%v reason=%v, want failed/objective-regression", run.Phase, run.Reason)
	}
}

func TestRunKeepsBestFeasibleAcrossFailure(t *testing.T) {
	opt := scriptedOptimizer(
		[]solver.RawCode{solver.RawOptimal, solver.RawPrimalInfeasible},
		[]float64{10, 0},
		Config{ConvergenceTol: 1e-9},
	)
	run := opt.Run(context.Background(), 3, trajectory.Hold([]float64{0.2}, 2, 0.05))

	if run.Phase != PhaseFailed || run.Reason != ReasonInfeasible {
		t.Fatalf("phase=%v reason=%v, want failed/infeasible", run.Phase, run.Reason)
	}
	if !run.Feasible() {
		t.Fatal("best-known-feasible candidate lost on failure")
	}
	if run.BestObjective != 10 {
		t.Errorf("best objective = %g, want 10", run.BestObjective)
	}
	if len(run.Iterates) != 2 {
		t.Errorf("iterates = %d, want 2", len(run.Iterates))
	}
	if run.Seed != 3 {
		t.Errorf("seed = %d, want 3", run.Seed)
	}
}

func TestRunPerturbsSingularSampleAndRecovers(t *testing.T) {
	arm := &dyn.Arm{
		Links:   []dyn.Link{{Mass: 0.4, Length: 0.5}, {Mass: 0.3, Length: 0.5}},
		Gravity: 9.81,
	}
	// Three samples per sweep: call 5 is iteration 2, sample 1.
	fault := dyn.NewFaultOracle(arm, 5)

	opt := holdOptimizer(fault, Config{
		ConvergenceTol:  0.05,
		RegressionTol:   10,
		MaxIterations:   5,
		SingularRetries: 3,
	})
	seg := trajectory.Hold([]float64{-math.Pi/2 + 0.3, 0.4}, 3, 0.05)
	run := opt.Run(context.Background(), 0, seg)

	if !run.Converged() {
		t.Fatalf("run did not recover from injected singularity: phase=%v reason=%v err=%v",
			run.Phase, run.Reason, run.Err)
	}
	if run.Iterations > 5 {
		t.Errorf("iterations = %d, want <= 5", run.Iterations)
	}
}

func TestRunBoundsSingularRetries(t *testing.T) {
	arm := &dyn.Arm{
		Links:   []dyn.Link{{Mass: 0.4, Length: 0.5}, {Mass: 0.3, Length: 0.5}},
		Gravity: 9.81,
	}
	// Sample 0 of the second sweep fails persistently.
	fault := dyn.NewFaultOracle(arm, 4, 5, 6, 7, 8, 9, 10, 11, 12)

	opt := holdOptimizer(fault, Config{
		ConvergenceTol:  1e-6,
		MaxIterations:   10,
		SingularRetries: 3,
	})
	seg := trajectory.Hold([]float64{-math.Pi/2 + 0.3, 0.4}, 3, 0.05)
	run := opt.Run(context.Background(), 0, seg)

	if run.Phase != PhaseFailed || run.Reason != ReasonSingularRetries {
		t.Fatalf("phase=%v reason=%v, want failed/singular-retries-exhausted", run.Phase, run.Reason)
	}
	// Initial attempt plus three bounded retries, on top of the first
	// sweep's three successful calls.
	if fault.Calls() != 7 {
		t.Errorf("oracle calls = %d, want 7 (retries must stop at the bound)", fault.Calls())
	}
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	arm := dyn.NewArm(2)
	opt := holdOptimizer(arm, Config{})
	run := opt.Run(ctx, 0, trajectory.Hold([]float64{0.3, 0.9}, 2, 0.05))

	if run.Phase != PhaseFailed || run.Reason != ReasonCancelled {
		t.Fatalf("phase=%v reason=%v, want failed/cancelled", run.Phase, run.Reason)
	}
}

func TestRunExhaustsIterationBudget(t *testing.T) {
	// Alternating objectives that never settle within tolerance.
	codes := make([]solver.RawCode, 8)
	objs := make([]float64, 8)
	for i := range codes {
		codes[i] = solver.RawOptimal
		objs[i] = 10 - float64(i) // steadily improving, never converging
	}
	opt := scriptedOptimizer(codes, objs, Config{ConvergenceTol: 1e-9, MaxIterations: 4, RegressionTol: 100})
	run := opt.Run(context.Background(), 0, trajectory.Hold([]float64{0.2}, 2, 0.05))

	if run.Phase != PhaseFailed || run.Reason != ReasonMaxIterations {
		t.Fatalf("phase=%v reason=%v, want failed/max-iterations-exceeded", run.Phase, run.Reason)
	}
	if run.Iterations != 4 {
		t.Errorf("iterations = %d, want 4", run.Iterations)
	}
}
