package solver

import (
	"context"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"trajopt/internal/program"
)

func solveWith(t *testing.T, p *program.Program) *Result {
	t.Helper()
	ad := NewAdapter(NewBarrier())
	res, err := ad.Solve(context.Background(), p, Options{})
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	return res
}

func TestBarrierInequalityQP(t *testing.T) {
	// min (x-3)^2 subject to x <= 1. Optimum x=1.
	p := &program.Program{
		NumVars:      1,
		Quad:         mat.NewSymDense(1, []float64{2}),
		Lin:          []float64{-6},
		Inequalities: []program.LinearConstraint{{A: []float64{1}, B: 1}},
	}

	res := solveWith(t, p)
	if res.Status != StatusOptimal {
		t.Fatalf("status = %v, want optimal", res.Status)
	}
	if math.Abs(res.Solution[0]-1) > 1e-4 {
		t.Errorf("solution = %.6f, want 1", res.Solution[0])
	}

	// Objective must not exceed the value at a known feasible point.
	known := []float64{0}
	if res.Objective > p.Objective(known)+1e-9 {
		t.Errorf("objective %.6f exceeds feasible-point value %.6f", res.Objective, p.Objective(known))
	}
	if math.Abs(res.Objective-(-5)) > 1e-4 {
		t.Errorf("objective = %.6f, want -5", res.Objective)
	}
}

func TestBarrierEqualityOnlyQP(t *testing.T) {
	// min x^2 + y^2 subject to x + y = 2. Optimum (1,1), value 2.
	p := &program.Program{
		NumVars:    2,
		Quad:       mat.NewSymDense(2, []float64{2, 0, 0, 2}),
		Equalities: []program.LinearConstraint{{A: []float64{1, 1}, B: 2}},
	}

	res := solveWith(t, p)
	if res.Status != StatusOptimal {
		t.Fatalf("status = %v, want optimal", res.Status)
	}
	for i, want := range []float64{1, 1} {
		if math.Abs(res.Solution[i]-want) > 1e-9 {
			t.Errorf("solution[%d] = %.12f, want %.12f", i, res.Solution[i], want)
		}
	}
	if math.Abs(res.Objective-2) > 1e-9 {
		t.Errorf("objective = %.12f, want 2", res.Objective)
	}
}

func TestBarrierEqualityPinnedWithBox(t *testing.T) {
	// x = 3 inside box [-5, 5]: unique feasible point, exact objective.
	p := &program.Program{
		NumVars:    1,
		Quad:       mat.NewSymDense(1, []float64{2}),
		Equalities: []program.LinearConstraint{{A: []float64{1}, B: 3}},
		Inequalities: []program.LinearConstraint{
			{A: []float64{1}, B: 5},
			{A: []float64{-1}, B: 5},
		},
	}

	res := solveWith(t, p)
	if res.Status != StatusOptimal {
		t.Fatalf("status = %v, want optimal", res.Status)
	}
	if math.Abs(res.Solution[0]-3) > 1e-8 {
		t.Errorf("solution = %.10f, want 3", res.Solution[0])
	}
	if math.Abs(res.Objective-9) > 1e-6 {
		t.Errorf("objective = %.10f, want 9", res.Objective)
	}
}

func TestBarrierInfeasibleBox(t *testing.T) {
	// x <= -1 and x >= 1 cannot both hold.
	p := &program.Program{
		NumVars: 1,
		Quad:    mat.NewSymDense(1, []float64{2}),
		Inequalities: []program.LinearConstraint{
			{A: []float64{1}, B: -1},
			{A: []float64{-1}, B: -1},
		},
	}

	res := solveWith(t, p)
	if res.Status != StatusInfeasible {
		t.Fatalf("status = %v, want infeasible", res.Status)
	}
	if res.Solution != nil {
		t.Errorf("solution must be absent for infeasible result, got %v", res.Solution)
	}
}

func TestBarrierUnbounded(t *testing.T) {
	// min -x subject to x >= 0.
	p := &program.Program{
		NumVars:      1,
		Lin:          []float64{-1},
		Inequalities: []program.LinearConstraint{{A: []float64{-1}, B: 0}},
	}

	res := solveWith(t, p)
	if res.Status != StatusUnbounded {
		t.Fatalf("status = %v, want unbounded", res.Status)
	}
	if res.Solution != nil {
		t.Errorf("solution must be absent for unbounded result")
	}
}

func TestBarrierPSDCone(t *testing.T) {
	// min (fx-2)^2 + fy^2 subject to [[fy, fx], [fx, fy]] >= 0,
	// i.e. fy >= |fx|. Optimum on the cone boundary at (1,1), value -2
	// in 0.5x'Qx + c'x form.
	p := &program.Program{
		NumVars: 2,
		Quad:    mat.NewSymDense(2, []float64{2, 0, 0, 2}),
		Lin:     []float64{-4, 0},
		Cones: []program.PSDCone{{
			Dim: 2,
			Terms: []program.PSDTerm{
				{Var: 0, Coef: mat.NewSymDense(2, []float64{0, 1, 1, 0})},
				{Var: 1, Coef: mat.NewSymDense(2, []float64{1, 0, 0, 1})},
			},
		}},
	}

	res := solveWith(t, p)
	if res.Status != StatusOptimal {
		t.Fatalf("status = %v, want optimal", res.Status)
	}
	if math.Abs(res.Solution[0]-1) > 1e-3 || math.Abs(res.Solution[1]-1) > 1e-3 {
		t.Errorf("solution = %v, want (1, 1)", res.Solution)
	}
	if math.Abs(res.Objective-(-2)) > 1e-5 {
		t.Errorf("objective = %.8f, want -2", res.Objective)
	}

	// Cone must hold at the reported solution.
	if res.Solution[1] < math.Abs(res.Solution[0])-1e-6 {
		t.Errorf("solution violates the cone: fy=%.6f < |fx|=%.6f", res.Solution[1], math.Abs(res.Solution[0]))
	}
}

func TestBarrierIterationBudget(t *testing.T) {
	p := &program.Program{
		NumVars:      1,
		Quad:         mat.NewSymDense(1, []float64{2}),
		Lin:          []float64{-6},
		Inequalities: []program.LinearConstraint{{A: []float64{1}, B: 1}},
	}

	ad := NewAdapter(NewBarrier())
	res, err := ad.Solve(context.Background(), p, Options{MaxIterations: 2, Tolerance: 1e-12})
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if res.Status != StatusMaxIterations {
		t.Fatalf("status = %v, want max-iterations", res.Status)
	}
	if res.Solution != nil {
		t.Errorf("solution must be absent when the budget is exhausted")
	}
}
