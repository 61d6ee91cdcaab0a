package solver

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gonum.org/v1/gonum/mat"

	"trajopt/internal/program"
)

// stubOracle replays scripted outcomes.
type stubOracle struct {
	outcomes  []Outcome
	calls     int
	warmCalls int
	warmable  bool
}

func (s *stubOracle) next() Outcome {
	out := s.outcomes[0]
	if len(s.outcomes) > 1 {
		s.outcomes = s.outcomes[1:]
	}
	return out
}

func (s *stubOracle) Solve(ctx context.Context, p *program.Program, opts Options) (Outcome, error) {
	s.calls++
	return s.next(), nil
}

// warmStubOracle additionally supports warm starts.
type warmStubOracle struct{ stubOracle }

func (s *warmStubOracle) SolveFrom(ctx context.Context, p *program.Program, opts Options, x0 []float64) (Outcome, error) {
	s.warmCalls++
	return s.next(), nil
}

func trivialProgram() *program.Program {
	return &program.Program{
		NumVars: 1,
		Quad:    mat.NewSymDense(1, []float64{2}),
	}
}

func TestAdapterStatusNormalization(t *testing.T) {
	tests := []struct {
		name string
		code RawCode
		want Status
	}{
		{"optimal", RawOptimal, StatusOptimal},
		{"primal infeasible", RawPrimalInfeasible, StatusInfeasible},
		{"dual infeasible", RawDualInfeasible, StatusUnbounded},
		{"iteration limit", RawIterationLimit, StatusMaxIterations},
		{"unknown code", RawCode(99), StatusSolverError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oracle := &stubOracle{outcomes: []Outcome{{Code: tt.code, X: []float64{1}, Objective: 1, Iterations: 5}}}
			res, err := NewAdapter(oracle).Solve(context.Background(), trivialProgram(), Options{})
			if err != nil {
				t.Fatalf("solve: %v", err)
			}
			if res.Status != tt.want {
				t.Errorf("status = %v, want %v", res.Status, tt.want)
			}
			if tt.want == StatusOptimal && res.Solution == nil {
				t.Error("optimal result must carry a solution")
			}
			if tt.want != StatusOptimal && res.Solution != nil {
				t.Errorf("non-optimal result must not carry a solution, got %v", res.Solution)
			}
		})
	}
}

func TestAdapterRetriesBreakdownOnce(t *testing.T) {
	oracle := &warmStubOracle{stubOracle{outcomes: []Outcome{
		{Code: RawNumericalBreakdown, X: []float64{0.5}},
		{Code: RawOptimal, X: []float64{1}, Objective: 1, Iterations: 3},
	}}}

	res, err := NewAdapter(oracle).Solve(context.Background(), trivialProgram(), Options{})
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if res.Status != StatusOptimal {
		t.Fatalf("status = %v, want optimal after retry", res.Status)
	}
	if oracle.warmCalls != 1 {
		t.Errorf("warm-start retries = %d, want 1", oracle.warmCalls)
	}
}

func TestAdapterDoesNotLoopOnRepeatedBreakdown(t *testing.T) {
	oracle := &warmStubOracle{stubOracle{outcomes: []Outcome{
		{Code: RawNumericalBreakdown, X: []float64{0.5}},
	}}}

	res, err := NewAdapter(oracle).Solve(context.Background(), trivialProgram(), Options{})
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if res.Status != StatusSolverError {
		t.Fatalf("status = %v, want solver-error", res.Status)
	}
	if oracle.warmCalls != 1 {
		t.Errorf("warm-start retries = %d, want exactly 1", oracle.warmCalls)
	}
}

func TestAdapterNoWarmStartNoRetry(t *testing.T) {
	oracle := &stubOracle{outcomes: []Outcome{
		{Code: RawNumericalBreakdown, X: []float64{0.5}},
	}}

	res, err := NewAdapter(oracle).Solve(context.Background(), trivialProgram(), Options{})
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if res.Status != StatusSolverError {
		t.Fatalf("status = %v, want solver-error", res.Status)
	}
	if oracle.calls != 1 {
		t.Errorf("oracle calls = %d, want 1", oracle.calls)
	}
}

func TestAdapterDoesNotMutateProgram(t *testing.T) {
	p := &program.Program{
		NumVars: 2,
		Quad:    mat.NewSymDense(2, []float64{2, 0, 0, 2}),
		Lin:     []float64{-2, 0},
		Inequalities: []program.LinearConstraint{
			{A: []float64{1, 0}, B: 5},
			{A: []float64{0, 1}, B: 5},
			{A: []float64{-1, 0}, B: 5},
			{A: []float64{0, -1}, B: 5},
		},
		Equalities: []program.LinearConstraint{{A: []float64{0, 1}, B: 1}},
	}

	comparers := cmp.Options{
		cmp.Comparer(func(a, b *mat.SymDense) bool {
			if a == nil || b == nil {
				return a == b
			}
			return mat.Equal(a, b)
		}),
	}

	before := &program.Program{
		NumVars:      p.NumVars,
		Quad:         mat.NewSymDense(2, []float64{2, 0, 0, 2}),
		Lin:          append([]float64(nil), p.Lin...),
		Inequalities: deepCopyConstraints(p.Inequalities),
		Equalities:   deepCopyConstraints(p.Equalities),
	}

	res, err := NewAdapter(NewBarrier()).Solve(context.Background(), p, Options{})
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if res.Status != StatusOptimal {
		t.Fatalf("status = %v, want optimal", res.Status)
	}

	if diff := cmp.Diff(before, p, comparers); diff != "" {
		t.Errorf("program mutated by solve (-before +after):\n%s", diff)
	}
}

func TestAdapterPropagatesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	oracle := &stubOracle{outcomes: []Outcome{{Code: RawOptimal, X: []float64{0}}}}
	_, err := NewAdapter(oracle).Solve(ctx, trivialProgram(), Options{})
	if err == nil {
		t.Fatal("expected context error")
	}
}

func deepCopyConstraints(cs []program.LinearConstraint) []program.LinearConstraint {
	out := make([]program.LinearConstraint, len(cs))
	for i, c := range cs {
		out[i] = program.LinearConstraint{A: append([]float64(nil), c.A...), B: c.B}
	}
	return out
}
