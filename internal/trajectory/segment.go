package trajectory

import (
	"fmt"

	"trajopt/internal/dyn"
)

// Segment is one candidate motion: an ordered sequence of samples with a
// fixed timestep between them. Segments are value objects; refinement
// produces a new Segment rather than editing one in place, so the
// best-known-feasible candidate can always be rolled back to.
type Segment struct {
	samples []dyn.State
	dt      float64
}

// New builds a Segment from samples, copying each one. dt is the spacing
// between consecutive samples in seconds.
func New(samples []dyn.State, dt float64) (Segment, error) {
	if len(samples) == 0 {
		return Segment{}, fmt.Errorf("trajectory: empty segment")
	}
	if dt <= 0 {
		return Segment{}, fmt.Errorf("trajectory: dt must be positive, got %g", dt)
	}
	dof := samples[0].DoF()
	copied := make([]dyn.State, len(samples))
	for i, s := range samples {
		if s.DoF() != dof {
			return Segment{}, fmt.Errorf("trajectory: sample %d has %d dof, want %d", i, s.DoF(), dof)
		}
		copied[i] = s.Clone()
	}
	return Segment{samples: copied, dt: dt}, nil
}

// Hold returns a segment of n identical resting samples at configuration q.
func Hold(q []float64, n int, dt float64) Segment {
	samples := make([]dyn.State, n)
	for i := range samples {
		samples[i] = dyn.Rest(q)
	}
	seg, err := New(samples, dt)
	if err != nil {
		panic(err)
	}
	return seg
}

// Len returns the sample count.
func (s Segment) Len() int { return len(s.samples) }

// DoF returns the per-sample degree-of-freedom count.
func (s Segment) DoF() int {
	if len(s.samples) == 0 {
		return 0
	}
	return s.samples[0].DoF()
}

// Dt returns the inter-sample timestep.
func (s Segment) Dt() float64 { return s.dt }

// At returns a copy of sample i.
func (s Segment) At(i int) dyn.State { return s.samples[i].Clone() }

// Samples returns copies of all samples.
func (s Segment) Samples() []dyn.State {
	out := make([]dyn.State, len(s.samples))
	for i, smp := range s.samples {
		out[i] = smp.Clone()
	}
	return out
}

// WithSample returns a new Segment with sample i replaced. Untouched
// samples are shared; they are immutable so sharing is safe.
func (s Segment) WithSample(i int, smp dyn.State) Segment {
	out := make([]dyn.State, len(s.samples))
	copy(out, s.samples)
	out[i] = smp.Clone()
	return Segment{samples: out, dt: s.dt}
}

// Clone returns a deep copy.
func (s Segment) Clone() Segment {
	out, err := New(s.samples, s.dt)
	if err != nil {
		panic(err)
	}
	return out
}
