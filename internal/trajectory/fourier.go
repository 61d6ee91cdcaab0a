package trajectory

import (
	"fmt"
	"math"
	"math/rand"

	"trajopt/internal/dyn"
)

// Oscillator generates a periodic pulsating motion for one joint from a
// finite Fourier series (Swevers & Gansemann excitation trajectories).
// Wf is the global pulsation; A and B are the sine/cosine amplitudes per
// harmonic; Q0 is the joint-angle offset the pulsation is centered on.
type Oscillator struct {
	Wf float64
	A  []float64
	B  []float64
	Q0 float64
}

// Angle returns the joint angle at time t.
func (o Oscillator) Angle(t float64) float64 {
	q := o.Q0
	for l := 1; l <= len(o.A); l++ {
		wl := o.Wf * float64(l)
		q += (o.A[l-1]/wl)*math.Sin(wl*t) - (o.B[l-1]/wl)*math.Cos(wl*t)
	}
	return q
}

// Velocity returns the joint velocity at time t.
func (o Oscillator) Velocity(t float64) float64 {
	dq := 0.0
	for l := 1; l <= len(o.A); l++ {
		wl := o.Wf * float64(l)
		dq += o.A[l-1]*math.Cos(wl*t) + o.B[l-1]*math.Sin(wl*t)
	}
	return dq
}

// Acceleration returns the joint acceleration at time t.
func (o Oscillator) Acceleration(t float64) float64 {
	ddq := 0.0
	for l := 1; l <= len(o.A); l++ {
		wl := o.Wf * float64(l)
		ddq += -o.A[l-1]*wl*math.Sin(wl*t) + o.B[l-1]*wl*math.Cos(wl*t)
	}
	return ddq
}

// Generator produces excitation trajectories for a full chain, one
// oscillator per degree of freedom sharing a global pulsation.
type Generator struct {
	Oscillators []Oscillator
}

// NewGenerator builds a generator with a default single-harmonic series
// per joint, centered on the given offsets.
func NewGenerator(wf float64, offsets []float64) *Generator {
	oscs := make([]Oscillator, len(offsets))
	// Alternating default amplitudes keep adjacent joints out of phase.
	for i, q0 := range offsets {
		sign := 1.0
		if i%2 == 1 {
			sign = -1.0
		}
		oscs[i] = Oscillator{
			Wf: wf,
			A:  []float64{sign * 0.5},
			B:  []float64{0.9},
			Q0: q0,
		}
	}
	return &Generator{Oscillators: oscs}
}

// PeriodLength returns the oscillation period in seconds.
func (g *Generator) PeriodLength() float64 {
	if len(g.Oscillators) == 0 {
		return 0
	}
	return 2 * math.Pi / g.Oscillators[0].Wf
}

// Sample returns the chain state at time t.
func (g *Generator) Sample(t float64) dyn.State {
	n := len(g.Oscillators)
	q := make([]float64, n)
	v := make([]float64, n)
	a := make([]float64, n)
	for i, o := range g.Oscillators {
		q[i] = o.Angle(t)
		v[i] = o.Velocity(t)
		a[i] = o.Acceleration(t)
	}
	return dyn.MustState(q, v, a)
}

// Segment samples the generator into a trajectory segment.
func (g *Generator) Segment(samples int, dt float64) (Segment, error) {
	if samples < 1 {
		return Segment{}, fmt.Errorf("trajectory: need at least 1 sample, got %d", samples)
	}
	states := make([]dyn.State, samples)
	for i := range states {
		states[i] = g.Sample(float64(i) * dt)
	}
	return New(states, dt)
}

// Seeds derives n independent seed segments by perturbing the generator's
// Fourier coefficients. Each seed is reproducible from the rng state and
// shares nothing with the others.
func (g *Generator) Seeds(n, samples int, dt float64, rng *rand.Rand) ([]Segment, error) {
	seeds := make([]Segment, 0, n)
	for s := 0; s < n; s++ {
		perturbed := &Generator{Oscillators: make([]Oscillator, len(g.Oscillators))}
		for i, o := range g.Oscillators {
			p := Oscillator{Wf: o.Wf, Q0: o.Q0, A: make([]float64, len(o.A)), B: make([]float64, len(o.B))}
			for l := range o.A {
				p.A[l] = o.A[l] * (1 + 0.3*(rng.Float64()-0.5))
				p.B[l] = o.B[l] * (1 + 0.3*(rng.Float64()-0.5))
			}
			perturbed.Oscillators[i] = p
		}
		seg, err := perturbed.Segment(samples, dt)
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, seg)
	}
	return seeds, nil
}
