// Package dispatch fans a batch of seed trajectories out to optimizer
// workers and reduces the runs to a single verdict.
package dispatch

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"trajopt/internal/logging"
	"trajopt/internal/optimizer"
	"trajopt/internal/trajectory"
)

// Runner executes one seed. *optimizer.Optimizer satisfies it.
type Runner interface {
	Run(ctx context.Context, seed int, segment trajectory.Segment) *optimizer.Run
}

// Options bound the batch. Workers defaults to the CPU count; a zero
// Timeout means no global deadline.
type Options struct {
	Workers int
	Timeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	return o
}

type Dispatcher struct {
	runner Runner
	log    *slog.Logger
}

func New(runner Runner) *Dispatcher {
	return &Dispatcher{runner: runner, log: logging.New("dispatch")}
}

// RunAll optimizes every seed segment under a shared context. The result
// slice is index-aligned with seeds and always complete: seeds that never
// produced a run before the deadline are reported as cancelled.
func (d *Dispatcher) RunAll(ctx context.Context, seeds []trajectory.Segment, opts Options) []*optimizer.Run {
	opts = opts.withDefaults()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	d.log.Info("dispatching seeds", "seeds", len(seeds), "workers", opts.Workers)

	results := make([]*optimizer.Run, len(seeds))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i, seg := range seeds {
		i, seg := i, seg
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil // reported as cancelled below
			}
			results[i] = d.runner.Run(gctx, i, seg)
			return nil
		})
	}
	_ = g.Wait() // workers fold failures into their Run

	for i, r := range results {
		if r == nil {
			results[i] = &optimizer.Run{
				Seed:   i,
				Phase:  optimizer.PhaseFailed,
				Reason: optimizer.ReasonCancelled,
				Err:    ctx.Err(),
			}
		}
	}
	return results
}

// Summary is the reduction of a batch to its best run.
type Summary struct {
	Runs      []*optimizer.Run
	Best      *optimizer.Run
	Converged int
	Pass      bool
}

// Reduce picks the winner deterministically: the converged run with the
// lowest objective, breaking ties by fewer iterations and then by seed
// index. With no converged run the summary fails and Best carries the
// run that made the most progress, as a diagnostic.
func Reduce(runs []*optimizer.Run) Summary {
	s := Summary{Runs: runs}
	for _, r := range runs {
		if !r.Converged() {
			continue
		}
		s.Converged++
		if s.Best == nil || better(r, s.Best) {
			s.Best = r
		}
	}
	if s.Best != nil {
		s.Pass = true
		return s
	}
	for _, r := range runs {
		if s.Best == nil || r.Iterations > s.Best.Iterations {
			s.Best = r
		}
	}
	return s
}

func better(a, b *optimizer.Run) bool {
	if a.BestObjective != b.BestObjective {
		return a.BestObjective < b.BestObjective
	}
	if a.Iterations != b.Iterations {
		return a.Iterations < b.Iterations
	}
	return a.Seed < b.Seed
}
