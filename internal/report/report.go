// Package report turns a dispatch summary into a terminal verdict and a
// persisted run record.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"trajopt/internal/dispatch"
	"trajopt/internal/optimizer"
)

var (
	passStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00ff88"))

	failStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ff4444"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00ccff"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888899"))
)

// Verdict is the exit contract of a batch: pass only when at least one
// seed converged.
type Verdict struct {
	Pass      bool
	Best      *optimizer.Run
	Converged int
	Total     int
}

func Summarize(sum dispatch.Summary) Verdict {
	return Verdict{
		Pass:      sum.Pass,
		Best:      sum.Best,
		Converged: sum.Converged,
		Total:     len(sum.Runs),
	}
}

// ExitCode maps the verdict onto the process exit status.
func (v Verdict) ExitCode() int {
	if v.Pass {
		return 0
	}
	return 1
}

// Render produces the human-readable report: a per-seed table, the
// winner's objective history as an ascii chart, and the verdict line.
func Render(sum dispatch.Summary) string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("trajectory optimization report"))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "%-6s %-12s %-28s %6s %14s %10s\n",
		"seed", "phase", "reason", "iters", "objective", "wall")
	for _, r := range sum.Runs {
		line := fmt.Sprintf("%-6d %-12s %-28s %6d %14s %10s",
			r.Seed, r.Phase, reasonLabel(r.Reason), r.Iterations,
			objectiveLabel(r), r.WallTime.Round(time.Millisecond))
		if r.Converged() {
			b.WriteString(line)
		} else {
			b.WriteString(mutedStyle.Render(line))
		}
		b.WriteString("\n")
	}

	if sum.Best != nil {
		if hist := sum.Best.ObjectiveHistory(); len(hist) > 1 {
			b.WriteString("\n")
			b.WriteString(asciigraph.Plot(hist,
				asciigraph.Height(8),
				asciigraph.Width(60),
				asciigraph.Caption(fmt.Sprintf("objective, seed %d", sum.Best.Seed)),
			))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	if sum.Pass {
		fmt.Fprintf(&b, "%s  %d/%d seeds converged, best objective %.6g (seed %d)\n",
			passStyle.Render("PASS"), sum.Converged, len(sum.Runs),
			sum.Best.BestObjective, sum.Best.Seed)
	} else {
		b.WriteString(failStyle.Render("FAIL"))
		b.WriteString("  no seed converged")
		if sum.Best != nil {
			fmt.Fprintf(&b, ", furthest attempt: seed %d (%s after %d iterations)",
				sum.Best.Seed, reasonLabel(sum.Best.Reason), sum.Best.Iterations)
		}
		b.WriteString("\n")
	}

	return b.String()
}

func reasonLabel(r optimizer.Reason) string {
	if r == optimizer.ReasonNone {
		return "-"
	}
	return string(r)
}

func objectiveLabel(r *optimizer.Run) string {
	if r.BestSegment == nil {
		return "-"
	}
	return fmt.Sprintf("%.6g", r.BestObjective)
}
