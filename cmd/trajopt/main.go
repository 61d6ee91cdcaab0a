package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"trajopt/internal/config"
	"trajopt/internal/dispatch"
	"trajopt/internal/dyn"
	"trajopt/internal/logging"
	"trajopt/internal/optimizer"
	"trajopt/internal/program"
	"trajopt/internal/report"
	"trajopt/internal/solver"
	"trajopt/internal/trajectory"
)

var (
	configFile string
	preset     string
	dataDir    string
	logLevel   string
	logFormat  string

	numSeeds   int
	numWorkers int
	timeoutSec float64
	samples    int
	dt         float64
	seed       int64

	// feasibility: joint angles, comma separated
	qFlag string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "trajopt",
		Short: "constrained trajectory optimization for articulated arms",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Init(logging.ParseLevel(logLevel), logFormat)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (yaml)")
	rootCmd.PersistentFlags().StringVar(&preset, "preset", "", "use preset configuration")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "", "report directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text|json)")

	optimizeCmd := &cobra.Command{
		Use:   "optimize",
		Short: "optimize a batch of excitation seeds and report the best",
		RunE:  runOptimize,
	}
	optimizeCmd.Flags().IntVar(&numSeeds, "seeds", 0, "number of seed trajectories (overrides config)")
	optimizeCmd.Flags().IntVar(&numWorkers, "workers", 0, "worker count (0 = all CPUs)")
	optimizeCmd.Flags().Float64Var(&timeoutSec, "timeout", 0, "global timeout in seconds (0 = none)")
	optimizeCmd.Flags().IntVar(&samples, "samples", 0, "samples per segment (overrides config)")
	optimizeCmd.Flags().Float64Var(&dt, "dt", 0, "sample spacing in seconds (overrides config)")
	optimizeCmd.Flags().Int64Var(&seed, "seed", time.Now().UnixNano(), "random seed")

	feasibilityCmd := &cobra.Command{
		Use:   "feasibility",
		Short: "static equilibrium check at a single configuration",
		RunE:  runFeasibility,
	}
	feasibilityCmd.Flags().StringVar(&qFlag, "q", "", "joint angles, comma separated (default: all zero)")

	seedsCmd := &cobra.Command{
		Use:   "seeds",
		Short: "preview the generated excitation seeds",
		RunE:  previewSeeds,
	}
	seedsCmd.Flags().IntVar(&numSeeds, "seeds", 0, "number of seed trajectories (overrides config)")
	seedsCmd.Flags().Int64Var(&seed, "seed", 1, "random seed")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list saved batch reports",
		RunE:  listBatches,
	}

	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "write a default config file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  initConfig,
	}

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list available presets",
		Run: func(cmd *cobra.Command, args []string) {
			for name, cfg := range config.Presets {
				fmt.Printf("%-12s %d links, %d samples, %d seeds\n",
					name, len(cfg.Model.Links), cfg.Segment.Samples, cfg.Dispatch.Seeds)
			}
		},
	}

	rootCmd.AddCommand(optimizeCmd, feasibilityCmd, seedsCmd, listCmd, initCmd, presetsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	switch {
	case configFile != "":
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	case preset != "":
		p, ok := config.Presets[preset]
		if !ok {
			return nil, fmt.Errorf("unknown preset %q", preset)
		}
		clone := *p
		cfg = &clone
	default:
		cfg = config.DefaultConfig()
	}

	if numSeeds > 0 {
		cfg.Dispatch.Seeds = numSeeds
	}
	if numWorkers > 0 {
		cfg.Dispatch.Workers = numWorkers
	}
	if timeoutSec > 0 {
		cfg.Dispatch.TimeoutSec = timeoutSec
	}
	if samples > 0 {
		cfg.Segment.Samples = samples
	}
	if dt > 0 {
		cfg.Segment.Dt = dt
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	cfg.Seed = seed
	return cfg, cfg.Validate()
}

func buildArm(cfg *config.Config) *dyn.Arm {
	links := make([]dyn.Link, len(cfg.Model.Links))
	for i, l := range cfg.Model.Links {
		links[i] = dyn.Link{Mass: l.Mass, Length: l.Length}
	}
	return &dyn.Arm{
		Links:       links,
		Gravity:     cfg.Model.Gravity,
		Contact:     cfg.Model.Contact,
		SingularTol: cfg.Model.SingularTol,
	}
}

func buildOptimizer(cfg *config.Config) *optimizer.Optimizer {
	form := &program.Formulator{
		Limits: program.Limits{
			TorqueMin:  cfg.Limits.TorqueMin,
			TorqueMax:  cfg.Limits.TorqueMax,
			FrictionMu: cfg.Limits.FrictionMu,
		},
	}
	solve := solver.NewAdapter(solver.NewBarrier())
	return optimizer.New(dyn.NewAdapter(buildArm(cfg)), form, solve, optimizer.Config{
		ConvergenceTol:  cfg.Optimizer.ConvergenceTol,
		RegressionTol:   cfg.Optimizer.RegressionTol,
		MaxIterations:   cfg.Optimizer.MaxIterations,
		SingularRetries: cfg.Optimizer.SingularRetries,
		PerturbScale:    cfg.Optimizer.PerturbScale,
		RandSeed:        cfg.Seed,
		Solver: solver.Options{
			MaxIterations: cfg.Solver.MaxIterations,
			Tolerance:     cfg.Solver.Tolerance,
		},
	})
}

func buildSeeds(cfg *config.Config) ([]trajectory.Segment, error) {
	offsets := cfg.Segment.Offsets
	if len(offsets) == 0 {
		offsets = make([]float64, cfg.DoF())
	}
	if len(offsets) != cfg.DoF() {
		return nil, fmt.Errorf("segment offsets: got %d values for %d joints", len(offsets), cfg.DoF())
	}
	gen := trajectory.NewGenerator(cfg.Segment.Wf, offsets)
	rng := rand.New(rand.NewSource(cfg.Seed))
	return gen.Seeds(cfg.Dispatch.Seeds, cfg.Segment.Samples, cfg.Segment.Dt, rng)
}

func runOptimize(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	seeds, err := buildSeeds(cfg)
	if err != nil {
		return err
	}

	d := dispatch.New(buildOptimizer(cfg))
	runs := d.RunAll(context.Background(), seeds, dispatch.Options{
		Workers: cfg.Dispatch.Workers,
		Timeout: time.Duration(cfg.Dispatch.TimeoutSec * float64(time.Second)),
	})
	sum := dispatch.Reduce(runs)

	fmt.Print(report.Render(sum))

	st := report.NewStore(cfg.DataDir)
	if err := st.Init(); err != nil {
		return err
	}
	id, err := st.Save("batch", sum)
	if err != nil {
		return err
	}
	fmt.Printf("saved %s\n", id)

	verdict := report.Summarize(sum)
	if code := verdict.ExitCode(); code != 0 {
		os.Exit(code)
	}
	return nil
}

func runFeasibility(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	q := make([]float64, cfg.DoF())
	if qFlag != "" {
		parts := strings.Split(qFlag, ",")
		if len(parts) != cfg.DoF() {
			return fmt.Errorf("--q: got %d values for %d joints", len(parts), cfg.DoF())
		}
		for i, p := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return fmt.Errorf("--q: %w", err)
			}
			q[i] = v
		}
	}

	// A single-sample segment formulates as a static equilibrium program.
	run := buildOptimizer(cfg).Run(context.Background(), 0, trajectory.Hold(q, 1, cfg.Segment.Dt))
	if !run.Converged() {
		fmt.Printf("infeasible: %s\n", run.Reason)
		os.Exit(1)
	}
	fmt.Printf("feasible: holding torque objective %.6g\n", run.BestObjective)
	return nil
}

func previewSeeds(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	seeds, err := buildSeeds(cfg)
	if err != nil {
		return err
	}

	for i, seg := range seeds {
		ampl := 0.0
		angles := make([]float64, seg.Len())
		for t := 0; t < seg.Len(); t++ {
			angles[t] = seg.At(t).Q[0]
			ampl = math.Max(ampl, math.Abs(angles[t]))
		}
		fmt.Printf("seed %d: %d samples, dt %g, joint 0 amplitude %.3f\n", i, seg.Len(), seg.Dt(), ampl)
		if i == 0 {
			fmt.Println(asciigraph.Plot(angles,
				asciigraph.Height(8),
				asciigraph.Width(60),
				asciigraph.Caption("joint 0 angle, seed 0"),
			))
		}
	}
	return nil
}

func listBatches(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	batches, err := report.NewStore(cfg.DataDir).List()
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		fmt.Println("no saved batches")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tSEEDS\tCONVERGED\tPASS\tBEST OBJECTIVE")
	for _, b := range batches {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%v\t%.6g\n",
			b.ID, b.Timestamp.Format("2006-01-02 15:04"), b.Seeds, b.Converged, b.Pass, b.BestObjective)
	}
	return w.Flush()
}

func initConfig(cmd *cobra.Command, args []string) error {
	path := "trajopt.yaml"
	if len(args) == 1 {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := config.Save(path, config.DefaultConfig()); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}
