package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultGravity     = 9.81
	DefaultDt          = 0.05
	DefaultSamples     = 20
	DefaultTorqueLimit = 20.0
	DefaultFrictionMu  = 0.6
	DefaultWf          = 0.6283185307179586 // 0.1 Hz fundamental
	DefaultSeeds       = 8
)

type Config struct {
	Model     ModelConfig     `yaml:"model"`
	Limits    LimitsConfig    `yaml:"limits"`
	Segment   SegmentConfig   `yaml:"segment"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Solver    SolverConfig    `yaml:"solver"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Seed      int64           `yaml:"seed"`
	DataDir   string          `yaml:"data_dir"`
}

type ModelConfig struct {
	Links       []LinkConfig `yaml:"links"`
	Gravity     float64      `yaml:"gravity"`
	Contact     bool         `yaml:"contact"`
	SingularTol float64      `yaml:"singular_tol"`
}

type LinkConfig struct {
	Mass   float64 `yaml:"mass"`
	Length float64 `yaml:"length"`
}

type LimitsConfig struct {
	TorqueMin  float64 `yaml:"torque_min"`
	TorqueMax  float64 `yaml:"torque_max"`
	FrictionMu float64 `yaml:"friction_mu"`
}

type SegmentConfig struct {
	Samples int       `yaml:"samples"`
	Dt      float64   `yaml:"dt"`
	Wf      float64   `yaml:"wf"`
	Offsets []float64 `yaml:"offsets"`
}

type OptimizerConfig struct {
	ConvergenceTol  float64 `yaml:"convergence_tol"`
	RegressionTol   float64 `yaml:"regression_tol"`
	MaxIterations   int     `yaml:"max_iterations"`
	SingularRetries int     `yaml:"singular_retries"`
	PerturbScale    float64 `yaml:"perturb_scale"`
}

type SolverConfig struct {
	MaxIterations int     `yaml:"max_iterations"`
	Tolerance     float64 `yaml:"tolerance"`
}

type DispatchConfig struct {
	Seeds      int     `yaml:"seeds"`
	Workers    int     `yaml:"workers"`
	TimeoutSec float64 `yaml:"timeout_sec"`
}

func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Links: []LinkConfig{
				{Mass: 1.0, Length: 0.5},
				{Mass: 0.8, Length: 0.4},
			},
			Gravity: DefaultGravity,
		},
		Limits: LimitsConfig{
			TorqueMin:  -DefaultTorqueLimit,
			TorqueMax:  DefaultTorqueLimit,
			FrictionMu: DefaultFrictionMu,
		},
		Segment: SegmentConfig{
			Samples: DefaultSamples,
			Dt:      DefaultDt,
			Wf:      DefaultWf,
		},
		Dispatch: DispatchConfig{
			Seeds: DefaultSeeds,
		},
		DataDir: "runs",
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	if len(c.Model.Links) == 0 {
		return fmt.Errorf("config: model needs at least one link")
	}
	for i, l := range c.Model.Links {
		if l.Mass <= 0 || l.Length <= 0 {
			return fmt.Errorf("config: link %d: mass and length must be positive", i)
		}
	}
	if c.Limits.TorqueMin >= c.Limits.TorqueMax {
		return fmt.Errorf("config: torque_min must be below torque_max")
	}
	if c.Segment.Samples < 1 {
		return fmt.Errorf("config: segment needs at least one sample")
	}
	if c.Segment.Dt <= 0 {
		return fmt.Errorf("config: segment dt must be positive")
	}
	if c.Dispatch.Seeds < 1 {
		return fmt.Errorf("config: dispatch needs at least one seed")
	}
	return nil
}

// DoF is the number of joints of the configured model.
func (c *Config) DoF() int {
	return len(c.Model.Links)
}
