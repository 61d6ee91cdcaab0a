package config

// Presets are ready-made scenarios selectable by name from the CLI.
var Presets = map[string]*Config{
	"hold": {
		Model: ModelConfig{
			Links:   []LinkConfig{{Mass: 1.0, Length: 0.5}, {Mass: 0.8, Length: 0.4}},
			Gravity: 9.81,
		},
		Limits:   LimitsConfig{TorqueMin: -20, TorqueMax: 20, FrictionMu: 0.6},
		Segment:  SegmentConfig{Samples: 10, Dt: 0.05, Wf: DefaultWf},
		Dispatch: DispatchConfig{Seeds: 4},
		DataDir:  "runs",
	},
	"excitation": {
		Model: ModelConfig{
			Links:   []LinkConfig{{Mass: 1.0, Length: 0.5}, {Mass: 0.8, Length: 0.4}},
			Gravity: 9.81,
		},
		Limits:   LimitsConfig{TorqueMin: -40, TorqueMax: 40, FrictionMu: 0.6},
		Segment:  SegmentConfig{Samples: 40, Dt: 0.05, Wf: DefaultWf, Offsets: []float64{-1.5707963267948966, 0}},
		Dispatch: DispatchConfig{Seeds: 8},
		DataDir:  "runs",
	},
	"contact": {
		Model: ModelConfig{
			Links:   []LinkConfig{{Mass: 1.2, Length: 0.5}, {Mass: 0.9, Length: 0.4}, {Mass: 0.5, Length: 0.3}},
			Gravity: 9.81,
			Contact: true,
		},
		Limits:   LimitsConfig{TorqueMin: -60, TorqueMax: 60, FrictionMu: 0.8},
		Segment:  SegmentConfig{Samples: 25, Dt: 0.04, Wf: DefaultWf},
		Dispatch: DispatchConfig{Seeds: 6},
		DataDir:  "runs",
	},
}
