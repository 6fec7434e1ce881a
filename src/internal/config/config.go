// Package config holds the experiment configuration.
//
// A run is fully described by a Config: the plant, the controller, the
// memory sizes, the model architecture and the timing of both loops. The
// effective configuration of every run is written next to its results as
// config.yaml so an experiment can be reproduced or compared later.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all experiment settings.
type Config struct {
	// Name of the experiment; also the name of its output folder.
	Name string `yaml:"name"`

	// OutputRoot is the folder that holds one sub-folder per experiment.
	OutputRoot string `yaml:"output_root"`

	// Seed for every random source of the run. 0 picks a time based seed.
	Seed int64 `yaml:"seed"`

	Simulation SimulationConfig `yaml:"simulation"`
	Memory     MemoryConfig     `yaml:"memory"`
	Model      ModelConfig      `yaml:"model"`
	Training   TrainingConfig   `yaml:"training"`
	Output     OutputConfig     `yaml:"output"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SimulationConfig configures the plant, the controller and the foreground loop.
type SimulationConfig struct {
	Plant      string `yaml:"plant"`      // pendulum, cartpole
	Controller string `yaml:"controller"` // random, sliding-mode
	Episodes   int    `yaml:"episodes"`
	Steps      int    `yaml:"steps"`

	// StepInterval is the wall-clock period of one simulation step ("20ms").
	// "0s" runs as fast as possible.
	StepInterval string `yaml:"step_interval"`

	// ExplorationNoise is the stddev of the noise added by the sliding-mode
	// controller, as a fraction of the actuator limit.
	ExplorationNoise float64 `yaml:"exploration_noise"`
}

// MemoryConfig sizes the experience buffer and the validation set.
type MemoryConfig struct {
	BufferSize     int `yaml:"buffer_size"`
	ValidationSize int `yaml:"validation_size"`
}

// ModelConfig describes the network architecture.
type ModelConfig struct {
	Hidden       []int   `yaml:"hidden"`
	Dropout      float64 `yaml:"dropout"`
	InitStddev   float64 `yaml:"init_stddev"`
	LearningRate float64 `yaml:"learning_rate"`
}

// TrainingConfig configures the background retraining loop.
type TrainingConfig struct {
	BatchSize int `yaml:"batch_size"`

	// UpdateInterval is the minimum wall-clock period between model updates.
	UpdateInterval string `yaml:"update_interval"`
}

// OutputConfig selects which artifacts are produced at the end of a run.
type OutputConfig struct {
	Plot         bool   `yaml:"plot"`
	RenderFrames bool   `yaml:"render_frames"`
	FrameWidth   int    `yaml:"frame_width"`
	FrameHeight  int    `yaml:"frame_height"`
	VideoFPS     int    `yaml:"video_fps"`
	HistoryDB    string `yaml:"history_db"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:       "test",
		OutputRoot: "experiments",
		Simulation: SimulationConfig{
			Plant:            "pendulum",
			Controller:       "random",
			Episodes:         1,
			Steps:            300,
			StepInterval:     "20ms",
			ExplorationNoise: 0.3,
		},
		Memory: MemoryConfig{
			BufferSize:     100,
			ValidationSize: 100,
		},
		Model: ModelConfig{
			Hidden:       []int{220, 160, 130},
			Dropout:      0.2,
			InitStddev:   0.05,
			LearningRate: 0.001,
		},
		Training: TrainingConfig{
			BatchSize:      16,
			UpdateInterval: "500ms",
		},
		Output: OutputConfig{
			Plot:        true,
			FrameWidth:  640,
			FrameHeight: 480,
			VideoFPS:    50,
			HistoryDB:   "history.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Dir is the experiment output folder.
func (c *Config) Dir() string {
	return filepath.Join(c.OutputRoot, c.Name)
}

// StepDuration parses Simulation.StepInterval.
func (c *Config) StepDuration() time.Duration {
	return parseDuration(c.Simulation.StepInterval)
}

// UpdateDuration parses Training.UpdateInterval.
func (c *Config) UpdateDuration() time.Duration {
	return parseDuration(c.Training.UpdateInterval)
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// Validate checks the configuration for values the run cannot work with.
func (c *Config) Validate() error {
	var errs []error

	if c.Name == "" {
		errs = append(errs, errors.New("experiment name is required"))
	}
	switch c.Simulation.Plant {
	case "pendulum", "cartpole":
	default:
		errs = append(errs, fmt.Errorf("unknown plant %q", c.Simulation.Plant))
	}
	switch c.Simulation.Controller {
	case "random":
	case "sliding-mode":
		if c.Simulation.Plant != "cartpole" {
			errs = append(errs, errors.New("sliding-mode controller requires the cartpole plant"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown controller %q", c.Simulation.Controller))
	}
	if c.Simulation.Episodes < 1 {
		errs = append(errs, fmt.Errorf("episodes must be positive, got %d", c.Simulation.Episodes))
	}
	if c.Simulation.Steps < 2 {
		errs = append(errs, fmt.Errorf("steps must be at least 2, got %d", c.Simulation.Steps))
	}
	if _, err := time.ParseDuration(c.Simulation.StepInterval); err != nil {
		errs = append(errs, fmt.Errorf("step_interval: %w", err))
	}
	if c.Memory.BufferSize < 1 {
		errs = append(errs, fmt.Errorf("buffer_size must be positive, got %d", c.Memory.BufferSize))
	}
	if c.Memory.ValidationSize < 1 {
		errs = append(errs, fmt.Errorf("validation_size must be positive, got %d", c.Memory.ValidationSize))
	}
	if len(c.Model.Hidden) == 0 {
		errs = append(errs, errors.New("model needs at least one hidden layer"))
	}
	for i, h := range c.Model.Hidden {
		if h < 1 {
			errs = append(errs, fmt.Errorf("hidden layer %d has width %d", i, h))
		}
	}
	if c.Model.Dropout < 0 || c.Model.Dropout >= 1 {
		errs = append(errs, fmt.Errorf("dropout must be in [0, 1), got %g", c.Model.Dropout))
	}
	if c.Model.LearningRate <= 0 {
		errs = append(errs, fmt.Errorf("learning_rate must be positive, got %g", c.Model.LearningRate))
	}
	if c.Training.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch_size must be positive, got %d", c.Training.BatchSize))
	}
	if _, err := time.ParseDuration(c.Training.UpdateInterval); err != nil {
		errs = append(errs, fmt.Errorf("update_interval: %w", err))
	}

	return errors.Join(errs...)
}
