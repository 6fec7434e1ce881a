package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 1, cfg.Simulation.Episodes)
	assert.Equal(t, 300, cfg.Simulation.Steps)
	assert.Equal(t, 100, cfg.Memory.BufferSize)
	assert.Equal(t, 100, cfg.Memory.ValidationSize)
	assert.Equal(t, 16, cfg.Training.BatchSize)
	assert.Equal(t, []int{220, 160, 130}, cfg.Model.Hidden)
	assert.Equal(t, 500*time.Millisecond, cfg.UpdateDuration())
	assert.Equal(t, 20*time.Millisecond, cfg.StepDuration())
	assert.True(t, cfg.Output.Plot)
	require.NoError(t, cfg.Validate())
}

func TestConfig_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Name = "swingup"
	cfg.Simulation.Plant = "cartpole"
	cfg.Simulation.Controller = "sliding-mode"
	cfg.Model.Hidden = []int{32, 32}
	cfg.Training.UpdateInterval = "250ms"

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "swingup", loaded.Name)
	assert.Equal(t, "cartpole", loaded.Simulation.Plant)
	assert.Equal(t, []int{32, 32}, loaded.Model.Hidden)
	assert.Equal(t, 250*time.Millisecond, loaded.UpdateDuration())
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("memory:\n  buffer_size: 500\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Memory.BufferSize)
	assert.Equal(t, 100, cfg.Memory.ValidationSize)
	assert.Equal(t, "pendulum", cfg.Simulation.Plant)
}

func TestLoad_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("memory: [unclosed"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty name", func(c *Config) { c.Name = "" }},
		{"unknown plant", func(c *Config) { c.Simulation.Plant = "acrobot" }},
		{"smc on pendulum", func(c *Config) { c.Simulation.Controller = "sliding-mode" }},
		{"one step", func(c *Config) { c.Simulation.Steps = 1 }},
		{"bad step interval", func(c *Config) { c.Simulation.StepInterval = "fast" }},
		{"zero buffer", func(c *Config) { c.Memory.BufferSize = 0 }},
		{"zero validation", func(c *Config) { c.Memory.ValidationSize = 0 }},
		{"no hidden", func(c *Config) { c.Model.Hidden = nil }},
		{"full dropout", func(c *Config) { c.Model.Dropout = 1 }},
		{"zero batch", func(c *Config) { c.Training.BatchSize = 0 }},
		{"bad update interval", func(c *Config) { c.Training.UpdateInterval = "soon" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_ValidateSingleValidationRow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Memory.ValidationSize = 1
	assert.NoError(t, cfg.Validate())
}
