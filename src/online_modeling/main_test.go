package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammadijoo/Online_Modeling_GO/src/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRunCompareAndList(t *testing.T) {
	root := t.TempDir()

	out, err := execute(t, "run", "cli",
		"--output_root", root,
		"--n_steps", "30",
		"--buffer_size", "10",
		"--val_data_size", "5",
		"--batch_size", "2",
		"--seed", "3",
		"--no_plot")
	require.NoError(t, err)
	assert.Contains(t, out, "results in "+filepath.Join(root, "cli"))
	assert.Contains(t, out, "final_model.json")
	assert.FileExists(t, filepath.Join(root, "cli", "run.log"))

	saved, err := config.Load(filepath.Join(root, "cli", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "cli", saved.Name)
	assert.Equal(t, 30, saved.Simulation.Steps)
	assert.Equal(t, 5, saved.Memory.ValidationSize)
	assert.Equal(t, int64(3), saved.Seed)
	assert.False(t, saved.Output.Plot)

	out, err = execute(t, "compare", "cli", "--output_root", root, "--no_plot")
	require.NoError(t, err)
	assert.Contains(t, out, "initial_model.json")
	assert.Contains(t, out, "final_model.json")

	out, err = execute(t, "runs", "cli", "--output_root", root)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "pendulum")
}

func TestRun_RejectsInvalidFlags(t *testing.T) {
	_, err := execute(t, "run", "bad", "--output_root", t.TempDir(), "--controller", "sliding-mode", "--plant", "pendulum")
	assert.Error(t, err)

	_, err = execute(t, "run")
	assert.Error(t, err, "experiment name is required")
}

func TestContextOrBackground(t *testing.T) {
	assert.NotNil(t, contextOrBackground(&cobra.Command{}))
}
