package experiment

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/mohammadijoo/Online_Modeling_GO/src/internal/config"
	"github.com/mohammadijoo/Online_Modeling_GO/src/internal/history"
	"github.com/mohammadijoo/Online_Modeling_GO/src/internal/modeling"
	"github.com/mohammadijoo/Online_Modeling_GO/src/internal/plant"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func smallConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Name = "small"
	cfg.OutputRoot = t.TempDir()
	cfg.Seed = 7
	cfg.Simulation.Episodes = 2
	cfg.Simulation.Steps = 80
	cfg.Simulation.StepInterval = "2ms"
	cfg.Memory.BufferSize = 20
	cfg.Memory.ValidationSize = 10
	cfg.Model.Hidden = []int{8, 8}
	cfg.Training.BatchSize = 4
	cfg.Training.UpdateInterval = "1ms"
	cfg.Output.Plot = false
	return cfg
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Simulation.Plant = "rocket"
	_, err := New(cfg, nil)
	assert.Error(t, err)
}

func TestRun_WritesArtifacts(t *testing.T) {
	cfg := smallConfig(t)
	r, err := New(cfg, zap.NewNop())
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	dir := cfg.Dir()
	assert.Equal(t, dir, res.Dir)
	assert.NotEmpty(t, res.RunID)
	for _, f := range []string{
		ConfigFile,
		modeling.InitialModelFile,
		modeling.FinalModelFile,
		HistoryFile,
		ValidationFile,
		"episode_1.csv",
		"episode_2.csv",
	} {
		assert.FileExists(t, filepath.Join(dir, f))
	}
	assert.NoDirExists(t, filepath.Join(dir, "plots"))

	require.Len(t, res.Episodes, 2)
	for _, ep := range res.Episodes {
		require.Len(t, ep.States, 80)
		assert.Equal(t, ep.States[0], ep.Predicted[0])
		assert.Equal(t, []float64{0}, ep.Controls[0])
		for j := 1; j < 80; j++ {
			assert.InDelta(t, 0, ep.Controls[j][0], 2.0)
			assert.Len(t, ep.Predicted[j], 3)
		}
	}

	require.NotEmpty(t, res.Updates, "160ms of simulation leaves time for updates")
	for _, u := range res.Updates {
		assert.Contains(t, []int{1, 2}, u.Episode)
		assert.GreaterOrEqual(t, u.Step, 1)
		assert.Less(t, u.Step, 80)
	}

	require.Len(t, res.Rollouts, 2)
	assert.Equal(t, modeling.InitialModelFile, res.Rollouts[0].Name)
	assert.Len(t, res.Rollouts[0].States, 10)

	header, cols, err := history.ReadCSV(filepath.Join(dir, HistoryFile))
	require.NoError(t, err)
	assert.Equal(t, []string{"loss", "val_loss", "episode", "step"}, header)
	assert.Len(t, cols[0], len(res.Updates))

	header, cols, err = history.ReadCSV(filepath.Join(dir, "episode_1.csv"))
	require.NoError(t, err)
	assert.Equal(t, []string{"step", "x0", "x1", "x2", "pred_x0", "pred_x1", "pred_x2", "u0"}, header)
	assert.Len(t, cols[0], 80)

	saved, err := config.Load(filepath.Join(dir, ConfigFile))
	require.NoError(t, err)
	assert.Equal(t, int64(7), saved.Seed)
	assert.Equal(t, 2, saved.Simulation.Episodes)
}

func TestRun_RecordsHistory(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Simulation.Episodes = 1
	r, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	res, err := r.Run(context.Background())
	require.NoError(t, err)

	ctx := context.Background()
	store, err := history.Open(filepath.Join(cfg.OutputRoot, cfg.Output.HistoryDB))
	require.NoError(t, err)
	defer store.Close()

	runs, err := store.Runs(ctx, "small")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].ID)
	assert.Equal(t, "pendulum", runs[0].Plant)
	assert.False(t, runs[0].FinishedAt.IsZero())

	updates, err := store.Updates(ctx, res.RunID)
	require.NoError(t, err)
	assert.Len(t, updates, len(res.Updates))
}

func TestRun_PlotsAndComparesCartPole(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	cfg := smallConfig(t)
	cfg.Simulation.Plant = "cartpole"
	cfg.Simulation.Controller = "sliding-mode"
	cfg.Simulation.Episodes = 1
	cfg.Simulation.Steps = 40
	cfg.Simulation.StepInterval = "0s"
	cfg.Output.Plot = true
	cfg.Output.RenderFrames = true
	cfg.Output.FrameWidth = 64
	cfg.Output.FrameHeight = 48
	cfg.Output.HistoryDB = ""

	r, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	res, err := r.Run(context.Background())
	require.NoError(t, err)

	dir := cfg.Dir()
	assert.FileExists(t, filepath.Join(dir, "plots", "episode_1.png"))
	assert.FileExists(t, filepath.Join(dir, "plots", "compare_initial_model.png"))
	assert.FileExists(t, filepath.Join(dir, "plots", "compare_final_model.png"))
	assert.FileExists(t, filepath.Join(dir, "frames", "episode_1", "frame_000039.png"))
	assert.NoFileExists(t, filepath.Join(dir, "episode_1.mp4"))
	assert.NoFileExists(t, filepath.Join(cfg.OutputRoot, "history.db"))
	if len(res.Updates) > 0 {
		assert.FileExists(t, filepath.Join(dir, "plots", "loss.png"))
	}

	rollouts, err := Compare(dir, true, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, rollouts, 2)
	assert.Len(t, rollouts[1].States, 10)
	assert.Len(t, rollouts[1].Controls[0], 1)
	assert.Equal(t, res.Rollouts[1].Predicted, rollouts[1].Predicted)
}

func TestRun_Cancel(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Simulation.StepInterval = "1s"

	r, err := New(cfg, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err = r.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	store, err := history.Open(filepath.Join(cfg.OutputRoot, cfg.Output.HistoryDB))
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.Runs(context.Background(), "small")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.False(t, runs[0].FinishedAt.IsZero(), "a cancelled run is stamped as finished")
}

// closeRecorder records when the plant it wraps is closed.
type closeRecorder struct {
	plant.Plant
	finalModel string

	closes          int
	finalWhenClosed bool
}

func (c *closeRecorder) Close() error {
	c.closes++
	_, err := os.Stat(c.finalModel)
	c.finalWhenClosed = err == nil
	return c.Plant.Close()
}

func TestRun_ClosesPlantBeforeSavingFinalModel(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Simulation.Episodes = 1
	r, err := New(cfg, zap.NewNop())
	require.NoError(t, err)

	rec := &closeRecorder{finalModel: filepath.Join(cfg.Dir(), modeling.FinalModelFile)}
	r.newPlant = func(name string) (plant.Plant, error) {
		p, err := plant.New(name)
		rec.Plant = p
		return rec, err
	}

	_, err = r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rec.closes)
	assert.False(t, rec.finalWhenClosed)
	assert.FileExists(t, rec.finalModel)
}

func TestCompare_MissingValidation(t *testing.T) {
	_, err := Compare(t.TempDir(), true, zap.NewNop())
	assert.Error(t, err)
}

func TestUpdateSteps(t *testing.T) {
	updates := []modeling.Update{
		{Episode: 1, Step: 3},
		{Episode: 1, Step: 9},
		{Episode: 2, Step: 4},
	}
	assert.Equal(t, []int{3, 9}, updateSteps(updates, 0))
	assert.Equal(t, []int{4}, updateSteps(updates, 1))
	assert.Empty(t, updateSteps(updates, 2))
}
