// Package experiment runs one online modeling experiment end to end.
//
// A Runner drives the plant with the configured controller for a number of
// episodes while a modeling.Trainer retrains the plant model in the
// background. Both loops run in one errgroup; the simulation stops the
// trainer when it is done. Afterwards the runner writes the final model,
// the update history, one CSV per episode and, when enabled, the figures
// and the rendered frames into the experiment folder.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/mohammadijoo/Online_Modeling_GO/src/internal/config"
	"github.com/mohammadijoo/Online_Modeling_GO/src/internal/control"
	"github.com/mohammadijoo/Online_Modeling_GO/src/internal/history"
	"github.com/mohammadijoo/Online_Modeling_GO/src/internal/memory"
	"github.com/mohammadijoo/Online_Modeling_GO/src/internal/modeling"
	"github.com/mohammadijoo/Online_Modeling_GO/src/internal/nn"
	"github.com/mohammadijoo/Online_Modeling_GO/src/internal/plant"
)

const (
	ConfigFile     = "config.yaml"
	HistoryFile    = "model_hist.csv"
	ValidationFile = "validation.csv"

	progressEvery = 100
)

// Episode is the recorded trajectory of one episode. Row 0 is the initial
// state with a zero control; the prediction of row 0 is the state itself.
type Episode struct {
	States    [][]float64
	Predicted [][]float64
	Controls  [][]float64
}

// Result summarizes a finished run.
type Result struct {
	RunID    string
	Dir      string
	Seed     int64
	Episodes []Episode
	Updates  []modeling.Update
	Rollouts []modeling.Rollout
}

// Runner executes one experiment.
type Runner struct {
	cfg *config.Config
	log *zap.Logger

	newPlant  func(name string) (plant.Plant, error)
	plant     plant.Plant
	plantOpen bool

	agent   control.Controller
	buf     *memory.Buffer
	trainer *modeling.Trainer
	store   *history.Store
}

// New validates cfg and returns a Runner for it.
func New(cfg *config.Config, log *zap.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{cfg: cfg, log: log, newPlant: plant.New}, nil
}

// Run executes the experiment and writes its artifacts.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	cfg := r.cfg
	dir := cfg.Dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create experiment folder: %w", err)
	}

	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	if err := cfg.Save(filepath.Join(dir, ConfigFile)); err != nil {
		return nil, err
	}
	res := &Result{RunID: uuid.NewString(), Dir: dir, Seed: cfg.Seed}
	r.log.Info("starting experiment",
		zap.String("name", cfg.Name),
		zap.String("run_id", res.RunID),
		zap.String("dir", dir),
		zap.Int64("seed", cfg.Seed))

	if err := r.setup(ctx, res.RunID); err != nil {
		r.teardown()
		return nil, err
	}
	defer r.teardown()

	// the trainer has stopped once simulate returns
	episodes, err := r.simulate(ctx)
	r.closePlant()
	if err != nil {
		return nil, err
	}
	res.Episodes = episodes
	res.Updates = r.trainer.Updates()

	if err := r.trainer.SaveFinal(); err != nil {
		return nil, err
	}
	if r.store != nil {
		if err := r.store.FinishRun(ctx, time.Now()); err != nil {
			r.log.Warn("cannot finish run in history", zap.Error(err))
		}
	}

	if err := r.writeData(res); err != nil {
		return nil, err
	}
	if r.buf.ValidationFilled() {
		valIn, _ := r.buf.Validation()
		res.Rollouts, err = modeling.CompareModels(dir, valIn, r.buf.NumStates())
		if err != nil {
			return nil, err
		}
		for _, ro := range res.Rollouts {
			r.log.Info("model comparison", zap.String("model", ro.Name), zap.Float64("rmse", ro.RMSE()))
		}
	} else {
		r.log.Warn("validation set not filled; skipping model comparison",
			zap.Int("validation_size", r.buf.ValidationSize()))
	}

	if cfg.Output.Plot {
		if err := r.plot(res); err != nil {
			return nil, err
		}
	}
	if cfg.Output.RenderFrames {
		if err := r.renderFrames(ctx, res); err != nil {
			return nil, err
		}
	}

	r.log.Info("experiment finished",
		zap.String("run_id", res.RunID),
		zap.Int("updates", len(res.Updates)))
	return res, nil
}

// setup builds the plant, the controller, the buffer, the history store and
// the trainer.
func (r *Runner) setup(ctx context.Context, runID string) error {
	cfg := r.cfg

	p, err := r.newPlant(cfg.Simulation.Plant)
	if err != nil {
		return err
	}
	r.plant, r.plantOpen = p, true

	rng := rand.New(rand.NewSource(cfg.Seed))
	r.agent, err = control.New(cfg.Simulation.Controller, p, rng, cfg.Simulation.ExplorationNoise)
	if err != nil {
		return err
	}

	r.buf, err = memory.New(p.NumStates(), p.NumControls(), cfg.Memory.BufferSize, cfg.Memory.ValidationSize, r.log.Named("memory"))
	if err != nil {
		return err
	}

	var opts []modeling.Option
	if cfg.Output.HistoryDB != "" {
		if r.store, err = r.openHistory(ctx, runID); err != nil {
			return err
		}
		opts = append(opts, modeling.WithSink(r.store))
	}

	model := nn.DefaultConfig(r.buf.NumInputs(), r.buf.NumOutputs())
	model.Hidden = cfg.Model.Hidden
	model.Dropout = cfg.Model.Dropout
	model.InitStddev = cfg.Model.InitStddev
	model.LearningRate = cfg.Model.LearningRate

	r.trainer, err = modeling.New(r.buf, modeling.Config{
		Dir:            cfg.Dir(),
		RunID:          runID,
		BatchSize:      cfg.Training.BatchSize,
		UpdateInterval: cfg.UpdateDuration(),
		Model:          model,
		Seed:           cfg.Seed + 1,
	}, r.log.Named("trainer"), opts...)
	return err
}

// openHistory opens the history database, relative paths being resolved
// against the output root, and registers the run.
func (r *Runner) openHistory(ctx context.Context, runID string) (*history.Store, error) {
	cfg := r.cfg
	path := cfg.Output.HistoryDB
	if !filepath.IsAbs(path) {
		path = filepath.Join(cfg.OutputRoot, path)
	}
	store, err := history.Open(path)
	if err != nil {
		return nil, err
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	err = store.BeginRun(ctx, history.Run{
		ID:         runID,
		Name:       cfg.Name,
		Plant:      cfg.Simulation.Plant,
		Controller: cfg.Simulation.Controller,
		Config:     string(raw),
		StartedAt:  time.Now(),
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// closePlant releases the plant. The plant stays readable for rendering.
func (r *Runner) closePlant() {
	if !r.plantOpen {
		return
	}
	r.plantOpen = false
	if err := r.plant.Close(); err != nil {
		r.log.Warn("cannot close plant", zap.Error(err))
	}
}

// teardown closes the plant and the history store. A run that did not get
// to finish is stamped here, so a cancelled run is not left running.
func (r *Runner) teardown() {
	r.closePlant()
	if r.store != nil {
		err := r.store.FinishRun(context.Background(), time.Now())
		if err != nil && !errors.Is(err, history.ErrNoRun) {
			r.log.Warn("cannot finish run in history", zap.Error(err))
		}
		if err := r.store.Close(); err != nil {
			r.log.Warn("cannot close history", zap.Error(err))
		}
	}
}

// simulate runs the episodes with the trainer working in the background.
func (r *Runner) simulate(ctx context.Context) ([]Episode, error) {
	g, gctx := errgroup.WithContext(ctx)
	trainCtx, stopTraining := context.WithCancel(gctx)
	defer stopTraining()

	g.Go(func() error {
		return r.trainer.Run(trainCtx)
	})

	var episodes []Episode
	g.Go(func() error {
		defer stopTraining()
		var err error
		episodes, err = r.episodes(gctx)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return episodes, nil
}

func (r *Runner) episodes(ctx context.Context) ([]Episode, error) {
	cfg := r.cfg
	nEps, nSteps := cfg.Simulation.Episodes, cfg.Simulation.Steps
	stepDt := cfg.StepDuration()
	rng := rand.New(rand.NewSource(cfg.Seed + 2))

	r.log.Info("simulating", zap.Int("episodes", nEps), zap.Int("steps", nSteps), zap.Duration("step_interval", stepDt))

	out := make([]Episode, 0, nEps)
	for i := 0; i < nEps; i++ {
		r.log.Info("episode", zap.Int("episode", i+1), zap.Int("of", nEps))

		state := r.plant.Reset(rng)
		ep := Episode{
			States:    make([][]float64, nSteps),
			Predicted: make([][]float64, nSteps),
			Controls:  make([][]float64, nSteps),
		}
		ep.States[0] = state
		ep.Predicted[0] = state
		ep.Controls[0] = make([]float64, r.plant.NumControls())

		for j := 1; j < nSteps; j++ {
			if j%progressEvery == 0 {
				r.log.Info("time step", zap.Int("step", j), zap.Int("of", nSteps))
			}
			start := time.Now()
			r.trainer.SetProgress(i, j)

			current := state
			u := r.agent.Act(current)

			next, err := r.plant.Step(u)
			if err != nil {
				return nil, fmt.Errorf("episode %d step %d: %w", i+1, j, err)
			}
			if err := r.buf.Add(current, u, next); err != nil {
				return nil, fmt.Errorf("episode %d step %d: %w", i+1, j, err)
			}
			pred, err := r.trainer.PredictNext(current, u)
			if err != nil {
				return nil, fmt.Errorf("episode %d step %d: %w", i+1, j, err)
			}

			state = next
			ep.States[j] = next
			ep.Predicted[j] = pred
			ep.Controls[j] = u

			if err := pace(ctx, stepDt-time.Since(start)); err != nil {
				return nil, err
			}
		}
		out = append(out, ep)
	}
	return out, nil
}

// pace waits for d or until ctx is done.
func pace(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// updateSteps returns the steps of episode k (0-based) at which a new model
// was published.
func updateSteps(updates []modeling.Update, k int) []int {
	var steps []int
	for _, u := range updates {
		if u.Episode == k+1 {
			steps = append(steps, u.Step)
		}
	}
	return steps
}
