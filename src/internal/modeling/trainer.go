// Package modeling retrains the plant model in the background while the
// simulation keeps running.
//
// The Trainer owns a private training network. Each update samples a batch
// from the experience buffer, takes one optimizer step, scores the result
// on the validation set and publishes a copy of the weights. Predictions
// always use the latest published copy, so the foreground loop never waits
// for a training step to finish.
package modeling

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/mohammadijoo/Online_Modeling_GO/src/internal/memory"
	"github.com/mohammadijoo/Online_Modeling_GO/src/internal/nn"
)

const (
	InitialModelFile = "initial_model.json"
	FinalModelFile   = "final_model.json"

	// minIdle bounds how fast the loop polls while there is nothing to train on.
	minIdle = 5 * time.Millisecond
)

// ErrRunning is returned by Start when the loop is already running.
var ErrRunning = errors.New("modeling: trainer already running")

// Config configures a Trainer.
type Config struct {
	// Dir receives the initial and final model checkpoints.
	Dir   string
	RunID string

	BatchSize int

	// UpdateInterval is the minimum wall-clock time between two updates.
	UpdateInterval time.Duration

	Model nn.Config
	Seed  int64
}

// Update describes one finished model update.
type Update struct {
	// Episode is 1-based, Step is the simulation step at the time of the update.
	Episode int
	Step    int

	Loss    float64
	ValLoss float64
	At      time.Time
}

// UpdateSink receives every update, e.g. to persist it.
type UpdateSink interface {
	RecordUpdate(ctx context.Context, u Update) error
}

// Trainer runs model updates in the background.
type Trainer struct {
	cfg  Config
	buf  *memory.Buffer
	log  *zap.Logger
	sink UpdateSink

	// owned by the update loop
	rng        *rand.Rand
	net        *nn.Network
	valX, valY *mat.Dense

	published atomic.Pointer[nn.Network]
	episode   atomic.Int64
	step      atomic.Int64

	mu      sync.Mutex
	updates []Update
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error
}

// Option configures optional Trainer collaborators.
type Option func(*Trainer)

// WithSink forwards every update to s.
func WithSink(s UpdateSink) Option {
	return func(t *Trainer) { t.sink = s }
}

// New creates the initial model and saves it to Dir/initial_model.json.
func New(buf *memory.Buffer, cfg Config, log *zap.Logger, opts ...Option) (*Trainer, error) {
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("modeling: batch size must be positive, got %d", cfg.BatchSize)
	}
	if log == nil {
		log = zap.NewNop()
	}
	cfg.Model.Inputs = buf.NumInputs()
	cfg.Model.Outputs = buf.NumOutputs()

	rng := rand.New(rand.NewSource(cfg.Seed))
	log.Info("initializing model", zap.Ints("hidden", cfg.Model.Hidden), zap.Int("inputs", cfg.Model.Inputs), zap.Int("outputs", cfg.Model.Outputs))
	net, err := nn.New(cfg.Model, rng)
	if err != nil {
		return nil, fmt.Errorf("modeling: cannot create model: %w", err)
	}

	t := &Trainer{
		cfg: cfg,
		buf: buf,
		log: log,
		rng: rng,
		net: net,
	}
	for _, o := range opts {
		o(t)
	}
	t.published.Store(net.Clone())

	if cfg.Dir != "" {
		if err := net.Save(filepath.Join(cfg.Dir, InitialModelFile), cfg.RunID); err != nil {
			return nil, fmt.Errorf("modeling: cannot save initial model: %w", err)
		}
	}
	return t, nil
}

// SetProgress records the foreground position; updates are tagged with it.
func (t *Trainer) SetProgress(episode, step int) {
	t.episode.Store(int64(episode))
	t.step.Store(int64(step))
}

// Run performs updates until ctx is done. It returns nil on cancellation.
func (t *Trainer) Run(ctx context.Context) error {
	t.log.Info("model updates started",
		zap.Int("batch_size", t.cfg.BatchSize),
		zap.Duration("interval", t.cfg.UpdateInterval))
	defer t.log.Info("model updates stopped", zap.Int("updates", t.NumUpdates()))

	for {
		start := time.Now()

		updated, err := t.update(ctx)
		if err != nil {
			return err
		}

		wait := t.cfg.UpdateInterval - time.Since(start)
		if !updated && wait < minIdle {
			wait = minIdle
		}
		if wait <= 0 {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Start runs the update loop on its own goroutine until Close.
func (t *Trainer) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done != nil {
		return ErrRunning
	}
	ctx, t.cancel = context.WithCancel(ctx)
	done := make(chan struct{})
	t.done = done
	t.runErr = nil
	go func() {
		defer close(done)
		err := t.Run(ctx)
		t.mu.Lock()
		t.runErr = err
		t.mu.Unlock()
	}()
	return nil
}

// Close stops a loop started with Start and waits for it to exit. The
// trainer can be started again afterwards.
func (t *Trainer) Close() error {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.mu.Unlock()
	if done == nil {
		return nil
	}
	cancel()
	<-done

	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancel, t.done = nil, nil
	return t.runErr
}

// update trains on one batch. It reports false when there was nothing to do.
func (t *Trainer) update(ctx context.Context) (bool, error) {
	x, y, ok := t.buf.Batch(t.cfg.BatchSize, t.rng)
	if !t.buf.ValidationFilled() || !ok {
		return false, nil
	}
	if t.valX == nil {
		t.valX, t.valY = t.buf.Validation()
	}

	loss, err := t.net.TrainBatch(x, y, t.rng)
	if err != nil {
		return false, fmt.Errorf("modeling: training step: %w", err)
	}
	valLoss, err := t.net.Loss(t.valX, t.valY)
	if err != nil {
		return false, fmt.Errorf("modeling: validation: %w", err)
	}
	t.published.Store(t.net.Clone())

	u := Update{
		Episode: int(t.episode.Load()) + 1,
		Step:    int(t.step.Load()),
		Loss:    loss,
		ValLoss: valLoss,
		At:      time.Now(),
	}
	t.mu.Lock()
	t.updates = append(t.updates, u)
	t.mu.Unlock()

	if t.sink != nil {
		if err := t.sink.RecordUpdate(ctx, u); err != nil {
			t.log.Warn("cannot record model update", zap.Error(err))
		}
	}
	t.log.Debug("model updated",
		zap.Int("episode", u.Episode),
		zap.Int("step", u.Step),
		zap.Float64("loss", loss),
		zap.Float64("val_loss", valLoss))
	return true, nil
}

// PredictNext returns state + model(state, control) with the latest weights.
func (t *Trainer) PredictNext(state, control []float64) ([]float64, error) {
	return PredictNext(t.published.Load(), state, control)
}

// PredictNext integrates one predicted state delta with net.
func PredictNext(net *nn.Network, state, control []float64) ([]float64, error) {
	in := make([]float64, 0, len(state)+len(control))
	in = append(in, state...)
	in = append(in, control...)
	delta, err := net.PredictOne(in)
	if err != nil {
		return nil, err
	}
	if len(delta) != len(state) {
		return nil, fmt.Errorf("%w: model predicts %d states, have %d", nn.ErrShape, len(delta), len(state))
	}
	next := make([]float64, len(state))
	for i := range next {
		next[i] = state[i] + delta[i]
	}
	return next, nil
}

// Model returns the latest published network.
func (t *Trainer) Model() *nn.Network { return t.published.Load() }

// Updates returns a copy of every update so far.
func (t *Trainer) Updates() []Update {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Update(nil), t.updates...)
}

// NumUpdates returns the number of updates so far.
func (t *Trainer) NumUpdates() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.updates)
}

// SaveFinal writes the latest published model to Dir/final_model.json.
func (t *Trainer) SaveFinal() error {
	path := filepath.Join(t.cfg.Dir, FinalModelFile)
	if err := t.Model().Save(path, t.cfg.RunID); err != nil {
		return fmt.Errorf("modeling: cannot save final model: %w", err)
	}
	t.log.Info("saved final model", zap.String("path", path))
	return nil
}
