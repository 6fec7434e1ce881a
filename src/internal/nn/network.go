// Package nn is a small fully connected regression network on gonum/mat.
//
// The network maps a row of inputs to a row of outputs through ReLU hidden
// layers and a linear output layer. It is trained with mean squared error
// and Adam, one batch at a time. A Network is not safe for concurrent use;
// callers that predict while training publish Clones.
package nn

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// ErrShape is returned when data does not match the network dimensions.
var ErrShape = errors.New("nn: shape mismatch")

// Config describes the architecture and optimizer of a Network.
type Config struct {
	Inputs  int   `json:"inputs"`
	Outputs int   `json:"outputs"`
	Hidden  []int `json:"hidden"`

	// Dropout is applied after every hidden layer but the first.
	Dropout float64 `json:"dropout"`

	// InitStddev is the stddev of the normal weight initializer.
	InitStddev float64 `json:"init_stddev"`

	LearningRate float64 `json:"learning_rate"`
	Beta1        float64 `json:"beta1"`
	Beta2        float64 `json:"beta2"`
	Epsilon      float64 `json:"epsilon"`
}

// DefaultConfig returns the reference architecture for the given dimensions.
func DefaultConfig(inputs, outputs int) Config {
	return Config{
		Inputs:       inputs,
		Outputs:      outputs,
		Hidden:       []int{220, 160, 130},
		Dropout:      0.2,
		InitStddev:   0.05,
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-7,
	}
}

func (c Config) validate() error {
	if c.Inputs < 1 || c.Outputs < 1 {
		return fmt.Errorf("%w: %d inputs, %d outputs", ErrShape, c.Inputs, c.Outputs)
	}
	for i, h := range c.Hidden {
		if h < 1 {
			return fmt.Errorf("%w: hidden layer %d has width %d", ErrShape, i, h)
		}
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("nn: dropout %g out of [0, 1)", c.Dropout)
	}
	return nil
}

type layer struct {
	w *mat.Dense // in x out
	b *mat.Dense // 1 x out

	relu    bool
	dropout float64

	// Adam moments
	mw, vw *mat.Dense
	mb, vb *mat.Dense
}

func newLayer(in, out int, relu bool, dropout float64) *layer {
	return &layer{
		w:       mat.NewDense(in, out, nil),
		b:       mat.NewDense(1, out, nil),
		relu:    relu,
		dropout: dropout,
		mw:      mat.NewDense(in, out, nil),
		vw:      mat.NewDense(in, out, nil),
		mb:      mat.NewDense(1, out, nil),
		vb:      mat.NewDense(1, out, nil),
	}
}

// Network is a multilayer perceptron.
type Network struct {
	cfg    Config
	layers []*layer
	step   int // Adam time step
}

// New creates a network with normally distributed weights and zero biases.
func New(cfg Config, rng *rand.Rand) (*Network, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	n := build(cfg)
	for _, l := range n.layers {
		raw := l.w.RawMatrix().Data
		for i := range raw {
			raw[i] = rng.NormFloat64() * cfg.InitStddev
		}
	}
	return n, nil
}

func build(cfg Config) *Network {
	n := &Network{cfg: cfg}
	in := cfg.Inputs
	for i, h := range cfg.Hidden {
		dropout := 0.0
		if i > 0 {
			dropout = cfg.Dropout
		}
		n.layers = append(n.layers, newLayer(in, h, true, dropout))
		in = h
	}
	n.layers = append(n.layers, newLayer(in, cfg.Outputs, false, 0))
	return n
}

// Config returns the network configuration.
func (n *Network) Config() Config { return n.cfg }

// Clone returns a deep copy of the weights. The optimizer state is reset.
func (n *Network) Clone() *Network {
	c := build(n.cfg)
	for i, l := range n.layers {
		c.layers[i].w.Copy(l.w)
		c.layers[i].b.Copy(l.b)
	}
	return c
}

// Predict evaluates the network on every row of x without dropout.
func (n *Network) Predict(x mat.Matrix) (*mat.Dense, error) {
	if _, c := x.Dims(); c != n.cfg.Inputs {
		return nil, fmt.Errorf("%w: %d input columns, want %d", ErrShape, c, n.cfg.Inputs)
	}
	acts, _, _ := n.forward(x, nil)
	return acts[len(acts)-1], nil
}

// PredictOne evaluates a single input row.
func (n *Network) PredictOne(x []float64) ([]float64, error) {
	out, err := n.Predict(mat.NewDense(1, len(x), append([]float64(nil), x...)))
	if err != nil {
		return nil, err
	}
	return mat.Row(nil, 0, out), nil
}

// Loss returns the mean squared error on (x, y) without dropout.
func (n *Network) Loss(x, y mat.Matrix) (float64, error) {
	pred, err := n.Predict(x)
	if err != nil {
		return 0, err
	}
	if err := checkTargets(pred, y); err != nil {
		return 0, err
	}
	return mse(pred, y), nil
}

// TrainBatch runs one forward pass with dropout, backpropagates the mean
// squared error and applies one Adam step. It returns the batch loss
// measured before the update.
func (n *Network) TrainBatch(x, y mat.Matrix, rng *rand.Rand) (float64, error) {
	if _, c := x.Dims(); c != n.cfg.Inputs {
		return 0, fmt.Errorf("%w: %d input columns, want %d", ErrShape, c, n.cfg.Inputs)
	}
	acts, pre, masks := n.forward(x, rng)
	pred := acts[len(acts)-1]
	if err := checkTargets(pred, y); err != nil {
		return 0, err
	}
	loss := mse(pred, y)

	// d(mean((pred-y)^2))/d(pred)
	r, c := pred.Dims()
	grad := &mat.Dense{}
	grad.Sub(pred, y)
	grad.Scale(2/float64(r*c), grad)

	n.step++
	for i := len(n.layers) - 1; i >= 0; i-- {
		l := n.layers[i]
		if masks[i] != nil {
			grad.MulElem(grad, masks[i])
		}
		if l.relu {
			z := pre[i]
			grad.Apply(func(r, c int, v float64) float64 {
				if z.At(r, c) > 0 {
					return v
				}
				return 0
			}, grad)
		}

		dw := &mat.Dense{}
		dw.Mul(acts[i].T(), grad)
		db := columnSums(grad)

		// gradient for the layer below, taken before this layer moves
		var prev *mat.Dense
		if i > 0 {
			prev = &mat.Dense{}
			prev.Mul(grad, l.w.T())
		}

		n.adam(l.w, dw, l.mw, l.vw)
		n.adam(l.b, db, l.mb, l.vb)

		grad = prev
	}
	return loss, nil
}

// forward returns the activations (acts[0] is the input, acts[i+1] the output
// of layer i), the pre-activations of each layer and the dropout masks.
// rng == nil disables dropout.
func (n *Network) forward(x mat.Matrix, rng *rand.Rand) (acts []*mat.Dense, pre []*mat.Dense, masks []*mat.Dense) {
	acts = append(acts, mat.DenseCopyOf(x))
	pre = make([]*mat.Dense, len(n.layers))
	masks = make([]*mat.Dense, len(n.layers))

	for i, l := range n.layers {
		z := &mat.Dense{}
		z.Mul(acts[i], l.w)
		z.Apply(func(_, c int, v float64) float64 { return v + l.b.At(0, c) }, z)
		pre[i] = z

		a := mat.DenseCopyOf(z)
		if l.relu {
			a.Apply(func(_, _ int, v float64) float64 { return math.Max(v, 0) }, a)
		}
		if rng != nil && l.dropout > 0 {
			r, c := a.Dims()
			keep := 1 - l.dropout
			mask := mat.NewDense(r, c, nil)
			raw := mask.RawMatrix().Data
			for k := range raw {
				if rng.Float64() < keep {
					raw[k] = 1 / keep
				}
			}
			a.MulElem(a, mask)
			masks[i] = mask
		}
		acts = append(acts, a)
	}
	return acts, pre, masks
}

// adam applies one Adam update of param with gradient g.
func (n *Network) adam(param, g, m, v *mat.Dense) {
	b1, b2 := n.cfg.Beta1, n.cfg.Beta2
	t := float64(n.step)
	lr := n.cfg.LearningRate * math.Sqrt(1-math.Pow(b2, t)) / (1 - math.Pow(b1, t))

	p := param.RawMatrix().Data
	gd := g.RawMatrix().Data
	md := m.RawMatrix().Data
	vd := v.RawMatrix().Data
	for k := range p {
		md[k] = b1*md[k] + (1-b1)*gd[k]
		vd[k] = b2*vd[k] + (1-b2)*gd[k]*gd[k]
		p[k] -= lr * md[k] / (math.Sqrt(vd[k]) + n.cfg.Epsilon)
	}
}

func columnSums(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(1, c, nil)
	for j := 0; j < c; j++ {
		s := 0.0
		for i := 0; i < r; i++ {
			s += m.At(i, j)
		}
		out.Set(0, j, s)
	}
	return out
}

func checkTargets(pred, y mat.Matrix) error {
	pr, pc := pred.Dims()
	yr, yc := y.Dims()
	if pr != yr || pc != yc {
		return fmt.Errorf("%w: targets %dx%d, predictions %dx%d", ErrShape, yr, yc, pr, pc)
	}
	return nil
}

func mse(pred, y mat.Matrix) float64 {
	r, c := pred.Dims()
	s := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			d := pred.At(i, j) - y.At(i, j)
			s += d * d
		}
	}
	return s / float64(r*c)
}
