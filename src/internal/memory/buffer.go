// Package memory stores the experienced transitions used to fit the model.
//
// An experience maps [state, control] to next_state - state. The first
// experiences of a run go to a fixed validation set; once it is full every
// further experience goes to a ring buffer that overwrites its oldest
// entries. The model is trained on batches of the ring buffer and evaluated
// on the validation set, which it never trains on.
package memory

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// ErrDimension is returned when an experience has the wrong shape.
var ErrDimension = errors.New("memory: experience dimension mismatch")

// Buffer is a fixed capacity experience buffer with a separate validation
// set. It is safe for one writer and any number of readers.
type Buffer struct {
	mu  sync.RWMutex
	log *zap.Logger

	nStates   int
	nControls int

	size    int
	in      *mat.Dense // size x NumInputs
	out     *mat.Dense // size x NumOutputs
	counter int        // row where the next experience goes
	filled  bool       // true once counter wrapped for the first time

	valSize    int
	valIn      *mat.Dense
	valOut     *mat.Dense
	valCounter int
	valFilled  bool
}

// New allocates a buffer of bufferSize experiences and a validation set of
// valSize experiences.
func New(nStates, nControls, bufferSize, valSize int, log *zap.Logger) (*Buffer, error) {
	if nStates < 1 || nControls < 1 {
		return nil, fmt.Errorf("%w: %d states, %d controls", ErrDimension, nStates, nControls)
	}
	if bufferSize < 1 || valSize < 1 {
		return nil, fmt.Errorf("memory: sizes must be positive, got buffer %d, validation %d", bufferSize, valSize)
	}
	if log == nil {
		log = zap.NewNop()
	}
	nIn := nStates + nControls
	return &Buffer{
		log:       log,
		nStates:   nStates,
		nControls: nControls,
		size:      bufferSize,
		in:        mat.NewDense(bufferSize, nIn, nil),
		out:       mat.NewDense(bufferSize, nStates, nil),
		valSize:   valSize,
		valIn:     mat.NewDense(valSize, nIn, nil),
		valOut:    mat.NewDense(valSize, nStates, nil),
	}, nil
}

func (b *Buffer) NumStates() int   { return b.nStates }
func (b *Buffer) NumControls() int { return b.nControls }
func (b *Buffer) NumInputs() int   { return b.nStates + b.nControls }
func (b *Buffer) NumOutputs() int  { return b.nStates }
func (b *Buffer) Size() int        { return b.size }
func (b *Buffer) ValidationSize() int {
	return b.valSize
}

// Add records one transition. The validation set is filled first, then the
// ring buffer.
func (b *Buffer) Add(state, control, next []float64) error {
	if len(state) != b.nStates || len(next) != b.nStates || len(control) != b.nControls {
		return fmt.Errorf("%w: state %d, control %d, next %d", ErrDimension, len(state), len(control), len(next))
	}
	row := make([]float64, 0, b.NumInputs())
	row = append(row, state...)
	row = append(row, control...)
	delta := make([]float64, b.nStates)
	for i := range delta {
		delta[i] = next[i] - state[i]
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.valFilled {
		b.valIn.SetRow(b.valCounter, row)
		b.valOut.SetRow(b.valCounter, delta)
		b.valCounter++
		if b.valCounter == b.valSize {
			b.valFilled = true
			b.log.Info("filled validation set", zap.Int("size", b.valSize))
		}
		return nil
	}

	if b.counter >= b.size {
		b.counter = 0
		b.filled = true
	}
	b.in.SetRow(b.counter, row)
	b.out.SetRow(b.counter, delta)
	b.counter++
	return nil
}

// Batch returns a contiguous window of batchSize experiences starting at a
// uniformly drawn row. Before the buffer wrapped the window lies inside the
// written rows. ok is false when there are not more than batchSize
// experiences to draw from. The returned matrices are copies.
func (b *Buffer) Batch(batchSize int, rng *rand.Rand) (in, out *mat.Dense, ok bool) {
	if batchSize < 1 {
		return nil, nil, false
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var avail int
	switch {
	case b.filled:
		avail = b.size
	case batchSize < b.counter:
		avail = b.counter
	default:
		return nil, nil, false
	}
	if batchSize >= avail {
		return nil, nil, false
	}

	start := rng.Intn(avail - batchSize)
	end := start + batchSize
	in = mat.DenseCopyOf(b.in.Slice(start, end, 0, b.NumInputs()))
	out = mat.DenseCopyOf(b.out.Slice(start, end, 0, b.NumOutputs()))
	return in, out, true
}

// Validation returns copies of the validation inputs and outputs. Rows that
// have not been written yet are zero.
func (b *Buffer) Validation() (in, out *mat.Dense) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return mat.DenseCopyOf(b.valIn), mat.DenseCopyOf(b.valOut)
}

// ValidationFilled reports whether the validation set is complete.
func (b *Buffer) ValidationFilled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.valFilled
}

// Filled reports whether the ring buffer has wrapped at least once.
func (b *Buffer) Filled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.filled
}

// Len returns the number of valid experiences in the ring buffer.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.filled {
		return b.size
	}
	return b.counter
}
