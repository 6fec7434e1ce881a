package memory

import (
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// addN adds n experiences whose first state component counts from first.
func addN(t *testing.T, b *Buffer, first, n int) {
	t.Helper()
	for i := first; i < first+n; i++ {
		s := float64(i)
		require.NoError(t, b.Add([]float64{s, 0}, []float64{-s}, []float64{s + 1, 2}))
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(0, 1, 10, 10, nil)
	assert.True(t, errors.Is(err, ErrDimension))

	_, err = New(2, 1, 0, 10, nil)
	assert.Error(t, err)

	b, err := New(3, 1, 10, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, b.NumInputs())
	assert.Equal(t, 3, b.NumOutputs())
}

func TestAdd_FillsValidationFirst(t *testing.T) {
	b, err := New(2, 1, 4, 3, nil)
	require.NoError(t, err)

	addN(t, b, 0, 2)
	assert.False(t, b.ValidationFilled())
	assert.Equal(t, 0, b.Len())

	addN(t, b, 2, 1)
	assert.True(t, b.ValidationFilled())
	assert.Equal(t, 0, b.Len())

	in, out := b.Validation()
	for i := 0; i < 3; i++ {
		s := float64(i)
		assert.Equal(t, []float64{s, 0, -s}, mat.Row(nil, i, in))
		assert.Equal(t, []float64{1, 2}, mat.Row(nil, i, out))
	}

	addN(t, b, 3, 2)
	assert.Equal(t, 2, b.Len())
	in, _ = b.Validation()
	assert.Equal(t, 2.0, in.At(2, 0), "validation set must not change once full")
}

func TestAdd_WrapsAndOverwritesOldest(t *testing.T) {
	b, err := New(2, 1, 4, 1, nil)
	require.NoError(t, err)

	addN(t, b, 0, 1) // validation
	addN(t, b, 1, 4)
	assert.False(t, b.Filled(), "buffer is marked filled on the first wrap")
	assert.Equal(t, 4, b.Len())

	addN(t, b, 5, 1)
	assert.True(t, b.Filled())
	assert.Equal(t, 4, b.Len())
	assert.Equal(t, 5.0, b.in.At(0, 0))
	assert.Equal(t, 2.0, b.in.At(1, 0))
}

func TestAdd_DimensionMismatch(t *testing.T) {
	b, err := New(2, 1, 4, 1, nil)
	require.NoError(t, err)

	err = b.Add([]float64{0}, []float64{0}, []float64{0, 0})
	assert.True(t, errors.Is(err, ErrDimension))
	err = b.Add([]float64{0, 0}, []float64{}, []float64{0, 0})
	assert.True(t, errors.Is(err, ErrDimension))
}

func TestBatch_NotEnoughData(t *testing.T) {
	b, err := New(2, 1, 10, 2, nil)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(1))

	_, _, ok := b.Batch(3, rng)
	assert.False(t, ok)

	addN(t, b, 0, 2+3) // validation + 3 experiences
	_, _, ok = b.Batch(3, rng)
	assert.False(t, ok, "batch must be strictly smaller than the written count")

	addN(t, b, 5, 1)
	in, out, ok := b.Batch(3, rng)
	require.True(t, ok)
	r, c := in.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 3, c)
	r, c = out.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 2, c)

	_, _, ok = b.Batch(0, rng)
	assert.False(t, ok)
}

func TestBatch_WindowBoundsBeforeWrap(t *testing.T) {
	b, err := New(2, 1, 50, 1, nil)
	require.NoError(t, err)
	addN(t, b, 0, 1)
	addN(t, b, 1, 10) // rows hold first-state values 1..10

	rng := rand.New(rand.NewSource(2))
	starts := map[float64]bool{}
	for i := 0; i < 500; i++ {
		in, _, ok := b.Batch(4, rng)
		require.True(t, ok)
		first := in.At(0, 0)
		starts[first] = true
		for r := 1; r < 4; r++ {
			assert.Equal(t, first+float64(r), in.At(r, 0), "batch rows are contiguous")
		}
		assert.LessOrEqual(t, in.At(3, 0), 10.0)
	}
	// start in [0, counter-batch) => first values 1..6
	assert.Len(t, starts, 6)
}

func TestBatch_WindowBoundsAfterWrap(t *testing.T) {
	b, err := New(2, 1, 8, 1, nil)
	require.NoError(t, err)
	addN(t, b, 0, 1)
	addN(t, b, 1, 9)
	require.True(t, b.Filled())

	rng := rand.New(rand.NewSource(3))
	rows := map[float64]bool{}
	for i := 0; i < 500; i++ {
		in, _, ok := b.Batch(5, rng)
		require.True(t, ok)
		rows[in.At(0, 0)] = true
	}
	// start in [0, size-batch) => starting rows 0, 1, 2
	assert.Len(t, rows, 3)

	_, _, ok := b.Batch(8, rng)
	assert.False(t, ok)
}

func TestBatch_ReturnsCopies(t *testing.T) {
	b, err := New(2, 1, 8, 1, nil)
	require.NoError(t, err)
	addN(t, b, 0, 6)

	in, _, ok := b.Batch(2, rand.New(rand.NewSource(4)))
	require.True(t, ok)
	in.Set(0, 0, 1e9)
	for i := 0; i < b.Len(); i++ {
		assert.NotEqual(t, 1e9, b.in.At(i, 0))
	}

	vin, _ := b.Validation()
	vin.Set(0, 0, 1e9)
	assert.Equal(t, 0.0, b.valIn.At(0, 0))
}

func TestBuffer_ConcurrentAccess(t *testing.T) {
	b, err := New(2, 1, 32, 4, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			s := float64(i)
			_ = b.Add([]float64{s, s}, []float64{s}, []float64{s, s})
		}
	}()
	go func() {
		defer wg.Done()
		rng := rand.New(rand.NewSource(5))
		for i := 0; i < 2000; i++ {
			if in, _, ok := b.Batch(8, rng); ok {
				r, _ := in.Dims()
				assert.Equal(t, 8, r)
			}
			b.Validation()
		}
	}()
	wg.Wait()
	assert.True(t, b.Filled())
}
