package control

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammadijoo/Online_Modeling_GO/src/internal/plant"
)

func TestRandom_StaysInBounds(t *testing.T) {
	p := plant.NewPendulum()
	c := NewRandom(p.ControlBounds(), rand.New(rand.NewSource(7)))

	lo, hi := 0.0, 0.0
	for i := 0; i < 1000; i++ {
		u := c.Act(nil)
		require.Len(t, u, 1)
		assert.GreaterOrEqual(t, u[0], -2.0)
		assert.Less(t, u[0], 2.0)
		lo = math.Min(lo, u[0])
		hi = math.Max(hi, u[0])
	}
	// the whole interval gets visited
	assert.Less(t, lo, -1.9)
	assert.Greater(t, hi, 1.9)
}

func TestNew(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	c, err := New("random", plant.NewPendulum(), rng, 0)
	require.NoError(t, err)
	assert.IsType(t, &Random{}, c)

	c, err = New("sliding-mode", plant.NewCartPole(plant.DefaultCartPoleParams()), rng, 0.1)
	require.NoError(t, err)
	assert.IsType(t, &SlidingMode{}, c)

	_, err = New("sliding-mode", plant.NewPendulum(), rng, 0)
	assert.Error(t, err)

	_, err = New("pid", plant.NewPendulum(), rng, 0)
	assert.Error(t, err)
}

func TestSlidingMode_ZeroAtEquilibrium(t *testing.T) {
	p := plant.DefaultCartPoleParams()
	smc := NewSlidingMode(p, DefaultSlidingModeParams(p.UMax), rand.New(rand.NewSource(1)), 0)

	u := smc.Act([]float64{0, 0, 0, 0})
	assert.InDelta(t, 0, u[0], 1e-12)
}

func TestSlidingMode_PushesUnderTheLean(t *testing.T) {
	p := plant.DefaultCartPoleParams()
	c := DefaultSlidingModeParams(p.UMax)

	assert.Greater(t, ComputeControl(p, c, plant.CartPoleState{Theta: 0.1}), 0.0)
	assert.Less(t, ComputeControl(p, c, plant.CartPoleState{Theta: -0.1}), 0.0)
}

func TestSlidingMode_RespectsSaturation(t *testing.T) {
	p := plant.DefaultCartPoleParams()
	c := DefaultSlidingModeParams(p.UMax)

	u := ComputeControl(p, c, plant.CartPoleState{Theta: 1.0, ThetaDot: 3.0})
	assert.LessOrEqual(t, math.Abs(u), p.UMax)

	smc := NewSlidingMode(p, c, rand.New(rand.NewSource(1)), 5)
	for i := 0; i < 100; i++ {
		assert.LessOrEqual(t, math.Abs(smc.Act([]float64{0, 0, 0.1, 0})[0]), p.UMax)
	}
}
