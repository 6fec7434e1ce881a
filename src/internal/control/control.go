// Package control provides the agents that drive the plant during an
// experiment.
package control

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/spatial/r1"

	"github.com/mohammadijoo/Online_Modeling_GO/src/internal/plant"
)

// Controller computes a control vector from the current observation.
type Controller interface {
	Act(state []float64) []float64
}

// New creates a controller by name for the given plant.
func New(name string, p plant.Plant, rng *rand.Rand, noise float64) (Controller, error) {
	switch name {
	case "random":
		return NewRandom(p.ControlBounds(), rng), nil
	case "sliding-mode":
		cp, ok := p.(*plant.CartPole)
		if !ok {
			return nil, fmt.Errorf("control: sliding-mode needs a cartpole plant, got %s", p.Name())
		}
		return NewSlidingMode(cp.P, DefaultSlidingModeParams(cp.P.UMax), rng, noise), nil
	default:
		return nil, fmt.Errorf("control: unknown controller %q", name)
	}
}

// Random samples every control uniformly inside its bounds.
type Random struct {
	bounds []r1.Interval
	rng    *rand.Rand
}

// NewRandom returns a controller that ignores the state.
func NewRandom(bounds []r1.Interval, rng *rand.Rand) *Random {
	return &Random{bounds: bounds, rng: rng}
}

func (r *Random) Act([]float64) []float64 {
	u := make([]float64, len(r.bounds))
	for i, b := range r.bounds {
		u[i] = b.Min + r.rng.Float64()*(b.Max-b.Min)
	}
	return u
}
