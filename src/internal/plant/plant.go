// Package plant implements the simulated dynamical systems that are
// identified online.
package plant

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/spatial/r1"
)

// ErrDimension is returned when a control vector has the wrong length.
var ErrDimension = errors.New("plant: control dimension mismatch")

// Plant is a discrete-time dynamical system driven by a bounded control.
type Plant interface {
	Name() string
	NumStates() int
	NumControls() int

	// ControlBounds returns one interval per control input.
	ControlBounds() []r1.Interval

	// Reset draws a new initial state and returns the first observation.
	Reset(rng *rand.Rand) []float64

	// Step applies u for one sample period and returns the next observation.
	// Controls outside ControlBounds are clipped.
	Step(u []float64) ([]float64, error)

	// Dt is the sample period in seconds.
	Dt() float64

	Close() error
}

// New creates a plant by name.
func New(name string) (Plant, error) {
	switch name {
	case "pendulum":
		return NewPendulum(), nil
	case "cartpole":
		return NewCartPole(DefaultCartPoleParams()), nil
	default:
		return nil, fmt.Errorf("plant: unknown plant %q", name)
	}
}

// ------------------------------------------------------------
// Small math helpers
// ------------------------------------------------------------

// clamp bounds x into [lo, hi].
func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// wrapToPi wraps an angle to [-π, π] to avoid numeric drift.
func wrapToPi(a float64) float64 {
	for a > math.Pi {
		a -= 2.0 * math.Pi
	}
	for a < -math.Pi {
		a += 2.0 * math.Pi
	}
	return a
}

// clipControl checks the dimension of u and clips it into bounds.
func clipControl(u []float64, bounds []r1.Interval) ([]float64, error) {
	if len(u) != len(bounds) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimension, len(u), len(bounds))
	}
	out := make([]float64, len(u))
	for i, b := range bounds {
		out[i] = clamp(u[i], b.Min, b.Max)
	}
	return out, nil
}

// Angle recovers the pole angle from an observation of the given plant.
// Pendulum observations carry (cos θ, sin θ); cart-pole observations carry θ.
func Angle(p Plant, obs []float64) float64 {
	switch p.(type) {
	case *CartPole:
		return obs[2]
	default:
		return math.Atan2(obs[1], obs[0])
	}
}
