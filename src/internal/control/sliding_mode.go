package control

import (
	"math"
	"math/rand"

	"github.com/mohammadijoo/Online_Modeling_GO/src/internal/plant"
)

// SlidingModeParams configures the sliding-mode law
//
//	s = theta_dot + lambda_theta*theta + alpha*(x_dot + lambda_x*x)
type SlidingModeParams struct {
	LambdaTheta float64
	LambdaX     float64
	Alpha       float64

	// Sliding mode dynamics: sdot = -K*sat(s/Phi)
	K   float64
	Phi float64

	// Actuator saturation
	UMax float64

	// Cart centering (only near upright)
	HoldKp float64
	HoldKd float64

	// When |theta| >= ThetaGate, centering is ~0
	ThetaGate float64
}

// DefaultSlidingModeParams returns gains for the reference cart-pole sampled
// at 50 Hz. K/Phi*dt stays below 1 so the held control does not chatter.
func DefaultSlidingModeParams(uMax float64) SlidingModeParams {
	return SlidingModeParams{
		LambdaTheta: 10.0,
		LambdaX:     1.5,
		Alpha:       0.55,
		K:           20.0,
		Phi:         0.5,
		UMax:        uMax,
		HoldKp:      8.0,
		HoldKd:      10.0,
		ThetaGate:   0.20,
	}
}

// SlidingMode balances the cart-pole and adds Gaussian exploration noise so
// the recorded transitions still excite the dynamics.
type SlidingMode struct {
	Plant plant.CartPoleParams
	C     SlidingModeParams

	// Noise is the exploration stddev as a fraction of UMax.
	Noise float64

	rng *rand.Rand
}

// NewSlidingMode returns a sliding-mode controller for the given plant.
func NewSlidingMode(p plant.CartPoleParams, c SlidingModeParams, rng *rand.Rand, noise float64) *SlidingMode {
	return &SlidingMode{Plant: p, C: c, Noise: noise, rng: rng}
}

func (sm *SlidingMode) Act(state []float64) []float64 {
	u := ComputeControl(sm.Plant, sm.C, plant.CartPoleStateOf(state))
	if sm.Noise > 0 {
		u += sm.rng.NormFloat64() * sm.Noise * sm.C.UMax
	}
	return []float64{clamp(u, -sm.C.UMax, sm.C.UMax)}
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

// sat implements a boundary-layer saturation.
func sat(z float64) float64 { return clamp(z, -1.0, 1.0) }

// SlidingSurface computes the surface value s(x).
func SlidingSurface(c SlidingModeParams, s plant.CartPoleState) float64 {
	return s.ThetaDot +
		c.LambdaTheta*s.Theta +
		c.Alpha*(s.XDot+c.LambdaX*s.X)
}

// slidingSurfaceDotNominal estimates sdot with the disturbance ignored.
func slidingSurfaceDotNominal(p plant.CartPoleParams, c SlidingModeParams, s plant.CartPoleState, uCart float64) float64 {
	xDDot, thetaDDot := plant.Dynamics(p, s, uCart, 0.0)
	return thetaDDot +
		c.LambdaTheta*s.ThetaDot +
		c.Alpha*(xDDot+c.LambdaX*s.XDot)
}

// ComputeControl computes the saturated cart force using a numeric affine
// approximation sdot(u) ≈ a*u + b.
func ComputeControl(p plant.CartPoleParams, c SlidingModeParams, s plant.CartPoleState) float64 {
	sval := SlidingSurface(c, s)
	desiredSDot := -c.K * sat(sval/c.Phi)

	sdot0 := slidingSurfaceDotNominal(p, c, s, 0.0)
	sdot1 := slidingSurfaceDotNominal(p, c, s, 1.0)
	a := sdot1 - sdot0
	b := sdot0

	uSmc := 0.0
	if math.Abs(a) >= 1e-8 {
		uSmc = (desiredSDot - b) / a
	}

	gate := clamp(1.0-math.Abs(s.Theta)/c.ThetaGate, 0.0, 1.0)
	uHold := gate * (-c.HoldKp*s.X - c.HoldKd*s.XDot)

	return clamp(uSmc+uHold, -c.UMax, c.UMax)
}
