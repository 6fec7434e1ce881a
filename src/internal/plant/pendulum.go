package plant

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/spatial/r1"
)

// ------------------------------------------------------------
// Torque-driven swinging pendulum (gym Pendulum-v0)
// ------------------------------------------------------------
//
// States [low, high]:
//   x0 = cos(theta) [-1, 1]
//   x1 = sin(theta) [-1, 1]
//   x2 = theta dot  [-8, 8]
//
// Controls:
//   u0 = torque     [-2, 2]
//
// theta = 0 is upright. Initial angle is uniform in [-pi, pi] and
// initial velocity uniform in [-1, 1].

// PendulumParams are the physical constants of the pendulum.
type PendulumParams struct {
	G         float64 // gravity (m/s^2)
	M         float64 // mass (kg)
	L         float64 // length (m)
	Dt        float64 // sample period (s)
	MaxSpeed  float64 // |theta dot| limit (rad/s)
	MaxTorque float64 // |u| limit (N*m)
}

// Pendulum is the classic underactuated swing-up pendulum.
type Pendulum struct {
	P PendulumParams

	theta    float64
	thetaDot float64
}

// NewPendulum returns a pendulum with the Pendulum-v0 constants.
func NewPendulum() *Pendulum {
	return &Pendulum{P: PendulumParams{
		G:         10.0,
		M:         1.0,
		L:         1.0,
		Dt:        0.05,
		MaxSpeed:  8.0,
		MaxTorque: 2.0,
	}}
}

func (p *Pendulum) Name() string     { return "pendulum" }
func (p *Pendulum) NumStates() int   { return 3 }
func (p *Pendulum) NumControls() int { return 1 }
func (p *Pendulum) Dt() float64      { return p.P.Dt }
func (p *Pendulum) Close() error     { return nil }

func (p *Pendulum) ControlBounds() []r1.Interval {
	return []r1.Interval{{Min: -p.P.MaxTorque, Max: p.P.MaxTorque}}
}

func (p *Pendulum) Reset(rng *rand.Rand) []float64 {
	p.theta = (2*rng.Float64() - 1) * math.Pi
	p.thetaDot = 2*rng.Float64() - 1
	return p.observe()
}

// SetState places the pendulum at a known angle and velocity.
func (p *Pendulum) SetState(theta, thetaDot float64) []float64 {
	p.theta = theta
	p.thetaDot = thetaDot
	return p.observe()
}

func (p *Pendulum) Step(u []float64) ([]float64, error) {
	u, err := clipControl(u, p.ControlBounds())
	if err != nil {
		return nil, err
	}
	g, m, l, dt := p.P.G, p.P.M, p.P.L, p.P.Dt

	newThetaDot := p.thetaDot + (-3*g/(2*l)*math.Sin(p.theta+math.Pi)+3.0/(m*l*l)*u[0])*dt
	newTheta := p.theta + newThetaDot*dt
	newThetaDot = clamp(newThetaDot, -p.P.MaxSpeed, p.P.MaxSpeed)

	p.theta = newTheta
	p.thetaDot = newThetaDot
	return p.observe(), nil
}

func (p *Pendulum) observe() []float64 {
	return []float64{math.Cos(p.theta), math.Sin(p.theta), p.thetaDot}
}
