package plant

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/spatial/r1"
)

// ------------------------------------------------------------
// Cart–pole inverted pendulum (moving base)
// ------------------------------------------------------------
//
// States:   [x, x_dot, theta, theta_dot], theta = 0 is upright
// Controls: [force on cart], |u| <= UMax
//
// The pole is a uniform rod with a lumped bob at the top. Each Step
// integrates Substeps RK4 steps and keeps the cart on the track.

// PoleModel is a uniform rod plus a lumped bob at the top.
type PoleModel struct {
	L    float64 // (m)
	MRod float64 // (kg)
	MBob float64 // (kg)

	// Derived quantities
	MTotal        float64
	LCom          float64
	IPivot        float64
	ICom          float64
	InertiaFactor float64 // 1 + I_com/(m*l^2)
}

// ComputeDerived fills the derived mass and inertia quantities.
func (pm *PoleModel) ComputeDerived() {
	pm.MTotal = pm.MRod + pm.MBob

	// Center of mass from pivot: rod at L/2, bob at L
	pm.LCom = (pm.MRod*(pm.L*0.5) + pm.MBob*pm.L) / pm.MTotal

	// Inertia about pivot: rod (1/3)mL^2, bob mL^2
	pm.IPivot = (1.0/3.0)*pm.MRod*pm.L*pm.L + pm.MBob*pm.L*pm.L

	pm.ICom = pm.IPivot - pm.MTotal*pm.LCom*pm.LCom

	pm.InertiaFactor = 1.0 + pm.ICom/(pm.MTotal*pm.LCom*pm.LCom)
}

// CartPoleParams are the physical and numerical constants of the cart-pole.
type CartPoleParams struct {
	M float64 // cart mass (kg)
	G float64 // gravity (m/s^2)

	CartDamping float64
	PoleDamping float64

	Pole PoleModel

	UMax     float64 // actuator limit (N)
	XMax     float64 // track half-length (m)
	Dt       float64 // sample period (s)
	Substeps int

	// Initial angle is uniform in [-Theta0, Theta0].
	Theta0 float64

	Disturbance Disturbance
}

// DefaultCartPoleParams returns the reference cart-pole.
func DefaultCartPoleParams() CartPoleParams {
	p := CartPoleParams{
		M:           1.2,
		G:           9.81,
		CartDamping: 0.10,
		PoleDamping: 0.03,
		Pole: PoleModel{
			L:    1.0,
			MRod: 0.10,
			MBob: 0.15,
		},
		UMax:     20.0,
		XMax:     1.6,
		Dt:       0.02,
		Substeps: 8,
		Theta0:   0.20,
	}
	p.Pole.ComputeDerived()
	return p
}

// CartPoleState is the full mechanical state of the cart-pole.
type CartPoleState struct {
	X        float64
	XDot     float64
	Theta    float64
	ThetaDot float64
}

// Vector returns the observation layout [x, x_dot, theta, theta_dot].
func (s CartPoleState) Vector() []float64 {
	return []float64{s.X, s.XDot, s.Theta, s.ThetaDot}
}

// CartPoleStateOf is the inverse of Vector.
func CartPoleStateOf(v []float64) CartPoleState {
	return CartPoleState{X: v[0], XDot: v[1], Theta: v[2], ThetaDot: v[3]}
}

// ------------------------------------------------------------
// Disturbance schedule
// ------------------------------------------------------------

// Disturbance is a pair of half-sine torque pulses about the pivot: the first
// pushes right at T1, the second pushes left at T2. TauAmp 0 disables it.
type Disturbance struct {
	T1, T2   float64
	Duration float64
	TauAmp   float64
}

func halfSine(localT, duration float64) float64 {
	return math.Sin(math.Pi * localT / duration)
}

// TauExt returns the external torque about the pole pivot (N*m).
func (d Disturbance) TauExt(t float64) float64 {
	if d.TauAmp == 0 || d.Duration <= 0 {
		return 0.0
	}
	if t >= d.T1 && t <= d.T1+d.Duration {
		return +d.TauAmp * halfSine(t-d.T1, d.Duration)
	}
	if t >= d.T2 && t <= d.T2+d.Duration {
		return -d.TauAmp * halfSine(t-d.T2, d.Duration)
	}
	return 0.0
}

// ------------------------------------------------------------
// ODE derivative
// ------------------------------------------------------------

type deriv struct {
	XDot      float64
	XDDot     float64
	ThetaDot  float64
	ThetaDDot float64
}

// Dynamics computes the cart–pole derivatives given control force (cart) and external torque.
// It returns (x_ddot, theta_ddot).
func Dynamics(p CartPoleParams, s CartPoleState, uCart, tauExt float64) (float64, float64) {
	d := dynamics(p, s, uCart, tauExt)
	return d.XDDot, d.ThetaDDot
}

func dynamics(p CartPoleParams, s CartPoleState, uCart, tauExt float64) deriv {
	m := p.Pole.MTotal
	l := p.Pole.LCom

	totalMass := p.M + m
	poleMassLen := m * l

	sinT := math.Sin(s.Theta)
	cosT := math.Cos(s.Theta)

	fDamped := uCart - p.CartDamping*s.XDot

	temp := (fDamped + poleMassLen*s.ThetaDot*s.ThetaDot*sinT) / totalMass

	denom := l * (p.Pole.InertiaFactor - (m*cosT*cosT)/totalMass)

	thetaDDot := (p.G*sinT - cosT*temp) / denom
	thetaDDot -= p.PoleDamping * s.ThetaDot
	thetaDDot += tauExt / p.Pole.IPivot

	xDDot := temp - poleMassLen*thetaDDot*cosT/totalMass

	return deriv{
		XDot:      s.XDot,
		XDDot:     xDDot,
		ThetaDot:  s.ThetaDot,
		ThetaDDot: thetaDDot,
	}
}

// rk4Step advances the state by one RK4 step.
func rk4Step(p CartPoleParams, s *CartPoleState, dt, uCart, tauExt float64) {
	addScaled := func(a CartPoleState, k deriv, h float64) CartPoleState {
		out := a
		out.X += h * k.XDot
		out.XDot += h * k.XDDot
		out.Theta += h * k.ThetaDot
		out.ThetaDot += h * k.ThetaDDot
		return out
	}

	k1 := dynamics(p, *s, uCart, tauExt)
	k2 := dynamics(p, addScaled(*s, k1, 0.5*dt), uCart, tauExt)
	k3 := dynamics(p, addScaled(*s, k2, 0.5*dt), uCart, tauExt)
	k4 := dynamics(p, addScaled(*s, k3, dt), uCart, tauExt)

	s.X += (dt / 6.0) * (k1.XDot + 2.0*k2.XDot + 2.0*k3.XDot + k4.XDot)
	s.XDot += (dt / 6.0) * (k1.XDDot + 2.0*k2.XDDot + 2.0*k3.XDDot + k4.XDDot)
	s.Theta += (dt / 6.0) * (k1.ThetaDot + 2.0*k2.ThetaDot + 2.0*k3.ThetaDot + k4.ThetaDot)
	s.ThetaDot += (dt / 6.0) * (k1.ThetaDDot + 2.0*k2.ThetaDDot + 2.0*k3.ThetaDDot + k4.ThetaDDot)

	s.Theta = wrapToPi(s.Theta)
}

// enforceTrack keeps the cart inside [-xMax, xMax] and stops it at the ends.
func enforceTrack(s *CartPoleState, xMax float64) {
	if s.X > xMax {
		s.X = xMax
		if s.XDot > 0 {
			s.XDot = 0
		}
	}
	if s.X < -xMax {
		s.X = -xMax
		if s.XDot < 0 {
			s.XDot = 0
		}
	}
}

// ------------------------------------------------------------
// Plant implementation
// ------------------------------------------------------------

// CartPole is the moving-base inverted pendulum.
type CartPole struct {
	P CartPoleParams

	s CartPoleState
	t float64
}

// NewCartPole returns a cart-pole with the given parameters.
func NewCartPole(p CartPoleParams) *CartPole {
	if p.Substeps < 1 {
		p.Substeps = 1
	}
	return &CartPole{P: p}
}

func (c *CartPole) Name() string     { return "cartpole" }
func (c *CartPole) NumStates() int   { return 4 }
func (c *CartPole) NumControls() int { return 1 }
func (c *CartPole) Dt() float64      { return c.P.Dt }
func (c *CartPole) Close() error     { return nil }

func (c *CartPole) ControlBounds() []r1.Interval {
	return []r1.Interval{{Min: -c.P.UMax, Max: c.P.UMax}}
}

// State returns the current mechanical state.
func (c *CartPole) State() CartPoleState { return c.s }

func (c *CartPole) Reset(rng *rand.Rand) []float64 {
	c.s = CartPoleState{Theta: (2*rng.Float64() - 1) * c.P.Theta0}
	c.t = 0
	return c.s.Vector()
}

func (c *CartPole) Step(u []float64) ([]float64, error) {
	u, err := clipControl(u, c.ControlBounds())
	if err != nil {
		return nil, err
	}
	h := c.P.Dt / float64(c.P.Substeps)
	for k := 0; k < c.P.Substeps; k++ {
		rk4Step(c.P, &c.s, h, u[0], c.P.Disturbance.TauExt(c.t))
		enforceTrack(&c.s, c.P.XMax)
		c.t += h
	}
	return c.s.Vector(), nil
}
