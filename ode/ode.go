// Package ode integrates systems of ordinary differential equations
// with an adaptive Dormand-Prince 5(4) Runge-Kutta method.
package ode

import (
	"errors"
	"fmt"
	"math"
)

// Func computes the derivative dy of y at time t. It must not modify
// y.
type Func func(t float64, y, dy []float64)

var (
	// ErrStepSize is returned when the step size falls below the
	// minimum allowed value.
	ErrStepSize = errors.New("step size too small")
	// ErrMaxSteps is returned when the integration did not finish
	// within the maximum number of steps.
	ErrMaxSteps = errors.New("maximum number of steps exceeded")
	// ErrNotFinite is returned when the solution contains NaN or
	// Inf values.
	ErrNotFinite = errors.New("non-finite solution")
)

// Config stores integration settings.
type Config struct {
	// AbsTol and RelTol are the absolute and relative error
	// tolerances.
	AbsTol float64 `yaml:"abstol"`
	RelTol float64 `yaml:"reltol"`
	// InitialStep is the first step size. If it is zero, a tenth
	// of the interval is used.
	InitialStep float64 `yaml:"initial_step"`
	// MinStep is the smallest step allowed relative to the
	// interval length.
	MinStep float64 `yaml:"min_step"`
	// MaxSteps limits the number of steps (accepted and rejected).
	MaxSteps int `yaml:"max_steps"`
}

// DefaultConfig returns the default integration settings.
func DefaultConfig() Config {
	return Config{
		AbsTol:   1e-12,
		RelTol:   1e-10,
		MinStep:  1e-14,
		MaxSteps: 100000,
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	if !(c.AbsTol > 0) || !(c.RelTol > 0) {
		return fmt.Errorf("tolerances should be positive (abstol=%v, reltol=%v)", c.AbsTol, c.RelTol)
	}
	if c.MaxSteps <= 0 {
		return fmt.Errorf("max steps should be positive (%v)", c.MaxSteps)
	}
	if c.MinStep < 0 || c.InitialStep < 0 {
		return errors.New("step sizes should be non-negative")
	}
	return nil
}

// Stats stores integration statistics.
type Stats struct {
	Steps       int
	Rejected    int
	Evaluations int
}

// Add accumulates statistics.
func (s *Stats) Add(o Stats) {
	s.Steps += o.Steps
	s.Rejected += o.Rejected
	s.Evaluations += o.Evaluations
}

// Dormand-Prince tableau.
var (
	dpC = [7]float64{0, 1.0 / 5.0, 3.0 / 10.0, 4.0 / 5.0, 8.0 / 9.0, 1, 1}
	dpA = [7][6]float64{
		{},
		{1.0 / 5.0},
		{3.0 / 40.0, 9.0 / 40.0},
		{44.0 / 45.0, -56.0 / 15.0, 32.0 / 9.0},
		{19372.0 / 6561.0, -25360.0 / 2187.0, 64448.0 / 6561.0, -212.0 / 729.0},
		{9017.0 / 3168.0, -355.0 / 33.0, 46732.0 / 5247.0, 49.0 / 176.0, -5103.0 / 18656.0},
		{35.0 / 384.0, 0, 500.0 / 1113.0, 125.0 / 192.0, -2187.0 / 6784.0, 11.0 / 84.0},
	}
	dpB = [7]float64{35.0 / 384.0, 0, 500.0 / 1113.0, 125.0 / 192.0, -2187.0 / 6784.0, 11.0 / 84.0, 0}
	// dpE is B minus the 4th order weights.
	dpE = [7]float64{
		35.0/384.0 - 5179.0/57600.0,
		0,
		500.0/1113.0 - 7571.0/16695.0,
		125.0/192.0 - 393.0/640.0,
		-2187.0/6784.0 + 92097.0/339200.0,
		11.0/84.0 - 187.0/2100.0,
		-1.0 / 40.0,
	}
)

const (
	safety    = 0.9
	minFactor = 0.2
	maxFactor = 5.0
)

// Integrator keeps the work buffers for one system size. It is not
// safe for concurrent use; create one per goroutine.
type Integrator struct {
	Config
	k    [7][]float64
	ytmp []float64
	ynew []float64
}

// NewIntegrator creates an integrator for systems of size n.
func NewIntegrator(n int, cfg Config) *Integrator {
	in := &Integrator{Config: cfg}
	for i := range in.k {
		in.k[i] = make([]float64, n)
	}
	in.ytmp = make([]float64, n)
	in.ynew = make([]float64, n)
	return in
}

// Integrate advances y in place from t0 to t1. A zero-length interval
// leaves y untouched.
func (in *Integrator) Integrate(f Func, y []float64, t0, t1 float64) (stats Stats, err error) {
	n := len(y)
	if n != len(in.ytmp) {
		return stats, fmt.Errorf("system size mismatch: %d != %d", n, len(in.ytmp))
	}
	span := t1 - t0
	if span == 0 || n == 0 {
		return stats, nil
	}
	if span < 0 {
		return stats, fmt.Errorf("backward integration is not supported (%v > %v)", t0, t1)
	}

	h := in.InitialStep
	if h <= 0 || h > span {
		h = span / 10
	}
	minStep := in.MinStep * span

	k := in.k
	t := t0
	f(t, y, k[0])
	stats.Evaluations++

	for t < t1 {
		if stats.Steps+stats.Rejected >= in.MaxSteps {
			return stats, fmt.Errorf("%w (%d, t=%v)", ErrMaxSteps, in.MaxSteps, t)
		}
		last := false
		if t+h >= t1 {
			h = t1 - t
			last = true
		}

		for s := 1; s < 7; s++ {
			for i := 0; i < n; i++ {
				acc := 0.0
				for j := 0; j < s; j++ {
					acc += dpA[s][j] * k[j][i]
				}
				in.ytmp[i] = y[i] + h*acc
			}
			f(t+dpC[s]*h, in.ytmp, k[s])
			stats.Evaluations++
		}
		// the 7th stage is evaluated at the 5th order solution
		copy(in.ynew, in.ytmp)

		errNorm := 0.0
		for i := 0; i < n; i++ {
			e := 0.0
			for s := 0; s < 7; s++ {
				e += dpE[s] * k[s][i]
			}
			e *= h
			sc := in.AbsTol + in.RelTol*math.Max(math.Abs(y[i]), math.Abs(in.ynew[i]))
			errNorm += (e / sc) * (e / sc)
		}
		errNorm = math.Sqrt(errNorm / float64(n))

		if math.IsNaN(errNorm) || math.IsInf(errNorm, 0) {
			return stats, fmt.Errorf("%w at t=%v", ErrNotFinite, t)
		}

		if errNorm <= 1 {
			stats.Steps++
			copy(y, in.ynew)
			// first same as last
			k[0], k[6] = k[6], k[0]
			if last {
				t = t1
			} else {
				t += h
			}
		} else {
			stats.Rejected++
		}

		factor := maxFactor
		if errNorm > 0 {
			factor = math.Min(maxFactor, math.Max(minFactor, safety*math.Pow(errNorm, -0.2)))
		}
		h *= factor
		if h < minStep && t < t1 {
			return stats, fmt.Errorf("%w (h=%v, t=%v)", ErrStepSize, h, t)
		}
	}
	in.k = k
	return stats, nil
}

// Integrate is a convenience wrapper creating a new integrator.
func Integrate(f Func, y []float64, t0, t1 float64, cfg Config) (Stats, error) {
	return NewIntegrator(len(y), cfg).Integrate(f, y, t0, t1)
}
