package sse

import (
	"context"
	"errors"
	"fmt"
	"math"

	"bitbucket.org/Davydov/gosse/ode"
	"bitbucket.org/Davydov/gosse/optimize"
)

// DefaultMaxRate is the default upper bound of the free parameters.
const DefaultMaxRate = 100

// Model binds a layout to a likelihood and exposes the free
// parameters for optimization.
type Model struct {
	ctx        context.Context
	lik        *Likelihood
	layout     *Layout
	x          []float64
	maxRate    float64
	parameters optimize.FloatParameters
}

// NewModel creates a model starting at x0 (layout defaults if nil).
func NewModel(ctx context.Context, lik *Likelihood, layout *Layout, x0 []float64) (*Model, error) {
	if lik.Family() != layout.Family {
		return nil, fmt.Errorf("%w: layout of %s with likelihood of %s", ErrConfig, layout.Family.Name, lik.Family().Name)
	}
	if x0 == nil {
		x0 = layout.DefaultValues()
	}
	if len(x0) != layout.NParameters() {
		return nil, fmt.Errorf("%w: expected %d starting values, got %d", ErrConfig, layout.NParameters(), len(x0))
	}
	m := &Model{
		ctx:     ctx,
		lik:     lik,
		layout:  layout,
		x:       append([]float64(nil), x0...),
		maxRate: DefaultMaxRate,
	}
	m.setParameters()
	return m, nil
}

func (m *Model) setParameters() {
	m.parameters = nil
	for i, name := range m.layout.Names() {
		par := optimize.NewBasicFloatParameter(&m.x[i], name)
		par.SetMin(0)
		par.SetMax(m.maxRate)
		m.parameters.Append(par)
	}
}

// SetMaxRate sets the upper bound of all the parameters.
func (m *Model) SetMaxRate(max float64) {
	m.maxRate = max
	for _, par := range m.parameters {
		par.SetMax(max)
	}
}

// GetFloatParameters implements optimize.Optimizable.
func (m *Model) GetFloatParameters() optimize.FloatParameters {
	return m.parameters
}

// Copy implements optimize.Optimizable. The likelihood and the layout
// are shared.
func (m *Model) Copy() optimize.Optimizable {
	c := &Model{
		ctx:     m.ctx,
		lik:     m.lik,
		layout:  m.layout,
		x:       append([]float64(nil), m.x...),
		maxRate: m.maxRate,
	}
	c.setParameters()
	return c
}

// Values returns the current free parameter values.
func (m *Model) Values() []float64 {
	return append([]float64(nil), m.x...)
}

// Likelihood implements optimize.Optimizable. Invalid parameter
// values and numerical problems give -Inf.
func (m *Model) Likelihood() float64 {
	l, err := m.LogLikelihood()
	if err != nil {
		switch {
		case errors.Is(err, ErrNumericalInstability),
			errors.Is(err, ErrConfig),
			errors.Is(err, ode.ErrStepSize),
			errors.Is(err, ode.ErrMaxSteps),
			errors.Is(err, ode.ErrNotFinite):
			log.Debugf("Invalid parameters %v: %v", m.x, err)
		default:
			log.Error(err)
		}
		return math.Inf(-1)
	}
	return l
}

// LogLikelihood computes the log-likelihood of the current
// parameters.
func (m *Model) LogLikelihood() (float64, error) {
	r, err := m.layout.Rates(m.x)
	if err != nil {
		return math.Inf(-1), err
	}
	return m.lik.Evaluate(m.ctx, r)
}

// Summary returns the model summary for the JSON output: slot values
// of the current parameters.
func (m *Model) Summary() interface{} {
	return struct {
		Model            string             `json:"model"`
		States           []string           `json:"states"`
		Parameterization string             `json:"parameterization"`
		Rates            map[string]float64 `json:"rates"`
	}{
		Model:            m.layout.Family.Name,
		States:           m.layout.Family.Space.Labels(),
		Parameterization: m.layout.Param.String(),
		Rates:            m.layout.Values(m.x),
	}
}
