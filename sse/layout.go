package sse

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// TargetKind is a kind of rate store entry.
type TargetKind int

const (
	// TargetEvent is a speciation event rate.
	TargetEvent TargetKind = iota
	// TargetExtinction is an extinction rate.
	TargetExtinction
	// TargetTransition is a transition rate.
	TargetTransition
)

// Target is a rate store entry affected by a slot. For events I is
// the parent and J, K are the daughters; for transitions the rate is
// from I to J.
type Target struct {
	Kind    TargetKind
	I, J, K int
}

// SlotKind tells how a slot value is interpreted.
type SlotKind int

const (
	// SlotSpeciation is a speciation rate, or turnover under the
	// turnover parameterization.
	SlotSpeciation SlotKind = iota
	// SlotExtinction is an extinction rate, or extinction fraction
	// under the turnover parameterization.
	SlotExtinction
	// SlotTransition is a transition rate.
	SlotTransition
)

// String returns the kind name.
func (k SlotKind) String() string {
	switch k {
	case SlotSpeciation:
		return "speciation"
	case SlotExtinction:
		return "extinction"
	case SlotTransition:
		return "transition"
	}
	return "unknown"
}

// Slot is a named model rate. Its value is added to all of its
// targets.
type Slot struct {
	Name    string
	Kind    SlotKind
	Targets []Target
}

// Parameterization defines how speciation and extinction slots are
// interpreted.
type Parameterization int

const (
	// Raw uses speciation (lambda) and extinction (mu) rates.
	Raw Parameterization = iota
	// Turnover uses turnover (lambda+mu) and extinction fraction
	// (mu/lambda). Only available for anagenetic models.
	Turnover
)

// String returns the parameterization name.
func (p Parameterization) String() string {
	if p == Turnover {
		return "turnover"
	}
	return "raw"
}

// ParseParameterization converts a string to Parameterization.
func ParseParameterization(s string) (Parameterization, error) {
	switch strings.ToLower(s) {
	case "", "raw":
		return Raw, nil
	case "turnover":
		return Turnover, nil
	}
	return Raw, fmt.Errorf("%w: unknown parameterization %q", ErrConfig, s)
}

// Zero is the group name fixing slots to zero.
const Zero = "0"

// Layout maps the model slots onto a flat vector of free parameters.
// Several slots can share one parameter, and a slot can be fixed to
// zero.
type Layout struct {
	Family *Family
	Param  Parameterization
	// index maps slots to parameters, -1 is fixed zero
	index []int
	names []string
}

// NewLayout creates a layout. groups maps slot names to parameter
// names; slots mapped to the same name share a parameter and slots
// mapped to Zero are fixed at zero. Slots not present in groups get a
// parameter of their own, named after the slot.
func NewLayout(f *Family, param Parameterization, groups map[string]string) (*Layout, error) {
	if param == Turnover && !turnoverCompatible(f) {
		return nil, fmt.Errorf("%w: turnover parameterization is not available for %s", ErrConfig, f.Name)
	}
	known := make(map[string]bool, len(f.Slots))
	for _, slot := range f.Slots {
		known[slot.Name] = true
	}
	for name := range groups {
		if !known[name] {
			return nil, fmt.Errorf("%w: unknown rate %q for model %s", ErrConfig, name, f.Name)
		}
	}

	l := &Layout{
		Family: f,
		Param:  param,
		index:  make([]int, len(f.Slots)),
	}
	pars := make(map[string]int)
	for i, slot := range f.Slots {
		group, ok := groups[slot.Name]
		if !ok {
			group = slot.Name
		}
		if group == Zero {
			l.index[i] = -1
			continue
		}
		p, ok := pars[group]
		if !ok {
			p = len(l.names)
			pars[group] = p
			l.names = append(l.names, group)
		}
		l.index[i] = p
	}
	return l, nil
}

// NParameters returns the number of free parameters.
func (l *Layout) NParameters() int {
	return len(l.names)
}

// Names returns the names of free parameters.
func (l *Layout) Names() []string {
	return l.names
}

func (l *Layout) slotValues(x []float64) []float64 {
	v := make([]float64, len(l.index))
	for i, p := range l.index {
		if p >= 0 {
			v[i] = x[p]
		}
	}
	return v
}

// Rates validates the free parameter values and builds the rate
// store.
func (l *Layout) Rates(x []float64) (*Rates, error) {
	if len(x) != len(l.names) {
		return nil, fmt.Errorf("%w: expected %d parameters, got %d", ErrConfig, len(l.names), len(x))
	}
	for i, v := range x {
		if err := checkRate(l.names[i], v); err != nil {
			return nil, err
		}
	}

	f := l.Family
	n := f.Space.N()
	mu := make([]float64, n)
	q := mat.NewDense(n, n, nil)
	events := f.Topology.Events()
	// tau and eps are used by the turnover parameterization
	tau := make([]float64, n)
	eps := make([]float64, n)

	for s, v := range l.slotValues(x) {
		slot := f.Slots[s]
		for _, t := range slot.Targets {
			switch t.Kind {
			case TargetEvent:
				if l.Param == Turnover {
					tau[t.I] += v
					continue
				}
				k, ok := f.Topology.eventIndex[Event{Parent: t.I, Left: t.J, Right: t.K}.normalized().key()]
				if !ok {
					return nil, fmt.Errorf("%w: rate %s targets speciation %s -> (%s, %s) not allowed in %s",
						ErrConfig, slot.Name, f.Space.Label(t.I), f.Space.Label(t.J), f.Space.Label(t.K), f.Name)
				}
				events[k].Rate += v
			case TargetExtinction:
				if l.Param == Turnover {
					eps[t.I] += v
					continue
				}
				mu[t.I] += v
			case TargetTransition:
				q.Set(t.I, t.J, q.At(t.I, t.J)+v)
			}
		}
	}

	if l.Param == Turnover {
		for i := 0; i < n; i++ {
			lambda := tau[i] / (1 + eps[i])
			mu[i] = tau[i] * eps[i] / (1 + eps[i])
			if lambda == 0 {
				continue
			}
			k, ok := f.Topology.eventIndex[eventKey{i, i, i}]
			if !ok {
				return nil, fmt.Errorf("%w: speciation is not allowed in state %s", ErrConfig, f.Space.Label(i))
			}
			events[k].Rate = lambda
		}
	}

	return NewRates(f.Topology, mu, q, events)
}

// Values returns slot values for the free parameters, for reporting.
// Under the turnover parameterization speciation and extinction
// slots are turnover and extinction fraction.
func (l *Layout) Values(x []float64) map[string]float64 {
	res := make(map[string]float64, len(l.index))
	for i, v := range l.slotValues(x) {
		res[l.Family.Slots[i].Name] = v
	}
	return res
}

// DefaultValues returns a starting point: speciation 0.1, extinction
// 0.05 (or extinction fraction 0.5), transitions 0.01. Shared
// parameters take the value of their first slot.
func (l *Layout) DefaultValues() []float64 {
	x := make([]float64, len(l.names))
	set := make([]bool, len(l.names))
	for i, p := range l.index {
		if p < 0 || set[p] {
			continue
		}
		var v float64
		switch l.Family.Slots[i].Kind {
		case SlotSpeciation:
			v = 0.1
			if l.Param == Turnover {
				v = 0.15
			}
		case SlotExtinction:
			v = 0.05
			if l.Param == Turnover {
				v = 0.5
			}
		default:
			v = 0.01
		}
		x[p] = v
		set[p] = true
	}
	return x
}

// normalized orders the daughters.
func (ev Event) normalized() Event {
	if ev.Left > ev.Right {
		ev.Left, ev.Right = ev.Right, ev.Left
	}
	return ev
}

// turnoverCompatible checks that speciation is anagenetic and that
// speciation and extinction slots do not affect other rates.
func turnoverCompatible(f *Family) bool {
	if !f.Topology.IsAnagenetic() {
		return false
	}
	for _, slot := range f.Slots {
		for _, t := range slot.Targets {
			switch {
			case slot.Kind == SlotSpeciation && t.Kind != TargetEvent,
				slot.Kind == SlotExtinction && t.Kind != TargetExtinction,
				slot.Kind == SlotTransition && t.Kind != TargetTransition:
				return false
			}
		}
	}
	return true
}
