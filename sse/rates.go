package sse

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Event is a speciation event: a lineage in state Parent splits into
// lineages in states Left and Right (Left <= Right). An anagenetic
// model has only Parent == Left == Right events.
type Event struct {
	Parent, Left, Right int
	Rate                float64
}

// IsAnagenetic returns true if both daughters inherit the parent
// state.
func (ev Event) IsAnagenetic() bool {
	return ev.Parent == ev.Left && ev.Left == ev.Right
}

type eventKey [3]int

func (ev Event) key() eventKey {
	return eventKey{ev.Parent, ev.Left, ev.Right}
}

// Topology declares which transitions and speciation events a model
// allows.
type Topology struct {
	Space       Space
	transitions []bool
	events      []eventKey
	eventIndex  map[eventKey]int
}

// NewTopology creates an empty topology for the space.
func NewTopology(space Space) *Topology {
	n := space.N()
	return &Topology{
		Space:       space,
		transitions: make([]bool, n*n),
		eventIndex:  make(map[eventKey]int),
	}
}

// AllowTransition allows transitions from i to j.
func (top *Topology) AllowTransition(i, j int) {
	top.transitions[i*top.Space.N()+j] = true
}

// AllowEvent allows a speciation event.
func (top *Topology) AllowEvent(parent, left, right int) {
	if left > right {
		left, right = right, left
	}
	k := eventKey{parent, left, right}
	if _, ok := top.eventIndex[k]; ok {
		return
	}
	top.eventIndex[k] = len(top.events)
	top.events = append(top.events, k)
}

// TransitionAllowed checks if transition from i to j is allowed.
func (top *Topology) TransitionAllowed(i, j int) bool {
	return top.transitions[i*top.Space.N()+j]
}

// EventAllowed checks if a speciation event is allowed.
func (top *Topology) EventAllowed(parent, left, right int) bool {
	if left > right {
		left, right = right, left
	}
	_, ok := top.eventIndex[eventKey{parent, left, right}]
	return ok
}

// Events returns all the allowed speciation events with zero rates.
func (top *Topology) Events() []Event {
	events := make([]Event, len(top.events))
	for i, k := range top.events {
		events[i] = Event{Parent: k[0], Left: k[1], Right: k[2]}
	}
	return events
}

// IsAnagenetic returns true if all allowed events are anagenetic.
func (top *Topology) IsAnagenetic() bool {
	for _, k := range top.events {
		if k[0] != k[1] || k[1] != k[2] {
			return false
		}
	}
	return true
}

// Rates is the rate parameter store for one likelihood evaluation.
// It should not be modified after creation.
type Rates struct {
	Space Space
	// Lambda is the total speciation rate of every state.
	Lambda []float64
	// Mu is the extinction rate of every state.
	Mu []float64
	// Q is the transition rate matrix with zero diagonal.
	Q *mat.Dense
	// Events are speciation events.
	Events []Event

	// out is the total rate of leaving the state.
	out        []float64
	q          []float64
	anagenetic bool
}

func checkRate(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s is not finite (%v)", ErrConfig, name, v)
	}
	if v < 0 {
		return fmt.Errorf("%w: %s is negative (%v)", ErrConfig, name, v)
	}
	return nil
}

// NewRates validates the rates against the topology and creates a
// rate store. Events not allowed by the topology, transitions
// between disallowed pairs and non-zero diagonal are errors.
func NewRates(top *Topology, mu []float64, q *mat.Dense, events []Event) (*Rates, error) {
	space := top.Space
	n := space.N()
	if len(mu) != n {
		return nil, fmt.Errorf("%w: expected %d extinction rates, got %d", ErrConfig, n, len(mu))
	}
	if r, c := q.Dims(); r != n || c != n {
		return nil, fmt.Errorf("%w: expected %dx%d transition matrix, got %dx%d", ErrConfig, n, n, r, c)
	}

	r := &Rates{
		Space:      space,
		Lambda:     make([]float64, n),
		Mu:         make([]float64, n),
		Q:          mat.DenseCopyOf(q),
		Events:     make([]Event, 0, len(events)),
		out:        make([]float64, n),
		q:          make([]float64, n*n),
		anagenetic: true,
	}

	for i, v := range mu {
		if err := checkRate("mu"+space.Label(i), v); err != nil {
			return nil, err
		}
		r.Mu[i] = v
		r.out[i] = v
	}

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := q.At(i, j)
			name := "q" + space.Label(i) + "_" + space.Label(j)
			if err := checkRate(name, v); err != nil {
				return nil, err
			}
			if v == 0 {
				continue
			}
			if i == j {
				return nil, fmt.Errorf("%w: non-zero diagonal transition rate for %s", ErrConfig, space.Label(i))
			}
			if !top.TransitionAllowed(i, j) {
				return nil, fmt.Errorf("%w: transition %s is not allowed", ErrConfig, name)
			}
			r.q[i*n+j] = v
			r.out[i] += v
		}
	}

	for _, ev := range events {
		if ev.Parent < 0 || ev.Parent >= n || ev.Left < 0 || ev.Left >= n || ev.Right < 0 || ev.Right >= n {
			return nil, fmt.Errorf("%w: speciation event %v out of range", ErrConfig, ev)
		}
		if ev.Left > ev.Right {
			ev.Left, ev.Right = ev.Right, ev.Left
		}
		name := fmt.Sprintf("lambda%s->(%s,%s)", space.Label(ev.Parent), space.Label(ev.Left), space.Label(ev.Right))
		if err := checkRate(name, ev.Rate); err != nil {
			return nil, err
		}
		if ev.Rate == 0 {
			continue
		}
		if !top.EventAllowed(ev.Parent, ev.Left, ev.Right) {
			return nil, fmt.Errorf("%w: speciation event %s is not allowed", ErrConfig, name)
		}
		if !ev.IsAnagenetic() {
			r.anagenetic = false
		}
		r.Events = append(r.Events, ev)
		r.Lambda[ev.Parent] += ev.Rate
		r.out[ev.Parent] += ev.Rate
	}

	return r, nil
}

// N returns the number of states.
func (r *Rates) N() int {
	return r.Space.N()
}

// IsAnagenetic returns true if all the speciation events leave both
// daughters in the parent state.
func (r *Rates) IsAnagenetic() bool {
	return r.anagenetic
}

// survival returns for every state the rate of speciation events
// with both daughters surviving, given extinction probabilities e.
// For anagenetic models this is lambda*(1-e)^2.
func (r *Rates) survival(e []float64) []float64 {
	s := make([]float64, r.N())
	for _, ev := range r.Events {
		s[ev.Parent] += ev.Rate * (1 - e[ev.Left]) * (1 - e[ev.Right])
	}
	return s
}
