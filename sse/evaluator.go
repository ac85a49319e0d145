package sse

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"bitbucket.org/Davydov/gosse/ode"
)

// eTolerance is how far extinction probabilities may leave [0, 1]
// because of the integration error before they are considered
// invalid.
const eTolerance = 1e-9

// Evaluator provides the branch derivatives and the node merge for a
// model family.
type Evaluator interface {
	// Derivatives returns the time derivative of a probability
	// vector. The function is pure and may be called any number of
	// times at any time point.
	Derivatives(r *Rates) ode.Func
	// Combine merges two daughter vectors (already integrated to
	// the node) into the parent vector. The parent D values are
	// rescaled, the log of the scaling factor is returned.
	Combine(left, right []float64, r *Rates) ([]float64, float64, error)
}

// Anagenetic is the evaluator for models where speciation leaves
// both daughters in the parent state (BiSSE, MuSSE, HiSSE and
// relatives).
type Anagenetic struct{}

// Derivatives implements Evaluator.
func (Anagenetic) Derivatives(r *Rates) ode.Func {
	n := r.N()
	lambda, mu, out, q := r.Lambda, r.Mu, r.out, r.q
	return func(t float64, y, dy []float64) {
		e, d := y[:n], y[n:2*n]
		de, dd := dy[:n], dy[n:2*n]
		for i := 0; i < n; i++ {
			qe, qd := 0.0, 0.0
			for j, qij := range q[i*n : (i+1)*n] {
				if qij != 0 {
					qe += qij * e[j]
					qd += qij * d[j]
				}
			}
			de[i] = mu[i] - out[i]*e[i] + lambda[i]*e[i]*e[i] + qe
			dd[i] = -out[i]*d[i] + 2*lambda[i]*e[i]*d[i] + qd
		}
	}
}

// Combine implements Evaluator.
func (Anagenetic) Combine(left, right []float64, r *Rates) ([]float64, float64, error) {
	if !r.IsAnagenetic() {
		return nil, 0, fmt.Errorf("%w: cladogenetic rates with anagenetic evaluator", ErrConfig)
	}
	return merge(left, right, r, func(dl, dr, d []float64) {
		for i := range d {
			d[i] = r.Lambda[i] * dl[i] * dr[i]
		}
	})
}

// Cladogenetic is the evaluator for models with speciation events
// changing the daughter states (GeoSSE and GeoHiSSE).
type Cladogenetic struct{}

// Derivatives implements Evaluator.
func (Cladogenetic) Derivatives(r *Rates) ode.Func {
	n := r.N()
	mu, out, q, events := r.Mu, r.out, r.q, r.Events
	return func(t float64, y, dy []float64) {
		e, d := y[:n], y[n:2*n]
		de, dd := dy[:n], dy[n:2*n]
		for i := 0; i < n; i++ {
			qe, qd := 0.0, 0.0
			for j, qij := range q[i*n : (i+1)*n] {
				if qij != 0 {
					qe += qij * e[j]
					qd += qij * d[j]
				}
			}
			de[i] = mu[i] - out[i]*e[i] + qe
			dd[i] = -out[i]*d[i] + qd
		}
		for _, ev := range events {
			l, rt := ev.Left, ev.Right
			de[ev.Parent] += ev.Rate * e[l] * e[rt]
			dd[ev.Parent] += ev.Rate * (d[l]*e[rt] + d[rt]*e[l])
		}
	}
}

// Combine implements Evaluator.
func (Cladogenetic) Combine(left, right []float64, r *Rates) ([]float64, float64, error) {
	return merge(left, right, r, func(dl, dr, d []float64) {
		for i := range d {
			d[i] = 0
		}
		for _, ev := range r.Events {
			l, rt := ev.Left, ev.Right
			d[ev.Parent] += ev.Rate * 0.5 * (dl[l]*dr[rt] + dl[rt]*dr[l])
		}
	})
}

// checkDaughter validates a daughter probability vector.
func checkDaughter(v []float64, n int) error {
	if len(v) != 2*n {
		return fmt.Errorf("%w: expected vector of length %d, got %d", ErrConfig, 2*n, len(v))
	}
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w: non-finite value y[%d]=%v", ErrNumericalInstability, i, x)
		}
		if i < n && (x < -eTolerance || x > 1+eTolerance) {
			return fmt.Errorf("%w: extinction probability E[%d]=%v", ErrNumericalInstability, i, x)
		}
		if i >= n && x < 0 {
			return fmt.Errorf("%w: negative probability D[%d]=%v", ErrNumericalInstability, i-n, x)
		}
	}
	return nil
}

// merge validates the daughters, averages extinction probabilities,
// computes D with the given function and rescales it.
func merge(left, right []float64, r *Rates, mergeD func(dl, dr, d []float64)) ([]float64, float64, error) {
	n := r.N()
	if err := checkDaughter(left, n); err != nil {
		return nil, 0, err
	}
	if err := checkDaughter(right, n); err != nil {
		return nil, 0, err
	}
	parent := make([]float64, 2*n)
	for i := 0; i < n; i++ {
		// identical on ultrametric trees
		parent[i] = (left[i] + right[i]) / 2
	}
	d := parent[n:]
	mergeD(left[n:], right[n:], d)

	max := floats.Max(d)
	if !(max > 0) || math.IsInf(max, 0) {
		return nil, 0, fmt.Errorf("%w: parent D maximum is %v", ErrNumericalInstability, max)
	}
	floats.Scale(1/max, d)
	return parent, math.Log(max), nil
}

// CombineAll merges any number (at least one) of daughter vectors by
// successive pairwise merges. A polytomy is thus treated as a series
// of speciation events separated by zero-length branches. The parent
// E is the mean over all the daughters, so the result does not
// depend on the daughter order.
func CombineAll(ev Evaluator, children [][]float64, r *Rates) ([]float64, float64, error) {
	if len(children) == 0 {
		return nil, 0, fmt.Errorf("%w: no daughters to combine", ErrConfig)
	}
	if len(children) == 1 {
		// single-child nodes pass the vector through
		return append([]float64(nil), children[0]...), 0, nil
	}
	acc := children[0]
	logScale := 0.0
	for _, c := range children[1:] {
		var s float64
		var err error
		acc, s, err = ev.Combine(acc, c, r)
		if err != nil {
			return nil, 0, err
		}
		logScale += s
	}
	if len(children) > 2 {
		n := r.N()
		for i := 0; i < n; i++ {
			e := 0.0
			for _, c := range children {
				e += c[i]
			}
			acc[i] = e / float64(len(children))
		}
	}
	return acc, logScale, nil
}
