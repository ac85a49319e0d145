package sse

import (
	"context"
	"math"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitbucket.org/Davydov/gosse/ode"
	"bitbucket.org/Davydov/gosse/traits"
)

const balanced4 = "((a:1,b:1):1,(c:1,d:1):1);"

func newLikelihood(t *testing.T, s string, data *traits.Data, f *Family, settings Settings) *Likelihood {
	t.Helper()
	l, err := NewLikelihood(parseTree(t, s), data, f, settings)
	require.NoError(t, err)
	return l
}

func evaluate(t *testing.T, l *Likelihood, r *Rates) float64 {
	t.Helper()
	lnL, err := l.Evaluate(context.Background(), r)
	require.NoError(t, err)
	return lnL
}

func TestBiSSEBalanced(t *testing.T) {
	f := mustFamily(t, "bisse", Options{})
	l := newLikelihood(t, balanced4, tipData("a", "0", "b", "0", "c", "1", "d", "1"), f, DefaultSettings())
	lnL := evaluate(t, l, bisseRates(t, 0.2, 0.1, 0.05, 0.05, 0.01, 0.01))
	assert.False(t, math.IsInf(lnL, 0) || math.IsNaN(lnL))
	assert.Less(t, lnL, 0.0)

	// relabel the states
	l2 := newLikelihood(t, balanced4, tipData("a", "1", "b", "1", "c", "0", "d", "0"), f, DefaultSettings())
	lnL2 := evaluate(t, l2, bisseRates(t, 0.1, 0.2, 0.05, 0.05, 0.01, 0.01))
	assert.InDelta(t, lnL, lnL2, 1e-9)

	for _, s := range []Settings{
		{Root: RootEqual, ODE: DefaultSettings().ODE},
		{Root: RootGiven, RootWeights: []float64{1, 3}, Condition: true, ODE: DefaultSettings().ODE},
	} {
		l := newLikelihood(t, balanced4, tipData("a", "0", "b", "0", "c", "1", "d", "1"), f, s)
		v := evaluate(t, l, bisseRates(t, 0.2, 0.1, 0.05, 0.05, 0.01, 0.01))
		assert.False(t, math.IsInf(v, 0) || math.IsNaN(v))
	}
}

func TestStarTree(t *testing.T) {
	lambda, mu, T := 0.3, 0.1, 2.0
	f := oneState(t)
	r := mustRates(t, f, Raw, nil, lambda, mu)
	data := tipData("a", "0", "b", "0", "c", "0", "d", "0")
	e, d := birthDeath(lambda, mu, T)

	s := DefaultSettings()
	s.Condition = false
	l := newLikelihood(t, "(a:2,b:2,c:2,d:2);", data, f, s)
	lnL := evaluate(t, l, r)
	assert.InDelta(t, 3*math.Log(lambda)+4*math.Log(d), lnL, smallDiff)

	root, err := l.Prune(context.Background(), r)
	require.NoError(t, err)
	assert.InDelta(t, e, root.E[0], smallDiff)
	assert.Greater(t, root.Stats.Steps, 0)

	s.Condition = true
	l = newLikelihood(t, "(a:2,b:2,c:2,d:2);", data, f, s)
	lnLc := evaluate(t, l, r)
	assert.InDelta(t, lnL-math.Log(lambda*(1-e)*(1-e)), lnLc, smallDiff)
}

func TestBirthDeathTree(t *testing.T) {
	// ((a:1,b:1):1,c:2): internal branch E and D start from the
	// node values
	lambda, mu := 0.4, 0.15
	f := oneState(t)
	r := mustRates(t, f, Raw, nil, lambda, mu)
	s := DefaultSettings()
	s.Condition = false
	l := newLikelihood(t, "((a:1,b:1):1,c:2);", tipData("a", "0", "b", "0", "c", "0"), f, s)
	lnL := evaluate(t, l, r)
	// D(t) scales linearly with D(0) and E(0) only depends on time
	// for the ultrametric tree
	_, d1 := birthDeath(lambda, mu, 1)
	_, d2 := birthDeath(lambda, mu, 2)
	exp := 2*math.Log(lambda) + 2*math.Log(d1) + math.Log(d2/d1) + math.Log(d2)
	assert.InDelta(t, exp, lnL, smallDiff)
}

func TestBiSSEReducesToBirthDeath(t *testing.T) {
	lambda, mu := 0.3, 0.1
	bd := oneState(t)
	data := tipData("a", "0", "b", "0", "c", "0", "d", "0")
	l1 := newLikelihood(t, balanced4, data, bd, DefaultSettings())
	exp := evaluate(t, l1, mustRates(t, bd, Raw, nil, lambda, mu))

	f := mustFamily(t, "bisse", Options{})
	l2 := newLikelihood(t, balanced4, data, f, DefaultSettings())
	lnL := evaluate(t, l2, bisseRates(t, lambda, lambda, mu, mu, 0, 0))
	assert.InDelta(t, exp, lnL, smallDiff)
}

func TestStrategiesAgreeOnTree(t *testing.T) {
	f := mustFamily(t, "bisse", Options{})
	data := tipData("a", "0", "b", "1", "c", "1", "d", "0")
	r := bisseRates(t, 0.2, 0.1, 0.05, 0.03, 0.01, 0.02)
	l := newLikelihood(t, balanced4, data, f, DefaultSettings())
	exp := evaluate(t, l, r)

	clado := *f
	clado.Evaluator = Cladogenetic{}
	l = newLikelihood(t, balanced4, data, &clado, DefaultSettings())
	assert.InDelta(t, exp, evaluate(t, l, r), smallDiff)
}

func TestTipVectors(t *testing.T) {
	f := mustFamily(t, "bisse", Options{})
	s := DefaultSettings()
	s.Sampling = []float64{0.5, 0.8}
	l := newLikelihood(t, balanced4, tipData("a", "0", "b", "1", "c", "?", "d", "0", "d", "1"), f, s)
	tr := l.Tree()
	leaf := func(name string) []float64 {
		node, ok := tr.Leaf(name)
		require.True(t, ok)
		return l.tips[node.Id]
	}
	assert.InDeltaSlice(t, []float64{0.5, 0.2, 0.5, 0}, leaf("a"), 1e-15)
	assert.InDeltaSlice(t, []float64{0.5, 0.2, 0, 0.8}, leaf("b"), 1e-15)
	assert.InDeltaSlice(t, []float64{0.5, 0.2, 0.5, 0.8}, leaf("c"), 1e-15)
	assert.InDeltaSlice(t, []float64{0.5, 0.2, 0.5, 0.8}, leaf("d"), 1e-15)

	h := mustFamily(t, "hisse", Options{})
	l = newLikelihood(t, balanced4, tipData("a", "0", "b", "1", "c", "1", "d", "0"), h, DefaultSettings())
	node, _ := l.Tree().Leaf("b")
	assert.Equal(t, []float64{0, 0, 0, 0, 0, 1, 0, 1}, l.tips[node.Id])
}

func TestNewLikelihoodErrors(t *testing.T) {
	f := mustFamily(t, "bisse", Options{})
	tr := parseTree(t, balanced4)
	full := tipData("a", "0", "b", "1", "c", "1", "d", "0")

	_, err := NewLikelihood(tr, tipData("a", "0", "b", "1", "c", "1"), f, DefaultSettings())
	assert.ErrorIs(t, err, ErrConfig)
	_, err = NewLikelihood(tr, tipData("a", "0", "b", "1", "c", "1", "d", "2"), f, DefaultSettings())
	assert.ErrorIs(t, err, ErrConfig)

	s := DefaultSettings()
	s.Sampling = []float64{0.5}
	_, err = NewLikelihood(tr, full, f, s)
	assert.ErrorIs(t, err, ErrConfig)
	s.Sampling = []float64{0, 1}
	_, err = NewLikelihood(tr, full, f, s)
	assert.ErrorIs(t, err, ErrConfig)

	s = DefaultSettings()
	s.Root = RootGiven
	_, err = NewLikelihood(tr, full, f, s)
	assert.ErrorIs(t, err, ErrConfig)
	s.RootWeights = []float64{0, 0}
	_, err = NewLikelihood(tr, full, f, s)
	assert.ErrorIs(t, err, ErrConfig)

	s = DefaultSettings()
	s.ODE.RelTol = -1
	_, err = NewLikelihood(tr, full, f, s)
	assert.ErrorIs(t, err, ErrConfig)

	// extra taxa are ignored
	extra := tipData("a", "0", "b", "1", "c", "1", "d", "0", "e", "1")
	_, err = NewLikelihood(tr, extra, f, DefaultSettings())
	assert.NoError(t, err)

	_, err = ParseRootType("middle")
	assert.ErrorIs(t, err, ErrConfig)
	rt, err := ParseRootType("equal")
	require.NoError(t, err)
	assert.Equal(t, RootEqual, rt)
}

func TestPruneWrongRates(t *testing.T) {
	f := mustFamily(t, "bisse", Options{})
	l := newLikelihood(t, balanced4, tipData("a", "0", "b", "1", "c", "1", "d", "0"), f, DefaultSettings())
	g := mustFamily(t, "geosse", Options{})
	_, err := l.Prune(context.Background(), mustRates(t, g, Raw, nil, 0.3, 0.2, 0.1, 0.05, 0.04, 0.02, 0.03))
	assert.ErrorIs(t, err, ErrConfig)
}

func TestParallelPrune(t *testing.T) {
	f := mustFamily(t, "musse", Options{})
	data := traits.New()
	for i := 0; i < 64; i++ {
		data.Add("t"+strconv.Itoa(i), strconv.Itoa(i%3))
	}
	newick := balanced(6)
	lay, err := NewLayout(f, Raw, nil)
	require.NoError(t, err)
	r, err := lay.Rates(lay.DefaultValues())
	require.NoError(t, err)

	s := DefaultSettings()
	s.Workers = 1
	serial := evaluate(t, newLikelihood(t, newick, data, f, s), r)

	s.Workers = 8
	l := newLikelihood(t, newick, data, f, s)
	parallel := evaluate(t, l, r)
	assert.Equal(t, serial, parallel)

	xs := [][]float64{lay.DefaultValues(), lay.DefaultValues(), lay.DefaultValues()}
	xs[1][0] = 0.3
	xs[2][0] = -1
	lnLs, errs := l.EvaluateMany(context.Background(), lay, xs)
	require.Len(t, lnLs, 3)
	assert.NoError(t, errs[0])
	assert.Equal(t, serial, lnLs[0])
	assert.NoError(t, errs[1])
	assert.NotEqual(t, serial, lnLs[1])
	assert.ErrorIs(t, errs[2], ErrConfig)
	assert.True(t, math.IsInf(lnLs[2], -1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Evaluate(ctx, r)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGeoSSETree(t *testing.T) {
	g := mustFamily(t, "geosse", Options{})
	data := tipData("a", "0", "b", "01", "c", "1", "d", "1")
	r := mustRates(t, g, Raw, nil, 0.3, 0.2, 0.1, 0.05, 0.04, 0.02, 0.03)
	l := newLikelihood(t, balanced4, data, g, DefaultSettings())
	lnL := evaluate(t, l, r)
	assert.False(t, math.IsInf(lnL, 0) || math.IsNaN(lnL))
	assert.Less(t, lnL, 0.0)

	nc := mustFamily(t, "noclass", Options{})
	l = newLikelihood(t, balanced4, data, nc, DefaultSettings())
	lnNC := evaluate(t, l, mustRates(t, nc, Raw, nil, 0.3, 0.2, 0.1, 0.05, 0.04, 0.02, 0.03))
	assert.False(t, math.IsInf(lnNC, 0) || math.IsNaN(lnNC))
	assert.NotEqual(t, lnL, lnNC)
}

func TestZeroSurvival(t *testing.T) {
	// a state without speciation has zero conditioning denominator
	// and is dropped from the root
	f := mustFamily(t, "bisse", Options{})
	l := newLikelihood(t, "(a:1,b:1);", tipData("a", "0", "b", "0"), f, DefaultSettings())
	lnL := evaluate(t, l, bisseRates(t, 0.2, 0, 0.05, 0.05, 0.01, 0.01))
	assert.False(t, math.IsInf(lnL, 0) || math.IsNaN(lnL))
}

func TestIntegrationInstability(t *testing.T) {
	f := mustFamily(t, "bisse", Options{})
	data := tipData("a", "0", "b", "0", "c", "1", "d", "1")
	r := bisseRates(t, 1e300, 1e300, 1e300, 1e300, 1e300, 1e300)
	for _, workers := range []int{1, 4} {
		s := DefaultSettings()
		s.Workers = workers
		l := newLikelihood(t, balanced4, data, f, s)
		lnL, err := l.Evaluate(context.Background(), r)
		assert.ErrorIs(t, err, ErrNumericalInstability)
		assert.ErrorIs(t, err, ode.ErrNotFinite)
		assert.True(t, math.IsInf(lnL, -1))
	}
}

func TestWeightedConditioning(t *testing.T) {
	f := mustFamily(t, "bisse", Options{})
	data := tipData("a", "0", "b", "0", "c", "1", "d", "1")
	r := bisseRates(t, 0.2, 0.1, 0.05, 0.05, 0.01, 0.01)
	s := DefaultSettings()
	perState := evaluate(t, newLikelihood(t, balanced4, data, f, s), r)

	s.Conditioning = ConditionWeighted
	l := newLikelihood(t, balanced4, data, f, s)
	lnL := evaluate(t, l, r)
	root, err := l.Prune(context.Background(), r)
	require.NoError(t, err)
	var sum, num, den float64
	for _, d := range root.D {
		sum += d
	}
	for i, d := range root.D {
		w := d / sum
		num += w * d
		den += w * r.Lambda[i] * (1 - root.E[i]) * (1 - root.E[i])
	}
	assert.InDelta(t, math.Log(num/den)+root.LogScale, lnL, 1e-12)
	assert.Greater(t, math.Abs(lnL-perState), 1e-6)

	c, err := ParseConditioning("weighted")
	require.NoError(t, err)
	assert.Equal(t, ConditionWeighted, c)
	_, err = ParseConditioning("joint")
	assert.ErrorIs(t, err, ErrConfig)
}

// hiddenReduced returns rates where every hidden class has the rates
// of the single class model and hidden classes never change.
func hiddenReduced(t *testing.T, f *Family, values map[string]float64) *Rates {
	t.Helper()
	strip := strings.NewReplacer("A", "", "B", "")
	groups := make(map[string]string, len(f.Slots))
	for _, slot := range f.Slots {
		hidden := slot.Kind == SlotTransition
		for _, tg := range slot.Targets {
			hidden = hidden && f.Space.Obs(tg.I) == f.Space.Obs(tg.J)
		}
		if hidden {
			groups[slot.Name] = Zero
		} else {
			groups[slot.Name] = strip.Replace(slot.Name)
		}
	}
	l, err := NewLayout(f, Raw, groups)
	require.NoError(t, err)
	x := make([]float64, l.NParameters())
	for i, name := range l.Names() {
		v, ok := values[name]
		require.True(t, ok, name)
		x[i] = v
	}
	r, err := l.Rates(x)
	require.NoError(t, err)
	return r
}

// namedValues creates a starting point of the single class model with
// distinct values and returns it with the values by name.
func namedValues(t *testing.T, f *Family) ([]float64, map[string]float64) {
	t.Helper()
	l, err := NewLayout(f, Raw, nil)
	require.NoError(t, err)
	x := l.DefaultValues()
	values := make(map[string]float64, len(x))
	for i, name := range l.Names() {
		x[i] *= 1 + 0.1*float64(i)
		values[name] = x[i]
	}
	return x, values
}

func TestHiddenClassesReduce(t *testing.T) {
	for _, c := range []struct {
		hidden, single string
		data           *traits.Data
	}{
		{"geohisse", "geosse", tipData("a", "0", "b", "01", "c", "1", "d", "1")},
		{"hinoclass", "noclass", tipData("a", "0", "b", "01", "c", "1", "d", "1")},
		{"muhisse", "muhisse", tipData("a", "00", "b", "01", "c", "10", "d", "11")},
	} {
		single := mustFamily(t, c.single, Options{})
		x, values := namedValues(t, single)
		exp := evaluate(t, newLikelihood(t, balanced4, c.data, single, DefaultSettings()), mustRates(t, single, Raw, nil, x...))

		h := mustFamily(t, c.hidden, Options{Hidden: 2})
		require.Equal(t, 2*single.Space.N(), h.Space.N())
		lnL := evaluate(t, newLikelihood(t, balanced4, c.data, h, DefaultSettings()), hiddenReduced(t, h, values))
		assert.InDelta(t, exp, lnL, smallDiff, c.hidden)
	}
}

func TestMuHiSSEIsMuSSE(t *testing.T) {
	mh := mustFamily(t, "muhisse", Options{})
	x, _ := namedValues(t, mh)
	r := mustRates(t, mh, Raw, nil, x...)
	exp := evaluate(t, newLikelihood(t, balanced4, tipData("a", "00", "b", "01", "c", "10", "d", "11"), mh, DefaultSettings()), r)

	mu := mustFamily(t, "musse", Options{Observed: 4})
	rm, err := NewRates(mu.Topology, r.Mu, r.Q, r.Events)
	require.NoError(t, err)
	lnL := evaluate(t, newLikelihood(t, balanced4, tipData("a", "0", "b", "1", "c", "2", "d", "3"), mu, DefaultSettings()), rm)
	assert.InDelta(t, exp, lnL, 1e-12)
}

func TestTurnoverTree(t *testing.T) {
	f := mustFamily(t, "bisse", Options{})
	data := tipData("a", "0", "b", "1", "c", "1", "d", "0")
	exp := evaluate(t, newLikelihood(t, balanced4, data, f, DefaultSettings()), bisseRates(t, 0.2, 0.1, 0.05, 0.03, 0.01, 0.02))

	// turnover lambda+mu, extinction fraction mu/lambda
	r := mustRates(t, f, Turnover, nil, 0.25, 0.13, 0.25, 0.3, 0.01, 0.02)
	assert.InDeltaSlice(t, []float64{0.2, 0.1}, r.Lambda, 1e-15)
	assert.InDeltaSlice(t, []float64{0.05, 0.03}, r.Mu, 1e-15)
	lnL := evaluate(t, newLikelihood(t, balanced4, data, f, DefaultSettings()), r)
	assert.InDelta(t, exp, lnL, 1e-9)
}
