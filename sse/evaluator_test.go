package sse

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitbucket.org/Davydov/gosse/ode"
)

// bisse rates: lambda0, lambda1, mu0, mu1, q0_1, q1_0
func bisseRates(t *testing.T, x ...float64) *Rates {
	t.Helper()
	return mustRates(t, mustFamily(t, "bisse", Options{}), Raw, nil, x...)
}

func TestZeroLengthBranch(t *testing.T) {
	r := bisseRates(t, 0.2, 0.1, 0.05, 0.05, 0.01, 0.01)
	y := []float64{0.1, 0.2, 0.7, 0.3}
	orig := append([]float64(nil), y...)
	_, err := ode.Integrate(Anagenetic{}.Derivatives(r), y, 3, 3, ode.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, orig, y)
}

func TestZeroRatesFixedPoint(t *testing.T) {
	r := bisseRates(t, 0, 0, 0, 0, 0, 0)
	y := []float64{0.1, 0.2, 0.7, 0.3}
	f := Anagenetic{}.Derivatives(r)
	dy := make([]float64, len(y))
	f(0, y, dy)
	assert.Equal(t, []float64{0, 0, 0, 0}, dy)

	orig := append([]float64(nil), y...)
	_, err := ode.Integrate(f, y, 0, 10, ode.DefaultConfig())
	require.NoError(t, err)
	assert.InDeltaSlice(t, orig, y, 1e-12)
}

func TestSplitBranch(t *testing.T) {
	r := bisseRates(t, 0.2, 0.1, 0.05, 0.03, 0.01, 0.02)
	f := Anagenetic{}.Derivatives(r)
	cfg := ode.DefaultConfig()

	y1 := []float64{0, 0, 1, 0}
	_, err := ode.Integrate(f, y1, 0, 2.5, cfg)
	require.NoError(t, err)

	y2 := []float64{0, 0, 1, 0}
	_, err = ode.Integrate(f, y2, 0, 2.5, cfg)
	require.NoError(t, err)
	_, err = ode.Integrate(f, y2, 2.5, 2.5, cfg)
	require.NoError(t, err)
	assert.Equal(t, y1, y2)

	y3 := []float64{0, 0, 1, 0}
	_, err = ode.Integrate(f, y3, 0, 1, cfg)
	require.NoError(t, err)
	_, err = ode.Integrate(f, y3, 1, 2.5, cfg)
	require.NoError(t, err)
	assert.InDeltaSlice(t, y1, y3, 1e-9)
}

func TestCombineCommutative(t *testing.T) {
	r := bisseRates(t, 0.2, 0.1, 0.05, 0.03, 0.01, 0.02)
	left := []float64{0.1, 0.12, 0.5, 0.2}
	right := []float64{0.1, 0.12, 0.3, 0.9}

	p1, s1, err := Anagenetic{}.Combine(left, right, r)
	require.NoError(t, err)
	p2, s2, err := Anagenetic{}.Combine(right, left, r)
	require.NoError(t, err)
	assert.InDeltaSlice(t, p1, p2, 1e-15)
	assert.InDelta(t, s1, s2, 1e-15)

	// D0 = 0.2*0.5*0.3, D1 = 0.1*0.2*0.9
	assert.InDelta(t, math.Log(0.03), s1, 1e-12)
	assert.InDeltaSlice(t, []float64{0.1, 0.12, 1, 0.018 / 0.03}, p1, 1e-12)

	g := mustFamily(t, "geosse", Options{})
	gr := mustRates(t, g, Raw, nil, 0.3, 0.2, 0.1, 0.05, 0.04, 0.02, 0.03)
	left = []float64{0.2, 0.1, 0.15, 0.3, 0.5, 0.1}
	right = []float64{0.2, 0.1, 0.15, 0.7, 0.05, 0.4}
	p1, s1, err = Cladogenetic{}.Combine(left, right, gr)
	require.NoError(t, err)
	p2, s2, err = Cladogenetic{}.Combine(right, left, gr)
	require.NoError(t, err)
	assert.InDeltaSlice(t, p1, p2, 1e-15)
	assert.InDelta(t, s1, s2, 1e-15)
}

func TestCombineAveragesE(t *testing.T) {
	r := bisseRates(t, 0.2, 0.1, 0.05, 0.03, 0.01, 0.02)
	p, _, err := Anagenetic{}.Combine([]float64{0.1, 0.2, 1, 1}, []float64{0.3, 0.4, 1, 1}, r)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.2, 0.3}, p[:2], 1e-15)
}

func TestRescalingInvariance(t *testing.T) {
	r := bisseRates(t, 0.2, 0.1, 0.05, 0.03, 0.01, 0.02)
	left := []float64{0.1, 0.12, 0.5, 0.2}
	right := []float64{0.1, 0.12, 0.3, 0.9}
	p1, s1, err := Anagenetic{}.Combine(left, right, r)
	require.NoError(t, err)

	for _, c := range []float64{1e-200, 1e-10, 3, 1e100} {
		scaled := append([]float64(nil), left...)
		scaled[2] *= c
		scaled[3] *= c
		p2, s2, err := Anagenetic{}.Combine(scaled, right, r)
		require.NoError(t, err)
		assert.InDeltaSlice(t, p1, p2, 1e-9, "c=%v", c)
		assert.InDelta(t, s1+math.Log(c), s2, 1e-9, "c=%v", c)
	}
}

func TestCombineErrors(t *testing.T) {
	r := bisseRates(t, 0.2, 0.1, 0.05, 0.03, 0.01, 0.02)
	ok := []float64{0.1, 0.1, 1, 1}

	_, _, err := Anagenetic{}.Combine([]float64{0.1, 0.1, -1, 1}, ok, r)
	assert.ErrorIs(t, err, ErrNumericalInstability)

	_, _, err = Anagenetic{}.Combine([]float64{0.1, 0.1, math.NaN(), 1}, ok, r)
	assert.ErrorIs(t, err, ErrNumericalInstability)

	_, _, err = Anagenetic{}.Combine([]float64{1.5, 0.1, 1, 1}, ok, r)
	assert.ErrorIs(t, err, ErrNumericalInstability)

	_, _, err = Anagenetic{}.Combine([]float64{0.1, 1, 1}, ok, r)
	assert.ErrorIs(t, err, ErrConfig)

	// all-zero parent
	_, _, err = Anagenetic{}.Combine([]float64{0.1, 0.1, 1, 0}, []float64{0.1, 0.1, 0, 1}, r)
	assert.ErrorIs(t, err, ErrNumericalInstability)

	zero := bisseRates(t, 0, 0, 0.05, 0.03, 0.01, 0.02)
	_, _, err = Anagenetic{}.Combine(ok, ok, zero)
	assert.ErrorIs(t, err, ErrNumericalInstability)

	g := mustFamily(t, "geosse", Options{})
	gr := mustRates(t, g, Raw, nil, 0.3, 0.2, 0.1, 0.05, 0.04, 0.02, 0.03)
	_, _, err = Anagenetic{}.Combine(make([]float64, 6), make([]float64, 6), gr)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestCombineAll(t *testing.T) {
	r := bisseRates(t, 0.2, 0.1, 0.05, 0.03, 0.01, 0.02)
	a := []float64{0.1, 0.1, 0.5, 0.2}
	b := []float64{0.1, 0.1, 0.3, 0.9}
	c := []float64{0.1, 0.1, 0.4, 0.4}

	single, s, err := CombineAll(Anagenetic{}, [][]float64{a}, r)
	require.NoError(t, err)
	assert.Equal(t, a, single)
	assert.Equal(t, 0.0, s)
	single[0] = 1
	assert.Equal(t, 0.1, a[0])

	ab, s1, err := Anagenetic{}.Combine(a, b, r)
	require.NoError(t, err)
	exp, s2, err := Anagenetic{}.Combine(ab, c, r)
	require.NoError(t, err)
	p, s, err := CombineAll(Anagenetic{}, [][]float64{a, b, c}, r)
	require.NoError(t, err)
	assert.InDeltaSlice(t, exp, p, 1e-15)
	assert.InDelta(t, s1+s2, s, 1e-15)

	// daughters at different heights: E is the mean of all of them
	a = []float64{0.1, 0.2, 0.5, 0.2}
	b = []float64{0.3, 0.1, 0.3, 0.9}
	c = []float64{0.2, 0.6, 0.4, 0.4}
	for _, ev := range []Evaluator{Anagenetic{}, Cladogenetic{}} {
		p1, s1, err := CombineAll(ev, [][]float64{a, b, c}, r)
		require.NoError(t, err)
		p2, s2, err := CombineAll(ev, [][]float64{c, a, b}, r)
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float64{0.2, 0.3}, p1[:2], 1e-15)
		assert.InDeltaSlice(t, p1, p2, 1e-15)
		assert.InDelta(t, s1, s2, 1e-14)
	}

	_, _, err = CombineAll(Anagenetic{}, nil, r)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestStrategiesAgree(t *testing.T) {
	r := bisseRates(t, 0.2, 0.1, 0.05, 0.03, 0.01, 0.02)
	y := []float64{0.1, 0.3, 0.6, 0.2}
	dya := make([]float64, 4)
	dyc := make([]float64, 4)
	Anagenetic{}.Derivatives(r)(0, y, dya)
	Cladogenetic{}.Derivatives(r)(0, y, dyc)
	assert.InDeltaSlice(t, dya, dyc, 1e-15)

	left := []float64{0.1, 0.12, 0.5, 0.2}
	right := []float64{0.1, 0.12, 0.3, 0.9}
	pa, sa, err := Anagenetic{}.Combine(left, right, r)
	require.NoError(t, err)
	pc, sc, err := Cladogenetic{}.Combine(left, right, r)
	require.NoError(t, err)
	assert.InDeltaSlice(t, pa, pc, 1e-15)
	assert.InDelta(t, sa, sc, 1e-15)
}

func TestGeoSSEDerivatives(t *testing.T) {
	sA, sB, sAB, xA, xB, dA, dB := 0.3, 0.2, 0.1, 0.05, 0.04, 0.02, 0.03
	g := mustFamily(t, "geosse", Options{})
	r := mustRates(t, g, Raw, nil, sA, sB, sAB, xA, xB, dA, dB)
	assert.Equal(t, []string{"01", "0", "1"}, g.Space.Labels())
	assert.InDeltaSlice(t, []float64{sA + sB + sAB, sA, sB}, r.Lambda, 1e-15)
	assert.InDeltaSlice(t, []float64{0, xA, xB}, r.Mu, 1e-15)

	y := []float64{0.2, 0.1, 0.15, 0.3, 0.5, 0.1}
	eAB, eA, eB := y[0], y[1], y[2]
	dAB, dA_, dB_ := y[3], y[4], y[5]
	exp := []float64{
		-(sA+sB+sAB+xA+xB)*eAB + xA*eB + xB*eA + sA*eAB*eA + sB*eAB*eB + sAB*eA*eB,
		xA - (sA+dA+xA)*eA + dA*eAB + sA*eA*eA,
		xB - (sB+dB+xB)*eB + dB*eAB + sB*eB*eB,
		-(sA+sB+sAB+xA+xB)*dAB + xA*dB_ + xB*dA_ +
			sA*(dAB*eA+dA_*eAB) + sB*(dAB*eB+dB_*eAB) + sAB*(dA_*eB+dB_*eA),
		-(sA+dA+xA)*dA_ + dA*dAB + 2*sA*dA_*eA,
		-(sB+dB+xB)*dB_ + dB*dAB + 2*sB*dB_*eB,
	}
	dy := make([]float64, 6)
	g.Evaluator.Derivatives(r)(0, y, dy)
	assert.InDeltaSlice(t, exp, dy, 1e-15)

	left := y
	right := []float64{0.2, 0.1, 0.15, 0.7, 0.05, 0.4}
	l, rt := left[3:], right[3:]
	d := []float64{
		sA*0.5*(l[0]*rt[1]+l[1]*rt[0]) + sB*0.5*(l[0]*rt[2]+l[2]*rt[0]) + sAB*0.5*(l[1]*rt[2]+l[2]*rt[1]),
		sA * l[1] * rt[1],
		sB * l[2] * rt[2],
	}
	max := math.Max(d[0], math.Max(d[1], d[2]))
	p, s, err := g.Evaluator.Combine(left, right, r)
	require.NoError(t, err)
	assert.InDelta(t, math.Log(max), s, 1e-12)
	assert.InDeltaSlice(t, []float64{d[0] / max, d[1] / max, d[2] / max}, p[3:], 1e-12)
}

func TestNoClass(t *testing.T) {
	f := mustFamily(t, "noclass", Options{})
	assert.IsType(t, Anagenetic{}, f.Evaluator)
	r := mustRates(t, f, Raw, nil, 0.3, 0.2, 0.1, 0.05, 0.04, 0.02, 0.03)
	assert.True(t, r.IsAnagenetic())
	assert.InDeltaSlice(t, []float64{0.1, 0.3, 0.2}, r.Lambda, 1e-15)
	assert.InDelta(t, 0.05, r.Q.At(0, 2), 1e-15)
	assert.InDelta(t, 0.04, r.Q.At(0, 1), 1e-15)
	assert.InDelta(t, 0.02, r.Q.At(1, 0), 1e-15)
	assert.InDelta(t, 0.03, r.Q.At(2, 0), 1e-15)
}
