package sse

import (
	"bytes"
	"math"
	"strconv"
	"testing"

	"github.com/op/go-logging"
	"github.com/stretchr/testify/require"

	"bitbucket.org/Davydov/gosse/traits"
	"bitbucket.org/Davydov/gosse/tree"
)

func init() {
	logging.SetLevel(logging.ERROR, "sse")
}

// tolerance for values computed by integration
const smallDiff = 1e-7

func mustFamily(t *testing.T, name string, opts Options) *Family {
	t.Helper()
	f, err := New(name, opts)
	require.NoError(t, err)
	return f
}

func mustRates(t *testing.T, f *Family, param Parameterization, groups map[string]string, x ...float64) *Rates {
	t.Helper()
	l, err := NewLayout(f, param, groups)
	require.NoError(t, err)
	r, err := l.Rates(x)
	require.NoError(t, err)
	return r
}

// oneState is a constant rate birth-death model.
func oneState(t *testing.T) *Family {
	t.Helper()
	space, err := NewSpace([]string{"0"}, 1)
	require.NoError(t, err)
	return newFamily("bd", space, stateSlots(space))
}

func parseTree(t *testing.T, s string) *tree.Tree {
	t.Helper()
	tr, err := tree.ParseNewick(bytes.NewBufferString(s))
	require.NoError(t, err)
	return tr
}

// tipData creates data from taxon, state pairs.
func tipData(pairs ...string) *traits.Data {
	d := traits.New()
	for i := 0; i+1 < len(pairs); i += 2 {
		d.Add(pairs[i], pairs[i+1])
	}
	return d
}

// birthDeath returns E and D of a constant rate birth-death process
// after time t, starting from E=0, D=1.
func birthDeath(lambda, mu, t float64) (e, d float64) {
	r := lambda - mu
	x := math.Exp(-r * t)
	den := lambda - mu*x
	return 1 - r/den, r * r * x / (den * den)
}

// balanced returns a balanced tree with 2^depth tips named t0, t1,
// ... and unit branch lengths.
func balanced(depth int) string {
	var next int
	var sub func(d int) string
	sub = func(d int) string {
		if d == 0 {
			s := "t" + strconv.Itoa(next) + ":1"
			next++
			return s
		}
		return "(" + sub(d-1) + "," + sub(d-1) + "):1"
	}
	s := sub(depth)
	// drop the root branch length
	return s[:len(s)-2] + ";"
}
