package optimize

import (
	"math"
	"runtime"

	lbfgsb "github.com/idavydov/go-lbfgsb"
	"golang.org/x/sync/errgroup"
)

// LBFGSB is the bounded limited memory BFGS optimizer with the
// gradient computed by finite differences.
type LBFGSB struct {
	BaseOptimizer
	dH   float64
	grad []float64
	// Workers limits the number of concurrent gradient likelihood
	// computations.
	Workers int
}

// NewLBFGSB creates a new L-BFGS-B optimizer.
func NewLBFGSB() *LBFGSB {
	return &LBFGSB{
		BaseOptimizer: BaseOptimizer{
			name:      "lbfgsb",
			repPeriod: 1,
		},
		dH:      1e-6,
		Workers: runtime.GOMAXPROCS(0),
	}
}

// Logger is called by L-BFGS-B after every iteration.
func (l *LBFGSB) Logger(info *lbfgsb.OptimizationIterationInformation) {
	l.i++
	l.parameters.SetValues(info.X)
	l.update(-info.F)
	l.PrintLine(-info.F)
	log.Debugf("%d: lnL=%f", l.i, -info.F)
	l.saveCheckpoint(false)
	l.checkSignals()
}

// EvaluateFunction returns the negative log-likelihood.
func (l *LBFGSB) EvaluateFunction(x []float64) float64 {
	if !l.parameters.ValuesInRange(x) {
		return math.Inf(+1)
	}
	l.parameters.SetValues(x)
	L := l.Likelihood()
	l.calls++
	l.update(L)
	return -L
}

// EvaluateGradient computes the gradient of the negative
// log-likelihood. Every coordinate is computed on a copy of the
// model, coordinates are computed concurrently. One-sided
// differences are used near the bounds.
func (l *LBFGSB) EvaluateGradient(x []float64) []float64 {
	if l.grad == nil {
		l.grad = make([]float64, len(x))
	}
	grad := l.grad

	var g errgroup.Group
	g.SetLimit(l.Workers)
	for i := range x {
		i := i
		g.Go(func() error {
			lo, hi := x[i]-l.dH, x[i]+l.dH
			par := l.parameters[i]
			if lo < par.GetMin() {
				lo = x[i]
			}
			if hi > par.GetMax() {
				hi = x[i]
			}
			grad[i] = (l.at(x, i, hi) - l.at(x, i, lo)) / (hi - lo)
			return nil
		})
	}
	g.Wait()
	l.calls += 2 * len(x)
	l.checkSignals()
	return grad
}

// at computes the negative log-likelihood with x[i] set to v.
func (l *LBFGSB) at(x []float64, i int, v float64) float64 {
	m := l.Optimizable.Copy()
	pars := m.GetFloatParameters()
	pars.SetValues(x)
	pars[i].Set(v)
	return -m.Likelihood()
}

// Run starts the optimization.
func (l *LBFGSB) Run(iterations int) {
	if final := l.SaveStart(); final {
		log.Notice("Checkpoint is final, skipping optimization")
		return
	}
	l.PrintHeader()
	l.PrintLine(l.l)

	bounds := make([][2]float64, len(l.parameters))
	for i, par := range l.parameters {
		bounds[i][0] = par.GetMin()
		bounds[i][1] = par.GetMax()
	}

	opt := new(lbfgsb.Lbfgsb)
	opt.SetApproximationSize(10)
	opt.SetFTolerance(1e-9)
	opt.SetGTolerance(1e-9)
	opt.SetBounds(bounds)
	opt.SetLogger(l.Logger)

	_, exitStatus := opt.Minimize(l, l.parameters.Values(nil))
	log.Infof("Exit status: %v", exitStatus)

	// continue from the maximum
	l.parameters.SetValues(l.maxLPar)
	l.saveCheckpoint(true)
}
