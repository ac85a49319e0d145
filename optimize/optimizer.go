// Package optimize contains likelihood optimizers working on
// bounded float parameters.
package optimize

import (
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"

	"github.com/op/go-logging"

	"bitbucket.org/Davydov/gosse/checkpoint"
)

// log is the global logging variable.
var log = logging.MustGetLogger("optimize")

// Optimizable is a model which can be optimized.
type Optimizable interface {
	// GetFloatParameters returns the parameters; setting them
	// changes the model.
	GetFloatParameters() FloatParameters
	// Likelihood returns the log-likelihood, -Inf for invalid
	// parameter values.
	Likelihood() float64
	// Copy returns an independent copy of the model.
	Copy() Optimizable
}

// Optimizer maximizes the likelihood of an Optimizable.
type Optimizer interface {
	SetOptimizable(Optimizable)
	SetOutput(io.Writer)
	SetCheckpointIO(cp *checkpoint.CheckpointIO, model string)
	WatchSignals(...os.Signal)
	SetReportPeriod(period int)
	Run(iterations int)
	GetMaxL() float64
	GetMaxLParameters() []float64
	PrintResults()
	Summary() Summary
}

// Summary is the optimization summary for the JSON output.
type Summary struct {
	// Optimizer is the optimizer name.
	Optimizer string `json:"optimizer"`
	// StartingLnL is the starting point log-likelihood.
	StartingLnL float64 `json:"startingLnL"`
	// StartingParameters are the starting parameter values.
	StartingParameters map[string]float64 `json:"startingParameters"`
	// MaxLnL is the maximum log-likelihood found.
	MaxLnL float64 `json:"maxLnL"`
	// MaxLParameters are the maximum likelihood parameter values.
	MaxLParameters map[string]float64 `json:"maxLParameters"`
	// Iterations is the number of optimizer iterations.
	Iterations int `json:"iterations"`
	// LikelihoodCalls is the number of likelihood computations.
	LikelihoodCalls int `json:"likelihoodCalls"`
	// Resumed is true if the run started from a checkpoint.
	Resumed bool `json:"resumed,omitempty"`
}

// BaseOptimizer implements the common optimizer functionality:
// trajectory output, maximum tracking, checkpoints and signals.
type BaseOptimizer struct {
	Optimizable
	name       string
	parameters FloatParameters
	i          int
	l          float64
	startL     float64
	startPar   map[string]float64
	maxL       float64
	maxLPar    []float64
	calls      int
	repPeriod  int
	sig        chan os.Signal
	out        io.Writer
	cp         *checkpoint.CheckpointIO
	cpModel    string
	resumed    bool
	Quiet      bool
}

func (o *BaseOptimizer) SetOptimizable(opt Optimizable) {
	o.Optimizable = opt
	o.parameters = opt.GetFloatParameters()
}

// SetOutput sets the trajectory output.
func (o *BaseOptimizer) SetOutput(w io.Writer) {
	o.out = w
}

// SetCheckpointIO enables checkpoints for the model.
func (o *BaseOptimizer) SetCheckpointIO(cp *checkpoint.CheckpointIO, model string) {
	o.cp = cp
	o.cpModel = model
}

// WatchSignals makes the optimizer save a checkpoint and exit on the
// signals.
func (o *BaseOptimizer) WatchSignals(sigs ...os.Signal) {
	o.sig = make(chan os.Signal, 1)
	signal.Notify(o.sig, sigs...)
}

func (o *BaseOptimizer) SetReportPeriod(period int) {
	o.repPeriod = period
}

// SaveStart restores parameters from the checkpoint if there is one
// and computes the starting likelihood. It returns true if the
// checkpoint is final, i.e. there is nothing left to optimize.
func (o *BaseOptimizer) SaveStart() (final bool) {
	o.maxL = math.Inf(-1)
	if o.cp != nil {
		data, err := o.cp.GetParameters(o.cpModel)
		if err != nil {
			log.Error("Cannot use checkpoint:", err)
		} else if data != nil {
			if err := o.parameters.SetFromMap(data.Parameters); err != nil {
				log.Error("Cannot use checkpoint:", err)
			} else {
				o.resumed = true
				o.i = data.Iter
				final = data.Final
			}
		}
		o.cp.SetNow()
	}
	o.startPar = o.parameters.Map()
	o.startL = o.Likelihood()
	o.calls++
	o.l = o.startL
	o.maxL = o.startL
	o.maxLPar = o.parameters.Values(o.maxLPar)
	log.Infof("Starting lnL=%f", o.startL)
	return
}

// update registers a likelihood value of the current parameters.
func (o *BaseOptimizer) update(l float64) {
	o.l = l
	if l > o.maxL {
		o.maxL = l
		o.maxLPar = o.parameters.Values(o.maxLPar)
	}
}

// saveCheckpoint saves the maximum if the last save is old enough or the
// optimization is finished.
func (o *BaseOptimizer) saveCheckpoint(final bool) {
	if o.cp == nil || (!final && !o.cp.Old()) {
		return
	}
	pars := make(map[string]float64, len(o.parameters))
	for i, par := range o.parameters {
		pars[par.Name()] = o.maxLPar[i]
	}
	o.cp.Save(&checkpoint.CheckpointData{
		Model:      o.cpModel,
		Parameters: pars,
		Likelihood: o.maxL,
		Iter:       o.i,
		Final:      final,
	})
}

// checkSignals saves a checkpoint and exits if a signal was
// received.
func (o *BaseOptimizer) checkSignals() {
	select {
	case s := <-o.sig:
		o.saveCheckpoint(true)
		log.Fatal("Received signal exiting:", s)
	default:
	}
}

func (o *BaseOptimizer) PrintHeader() {
	if !o.Quiet && o.out != nil {
		fmt.Fprintf(o.out, "iteration\tlikelihood\t%s\n", o.parameters.NamesString())
	}
}

// PrintLine prints a trajectory line every repPeriod iterations.
func (o *BaseOptimizer) PrintLine(l float64) {
	if o.Quiet || o.out == nil || (o.repPeriod > 0 && o.i%o.repPeriod != 0) {
		return
	}
	fmt.Fprintf(o.out, "%d\t%f\t%s\n", o.i, l, o.parameters.ValuesString())
}

// PrintResults logs the maximum likelihood and parameters.
func (o *BaseOptimizer) PrintResults() {
	log.Noticef("Maximum likelihood: %v", o.maxL)
	log.Infof("Likelihood function calls: %v", o.calls)
	for i, par := range o.parameters {
		log.Noticef("%s=%v", par.Name(), o.maxLPar[i])
	}
}

func (o *BaseOptimizer) GetMaxL() float64 {
	return o.maxL
}

func (o *BaseOptimizer) GetMaxLParameters() []float64 {
	return o.maxLPar
}

// Summary returns the optimization summary.
func (o *BaseOptimizer) Summary() Summary {
	maxPar := make(map[string]float64, len(o.parameters))
	for i, par := range o.parameters {
		maxPar[par.Name()] = o.maxLPar[i]
	}
	return Summary{
		Optimizer:          o.name,
		StartingLnL:        o.startL,
		StartingParameters: o.startPar,
		MaxLnL:             o.maxL,
		MaxLParameters:     maxPar,
		Iterations:         o.i,
		LikelihoodCalls:    o.calls,
		Resumed:            o.resumed,
	}
}
