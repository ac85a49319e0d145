package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"bitbucket.org/Davydov/gosse/checkpoint"
	"bitbucket.org/Davydov/gosse/optimize"
)

// optimizerSettings stores settings for creation of a new optimizer.
type optimizerSettings struct {
	method  string
	model   optimize.Optimizable
	workers int

	report int

	trajF io.Writer

	cp      *checkpoint.CheckpointIO
	cpModel string
}

// create creates and initializes a new optimizer.
func (o *optimizerSettings) create() (optimize.Optimizer, error) {
	opt, err := o.getOptimizer()
	if err != nil {
		return nil, err
	}
	log.Infof("Using %s optimization.", o.method)

	opt.SetOutput(o.trajF)
	opt.SetOptimizable(o.model)
	opt.SetReportPeriod(o.report)
	if o.cp != nil {
		opt.SetCheckpointIO(o.cp, o.cpModel)
	}
	return opt, nil
}

// getOptimizer returns an optimizer from settings.
func (o *optimizerSettings) getOptimizer() (optimize.Optimizer, error) {
	switch o.method {
	case "lbfgsb":
		opt := optimize.NewLBFGSB()
		if o.workers > 0 {
			opt.Workers = o.workers
		}
		return opt, nil
	case "none":
		return optimize.NewNone(), nil
	}
	return nil, fmt.Errorf("unknown optimization method: %s", o.method)
}

// lastLine returns the last non-empty line of a file.
func lastLine(fn string) (string, error) {
	b, err := os.ReadFile(fn)
	if err != nil {
		return "", err
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	return lines[len(lines)-1], nil
}

// readStart sets parameters from a JSON summary of a previous run
// (maximum likelihood values) or from the last line of a trajectory.
func readStart(fn string, pars optimize.FloatParameters) error {
	if strings.EqualFold(filepath.Ext(fn), ".json") {
		b, err := os.ReadFile(fn)
		if err != nil {
			return err
		}
		var summary RunSummary
		if err := json.Unmarshal(b, &summary); err != nil {
			return err
		}
		return pars.SetFromMap(summary.Optimizer.MaxLParameters)
	}
	line, err := lastLine(fn)
	if err != nil {
		return err
	}
	return pars.ReadLine(line)
}
