package main

import (
	"encoding/json"
	"math"
	"os"

	"bitbucket.org/Davydov/gosse/optimize"
)

// RunSummary is the gosse run summary written as JSON.
type RunSummary struct {
	// Version stores gosse version.
	Version string `json:"version"`
	// CommandLine is an array storing binary name and all command-line parameters.
	CommandLine []string `json:"commandLine"`
	// NThreads is the number of processes used.
	NThreads int `json:"nThreads"`
	// Command is the executed command.
	Command string `json:"command"`
	// Tree is the input tree.
	Tree string `json:"tree,omitempty"`
	// LnL is the log-likelihood of the starting (like) or the
	// maximum likelihood (fit) parameters.
	LnL float64 `json:"lnL"`
	// Model is the model summary with the rate values.
	Model interface{} `json:"model,omitempty"`
	// Optimizer is the optimizer summary (fit only).
	Optimizer optimize.Summary `json:"optimizer"`
	// Time is the computations time in seconds.
	Time float64 `json:"time"`
}

// finite clamps a log-likelihood to the finite range, JSON has no
// infinities. NaN is the lowest value.
func finite(x float64) float64 {
	switch {
	case math.IsInf(x, 1):
		return math.MaxFloat64
	case math.IsInf(x, -1), math.IsNaN(x):
		return -math.MaxFloat64
	}
	return x
}

// write writes the summary to a JSON file.
func (s *RunSummary) write(fn string) error {
	s.LnL = finite(s.LnL)
	s.Optimizer.StartingLnL = finite(s.Optimizer.StartingLnL)
	s.Optimizer.MaxLnL = finite(s.Optimizer.MaxLnL)
	j, err := json.Marshal(s)
	if err != nil {
		return err
	}
	log.Debug(string(j))
	return os.WriteFile(fn, j, 0666)
}
