// Package sse computes likelihoods of state-dependent speciation and
// extinction models (BiSSE, MuSSE, HiSSE, GeoSSE and their hidden
// state and anagenetic variants) on dated trees.
//
// Along every branch the probabilities E (lineage leaves no sampled
// descendants) and D (lineage produces the observed subtree) are
// integrated backward in time; at every speciation node the daughter
// vectors are merged and rescaled. A probability vector has length
// 2n for n states: E values first, D values second.
package sse

import (
	"errors"

	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("sse")

var (
	// ErrConfig is wrapped by all the model configuration errors
	// (wrong dimensions, negative rates, disallowed transitions).
	ErrConfig = errors.New("invalid model configuration")
	// ErrNumericalInstability signals non-finite or out of range
	// probabilities. The parameter point should be rejected.
	ErrNumericalInstability = errors.New("numerical instability")
)
