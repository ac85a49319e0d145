package sse

import (
	"fmt"
	"strconv"
)

// maxHidden is the number of available hidden class labels.
const maxHidden = 26

// Space describes a state space: the product of observed states and
// hidden classes. Combined state index is hidden*len(Observed)+obs,
// i.e. 0A, 1A, 0B, 1B for two observed states and two classes.
type Space struct {
	Observed []string
	NHidden  int
}

// NewSpace creates a new state space.
func NewSpace(observed []string, nHidden int) (Space, error) {
	if len(observed) == 0 {
		return Space{}, fmt.Errorf("%w: no observed states", ErrConfig)
	}
	if nHidden < 1 || nHidden > maxHidden {
		return Space{}, fmt.Errorf("%w: number of hidden classes should be within [1, %d], got %d",
			ErrConfig, maxHidden, nHidden)
	}
	seen := make(map[string]bool, len(observed))
	for _, o := range observed {
		if seen[o] {
			return Space{}, fmt.Errorf("%w: duplicated state %q", ErrConfig, o)
		}
		seen[o] = true
	}
	return Space{Observed: observed, NHidden: nHidden}, nil
}

// numericLabels returns labels "0", "1", ..., n-1.
func numericLabels(n int) []string {
	labels := make([]string, n)
	for i := range labels {
		labels[i] = strconv.Itoa(i)
	}
	return labels
}

// N returns the total number of states.
func (s Space) N() int {
	return len(s.Observed) * s.NHidden
}

// NObserved returns the number of observed states.
func (s Space) NObserved() int {
	return len(s.Observed)
}

// Index returns the combined state index.
func (s Space) Index(obs, hidden int) int {
	return hidden*len(s.Observed) + obs
}

// Obs returns the observed state of a combined state.
func (s Space) Obs(i int) int {
	return i % len(s.Observed)
}

// Hidden returns the hidden class of a combined state.
func (s Space) Hidden(i int) int {
	return i / len(s.Observed)
}

// ObsIndex returns the index of an observed state label.
func (s Space) ObsIndex(label string) (int, bool) {
	for i, o := range s.Observed {
		if o == label {
			return i, true
		}
	}
	return 0, false
}

// HiddenLabel returns the label of a hidden class. Without hidden
// classes the label is empty.
func (s Space) HiddenLabel(h int) string {
	if s.NHidden == 1 {
		return ""
	}
	return string(rune('A' + h))
}

// Label returns the label of a combined state, e.g. "0A".
func (s Space) Label(i int) string {
	return s.Observed[s.Obs(i)] + s.HiddenLabel(s.Hidden(i))
}

// Labels returns labels of all the states.
func (s Space) Labels() []string {
	labels := make([]string, s.N())
	for i := range labels {
		labels[i] = s.Label(i)
	}
	return labels
}
