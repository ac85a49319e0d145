// Package traits stores observed character states of the tree tips.
package traits

import (
	"slices"
	"strings"
)

// Unknown is the state of a tip with unknown character state.
const Unknown = "?"

// Data is a collection of observed states for a set of taxa. A taxon
// with several states is ambiguous.
type Data struct {
	taxon map[string]map[string]bool
}

// New creates a new empty data set.
func New() *Data {
	return &Data{
		taxon: make(map[string]map[string]bool),
	}
}

// Add adds a state observation for a taxon.
func (d *Data) Add(taxon, state string) {
	taxon = strings.TrimSpace(taxon)
	state = strings.TrimSpace(state)
	if taxon == "" || state == "" {
		return
	}

	obs, ok := d.taxon[taxon]
	if !ok {
		obs = make(map[string]bool)
		d.taxon[taxon] = obs
	}
	obs[state] = true
}

// Obs returns the sorted observed states of a taxon.
func (d *Data) Obs(taxon string) []string {
	tx, ok := d.taxon[strings.TrimSpace(taxon)]
	if !ok {
		return nil
	}
	obs := make([]string, 0, len(tx))
	for s := range tx {
		obs = append(obs, s)
	}
	slices.Sort(obs)
	return obs
}

// Taxa returns the sorted taxon names.
func (d *Data) Taxa() []string {
	taxa := make([]string, 0, len(d.taxon))
	for tx := range d.taxon {
		taxa = append(taxa, tx)
	}
	slices.Sort(taxa)
	return taxa
}

// States returns all the sorted states found in the data, except
// Unknown.
func (d *Data) States() []string {
	st := make(map[string]bool)
	for _, obs := range d.taxon {
		for s := range obs {
			if s != Unknown {
				st[s] = true
			}
		}
	}
	states := make([]string, 0, len(st))
	for s := range st {
		states = append(states, s)
	}
	slices.Sort(states)
	return states
}
