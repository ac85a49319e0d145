package main

import (
	"context"
	"os"

	"bitbucket.org/Davydov/gosse/sse"
	"bitbucket.org/Davydov/gosse/traits"
	"bitbucket.org/Davydov/gosse/tree"
)

// modelSettings stores everything needed for creating a model.
type modelSettings struct {
	cfg      *modelConfig
	family   *sse.Family
	layout   *sse.Layout
	settings sse.Settings
}

// newModelSettings resolves the model family, the parameter layout
// and the likelihood settings.
func newModelSettings(cfg *modelConfig, workers int) (*modelSettings, error) {
	family, err := sse.New(cfg.Model, cfg.Options)
	if err != nil {
		return nil, err
	}
	log.Infof("Using %s model, states: %v", family.Name, family.Space.Labels())

	param, err := sse.ParseParameterization(cfg.Parameterization)
	if err != nil {
		return nil, err
	}
	layout, err := sse.NewLayout(family, param, cfg.Groups)
	if err != nil {
		return nil, err
	}
	log.Infof("%d free parameters: %v", layout.NParameters(), layout.Names())

	settings, err := cfg.settings(family.Space, workers)
	if err != nil {
		return nil, err
	}
	return &modelSettings{
		cfg:      cfg,
		family:   family,
		layout:   layout,
		settings: settings,
	}, nil
}

// createModel creates a model for the tree and the data.
func (ms *modelSettings) createModel(ctx context.Context, t *tree.Tree, data *traits.Data) (*sse.Model, error) {
	lik, err := sse.NewLikelihood(t, data, ms.family, ms.settings)
	if err != nil {
		return nil, err
	}
	x0, err := ms.cfg.start(ms.layout)
	if err != nil {
		return nil, err
	}
	m, err := sse.NewModel(ctx, lik, ms.layout, x0)
	if err != nil {
		return nil, err
	}
	if ms.cfg.MaxRate > 0 {
		m.SetMaxRate(ms.cfg.MaxRate)
	}
	return m, nil
}

// readTree reads a newick tree from a file.
func readTree(fn string) (*tree.Tree, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := tree.ParseNewick(f)
	if err != nil {
		return nil, err
	}
	log.Infof("Read tree with %d leaves", t.NLeaves())
	log.Debugf("intree=%s", t)
	return t, nil
}

// readTraits reads tip states from a TSV file.
func readTraits(fn string) (*traits.Data, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := traits.ReadTSV(f)
	if err != nil {
		return nil, err
	}
	log.Infof("Read states of %d taxa, states: %v", len(data.Taxa()), data.States())
	return data, nil
}
