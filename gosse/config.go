package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"bitbucket.org/Davydov/gosse/ode"
	"bitbucket.org/Davydov/gosse/sse"
)

// modelConfig is the model description read from a YAML file.
type modelConfig struct {
	// Model is the registered model name.
	Model   string      `yaml:"model"`
	Options sse.Options `yaml:"options"`
	// Parameterization is raw (default) or turnover.
	Parameterization string `yaml:"parameterization"`
	// Root is fitzjohn (default), equal or given.
	Root        string    `yaml:"root"`
	RootWeights []float64 `yaml:"root_weights"`
	// Condition on survival, true by default.
	Condition *bool `yaml:"condition"`
	// Conditioning is state (default) or weighted.
	Conditioning string `yaml:"conditioning"`
	// Sampling is the sampled fraction for every observed state
	// label, missing states are completely sampled.
	Sampling map[string]float64 `yaml:"sampling"`
	// Groups maps rate names to parameter names; "0" fixes a rate
	// to zero.
	Groups map[string]string `yaml:"groups"`
	// Start are the starting parameter values.
	Start   map[string]float64 `yaml:"start"`
	MaxRate float64            `yaml:"max_rate"`
	ODE     ode.Config         `yaml:"ode"`
}

// newModelConfig returns the configuration with the default values.
func newModelConfig(model string) *modelConfig {
	return &modelConfig{
		Model: model,
		ODE:   ode.DefaultConfig(),
	}
}

// readModelConfig reads the configuration, unknown fields are
// errors.
func readModelConfig(r io.Reader) (*modelConfig, error) {
	cfg := newModelConfig("")
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty model file")
		}
		return nil, err
	}
	if cfg.Model == "" {
		return nil, errors.New("model is not specified")
	}
	return cfg, nil
}

// loadModelConfig reads the model file, or creates the default
// configuration for the model if the file name is empty. The model
// argument overrides the model in the file.
func loadModelConfig(fn, model string) (*modelConfig, error) {
	if fn == "" {
		if model == "" {
			return nil, errors.New("either model or model file should be specified")
		}
		return newModelConfig(model), nil
	}
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cfg, err := readModelConfig(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", fn, err)
	}
	if model != "" {
		cfg.Model = model
	}
	return cfg, nil
}

// sampling converts the sampling fractions to a slice ordered as the
// observed states.
func (cfg *modelConfig) sampling(space sse.Space) ([]float64, error) {
	if len(cfg.Sampling) == 0 {
		return nil, nil
	}
	res := make([]float64, space.NObserved())
	for i := range res {
		res[i] = 1
	}
	for label, f := range cfg.Sampling {
		i, ok := space.ObsIndex(label)
		if !ok {
			return nil, fmt.Errorf("sampling fraction for unknown state %q", label)
		}
		res[i] = f
	}
	return res, nil
}

// settings returns the likelihood settings.
func (cfg *modelConfig) settings(space sse.Space, workers int) (sse.Settings, error) {
	s := sse.DefaultSettings()
	root, err := sse.ParseRootType(cfg.Root)
	if err != nil {
		return s, err
	}
	s.Root = root
	s.RootWeights = cfg.RootWeights
	if cfg.Condition != nil {
		s.Condition = *cfg.Condition
	}
	s.Conditioning, err = sse.ParseConditioning(cfg.Conditioning)
	if err != nil {
		return s, err
	}
	s.Sampling, err = cfg.sampling(space)
	if err != nil {
		return s, err
	}
	s.ODE = cfg.ODE
	s.Workers = workers
	return s, nil
}

// start returns the starting values: layout defaults overridden by
// the configured values.
func (cfg *modelConfig) start(layout *sse.Layout) ([]float64, error) {
	x := layout.DefaultValues()
	index := make(map[string]int, len(x))
	for i, name := range layout.Names() {
		index[name] = i
	}
	for name, v := range cfg.Start {
		i, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("starting value for unknown parameter %q (parameters: %v)", name, layout.Names())
		}
		x[i] = v
	}
	return x, nil
}
