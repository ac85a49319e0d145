package sse

import (
	"fmt"
	"sort"
	"sync"
)

// Family is a resolved model family: state space, rate slots,
// allowed transitions and events and the evaluator.
type Family struct {
	Name      string
	Space     Space
	Slots     []Slot
	Topology  *Topology
	Evaluator Evaluator
}

// newFamily builds the topology from the slots and chooses the
// evaluator.
func newFamily(name string, space Space, slots []Slot) *Family {
	top := NewTopology(space)
	for _, slot := range slots {
		for _, t := range slot.Targets {
			switch t.Kind {
			case TargetEvent:
				top.AllowEvent(t.I, t.J, t.K)
			case TargetTransition:
				top.AllowTransition(t.I, t.J)
			}
		}
	}
	var ev Evaluator = Anagenetic{}
	if !top.IsAnagenetic() {
		ev = Cladogenetic{}
	}
	return &Family{
		Name:      name,
		Space:     space,
		Slots:     slots,
		Topology:  top,
		Evaluator: ev,
	}
}

// Slot returns a slot by its name.
func (f *Family) Slot(name string) (Slot, bool) {
	for _, slot := range f.Slots {
		if slot.Name == name {
			return slot, true
		}
	}
	return Slot{}, false
}

// Options are the state space options of a family. Zero values
// select the family defaults.
type Options struct {
	// Observed is the number of observed states (MuSSE).
	Observed int `yaml:"observed"`
	// Hidden is the number of hidden classes.
	Hidden int `yaml:"hidden"`
}

// Factory creates a family.
type Factory func(Options) (*Family, error)

type registration struct {
	description string
	factory     Factory
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]registration)
)

// Register makes a model family available by name. It panics if the
// name is already registered.
func Register(name, description string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if factory == nil {
		panic("sse: Register factory is nil")
	}
	if _, dup := registry[name]; dup {
		panic("sse: Register called twice for model " + name)
	}
	registry[name] = registration{description: description, factory: factory}
}

// New creates a family by its registered name.
func New(name string, opts Options) (*Family, error) {
	registryMu.RLock()
	reg, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown model %q", ErrConfig, name)
	}
	f, err := reg.factory(opts)
	if err != nil {
		return nil, err
	}
	log.Debugf("model %s: %d states, %d rates", name, f.Space.N(), len(f.Slots))
	return f, nil
}

// ModelInfo describes a registered model.
type ModelInfo struct {
	Name        string
	Description string
}

// Models returns all the registered models sorted by name.
func Models() []ModelInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()
	res := make([]ModelInfo, 0, len(registry))
	for name, reg := range registry {
		res = append(res, ModelInfo{Name: name, Description: reg.description})
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].Name < res[j].Name
	})
	return res
}
