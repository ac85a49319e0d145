package sse

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"gonum.org/v1/gonum/floats"

	"bitbucket.org/Davydov/gosse/ode"
	"bitbucket.org/Davydov/gosse/traits"
	"bitbucket.org/Davydov/gosse/tree"
)

// RootType defines the weights of the root states.
type RootType int

const (
	// RootFitzJohn weights root states by their probability of
	// producing the data.
	RootFitzJohn RootType = iota
	// RootEqual gives all the states equal weights.
	RootEqual
	// RootGiven uses user supplied weights.
	RootGiven
)

// ParseRootType converts a string to RootType.
func ParseRootType(s string) (RootType, error) {
	switch strings.ToLower(s) {
	case "", "fitzjohn", "madfitz":
		return RootFitzJohn, nil
	case "equal", "flat":
		return RootEqual, nil
	case "given":
		return RootGiven, nil
	}
	return RootFitzJohn, fmt.Errorf("%w: unknown root type %q", ErrConfig, s)
}

// Conditioning defines how the likelihood is conditioned on survival
// of both root lineages.
type Conditioning int

const (
	// ConditionState divides D of every root state by the
	// probability that a lineage in the state speciates into two
	// surviving daughters.
	ConditionState Conditioning = iota
	// ConditionWeighted divides the root likelihood by the
	// survival probability averaged over the root weights.
	ConditionWeighted
)

// ParseConditioning converts a string to Conditioning.
func ParseConditioning(s string) (Conditioning, error) {
	switch strings.ToLower(s) {
	case "", "state":
		return ConditionState, nil
	case "weighted":
		return ConditionWeighted, nil
	}
	return ConditionState, fmt.Errorf("%w: unknown conditioning %q", ErrConfig, s)
}

const (
	// ultrametricTol is the relative tolerance of the
	// ultrametricity check.
	ultrametricTol = 1e-6
	// minParallel is the smallest subtree (in nodes) pruned in a
	// goroutine of its own.
	minParallel = 16
)

// Settings are the likelihood settings.
type Settings struct {
	// Root defines the root state weights.
	Root RootType
	// RootWeights are the weights for RootGiven, one per state.
	RootWeights []float64
	// Condition conditions the likelihood on survival of both
	// root lineages.
	Condition bool
	// Conditioning is the survival conditioning type.
	Conditioning Conditioning
	// Sampling is the sampled fraction of species for every
	// observed state; nil means complete sampling.
	Sampling []float64
	// ODE are the branch integration settings.
	ODE ode.Config
	// Workers limits the number of concurrent branch integrations,
	// zero uses GOMAXPROCS.
	Workers int
}

// DefaultSettings returns the default settings.
func DefaultSettings() Settings {
	return Settings{
		Root:      RootFitzJohn,
		Condition: true,
		ODE:       ode.DefaultConfig(),
	}
}

// Likelihood computes likelihood of a family on a tree with tip data.
// It keeps no state between evaluations and can be used from several
// goroutines.
type Likelihood struct {
	Settings
	tree   *tree.Tree
	family *Family
	// tips are initial vectors indexed by node id
	tips  [][]float64
	sizes []int
	pool  sync.Pool
}

// NewLikelihood checks the data and prepares tip vectors.
func NewLikelihood(t *tree.Tree, data *traits.Data, f *Family, s Settings) (*Likelihood, error) {
	space := f.Space
	n := space.N()
	if err := s.ODE.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if s.Workers <= 0 {
		s.Workers = runtime.GOMAXPROCS(0)
	}
	sampling := s.Sampling
	if sampling == nil {
		sampling = make([]float64, space.NObserved())
		for i := range sampling {
			sampling[i] = 1
		}
	}
	if len(sampling) != space.NObserved() {
		return nil, fmt.Errorf("%w: expected %d sampling fractions, got %d", ErrConfig, space.NObserved(), len(sampling))
	}
	for i, v := range sampling {
		if !(v > 0 && v <= 1) {
			return nil, fmt.Errorf("%w: sampling fraction of %s should be within (0, 1], got %v",
				ErrConfig, space.Observed[i], v)
		}
	}
	s.Sampling = sampling
	if s.Root == RootGiven {
		if len(s.RootWeights) != n {
			return nil, fmt.Errorf("%w: expected %d root weights, got %d", ErrConfig, n, len(s.RootWeights))
		}
		for _, w := range s.RootWeights {
			if err := checkRate("root weight", w); err != nil {
				return nil, err
			}
		}
		if !(floats.Sum(s.RootWeights) > 0) {
			return nil, fmt.Errorf("%w: root weights sum to zero", ErrConfig)
		}
	}

	if !t.IsUltrametric(ultrametricTol) {
		log.Warning("Tree is not ultrametric, extinction probabilities of sister lineages will be averaged.")
	}

	l := &Likelihood{
		Settings: s,
		tree:     t,
		family:   f,
		tips:     make([][]float64, t.NNodes()),
		sizes:    make([]int, t.NNodes()),
	}
	l.pool.New = func() any {
		return ode.NewIntegrator(2*n, l.ODE)
	}

	for _, node := range t.Nodes() {
		if !node.IsTerminal() {
			continue
		}
		obs := data.Obs(node.Name)
		if len(obs) == 0 {
			return nil, fmt.Errorf("%w: no data for the leaf <%s>", ErrConfig, node.Name)
		}
		compatible := make([]bool, space.NObserved())
		for _, o := range obs {
			if o == traits.Unknown {
				for i := range compatible {
					compatible[i] = true
				}
				continue
			}
			i, ok := space.ObsIndex(o)
			if !ok {
				return nil, fmt.Errorf("%w: unknown state %q for the leaf <%s> (model %s states: %v)",
					ErrConfig, o, node.Name, f.Name, space.Observed)
			}
			compatible[i] = true
		}
		v := make([]float64, 2*n)
		for i := 0; i < n; i++ {
			frac := sampling[space.Obs(i)]
			v[i] = 1 - frac
			if compatible[space.Obs(i)] {
				v[n+i] = frac
			}
		}
		l.tips[node.Id] = v
	}
	for _, tx := range data.Taxa() {
		if _, ok := t.Leaf(tx); !ok {
			log.Warningf("Taxon <%s> is not in the tree.", tx)
		}
	}
	for _, node := range t.Nodes() {
		l.sizes[node.Id] = node.NSubNodes()
	}
	return l, nil
}

// Family returns the model family.
func (l *Likelihood) Family() *Family {
	return l.family
}

// Tree returns the tree.
func (l *Likelihood) Tree() *tree.Tree {
	return l.tree
}

// Root is the result of the pruning pass.
type Root struct {
	// E and D are the root probabilities; D is rescaled.
	E, D []float64
	// LogScale is the sum of the logarithms of all scaling factors.
	LogScale float64
	// Stats are the accumulated integration statistics.
	Stats ode.Stats
}

// pass stores the vectors of one evaluation.
type pass struct {
	l      *Likelihood
	rates  *Rates
	derivs ode.Func
	sem    *semaphore.Weighted

	// vecs are node vectors at the top of their branches
	vecs  [][]float64
	scale []float64

	mu    sync.Mutex
	stats ode.Stats
}

// Prune computes the root probabilities for the rates.
func (l *Likelihood) Prune(ctx context.Context, r *Rates) (*Root, error) {
	if r.N() != l.family.Space.N() {
		return nil, fmt.Errorf("%w: rates for %d states, model %s has %d",
			ErrConfig, r.N(), l.family.Name, l.family.Space.N())
	}
	nn := l.tree.NNodes()
	p := &pass{
		l:      l,
		rates:  r,
		derivs: l.family.Evaluator.Derivatives(r),
		sem:    semaphore.NewWeighted(int64(l.Workers)),
		vecs:   make([][]float64, nn),
		scale:  make([]float64, nn),
	}
	var err error
	if l.Workers == 1 {
		err = p.pruneSerial(ctx)
	} else {
		err = p.prune(ctx, l.tree.Node)
	}
	if err != nil {
		return nil, err
	}

	n := r.N()
	rv := p.vecs[l.tree.Id]
	root := &Root{
		E:     rv[:n],
		D:     rv[n:],
		Stats: p.stats,
	}
	for _, s := range p.scale {
		root.LogScale += s
	}
	return root, nil
}

// prune computes the vectors of the subtree. Children are processed
// concurrently if they are large enough.
func (p *pass) prune(ctx context.Context, node *tree.Node) error {
	l := p.l
	children := node.ChildNodes()
	if l.Workers > 1 && len(children) > 1 && l.sizes[node.Id] >= minParallel {
		g, gctx := errgroup.WithContext(ctx)
		for _, child := range children {
			child := child
			g.Go(func() error {
				return p.prune(gctx, child)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	} else {
		for _, child := range children {
			if err := p.prune(ctx, child); err != nil {
				return err
			}
		}
	}
	return p.visit(ctx, node)
}

// pruneSerial visits the leaves and then the internal nodes in
// post-order.
func (p *pass) pruneSerial(ctx context.Context) error {
	for _, node := range p.l.tree.Nodes() {
		if node.IsTerminal() {
			if err := p.visit(ctx, node); err != nil {
				return err
			}
		}
	}
	for _, node := range p.l.tree.NodeOrder() {
		if err := p.visit(ctx, node); err != nil {
			return err
		}
	}
	return nil
}

// visit computes the node vector from the children vectors and
// integrates it along the node branch.
func (p *pass) visit(ctx context.Context, node *tree.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l := p.l

	var v []float64
	if node.IsTerminal() {
		v = append([]float64(nil), l.tips[node.Id]...)
	} else {
		children := node.ChildNodes()
		cv := make([][]float64, len(children))
		for i, child := range children {
			cv[i] = p.vecs[child.Id]
		}
		var s float64
		var err error
		v, s, err = CombineAll(l.family.Evaluator, cv, p.rates)
		if err != nil {
			return fmt.Errorf("node %s: %w", node.LongString(), err)
		}
		p.scale[node.Id] = s
	}

	if !node.IsRoot() && node.BranchLength > 0 {
		if err := p.integrate(ctx, node, v); err != nil {
			return err
		}
	}
	p.vecs[node.Id] = v
	return nil
}

// integrate advances the vector along the node branch.
func (p *pass) integrate(ctx context.Context, node *tree.Node, v []float64) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)

	in := p.l.pool.Get().(*ode.Integrator)
	defer p.l.pool.Put(in)
	stats, err := in.Integrate(p.derivs, v, 0, node.BranchLength)
	p.mu.Lock()
	p.stats.Add(stats)
	p.mu.Unlock()
	switch {
	case errors.Is(err, ode.ErrNotFinite):
		return fmt.Errorf("branch %s: %w: %w", node.LongString(), ErrNumericalInstability, err)
	case err != nil:
		return fmt.Errorf("branch %s: %w", node.LongString(), err)
	}
	if err := checkDaughter(v, p.rates.N()); err != nil {
		return fmt.Errorf("branch %s: %w", node.LongString(), err)
	}
	return nil
}

// LogLikelihood computes the root log-likelihood from the pruning
// result: the weighted sum of (optionally conditioned) root D values
// plus the scaling correction.
func (l *Likelihood) LogLikelihood(root *Root, r *Rates) (float64, error) {
	n := r.N()
	d := append([]float64(nil), root.D...)
	w := make([]float64, n)
	switch l.Root {
	case RootEqual:
		for i := range w {
			w[i] = 1 / float64(n)
		}
	case RootGiven:
		copy(w, l.RootWeights)
		floats.Scale(1/floats.Sum(w), w)
	default:
		sum := floats.Sum(d)
		if !(sum > 0) {
			return math.Inf(-1), fmt.Errorf("%w: root D sum is %v", ErrNumericalInstability, sum)
		}
		copy(w, d)
		floats.Scale(1/sum, w)
	}

	if l.Condition {
		surv := r.survival(root.E)
		switch l.Conditioning {
		case ConditionWeighted:
			den := floats.Dot(w, surv)
			if !(den > 0) {
				return math.Inf(-1), fmt.Errorf("%w: root survival probability is %v", ErrNumericalInstability, den)
			}
			floats.Scale(1/den, d)
		default:
			for i := range d {
				if surv[i] > 0 {
					d[i] /= surv[i]
				} else {
					// no speciation with surviving daughters
					d[i] = 0
				}
			}
		}
	}

	lik := floats.Dot(w, d)
	if !(lik > 0) || math.IsInf(lik, 0) {
		return math.Inf(-1), fmt.Errorf("%w: root likelihood is %v", ErrNumericalInstability, lik)
	}
	return math.Log(lik) + root.LogScale, nil
}

// Evaluate prunes the tree and returns the log-likelihood.
func (l *Likelihood) Evaluate(ctx context.Context, r *Rates) (float64, error) {
	root, err := l.Prune(ctx, r)
	if err != nil {
		return math.Inf(-1), err
	}
	return l.LogLikelihood(root, r)
}

// EvaluateMany computes log-likelihoods of several parameter points
// in parallel. Points which fail have -Inf log-likelihood and a
// non-nil error at the same position.
func (l *Likelihood) EvaluateMany(ctx context.Context, layout *Layout, xs [][]float64) ([]float64, []error) {
	lnL := make([]float64, len(xs))
	errs := make([]error, len(xs))
	var g errgroup.Group
	g.SetLimit(l.Workers)
	for i, x := range xs {
		i, x := i, x
		g.Go(func() error {
			lnL[i] = math.Inf(-1)
			r, err := layout.Rates(x)
			if err != nil {
				errs[i] = err
				return nil
			}
			lnL[i], errs[i] = l.Evaluate(ctx, r)
			return nil
		})
	}
	g.Wait()
	return lnL, errs
}
