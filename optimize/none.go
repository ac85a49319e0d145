package optimize

// None is an optimizer which computes initial value and exits.
type None struct {
	BaseOptimizer
}

// NewNone creates an optimizer which computes initial likelihood only.
func NewNone() *None {
	return &None{BaseOptimizer: BaseOptimizer{name: "none"}}
}

// Run computes the likelihood.
func (n *None) Run(iterations int) {
	n.SaveStart()
	n.PrintHeader()
	n.PrintLine(n.l)
}
