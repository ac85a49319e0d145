// Package tree implements rooted phylogenetic trees with branch
// lengths, as used by the diversification likelihood.
package tree

import (
	"fmt"
	"math"
)

// Tree is a rooted tree. The embedded Node is the root.
type Tree struct {
	*Node
	nNodes    int
	nodes     []*Node
	nodeOrder []*Node
	leaves    map[string]*Node
}

// NNodes returns the total number of nodes (including the root and
// the leaves).
func (tree *Tree) NNodes() int {
	if tree.nNodes == 0 {
		tree.nNodes = tree.NSubNodes()
	}
	return tree.nNodes
}

// Nodes returns all the nodes indexed by their Id.
func (tree *Tree) Nodes() []*Node {
	if tree.nodes == nil {
		tree.nodes = make([]*Node, tree.NNodes())
		for node := range tree.Walker(nil) {
			tree.nodes[node.Id] = node
		}
	}
	return tree.nodes
}

// Terminals returns a channel with all the leaves.
func (tree *Tree) Terminals() <-chan *Node {
	return tree.Walker(func(node *Node) bool {
		return node.IsTerminal()
	})
}

// NLeaves returns the number of leaves.
func (tree *Tree) NLeaves() (i int) {
	for range tree.Terminals() {
		i++
	}
	return
}

// Leaf returns a leaf by its name.
func (tree *Tree) Leaf(name string) (*Node, bool) {
	if tree.leaves == nil {
		tree.leaves = make(map[string]*Node)
		for node := range tree.Terminals() {
			tree.leaves[node.Name] = node
		}
	}
	node, ok := tree.leaves[name]
	return node, ok
}

// Walker returns a channel with all the nodes (pre-order) which
// pass the filter. If filter is nil all nodes are returned.
func (tree *Tree) Walker(filter func(*Node) bool) <-chan *Node {
	ch := make(chan *Node, tree.NNodes())
	tree.Walk(ch, filter)
	close(ch)
	return ch
}

// NodeOrder returns internal nodes in post-order, i.e. every node
// comes after all of its children. The root is the last element.
func (tree *Tree) NodeOrder() []*Node {
	if tree.nodeOrder == nil {
		tree.nodeOrder = make([]*Node, 0, tree.NNodes())
		var visit func(*Node)
		visit = func(node *Node) {
			for _, child := range node.childNodes {
				visit(child)
			}
			if !node.IsTerminal() {
				tree.nodeOrder = append(tree.nodeOrder, node)
			}
		}
		visit(tree.Node)
	}
	return tree.nodeOrder
}

// Depths returns the distance from the root to every node, indexed
// by node Id. The root branch is ignored.
func (tree *Tree) Depths() []float64 {
	depths := make([]float64, tree.NNodes())
	for node := range tree.Walker(nil) {
		if node.IsRoot() {
			continue
		}
		// pre-order guarantees the parent is already set
		depths[node.Id] = depths[node.Parent.Id] + node.BranchLength
	}
	return depths
}

// Height returns the maximum root-to-tip distance.
func (tree *Tree) Height() (h float64) {
	depths := tree.Depths()
	for node := range tree.Terminals() {
		h = math.Max(h, depths[node.Id])
	}
	return
}

// IsUltrametric checks if all the leaves are at the same distance
// from the root; tol is relative to the tree height.
func (tree *Tree) IsUltrametric(tol float64) bool {
	depths := tree.Depths()
	h := tree.Height()
	for node := range tree.Terminals() {
		if math.Abs(depths[node.Id]-h) > tol*h {
			return false
		}
	}
	return true
}

// Node is a tree node. Terminal nodes have no children.
type Node struct {
	Name         string
	BranchLength float64
	Parent       *Node
	childNodes   []*Node
	Id           int
	LeafId       int
}

// NewNode creates a new node.
func NewNode(parent *Node, nodeId int) (node *Node) {
	node = &Node{Parent: parent, Id: nodeId}
	return
}

// AddChild adds a child node.
func (node *Node) AddChild(subNode *Node) {
	subNode.Parent = node
	node.childNodes = append(node.childNodes, subNode)
}

// String returns a newick representation of the subtree.
func (node *Node) String() (s string) {
	if node.IsTerminal() {
		return fmt.Sprintf("%s:%0.6f", node.Name, node.BranchLength)
	}
	s += "("
	for i, child := range node.childNodes {
		s += child.String()
		if i != len(node.childNodes)-1 {
			s += ","
		}
	}
	s += fmt.Sprintf(")%s:%0.6f", node.Name, node.BranchLength)
	if node.IsRoot() {
		s += ";"
	}
	return s
}

// LongString returns a human readable node description.
func (node *Node) LongString() (s string) {
	s = "<"
	if node.Parent == nil {
		s += "root, "
	}
	if node.Name != "" {
		s += "name=" + node.Name + ", "
	}
	s += fmt.Sprintf("Id=%v, BranchLength=%v", node.Id, node.BranchLength)
	if node.IsTerminal() {
		s += fmt.Sprintf(", TipId=%v", node.LeafId)
	}
	s += ">"
	return
}

// ChildNodes returns the node children.
func (node *Node) ChildNodes() []*Node {
	return node.childNodes
}

// Walk sends the subtree nodes (pre-order) to the channel.
func (node *Node) Walk(ch chan *Node, filter func(*Node) bool) {
	if filter == nil || filter(node) {
		ch <- node
	}
	for _, node := range node.childNodes {
		node.Walk(ch, filter)
	}
}

// NSubNodes returns the number of nodes in the subtree.
func (node *Node) NSubNodes() (size int) {
	for _, node := range node.childNodes {
		size += node.NSubNodes()
	}
	return size + 1
}

// IsRoot returns true for the root node.
func (node *Node) IsRoot() bool {
	return node.Parent == nil
}

// IsTerminal returns true for a leaf.
func (node *Node) IsTerminal() bool {
	return len(node.childNodes) == 0
}
