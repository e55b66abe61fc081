package pipeline

import (
	"fmt"

	"github.com/google/uuid"
)

// NodeID uniquely identifies a node within a Graph.
type NodeID string

// PortDir is the direction of a port.
type PortDir uint8

const (
	PortIn PortDir = iota
	PortOut
)

func (d PortDir) String() string {
	if d == PortOut {
		return "o"
	}
	return "i"
}

// PortRef addresses one port of one node.
type PortRef struct {
	Node  NodeID
	Dir   PortDir
	Index int
}

// In returns a reference to input port i of node id.
func In(id NodeID, i int) PortRef { return PortRef{Node: id, Dir: PortIn, Index: i} }

// Out returns a reference to output port i of node id.
func Out(id NodeID, i int) PortRef { return PortRef{Node: id, Dir: PortOut, Index: i} }

func (p PortRef) String() string {
	return fmt.Sprintf("%s:%s%d", p.Node, p.Dir, p.Index)
}

// Param is one bound parameter value.
type Param struct {
	Name  string
	Value float64
}

// Node is an operation instance within a graph.
type Node struct {
	ID      NodeID
	Op      string
	Inputs  int
	Outputs int
	Params  []Param // one entry per operation parameter, in declaration order
}

// NewNode builds a node for op with the operation's default arity and
// parameter values.
func NewNode(id NodeID, op *Operation) *Node {
	return &Node{
		ID:      id,
		Op:      op.Name,
		Inputs:  op.Inputs,
		Outputs: op.Outputs,
		Params:  op.DefaultParams(),
	}
}

// IsSource reports whether the node consumes no images.
func (n *Node) IsSource() bool { return n.Inputs == 0 }

// IsSink reports whether the node produces no images.
func (n *Node) IsSink() bool { return n.Outputs == 0 }

// Param returns the bound value for name.
func (n *Node) Param(name string) (float64, bool) {
	for _, p := range n.Params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return 0, false
}

func (n *Node) clone() *Node {
	c := *n
	c.Params = append([]Param(nil), n.Params...)
	return &c
}

// Edge is a directed connection from an output port to an input port.
// Edges are compared by value, so an edge equals any other edge joining the
// same pair of ports.
type Edge struct {
	From PortRef
	To   PortRef
}

func (e Edge) String() string { return e.From.String() + " -> " + e.To.String() }

// Graph is a set of nodes and edges. Nodes and edges keep insertion order so
// that iteration, serialization and evaluation are deterministic.
//
// A Graph is not safe for concurrent mutation; it may be read concurrently,
// including by in-flight evaluations, as long as nobody mutates it.
type Graph struct {
	Name string

	nodes  map[NodeID]*Node
	order  []NodeID
	edges  []Edge
	edgeOK map[Edge]bool
	byPort map[PortRef][]Edge
}

// NewGraph creates an empty graph.
func NewGraph(name string) *Graph {
	return &Graph{
		Name:   name,
		nodes:  make(map[NodeID]*Node),
		edgeOK: make(map[Edge]bool),
		byPort: make(map[PortRef][]Edge),
	}
}

// AddNode inserts a copy of n and returns the stored node. An empty ID is
// replaced with a random UUID.
func (g *Graph) AddNode(n *Node) (*Node, error) {
	if n.Inputs < 0 || n.Outputs < 0 {
		return nil, fmt.Errorf("node %q: negative arity %d->%d", n.ID, n.Inputs, n.Outputs)
	}
	c := n.clone()
	if c.ID == "" {
		c.ID = NodeID(uuid.NewString())
	}
	if _, ok := g.nodes[c.ID]; ok {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateNode, c.ID)
	}
	g.nodes[c.ID] = c
	g.order = append(g.order, c.ID)
	return c, nil
}

// Node returns the node with the given ID.
func (g *Graph) Node(id NodeID) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.order))
	for i, id := range g.order {
		out[i] = g.nodes[id]
	}
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.order) }

// Edges returns all edges in insertion order.
func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// InputNodes returns the source nodes (no inputs) in insertion order.
func (g *Graph) InputNodes() []*Node {
	var out []*Node
	for _, id := range g.order {
		if n := g.nodes[id]; n.IsSource() {
			out = append(out, n)
		}
	}
	return out
}

// OutputNodes returns the sink nodes (no outputs) in insertion order.
func (g *Graph) OutputNodes() []*Node {
	var out []*Node
	for _, id := range g.order {
		if n := g.nodes[id]; n.IsSink() {
			out = append(out, n)
		}
	}
	return out
}

// Connect joins an output port and an input port. The ports may be given in
// either order; the stored edge always runs from the output to the input.
func (g *Graph) Connect(a, b PortRef) (Edge, error) {
	if a.Dir == b.Dir {
		return Edge{}, fmt.Errorf("%w: %s and %s are both %s ports", ErrInvalidPort, a, b, dirName(a.Dir))
	}
	if a.Dir == PortIn {
		a, b = b, a
	}
	e := Edge{From: a, To: b}
	if err := g.checkPort(a); err != nil {
		return Edge{}, err
	}
	if err := g.checkPort(b); err != nil {
		return Edge{}, err
	}
	if a.Node == b.Node {
		return Edge{}, fmt.Errorf("%w: %s", ErrSelfLoop, e)
	}
	if g.edgeOK[e] {
		return Edge{}, fmt.Errorf("%w: %s", ErrDuplicateEdge, e)
	}
	if len(g.byPort[b]) > 0 {
		return Edge{}, fmt.Errorf("%w: %s", ErrPortInUse, b)
	}
	g.edgeOK[e] = true
	g.edges = append(g.edges, e)
	g.byPort[a] = append(g.byPort[a], e)
	g.byPort[b] = append(g.byPort[b], e)
	return e, nil
}

// Disconnect removes the edge joining a and b, in either order.
func (g *Graph) Disconnect(a, b PortRef) bool {
	if a.Dir == PortIn {
		a, b = b, a
	}
	e := Edge{From: a, To: b}
	if !g.edgeOK[e] {
		return false
	}
	g.dropEdges(func(x Edge) bool { return x == e })
	return true
}

// RemoveNode deletes a node together with every incident edge.
func (g *Graph) RemoveNode(id NodeID) bool {
	if _, ok := g.nodes[id]; !ok {
		return false
	}
	g.dropEdges(func(x Edge) bool { return x.From.Node == id || x.To.Node == id })
	delete(g.nodes, id)
	for i, nid := range g.order {
		if nid == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	return true
}

// SetParam updates an existing parameter binding of a node.
func (g *Graph) SetParam(id NodeID, name string, value float64) error {
	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNodeNotFound, id)
	}
	for i := range n.Params {
		if n.Params[i].Name == name {
			n.Params[i].Value = value
			return nil
		}
	}
	return fmt.Errorf("node %q has no parameter %q", id, name)
}

// EdgesAt returns the edges incident to a port.
func (g *Graph) EdgesAt(p PortRef) []Edge {
	return append([]Edge(nil), g.byPort[p]...)
}

// IncomingEdges returns the edges arriving at id, ordered by input port.
func (g *Graph) IncomingEdges(id NodeID) []Edge {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	var out []Edge
	for i := 0; i < n.Inputs; i++ {
		out = append(out, g.byPort[In(id, i)]...)
	}
	return out
}

// OutgoingEdges returns the edges leaving id, ordered by output port and then
// insertion order.
func (g *Graph) OutgoingEdges(id NodeID) []Edge {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	var out []Edge
	for i := 0; i < n.Outputs; i++ {
		out = append(out, g.byPort[Out(id, i)]...)
	}
	return out
}

func (g *Graph) checkPort(p PortRef) error {
	n, ok := g.nodes[p.Node]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNodeNotFound, p.Node)
	}
	limit := n.Inputs
	if p.Dir == PortOut {
		limit = n.Outputs
	}
	if p.Index < 0 || p.Index >= limit {
		return fmt.Errorf("%w: %s (node has %d %s ports)", ErrInvalidPort, p, limit, dirName(p.Dir))
	}
	return nil
}

func (g *Graph) dropEdges(match func(Edge) bool) {
	kept := g.edges[:0]
	for _, e := range g.edges {
		if !match(e) {
			kept = append(kept, e)
			continue
		}
		delete(g.edgeOK, e)
		g.byPort[e.From] = without(g.byPort[e.From], e)
		g.byPort[e.To] = without(g.byPort[e.To], e)
	}
	g.edges = kept
}

func without(es []Edge, e Edge) []Edge {
	out := es[:0]
	for _, x := range es {
		if x != e {
			out = append(out, x)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func dirName(d PortDir) string {
	if d == PortOut {
		return "output"
	}
	return "input"
}
