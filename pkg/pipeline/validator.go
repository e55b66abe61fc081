package pipeline

import "strconv"

// Validate checks a graph for structural correctness against a registry.
// Returns all discovered errors (not just the first). Each error is one of
// *UnknownOperationError, *MalformedGraphError or *UnsatisfiableGraphError.
func Validate(g *Graph, reg OperationRegistry) []error {
	var errs []error

	if g.Len() == 0 {
		return []error{malformedf("", "graph has no nodes")}
	}
	if len(g.InputNodes()) == 0 {
		errs = append(errs, malformedf("", "graph has no input node"))
	}
	if len(g.OutputNodes()) == 0 {
		errs = append(errs, malformedf("", "graph has no output node"))
	}

	for _, n := range g.Nodes() {
		op, err := reg.Lookup(n.Op)
		if err != nil {
			errs = append(errs, &UnknownOperationError{Name: n.Op, NodeID: n.ID})
			continue
		}
		errs = append(errs, checkBinding(n, op)...)
	}

	_, succErrs := buildSuccessors(g)
	errs = append(errs, succErrs...)
	errs = append(errs, checkReadiness(g)...)
	return errs
}

// ValidateErr calls Validate and returns nil if there are no errors, or a
// *ValidationError listing all of them.
func ValidateErr(g *Graph, reg OperationRegistry) error {
	errs := Validate(g, reg)
	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Errs: errs}
}

// checkBinding verifies a node's arity and parameter names against op.
func checkBinding(n *Node, op *Operation) []error {
	var errs []error
	if !op.accepts(n.Inputs, n.Outputs) {
		errs = append(errs, malformedf(n.ID, "arity %d->%d does not match operation %q (%d->%d)",
			n.Inputs, n.Outputs, op.Name, op.Inputs, op.Outputs))
	}
	seen := make(map[string]bool, len(n.Params))
	for _, p := range n.Params {
		if !op.HasParam(p.Name) {
			errs = append(errs, malformedf(n.ID, "operation %q has no parameter %q", op.Name, p.Name))
		}
		if seen[p.Name] {
			errs = append(errs, malformedf(n.ID, "parameter %q bound twice", p.Name))
		}
		seen[p.Name] = true
	}
	return errs
}

// checkReadiness reports nodes that could never collect all their inputs:
// unconnected input ports and nodes on (or behind) a cycle.
func checkReadiness(g *Graph) []error {
	var errs []error
	for _, n := range g.Nodes() {
		for i := 0; i < n.Inputs; i++ {
			if len(g.byPort[In(n.ID, i)]) == 0 {
				errs = append(errs, &UnsatisfiableGraphError{
					NodeIDs: []NodeID{n.ID},
					Reason:  "input port " + strconv.Itoa(i) + " has no incoming edge",
				})
			}
		}
	}
	if _, stuck := kahn(g); len(stuck) > 0 {
		errs = append(errs, &UnsatisfiableGraphError{NodeIDs: stuck, Reason: "cycle detected"})
	}
	return errs
}

// TopoOrder returns the node IDs in a deterministic topological order, or an
// *UnsatisfiableGraphError when the graph has a cycle.
func TopoOrder(g *Graph) ([]NodeID, error) {
	order, stuck := kahn(g)
	if len(stuck) > 0 {
		return nil, &UnsatisfiableGraphError{NodeIDs: stuck, Reason: "cycle detected"}
	}
	return order, nil
}

// kahn runs Kahn's algorithm over edges. Ties are broken by insertion order.
// Nodes that never reach in-degree zero are returned as stuck.
func kahn(g *Graph) (order, stuck []NodeID) {
	indeg := make(map[NodeID]int, g.Len())
	for _, e := range g.edges {
		indeg[e.To.Node]++
	}
	var queue []NodeID
	for _, id := range g.order {
		if indeg[id] == 0 {
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, e := range g.OutgoingEdges(id) {
			indeg[e.To.Node]--
			if indeg[e.To.Node] == 0 {
				queue = append(queue, e.To.Node)
			}
		}
	}
	if len(order) == g.Len() {
		return order, nil
	}
	for _, id := range g.order {
		if indeg[id] > 0 {
			stuck = append(stuck, id)
		}
	}
	return order, stuck
}
