package pipeline

import "errors"

// SuccessorMap routes every output port of every non-sink node to its
// destinations. It is built once, when a graph is finalized for evaluation.
//
// An output port with several edges broadcasts: each destination receives
// the image produced on that port.
type SuccessorMap struct {
	byOutput map[NodeID][][]PortRef
}

// Successors builds the successor map of g. Every output port of a non-sink
// node must have at least one edge; otherwise a *MalformedGraphError is
// reported for each unconnected port.
func Successors(g *Graph) (*SuccessorMap, error) {
	sm, errs := buildSuccessors(g)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return sm, nil
}

func buildSuccessors(g *Graph) (*SuccessorMap, []error) {
	sm := &SuccessorMap{byOutput: make(map[NodeID][][]PortRef, g.Len())}
	for _, n := range g.Nodes() {
		if !n.IsSink() {
			sm.byOutput[n.ID] = make([][]PortRef, n.Outputs)
		}
	}
	for _, e := range g.edges {
		slots := sm.byOutput[e.From.Node]
		slots[e.From.Index] = append(slots[e.From.Index], e.To)
	}

	var errs []error
	for _, n := range g.Nodes() {
		for i, dests := range sm.byOutput[n.ID] {
			if len(dests) == 0 {
				errs = append(errs, malformedf(n.ID, "output port %d is not connected", i))
			}
		}
	}
	return sm, errs
}

// Ports returns the destinations of each output port of id, indexed by
// output port.
func (s *SuccessorMap) Ports(id NodeID) [][]PortRef {
	return s.byOutput[id]
}

// Routed returns the destination nodes of id in output-port order.
func (s *SuccessorMap) Routed(id NodeID) []NodeID {
	var out []NodeID
	for _, dests := range s.byOutput[id] {
		for _, d := range dests {
			out = append(out, d.Node)
		}
	}
	return out
}
