package pipeline

import (
	"bufio"
	"bytes"
	"container/heap"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// EncodeScript writes g in the line-oriented script format:
//
//	<N>
//	<op>#<param>:<value>#...#     one line per node, sinks last
//	<successor indices>           one line per node, same order
//
// Successor indices follow output-port order; a broadcasting port lists all
// of its destinations.
//
// The format carries no port numbers, so not every graph fits it. Non-sink
// lines are ordered so that decoding refills each input port from the right
// source, and the script is decoded against reg before anything is written:
// a graph that would come back with different arities or wiring yields an
// error wrapping ErrNotScriptable.
func EncodeScript(w io.Writer, g *Graph, reg OperationRegistry) error {
	nodes := scriptOrder(g)
	var buf bytes.Buffer
	writeScript(&buf, g, nodes)

	decoded, err := DecodeScript(bytes.NewReader(buf.Bytes()), reg)
	if err != nil {
		var unknown *UnknownOperationError
		if errors.As(err, &unknown) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrNotScriptable, err)
	}
	if err := sameWiring(g, decoded, nodes); err != nil {
		return fmt.Errorf("%w: %v", ErrNotScriptable, err)
	}
	_, err = w.Write(buf.Bytes())
	return err
}

func writeScript(buf *bytes.Buffer, g *Graph, nodes []*Node) {
	index := make(map[NodeID]int, len(nodes))
	for i, n := range nodes {
		index[n.ID] = i
	}
	fmt.Fprintf(buf, "%d\n", len(nodes))
	for _, n := range nodes {
		buf.WriteString(n.Op + "#")
		for _, p := range n.Params {
			fmt.Fprintf(buf, "%s:%s#", p.Name, strconv.FormatFloat(p.Value, 'g', -1, 64))
		}
		buf.WriteString("\n")
	}
	for _, n := range nodes {
		edges := g.OutgoingEdges(n.ID)
		idx := make([]string, len(edges))
		for i, e := range edges {
			idx[i] = strconv.Itoa(index[e.To.Node])
		}
		buf.WriteString(strings.Join(idx, " "))
		buf.WriteString("\n")
	}
}

// scriptOrder lists non-sinks then sinks. Decoding fills a node's input
// ports in the order its sources appear, so a source feeding port k must
// come before a different source feeding port k+1. Non-sinks are sorted
// topologically over those constraints, ties broken by insertion order; when
// the constraints conflict the insertion order is kept and sameWiring
// reports the loss.
func scriptOrder(g *Graph) []*Node {
	var body []*Node
	pos := make(map[NodeID]int)
	for _, n := range g.Nodes() {
		if !n.IsSink() {
			pos[n.ID] = len(body)
			body = append(body, n)
		}
	}

	after := make([][]int, len(body))
	indeg := make([]int, len(body))
	seen := make(map[[2]int]bool)
	for _, n := range g.Nodes() {
		in := g.IncomingEdges(n.ID)
		for k := 1; k < len(in); k++ {
			a, b := pos[in[k-1].From.Node], pos[in[k].From.Node]
			if a == b || seen[[2]int{a, b}] {
				continue
			}
			seen[[2]int{a, b}] = true
			after[a] = append(after[a], b)
			indeg[b]++
		}
	}

	ready := &intHeap{}
	for i, d := range indeg {
		if d == 0 {
			heap.Push(ready, i)
		}
	}
	ordered := make([]*Node, 0, len(body)+len(g.OutputNodes()))
	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		ordered = append(ordered, body[i])
		for _, j := range after[i] {
			indeg[j]--
			if indeg[j] == 0 {
				heap.Push(ready, j)
			}
		}
	}
	if len(ordered) != len(body) {
		ordered = append(ordered[:0], body...)
	}
	return append(ordered, g.OutputNodes()...)
}

// sameWiring checks that decoded, whose node i stands for nodes[i], has the
// arities and edges of g.
func sameWiring(g, decoded *Graph, nodes []*Node) error {
	ids := make(map[NodeID]NodeID, len(nodes))
	for i, n := range nodes {
		id := NodeID("n" + strconv.Itoa(i))
		ids[id] = n.ID
		d, ok := decoded.Node(id)
		if !ok {
			return fmt.Errorf("node %q was not decoded", n.ID)
		}
		if d.Inputs != n.Inputs || d.Outputs != n.Outputs {
			return fmt.Errorf("node %q would decode as %d->%d, not %d->%d",
				n.ID, d.Inputs, d.Outputs, n.Inputs, n.Outputs)
		}
	}
	if len(decoded.edges) != len(g.edges) {
		return fmt.Errorf("%d edges would decode as %d", len(g.edges), len(decoded.edges))
	}
	for _, e := range decoded.edges {
		orig := Edge{
			From: Out(ids[e.From.Node], e.From.Index),
			To:   In(ids[e.To.Node], e.To.Index),
		}
		if !g.edgeOK[orig] {
			return fmt.Errorf("edge %s would be rewired", orig)
		}
	}
	return nil
}

type intHeap []int

func (h intHeap) Len() int           { return len(h) }
func (h intHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

// DecodeScript rebuilds a graph from the script format. Nodes get the IDs
// n0, n1, ... in script order.
//
// Routing is recovered from the successor lists: when a node lists exactly
// one successor per output port they map positionally; a single-output node
// may list several successors, which then all hang off port 0. Destination
// input ports are filled in the order edges are read.
func DecodeScript(r io.Reader, reg OperationRegistry) (*Graph, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	next := func() (string, bool) {
		if !sc.Scan() {
			return "", false
		}
		lineNo++
		return strings.TrimRight(sc.Text(), "\r"), true
	}

	header, ok := next()
	if !ok {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read script: %w", err)
		}
		return nil, fmt.Errorf("script is empty")
	}
	count, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || count < 0 {
		return nil, fmt.Errorf("script line 1: invalid node count %q", header)
	}

	type rawNode struct {
		op     *Operation
		params map[string]float64
		order  []string
	}
	// The header is untrusted; grow as node lines actually arrive.
	var raws []rawNode
	for i := 0; i < count; i++ {
		line, ok := next()
		if !ok {
			return nil, fmt.Errorf("script: expected %d node lines, got %d", count, i)
		}
		fields := strings.Split(line, "#")
		name := strings.TrimSpace(fields[0])
		op, err := reg.Lookup(name)
		if err != nil {
			return nil, &UnknownOperationError{Name: name}
		}
		rn := rawNode{op: op, params: make(map[string]float64)}
		for _, f := range fields[1:] {
			f = strings.TrimSpace(f)
			if f == "" {
				continue
			}
			key, val, found := strings.Cut(f, ":")
			if !found {
				return nil, fmt.Errorf("script line %d: parameter %q has no value", lineNo, f)
			}
			key = strings.TrimSpace(key)
			v, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
			if err != nil {
				return nil, fmt.Errorf("script line %d: parameter %q: %w", lineNo, key, err)
			}
			if _, dup := rn.params[key]; !dup {
				rn.order = append(rn.order, key)
			}
			rn.params[key] = v
		}
		raws = append(raws, rn)
	}

	succ := make([][]int, count)
	incoming := make([]int, count)
	for i := range succ {
		line, _ := next() // trailing empty adjacency lines may be missing
		for _, tok := range strings.Fields(line) {
			j, err := strconv.Atoi(tok)
			if err != nil || j < 0 || j >= count {
				return nil, fmt.Errorf("script line %d: invalid successor index %q", lineNo, tok)
			}
			succ[i] = append(succ[i], j)
			incoming[j]++
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}

	g := NewGraph("")
	ids := make([]NodeID, count)
	for i, rn := range raws {
		ids[i] = NodeID("n" + strconv.Itoa(i))
		in, out := sizeNode(rn.op, incoming[i], len(succ[i]))
		n := NewNode(ids[i], rn.op)
		n.Inputs, n.Outputs = in, out
		for _, key := range rn.order {
			if !rn.op.HasParam(key) {
				return nil, malformedf(ids[i], "operation %q has no parameter %q", rn.op.Name, key)
			}
			for k := range n.Params {
				if n.Params[k].Name == key {
					n.Params[k].Value = rn.params[key]
				}
			}
		}
		if _, err := g.AddNode(n); err != nil {
			return nil, err
		}
	}

	nextIn := make([]int, count)
	for i, dests := range succ {
		src, _ := g.Node(ids[i])
		positional := len(dests) == src.Outputs
		if !positional && src.Outputs != 1 && len(dests) > 0 {
			return nil, malformedf(src.ID, "%d successors cannot be routed over %d output ports", len(dests), src.Outputs)
		}
		for k, j := range dests {
			port := 0
			if positional {
				port = k
			}
			dst, _ := g.Node(ids[j])
			if nextIn[j] >= dst.Inputs {
				return nil, malformedf(dst.ID, "more incoming edges than its %d inputs", dst.Inputs)
			}
			if _, err := g.Connect(Out(src.ID, port), In(dst.ID, nextIn[j])); err != nil {
				return nil, err
			}
			nextIn[j]++
		}
	}
	return g, nil
}

// sizeNode picks a node's arity. Fixed-arity operations keep their declared
// arity; variadic ones grow to the number of incoming edges and output routes
// observed in the serialized graph, never below the declared arity.
func sizeNode(op *Operation, incoming, outgoing int) (inputs, outputs int) {
	inputs, outputs = op.Inputs, op.Outputs
	if !op.Variadic {
		return inputs, outputs
	}
	if op.Inputs > 0 && incoming > inputs {
		inputs = incoming
	}
	if op.Outputs > 0 && outgoing > outputs {
		outputs = outgoing
	}
	return inputs, outputs
}
