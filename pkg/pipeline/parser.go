package pipeline

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	gographviz "github.com/awalterschulze/gographviz"
)

// presentationAttrs are Graphviz layout attributes accepted and ignored on
// nodes so that rendered graphs can be decorated by hand.
var presentationAttrs = map[string]bool{
	"label": true, "xlabel": true, "shape": true, "color": true, "style": true,
	"fillcolor": true, "fontname": true, "fontsize": true, "pos": true, "tooltip": true,
}

// ParseDOT parses a Graphviz DOT filter graph:
//
//	digraph g {
//	    src  [op=input]
//	    b    [op=blur kernel_size=5]
//	    sink [op=output]
//	    src:o0 -> b:i0
//	    b -> sink
//	}
//
// The op attribute is required; inputs/outputs override the arity; every
// other non-presentation attribute is a numeric parameter. Ports are written
// oN (tail) and iN (head); a missing tail port means o0 and a missing head
// port means the next free input.
func ParseDOT(src string, reg OperationRegistry) (*Graph, error) {
	graphAst, err := gographviz.ParseString(src)
	if err != nil {
		return nil, fmt.Errorf("dot parse error: %w", err)
	}

	// Use a custom permissive graph collector that accepts any attribute name
	// without the strict validation that gographviz.Graph performs.
	collector := newDOTCollector()
	if err := gographviz.Analyse(graphAst, collector); err != nil {
		return nil, fmt.Errorf("dot analyse error: %w", err)
	}

	// Resolve ports before sizing nodes: variadic arity depends on wiring.
	type wire struct {
		from, to       NodeID
		outPort, inPort int // inPort < 0 means next free input
	}
	wires := make([]wire, 0, len(collector.edges))
	incoming := make(map[NodeID]int)
	maxOut := make(map[NodeID]int)
	for _, e := range collector.edges {
		w := wire{from: NodeID(e.from), to: NodeID(e.to), inPort: -1}
		if e.fromPort != "" {
			if w.outPort, err = parsePort(e.fromPort, 'o'); err != nil {
				return nil, fmt.Errorf("edge %s -> %s: %w", e.from, e.to, err)
			}
		}
		if e.toPort != "" {
			if w.inPort, err = parsePort(e.toPort, 'i'); err != nil {
				return nil, fmt.Errorf("edge %s -> %s: %w", e.from, e.to, err)
			}
		}
		incoming[w.to]++
		if w.outPort+1 > maxOut[w.from] {
			maxOut[w.from] = w.outPort + 1
		}
		wires = append(wires, w)
	}

	g := NewGraph(collector.name)
	for _, id := range collector.order {
		attrs := collector.nodes[id]
		nid := NodeID(id)
		name := attrs["op"]
		if name == "" {
			return nil, malformedf(nid, "missing required attribute \"op\"")
		}
		op, err := reg.Lookup(name)
		if err != nil {
			return nil, &UnknownOperationError{Name: name, NodeID: nid}
		}
		n := NewNode(nid, op)
		n.Inputs, n.Outputs = sizeNode(op, incoming[nid], maxOut[nid])
		if n.Inputs, err = intAttr(attrs, "inputs", n.Inputs); err != nil {
			return nil, malformedf(nid, "%v", err)
		}
		if n.Outputs, err = intAttr(attrs, "outputs", n.Outputs); err != nil {
			return nil, malformedf(nid, "%v", err)
		}

		keys := make([]string, 0, len(attrs))
		for k := range attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if k == "op" || k == "inputs" || k == "outputs" || presentationAttrs[k] {
				continue
			}
			if !op.HasParam(k) {
				return nil, malformedf(nid, "operation %q has no parameter %q", op.Name, k)
			}
			v, err := strconv.ParseFloat(attrs[k], 64)
			if err != nil {
				return nil, malformedf(nid, "parameter %q: %v", k, err)
			}
			for i := range n.Params {
				if n.Params[i].Name == k {
					n.Params[i].Value = v
				}
			}
		}
		if _, err := g.AddNode(n); err != nil {
			return nil, err
		}
	}

	nextIn := make(map[NodeID]int)
	for _, w := range wires {
		in := w.inPort
		if in < 0 {
			in = nextIn[w.to]
			nextIn[w.to]++
		}
		if _, err := g.Connect(Out(w.from, w.outPort), In(w.to, in)); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// RenderDOT produces the canonical DOT form of g, accepted by ParseDOT.
func RenderDOT(g *Graph) string {
	var sb strings.Builder

	name := g.Name
	if name == "" {
		name = "filtergraph"
	}
	fmt.Fprintf(&sb, "digraph %s {\n", dotQuote(name))
	for _, n := range g.Nodes() {
		parts := []string{
			"op=" + dotQuote(n.Op),
			"inputs=" + strconv.Itoa(n.Inputs),
			"outputs=" + strconv.Itoa(n.Outputs),
		}
		for _, p := range n.Params {
			parts = append(parts, p.Name+"="+dotQuote(strconv.FormatFloat(p.Value, 'g', -1, 64)))
		}
		fmt.Fprintf(&sb, "    %s [%s]\n", dotQuote(string(n.ID)), strings.Join(parts, ", "))
	}
	for _, e := range g.Edges() {
		fmt.Fprintf(&sb, "    %s:o%d -> %s:i%d\n",
			dotQuote(string(e.From.Node)), e.From.Index, dotQuote(string(e.To.Node)), e.To.Index)
	}
	sb.WriteString("}\n")
	return sb.String()
}

// ─── permissive DOT collector ─────────────────────────────────────────────────

type rawEdge struct {
	from, to         string
	fromPort, toPort string
}

// dotCollector implements gographviz.Interface without attribute validation.
type dotCollector struct {
	name  string
	nodes map[string]map[string]string // id → attrs
	order []string                     // ids in first-seen order
	edges []rawEdge
}

func newDOTCollector() *dotCollector {
	return &dotCollector{nodes: make(map[string]map[string]string)}
}

func (c *dotCollector) SetStrict(_ bool) error { return nil }
func (c *dotCollector) SetDir(_ bool) error    { return nil }
func (c *dotCollector) SetName(n string) error { c.name = unquote(n); return nil }
func (c *dotCollector) String() string         { return c.name }

func (c *dotCollector) AddNode(_ string, name string, attrs map[string]string) error {
	id := unquote(name)
	if _, ok := c.nodes[id]; !ok {
		c.nodes[id] = make(map[string]string, len(attrs))
		c.order = append(c.order, id)
	}
	for k, v := range attrs {
		c.nodes[id][k] = unquote(v)
	}
	return nil
}

func (c *dotCollector) AddEdge(src, dst string, directed bool, attrs map[string]string) error {
	return c.AddPortEdge(src, "", dst, "", directed, attrs)
}

func (c *dotCollector) AddPortEdge(src, srcPort, dst, dstPort string, _ bool, _ map[string]string) error {
	c.edges = append(c.edges, rawEdge{
		from:     unquote(src),
		to:       unquote(dst),
		fromPort: portName(srcPort),
		toPort:   portName(dstPort),
	})
	return nil
}

// AddAttr receives graph-level attributes only; gographviz has already merged
// node [...] defaults into the attrs passed to AddNode.
func (c *dotCollector) AddAttr(_ string, _, _ string) error { return nil }

func (c *dotCollector) AddSubGraph(_, _ string, _ map[string]string) error { return nil }

// ─── helpers ─────────────────────────────────────────────────────────────────

// unquote strips surrounding double-quotes from a DOT attribute value.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// portName reduces a DOT port (":o1" or ":o1:e") to its bare name.
func portName(s string) string {
	s = strings.TrimPrefix(strings.TrimSpace(s), ":")
	name, _, _ := strings.Cut(s, ":")
	return unquote(name)
}

// parsePort decodes "o3" / "i0" style port names.
func parsePort(s string, dir byte) (int, error) {
	if len(s) < 2 || s[0] != dir {
		return 0, fmt.Errorf("%w: port %q must look like %c<index>", ErrInvalidPort, s, dir)
	}
	i, err := strconv.Atoi(s[1:])
	if err != nil || i < 0 {
		return 0, fmt.Errorf("%w: port %q", ErrInvalidPort, s)
	}
	return i, nil
}

func intAttr(attrs map[string]string, key string, def int) (int, error) {
	v, ok := attrs[key]
	if !ok {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil || i < 0 {
		return 0, fmt.Errorf("attribute %s=%q is not a non-negative integer", key, v)
	}
	return i, nil
}

// dotQuote returns the value as a DOT-safe string, quoting if necessary.
func dotQuote(s string) string {
	needsQuote := s == ""
	for i, r := range s {
		ok := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (i > 0 && r >= '0' && r <= '9')
		if !ok {
			needsQuote = true
			break
		}
	}
	if needsQuote {
		escaped := strings.ReplaceAll(s, `\`, `\\`)
		escaped = strings.ReplaceAll(escaped, `"`, `\"`)
		return `"` + escaped + `"`
	}
	return s
}
