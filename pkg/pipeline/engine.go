package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ravi-parthasarathy/filtergraph/pkg/raster"
)

// Engine evaluates a validated Graph. It snapshots the graph at construction
// time, so one Engine may serve any number of concurrent evaluations.
type Engine struct {
	name      string
	nodes     []*compiledNode
	byID      map[NodeID]*compiledNode
	sources   []*compiledNode
	sinks     []*compiledNode
	succ      *SuccessorMap
	postApply func([]*raster.Image)
}

type compiledNode struct {
	node   *Node
	op     *Operation
	params Params
}

// Option configures an Engine.
type Option func(*Engine)

// WithPostApply installs a hook that receives the images produced by every
// filter application before they are routed. The CLI uses it to normalize
// intermediate buffers with raster.ClipAll.
func WithPostApply(fn func([]*raster.Image)) Option {
	return func(e *Engine) { e.postApply = fn }
}

// NewEngine creates an Engine after validating the graph. Structural problems
// are reported here, before any image is touched.
func NewEngine(g *Graph, reg OperationRegistry, opts ...Option) (*Engine, error) {
	if g == nil {
		return nil, fmt.Errorf("graph must not be nil")
	}
	if reg == nil {
		return nil, fmt.Errorf("operation registry must not be nil")
	}
	if err := ValidateErr(g, reg); err != nil {
		return nil, err
	}
	succ, err := Successors(g)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		name: g.Name,
		byID: make(map[NodeID]*compiledNode, g.Len()),
		succ: succ,
	}
	for _, n := range g.Nodes() {
		op, err := reg.Lookup(n.Op)
		if err != nil {
			return nil, &UnknownOperationError{Name: n.Op, NodeID: n.ID}
		}
		params := make(Params, len(op.Params))
		for _, p := range op.Params {
			params[p.Name] = p.Default
		}
		for _, p := range n.Params {
			params[p.Name] = p.Value
		}
		cn := &compiledNode{node: n.clone(), op: op, params: params}
		e.nodes = append(e.nodes, cn)
		e.byID[n.ID] = cn
		if n.IsSource() {
			e.sources = append(e.sources, cn)
		}
		if n.IsSink() {
			e.sinks = append(e.sinks, cn)
		}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// InputNodes returns the IDs of the source nodes in graph order.
func (e *Engine) InputNodes() []NodeID {
	ids := make([]NodeID, len(e.sources))
	for i, cn := range e.sources {
		ids[i] = cn.node.ID
	}
	return ids
}

// OutputNodes returns the IDs of the sink nodes in graph order.
func (e *Engine) OutputNodes() []NodeID {
	ids := make([]NodeID, len(e.sinks))
	for i, cn := range e.sinks {
		ids[i] = cn.node.ID
	}
	return ids
}

// Bind maps the same image to every input node.
func (e *Engine) Bind(img *raster.Image) map[NodeID]*raster.Image {
	out := make(map[NodeID]*raster.Image, len(e.sources))
	for _, cn := range e.sources {
		out[cn.node.ID] = img
	}
	return out
}

// Output is the image that reached one sink node.
type Output struct {
	Node  NodeID
	Image *raster.Image
}

// Result holds one image per sink, in graph order.
type Result struct {
	Outputs []Output
}

// Images returns the output images in graph order.
func (r *Result) Images() []*raster.Image {
	out := make([]*raster.Image, len(r.Outputs))
	for i, o := range r.Outputs {
		out[i] = o.Image
	}
	return out
}

// Get returns the image that reached sink id.
func (r *Result) Get(id NodeID) (*raster.Image, bool) {
	for _, o := range r.Outputs {
		if o.Node == id {
			return o.Image, true
		}
	}
	return nil, false
}

// Evaluate runs the whole graph and returns the image reaching every sink.
// The caller's images are never modified.
func (e *Engine) Evaluate(ctx context.Context, inputs map[NodeID]*raster.Image) (*Result, error) {
	st, err := e.run(ctx, inputs, "")
	if err != nil {
		return nil, err
	}
	res := &Result{Outputs: make([]Output, 0, len(e.sinks))}
	for _, cn := range e.sinks {
		res.Outputs = append(res.Outputs, Output{Node: cn.node.ID, Image: st.sinkImages[cn.node.ID]})
	}
	slog.Info("evaluation complete", "graph", e.name, "outputs", len(res.Outputs))
	return res, nil
}

// Probe evaluates only as much of the graph as needed to run target and
// returns the images it produced. For a sink, the image that reached it is
// returned, matching what Evaluate reports for that sink.
func (e *Engine) Probe(ctx context.Context, inputs map[NodeID]*raster.Image, target NodeID) ([]*raster.Image, error) {
	if _, ok := e.byID[target]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, target)
	}
	st, err := e.run(ctx, inputs, target)
	if err != nil {
		return nil, err
	}
	if st.probed == nil {
		return nil, fmt.Errorf("node %q was never evaluated", target)
	}
	return st.probed, nil
}

// runState is the transient per-evaluation state. It is owned by a single
// call and discarded afterwards.
type runState struct {
	pending    map[NodeID][]*raster.Image // arrived images, slotted by input port
	remaining  map[NodeID]int             // inputs still expected
	sinkImages map[NodeID]*raster.Image
	probed     []*raster.Image
}

// run is the dependency-counted scheduler. Sources are queued first; every
// arrival decrements the destination's counter and a node is queued exactly
// once, when its counter reaches zero. With target set, run stops as soon as
// that node has been applied.
func (e *Engine) run(ctx context.Context, inputs map[NodeID]*raster.Image, target NodeID) (*runState, error) {
	if err := e.checkInputs(inputs); err != nil {
		return nil, err
	}

	st := &runState{
		pending:    make(map[NodeID][]*raster.Image, len(e.nodes)),
		remaining:  make(map[NodeID]int, len(e.nodes)),
		sinkImages: make(map[NodeID]*raster.Image, len(e.sinks)),
	}
	queue := make([]*compiledNode, 0, len(e.nodes))
	for _, cn := range e.nodes {
		st.remaining[cn.node.ID] = cn.node.Inputs
	}
	for _, cn := range e.sources {
		st.pending[cn.node.ID] = []*raster.Image{inputs[cn.node.ID].Clone()}
		queue = append(queue, cn)
	}

	for len(queue) > 0 {
		cn := queue[0]
		queue = queue[1:]
		id := cn.node.ID

		// Respect context cancellation between nodes.
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("evaluation cancelled at node %q: %w", id, ctx.Err())
		default:
		}

		arrived := st.pending[id]
		delete(st.pending, id)

		produced, err := e.apply(ctx, cn, arrived)
		if err != nil {
			return nil, err
		}

		if cn.node.IsSink() {
			st.sinkImages[id] = arrived[0]
			if id == target {
				st.probed = []*raster.Image{arrived[0]}
				return st, nil
			}
			continue
		}

		if e.postApply != nil {
			e.postApply(produced)
		}
		if id == target {
			st.probed = produced
			return st, nil
		}

		for i, dests := range e.succ.Ports(id) {
			for j, dst := range dests {
				img := produced[i]
				if j > 0 {
					// Every branch of a broadcast owns its buffer.
					img = img.Clone()
				}
				slots := st.pending[dst.Node]
				if slots == nil {
					slots = make([]*raster.Image, e.byID[dst.Node].node.Inputs)
					st.pending[dst.Node] = slots
				}
				slots[dst.Index] = img
				st.remaining[dst.Node]--
				if st.remaining[dst.Node] == 0 {
					queue = append(queue, e.byID[dst.Node])
				}
			}
		}
	}
	return st, nil
}

// apply invokes a node's transform and checks the produced arity.
func (e *Engine) apply(ctx context.Context, cn *compiledNode, in []*raster.Image) ([]*raster.Image, error) {
	n := cn.node
	slog.Debug("applying operation", "node", n.ID, "op", cn.op.Name, "inputs", len(in))

	out, err := transform(ctx, cn, in)
	if err != nil {
		return nil, &OperationError{NodeID: n.ID, Op: cn.op.Name, Cause: err}
	}
	if n.IsSink() {
		return nil, nil
	}
	if len(out) != n.Outputs {
		return nil, &OperationError{
			NodeID: n.ID,
			Op:     cn.op.Name,
			Cause:  fmt.Errorf("produced %d images, want %d", len(out), n.Outputs),
		}
	}
	for i, img := range out {
		if img == nil {
			return nil, &OperationError{NodeID: n.ID, Op: cn.op.Name, Cause: fmt.Errorf("output %d is nil", i)}
		}
	}
	return out, nil
}

// transform runs the operation, turning a panic into an error so that one
// bad node fails its evaluation instead of the process.
func transform(ctx context.Context, cn *compiledNode, in []*raster.Image) (out []*raster.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("operation panicked", "node", cn.node.ID, "op", cn.op.Name, "panic", r)
			out, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return cn.op.Transform(ctx, in, cn.params, cn.node.Outputs)
}

// checkInputs requires exactly one image for every source and nothing else.
func (e *Engine) checkInputs(inputs map[NodeID]*raster.Image) error {
	for _, cn := range e.sources {
		if inputs[cn.node.ID] == nil {
			return &MissingInputImageError{NodeID: cn.node.ID}
		}
	}
	for id := range inputs {
		cn, ok := e.byID[id]
		if !ok {
			return fmt.Errorf("%w: image bound to %q", ErrNodeNotFound, id)
		}
		if !cn.node.IsSource() {
			return fmt.Errorf("image bound to node %q, which is not an input node", id)
		}
	}
	return nil
}
