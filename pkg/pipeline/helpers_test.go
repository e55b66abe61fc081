package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ravi-parthasarathy/filtergraph/pkg/pipeline"
	"github.com/ravi-parthasarathy/filtergraph/pkg/pipeline/ops"
	"github.com/ravi-parthasarathy/filtergraph/pkg/raster"
)

var errBoom = errors.New("boom")

// counter records how often each tagged "count" node ran.
type counter struct {
	mu    sync.Mutex
	calls map[float64]int
}

func (c *counter) get(tag float64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[tag]
}

// testRegistry returns the built-ins plus a few instrumented operations:
//
//	count    1->1 pass-through that records each call by its tag parameter
//	fail     1->1 that always returns errBoom
//	mutate   1->1 that zeroes its input in place and returns it
//	overflow 1->1 that adds 200 to every sample
//	sub      2->1 that subtracts input 1 from input 0
//	fork     1->2 fixed-arity copy
//	crash    1->1 that panics
func testRegistry(t *testing.T) (*ops.Registry, *counter) {
	t.Helper()
	c := &counter{calls: make(map[float64]int)}
	reg := ops.Builtin()
	err := reg.Merge(
		&pipeline.Operation{
			Name: "count", Inputs: 1, Outputs: 1,
			Params: []pipeline.ParamSpec{{Name: "tag"}},
			Transform: func(_ context.Context, in []*raster.Image, p pipeline.Params, _ int) ([]*raster.Image, error) {
				c.mu.Lock()
				c.calls[p.Float("tag", 0)]++
				c.mu.Unlock()
				return []*raster.Image{in[0].Clone()}, nil
			},
		},
		&pipeline.Operation{
			Name: "fail", Inputs: 1, Outputs: 1,
			Transform: func(context.Context, []*raster.Image, pipeline.Params, int) ([]*raster.Image, error) {
				return nil, errBoom
			},
		},
		&pipeline.Operation{
			Name: "mutate", Inputs: 1, Outputs: 1,
			Transform: func(_ context.Context, in []*raster.Image, _ pipeline.Params, _ int) ([]*raster.Image, error) {
				for i := range in[0].Pix {
					in[0].Pix[i] = 0
				}
				return in, nil
			},
		},
		&pipeline.Operation{
			Name: "overflow", Inputs: 1, Outputs: 1,
			Transform: func(_ context.Context, in []*raster.Image, _ pipeline.Params, _ int) ([]*raster.Image, error) {
				out := in[0].Clone()
				for i := range out.Pix {
					out.Pix[i] += 200
				}
				return []*raster.Image{out}, nil
			},
		},
		&pipeline.Operation{
			Name: "sub", Inputs: 2, Outputs: 1,
			Transform: func(_ context.Context, in []*raster.Image, _ pipeline.Params, _ int) ([]*raster.Image, error) {
				out := in[0].Clone()
				for i := range out.Pix {
					out.Pix[i] -= in[1].Pix[i]
				}
				return []*raster.Image{out}, nil
			},
		},
		&pipeline.Operation{
			Name: "fork", Inputs: 1, Outputs: 2,
			Transform: func(_ context.Context, in []*raster.Image, _ pipeline.Params, _ int) ([]*raster.Image, error) {
				return []*raster.Image{in[0].Clone(), in[0].Clone()}, nil
			},
		},
		&pipeline.Operation{
			Name: "crash", Inputs: 1, Outputs: 1,
			Transform: func(context.Context, []*raster.Image, pipeline.Params, int) ([]*raster.Image, error) {
				panic("corrupt buffer")
			},
		},
	)
	if err != nil {
		t.Fatalf("register test ops: %v", err)
	}
	return reg, c
}

// builder wraps a graph with fatal-on-error helpers.
type builder struct {
	t   *testing.T
	reg pipeline.OperationRegistry
	g   *pipeline.Graph
}

func newBuilder(t *testing.T, reg pipeline.OperationRegistry) *builder {
	t.Helper()
	return &builder{t: t, reg: reg, g: pipeline.NewGraph("test")}
}

func (b *builder) node(id, op string, params ...pipeline.Param) pipeline.NodeID {
	b.t.Helper()
	o, err := b.reg.Lookup(op)
	if err != nil {
		b.t.Fatalf("lookup %q: %v", op, err)
	}
	n := pipeline.NewNode(pipeline.NodeID(id), o)
	for _, p := range params {
		for i := range n.Params {
			if n.Params[i].Name == p.Name {
				n.Params[i].Value = p.Value
			}
		}
	}
	if _, err := b.g.AddNode(n); err != nil {
		b.t.Fatalf("add %q: %v", id, err)
	}
	return n.ID
}

func (b *builder) wire(from pipeline.NodeID, out int, to pipeline.NodeID, in int) {
	b.t.Helper()
	if _, err := b.g.Connect(pipeline.Out(from, out), pipeline.In(to, in)); err != nil {
		b.t.Fatalf("connect %s:o%d -> %s:i%d: %v", from, out, to, in, err)
	}
}

// chain wires ids one after another through port 0.
func (b *builder) chain(ids ...pipeline.NodeID) {
	b.t.Helper()
	for i := 1; i < len(ids); i++ {
		b.wire(ids[i-1], 0, ids[i], 0)
	}
}

func (b *builder) engine(opts ...pipeline.Option) *pipeline.Engine {
	b.t.Helper()
	e, err := pipeline.NewEngine(b.g, b.reg, opts...)
	if err != nil {
		b.t.Fatalf("NewEngine: %v", err)
	}
	return e
}

// gradient returns a deterministic, non-uniform test image.
func gradient(w, h, c int) *raster.Image {
	m := raster.New(w, h, c)
	for i := range m.Pix {
		m.Pix[i] = float32((i * 37) % 256)
	}
	return m
}
