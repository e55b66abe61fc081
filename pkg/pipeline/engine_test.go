package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ravi-parthasarathy/filtergraph/pkg/pipeline"
	"github.com/ravi-parthasarathy/filtergraph/pkg/pipeline/ops"
	"github.com/ravi-parthasarathy/filtergraph/pkg/raster"
)

// ─── Evaluation ───────────────────────────────────────────────────────────────

func TestEvaluateBlurUniform(t *testing.T) {
	t.Parallel()
	b := newBuilder(t, ops.Builtin())
	b.chain(b.node("in", "input"), b.node("blur", "blur", pipeline.Param{Name: "kernel_size", Value: 3}), b.node("out", "output"))

	src := raster.Uniform(4, 4, 1, 128)
	res, err := b.engine().Evaluate(t.Context(), map[pipeline.NodeID]*raster.Image{"in": src})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	imgs := res.Images()
	if len(imgs) != 1 {
		t.Fatalf("got %d outputs, want 1", len(imgs))
	}
	if !imgs[0].Equal(src) {
		t.Errorf("blur of a uniform image changed it: %v", imgs[0].Pix)
	}
}

func TestEvaluateSplitBitwiseAnd(t *testing.T) {
	t.Parallel()
	b := newBuilder(t, ops.Builtin())
	in := b.node("in", "input")
	split := b.node("split", "split")
	and := b.node("and", "bitwise_and")
	out := b.node("out", "output")
	b.wire(in, 0, split, 0)
	b.wire(split, 0, and, 0)
	b.wire(split, 1, and, 1)
	b.wire(and, 0, out, 0)

	src := gradient(5, 3, 3)
	res, err := b.engine().Evaluate(t.Context(), map[pipeline.NodeID]*raster.Image{in: src})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	got, ok := res.Get(out)
	if !ok {
		t.Fatal("no image for sink \"out\"")
	}
	if !got.Equal(src) {
		t.Error("x AND x should equal x")
	}
}

func TestEvaluateMultipleSinksInGraphOrder(t *testing.T) {
	t.Parallel()
	b := newBuilder(t, ops.Builtin())
	in := b.node("in", "input")
	split := b.node("split", "split")
	first := b.node("first", "output")
	not := b.node("not", "bitwise_not")
	second := b.node("second", "output")
	b.wire(in, 0, split, 0)
	b.wire(split, 1, not, 0)
	b.wire(not, 0, second, 0)
	b.wire(split, 0, first, 0)

	e := b.engine()
	if got := e.OutputNodes(); len(got) != 2 || got[0] != first || got[1] != second {
		t.Fatalf("OutputNodes = %v", got)
	}
	res, err := e.Evaluate(t.Context(), e.Bind(raster.Uniform(2, 2, 1, 10)))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Outputs[0].Node != first || res.Outputs[1].Node != second {
		t.Errorf("outputs out of order: %v, %v", res.Outputs[0].Node, res.Outputs[1].Node)
	}
	if res.Outputs[1].Image.Pix[0] != 245 {
		t.Errorf("second = %v, want 245", res.Outputs[1].Image.Pix[0])
	}
}

func TestEvaluateInvokesEachNodeOnce(t *testing.T) {
	t.Parallel()
	reg, calls := testRegistry(t)
	b := newBuilder(t, reg)
	in := b.node("in", "input")
	split := b.node("split", "split")
	left := b.node("left", "count", pipeline.Param{Name: "tag", Value: 1})
	right := b.node("right", "count", pipeline.Param{Name: "tag", Value: 2})
	xor := b.node("xor", "bitwise_xor")
	tail := b.node("tail", "count", pipeline.Param{Name: "tag", Value: 3})
	out := b.node("out", "output")
	b.wire(in, 0, split, 0)
	b.wire(split, 0, left, 0)
	b.wire(split, 1, right, 0)
	b.wire(left, 0, xor, 0)
	b.wire(right, 0, xor, 1)
	b.chain(xor, tail, out)

	if _, err := b.engine().Evaluate(t.Context(), map[pipeline.NodeID]*raster.Image{in: gradient(3, 3, 1)}); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	for _, tag := range []float64{1, 2, 3} {
		if n := calls.get(tag); n != 1 {
			t.Errorf("count node %g ran %d times, want 1", tag, n)
		}
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	t.Parallel()
	b := newBuilder(t, ops.Builtin())
	in := b.node("in", "input")
	split := b.node("split", "split")
	sob := b.node("sob", "sobel")
	lap := b.node("lap", "laplacian")
	or := b.node("or", "bitwise_or")
	out := b.node("out", "output")
	b.wire(in, 0, split, 0)
	b.wire(split, 0, sob, 0)
	b.wire(split, 1, lap, 0)
	b.wire(sob, 0, or, 0)
	b.wire(lap, 0, or, 1)
	b.wire(or, 0, out, 0)

	e := b.engine()
	src := gradient(6, 5, 3)
	first, err := e.Evaluate(t.Context(), e.Bind(src))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	second, err := e.Evaluate(t.Context(), e.Bind(src))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !first.Images()[0].Equal(second.Images()[0]) {
		t.Error("two evaluations of the same input differ")
	}
}

func TestBroadcastBranchesDoNotShareBuffers(t *testing.T) {
	t.Parallel()
	reg, _ := testRegistry(t)
	b := newBuilder(t, reg)
	in := b.node("in", "input")
	mut := b.node("mut", "mutate")
	zeroed := b.node("zeroed", "output")
	intact := b.node("intact", "output")
	b.wire(in, 0, mut, 0)
	b.wire(in, 0, intact, 0)
	b.wire(mut, 0, zeroed, 0)

	src := raster.Uniform(2, 2, 1, 42)
	res, err := b.engine().Evaluate(t.Context(), map[pipeline.NodeID]*raster.Image{in: src})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	got, _ := res.Get(intact)
	if !got.Equal(raster.Uniform(2, 2, 1, 42)) {
		t.Errorf("broadcast sibling saw a mutation: %v", got.Pix)
	}
	if src.Pix[0] != 42 {
		t.Error("caller's input image was modified")
	}
}

func TestPostApplyNormalizes(t *testing.T) {
	t.Parallel()
	reg, _ := testRegistry(t)
	b := newBuilder(t, reg)
	b.chain(b.node("in", "input"), b.node("over", "overflow"), b.node("out", "output"))

	calls := 0
	e := b.engine(pipeline.WithPostApply(func(imgs []*raster.Image) {
		calls++
		raster.ClipAll(imgs)
	}))
	res, err := e.Evaluate(t.Context(), e.Bind(raster.Uniform(1, 1, 1, 100)))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v := res.Images()[0].Pix[0]; v != raster.MaxValue {
		t.Errorf("got %v, want %v", v, raster.MaxValue)
	}
	// input and overflow produce images; the sink does not.
	if calls != 2 {
		t.Errorf("hook ran %d times, want 2", calls)
	}
}

// ─── Probe ────────────────────────────────────────────────────────────────────

func TestProbeMatchesFullEvaluation(t *testing.T) {
	t.Parallel()
	reg, calls := testRegistry(t)

	full := newBuilder(t, reg)
	full.chain(full.node("in", "input"), full.node("blur", "blur"), full.node("out", "output"))
	src := gradient(4, 4, 1)
	want, err := full.engine().Evaluate(t.Context(), map[pipeline.NodeID]*raster.Image{"in": src})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	b := newBuilder(t, reg)
	b.chain(b.node("in", "input"), b.node("blur", "blur"),
		b.node("after", "count", pipeline.Param{Name: "tag", Value: 7}), b.node("out", "output"))
	got, err := b.engine().Probe(t.Context(), map[pipeline.NodeID]*raster.Image{"in": src}, "blur")
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if len(got) != 1 || !got[0].Equal(want.Images()[0]) {
		t.Error("probed blur output differs from the full evaluation")
	}
	if n := calls.get(7); n != 0 {
		t.Errorf("probe ran %d downstream nodes, want 0", n)
	}
}

func TestProbeSinkReturnsArrivedImage(t *testing.T) {
	t.Parallel()
	b := newBuilder(t, ops.Builtin())
	b.chain(b.node("in", "input"), b.node("not", "bitwise_not"), b.node("out", "output"))
	e := b.engine()
	inputs := e.Bind(raster.Uniform(2, 1, 1, 5))

	res, err := e.Evaluate(t.Context(), inputs)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	got, err := e.Probe(t.Context(), inputs, "out")
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if len(got) != 1 || !got[0].Equal(res.Images()[0]) {
		t.Error("probe of the sink disagrees with Evaluate")
	}
}

func TestProbeUnknownNode(t *testing.T) {
	t.Parallel()
	b := newBuilder(t, ops.Builtin())
	b.chain(b.node("in", "input"), b.node("out", "output"))
	e := b.engine()
	_, err := e.Probe(t.Context(), e.Bind(raster.New(1, 1, 1)), "ghost")
	if !errors.Is(err, pipeline.ErrNodeNotFound) {
		t.Errorf("got %v, want ErrNodeNotFound", err)
	}
}

// ─── Errors ───────────────────────────────────────────────────────────────────

func TestUnsatisfiableWhenInputPortUnconnected(t *testing.T) {
	t.Parallel()
	b := newBuilder(t, ops.Builtin())
	in := b.node("in", "input")
	and := b.node("and", "bitwise_and")
	out := b.node("out", "output")
	b.wire(in, 0, and, 0)
	b.wire(and, 0, out, 0)

	_, err := pipeline.NewEngine(b.g, b.reg)
	var uerr *pipeline.UnsatisfiableGraphError
	if !errors.As(err, &uerr) {
		t.Fatalf("got %v, want *UnsatisfiableGraphError", err)
	}
	if len(uerr.NodeIDs) != 1 || uerr.NodeIDs[0] != and {
		t.Errorf("NodeIDs = %v, want [and]", uerr.NodeIDs)
	}
}

func TestMalformedWhenOutputPortUnconnected(t *testing.T) {
	t.Parallel()
	b := newBuilder(t, ops.Builtin())
	in := b.node("in", "input")
	split := b.node("split", "split")
	out := b.node("out", "output")
	b.wire(in, 0, split, 0)
	b.wire(split, 0, out, 0)

	_, err := pipeline.NewEngine(b.g, b.reg)
	var merr *pipeline.MalformedGraphError
	if !errors.As(err, &merr) {
		t.Fatalf("got %v, want *MalformedGraphError", err)
	}
	if merr.NodeID != split {
		t.Errorf("NodeID = %q, want split", merr.NodeID)
	}
}

func TestCycleIsUnsatisfiable(t *testing.T) {
	t.Parallel()
	b := newBuilder(t, ops.Builtin())
	in := b.node("in", "input")
	and := b.node("and", "bitwise_and")
	blur := b.node("blur", "blur")
	out := b.node("out", "output")
	b.wire(in, 0, and, 0)
	b.wire(blur, 0, and, 1)
	b.wire(and, 0, blur, 0)
	b.wire(and, 0, out, 0)

	_, err := pipeline.NewEngine(b.g, b.reg)
	var uerr *pipeline.UnsatisfiableGraphError
	if !errors.As(err, &uerr) {
		t.Fatalf("got %v, want *UnsatisfiableGraphError", err)
	}
	if uerr.Reason != "cycle detected" {
		t.Errorf("Reason = %q", uerr.Reason)
	}
	if _, err := pipeline.TopoOrder(b.g); err == nil {
		t.Error("TopoOrder accepted a cycle")
	}
}

func TestUnknownOperation(t *testing.T) {
	t.Parallel()
	reg, _ := testRegistry(t)
	b := newBuilder(t, reg)
	b.chain(b.node("in", "input"), b.node("c", "count"), b.node("out", "output"))

	_, err := pipeline.NewEngine(b.g, ops.Builtin())
	var uerr *pipeline.UnknownOperationError
	if !errors.As(err, &uerr) {
		t.Fatalf("got %v, want *UnknownOperationError", err)
	}
	if uerr.Name != "count" || uerr.NodeID != "c" {
		t.Errorf("got %+v", uerr)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	t.Parallel()
	reg, _ := testRegistry(t)
	b := newBuilder(t, reg)
	in := b.node("in", "input")
	b.node("c", "count")
	and := b.node("and", "bitwise_and")
	b.node("out", "output")
	b.wire(in, 0, and, 0)

	errs := pipeline.Validate(b.g, ops.Builtin())
	var unknown, unsat, malformed int
	for _, err := range errs {
		switch err.(type) {
		case *pipeline.UnknownOperationError:
			unknown++
		case *pipeline.UnsatisfiableGraphError:
			unsat++
		case *pipeline.MalformedGraphError:
			malformed++
		}
	}
	if unknown != 1 || unsat == 0 || malformed == 0 {
		t.Errorf("unknown=%d unsat=%d malformed=%d in %v", unknown, unsat, malformed, errs)
	}
}

func TestValidateEmptyGraph(t *testing.T) {
	t.Parallel()
	errs := pipeline.Validate(pipeline.NewGraph("empty"), ops.Builtin())
	if len(errs) != 1 {
		t.Fatalf("got %v, want one error", errs)
	}
}

func TestMissingInputImage(t *testing.T) {
	t.Parallel()
	b := newBuilder(t, ops.Builtin())
	b.chain(b.node("in", "input"), b.node("out", "output"))
	_, err := b.engine().Evaluate(t.Context(), nil)
	var merr *pipeline.MissingInputImageError
	if !errors.As(err, &merr) || merr.NodeID != "in" {
		t.Errorf("got %v, want *MissingInputImageError for \"in\"", err)
	}
}

func TestImageBoundToUnknownNode(t *testing.T) {
	t.Parallel()
	b := newBuilder(t, ops.Builtin())
	b.chain(b.node("in", "input"), b.node("out", "output"))
	img := raster.New(1, 1, 1)
	_, err := b.engine().Evaluate(t.Context(), map[pipeline.NodeID]*raster.Image{"in": img, "ghost": img})
	if !errors.Is(err, pipeline.ErrNodeNotFound) {
		t.Errorf("got %v, want ErrNodeNotFound", err)
	}
}

func TestOperationErrorPropagates(t *testing.T) {
	t.Parallel()
	reg, _ := testRegistry(t)
	b := newBuilder(t, reg)
	b.chain(b.node("in", "input"), b.node("bad", "fail"), b.node("out", "output"))
	e := b.engine()
	_, err := e.Evaluate(t.Context(), e.Bind(raster.New(1, 1, 1)))
	var oerr *pipeline.OperationError
	if !errors.As(err, &oerr) {
		t.Fatalf("got %v, want *OperationError", err)
	}
	if oerr.NodeID != "bad" || oerr.Op != "fail" {
		t.Errorf("got %+v", oerr)
	}
	if !errors.Is(err, errBoom) {
		t.Error("cause not unwrapped")
	}
}

func TestOperationPanicBecomesError(t *testing.T) {
	t.Parallel()
	reg, _ := testRegistry(t)
	b := newBuilder(t, reg)
	b.chain(b.node("in", "input"), b.node("boom", "crash"), b.node("out", "output"))
	e := b.engine()
	_, err := e.Evaluate(t.Context(), e.Bind(raster.New(1, 1, 1)))
	var oerr *pipeline.OperationError
	if !errors.As(err, &oerr) {
		t.Fatalf("got %v, want *OperationError", err)
	}
	if oerr.NodeID != "boom" || !strings.Contains(err.Error(), "panic") {
		t.Errorf("got %v", err)
	}
}

func TestInvalidParamAbortsEvaluation(t *testing.T) {
	t.Parallel()
	b := newBuilder(t, ops.Builtin())
	b.chain(
		b.node("in", "input"),
		b.node("wide", "blur", pipeline.Param{Name: "kernel_size", Value: 1e15}),
		b.node("out", "output"),
	)
	e := b.engine()
	_, err := e.Evaluate(t.Context(), e.Bind(raster.New(3, 3, 1)))
	var oerr *pipeline.OperationError
	if !errors.As(err, &oerr) || oerr.NodeID != "wide" {
		t.Fatalf("got %v, want *OperationError from node wide", err)
	}
}

func TestEvaluateCancelled(t *testing.T) {
	t.Parallel()
	b := newBuilder(t, ops.Builtin())
	b.chain(b.node("in", "input"), b.node("out", "output"))
	e := b.engine()
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := e.Evaluate(ctx, e.Bind(raster.New(1, 1, 1)))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestEngineSnapshotsGraph(t *testing.T) {
	t.Parallel()
	b := newBuilder(t, ops.Builtin())
	b.chain(b.node("in", "input"), b.node("g", "gamma_correction"), b.node("out", "output"))
	e := b.engine()
	if err := b.g.SetParam("g", "gamma", 1); err != nil {
		t.Fatal(err)
	}
	res, err := e.Evaluate(t.Context(), e.Bind(raster.Uniform(1, 1, 1, 128)))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v := res.Images()[0].Pix[0]; v == 128 {
		t.Error("engine picked up a parameter change made after construction")
	}
}

// ─── Batch ────────────────────────────────────────────────────────────────────

func TestEvaluateBatchKeepsOrder(t *testing.T) {
	t.Parallel()
	b := newBuilder(t, ops.Builtin())
	b.chain(b.node("in", "input"), b.node("not", "bitwise_not"), b.node("out", "output"))
	e := b.engine()

	var inputs []map[pipeline.NodeID]*raster.Image
	for v := 0; v < 8; v++ {
		inputs = append(inputs, e.Bind(raster.Uniform(3, 3, 1, float32(v*10))))
	}
	results, err := e.EvaluateBatch(t.Context(), inputs, 3)
	if err != nil {
		t.Fatalf("EvaluateBatch: %v", err)
	}
	for i, res := range results {
		want := float32(255 - i*10)
		if got := res.Images()[0].Pix[0]; got != want {
			t.Errorf("item %d: got %v, want %v", i, got, want)
		}
	}
}

func TestEvaluateBatchFailure(t *testing.T) {
	t.Parallel()
	b := newBuilder(t, ops.Builtin())
	b.chain(b.node("in", "input"), b.node("out", "output"))
	e := b.engine()
	inputs := []map[pipeline.NodeID]*raster.Image{e.Bind(raster.New(1, 1, 1)), {}}
	_, err := e.EvaluateBatch(t.Context(), inputs, 0)
	var merr *pipeline.MissingInputImageError
	if !errors.As(err, &merr) {
		t.Errorf("got %v, want *MissingInputImageError", err)
	}
}
