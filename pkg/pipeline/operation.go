package pipeline

import (
	"context"
	"fmt"
	"math"

	"github.com/ravi-parthasarathy/filtergraph/pkg/raster"
)

// Names of the pseudo-operations that mark graph boundaries.
const (
	OpInput  = "input"
	OpOutput = "output"
)

// TransformFunc applies an operation.
//
// inputs holds one image per input port, ordered by port index; a source node
// receives the single image bound to it. outputs is the output arity of the
// node being evaluated. Implementations must treat inputs as read-only and
// return exactly outputs newly allocated images (sinks may return nil).
type TransformFunc func(ctx context.Context, inputs []*raster.Image, params Params, outputs int) ([]*raster.Image, error)

// ParamSpec declares a named numeric parameter and its default value.
type ParamSpec struct {
	Name    string
	Default float64
}

// Operation is an immutable descriptor of a named image transform.
type Operation struct {
	Name        string
	Params      []ParamSpec
	Description string
	Inputs      int
	Outputs     int
	// Variadic operations accept nodes whose arity differs from Inputs and
	// Outputs, as long as the node keeps the same source/sink status.
	Variadic  bool
	Transform TransformFunc
}

// Check reports a malformed descriptor.
func (op *Operation) Check() error {
	if op.Name == "" {
		return fmt.Errorf("operation has no name")
	}
	if op.Inputs < 0 || op.Outputs < 0 {
		return fmt.Errorf("operation %q: negative arity %d->%d", op.Name, op.Inputs, op.Outputs)
	}
	if op.Transform == nil {
		return fmt.Errorf("operation %q: nil transform", op.Name)
	}
	seen := make(map[string]bool, len(op.Params))
	for _, p := range op.Params {
		if p.Name == "" {
			return fmt.Errorf("operation %q: empty parameter name", op.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("operation %q: duplicate parameter %q", op.Name, p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// ParamNames returns the declared parameter names in order.
func (op *Operation) ParamNames() []string {
	names := make([]string, len(op.Params))
	for i, p := range op.Params {
		names[i] = p.Name
	}
	return names
}

// HasParam reports whether name is a declared parameter.
func (op *Operation) HasParam(name string) bool {
	for _, p := range op.Params {
		if p.Name == name {
			return true
		}
	}
	return false
}

// DefaultParams returns the bindings a fresh node of this operation gets.
func (op *Operation) DefaultParams() []Param {
	out := make([]Param, len(op.Params))
	for i, p := range op.Params {
		out[i] = Param{Name: p.Name, Value: p.Default}
	}
	return out
}

// accepts reports whether a node with the given arity may use op.
func (op *Operation) accepts(inputs, outputs int) bool {
	if inputs == op.Inputs && outputs == op.Outputs {
		return true
	}
	if !op.Variadic || inputs < 0 || outputs < 0 {
		return false
	}
	return (inputs == 0) == (op.Inputs == 0) && (outputs == 0) == (op.Outputs == 0)
}

// OperationRegistry looks up operations by name.
// Implementations live in the ops sub-package; this interface is defined here
// so that Engine can use it without creating an import cycle.
type OperationRegistry interface {
	Lookup(name string) (*Operation, error)
}

// Params is the resolved name -> value binding handed to a transform.
type Params map[string]float64

// Float returns the named value, or def when absent.
func (p Params) Float(name string, def float64) float64 {
	if v, ok := p[name]; ok {
		return v
	}
	return def
}

// Int returns the named value truncated toward zero, or def when absent.
func (p Params) Int(name string, def int) int {
	v, ok := p[name]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	return int(v)
}
