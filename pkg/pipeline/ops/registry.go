package ops

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ravi-parthasarathy/filtergraph/pkg/pipeline"
)

// Registry maps operation names to Operation descriptors.
// It implements the pipeline.OperationRegistry interface.
//
// Registry is safe for concurrent use, but an engine built from it snapshots
// the operations it needs, so later registrations never affect evaluations
// already in flight.
type Registry struct {
	mu  sync.RWMutex
	ops map[string]*pipeline.Operation
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]*pipeline.Operation)}
}

// Register adds op, replacing any operation with the same name.
func (r *Registry) Register(op *pipeline.Operation) error {
	if err := op.Check(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[op.Name] = op
	return nil
}

// Merge registers every op in order, so the last one with a given name wins.
// Nothing is registered when any op is malformed.
func (r *Registry) Merge(ops ...*pipeline.Operation) error {
	for _, op := range ops {
		if err := op.Check(); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, op := range ops {
		r.ops[op.Name] = op
	}
	return nil
}

// Lookup returns the operation called name, or a
// *pipeline.UnknownOperationError if none is registered.
func (r *Registry) Lookup(name string) (*pipeline.Operation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.ops[name]
	if !ok {
		return nil, &pipeline.UnknownOperationError{Name: name}
	}
	return op, nil
}

// List returns all registered operations sorted by name.
func (r *Registry) List() []*pipeline.Operation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*pipeline.Operation, 0, len(r.ops))
	for _, op := range r.ops {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered operations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ops)
}

// Builtin returns a registry holding every built-in operation.
func Builtin() *Registry {
	r := NewRegistry()
	if err := r.Merge(builtins()...); err != nil {
		panic(fmt.Sprintf("ops: invalid built-in operation: %v", err))
	}
	return r
}

func builtins() []*pipeline.Operation {
	return []*pipeline.Operation{
		Input(),
		Output(),
		Split(),
		BitwiseAnd(),
		BitwiseOr(),
		BitwiseXor(),
		BitwiseNot(),
		Blur(),
		GammaCorrection(),
		Sobel(),
		Laplacian(),
		alias(Sobel(), "sob"),
		alias(Laplacian(), "laplasiian"),
		Resize(),
		Rotate90(),
		Crop(),
	}
}
