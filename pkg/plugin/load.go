package plugin

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/ravi-parthasarathy/filtergraph/pkg/pipeline"
	"github.com/ravi-parthasarathy/filtergraph/pkg/raster"
)

// LoadFile reads a manifest and returns one operation per declared entry.
// Every failure is reported as a *LoadError.
func LoadFile(path string) ([]*pipeline.Operation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Source: path, Cause: err}
	}
	defer f.Close()

	m, err := ParseManifest(f)
	if err != nil {
		return nil, &LoadError{Source: path, Cause: err}
	}
	ops, err := Operations(m, filepath.Dir(path))
	if err != nil {
		return nil, &LoadError{Source: path, Cause: err}
	}
	return ops, nil
}

// Operations builds the operations served by m. A relative command path
// containing a separator is resolved against dir; bare names go through
// PATH lookup when the command runs.
func Operations(m *Manifest, dir string) ([]*pipeline.Operation, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	runner := NewRunner(resolveCommand(m.Command, dir), m.Env)
	if m.Retries != nil {
		runner.Retries = *m.Retries
	}

	ops := make([]*pipeline.Operation, 0, len(m.Operations))
	for _, spec := range m.Operations {
		params := make([]pipeline.ParamSpec, len(spec.Params))
		for i, p := range spec.Params {
			params[i] = pipeline.ParamSpec{Name: p.Name, Default: p.Default}
		}
		name := spec.Name
		op := &pipeline.Operation{
			Name:     name,
			Params:   params,
			Inputs:   spec.Inputs,
			Outputs:  spec.Outputs,
			Variadic: spec.Variadic,
			Transform: func(ctx context.Context, in []*raster.Image, p pipeline.Params, outputs int) ([]*raster.Image, error) {
				return runner.Invoke(ctx, name, in, p, outputs)
			},
		}
		if err := op.Check(); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func resolveCommand(cmd []string, dir string) []string {
	out := append([]string(nil), cmd...)
	if !filepath.IsAbs(out[0]) && strings.ContainsRune(out[0], filepath.Separator) {
		out[0] = filepath.Join(dir, out[0])
	}
	return out
}
