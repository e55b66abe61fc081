package plugin

import (
	"encoding/json"
	"fmt"
	"io"
)

// Manifest describes an executable that serves one or more operations.
//
//	{
//	  "command": ["./edges", "--fast"],
//	  "env": ["EDGES_THREADS=2"],
//	  "retries": 3,
//	  "operations": [
//	    {"name": "canny", "params": [{"name": "low", "default": 50}], "inputs": 1, "outputs": 1}
//	  ]
//	}
type Manifest struct {
	Command    []string        `json:"command"`
	Env        []string        `json:"env,omitempty"`
	Retries    *uint64         `json:"retries,omitempty"`
	Operations []OperationSpec `json:"operations"`
}

// OperationSpec declares one operation of a plugin.
type OperationSpec struct {
	Name     string      `json:"name"`
	Params   []ParamSpec `json:"params,omitempty"`
	Inputs   int         `json:"inputs"`
	Outputs  int         `json:"outputs"`
	Variadic bool        `json:"variadic,omitempty"`
}

// ParamSpec declares a numeric parameter and its default.
type ParamSpec struct {
	Name    string  `json:"name"`
	Default float64 `json:"default"`
}

// ParseManifest decodes a manifest, rejecting unknown fields and trailing
// data, and validates it.
func ParseManifest(r io.Reader) (*Manifest, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifestMalformed, err)
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("%w: trailing data", ErrManifestMalformed)
		}
		return nil, fmt.Errorf("%w: %w", ErrManifestMalformed, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest for missing or inconsistent declarations.
func (m *Manifest) Validate() error {
	if len(m.Command) == 0 || m.Command[0] == "" {
		return fmt.Errorf("%w: missing command", ErrManifestInvalid)
	}
	if len(m.Operations) == 0 {
		return fmt.Errorf("%w: no operations declared", ErrManifestInvalid)
	}
	seen := make(map[string]bool, len(m.Operations))
	for i, op := range m.Operations {
		if op.Name == "" {
			return fmt.Errorf("%w: operation %d has no name", ErrManifestInvalid, i)
		}
		if seen[op.Name] {
			return fmt.Errorf("%w: duplicate operation %q", ErrManifestInvalid, op.Name)
		}
		seen[op.Name] = true
		if op.Inputs < 0 || op.Outputs < 0 {
			return fmt.Errorf("%w: operation %q has negative arity", ErrManifestInvalid, op.Name)
		}
		if op.Inputs == 0 || op.Outputs == 0 {
			return fmt.Errorf("%w: operation %q must consume and produce images", ErrManifestInvalid, op.Name)
		}
	}
	return nil
}
