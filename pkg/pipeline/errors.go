package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNodeNotFound  = errors.New("node not found")
	ErrDuplicateNode = errors.New("duplicate node id")
	ErrInvalidPort   = errors.New("invalid port")
	ErrDuplicateEdge = errors.New("duplicate edge")
	ErrPortInUse     = errors.New("input port already connected")
	ErrSelfLoop      = errors.New("edge connects a node to itself")
	ErrNotScriptable = errors.New("graph cannot be written as a script")
)

// UnknownOperationError is returned when a node or script names an
// operation the registry does not know.
type UnknownOperationError struct {
	Name   string
	NodeID NodeID // empty when no node is involved
}

func (e *UnknownOperationError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("node %q: unknown operation %q", e.NodeID, e.Name)
	}
	return fmt.Sprintf("unknown operation %q", e.Name)
}

// MalformedGraphError describes a structural problem that prevents routing,
// such as an output port with no destination.
type MalformedGraphError struct {
	NodeID  NodeID
	Message string
}

func (e *MalformedGraphError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("malformed graph: node %q: %s", e.NodeID, e.Message)
	}
	return "malformed graph: " + e.Message
}

func malformedf(id NodeID, format string, args ...any) *MalformedGraphError {
	return &MalformedGraphError{NodeID: id, Message: fmt.Sprintf(format, args...)}
}

// MissingInputImageError is returned when an evaluation is requested without
// an image for an input node.
type MissingInputImageError struct {
	NodeID NodeID
}

func (e *MissingInputImageError) Error() string {
	return fmt.Sprintf("no image bound to input node %q", e.NodeID)
}

// UnsatisfiableGraphError is returned when some nodes could never become
// ready: an input port without an incoming edge, or a cycle.
type UnsatisfiableGraphError struct {
	NodeIDs []NodeID
	Reason  string
}

func (e *UnsatisfiableGraphError) Error() string {
	ids := make([]string, len(e.NodeIDs))
	for i, id := range e.NodeIDs {
		ids[i] = fmt.Sprintf("%q", id)
	}
	return fmt.Sprintf("unsatisfiable graph: %s (nodes %s)", e.Reason, strings.Join(ids, ", "))
}

// OperationError wraps a failure raised while applying a node's operation.
type OperationError struct {
	NodeID NodeID
	Op     string
	Cause  error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("node %q (op=%q): %v", e.NodeID, e.Op, e.Cause)
}

func (e *OperationError) Unwrap() error { return e.Cause }

// ValidationError collects every problem found by Validate.
type ValidationError struct {
	Errs []error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("graph validation failed:\n  %s", strings.Join(msgs, "\n  "))
}

func (e *ValidationError) Unwrap() []error { return e.Errs }
