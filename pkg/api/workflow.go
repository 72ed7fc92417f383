package api

import (
	"context"
	"time"
)

// StepFunc is the forward action of a step. It receives the step's resolved
// input and returns the step's output.
//
// Forward actions must be idempotent: the orchestrator retries them per the
// step's RetryPolicy and may re-invoke them when a persisted transaction is
// resumed after a crash. Authors should use natural keys or caller-supplied
// identifiers so a repeated invocation does not duplicate side effects.
type StepFunc func(ctx context.Context, input any) (any, error)

// CompensateFunc undoes the side effect of a previously completed forward
// action during rollback. It receives the CompensationInput snapshot captured
// at forward-success time, so it can run correctly even if downstream steps
// have mutated shared state since.
//
// Like forward actions, compensations must tolerate being invoked more than
// once: the rollback itself may be retried.
type CompensateFunc func(ctx context.Context, input CompensationInput) error

// TransformFunc is a pure, synchronous derivation over named upstream values.
// Transforms are never retried or compensated; an error here is treated as a
// programming error and fails the transaction.
type TransformFunc func(values map[string]any) (any, error)

// ConditionFunc guards a step. It is evaluated against the step's resolved
// input just before invocation; returning false marks the step SKIPPED.
type ConditionFunc func(input any) bool

// NodeKind discriminates the node types of a workflow graph.
type NodeKind string

const (
	NodeStep      NodeKind = "step"
	NodeTransform NodeKind = "transform"
	NodeWorkflow  NodeKind = "workflow"
)

// ValueRef is a declared reference to a runtime value: either the workflow
// input or the output of another node. References are resolved by the
// orchestrator at execution time; at composition time they carry no value.
type ValueRef struct {
	// Node is the name of the producing node. Empty means the workflow input.
	Node string
}

// Input references the workflow's runtime input.
func Input() ValueRef { return ValueRef{} }

// Output references the output of the named node.
func Output(node string) ValueRef { return ValueRef{Node: node} }

// IsInput reports whether the reference points at the workflow input.
func (r ValueRef) IsInput() bool { return r.Node == "" }

// RetryPolicy controls how a step action is retried when it returns an error.
// MaxAttempts includes the first attempt. For example:
//
//	MaxAttempts = 1 => no retries (just the initial call)
//	MaxAttempts = 3 => initial call + up to 2 retries
type RetryPolicy struct {
	MaxAttempts int

	// InitialBackoff is the delay before the first retry. If zero, retries
	// happen immediately.
	InitialBackoff time.Duration

	// BackoffMultiplier grows the delay each attempt. Values <= 0 default
	// to 2.0 (standard exponential backoff).
	BackoffMultiplier float64

	// MaxBackoff caps the per-attempt delay. Zero means no cap.
	MaxBackoff time.Duration
}

// Node is one vertex of a workflow graph: a step, a transform, or a nested
// workflow invocation. Exactly one of the kind-specific field groups is set,
// according to Kind.
type Node struct {
	Name string
	Kind NodeKind

	// Step fields (Kind == NodeStep).
	Invoke     StepFunc
	Compensate CompensateFunc
	// NoCompensation marks the step as having no side effect to undo
	// (read-only or logging steps); rollback skips it entirely.
	NoCompensation bool
	Retry          *RetryPolicy
	// CompensateRetry controls retries of the compensation itself during
	// rollback. Nil means a single attempt.
	CompensateRetry *RetryPolicy
	Timeout         time.Duration
	Condition       ConditionFunc

	// Input declares where the step (or nested workflow) input comes from.
	// The zero value references the workflow input.
	Input ValueRef

	// After adds ordering-only dependencies: the node will not start before
	// the named nodes complete, without consuming their outputs.
	After []string

	// Transform fields (Kind == NodeTransform).
	Sources map[string]ValueRef
	Apply   TransformFunc

	// Workflow fields (Kind == NodeWorkflow). The nested definition runs as
	// a single step of the parent; if the parent rolls back, the nested
	// workflow's own rollback is applied to its completed steps.
	Workflow *WorkflowDefinition
}

// Dependencies returns the names of all nodes this node depends on,
// deduplicated. Input references to the workflow input contribute nothing.
func (n *Node) Dependencies() []string {
	seen := make(map[string]bool)
	var deps []string
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		deps = append(deps, name)
	}
	add(n.Input.Node)
	for _, ref := range n.Sources {
		add(ref.Node)
	}
	for _, name := range n.After {
		add(name)
	}
	return deps
}

// WorkflowDefinition is the frozen, immutable graph produced by the composer.
// Definitions are created once at process start, registered with an Engine by
// name, and shared read-only between concurrent transactions.
type WorkflowDefinition struct {
	Name        string
	Description string

	Nodes []Node

	// InputSchema and OutputSchema, when non-nil, are validated against the
	// actual runtime input and output at the execution boundaries.
	InputSchema  Schema
	OutputSchema Schema

	// OutputFrom selects which node's output becomes the workflow output.
	// The zero value means the output of the last declared node.
	OutputFrom ValueRef
}

// Node returns the named node, or nil.
func (d *WorkflowDefinition) Node(name string) *Node {
	for i := range d.Nodes {
		if d.Nodes[i].Name == name {
			return &d.Nodes[i]
		}
	}
	return nil
}
