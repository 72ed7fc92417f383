package weft

import (
	"fmt"
	"time"

	"github.com/weftlabs/weft/internal/graph"
	"github.com/weftlabs/weft/pkg/api"
)

// Sources names the upstream values a transform consumes.
type Sources map[string]api.ValueRef

// StepOption configures a step or nested workflow node at composition time.
// Options carry only declared configuration, never runtime values: the graph
// is frozen before any input exists.
type StepOption func(*api.Node)

// Compensate attaches the inverse action undoing the step's side effect
// during rollback. The function receives the CompensationInput snapshot
// captured when the forward action succeeded.
func Compensate(fn CompensateFunc) StepOption {
	return func(n *api.Node) { n.Compensate = fn }
}

// NoCompensation marks the step as having nothing to undo (read-only or
// logging steps); rollback skips it entirely.
func NoCompensation() StepOption {
	return func(n *api.Node) { n.NoCompensation = true }
}

// WithRetry sets the forward action's retry policy.
func WithRetry(p RetryPolicy) StepOption {
	return func(n *api.Node) {
		// Copy so callers can mutate their policy after the call without
		// affecting the frozen definition.
		r := p
		n.Retry = &r
	}
}

// WithCompensateRetry sets the retry policy applied to the compensation
// itself during rollback.
func WithCompensateRetry(p RetryPolicy) StepOption {
	return func(n *api.Node) {
		r := p
		n.CompensateRetry = &r
	}
}

// WithTimeout bounds each forward invocation of the step.
func WithTimeout(d time.Duration) StepOption {
	return func(n *api.Node) { n.Timeout = d }
}

// When guards the step: the condition is evaluated against the resolved
// input just before invocation, and a false result marks the step SKIPPED.
func When(cond ConditionFunc) StepOption {
	return func(n *api.Node) { n.Condition = cond }
}

// WithInput declares where the step's input comes from: the workflow input
// (the default) or another node's output.
func WithInput(ref api.ValueRef) StepOption {
	return func(n *api.Node) { n.Input = ref }
}

// After adds ordering-only dependencies on the named nodes, without
// consuming their outputs.
func After(names ...string) StepOption {
	return func(n *api.Node) { n.After = append(n.After, names...) }
}

// WorkflowBuilder is the composer: a fluent API recording steps, transforms,
// and nested workflows into a static graph.
//
//	transfer := weft.NewWorkflow("transfer").
//	    Step("debit", debit, weft.Compensate(refundDebit)).
//	    Step("credit", credit,
//	        weft.WithInput(weft.Output("debit")),
//	        weft.Compensate(reverseCredit)).
//	    MustBuild()
//
// Composition happens exactly once, at definition time; step functions are
// never called here, and no runtime values are available. Build freezes the
// graph, validating names, references, and acyclicity.
type WorkflowBuilder struct {
	def api.WorkflowDefinition
}

// NewWorkflow creates a new workflow builder with the given name.
func NewWorkflow(name string) *WorkflowBuilder {
	return &WorkflowBuilder{
		def: api.WorkflowDefinition{
			Name:  name,
			Nodes: make([]api.Node, 0),
		},
	}
}

// Name returns the workflow name.
func (b *WorkflowBuilder) Name() string {
	return b.def.Name
}

// Description attaches a human-readable description, surfaced through
// Engine introspection.
func (b *WorkflowBuilder) Description(desc string) *WorkflowBuilder {
	b.def.Description = desc
	return b
}

// InputSchema attaches a validator checked against the runtime input before
// any step executes.
func (b *WorkflowBuilder) InputSchema(s Schema) *WorkflowBuilder {
	b.def.InputSchema = s
	return b
}

// OutputSchema attaches a validator checked against the workflow output
// after the last step completes.
func (b *WorkflowBuilder) OutputSchema(s Schema) *WorkflowBuilder {
	b.def.OutputSchema = s
	return b
}

// OutputFrom selects which node's output becomes the workflow output.
// By default it is the output of the last declared node.
func (b *WorkflowBuilder) OutputFrom(ref api.ValueRef) *WorkflowBuilder {
	b.def.OutputFrom = ref
	return b
}

// Step appends a step node. Calling this does not execute fn; it records a
// vertex in the graph. With no WithInput option the step consumes the
// workflow input.
func (b *WorkflowBuilder) Step(name string, fn StepFunc, opts ...StepOption) *WorkflowBuilder {
	if name == "" {
		panic("weft: step name must not be empty")
	}
	if fn == nil {
		panic(fmt.Sprintf("weft: step %q has nil function", name))
	}

	node := api.Node{
		Name:   name,
		Kind:   api.NodeStep,
		Invoke: fn,
	}
	for _, opt := range opts {
		opt(&node)
	}

	b.def.Nodes = append(b.def.Nodes, node)
	return b
}

// Transform appends a pure derivation node computing a value from the named
// upstream outputs. Transforms have no side effects and are never retried or
// compensated.
func (b *WorkflowBuilder) Transform(name string, sources Sources, fn TransformFunc) *WorkflowBuilder {
	if name == "" {
		panic("weft: transform name must not be empty")
	}
	if fn == nil {
		panic(fmt.Sprintf("weft: transform %q has nil function", name))
	}

	b.def.Nodes = append(b.def.Nodes, api.Node{
		Name:    name,
		Kind:    api.NodeTransform,
		Sources: map[string]api.ValueRef(sources),
		Apply:   fn,
	})
	return b
}

// SubWorkflow appends a nested workflow invocation, executed as a single
// step of the parent. If the parent rolls back, the nested workflow's own
// rollback runs against its completed steps. Step retry options do not apply
// here; the child's steps carry their own policies.
func (b *WorkflowBuilder) SubWorkflow(name string, child WorkflowDefinition, opts ...StepOption) *WorkflowBuilder {
	if name == "" {
		panic("weft: sub-workflow name must not be empty")
	}

	node := api.Node{
		Name:     name,
		Kind:     api.NodeWorkflow,
		Workflow: &child,
	}
	for _, opt := range opts {
		opt(&node)
	}

	b.def.Nodes = append(b.def.Nodes, node)
	return b
}

// Build freezes the composed graph into an immutable WorkflowDefinition.
// It fails on duplicate names, unknown references, malformed nodes, and
// dependency cycles; these are definition-time errors that should surface
// at process startup.
func (b *WorkflowBuilder) Build() (WorkflowDefinition, error) {
	if _, err := graph.Build(b.def); err != nil {
		return WorkflowDefinition{}, err
	}
	return b.def, nil
}

// MustBuild is like Build but panics on error.
// Useful for initialization in main().
func (b *WorkflowBuilder) MustBuild() WorkflowDefinition {
	def, err := b.Build()
	if err != nil {
		panic(err)
	}
	return def
}

// Register builds the workflow and registers it with the given engine.
func (b *WorkflowBuilder) Register(eng Engine) error {
	def, err := b.Build()
	if err != nil {
		return err
	}
	return eng.RegisterWorkflow(def)
}

// MustRegister is like Register but panics on error.
func (b *WorkflowBuilder) MustRegister(eng Engine) {
	if err := b.Register(eng); err != nil {
		panic(err)
	}
}
