// Package graph validates frozen workflow definitions and computes their
// execution plans: the batches of nodes the orchestrator runs concurrently,
// in dependency order.
package graph

import (
	"fmt"
	"sort"

	"github.com/weftlabs/weft/pkg/api"
)

// Plan is the precomputed execution order for one workflow definition.
// Plans are built once at registration time and shared read-only between
// concurrent transactions.
type Plan struct {
	// Batches holds node names grouped into dependency layers. Every node in
	// batch i depends only on nodes in batches < i; members of the same
	// batch have no ordering relationship and run concurrently.
	Batches [][]string

	// Children maps nested workflow node names to the child plan.
	Children map[string]*Plan
}

// Build validates def and computes its Plan. It rejects empty definitions,
// duplicate node names, references to unknown nodes, malformed nodes, and
// cyclic dependencies. These are definition-time errors: they should surface
// at process startup, never during a run.
func Build(def api.WorkflowDefinition) (*Plan, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("workflow name is required")
	}
	if len(def.Nodes) == 0 {
		return nil, fmt.Errorf("workflow %q must have at least one node", def.Name)
	}

	names := make(map[string]bool, len(def.Nodes))
	for i := range def.Nodes {
		n := &def.Nodes[i]
		if n.Name == "" {
			return nil, fmt.Errorf("workflow %q: node %d has no name", def.Name, i)
		}
		if names[n.Name] {
			return nil, fmt.Errorf("workflow %q: duplicate node name %q", def.Name, n.Name)
		}
		names[n.Name] = true
		if err := checkNode(def.Name, n); err != nil {
			return nil, err
		}
	}

	for i := range def.Nodes {
		n := &def.Nodes[i]
		for _, dep := range n.Dependencies() {
			if !names[dep] {
				return nil, fmt.Errorf("workflow %q: node %q references unknown node %q", def.Name, n.Name, dep)
			}
			if dep == n.Name {
				return nil, fmt.Errorf("workflow %q: node %q depends on itself", def.Name, n.Name)
			}
		}
	}

	if !def.OutputFrom.IsInput() && !names[def.OutputFrom.Node] {
		return nil, fmt.Errorf("workflow %q: output references unknown node %q", def.Name, def.OutputFrom.Node)
	}

	batches, err := layer(def)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Batches: batches}

	for i := range def.Nodes {
		n := &def.Nodes[i]
		if n.Kind != api.NodeWorkflow {
			continue
		}
		child, err := Build(*n.Workflow)
		if err != nil {
			return nil, fmt.Errorf("workflow %q: nested node %q: %w", def.Name, n.Name, err)
		}
		if plan.Children == nil {
			plan.Children = make(map[string]*Plan)
		}
		plan.Children[n.Name] = child
	}

	return plan, nil
}

func checkNode(workflow string, n *api.Node) error {
	switch n.Kind {
	case api.NodeStep:
		if n.Invoke == nil {
			return fmt.Errorf("workflow %q: step %q has nil action", workflow, n.Name)
		}
		if n.NoCompensation && n.Compensate != nil {
			return fmt.Errorf("workflow %q: step %q declares both NoCompensation and a compensation", workflow, n.Name)
		}
	case api.NodeTransform:
		if n.Apply == nil {
			return fmt.Errorf("workflow %q: transform %q has nil function", workflow, n.Name)
		}
		if len(n.Sources) == 0 {
			return fmt.Errorf("workflow %q: transform %q declares no sources", workflow, n.Name)
		}
	case api.NodeWorkflow:
		if n.Workflow == nil {
			return fmt.Errorf("workflow %q: nested node %q has nil definition", workflow, n.Name)
		}
	default:
		return fmt.Errorf("workflow %q: node %q has unknown kind %q", workflow, n.Name, n.Kind)
	}
	return nil
}

// layer runs Kahn's algorithm over the dependency edges, emitting one batch
// per zero-in-degree wave. Leftover nodes mean a cycle.
func layer(def api.WorkflowDefinition) ([][]string, error) {
	inDegree := make(map[string]int, len(def.Nodes))
	dependents := make(map[string][]string, len(def.Nodes))

	for i := range def.Nodes {
		n := &def.Nodes[i]
		deps := n.Dependencies()
		inDegree[n.Name] = len(deps)
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], n.Name)
		}
	}

	var batches [][]string
	remaining := len(def.Nodes)

	// Seed with declaration order so batches are deterministic.
	ready := make([]string, 0, len(def.Nodes))
	for i := range def.Nodes {
		if inDegree[def.Nodes[i].Name] == 0 {
			ready = append(ready, def.Nodes[i].Name)
		}
	}

	for len(ready) > 0 {
		batch := ready
		sort.Strings(batch)
		batches = append(batches, batch)
		remaining -= len(batch)

		var next []string
		for _, name := range batch {
			for _, dep := range dependents[name] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		ready = next
	}

	if remaining > 0 {
		return nil, fmt.Errorf("workflow %q: dependency cycle detected", def.Name)
	}

	return batches, nil
}
