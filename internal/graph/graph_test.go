package graph

import (
	"context"
	"strings"
	"testing"

	"github.com/weftlabs/weft/pkg/api"
)

func noopStep(ctx context.Context, input any) (any, error) { return input, nil }

func step(name string, deps ...string) api.Node {
	n := api.Node{Name: name, Kind: api.NodeStep, Invoke: noopStep}
	n.After = deps
	return n
}

func TestBuild_BatchesFollowDependencies(t *testing.T) {
	def := api.WorkflowDefinition{
		Name: "diamond",
		Nodes: []api.Node{
			step("a"),
			step("b", "a"),
			step("c", "a"),
			step("d", "b", "c"),
		},
	}

	plan, err := Build(def)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	want := [][]string{{"a"}, {"b", "c"}, {"d"}}
	if len(plan.Batches) != len(want) {
		t.Fatalf("expected %d batches, got %v", len(want), plan.Batches)
	}
	for i := range want {
		if len(plan.Batches[i]) != len(want[i]) {
			t.Fatalf("batch %d: expected %v, got %v", i, want[i], plan.Batches[i])
		}
		for j := range want[i] {
			if plan.Batches[i][j] != want[i][j] {
				t.Fatalf("batch %d: expected %v, got %v", i, want[i], plan.Batches[i])
			}
		}
	}
}

func TestBuild_InputRefsCreateEdges(t *testing.T) {
	def := api.WorkflowDefinition{
		Name: "chain",
		Nodes: []api.Node{
			{Name: "first", Kind: api.NodeStep, Invoke: noopStep},
			{Name: "second", Kind: api.NodeStep, Invoke: noopStep, Input: api.Output("first")},
		},
	}

	plan, err := Build(def)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(plan.Batches) != 2 {
		t.Fatalf("expected 2 batches, got %v", plan.Batches)
	}
	if plan.Batches[0][0] != "first" || plan.Batches[1][0] != "second" {
		t.Fatalf("unexpected batch order: %v", plan.Batches)
	}
}

func TestBuild_RejectsCycle(t *testing.T) {
	def := api.WorkflowDefinition{
		Name: "cyclic",
		Nodes: []api.Node{
			step("a", "b"),
			step("b", "a"),
		},
	}

	_, err := Build(def)
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestBuild_RejectsDuplicateNames(t *testing.T) {
	def := api.WorkflowDefinition{
		Name:  "dup",
		Nodes: []api.Node{step("a"), step("a")},
	}

	_, err := Build(def)
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestBuild_RejectsUnknownReference(t *testing.T) {
	def := api.WorkflowDefinition{
		Name:  "dangling",
		Nodes: []api.Node{step("a", "ghost")},
	}

	_, err := Build(def)
	if err == nil || !strings.Contains(err.Error(), "unknown node") {
		t.Fatalf("expected unknown node error, got %v", err)
	}
}

func TestBuild_RejectsEmptyWorkflow(t *testing.T) {
	if _, err := Build(api.WorkflowDefinition{Name: "empty"}); err == nil {
		t.Fatal("expected error for empty workflow")
	}
	if _, err := Build(api.WorkflowDefinition{Nodes: []api.Node{step("a")}}); err == nil {
		t.Fatal("expected error for unnamed workflow")
	}
}

func TestBuild_RejectsMalformedNodes(t *testing.T) {
	cases := []struct {
		name string
		node api.Node
	}{
		{"step without action", api.Node{Name: "s", Kind: api.NodeStep}},
		{"transform without function", api.Node{Name: "t", Kind: api.NodeTransform, Sources: map[string]api.ValueRef{"in": api.Input()}}},
		{"transform without sources", api.Node{Name: "t", Kind: api.NodeTransform, Apply: func(map[string]any) (any, error) { return nil, nil }}},
		{"nested without definition", api.Node{Name: "w", Kind: api.NodeWorkflow}},
		{"unknown kind", api.Node{Name: "x", Kind: "mystery"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			def := api.WorkflowDefinition{Name: "bad", Nodes: []api.Node{tc.node}}
			if _, err := Build(def); err == nil {
				t.Fatalf("expected error for %s", tc.name)
			}
		})
	}
}

func TestBuild_PlansNestedWorkflows(t *testing.T) {
	child := api.WorkflowDefinition{
		Name:  "child",
		Nodes: []api.Node{step("c1"), step("c2", "c1")},
	}
	def := api.WorkflowDefinition{
		Name: "parent",
		Nodes: []api.Node{
			step("before"),
			{Name: "nested", Kind: api.NodeWorkflow, Workflow: &child, After: []string{"before"}},
		},
	}

	plan, err := Build(def)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	childPlan := plan.Children["nested"]
	if childPlan == nil {
		t.Fatal("expected child plan for nested node")
	}
	if len(childPlan.Batches) != 2 {
		t.Fatalf("expected 2 child batches, got %v", childPlan.Batches)
	}
}

func TestBuild_RejectsInvalidNestedWorkflow(t *testing.T) {
	child := api.WorkflowDefinition{
		Name:  "child",
		Nodes: []api.Node{step("x", "y"), step("y", "x")},
	}
	def := api.WorkflowDefinition{
		Name:  "parent",
		Nodes: []api.Node{{Name: "nested", Kind: api.NodeWorkflow, Workflow: &child}},
	}

	_, err := Build(def)
	if err == nil || !strings.Contains(err.Error(), "nested") {
		t.Fatalf("expected nested validation error, got %v", err)
	}
}
