package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/weftlabs/weft/internal/graph"
	"github.com/weftlabs/weft/pkg/api"
)

// registeredWorkflow pairs a frozen definition with its precomputed
// execution plan.
type registeredWorkflow struct {
	def  api.WorkflowDefinition
	plan *graph.Plan
}

// workflowRegistry is the process-wide mapping from workflow name to compiled
// definition. It is populated during startup and read-only thereafter.
type workflowRegistry struct {
	mu     sync.RWMutex
	byName map[string]registeredWorkflow
}

func newWorkflowRegistry() *workflowRegistry {
	return &workflowRegistry{
		byName: make(map[string]registeredWorkflow),
	}
}

// Register plans and stores the definition. Registering a second definition
// under an existing name is rejected.
func (r *workflowRegistry) Register(def api.WorkflowDefinition) error {
	plan, err := graph.Build(def)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[def.Name]; exists {
		return fmt.Errorf("workflow %q already registered", def.Name)
	}

	r.byName[def.Name] = registeredWorkflow{def: def, plan: plan}
	return nil
}

func (r *workflowRegistry) Get(name string) (registeredWorkflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.byName[name]
	if !ok {
		return registeredWorkflow{}, fmt.Errorf("unknown workflow: %s", name)
	}
	return reg, nil
}

// List returns all registered workflows sorted by name.
func (r *workflowRegistry) List() []registeredWorkflow {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make([]registeredWorkflow, 0, len(names))
	for _, name := range names {
		result = append(result, r.byName[name])
	}
	return result
}
