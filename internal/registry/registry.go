// Package registry holds named workflow templates: abstract task graphs of
// capability names, dependency edges, and gate assignments. Templates are
// resolved once at submit time into a concrete task graph.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/agentmux/agentmux/internal/config"
	"github.com/agentmux/agentmux/internal/scheduler"
)

// ErrUnknownWorkflow means the requested workflow name is not registered.
// Rejected synchronously at submit time; no run is created.
var ErrUnknownWorkflow = errors.New("unknown workflow")

// ErrInvalidGraph means a template's dependency relation is cyclic, dangling,
// or references an unknown capability or gate. Rejected at submit time.
var ErrInvalidGraph = errors.New("invalid workflow graph")

// TaskTemplate is one abstract task in a workflow template.
type TaskTemplate struct {
	ID         string
	Capability string
	DependsOn  []string
	Gate       string // Empty = ungated
}

// Template is a named workflow: the graph shape for one class of user task.
type Template struct {
	Name  string
	Tasks []TaskTemplate
}

// Fingerprint returns a stable hash of the template shape. Recorded on each
// run so identical submissions are recognizably replays of the same graph.
func (t Template) Fingerprint() (uint64, error) {
	return hashstructure.Hash(t, hashstructure.FormatV2, nil)
}

// Build substitutes the initial input into the template and returns a
// validated task graph. Structural problems surface as ErrInvalidGraph.
func (t Template) Build(input string) (*scheduler.DAG, error) {
	dag := scheduler.NewDAG()
	for _, tt := range t.Tasks {
		task := &scheduler.AgentTask{
			ID:         tt.ID,
			Capability: tt.Capability,
			Input:      input,
			DependsOn:  append([]string(nil), tt.DependsOn...),
			Gate:       tt.Gate,
			Status:     scheduler.TaskQueued,
		}
		if err := dag.AddTask(task); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidGraph, err)
		}
	}

	if _, err := dag.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGraph, err)
	}
	return dag, nil
}

// Registry maps workflow names to templates.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{templates: make(map[string]Template)}
}

// FromConfig builds a registry from configured workflow definitions.
func FromConfig(workflows map[string]config.WorkflowConfig) *Registry {
	r := NewRegistry()
	for name, wf := range workflows {
		tpl := Template{Name: name}
		for _, tc := range wf.Tasks {
			tpl.Tasks = append(tpl.Tasks, TaskTemplate{
				ID:         tc.ID,
				Capability: tc.Capability,
				DependsOn:  append([]string(nil), tc.DependsOn...),
				Gate:       tc.Gate,
			})
		}
		r.Register(tpl)
	}
	return r
}

// Register adds or replaces a template under its name.
func (r *Registry) Register(t Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.Name] = t
}

// Resolve looks up a template by workflow name.
func (r *Registry) Resolve(name string) (Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[name]
	if !ok {
		return Template{}, fmt.Errorf("%w: %q", ErrUnknownWorkflow, name)
	}
	return t, nil
}

// Names returns all registered workflow names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
