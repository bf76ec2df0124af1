package registry

import (
	"errors"
	"testing"

	"github.com/agentmux/agentmux/internal/config"
	"github.com/agentmux/agentmux/internal/scheduler"
)

func featureTemplate() Template {
	return Template{
		Name: "full_stack_feature",
		Tasks: []TaskTemplate{
			{ID: "plan", Capability: "planner"},
			{ID: "code", Capability: "coder", DependsOn: []string{"plan"}, Gate: "code_review"},
			{ID: "review", Capability: "reviewer", DependsOn: []string{"code"}},
		},
	}
}

// TestResolveUnknownWorkflow verifies the sentinel error.
func TestResolveUnknownWorkflow(t *testing.T) {
	r := NewRegistry()
	r.Register(featureTemplate())

	if _, err := r.Resolve("full_stack_feature"); err != nil {
		t.Fatalf("Resolve known: %v", err)
	}

	_, err := r.Resolve("nope")
	if !errors.Is(err, ErrUnknownWorkflow) {
		t.Fatalf("expected ErrUnknownWorkflow, got %v", err)
	}
}

// TestBuild verifies template substitution into a concrete graph.
func TestBuild(t *testing.T) {
	dag, err := featureTemplate().Build("add a login page")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if dag.Len() != 3 {
		t.Fatalf("expected 3 tasks, got %d", dag.Len())
	}

	code, ok := dag.Get("code")
	if !ok {
		t.Fatal("code task missing")
	}
	if code.Input != "add a login page" {
		t.Errorf("input not substituted: %q", code.Input)
	}
	if code.Gate != "code_review" {
		t.Errorf("gate assignment lost: %q", code.Gate)
	}
	if code.Status != scheduler.TaskQueued {
		t.Errorf("new tasks should be queued, got %s", code.Status)
	}
}

// TestBuildInvalidGraph verifies structural problems surface as ErrInvalidGraph.
func TestBuildInvalidGraph(t *testing.T) {
	tests := []struct {
		name  string
		tasks []TaskTemplate
	}{
		{
			name: "cycle",
			tasks: []TaskTemplate{
				{ID: "a", Capability: "coder", DependsOn: []string{"b"}},
				{ID: "b", Capability: "coder", DependsOn: []string{"a"}},
			},
		},
		{
			name: "dangling dependency",
			tasks: []TaskTemplate{
				{ID: "a", Capability: "coder", DependsOn: []string{"ghost"}},
			},
		},
		{
			name: "duplicate id",
			tasks: []TaskTemplate{
				{ID: "a", Capability: "coder"},
				{ID: "a", Capability: "reviewer"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Template{Name: "bad", Tasks: tt.tasks}.Build("input")
			if !errors.Is(err, ErrInvalidGraph) {
				t.Fatalf("expected ErrInvalidGraph, got %v", err)
			}
		})
	}
}

// TestFromConfig verifies config-driven registration.
func TestFromConfig(t *testing.T) {
	r := FromConfig(config.DefaultConfig().Workflows)

	tpl, err := r.Resolve("full_stack_feature")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(tpl.Tasks) != 3 {
		t.Errorf("expected 3 tasks in built-in workflow, got %d", len(tpl.Tasks))
	}

	names := r.Names()
	if len(names) < 2 {
		t.Errorf("expected built-in workflows registered, got %v", names)
	}
}

// TestFingerprintStable verifies identical templates hash identically and
// different shapes differ.
func TestFingerprintStable(t *testing.T) {
	a, err := featureTemplate().Fingerprint()
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	b, _ := featureTemplate().Fingerprint()
	if a != b {
		t.Error("identical templates must fingerprint identically")
	}

	changed := featureTemplate()
	changed.Tasks[1].Gate = ""
	c, _ := changed.Fingerprint()
	if a == c {
		t.Error("changed gate assignment should change the fingerprint")
	}
}
