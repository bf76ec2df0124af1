package scheduler

import (
	"errors"
	"strings"
	"testing"
)

var errTest = errors.New("capability blew up")

// TestDAGValidate tests graph validation with various structures.
func TestDAGValidate(t *testing.T) {
	tests := []struct {
		name        string
		setup       func() *DAG
		wantErr     bool
		errContains string
	}{
		{
			name: "valid linear chain",
			setup: func() *DAG {
				dag := NewDAG()
				dag.AddTask(&AgentTask{ID: "plan"})
				dag.AddTask(&AgentTask{ID: "code", DependsOn: []string{"plan"}})
				dag.AddTask(&AgentTask{ID: "review", DependsOn: []string{"code"}})
				return dag
			},
			wantErr: false,
		},
		{
			name: "valid diamond",
			setup: func() *DAG {
				dag := NewDAG()
				dag.AddTask(&AgentTask{ID: "plan"})
				dag.AddTask(&AgentTask{ID: "backend", DependsOn: []string{"plan"}})
				dag.AddTask(&AgentTask{ID: "frontend", DependsOn: []string{"plan"}})
				dag.AddTask(&AgentTask{ID: "review", DependsOn: []string{"backend", "frontend"}})
				return dag
			},
			wantErr: false,
		},
		{
			name: "single task",
			setup: func() *DAG {
				dag := NewDAG()
				dag.AddTask(&AgentTask{ID: "fix"})
				return dag
			},
			wantErr: false,
		},
		{
			name: "direct cycle",
			setup: func() *DAG {
				dag := NewDAG()
				dag.AddTask(&AgentTask{ID: "a", DependsOn: []string{"b"}})
				dag.AddTask(&AgentTask{ID: "b", DependsOn: []string{"a"}})
				return dag
			},
			wantErr:     true,
			errContains: "cycle",
		},
		{
			name: "transitive cycle",
			setup: func() *DAG {
				dag := NewDAG()
				dag.AddTask(&AgentTask{ID: "a", DependsOn: []string{"b"}})
				dag.AddTask(&AgentTask{ID: "b", DependsOn: []string{"c"}})
				dag.AddTask(&AgentTask{ID: "c", DependsOn: []string{"a"}})
				return dag
			},
			wantErr:     true,
			errContains: "cycle",
		},
		{
			name: "self-loop",
			setup: func() *DAG {
				dag := NewDAG()
				dag.AddTask(&AgentTask{ID: "a", DependsOn: []string{"a"}})
				return dag
			},
			wantErr:     true,
			errContains: "cycle",
		},
		{
			name: "dangling dependency",
			setup: func() *DAG {
				dag := NewDAG()
				dag.AddTask(&AgentTask{ID: "a", DependsOn: []string{"ghost"}})
				return dag
			},
			wantErr:     true,
			errContains: "ghost",
		},
		{
			name: "disconnected components",
			setup: func() *DAG {
				dag := NewDAG()
				dag.AddTask(&AgentTask{ID: "a"})
				dag.AddTask(&AgentTask{ID: "b", DependsOn: []string{"a"}})
				dag.AddTask(&AgentTask{ID: "c"})
				dag.AddTask(&AgentTask{ID: "d", DependsOn: []string{"c"}})
				return dag
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dag := tt.setup()
			order, err := dag.Validate()

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("error %q does not contain %q", err.Error(), tt.errContains)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(order) != dag.Len() {
				t.Errorf("expected %d tasks in order, got %d", dag.Len(), len(order))
			}
		})
	}
}

// TestDAGDuplicateID verifies that adding the same task ID twice fails.
func TestDAGDuplicateID(t *testing.T) {
	dag := NewDAG()
	if err := dag.AddTask(&AgentTask{ID: "a"}); err != nil {
		t.Fatalf("first add failed: %v", err)
	}
	if err := dag.AddTask(&AgentTask{ID: "a"}); err == nil {
		t.Fatal("expected error when adding duplicate task ID")
	}
}

// TestDAGReadyOrdering verifies ready tasks come back in declaration order.
func TestDAGReadyOrdering(t *testing.T) {
	dag := NewDAG()
	dag.AddTask(&AgentTask{ID: "zeta"})
	dag.AddTask(&AgentTask{ID: "alpha"})
	dag.AddTask(&AgentTask{ID: "mid"})

	ready := dag.Ready()
	if len(ready) != 3 {
		t.Fatalf("expected 3 ready tasks, got %d", len(ready))
	}
	got := []string{ready[0].ID, ready[1].ID, ready[2].ID}
	want := []string{"zeta", "alpha", "mid"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

// TestDAGReadyDependencies verifies dependents unlock only after success.
func TestDAGReadyDependencies(t *testing.T) {
	dag := NewDAG()
	dag.AddTask(&AgentTask{ID: "plan"})
	dag.AddTask(&AgentTask{ID: "code", DependsOn: []string{"plan"}, Gate: "code_review"})
	dag.AddTask(&AgentTask{ID: "review", DependsOn: []string{"code"}})

	ready := dag.Ready()
	if len(ready) != 1 || ready[0].ID != "plan" {
		t.Fatalf("expected only plan ready, got %v", ready)
	}

	if err := dag.MarkDispatched("plan"); err != nil {
		t.Fatalf("MarkDispatched: %v", err)
	}
	if len(dag.Ready()) != 0 {
		t.Error("no tasks should be ready while plan is in flight")
	}

	dag.MarkCompleted("plan", &AgentResult{TaskID: "plan"})
	ready = dag.Ready()
	if len(ready) != 1 || ready[0].ID != "code" {
		t.Fatalf("expected code ready after plan completed, got %v", ready)
	}

	// A gated task unlocks dependents on accept, not on completion.
	dag.MarkDispatched("code")
	dag.MarkAccepted("code", &AgentResult{TaskID: "code"})
	ready = dag.Ready()
	if len(ready) != 1 || ready[0].ID != "review" {
		t.Fatalf("expected review ready after code accepted, got %v", ready)
	}
}

// TestDAGErroredBlocksDependents verifies a hard-failed task never unlocks dependents.
func TestDAGErroredBlocksDependents(t *testing.T) {
	dag := NewDAG()
	dag.AddTask(&AgentTask{ID: "code"})
	dag.AddTask(&AgentTask{ID: "review", DependsOn: []string{"code"}})

	dag.MarkDispatched("code")
	dag.MarkErrored("code", errTest)

	if len(dag.Ready()) != 0 {
		t.Error("dependents of an errored task must not become ready")
	}
}

// TestDAGRequeue verifies requeue resets state, counts attempts, and merges notes.
func TestDAGRequeue(t *testing.T) {
	dag := NewDAG()
	dag.AddTask(&AgentTask{ID: "code", Input: "implement the endpoint"})

	dag.MarkDispatched("code")
	err := dag.Requeue("code", &AgentResult{TaskID: "code"}, []string{"missing error handling", "no tests"})
	if err != nil {
		t.Fatalf("Requeue: %v", err)
	}

	task, ok := dag.Get("code")
	if !ok {
		t.Fatal("task not found")
	}
	if task.Status != TaskQueued {
		t.Errorf("expected queued, got %s", task.Status)
	}
	if task.Attempts != 1 {
		t.Errorf("expected 1 attempt recorded, got %d", task.Attempts)
	}
	if !strings.Contains(task.Input, "missing error handling") {
		t.Errorf("remediation notes not merged into input: %q", task.Input)
	}
	if !strings.Contains(task.Input, "implement the endpoint") {
		t.Errorf("original input lost on requeue: %q", task.Input)
	}

	dag.MarkDispatched("code")
	task, _ = dag.Get("code")
	if task.Attempts != 2 {
		t.Errorf("expected 2 attempts after second dispatch, got %d", task.Attempts)
	}
}

// TestDAGDependents verifies reverse-edge lookups and that the returned slice
// is a copy.
func TestDAGDependents(t *testing.T) {
	dag := NewDAG()
	dag.AddTask(&AgentTask{ID: "plan"})
	dag.AddTask(&AgentTask{ID: "backend", DependsOn: []string{"plan"}})
	dag.AddTask(&AgentTask{ID: "frontend", DependsOn: []string{"plan"}})
	dag.AddTask(&AgentTask{ID: "review", DependsOn: []string{"backend", "frontend"}})

	deps := dag.Dependents("plan")
	if len(deps) != 2 || deps[0] != "backend" || deps[1] != "frontend" {
		t.Errorf("Dependents(plan) = %v, want [backend frontend]", deps)
	}
	if got := dag.Dependents("review"); len(got) != 0 {
		t.Errorf("Dependents(review) = %v, want none", got)
	}

	deps[0] = "mutated"
	if dag.Dependents("plan")[0] != "backend" {
		t.Error("Dependents must return a copy")
	}
}

// TestDAGGetReturnsCopy verifies mutations on returned tasks don't leak back.
func TestDAGGetReturnsCopy(t *testing.T) {
	dag := NewDAG()
	dag.AddTask(&AgentTask{ID: "a", Input: "original"})

	task, _ := dag.Get("a")
	task.Input = "mutated"
	task.Status = TaskErrored

	fresh, _ := dag.Get("a")
	if fresh.Input != "original" || fresh.Status != TaskQueued {
		t.Error("Get must return a defensive copy")
	}
}
