package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gammazero/toposort"
)

// DAG holds the task graph for one workflow run.
// Mutation happens only from the run's scheduler goroutine; the mutex exists
// so read-only observers (TUI, persistence handoff) can take snapshots.
type DAG struct {
	mu         sync.RWMutex
	tasks      map[string]*AgentTask
	dependents map[string][]string // taskID -> tasks that depend on it
	order      []string            // IDs in declaration order
}

// NewDAG creates an empty DAG.
func NewDAG() *DAG {
	return &DAG{
		tasks:      make(map[string]*AgentTask),
		dependents: make(map[string][]string),
	}
}

// AddTask adds a task to the DAG. Returns an error if the ID already exists.
// Declaration order is recorded for the dispatch tie-break.
func (d *DAG) AddTask(task *AgentTask) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.tasks[task.ID]; exists {
		return fmt.Errorf("task with ID %q already exists", task.ID)
	}

	task.Order = len(d.order)
	d.tasks[task.ID] = task
	d.order = append(d.order, task.ID)

	for _, depID := range task.DependsOn {
		d.dependents[depID] = append(d.dependents[depID], task.ID)
	}

	return nil
}

// Validate checks that every dependency references an existing task and that
// the dependency relation is acyclic. Returns a topological order on success.
func (d *DAG) Validate() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for taskID, task := range d.tasks {
		for _, depID := range task.DependsOn {
			if _, exists := d.tasks[depID]; !exists {
				return nil, fmt.Errorf("task %q depends on non-existent task %q", taskID, depID)
			}
		}
	}

	var edges []toposort.Edge
	for taskID, task := range d.tasks {
		if len(task.DependsOn) == 0 {
			// Root task: edge from nil keeps it in the sort result.
			edges = append(edges, toposort.Edge{nil, taskID})
		} else {
			for _, depID := range task.DependsOn {
				edges = append(edges, toposort.Edge{depID, taskID})
			}
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("dependency graph contains cycle: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	if len(order) != len(d.tasks) {
		missing := []string{}
		found := make(map[string]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		for taskID := range d.tasks {
			if !found[taskID] {
				missing = append(missing, taskID)
			}
		}
		return nil, fmt.Errorf("topological sort lost %d tasks: %s", len(missing), strings.Join(missing, ", "))
	}

	return order, nil
}

// Ready returns queued tasks whose dependencies have all succeeded, sorted by
// declaration order so dispatch under a tight parallelism budget is stable.
func (d *DAG) Ready() []*AgentTask {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ready := []*AgentTask{}
	for _, task := range d.tasks {
		if task.Status != TaskQueued {
			continue
		}

		satisfied := true
		for _, depID := range task.DependsOn {
			dep, exists := d.tasks[depID]
			if !exists || !dep.Status.Succeeded() {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, cloneTask(task))
		}
	}

	sort.Slice(ready, func(i, j int) bool { return ready[i].Order < ready[j].Order })
	return ready
}

// MarkDispatched transitions a queued task to dispatched and counts the attempt.
func (d *DAG) MarkDispatched(taskID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, exists := d.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %q not found", taskID)
	}
	if task.Status != TaskQueued {
		return fmt.Errorf("task %q is not queued (status: %s)", taskID, task.Status)
	}

	task.Status = TaskDispatched
	task.Attempts++
	return nil
}

// MarkCompleted records a successful ungated completion.
func (d *DAG) MarkCompleted(taskID string, result *AgentResult) error {
	return d.transition(taskID, TaskCompleted, result, nil)
}

// MarkAccepted records a gated completion whose verdict passed.
func (d *DAG) MarkAccepted(taskID string, result *AgentResult) error {
	return d.transition(taskID, TaskAccepted, result, nil)
}

// MarkErrored records a hard failure after retry budgets are exhausted.
func (d *DAG) MarkErrored(taskID string, taskErr error) error {
	return d.transition(taskID, TaskErrored, nil, taskErr)
}

// Requeue returns a dispatched task to the queued state for a fresh attempt,
// appending remediation notes to its input so the next attempt sees them.
func (d *DAG) Requeue(taskID string, result *AgentResult, notes []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, exists := d.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %q not found", taskID)
	}

	task.Status = TaskQueued
	task.Result = result
	if len(notes) > 0 {
		var b strings.Builder
		b.WriteString(task.Input)
		b.WriteString("\n\nAddress the following review feedback:\n")
		for _, note := range notes {
			b.WriteString("- ")
			b.WriteString(note)
			b.WriteString("\n")
		}
		task.Input = b.String()
	}
	return nil
}

func (d *DAG) transition(taskID string, status TaskStatus, result *AgentResult, taskErr error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, exists := d.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %q not found", taskID)
	}

	task.Status = status
	if result != nil {
		task.Result = result
	}
	task.Err = taskErr
	return nil
}

// Get returns a copy of the task by ID.
func (d *DAG) Get(taskID string) (*AgentTask, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	task, exists := d.tasks[taskID]
	if !exists {
		return nil, false
	}
	return cloneTask(task), true
}

// Tasks returns copies of all tasks in declaration order.
func (d *DAG) Tasks() []*AgentTask {
	d.mu.RLock()
	defer d.mu.RUnlock()

	tasks := make([]*AgentTask, 0, len(d.order))
	for _, id := range d.order {
		tasks = append(tasks, cloneTask(d.tasks[id]))
	}
	return tasks
}

// Len returns the number of tasks in the graph.
func (d *DAG) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.tasks)
}

// Dependents returns the IDs of tasks that depend on the given task.
func (d *DAG) Dependents(taskID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.dependents[taskID]...)
}
