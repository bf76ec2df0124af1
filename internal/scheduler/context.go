package scheduler

import (
	"fmt"
	"sort"
)

// WorkflowContext is the shared state accumulated across all tasks in one
// workflow run: latest results, attempt counts, and a named artifact store.
//
// Ownership: exactly one run's scheduler goroutine writes to it. Concurrent
// capability invocations never see the context itself, only read-only
// snapshots, and report deltas back through the scheduler.
type WorkflowContext struct {
	runID     string
	version   int
	results   map[string]*AgentResult
	attempts  map[string]int
	artifacts map[string]string
	sealed    bool
}

// NewWorkflowContext creates an empty context owned by the given run.
func NewWorkflowContext(runID string) *WorkflowContext {
	return &WorkflowContext{
		runID:     runID,
		results:   make(map[string]*AgentResult),
		artifacts: make(map[string]string),
		attempts:  make(map[string]int),
	}
}

// RunID returns the owning run's ID.
func (c *WorkflowContext) RunID() string { return c.runID }

// Version returns a counter incremented on every merge. Snapshots carry the
// version they were taken at.
func (c *WorkflowContext) Version() int { return c.version }

// RecordAttempt bumps the attempt count for a task.
func (c *WorkflowContext) RecordAttempt(taskID string) error {
	if c.sealed {
		return fmt.Errorf("context for run %s is sealed", c.runID)
	}
	c.attempts[taskID]++
	c.version++
	return nil
}

// RecordResult stores the latest result for a task without publishing its
// artifacts. Used for rejected attempts so the remediation loop can still
// inspect what the agent produced.
func (c *WorkflowContext) RecordResult(taskID string, result *AgentResult) error {
	if c.sealed {
		return fmt.Errorf("context for run %s is sealed", c.runID)
	}
	c.results[taskID] = cloneResult(result)
	c.version++
	return nil
}

// MergeResult stores a result and publishes its artifacts into the store.
// Artifact names overwrite previous values; there is no delete.
func (c *WorkflowContext) MergeResult(taskID string, result *AgentResult) error {
	if c.sealed {
		return fmt.Errorf("context for run %s is sealed", c.runID)
	}
	c.results[taskID] = cloneResult(result)
	for name, value := range result.Artifacts {
		c.artifacts[name] = value
	}
	c.version++
	return nil
}

// Seal makes the context read-only. Called once when the run goes terminal;
// any later write returns an error.
func (c *WorkflowContext) Seal() { c.sealed = true }

// Sealed reports whether the context has been made read-only.
func (c *WorkflowContext) Sealed() bool { return c.sealed }

// Snapshot returns an immutable copy of the current state, safe to hand to
// concurrently running capability invocations and gate evaluations.
func (c *WorkflowContext) Snapshot() *ContextSnapshot {
	snap := &ContextSnapshot{
		runID:     c.runID,
		version:   c.version,
		results:   make(map[string]*AgentResult, len(c.results)),
		attempts:  make(map[string]int, len(c.attempts)),
		artifacts: make(map[string]string, len(c.artifacts)),
	}
	for id, res := range c.results {
		snap.results[id] = cloneResult(res)
	}
	for id, n := range c.attempts {
		snap.attempts[id] = n
	}
	for name, value := range c.artifacts {
		snap.artifacts[name] = value
	}
	return snap
}

// Artifacts returns a copy of the artifact store.
func (c *WorkflowContext) Artifacts() map[string]string {
	out := make(map[string]string, len(c.artifacts))
	for name, value := range c.artifacts {
		out[name] = value
	}
	return out
}

// Attempts returns the attempt count for a task.
func (c *WorkflowContext) Attempts(taskID string) int { return c.attempts[taskID] }

// ContextSnapshot is a read-only view of a WorkflowContext at one version.
type ContextSnapshot struct {
	runID     string
	version   int
	results   map[string]*AgentResult
	attempts  map[string]int
	artifacts map[string]string
}

// RunID returns the owning run's ID.
func (s *ContextSnapshot) RunID() string { return s.runID }

// Version returns the context version the snapshot was taken at.
func (s *ContextSnapshot) Version() int { return s.version }

// Result returns the latest result for a task, or nil.
func (s *ContextSnapshot) Result(taskID string) *AgentResult {
	return cloneResult(s.results[taskID])
}

// Attempts returns the attempt count recorded for a task.
func (s *ContextSnapshot) Attempts(taskID string) int { return s.attempts[taskID] }

// Artifact returns a named artifact and whether it exists.
func (s *ContextSnapshot) Artifact(name string) (string, bool) {
	v, ok := s.artifacts[name]
	return v, ok
}

// ArtifactNames returns the sorted names of all stored artifacts.
func (s *ContextSnapshot) ArtifactNames() []string {
	names := make([]string, 0, len(s.artifacts))
	for name := range s.artifacts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
