package engine

import (
	"context"
	"sync"
	"time"

	"github.com/agentmux/agentmux/internal/scheduler"
	"github.com/agentmux/agentmux/internal/stream"
)

// RunStatus is the overall state of one workflow run.
type RunStatus int

const (
	RunPending   RunStatus = iota // Submitted, not yet started
	RunRunning                    // Scheduler loop is driving execution
	RunSucceeded                  // Every task reached a success state
	RunFailed                     // A task exhausted its retry budget
	RunAborted                    // Cancelled by the caller
)

// String returns the lowercase name used in events and persistence.
func (s RunStatus) String() string {
	switch s {
	case RunPending:
		return "pending"
	case RunRunning:
		return "running"
	case RunSucceeded:
		return "succeeded"
	case RunFailed:
		return "failed"
	case RunAborted:
		return "aborted"
	}
	return "unknown"
}

// Terminal reports whether the run has finished.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed || s == RunAborted
}

// CancelPolicy controls what happens to in-flight attempts on Cancel.
type CancelPolicy int

const (
	// WaitForInFlight lets running attempts finish; their results are
	// recorded but nothing new is dispatched.
	WaitForInFlight CancelPolicy = iota
	// AbandonInFlight signals running attempts to stop and finalizes
	// immediately; late results are discarded.
	AbandonInFlight
)

// Run is one execution of a workflow template. Owned by the engine's
// scheduler goroutine until it reaches a terminal status, read-only after.
type Run struct {
	ID          string
	Workflow    string
	Fingerprint uint64
	CreatedAt   time.Time

	graph   *scheduler.DAG
	wfctx   *scheduler.WorkflowContext
	events  *stream.Stream

	mu             sync.Mutex
	status         RunStatus
	completedAt    time.Time
	cancelPolicy   CancelPolicy
	dispatchCancel context.CancelFunc // Stops new dispatches
	workerCancel   context.CancelFunc // Additionally signals in-flight attempts
	failedTask     string
	failureNotes   []string
	done           chan struct{}
}

// Status returns the current run status.
func (r *Run) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// CompletedAt returns when the run went terminal (zero until then).
func (r *Run) CompletedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completedAt
}

// FailedTask returns the task that caused a hard failure, if any.
func (r *Run) FailedTask() (string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failedTask, append([]string(nil), r.failureNotes...)
}

// Subscribe returns a subscription replaying this run's events from sequence
// zero followed by live events.
func (r *Run) Subscribe() *stream.Subscription {
	return r.events.Subscribe()
}

// Tasks returns a snapshot of the run's task graph.
func (r *Run) Tasks() []*scheduler.AgentTask {
	return r.graph.Tasks()
}

// Artifacts returns the run's artifact store. Only stable once the run is
// terminal; the scheduler goroutine owns the context before that.
func (r *Run) Artifacts() map[string]string {
	return r.wfctx.Artifacts()
}

// Wait blocks until the run reaches a terminal status or ctx expires.
func (r *Run) Wait(ctx context.Context) (RunStatus, error) {
	select {
	case <-r.done:
		return r.Status(), nil
	case <-ctx.Done():
		return r.Status(), ctx.Err()
	}
}

func (r *Run) setStatus(s RunStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = s
	if s.Terminal() {
		r.completedAt = time.Now()
	}
}

func (r *Run) policy() CancelPolicy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelPolicy
}

func (r *Run) recordFailure(taskID string, notes []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failedTask != "" {
		return // First hard failure wins.
	}
	r.failedTask = taskID
	r.failureNotes = append([]string(nil), notes...)
}
