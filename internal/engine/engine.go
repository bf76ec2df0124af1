// Package engine is the orchestrator core: it resolves workflow templates
// into task graphs, dispatches tasks with bounded parallelism, applies
// quality gates, decides retry versus advance versus abort, and emits
// ordered progress events for every state transition.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/agentmux/agentmux/internal/config"
	"github.com/agentmux/agentmux/internal/gate"
	"github.com/agentmux/agentmux/internal/invoker"
	"github.com/agentmux/agentmux/internal/persistence"
	"github.com/agentmux/agentmux/internal/registry"
	"github.com/agentmux/agentmux/internal/scheduler"
	"github.com/agentmux/agentmux/internal/stream"
)

// Options wires an Engine's collaborators.
type Options struct {
	Config   config.EngineConfig
	Registry *registry.Registry
	Invoker  *invoker.Invoker
	Gates    *gate.Registry
	Store    persistence.Store // Optional: terminal runs are archived here
	Retry    RetryConfig       // Zero value gets DefaultRetryConfig
}

// Engine owns all workflow runs in this process. Each run gets its own
// scheduler goroutine and context; runs never share mutable state.
type Engine struct {
	cfg      config.EngineConfig
	registry *registry.Registry
	invoker  *invoker.Invoker
	gates    *gate.Registry
	store    persistence.Store
	retry    RetryConfig
	breakers *breakerRegistry

	mu   sync.RWMutex
	runs map[string]*Run
}

// New creates an Engine.
func New(opts Options) *Engine {
	retry := opts.Retry
	if retry == (RetryConfig{}) {
		retry = DefaultRetryConfig()
	}
	cfg := opts.Config
	if cfg.MaxParallelism <= 0 {
		cfg.MaxParallelism = 4
	}

	return &Engine{
		cfg:      cfg,
		registry: opts.Registry,
		invoker:  opts.Invoker,
		gates:    opts.Gates,
		store:    opts.Store,
		retry:    retry,
		breakers: newBreakerRegistry(),
		runs:     make(map[string]*Run),
	}
}

// Submit resolves a workflow name, builds and validates the concrete task
// graph for the given input, and registers a pending run. Unknown names
// surface registry.ErrUnknownWorkflow; structural problems (cycles, dangling
// dependencies, unregistered capabilities or gates) surface
// registry.ErrInvalidGraph. Both reject synchronously: no run exists after
// a failed Submit.
func (e *Engine) Submit(workflowName, input string) (string, error) {
	template, err := e.registry.Resolve(workflowName)
	if err != nil {
		return "", err
	}

	for _, tt := range template.Tasks {
		if !e.invoker.Table().Has(tt.Capability) {
			return "", fmt.Errorf("%w: task %q references unknown capability %q",
				registry.ErrInvalidGraph, tt.ID, tt.Capability)
		}
		if tt.Gate != "" && !e.gates.Has(tt.Gate) {
			return "", fmt.Errorf("%w: task %q references unknown gate %q",
				registry.ErrInvalidGraph, tt.ID, tt.Gate)
		}
	}

	graph, err := template.Build(input)
	if err != nil {
		return "", err
	}

	fingerprint, err := template.Fingerprint()
	if err != nil {
		return "", fmt.Errorf("fingerprinting template %q: %w", workflowName, err)
	}

	runID := uuid.NewString()
	run := &Run{
		ID:          runID,
		Workflow:    workflowName,
		Fingerprint: fingerprint,
		CreatedAt:   time.Now(),
		graph:       graph,
		wfctx:       scheduler.NewWorkflowContext(runID),
		events:      stream.New(runID, e.cfg.MaxRetainedEvents),
		status:      RunPending,
		done:        make(chan struct{}),
	}

	e.mu.Lock()
	e.runs[runID] = run
	e.mu.Unlock()

	return runID, nil
}

// Get returns a run by ID.
func (e *Engine) Get(runID string) (*Run, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	run, ok := e.runs[runID]
	return run, ok
}

// Subscribe returns the ordered event feed for a run: full replay from
// sequence zero, then live events.
func (e *Engine) Subscribe(runID string) (*stream.Subscription, error) {
	run, ok := e.Get(runID)
	if !ok {
		return nil, fmt.Errorf("run %q not found", runID)
	}
	return run.Subscribe(), nil
}

// Start launches the run's scheduler goroutine. The run must be pending.
func (e *Engine) Start(ctx context.Context, runID string) error {
	run, ok := e.Get(runID)
	if !ok {
		return fmt.Errorf("run %q not found", runID)
	}

	run.mu.Lock()
	if run.status != RunPending {
		run.mu.Unlock()
		return fmt.Errorf("run %q already started (status: %s)", runID, run.status)
	}
	run.status = RunRunning

	dispatchCtx, dispatchCancel := context.WithCancel(ctx)
	workerCtx, workerCancel := context.WithCancel(ctx)
	run.dispatchCancel = dispatchCancel
	run.workerCancel = workerCancel
	run.mu.Unlock()

	go e.execute(dispatchCtx, workerCtx, run)
	return nil
}

// Cancel stops dispatching new tasks for a run. With WaitForInFlight the
// running attempts finish and their results are recorded; with
// AbandonInFlight they are signaled to stop and their late results are
// discarded. Either way the run ends with a final aborted event.
// Cancelling a terminal run is a no-op.
func (e *Engine) Cancel(runID string, policy CancelPolicy) error {
	run, ok := e.Get(runID)
	if !ok {
		return fmt.Errorf("run %q not found", runID)
	}

	run.mu.Lock()
	if run.status.Terminal() {
		run.mu.Unlock()
		return nil
	}

	// A run that was never started has no scheduler goroutine to finalize
	// it; abort it here.
	if run.status == RunPending {
		run.status = RunAborted
		run.completedAt = time.Now()
		run.mu.Unlock()

		run.wfctx.Seal()
		run.events.Publish(stream.Event{
			Kind:    stream.KindWorkflowAborted,
			Message: fmt.Sprintf("workflow %s cancelled before start", run.Workflow),
		})
		e.archive(run)
		close(run.done)
		return nil
	}

	run.cancelPolicy = policy
	dispatchCancel := run.dispatchCancel
	workerCancel := run.workerCancel
	run.mu.Unlock()

	if dispatchCancel != nil {
		dispatchCancel()
	}
	if policy == AbandonInFlight && workerCancel != nil {
		workerCancel()
	}
	return nil
}

// Shutdown cancels every non-terminal run with the given policy and waits
// for all of them to finalize or ctx to expire.
func (e *Engine) Shutdown(ctx context.Context, policy CancelPolicy) error {
	e.mu.RLock()
	runs := make([]*Run, 0, len(e.runs))
	for _, run := range e.runs {
		runs = append(runs, run)
	}
	e.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, run := range runs {
		if run.Status().Terminal() {
			continue
		}
		if err := e.Cancel(run.ID, policy); err != nil {
			return err
		}
		run := run
		g.Go(func() error {
			_, err := run.Wait(ctx)
			return err
		})
	}
	return g.Wait()
}

// archive hands the finished run to the persistence collaborator. One-shot:
// failures are logged, never retried, and never affect the run's outcome.
func (e *Engine) archive(run *Run) {
	if e.store == nil {
		return
	}

	history, _ := run.events.History()
	archived := &persistence.ArchivedRun{
		ID:          run.ID,
		Workflow:    run.Workflow,
		Fingerprint: run.Fingerprint,
		Status:      run.Status().String(),
		CreatedAt:   run.CreatedAt,
		CompletedAt: run.CompletedAt(),
		Artifacts:   run.wfctx.Artifacts(),
		Events:      history,
	}
	for _, task := range run.graph.Tasks() {
		summary := ""
		if task.Result != nil {
			summary = task.Result.Summary
		}
		archived.Tasks = append(archived.Tasks, persistence.ArchivedTask{
			ID:         task.ID,
			Capability: task.Capability,
			Gate:       task.Gate,
			Status:     task.Status.String(),
			Attempts:   task.Attempts,
			Summary:    summary,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.store.SaveRun(ctx, archived); err != nil {
		log.Printf("WARNING: failed to archive run %s: %v", run.ID, err)
	}
}
