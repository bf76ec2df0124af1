package engine

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/agentmux/agentmux/internal/gate"
	"github.com/agentmux/agentmux/internal/scheduler"
	"github.com/agentmux/agentmux/internal/stream"
)

// taskOutcome is one finished attempt reported back to the scheduler loop.
type taskOutcome struct {
	taskID  string
	result  *scheduler.AgentResult
	verdict *gate.Verdict
	err     error
}

// execute is the per-run scheduler loop. It is the single writer for all run
// state: task transitions, context merges, and event emission happen only
// here. Workers run concurrently but re-enter through the outcomes channel.
func (e *Engine) execute(dispatchCtx, workerCtx context.Context, run *Run) {
	outcomes := make(chan taskOutcome, e.cfg.MaxParallelism)
	guard := newInflightGuard()
	inflight := 0
	failing := false
	cancelled := false

	for {
		if dispatchCtx.Err() != nil {
			cancelled = true
		}

		// A hard failure or cancellation stops new dispatches; in-flight
		// siblings are still drained below.
		if !failing && !cancelled {
			for _, task := range run.graph.Ready() {
				if inflight >= e.cfg.MaxParallelism {
					break
				}
				if !guard.Acquire(task.ID) {
					continue
				}
				e.dispatch(workerCtx, run, task.ID, outcomes)
				inflight++
			}
		}

		if inflight == 0 {
			break
		}

		if cancelled {
			if run.policy() == AbandonInFlight {
				// Workers were signaled to stop; their late results land in
				// the buffered channel and are discarded.
				break
			}
			out := <-outcomes
			guard.Release(out.taskID)
			inflight--
			e.handleOutcome(run, out, &failing)
			continue
		}

		select {
		case out := <-outcomes:
			guard.Release(out.taskID)
			inflight--
			e.handleOutcome(run, out, &failing)
		case <-dispatchCtx.Done():
			cancelled = true
		}
	}

	e.finalize(run, failing, cancelled)
}

// dispatch transitions a task to in-flight and spawns its worker. The worker
// receives a read-only context snapshot; all writes wait for its outcome.
func (e *Engine) dispatch(workerCtx context.Context, run *Run, taskID string, outcomes chan<- taskOutcome) {
	if err := run.graph.MarkDispatched(taskID); err != nil {
		log.Printf("ERROR: failed to mark task %q dispatched: %v", taskID, err)
	}
	if err := run.wfctx.RecordAttempt(taskID); err != nil {
		log.Printf("ERROR: failed to record attempt for task %q: %v", taskID, err)
	}

	task, _ := run.graph.Get(taskID)
	if task.Attempts == 1 {
		run.events.Publish(stream.Event{
			Kind:    stream.KindTaskStarted,
			TaskID:  taskID,
			Attempt: 1,
			Message: task.Capability,
		})
	}

	snap := run.wfctx.Snapshot()
	go func() {
		result, verdict, err := e.attempt(workerCtx, run, task, snap)
		outcomes <- taskOutcome{taskID: taskID, result: result, verdict: verdict, err: err}
	}()
}

// attempt runs one invocation (with its transient-failure retries) and, for
// gated tasks, the synchronous gate evaluation. Gate timeouts and evaluator
// failures come back as rejecting verdicts, not errors: the scheduler treats
// them identically to a rejection.
func (e *Engine) attempt(ctx context.Context, run *Run, task *scheduler.AgentTask, snap *scheduler.ContextSnapshot) (*scheduler.AgentResult, *gate.Verdict, error) {
	result, err := e.invokeWithRetry(ctx, run, task, snap)
	if err != nil {
		return nil, nil, err
	}

	if task.Gate == "" {
		return result, nil, nil
	}

	g, ok := e.gates.Resolve(task.Gate)
	if !ok {
		// Validated at submit time; reaching this means the registry changed
		// under a live run.
		return result, nil, fmt.Errorf("gate %q not registered", task.Gate)
	}

	verdict, gateErr := g.Evaluate(ctx, task.Attempts, result, snap)
	if gateErr != nil {
		verdict = &gate.Verdict{
			TaskID:  task.ID,
			Gate:    task.Gate,
			Attempt: task.Attempts,
			Pass:    false,
			Notes:   []string{gateErr.Error()},
		}
	}
	return result, verdict, nil
}

// handleOutcome applies one finished attempt to run state and decides
// retry versus advance versus hard failure.
func (e *Engine) handleOutcome(run *Run, out taskOutcome, failing *bool) {
	task, ok := run.graph.Get(out.taskID)
	if !ok {
		log.Printf("ERROR: outcome for unknown task %q on run %s", out.taskID, run.ID)
		return
	}

	if out.err != nil {
		if err := run.graph.MarkErrored(out.taskID, out.err); err != nil {
			log.Printf("ERROR: failed to mark task %q errored: %v", out.taskID, err)
		}
		run.recordFailure(out.taskID, []string{out.err.Error()})
		*failing = true
		return
	}

	if out.verdict == nil {
		run.graph.MarkCompleted(out.taskID, out.result)
		run.wfctx.MergeResult(out.taskID, out.result)
		run.events.Publish(stream.Event{
			Kind:    stream.KindTaskCompleted,
			TaskID:  out.taskID,
			Attempt: task.Attempts,
			Message: out.result.Summary,
		})
		return
	}

	// Gated task: completion and verdict are reported in transition order.
	run.events.Publish(stream.Event{
		Kind:    stream.KindTaskCompleted,
		TaskID:  out.taskID,
		Attempt: task.Attempts,
		Message: out.result.Summary,
	})
	run.events.Publish(stream.Event{
		Kind:    stream.KindGateEvaluated,
		TaskID:  out.taskID,
		Attempt: out.verdict.Attempt,
		Gate:    out.verdict.Gate,
		Pass:    out.verdict.Pass,
		Score:   out.verdict.Score,
		Notes:   out.verdict.Notes,
	})

	if out.verdict.Pass {
		run.graph.MarkAccepted(out.taskID, out.result)
		run.wfctx.MergeResult(out.taskID, out.result)
		return
	}

	// Rejected: the result stays visible for the remediation loop, but its
	// artifacts are not published.
	run.wfctx.RecordResult(out.taskID, out.result)

	g, _ := e.gates.Resolve(task.Gate)
	if g != nil && task.Attempts < g.MaxRetries() {
		run.graph.Requeue(out.taskID, out.result, out.verdict.Notes)
		run.events.Publish(stream.Event{
			Kind:    stream.KindTaskRetrying,
			TaskID:  out.taskID,
			Attempt: task.Attempts,
			Gate:    out.verdict.Gate,
			Notes:   out.verdict.Notes,
		})
		return
	}

	err := fmt.Errorf("gate %s rejected task %s after %d attempts", task.Gate, out.taskID, task.Attempts)
	run.graph.MarkErrored(out.taskID, err)
	run.recordFailure(out.taskID, out.verdict.Notes)
	*failing = true
}

// finalize assigns the run's single terminal status, emits the final event
// (which closes the stream), archives the run, and releases waiters.
func (e *Engine) finalize(run *Run, failing, cancelled bool) {
	if !failing && !cancelled {
		// A clean stop with unfinished tasks means the graph stalled; treat
		// it as a failure rather than reporting false success.
		for _, task := range run.graph.Tasks() {
			if !task.Status.Succeeded() {
				run.recordFailure(task.ID, []string{"task never reached a terminal state"})
				failing = true
				break
			}
		}
	}

	run.wfctx.Seal()

	switch {
	case failing:
		run.setStatus(RunFailed)
		taskID, notes := run.FailedTask()
		msg := fmt.Sprintf("workflow %s failed at task %s", run.Workflow, taskID)
		if blocked := run.graph.Dependents(taskID); len(blocked) > 0 {
			msg += fmt.Sprintf(", blocking %s", strings.Join(blocked, ", "))
		}
		run.events.Publish(stream.Event{
			Kind:    stream.KindWorkflowFailed,
			TaskID:  taskID,
			Notes:   notes,
			Message: msg,
		})
	case cancelled:
		run.setStatus(RunAborted)
		run.events.Publish(stream.Event{
			Kind:    stream.KindWorkflowAborted,
			Message: fmt.Sprintf("workflow %s cancelled", run.Workflow),
		})
	default:
		run.setStatus(RunSucceeded)
		run.events.Publish(stream.Event{
			Kind:    stream.KindWorkflowCompleted,
			Message: fmt.Sprintf("workflow %s completed", run.Workflow),
		})
	}

	e.archive(run)
	close(run.done)
}
