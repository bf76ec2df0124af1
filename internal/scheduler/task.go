package scheduler

// TaskStatus represents the current state of a task attempt.
type TaskStatus int

const (
	TaskQueued     TaskStatus = iota // Waiting for dependencies or a dispatch slot
	TaskDispatched                   // An attempt is in flight
	TaskCompleted                    // Finished successfully (no gate assigned)
	TaskAccepted                     // Finished and accepted by its quality gate
	TaskErrored                      // Exhausted its retry budget
)

// String returns the lowercase name used in events and persistence.
func (s TaskStatus) String() string {
	switch s {
	case TaskQueued:
		return "queued"
	case TaskDispatched:
		return "dispatched"
	case TaskCompleted:
		return "completed"
	case TaskAccepted:
		return "accepted"
	case TaskErrored:
		return "errored"
	}
	return "unknown"
}

// Terminal reports whether the status is a resting state for the task.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskAccepted || s == TaskErrored
}

// Succeeded reports whether the status unlocks dependent tasks.
func (s TaskStatus) Succeeded() bool {
	return s == TaskCompleted || s == TaskAccepted
}

// AgentTask is one unit of work routed to a named agent capability.
// The input payload is fixed at graph construction time; retries start a new
// attempt of the same task ID with remediation notes appended to Input.
type AgentTask struct {
	ID         string   // Unique within one workflow run
	Capability string   // Key into the capability registration table
	Input      string   // Instruction payload handed to the capability
	DependsOn  []string // Task IDs that must succeed before this task starts
	Gate       string   // Optional quality gate name, empty = ungated
	Order      int      // Declaration position, used as a stable dispatch tie-break

	Status   TaskStatus
	Attempts int          // Dispatch attempts started so far
	Result   *AgentResult // Latest result, overwritten on retry
	Err      error        // Set when the task errors out
}

// AgentResult is the structured output of one capability invocation.
type AgentResult struct {
	TaskID    string
	Summary   string            // One-line description of what the agent produced
	Output    string            // Raw text returned by the capability
	Artifacts map[string]string // Named artifacts merged into the run context
}

func cloneTask(t *AgentTask) *AgentTask {
	if t == nil {
		return nil
	}
	cp := *t
	if t.DependsOn != nil {
		cp.DependsOn = append([]string(nil), t.DependsOn...)
	}
	cp.Result = cloneResult(t.Result)
	return &cp
}

func cloneResult(r *AgentResult) *AgentResult {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Artifacts != nil {
		cp.Artifacts = make(map[string]string, len(r.Artifacts))
		for k, v := range r.Artifacts {
			cp.Artifacts[k] = v
		}
	}
	return &cp
}
